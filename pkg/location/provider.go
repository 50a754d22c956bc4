package location

import (
	"context"
	"errors"
)

// ErrNoFix is returned when a provider could not determine a location.
var ErrNoFix = errors.New("no valid location fix")

// Provider interface defines the methods for location providers
type Provider interface {
	GetLocation(ctx context.Context) (Location, error)
}

// StaticProvider always reports the same configured location.
type StaticProvider struct {
	location Location
}

// NewStaticProvider creates a provider fixed at latitude, longitude.
func NewStaticProvider(latitude, longitude float64) *StaticProvider {
	return &StaticProvider{location: Location{Latitude: latitude, Longitude: longitude}}
}

// GetLocation returns the configured location.
func (s *StaticProvider) GetLocation(ctx context.Context) (Location, error) {
	if err := ctx.Err(); err != nil {
		return Location{}, err
	}
	return s.location, nil
}
