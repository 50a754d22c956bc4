package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/benmeehan/peertrack/internal/constants"
	"github.com/benmeehan/peertrack/pkg/geodesy"
	"github.com/benmeehan/peertrack/pkg/identity"
	"github.com/benmeehan/peertrack/pkg/location"
	"github.com/rs/zerolog"
)

// OwnLocationPublisher writes the signed-in member's location to the store.
type OwnLocationPublisher interface {
	PublishOwnLocation(c geodesy.Coordinate) error
}

// LocationService periodically reads the device location and publishes it
// as the member's own record.
type LocationService struct {
	// Configuration fields
	interval time.Duration
	timeout  time.Duration

	// Dependencies
	publisher        OwnLocationPublisher
	logger           zerolog.Logger
	locationProvider location.Provider

	// Internal state management
	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// NewLocationService creates a new LocationService instance with the provided configuration.
func NewLocationService(interval time.Duration, publisher OwnLocationPublisher, logger zerolog.Logger,
	locationProvider location.Provider) *LocationService {
	return &LocationService{
		interval:         interval,
		timeout:          constants.LocationTimeout,
		publisher:        publisher,
		logger:           logger,
		locationProvider: locationProvider,
	}
}

// Start publishes the current location once and then on every interval.
func (l *LocationService) Start() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.running {
		l.logger.Warn().Msg("LocationService is already running")
		return errors.New("location service is already running")
	}

	l.ctx, l.cancel = context.WithCancel(context.Background())
	l.running = true

	l.wg.Add(1)
	go l.run(l.ctx)

	l.logger.Info().
		Dur("interval", l.interval).
		Msg("LocationService started")
	return nil
}

// Stop gracefully stops the LocationService, ensuring all goroutines are terminated.
func (l *LocationService) Stop() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.running {
		l.logger.Warn().Msg("LocationService is not running")
		return errors.New("location service is not running")
	}

	l.cancel()
	l.wg.Wait()

	l.running = false
	l.logger.Info().Msg("LocationService stopped")
	return nil
}

func (l *LocationService) run(ctx context.Context) {
	defer l.wg.Done()

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		// Failures are logged and the next tick tries again; nothing is retried early.
		_ = l.publishCurrentLocation(ctx)

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return
		}
	}
}

// publishCurrentLocation fetches the current location and publishes it.
func (l *LocationService) publishCurrentLocation(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	loc, err := l.locationProvider.GetLocation(ctx)
	if err != nil {
		if ctx.Err() == nil {
			l.logger.Error().Err(err).Msg("Failed to get location from provider")
		}
		return err
	}

	coord := loc.Coordinate()
	if err := l.publisher.PublishOwnLocation(coord); err != nil {
		if errors.Is(err, identity.ErrSignedOut) {
			l.logger.Debug().Msg("Not publishing location while signed out")
			return err
		}
		l.logger.Error().Err(err).Msg("Failed to publish own location")
		return err
	}

	l.logger.Debug().
		Float64("latitude", coord.Latitude).
		Float64("longitude", coord.Longitude).
		Float64("accuracy", loc.Accuracy).
		Msg("Location published successfully")
	return nil
}
