package models

import (
	"sort"

	"github.com/benmeehan/peertrack/pkg/geodesy"
)

// PeerLocation represents the last confirmed location of one member.
// Latitude and Longitude are either both set or both nil; a nil pair means
// the member has no fix yet.
type PeerLocation struct {
	Identity  string   `json:"identity"`
	Label     string   `json:"label,omitempty"`
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
	Timestamp int64    `json:"timestamp"`
}

// NewPeerLocation builds a PeerLocation carrying a fix.
func NewPeerLocation(identity string, c geodesy.Coordinate, timestamp int64) PeerLocation {
	lat, lon := c.Latitude, c.Longitude
	return PeerLocation{
		Identity:  identity,
		Latitude:  &lat,
		Longitude: &lon,
		Timestamp: timestamp,
	}
}

// Fix returns the coordinate when both halves are present and in range.
func (p PeerLocation) Fix() (geodesy.Coordinate, bool) {
	if p.Latitude == nil || p.Longitude == nil {
		return geodesy.Coordinate{}, false
	}
	c := geodesy.Coordinate{Latitude: *p.Latitude, Longitude: *p.Longitude}
	if !c.Valid() {
		return geodesy.Coordinate{}, false
	}
	return c, true
}

// HasFix reports whether the record carries a usable coordinate.
func (p PeerLocation) HasFix() bool {
	_, ok := p.Fix()
	return ok
}

// Sanitized returns the record with an unusable coordinate removed. The
// boolean is true when the record was invalid (only one of latitude and
// longitude present, or out of range) and had to be stripped.
func (p PeerLocation) Sanitized() (PeerLocation, bool) {
	if p.Latitude == nil && p.Longitude == nil {
		return p, false
	}
	if p.HasFix() {
		return p, false
	}
	p.Latitude = nil
	p.Longitude = nil
	return p, true
}

// Roster maps identity to the latest known location of that member.
type Roster map[string]PeerLocation

// Clone returns an independent copy of the roster.
func (r Roster) Clone() Roster {
	out := make(Roster, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Sorted returns the entries ordered by identity.
func (r Roster) Sorted() []PeerLocation {
	out := make([]PeerLocation, 0, len(r))
	for _, v := range r {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Identity < out[j].Identity })
	return out
}

// Record is the payload stored under "<namespace>/<identity>".
type Record struct {
	Schema    string   `json:"schema,omitempty"`
	Label     string   `json:"label,omitempty"`
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
	Timestamp int64    `json:"timestamp"`
}

// PeerLocation converts the wire record for the given identity.
func (r Record) PeerLocation(identity string) PeerLocation {
	return PeerLocation{
		Identity:  identity,
		Label:     r.Label,
		Latitude:  r.Latitude,
		Longitude: r.Longitude,
		Timestamp: r.Timestamp,
	}
}
