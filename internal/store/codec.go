package store

import (
	"encoding/json"
	"fmt"

	"github.com/Masterminds/semver/v3"
	"github.com/benmeehan/peertrack/internal/models"
	"github.com/benmeehan/peertrack/pkg/geodesy"
)

// codec turns records into payloads and back, rejecting payloads written
// with an incompatible schema version. Records without a schema field are
// accepted as the original format.
type codec struct {
	version    *semver.Version
	constraint *semver.Constraints
}

func newCodec(version, constraint string) (*codec, error) {
	v, err := semver.NewVersion(version)
	if err != nil {
		return nil, fmt.Errorf("invalid schema version %q: %w", version, err)
	}
	c, err := semver.NewConstraint(constraint)
	if err != nil {
		return nil, fmt.Errorf("invalid schema constraint %q: %w", constraint, err)
	}
	if !c.Check(v) {
		return nil, fmt.Errorf("schema version %s does not satisfy %s", version, constraint)
	}
	return &codec{version: v, constraint: c}, nil
}

func (c *codec) encode(label string, coord geodesy.Coordinate, timestamp int64) ([]byte, error) {
	lat, lon := coord.Latitude, coord.Longitude
	return json.Marshal(models.Record{
		Schema:    c.version.String(),
		Label:     label,
		Latitude:  &lat,
		Longitude: &lon,
		Timestamp: timestamp,
	})
}

// decode parses a payload for identity. An error wrapping ErrInvalidRecord is
// returned for unreadable payloads, incompatible schemas and records holding
// only one half of a coordinate; the returned location then carries no fix
// but keeps whatever label and timestamp could be read.
func (c *codec) decode(identity string, payload []byte) (models.PeerLocation, error) {
	var rec models.Record
	if err := json.Unmarshal(payload, &rec); err != nil {
		return models.PeerLocation{Identity: identity}, fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}

	loc := rec.PeerLocation(identity)
	if rec.Schema != "" {
		v, err := semver.NewVersion(rec.Schema)
		if err != nil || !c.constraint.Check(v) {
			loc.Latitude, loc.Longitude = nil, nil
			return loc, fmt.Errorf("%w: unsupported schema %q", ErrInvalidRecord, rec.Schema)
		}
	}

	clean, invalid := loc.Sanitized()
	if invalid {
		return clean, fmt.Errorf("%w: incomplete or out of range coordinate", ErrInvalidRecord)
	}
	return clean, nil
}
