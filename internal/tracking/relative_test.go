package tracking

import (
	"testing"

	"github.com/benmeehan/peertrack/internal/heading"
	"github.com/stretchr/testify/assert"
)

func TestRelativeBearing(t *testing.T) {
	tests := []struct {
		name    string
		reading DirectionReading
		azimuth heading.Azimuth
		want    float64
		ok      bool
	}{
		{"facing north", DirectionReading{BearingDegrees: 90, Available: true}, heading.Azimuth{Degrees: 0, Available: true}, 90, true},
		{"facing target", DirectionReading{BearingDegrees: 90, Available: true}, heading.Azimuth{Degrees: 90, Available: true}, 0, true},
		{"wraps", DirectionReading{BearingDegrees: 10, Available: true}, heading.Azimuth{Degrees: 350, Available: true}, 20, true},
		{"no reading", Unavailable, heading.Azimuth{Degrees: 10, Available: true}, 0, false},
		{"no heading", DirectionReading{BearingDegrees: 10, Available: true}, heading.Unavailable, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := RelativeBearing(tt.reading, tt.azimuth)
			assert.Equal(t, tt.ok, ok)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}
