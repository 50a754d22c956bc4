package tracking

import (
	"github.com/benmeehan/peertrack/internal/heading"
	"github.com/benmeehan/peertrack/pkg/geodesy"
)

// RelativeBearing is the angle, clockwise from the top of the device, at
// which the peer lies. It is unavailable unless both the reading and the
// device heading are.
func RelativeBearing(r DirectionReading, az heading.Azimuth) (float64, bool) {
	if !r.Available || !az.Available {
		return 0, false
	}
	return geodesy.NormalizeDegrees(r.BearingDegrees - az.Degrees), true
}
