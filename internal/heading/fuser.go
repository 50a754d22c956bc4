// Package heading derives the device azimuth from raw accelerometer and
// magnetometer samples.
package heading

import (
	"context"
	"errors"
	"math"
	"sync"

	"github.com/benmeehan/peertrack/internal/observe"
	"github.com/benmeehan/peertrack/pkg/geodesy"
	"github.com/benmeehan/peertrack/pkg/sensors"
	"github.com/rs/zerolog"
)

// minFieldNorm is the smallest usable norm of gravity x geomagnetic; below it
// the device is in free fall or close to a magnetic pole.
const minFieldNorm = 0.1

// ErrSensorUnavailable reports that the orientation sensors are missing.
var ErrSensorUnavailable = errors.New("heading unavailable: orientation sensors missing")

// Azimuth is the device heading relative to magnetic north, in degrees
// [0, 360). Available is false until both sensors have reported, and forever
// once the sensors are known to be missing.
type Azimuth struct {
	Degrees   float64
	Available bool
}

// Unavailable is the azimuth reported before any fix or without sensors.
var Unavailable = Azimuth{}

// Fuser keeps the most recent vector of each sensor and recomputes the
// azimuth whenever a sample arrives and both have been seen.
type Fuser struct {
	mu          sync.Mutex
	accel       sensors.Vector3
	mag         sensors.Vector3
	hasAccel    bool
	hasMag      bool
	unavailable bool

	azimuth *observe.Value[Azimuth]
	logger  zerolog.Logger
}

// NewFuser creates a Fuser with no samples.
func NewFuser(logger zerolog.Logger) *Fuser {
	return &Fuser{
		azimuth: observe.NewValue(Unavailable),
		logger:  logger,
	}
}

// Process applies one raw reading. It returns the new azimuth and true when
// one could be computed.
func (f *Fuser) Process(r sensors.Reading) (Azimuth, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.unavailable || !r.Values.Finite() {
		return Unavailable, false
	}

	switch r.Kind {
	case sensors.Accelerometer:
		f.accel = r.Values
		f.hasAccel = true
	case sensors.Magnetometer:
		f.mag = r.Values
		f.hasMag = true
	default:
		return Unavailable, false
	}

	if !f.hasAccel || !f.hasMag {
		return Unavailable, false
	}

	rot, ok := RotationMatrix(f.accel, f.mag)
	if !ok {
		return Unavailable, false
	}

	az := Azimuth{Degrees: AzimuthDegrees(rot), Available: true}
	f.azimuth.Set(az)
	return az, true
}

// MarkUnavailable records that the sensors are missing. The fuser reports
// Unavailable from then on and ignores further samples.
func (f *Fuser) MarkUnavailable() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.unavailable {
		return
	}
	f.unavailable = true
	f.azimuth.Set(Unavailable)
	f.logger.Warn().Msg("Heading unavailable: orientation sensors missing")
}

// Err returns ErrSensorUnavailable once MarkUnavailable has been called.
func (f *Fuser) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.unavailable {
		return ErrSensorUnavailable
	}
	return nil
}

// Current returns the latest azimuth.
func (f *Fuser) Current() Azimuth {
	return f.azimuth.Get()
}

// Watch streams azimuth updates until ctx is done.
func (f *Fuser) Watch(ctx context.Context) <-chan Azimuth {
	return f.azimuth.Watch(ctx)
}

// Run feeds readings into the fuser until ctx is done or the channel closes.
func (f *Fuser) Run(ctx context.Context, readings <-chan sensors.Reading) {
	for {
		select {
		case <-ctx.Done():
			return
		case r, ok := <-readings:
			if !ok {
				return
			}
			f.Process(r)
		}
	}
}

// RotationMatrix computes the row-major rotation matrix taking device
// coordinates to world coordinates (east, north, up) from a gravity vector and
// a geomagnetic vector. It reports false when the inputs are degenerate.
func RotationMatrix(gravity, geomagnetic sensors.Vector3) ([9]float64, bool) {
	if !gravity.Finite() || !geomagnetic.Finite() {
		return [9]float64{}, false
	}
	ax, ay, az := gravity[0], gravity[1], gravity[2]
	ex, ey, ez := geomagnetic[0], geomagnetic[1], geomagnetic[2]

	hx := ey*az - ez*ay
	hy := ez*ax - ex*az
	hz := ex*ay - ey*ax
	normH := math.Sqrt(hx*hx + hy*hy + hz*hz)
	if math.IsInf(normH, 0) || normH < minFieldNorm {
		return [9]float64{}, false
	}
	normA := math.Sqrt(ax*ax + ay*ay + az*az)
	if normA == 0 || math.IsInf(normA, 0) {
		return [9]float64{}, false
	}

	hx, hy, hz = hx/normH, hy/normH, hz/normH
	ax, ay, az = ax/normA, ay/normA, az/normA

	mx := ay*hz - az*hy
	my := az*hx - ax*hz
	mz := ax*hy - ay*hx

	return [9]float64{
		hx, hy, hz,
		mx, my, mz,
		ax, ay, az,
	}, true
}

// AzimuthDegrees extracts the rotation about the vertical axis, in degrees
// [0, 360) clockwise from magnetic north.
func AzimuthDegrees(r [9]float64) float64 {
	rad := math.Atan2(r[1], r[4])
	return geodesy.NormalizeDegrees(rad * 180 / math.Pi)
}
