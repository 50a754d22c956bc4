// Package sensors reads raw accelerometer and magnetometer vectors.
package sensors

import (
	"context"
	"errors"
	"math"
)

// Kind identifies the sensor a reading came from.
type Kind int

const (
	Accelerometer Kind = iota + 1
	Magnetometer
)

func (k Kind) String() string {
	switch k {
	case Accelerometer:
		return "accelerometer"
	case Magnetometer:
		return "magnetometer"
	default:
		return "unknown"
	}
}

// Vector3 is a raw three-axis sample in device coordinates.
type Vector3 [3]float64

// Finite reports whether every axis is a real number.
func (v Vector3) Finite() bool {
	for _, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return true
}

// Reading is one raw sample from a single sensor.
type Reading struct {
	Kind   Kind
	Values Vector3
}

// ErrUnavailable is returned when the required sensors are not present.
var ErrUnavailable = errors.New("required orientation sensors not available")

// Source produces raw readings from both sensors, interleaved in arrival order.
type Source interface {
	// Open acquires the sensors. It returns ErrUnavailable (possibly wrapped)
	// when they are absent.
	Open() error
	// Readings streams samples until ctx is done or the source fails; the
	// channel is closed when streaming ends.
	Readings(ctx context.Context) <-chan Reading
	Close() error
}
