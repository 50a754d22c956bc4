// Package geodesy computes surface distance and initial bearing between two
// coordinates on the WGS84 ellipsoid.
package geodesy

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
)

// WGS84 ellipsoid parameters.
const (
	SemiMajorAxis = 6378137.0
	SemiMinorAxis = 6356752.3142
	Flattening    = (SemiMajorAxis - SemiMinorAxis) / SemiMajorAxis

	maxIterations       = 20
	convergenceEpsilon  = 1e-12
	degreesPerRadian    = 180.0 / math.Pi
	radiansPerDegree    = math.Pi / 180.0
	fullCircleInDegrees = 360.0
)

// Coordinate is a latitude/longitude pair in decimal degrees.
type Coordinate struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Valid reports whether the coordinate is a finite point within the usual
// latitude and longitude ranges.
func (c Coordinate) Valid() bool {
	if math.IsNaN(c.Latitude) || math.IsNaN(c.Longitude) {
		return false
	}
	return c.Latitude >= -90 && c.Latitude <= 90 && c.Longitude >= -180 && c.Longitude <= 180
}

// Point converts the coordinate to an orb point (longitude first).
func (c Coordinate) Point() orb.Point {
	return orb.Point{c.Longitude, c.Latitude}
}

// Distance returns the surface distance in meters between a and b.
// It is zero when a == b.
func Distance(a, b Coordinate) float64 {
	d, _ := inverse(a, b)
	return d
}

// Bearing returns the initial compass bearing from a toward b in degrees,
// normalized to [0, 360). It returns 0 when a == b.
func Bearing(a, b Coordinate) float64 {
	_, brg := inverse(a, b)
	return brg
}

// DistanceAndBearing returns both results of a single inverse solution.
func DistanceAndBearing(a, b Coordinate) (float64, float64) {
	return inverse(a, b)
}

// NormalizeDegrees maps any finite angle onto [0, 360).
func NormalizeDegrees(deg float64) float64 {
	if math.IsNaN(deg) || math.IsInf(deg, 0) {
		return 0
	}
	deg = math.Mod(deg, fullCircleInDegrees)
	if deg < 0 {
		deg += fullCircleInDegrees
	}
	if deg >= fullCircleInDegrees {
		deg = 0
	}
	return deg
}

// inverse solves the inverse geodesic problem with Vincenty's iteration. When
// the iteration does not converge (nearly antipodal points) it falls back to
// the spherical solution.
func inverse(a, b Coordinate) (distance, bearing float64) {
	if a == b {
		return 0, 0
	}

	lat1 := a.Latitude * radiansPerDegree
	lat2 := b.Latitude * radiansPerDegree
	l := (b.Longitude - a.Longitude) * radiansPerDegree

	aSqMinusBSqOverBSq := (SemiMajorAxis*SemiMajorAxis - SemiMinorAxis*SemiMinorAxis) /
		(SemiMinorAxis * SemiMinorAxis)

	u1 := math.Atan((1 - Flattening) * math.Tan(lat1))
	u2 := math.Atan((1 - Flattening) * math.Tan(lat2))
	sinU1, cosU1 := math.Sincos(u1)
	sinU2, cosU2 := math.Sincos(u2)
	cosU1cosU2 := cosU1 * cosU2
	sinU1sinU2 := sinU1 * sinU2

	var (
		sigma, deltaSigma    float64
		sinSigma, cosSigma   float64
		sinLambda, cosLambda float64
		bigA                 float64
		converged            bool
	)

	lambda := l
	for iter := 0; iter < maxIterations; iter++ {
		lambdaOrig := lambda
		sinLambda, cosLambda = math.Sincos(lambda)

		t1 := cosU2 * sinLambda
		t2 := cosU1*sinU2 - sinU1*cosU2*cosLambda
		sinSqSigma := t1*t1 + t2*t2
		sinSigma = math.Sqrt(sinSqSigma)
		cosSigma = sinU1sinU2 + cosU1cosU2*cosLambda
		sigma = math.Atan2(sinSigma, cosSigma)

		sinAlpha := 0.0
		if sinSigma != 0 {
			sinAlpha = cosU1cosU2 * sinLambda / sinSigma
		}
		cosSqAlpha := 1 - sinAlpha*sinAlpha

		cos2SM := 0.0
		if cosSqAlpha != 0 {
			cos2SM = cosSigma - 2*sinU1sinU2/cosSqAlpha
		}

		uSquared := cosSqAlpha * aSqMinusBSqOverBSq
		bigA = 1 + (uSquared/16384)*(4096+uSquared*(-768+uSquared*(320-175*uSquared)))
		bigB := (uSquared / 1024) * (256 + uSquared*(-128+uSquared*(74-47*uSquared)))
		c := (Flattening / 16) * cosSqAlpha * (4 + Flattening*(4-3*cosSqAlpha))
		cos2SMSq := cos2SM * cos2SM

		deltaSigma = bigB * sinSigma * (cos2SM + (bigB/4)*(cosSigma*(-1+2*cos2SMSq)-
			(bigB/6)*cos2SM*(-3+4*sinSigma*sinSigma)*(-3+4*cos2SMSq)))

		lambda = l + (1-c)*Flattening*sinAlpha*
			(sigma+c*sinSigma*(cos2SM+c*cosSigma*(-1+2*cos2SM*cos2SM)))

		if math.Abs(lambda-lambdaOrig) < convergenceEpsilon {
			converged = true
			break
		}
	}

	if !converged || math.IsNaN(lambda) {
		return spherical(a, b)
	}

	distance = SemiMinorAxis * bigA * (sigma - deltaSigma)
	initial := math.Atan2(cosU2*sinLambda, cosU1*sinU2-sinU1*cosU2*cosLambda)
	return distance, NormalizeDegrees(initial * degreesPerRadian)
}

func spherical(a, b Coordinate) (float64, float64) {
	pa, pb := a.Point(), b.Point()
	return geo.DistanceHaversine(pa, pb), NormalizeDegrees(geo.Bearing(pa, pb))
}
