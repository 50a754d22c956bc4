package location

import "github.com/benmeehan/peertrack/pkg/geodesy"

// Location represents the geographical coordinates of this member's device.
type Location struct {
	Latitude  float64
	Longitude float64
	Accuracy  float64
}

// Coordinate returns the latitude/longitude pair of the location.
func (l Location) Coordinate() geodesy.Coordinate {
	return geodesy.Coordinate{Latitude: l.Latitude, Longitude: l.Longitude}
}
