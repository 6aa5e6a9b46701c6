// Package geo provides geographic primitives shared across the engine
package geo

import (
	"time"

	"github.com/golang/geo/s2"
)

// EarthRadiusMeters is the mean Earth radius used for distance conversion
const EarthRadiusMeters = 6371000.0

// Position represents a single location sample from a location source
type Position struct {
	Lat        float64   `json:"lat"`         // Latitude in degrees
	Lng        float64   `json:"lng"`         // Longitude in degrees
	AccuracyM  float64   `json:"accuracy_m"`  // Horizontal accuracy in meters
	ObservedAt time.Time `json:"observed_at"` // When the sample was taken
}

// DistanceMeters computes the great-circle distance between two points in meters
func DistanceMeters(lat1, lng1, lat2, lng2 float64) float64 {
	p1 := s2.LatLngFromDegrees(lat1, lng1)
	p2 := s2.LatLngFromDegrees(lat2, lng2)
	return p1.Distance(p2).Radians() * EarthRadiusMeters
}

// DistanceTo computes the great-circle distance from p to other in meters
func (p Position) DistanceTo(other Position) float64 {
	return DistanceMeters(p.Lat, p.Lng, other.Lat, other.Lng)
}

// ValidCoordinates reports whether lat/lng are within the WGS84 range
func ValidCoordinates(lat, lng float64) bool {
	return lat >= -90 && lat <= 90 && lng >= -180 && lng <= 180
}
