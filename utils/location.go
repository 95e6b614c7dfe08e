package utils

import (
	"math"
	"time"
)

// Location represents a geographical coordinate.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// HaversineDistance calculates the great-circle distance between two points
// on Earth. Returns distance in kilometers.
func HaversineDistance(lat1, lon1, lat2, lon2 float64) float64 {
	const R = 6371 // Earth's radius in kilometers

	lat1Rad := lat1 * math.Pi / 180
	lon1Rad := lon1 * math.Pi / 180
	lat2Rad := lat2 * math.Pi / 180
	lon2Rad := lon2 * math.Pi / 180

	deltaLat := lat2Rad - lat1Rad
	deltaLon := lon2Rad - lon1Rad

	a := math.Sin(deltaLat/2)*math.Sin(deltaLat/2) +
		math.Cos(lat1Rad)*math.Cos(lat2Rad)*
			math.Sin(deltaLon/2)*math.Sin(deltaLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return R * c
}

// CalculateETA estimates arrival time between two points at averageSpeed
// km/h. A rough figure for client display, not routing.
func CalculateETA(from, to Location, averageSpeed float64) time.Duration {
	distance := HaversineDistance(from.Latitude, from.Longitude, to.Latitude, to.Longitude)
	timeHours := distance / averageSpeed
	timeMinutes := int(timeHours * 60)
	return time.Duration(timeMinutes) * time.Minute
}

// IsLocationValid checks that coordinates are finite and in range.
func IsLocationValid(lat, lng float64) bool {
	if math.IsNaN(lat) || math.IsInf(lat, 0) || math.IsNaN(lng) || math.IsInf(lng, 0) {
		return false
	}
	return lat >= -90 && lat <= 90 && lng >= -180 && lng <= 180
}

// IsLocationRecent checks if the location was updated within the last 30
// minutes.
func IsLocationRecent(lastUpdate *time.Time) bool {
	if lastUpdate == nil {
		return false
	}
	return lastUpdate.After(time.Now().Add(-30 * time.Minute))
}
