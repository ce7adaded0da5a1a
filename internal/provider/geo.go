// ABOUTME: Great-circle distance helpers
// ABOUTME: Haversine formula on a spherical earth

package provider

import (
	"math"

	"github.com/harper/geotrack/internal/models"
)

const earthRadiusMeters = 6371000.0

// Distance returns the haversine distance in meters between two points.
func Distance(lat1, lng1, lat2, lng2 float64) float64 {
	dLat := toRad(lat2 - lat1)
	dLng := toRad(lng2 - lng1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLng/2)*math.Sin(dLng/2)
	return earthRadiusMeters * 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

// Contains reports whether the point lies within the geofence.
func Contains(g *models.Geofence, lat, lng float64) bool {
	return Distance(g.Latitude, g.Longitude, lat, lng) <= g.Radius
}

func toRad(deg float64) float64 {
	return deg * math.Pi / 180
}
