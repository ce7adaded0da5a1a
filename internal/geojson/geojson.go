// ABOUTME: GeoJSON generation utilities
// ABOUTME: Converts geofences to Point or circular Polygon FeatureCollections

package geojson

import (
	"encoding/json"
	"math"
	"time"

	"github.com/harper/geotrack/internal/models"
)

const earthRadius = 6371000.0

// DefaultSegments is the number of polygon edges used for a circle.
const DefaultSegments = 64

// FeatureCollection represents a GeoJSON FeatureCollection.
type FeatureCollection struct {
	Type     string    `json:"type"`
	Features []Feature `json:"features"`
}

// Feature represents a GeoJSON Feature.
type Feature struct {
	Type       string                 `json:"type"`
	Geometry   Geometry               `json:"geometry"`
	Properties map[string]interface{} `json:"properties"`
}

// Geometry represents a GeoJSON Geometry.
type Geometry struct {
	Type        string      `json:"type"`
	Coordinates interface{} `json:"coordinates"`
}

// PointCoordinates represents [longitude, latitude] for a Point.
type PointCoordinates [2]float64

// PolygonCoordinates is a list of closed rings; the first is the outer ring.
type PolygonCoordinates [][]PointCoordinates

// TotalResolver returns the time spent in a geofence.
type TotalResolver func(geofenceID int64) time.Duration

// ToPointsFeatureCollection converts geofences to a FeatureCollection of center Points.
func ToPointsFeatureCollection(geofences []*models.Geofence, totals TotalResolver) *FeatureCollection {
	features := make([]Feature, 0, len(geofences))
	for _, g := range geofences {
		features = append(features, Feature{
			Type: "Feature",
			Geometry: Geometry{
				Type:        "Point",
				Coordinates: PointCoordinates{g.Longitude, g.Latitude},
			},
			Properties: properties(g, totals),
		})
	}
	return &FeatureCollection{Type: "FeatureCollection", Features: features}
}

// ToCirclesFeatureCollection converts geofences to Polygons approximating
// their radius with the given number of segments.
func ToCirclesFeatureCollection(geofences []*models.Geofence, totals TotalResolver, segments int) *FeatureCollection {
	if segments < 3 {
		segments = DefaultSegments
	}
	features := make([]Feature, 0, len(geofences))
	for _, g := range geofences {
		features = append(features, Feature{
			Type: "Feature",
			Geometry: Geometry{
				Type:        "Polygon",
				Coordinates: PolygonCoordinates{Circle(g.Latitude, g.Longitude, g.Radius, segments)},
			},
			Properties: properties(g, totals),
		})
	}
	return &FeatureCollection{Type: "FeatureCollection", Features: features}
}

func properties(g *models.Geofence, totals TotalResolver) map[string]interface{} {
	props := map[string]interface{}{
		"id":         g.ID,
		"name":       g.Name,
		"radius":     g.Radius,
		"created_at": g.CreatedAt.UTC().Format(time.RFC3339),
	}
	if totals != nil {
		props["total_seconds"] = int64(totals(g.ID) / time.Second)
	}
	return props
}

// Circle returns a closed ring of points at radius meters around a center,
// walking clockwise from north.
func Circle(lat, lng, radius float64, segments int) []PointCoordinates {
	ring := make([]PointCoordinates, 0, segments+1)
	for i := 0; i < segments; i++ {
		bearing := 2 * math.Pi * float64(i) / float64(segments)
		pLat, pLng := destination(lat, lng, radius, bearing)
		ring = append(ring, PointCoordinates{pLng, pLat})
	}
	return append(ring, ring[0])
}

// destination moves distance meters from a point along bearing (radians).
func destination(lat, lng, distance, bearing float64) (float64, float64) {
	lat1 := lat * math.Pi / 180
	lng1 := lng * math.Pi / 180
	angular := distance / earthRadius

	lat2 := math.Asin(math.Sin(lat1)*math.Cos(angular) + math.Cos(lat1)*math.Sin(angular)*math.Cos(bearing))
	lng2r := lng1 + math.Atan2(math.Sin(bearing)*math.Sin(angular)*math.Cos(lat1), math.Cos(angular)-math.Sin(lat1)*math.Sin(lat2))

	return lat2 * 180 / math.Pi, math.Mod(lng2r*180/math.Pi+540, 360) - 180
}

// ToJSON serializes a FeatureCollection to JSON.
func (fc *FeatureCollection) ToJSON() ([]byte, error) {
	return json.Marshal(fc)
}

// ToJSONIndent serializes a FeatureCollection to indented JSON.
func (fc *FeatureCollection) ToJSONIndent() ([]byte, error) {
	return json.MarshalIndent(fc, "", "  ")
}
