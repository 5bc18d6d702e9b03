// Package geo holds the canonical coordinate type and the conversions from
// the shapes the backend sends (GeoJSON points, WKT polygons, raw pairs).
package geo

import (
	"fmt"
	"math"
)

// EarthRadiusMeters is the spherical Earth radius used for all distances.
const EarthRadiusMeters = 6371000.0

// DefaultCenter is used when neither the input nor the caller provide a
// usable coordinate.
var DefaultCenter = Coordinate{Lat: 53.3498, Lon: -6.2603}

// Coordinate is a (latitude, longitude) pair in decimal degrees.
type Coordinate struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Valid reports whether c lies inside the WGS 84 ranges.
func (c Coordinate) Valid() bool {
	if math.IsNaN(c.Lat) || math.IsNaN(c.Lon) {
		return false
	}
	return c.Lat >= -90 && c.Lat <= 90 && c.Lon >= -180 && c.Lon <= 180
}

func (c Coordinate) String() string {
	return fmt.Sprintf("(%.6f, %.6f)", c.Lat, c.Lon)
}

// Point is a GeoJSON point. Coordinates are [lon, lat].
type Point struct {
	Type        string    `json:"type"`
	Coordinates []float64 `json:"coordinates"`
}

// NewPoint converts a canonical coordinate into its GeoJSON form.
func NewPoint(c Coordinate) Point {
	return Point{Type: "Point", Coordinates: []float64{c.Lon, c.Lat}}
}

// Coordinate returns the canonical form of p. ok is false when p does not
// carry a usable pair.
func (p Point) Coordinate() (Coordinate, bool) {
	if len(p.Coordinates) < 2 {
		return Coordinate{}, false
	}
	c := Coordinate{Lat: p.Coordinates[1], Lon: p.Coordinates[0]}
	return c, c.Valid()
}

// DistanceMeters returns the great-circle distance between a and b.
func DistanceMeters(a, b Coordinate) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLon := (b.Lon - a.Lon) * math.Pi / 180

	hSin := math.Sin(dLat / 2)
	vSin := math.Sin(dLon / 2)
	h := hSin*hSin + math.Cos(lat1)*math.Cos(lat2)*vSin*vSin

	return 2 * EarthRadiusMeters * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

// Within reports whether c is inside the circle of radiusMeters around center.
func Within(c, center Coordinate, radiusMeters float64) bool {
	return DistanceMeters(c, center) <= radiusMeters
}

// Bounds is a latitude/longitude aligned bounding box.
type Bounds struct {
	South float64 `json:"south"`
	West  float64 `json:"west"`
	North float64 `json:"north"`
	East  float64 `json:"east"`
}

// metersPerDegree is the length of one degree of latitude on the sphere.
const metersPerDegree = EarthRadiusMeters * math.Pi / 180

// CircleBounds returns the box enclosing the circle of radiusMeters around
// center, clamped to valid ranges.
func CircleBounds(center Coordinate, radiusMeters float64) Bounds {
	dLat := radiusMeters / metersPerDegree
	cos := math.Cos(center.Lat * math.Pi / 180)
	dLon := 180.0
	if cos > 1e-9 {
		dLon = math.Min(180, radiusMeters/(metersPerDegree*cos))
	}
	return Bounds{
		South: math.Max(-90, center.Lat-dLat),
		North: math.Min(90, center.Lat+dLat),
		West:  math.Max(-180, center.Lon-dLon),
		East:  math.Min(180, center.Lon+dLon),
	}
}

// Centroid returns the arithmetic mean of the ring's vertices. A closed ring
// repeats its first vertex last; the duplicate is skipped.
func Centroid(ring []Coordinate) (Coordinate, bool) {
	n := len(ring)
	if n > 1 && ring[0] == ring[n-1] {
		n--
	}
	if n == 0 {
		return Coordinate{}, false
	}
	var c Coordinate
	for _, p := range ring[:n] {
		c.Lat += p.Lat
		c.Lon += p.Lon
	}
	c.Lat /= float64(n)
	c.Lon /= float64(n)
	return c, true
}
