// Package geo provides great-circle distance and bounding-box helpers used to
// find reports near a point.
package geo

import "math"

const (
	// EarthRadiusMeters is the mean Earth radius used by the Haversine formula.
	EarthRadiusMeters = 6_371_000.0

	// metersPerDegreeLat approximates the length of one degree of latitude.
	metersPerDegreeLat = 111_320.0

	// prefilterSlack widens pre-filter boxes. 111320 m/degree is slightly
	// longer than a degree on the Haversine sphere (~111195 m), so an
	// unpadded box misses points sitting on the circle edge.
	prefilterSlack = 1.005
)

// Point is a WGS84 coordinate in decimal degrees.
type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Valid reports whether the point lies within the legal latitude/longitude range.
func (p Point) Valid() bool {
	return p.Lat >= -90 && p.Lat <= 90 && p.Lng >= -180 && p.Lng <= 180
}

// BoundingBox is an axis-aligned latitude/longitude rectangle.
type BoundingBox struct {
	MinLat float64 `json:"minLat"`
	MaxLat float64 `json:"maxLat"`
	MinLng float64 `json:"minLng"`
	MaxLng float64 `json:"maxLng"`
}

// DistanceMeters returns the Haversine great-circle distance between two
// points. NaN inputs propagate to the result.
func DistanceMeters(a, b Point) float64 {
	lat1 := toRadians(a.Lat)
	lat2 := toRadians(b.Lat)
	dLat := toRadians(b.Lat - a.Lat)
	dLng := toRadians(b.Lng - a.Lng)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return EarthRadiusMeters * c
}

// BoundingBoxAround returns a rectangle that contains every point within
// radiusMeters of center. It is a coarse pre-filter: corners of the box lie
// outside the radius, and the longitude span degrades near the poles.
func BoundingBoxAround(center Point, radiusMeters float64) BoundingBox {
	latDelta := radiusMeters / metersPerDegreeLat
	lngDelta := radiusMeters / (metersPerDegreeLat * math.Cos(toRadians(center.Lat)))

	return BoundingBox{
		MinLat: center.Lat - latDelta,
		MaxLat: center.Lat + latDelta,
		MinLng: center.Lng - lngDelta,
		MaxLng: center.Lng + lngDelta,
	}
}

// Contains reports whether p lies inside the box, edges included. Boxes
// built near the antimeridian extend past ±180°, so p is also tested one
// turn east and west.
func (b BoundingBox) Contains(p Point) bool {
	if p.Lat < b.MinLat || p.Lat > b.MaxLat {
		return false
	}
	for _, lng := range [...]float64{p.Lng, p.Lng - 360, p.Lng + 360} {
		if lng >= b.MinLng && lng <= b.MaxLng {
			return true
		}
	}
	return false
}

// PrefilterBox is BoundingBoxAround padded so that it encloses every point
// whose DistanceMeters from center is at most radiusMeters.
func PrefilterBox(center Point, radiusMeters float64) BoundingBox {
	return BoundingBoxAround(center, radiusMeters*prefilterSlack)
}

// IsWithinBoundingBox is the free-function form of BoundingBox.Contains.
func IsWithinBoundingBox(p Point, b BoundingBox) bool {
	return b.Contains(p)
}

// Located is implemented by anything with an optional position.
type Located interface {
	Position() (Point, bool)
}

// WithinRadius pairs an item with its distance from the search center.
type WithinRadius[T Located] struct {
	Item           T
	DistanceMeters float64
}

// FilterByRadius keeps the items whose position lies within radiusMeters of
// center, preserving input order. Items without a position are dropped. The
// bounding box rejects far-away items before the Haversine refinement runs.
func FilterByRadius[T Located](items []T, center Point, radiusMeters float64) []WithinRadius[T] {
	box := PrefilterBox(center, radiusMeters)

	out := make([]WithinRadius[T], 0, len(items))
	for _, item := range items {
		p, ok := item.Position()
		if !ok || !box.Contains(p) {
			continue
		}
		d := DistanceMeters(center, p)
		if d <= radiusMeters {
			out = append(out, WithinRadius[T]{Item: item, DistanceMeters: d})
		}
	}
	return out
}

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180
}
