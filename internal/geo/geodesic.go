// Package geo provides spherical geodesic math for coordinate adjustment
// and proximity search: haversine distance, destination points, bearings,
// and bounding boxes on the WGS84 sphere.
package geo

import (
	"math"

	"github.com/rotisserie/eris"
)

// EarthRadiusKM is the mean Earth radius used for spherical calculations.
const EarthRadiusKM = 6371.0088

// Point is a WGS84 coordinate pair.
type Point struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// BBox is a geographic bounding box.
type BBox struct {
	MinLat float64 `json:"min_lat"`
	MinLon float64 `json:"min_lon"`
	MaxLat float64 `json:"max_lat"`
	MaxLon float64 `json:"max_lon"`
}

// Contains reports whether p falls inside the box. Boxes that cross the
// antimeridian are handled by the wrapped longitude comparison.
func (b BBox) Contains(p Point) bool {
	if p.Lat < b.MinLat || p.Lat > b.MaxLat {
		return false
	}
	if b.MinLon <= b.MaxLon {
		return p.Lon >= b.MinLon && p.Lon <= b.MaxLon
	}
	return p.Lon >= b.MinLon || p.Lon <= b.MaxLon
}

// Validate checks that the point is a plausible WGS84 coordinate.
func (p Point) Validate() error {
	if p.Lat < -90 || p.Lat > 90 {
		return eris.Errorf("geo: latitude %f out of range [-90, 90]", p.Lat)
	}
	if p.Lon < -180 || p.Lon >= 180 {
		return eris.Errorf("geo: longitude %f out of range [-180, 180)", p.Lon)
	}
	return nil
}

// Normalize clamps latitude to [-90, 90] and wraps longitude into [-180, 180).
func (p Point) Normalize() Point {
	lat := math.Max(-90, math.Min(90, p.Lat))
	lon := math.Mod(p.Lon+180, 360)
	if lon < 0 {
		lon += 360
	}
	return Point{Lat: lat, Lon: lon - 180}
}

// HaversineKM returns the great-circle distance between two points in km.
func HaversineKM(a, b Point) float64 {
	lat1 := radians(a.Lat)
	lat2 := radians(b.Lat)
	dLat := radians(b.Lat - a.Lat)
	dLon := radians(b.Lon - a.Lon)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * EarthRadiusKM * math.Asin(math.Min(1, math.Sqrt(h)))
}

// Destination returns the point reached by travelling distanceKM from origin
// along the given initial bearing (degrees clockwise from north).
func Destination(origin Point, bearingDeg, distanceKM float64) Point {
	lat1 := radians(origin.Lat)
	lon1 := radians(origin.Lon)
	brng := radians(bearingDeg)
	d := distanceKM / EarthRadiusKM

	lat2 := math.Asin(math.Sin(lat1)*math.Cos(d) +
		math.Cos(lat1)*math.Sin(d)*math.Cos(brng))
	lon2 := lon1 + math.Atan2(
		math.Sin(brng)*math.Sin(d)*math.Cos(lat1),
		math.Cos(d)-math.Sin(lat1)*math.Sin(lat2),
	)

	return Point{Lat: degrees(lat2), Lon: degrees(lon2)}.Normalize()
}

// InitialBearing returns the initial bearing in degrees [0, 360) from a to b.
func InitialBearing(a, b Point) float64 {
	lat1 := radians(a.Lat)
	lat2 := radians(b.Lat)
	dLon := radians(b.Lon - a.Lon)

	y := math.Sin(dLon) * math.Cos(lat2)
	x := math.Cos(lat1)*math.Sin(lat2) - math.Sin(lat1)*math.Cos(lat2)*math.Cos(dLon)
	deg := degrees(math.Atan2(y, x))
	return math.Mod(deg+360, 360)
}

// bboxPad widens the box slightly so points at exactly radiusKM survive
// floating point rounding in the spherical conversion.
const bboxPad = 1.001

// BoundingBox returns a box that fully contains the circle of radiusKM
// around center. Near the poles the box degenerates to the full longitude
// range, which keeps it a valid prefilter.
func BoundingBox(center Point, radiusKM float64) BBox {
	dLat := degrees(radiusKM * bboxPad / EarthRadiusKM)

	minLat := center.Lat - dLat
	maxLat := center.Lat + dLat
	if minLat <= -90 || maxLat >= 90 {
		return BBox{
			MinLat: math.Max(-90, minLat),
			MaxLat: math.Min(90, maxLat),
			MinLon: -180,
			MaxLon: 180,
		}
	}

	dLon := degrees(radiusKM * bboxPad / (EarthRadiusKM * math.Cos(radians(center.Lat))))
	box := BBox{
		MinLat: minLat,
		MaxLat: maxLat,
		MinLon: center.Lon - dLon,
		MaxLon: center.Lon + dLon,
	}
	if box.MinLon < -180 {
		box.MinLon += 360
	}
	if box.MaxLon > 180 {
		box.MaxLon -= 360
	}
	return box
}

func radians(deg float64) float64 { return deg * math.Pi / 180 }
func degrees(rad float64) float64 { return rad * 180 / math.Pi }
