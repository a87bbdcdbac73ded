// Package hexgrid wraps H3 cell indexing for points, proximity rings, and
// polygon covers. Cells are used as coarse prefilters in front of exact
// distance and containment checks.
package hexgrid

import (
	"github.com/rotisserie/eris"
	h3 "github.com/uber/h3-go/v4"

	"github.com/drm-labs/geoquery/internal/geo"
)

// DefaultResolution is the H3 resolution used when the caller does not
// specify one. Resolution 8 cells average ~0.74 km².
const DefaultResolution = 8

// MaxResolution is the finest H3 resolution.
const MaxResolution = 15

// CellForPoint returns the H3 cell index containing p at the given resolution.
func CellForPoint(p geo.Point, resolution int) (h3.Cell, error) {
	if resolution < 0 || resolution > MaxResolution {
		return 0, eris.Errorf("hexgrid: resolution %d out of range [0, %d]", resolution, MaxResolution)
	}
	cell, err := h3.LatLngToCell(h3.NewLatLng(p.Lat, p.Lon), resolution)
	if err != nil {
		return 0, eris.Wrap(err, "hexgrid: point to cell")
	}
	return cell, nil
}

// CellToken returns the hex string form of the cell for p, the form stored
// in the place store and returned on the wire.
func CellToken(p geo.Point, resolution int) (string, error) {
	cell, err := CellForPoint(p, resolution)
	if err != nil {
		return "", err
	}
	return cell.String(), nil
}

// Center returns the center point of a cell.
func Center(cell h3.Cell) (geo.Point, error) {
	ll, err := h3.CellToLatLng(cell)
	if err != nil {
		return geo.Point{}, eris.Wrap(err, "hexgrid: cell center")
	}
	return geo.Point{Lat: ll.Lat, Lon: ll.Lng}, nil
}

// Disk returns the cell tokens within k rings of the cell containing p.
// k=0 returns just the containing cell.
func Disk(p geo.Point, resolution, k int) ([]string, error) {
	if k < 0 {
		return nil, eris.Errorf("hexgrid: negative ring count %d", k)
	}
	cell, err := CellForPoint(p, resolution)
	if err != nil {
		return nil, err
	}
	cells, err := cell.GridDisk(k)
	if err != nil {
		return nil, eris.Wrap(err, "hexgrid: grid disk")
	}
	return tokens(cells), nil
}

// Cover returns the cell tokens whose centers fall inside the polygon ring.
// The ring is a closed or open loop of points; holes are not supported here
// because risk zones store holes as separate loops.
func Cover(ring []geo.Point, resolution int) ([]string, error) {
	if len(ring) < 3 {
		return nil, eris.Errorf("hexgrid: polygon ring needs at least 3 points, got %d", len(ring))
	}
	loop := make(h3.GeoLoop, 0, len(ring))
	for _, p := range ring {
		loop = append(loop, h3.NewLatLng(p.Lat, p.Lon))
	}
	cells, err := h3.PolygonToCells(h3.GeoPolygon{GeoLoop: loop}, resolution)
	if err != nil {
		return nil, eris.Wrap(err, "hexgrid: polygon cover")
	}
	return tokens(cells), nil
}

// DiskForRadius returns cell tokens covering a circle of radiusKM around p.
// The ring count is derived from the cell edge length at the resolution so
// the disk fully contains the circle.
func DiskForRadius(p geo.Point, resolution int, radiusKM float64) ([]string, error) {
	cell, err := CellForPoint(p, resolution)
	if err != nil {
		return nil, err
	}
	center, err := Center(cell)
	if err != nil {
		return nil, err
	}

	// Approximate the cell radius by the distance from the cell center to a
	// neighbor center; one ring extends roughly that far.
	ring, err := cell.GridDisk(1)
	if err != nil {
		return nil, eris.Wrap(err, "hexgrid: grid disk")
	}
	cellRadiusKM := 1.0
	for _, n := range ring {
		if n == cell {
			continue
		}
		nc, cerr := Center(n)
		if cerr != nil {
			continue
		}
		cellRadiusKM = geo.HaversineKM(center, nc)
		break
	}

	k := int(radiusKM/cellRadiusKM) + 1
	cells, err := cell.GridDisk(k)
	if err != nil {
		return nil, eris.Wrap(err, "hexgrid: grid disk radius")
	}
	return tokens(cells), nil
}

func tokens(cells []h3.Cell) []string {
	out := make([]string, 0, len(cells))
	for _, c := range cells {
		out = append(out, c.String())
	}
	return out
}
