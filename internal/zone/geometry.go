// Package zone manages polygonal risk areas: loading them from GeoJSON and
// shapefiles, testing points against them, and computing H3 covers used as
// SQLite prefilters.
package zone

import (
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/ewkb"

	"github.com/drm-labs/geoquery/internal/geo"
	"github.com/drm-labs/geoquery/internal/hexgrid"
	"github.com/drm-labs/geoquery/internal/model"
)

// Contains reports whether p falls inside the zone. Rings are evaluated with
// the even-odd rule, so interior rings act as holes.
func Contains(z *model.Zone, p geo.Point) bool {
	inside := false
	for _, ring := range z.Rings {
		if pointInRing(p, ring) {
			inside = !inside
		}
	}
	return inside
}

// pointInRing runs a ray cast along increasing longitude. Ring vertices are
// lon/lat pairs and the ring may be open or closed.
func pointInRing(p geo.Point, ring [][2]float64) bool {
	n := len(ring)
	if n < 3 {
		return false
	}

	inside := false
	j := n - 1
	for i := 0; i < n; i++ {
		xi, yi := ring[i][0], ring[i][1]
		xj, yj := ring[j][0], ring[j][1]

		if (yi > p.Lat) != (yj > p.Lat) &&
			p.Lon < (xj-xi)*(p.Lat-yi)/(yj-yi)+xi {
			inside = !inside
		}
		j = i
	}
	return inside
}

// ComputeCover fills z.H3Cover with the cells covering every ring at the
// given resolution. Duplicate tokens across rings are collapsed.
func ComputeCover(z *model.Zone, resolution int) error {
	seen := make(map[string]struct{})
	var cover []string

	for _, ring := range z.Rings {
		points := make([]geo.Point, len(ring))
		for i, v := range ring {
			points[i] = geo.Point{Lat: v[1], Lon: v[0]}
		}
		tokens, err := hexgrid.Cover(points, resolution)
		if err != nil {
			return eris.Wrapf(err, "zone: cover %s", z.Name)
		}
		// Polygons smaller than a cell produce no interior centers; fall
		// back to the cells of the ring vertices.
		if len(tokens) == 0 {
			for _, pt := range points {
				tok, terr := hexgrid.CellToken(pt, resolution)
				if terr != nil {
					return eris.Wrapf(terr, "zone: cover %s", z.Name)
				}
				tokens = append(tokens, tok)
			}
		}
		for _, tok := range tokens {
			if _, ok := seen[tok]; ok {
				continue
			}
			seen[tok] = struct{}{}
			cover = append(cover, tok)
		}
	}

	z.H3Cover = cover
	return nil
}

// ToGeom converts the zone rings to a go-geom MultiPolygon in SRID 4326.
// Ring grouping is recovered from nesting: a ring at even containment depth
// is a shell, a ring at odd depth is a hole of the ring that immediately
// contains it. That keeps ST_Contains on the stored geometry consistent
// with the even-odd Contains above.
func ToGeom(z *model.Zone) (*geom.MultiPolygon, error) {
	if len(z.Rings) == 0 {
		return nil, eris.Errorf("zone: %s has no rings", z.Name)
	}

	closed := make([][][2]float64, len(z.Rings))
	for i, ring := range z.Rings {
		if len(ring) < 3 {
			return nil, eris.Errorf("zone: ring %d of %s has %d points, need 3", i, z.Name, len(ring))
		}
		closed[i] = ring
		if ring[0] != ring[len(ring)-1] {
			closed[i] = append(append([][2]float64{}, ring...), ring[0])
		}
	}

	depth := make([]int, len(closed))
	parent := make([]int, len(closed))
	for i, ring := range closed {
		parent[i] = -1
		anchor := geo.Point{Lat: ring[0][1], Lon: ring[0][0]}
		for j, other := range closed {
			if i != j && pointInRing(anchor, other) {
				depth[i]++
			}
		}
	}
	for i := range closed {
		if depth[i]%2 == 0 {
			continue
		}
		// Immediate parent: the containing ring one nesting level up.
		anchor := geo.Point{Lat: closed[i][0][1], Lon: closed[i][0][0]}
		for j, other := range closed {
			if i != j && depth[j] == depth[i]-1 && pointInRing(anchor, other) {
				parent[i] = j
				break
			}
		}
		if parent[i] < 0 {
			return nil, eris.Errorf("zone: ring %d of %s is a hole with no shell", i, z.Name)
		}
	}

	mp := geom.NewMultiPolygon(geom.XY).SetSRID(4326)
	polys := make(map[int]*geom.Polygon, len(closed))
	for i, ring := range closed {
		if depth[i]%2 != 0 {
			continue
		}
		flat := make([]float64, 0, len(ring)*2)
		for _, v := range ring {
			flat = append(flat, v[0], v[1])
		}
		poly := geom.NewPolygon(geom.XY)
		if err := poly.Push(geom.NewLinearRingFlat(geom.XY, flat)); err != nil {
			return nil, eris.Wrapf(err, "zone: ring %d of %s", i, z.Name)
		}
		polys[i] = poly
	}
	for i, ring := range closed {
		if depth[i]%2 == 0 {
			continue
		}
		flat := make([]float64, 0, len(ring)*2)
		for _, v := range ring {
			flat = append(flat, v[0], v[1])
		}
		if err := polys[parent[i]].Push(geom.NewLinearRingFlat(geom.XY, flat)); err != nil {
			return nil, eris.Wrapf(err, "zone: ring %d of %s", i, z.Name)
		}
	}
	for i := range closed {
		if poly, ok := polys[i]; ok {
			if err := mp.Push(poly); err != nil {
				return nil, eris.Wrapf(err, "zone: polygon %d of %s", i, z.Name)
			}
		}
	}
	return mp, nil
}

// EncodeEWKB returns the zone geometry as EWKB bytes for PostGIS storage.
func EncodeEWKB(z *model.Zone) ([]byte, error) {
	mp, err := ToGeom(z)
	if err != nil {
		return nil, err
	}
	data, err := ewkb.Marshal(mp, ewkb.NDR)
	if err != nil {
		return nil, eris.Wrapf(err, "zone: encode %s", z.Name)
	}
	return data, nil
}

// Tags returns a risk tag for every zone containing p, keeping at most one
// tag per hazard kind (the most severe).
func Tags(zones []model.Zone, p geo.Point) []model.RiskTag {
	best := make(map[model.HazardKind]model.RiskTag)
	var order []model.HazardKind

	for i := range zones {
		z := &zones[i]
		if !Contains(z, p) {
			continue
		}
		tag := model.RiskTag{
			ZoneID:   z.ID,
			Name:     z.Name,
			Hazard:   z.Hazard,
			Severity: z.Severity,
		}
		prev, ok := best[z.Hazard]
		if !ok {
			best[z.Hazard] = tag
			order = append(order, z.Hazard)
			continue
		}
		if tag.Severity.MoreSevere(prev.Severity) {
			best[z.Hazard] = tag
		}
	}

	if len(order) == 0 {
		return nil
	}
	tags := make([]model.RiskTag, 0, len(order))
	for _, h := range order {
		tags = append(tags, best[h])
	}
	return tags
}
