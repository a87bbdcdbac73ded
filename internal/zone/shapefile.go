package zone

import (
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/drm-labs/geoquery/internal/model"
)

// LoadShapefile reads polygon records from a shapefile into zones. Attribute
// fields named name, hazard and severity are honored when present; records
// with non-polygonal or empty geometry are skipped.
func LoadShapefile(shpPath, source string) ([]model.Zone, error) {
	reader, err := shp.Open(shpPath)
	if err != nil {
		return nil, eris.Wrapf(err, "zone: open shapefile %s", shpPath)
	}
	defer func() { _ = reader.Close() }()

	// Build field name → index map.
	fields := reader.Fields()
	fieldIdx := make(map[string]int, len(fields))
	for i, f := range fields {
		name := strings.TrimRight(f.String(), "\x00")
		fieldIdx[strings.ToLower(name)] = i
	}

	attr := func(name string) string {
		idx, ok := fieldIdx[name]
		if !ok {
			return ""
		}
		return strings.TrimSpace(strings.TrimRight(reader.Attribute(idx), "\x00"))
	}

	now := time.Now().UTC()
	var zones []model.Zone
	var skipped int

	for reader.Next() {
		n, shape := reader.Shape()

		poly, ok := shape.(*shp.Polygon)
		if !ok {
			skipped++
			continue
		}
		rings := ringsFromPolygon(poly)
		if len(rings) == 0 {
			skipped++
			continue
		}

		z := model.Zone{
			ID:        uuid.NewString(),
			Name:      attr("name"),
			Hazard:    ParseHazard(attr("hazard")),
			Severity:  ParseSeverity(attr("severity")),
			Rings:     rings,
			Source:    source,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if z.Name == "" {
			z.Name = shapeName(shpPath, n)
		}
		zones = append(zones, z)
	}

	if skipped > 0 {
		zap.L().Debug("zone: skipped shapefile records",
			zap.String("path", shpPath),
			zap.Int("skipped", skipped),
		)
	}
	return zones, nil
}

// ringsFromPolygon splits shapefile polygon parts into lon/lat rings,
// dropping degenerate parts with fewer than three vertices.
func ringsFromPolygon(poly *shp.Polygon) [][][2]float64 {
	if poly == nil || poly.NumParts == 0 || len(poly.Points) == 0 {
		return nil
	}

	rings := make([][][2]float64, 0, poly.NumParts)
	for i := int32(0); i < poly.NumParts; i++ {
		start := poly.Parts[i]
		end := int32(len(poly.Points))
		if i+1 < poly.NumParts {
			end = poly.Parts[i+1]
		}
		ring := make([][2]float64, 0, end-start)
		for j := start; j < end; j++ {
			ring = append(ring, [2]float64{poly.Points[j].X, poly.Points[j].Y})
		}
		if len(ring) >= 3 {
			rings = append(rings, ring)
		}
	}
	if len(rings) == 0 {
		return nil
	}
	return rings
}

// shapeName derives a fallback name from the file and record number.
func shapeName(shpPath string, record int) string {
	base := strings.TrimSuffix(filepath.Base(shpPath), ".shp")
	return base + "-" + strconv.Itoa(record)
}
