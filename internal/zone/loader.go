package zone

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"
	"go.uber.org/zap"

	"github.com/drm-labs/geoquery/internal/model"
)

// LoadGeoJSON parses a GeoJSON FeatureCollection of polygons into zones.
// Features with non-polygonal geometry are skipped. Zone name, hazard and
// severity are read from feature properties.
func LoadGeoJSON(r io.Reader, source string) ([]model.Zone, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, eris.Wrap(err, "zone: read geojson")
	}

	var fc geojson.FeatureCollection
	if err := json.Unmarshal(data, &fc); err != nil {
		return nil, eris.Wrap(err, "zone: parse geojson")
	}

	now := time.Now().UTC()
	var zones []model.Zone
	var skipped int

	for _, feat := range fc.Features {
		rings := ringsFromGeom(feat.Geometry)
		if len(rings) == 0 {
			skipped++
			continue
		}

		z := model.Zone{
			ID:        uuid.NewString(),
			Name:      propString(feat.Properties, "name"),
			Hazard:    ParseHazard(propString(feat.Properties, "hazard")),
			Severity:  ParseSeverity(propString(feat.Properties, "severity")),
			Rings:     rings,
			Source:    source,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if z.Name == "" {
			z.Name = feat.ID
		}
		if props, err := json.Marshal(feat.Properties); err == nil && len(feat.Properties) > 0 {
			z.Properties = props
		}
		zones = append(zones, z)
	}

	if skipped > 0 {
		zap.L().Debug("zone: skipped non-polygonal features",
			zap.String("source", source),
			zap.Int("skipped", skipped),
		)
	}
	return zones, nil
}

// ringsFromGeom flattens polygonal geometry into lon/lat rings.
func ringsFromGeom(g geom.T) [][][2]float64 {
	var rings [][][2]float64

	appendPolygon := func(poly *geom.Polygon) {
		for i := 0; i < poly.NumLinearRings(); i++ {
			lr := poly.LinearRing(i)
			flat := lr.FlatCoords()
			stride := lr.Stride()
			ring := make([][2]float64, 0, len(flat)/stride)
			for j := 0; j+1 < len(flat); j += stride {
				ring = append(ring, [2]float64{flat[j], flat[j+1]})
			}
			if len(ring) >= 3 {
				rings = append(rings, ring)
			}
		}
	}

	switch g := g.(type) {
	case *geom.Polygon:
		appendPolygon(g)
	case *geom.MultiPolygon:
		for i := 0; i < g.NumPolygons(); i++ {
			appendPolygon(g.Polygon(i))
		}
	}
	return rings
}

// propString reads a string property, tolerating missing keys and non-string
// values.
func propString(props map[string]any, key string) string {
	v, ok := props[key]
	if !ok {
		return ""
	}
	switch v := v.(type) {
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprint(v)
	}
}

// ParseHazard maps a free-form hazard label to a HazardKind. Unknown labels
// map to HazardOther.
func ParseHazard(s string) model.HazardKind {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "flood", "flooding", "floodplain":
		return model.HazardFlood
	case "wildfire", "fire", "burn":
		return model.HazardWildfire
	case "earthquake", "seismic":
		return model.HazardEarthquake
	case "landslide", "slide", "debris_flow":
		return model.HazardLandslide
	case "storm_surge", "surge", "hurricane":
		return model.HazardStormSurge
	default:
		return model.HazardOther
	}
}

// ParseSeverity maps a free-form severity label to a Severity. Unknown labels
// map to SeverityAdvisory.
func ParseSeverity(s string) model.Severity {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "warning", "severe", "high":
		return model.SeverityWarning
	case "watch", "moderate", "medium":
		return model.SeverityWatch
	default:
		return model.SeverityAdvisory
	}
}
