package zone

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom/encoding/ewkb"

	"github.com/drm-labs/geoquery/internal/geo"
	"github.com/drm-labs/geoquery/internal/model"
)

// square returns a closed square ring centered at (lat, lon) with the given
// half-width in degrees.
func square(lat, lon, half float64) [][2]float64 {
	return [][2]float64{
		{lon - half, lat - half},
		{lon + half, lat - half},
		{lon + half, lat + half},
		{lon - half, lat + half},
		{lon - half, lat - half},
	}
}

func TestContains_SimplePolygon(t *testing.T) {
	z := &model.Zone{Name: "test", Rings: [][][2]float64{square(45, -120, 1)}}

	assert.True(t, Contains(z, geo.Point{Lat: 45, Lon: -120}))
	assert.True(t, Contains(z, geo.Point{Lat: 45.9, Lon: -120.9}))
	assert.False(t, Contains(z, geo.Point{Lat: 47, Lon: -120}))
	assert.False(t, Contains(z, geo.Point{Lat: 45, Lon: -118}))
}

func TestContains_Hole(t *testing.T) {
	z := &model.Zone{
		Name: "donut",
		Rings: [][][2]float64{
			square(45, -120, 2),
			square(45, -120, 0.5), // hole
		},
	}

	assert.False(t, Contains(z, geo.Point{Lat: 45, Lon: -120}))
	assert.True(t, Contains(z, geo.Point{Lat: 46, Lon: -120}))
	assert.False(t, Contains(z, geo.Point{Lat: 48, Lon: -120}))
}

func TestContains_OpenRing(t *testing.T) {
	ring := square(10, 10, 1)
	z := &model.Zone{Name: "open", Rings: [][][2]float64{ring[:len(ring)-1]}}

	assert.True(t, Contains(z, geo.Point{Lat: 10, Lon: 10}))
	assert.False(t, Contains(z, geo.Point{Lat: 12, Lon: 10}))
}

func TestContains_DegenerateRing(t *testing.T) {
	z := &model.Zone{Rings: [][][2]float64{{{0, 0}, {1, 1}}}}
	assert.False(t, Contains(z, geo.Point{Lat: 0.5, Lon: 0.5}))
}

func TestComputeCover(t *testing.T) {
	z := &model.Zone{Name: "cover", Rings: [][][2]float64{square(45, -120, 0.2)}}

	require.NoError(t, ComputeCover(z, 6))
	assert.NotEmpty(t, z.H3Cover)

	// The cover contains the cell of the centroid.
	tokenSet := make(map[string]struct{}, len(z.H3Cover))
	for _, tok := range z.H3Cover {
		tokenSet[tok] = struct{}{}
	}
	// All tokens are distinct.
	assert.Len(t, tokenSet, len(z.H3Cover))
}

func TestToGeom_ClosesOpenRings(t *testing.T) {
	ring := square(45, -120, 1)
	z := &model.Zone{Name: "open", Rings: [][][2]float64{ring[:len(ring)-1]}}

	mp, err := ToGeom(z)
	require.NoError(t, err)
	require.Equal(t, 1, mp.NumPolygons())
	assert.Equal(t, 4326, mp.SRID())

	lr := mp.Polygon(0).LinearRing(0)
	flat := lr.FlatCoords()
	// First and last vertex coincide after closing.
	assert.Equal(t, flat[0], flat[len(flat)-2])
	assert.Equal(t, flat[1], flat[len(flat)-1])
}

func TestToGeom_HoleBecomesInteriorRing(t *testing.T) {
	z := &model.Zone{
		Name: "donut",
		Rings: [][][2]float64{
			square(45, -120, 2),
			square(45, -120, 0.5), // hole
		},
	}

	mp, err := ToGeom(z)
	require.NoError(t, err)
	// One polygon with the hole as its interior ring, not two shells.
	require.Equal(t, 1, mp.NumPolygons())
	assert.Equal(t, 2, mp.Polygon(0).NumLinearRings())
}

func TestToGeom_IslandInsideHole(t *testing.T) {
	z := &model.Zone{
		Name: "atoll",
		Rings: [][][2]float64{
			square(45, -120, 3),
			square(45, -120, 2),   // hole
			square(45, -120, 0.5), // island inside the hole
		},
	}

	mp, err := ToGeom(z)
	require.NoError(t, err)
	require.Equal(t, 2, mp.NumPolygons())
	assert.Equal(t, 2, mp.Polygon(0).NumLinearRings())
	assert.Equal(t, 1, mp.Polygon(1).NumLinearRings())
}

func TestToGeom_RejectsDegenerate(t *testing.T) {
	z := &model.Zone{Name: "bad", Rings: [][][2]float64{{{0, 0}, {1, 1}}}}
	_, err := ToGeom(z)
	require.Error(t, err)
}

func TestEncodeEWKB_RoundTrip(t *testing.T) {
	z := &model.Zone{Name: "round", Rings: [][][2]float64{square(45, -120, 1)}}

	data, err := EncodeEWKB(z)
	require.NoError(t, err)

	g, err := ewkb.Unmarshal(data)
	require.NoError(t, err)
	assert.Equal(t, 4326, g.SRID())
}

func TestTags_MostSeverePerHazard(t *testing.T) {
	zones := []model.Zone{
		{ID: "a", Name: "flood watch", Hazard: model.HazardFlood, Severity: model.SeverityWatch, Rings: [][][2]float64{square(45, -120, 2)}},
		{ID: "b", Name: "flood warning", Hazard: model.HazardFlood, Severity: model.SeverityWarning, Rings: [][][2]float64{square(45, -120, 1)}},
		{ID: "c", Name: "fire advisory", Hazard: model.HazardWildfire, Severity: model.SeverityAdvisory, Rings: [][][2]float64{square(45, -120, 1)}},
		{ID: "d", Name: "far away", Hazard: model.HazardEarthquake, Severity: model.SeverityWarning, Rings: [][][2]float64{square(-30, 100, 1)}},
	}

	tags := Tags(zones, geo.Point{Lat: 45, Lon: -120})
	require.Len(t, tags, 2)
	assert.Equal(t, "b", tags[0].ZoneID)
	assert.Equal(t, model.SeverityWarning, tags[0].Severity)
	assert.Equal(t, "c", tags[1].ZoneID)
}

func TestTags_NoContainingZones(t *testing.T) {
	zones := []model.Zone{
		{ID: "a", Hazard: model.HazardFlood, Severity: model.SeverityWatch, Rings: [][][2]float64{square(45, -120, 1)}},
	}
	assert.Nil(t, Tags(zones, geo.Point{Lat: 0, Lon: 0}))
}
