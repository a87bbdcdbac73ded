package zone

import (
	"testing"

	"github.com/jonas-p/go-shp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drm-labs/geoquery/internal/geo"
	"github.com/drm-labs/geoquery/internal/model"
)

func TestRingsFromPolygon_SingleRing(t *testing.T) {
	poly := &shp.Polygon{
		NumParts: 1,
		Parts:    []int32{0},
		Points: []shp.Point{
			{X: -121, Y: 44},
			{X: -119, Y: 44},
			{X: -119, Y: 46},
			{X: -121, Y: 46},
			{X: -121, Y: 44},
		},
	}

	rings := ringsFromPolygon(poly)
	require.Len(t, rings, 1)
	assert.Len(t, rings[0], 5)
	assert.Equal(t, [2]float64{-121, 44}, rings[0][0])

	z := &model.Zone{Rings: rings}
	assert.True(t, Contains(z, geo.Point{Lat: 45, Lon: -120}))
}

func TestRingsFromPolygon_MultiPart(t *testing.T) {
	poly := &shp.Polygon{
		NumParts: 2,
		Parts:    []int32{0, 5},
		Points: []shp.Point{
			{X: 0, Y: 0}, {X: 4, Y: 0}, {X: 4, Y: 4}, {X: 0, Y: 4}, {X: 0, Y: 0},
			{X: 1, Y: 1}, {X: 3, Y: 1}, {X: 3, Y: 3}, {X: 1, Y: 3}, {X: 1, Y: 1},
		},
	}

	rings := ringsFromPolygon(poly)
	require.Len(t, rings, 2)
	assert.Len(t, rings[0], 5)
	assert.Len(t, rings[1], 5)

	// Second ring acts as a hole under the even-odd rule.
	z := &model.Zone{Rings: rings}
	assert.False(t, Contains(z, geo.Point{Lat: 2, Lon: 2}))
	assert.True(t, Contains(z, geo.Point{Lat: 0.5, Lon: 0.5}))
}

func TestRingsFromPolygon_Degenerate(t *testing.T) {
	assert.Nil(t, ringsFromPolygon(nil))
	assert.Nil(t, ringsFromPolygon(&shp.Polygon{}))
	assert.Nil(t, ringsFromPolygon(&shp.Polygon{
		NumParts: 1,
		Parts:    []int32{0},
		Points:   []shp.Point{{X: 0, Y: 0}, {X: 1, Y: 1}},
	}))
}

func TestLoadShapefile_MissingFile(t *testing.T) {
	_, err := LoadShapefile("/nonexistent/zones.shp", "test")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "open shapefile")
}
