package ingest

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"
)

func placesSource() Source {
	return Source{
		Name:   "city-pois",
		Format: FormatCSV,
		Columns: ColumnMap{
			Name:      "name",
			Category:  "type",
			Latitude:  "lat",
			Longitude: "lon",
			ID:        "osm_id",
		},
	}
}

func TestPlacesFromCSV(t *testing.T) {
	data := `name,type,lat,lon,osm_id,opening_hours
Pike Place Market,market,47.6097,-122.3422,1001,9-5
Harborview,hospital,47.6040,-122.3233,1002,
`
	places, skipped, err := PlacesFromCSV(context.Background(), strings.NewReader(data), placesSource())
	require.NoError(t, err)
	require.Len(t, places, 2)
	assert.Zero(t, skipped)

	assert.Equal(t, "Pike Place Market", places[0].Name)
	assert.Equal(t, "market", places[0].Category)
	assert.InDelta(t, 47.6097, places[0].Latitude, 1e-9)
	assert.Equal(t, "city-pois", places[0].Source)
	assert.Equal(t, "1001", places[0].SourceID)
	assert.JSONEq(t, `{"opening_hours":"9-5"}`, string(places[0].Properties))

	// Empty extra cells stay out of properties.
	assert.Empty(t, places[1].Properties)
}

func TestPlacesFromCSV_SkipsBadRows(t *testing.T) {
	data := `name,type,lat,lon,osm_id
Good Place,park,47.0,-122.0,1
No Coords,park,not-a-number,-122.0,2
,park,47.1,-122.1,3
`
	places, skipped, err := PlacesFromCSV(context.Background(), strings.NewReader(data), placesSource())
	require.NoError(t, err)
	require.Len(t, places, 1)
	assert.Equal(t, 2, skipped)
	assert.Equal(t, "Good Place", places[0].Name)
}

func TestPlacesFromCSV_MissingCoordinateColumn(t *testing.T) {
	data := "name,type\nPlace,park\n"
	_, _, err := PlacesFromCSV(context.Background(), strings.NewReader(data), placesSource())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found in header")
}

func TestPlacesFromCSV_CustomDelimiter(t *testing.T) {
	src := placesSource()
	src.Delimiter = ';'
	data := "name;type;lat;lon;osm_id\nGas Works Park;park;47.6456;-122.3344;9\n"

	places, _, err := PlacesFromCSV(context.Background(), strings.NewReader(data), src)
	require.NoError(t, err)
	require.Len(t, places, 1)
	assert.Equal(t, "Gas Works Park", places[0].Name)
}

func TestPlacesFromCSV_DefaultCategory(t *testing.T) {
	src := Source{
		Name:   "hospitals",
		Format: FormatCSV,
		Columns: ColumnMap{
			Name:            "facility",
			Latitude:        "latitude",
			Longitude:       "longitude",
			DefaultCategory: "hospital",
		},
	}
	data := "facility,latitude,longitude\nSwedish Medical,47.61,-122.32\n"

	places, _, err := PlacesFromCSV(context.Background(), strings.NewReader(data), src)
	require.NoError(t, err)
	require.Len(t, places, 1)
	assert.Equal(t, "hospital", places[0].Category)
}

func createTestXLSX(t *testing.T, sheets map[string][][]string) string {
	t.Helper()
	f := xlsx.NewFile()
	for name, rows := range sheets {
		sheet, err := f.AddSheet(name)
		require.NoError(t, err)
		for _, rowData := range rows {
			row := sheet.AddRow()
			for _, cellData := range rowData {
				row.AddCell().SetString(cellData)
			}
		}
	}
	path := filepath.Join(t.TempDir(), "test.xlsx")
	require.NoError(t, f.Save(path))
	return path
}

func TestPlacesFromXLSX(t *testing.T) {
	path := createTestXLSX(t, map[string][][]string{
		"Sheet1": {
			{"name", "type", "lat", "lon", "osm_id"},
			{"Seattle Art Museum", "museum", "47.6075", "-122.3385", "2001"},
			{"bad row", "museum", "x", "y", "2002"},
		},
	})

	places, skipped, err := PlacesFromXLSX(path, placesSource())
	require.NoError(t, err)
	require.Len(t, places, 1)
	assert.Equal(t, 1, skipped)
	assert.Equal(t, "Seattle Art Museum", places[0].Name)
	assert.InDelta(t, -122.3385, places[0].Longitude, 1e-9)
}

func TestPlacesFromXLSX_SheetByName(t *testing.T) {
	path := createTestXLSX(t, map[string][][]string{
		"Ignore": {{"nope"}},
		"POIs": {
			{"name", "type", "lat", "lon", "osm_id"},
			{"Ballard Locks", "park", "47.6655", "-122.3976", "3001"},
		},
	})

	src := placesSource()
	src.Sheet = "POIs"
	places, _, err := PlacesFromXLSX(path, src)
	require.NoError(t, err)
	require.Len(t, places, 1)
	assert.Equal(t, "Ballard Locks", places[0].Name)
}

func TestPlacesFromXLSX_SheetNotFound(t *testing.T) {
	path := createTestXLSX(t, map[string][][]string{"Sheet1": {{"name"}}})

	src := placesSource()
	src.Sheet = "Missing"
	_, _, err := PlacesFromXLSX(path, src)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `sheet "Missing" not found`)
}
