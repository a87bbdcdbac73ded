package main

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drm-labs/geoquery/internal/ingest"
	"github.com/drm-labs/geoquery/internal/model"
)

func TestRootCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}

	expected := []string{"serve", "query", "geocode", "route", "places", "zones", "migrate"}
	for _, name := range expected {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "geoquery", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestGeocodeCommand_Flags(t *testing.T) {
	flag := geocodeCmd.Flags().Lookup("reverse")
	require.NotNil(t, flag, "geocode command should have --reverse flag")
}

func TestPlacesNearbyCommand_Flags(t *testing.T) {
	flag := placesNearbyCmd.Flags().Lookup("radius")
	require.NotNil(t, flag, "places nearby should have --radius flag")
	assert.Equal(t, "5", flag.DefValue)

	require.NotNil(t, placesNearbyCmd.Flags().Lookup("at"))
}

func TestZonesListCommand_Flags(t *testing.T) {
	require.NotNil(t, zonesListCmd.Flags().Lookup("hazard"))
	require.NotNil(t, zonesListCmd.Flags().Lookup("limit"))
}

func TestParseLatLon(t *testing.T) {
	p, err := parseLatLon("47.6061, -122.3328")
	require.NoError(t, err)
	assert.InDelta(t, 47.6061, p.Lat, 1e-9)
	assert.InDelta(t, -122.3328, p.Lon, 1e-9)

	_, err = parseLatLon("47.6061")
	assert.Error(t, err)

	_, err = parseLatLon("91,0")
	assert.Error(t, err)

	_, err = parseLatLon("abc,def")
	assert.Error(t, err)
}

func TestPrintResult_RiskLineNamesZone(t *testing.T) {
	r := &model.QueryResult{
		RiskTags: []model.RiskTag{{
			ZoneID:   "z1",
			Name:     "Duwamish floodplain",
			Hazard:   model.HazardFlood,
			Severity: model.SeverityWarning,
		}},
	}

	old := os.Stdout
	pr, pw, err := os.Pipe()
	require.NoError(t, err)
	os.Stdout = pw
	printResult(r)
	require.NoError(t, pw.Close())
	os.Stdout = old

	out, err := io.ReadAll(pr)
	require.NoError(t, err)
	assert.Contains(t, string(out), "Duwamish floodplain")
	assert.Contains(t, string(out), string(model.HazardFlood))
}

func TestIsRemote(t *testing.T) {
	assert.True(t, isRemote("https://example.com/pois.csv"))
	assert.True(t, isRemote("ftp://host/data.csv"))
	assert.False(t, isRemote("/data/pois.csv"))
	assert.False(t, isRemote("pois.csv"))
}

func TestPlacesSourceFromFlags_InfersFormat(t *testing.T) {
	src, err := placesSourceFromFlags(placesImportCmd, "/data/city-pois.csv")
	require.NoError(t, err)
	assert.Equal(t, "city-pois", src.Name)
	assert.Equal(t, ingest.FormatCSV, src.Format)
	assert.Equal(t, "name", src.Columns.Name)
	assert.Equal(t, "lat", src.Columns.Latitude)
	assert.Equal(t, "lon", src.Columns.Longitude)

	_, err = placesSourceFromFlags(placesImportCmd, "/data/pois.parquet")
	assert.Error(t, err)
}

func TestZoneFormat(t *testing.T) {
	format, err := zoneFormat(zonesLoadCmd, "https://example.com/flood.geojson")
	require.NoError(t, err)
	assert.Equal(t, ingest.FormatGeoJSON, format)

	format, err = zoneFormat(zonesLoadCmd, "https://example.com/bundle.zip")
	require.NoError(t, err)
	assert.Equal(t, ingest.FormatShapefile, format)

	_, err = zoneFormat(zonesLoadCmd, "https://example.com/flood")
	assert.Error(t, err)
}

func TestLoadLocalZones_GeoJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flood.geojson")
	payload := `{"type":"FeatureCollection","features":[{"type":"Feature","properties":{"name":"Test zone","hazard":"flood","severity":"warning"},"geometry":{"type":"Polygon","coordinates":[[[-122.4,47.5],[-122.2,47.5],[-122.2,47.7],[-122.4,47.7],[-122.4,47.5]]]}}]}`
	require.NoError(t, os.WriteFile(path, []byte(payload), 0o644))

	zones, err := loadLocalZones(path, "nws-flood")
	require.NoError(t, err)
	require.Len(t, zones, 1)
	assert.Equal(t, "Test zone", zones[0].Name)
	assert.Equal(t, model.HazardFlood, zones[0].Hazard)
	assert.Equal(t, "nws-flood", zones[0].Source)
}

func TestLoadLocalZones_UnsupportedExtension(t *testing.T) {
	_, err := loadLocalZones("/data/zones.kml", "src")
	assert.Error(t, err)
}
