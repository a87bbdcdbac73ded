package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLoadDefaults(t *testing.T) {
	// Change to temp dir so no config.yaml is found
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "geoquery.db", cfg.Store.DatabaseURL)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 8000, cfg.Server.Port)
	assert.Equal(t, "https://nominatim.openstreetmap.org", cfg.Nominatim.BaseURL)
	assert.InDelta(t, 1.0, cfg.Nominatim.RateRPS, 0.001)
	assert.Equal(t, "https://photon.komoot.io", cfg.Photon.BaseURL)
	assert.Equal(t, "https://router.project-osrm.org", cfg.OSRM.BaseURL)
	assert.Equal(t, "driving", cfg.OSRM.Profile)
	assert.InDelta(t, 5.0, cfg.Query.DefaultRadiusKM, 0.001)
	assert.InDelta(t, 2.0, cfg.Query.AdjacentRingKM, 0.001)
	assert.Equal(t, 50, cfg.Query.MaxHits)
	assert.Equal(t, 8, cfg.Query.H3Resolution)
	assert.False(t, cfg.Query.EnableLLMParse)
	assert.Equal(t, 100, cfg.Cache.MaxEntries)
	assert.Equal(t, 600, cfg.Cache.TTLSecs)
	assert.Equal(t, 3, cfg.Resilience.MaxAttempts)
	assert.Equal(t, 500, cfg.Resilience.InitialBackoffMs)
	assert.Equal(t, 5, cfg.Resilience.FailureThreshold)
	assert.Equal(t, 30, cfg.Resilience.ResetTimeoutSecs)
}

func TestLoadFromYAML(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	yaml := `
store:
  driver: postgres
  database_url: postgres://localhost/geoquery
log:
  level: debug
  format: console
server:
  port: 9090
query:
  default_radius_km: 10
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.InDelta(t, 10.0, cfg.Query.DefaultRadiusKM, 0.001)
	// Defaults still apply for unset values
	assert.Equal(t, 50, cfg.Query.MaxHits)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	yaml := `
store:
  driver: sqlite
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	t.Setenv("GEOQUERY_STORE_DRIVER", "postgres")
	t.Setenv("GEOQUERY_LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)

	// Env overrides file
	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	t.Setenv("GEOQUERY_SERVER_PORT", "3000")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3000, cfg.Server.Port)
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "invalid", Format: "json"})
	assert.Error(t, err)
}

// validDefaults returns a Config with the defaults validation depends on.
func validDefaults() *Config {
	cfg := &Config{}
	cfg.Store.Driver = "sqlite"
	cfg.Store.DatabaseURL = "geoquery.db"
	cfg.Nominatim.RateRPS = 1.0
	cfg.Query.DefaultRadiusKM = 5.0
	cfg.Query.H3Resolution = 8
	cfg.Cache.MaxEntries = 100
	cfg.Server.Port = 8000
	return cfg
}

func TestValidateServe_Valid(t *testing.T) {
	cfg := validDefaults()
	assert.NoError(t, cfg.Validate("serve"))
}

func TestValidateServe_InvalidPort(t *testing.T) {
	cfg := validDefaults()
	cfg.Server.Port = 0

	err := cfg.Validate("serve")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "server.port must be > 0")
}

func TestValidateQuery_MissingDatabase(t *testing.T) {
	cfg := validDefaults()
	cfg.Store.DatabaseURL = ""

	err := cfg.Validate("query")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "store.database_url is required")
}

func TestValidateUnknownMode(t *testing.T) {
	cfg := validDefaults()
	err := cfg.Validate("unknown")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
}

func TestValidateDriver(t *testing.T) {
	cfg := validDefaults()
	cfg.Store.Driver = "mongodb"

	err := cfg.Validate("serve")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "store.driver must be sqlite or postgres")
}

func TestValidateH3ResolutionBounds(t *testing.T) {
	cfg := validDefaults()

	cfg.Query.H3Resolution = 16
	err := cfg.Validate("serve")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "h3_resolution")

	cfg.Query.H3Resolution = -1
	err = cfg.Validate("serve")
	assert.Error(t, err)

	cfg.Query.H3Resolution = 0
	assert.NoError(t, cfg.Validate("serve"))
}

func TestValidateLLMRequiresKey(t *testing.T) {
	cfg := validDefaults()
	cfg.Query.EnableSuggestion = true

	err := cfg.Validate("serve")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "anthropic.key is required")

	cfg.Anthropic.Key = "sk-ant-key"
	assert.NoError(t, cfg.Validate("serve"))
}
