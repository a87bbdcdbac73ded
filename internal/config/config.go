package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Nominatim  NominatimConfig  `yaml:"nominatim" mapstructure:"nominatim"`
	Photon     PhotonConfig     `yaml:"photon" mapstructure:"photon"`
	OSRM       OSRMConfig       `yaml:"osrm" mapstructure:"osrm"`
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	Query      QueryConfig      `yaml:"query" mapstructure:"query"`
	Cache      CacheConfig      `yaml:"cache" mapstructure:"cache"`
	Resilience ResilienceConfig `yaml:"resilience" mapstructure:"resilience"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// NominatimConfig holds OSM Nominatim settings.
type NominatimConfig struct {
	BaseURL   string  `yaml:"base_url" mapstructure:"base_url"`
	UserAgent string  `yaml:"user_agent" mapstructure:"user_agent"`
	RateRPS   float64 `yaml:"rate_rps" mapstructure:"rate_rps"`
}

// PhotonConfig holds the Photon fallback geocoder settings.
type PhotonConfig struct {
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// OSRMConfig holds OSRM routing settings.
type OSRMConfig struct {
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
	Profile string `yaml:"profile" mapstructure:"profile"`
}

// AnthropicConfig holds Anthropic API settings for the suggestion engine.
type AnthropicConfig struct {
	Key   string `yaml:"key" mapstructure:"key"`
	Model string `yaml:"model" mapstructure:"model"`
}

// QueryConfig tunes query execution.
type QueryConfig struct {
	DefaultRadiusKM  float64 `yaml:"default_radius_km" mapstructure:"default_radius_km"`
	AdjacentRingKM   float64 `yaml:"adjacent_ring_km" mapstructure:"adjacent_ring_km"`
	MaxHits          int     `yaml:"max_hits" mapstructure:"max_hits"`
	H3Resolution     int     `yaml:"h3_resolution" mapstructure:"h3_resolution"`
	EnableLLMParse   bool    `yaml:"enable_llm_parse" mapstructure:"enable_llm_parse"`
	EnableSuggestion bool    `yaml:"enable_suggestion" mapstructure:"enable_suggestion"`
}

// CacheConfig tunes the in-memory geocode cache.
type CacheConfig struct {
	MaxEntries int `yaml:"max_entries" mapstructure:"max_entries"`
	TTLSecs    int `yaml:"ttl_secs" mapstructure:"ttl_secs"`
	// PersistTTLDays bounds the store-backed geocode cache; 0 keeps
	// entries forever.
	PersistTTLDays int `yaml:"persist_ttl_days" mapstructure:"persist_ttl_days"`
}

// ResilienceConfig tunes retry and circuit breaking for outbound calls.
// Zero values keep the built-in defaults.
type ResilienceConfig struct {
	MaxAttempts      int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int     `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int     `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	Multiplier       float64 `yaml:"multiplier" mapstructure:"multiplier"`
	JitterFraction   float64 `yaml:"jitter_fraction" mapstructure:"jitter_fraction"`
	FailureThreshold int     `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeoutSecs int     `yaml:"reset_timeout_secs" mapstructure:"reset_timeout_secs"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("GEOQUERY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "geoquery.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("nominatim.base_url", "https://nominatim.openstreetmap.org")
	v.SetDefault("nominatim.user_agent", "geoquery/1.0")
	v.SetDefault("nominatim.rate_rps", 1.0)
	v.SetDefault("photon.base_url", "https://photon.komoot.io")
	v.SetDefault("osrm.base_url", "https://router.project-osrm.org")
	v.SetDefault("osrm.profile", "driving")
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("query.default_radius_km", 5.0)
	v.SetDefault("query.adjacent_ring_km", 2.0)
	v.SetDefault("query.max_hits", 50)
	v.SetDefault("query.h3_resolution", 8)
	v.SetDefault("query.enable_llm_parse", false)
	v.SetDefault("query.enable_suggestion", false)
	v.SetDefault("cache.max_entries", 100)
	v.SetDefault("cache.ttl_secs", 600)
	v.SetDefault("cache.persist_ttl_days", 30)
	v.SetDefault("resilience.max_attempts", 3)
	v.SetDefault("resilience.initial_backoff_ms", 500)
	v.SetDefault("resilience.max_backoff_ms", 30000)
	v.SetDefault("resilience.multiplier", 2.0)
	v.SetDefault("resilience.jitter_fraction", 0.25)
	v.SetDefault("resilience.failure_threshold", 5)
	v.SetDefault("resilience.reset_timeout_secs", 30)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks that the configuration is usable for the given mode.
// Modes: "serve", "query", "dataset".
func (c *Config) Validate(mode string) error {
	var problems []string

	check := func(cond bool, msg string) {
		if cond {
			problems = append(problems, msg)
		}
	}

	switch mode {
	case "serve":
		check(c.Server.Port <= 0, "server.port must be > 0")
		check(c.Store.DatabaseURL == "", "store.database_url is required")
	case "query":
		check(c.Store.DatabaseURL == "", "store.database_url is required")
	case "dataset":
		check(c.Store.DatabaseURL == "", "store.database_url is required")
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	check(c.Store.Driver != "sqlite" && c.Store.Driver != "postgres",
		"store.driver must be sqlite or postgres")
	check(c.Nominatim.RateRPS <= 0, "nominatim.rate_rps must be > 0")
	check(c.Query.H3Resolution < 0 || c.Query.H3Resolution > 15,
		"query.h3_resolution must be between 0 and 15")
	check(c.Query.DefaultRadiusKM <= 0, "query.default_radius_km must be > 0")
	check(c.Cache.MaxEntries <= 0, "cache.max_entries must be > 0")
	if c.Query.EnableLLMParse || c.Query.EnableSuggestion {
		check(c.Anthropic.Key == "", "anthropic.key is required when LLM features are enabled")
	}

	if len(problems) > 0 {
		return eris.Errorf("config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
