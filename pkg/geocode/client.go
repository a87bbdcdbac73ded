// Package geocode provides place-name geocoding via OSM Nominatim (primary)
// and Photon (fallback), with rate limiting and two-level result caching.
package geocode

import (
	"context"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/drm-labs/geoquery/internal/geo"
	"github.com/drm-labs/geoquery/internal/resilience"
)

// Client geocodes free-text locations and reverse-geocodes coordinates.
type Client interface {
	// Geocode resolves a free-text location to coordinates.
	Geocode(ctx context.Context, location string) (*Result, error)

	// Reverse resolves coordinates to a display name and address parts.
	Reverse(ctx context.Context, p geo.Point) (*ReverseResult, error)

	// BatchGeocode resolves multiple locations concurrently, preserving order.
	BatchGeocode(ctx context.Context, locations []string) ([]Result, error)
}

// Result holds the geocoding output for a location.
type Result struct {
	DisplayName string  `json:"display_name,omitempty"`
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
	Source      string  `json:"source"` // "nominatim" or "photon"
	Class       string  `json:"class,omitempty"`
	Type        string  `json:"type,omitempty"`
	Matched     bool    `json:"matched"`
}

// Point returns the result coordinates as a geo.Point.
func (r *Result) Point() geo.Point {
	return geo.Point{Lat: r.Latitude, Lon: r.Longitude}
}

// ReverseResult holds the output of a reverse geocode.
type ReverseResult struct {
	DisplayName string `json:"display_name"`
	Road        string `json:"road,omitempty"`
	City        string `json:"city,omitempty"`
	State       string `json:"state,omitempty"`
	Postcode    string `json:"postcode,omitempty"`
	Country     string `json:"country,omitempty"`
	CountryCode string `json:"country_code,omitempty"`
	Matched     bool   `json:"matched"`
}

// PersistentCache is implemented by the store's geocode_cache table. Both
// matches and non-matches are persisted.
type PersistentCache interface {
	GetGeocode(ctx context.Context, key string) (*Result, bool, error)
	PutGeocode(ctx context.Context, key string, r *Result) error
}

// Option configures the geocoder.
type Option func(*geocoder)

// WithHTTPClient sets a custom HTTP client for all provider requests.
func WithHTTPClient(hc *http.Client) Option {
	return func(g *geocoder) {
		g.httpClient = hc
	}
}

// WithNominatimBase overrides the Nominatim base URL.
func WithNominatimBase(baseURL string) Option {
	return func(g *geocoder) {
		g.nominatimBase = baseURL
	}
}

// WithPhotonBase enables Photon fallback at the given base URL.
func WithPhotonBase(baseURL string) Option {
	return func(g *geocoder) {
		g.photonBase = baseURL
	}
}

// WithUserAgent sets the User-Agent header. Nominatim's usage policy
// requires an identifying agent.
func WithUserAgent(ua string) Option {
	return func(g *geocoder) {
		g.userAgent = ua
	}
}

// WithRateLimit sets the requests-per-second limit for provider calls.
func WithRateLimit(rps float64) Option {
	return func(g *geocoder) {
		g.limiter = rate.NewLimiter(rate.Limit(rps), 1)
	}
}

// WithMemoryCache sets the in-memory result cache capacity and TTL.
func WithMemoryCache(maxEntries int, ttl time.Duration) Option {
	return func(g *geocoder) {
		g.memCache = newMemoryCache(maxEntries, ttl)
	}
}

// WithPersistentCache attaches a store-backed cache consulted after the
// memory cache and written through on provider results.
func WithPersistentCache(pc PersistentCache) Option {
	return func(g *geocoder) {
		g.persistent = pc
	}
}

// WithRetry overrides the retry configuration for provider calls.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(g *geocoder) {
		g.retry = cfg
	}
}

type geocoder struct {
	httpClient    *http.Client
	nominatimBase string
	photonBase    string
	userAgent     string
	limiter       *rate.Limiter
	memCache      *memoryCache
	persistent    PersistentCache
	retry         resilience.RetryConfig
	breaker       *resilience.CircuitBreaker
}

// NewClient creates a geocoding Client with the given options.
func NewClient(opts ...Option) Client {
	g := &geocoder{
		httpClient:    &http.Client{Timeout: 30 * time.Second},
		nominatimBase: defaultNominatimBase,
		userAgent:     "geoquery/1.0",
		limiter:       rate.NewLimiter(1, 1), // Nominatim usage policy: 1 req/s
		memCache:      newMemoryCache(100, 10*time.Minute),
		retry:         resilience.DefaultRetryConfig(),
	}
	for _, opt := range opts {
		opt(g)
	}
	g.breaker = resilience.NewCircuitBreaker(resilience.DefaultCircuitBreakerConfig())
	return g
}
