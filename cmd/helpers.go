package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/drm-labs/geoquery/internal/geo"
	"github.com/drm-labs/geoquery/internal/ingest"
	"github.com/drm-labs/geoquery/internal/query"
	"github.com/drm-labs/geoquery/internal/resilience"
	"github.com/drm-labs/geoquery/internal/store"
	"github.com/drm-labs/geoquery/internal/suggest"
	"github.com/drm-labs/geoquery/pkg/anthropic"
	"github.com/drm-labs/geoquery/pkg/geocode"
	"github.com/drm-labs/geoquery/pkg/osrm"
)

// openStore builds the configured store backend. Callers own Close.
func openStore(ctx context.Context) (store.Store, error) {
	opts := []store.Option{
		store.WithGeocodeTTLDays(cfg.Cache.PersistTTLDays),
		store.WithCoverResolution(cfg.Query.H3Resolution),
	}

	switch cfg.Store.Driver {
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		}, opts...)
	case "sqlite":
		return store.NewSQLite(cfg.Store.DatabaseURL, opts...)
	default:
		return nil, eris.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

// retryConfig builds the retry policy shared by outbound HTTP clients.
func retryConfig() resilience.RetryConfig {
	r := cfg.Resilience
	return resilience.FromRetryConfig(r.MaxAttempts, r.InitialBackoffMs, r.MaxBackoffMs, r.Multiplier, r.JitterFraction)
}

func breakerConfig() resilience.CircuitBreakerConfig {
	r := cfg.Resilience
	return resilience.FromCircuitConfig(r.FailureThreshold, r.ResetTimeoutSecs)
}

// newGeocoder wires the Nominatim/Photon chain with both cache tiers.
func newGeocoder(st store.Store) geocode.Client {
	return geocode.NewClient(
		geocode.WithNominatimBase(cfg.Nominatim.BaseURL),
		geocode.WithPhotonBase(cfg.Photon.BaseURL),
		geocode.WithUserAgent(cfg.Nominatim.UserAgent),
		geocode.WithRateLimit(cfg.Nominatim.RateRPS),
		geocode.WithMemoryCache(cfg.Cache.MaxEntries, time.Duration(cfg.Cache.TTLSecs)*time.Second),
		geocode.WithPersistentCache(st),
		geocode.WithRetry(retryConfig()),
	)
}

// newIngestor wires the dataset pipeline with a fetcher honoring the
// configured retry and breaker policy.
func newIngestor(st store.Store) *ingest.Ingestor {
	fetcher := ingest.NewHTTPFetcher(ingest.HTTPOptions{
		UserAgent: cfg.Nominatim.UserAgent,
		Retry:     retryConfig(),
		Breaker:   breakerConfig(),
	})
	return ingest.New(st, ingest.WithHTTPFetcher(fetcher))
}

func newEngine(st store.Store, gc geocode.Client) *query.Engine {
	opts := []query.EngineOption{
		query.WithDefaultRadiusKM(cfg.Query.DefaultRadiusKM),
		query.WithAdjacentBandKM(cfg.Query.AdjacentRingKM),
		query.WithMaxHits(cfg.Query.MaxHits),
		query.WithResolution(cfg.Query.H3Resolution),
	}

	if cfg.Query.EnableLLMParse || cfg.Query.EnableSuggestion {
		client := anthropic.NewClient(cfg.Anthropic.Key)
		if cfg.Query.EnableLLMParse {
			opts = append(opts, query.WithLLMParser(query.NewLLMParser(client, cfg.Anthropic.Model)))
		}
		if cfg.Query.EnableSuggestion {
			opts = append(opts, query.WithSuggester(suggest.NewEngine(client, suggest.WithModel(cfg.Anthropic.Model))))
		}
	}

	return query.NewEngine(st, gc, opts...)
}

func newRouter() *osrm.Client {
	return osrm.NewClient(
		osrm.WithBaseURL(cfg.OSRM.BaseURL),
		osrm.WithProfile(cfg.OSRM.Profile),
		osrm.WithRetry(retryConfig()),
	)
}

// parseLatLon parses "lat,lon" as used by --reverse and `zones at`.
func parseLatLon(s string) (geo.Point, error) {
	parts := strings.SplitN(strings.TrimSpace(s), ",", 2)
	if len(parts) != 2 {
		return geo.Point{}, eris.Errorf("expected lat,lon, got %q", s)
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return geo.Point{}, eris.Wrapf(err, "parse latitude %q", parts[0])
	}
	lon, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return geo.Point{}, eris.Wrapf(err, "parse longitude %q", parts[1])
	}
	p := geo.Point{Lat: lat, Lon: lon}
	if err := p.Validate(); err != nil {
		return geo.Point{}, err
	}
	return p, nil
}

func printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return eris.Wrap(err, "marshal output")
	}
	fmt.Println(string(out))
	return nil
}
