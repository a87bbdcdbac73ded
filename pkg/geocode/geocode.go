package geocode

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/drm-labs/geoquery/internal/geo"
	"github.com/drm-labs/geoquery/internal/resilience"
)

// Geocode implements Client. Lookup order is memory cache, persistent cache,
// Nominatim, then Photon when configured. Provider results, including
// non-matches, are written through both cache levels.
func (g *geocoder) Geocode(ctx context.Context, location string) (*Result, error) {
	location = strings.TrimSpace(location)
	if location == "" {
		return nil, eris.New("geocode: empty location")
	}

	key := cacheKey(location)
	if r, ok := g.memCache.Get(key); ok {
		return r, nil
	}

	if g.persistent != nil {
		r, ok, err := g.persistent.GetGeocode(ctx, key)
		if err != nil {
			zap.L().Warn("geocode: persistent cache lookup failed", zap.Error(err))
		} else if ok {
			g.memCache.Put(key, r)
			return r, nil
		}
	}

	result, err := g.lookup(ctx, location)
	if err != nil {
		return nil, err
	}

	g.memCache.Put(key, result)
	if g.persistent != nil {
		if err := g.persistent.PutGeocode(ctx, key, result); err != nil {
			zap.L().Warn("geocode: persistent cache store failed", zap.Error(err))
		}
	}
	return result, nil
}

// lookup runs the provider chain behind the circuit breaker with retries.
func (g *geocoder) lookup(ctx context.Context, location string) (*Result, error) {
	result, err := resilience.ExecuteVal(ctx, g.breaker, func(ctx context.Context) (*Result, error) {
		return resilience.DoVal(ctx, g.retry, func(ctx context.Context) (*Result, error) {
			return g.searchNominatim(ctx, location)
		})
	})
	if err == nil && result.Matched {
		return result, nil
	}
	if err != nil {
		zap.L().Debug("geocode: nominatim lookup failed",
			zap.String("location", location),
			zap.Error(err),
		)
	}

	if g.photonBase == "" {
		if err != nil {
			return nil, err
		}
		return result, nil
	}

	fallback, ferr := resilience.ExecuteVal(ctx, g.breaker, func(ctx context.Context) (*Result, error) {
		return resilience.DoVal(ctx, g.retry, func(ctx context.Context) (*Result, error) {
			return g.searchPhoton(ctx, location)
		})
	})
	if ferr != nil {
		if err != nil {
			return nil, eris.Wrap(err, "geocode: all providers failed")
		}
		zap.L().Debug("geocode: photon fallback failed",
			zap.String("location", location),
			zap.Error(ferr),
		)
		return result, nil
	}
	return fallback, nil
}

// Reverse implements Client. Reverse lookups are not cached since coordinate
// inputs rarely repeat exactly.
func (g *geocoder) Reverse(ctx context.Context, p geo.Point) (*ReverseResult, error) {
	if err := p.Validate(); err != nil {
		return nil, eris.Wrap(err, "geocode: reverse")
	}
	return resilience.ExecuteVal(ctx, g.breaker, func(ctx context.Context) (*ReverseResult, error) {
		return resilience.DoVal(ctx, g.retry, func(ctx context.Context) (*ReverseResult, error) {
			return g.reverseNominatim(ctx, p)
		})
	})
}
