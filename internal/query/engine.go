// Package query turns natural-language geospatial questions into structured
// intents and executes them against the place and zone stores.
package query

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/drm-labs/geoquery/internal/geo"
	"github.com/drm-labs/geoquery/internal/hexgrid"
	"github.com/drm-labs/geoquery/internal/model"
	"github.com/drm-labs/geoquery/internal/store"
	"github.com/drm-labs/geoquery/internal/zone"
	"github.com/drm-labs/geoquery/pkg/geocode"
)

const (
	// DefaultRadiusKM is the search radius when the query states no distance.
	DefaultRadiusKM = 5.0
	// DefaultAdjacentBandKM is the width of the ring searched for adjacency.
	DefaultAdjacentBandKM = 2.0
	// DefaultMaxHits caps the number of places returned per query.
	DefaultMaxHits = 50
)

var (
	// ErrNoEntity means no location entity could be extracted from the query.
	ErrNoEntity = eris.New("query: no location entity found in query")
	// ErrUnresolved means the extracted entity did not geocode to a match.
	ErrUnresolved = eris.New("query: location could not be geocoded")
)

// Suggester produces follow-up suggestions for an executed query.
type Suggester interface {
	Suggest(ctx context.Context, intent model.Intent, hitCount int) (*model.Suggestion, error)
}

// Engine executes parsed intents against a store.
type Engine struct {
	store     store.Store
	geocoder  geocode.Client
	llm       *LLMParser
	suggester Suggester

	radiusKM   float64
	bandKM     float64
	maxHits    int
	resolution int
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithLLMParser enables LLM refinement for queries the heuristic parser
// cannot resolve.
func WithLLMParser(p *LLMParser) EngineOption {
	return func(e *Engine) { e.llm = p }
}

// WithSuggester attaches a suggestion engine consulted after each query.
func WithSuggester(s Suggester) EngineOption {
	return func(e *Engine) { e.suggester = s }
}

// WithDefaultRadiusKM overrides the radius used when no distance is stated.
func WithDefaultRadiusKM(km float64) EngineOption {
	return func(e *Engine) {
		if km > 0 {
			e.radiusKM = km
		}
	}
}

// WithAdjacentBandKM overrides the ring width for adjacency searches.
func WithAdjacentBandKM(km float64) EngineOption {
	return func(e *Engine) {
		if km > 0 {
			e.bandKM = km
		}
	}
}

// WithMaxHits caps the number of places returned per query.
func WithMaxHits(n int) EngineOption {
	return func(e *Engine) {
		if n > 0 {
			e.maxHits = n
		}
	}
}

// WithResolution sets the H3 resolution used for the query cell token.
func WithResolution(res int) EngineOption {
	return func(e *Engine) {
		if res >= 0 && res <= hexgrid.MaxResolution {
			e.resolution = res
		}
	}
}

// NewEngine creates a query engine over the given store and geocoder.
func NewEngine(st store.Store, gc geocode.Client, opts ...EngineOption) *Engine {
	e := &Engine{
		store:      st,
		geocoder:   gc,
		radiusKM:   DefaultRadiusKM,
		bandKM:     DefaultAdjacentBandKM,
		maxHits:    DefaultMaxHits,
		resolution: hexgrid.DefaultResolution,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute parses and runs a natural-language query end to end: intent
// extraction, geocoding, directional adjustment, proximity search, and risk
// tagging. The query is recorded in history on a best-effort basis.
func (e *Engine) Execute(ctx context.Context, raw string) (*model.QueryResult, error) {
	start := time.Now()

	intent := Parse(raw)
	if intent.Entity == "" && e.llm != nil {
		refined, err := e.llm.Parse(ctx, raw, intent)
		if err != nil {
			zap.L().Warn("llm parse failed, using heuristic intent",
				zap.String("query", raw),
				zap.Error(err))
		} else {
			intent = refined
		}
	}
	if intent.Entity == "" {
		return nil, ErrNoEntity
	}

	gc, err := e.geocoder.Geocode(ctx, intent.Entity)
	if err != nil {
		return nil, eris.Wrap(err, "query: geocode entity")
	}
	if !gc.Matched {
		return nil, eris.Wrapf(ErrUnresolved, "entity %q", intent.Entity)
	}

	result := &model.QueryResult{
		Intent: intent,
		Center: &model.Location{
			Name:      gc.DisplayName,
			Latitude:  gc.Latitude,
			Longitude: gc.Longitude,
		},
	}

	searchPoint := gc.Point()
	if intent.Direction != "" {
		offsetKM := intent.DistanceKM
		if offsetKM <= 0 {
			offsetKM = e.radiusKM
		}
		searchPoint = geo.Destination(searchPoint, geo.BearingForDirection(intent.Direction), offsetKM)
		result.Adjusted = &model.Location{
			Latitude:  searchPoint.Lat,
			Longitude: searchPoint.Lon,
		}
	}

	token, err := hexgrid.CellToken(searchPoint, e.resolution)
	if err != nil {
		return nil, eris.Wrap(err, "query: cell token")
	}
	result.H3Cell = token

	hits, err := e.search(ctx, intent, searchPoint)
	if err != nil {
		return nil, err
	}
	result.Hits = hits

	if err := e.tagRisks(ctx, searchPoint, result); err != nil {
		zap.L().Warn("risk tagging failed", zap.Error(err))
	}

	if e.suggester != nil {
		sg, sgErr := e.suggester.Suggest(ctx, intent, len(hits))
		if sgErr != nil {
			zap.L().Warn("suggestion failed", zap.Error(sgErr))
		} else {
			result.Suggestion = sg
		}
	}

	result.ElapsedMS = time.Since(start).Milliseconds()
	e.record(ctx, raw, result)
	return result, nil
}

// search dispatches to the store call matching the intent's relation. A
// directional query consumes its distance as the offset, so the search around
// the adjusted point falls back to the default radius.
func (e *Engine) search(ctx context.Context, intent model.Intent, p geo.Point) ([]model.PlaceHit, error) {
	filter := store.PlaceFilter{Category: intent.Category, Limit: e.maxHits}

	radius := intent.DistanceKM
	if radius <= 0 || intent.Direction != "" {
		radius = e.radiusKM
	}

	if intent.Relation == model.RelationAdjacent {
		hits, err := e.store.PlacesInRing(ctx, p, radius, radius+e.bandKM, filter)
		if err != nil {
			return nil, eris.Wrap(err, "query: ring search")
		}
		return hits, nil
	}

	hits, err := e.store.PlacesNearby(ctx, p, radius, filter)
	if err != nil {
		return nil, eris.Wrap(err, "query: nearby search")
	}
	return hits, nil
}

// tagRisks annotates the result and each hit with the hazard zones that
// contain them. Each point goes through the store's spatial predicate, so
// Postgres uses ST_Contains and SQLite its H3 prefilter.
func (e *Engine) tagRisks(ctx context.Context, center geo.Point, result *model.QueryResult) error {
	tags, err := e.zoneTags(ctx, center)
	if err != nil {
		return err
	}
	result.RiskTags = tags

	for i := range result.Hits {
		p := geo.Point{Lat: result.Hits[i].Place.Latitude, Lon: result.Hits[i].Place.Longitude}
		tags, err := e.zoneTags(ctx, p)
		if err != nil {
			return err
		}
		result.Hits[i].RiskTags = tags
	}
	return nil
}

// zoneTags collapses the zones containing p to at most one tag per hazard.
func (e *Engine) zoneTags(ctx context.Context, p geo.Point) ([]model.RiskTag, error) {
	zones, err := e.store.ZonesAt(ctx, p)
	if err != nil {
		return nil, eris.Wrap(err, "query: zones at point")
	}
	if len(zones) == 0 {
		return nil, nil
	}
	return zone.Tags(zones, p), nil
}

// record persists the query to history. Failures are logged, not returned.
func (e *Engine) record(ctx context.Context, raw string, result *model.QueryResult) {
	rec := &model.QueryRecord{
		Raw:       raw,
		Intent:    result.Intent,
		HitCount:  len(result.Hits),
		ElapsedMS: result.ElapsedMS,
	}
	if err := e.store.RecordQuery(ctx, rec); err != nil {
		zap.L().Warn("failed to record query", zap.String("query", raw), zap.Error(err))
	}
}
