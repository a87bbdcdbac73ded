// Package store persists places, risk zones, geocode results and query
// history behind a driver-neutral interface. The Postgres implementation
// leans on PostGIS for spatial predicates; the SQLite implementation
// prefilters with bounding boxes and finishes exact math in Go.
package store

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/drm-labs/geoquery/internal/geo"
	"github.com/drm-labs/geoquery/internal/model"
	"github.com/drm-labs/geoquery/pkg/geocode"
)

// ErrNotFound is returned for lookups of entities that do not exist.
var ErrNotFound = eris.New("store: not found")

// PlaceFilter narrows proximity searches.
type PlaceFilter struct {
	Category string `json:"category,omitempty"`
	Limit    int    `json:"limit,omitempty"`
}

// Store defines the persistence interface for the query engine.
type Store interface {
	// Places
	UpsertPlaces(ctx context.Context, places []model.Place) (int, error)
	GetPlace(ctx context.Context, id string) (*model.Place, error)
	PlacesNearby(ctx context.Context, center geo.Point, radiusKM float64, filter PlaceFilter) ([]model.PlaceHit, error)
	PlacesInRing(ctx context.Context, center geo.Point, innerKM, outerKM float64, filter PlaceFilter) ([]model.PlaceHit, error)

	// Zones
	UpsertZones(ctx context.Context, zones []model.Zone) (int, error)
	ZonesAt(ctx context.Context, p geo.Point) ([]model.Zone, error)
	ListZones(ctx context.Context, hazard model.HazardKind, limit int) ([]model.Zone, error)

	// Geocode cache
	GetGeocode(ctx context.Context, key string) (*geocode.Result, bool, error)
	PutGeocode(ctx context.Context, key string, r *geocode.Result) error
	DeleteExpiredGeocodes(ctx context.Context) (int, error)

	// Query history
	RecordQuery(ctx context.Context, rec *model.QueryRecord) error
	RecentQueries(ctx context.Context, limit int) ([]model.QueryRecord, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// options holds tuning shared by both store implementations.
type options struct {
	geocodeTTLDays int
	coverRes       int
}

// Option configures a store.
type Option func(*options)

// WithGeocodeTTLDays sets how long persisted geocode results stay valid.
func WithGeocodeTTLDays(days int) Option {
	return func(o *options) {
		if days > 0 {
			o.geocodeTTLDays = days
		}
	}
}

// WithCoverResolution sets the H3 resolution used for zone covers.
func WithCoverResolution(res int) Option {
	return func(o *options) {
		if res >= 0 {
			o.coverRes = res
		}
	}
}

func defaultOptions() options {
	return options{
		geocodeTTLDays: 30,
		coverRes:       6,
	}
}
