package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/drm-labs/geoquery/internal/db"
	"github.com/drm-labs/geoquery/internal/geo"
	"github.com/drm-labs/geoquery/internal/model"
	"github.com/drm-labs/geoquery/internal/zone"
	"github.com/drm-labs/geoquery/pkg/geocode"
)

// PostgresStore implements Store using pgxpool and PostGIS.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
	opts    options
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig, opts ...Option) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	// Apply pool sizing from config with sensible defaults.
	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}

	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close, opts: o}, nil
}

// NewPostgresFromPool wraps an existing pool. Used by tests and by callers
// that manage pool lifecycle themselves.
func NewPostgresFromPool(pool db.Pool, opts ...Option) *PostgresStore {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &PostgresStore{pool: pool, opts: o}
}

// Pool returns the underlying database pool for subsystems that need direct
// query access (e.g., bulk dataset loads).
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE EXTENSION IF NOT EXISTS postgis;

CREATE TABLE IF NOT EXISTS places (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	category   TEXT,
	latitude   DOUBLE PRECISION NOT NULL,
	longitude  DOUBLE PRECISION NOT NULL,
	h3_cell    TEXT,
	source     TEXT,
	source_id  TEXT,
	properties JSONB,
	geom       GEOMETRY(Point, 4326) NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS zones (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	hazard     TEXT NOT NULL,
	severity   TEXT NOT NULL,
	rings      JSONB NOT NULL,
	h3_cover   JSONB,
	source     TEXT,
	properties JSONB,
	geom       GEOMETRY(MultiPolygon, 4326) NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS geocode_cache (
	key          TEXT PRIMARY KEY,
	display_name TEXT,
	latitude     DOUBLE PRECISION NOT NULL DEFAULT 0,
	longitude    DOUBLE PRECISION NOT NULL DEFAULT 0,
	source       TEXT,
	class        TEXT,
	type         TEXT,
	matched      BOOLEAN NOT NULL DEFAULT false,
	cached_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS query_history (
	id         TEXT PRIMARY KEY,
	raw        TEXT NOT NULL,
	intent     JSONB NOT NULL,
	hit_count  INTEGER NOT NULL DEFAULT 0,
	elapsed_ms BIGINT NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_places_geom ON places USING GIST (geom);
CREATE INDEX IF NOT EXISTS idx_places_h3_cell ON places (h3_cell);
CREATE INDEX IF NOT EXISTS idx_places_category ON places (category);
CREATE UNIQUE INDEX IF NOT EXISTS idx_places_source ON places (source, source_id) WHERE source_id IS NOT NULL AND source_id != '';
CREATE INDEX IF NOT EXISTS idx_zones_geom ON zones USING GIST (geom);
CREATE INDEX IF NOT EXISTS idx_zones_hazard ON zones (hazard);
CREATE INDEX IF NOT EXISTS idx_geocode_cache_cached_at ON geocode_cache (cached_at);
CREATE INDEX IF NOT EXISTS idx_query_history_created_at ON query_history (created_at);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// UpsertPlaces stages rows through a temp table and bulk-upserts them, with
// the PostGIS point derived from the staged coordinates.
func (s *PostgresStore) UpsertPlaces(ctx context.Context, places []model.Place) (int, error) {
	if len(places) == 0 {
		return 0, nil
	}

	now := time.Now().UTC()
	rows := make([][]any, 0, len(places))
	for i := range places {
		p := &places[i]
		if err := preparePlace(p, now); err != nil {
			return 0, err
		}
		rows = append(rows, []any{
			p.ID, p.Name, p.Category, p.Latitude, p.Longitude, p.H3Cell,
			p.Source, p.SourceID, nullableJSON(p.Properties), p.CreatedAt, p.UpdatedAt,
		})
	}

	n, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table: "places",
		Columns: []string{
			"id", "name", "category", "latitude", "longitude", "h3_cell",
			"source", "source_id", "properties", "created_at", "updated_at",
		},
		ConflictKeys: []string{"id"},
		// created_at survives re-imports.
		UpdateCols: []string{
			"name", "category", "latitude", "longitude", "h3_cell",
			"source", "source_id", "properties", "updated_at", "geom",
		},
		Derived: map[string]string{
			"geom": "ST_SetSRID(ST_MakePoint(longitude, latitude), 4326)",
		},
	}, rows)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: upsert places")
	}
	return int(n), nil
}

func (s *PostgresStore) GetPlace(ctx context.Context, id string) (*model.Place, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, name, category, latitude, longitude, h3_cell, source, source_id, properties, created_at, updated_at
		FROM places WHERE id = $1`, id)
	p, err := scanPGPlace(row)
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get place %s", id)
	}
	return p, nil
}

// PlacesNearby finds places within radiusKM of center using geography
// distance, nearest first.
func (s *PostgresStore) PlacesNearby(ctx context.Context, center geo.Point, radiusKM float64, filter PlaceFilter) ([]model.PlaceHit, error) {
	return s.placesInDistanceBand(ctx, center, 0, radiusKM, filter)
}

// PlacesInRing finds places between innerKM and outerKM from center.
func (s *PostgresStore) PlacesInRing(ctx context.Context, center geo.Point, innerKM, outerKM float64, filter PlaceFilter) ([]model.PlaceHit, error) {
	return s.placesInDistanceBand(ctx, center, innerKM, outerKM, filter)
}

func (s *PostgresStore) placesInDistanceBand(ctx context.Context, center geo.Point, innerKM, outerKM float64, filter PlaceFilter) ([]model.PlaceHit, error) {
	if err := center.Validate(); err != nil {
		return nil, eris.Wrap(err, "postgres: places nearby")
	}
	if outerKM <= 0 {
		return nil, eris.New("postgres: radius must be positive")
	}

	query := `
		SELECT id, name, category, latitude, longitude, h3_cell, source, source_id, properties, created_at, updated_at,
		       ST_Distance(geom::geography, ST_SetSRID(ST_MakePoint($1, $2), 4326)::geography) / 1000.0 AS distance_km
		FROM places
		WHERE ST_DWithin(geom::geography, ST_SetSRID(ST_MakePoint($1, $2), 4326)::geography, $3)`
	args := []any{center.Lon, center.Lat, outerKM * 1000}

	if innerKM > 0 {
		args = append(args, innerKM*1000)
		query += fmt.Sprintf(` AND NOT ST_DWithin(geom::geography, ST_SetSRID(ST_MakePoint($1, $2), 4326)::geography, $%d)`, len(args))
	}
	if filter.Category != "" {
		args = append(args, filter.Category)
		query += fmt.Sprintf(` AND category = $%d`, len(args))
	}

	query += ` ORDER BY geom <-> ST_SetSRID(ST_MakePoint($1, $2), 4326)`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: query places nearby")
	}
	defer rows.Close()

	var hits []model.PlaceHit
	for rows.Next() {
		var hit model.PlaceHit
		p := &hit.Place
		var category, h3Cell, source, sourceID *string
		var properties []byte
		if err := rows.Scan(&p.ID, &p.Name, &category, &p.Latitude, &p.Longitude,
			&h3Cell, &source, &sourceID, &properties, &p.CreatedAt, &p.UpdatedAt,
			&hit.DistanceKM); err != nil {
			return nil, eris.Wrap(err, "postgres: scan place hit")
		}
		assignPlaceStrings(p, category, h3Cell, source, sourceID, properties)
		hits = append(hits, hit)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: iterate places nearby")
	}
	return hits, nil
}

func (s *PostgresStore) UpsertZones(ctx context.Context, zones []model.Zone) (int, error) {
	if len(zones) == 0 {
		return 0, nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: begin upsert zones")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	now := time.Now().UTC()
	count := 0
	for i := range zones {
		z := &zones[i]
		if err := prepareZone(z, now, s.opts.coverRes); err != nil {
			return count, err
		}

		ringsJSON, err := json.Marshal(z.Rings)
		if err != nil {
			return count, eris.Wrapf(err, "postgres: marshal rings for %s", z.Name)
		}
		coverJSON, err := json.Marshal(z.H3Cover)
		if err != nil {
			return count, eris.Wrapf(err, "postgres: marshal cover for %s", z.Name)
		}
		ewkbGeom, err := zone.EncodeEWKB(z)
		if err != nil {
			return count, err
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO zones (id, name, hazard, severity, rings, h3_cover, source, properties, geom, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, ST_GeomFromEWKB($9), $10, $11)
			ON CONFLICT (id) DO UPDATE SET
				name = EXCLUDED.name,
				hazard = EXCLUDED.hazard,
				severity = EXCLUDED.severity,
				rings = EXCLUDED.rings,
				h3_cover = EXCLUDED.h3_cover,
				source = EXCLUDED.source,
				properties = EXCLUDED.properties,
				geom = EXCLUDED.geom,
				updated_at = EXCLUDED.updated_at`,
			z.ID, z.Name, string(z.Hazard), string(z.Severity), string(ringsJSON), string(coverJSON),
			z.Source, nullableJSON(z.Properties), ewkbGeom, z.CreatedAt, z.UpdatedAt,
		)
		if err != nil {
			return count, eris.Wrapf(err, "postgres: upsert zone %s", z.Name)
		}
		count++
	}

	if err := tx.Commit(ctx); err != nil {
		return count, eris.Wrap(err, "postgres: commit upsert zones")
	}
	return count, nil
}

// ZonesAt finds zones containing the point using ST_Contains against the
// GIST-indexed geometry.
func (s *PostgresStore) ZonesAt(ctx context.Context, p geo.Point) ([]model.Zone, error) {
	if err := p.Validate(); err != nil {
		return nil, eris.Wrap(err, "postgres: zones at")
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, name, hazard, severity, rings, h3_cover, source, properties, created_at, updated_at
		FROM zones
		WHERE ST_Contains(geom, ST_SetSRID(ST_MakePoint($1, $2), 4326))`,
		p.Lon, p.Lat,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: query zones at")
	}
	defer rows.Close()

	return collectPGZones(rows)
}

func (s *PostgresStore) ListZones(ctx context.Context, hazard model.HazardKind, limit int) ([]model.Zone, error) {
	query := `
		SELECT id, name, hazard, severity, rings, h3_cover, source, properties, created_at, updated_at
		FROM zones`
	var args []any
	if hazard != "" {
		args = append(args, string(hazard))
		query += ` WHERE hazard = $1`
	}
	query += ` ORDER BY name`
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list zones")
	}
	defer rows.Close()

	return collectPGZones(rows)
}

func (s *PostgresStore) GetGeocode(ctx context.Context, key string) (*geocode.Result, bool, error) {
	query := fmt.Sprintf(`
		SELECT display_name, latitude, longitude, source, class, type, matched
		FROM geocode_cache
		WHERE key = $1 AND cached_at > now() - interval '%d days'`, s.opts.geocodeTTLDays)

	row := s.pool.QueryRow(ctx, query, key)

	var r geocode.Result
	var displayName, source, class, typ *string
	err := row.Scan(&displayName, &r.Latitude, &r.Longitude, &source, &class, &typ, &r.Matched)
	if err == pgx.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, eris.Wrap(err, "postgres: get geocode")
	}
	r.DisplayName = deref(displayName)
	r.Source = deref(source)
	r.Class = deref(class)
	r.Type = deref(typ)
	return &r, true, nil
}

func (s *PostgresStore) PutGeocode(ctx context.Context, key string, r *geocode.Result) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO geocode_cache (key, display_name, latitude, longitude, source, class, type, matched, cached_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now())
		ON CONFLICT (key) DO UPDATE SET
			display_name = EXCLUDED.display_name,
			latitude = EXCLUDED.latitude,
			longitude = EXCLUDED.longitude,
			source = EXCLUDED.source,
			class = EXCLUDED.class,
			type = EXCLUDED.type,
			matched = EXCLUDED.matched,
			cached_at = now()`,
		key, r.DisplayName, r.Latitude, r.Longitude, r.Source, r.Class, r.Type, r.Matched,
	)
	return eris.Wrap(err, "postgres: put geocode")
}

func (s *PostgresStore) DeleteExpiredGeocodes(ctx context.Context) (int, error) {
	query := fmt.Sprintf(`DELETE FROM geocode_cache WHERE cached_at <= now() - interval '%d days'`, s.opts.geocodeTTLDays)
	tag, err := s.pool.Exec(ctx, query)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: delete expired geocodes")
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) RecordQuery(ctx context.Context, rec *model.QueryRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	intentJSON, err := json.Marshal(rec.Intent)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal intent")
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO query_history (id, raw, intent, hit_count, elapsed_ms, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		rec.ID, rec.Raw, string(intentJSON), rec.HitCount, rec.ElapsedMS, rec.CreatedAt,
	)
	return eris.Wrap(err, "postgres: record query")
}

func (s *PostgresStore) RecentQueries(ctx context.Context, limit int) ([]model.QueryRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, raw, intent, hit_count, elapsed_ms, created_at
		FROM query_history ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: recent queries")
	}
	defer rows.Close()

	var recs []model.QueryRecord
	for rows.Next() {
		var rec model.QueryRecord
		var intentJSON []byte
		if err := rows.Scan(&rec.ID, &rec.Raw, &intentJSON, &rec.HitCount, &rec.ElapsedMS, &rec.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan query record")
		}
		if err := json.Unmarshal(intentJSON, &rec.Intent); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal intent")
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: iterate query records")
	}
	return recs, nil
}

func scanPGPlace(row pgx.Row) (*model.Place, error) {
	var p model.Place
	var category, h3Cell, source, sourceID *string
	var properties []byte

	err := row.Scan(&p.ID, &p.Name, &category, &p.Latitude, &p.Longitude,
		&h3Cell, &source, &sourceID, &properties, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	assignPlaceStrings(&p, category, h3Cell, source, sourceID, properties)
	return &p, nil
}

func assignPlaceStrings(p *model.Place, category, h3Cell, source, sourceID *string, properties []byte) {
	p.Category = deref(category)
	p.H3Cell = deref(h3Cell)
	p.Source = deref(source)
	p.SourceID = deref(sourceID)
	if len(properties) > 0 {
		p.Properties = json.RawMessage(properties)
	}
}

func collectPGZones(rows pgx.Rows) ([]model.Zone, error) {
	var zones []model.Zone
	for rows.Next() {
		var z model.Zone
		var hazard, severity string
		var ringsJSON, coverJSON, properties []byte
		var source *string

		err := rows.Scan(&z.ID, &z.Name, &hazard, &severity, &ringsJSON,
			&coverJSON, &source, &properties, &z.CreatedAt, &z.UpdatedAt)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan zone")
		}
		z.Hazard = model.HazardKind(hazard)
		z.Severity = model.Severity(severity)
		if err := json.Unmarshal(ringsJSON, &z.Rings); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal rings")
		}
		if len(coverJSON) > 0 {
			if err := json.Unmarshal(coverJSON, &z.H3Cover); err != nil {
				return nil, eris.Wrap(err, "postgres: unmarshal cover")
			}
		}
		z.Source = deref(source)
		if len(properties) > 0 {
			z.Properties = json.RawMessage(properties)
		}
		zones = append(zones, z)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: iterate zones")
	}
	return zones, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
