// Package ingest downloads place and hazard-zone datasets over HTTP or FTP
// and loads them into the store. CSV and XLSX sources become places; GeoJSON
// and zipped shapefile sources become risk zones.
package ingest

import (
	"context"
	"net/url"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/drm-labs/geoquery/internal/model"
	"github.com/drm-labs/geoquery/internal/store"
	"github.com/drm-labs/geoquery/internal/zone"
)

// Format identifies how a source file is parsed.
type Format string

const (
	FormatCSV       Format = "csv"
	FormatXLSX      Format = "xlsx"
	FormatGeoJSON   Format = "geojson"
	FormatShapefile Format = "shapefile"
)

// Source describes one remote dataset.
type Source struct {
	// Name labels loaded records and appears as their Source field.
	Name string `json:"name" yaml:"name"`
	// URL is the http(s) or ftp location of the dataset file.
	URL    string `json:"url" yaml:"url"`
	Format Format `json:"format" yaml:"format"`

	// Columns maps header names for CSV and XLSX sources.
	Columns ColumnMap `json:"columns,omitempty" yaml:"columns"`
	// Sheet selects an XLSX sheet by name; empty means the first sheet.
	Sheet string `json:"sheet,omitempty" yaml:"sheet"`
	// Delimiter overrides the CSV field separator; zero means comma.
	Delimiter rune `json:"-" yaml:"-"`
}

// Result summarizes one ingestion run.
type Result struct {
	Places  int `json:"places"`
	Zones   int `json:"zones"`
	Skipped int `json:"skipped"`
}

const defaultBatchSize = 500

// Ingestor fetches sources and writes them to the store.
type Ingestor struct {
	http      Fetcher
	ftp       Fetcher
	st        store.Store
	batchSize int
	tmpDir    string
}

// Option configures the Ingestor.
type Option func(*Ingestor)

// WithBatchSize sets how many places go into each upsert.
func WithBatchSize(n int) Option {
	return func(ing *Ingestor) {
		if n > 0 {
			ing.batchSize = n
		}
	}
}

// WithTempDir sets where downloaded archives are staged.
func WithTempDir(dir string) Option {
	return func(ing *Ingestor) { ing.tmpDir = dir }
}

// WithHTTPFetcher replaces the default HTTP fetcher.
func WithHTTPFetcher(f Fetcher) Option {
	return func(ing *Ingestor) { ing.http = f }
}

// WithFTPFetcher replaces the default FTP fetcher.
func WithFTPFetcher(f Fetcher) Option {
	return func(ing *Ingestor) { ing.ftp = f }
}

// New creates an Ingestor writing to the given store.
func New(st store.Store, opts ...Option) *Ingestor {
	ing := &Ingestor{
		http:      NewHTTPFetcher(HTTPOptions{}),
		ftp:       NewFTPFetcher(FTPOptions{}),
		st:        st,
		batchSize: defaultBatchSize,
		tmpDir:    os.TempDir(),
	}
	for _, opt := range opts {
		opt(ing)
	}
	return ing
}

// fetcherFor picks the transport matching the source URL's scheme.
func (ing *Ingestor) fetcherFor(rawURL string) (Fetcher, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, eris.Wrap(err, "ingest: parse source url")
	}
	switch u.Scheme {
	case "http", "https":
		return ing.http, nil
	case "ftp":
		return ing.ftp, nil
	default:
		return nil, eris.Errorf("ingest: unsupported scheme %q", u.Scheme)
	}
}

// Run fetches and loads one source, returning counts of what landed.
func (ing *Ingestor) Run(ctx context.Context, src Source) (*Result, error) {
	if src.Name == "" {
		return nil, eris.New("ingest: source name is required")
	}
	fetch, err := ing.fetcherFor(src.URL)
	if err != nil {
		return nil, err
	}

	var result *Result
	switch src.Format {
	case FormatCSV:
		result, err = ing.runCSV(ctx, fetch, src)
	case FormatXLSX:
		result, err = ing.runXLSX(ctx, fetch, src)
	case FormatGeoJSON:
		result, err = ing.runGeoJSON(ctx, fetch, src)
	case FormatShapefile:
		result, err = ing.runShapefile(ctx, fetch, src)
	default:
		return nil, eris.Errorf("ingest: unknown format %q", src.Format)
	}
	if err != nil {
		return nil, err
	}

	zap.L().Info("ingest: source loaded",
		zap.String("source", src.Name),
		zap.String("format", string(src.Format)),
		zap.Int("places", result.Places),
		zap.Int("zones", result.Zones),
		zap.Int("skipped", result.Skipped),
	)
	return result, nil
}

func (ing *Ingestor) runCSV(ctx context.Context, fetch Fetcher, src Source) (*Result, error) {
	body, err := fetch.Download(ctx, src.URL)
	if err != nil {
		return nil, err
	}
	defer body.Close() //nolint:errcheck

	places, skipped, err := PlacesFromCSV(ctx, body, src)
	if err != nil {
		return nil, err
	}
	n, err := ing.upsertPlaces(ctx, places)
	if err != nil {
		return nil, err
	}
	return &Result{Places: n, Skipped: skipped}, nil
}

func (ing *Ingestor) runXLSX(ctx context.Context, fetch Fetcher, src Source) (*Result, error) {
	path := filepath.Join(ing.tmpDir, src.Name+".xlsx")
	if _, err := fetch.DownloadToFile(ctx, src.URL, path); err != nil {
		return nil, err
	}
	defer os.Remove(path) //nolint:errcheck

	places, skipped, err := PlacesFromXLSX(path, src)
	if err != nil {
		return nil, err
	}
	n, err := ing.upsertPlaces(ctx, places)
	if err != nil {
		return nil, err
	}
	return &Result{Places: n, Skipped: skipped}, nil
}

func (ing *Ingestor) runGeoJSON(ctx context.Context, fetch Fetcher, src Source) (*Result, error) {
	body, err := fetch.Download(ctx, src.URL)
	if err != nil {
		return nil, err
	}
	defer body.Close() //nolint:errcheck

	zones, err := zone.LoadGeoJSON(body, src.Name)
	if err != nil {
		return nil, err
	}
	n, err := ing.st.UpsertZones(ctx, zones)
	if err != nil {
		return nil, eris.Wrap(err, "ingest: upsert zones")
	}
	return &Result{Zones: n}, nil
}

func (ing *Ingestor) runShapefile(ctx context.Context, fetch Fetcher, src Source) (*Result, error) {
	stage, err := os.MkdirTemp(ing.tmpDir, "ingest-"+src.Name+"-*")
	if err != nil {
		return nil, eris.Wrap(err, "ingest: create staging dir")
	}
	defer os.RemoveAll(stage) //nolint:errcheck

	zipPath := filepath.Join(stage, "bundle.zip")
	if _, err := fetch.DownloadToFile(ctx, src.URL, zipPath); err != nil {
		return nil, err
	}

	files, err := ExtractArchive(zipPath, stage)
	if err != nil {
		return nil, err
	}
	shpPath, ok := FindByExt(files, ".shp")
	if !ok {
		return nil, eris.Errorf("ingest: no .shp file in archive from %s", src.URL)
	}

	zones, err := zone.LoadShapefile(shpPath, src.Name)
	if err != nil {
		return nil, err
	}
	n, err := ing.st.UpsertZones(ctx, zones)
	if err != nil {
		return nil, eris.Wrap(err, "ingest: upsert zones")
	}
	return &Result{Zones: n}, nil
}

// upsertPlaces writes places in batches so one giant dataset does not turn
// into one giant transaction.
func (ing *Ingestor) upsertPlaces(ctx context.Context, places []model.Place) (int, error) {
	total := 0
	for start := 0; start < len(places); start += ing.batchSize {
		end := start + ing.batchSize
		if end > len(places) {
			end = len(places)
		}
		n, err := ing.st.UpsertPlaces(ctx, places[start:end])
		if err != nil {
			return total, eris.Wrap(err, "ingest: upsert places")
		}
		total += n
	}
	return total, nil
}
