package ingest

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"io"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"go.uber.org/zap"

	"github.com/drm-labs/geoquery/internal/model"
)

// ColumnMap names the columns holding place fields. Matching against the
// header row is case-insensitive. Latitude and Longitude are required; the
// rest are optional.
type ColumnMap struct {
	Name      string `json:"name" yaml:"name"`
	Category  string `json:"category,omitempty" yaml:"category"`
	Latitude  string `json:"latitude" yaml:"latitude"`
	Longitude string `json:"longitude" yaml:"longitude"`
	ID        string `json:"id,omitempty" yaml:"id"`

	// DefaultCategory is applied when no category column is mapped or the
	// cell is empty.
	DefaultCategory string `json:"default_category,omitempty" yaml:"default_category"`
}

// columnIndex holds resolved header positions; -1 means unmapped.
type columnIndex struct {
	name, category, lat, lon, id int
}

func resolveColumns(header []string, cm ColumnMap) (columnIndex, error) {
	pos := func(want string) int {
		if want == "" {
			return -1
		}
		for i, h := range header {
			if strings.EqualFold(strings.TrimSpace(h), want) {
				return i
			}
		}
		return -1
	}

	idx := columnIndex{
		name:     pos(cm.Name),
		category: pos(cm.Category),
		lat:      pos(cm.Latitude),
		lon:      pos(cm.Longitude),
		id:       pos(cm.ID),
	}
	if idx.lat < 0 || idx.lon < 0 {
		return idx, eris.Errorf("ingest: latitude column %q or longitude column %q not found in header", cm.Latitude, cm.Longitude)
	}
	return idx, nil
}

// placeFromRow builds a Place from one data row. Columns beyond the mapped
// ones are preserved as properties keyed by header name.
func placeFromRow(row, header []string, idx columnIndex, src Source) (model.Place, error) {
	cell := func(i int) string {
		if i < 0 || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	lat, err := strconv.ParseFloat(cell(idx.lat), 64)
	if err != nil {
		return model.Place{}, eris.Wrap(err, "ingest: parse latitude")
	}
	lon, err := strconv.ParseFloat(cell(idx.lon), 64)
	if err != nil {
		return model.Place{}, eris.Wrap(err, "ingest: parse longitude")
	}

	p := model.Place{
		Name:      cell(idx.name),
		Category:  cell(idx.category),
		Latitude:  lat,
		Longitude: lon,
		Source:    src.Name,
		SourceID:  cell(idx.id),
	}
	if p.Category == "" {
		p.Category = src.Columns.DefaultCategory
	}
	if p.Name == "" {
		return model.Place{}, eris.New("ingest: row has no name")
	}

	extra := make(map[string]string)
	mapped := map[int]bool{idx.name: true, idx.category: true, idx.lat: true, idx.lon: true, idx.id: true}
	for i, h := range header {
		if mapped[i] || i >= len(row) {
			continue
		}
		if v := strings.TrimSpace(row[i]); v != "" {
			extra[strings.TrimSpace(h)] = v
		}
	}
	if len(extra) > 0 {
		props, err := json.Marshal(extra)
		if err == nil {
			p.Properties = props
		}
	}
	return p, nil
}

// PlacesFromCSV parses a column-mapped CSV stream into places. Rows that
// fail to parse are skipped and counted, not fatal.
func PlacesFromCSV(ctx context.Context, r io.Reader, src Source) ([]model.Place, int, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	if src.Delimiter != 0 {
		reader.Comma = src.Delimiter
	}

	header, err := reader.Read()
	if err != nil {
		return nil, 0, eris.Wrap(err, "ingest: read csv header")
	}
	idx, err := resolveColumns(header, src.Columns)
	if err != nil {
		return nil, 0, err
	}

	var places []model.Place
	skipped := 0
	for {
		if ctx.Err() != nil {
			return places, skipped, eris.Wrap(ctx.Err(), "ingest: csv cancelled")
		}

		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return places, skipped, eris.Wrap(err, "ingest: read csv row")
		}

		p, err := placeFromRow(row, header, idx, src)
		if err != nil {
			skipped++
			zap.L().Debug("ingest: skipping csv row", zap.Error(err))
			continue
		}
		places = append(places, p)
	}
	return places, skipped, nil
}

// PlacesFromXLSX parses a column-mapped XLSX file into places. The first row
// of the selected sheet is the header.
func PlacesFromXLSX(path string, src Source) ([]model.Place, int, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, 0, eris.Wrap(err, "ingest: open xlsx")
	}

	sheet, err := selectSheet(f, src.Sheet)
	if err != nil {
		return nil, 0, err
	}
	if len(sheet.Rows) == 0 {
		return nil, 0, eris.New("ingest: xlsx sheet is empty")
	}

	header := rowStrings(sheet.Rows[0])
	idx, err := resolveColumns(header, src.Columns)
	if err != nil {
		return nil, 0, err
	}

	var places []model.Place
	skipped := 0
	for _, row := range sheet.Rows[1:] {
		p, err := placeFromRow(rowStrings(row), header, idx, src)
		if err != nil {
			skipped++
			zap.L().Debug("ingest: skipping xlsx row", zap.Error(err))
			continue
		}
		places = append(places, p)
	}
	return places, skipped, nil
}

func selectSheet(f *xlsx.File, name string) (*xlsx.Sheet, error) {
	if name != "" {
		sheet, ok := f.Sheet[name]
		if !ok {
			return nil, eris.Errorf("ingest: sheet %q not found", name)
		}
		return sheet, nil
	}
	if len(f.Sheets) == 0 {
		return nil, eris.New("ingest: xlsx has no sheets")
	}
	return f.Sheets[0], nil
}

func rowStrings(row *xlsx.Row) []string {
	cells := make([]string, len(row.Cells))
	for i, cell := range row.Cells {
		cells[i] = cell.String()
	}
	return cells
}
