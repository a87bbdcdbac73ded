package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/drm-labs/geoquery/internal/ingest"
	"github.com/drm-labs/geoquery/internal/model"
	"github.com/drm-labs/geoquery/internal/store"
)

var placesCmd = &cobra.Command{
	Use:   "places",
	Short: "Import and search point-of-interest datasets",
}

var placesImportCmd = &cobra.Command{
	Use:   "import <file-or-url>",
	Short: "Import places from a CSV or XLSX dataset",
	Long: `Loads a place dataset into the store. Local paths are parsed directly;
http(s) and ftp URLs are fetched with retry and per-host rate limiting.
Column flags map dataset headers onto place fields.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("dataset"); err != nil {
			return err
		}

		ctx := cmd.Context()
		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if err := st.Migrate(ctx); err != nil {
			return err
		}

		src, err := placesSourceFromFlags(cmd, args[0])
		if err != nil {
			return err
		}

		if isRemote(args[0]) {
			result, err := newIngestor(st).Run(ctx, src)
			if err != nil {
				return err
			}
			fmt.Printf("Imported %d places (%d rows skipped)\n", result.Places, result.Skipped)
			return nil
		}

		places, skipped, err := parseLocalPlaces(ctx, args[0], src)
		if err != nil {
			return err
		}
		if len(places) == 0 {
			return eris.Errorf("no usable rows in %s", args[0])
		}

		n, err := st.UpsertPlaces(ctx, places)
		if err != nil {
			return err
		}
		fmt.Printf("Imported %d places (%d rows skipped)\n", n, skipped)
		return nil
	},
}

func placesSourceFromFlags(cmd *cobra.Command, target string) (ingest.Source, error) {
	name, _ := cmd.Flags().GetString("source")
	if name == "" {
		name = strings.TrimSuffix(filepath.Base(target), filepath.Ext(target))
	}

	format, _ := cmd.Flags().GetString("format")
	if format == "" {
		switch strings.ToLower(filepath.Ext(target)) {
		case ".csv":
			format = string(ingest.FormatCSV)
		case ".xlsx":
			format = string(ingest.FormatXLSX)
		default:
			return ingest.Source{}, eris.Errorf("cannot infer format from %q, use --format", target)
		}
	}

	nameCol, _ := cmd.Flags().GetString("name-col")
	categoryCol, _ := cmd.Flags().GetString("category-col")
	latCol, _ := cmd.Flags().GetString("lat-col")
	lonCol, _ := cmd.Flags().GetString("lon-col")
	idCol, _ := cmd.Flags().GetString("id-col")
	defaultCategory, _ := cmd.Flags().GetString("default-category")
	sheet, _ := cmd.Flags().GetString("sheet")

	return ingest.Source{
		Name:   name,
		URL:    target,
		Format: ingest.Format(format),
		Sheet:  sheet,
		Columns: ingest.ColumnMap{
			Name:            nameCol,
			Category:        categoryCol,
			Latitude:        latCol,
			Longitude:       lonCol,
			ID:              idCol,
			DefaultCategory: defaultCategory,
		},
	}, nil
}

func parseLocalPlaces(ctx context.Context, path string, src ingest.Source) ([]model.Place, int, error) {
	switch src.Format {
	case ingest.FormatCSV:
		f, err := os.Open(path)
		if err != nil {
			return nil, 0, eris.Wrapf(err, "open %s", path)
		}
		defer f.Close() //nolint:errcheck
		return ingest.PlacesFromCSV(ctx, f, src)
	case ingest.FormatXLSX:
		return ingest.PlacesFromXLSX(path, src)
	default:
		return nil, 0, eris.Errorf("unsupported place format %q", src.Format)
	}
}

func isRemote(target string) bool {
	return strings.HasPrefix(target, "http://") ||
		strings.HasPrefix(target, "https://") ||
		strings.HasPrefix(target, "ftp://")
}

var placesNearbyCmd = &cobra.Command{
	Use:   "nearby",
	Short: "List stored places near a coordinate",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := cfg.Validate("query"); err != nil {
			return err
		}

		ctx := cmd.Context()
		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if err := st.Migrate(ctx); err != nil {
			return err
		}

		at, _ := cmd.Flags().GetString("at")
		p, err := parseLatLon(at)
		if err != nil {
			return err
		}
		radius, _ := cmd.Flags().GetFloat64("radius")
		category, _ := cmd.Flags().GetString("category")
		limit, _ := cmd.Flags().GetInt("limit")

		hits, err := st.PlacesNearby(ctx, p, radius, store.PlaceFilter{
			Category: category,
			Limit:    limit,
		})
		if err != nil {
			return err
		}

		if len(hits) == 0 {
			fmt.Println("No matching places.")
			return nil
		}
		for _, hit := range hits {
			fmt.Printf("%-40s %-12s %6.2f km\n", hit.Place.Name, hit.Place.Category, hit.DistanceKM)
		}
		return nil
	},
}

func init() {
	placesImportCmd.Flags().String("source", "", "source label for imported records (default: file name)")
	placesImportCmd.Flags().String("format", "", "dataset format: csv or xlsx (default: by extension)")
	placesImportCmd.Flags().String("name-col", "name", "header of the place name column")
	placesImportCmd.Flags().String("category-col", "", "header of the category column")
	placesImportCmd.Flags().String("lat-col", "lat", "header of the latitude column")
	placesImportCmd.Flags().String("lon-col", "lon", "header of the longitude column")
	placesImportCmd.Flags().String("id-col", "", "header of the external ID column")
	placesImportCmd.Flags().String("default-category", "", "category applied when the column is absent")
	placesImportCmd.Flags().String("sheet", "", "XLSX sheet name (default: first sheet)")

	placesNearbyCmd.Flags().String("at", "", "center coordinate as lat,lon")
	placesNearbyCmd.Flags().Float64("radius", 5, "search radius in km")
	placesNearbyCmd.Flags().String("category", "", "filter by category")
	placesNearbyCmd.Flags().Int("limit", 50, "maximum results")
	_ = placesNearbyCmd.MarkFlagRequired("at")

	placesCmd.AddCommand(placesImportCmd, placesNearbyCmd)
	rootCmd.AddCommand(placesCmd)
}
