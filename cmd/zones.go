package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/drm-labs/geoquery/internal/ingest"
	"github.com/drm-labs/geoquery/internal/model"
	"github.com/drm-labs/geoquery/internal/zone"
)

var zonesCmd = &cobra.Command{
	Use:   "zones",
	Short: "Load and inspect hazard zones",
}

var zonesLoadCmd = &cobra.Command{
	Use:   "load <path-or-url>",
	Short: "Load hazard zones from GeoJSON or a shapefile",
	Long: `Loads zone polygons into the store. Local .geojson/.json and .shp files
are read directly; http(s) and ftp URLs are fetched, shapefile URLs as
zip bundles.`,
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

		source, _ := cmd.Flags().GetString("source")
		if source == "" {
			source = strings.TrimSuffix(filepath.Base(args[0]), filepath.Ext(args[0]))
		}

		if isRemote(args[0]) {
			format, err := zoneFormat(cmd, args[0])
			if err != nil {
				return err
			}
			result, err := newIngestor(st).Run(ctx, ingest.Source{
				Name:   source,
				URL:    args[0],
				Format: format,
			})
			if err != nil {
				return err
			}
			fmt.Printf("Loaded %d zones\n", result.Zones)
			return nil
		}

		zones, err := loadLocalZones(args[0], source)
		if err != nil {
			return err
		}
		if len(zones) == 0 {
			return eris.Errorf("no zones found in %s", args[0])
		}

		n, err := st.UpsertZones(ctx, zones)
		if err != nil {
			return err
		}
		fmt.Printf("Loaded %d zones\n", n)
		return nil
	},
}

func zoneFormat(cmd *cobra.Command, target string) (ingest.Format, error) {
	format, _ := cmd.Flags().GetString("format")
	if format != "" {
		return ingest.Format(format), nil
	}
	switch strings.ToLower(filepath.Ext(target)) {
	case ".geojson", ".json":
		return ingest.FormatGeoJSON, nil
	case ".zip", ".shp":
		return ingest.FormatShapefile, nil
	default:
		return "", eris.Errorf("cannot infer format from %q, use --format", target)
	}
}

func loadLocalZones(path, source string) ([]model.Zone, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".geojson", ".json":
		f, err := os.Open(path)
		if err != nil {
			return nil, eris.Wrapf(err, "open %s", path)
		}
		defer f.Close() //nolint:errcheck
		return zone.LoadGeoJSON(f, source)
	case ".shp":
		return zone.LoadShapefile(path, source)
	default:
		return nil, eris.Errorf("unsupported zone file %q, expected .geojson, .json, or .shp", path)
	}
}

var zonesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List loaded hazard zones",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
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

		var hazard model.HazardKind
		if label, _ := cmd.Flags().GetString("hazard"); label != "" {
			hazard = zone.ParseHazard(label)
		}
		limit, _ := cmd.Flags().GetInt("limit")

		zones, err := st.ListZones(ctx, hazard, limit)
		if err != nil {
			return err
		}

		if len(zones) == 0 {
			fmt.Println("No zones loaded.")
			return nil
		}
		for _, z := range zones {
			fmt.Printf("%-40s %-10s %-8s %s\n", z.Name, z.Hazard, z.Severity, z.Source)
		}
		return nil
	},
}

var zonesAtCmd = &cobra.Command{
	Use:   "at <lat,lon>",
	Short: "List hazard zones containing a coordinate",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
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

		p, err := parseLatLon(args[0])
		if err != nil {
			return err
		}

		zones, err := st.ZonesAt(ctx, p)
		if err != nil {
			return err
		}

		if len(zones) == 0 {
			fmt.Println("No zones at this location.")
			return nil
		}
		for _, z := range zones {
			fmt.Printf("%-40s %-10s %-8s %s\n", z.Name, z.Hazard, z.Severity, z.Source)
		}
		return nil
	},
}

func init() {
	zonesLoadCmd.Flags().String("source", "", "source label for loaded zones (default: file name)")
	zonesLoadCmd.Flags().String("format", "", "dataset format: geojson or shapefile (default: by extension)")

	zonesListCmd.Flags().String("hazard", "", "filter by hazard kind (flood, wildfire, ...)")
	zonesListCmd.Flags().Int("limit", 0, "maximum zones to print (0 = all)")

	zonesCmd.AddCommand(zonesLoadCmd, zonesListCmd, zonesAtCmd)
	rootCmd.AddCommand(zonesCmd)
}
