package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/drm-labs/geoquery/internal/geo"
	"github.com/drm-labs/geoquery/pkg/geocode"
)

var routeCmd = &cobra.Command{
	Use:   "route <from> <to>",
	Short: "Compute a driving route between two locations",
	Long: `Routes between two endpoints via OSRM. Each endpoint is either a
"lat,lon" pair or a location name resolved through the geocoder.`,
	Args: cobra.ExactArgs(2),
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
		gc := newGeocoder(st)

		origin, err := resolveRoutePoint(cmd, gc, args[0])
		if err != nil {
			return err
		}
		destination, err := resolveRoutePoint(cmd, gc, args[1])
		if err != nil {
			return err
		}

		profile, _ := cmd.Flags().GetString("profile")
		route, err := newRouter().RouteWithProfile(ctx, origin, destination, profile)
		if err != nil {
			return err
		}

		asJSON, _ := cmd.Flags().GetBool("json")
		if asJSON {
			return printJSON(route)
		}

		fmt.Printf("Distance: %.1f km\n", route.DistanceKM)
		fmt.Printf("Duration: %.0f min\n", route.DurationS/60)
		return nil
	},
}

func resolveRoutePoint(cmd *cobra.Command, gc geocode.Client, arg string) (geo.Point, error) {
	if p, err := parseLatLon(arg); err == nil {
		return p, nil
	}
	result, err := gc.Geocode(cmd.Context(), arg)
	if err != nil {
		return geo.Point{}, err
	}
	if !result.Matched {
		return geo.Point{}, eris.Errorf("endpoint %q could not be geocoded", arg)
	}
	return result.Point(), nil
}

func init() {
	routeCmd.Flags().String("profile", "", "OSRM profile (driving, walking, cycling)")
	routeCmd.Flags().Bool("json", false, "print the full route as JSON")
	rootCmd.AddCommand(routeCmd)
}
