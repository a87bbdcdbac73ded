package main

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
)

var geocodeCmd = &cobra.Command{
	Use:   "geocode <location>",
	Short: "Geocode a location name, or reverse a coordinate",
	Long: `Resolves a free-form location through Nominatim with Photon fallback.
With --reverse lat,lon the coordinate is resolved to an address instead.`,
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

		reverse, _ := cmd.Flags().GetString("reverse")
		if reverse != "" {
			p, err := parseLatLon(reverse)
			if err != nil {
				return err
			}
			result, err := gc.Reverse(ctx, p)
			if err != nil {
				return err
			}
			if !result.Matched {
				return eris.Errorf("no address found at %.4f, %.4f", p.Lat, p.Lon)
			}
			return printJSON(result)
		}

		if len(args) == 0 {
			return eris.New("a location argument or --reverse is required")
		}
		location := strings.Join(args, " ")
		result, err := gc.Geocode(ctx, location)
		if err != nil {
			return err
		}
		if !result.Matched {
			return eris.Errorf("location %q could not be geocoded", location)
		}
		return printJSON(result)
	},
}

func init() {
	geocodeCmd.Flags().String("reverse", "", "reverse-geocode a lat,lon coordinate")
	rootCmd.AddCommand(geocodeCmd)
}
