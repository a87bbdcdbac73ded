package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/drm-labs/geoquery/internal/model"
)

var queryCmd = &cobra.Command{
	Use:   "query \"<text>\"",
	Short: "Run a natural-language spatial query",
	Long: `Parses a question like "hospitals within 3 km of Seattle", geocodes the
location, searches stored places, and tags results against hazard zones.`,
	Args: cobra.MinimumNArgs(1),
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

		engine := newEngine(st, newGeocoder(st))
		result, err := engine.Execute(ctx, strings.Join(args, " "))
		if err != nil {
			return err
		}

		asJSON, _ := cmd.Flags().GetBool("json")
		if asJSON {
			return printJSON(result)
		}

		printResult(result)
		return nil
	},
}

func printResult(r *model.QueryResult) {
	if r.Center != nil {
		fmt.Printf("Location: %s (%.4f, %.4f)\n", r.Center.Name, r.Center.Latitude, r.Center.Longitude)
	}
	if r.Adjusted != nil {
		fmt.Printf("Adjusted: %.4f, %.4f (%s)\n", r.Adjusted.Latitude, r.Adjusted.Longitude, r.Intent.Direction)
	}
	if r.H3Cell != "" {
		fmt.Printf("H3 cell:  %s\n", r.H3Cell)
	}
	for _, tag := range r.RiskTags {
		fmt.Printf("Risk:     %s (%s) %s\n", tag.Hazard, tag.Severity, tag.Name)
	}

	if len(r.Hits) == 0 {
		fmt.Println("No matching places.")
	} else {
		fmt.Printf("\n%d places:\n", len(r.Hits))
		for _, hit := range r.Hits {
			line := fmt.Sprintf("  %-40s %6.2f km", hit.Place.Name, hit.DistanceKM)
			if len(hit.RiskTags) > 0 {
				hazards := make([]string, len(hit.RiskTags))
				for i, tag := range hit.RiskTags {
					hazards[i] = string(tag.Hazard)
				}
				line += "  [" + strings.Join(hazards, ", ") + "]"
			}
			fmt.Println(line)
		}
	}

	if r.Suggestion != nil && r.Suggestion.RefinedQuery != "" {
		fmt.Printf("\nTry: %s\n", r.Suggestion.RefinedQuery)
	}
	fmt.Printf("\n%d ms\n", r.ElapsedMS)
}

func init() {
	queryCmd.Flags().Bool("json", false, "print the full result as JSON")
	rootCmd.AddCommand(queryCmd)
}
