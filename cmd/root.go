package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/drm-labs/geoquery/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "geoquery",
	Short: "Natural-language geospatial querying",
	Long: "Parses spatial questions, geocodes locations, searches places with " +
		"H3 indexing, and tags results against hazard zones.",
	Example: `  geoquery query "hospitals near Pioneer Square"
  geoquery geocode "Pike Place Market, Seattle"
  geoquery serve`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		return config.InitLogger(cfg.Log)
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
