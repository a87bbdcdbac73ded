package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/drm-labs/geoquery/internal/api"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API server",
	Long:  "Serves the query, geocode, routing, places, and zones endpoints over HTTP until interrupted.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := cfg.Validate("serve"); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if err := st.Migrate(ctx); err != nil {
			return err
		}

		gc := newGeocoder(st)
		srv := api.New(st, newEngine(st, gc), gc, newRouter(), api.Options{
			Port:            cfg.Server.Port,
			AllowedOrigins:  cfg.Server.AllowedOrigins,
			H3Resolution:    cfg.Query.H3Resolution,
			DefaultRadiusKM: cfg.Query.DefaultRadiusKM,
		})

		zap.L().Info("starting server", zap.Int("port", cfg.Server.Port))
		return srv.Start(ctx)
	},
}

func init() { rootCmd.AddCommand(serveCmd) }
