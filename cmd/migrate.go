package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations",
	Long:  "Creates or updates the places, zones, geocode cache, and query history tables.",
	RunE: func(cmd *cobra.Command, _ []string) error {
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

		fmt.Println("Migrations applied.")
		return nil
	},
}

func init() { rootCmd.AddCommand(migrateCmd) }
