package main

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/resistance-prophet-server/internal/app"
)

var migrateCmd = &cobra.Command{
	Use:       "migrate [up|down]",
	Short:     "Apply or roll back assessment database migrations",
	Long:      "up applies every pending migration; down rolls back the most recent one.",
	Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	ValidArgs: []string{"up", "down"},
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig(true)
		if err != nil {
			return err
		}
		if !cfg.Database.Enabled {
			return errors.New("database is disabled; set database.enabled to migrate")
		}
		return app.Migrate(cmd.Context(), cfg.Database, logger, args[0] == "up")
	},
}
