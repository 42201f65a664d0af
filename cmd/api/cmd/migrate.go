package cmd

import (
	"context"
	"time"

	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Minute)
		defer cancel()

		pg, err := openPostgres(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer pg.DB().Close()
		logger.Info(ctx, "migrations applied")
		return nil
	},
}
