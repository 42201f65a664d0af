package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"devqa/api/internal/config"
	"devqa/api/internal/logging"
	"devqa/api/internal/store"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:          "api",
	Short:        "DevQA API server",
	Long:         "Test management API: projects, test cases, executions, bugs and live execution updates.",
	SilenceUsage: true,
	RunE:         runServe,
}

// Execute runs the root command. With no subcommand the server starts.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
}

func loadConfig() (config.Config, logging.Logger, error) {
	cfg, err := config.LoadFile(configPath)
	if err != nil {
		return config.Config{}, nil, err
	}
	return cfg, logging.NewJSON(os.Stderr, cfg.LogLevel), nil
}

func openPostgres(ctx context.Context, cfg config.Config, logger logging.Logger) (*store.PostgresStore, error) {
	db, err := store.Open(ctx, cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("database connection failed: %w", err)
	}
	if err := store.ApplyMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	logger.Info(ctx, "database ready")
	return store.NewPostgresStore(db), nil
}
