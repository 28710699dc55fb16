package admin

import (
	"fmt"

	"github.com/cloo-solutions/recall/internal/config"
	"github.com/cloo-solutions/recall/internal/database"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const defaultMigrationsSource = "file://migrations"

// MigrateCmd returns the migrate command
func MigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		Long:  "Apply all pending database migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			source, _ := cmd.Flags().GetString("source")

			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			logger, err := newLogger(cfg)
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			return runMigrations(cfg.DatabaseURL, source, logger)
		},
	}

	cmd.Flags().String("source", defaultMigrationsSource, "Migration source URL")

	return cmd
}

func runMigrations(databaseURL, source string, logger *zap.Logger) error {
	res, err := database.Migrate(databaseURL, source)
	if err != nil {
		return err
	}

	switch {
	case res.Empty:
		logger.Info("migrations: no migrations applied")
	case res.Applied:
		logger.Info("migrations: applied successfully", zap.Uint("version", res.Version))
	default:
		logger.Info("migrations: database is up to date", zap.Uint("version", res.Version))
	}
	return nil
}
