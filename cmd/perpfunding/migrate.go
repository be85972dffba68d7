package main

import (
	"fmt"
	"os"

	"PerpFunding/internal/config"
	"PerpFunding/internal/observability"
	"PerpFunding/internal/persistence"

	"github.com/spf13/cobra"
)

func migrateCmd() *cobra.Command {
	var dir string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or roll back database migrations",
	}
	cmd.PersistentFlags().StringVar(&dir, "dir", "", "migrations directory (overrides PERP_MIGRATIONS_DIR)")

	run := func(cmd *cobra.Command, up bool) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if dir != "" {
			cfg.MigrationsDir = dir
		}

		logger := observability.NewLogger("migrate")
		db, err := openDB(cmd.Context(), cfg.PostgresURL)
		if err != nil {
			return err
		}
		defer db.Close()

		migrator := persistence.NewMigrator(db, os.DirFS(cfg.MigrationsDir), logger)
		if up {
			if err := migrator.Up(cmd.Context()); err != nil {
				return fmt.Errorf("migrate up: %w", err)
			}
			logger.Info().Msg("all migrations applied")
			return nil
		}
		if err := migrator.Down(cmd.Context()); err != nil {
			return fmt.Errorf("migrate down: %w", err)
		}
		logger.Info().Msg("last migration rolled back")
		return nil
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, true)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Roll back the last applied migration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, false)
		},
	})
	return cmd
}
