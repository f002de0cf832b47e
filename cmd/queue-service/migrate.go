package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/mamamind47/sfa-queue/internal/config"
	"github.com/mamamind47/sfa-queue/internal/logger"
	"github.com/mamamind47/sfa-queue/internal/store/postgres"
)

func newMigrateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Database migration tools",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Run all pending migrations",
			RunE: withPool(func(ctx context.Context, pool *pgxpool.Pool) error {
				return postgres.MigrateUp(ctx, pool)
			}),
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back the latest migration",
			RunE: withPool(func(ctx context.Context, pool *pgxpool.Pool) error {
				return postgres.MigrateDown(ctx, pool)
			}),
		},
		&cobra.Command{
			Use:   "status",
			Short: "Show the current schema version",
			RunE: withPool(func(ctx context.Context, pool *pgxpool.Pool) error {
				version, err := postgres.MigrationVersion(ctx, pool)
				if err != nil {
					return err
				}
				fmt.Printf("schema version: %d\n", version)
				return nil
			}),
		},
	)
	return cmd
}

func withPool(fn func(ctx context.Context, pool *pgxpool.Pool) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if cfg.DatabaseURL == "" {
			return errors.New("DB_DSN is required")
		}
		log := logger.New(cfg.LogLevel, cfg.LogFormat)

		pool, err := pgxpool.New(cmd.Context(), cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("db connect: %w", err)
		}
		defer pool.Close()

		if err := fn(cmd.Context(), pool); err != nil {
			return err
		}
		log.Info("done", "command", cmd.CommandPath())
		return nil
	}
}
