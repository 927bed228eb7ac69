package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/spf13/cobra"

	"github.com/corvino/tripsync/migrations"
)

func newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
	}

	run := func(fn func(ctx context.Context, p *goose.Provider, logger *slog.Logger) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			d, err := setup(cmd.Context())
			if err != nil {
				return err
			}
			defer d.pool.Close()
			p, closeDB, err := newProvider(d.pool)
			if err != nil {
				return err
			}
			defer closeDB()
			return fn(cmd.Context(), p, d.logger)
		}
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			RunE: run(func(ctx context.Context, p *goose.Provider, logger *slog.Logger) error {
				return applyUp(ctx, p, logger)
			}),
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back the most recent migration",
			RunE: run(func(ctx context.Context, p *goose.Provider, logger *slog.Logger) error {
				res, err := p.Down(ctx)
				if err != nil {
					return fmt.Errorf("migrate down: %w", err)
				}
				logger.Info("migration rolled back", "version", res.Source.Version, "duration", res.Duration)
				return nil
			}),
		},
		&cobra.Command{
			Use:   "status",
			Short: "Print the state of every migration",
			RunE: run(func(ctx context.Context, p *goose.Provider, _ *slog.Logger) error {
				statuses, err := p.Status(ctx)
				if err != nil {
					return fmt.Errorf("migrate status: %w", err)
				}
				for _, s := range statuses {
					fmt.Printf("%-8d %-10s %s\n", s.Source.Version, s.State, s.Source.Path)
				}
				return nil
			}),
		},
	)
	return cmd
}

// newProvider opens a database/sql handle over pool for goose.
func newProvider(pool *pgxpool.Pool) (*goose.Provider, func(), error) {
	db := stdlib.OpenDBFromPool(pool)
	p, err := goose.NewProvider(goose.DialectPostgres, db, migrations.FS)
	if err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("create goose provider: %w", err)
	}
	return p, func() { db.Close() }, nil
}

func migrateUp(ctx context.Context, pool *pgxpool.Pool, logger *slog.Logger) error {
	p, closeDB, err := newProvider(pool)
	if err != nil {
		return err
	}
	defer closeDB()
	return applyUp(ctx, p, logger)
}

func applyUp(ctx context.Context, p *goose.Provider, logger *slog.Logger) error {
	results, err := p.Up(ctx)
	if err != nil {
		return fmt.Errorf("migrate up: %w", err)
	}
	for _, r := range results {
		logger.Info("migration applied", "version", r.Source.Version, "path", r.Source.Path, "duration", r.Duration)
	}
	return nil
}
