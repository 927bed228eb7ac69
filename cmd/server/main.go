// Package main is the entry point for tripsync-server: the room broker and the
// persistence gateway behind one HTTP listener. It only wires dependencies
// together; no business logic belongs here.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/automaxprocs/maxprocs"

	"github.com/corvino/tripsync/internal/config"
	"github.com/corvino/tripsync/internal/handler"
	"github.com/corvino/tripsync/internal/metrics"
	"github.com/corvino/tripsync/internal/repo"
	"github.com/corvino/tripsync/internal/server"
	"github.com/corvino/tripsync/internal/service"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		slog.Error("tripsync-server failed", "error", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "tripsync-server",
		Short: "Room broker and persistence gateway for tripsync",
		Long: `Serves the trip room broker (WebSocket /ws/{tripId}) and the persistence
gateway (REST /api/trips). Configuration comes from the environment:
DATABASE_URL (required), PORT, LOG_LEVEL, CORS_ORIGINS, MAX_BODY_BYTES,
SHUTDOWN_TIMEOUT, WS_SEND_BUFFER and AUTO_MIGRATE.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
	root.AddCommand(newMigrateCmd(), newIssueTokenCmd())
	return root
}

// deps are the pieces every subcommand needs.
type deps struct {
	cfg    config.Config
	logger *slog.Logger
	pool   *pgxpool.Pool
}

func setup(ctx context.Context) (*deps, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	if _, err := maxprocs.Set(maxprocs.Logger(func(format string, args ...any) {
		logger.Debug(fmt.Sprintf(format, args...))
	})); err != nil {
		logger.Warn("set GOMAXPROCS", "error", err)
	}

	// New does not open connections; Ping verifies the database is reachable
	// before accepting traffic.
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("create database pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	logger.Info("database connection established")
	return &deps{cfg: cfg, logger: logger, pool: pool}, nil
}

func runServe(ctx context.Context) error {
	d, err := setup(ctx)
	if err != nil {
		return err
	}
	defer d.pool.Close()
	logger := d.logger

	if d.cfg.AutoMigrate {
		if err := migrateUp(ctx, d.pool, logger); err != nil {
			return err
		}
	}

	// --- Persistence gateway ---------------------------------------------
	users := repo.NewUserRepo(d.pool)
	trips := repo.NewTripRepo(d.pool)
	collab := service.NewCollabService(trips, repo.NewMessageRepo(d.pool), repo.NewActivityRepo(d.pool), users)
	auth := service.NewAuthService(users)

	// --- Room broker -----------------------------------------------------
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	brokerMetrics := &metrics.Broker{}
	brokerMetrics.Register(registry)
	hub := server.NewHub(server.HubOptions{
		Logger:     logger,
		Metrics:    brokerMetrics,
		SendBuffer: d.cfg.WSSendBuffer,
	})

	srv := server.New(server.Options{
		Addr:         d.cfg.Addr(),
		Hub:          hub,
		Gateway:      handler.NewServer(collab, logger).Routes(),
		Auth:         auth,
		Logger:       logger,
		CORSOrigins:  d.cfg.CORSOrigins,
		MaxBodyBytes: d.cfg.MaxBodyBytes,
		Registry:     registry,
	})

	errc := make(chan error, 1)
	go func() {
		logger.Info("server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		return fmt.Errorf("listen: %w", err)
	case <-ctx.Done():
	}
	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), d.cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	logger.Info("server stopped")
	return nil
}
