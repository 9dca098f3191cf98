// Package main is the entry point for the networth snapshot pipeline.
// The process periodically snapshots exchange rates and asset balances from
// every configured provider, values them in the baseline currencies and
// serves totals, distributions and trends over HTTP.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aristath/networth/internal/config"
	"github.com/aristath/networth/internal/di"
	"github.com/aristath/networth/internal/server"
	"github.com/aristath/networth/pkg/logger"
)

// main is the application entry point:
// 1. Loads configuration from .env, environment variables and the pipeline file
// 2. Initializes logging
// 3. Wires all dependencies via the DI container
// 4. Starts the scheduler and the HTTP server
// 5. Waits for a shutdown signal and stops everything in reverse order
//
// Two databases are used:
// - snapshots.db: append-only rate and asset snapshots
// - client_data.db: cache for provider and exchange rate responses
func main() {
	cfg, err := config.Load()
	if err != nil {
		// Use fallback logger if config fails
		fallbackLog := logger.New(logger.Config{
			Level:  "info",
			Pretty: true,
		})
		fallbackLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.LogPretty,
	})

	log.Info().
		Strs("baselines", cfg.Baselines).
		Strs("currencies", cfg.Currencies).
		Dur("snapshot_interval", cfg.SnapshotInterval).
		Msg("Starting networth")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	container, err := di.Wire(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to wire dependencies")
	}
	defer container.Close()

	if err := container.Scheduler.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to start scheduler")
	}

	srv := server.New(server.Config{
		Log:         log,
		Port:        cfg.Port,
		DevMode:     cfg.DevMode,
		Scheduler:   container.Scheduler,
		Bus:         container.EventBus,
		Databases:   container.Databases(),
		Aggregation: container.AggregationService,
		Snapshots:   container.SnapshotRepo,
		DefaultBase: cfg.Baselines[0],
	})

	go func() {
		if err := srv.Start(); err != nil {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	log.Info().Int("port", cfg.Port).Msg("Server started")

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down...")

	// In-flight requests finish first, then running tasks get the rest of the budget
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	if err := container.Scheduler.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Scheduler did not stop cleanly")
	}
	cancel()

	log.Info().Msg("Server stopped")
}
