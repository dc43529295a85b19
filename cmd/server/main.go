// Command server starts the retrieval pipeline HTTP API.
//
// It serves document ingestion, workspace sync triggers, cached question
// answering and usage statistics on one port, and Prometheus metrics on a
// second. Usage events are persisted through the configured sink and
// aggregated in process; aggregates are snapshotted to PostgreSQL.
//
// Usage:
//
//	go run ./cmd/server [-config configs/development.yaml] [-env .env]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/Adithya-Monish-Kumar-K/retrieval-pipeline/internal/app"
	"github.com/Adithya-Monish-Kumar-K/retrieval-pipeline/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/retrieval-pipeline/pkg/logger"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	envFile := flag.String("env", ".env", "optional .env file with secrets")
	flag.Parse()

	cfg, err := config.Load(*configPath, *envFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting retrieval server",
		"port", cfg.Server.Port,
		"monitor_sink", cfg.Monitor.Sink,
		"redis", cfg.Redis.Enabled,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, prometheus.DefaultRegisterer)
	if err != nil {
		slog.Error("failed to initialise", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	if _, err := a.Backend.EnsureStore(ctx); err != nil {
		slog.Warn("vector store not ready, will retry on first upload", "error", err)
	}

	server := &http.Server{
		Addr:        fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:     a.Handler(),
		ReadTimeout: cfg.Server.ReadTimeout,
		// Sync triggers hold the connection for the whole run.
		WriteTimeout: max(cfg.Server.WriteTimeout, cfg.Server.SyncTimeout) + cfg.Server.ShutdownTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("retrieval server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("api server: %w", err)
		}
		return nil
	})

	if cfg.Metrics.Enabled {
		metricsServer := a.Metrics.NewServer(cfg.Metrics.Port)
		g.Go(func() error {
			slog.Info("metrics server listening", "addr", metricsServer.Addr)
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			return metricsServer.Close()
		})
	}

	if cfg.Monitor.SnapshotInterval > 0 {
		g.Go(func() error {
			return a.Snapshots.RunPeriodic(gctx, a.Aggregator, cfg.Monitor.SnapshotInterval)
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		slog.Error("server error", "error", err)
		a.Close()
		os.Exit(1)
	}

	slog.Info("retrieval server stopped")
}
