// Command analytics starts the standalone usage aggregation service.
//
// It consumes usage events published by servers running with the kafka
// monitor sink, aggregates them in memory (counts, failures, token estimates,
// latency percentiles, cache hit rate), snapshots the aggregates to PostgreSQL
// and exposes them at GET /api/v1/usage/stats and GET /api/v1/usage/snapshots.
//
// Usage:
//
//	go run ./cmd/analytics [-config configs/development.yaml] [-port 8090]
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

	"golang.org/x/sync/errgroup"

	"github.com/Adithya-Monish-Kumar-K/retrieval-pipeline/internal/monitor"
	"github.com/Adithya-Monish-Kumar-K/retrieval-pipeline/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/retrieval-pipeline/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/retrieval-pipeline/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/retrieval-pipeline/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/retrieval-pipeline/pkg/middleware"
	"github.com/Adithya-Monish-Kumar-K/retrieval-pipeline/pkg/postgres"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	envFile := flag.String("env", ".env", "optional .env file with secrets")
	port := flag.Int("port", 8090, "HTTP port for the stats API")
	flag.Parse()

	cfg, err := config.Load(*configPath, *envFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting analytics service", "port", *port, "topic", cfg.Kafka.Topics.UsageEvents)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	checker := health.NewChecker()

	// Snapshots are optional; without PostgreSQL only live stats are served.
	var snapshots *monitor.SnapshotStore
	db, err := postgres.New(cfg.Postgres)
	if err != nil {
		slog.Warn("postgres unavailable, snapshots disabled", "error", err)
	} else {
		defer db.Close()
		if cfg.Postgres.Migrate {
			if err := db.Migrate(ctx); err != nil {
				slog.Error("failed to migrate", "error", err)
				os.Exit(1)
			}
		}
		snapshots = monitor.NewSnapshotStore(db.DB)
		checker.Register("postgres", health.PingCheck(db.Ping, true))
	}

	aggregator := monitor.NewAggregator()
	consumer := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.UsageEvents, aggregator.HandleMessage)
	aggregator.AttachConsumer(consumer)
	checker.Register("kafka", health.PingCheck(consumer.Ping, false))

	h := monitor.NewHandler(aggregator, snapshots)
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/usage/stats", h.Stats)
	mux.HandleFunc("GET /api/v1/usage/snapshots", h.Snapshots)
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", *port),
		Handler:      middleware.RequestID(mux),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return aggregator.Start(gctx)
	})
	if snapshots != nil && cfg.Monitor.SnapshotInterval > 0 {
		g.Go(func() error {
			return snapshots.RunPeriodic(gctx, aggregator, cfg.Monitor.SnapshotInterval)
		})
	}
	g.Go(func() error {
		slog.Info("analytics service listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		slog.Error("analytics service error", "error", err)
		os.Exit(1)
	}

	slog.Info("analytics service stopped")
}
