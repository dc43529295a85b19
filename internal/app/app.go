// Package app assembles the retrieval pipeline from configuration: storage
// clients, the managed backend, the workspace syncer, the query engine and
// the usage monitor. Both the HTTP server and the CLI build on it.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Adithya-Monish-Kumar-K/retrieval-pipeline/internal/backend/openai"
	ingesthandler "github.com/Adithya-Monish-Kumar-K/retrieval-pipeline/internal/ingestion/handler"
	"github.com/Adithya-Monish-Kumar-K/retrieval-pipeline/internal/ingestion/indexer"
	"github.com/Adithya-Monish-Kumar-K/retrieval-pipeline/internal/ingestion/localfs"
	"github.com/Adithya-Monish-Kumar-K/retrieval-pipeline/internal/ingestion/store"
	"github.com/Adithya-Monish-Kumar-K/retrieval-pipeline/internal/ingestion/tokens"
	"github.com/Adithya-Monish-Kumar-K/retrieval-pipeline/internal/monitor"
	"github.com/Adithya-Monish-Kumar-K/retrieval-pipeline/internal/query"
	"github.com/Adithya-Monish-Kumar-K/retrieval-pipeline/internal/router"
	"github.com/Adithya-Monish-Kumar-K/retrieval-pipeline/internal/syncer"
	"github.com/Adithya-Monish-Kumar-K/retrieval-pipeline/internal/workspace"
	"github.com/Adithya-Monish-Kumar-K/retrieval-pipeline/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/retrieval-pipeline/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/retrieval-pipeline/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/retrieval-pipeline/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/retrieval-pipeline/pkg/postgres"
	"github.com/Adithya-Monish-Kumar-K/retrieval-pipeline/pkg/ratelimit"
	"github.com/Adithya-Monish-Kumar-K/retrieval-pipeline/pkg/redis"
	"github.com/Adithya-Monish-Kumar-K/retrieval-pipeline/pkg/resilience"
)

// App owns every long-lived component. Close releases them in reverse order
// of construction.
type App struct {
	Config     *config.Config
	Metrics    *metrics.Metrics
	Health     *health.Checker
	Monitor    *monitor.Monitor
	Aggregator *monitor.Aggregator
	Snapshots  *monitor.SnapshotStore
	Documents  *store.PostgresStore
	Backend    *openai.Backend
	Indexer    *indexer.Indexer
	Syncer     *syncer.Syncer
	Engine     *query.Engine

	closers []func() error
	logger  *slog.Logger
}

// New connects to PostgreSQL (and Redis and Kafka when configured) and wires
// the services. reg receives the Prometheus collectors; nil keeps them
// private to this App.
func New(ctx context.Context, cfg *config.Config, reg prometheus.Registerer) (_ *App, err error) {
	a := &App{
		Config:  cfg,
		Metrics: metrics.New(reg),
		Health:  health.NewChecker(),
		logger:  slog.Default().With("component", "app"),
	}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	db, err := postgres.New(cfg.Postgres)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, db.Close)
	a.Health.Register("postgres", health.PingCheck(db.Ping, false))
	if cfg.Postgres.Migrate {
		if err := db.Migrate(ctx); err != nil {
			return nil, err
		}
	}
	a.logger.Info("connected to postgres", "host", cfg.Postgres.Host, "database", cfg.Postgres.Database)

	sink, err := a.newSink(db)
	if err != nil {
		return nil, err
	}
	a.Aggregator = monitor.NewAggregator()
	a.Snapshots = monitor.NewSnapshotStore(db.DB)
	a.Monitor = monitor.New(sink, cfg.Monitor.LatencyThreshold,
		monitor.WithMetrics(a.Metrics),
		monitor.WithObserver(a.Aggregator),
	)

	a.Backend, err = openai.New(cfg.Backend, openai.WithMetrics(a.Metrics))
	if err != nil {
		return nil, fmt.Errorf("configuring backend: %w", err)
	}

	counter := tokens.NewCounter()
	a.Documents = store.NewPostgresStore(db)
	a.Indexer = indexer.New(a.Documents, a.Backend, a.Monitor,
		indexer.WithTokenCounter(counter),
		indexer.WithMetrics(a.Metrics),
	)

	pacer := ratelimit.NewPacer(cfg.Workspace.RequestsPerSec, 1)
	source := workspace.NewClient(cfg.Workspace, workspace.WithPacer(pacer))
	a.Syncer = syncer.New(source, a.Indexer, cfg.Sync,
		syncer.WithMetrics(a.Metrics),
		syncer.WithRetry(resilience.RetryConfig{
			MaxAttempts:  cfg.Sync.Retry.MaxAttempts,
			InitialDelay: cfg.Sync.Retry.InitialDelay,
			MaxDelay:     cfg.Sync.Retry.MaxDelay,
		}),
	)

	cache, err := a.newCache()
	if err != nil {
		return nil, err
	}
	a.Engine = query.NewEngine(a.Backend, cache, a.Monitor, cfg.Query,
		query.WithMetrics(a.Metrics),
		query.WithTokenCounter(counter),
	)
	return a, nil
}

func (a *App) newSink(db *postgres.Client) (monitor.Sink, error) {
	switch a.Config.Monitor.Sink {
	case "postgres":
		return monitor.NewPostgresSink(db.DB), nil
	case "kafka":
		producer := kafka.NewProducer(a.Config.Kafka, a.Config.Kafka.Topics.UsageEvents)
		a.closers = append(a.closers, producer.Close)
		a.Health.Register("kafka", health.PingCheck(producer.Ping, true))
		return monitor.NewKafkaSink(producer), nil
	case "none":
		return monitor.NopSink{}, nil
	default:
		return nil, fmt.Errorf("unknown monitor sink %q", a.Config.Monitor.Sink)
	}
}

// newCache returns the Redis-backed answer cache, falling back to an
// in-process LRU when Redis is disabled or unreachable.
func (a *App) newCache() (query.Store, error) {
	cfg := a.Config
	if !cfg.Redis.Enabled {
		return query.NewMemoryStore(cfg.Query.MemoryCacheSize, cfg.Query.CacheTTL), nil
	}
	client, err := redis.NewClient(cfg.Redis)
	if err != nil {
		a.logger.Warn("redis unavailable, using in-memory answer cache", "addr", cfg.Redis.Addr, "error", err)
		return query.NewMemoryStore(cfg.Query.MemoryCacheSize, cfg.Query.CacheTTL), nil
	}
	a.closers = append(a.closers, client.Close)
	a.Health.Register("redis", health.PingCheck(client.Ping, true))
	return query.NewRedisStore(client), nil
}

// Walker returns a local-directory ingester feeding the same indexer.
func (a *App) Walker(maxBytes int64) *localfs.Walker {
	return localfs.NewWalker(a.Indexer, maxBytes, "local")
}

// Handler returns the HTTP API.
func (a *App) Handler() http.Handler {
	return router.New(router.Handlers{
		Documents: ingesthandler.New(a.Indexer, a.Documents),
		Sync:      syncer.NewHandler(a.Syncer),
		Query:     query.NewHandler(a.Engine),
		Usage:     monitor.NewHandler(a.Aggregator, a.Snapshots),
		Health:    a.Health,
	}, router.Options{
		Tokens:             a.Config.Auth.Tokens,
		CORSOrigins:        a.Config.Server.CORSOrigins,
		CORSMaxAge:         a.Config.Server.CORSMaxAge,
		RateLimitPerMinute: a.Config.Auth.RateLimitPerMinute,
		Limiter:            ratelimit.New(time.Minute),
		Metrics:            a.Metrics,
		RequestTimeout:     a.Config.Server.WriteTimeout,
		SyncTimeout:        a.Config.Server.SyncTimeout,
	})
}

// Close releases connections in reverse order of acquisition.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
