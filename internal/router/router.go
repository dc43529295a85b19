// Package router wires up the retrieval API routes and applies the middleware
// chain (RequestID → CORS → Metrics → Auth → RateLimit → Timeout).
package router

import (
	"net/http"
	"time"

	ingesthandler "github.com/Adithya-Monish-Kumar-K/retrieval-pipeline/internal/ingestion/handler"
	"github.com/Adithya-Monish-Kumar-K/retrieval-pipeline/internal/monitor"
	"github.com/Adithya-Monish-Kumar-K/retrieval-pipeline/internal/query"
	"github.com/Adithya-Monish-Kumar-K/retrieval-pipeline/internal/syncer"
	"github.com/Adithya-Monish-Kumar-K/retrieval-pipeline/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/retrieval-pipeline/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/retrieval-pipeline/pkg/middleware"
	"github.com/Adithya-Monish-Kumar-K/retrieval-pipeline/pkg/ratelimit"
)

// Handlers groups the per-domain HTTP handlers. A nil handler leaves its
// routes unregistered.
type Handlers struct {
	Documents *ingesthandler.Handler
	Sync      *syncer.Handler
	Query     *query.Handler
	Usage     *monitor.Handler
	Health    *health.Checker
}

// Options configures the cross-cutting middleware.
type Options struct {
	Tokens             []string
	CORSOrigins        []string
	CORSMaxAge         int
	RateLimitPerMinute int
	Limiter            *ratelimit.Limiter
	Metrics            *metrics.Metrics
	RequestTimeout     time.Duration
	SyncTimeout        time.Duration
}

// New builds the full HTTP handler.
//
// Route table:
//
//	POST   /api/v1/sync                → trigger a workspace sync
//	POST   /api/v1/query               → answer a question
//	POST   /api/v1/cache/invalidate    → drop cached answers
//	POST   /api/v1/documents           → ingest one document
//	GET    /api/v1/documents           → list document records
//	GET    /api/v1/documents/{id}      → get a document record
//	GET    /api/v1/usage/stats         → live usage aggregates
//	GET    /api/v1/usage/snapshots     → persisted usage snapshots
//	GET    /health/live                → liveness
//	GET    /health/ready               → readiness
//
// Middleware chain (outermost first):
//
//	RequestID → CORS → Metrics → Auth → RateLimit → Timeout → handler
//
// Sync triggers get opts.SyncTimeout instead of opts.RequestTimeout.
func New(h Handlers, opts Options) http.Handler {
	mux := http.NewServeMux()
	normal := middleware.Timeout(opts.RequestTimeout)
	long := middleware.Timeout(opts.SyncTimeout)

	if h.Health != nil {
		mux.HandleFunc("GET /health/live", h.Health.LiveHandler())
		mux.HandleFunc("GET /health/ready", h.Health.ReadyHandler())
	}

	if h.Sync != nil {
		mux.Handle("POST /api/v1/sync", long(http.HandlerFunc(h.Sync.Trigger)))
	}

	if h.Query != nil {
		mux.Handle("POST /api/v1/query", normal(http.HandlerFunc(h.Query.Query)))
		mux.Handle("POST /api/v1/cache/invalidate", normal(http.HandlerFunc(h.Query.InvalidateCache)))
	}

	if h.Documents != nil {
		mux.Handle("POST /api/v1/documents", normal(http.HandlerFunc(h.Documents.Ingest)))
		mux.Handle("GET /api/v1/documents", normal(http.HandlerFunc(h.Documents.List)))
		mux.Handle("GET /api/v1/documents/{id}", normal(http.HandlerFunc(h.Documents.Get)))
	}

	if h.Usage != nil {
		mux.Handle("GET /api/v1/usage/stats", normal(http.HandlerFunc(h.Usage.Stats)))
		mux.Handle("GET /api/v1/usage/snapshots", normal(http.HandlerFunc(h.Usage.Snapshots)))
	}

	limiter := opts.Limiter
	if limiter == nil {
		limiter = ratelimit.New(time.Minute)
	}

	// Applied inside-out:
	// request → RequestID → CORS → Metrics → Auth → RateLimit → mux
	var chain http.Handler = mux
	chain = middleware.RateLimit(limiter, opts.RateLimitPerMinute)(chain)
	chain = middleware.Auth(opts.Tokens)(chain)
	if opts.Metrics != nil {
		chain = middleware.Metrics(opts.Metrics)(chain)
	}
	chain = middleware.CORS(opts.CORSOrigins, opts.CORSMaxAge)(chain)
	chain = middleware.RequestID(chain)

	return chain
}
