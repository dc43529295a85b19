package query

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/singleflight"

	"github.com/Adithya-Monish-Kumar-K/retrieval-pipeline/internal/backend"
	"github.com/Adithya-Monish-Kumar-K/retrieval-pipeline/internal/ingestion/tokens"
	"github.com/Adithya-Monish-Kumar-K/retrieval-pipeline/internal/monitor"
	"github.com/Adithya-Monish-Kumar-K/retrieval-pipeline/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/retrieval-pipeline/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/retrieval-pipeline/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/retrieval-pipeline/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/retrieval-pipeline/pkg/resilience"
)

const unavailableText = "The answer service is temporarily unavailable. Please try again later."

// Generator produces a grounded answer for a query.
type Generator interface {
	Generate(ctx context.Context, query string, limit int) (*backend.Generation, error)
}

// Tracker receives usage events.
type Tracker interface {
	Track(ctx context.Context, ev monitor.UsageEvent) bool
}

// Engine answers queries, consulting the cache before the backend.
type Engine struct {
	generator Generator
	cache     Store
	tracker   Tracker
	cfg       config.QueryConfig
	counter   tokens.Counter
	metrics   *metrics.Metrics
	group     singleflight.Group
	now       func() time.Time
	logger    *slog.Logger
}

type Option func(*Engine)

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

func WithTokenCounter(c tokens.Counter) Option {
	return func(e *Engine) { e.counter = c }
}

func NewEngine(gen Generator, cache Store, tracker Tracker, cfg config.QueryConfig, opts ...Option) *Engine {
	e := &Engine{
		generator: gen,
		cache:     cache,
		tracker:   tracker,
		cfg:       cfg,
		counter:   tokens.Heuristic{},
		now:       time.Now,
		logger:    slog.Default().With("component", "query-engine"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Validate checks a query and limit before any I/O and returns the trimmed
// query and effective limit.
func (e *Engine) Validate(q string, limit int) (string, int, error) {
	trimmed := strings.TrimSpace(q)
	n := utf8.RuneCountInString(trimmed)
	if n < e.cfg.MinLength || n > e.cfg.MaxLength {
		return "", 0, apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest,
			"query must be between %d and %d characters", e.cfg.MinLength, e.cfg.MaxLength)
	}
	if limit == 0 {
		limit = e.cfg.DefaultLimit
	}
	if limit < 1 || limit > e.cfg.MaxLimit {
		return "", 0, apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest,
			"limit must be between 1 and %d", e.cfg.MaxLimit)
	}
	return trimmed, limit, nil
}

// Process answers q with at most limit sources. A zero limit uses the
// default. Backend failures do not produce an error: they yield an answer
// with Errored set, which is never cached.
func (e *Engine) Process(ctx context.Context, q string, limit int) (*Answer, error) {
	trimmed, limit, err := e.Validate(q, limit)
	if err != nil {
		return nil, err
	}
	start := e.now()
	key := Key(trimmed)
	log := logger.FromContext(ctx).With("component", "query-engine", "query_key", key[:12])

	entry, err := e.cache.Get(ctx, key)
	if err != nil {
		log.Warn("cache read failed, treating as miss", "error", err)
	}
	if entry != nil {
		ans := entry.Result
		ans.Cached = true
		ans.ElapsedMs = e.now().Sub(start).Milliseconds()
		e.observe("hit", "hit", start)
		e.track(ctx, trimmed, &ans, start, "hit")
		log.Debug("served from cache", "hit_count", entry.HitCount)
		return &ans, nil
	}

	ans, err := e.generate(ctx, trimmed, limit)
	if err != nil {
		log.Error("answer generation failed", "error", err)
		ans = &Answer{Text: unavailableText, Sources: []backend.Source{}, Errored: true}
	}
	ans.ElapsedMs = e.now().Sub(start).Milliseconds()

	if !ans.Errored && ans.Confidence > e.cfg.ConfidenceThreshold {
		now := e.now()
		stored := *ans
		stored.ElapsedMs = 0
		if err := e.cache.Put(ctx, &CacheEntry{
			QueryKey:  key,
			Result:    stored,
			CreatedAt: now,
			ExpiresAt: now.Add(e.cfg.CacheTTL),
		}); err != nil {
			log.Warn("cache write failed", "error", err)
		}
	}

	result := "miss"
	if ans.Errored {
		result = "errored"
	}
	e.observe(result, "miss", start)
	e.track(ctx, trimmed, ans, start, "miss")
	return ans, nil
}

// generate calls the backend once per distinct (query, limit) at a time.
// Concurrent identical misses share the result. The shared call is detached
// from any single caller's cancellation and bounded by GenerateTimeout.
func (e *Engine) generate(ctx context.Context, q string, limit int) (*Answer, error) {
	flightKey := Key(q) + ":" + strconv.Itoa(limit)
	v, err, shared := e.group.Do(flightKey, func() (any, error) {
		return resilience.CallWithTimeout(context.WithoutCancel(ctx), e.cfg.GenerateTimeout, "query.generate",
			func(ctx context.Context) (*backend.Generation, error) {
				return e.generator.Generate(ctx, q, limit)
			})
	})
	if err != nil {
		return nil, fmt.Errorf("generating answer: %w", err)
	}
	if shared {
		e.logger.Debug("joined in-flight generation")
	}
	gen, _ := v.(*backend.Generation)
	if gen == nil {
		return nil, errors.New("generating answer: backend returned no result")
	}
	sources := gen.Sources
	if sources == nil {
		sources = []backend.Source{}
	}
	return &Answer{
		Text:       gen.Text,
		Sources:    sources,
		Confidence: gen.Confidence,
		Errored:    gen.Errored,
	}, nil
}

// Invalidate drops every cached answer.
func (e *Engine) Invalidate(ctx context.Context) (int64, error) {
	n, err := e.cache.Invalidate(ctx)
	if err != nil {
		return 0, fmt.Errorf("invalidating answer cache: %w", err)
	}
	logger.FromContext(ctx).Info("answer cache invalidated", "entries", n)
	return n, nil
}

func (e *Engine) track(ctx context.Context, q string, ans *Answer, start time.Time, cache string) {
	if e.tracker == nil {
		return
	}
	ev := monitor.NewEvent(monitor.KindQuery, !ans.Errored, e.counter.Count(q)+e.counter.Count(ans.Text), map[string]string{
		"cache":      cache,
		"confidence": strconv.FormatFloat(ans.Confidence, 'f', 2, 64),
		"sources":    strconv.Itoa(len(ans.Sources)),
	})
	e.tracker.Track(ctx, ev.WithLatency(e.now().Sub(start)))
}

func (e *Engine) observe(result, cacheStatus string, start time.Time) {
	if e.metrics == nil {
		return
	}
	e.metrics.QueriesTotal.WithLabelValues(result).Inc()
	e.metrics.QueryLatency.WithLabelValues(cacheStatus).Observe(e.now().Sub(start).Seconds())
	if cacheStatus == "hit" {
		e.metrics.CacheHitsTotal.Inc()
	} else {
		e.metrics.CacheMissesTotal.Inc()
	}
}
