// Package monitor records usage events and raises warnings for failed or
// slow operations. Recording is best effort and never fails the caller.
package monitor

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/Adithya-Monish-Kumar-K/retrieval-pipeline/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/retrieval-pipeline/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/retrieval-pipeline/pkg/resilience"
)

// Sink appends usage events to durable storage.
type Sink interface {
	Append(ctx context.Context, ev UsageEvent) error
}

// Observer sees every tracked event, whether or not it was persisted.
type Observer interface {
	Observe(ev UsageEvent)
}

type Monitor struct {
	sink             Sink
	observers        []Observer
	latencyThreshold time.Duration
	appendTimeout    time.Duration
	metrics          *metrics.Metrics
	logger           *slog.Logger
}

type Option func(*Monitor)

func WithMetrics(m *metrics.Metrics) Option {
	return func(mon *Monitor) { mon.metrics = m }
}

// WithObserver registers an in-process observer such as an Aggregator.
func WithObserver(o Observer) Option {
	return func(mon *Monitor) { mon.observers = append(mon.observers, o) }
}

// WithAppendTimeout bounds how long Track waits on the sink. Zero waits for
// as long as ctx allows.
func WithAppendTimeout(d time.Duration) Option {
	return func(mon *Monitor) { mon.appendTimeout = d }
}

// New returns a Monitor that persists to sink. A nil sink discards events.
func New(sink Sink, latencyThreshold time.Duration, opts ...Option) *Monitor {
	if sink == nil {
		sink = NopSink{}
	}
	m := &Monitor{
		sink:             sink,
		latencyThreshold: latencyThreshold,
		appendTimeout:    2 * time.Second,
		logger:           slog.Default().With("component", "usage-monitor"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Track persists ev and reports whether that succeeded. Warnings for failed
// or slow operations are raised before persistence is attempted and do not
// depend on its outcome.
func (m *Monitor) Track(ctx context.Context, ev UsageEvent) bool {
	log := logger.FromContext(ctx).With("component", "usage-monitor")
	m.warn(log, ev)

	for _, o := range m.observers {
		o.Observe(ev)
	}

	err := resilience.WithTimeout(ctx, m.appendTimeout, "usage.append", func(ctx context.Context) error {
		return m.sink.Append(ctx, ev)
	})
	if m.metrics != nil {
		m.metrics.UsageEventsTotal.WithLabelValues(string(ev.Kind), strconv.FormatBool(err == nil)).Inc()
	}
	if err != nil {
		log.Error("usage event not persisted",
			"event_id", ev.ID,
			"kind", ev.Kind,
			"error", err,
		)
		return false
	}
	return true
}

func (m *Monitor) warn(log *slog.Logger, ev UsageEvent) {
	if !ev.Success {
		log.Warn("operation failed",
			"kind", ev.Kind,
			"event_id", ev.ID,
			"metadata", ev.Metadata,
		)
	}
	if ev.LatencyMs != nil && m.latencyThreshold > 0 && *ev.LatencyMs > m.latencyThreshold.Milliseconds() {
		log.Warn("operation exceeded latency threshold",
			"kind", ev.Kind,
			"event_id", ev.ID,
			"latency_ms", *ev.LatencyMs,
			"threshold_ms", m.latencyThreshold.Milliseconds(),
		)
	}
}

// NopSink discards events.
type NopSink struct{}

func (NopSink) Append(context.Context, UsageEvent) error { return nil }
