package monitor

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Adithya-Monish-Kumar-K/retrieval-pipeline/pkg/kafka"
)

const latencyWindow = 10000

// KindStats summarises one event kind.
type KindStats struct {
	Total        int64   `json:"total"`
	Failures     int64   `json:"failures"`
	Tokens       int64   `json:"tokens"`
	AvgLatencyMs float64 `json:"avg_latency_ms"`
	P50LatencyMs int64   `json:"p50_latency_ms"`
	P95LatencyMs int64   `json:"p95_latency_ms"`
	P99LatencyMs int64   `json:"p99_latency_ms"`
}

// Stats is a point-in-time view of aggregated usage.
type Stats struct {
	Ingest          KindStats `json:"ingest"`
	Query           KindStats `json:"query"`
	CacheHits       int64     `json:"cache_hits"`
	CacheMisses     int64     `json:"cache_misses"`
	EventsPerMinute float64   `json:"events_per_minute"`
	Since           time.Time `json:"since"`
}

type kindAgg struct {
	total     atomic.Int64
	failures  atomic.Int64
	tokens    atomic.Int64
	latencies []int64
	next      int
}

// Aggregator folds usage events into running totals and latency
// percentiles over the most recent events of each kind.
type Aggregator struct {
	mu          sync.RWMutex
	kinds       map[Kind]*kindAgg
	cacheHits   atomic.Int64
	cacheMisses atomic.Int64
	startTime   time.Time

	consumer *kafka.Consumer
	logger   *slog.Logger
}

func NewAggregator() *Aggregator {
	return &Aggregator{
		kinds: map[Kind]*kindAgg{
			KindIngest: {latencies: make([]int64, 0, 1024)},
			KindQuery:  {latencies: make([]int64, 0, 1024)},
		},
		startTime: time.Now().UTC(),
		logger:    slog.Default().With("component", "usage-aggregator"),
	}
}

// AttachConsumer makes Start consume from c.
func (a *Aggregator) AttachConsumer(c *kafka.Consumer) {
	a.consumer = c
}

// Start consumes events until ctx is cancelled. Without a consumer it only
// waits, since events then arrive through Observe.
func (a *Aggregator) Start(ctx context.Context) error {
	a.logger.Info("usage aggregator starting", "kafka", a.consumer != nil)
	if a.consumer == nil {
		<-ctx.Done()
		return nil
	}
	return a.consumer.Start(ctx)
}

// HandleMessage decodes a usage event from Kafka. Undecodable messages are
// logged and skipped so one bad record cannot stall the partition.
func (a *Aggregator) HandleMessage(_ context.Context, _ []byte, value []byte) error {
	ev, err := kafka.DecodeJSON[UsageEvent](value)
	if err != nil || ev.Kind == "" {
		a.logger.Error("failed to decode usage event", "error", err)
		return nil
	}
	a.Observe(ev)
	return nil
}

// Observe records one event.
func (a *Aggregator) Observe(ev UsageEvent) {
	a.mu.Lock()
	k, ok := a.kinds[ev.Kind]
	if !ok {
		k = &kindAgg{}
		a.kinds[ev.Kind] = k
	}
	if ev.LatencyMs != nil {
		if len(k.latencies) < latencyWindow {
			k.latencies = append(k.latencies, *ev.LatencyMs)
		} else {
			k.latencies[k.next] = *ev.LatencyMs
			k.next = (k.next + 1) % latencyWindow
		}
	}
	a.mu.Unlock()

	k.total.Add(1)
	k.tokens.Add(int64(ev.TokenEstimate))
	if !ev.Success {
		k.failures.Add(1)
	}
	if ev.Kind == KindQuery {
		switch ev.Metadata["cache"] {
		case "hit":
			a.cacheHits.Add(1)
		case "miss":
			a.cacheMisses.Add(1)
		}
	}
}

func (a *Aggregator) Stats() Stats {
	a.mu.RLock()
	defer a.mu.RUnlock()

	stats := Stats{
		Ingest:      a.kindStats(KindIngest),
		Query:       a.kindStats(KindQuery),
		CacheHits:   a.cacheHits.Load(),
		CacheMisses: a.cacheMisses.Load(),
		Since:       a.startTime,
	}
	if elapsed := time.Since(a.startTime).Minutes(); elapsed > 0 {
		stats.EventsPerMinute = float64(stats.Ingest.Total+stats.Query.Total) / elapsed
	}
	return stats
}

// kindStats reads one kind's totals. Caller holds a.mu.
func (a *Aggregator) kindStats(kind Kind) KindStats {
	k := a.kinds[kind]
	if k == nil {
		return KindStats{}
	}
	s := KindStats{
		Total:    k.total.Load(),
		Failures: k.failures.Load(),
		Tokens:   k.tokens.Load(),
	}
	if len(k.latencies) == 0 {
		return s
	}
	sorted := slices.Clone(k.latencies)
	slices.Sort(sorted)
	var sum int64
	for _, l := range sorted {
		sum += l
	}
	s.AvgLatencyMs = float64(sum) / float64(len(sorted))
	s.P50LatencyMs = percentile(sorted, 50)
	s.P95LatencyMs = percentile(sorted, 95)
	s.P99LatencyMs = percentile(sorted, 99)
	return s
}

func percentile(sorted []int64, pct int) int64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := (pct * len(sorted)) / 100
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
