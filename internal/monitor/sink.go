package monitor

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/Adithya-Monish-Kumar-K/retrieval-pipeline/pkg/kafka"
)

// Execer is satisfied by *sql.DB and *sql.Tx.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// PostgresSink appends events to the usage_events table.
type PostgresSink struct {
	db Execer
}

func NewPostgresSink(db Execer) *PostgresSink {
	return &PostgresSink{db: db}
}

func (s *PostgresSink) Append(ctx context.Context, ev UsageEvent) error {
	meta := ev.Metadata
	if meta == nil {
		meta = map[string]string{}
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("encoding event metadata: %w", err)
	}
	var latency sql.NullInt64
	if ev.LatencyMs != nil {
		latency = sql.NullInt64{Int64: *ev.LatencyMs, Valid: true}
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO usage_events (id, kind, token_estimate, latency_ms, success, occurred_at, metadata)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (id) DO NOTHING`,
		ev.ID, string(ev.Kind), ev.TokenEstimate, latency, ev.Success, ev.Timestamp, data,
	)
	if err != nil {
		return fmt.Errorf("inserting usage event: %w", err)
	}
	return nil
}

// Publisher is satisfied by *kafka.Producer.
type Publisher interface {
	Publish(ctx context.Context, event kafka.Event) error
}

// KafkaSink publishes events to the usage-events topic, keyed by kind so
// each kind stays ordered within its partition.
type KafkaSink struct {
	producer Publisher
}

func NewKafkaSink(p Publisher) *KafkaSink {
	return &KafkaSink{producer: p}
}

func (s *KafkaSink) Append(ctx context.Context, ev UsageEvent) error {
	if err := s.producer.Publish(ctx, kafka.Event{Key: string(ev.Kind), Value: ev}); err != nil {
		return fmt.Errorf("publishing usage event: %w", err)
	}
	return nil
}
