package monitor

import (
	"time"

	"github.com/google/uuid"
)

type Kind string

const (
	KindIngest Kind = "ingest"
	KindQuery  Kind = "query"
)

// UsageEvent records one ingestion or query. Events are append-only.
type UsageEvent struct {
	ID            string            `json:"id"`
	Kind          Kind              `json:"kind"`
	TokenEstimate int               `json:"token_estimate"`
	LatencyMs     *int64            `json:"latency_ms,omitempty"`
	Success       bool              `json:"success"`
	Timestamp     time.Time         `json:"timestamp"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// NewEvent stamps an event with a fresh id and the current UTC time.
func NewEvent(kind Kind, success bool, tokenEstimate int, metadata map[string]string) UsageEvent {
	return UsageEvent{
		ID:            uuid.NewString(),
		Kind:          kind,
		TokenEstimate: tokenEstimate,
		Success:       success,
		Timestamp:     time.Now().UTC(),
		Metadata:      metadata,
	}
}

// WithLatency returns a copy of the event carrying the elapsed time.
func (e UsageEvent) WithLatency(d time.Duration) UsageEvent {
	ms := d.Milliseconds()
	e.LatencyMs = &ms
	return e
}
