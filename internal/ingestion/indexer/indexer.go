// Package indexer ingests a single document: it applies the security filter,
// deduplicates by content fingerprint, uploads new content to the search
// backend and records the document's metadata.
package indexer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/retrieval-pipeline/internal/ingestion"
	"github.com/Adithya-Monish-Kumar-K/retrieval-pipeline/internal/ingestion/security"
	"github.com/Adithya-Monish-Kumar-K/retrieval-pipeline/internal/ingestion/tokens"
	"github.com/Adithya-Monish-Kumar-K/retrieval-pipeline/internal/monitor"
	"github.com/Adithya-Monish-Kumar-K/retrieval-pipeline/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/retrieval-pipeline/pkg/metrics"
)

// MetadataStore persists document records. FindByHash returns nil, nil when
// no record carries the fingerprint.
type MetadataStore interface {
	FindByHash(ctx context.Context, contentHash string) (*ingestion.DocumentRecord, error)
	Save(ctx context.Context, rec *ingestion.DocumentRecord) error
}

// Uploader hands content to the search backend and returns its locator.
type Uploader interface {
	Upload(ctx context.Context, content []byte, mimeType, displayName string) (string, error)
}

// Tracker receives usage events.
type Tracker interface {
	Track(ctx context.Context, ev monitor.UsageEvent) bool
}

// Ingester is the operation the sync and local-file paths depend on.
type Ingester interface {
	Ingest(ctx context.Context, filename, content, mimeType string, tags ...string) (*ingestion.DocumentRecord, error)
}

type Indexer struct {
	store    MetadataStore
	uploader Uploader
	tracker  Tracker
	counter  tokens.Counter
	metrics  *metrics.Metrics
	now      func() time.Time
	logger   *slog.Logger
}

type Option func(*Indexer)

func WithTokenCounter(c tokens.Counter) Option {
	return func(ix *Indexer) { ix.counter = c }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(ix *Indexer) { ix.metrics = m }
}

func New(store MetadataStore, uploader Uploader, tracker Tracker, opts ...Option) *Indexer {
	ix := &Indexer{
		store:    store,
		uploader: uploader,
		tracker:  tracker,
		counter:  tokens.Heuristic{},
		now:      func() time.Time { return time.Now().UTC() },
		logger:   slog.Default().With("component", "indexer"),
	}
	for _, opt := range opts {
		opt(ix)
	}
	return ix
}

// Ingest returns nil, nil when the security filter rejects the document.
// When a record with the same fingerprint exists it is returned unchanged
// and nothing is uploaded. Otherwise the content is uploaded and a new record
// is saved; a failed save is logged and the record is still returned.
//
// The fingerprint lookup and the save are not atomic: two concurrent calls
// with identical new content may both upload.
func (ix *Indexer) Ingest(ctx context.Context, filename, content, mimeType string, tags ...string) (*ingestion.DocumentRecord, error) {
	log := logger.FromContext(ctx).With("component", "indexer", "filename", filename)
	if !security.IsIndexable(filename, content) {
		log.Info("document filtered")
		ix.count("filtered")
		return nil, nil
	}

	hash := security.Fingerprint(content)
	existing, err := ix.store.FindByHash(ctx, hash)
	if err != nil {
		log.Warn("fingerprint lookup failed, treating as new", "content_hash", hash, "error", err)
	}
	if existing != nil {
		log.Debug("duplicate content, skipping upload", "existing_id", existing.ID, "content_hash", hash)
		ix.count("duplicate")
		return existing, nil
	}

	tokenEstimate := ix.counter.Count(content)
	start := time.Now()
	locator, err := ix.uploader.Upload(ctx, []byte(content), mimeType, filename)
	elapsed := time.Since(start)
	if err != nil {
		ix.count("failed")
		ix.tracker.Track(ctx, monitor.NewEvent(monitor.KindIngest, false, tokenEstimate, map[string]string{
			"filename": filename,
			"error":    err.Error(),
		}).WithLatency(elapsed))
		return nil, fmt.Errorf("uploading %s: %w", filename, err)
	}

	rec := &ingestion.DocumentRecord{
		ID:            ingestion.DocumentID(filename),
		Locator:       locator,
		Filename:      filename,
		MimeType:      mimeType,
		ContentHash:   hash,
		IndexedAt:     ix.now(),
		TokenEstimate: tokenEstimate,
		Tags:          tags,
	}
	if err := ix.store.Save(ctx, rec); err != nil {
		log.Error("saving document metadata failed, upload is not rolled back",
			"doc_id", rec.ID,
			"locator", locator,
			"error", err,
		)
	}
	ix.count("indexed")
	ix.tracker.Track(ctx, monitor.NewEvent(monitor.KindIngest, true, tokenEstimate, map[string]string{
		"filename":    filename,
		"document_id": rec.ID,
		"locator":     locator,
	}).WithLatency(elapsed))
	log.Info("document indexed", "doc_id", rec.ID, "locator", locator, "tokens", tokenEstimate)
	return rec, nil
}

func (ix *Indexer) count(status string) {
	if ix.metrics != nil {
		ix.metrics.DocumentsIngested.WithLabelValues(status).Inc()
	}
}
