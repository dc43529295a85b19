//go:build integration

// Package integration contains tests that verify the interaction between
// pipeline components against a real PostgreSQL. The managed backend is
// replaced by an in-process fake.
//
// Run with:
//
//	go test -v -tags=integration ./test/integration/...
package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Adithya-Monish-Kumar-K/retrieval-pipeline/internal/backend"
	"github.com/Adithya-Monish-Kumar-K/retrieval-pipeline/internal/ingestion"
	ingesthandler "github.com/Adithya-Monish-Kumar-K/retrieval-pipeline/internal/ingestion/handler"
	"github.com/Adithya-Monish-Kumar-K/retrieval-pipeline/internal/ingestion/indexer"
	"github.com/Adithya-Monish-Kumar-K/retrieval-pipeline/internal/ingestion/store"
	"github.com/Adithya-Monish-Kumar-K/retrieval-pipeline/internal/monitor"
	"github.com/Adithya-Monish-Kumar-K/retrieval-pipeline/internal/query"
	"github.com/Adithya-Monish-Kumar-K/retrieval-pipeline/internal/router"
	"github.com/Adithya-Monish-Kumar-K/retrieval-pipeline/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/retrieval-pipeline/pkg/postgres"
)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// skipIfNoPostgres skips the test when PostgreSQL is unavailable.
func skipIfNoPostgres(t *testing.T) *postgres.Client {
	t.Helper()
	db, err := postgres.New(testPostgresConfig())
	if err != nil {
		t.Skipf("skipping integration test: postgres unavailable: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(t.Context()); err != nil {
		t.Fatalf("migrating: %v", err)
	}
	return db
}

func testPostgresConfig() config.PostgresConfig {
	return config.PostgresConfig{
		Host:            envOrDefault("TEST_POSTGRES_HOST", "localhost"),
		Port:            envOrDefaultInt("TEST_POSTGRES_PORT", 5432),
		Database:        envOrDefault("TEST_POSTGRES_DB", "retrieval_test"),
		User:            envOrDefault("TEST_POSTGRES_USER", "retrieval"),
		Password:        envOrDefault("TEST_POSTGRES_PASSWORD", "localdev"),
		SSLMode:         "disable",
		MaxOpenConns:    5,
		MaxIdleConns:    2,
		ConnMaxLifetime: 5 * time.Minute,
	}
}

type fakeBackend struct {
	uploads atomic.Int32
}

func (f *fakeBackend) Upload(_ context.Context, _ []byte, _, displayName string) (string, error) {
	n := f.uploads.Add(1)
	return fmt.Sprintf("file-%d-%s", n, displayName), nil
}

func (f *fakeBackend) Generate(_ context.Context, q string, _ int) (*backend.Generation, error) {
	return &backend.Generation{Text: "answer to " + q, Confidence: 0.95}, nil
}

type pipeline struct {
	srv     *httptest.Server
	backend *fakeBackend
	agg     *monitor.Aggregator
}

// newPipelineServer wires the real store, sink, indexer and engine behind the
// production router.
func newPipelineServer(t *testing.T, db *postgres.Client) *pipeline {
	t.Helper()
	cfg := config.Default()
	fb := &fakeBackend{}
	agg := monitor.NewAggregator()
	mon := monitor.New(monitor.NewPostgresSink(db.DB), cfg.Monitor.LatencyThreshold, monitor.WithObserver(agg))
	docs := store.NewPostgresStore(db)
	ix := indexer.New(docs, fb, mon)
	engine := query.NewEngine(fb, query.NewMemoryStore(100, cfg.Query.CacheTTL), mon, cfg.Query)

	h := router.New(router.Handlers{
		Documents: ingesthandler.New(ix, docs),
		Query:     query.NewHandler(engine),
		Usage:     monitor.NewHandler(agg, monitor.NewSnapshotStore(db.DB)),
	}, router.Options{
		Tokens:             []string{"integration-token"},
		RateLimitPerMinute: 1000,
		RequestTimeout:     10 * time.Second,
		SyncTimeout:        time.Minute,
	})
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return &pipeline{srv: srv, backend: fb, agg: agg}
}

func (p *pipeline) post(t *testing.T, path string, payload any) *http.Response {
	t.Helper()
	body, _ := json.Marshal(payload)
	req, _ := http.NewRequest(http.MethodPost, p.srv.URL+path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer integration-token")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (p *pipeline) get(t *testing.T, path string) *http.Response {
	t.Helper()
	req, _ := http.NewRequest(http.MethodGet, p.srv.URL+path, nil)
	req.Header.Set("X-API-Key", "integration-token")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func uniqueName(t *testing.T, ext string) string {
	return fmt.Sprintf("it-%s-%d%s", t.Name(), time.Now().UnixNano(), ext)
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

// TestIngestDeduplicatesByContent verifies that identical content is uploaded
// once and the stored record is returned for the repeat.
func TestIngestDeduplicatesByContent(t *testing.T) {
	db := skipIfNoPostgres(t)
	p := newPipelineServer(t, db)

	content := fmt.Sprintf("integration body %d", time.Now().UnixNano())
	req := ingestion.IngestRequest{Filename: uniqueName(t, ".md"), Content: content, MimeType: "text/markdown"}

	resp := p.post(t, "/api/v1/documents", req)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	var first ingestion.IngestResponse
	json.NewDecoder(resp.Body).Decode(&first)
	if first.Document == nil || first.Document.ID != ingestion.DocumentID(req.Filename) {
		t.Fatalf("unexpected document: %+v", first.Document)
	}

	resp = p.post(t, "/api/v1/documents", req)
	var second ingestion.IngestResponse
	json.NewDecoder(resp.Body).Decode(&second)
	if second.Document == nil || second.Document.Locator != first.Document.Locator {
		t.Errorf("expected the stored record on repeat, got %+v", second.Document)
	}
	if got := p.backend.uploads.Load(); got != 1 {
		t.Errorf("expected 1 upload, got %d", got)
	}

	resp = p.get(t, "/api/v1/documents/"+first.Document.ID)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200 for stored record, got %d", resp.StatusCode)
	}
}

// TestSensitiveFileIsFiltered verifies that secret-bearing files never reach
// the backend or the metadata store.
func TestSensitiveFileIsFiltered(t *testing.T) {
	db := skipIfNoPostgres(t)
	p := newPipelineServer(t, db)

	resp := p.post(t, "/api/v1/documents", ingestion.IngestRequest{
		Filename: "secrets.env",
		Content:  "token=123",
		MimeType: "text/plain",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var body ingestion.IngestResponse
	json.NewDecoder(resp.Body).Decode(&body)
	if body.Status != ingestion.StatusFiltered || body.Document != nil {
		t.Errorf("expected filtered with no document, got %+v", body)
	}
	if got := p.backend.uploads.Load(); got != 0 {
		t.Errorf("expected no uploads, got %d", got)
	}
}

// TestUsageEventsArePersisted verifies that a successful ingest and a query
// both land in usage_events and in the live aggregates.
func TestUsageEventsArePersisted(t *testing.T) {
	db := skipIfNoPostgres(t)
	p := newPipelineServer(t, db)
	since := time.Now().Add(-time.Second)

	p.post(t, "/api/v1/documents", ingestion.IngestRequest{
		Filename: uniqueName(t, ".txt"),
		Content:  fmt.Sprintf("usage body %d", time.Now().UnixNano()),
		MimeType: "text/plain",
	})
	resp := p.post(t, "/api/v1/query", query.Request{Query: "what is persisted"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 from query, got %d", resp.StatusCode)
	}

	var n int
	err := db.DB.QueryRowContext(t.Context(),
		`SELECT COUNT(*) FROM usage_events WHERE occurred_at >= $1`, since).Scan(&n)
	if err != nil {
		t.Fatalf("counting usage events: %v", err)
	}
	if n < 2 {
		t.Errorf("expected at least 2 persisted events, got %d", n)
	}

	stats := p.agg.Stats()
	if stats.Ingest.Total != 1 || stats.Query.Total != 1 {
		t.Errorf("unexpected aggregates: ingest=%d query=%d", stats.Ingest.Total, stats.Query.Total)
	}
}

// TestSnapshotRoundTrip verifies that saved aggregates are served by the
// snapshots endpoint, newest first.
func TestSnapshotRoundTrip(t *testing.T) {
	db := skipIfNoPostgres(t)
	p := newPipelineServer(t, db)
	snapshots := monitor.NewSnapshotStore(db.DB)

	p.agg.Observe(monitor.NewEvent(monitor.KindQuery, true, 12, nil).WithLatency(40 * time.Millisecond))
	if err := snapshots.Save(t.Context(), p.agg.Stats()); err != nil {
		t.Fatalf("saving snapshot: %v", err)
	}

	latest, err := snapshots.Latest(t.Context())
	if err != nil {
		t.Fatalf("loading latest snapshot: %v", err)
	}
	if latest == nil || latest.Query.Total != 1 {
		t.Fatalf("unexpected latest snapshot: %+v", latest)
	}

	resp := p.get(t, "/api/v1/usage/snapshots?limit=1")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

// TestUnauthenticatedRequestRejected verifies that API endpoints reject
// requests without a token.
func TestUnauthenticatedRequestRejected(t *testing.T) {
	db := skipIfNoPostgres(t)
	p := newPipelineServer(t, db)

	for _, path := range []string{"/api/v1/documents", "/api/v1/usage/stats"} {
		resp, err := http.Get(p.srv.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("GET %s: expected 401, got %d", path, resp.StatusCode)
		}
	}
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrDefaultInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
