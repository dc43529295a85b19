package query

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/retrieval-pipeline/internal/backend"
	"github.com/Adithya-Monish-Kumar-K/retrieval-pipeline/internal/monitor"
	"github.com/Adithya-Monish-Kumar-K/retrieval-pipeline/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/retrieval-pipeline/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/retrieval-pipeline/pkg/metrics"
)

type fakeGenerator struct {
	calls      atomic.Int32
	confidence float64
	err        error
	errored    bool
	block      chan struct{}
}

func (g *fakeGenerator) Generate(_ context.Context, q string, limit int) (*backend.Generation, error) {
	g.calls.Add(1)
	if g.block != nil {
		<-g.block
	}
	if g.err != nil {
		return nil, g.err
	}
	return &backend.Generation{
		Text:       "answer to " + q,
		Confidence: g.confidence,
		Errored:    g.errored,
		Sources:    []backend.Source{{DocumentID: "d1", Filename: "a.md", Snippet: "x", Relevance: 0.9}},
	}, nil
}

type eventLog struct {
	mu     sync.Mutex
	events []monitor.UsageEvent
}

func (l *eventLog) Track(_ context.Context, ev monitor.UsageEvent) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
	return true
}

func newEngine(gen Generator, tracker Tracker) *Engine {
	cfg := config.Default().Query
	return NewEngine(gen, NewMemoryStore(100, time.Hour), tracker, cfg, WithMetrics(metrics.New(nil)))
}

func TestLowConfidenceAnswersAreNotCached(t *testing.T) {
	gen := &fakeGenerator{confidence: 0.5}
	e := newEngine(gen, &eventLog{})

	first, err := e.Process(t.Context(), "What is the release process?", 3)
	require.NoError(t, err)
	assert.False(t, first.Cached)
	assert.Equal(t, 0.5, first.Confidence)

	second, err := e.Process(t.Context(), "What is the release process?", 3)
	require.NoError(t, err)
	assert.False(t, second.Cached)
	assert.EqualValues(t, 2, gen.calls.Load())
}

func TestConfidentAnswersAreServedFromCache(t *testing.T) {
	gen := &fakeGenerator{confidence: 0.9}
	e := newEngine(gen, &eventLog{})

	first, err := e.Process(t.Context(), "  What is the Release Process?  ", 0)
	require.NoError(t, err)
	assert.False(t, first.Cached)

	second, err := e.Process(t.Context(), "what is the release process?", 5)
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, first.Text, second.Text)
	assert.Equal(t, first.Sources, second.Sources)
	assert.EqualValues(t, 1, gen.calls.Load())
}

func TestThresholdIsExclusive(t *testing.T) {
	gen := &fakeGenerator{confidence: 0.7}
	e := newEngine(gen, &eventLog{})
	for range 2 {
		_, err := e.Process(t.Context(), "exactly at threshold", 3)
		require.NoError(t, err)
	}
	assert.EqualValues(t, 2, gen.calls.Load())
}

func TestErroredAnswersAreNotCached(t *testing.T) {
	gen := &fakeGenerator{confidence: 0.95, errored: true}
	e := newEngine(gen, &eventLog{})
	for range 2 {
		ans, err := e.Process(t.Context(), "broken completion", 3)
		require.NoError(t, err)
		assert.True(t, ans.Errored)
	}
	assert.EqualValues(t, 2, gen.calls.Load())
}

func TestBackendFailureYieldsErroredAnswerAndFailedEvent(t *testing.T) {
	gen := &fakeGenerator{err: &apperrors.UpstreamError{Service: "backend", Operation: "search", StatusCode: 503}}
	events := &eventLog{}
	e := newEngine(gen, events)

	ans, err := e.Process(t.Context(), "will this work", 3)
	require.NoError(t, err)
	assert.True(t, ans.Errored)
	assert.Empty(t, ans.Sources)

	require.Len(t, events.events, 1)
	ev := events.events[0]
	assert.Equal(t, monitor.KindQuery, ev.Kind)
	assert.False(t, ev.Success)
	require.NotNil(t, ev.LatencyMs)
}

func TestQueryEventsRecordCacheStatus(t *testing.T) {
	gen := &fakeGenerator{confidence: 0.99}
	events := &eventLog{}
	e := newEngine(gen, events)

	for range 2 {
		_, err := e.Process(t.Context(), "cache status please", 3)
		require.NoError(t, err)
	}
	require.Len(t, events.events, 2)
	assert.Equal(t, "miss", events.events[0].Metadata["cache"])
	assert.Equal(t, "hit", events.events[1].Metadata["cache"])
	assert.True(t, events.events[1].Success)
	assert.Positive(t, events.events[0].TokenEstimate)
}

func TestValidationRejectsBeforeIO(t *testing.T) {
	gen := &fakeGenerator{confidence: 0.9}
	e := newEngine(gen, &eventLog{})
	tests := []struct {
		name  string
		query string
		limit int
	}{
		{"too short", "hi", 3},
		{"short after trim", "   ab   ", 3},
		{"too long", strings.Repeat("a", 501), 3},
		{"limit too high", "valid query", 11},
		{"negative limit", "valid query", -1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.Process(t.Context(), tt.query, tt.limit)
			require.Error(t, err)
			assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
			assert.Equal(t, http.StatusBadRequest, apperrors.HTTPStatusCode(err))
		})
	}
	assert.Zero(t, gen.calls.Load())
}

func TestConcurrentMissesShareOneGeneration(t *testing.T) {
	gen := &fakeGenerator{confidence: 0.2, block: make(chan struct{})}
	e := newEngine(gen, &eventLog{})

	var wg sync.WaitGroup
	for range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.Process(context.Background(), "same question", 3)
			assert.NoError(t, err)
		}()
	}
	// Let the callers pile up behind the first generation.
	time.Sleep(50 * time.Millisecond)
	close(gen.block)
	wg.Wait()
	assert.Less(t, gen.calls.Load(), int32(5))
}

func TestKeyNormalization(t *testing.T) {
	assert.Equal(t, Key("Hello World"), Key("  hello world\n"))
	assert.NotEqual(t, Key("hello world"), Key("hello  world"))
	assert.Len(t, Key("x"), 64)
}

func TestInvalidateClearsCache(t *testing.T) {
	gen := &fakeGenerator{confidence: 0.9}
	e := newEngine(gen, &eventLog{})
	_, err := e.Process(t.Context(), "cached question", 3)
	require.NoError(t, err)

	n, err := e.Invalidate(t.Context())
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	ans, err := e.Process(t.Context(), "cached question", 3)
	require.NoError(t, err)
	assert.False(t, ans.Cached)
}

type failingStore struct{}

func (failingStore) Get(context.Context, string) (*CacheEntry, error) { return nil, errors.New("down") }
func (failingStore) Put(context.Context, *CacheEntry) error           { return errors.New("down") }
func (failingStore) Invalidate(context.Context) (int64, error)        { return 0, errors.New("down") }

func TestCacheFailuresDoNotBreakQueries(t *testing.T) {
	gen := &fakeGenerator{confidence: 0.9}
	e := NewEngine(gen, failingStore{}, nil, config.Default().Query)

	ans, err := e.Process(t.Context(), "resilient question", 3)
	require.NoError(t, err)
	assert.False(t, ans.Errored)
}

func TestHandler(t *testing.T) {
	gen := &fakeGenerator{confidence: 0.9}
	h := NewHandler(newEngine(gen, nil))

	rec := httptest.NewRecorder()
	h.Query(rec, httptest.NewRequest(http.MethodPost, "/api/v1/query", strings.NewReader(`{"query":"how to deploy","limit":2}`)))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"cached":false`)

	rec = httptest.NewRecorder()
	h.Query(rec, httptest.NewRequest(http.MethodPost, "/api/v1/query", strings.NewReader(`{"query":"no"}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	h.InvalidateCache(rec, httptest.NewRequest(http.MethodPost, "/api/v1/cache/invalidate", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"invalidated":1}`, rec.Body.String())
}

func TestHandlerErroredAnswerIsBadGateway(t *testing.T) {
	gen := &fakeGenerator{err: errors.New("boom")}
	h := NewHandler(newEngine(gen, nil))

	rec := httptest.NewRecorder()
	h.Query(rec, httptest.NewRequest(http.MethodPost, "/api/v1/query", strings.NewReader(`{"query":"how to deploy"}`)))
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, rec.Body.String(), `"errored":true`)
}
