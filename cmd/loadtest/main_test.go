package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPercentile(t *testing.T) {
	sorted := make([]time.Duration, 100)
	for i := range sorted {
		sorted[i] = time.Duration(i+1) * time.Millisecond
	}
	assert.Equal(t, 50*time.Millisecond, percentile(sorted, 50))
	assert.Equal(t, 99*time.Millisecond, percentile(sorted, 99))
	assert.Equal(t, 100*time.Millisecond, percentile(sorted, 100))
	assert.Equal(t, time.Millisecond, percentile(sorted, 0))
	assert.Zero(t, percentile(nil, 50))
}

func TestSummarizeClassifiesResponses(t *testing.T) {
	sum := summarize([]sample{
		{latency: 3 * time.Millisecond, status: http.StatusOK, cached: true},
		{latency: time.Millisecond, status: http.StatusOK},
		{latency: 2 * time.Millisecond, status: http.StatusBadGateway, errored: true},
		{latency: 4 * time.Millisecond, status: http.StatusTooManyRequests},
		{latency: time.Second},
	}, time.Second)

	assert.Equal(t, 5, sum.Requests)
	assert.Equal(t, 2, sum.Succeeded)
	assert.Equal(t, 1, sum.Degraded)
	assert.Equal(t, 2, sum.Failed)
	assert.Equal(t, 1, sum.CacheHits)
	assert.InDelta(t, 5.0, sum.Throughput, 0.001)
	assert.Equal(t, map[int]int{200: 2, 502: 1, 429: 1}, sum.Statuses)
	assert.Equal(t, time.Millisecond, sum.Latency.Min)
	assert.Equal(t, 4*time.Millisecond, sum.Latency.Max, "unanswered requests are excluded from latency")
}

func TestRenderIncludesStatuses(t *testing.T) {
	var buf bytes.Buffer
	render(&buf, Summary{Requests: 2, Succeeded: 2, Statuses: map[int]int{200: 2}})
	assert.Contains(t, buf.String(), "status 200")
	assert.Contains(t, buf.String(), "100.0%")
}

func TestReadQuestions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "q.txt")
	require.NoError(t, os.WriteFile(path, []byte("# warmup\nfirst?\n\n  second?  \n"), 0o644))
	qs, err := readQuestions(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"first?", "second?"}, qs)

	empty := filepath.Join(t.TempDir(), "empty.txt")
	require.NoError(t, os.WriteFile(empty, []byte("# nothing\n"), 0o644))
	_, err = readQuestions(empty)
	assert.Error(t, err)
}

func TestRunAgainstServer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/query", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode(map[string]any{"text": "ok", "cached": true})
	}))
	defer srv.Close()

	sum := run(context.Background(), target{
		url:       srv.URL,
		token:     "tok",
		workers:   2,
		duration:  100 * time.Millisecond,
		questions: []string{"a question"},
	})
	assert.Positive(t, sum.Requests)
	assert.Equal(t, sum.Requests, sum.CacheHits)
	assert.Zero(t, sum.Failed)
}
