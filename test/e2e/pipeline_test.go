//go:build e2e

// Package e2e contains end-to-end tests that exercise a running server with
// real PostgreSQL, Redis and the managed backend.
//
// Prerequisites:
//   - cmd/server running with a valid backend API key
//   - PostgreSQL and Redis reachable by the server
//
// Run with:
//
//	E2E_TOKEN=... go test -v -tags=e2e -timeout=300s ./test/e2e/...
package e2e

import (
	"encoding/json"
	"io"
	"net/http"
	"os"
	"strings"
	"testing"
	"time"
)

// ---------------------------------------------------------------------------
// Config
// ---------------------------------------------------------------------------

type e2eConfig struct {
	ServerURL string
	Token     string
}

func loadE2EConfig() e2eConfig {
	return e2eConfig{
		ServerURL: envOrDefault("E2E_SERVER_URL", "http://localhost:8080"),
		Token:     os.Getenv("E2E_TOKEN"),
	}
}

type apiClient struct {
	cfg    e2eConfig
	client *http.Client
}

func newClient(t *testing.T) *apiClient {
	t.Helper()
	c := &apiClient{cfg: loadE2EConfig(), client: &http.Client{Timeout: 3 * time.Minute}}
	resp, err := c.client.Get(c.cfg.ServerURL + "/health/live")
	if err != nil {
		t.Skipf("server unavailable: %v", err)
	}
	resp.Body.Close()
	return c
}

func (c *apiClient) post(t *testing.T, path, body string) (int, map[string]any) {
	t.Helper()
	req, _ := http.NewRequest(http.MethodPost, c.cfg.ServerURL+path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("POST %s: decoding %q: %v", path, raw, err)
	}
	return resp.StatusCode, out
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

// TestServerHealth verifies both probes respond.
func TestServerHealth(t *testing.T) {
	c := newClient(t)
	for _, path := range []string{"/health/live", "/health/ready"} {
		resp, err := c.client.Get(c.cfg.ServerURL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("GET %s: expected 200, got %d", path, resp.StatusCode)
		}
	}
}

// TestSecretsAreNeverIndexed verifies that an env file is filtered.
func TestSecretsAreNeverIndexed(t *testing.T) {
	c := newClient(t)
	status, body := c.post(t, "/api/v1/documents", `{"filename":"secrets.env","content":"token=123","mime_type":"text/plain"}`)
	if status != http.StatusOK {
		t.Fatalf("expected 200, got %d: %v", status, body)
	}
	if body["status"] != "filtered" || body["document"] != nil {
		t.Errorf("expected filtered with no document, got %v", body)
	}
}

// TestIngestFingerprint verifies the recorded content hash is the SHA-256 of
// the content.
func TestIngestFingerprint(t *testing.T) {
	c := newClient(t)
	status, body := c.post(t, "/api/v1/documents", `{"filename":"notes.md","content":"Hello world","mime_type":"text/markdown"}`)
	if status != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %v", status, body)
	}
	doc, _ := body["document"].(map[string]any)
	const want = "64ec88ca00b268e5ba1a35678a1b5316d212f4f366b2477232534a8aeca37f3c"
	if doc["content_hash"] != want {
		t.Errorf("expected content_hash %s, got %v", want, doc["content_hash"])
	}
}

// TestQueryIsCachedWhenConfident asks the same question twice. The second
// answer must come from the cache whenever the first cleared the confidence
// threshold, and must not otherwise.
func TestQueryIsCachedWhenConfident(t *testing.T) {
	c := newClient(t)
	if status, _ := c.post(t, "/api/v1/cache/invalidate", `{}`); status != http.StatusOK {
		t.Fatalf("invalidate: expected 200, got %d", status)
	}

	status, first := c.post(t, "/api/v1/query", `{"query":"What does the notes file say?"}`)
	if status != http.StatusOK && status != http.StatusBadGateway {
		t.Fatalf("expected 200 or 502, got %d: %v", status, first)
	}
	if first["cached"] == true {
		t.Fatalf("first answer after invalidation came from cache: %v", first)
	}

	_, second := c.post(t, "/api/v1/query", `{"query":"  what does the NOTES file say?  "}`)
	confident := first["errored"] != true && first["confidence"].(float64) > 0.7
	if got := second["cached"] == true; got != confident {
		t.Errorf("cached=%v, expected %v (first confidence %v)", got, confident, first["confidence"])
	}
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
