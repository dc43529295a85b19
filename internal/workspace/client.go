package workspace

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/retrieval-pipeline/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/retrieval-pipeline/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/retrieval-pipeline/pkg/ratelimit"
)

const (
	maxResponseBytes = 10 * 1024 * 1024
	maxErrorBody     = 512
)

// Client talks to the workspace content API. Every request is paced through
// a shared token bucket so one process stays under the upstream rate limit.
type Client struct {
	baseURL       string
	token         string
	apiVersion    string
	versionHeader string
	httpClient    *http.Client
	pacer         *ratelimit.Pacer
	logger        *slog.Logger
}

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithPacer replaces the request pacer. A nil pacer disables pacing.
func WithPacer(p *ratelimit.Pacer) Option {
	return func(c *Client) { c.pacer = p }
}

// NewClient builds a Client from configuration.
func NewClient(cfg config.WorkspaceConfig, opts ...Option) *Client {
	c := &Client{
		baseURL:       strings.TrimRight(cfg.BaseURL, "/"),
		token:         cfg.Token,
		apiVersion:    cfg.APIVersion,
		versionHeader: cfg.VersionHeader,
		httpClient:    &http.Client{Timeout: cfg.Timeout},
		pacer:         ratelimit.NewPacer(cfg.RequestsPerSec, 1),
		logger:        slog.Default().With("component", "workspace-client"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetPage fetches a page's metadata.
func (c *Client) GetPage(ctx context.Context, pageID string) (*Page, error) {
	var page Page
	if err := c.do(ctx, "get_page", http.MethodGet, "/v1/pages/"+url.PathEscape(pageID), nil, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// ListChildren fetches one page of a block's direct children.
func (c *Client) ListChildren(ctx context.Context, blockID, cursor string, pageSize int) (*BlockList, error) {
	q := url.Values{}
	if cursor != "" {
		q.Set("start_cursor", cursor)
	}
	if pageSize > 0 {
		q.Set("page_size", strconv.Itoa(pageSize))
	}
	path := "/v1/blocks/" + url.PathEscape(blockID) + "/children"
	if enc := q.Encode(); enc != "" {
		path += "?" + enc
	}
	var list BlockList
	if err := c.do(ctx, "list_children", http.MethodGet, path, nil, &list); err != nil {
		return nil, err
	}
	return &list, nil
}

type listRequest struct {
	StartCursor string            `json:"start_cursor,omitempty"`
	PageSize    int               `json:"page_size,omitempty"`
	Filter      map[string]string `json:"filter,omitempty"`
}

// SearchPages fetches one page of every page the integration can access.
func (c *Client) SearchPages(ctx context.Context, cursor string, pageSize int) (*PageList, error) {
	body := listRequest{
		StartCursor: cursor,
		PageSize:    pageSize,
		Filter:      map[string]string{"property": "object", "value": "page"},
	}
	var list PageList
	if err := c.do(ctx, "search", http.MethodPost, "/v1/search", body, &list); err != nil {
		return nil, err
	}
	return &list, nil
}

// QueryDatabase fetches one page of a database's entries.
func (c *Client) QueryDatabase(ctx context.Context, databaseID, cursor string, pageSize int) (*PageList, error) {
	body := listRequest{StartCursor: cursor, PageSize: pageSize}
	var list PageList
	path := "/v1/databases/" + url.PathEscape(databaseID) + "/query"
	if err := c.do(ctx, "query_database", http.MethodPost, path, body, &list); err != nil {
		return nil, err
	}
	return &list, nil
}

func (c *Client) do(ctx context.Context, op, method, path string, body, out any) error {
	if err := c.pacer.Wait(ctx); err != nil {
		return fmt.Errorf("workspace %s: waiting for rate limit: %w", op, err)
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("workspace %s: encoding request: %w", op, err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("workspace %s: building request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if c.versionHeader != "" && c.apiVersion != "" {
		req.Header.Set(c.versionHeader, c.apiVersion)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &apperrors.UpstreamError{Service: "workspace", Operation: op, Body: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		c.logger.Debug("upstream rejected request",
			"operation", op,
			"status", resp.StatusCode,
		)
		return &apperrors.UpstreamError{
			Service:    "workspace",
			Operation:  op,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(snippet)),
		}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("workspace %s: reading response: %w", op, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("workspace %s: decoding response: %w", op, err)
	}
	return nil
}
