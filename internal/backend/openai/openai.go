// Package openai implements backend.Backend on OpenAI files, vector stores
// and chat completions.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"

	"github.com/Adithya-Monish-Kumar-K/retrieval-pipeline/internal/backend"
	"github.com/Adithya-Monish-Kumar-K/retrieval-pipeline/internal/ingestion"
	"github.com/Adithya-Monish-Kumar-K/retrieval-pipeline/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/retrieval-pipeline/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/retrieval-pipeline/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/retrieval-pipeline/pkg/resilience"
)

const (
	storeListPageSize = 100
	maxSnippetChars   = 1200
	noAnswerText      = "I could not find any relevant information in the indexed documents."
)

var ErrAPIKeyNotSet = errors.New("backend API key not set")

const systemPrompt = `You answer questions using only the provided document excerpts.
Respond with a JSON object {"answer": string, "confidence": number}.
confidence is between 0 and 1 and reflects how well the excerpts support the answer.
If the excerpts do not contain the answer, say so and use a confidence below 0.3.`

// Backend is an OpenAI vector-store backed implementation of backend.Backend.
type Backend struct {
	client  openai.Client
	cfg     config.BackendConfig
	retry   resilience.RetryConfig
	breaker *resilience.CircuitBreaker
	metrics *metrics.Metrics
	logger  *slog.Logger

	mu      sync.Mutex
	storeID string
}

type Option func(*backendOptions)

type backendOptions struct {
	httpClient *http.Client
	metrics    *metrics.Metrics
	storeID    string
}

// WithHTTPClient routes SDK traffic through hc.
func WithHTTPClient(hc *http.Client) Option {
	return func(o *backendOptions) { o.httpClient = hc }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(o *backendOptions) { o.metrics = m }
}

// WithStoreID pins the vector store and skips the lookup by name.
func WithStoreID(id string) Option {
	return func(o *backendOptions) { o.storeID = id }
}

func New(cfg config.BackendConfig, opts ...Option) (*Backend, error) {
	if cfg.APIKey == "" {
		return nil, ErrAPIKeyNotSet
	}
	var o backendOptions
	for _, opt := range opts {
		opt(&o)
	}

	// Retries are owned by resilience.Do so every upstream shares one policy.
	reqOpts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.BaseURL))
	}
	if o.httpClient != nil {
		reqOpts = append(reqOpts, option.WithHTTPClient(o.httpClient))
	}

	b := &Backend{
		client: openai.NewClient(reqOpts...),
		cfg:    cfg,
		retry: resilience.RetryConfig{
			MaxAttempts:  cfg.Retry.MaxAttempts,
			InitialDelay: cfg.Retry.InitialDelay,
			MaxDelay:     cfg.Retry.MaxDelay,
			Multiplier:   2,
			ShouldRetry:  apperrors.IsRetryable,
		},
		metrics: o.metrics,
		storeID: o.storeID,
		logger:  slog.Default().With("component", "openai-backend"),
	}
	b.breaker = resilience.NewCircuitBreaker("openai", resilience.CircuitBreakerConfig{
		IsFailure:     countsAgainstBreaker,
		OnStateChange: o.metrics.BreakerObserver(),
	})
	return b, nil
}

// countsAgainstBreaker ignores caller mistakes so a bad request cannot open
// the circuit for everyone.
func countsAgainstBreaker(err error) bool {
	var up *apperrors.UpstreamError
	if errors.As(err, &up) && up.StatusCode >= 400 && up.StatusCode < 500 {
		return up.StatusCode == http.StatusTooManyRequests
	}
	return !errors.Is(err, context.Canceled)
}

// invoke runs one SDK call behind the breaker and under the retry policy,
// translating SDK errors into UpstreamError so the retry classifier can see
// the status code.
func invoke[T any](ctx context.Context, b *Backend, op string, fn func() (T, error)) (T, error) {
	cfg := b.retry
	cfg.OnRetry = b.metrics.RetryObserver("backend_" + op)
	return resilience.Do(ctx, "backend."+op, cfg, func() (T, error) {
		return resilience.Call(b.breaker, func() (T, error) {
			v, err := fn()
			if err != nil {
				return v, classify(op, err)
			}
			return v, nil
		})
	})
}

func classify(op string, err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return &apperrors.UpstreamError{
			Service:    "backend",
			Operation:  op,
			StatusCode: apiErr.StatusCode,
			Body:       apiErr.Message,
		}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var up *apperrors.UpstreamError
	if errors.As(err, &up) {
		return err
	}
	return &apperrors.UpstreamError{Service: "backend", Operation: op, Body: err.Error()}
}

// EnsureStore returns the vector store id, finding the store by name or
// creating it on first use. The id is memoized.
func (b *Backend) EnsureStore(ctx context.Context) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.storeID != "" {
		return b.storeID, nil
	}

	after := ""
	for {
		params := openai.VectorStoreListParams{Limit: openai.Int(storeListPageSize)}
		if after != "" {
			params.After = openai.String(after)
		}
		page, err := invoke(ctx, b, "list_stores", func() (*paginationPage, error) {
			p, err := b.client.VectorStores.List(ctx, params)
			if err != nil {
				return nil, err
			}
			return &paginationPage{data: p.Data, hasMore: p.HasMore}, nil
		})
		if err != nil {
			return "", fmt.Errorf("listing vector stores: %w", err)
		}
		for _, vs := range page.data {
			if vs.Name == b.cfg.VectorStoreName {
				b.storeID = vs.ID
				b.logger.Info("using existing vector store", "store_id", vs.ID)
				return vs.ID, nil
			}
		}
		if !page.hasMore || len(page.data) == 0 {
			break
		}
		after = page.data[len(page.data)-1].ID
	}

	vs, err := invoke(ctx, b, "create_store", func() (*openai.VectorStore, error) {
		return b.client.VectorStores.New(ctx, openai.VectorStoreNewParams{
			Name: openai.String(b.cfg.VectorStoreName),
		})
	})
	if err != nil {
		return "", fmt.Errorf("creating vector store %q: %w", b.cfg.VectorStoreName, err)
	}
	b.storeID = vs.ID
	b.logger.Info("created vector store", "store_id", vs.ID, "name", b.cfg.VectorStoreName)
	return vs.ID, nil
}

type paginationPage struct {
	data    []openai.VectorStore
	hasMore bool
}

// Upload sends content to the Files API, attaches it to the vector store and
// waits until processing leaves in_progress. The returned locator is the
// file id.
func (b *Backend) Upload(ctx context.Context, content []byte, mimeType, displayName string) (string, error) {
	storeID, err := b.EnsureStore(ctx)
	if err != nil {
		return "", err
	}

	file, err := invoke(ctx, b, "upload_file", func() (*openai.FileObject, error) {
		return b.client.Files.New(ctx, openai.FileNewParams{
			File:    openai.File(bytes.NewReader(content), displayName, mimeType),
			Purpose: openai.FilePurposeAssistants,
		})
	})
	if err != nil {
		return "", fmt.Errorf("uploading %s: %w", displayName, err)
	}

	_, err = invoke(ctx, b, "attach_file", func() (*openai.VectorStoreFile, error) {
		return b.client.VectorStores.Files.New(ctx, storeID, openai.VectorStoreFileNewParams{FileID: file.ID})
	})
	if err != nil {
		return "", fmt.Errorf("attaching %s to vector store: %w", file.ID, err)
	}

	if err := b.waitProcessed(ctx, storeID, file.ID); err != nil {
		return "", err
	}
	return file.ID, nil
}

func (b *Backend) waitProcessed(ctx context.Context, storeID, fileID string) error {
	poll := b.cfg.UploadPoll
	if poll <= 0 {
		poll = time.Second
	}
	timeout := b.cfg.UploadTimeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(poll)
	defer ticker.Stop()
	for {
		vf, err := invoke(ctx, b, "poll_file", func() (*openai.VectorStoreFile, error) {
			return b.client.VectorStores.Files.Get(ctx, storeID, fileID)
		})
		if err != nil {
			return fmt.Errorf("polling file %s: %w", fileID, err)
		}
		switch vf.Status {
		case openai.VectorStoreFileStatusCompleted:
			return nil
		case openai.VectorStoreFileStatusFailed, openai.VectorStoreFileStatusCancelled:
			return &apperrors.UpstreamError{
				Service:   "backend",
				Operation: "process_file",
				Body:      fmt.Sprintf("file %s %s: %s", fileID, vf.Status, vf.LastError.Message),
			}
		}
		select {
		case <-ctx.Done():
			return apperrors.Newf(apperrors.ErrTimeout, http.StatusGatewayTimeout,
				"file %s still processing after %s", fileID, timeout)
		case <-ticker.C:
		}
	}
}

// Generate searches the vector store and asks the chat model for a grounded
// answer. No hits yields a zero-confidence answer without calling the model.
func (b *Backend) Generate(ctx context.Context, query string, limit int) (*backend.Generation, error) {
	storeID, err := b.EnsureStore(ctx)
	if err != nil {
		return nil, err
	}

	hits, err := invoke(ctx, b, "search", func() ([]openai.VectorStoreSearchResponse, error) {
		page, err := b.client.VectorStores.Search(ctx, storeID, openai.VectorStoreSearchParams{
			Query:         openai.VectorStoreSearchParamsQueryUnion{OfString: openai.String(query)},
			MaxNumResults: openai.Int(int64(limit)),
		})
		if err != nil {
			return nil, err
		}
		return page.Data, nil
	})
	if err != nil {
		return nil, fmt.Errorf("searching vector store: %w", err)
	}

	sources := toSources(hits, limit)
	if len(sources) == 0 {
		return &backend.Generation{Text: noAnswerText, Confidence: 0, Sources: []backend.Source{}}, nil
	}

	completion, err := invoke(ctx, b, "chat", func() (*openai.ChatCompletion, error) {
		return b.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
			Model: shared.ChatModel(b.cfg.ChatModel),
			Messages: []openai.ChatCompletionMessageParamUnion{
				openai.SystemMessage(systemPrompt),
				openai.UserMessage(buildPrompt(query, sources)),
			},
			Temperature: openai.Float(0),
			ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
				OfJSONObject: &shared.ResponseFormatJSONObjectParam{Type: "json_object"},
			},
		})
	})
	if err != nil {
		return nil, fmt.Errorf("generating answer: %w", err)
	}
	if len(completion.Choices) == 0 {
		return &backend.Generation{Sources: sources, Errored: true, Text: "no completion returned"}, nil
	}
	return parseAnswer(completion.Choices[0].Message.Content, sources, b.logger), nil
}

func toSources(hits []openai.VectorStoreSearchResponse, limit int) []backend.Source {
	sources := make([]backend.Source, 0, len(hits))
	for _, h := range hits {
		if len(sources) == limit {
			break
		}
		var text strings.Builder
		for _, c := range h.Content {
			if text.Len() > 0 {
				text.WriteString("\n")
			}
			text.WriteString(c.Text)
		}
		snippet := text.String()
		if len(snippet) > maxSnippetChars {
			snippet = snippet[:maxSnippetChars]
		}
		sources = append(sources, backend.Source{
			DocumentID: ingestion.DocumentID(h.Filename),
			Filename:   h.Filename,
			Snippet:    snippet,
			Relevance:  clamp01(h.Score),
		})
	}
	return sources
}

func buildPrompt(query string, sources []backend.Source) string {
	var b strings.Builder
	for i, s := range sources {
		fmt.Fprintf(&b, "[%d] %s\n%s\n\n", i+1, s.Filename, s.Snippet)
	}
	fmt.Fprintf(&b, "Question: %s", query)
	return b.String()
}

type chatAnswer struct {
	Answer     string  `json:"answer"`
	Confidence float64 `json:"confidence"`
}

func parseAnswer(content string, sources []backend.Source, logger *slog.Logger) *backend.Generation {
	var ans chatAnswer
	if err := json.Unmarshal([]byte(content), &ans); err != nil || strings.TrimSpace(ans.Answer) == "" {
		logger.Warn("model returned an unusable answer", "error", err)
		return &backend.Generation{Text: content, Sources: sources, Errored: true}
	}
	return &backend.Generation{
		Text:       ans.Answer,
		Confidence: clamp01(ans.Confidence),
		Sources:    sources,
	}
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(1, v))
}
