package syncer

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/Adithya-Monish-Kumar-K/retrieval-pipeline/internal/ingestion"
	"github.com/Adithya-Monish-Kumar-K/retrieval-pipeline/internal/ingestion/indexer"
	"github.com/Adithya-Monish-Kumar-K/retrieval-pipeline/internal/workspace"
	"github.com/Adithya-Monish-Kumar-K/retrieval-pipeline/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/retrieval-pipeline/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/retrieval-pipeline/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/retrieval-pipeline/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/retrieval-pipeline/pkg/resilience"
	"github.com/Adithya-Monish-Kumar-K/retrieval-pipeline/pkg/tracing"
)

// Source is the subset of the workspace API a sync run needs.
type Source interface {
	GetPage(ctx context.Context, pageID string) (*workspace.Page, error)
	ListChildren(ctx context.Context, blockID, cursor string, pageSize int) (*workspace.BlockList, error)
	SearchPages(ctx context.Context, cursor string, pageSize int) (*workspace.PageList, error)
	QueryDatabase(ctx context.Context, databaseID, cursor string, pageSize int) (*workspace.PageList, error)
}

// Syncer converts workspace pages into indexed documents. Pages are processed
// one at a time in discovery order so a run never fans out against the
// upstream rate limit.
type Syncer struct {
	source   Source
	ingester indexer.Ingester
	cfg      config.SyncConfig
	retry    resilience.RetryConfig
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

type Option func(*Syncer)

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Syncer) { s.metrics = m }
}

// WithRetry overrides the retry policy for upstream calls. The retry
// classifier is always the 429/5xx one.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(s *Syncer) { s.retry = cfg }
}

func New(source Source, ing indexer.Ingester, cfg config.SyncConfig, opts ...Option) *Syncer {
	s := &Syncer{
		source:   source,
		ingester: ing,
		cfg:      cfg,
		retry: resilience.RetryConfig{
			MaxAttempts:  cfg.Retry.MaxAttempts,
			InitialDelay: cfg.Retry.InitialDelay,
			MaxDelay:     cfg.Retry.MaxDelay,
			Multiplier:   2,
		},
		logger: slog.Default().With("component", "syncer"),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.retry.ShouldRetry = apperrors.IsRetryable
	return s
}

// call runs one upstream request under the retry policy.
func call[T any](ctx context.Context, s *Syncer, op string, fn func() (T, error)) (T, error) {
	cfg := s.retry
	cfg.OnRetry = s.metrics.RetryObserver("workspace_" + op)
	return resilience.Do(ctx, "workspace."+op, cfg, fn)
}

// SyncPage fetches one page, renders its block tree and ingests the text.
func (s *Syncer) SyncPage(ctx context.Context, pageID string) (*PageResult, error) {
	if pageID == "" {
		return nil, apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest, "pageId is required")
	}
	ctx, span := tracing.Start(ctx, "sync.page")
	span.Set("page_id", pageID)

	res, err := s.syncPage(ctx, pageID)
	span.Finish(err)
	if err != nil {
		s.observePage("failed")
		return nil, err
	}
	span.Set("status", res.Status)
	s.observePage(res.Status)
	return res, nil
}

func (s *Syncer) syncPage(ctx context.Context, pageID string) (*PageResult, error) {
	page, err := call(ctx, s, "get_page", func() (*workspace.Page, error) {
		return s.source.GetPage(ctx, pageID)
	})
	if err != nil {
		return nil, fmt.Errorf("fetching page %s: %w", pageID, err)
	}

	blocks, err := s.fetchTree(ctx, pageID, 0)
	if err != nil {
		return nil, fmt.Errorf("fetching blocks for page %s: %w", pageID, err)
	}

	text := workspace.RenderPage(page.Title, page.URL, blocks)
	rec, err := s.ingester.Ingest(ctx, Filename(pageID), text, "text/markdown", "workspace")
	if err != nil {
		return nil, fmt.Errorf("ingesting page %s: %w", pageID, err)
	}

	res := &PageResult{PageID: pageID, Title: page.Title, Status: ingestion.StatusIndexed, Document: rec}
	if rec == nil {
		res.Status = ingestion.StatusFiltered
	}
	logger.FromContext(ctx).Debug("page synced",
		"page_id", pageID,
		"status", res.Status,
		"blocks", len(blocks),
	)
	return res, nil
}

// fetchTree drains every page of a block's children and recurses into
// children that report their own children, up to maxBlockDepth levels.
func (s *Syncer) fetchTree(ctx context.Context, blockID string, depth int) ([]*workspace.Block, error) {
	var (
		out    []*workspace.Block
		cursor string
	)
	for {
		list, err := call(ctx, s, "list_children", func() (*workspace.BlockList, error) {
			return s.source.ListChildren(ctx, blockID, cursor, maxPageSize)
		})
		if err != nil {
			return nil, err
		}
		out = append(out, list.Results...)
		if !list.HasMore || list.NextCursor == "" {
			break
		}
		cursor = list.NextCursor
	}

	if depth+1 >= maxBlockDepth {
		return out, nil
	}
	for _, b := range out {
		// Child pages are synced as pages of their own.
		if !b.HasChildren || b.Type == "child_page" || b.Type == "child_database" {
			continue
		}
		children, err := s.fetchTree(ctx, b.ID, depth+1)
		if err != nil {
			return nil, err
		}
		b.Children = children
	}
	return out, nil
}

type lister func(ctx context.Context, cursor string, pageSize int) (*workspace.PageList, error)

// SyncDatabase discovers the entries of one database and syncs each.
func (s *Syncer) SyncDatabase(ctx context.Context, databaseID string, opts Options) (*Run, error) {
	if databaseID == "" {
		return nil, apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest, "databaseId is required")
	}
	list := func(ctx context.Context, cursor string, pageSize int) (*workspace.PageList, error) {
		return s.source.QueryDatabase(ctx, databaseID, cursor, pageSize)
	}
	return s.run(ctx, "database:"+databaseID, "query_database", list, opts)
}

// SyncAllAccessiblePages discovers every page shared with the integration and
// syncs each.
func (s *Syncer) SyncAllAccessiblePages(ctx context.Context, opts Options) (*Run, error) {
	return s.run(ctx, "all", "search", s.source.SearchPages, opts)
}

func (s *Syncer) run(ctx context.Context, target, op string, list lister, opts Options) (*Run, error) {
	opts, err := opts.withDefaults(s.cfg.DefaultPageSize, s.cfg.DefaultMaxPages, s.cfg.MaxPagesLimit)
	if err != nil {
		return nil, err
	}

	run := &Run{ID: uuid.NewString(), DryRun: opts.DryRun, FailedPageIDs: []string{}}
	ctx = logger.WithRunID(ctx, run.ID)
	ctx, span := tracing.NewTrace(ctx, run.ID, "sync.run")
	span.Set("target", target)
	defer func() {
		span.Finish(nil)
		span.Log(ctx, s.logger)
	}()
	log := logger.FromContext(ctx).With("component", "syncer", "target", target)
	log.Info("sync run started", "options", opts.String())

	ids, err := s.discover(ctx, op, list, opts)
	if err != nil {
		span.Finish(err)
		log.Error("discovery failed", "error", err)
		return nil, fmt.Errorf("discovering pages for %s: %w", target, err)
	}
	run.PagesDiscovered = len(ids)
	span.Set("pages_discovered", len(ids))

	if opts.DryRun {
		run.PagesAttempted = len(ids)
		log.Info("dry run complete", "pages_discovered", len(ids))
		return run, nil
	}

	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		run.PagesAttempted++
		if _, err := s.SyncPage(ctx, id); err != nil {
			run.PagesFailed++
			run.FailedPageIDs = append(run.FailedPageIDs, id)
			log.Warn("page sync failed", "page_id", id, "error", err)
			continue
		}
		run.PagesSucceeded++
	}

	log.Info("sync run complete",
		"pages_discovered", run.PagesDiscovered,
		"pages_succeeded", run.PagesSucceeded,
		"pages_failed", run.PagesFailed,
		"duration_ms", span.Elapsed().Milliseconds(),
	)
	return run, nil
}

// discover pages through a listing endpoint collecting unique page ids in
// first-seen order. It stops when the listing is exhausted or MaxPages ids
// are held, whichever comes first.
func (s *Syncer) discover(ctx context.Context, op string, list lister, opts Options) ([]string, error) {
	seen := make(map[string]struct{}, opts.MaxPages)
	ids := make([]string, 0, opts.MaxPages)
	cursor := ""
	for len(ids) < opts.MaxPages {
		page, err := call(ctx, s, op, func() (*workspace.PageList, error) {
			return list(ctx, cursor, opts.PageSize)
		})
		if err != nil {
			return nil, err
		}
		for _, p := range page.Results {
			if p.ID == "" || p.Archived {
				continue
			}
			if _, dup := seen[p.ID]; dup {
				continue
			}
			seen[p.ID] = struct{}{}
			ids = append(ids, p.ID)
			if len(ids) == opts.MaxPages {
				break
			}
		}
		if !page.HasMore || page.NextCursor == "" || page.NextCursor == cursor {
			break
		}
		cursor = page.NextCursor
	}
	return ids, nil
}

func (s *Syncer) observePage(status string) {
	if s.metrics != nil {
		s.metrics.SyncPagesTotal.WithLabelValues(status).Inc()
	}
}
