// Package syncer pulls pages out of the workspace content API and feeds their
// rendered text to the document indexer.
package syncer

import (
	"fmt"
	"net/http"

	"github.com/Adithya-Monish-Kumar-K/retrieval-pipeline/internal/ingestion"
	apperrors "github.com/Adithya-Monish-Kumar-K/retrieval-pipeline/pkg/errors"
)

const (
	maxPageSize   = 100
	maxBlockDepth = 10
)

// Options bound a discovery-based run.
type Options struct {
	MaxPages int  `json:"maxPages,omitempty"`
	PageSize int  `json:"pageSize,omitempty"`
	DryRun   bool `json:"dryRun,omitempty"`
}

// Run summarises one sync invocation. It is not persisted.
type Run struct {
	ID              string   `json:"runId"`
	PagesDiscovered int      `json:"pagesDiscovered"`
	PagesAttempted  int      `json:"pagesAttempted"`
	PagesSucceeded  int      `json:"pagesSucceeded"`
	PagesFailed     int      `json:"pagesFailed"`
	FailedPageIDs   []string `json:"failedPageIds"`
	DryRun          bool     `json:"dryRun,omitempty"`
}

// Add folds other into r. Used to total multi-database runs.
func (r *Run) Add(other *Run) {
	r.PagesDiscovered += other.PagesDiscovered
	r.PagesAttempted += other.PagesAttempted
	r.PagesSucceeded += other.PagesSucceeded
	r.PagesFailed += other.PagesFailed
	r.FailedPageIDs = append(r.FailedPageIDs, other.FailedPageIDs...)
}

// PageResult is the outcome of syncing a single page. Document is nil when
// the indexer filtered the page out.
type PageResult struct {
	PageID   string                    `json:"pageId"`
	Title    string                    `json:"title"`
	Status   string                    `json:"status"`
	Document *ingestion.DocumentRecord `json:"document,omitempty"`
}

// Filename is the document filename a page is ingested under.
func Filename(pageID string) string {
	return "workspace-" + pageID + ".md"
}

// withDefaults fills unset options and rejects out-of-range ones before any
// request is made.
func (o Options) withDefaults(defaultPageSize, defaultMaxPages, maxPagesLimit int) (Options, error) {
	if o.PageSize == 0 {
		o.PageSize = defaultPageSize
	}
	if o.MaxPages == 0 {
		o.MaxPages = defaultMaxPages
	}
	if o.PageSize < 1 || o.PageSize > maxPageSize {
		return o, apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest,
			"pageSize must be between 1 and %d", maxPageSize)
	}
	if o.MaxPages < 1 || o.MaxPages > maxPagesLimit {
		return o, apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest,
			"maxPages must be between 1 and %d", maxPagesLimit)
	}
	return o, nil
}

func (o Options) String() string {
	return fmt.Sprintf("maxPages=%d pageSize=%d dryRun=%t", o.MaxPages, o.PageSize, o.DryRun)
}
