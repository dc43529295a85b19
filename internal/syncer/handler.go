package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	apperrors "github.com/Adithya-Monish-Kumar-K/retrieval-pipeline/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/retrieval-pipeline/pkg/logger"
)

// Service is the sync surface the trigger handler drives.
type Service interface {
	SyncPage(ctx context.Context, pageID string) (*PageResult, error)
	SyncDatabase(ctx context.Context, databaseID string, opts Options) (*Run, error)
	SyncAllAccessiblePages(ctx context.Context, opts Options) (*Run, error)
}

// TriggerRequest selects exactly one sync target.
type TriggerRequest struct {
	PageID      string   `json:"pageId"`
	DatabaseID  string   `json:"databaseId"`
	DatabaseIDs []string `json:"databaseIds"`
	SyncAll     bool     `json:"syncAll"`
	Options
}

func (r TriggerRequest) targets() int {
	n := 0
	if r.PageID != "" {
		n++
	}
	if r.DatabaseID != "" {
		n++
	}
	if len(r.DatabaseIDs) > 0 {
		n++
	}
	if r.SyncAll {
		n++
	}
	return n
}

// DatabaseRun is one entry of a multi-database trigger.
type DatabaseRun struct {
	DatabaseID string `json:"databaseId"`
	Run        *Run   `json:"run,omitempty"`
	Error      string `json:"error,omitempty"`
}

type Handler struct {
	svc    Service
	logger *slog.Logger
}

func NewHandler(svc Service) *Handler {
	return &Handler{
		svc:    svc,
		logger: slog.Default().With("component", "sync-handler"),
	}
}

func (h *Handler) Trigger(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req TriggerRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.targets() != 1 {
		h.writeError(w, http.StatusBadRequest,
			"exactly one of pageId, databaseId, databaseIds or syncAll is required")
		return
	}

	switch {
	case req.PageID != "":
		res, err := h.svc.SyncPage(ctx, req.PageID)
		if err != nil {
			h.writeAppError(ctx, w, err)
			return
		}
		h.writeJSON(w, http.StatusOK, map[string]any{"page": res})

	case req.DatabaseID != "":
		run, err := h.svc.SyncDatabase(ctx, req.DatabaseID, req.Options)
		if err != nil {
			h.writeAppError(ctx, w, err)
			return
		}
		h.writeJSON(w, http.StatusOK, map[string]any{"run": run})

	case len(req.DatabaseIDs) > 0:
		total := &Run{FailedPageIDs: []string{}, DryRun: req.DryRun}
		runs := make([]DatabaseRun, 0, len(req.DatabaseIDs))
		for _, id := range req.DatabaseIDs {
			run, err := h.svc.SyncDatabase(ctx, id, req.Options)
			if err != nil {
				// Invalid options fail every database the same way.
				if errors.Is(err, apperrors.ErrInvalidInput) {
					h.writeAppError(ctx, w, err)
					return
				}
				logger.FromContext(ctx).Warn("database sync failed", "database_id", id, "error", err)
				runs = append(runs, DatabaseRun{DatabaseID: id, Error: err.Error()})
				continue
			}
			total.Add(run)
			runs = append(runs, DatabaseRun{DatabaseID: id, Run: run})
		}
		h.writeJSON(w, http.StatusOK, map[string]any{"runs": runs, "total": total})

	default:
		run, err := h.svc.SyncAllAccessiblePages(ctx, req.Options)
		if err != nil {
			h.writeAppError(ctx, w, err)
			return
		}
		h.writeJSON(w, http.StatusOK, map[string]any{"run": run})
	}
}

func (h *Handler) writeAppError(ctx context.Context, w http.ResponseWriter, err error) {
	status := apperrors.HTTPStatusCode(err)
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		h.writeError(w, status, appErr.Message)
		return
	}
	logger.FromContext(ctx).Error("sync failed", "error", err, "status_code", status)
	h.writeError(w, status, "sync failed")
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
