package query

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	apperrors "github.com/Adithya-Monish-Kumar-K/retrieval-pipeline/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/retrieval-pipeline/pkg/logger"
)

type Handler struct {
	engine *Engine
	logger *slog.Logger
}

func NewHandler(engine *Engine) *Handler {
	return &Handler{
		engine: engine,
		logger: slog.Default().With("component", "query-handler"),
	}
}

// Query answers a question. Errored answers are written with 502 so callers
// can tell a degraded answer from a real one.
func (h *Handler) Query(w http.ResponseWriter, r *http.Request) {
	var req Request
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	ans, err := h.engine.Process(r.Context(), req.Query, req.Limit)
	if err != nil {
		status := apperrors.HTTPStatusCode(err)
		var appErr *apperrors.AppError
		if errors.As(err, &appErr) {
			h.writeError(w, status, appErr.Message)
			return
		}
		logger.FromContext(r.Context()).Error("query failed", "error", err)
		h.writeError(w, status, "query failed")
		return
	}
	status := http.StatusOK
	if ans.Errored {
		status = http.StatusBadGateway
	}
	h.writeJSON(w, status, ans)
}

func (h *Handler) InvalidateCache(w http.ResponseWriter, r *http.Request) {
	n, err := h.engine.Invalidate(r.Context())
	if err != nil {
		logger.FromContext(r.Context()).Error("cache invalidation failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, "cache invalidation failed")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]int64{"invalidated": n})
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
