package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/Adithya-Monish-Kumar-K/retrieval-pipeline/internal/ingestion"
	"github.com/Adithya-Monish-Kumar-K/retrieval-pipeline/internal/ingestion/indexer"
	"github.com/Adithya-Monish-Kumar-K/retrieval-pipeline/internal/ingestion/validator"
	apperrors "github.com/Adithya-Monish-Kumar-K/retrieval-pipeline/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/retrieval-pipeline/pkg/logger"
)

const maxBodyBytes = 2 << 20

// DocumentReader serves metadata reads.
type DocumentReader interface {
	Get(ctx context.Context, id string) (*ingestion.DocumentRecord, error)
	List(ctx context.Context, limit, offset int) ([]ingestion.DocumentRecord, error)
}

type Handler struct {
	ingester indexer.Ingester
	reader   DocumentReader
	logger   *slog.Logger
}

func New(ing indexer.Ingester, reader DocumentReader) *Handler {
	return &Handler{
		ingester: ing,
		reader:   reader,
		logger:   slog.Default().With("component", "ingestion-handler"),
	}
}

func (h *Handler) Ingest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.FromContext(ctx)
	var req ingestion.IngestRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := validator.ValidateIngestRequest(&req); err != nil {
		var validationErr *validator.ValidationError
		if errors.As(err, &validationErr) {
			h.writeJSON(w, http.StatusBadRequest, map[string]any{
				"error":  "validation failed",
				"fields": validationErr.Fields,
			})
			return
		}
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	rec, err := h.ingester.Ingest(ctx, req.Filename, req.Content, req.MimeType, req.Tags...)
	if err != nil {
		statusCode := apperrors.HTTPStatusCode(err)
		log.Error("ingestion failed",
			"filename", req.Filename,
			"error", err,
			"status_code", statusCode,
		)
		h.writeError(w, statusCode, "ingestion failed")
		return
	}
	if rec == nil {
		h.writeJSON(w, http.StatusOK, ingestion.IngestResponse{Status: ingestion.StatusFiltered})
		return
	}
	h.writeJSON(w, http.StatusCreated, ingestion.IngestResponse{Status: ingestion.StatusIndexed, Document: rec})
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	rec, err := h.reader.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeAppError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, rec)
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	if limit < 1 || limit > 500 {
		h.writeError(w, http.StatusBadRequest, "limit must be between 1 and 500")
		return
	}
	offset := queryInt(r, "offset", 0)
	if offset < 0 {
		h.writeError(w, http.StatusBadRequest, "offset must not be negative")
		return
	}
	records, err := h.reader.List(r.Context(), limit, offset)
	if err != nil {
		h.writeAppError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"documents": records,
		"count":     len(records),
	})
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return -1
	}
	return n
}

func (h *Handler) writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperrors.HTTPStatusCode(err)
	if status >= 500 {
		logger.FromContext(r.Context()).Error("document read failed", "error", err)
		h.writeError(w, status, "internal error")
		return
	}
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		h.writeError(w, status, appErr.Message)
		return
	}
	h.writeError(w, status, err.Error())
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
