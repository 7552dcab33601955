package job

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"offload/apps/backend/internal/envelope"
	"offload/apps/backend/internal/middleware"
)

type Handler struct {
	service *Service
}

func NewHandler(s *Service) *Handler {
	return &Handler{service: s}
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")

	j, err := h.service.GetJob(ctx, id)
	if err != nil {
		h.handleError(ctx, w, "failed to get job", id, err)
		return
	}
	h.writeData(ctx, w, http.StatusOK, j)
}

func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")

	view, err := h.service.GetJobStatus(ctx, id)
	if err != nil {
		h.handleError(ctx, w, "failed to get job status", id, err)
		return
	}
	h.writeData(ctx, w, http.StatusOK, view)
}

func (h *Handler) Persist(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")
	correlationID := middleware.GetCorrelationID(ctx)

	slog.InfoContext(ctx, "persisting job result", "id", id, "correlationId", correlationID)

	key, err := h.service.PersistResult(ctx, id)
	if err != nil {
		h.handleError(ctx, w, "failed to persist job result", id, err)
		return
	}
	h.writeData(ctx, w, http.StatusOK, map[string]string{"storage_key": key})
}

func (h *Handler) MarkProcessing(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")

	applied, err := h.service.MarkProcessing(ctx, id)
	if err != nil {
		h.handleError(ctx, w, "failed to mark job processing", id, err)
		return
	}
	h.writeData(ctx, w, http.StatusOK, map[string]bool{"applied": applied})
}

func (h *Handler) ListByUser(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	uid := r.PathValue("uid")
	q := r.URL.Query()

	filter := ListFilter{
		Status: Status(q.Get("status")),
		Type:   envelope.TaskType(q.Get("type")),
	}
	if filter.Status != "" && !filter.Status.Valid() {
		h.writeError(ctx, w, "VALIDATION_ERROR", "unknown status filter", http.StatusBadRequest)
		return
	}
	if filter.Type != "" && !filter.Type.Valid() {
		h.writeError(ctx, w, "VALIDATION_ERROR", "unknown type filter", http.StatusBadRequest)
		return
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			h.writeError(ctx, w, "VALIDATION_ERROR", "limit must be a number", http.StatusBadRequest)
			return
		}
		filter.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			h.writeError(ctx, w, "VALIDATION_ERROR", "offset must be a number", http.StatusBadRequest)
			return
		}
		filter.Offset = n
	}

	jobs, total, err := h.service.ListJobsByUser(ctx, uid, filter)
	if err != nil {
		h.handleError(ctx, w, "failed to list jobs", uid, err)
		return
	}
	if jobs == nil {
		jobs = []Job{}
	}

	w.Header().Set("Content-Type", "application/json")
	resp := map[string]interface{}{
		"data": jobs,
		"meta": map[string]int{"count": len(jobs), "total": total},
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.ErrorContext(ctx, "failed to encode response", "error", err)
	}
}

func (h *Handler) handleError(ctx context.Context, w http.ResponseWriter, msg, id string, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		h.writeError(ctx, w, "NOT_FOUND", "Job not found", http.StatusNotFound)
	case errors.Is(err, ErrNotSucceeded), errors.Is(err, ErrNoStorageKey), errors.Is(err, ErrNotTemporaryKey):
		h.writeError(ctx, w, "CONFLICT", err.Error(), http.StatusConflict)
	default:
		slog.ErrorContext(ctx, msg, "id", id, "error", err)
		h.writeError(ctx, w, "INTERNAL_ERROR", err.Error(), http.StatusInternalServerError)
	}
}

func (h *Handler) writeData(ctx context.Context, w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"data": data}); err != nil {
		slog.ErrorContext(ctx, "failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(ctx context.Context, w http.ResponseWriter, code, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := map[string]interface{}{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
		"correlationId": middleware.GetCorrelationID(ctx),
	}

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("failed to encode error response", "error", err)
	}
}
