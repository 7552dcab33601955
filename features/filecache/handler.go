package filecache

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"offload/apps/backend/internal/middleware"
)

type Handler struct {
	service *Service
}

func NewHandler(s *Service) *Handler {
	return &Handler{service: s}
}

func (h *Handler) Content(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	fileID := r.PathValue("id")

	content, err := h.service.Read(ctx, fileID)
	switch {
	case errors.Is(err, ErrNotFound):
		h.writeError(ctx, w, "NOT_FOUND", "No cached content for file", http.StatusNotFound)
		return
	case errors.Is(err, ErrParseFailed):
		h.writeError(ctx, w, "PARSE_FAILED", err.Error(), http.StatusUnprocessableEntity)
		return
	case err != nil:
		slog.ErrorContext(ctx, "failed to read cached content", "file_id", fileID, "error", err)
		h.writeError(ctx, w, "INTERNAL_ERROR", "failed to read cached content", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"data": content}); err != nil {
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
