package bridge

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

type Handler struct {
	bridge *Bridge
}

func NewHandler(b *Bridge) *Handler {
	return &Handler{bridge: b}
}

func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"data": h.bridge.Status()}); err != nil {
		slog.ErrorContext(r.Context(), "failed to encode response", "error", err)
	}
}
