package stats

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"offload/apps/backend/features/job"
	"offload/apps/backend/internal/middleware"
)

type JobCounter interface {
	CountByStatus(ctx context.Context) (map[job.Status]int, error)
}

type DeadLetterCounter interface {
	Count(ctx context.Context) (int, error)
}

type Handler struct {
	jobs        JobCounter
	deadLetters DeadLetterCounter
}

func NewHandler(j JobCounter, d DeadLetterCounter) *Handler {
	return &Handler{jobs: j, deadLetters: d}
}

type JobCounts struct {
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Success    int `json:"success"`
	Failed     int `json:"failed"`
	Total      int `json:"total"`
}

type StatsResponse struct {
	Jobs        JobCounts `json:"jobs"`
	DeadLetters int       `json:"dead_letters"`
}

func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	correlationID := middleware.GetCorrelationID(ctx)

	slog.InfoContext(ctx, "getting stats", "correlationId", correlationID)

	counts, err := h.jobs.CountByStatus(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "failed to count jobs", "error", err, "correlationId", correlationID)
		h.writeError(ctx, w, "INTERNAL_ERROR", "failed to count jobs", http.StatusInternalServerError)
		return
	}

	dlCount, err := h.deadLetters.Count(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "failed to count dead letters", "error", err, "correlationId", correlationID)
		h.writeError(ctx, w, "INTERNAL_ERROR", "failed to count dead letters", http.StatusInternalServerError)
		return
	}

	resp := StatsResponse{
		Jobs: JobCounts{
			Pending:    counts[job.StatusPending],
			Processing: counts[job.StatusProcessing],
			Success:    counts[job.StatusSuccess],
			Failed:     counts[job.StatusFailed],
		},
		DeadLetters: dlCount,
	}
	for _, n := range counts {
		resp.Jobs.Total += n
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"data": resp}); err != nil {
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
