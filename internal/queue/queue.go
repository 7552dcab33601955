package queue

import (
	"context"
	"fmt"
	"log/slog"

	"offload/apps/backend/internal/config"
)

type Publisher interface {
	Publish(topic string, body []byte) error
}

// Deduper remembers which job results already reached the work queue.
// Marks are written only after a successful publish, so a lost mark can cause
// a duplicate delivery but never a dropped one.
type Deduper interface {
	Seen(ctx context.Context, jobID string) (bool, error)
	Mark(ctx context.Context, jobID string) error
}

// NoopDeduper never reports a result as seen. Used when Redis is not configured.
type NoopDeduper struct{}

func (NoopDeduper) Seen(context.Context, string) (bool, error) { return false, nil }
func (NoopDeduper) Mark(context.Context, string) error         { return nil }

// WorkQueue is the producer side of the internal result work queue.
type WorkQueue struct {
	pub    Publisher
	dedup  Deduper
	topic  string
	logger *slog.Logger
}

func NewWorkQueue(pub Publisher, dedup Deduper, logger *slog.Logger) *WorkQueue {
	if dedup == nil {
		dedup = NoopDeduper{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &WorkQueue{pub: pub, dedup: dedup, topic: config.TopicOffloadResult, logger: logger}
}

// Enqueue publishes body for jobID. A result already published inside the
// dedup window is acknowledged without publishing again.
func (q *WorkQueue) Enqueue(ctx context.Context, jobID string, body []byte) error {
	seen, err := q.dedup.Seen(ctx, jobID)
	if err != nil {
		return fmt.Errorf("dedup lookup %s: %w", jobID, err)
	}
	if seen {
		q.logger.InfoContext(ctx, "result already enqueued, skipping", "job_id", jobID)
		return nil
	}

	if err := q.pub.Publish(q.topic, body); err != nil {
		return fmt.Errorf("publish %s: %w", q.topic, err)
	}

	// The result is on the queue; the handler tolerates a duplicate if the mark is lost.
	if err := q.dedup.Mark(ctx, jobID); err != nil {
		q.logger.WarnContext(ctx, "failed to record enqueued result", "job_id", jobID, "error", err)
	}

	q.logger.DebugContext(ctx, "result enqueued", "job_id", jobID, "topic", q.topic)
	return nil
}
