package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/nsqio/go-nsq"

	"offload/apps/backend/internal/envelope"
	"offload/apps/backend/internal/middleware"
)

const DefaultHandlerTimeout = 60 * time.Second

// Processor adapts the result work queue to a ResultHandler. Handler
// errors are returned so the queue's retry policy applies.
type Processor struct {
	handler ResultHandler
	timeout time.Duration
	logger  *slog.Logger
}

func NewProcessor(handler ResultHandler, timeout time.Duration, logger *slog.Logger) *Processor {
	if timeout <= 0 {
		timeout = DefaultHandlerTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{handler: handler, timeout: timeout, logger: logger}
}

func (p *Processor) HandleMessage(m *nsq.Message) error {
	if len(m.Body) == 0 {
		return nil
	}

	env, err := envelope.ParseResult(m.Body)
	if err != nil {
		p.logger.Error("invalid result message, dropping", "error", err, "attempts", m.Attempts)
		return nil // Don't retry invalid messages
	}

	correlationID := env.Meta.TraceID
	if correlationID == "" {
		correlationID = env.JobID
	}
	ctx := middleware.WithCorrelationID(context.Background(), correlationID)
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	p.logger.InfoContext(ctx, "processing result", "job_id", env.JobID, "type", env.Type, "status", env.Status, "attempt", m.Attempts)
	return p.handler.Handle(ctx, env)
}
