package bridge

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"

	"offload/apps/backend/internal/adapter/sqs"
	"offload/apps/backend/internal/envelope"
	"offload/apps/backend/internal/middleware"
)

var errNotRunning = errors.New("result bridge is not running")

type Receiver interface {
	Receive(ctx context.Context, opts sqs.ReceiveOptions) ([]sqs.Message, error)
	Delete(ctx context.Context, queueURL, receiptHandle string) error
}

type Enqueuer interface {
	Enqueue(ctx context.Context, jobID string, body []byte) error
}

type Options struct {
	QueueURL          string
	PollInterval      time.Duration
	MaxMessages       int32
	WaitTimeSeconds   int32
	VisibilityTimeout int32
	ShutdownTimeout   time.Duration
	EnqueueAttempts   int
	EnqueueBackoff    time.Duration
	LoopBackoffMin    time.Duration
	LoopBackoffMax    time.Duration
}

func (o Options) withDefaults() Options {
	if o.PollInterval <= 0 {
		o.PollInterval = time.Second
	}
	if o.MaxMessages <= 0 {
		o.MaxMessages = 10
	}
	if o.WaitTimeSeconds <= 0 {
		o.WaitTimeSeconds = 20
	}
	if o.VisibilityTimeout <= 0 {
		o.VisibilityTimeout = 300
	}
	if o.ShutdownTimeout <= 0 {
		o.ShutdownTimeout = 30 * time.Second
	}
	if o.EnqueueAttempts <= 0 {
		o.EnqueueAttempts = 3
	}
	if o.EnqueueBackoff <= 0 {
		o.EnqueueBackoff = 200 * time.Millisecond
	}
	if o.LoopBackoffMin <= 0 {
		o.LoopBackoffMin = time.Second
	}
	if o.LoopBackoffMax <= 0 {
		o.LoopBackoffMax = 30 * time.Second
	}
	return o
}

type Status struct {
	Enabled  bool  `json:"enabled"`
	Running  bool  `json:"running"`
	InFlight int64 `json:"in_flight"`
}

// Bridge moves result envelopes from the external result queue onto the
// internal work queue. A message is deleted from the result queue only
// once it has been enqueued, or when it can never be processed.
type Bridge struct {
	recv   Receiver
	queue  Enqueuer
	opts   Options
	logger *slog.Logger

	inFlight atomic.Int64
	running  atomic.Bool

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func New(recv Receiver, queue Enqueuer, opts Options, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{recv: recv, queue: queue, opts: opts.withDefaults(), logger: logger.With("component", "result_bridge")}
}

func (b *Bridge) Enabled() bool {
	return b.opts.QueueURL != ""
}

func (b *Bridge) Status() Status {
	return Status{
		Enabled:  b.Enabled(),
		Running:  b.running.Load(),
		InFlight: b.inFlight.Load(),
	}
}

// Start launches the poll loop. It is a no-op when no result queue is
// configured, the loop is already running, or a stopped loop is still
// draining in-flight messages.
func (b *Bridge) Start(ctx context.Context) {
	if !b.Enabled() {
		b.logger.Info("result bridge disabled, no result queue configured")
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cancel != nil {
		return
	}
	if b.done != nil {
		select {
		case <-b.done:
		default:
			b.logger.Warn("previous poll loop still draining, not starting", "in_flight", b.inFlight.Load())
			return
		}
	}

	pollCtx, cancel := context.WithCancel(ctx)
	b.cancel = cancel
	b.done = make(chan struct{})
	b.running.Store(true)

	go func(done chan struct{}) {
		defer close(done)
		defer b.running.Store(false)
		b.loop(pollCtx)
	}(b.done)

	b.logger.Info("result bridge started", "queue_url", b.opts.QueueURL, "max_messages", b.opts.MaxMessages)
}

// Stop halts polling and waits, up to the shutdown timeout, for in-flight
// messages to finish. The loop's done channel is kept so Start can tell
// whether it has exited.
func (b *Bridge) Stop() {
	b.mu.Lock()
	cancel, done := b.cancel, b.done
	b.cancel = nil
	b.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()

	select {
	case <-done:
		b.logger.Info("result bridge stopped")
	case <-time.After(b.opts.ShutdownTimeout):
		b.logger.Warn("result bridge shutdown timed out with messages in flight", "in_flight", b.inFlight.Load())
	}
}

func (b *Bridge) loop(ctx context.Context) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = b.opts.LoopBackoffMin
	bo.MaxInterval = b.opts.LoopBackoffMax
	bo.MaxElapsedTime = 0
	bo.Reset()

	for {
		if ctx.Err() != nil {
			return
		}

		msgs, err := b.recv.Receive(ctx, sqs.ReceiveOptions{
			QueueURL:          b.opts.QueueURL,
			MaxMessages:       b.opts.MaxMessages,
			WaitTimeSeconds:   b.opts.WaitTimeSeconds,
			VisibilityTimeout: b.opts.VisibilityTimeout,
		})
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			wait := bo.NextBackOff()
			b.logger.Error("failed to receive results, backing off", "error", err, "backoff", wait)
			if !sleep(ctx, wait) {
				return
			}
			continue
		}
		bo.Reset()

		if len(msgs) > 0 {
			b.processBatch(ctx, msgs)
		}

		if !sleep(ctx, b.opts.PollInterval) {
			return
		}
	}
}

func (b *Bridge) processBatch(ctx context.Context, msgs []sqs.Message) {
	// Handling is detached from the poll context so Stop lets a batch finish.
	work := context.WithoutCancel(ctx)

	var g errgroup.Group
	for _, m := range msgs {
		b.inFlight.Add(1)
		g.Go(func() error {
			defer b.inFlight.Add(-1)
			b.processMessage(work, m)
			return nil
		})
	}
	_ = g.Wait()
}

func (b *Bridge) processMessage(ctx context.Context, m sqs.Message) {
	// 1. Parse; anything unparseable will never succeed, so drop it
	env, err := envelope.ParseResult([]byte(m.Body))
	if err != nil {
		b.logger.WarnContext(ctx, "dropping invalid result message", "message_id", m.ID, "error", err)
		b.delete(ctx, m)
		return
	}

	cid := env.Meta.TraceID
	if cid == "" {
		cid = env.JobID
	}
	ctx = middleware.WithCorrelationID(ctx, cid)

	// 2. Hand off to the internal queue
	if err := b.enqueue(ctx, env.JobID, []byte(m.Body)); err != nil {
		b.logger.ErrorContext(ctx, "failed to enqueue result, leaving for redelivery",
			"job_id", env.JobID, "message_id", m.ID, "error", err)
		return
	}

	// 3. Only now is it safe to remove from the result queue
	b.delete(ctx, m)
	b.logger.InfoContext(ctx, "result forwarded", "job_id", env.JobID, "type", env.Type, "status", env.Status)
}

func (b *Bridge) enqueue(ctx context.Context, jobID string, body []byte) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = b.opts.EnqueueBackoff
	bo.RandomizationFactor = 0
	bo.MaxElapsedTime = 0
	bo.Reset()

	attempt := 0
	return backoff.Retry(func() error {
		attempt++
		err := b.queue.Enqueue(ctx, jobID, body)
		if err != nil && attempt < b.opts.EnqueueAttempts {
			b.logger.WarnContext(ctx, "enqueue attempt failed", "job_id", jobID, "attempt", attempt, "error", err)
		}
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(bo, uint64(b.opts.EnqueueAttempts-1)), ctx))
}

func (b *Bridge) delete(ctx context.Context, m sqs.Message) {
	if err := b.recv.Delete(ctx, b.opts.QueueURL, m.ReceiptHandle); err != nil {
		b.logger.ErrorContext(ctx, "failed to delete result message", "message_id", m.ID, "error", err)
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d == backoff.Stop {
		d = time.Second
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// Health reports an error when the bridge is enabled but its loop is down.
func (b *Bridge) Health() error {
	if b.Enabled() && !b.running.Load() {
		return errNotRunning
	}
	return nil
}
