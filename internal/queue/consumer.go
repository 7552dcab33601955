package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nsqio/go-nsq"

	"offload/apps/backend/features/deadletter"
	"offload/apps/backend/internal/config"
)

const (
	DefaultMaxAttempts  = 3
	DefaultRequeueBase  = time.Second
	DefaultRequeueLimit = 60 * time.Second
)

type DeadLetterSink interface {
	Save(ctx context.Context, msg *deadletter.Message) error
}

type RetryPolicy struct {
	MaxAttempts  uint16
	RequeueBase  time.Duration
	RequeueLimit time.Duration
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.MaxAttempts == 0 {
		p.MaxAttempts = DefaultMaxAttempts
	}
	if p.RequeueBase <= 0 {
		p.RequeueBase = DefaultRequeueBase
	}
	if p.RequeueLimit <= 0 {
		p.RequeueLimit = DefaultRequeueLimit
	}
	return p
}

// Delay is the requeue delay after the given (1-based) attempt failed.
func (p RetryPolicy) Delay(attempt uint16) time.Duration {
	p = p.withDefaults()
	d := p.RequeueBase
	for i := uint16(1); i < attempt; i++ {
		d *= 2
		if d >= p.RequeueLimit {
			return p.RequeueLimit
		}
	}
	return d
}

// RetryHandler applies the retry policy around an nsq.Handler: failures
// are requeued with exponential delay, and a message failing its last
// attempt is dead-lettered and finished.
type RetryHandler struct {
	next   nsq.Handler
	policy RetryPolicy
	sink   DeadLetterSink
	topic  string
	logger *slog.Logger
}

func NewRetryHandler(next nsq.Handler, policy RetryPolicy, sink DeadLetterSink, logger *slog.Logger) *RetryHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &RetryHandler{
		next:   next,
		policy: policy.withDefaults(),
		sink:   sink,
		topic:  config.TopicOffloadResult,
		logger: logger,
	}
}

func (h *RetryHandler) HandleMessage(m *nsq.Message) error {
	m.DisableAutoResponse()

	err := h.next.HandleMessage(m)
	if err == nil {
		m.Finish()
		return nil
	}

	if m.Attempts < h.policy.MaxAttempts {
		delay := h.policy.Delay(m.Attempts)
		h.logger.Warn("result processing failed, requeueing",
			"attempt", m.Attempts, "max_attempts", h.policy.MaxAttempts, "delay", delay, "error", err)
		m.RequeueWithoutBackoff(delay)
		return nil
	}

	h.deadLetter(m, err.Error())
	m.Finish()
	return nil
}

// LogFailedMessage is called by go-nsq for messages that arrive past the
// consumer's own MaxAttempts.
func (h *RetryHandler) LogFailedMessage(m *nsq.Message) {
	h.deadLetter(m, fmt.Sprintf("exceeded %d attempts", m.Attempts))
}

func (h *RetryHandler) deadLetter(m *nsq.Message, reason string) {
	jobID := peekJobID(m.Body)
	h.logger.Error("result processing exhausted retries, dead-lettering",
		"job_id", jobID, "attempts", m.Attempts, "error", reason)

	if h.sink == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := h.sink.Save(ctx, &deadletter.Message{
		JobID:    jobID,
		Topic:    h.topic,
		Body:     json.RawMessage(m.Body),
		Error:    reason,
		Attempts: int(m.Attempts),
	})
	if err != nil {
		h.logger.Error("failed to save dead letter", "job_id", jobID, "error", err)
	}
}

func peekJobID(body []byte) string {
	var v struct {
		JobID string `json:"jobId"`
	}
	_ = json.Unmarshal(body, &v)
	return v.JobID
}

type ConsumerConfig struct {
	LookupdAddr string
	NSQDAddr    string
	Concurrency int
	Policy      RetryPolicy
}

// NewConsumer subscribes handler to the result topic on the processor
// channel, wrapped in the retry policy. The caller connects it via
// Connect and stops it with Stop.
func NewConsumer(cfg ConsumerConfig, handler nsq.Handler, sink DeadLetterSink, logger *slog.Logger) (*nsq.Consumer, error) {
	policy := cfg.Policy.withDefaults()
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}

	nsqCfg := nsq.NewConfig()
	nsqCfg.MaxInFlight = concurrency
	// Past our own policy; go-nsq only reaches LogFailedMessage if a
	// requeue slipped through.
	nsqCfg.MaxAttempts = policy.MaxAttempts + 1
	nsqCfg.MaxRequeueDelay = policy.RequeueLimit

	consumer, err := nsq.NewConsumer(config.TopicOffloadResult, config.ChannelProcessor, nsqCfg)
	if err != nil {
		return nil, fmt.Errorf("nsq consumer: %w", err)
	}
	consumer.SetLoggerLevel(nsq.LogLevelWarning)
	consumer.AddConcurrentHandlers(NewRetryHandler(handler, policy, sink, logger), concurrency)
	return consumer, nil
}

// Connect attaches consumer to nsqlookupd when configured, or directly to
// nsqd otherwise.
func Connect(consumer *nsq.Consumer, cfg ConsumerConfig) error {
	if cfg.LookupdAddr != "" {
		return consumer.ConnectToNSQLookupd(cfg.LookupdAddr)
	}
	return consumer.ConnectToNSQD(cfg.NSQDAddr)
}
