package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"offload/apps/backend/features/job"
	"offload/apps/backend/internal/envelope"
	"offload/apps/backend/internal/middleware"
)

var (
	ErrDisabled           = errors.New("compute offload is disabled")
	ErrQueueNotConfigured = errors.New("no task queue configured for type")
	ErrInvalidRequest     = errors.New("invalid dispatch request")
)

const (
	DefaultImageQuality = 80
	DefaultImageFormat  = "webp"
	DefaultFrameCount   = 8
	DefaultRenderFormat = "pdf"
	DefaultPageSize     = "A4"
	DefaultIngestFormat = "text"
)

const (
	attrTaskType = "task_type"
	attrJobID    = "job_id"
)

type QueuePublisher interface {
	Publish(ctx context.Context, queueURL string, body []byte, attrs map[string]string) (string, error)
}

type JobWriter interface {
	Create(ctx context.Context, j *job.Job) error
	Fail(ctx context.Context, id, reason string) (bool, error)
}

type Options struct {
	Enabled      bool
	Queues       map[envelope.TaskType]string
	OutputBucket string
}

// Target is what every task type shares: who owns the job, where its input
// lives and which entity it serves.
type Target struct {
	UID           string            `json:"uid"`
	Input         envelope.Location `json:"input"`
	OutputBucket  string            `json:"outputBucket,omitempty"`
	FileID        string            `json:"fileId,omitempty"`
	ResultID      string            `json:"resultId,omitempty"`
	ResultVersion int               `json:"resultVersion,omitempty"`
	TraceID       string            `json:"traceId,omitempty"`
}

type DocumentIngestOptions struct {
	OutputFormat string `json:"outputFormat,omitempty"`
	MaxPages     int    `json:"maxPages,omitempty"`
}

type ImageTransformOptions struct {
	Format  string `json:"format,omitempty"`
	Quality int    `json:"quality,omitempty"`
	Width   int    `json:"width,omitempty"`
	Height  int    `json:"height,omitempty"`
}

type DocumentRenderOptions struct {
	Format   string `json:"format,omitempty"`
	PageSize string `json:"pageSize,omitempty"`
}

type VideoAnalyzeOptions struct {
	FrameCount     int  `json:"frameCount,omitempty"`
	SkipTranscript bool `json:"skipTranscript,omitempty"`
}

// Request is the type-erased form accepted over HTTP. Options is decoded
// into the option struct matching Type.
type Request struct {
	Type envelope.TaskType `json:"type"`
	Target
	Options json.RawMessage `json:"options,omitempty"`
}

type Dispatcher struct {
	jobs   JobWriter
	queue  QueuePublisher
	opts   Options
	logger *slog.Logger
}

func NewDispatcher(jobs JobWriter, queue QueuePublisher, opts Options, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{jobs: jobs, queue: queue, opts: opts, logger: logger}
}

func (d *Dispatcher) Enabled() bool {
	return d.opts.Enabled
}

func (d *Dispatcher) Dispatch(ctx context.Context, req Request) (*job.Job, error) {
	switch req.Type {
	case envelope.TaskDocumentIngest:
		var o DocumentIngestOptions
		if err := decodeOptions(req.Options, &o); err != nil {
			return nil, err
		}
		return d.DispatchDocumentIngest(ctx, req.Target, o)
	case envelope.TaskImageTransform:
		var o ImageTransformOptions
		if err := decodeOptions(req.Options, &o); err != nil {
			return nil, err
		}
		return d.DispatchImageTransform(ctx, req.Target, o)
	case envelope.TaskDocumentRender:
		var o DocumentRenderOptions
		if err := decodeOptions(req.Options, &o); err != nil {
			return nil, err
		}
		return d.DispatchDocumentRender(ctx, req.Target, o)
	case envelope.TaskVideoAnalyze:
		var o VideoAnalyzeOptions
		if err := decodeOptions(req.Options, &o); err != nil {
			return nil, err
		}
		return d.DispatchVideoAnalyze(ctx, req.Target, o)
	default:
		return nil, fmt.Errorf("%w: unknown type %q", ErrInvalidRequest, req.Type)
	}
}

func decodeOptions(raw json.RawMessage, v any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: options: %v", ErrInvalidRequest, err)
	}
	return nil
}

func (d *Dispatcher) DispatchDocumentIngest(ctx context.Context, t Target, o DocumentIngestOptions) (*job.Job, error) {
	return d.dispatch(ctx, envelope.TaskDocumentIngest, t, func(out envelope.OutputLocation) envelope.TaskPayload {
		return envelope.DocumentIngestTask{
			Input:        t.Input,
			Output:       out,
			OutputFormat: orDefault(o.OutputFormat, DefaultIngestFormat),
			MaxPages:     o.MaxPages,
		}
	})
}

func (d *Dispatcher) DispatchImageTransform(ctx context.Context, t Target, o ImageTransformOptions) (*job.Job, error) {
	return d.dispatch(ctx, envelope.TaskImageTransform, t, func(out envelope.OutputLocation) envelope.TaskPayload {
		quality := o.Quality
		if quality <= 0 {
			quality = DefaultImageQuality
		}
		return envelope.ImageTransformTask{
			Input:   t.Input,
			Output:  out,
			Format:  orDefault(o.Format, DefaultImageFormat),
			Quality: quality,
			Width:   o.Width,
			Height:  o.Height,
		}
	})
}

func (d *Dispatcher) DispatchDocumentRender(ctx context.Context, t Target, o DocumentRenderOptions) (*job.Job, error) {
	return d.dispatch(ctx, envelope.TaskDocumentRender, t, func(out envelope.OutputLocation) envelope.TaskPayload {
		return envelope.DocumentRenderTask{
			Input:    t.Input,
			Output:   out,
			Format:   orDefault(o.Format, DefaultRenderFormat),
			PageSize: orDefault(o.PageSize, DefaultPageSize),
		}
	})
}

func (d *Dispatcher) DispatchVideoAnalyze(ctx context.Context, t Target, o VideoAnalyzeOptions) (*job.Job, error) {
	return d.dispatch(ctx, envelope.TaskVideoAnalyze, t, func(out envelope.OutputLocation) envelope.TaskPayload {
		frames := o.FrameCount
		if frames <= 0 {
			frames = DefaultFrameCount
		}
		return envelope.VideoAnalyzeTask{
			Input:          t.Input,
			Output:         out,
			FrameCount:     frames,
			SkipTranscript: o.SkipTranscript,
		}
	})
}

func (d *Dispatcher) dispatch(ctx context.Context, typ envelope.TaskType, t Target, build func(envelope.OutputLocation) envelope.TaskPayload) (*job.Job, error) {
	if !d.opts.Enabled {
		d.logger.WarnContext(ctx, "dispatch requested while offload is disabled", "type", typ)
		return nil, ErrDisabled
	}
	if t.UID == "" || t.Input.Key == "" {
		return nil, fmt.Errorf("%w: uid and input key are required", ErrInvalidRequest)
	}

	// 1. Resolve queue before any write so a misconfiguration leaves no job behind
	queueURL, ok := d.opts.Queues[typ]
	if !ok || queueURL == "" {
		return nil, fmt.Errorf("%w: %s", ErrQueueNotConfigured, typ)
	}

	// 2. Create job record
	j := &job.Job{
		ID:            uuid.New().String(),
		Type:          typ,
		UID:           t.UID,
		Status:        job.StatusPending,
		StorageType:   job.StorageTemporary,
		FileID:        t.FileID,
		ResultID:      t.ResultID,
		ResultVersion: t.ResultVersion,
	}
	if err := d.jobs.Create(ctx, j); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}

	// 3. Build envelope
	bucket := t.OutputBucket
	if bucket == "" {
		bucket = d.opts.OutputBucket
	}
	traceID := t.TraceID
	if traceID == "" {
		if id, ok := middleware.CorrelationIDFrom(ctx); ok {
			traceID = id
		}
	}
	payload := build(envelope.OutputLocation{Bucket: bucket, Prefix: envelope.OutputPrefix(typ, j.ID)})
	env := envelope.NewTask(j.ID, t.UID, payload, traceID)

	body, err := json.Marshal(env)
	if err != nil {
		return nil, d.failDispatch(ctx, j, fmt.Errorf("marshal envelope: %w", err))
	}

	// 4. Publish
	msgID, err := d.queue.Publish(ctx, queueURL, body, map[string]string{
		attrTaskType: string(typ),
		attrJobID:    j.ID,
	})
	if err != nil {
		return nil, d.failDispatch(ctx, j, err)
	}

	d.logger.InfoContext(ctx, "job dispatched", "job_id", j.ID, "type", typ, "uid", t.UID, "message_id", msgID)
	return j, nil
}

// failDispatch marks j failed so it is never left pending, then returns
// the wrapped cause.
func (d *Dispatcher) failDispatch(ctx context.Context, j *job.Job, cause error) error {
	d.logger.ErrorContext(ctx, "failed to dispatch job", "job_id", j.ID, "type", j.Type, "error", cause)
	if _, err := d.jobs.Fail(context.WithoutCancel(ctx), j.ID, cause.Error()); err != nil {
		d.logger.ErrorContext(ctx, "failed to mark undispatched job failed", "job_id", j.ID, "error", err)
	}
	return fmt.Errorf("dispatch job %s: %w", j.ID, cause)
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
