package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path"

	"offload/apps/backend/features/job"
	"offload/apps/backend/internal/envelope"
)

const codeResultProcessing = "RESULT_PROCESSING_ERROR"

// Handler reconciles result envelopes into job state. Every transition is
// applied at most once: results for unknown or terminal jobs are dropped.
type Handler struct {
	jobs   JobStore
	files  FileFailureMarker
	cacher ContentCacher
	logger *slog.Logger
}

func NewHandler(jobs JobStore, files FileFailureMarker, cacher ContentCacher, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{jobs: jobs, files: files, cacher: cacher, logger: logger}
}

func (h *Handler) Handle(ctx context.Context, env *envelope.ResultEnvelope) error {
	// 1. Look up job
	j, err := h.jobs.Get(ctx, env.JobID)
	if errors.Is(err, job.ErrNotFound) {
		h.logger.WarnContext(ctx, "result for unknown job, dropping", "job_id", env.JobID, "type", env.Type)
		return nil
	}
	if err != nil {
		return fmt.Errorf("get job %s: %w", env.JobID, err)
	}

	// 2. Idempotency
	if j.Status.Terminal() {
		h.logger.DebugContext(ctx, "job already terminal, dropping result", "job_id", j.ID, "status", j.Status)
		return nil
	}

	// 3. Compute tier reported failure
	if env.Status == envelope.ResultFailed {
		return h.fail(ctx, j, env.FailureReason())
	}

	// 4. Success; unknown types are left untouched
	if !env.Type.Valid() {
		h.logger.WarnContext(ctx, "result has unknown type, leaving job unchanged", "job_id", j.ID, "type", env.Type)
		return nil
	}

	if err := h.complete(ctx, j, env); err != nil {
		// 5. Never leave the job stuck on a processing error
		h.logger.ErrorContext(ctx, "failed to process result", "job_id", j.ID, "type", env.Type, "error", err)
		if failErr := h.fail(ctx, j, codeResultProcessing+": "+err.Error()); failErr != nil {
			return errors.Join(err, failErr)
		}
		return err
	}
	return nil
}

func (h *Handler) complete(ctx context.Context, j *job.Job, env *envelope.ResultEnvelope) error {
	payload, err := envelope.DecodeResult(env.Type, env.Payload)
	if err != nil {
		return err
	}

	metadata, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	obj := payload.Primary()
	name := obj.Name
	if name == "" {
		name = path.Base(obj.Key)
	}

	applied, err := h.jobs.Complete(ctx, j.ID, job.Result{
		StorageKey: obj.Key,
		Name:       name,
		MimeType:   obj.MimeType,
		Metadata:   metadata,
	})
	if err != nil {
		return fmt.Errorf("complete job: %w", err)
	}
	if !applied {
		h.logger.DebugContext(ctx, "job reached a terminal state concurrently", "job_id", j.ID)
		return nil
	}
	h.logger.InfoContext(ctx, "job completed", "job_id", j.ID, "type", j.Type, "storage_key", obj.Key)

	j.Status = job.StatusSuccess
	j.StorageKey = obj.Key

	if doc, ok := payload.(*envelope.DocumentIngestResult); ok && h.cacher != nil {
		h.cacher.CacheDocument(ctx, j, doc)
	}
	return nil
}

// fail applies the failed transition and flags the associated file. A store
// error is returned so the message is retried; a file marking error is only
// logged.
func (h *Handler) fail(ctx context.Context, j *job.Job, reason string) error {
	applied, err := h.jobs.Fail(ctx, j.ID, reason)
	if err != nil {
		return fmt.Errorf("fail job %s: %w", j.ID, err)
	}
	if !applied {
		h.logger.DebugContext(ctx, "job reached a terminal state concurrently", "job_id", j.ID)
		return nil
	}
	h.logger.InfoContext(ctx, "job failed", "job_id", j.ID, "type", j.Type, "error", reason)

	if j.FileID == "" || h.files == nil {
		return nil
	}
	if err := h.files.MarkFileFailed(ctx, j.UID, j.FileID, reason); err != nil {
		h.logger.WarnContext(ctx, "failed to mark file failed", "job_id", j.ID, "file_id", j.FileID, "error", err)
	}
	return nil
}
