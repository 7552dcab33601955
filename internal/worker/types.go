package worker

import (
	"context"

	"offload/apps/backend/features/filecache"
	"offload/apps/backend/features/job"
	"offload/apps/backend/internal/envelope"
)

type JobStore interface {
	Get(ctx context.Context, id string) (*job.Job, error)
	Complete(ctx context.Context, id string, res job.Result) (bool, error)
	Fail(ctx context.Context, id, reason string) (bool, error)
}

// FileFailureMarker flags the file entity a job serves as failed.
type FileFailureMarker interface {
	MarkFileFailed(ctx context.Context, uid, fileID, reason string) error
}

type ContentCacher interface {
	CacheDocument(ctx context.Context, j *job.Job, res *envelope.DocumentIngestResult)
}

type BlobReader interface {
	Get(ctx context.Context, key string) ([]byte, error)
}

type BlobWriter interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
}

type Truncator interface {
	Truncate(s string, maxTokens int) (string, int, bool)
}

type CacheRepo interface {
	Upsert(ctx context.Context, e *filecache.Entry) error
}

type ResultHandler interface {
	Handle(ctx context.Context, env *envelope.ResultEnvelope) error
}
