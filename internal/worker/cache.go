package worker

import (
	"context"
	"fmt"
	"log/slog"

	"offload/apps/backend/features/filecache"
	"offload/apps/backend/features/job"
	"offload/apps/backend/internal/envelope"
	"offload/apps/backend/internal/text"
)

// ContentCache copies the text output of document-ingest jobs into the
// durable cache store. It never reports errors to its caller.
type ContentCache struct {
	source    BlobReader
	dest      BlobWriter
	truncator Truncator
	repo      CacheRepo
	maxTokens int
	logger    *slog.Logger
}

func NewContentCache(source BlobReader, dest BlobWriter, truncator Truncator, repo CacheRepo, maxTokens int, logger *slog.Logger) *ContentCache {
	if logger == nil {
		logger = slog.Default()
	}
	return &ContentCache{source: source, dest: dest, truncator: truncator, repo: repo, maxTokens: maxTokens, logger: logger}
}

func (c *ContentCache) CacheDocument(ctx context.Context, j *job.Job, res *envelope.DocumentIngestResult) {
	if j.FileID == "" {
		c.logger.DebugContext(ctx, "job has no file, skipping content cache", "job_id", j.ID)
		return
	}

	raw, err := c.source.Get(ctx, res.Document.Key)
	if err != nil {
		c.logger.WarnContext(ctx, "failed to read ingest output, skipping content cache",
			"job_id", j.ID, "key", res.Document.Key, "error", err)
		return
	}
	if len(raw) == 0 {
		return
	}

	if err := c.store(ctx, j, string(raw)); err != nil {
		c.logger.WarnContext(ctx, "failed to cache document content", "job_id", j.ID, "file_id", j.FileID, "error", err)
		failed := &filecache.Entry{
			FileID:      j.FileID,
			UID:         j.UID,
			JobID:       j.ID,
			ParseStatus: filecache.ParseFailed,
			Error:       err.Error(),
		}
		if err := c.repo.Upsert(ctx, failed); err != nil {
			c.logger.ErrorContext(ctx, "failed to record content cache failure", "file_id", j.FileID, "error", err)
		}
	}
}

func (c *ContentCache) store(ctx context.Context, j *job.Job, raw string) error {
	content := text.Normalize(raw)
	content, tokens, truncated := c.truncator.Truncate(content, c.maxTokens)

	key := filecache.ContentKey(j.UID, j.FileID)
	if err := c.dest.Put(ctx, key, []byte(content), filecache.ContentTypeText); err != nil {
		return fmt.Errorf("write cache object: %w", err)
	}

	entry := &filecache.Entry{
		FileID:      j.FileID,
		UID:         j.UID,
		JobID:       j.ID,
		ContentKey:  key,
		ContentType: filecache.ContentTypeText,
		WordCount:   text.WordCount(content),
		TokenCount:  tokens,
		Truncated:   truncated,
		ParseStatus: filecache.ParseSuccess,
	}
	if err := c.repo.Upsert(ctx, entry); err != nil {
		return fmt.Errorf("upsert cache entry: %w", err)
	}

	c.logger.InfoContext(ctx, "document content cached", "file_id", j.FileID, "key", key,
		"tokens", tokens, "truncated", truncated)
	return nil
}
