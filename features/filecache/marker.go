package filecache

import (
	"context"
	"fmt"
)

// FailureMarker records that a file could not be processed.
type FailureMarker struct {
	repo Repository
}

func NewFailureMarker(repo Repository) *FailureMarker {
	return &FailureMarker{repo: repo}
}

func (m *FailureMarker) MarkFileFailed(ctx context.Context, uid, fileID, reason string) error {
	err := m.repo.Upsert(ctx, &Entry{
		FileID:      fileID,
		UID:         uid,
		ParseStatus: ParseFailed,
		Error:       reason,
	})
	if err != nil {
		return fmt.Errorf("mark file %s failed: %w", fileID, err)
	}
	return nil
}
