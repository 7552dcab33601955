package job

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// BlobStore is the compute-tier object store holding job results.
type BlobStore interface {
	Copy(ctx context.Context, srcKey, dstKey string) error
	Delete(ctx context.Context, key string) error
}

type Service struct {
	repo   Repository
	blobs  BlobStore
	logger *slog.Logger
}

func NewService(repo Repository, blobs BlobStore, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, blobs: blobs, logger: logger}
}

func (s *Service) GetJob(ctx context.Context, id string) (*Job, error) {
	return s.repo.Get(ctx, id)
}

func (s *Service) GetJobStatus(ctx context.Context, id string) (*StatusView, error) {
	j, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return &StatusView{Job: j, EffectiveStatus: j.EffectiveStatus()}, nil
}

func (s *Service) ListJobsByUser(ctx context.Context, uid string, filter ListFilter) ([]Job, int, error) {
	return s.repo.ListByUser(ctx, uid, filter)
}

// MarkProcessing records that the compute tier picked the job up. Jobs
// that already left pending are left alone.
func (s *Service) MarkProcessing(ctx context.Context, id string) (bool, error) {
	return s.repo.MarkProcessing(ctx, id)
}

func (s *Service) CountByStatus(ctx context.Context) (map[Status]int, error) {
	return s.repo.CountByStatus(ctx)
}

// PermanentKey maps a temporary result key to its permanent location by
// replacing the first "temp/" path segment.
func PermanentKey(tempKey string) (string, error) {
	if strings.HasPrefix(tempKey, "temp/") {
		return "permanent/" + strings.TrimPrefix(tempKey, "temp/"), nil
	}
	if i := strings.Index(tempKey, "/temp/"); i >= 0 {
		return tempKey[:i] + "/permanent/" + tempKey[i+len("/temp/"):], nil
	}
	return "", fmt.Errorf("%w: %s", ErrNotTemporaryKey, tempKey)
}

// PersistResult promotes a successful job's result blob from temporary to
// permanent storage and returns the permanent key.
//
// Copy, record update and delete are separate steps. A crash after the
// copy leaves both objects and the job still temporary, so a rerun is
// safe. A crash after the update orphans the temporary object; nothing
// sweeps those up.
func (s *Service) PersistResult(ctx context.Context, id string) (string, error) {
	j, err := s.repo.Get(ctx, id)
	if err != nil {
		return "", err
	}
	if j.StorageType == StoragePermanent {
		return j.StorageKey, nil
	}
	if j.Status != StatusSuccess {
		return "", fmt.Errorf("%w: job %s is %s", ErrNotSucceeded, id, j.Status)
	}
	if j.StorageKey == "" {
		return "", fmt.Errorf("%w: job %s", ErrNoStorageKey, id)
	}

	permKey, err := PermanentKey(j.StorageKey)
	if err != nil {
		return "", err
	}

	// 1. Copy
	if err := s.blobs.Copy(ctx, j.StorageKey, permKey); err != nil {
		return "", fmt.Errorf("copy %s to %s: %w", j.StorageKey, permKey, err)
	}

	// 2. Point the record at the permanent object
	if err := s.repo.PromoteStorage(ctx, id, permKey); err != nil {
		return "", fmt.Errorf("update job storage: %w", err)
	}

	// 3. Remove the temporary object
	if err := s.blobs.Delete(ctx, j.StorageKey); err != nil {
		s.logger.WarnContext(ctx, "failed to delete temporary object after persist",
			"job_id", id, "key", j.StorageKey, "error", err)
	}

	s.logger.InfoContext(ctx, "job result persisted", "job_id", id, "key", permKey)
	return permKey, nil
}
