package worker_test

import (
	"context"
	"sync"

	"github.com/stretchr/testify/mock"

	"offload/apps/backend/features/filecache"
	"offload/apps/backend/features/job"
	"offload/apps/backend/internal/envelope"
)

type MockJobStore struct{ mock.Mock }

func (m *MockJobStore) Get(ctx context.Context, id string) (*job.Job, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*job.Job), args.Error(1)
}

func (m *MockJobStore) Complete(ctx context.Context, id string, res job.Result) (bool, error) {
	args := m.Called(ctx, id, res)
	return args.Bool(0), args.Error(1)
}

func (m *MockJobStore) Fail(ctx context.Context, id, reason string) (bool, error) {
	args := m.Called(ctx, id, reason)
	return args.Bool(0), args.Error(1)
}

// memJobStore keeps one job in memory and applies terminal transitions only
// from a non-terminal state, like the Postgres repo.
type memJobStore struct {
	mu        sync.Mutex
	job       job.Job
	completes int
	fails     int
}

func (s *memJobStore) Get(_ context.Context, id string) (*job.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id != s.job.ID {
		return nil, job.ErrNotFound
	}
	j := s.job
	return &j, nil
}

func (s *memJobStore) Complete(_ context.Context, id string, res job.Result) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id != s.job.ID || s.job.Status.Terminal() {
		return false, nil
	}
	s.job.Status = job.StatusSuccess
	s.job.StorageKey = res.StorageKey
	s.completes++
	return true, nil
}

func (s *memJobStore) Fail(_ context.Context, id, reason string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id != s.job.ID || s.job.Status.Terminal() {
		return false, nil
	}
	s.job.Status = job.StatusFailed
	s.job.Error = reason
	s.fails++
	return true, nil
}

type MockFileMarker struct{ mock.Mock }

func (m *MockFileMarker) MarkFileFailed(ctx context.Context, uid, fileID, reason string) error {
	args := m.Called(ctx, uid, fileID, reason)
	return args.Error(0)
}

type MockCacher struct{ mock.Mock }

func (m *MockCacher) CacheDocument(ctx context.Context, j *job.Job, res *envelope.DocumentIngestResult) {
	m.Called(ctx, j, res)
}

type MockBlobs struct{ mock.Mock }

func (m *MockBlobs) Get(ctx context.Context, key string) ([]byte, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

func (m *MockBlobs) Put(ctx context.Context, key string, data []byte, contentType string) error {
	args := m.Called(ctx, key, data, contentType)
	return args.Error(0)
}

type MockCacheRepo struct{ mock.Mock }

func (m *MockCacheRepo) Upsert(ctx context.Context, e *filecache.Entry) error {
	args := m.Called(ctx, e)
	return args.Error(0)
}

type MockResultHandler struct{ mock.Mock }

func (m *MockResultHandler) Handle(ctx context.Context, env *envelope.ResultEnvelope) error {
	args := m.Called(ctx, env)
	return args.Error(0)
}

// passthrough truncator reporting one token per byte
type byteTruncator struct{}

func (byteTruncator) Truncate(s string, maxTokens int) (string, int, bool) {
	if len(s) <= maxTokens {
		return s, len(s), false
	}
	return s[:maxTokens], maxTokens, true
}
