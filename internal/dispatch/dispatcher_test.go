package dispatch_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"offload/apps/backend/features/job"
	"offload/apps/backend/internal/dispatch"
	"offload/apps/backend/internal/envelope"
	"offload/apps/backend/internal/middleware"
)

type MockJobWriter struct{ mock.Mock }

func (m *MockJobWriter) Create(ctx context.Context, j *job.Job) error {
	args := m.Called(ctx, j)
	return args.Error(0)
}

func (m *MockJobWriter) Fail(ctx context.Context, id, reason string) (bool, error) {
	args := m.Called(ctx, id, reason)
	return args.Bool(0), args.Error(1)
}

type MockQueue struct{ mock.Mock }

func (m *MockQueue) Publish(ctx context.Context, queueURL string, body []byte, attrs map[string]string) (string, error) {
	args := m.Called(ctx, queueURL, body, attrs)
	return args.String(0), args.Error(1)
}

func enabledOptions() dispatch.Options {
	return dispatch.Options{
		Enabled: true,
		Queues: map[envelope.TaskType]string{
			envelope.TaskDocumentIngest: "https://sqs/ingest",
			envelope.TaskImageTransform: "https://sqs/image",
			envelope.TaskDocumentRender: "https://sqs/render",
			envelope.TaskVideoAnalyze:   "https://sqs/video",
		},
		OutputBucket: "compute",
	}
}

func target() dispatch.Target {
	return dispatch.Target{UID: "u1", Input: envelope.Location{Bucket: "uploads", Key: "u1/in.pdf"}, FileID: "f1"}
}

// captureEnvelope decodes the published body into a generic map.
func captureEnvelope(t *testing.T, q *MockQueue) map[string]any {
	t.Helper()
	for _, call := range q.Calls {
		if call.Method == "Publish" {
			var env map[string]any
			require.NoError(t, json.Unmarshal(call.Arguments.Get(2).([]byte), &env))
			return env
		}
	}
	t.Fatal("Publish not called")
	return nil
}

func TestDispatcher_DocumentIngest(t *testing.T) {
	jobs := new(MockJobWriter)
	q := new(MockQueue)
	d := dispatch.NewDispatcher(jobs, q, enabledOptions(), nil)

	jobs.On("Create", mock.Anything, mock.MatchedBy(func(j *job.Job) bool {
		return j.ID != "" && j.Status == job.StatusPending && j.StorageType == job.StorageTemporary &&
			j.Type == envelope.TaskDocumentIngest && j.FileID == "f1"
	})).Return(nil)
	q.On("Publish", mock.Anything, "https://sqs/ingest", mock.Anything, mock.MatchedBy(func(attrs map[string]string) bool {
		return attrs["task_type"] == "document-ingest" && attrs["job_id"] != ""
	})).Return("m1", nil)

	ctx := middleware.WithCorrelationID(context.Background(), "trace-1")
	j, err := d.DispatchDocumentIngest(ctx, target(), dispatch.DocumentIngestOptions{})
	require.NoError(t, err)

	env := captureEnvelope(t, q)
	assert.Equal(t, envelope.Version, env["version"])
	assert.Equal(t, j.ID, env["jobId"])
	assert.Equal(t, "trace-1", env["meta"].(map[string]any)["traceId"])

	payload := env["payload"].(map[string]any)
	assert.Equal(t, "text", payload["outputFormat"])
	out := payload["output"].(map[string]any)
	assert.Equal(t, "compute", out["bucket"])
	assert.Equal(t, "temp/document-ingest/"+j.ID+"/", out["prefix"])
	jobs.AssertNotCalled(t, "Fail", mock.Anything, mock.Anything, mock.Anything)
}

func TestDispatcher_Defaults(t *testing.T) {
	tests := []struct {
		name  string
		run   func(*dispatch.Dispatcher) (*job.Job, error)
		check func(*testing.T, map[string]any)
	}{
		{
			name: "Image Transform",
			run: func(d *dispatch.Dispatcher) (*job.Job, error) {
				return d.DispatchImageTransform(context.Background(), target(), dispatch.ImageTransformOptions{Width: 640})
			},
			check: func(t *testing.T, p map[string]any) {
				assert.EqualValues(t, 80, p["quality"])
				assert.Equal(t, "webp", p["format"])
				assert.EqualValues(t, 640, p["width"])
			},
		},
		{
			name: "Image Transform Explicit Quality",
			run: func(d *dispatch.Dispatcher) (*job.Job, error) {
				return d.DispatchImageTransform(context.Background(), target(), dispatch.ImageTransformOptions{Quality: 55, Format: "png"})
			},
			check: func(t *testing.T, p map[string]any) {
				assert.EqualValues(t, 55, p["quality"])
				assert.Equal(t, "png", p["format"])
			},
		},
		{
			name: "Document Render",
			run: func(d *dispatch.Dispatcher) (*job.Job, error) {
				return d.DispatchDocumentRender(context.Background(), target(), dispatch.DocumentRenderOptions{})
			},
			check: func(t *testing.T, p map[string]any) {
				assert.Equal(t, "pdf", p["format"])
				assert.Equal(t, "A4", p["pageSize"])
			},
		},
		{
			name: "Video Analyze",
			run: func(d *dispatch.Dispatcher) (*job.Job, error) {
				return d.DispatchVideoAnalyze(context.Background(), target(), dispatch.VideoAnalyzeOptions{})
			},
			check: func(t *testing.T, p map[string]any) {
				assert.EqualValues(t, 8, p["frameCount"])
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			jobs := new(MockJobWriter)
			q := new(MockQueue)
			jobs.On("Create", mock.Anything, mock.Anything).Return(nil)
			q.On("Publish", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return("m1", nil)

			_, err := tt.run(dispatch.NewDispatcher(jobs, q, enabledOptions(), nil))
			require.NoError(t, err)
			tt.check(t, captureEnvelope(t, q)["payload"].(map[string]any))
		})
	}
}

func TestDispatcher_PublishFailureMarksJobFailed(t *testing.T) {
	jobs := new(MockJobWriter)
	q := new(MockQueue)
	d := dispatch.NewDispatcher(jobs, q, enabledOptions(), nil)

	var created *job.Job
	jobs.On("Create", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		created = args.Get(1).(*job.Job)
	}).Return(nil)
	q.On("Publish", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return("", errors.New("sqs throttled"))
	jobs.On("Fail", mock.Anything, mock.Anything, "sqs throttled").Return(true, nil)

	j, err := d.DispatchVideoAnalyze(context.Background(), target(), dispatch.VideoAnalyzeOptions{})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "sqs throttled")
	assert.Nil(t, j)
	require.NotNil(t, created)
	jobs.AssertCalled(t, "Fail", mock.Anything, created.ID, "sqs throttled")
}

func TestDispatcher_QueueNotConfigured(t *testing.T) {
	jobs := new(MockJobWriter)
	q := new(MockQueue)
	opts := enabledOptions()
	delete(opts.Queues, envelope.TaskDocumentRender)
	d := dispatch.NewDispatcher(jobs, q, opts, nil)

	_, err := d.DispatchDocumentRender(context.Background(), target(), dispatch.DocumentRenderOptions{})
	assert.ErrorIs(t, err, dispatch.ErrQueueNotConfigured)
	jobs.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
	q.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestDispatcher_Disabled(t *testing.T) {
	jobs := new(MockJobWriter)
	q := new(MockQueue)
	opts := enabledOptions()
	opts.Enabled = false
	d := dispatch.NewDispatcher(jobs, q, opts, nil)

	_, err := d.DispatchDocumentIngest(context.Background(), target(), dispatch.DocumentIngestOptions{})
	assert.ErrorIs(t, err, dispatch.ErrDisabled)
	jobs.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestDispatcher_CreateFailure(t *testing.T) {
	jobs := new(MockJobWriter)
	q := new(MockQueue)
	d := dispatch.NewDispatcher(jobs, q, enabledOptions(), nil)

	jobs.On("Create", mock.Anything, mock.Anything).Return(errors.New("db down"))

	_, err := d.DispatchDocumentIngest(context.Background(), target(), dispatch.DocumentIngestOptions{})
	assert.Error(t, err)
	q.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestDispatcher_Dispatch_Request(t *testing.T) {
	jobs := new(MockJobWriter)
	q := new(MockQueue)
	d := dispatch.NewDispatcher(jobs, q, enabledOptions(), nil)

	jobs.On("Create", mock.Anything, mock.Anything).Return(nil)
	q.On("Publish", mock.Anything, "https://sqs/image", mock.Anything, mock.Anything).Return("m1", nil)

	j, err := d.Dispatch(context.Background(), dispatch.Request{
		Type:    envelope.TaskImageTransform,
		Target:  target(),
		Options: json.RawMessage(`{"quality":90}`),
	})
	require.NoError(t, err)
	assert.Equal(t, envelope.TaskImageTransform, j.Type)
	assert.EqualValues(t, 90, captureEnvelope(t, q)["payload"].(map[string]any)["quality"])

	_, err = d.Dispatch(context.Background(), dispatch.Request{Type: "audio-mix", Target: target()})
	assert.ErrorIs(t, err, dispatch.ErrInvalidRequest)

	_, err = d.Dispatch(context.Background(), dispatch.Request{Type: envelope.TaskImageTransform, Target: target(), Options: json.RawMessage(`[1]`)})
	assert.ErrorIs(t, err, dispatch.ErrInvalidRequest)

	_, err = d.Dispatch(context.Background(), dispatch.Request{Type: envelope.TaskImageTransform, Target: dispatch.Target{UID: "u1"}})
	assert.ErrorIs(t, err, dispatch.ErrInvalidRequest)
}
