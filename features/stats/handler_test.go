package stats

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"offload/apps/backend/features/job"
)

type MockJobCounter struct{ mock.Mock }

func (m *MockJobCounter) CountByStatus(ctx context.Context) (map[job.Status]int, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[job.Status]int), args.Error(1)
}

type MockDeadLetterCounter struct{ mock.Mock }

func (m *MockDeadLetterCounter) Count(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

func TestHandler_GetStats_Table(t *testing.T) {
	tests := []struct {
		name       string
		setupMocks func(*MockJobCounter, *MockDeadLetterCounter)
		wantStatus int
		wantError  bool
		checkBody  func(*testing.T, map[string]interface{})
	}{
		{
			name: "Success",
			setupMocks: func(j *MockJobCounter, d *MockDeadLetterCounter) {
				j.On("CountByStatus", mock.Anything).Return(map[job.Status]int{
					job.StatusPending: 2,
					job.StatusSuccess: 10,
					job.StatusFailed:  3,
				}, nil)
				d.On("Count", mock.Anything).Return(1, nil)
			},
			wantStatus: http.StatusOK,
			checkBody: func(t *testing.T, body map[string]interface{}) {
				data := body["data"].(map[string]interface{})
				jobs := data["jobs"].(map[string]interface{})
				assert.EqualValues(t, 2, jobs["pending"])
				assert.EqualValues(t, 0, jobs["processing"])
				assert.EqualValues(t, 10, jobs["success"])
				assert.EqualValues(t, 3, jobs["failed"])
				assert.EqualValues(t, 15, jobs["total"])
				assert.EqualValues(t, 1, data["dead_letters"])
			},
		},
		{
			name: "JobCounter Error",
			setupMocks: func(j *MockJobCounter, d *MockDeadLetterCounter) {
				j.On("CountByStatus", mock.Anything).Return(nil, errors.New("db error"))
			},
			wantStatus: http.StatusInternalServerError,
			wantError:  true,
		},
		{
			name: "DeadLetterCounter Error",
			setupMocks: func(j *MockJobCounter, d *MockDeadLetterCounter) {
				j.On("CountByStatus", mock.Anything).Return(map[job.Status]int{}, nil)
				d.On("Count", mock.Anything).Return(0, errors.New("db error"))
			},
			wantStatus: http.StatusInternalServerError,
			wantError:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mJobs := new(MockJobCounter)
			mDL := new(MockDeadLetterCounter)

			tt.setupMocks(mJobs, mDL)

			h := NewHandler(mJobs, mDL)
			req := httptest.NewRequest("GET", "/stats", nil)
			w := httptest.NewRecorder()

			h.GetStats(w, req)

			resp := w.Result()
			assert.Equal(t, tt.wantStatus, resp.StatusCode)

			var body map[string]interface{}
			err := json.NewDecoder(resp.Body).Decode(&body)
			assert.NoError(t, err)

			if tt.wantError {
				assert.Contains(t, body, "error")
				errMap := body["error"].(map[string]interface{})
				assert.Equal(t, "INTERNAL_ERROR", errMap["code"])
			} else {
				tt.checkBody(t, body)
			}
		})
	}
}
