package deadletter_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"offload/apps/backend/features/deadletter"
)

type MockRepo struct {
	mock.Mock
}

func (m *MockRepo) Save(ctx context.Context, msg *deadletter.Message) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}

func (m *MockRepo) List(ctx context.Context) ([]deadletter.Message, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]deadletter.Message), args.Error(1)
}

func (m *MockRepo) Get(ctx context.Context, id string) (*deadletter.Message, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*deadletter.Message), args.Error(1)
}

func (m *MockRepo) Delete(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockRepo) Count(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

func (m *MockRepo) Prune(ctx context.Context, keep int) (int64, error) {
	args := m.Called(ctx, keep)
	return int64(args.Int(0)), args.Error(1)
}

type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(topic string, body []byte) error {
	args := m.Called(topic, body)
	return args.Error(0)
}

func TestHandler_List(t *testing.T) {
	mockRepo := new(MockRepo)
	handler := deadletter.NewHandler(deadletter.NewService(mockRepo, nil, 100, nil))

	mockRepo.On("List", mock.Anything).Return(nil, nil)

	req := httptest.NewRequest("GET", "/dead-letters", nil)
	w := httptest.NewRecorder()
	handler.List(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Equal(t, []interface{}{}, body["data"])
	assert.EqualValues(t, 0, body["meta"].(map[string]interface{})["count"])
}

func TestHandler_List_Error(t *testing.T) {
	mockRepo := new(MockRepo)
	handler := deadletter.NewHandler(deadletter.NewService(mockRepo, nil, 100, nil))

	mockRepo.On("List", mock.Anything).Return(nil, errors.New("db down"))

	req := httptest.NewRequest("GET", "/dead-letters", nil)
	w := httptest.NewRecorder()
	handler.List(w, req)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestHandler_Retry_NotFound(t *testing.T) {
	mockRepo := new(MockRepo)
	mockPub := new(MockPublisher)
	handler := deadletter.NewHandler(deadletter.NewService(mockRepo, mockPub, 100, nil))

	mockRepo.On("Get", mock.Anything, "99").Return(nil, deadletter.ErrNotFound)

	req := httptest.NewRequest("POST", "/dead-letters/99/retry", nil)
	req.SetPathValue("id", "99")
	w := httptest.NewRecorder()
	handler.Retry(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
	mockPub.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything)
}

func TestHandler_Retry_Success(t *testing.T) {
	mockRepo := new(MockRepo)
	mockPub := new(MockPublisher)
	handler := deadletter.NewHandler(deadletter.NewService(mockRepo, mockPub, 100, nil))

	msg := &deadletter.Message{ID: "1", JobID: "j1", Topic: "offload.result", Body: json.RawMessage(`{"jobId":"j1"}`)}
	mockRepo.On("Get", mock.Anything, "1").Return(msg, nil)
	mockPub.On("Publish", "offload.result", []byte(`{"jobId":"j1"}`)).Return(nil)
	mockRepo.On("Delete", mock.Anything, "1").Return(nil)

	req := httptest.NewRequest("POST", "/dead-letters/1/retry", nil)
	req.SetPathValue("id", "1")
	w := httptest.NewRecorder()
	handler.Retry(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	mockRepo.AssertExpectations(t)
	mockPub.AssertExpectations(t)
}
