package envelope

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Version is the only envelope version this service produces and accepts.
const Version = "1.0"

var ErrInvalidEnvelope = errors.New("invalid envelope")

type TaskType string

const (
	TaskDocumentIngest TaskType = "document-ingest"
	TaskImageTransform TaskType = "image-transform"
	TaskDocumentRender TaskType = "document-render"
	TaskVideoAnalyze   TaskType = "video-analyze"
)

// TaskTypes lists every task type in dispatch order.
var TaskTypes = []TaskType{TaskDocumentIngest, TaskImageTransform, TaskDocumentRender, TaskVideoAnalyze}

func (t TaskType) Valid() bool {
	switch t {
	case TaskDocumentIngest, TaskImageTransform, TaskDocumentRender, TaskVideoAnalyze:
		return true
	}
	return false
}

type ResultStatus string

const (
	ResultSuccess ResultStatus = "success"
	ResultFailed  ResultStatus = "failed"
)

type TaskMeta struct {
	CreatedAt time.Time `json:"createdAt"`
	TraceID   string    `json:"traceId,omitempty"`
}

type TaskEnvelope struct {
	Version string      `json:"version"`
	Type    TaskType    `json:"type"`
	JobID   string      `json:"jobId"`
	UID     string      `json:"uid"`
	Payload TaskPayload `json:"payload"`
	Meta    TaskMeta    `json:"meta"`
}

// NewTask wraps payload in a versioned envelope. The envelope type always
// follows the payload, so a mismatched pair cannot be built.
func NewTask(jobID, uid string, payload TaskPayload, traceID string) TaskEnvelope {
	return TaskEnvelope{
		Version: Version,
		Type:    payload.TaskType(),
		JobID:   jobID,
		UID:     uid,
		Payload: payload,
		Meta: TaskMeta{
			CreatedAt: time.Now().UTC(),
			TraceID:   traceID,
		},
	}
}

type ResultError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

func (e *ResultError) String() string {
	if e == nil {
		return "UNKNOWN_ERROR: no error details"
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

type ResultMeta struct {
	ProcessingTimeMs int64  `json:"processingTimeMs"`
	LambdaRequestID  string `json:"lambdaRequestId,omitempty"`
	TraceID          string `json:"traceId,omitempty"`
}

type ResultEnvelope struct {
	Version string          `json:"version"`
	Type    TaskType        `json:"type"`
	JobID   string          `json:"jobId"`
	Status  ResultStatus    `json:"status"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   *ResultError    `json:"error,omitempty"`
	Meta    ResultMeta      `json:"meta"`
}

// ParseResult decodes and validates a result envelope. Unknown task types
// are accepted here; only structural problems are rejected.
func ParseResult(body []byte) (*ResultEnvelope, error) {
	var env ResultEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}
	if err := env.Validate(); err != nil {
		return nil, err
	}
	return &env, nil
}

func (e *ResultEnvelope) Validate() error {
	switch {
	case e.Version == "":
		return fmt.Errorf("%w: missing version", ErrInvalidEnvelope)
	case e.Type == "":
		return fmt.Errorf("%w: missing type", ErrInvalidEnvelope)
	case e.JobID == "":
		return fmt.Errorf("%w: missing jobId", ErrInvalidEnvelope)
	case e.Status == "":
		return fmt.Errorf("%w: missing status", ErrInvalidEnvelope)
	case e.Version != Version:
		return fmt.Errorf("%w: unsupported version %q", ErrInvalidEnvelope, e.Version)
	case e.Status != ResultSuccess && e.Status != ResultFailed:
		return fmt.Errorf("%w: unknown status %q", ErrInvalidEnvelope, e.Status)
	}
	return nil
}

// FailureReason renders the job error string for a failed envelope.
func (e *ResultEnvelope) FailureReason() string {
	return e.Error.String()
}
