package job

import (
	"encoding/json"
	"errors"
	"time"

	"offload/apps/backend/internal/envelope"
)

var (
	ErrNotFound        = errors.New("job not found")
	ErrNotSucceeded    = errors.New("job has not succeeded")
	ErrNoStorageKey    = errors.New("job has no storage key")
	ErrNotTemporaryKey = errors.New("storage key is not in temporary storage")
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusSuccess    Status = "success"
	StatusFailed     Status = "failed"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusSuccess, StatusFailed:
		return true
	}
	return false
}

func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusFailed
}

type StorageType string

const (
	StorageTemporary StorageType = "temporary"
	StoragePermanent StorageType = "permanent"
)

type EffectiveStatus string

const (
	EffectiveFailed         EffectiveStatus = "FAILED"
	EffectivePendingPersist EffectiveStatus = "PENDING_PERSIST"
	EffectiveCompleted      EffectiveStatus = "COMPLETED"
	EffectiveProcessing     EffectiveStatus = "PROCESSING"
	EffectivePending        EffectiveStatus = "PENDING"
)

type Job struct {
	ID            string            `json:"id"`
	Type          envelope.TaskType `json:"type"`
	UID           string            `json:"uid"`
	Status        Status            `json:"status"`
	StorageKey    string            `json:"storage_key,omitempty"`
	StorageType   StorageType       `json:"storage_type"`
	MimeType      string            `json:"mime_type,omitempty"`
	Name          string            `json:"name,omitempty"`
	FileID        string            `json:"file_id,omitempty"`
	ResultID      string            `json:"result_id,omitempty"`
	ResultVersion int               `json:"result_version,omitempty"`
	Error         string            `json:"error,omitempty"`
	Metadata      json.RawMessage   `json:"metadata,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

// EffectiveStatus folds storage type into the raw status for callers.
func (j *Job) EffectiveStatus() EffectiveStatus {
	switch j.Status {
	case StatusFailed:
		return EffectiveFailed
	case StatusSuccess:
		if j.StorageType == StoragePermanent {
			return EffectiveCompleted
		}
		return EffectivePendingPersist
	case StatusProcessing:
		return EffectiveProcessing
	default:
		return EffectivePending
	}
}

// Result is the terminal success data written by the result handler.
type Result struct {
	StorageKey string
	Name       string
	MimeType   string
	Metadata   json.RawMessage
}

type ListFilter struct {
	Status Status
	Type   envelope.TaskType
	Limit  int
	Offset int
}

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

func (f ListFilter) normalized() ListFilter {
	if f.Limit <= 0 {
		f.Limit = defaultListLimit
	}
	if f.Limit > maxListLimit {
		f.Limit = maxListLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}

type StatusView struct {
	Job             *Job            `json:"job"`
	EffectiveStatus EffectiveStatus `json:"effective_status"`
}
