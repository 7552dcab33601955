package filecache

import (
	"errors"
	"time"
)

var ErrNotFound = errors.New("file cache entry not found")

type ParseStatus string

const (
	ParseSuccess ParseStatus = "success"
	ParseFailed  ParseStatus = "failed"
)

const ContentTypeText = "text/plain; charset=utf-8"

// Entry describes the cached plain-text rendition of an uploaded file.
type Entry struct {
	FileID      string      `json:"file_id"`
	UID         string      `json:"uid"`
	JobID       string      `json:"job_id,omitempty"`
	ContentKey  string      `json:"content_key,omitempty"`
	ContentType string      `json:"content_type,omitempty"`
	WordCount   int         `json:"word_count"`
	TokenCount  int         `json:"token_count"`
	Truncated   bool        `json:"truncated"`
	ParseStatus ParseStatus `json:"parse_status"`
	Error       string      `json:"error,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// ContentKey is the cache-store key for a user's file.
func ContentKey(uid, fileID string) string {
	return "file-cache/" + uid + "/" + fileID + ".txt"
}
