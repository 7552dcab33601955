package deadletter

import (
	"encoding/json"
	"errors"
	"time"
)

var ErrNotFound = errors.New("dead letter not found")

// Message is an internal work-queue delivery that exhausted its attempts.
type Message struct {
	ID        string          `json:"id"`
	JobID     string          `json:"job_id"`
	Topic     string          `json:"topic"`
	Body      json.RawMessage `json:"body"`
	Error     string          `json:"error"`
	Attempts  int             `json:"attempts"`
	CreatedAt time.Time       `json:"created_at"`
}
