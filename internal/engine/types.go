package engine

import (
	"errors"
	"fmt"
	"time"
)

// Message represents a chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// PullProgress reports download progress for a model pull operation.
type PullProgress struct {
	Status    string `json:"status"`
	Total     int64  `json:"total,omitempty"`
	Completed int64  `json:"completed,omitempty"`
}

var (
	// ErrUnreachable means the backend could not be contacted at all.
	ErrUnreachable = errors.New("inference backend unreachable")
	// ErrModelNotFound means the backend is up but does not serve the model.
	ErrModelNotFound = errors.New("model not found")
	// ErrPullUnsupported is returned by backends that cannot download models.
	ErrPullUnsupported = errors.New("model pull not supported by this backend")
)

// RateLimitError is returned on HTTP 429. Callers decide whether to wait.
type RateLimitError struct {
	Status     int
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limited (HTTP %d), retry after %s", e.Status, e.RetryAfter)
	}
	return fmt.Sprintf("rate limited (HTTP %d)", e.Status)
}
