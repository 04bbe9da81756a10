package domain

import "time"

// Status of a queued operation. "success" is transient: an operation that
// reaches it is removed from the queue immediately.
const (
	StatusPending = "pending"
	StatusSyncing = "syncing"
	StatusFailed  = "failed"
	StatusSuccess = "success"
)

// QueuedOperation is one deferred remote command. The queue treats Command
// and Args as opaque; it only manages delivery state.
type QueuedOperation struct {
	ID         string         `json:"id"`
	Command    string         `json:"command"`
	Args       map[string]any `json:"args"`
	Timestamp  time.Time      `json:"timestamp"`
	Retries    int            `json:"retries"`
	MaxRetries int            `json:"max_retries"`
	Status     string         `json:"status"`
	Error      string         `json:"error,omitempty"`
}
