package checkpoint

import (
	"time"
)

// TaskStatus represents the status of a migration task
type TaskStatus string

const (
	StatusCompleted TaskStatus = "completed"
	StatusSkipped   TaskStatus = "skipped"
	StatusFailed    TaskStatus = "failed"
)

// TaskRecord is the persisted terminal state of one (bucket, key) pair.
// It powers resume (skip re-checks) and the failed-set retry run.
type TaskRecord struct {
	Bucket    string     `json:"bucket"`
	Key       string     `json:"key"`
	TargetKey string     `json:"target_key"`
	Size      int64      `json:"size"`
	ETag      string     `json:"etag"`
	Status    TaskStatus `json:"status"`
	Attempts  int        `json:"attempts"`
	LastError string     `json:"last_error,omitempty"`
	RunID     string     `json:"run_id"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// Store defines the interface for checkpoint persistence
type Store interface {
	GetTask(bucket, key string) (*TaskRecord, error)
	SaveTask(record *TaskRecord) error
	ListFailedTasks() ([]*TaskRecord, error)

	Close() error
}
