package worker

import (
	"time"

	"github.com/xiyadong1/obs2oss/internal/config"
	"github.com/xiyadong1/obs2oss/internal/storage"
)

// Task pairs one discovered object with the bucket mapping it belongs to.
// Exactly one task exists per discovered, non-excluded object; it is owned
// by the task queue until claimed by a single worker.
type Task struct {
	Mapping config.BucketMapping
	Object  storage.ObjectInfo
}

// Status is the terminal classification of a transfer
type Status string

const (
	StatusSuccess Status = "success"
	// StatusSkipped means the target already held an identical object.
	// Skipped counts as success.
	StatusSkipped Status = "skipped"
	StatusFailed  Status = "failed"
)

// Outcome is the single terminal record emitted for a task
type Outcome struct {
	SourceBucket string
	Key          string
	TargetKey    string
	Size         int64
	Status       Status
	Attempts     int
	Duration     time.Duration
	Error        string
}

// Succeeded reports whether the outcome counts as success
func (o Outcome) Succeeded() bool {
	return o.Status != StatusFailed
}
