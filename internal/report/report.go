package report

import (
	"sync"
	"time"

	"github.com/xiyadong1/obs2oss/internal/progress"
)

// FailedObject identifies one permanently failed transfer with the last
// error it produced, enabling a targeted re-run.
type FailedObject struct {
	Bucket    string `json:"bucket"`
	Key       string `json:"key"`
	TargetKey string `json:"target_key"`
	Error     string `json:"error"`
}

// BucketSummary holds per-source-bucket counts
type BucketSummary struct {
	Total     int64 `json:"total"`
	Processed int64 `json:"processed"`
	Succeeded int64 `json:"succeeded"`
	Failed    int64 `json:"failed"`
	Skipped   int64 `json:"skipped"`
}

// Report is the final result structure handed to the caller for
// persistence or printing.
type Report struct {
	RunID           string                   `json:"run_id"`
	Date            string                   `json:"date"`
	StartedAt       time.Time                `json:"started_at"`
	FinishedAt      time.Time                `json:"finished_at"`
	ElapsedSeconds  float64                  `json:"elapsed_seconds"`
	Cancelled       bool                     `json:"cancelled"`
	TotalObjects    int64                    `json:"total_objects"`
	Processed       int64                    `json:"processed"`
	Succeeded       int64                    `json:"succeeded"`
	Failed          int64                    `json:"failed"`
	Skipped         int64                    `json:"skipped"`
	ProcessedBytes  int64                    `json:"processed_bytes"`
	AvgBytesPerSec  float64                  `json:"avg_bytes_per_sec"`
	Buckets         map[string]BucketSummary `json:"buckets"`
	FailedObjects   []FailedObject           `json:"failed_objects"`
}

// Builder accumulates failed items during the run and assembles the final
// report from a progress snapshot at completion.
type Builder struct {
	mu        sync.Mutex
	runID     string
	startedAt time.Time
	failed    []FailedObject
}

// NewBuilder creates a report builder for one run
func NewBuilder(runID string, startedAt time.Time) *Builder {
	return &Builder{
		runID:     runID,
		startedAt: startedAt,
	}
}

// AddFailed records one permanently failed object
func (b *Builder) AddFailed(bucket, key, targetKey, errMsg string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failed = append(b.failed, FailedObject{
		Bucket:    bucket,
		Key:       key,
		TargetKey: targetKey,
		Error:     errMsg,
	})
}

// Build assembles the final report from the end-of-run snapshot
func (b *Builder) Build(snap progress.Snapshot, cancelled bool) *Report {
	b.mu.Lock()
	defer b.mu.Unlock()

	finished := time.Now()
	elapsed := finished.Sub(b.startedAt)

	r := &Report{
		RunID:          b.runID,
		Date:           b.startedAt.Format("2006-01-02"),
		StartedAt:      b.startedAt,
		FinishedAt:     finished,
		ElapsedSeconds: elapsed.Seconds(),
		Cancelled:      cancelled,
		TotalObjects:   snap.Global.Total,
		Processed:      snap.Global.Processed,
		Succeeded:      snap.Global.Succeeded,
		Failed:         snap.Global.Failed,
		Skipped:        snap.Global.Skipped,
		ProcessedBytes: snap.Global.ProcessedBytes,
		Buckets:        make(map[string]BucketSummary, len(snap.Buckets)),
		FailedObjects:  append([]FailedObject(nil), b.failed...),
	}

	if elapsed > 0 {
		r.AvgBytesPerSec = float64(snap.Global.ProcessedBytes) / elapsed.Seconds()
	}

	for name, c := range snap.Buckets {
		r.Buckets[name] = BucketSummary{
			Total:     c.Total,
			Processed: c.Processed,
			Succeeded: c.Succeeded,
			Failed:    c.Failed,
			Skipped:   c.Skipped,
		}
	}

	return r
}
