package progress

import (
	"fmt"
	"sync"
	"time"
)

// Counts holds the object counters for one scope (global or per bucket).
// Skipped objects count as succeeded.
type Counts struct {
	Total          int64
	Processed      int64
	Succeeded      int64
	Failed         int64
	Skipped        int64
	TotalBytes     int64
	ProcessedBytes int64
}

// Snapshot is a point-in-time copy of all counters. Total may still be
// rising while discovery is in flight; processed == succeeded + failed
// holds at every snapshot.
type Snapshot struct {
	Global  Counts
	Buckets map[string]Counts
}

// Tracker aggregates migration progress across all bucket mappings.
// All counters live behind one mutex; Snapshot reads them in a single
// critical section so it never observes partial updates.
type Tracker struct {
	mu      sync.Mutex
	global  Counts
	buckets map[string]*Counts
}

// NewTracker creates an empty progress tracker
func NewTracker() *Tracker {
	return &Tracker{
		buckets: make(map[string]*Counts),
	}
}

func (t *Tracker) bucket(name string) *Counts {
	c, ok := t.buckets[name]
	if !ok {
		c = &Counts{}
		t.buckets[name] = c
	}
	return c
}

// AddToTotal registers newly discovered objects for a bucket. Discovery
// calls this incrementally as listing pages arrive.
func (t *Tracker) AddToTotal(bucket string, objects, bytes int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.global.Total += objects
	t.global.TotalBytes += bytes
	b := t.bucket(bucket)
	b.Total += objects
	b.TotalBytes += bytes
}

// RecordSuccess counts one transferred object
func (t *Tracker) RecordSuccess(bucket string, bytes int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, c := range []*Counts{&t.global, t.bucket(bucket)} {
		c.Processed++
		c.Succeeded++
		c.ProcessedBytes += bytes
	}
}

// RecordSkipped counts one object that was already up to date
func (t *Tracker) RecordSkipped(bucket string, bytes int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, c := range []*Counts{&t.global, t.bucket(bucket)} {
		c.Processed++
		c.Succeeded++
		c.Skipped++
		c.ProcessedBytes += bytes
	}
}

// RecordFailed counts one object that exhausted its attempts
func (t *Tracker) RecordFailed(bucket string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, c := range []*Counts{&t.global, t.bucket(bucket)} {
		c.Processed++
		c.Failed++
	}
}

// Snapshot returns a consistent copy of all counters
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	snap := Snapshot{
		Global:  t.global,
		Buckets: make(map[string]Counts, len(t.buckets)),
	}
	for name, c := range t.buckets {
		snap.Buckets[name] = *c
	}
	return snap
}

// Percent returns the processed fraction of the snapshot as a percentage
func (s Snapshot) Percent() float64 {
	if s.Global.Total == 0 {
		return 0
	}
	return float64(s.Global.Processed) / float64(s.Global.Total) * 100
}

// Throughput derives bytes per second between two snapshots taken
// elapsed time apart. The tracker itself holds no notion of time.
func Throughput(prev, cur Snapshot, elapsed time.Duration) float64 {
	if elapsed <= 0 {
		return 0
	}
	return float64(cur.Global.ProcessedBytes-prev.Global.ProcessedBytes) / elapsed.Seconds()
}

// ETA estimates remaining time from the current snapshot and an observed
// throughput. Zero when the rate is unknown or nothing remains.
func ETA(cur Snapshot, bytesPerSecond float64) time.Duration {
	if bytesPerSecond <= 0 {
		return 0
	}
	remaining := cur.Global.TotalBytes - cur.Global.ProcessedBytes
	if remaining <= 0 {
		return 0
	}
	return time.Duration(float64(remaining)/bytesPerSecond) * time.Second
}

// FormatBytes formats bytes in human readable form
func FormatBytes(bytes int64) string {
	switch {
	case bytes < 1024:
		return fmt.Sprintf("%d B", bytes)
	case bytes < 1024*1024:
		return fmt.Sprintf("%.1f KB", float64(bytes)/1024)
	case bytes < 1024*1024*1024:
		return fmt.Sprintf("%.1f MB", float64(bytes)/(1024*1024))
	default:
		return fmt.Sprintf("%.1f GB", float64(bytes)/(1024*1024*1024))
	}
}

// FormatSpeed formats a transfer rate in human readable form
func FormatSpeed(bytesPerSecond float64) string {
	switch {
	case bytesPerSecond < 1024:
		return fmt.Sprintf("%.1f B/s", bytesPerSecond)
	case bytesPerSecond < 1024*1024:
		return fmt.Sprintf("%.1f KB/s", bytesPerSecond/1024)
	case bytesPerSecond < 1024*1024*1024:
		return fmt.Sprintf("%.1f MB/s", bytesPerSecond/(1024*1024))
	default:
		return fmt.Sprintf("%.1f GB/s", bytesPerSecond/(1024*1024*1024))
	}
}
