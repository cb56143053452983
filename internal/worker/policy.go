package worker

import (
	"time"

	"github.com/xiyadong1/obs2oss/internal/config"
)

// Policy holds the pure transfer decision logic: whole-object versus
// streaming by size, and the retry schedule.
type Policy struct {
	ChunkSize          int64
	StreamingThreshold int64
	MaxAttempts        int
	RetryInterval      time.Duration
}

// PolicyFromConfig derives a policy from the migration configuration.
// A zero streaming threshold falls back to ten times the chunk size.
func PolicyFromConfig(m config.Migration) Policy {
	threshold := m.StreamingThreshold
	if threshold <= 0 {
		threshold = 10 * m.ChunkSize
	}
	return Policy{
		ChunkSize:          m.ChunkSize,
		StreamingThreshold: threshold,
		MaxAttempts:        m.MaxAttempts,
		RetryInterval:      time.Duration(m.RetryIntervalS) * time.Second,
	}
}

// ShouldStream reports whether an object of the given size takes the
// chunked transfer path. The boundary size itself does not stream.
func (p Policy) ShouldStream(size int64) bool {
	return size > p.StreamingThreshold
}

// NextRetryDelay returns the wait before the given 1-based attempt is
// re-tried. The schedule is a constant interval.
func (p Policy) NextRetryDelay(attempt int) time.Duration {
	return p.RetryInterval
}
