package progress

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Monitor periodically logs a progress snapshot while the engine runs.
// It derives throughput and ETA from consecutive snapshots.
type Monitor struct {
	tracker  *Tracker
	interval time.Duration
	logger   *zap.Logger
}

// NewMonitor creates a progress monitor polling at the given interval
func NewMonitor(tracker *Tracker, interval time.Duration, logger *zap.Logger) *Monitor {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Monitor{
		tracker:  tracker,
		interval: interval,
		logger:   logger,
	}
}

// Run reports progress until the context is cancelled
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	prev := m.tracker.Snapshot()
	prevTime := time.Now()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			cur := m.tracker.Snapshot()
			speed := Throughput(prev, cur, now.Sub(prevTime))

			m.logger.Info("Migration progress",
				zap.Int64("processed", cur.Global.Processed),
				zap.Int64("total", cur.Global.Total),
				zap.String("percent", formatPercent(cur)),
				zap.Int64("succeeded", cur.Global.Succeeded),
				zap.Int64("failed", cur.Global.Failed),
				zap.Int64("skipped", cur.Global.Skipped),
				zap.String("speed", FormatSpeed(speed)),
				zap.Duration("eta", ETA(cur, speed)),
			)

			prev = cur
			prevTime = now
		}
	}
}

func formatPercent(s Snapshot) string {
	return fmt.Sprintf("%.2f%%", s.Percent())
}
