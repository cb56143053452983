package progress

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTrackerCounts(t *testing.T) {
	tr := NewTracker()

	tr.AddToTotal("photos", 3, 300)
	tr.AddToTotal("docs", 1, 50)

	tr.RecordSuccess("photos", 100)
	tr.RecordSkipped("photos", 100)
	tr.RecordFailed("photos")
	tr.RecordSuccess("docs", 50)

	snap := tr.Snapshot()

	assert.Equal(t, int64(4), snap.Global.Total)
	assert.Equal(t, int64(4), snap.Global.Processed)
	assert.Equal(t, int64(3), snap.Global.Succeeded, "skipped counts as succeeded")
	assert.Equal(t, int64(1), snap.Global.Failed)
	assert.Equal(t, int64(1), snap.Global.Skipped)
	assert.Equal(t, int64(350), snap.Global.TotalBytes)
	assert.Equal(t, int64(250), snap.Global.ProcessedBytes)

	photos := snap.Buckets["photos"]
	assert.Equal(t, int64(3), photos.Total)
	assert.Equal(t, int64(3), photos.Processed)
	assert.Equal(t, int64(2), photos.Succeeded)
	assert.Equal(t, int64(1), photos.Failed)
	assert.Equal(t, int64(1), photos.Skipped)

	docs := snap.Buckets["docs"]
	assert.Equal(t, int64(1), docs.Succeeded)
	assert.Equal(t, int64(0), docs.Failed)
}

func TestTrackerProcessedInvariant(t *testing.T) {
	tr := NewTracker()
	tr.AddToTotal("b", 100, 0)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			switch i % 3 {
			case 0:
				tr.RecordSuccess("b", 10)
			case 1:
				tr.RecordSkipped("b", 10)
			case 2:
				tr.RecordFailed("b")
			}
		}(i)
	}
	wg.Wait()

	snap := tr.Snapshot()
	assert.Equal(t, int64(100), snap.Global.Processed)
	assert.Equal(t, snap.Global.Processed, snap.Global.Succeeded+snap.Global.Failed)
	assert.Equal(t, snap.Buckets["b"].Processed, snap.Global.Processed)
}

func TestSnapshotIsACopy(t *testing.T) {
	tr := NewTracker()
	tr.AddToTotal("b", 1, 10)

	snap := tr.Snapshot()
	tr.RecordSuccess("b", 10)

	assert.Equal(t, int64(0), snap.Global.Processed, "snapshot must not see later updates")
	assert.Equal(t, int64(1), tr.Snapshot().Global.Processed)
}

func TestPercent(t *testing.T) {
	assert.Equal(t, 0.0, Snapshot{}.Percent(), "no discovered objects means zero percent")

	snap := Snapshot{Global: Counts{Total: 4, Processed: 1}}
	assert.InDelta(t, 25.0, snap.Percent(), 0.001)
}

func TestThroughputAndETA(t *testing.T) {
	prev := Snapshot{Global: Counts{ProcessedBytes: 1000}}
	cur := Snapshot{Global: Counts{ProcessedBytes: 3000, TotalBytes: 5000}}

	bps := Throughput(prev, cur, 2*time.Second)
	assert.InDelta(t, 1000.0, bps, 0.001)

	assert.Equal(t, 2*time.Second, ETA(cur, bps))
	assert.Equal(t, time.Duration(0), ETA(cur, 0), "unknown rate gives no estimate")
	assert.Equal(t, 0.0, Throughput(prev, cur, 0), "non-positive elapsed gives no rate")
}

func TestFormatBytes(t *testing.T) {
	assert.Equal(t, "512 B", FormatBytes(512))
	assert.Equal(t, "1.5 KB", FormatBytes(1536))
	assert.Equal(t, "2.0 MB", FormatBytes(2*1024*1024))
	assert.Equal(t, "3.0 GB", FormatBytes(3*1024*1024*1024))
}

func TestFormatSpeed(t *testing.T) {
	assert.Equal(t, "100.0 B/s", FormatSpeed(100))
	assert.Equal(t, "1.0 MB/s", FormatSpeed(1024*1024))
}
