package worker

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/xiyadong1/obs2oss/internal/metrics"
	"github.com/xiyadong1/obs2oss/internal/progress"
	"github.com/xiyadong1/obs2oss/internal/storage/storagetest"
)

func TestPoolProcessesEveryTaskOnce(t *testing.T) {
	src := storagetest.NewFakeStore()
	dst := storagetest.NewFakeStore()

	const n = 20
	tasks := make(chan Task, n)
	for i := 0; i < n; i++ {
		key := fmt.Sprintf("obj-%02d", i)
		data := []byte(key)
		src.Seed("photos", key, data)
		tasks <- taskFor("photos", key, data)
	}
	close(tasks)

	tracker := progress.NewTracker()
	tracker.AddToTotal("photos", n, 0)

	var mu sync.Mutex
	var outcomes []Outcome
	onOutcome := func(o Outcome) {
		mu.Lock()
		outcomes = append(outcomes, o)
		mu.Unlock()
	}

	tr := newTestTransferer(src, dst, newMemCheckpoint(), true)
	pool := NewPool(4, tr, tracker, metrics.New(), onOutcome, zap.NewNop())

	var wg sync.WaitGroup
	pool.Start(context.Background(), tasks, &wg)
	wg.Wait()

	snap := tracker.Snapshot()
	assert.Equal(t, int64(n), snap.Global.Processed)
	assert.Equal(t, int64(n), snap.Global.Succeeded)
	assert.Equal(t, int64(0), snap.Global.Failed)
	assert.Equal(t, n, dst.PutCount(), "each task is claimed by exactly one worker")
	assert.Len(t, outcomes, n)
}

func TestPoolMixedOutcomes(t *testing.T) {
	src := storagetest.NewFakeStore()
	dst := storagetest.NewFakeStore()

	good := []byte("good")
	skippable := []byte("already present")
	src.Seed("photos", "good", good)
	src.Seed("photos", "skippable", skippable)
	dst.Seed("dst-photos", "skippable", skippable)

	tasks := make(chan Task, 3)
	tasks <- taskFor("photos", "good", good)
	tasks <- taskFor("photos", "skippable", skippable)
	missing := taskFor("photos", "missing", []byte("never seeded"))
	tasks <- missing
	close(tasks)

	tracker := progress.NewTracker()
	tracker.AddToTotal("photos", 3, 0)

	tr := newTestTransferer(src, dst, newMemCheckpoint(), true)
	pool := NewPool(2, tr, tracker, metrics.New(), nil, zap.NewNop())

	var wg sync.WaitGroup
	pool.Start(context.Background(), tasks, &wg)
	wg.Wait()

	snap := tracker.Snapshot()
	assert.Equal(t, int64(3), snap.Global.Processed)
	assert.Equal(t, int64(2), snap.Global.Succeeded)
	assert.Equal(t, int64(1), snap.Global.Skipped)
	assert.Equal(t, int64(1), snap.Global.Failed)
}

func TestPoolCancelledWorkersClaimNothing(t *testing.T) {
	src := storagetest.NewFakeStore()
	dst := storagetest.NewFakeStore()

	data := []byte("never claimed")
	src.Seed("photos", "a", data)

	tasks := make(chan Task, 3)
	for i := 0; i < 3; i++ {
		tasks <- taskFor("photos", "a", data)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	tracker := progress.NewTracker()
	tr := newTestTransferer(src, dst, newMemCheckpoint(), true)
	pool := NewPool(2, tr, tracker, metrics.New(), nil, zap.NewNop())

	var wg sync.WaitGroup
	pool.Start(ctx, tasks, &wg)
	wg.Wait()

	assert.Equal(t, int64(0), tracker.Snapshot().Global.Processed,
		"queued-but-unclaimed tasks must not be recorded after cancellation")
	assert.Zero(t, dst.PutCount())
	assert.Len(t, tasks, 3, "tasks stay in the queue, discarded not processed")
}
