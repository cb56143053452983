package app

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xiyadong1/obs2oss/internal/config"
	"github.com/xiyadong1/obs2oss/internal/progress"
	"github.com/xiyadong1/obs2oss/internal/storage"
	"github.com/xiyadong1/obs2oss/internal/storage/storagetest"
	"github.com/xiyadong1/obs2oss/internal/worker"
)

func taskObject(key string) storage.ObjectInfo {
	return storage.ObjectInfo{Key: key, Size: 1}
}

func runSession(t *testing.T, s *discoverySession) ([]worker.Task, error) {
	t.Helper()

	out := make(chan worker.Task)
	done := make(chan error, 1)
	go func() {
		done <- s.run(context.Background(), out)
	}()

	var tasks []worker.Task
	for task := range out {
		tasks = append(tasks, task)
	}
	return tasks, <-done
}

func TestDiscoveryEmitsAllObjects(t *testing.T) {
	src := storagetest.NewFakeStore()
	src.Seed("photos", "a.jpg", []byte("a"))
	src.Seed("photos", "b.jpg", []byte("bb"))
	src.Seed("photos", "sub/c.jpg", []byte("ccc"))

	tracker := progress.NewTracker()
	session := &discoverySession{
		mapping: config.BucketMapping{SourceBucket: "photos"},
		source:  src,
		tracker: tracker,
		budget:  newItemBudget(0),
		logger:  zap.NewNop(),
	}

	tasks, err := runSession(t, session)
	require.NoError(t, err)
	assert.Len(t, tasks, 3)

	snap := tracker.Snapshot()
	assert.Equal(t, int64(3), snap.Global.Total)
	assert.Equal(t, int64(6), snap.Global.TotalBytes)
}

func TestDiscoveryFiltersByPrefix(t *testing.T) {
	src := storagetest.NewFakeStore()
	src.Seed("photos", "2024/a.jpg", []byte("a"))
	src.Seed("photos", "2025/b.jpg", []byte("b"))

	session := &discoverySession{
		mapping: config.BucketMapping{SourceBucket: "photos", SourcePrefix: "2025/"},
		source:  src,
		tracker: progress.NewTracker(),
		budget:  newItemBudget(0),
		logger:  zap.NewNop(),
	}

	tasks, err := runSession(t, session)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "2025/b.jpg", tasks[0].Object.Key)
}

func TestDiscoveryExcludesSuffixes(t *testing.T) {
	src := storagetest.NewFakeStore()
	src.Seed("photos", "a.jpg", []byte("a"))
	src.Seed("photos", "b.tmp", []byte("b"))
	src.Seed("photos", "c.log", []byte("c"))

	tracker := progress.NewTracker()
	session := &discoverySession{
		mapping: config.BucketMapping{
			SourceBucket:    "photos",
			ExcludeSuffixes: []string{".tmp", ".log"},
		},
		source:  src,
		tracker: tracker,
		budget:  newItemBudget(0),
		logger:  zap.NewNop(),
	}

	tasks, err := runSession(t, session)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "a.jpg", tasks[0].Object.Key)
	assert.Equal(t, int64(1), tracker.Snapshot().Global.Total,
		"excluded objects never enter the totals")
}

func TestDiscoveryPerMappingItemLimit(t *testing.T) {
	src := storagetest.NewFakeStore()
	for i := 0; i < 5; i++ {
		src.Seed("photos", fmt.Sprintf("obj-%d", i), []byte("x"))
	}

	session := &discoverySession{
		mapping: config.BucketMapping{SourceBucket: "photos", ItemLimit: 2},
		source:  src,
		tracker: progress.NewTracker(),
		budget:  newItemBudget(0),
		logger:  zap.NewNop(),
	}

	tasks, err := runSession(t, session)
	require.NoError(t, err)
	assert.Len(t, tasks, 2)
}

func TestDiscoveryGlobalItemBudget(t *testing.T) {
	src := storagetest.NewFakeStore()
	for i := 0; i < 5; i++ {
		src.Seed("photos", fmt.Sprintf("obj-%d", i), []byte("x"))
	}

	tracker := progress.NewTracker()
	session := &discoverySession{
		mapping: config.BucketMapping{SourceBucket: "photos"},
		source:  src,
		tracker: tracker,
		budget:  newItemBudget(3),
		logger:  zap.NewNop(),
	}

	tasks, err := runSession(t, session)
	require.NoError(t, err)
	assert.Len(t, tasks, 3)
	assert.Equal(t, int64(3), tracker.Snapshot().Global.Total)
}

func TestDiscoveryListFailure(t *testing.T) {
	src := storagetest.NewFakeStore()
	src.FailList(fmt.Errorf("access denied"))

	session := &discoverySession{
		mapping: config.BucketMapping{SourceBucket: "photos"},
		source:  src,
		tracker: progress.NewTracker(),
		budget:  newItemBudget(0),
		logger:  zap.NewNop(),
	}

	tasks, err := runSession(t, session)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "access denied")
	assert.Empty(t, tasks)
}

func TestExcludedBy(t *testing.T) {
	suffix, excluded := excludedBy("a/b.tmp", []string{".log", ".tmp"})
	assert.True(t, excluded)
	assert.Equal(t, ".tmp", suffix)

	_, excluded = excludedBy("a/b.jpg", []string{".log", ".tmp"})
	assert.False(t, excluded)

	_, excluded = excludedBy("a/b.jpg", nil)
	assert.False(t, excluded)
}

func TestMergeRoundRobinIsFair(t *testing.T) {
	big := make(chan worker.Task, 100)
	for i := 0; i < 100; i++ {
		big <- worker.Task{Object: taskObject(fmt.Sprintf("big-%d", i))}
	}
	close(big)

	small := make(chan worker.Task, 1)
	small <- worker.Task{Object: taskObject("small-0")}
	close(small)

	out := make(chan worker.Task, 101)
	mergeRoundRobin(context.Background(), []<-chan worker.Task{big, small}, out)

	var keys []string
	for task := range out {
		keys = append(keys, task.Object.Key)
	}

	require.Len(t, keys, 101)
	assert.Contains(t, keys[:2], "small-0",
		"the single-object bucket must not wait behind the large one")
}

func TestMergeRoundRobinInterleaves(t *testing.T) {
	a := make(chan worker.Task, 3)
	b := make(chan worker.Task, 3)
	for i := 0; i < 3; i++ {
		a <- worker.Task{Object: taskObject(fmt.Sprintf("a-%d", i))}
		b <- worker.Task{Object: taskObject(fmt.Sprintf("b-%d", i))}
	}
	close(a)
	close(b)

	out := make(chan worker.Task, 6)
	mergeRoundRobin(context.Background(), []<-chan worker.Task{a, b}, out)

	var keys []string
	for task := range out {
		keys = append(keys, task.Object.Key)
	}

	assert.Equal(t, []string{"a-0", "b-0", "a-1", "b-1", "a-2", "b-2"}, keys)
}

func TestMergeRoundRobinStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	in := make(chan worker.Task, 1)
	in <- worker.Task{Object: taskObject("x")}

	out := make(chan worker.Task) // unbuffered, nothing ever reads it
	mergeRoundRobin(ctx, []<-chan worker.Task{in}, out)

	_, open := <-out
	assert.False(t, open, "merge must close its output on cancellation")
}
