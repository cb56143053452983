package checkpoint

import (
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "checkpoint.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLiteStoreRoundTrip(t *testing.T) {
	store := openStore(t)

	record := &TaskRecord{
		Bucket:    "photos",
		Key:       "a/b.jpg",
		TargetKey: "backup/a/b.jpg",
		Size:      1024,
		ETag:      "d41d8cd98f00b204e9800998ecf8427e",
		Status:    StatusCompleted,
		Attempts:  1,
		RunID:     "run-1",
	}
	require.NoError(t, store.SaveTask(record))

	got, err := store.GetTask("photos", "a/b.jpg")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, record.TargetKey, got.TargetKey)
	assert.Equal(t, record.Size, got.Size)
	assert.Equal(t, record.ETag, got.ETag)
	assert.Equal(t, StatusCompleted, got.Status)
	assert.Equal(t, "run-1", got.RunID)
	assert.False(t, got.UpdatedAt.IsZero())
}

func TestSQLiteStoreMissingRecord(t *testing.T) {
	store := openStore(t)

	got, err := store.GetTask("photos", "nope")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSQLiteStoreUpsert(t *testing.T) {
	store := openStore(t)

	require.NoError(t, store.SaveTask(&TaskRecord{
		Bucket: "photos", Key: "a.jpg", ETag: "v1",
		Status: StatusFailed, Attempts: 3, LastError: "timeout", RunID: "run-1",
	}))
	require.NoError(t, store.SaveTask(&TaskRecord{
		Bucket: "photos", Key: "a.jpg", ETag: "v1",
		Status: StatusCompleted, Attempts: 1, RunID: "run-2",
	}))

	got, err := store.GetTask("photos", "a.jpg")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, StatusCompleted, got.Status)
	assert.Equal(t, "run-2", got.RunID)
	assert.Empty(t, got.LastError)
}

func TestSQLiteStoreListFailedTasks(t *testing.T) {
	store := openStore(t)

	for i := 0; i < 3; i++ {
		require.NoError(t, store.SaveTask(&TaskRecord{
			Bucket: "photos", Key: fmt.Sprintf("failed-%d", i), ETag: "e",
			Status: StatusFailed, LastError: "upload failed", RunID: "run-1",
		}))
	}
	require.NoError(t, store.SaveTask(&TaskRecord{
		Bucket: "photos", Key: "done", ETag: "e",
		Status: StatusCompleted, RunID: "run-1",
	}))
	require.NoError(t, store.SaveTask(&TaskRecord{
		Bucket: "photos", Key: "skipped", ETag: "e",
		Status: StatusSkipped, RunID: "run-1",
	}))

	failed, err := store.ListFailedTasks()
	require.NoError(t, err)
	assert.Len(t, failed, 3)
	for _, record := range failed {
		assert.Equal(t, StatusFailed, record.Status)
		assert.Equal(t, "upload failed", record.LastError)
	}
}

func TestSQLiteStoreConcurrentWrites(t *testing.T) {
	store := openStore(t)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := store.SaveTask(&TaskRecord{
				Bucket: "photos", Key: fmt.Sprintf("obj-%d", i), ETag: "e",
				Status: StatusCompleted, RunID: "run-1",
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	for i := 0; i < 20; i++ {
		got, err := store.GetTask("photos", fmt.Sprintf("obj-%d", i))
		require.NoError(t, err)
		require.NotNil(t, got)
	}
}

func TestSQLiteStoreClosed(t *testing.T) {
	store := openStore(t)
	require.NoError(t, store.Close())
	require.NoError(t, store.Close(), "double close is harmless")

	_, err := store.GetTask("photos", "a.jpg")
	assert.Error(t, err)
	assert.Error(t, store.SaveTask(&TaskRecord{Bucket: "b", Key: "k"}))
}
