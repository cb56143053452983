package worker

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/xiyadong1/obs2oss/internal/checkpoint"
	"github.com/xiyadong1/obs2oss/internal/config"
	"github.com/xiyadong1/obs2oss/internal/storage"

	"go.uber.org/zap"
)

// Transferer executes one object's migration: fetch from source, verify or
// skip against the target, write, and classify the outcome. Provider
// selection is driven by the task's bucket mapping.
type Transferer struct {
	policy     Policy
	sources    map[config.Provider]storage.SourceStore
	target     storage.TargetStore
	checkpoint checkpoint.Store
	resume     bool
	runID      string
	logger     *zap.Logger
}

// NewTransferer creates a transfer unit bound to the given stores
func NewTransferer(
	policy Policy,
	sources map[config.Provider]storage.SourceStore,
	target storage.TargetStore,
	checkpointStore checkpoint.Store,
	resume bool,
	runID string,
	logger *zap.Logger,
) *Transferer {
	return &Transferer{
		policy:     policy,
		sources:    sources,
		target:     target,
		checkpoint: checkpointStore,
		resume:     resume,
		runID:      runID,
		logger:     logger,
	}
}

// TargetKey resolves the destination key for a source key under the
// mapping's target prefix. Without a prefix the key maps unchanged.
func TargetKey(targetPrefix, key string) string {
	if targetPrefix == "" {
		return key
	}
	return strings.TrimSuffix(targetPrefix, "/") + "/" + strings.TrimPrefix(key, "/")
}

// Transfer migrates one object and returns its terminal outcome. Errors
// never escape: every failure is retried up to the policy's attempt budget
// and then folded into the outcome.
func (t *Transferer) Transfer(ctx context.Context, task Task) Outcome {
	startTime := time.Now()
	targetKey := TargetKey(task.Mapping.TargetPrefix, task.Object.Key)

	outcome := Outcome{
		SourceBucket: task.Mapping.SourceBucket,
		Key:          task.Object.Key,
		TargetKey:    targetKey,
		Size:         task.Object.Size,
	}

	// A record from a previous run with the same checksum means the object
	// is already migrated; no network call needed.
	if t.resume {
		if record, err := t.checkpoint.GetTask(task.Mapping.SourceBucket, task.Object.Key); err == nil && record != nil {
			if record.Status != checkpoint.StatusFailed && record.ETag == task.Object.ETag {
				t.logger.Debug("Skipping object completed in previous run",
					zap.String("bucket", task.Mapping.SourceBucket),
					zap.String("key", task.Object.Key),
				)
				outcome.Status = StatusSkipped
				outcome.Duration = time.Since(startTime)
				return outcome
			}
		}
	}

	source, ok := t.sources[providerOf(task.Mapping)]
	if !ok {
		outcome.Status = StatusFailed
		outcome.Attempts = 1
		outcome.Error = fmt.Sprintf("no source client for provider %q", task.Mapping.Provider)
		outcome.Duration = time.Since(startTime)
		t.record(task.Object.ETag, outcome)
		return outcome
	}

	var lastErr error
	for attempt := 1; attempt <= t.policy.MaxAttempts; attempt++ {
		outcome.Attempts = attempt

		skipped, err := t.attempt(ctx, source, task, targetKey)
		if err == nil {
			if skipped {
				outcome.Status = StatusSkipped
			} else {
				outcome.Status = StatusSuccess
			}
			outcome.Duration = time.Since(startTime)
			t.record(task.Object.ETag, outcome)
			t.logger.Info("Object migrated",
				zap.String("bucket", task.Mapping.SourceBucket),
				zap.String("key", task.Object.Key),
				zap.String("target_key", targetKey),
				zap.String("status", string(outcome.Status)),
				zap.Int64("size", task.Object.Size),
				zap.Int("attempts", attempt),
				zap.Duration("duration", outcome.Duration),
			)
			return outcome
		}

		lastErr = err
		t.logger.Warn("Transfer attempt failed",
			zap.String("bucket", task.Mapping.SourceBucket),
			zap.String("key", task.Object.Key),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)

		if attempt < t.policy.MaxAttempts {
			// The delay is not interrupted by cancellation: a claimed
			// object runs out its own retry budget before the worker exits.
			time.Sleep(t.policy.NextRetryDelay(attempt))
		}
	}

	outcome.Status = StatusFailed
	outcome.Error = lastErr.Error()
	outcome.Duration = time.Since(startTime)
	t.record(task.Object.ETag, outcome)
	t.logger.Error("Object failed after all attempts",
		zap.String("bucket", task.Mapping.SourceBucket),
		zap.String("key", task.Object.Key),
		zap.Error(lastErr),
	)
	return outcome
}

// attempt runs one full skip-check/fetch/put/verify cycle. It returns
// skipped=true when the target already holds an identical object.
func (t *Transferer) attempt(ctx context.Context, source storage.SourceStore, task Task, targetKey string) (bool, error) {
	// Identity check against the target makes reruns converge without
	// re-uploading unchanged content.
	if info, err := t.target.StatObject(ctx, task.Mapping.TargetBucket, targetKey); err == nil {
		if info.ETag == task.Object.ETag {
			return true, nil
		}
		t.logger.Debug("Target object exists with different checksum, re-uploading",
			zap.String("target_key", targetKey))
	}

	opts := storage.PutOptions{
		ContentType: task.Object.ContentType,
		Metadata:    task.Object.Metadata,
	}
	if opts.ContentType == "" {
		opts.ContentType = "application/octet-stream"
	}

	var uploadedETag string
	if t.policy.ShouldStream(task.Object.Size) {
		stream, err := source.GetObjectStream(ctx, task.Mapping.SourceBucket, task.Object.Key)
		if err != nil {
			return false, fmt.Errorf("failed to open source stream: %w", err)
		}
		uploadedETag, err = t.target.PutObjectMultipart(ctx, task.Mapping.TargetBucket, targetKey,
			stream, task.Object.Size, t.policy.ChunkSize, opts)
		stream.Close()
		if err != nil {
			return false, fmt.Errorf("streaming upload failed: %w", err)
		}
	} else {
		content, err := source.GetObject(ctx, task.Mapping.SourceBucket, task.Object.Key)
		if err != nil {
			return false, fmt.Errorf("failed to get source object: %w", err)
		}
		uploadedETag, err = t.target.PutObject(ctx, task.Mapping.TargetBucket, targetKey,
			bytes.NewReader(content), task.Object.Size, opts)
		if err != nil {
			return false, fmt.Errorf("upload failed: %w", err)
		}
	}

	if uploadedETag != task.Object.ETag {
		return false, fmt.Errorf("checksum mismatch for %s (expected %s, got %s)",
			targetKey, task.Object.ETag, uploadedETag)
	}

	return false, nil
}

// record persists the terminal outcome to the checkpoint store
func (t *Transferer) record(etag string, outcome Outcome) {
	status := checkpoint.StatusCompleted
	switch outcome.Status {
	case StatusSkipped:
		status = checkpoint.StatusSkipped
	case StatusFailed:
		status = checkpoint.StatusFailed
	}

	record := &checkpoint.TaskRecord{
		Bucket:    outcome.SourceBucket,
		Key:       outcome.Key,
		TargetKey: outcome.TargetKey,
		Size:      outcome.Size,
		ETag:      etag,
		Status:    status,
		Attempts:  outcome.Attempts,
		LastError: outcome.Error,
		RunID:     t.runID,
	}

	if err := t.checkpoint.SaveTask(record); err != nil {
		t.logger.Error("Failed to save checkpoint record",
			zap.String("bucket", outcome.SourceBucket),
			zap.String("key", outcome.Key),
			zap.Error(err))
	}
}

func providerOf(m config.BucketMapping) config.Provider {
	if m.Provider == "" {
		return config.ProviderOBS
	}
	return m.Provider
}
