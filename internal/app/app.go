package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xiyadong1/obs2oss/internal/checkpoint"
	"github.com/xiyadong1/obs2oss/internal/config"
	"github.com/xiyadong1/obs2oss/internal/metrics"
	"github.com/xiyadong1/obs2oss/internal/progress"
	"github.com/xiyadong1/obs2oss/internal/report"
	"github.com/xiyadong1/obs2oss/internal/storage"
	"github.com/xiyadong1/obs2oss/internal/worker"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// State is the engine lifecycle phase
type State int32

const (
	StateIdle State = iota
	StateRunning
	StateDraining
	StateStopped
)

// workerJoinTimeout bounds the shutdown join. A worker that has not
// exited by then is reported as an anomaly, not force-killed.
const workerJoinTimeout = 5 * time.Minute

// Engine runs the migration: it owns the worker pool, the discovery
// sessions and the progress plumbing, and coordinates graceful shutdown.
type Engine struct {
	cfg        *config.Config
	logger     *zap.Logger
	sources    map[config.Provider]storage.SourceStore
	target     storage.TargetStore
	checkpoint checkpoint.Store
	tracker    *progress.Tracker
	metrics    *metrics.Collector
	runID      string

	state     atomic.Int32
	cancelled atomic.Bool
	stopOnce  sync.Once
	cancelRun context.CancelFunc
	cancelMu  sync.Mutex
}

// New wires up an engine from configuration
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Engine, error) {
	sources := make(map[config.Provider]storage.SourceStore)

	for _, m := range cfg.BucketMappings {
		switch m.Provider {
		case config.ProviderOBS, "":
			if _, ok := sources[config.ProviderOBS]; ok {
				continue
			}
			client, err := storage.NewMinIOStore(storage.Config{
				Endpoint:  cfg.OBS.Endpoint,
				AccessKey: cfg.OBS.AccessKey,
				SecretKey: cfg.OBS.SecretKey,
				Region:    cfg.OBS.Region,
				Secure:    cfg.OBS.Secure,
			})
			if err != nil {
				return nil, fmt.Errorf("failed to create obs client: %w", err)
			}
			sources[config.ProviderOBS] = client
		case config.ProviderS3:
			if _, ok := sources[config.ProviderS3]; ok {
				continue
			}
			client, err := storage.NewS3Store(ctx, storage.Config{
				Endpoint:  cfg.S3.Endpoint,
				AccessKey: cfg.S3.AccessKey,
				SecretKey: cfg.S3.SecretKey,
				Region:    cfg.S3.Region,
				Secure:    cfg.S3.Secure,
			})
			if err != nil {
				return nil, fmt.Errorf("failed to create s3 client: %w", err)
			}
			sources[config.ProviderS3] = client
		}
	}

	target, err := storage.NewMinIOStore(storage.Config{
		Endpoint:  cfg.OSS.Endpoint,
		AccessKey: cfg.OSS.AccessKey,
		SecretKey: cfg.OSS.SecretKey,
		Region:    cfg.OSS.Region,
		Secure:    cfg.OSS.Secure,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create oss client: %w", err)
	}

	checkpointStore, err := checkpoint.NewSQLiteStore(cfg.Migration.Checkpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to create checkpoint store: %w", err)
	}

	return &Engine{
		cfg:        cfg,
		logger:     logger,
		sources:    sources,
		target:     target,
		checkpoint: checkpointStore,
		tracker:    progress.NewTracker(),
		metrics:    metrics.New(),
		runID:      uuid.NewString(),
	}, nil
}

// State returns the current lifecycle phase
func (e *Engine) State() State {
	return State(e.state.Load())
}

// RequestStop initiates a graceful drain. It is idempotent and safe to
// call from signal handlers; queued-but-unclaimed tasks are discarded
// while in-flight transfers finish naturally.
func (e *Engine) RequestStop() {
	e.stopOnce.Do(func() {
		e.cancelled.Store(true)
		e.state.CompareAndSwap(int32(StateRunning), int32(StateDraining))
		e.logger.Info("Stop requested, draining")

		e.cancelMu.Lock()
		cancel := e.cancelRun
		e.cancelMu.Unlock()
		if cancel != nil {
			cancel()
		}
	})
}

// Run executes the full migration and returns the final report. Only
// discovery-session and lifecycle errors are returned; per-object
// failures are folded into the report.
func (e *Engine) Run(ctx context.Context) (*report.Report, error) {
	e.state.Store(int32(StateRunning))
	startedAt := time.Now()

	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	e.cancelMu.Lock()
	e.cancelRun = cancel
	e.cancelMu.Unlock()
	// A stop requested before the cancel function was installed must still
	// take effect; stopOnce has already been consumed by then.
	if e.cancelled.Load() {
		cancel()
	}

	// External cancellation (signal context) maps to a drain request.
	go func() {
		select {
		case <-ctx.Done():
			e.RequestStop()
		case <-runCtx.Done():
		}
	}()

	if e.cfg.Migration.MetricsAddr != "" {
		go func() {
			if err := e.metrics.StartServer(e.cfg.Migration.MetricsAddr); err != nil {
				e.logger.Error("Metrics server stopped", zap.Error(err))
			}
		}()
	}

	monitorCtx, stopMonitor := context.WithCancel(context.Background())
	defer stopMonitor()
	monitor := progress.NewMonitor(e.tracker,
		time.Duration(e.cfg.Migration.ProgressIntervalS)*time.Second, e.logger)
	go monitor.Run(monitorCtx)

	builder := report.NewBuilder(e.runID, startedAt)

	e.logger.Info("Starting migration",
		zap.String("run_id", e.runID),
		zap.Int("mappings", len(e.cfg.BucketMappings)),
		zap.Int("concurrency", e.cfg.Migration.Concurrency),
		zap.Bool("dry_run", e.cfg.Migration.DryRun),
	)

	// One discovery session per mapping, each with its own channel to
	// keep the merge fair across buckets.
	budget := newItemBudget(e.cfg.Migration.ItemLimit)
	sessionOuts := make([]<-chan worker.Task, 0, len(e.cfg.BucketMappings))
	var discoveries errgroup.Group
	for _, m := range e.cfg.BucketMappings {
		mapping := m
		source, ok := e.sources[providerKey(mapping)]
		if !ok {
			return nil, fmt.Errorf("no source client for provider %q", mapping.Provider)
		}

		out := make(chan worker.Task)
		sessionOuts = append(sessionOuts, out)
		session := &discoverySession{
			mapping: mapping,
			source:  source,
			tracker: e.tracker,
			budget:  budget,
			logger:  e.logger,
		}
		discoveries.Go(func() error {
			return session.run(runCtx, out)
		})
	}

	tasks := make(chan worker.Task, e.cfg.Migration.Concurrency*2)
	go mergeRoundRobin(runCtx, sessionOuts, tasks)

	var wg sync.WaitGroup
	if e.cfg.Migration.DryRun {
		wg.Add(1)
		go e.dryRunConsumer(tasks, &wg)
	} else {
		transferer := worker.NewTransferer(
			worker.PolicyFromConfig(e.cfg.Migration),
			e.sources,
			e.target,
			e.checkpoint,
			e.cfg.Migration.Resume,
			e.runID,
			e.logger,
		)
		pool := worker.NewPool(e.cfg.Migration.Concurrency, transferer, e.tracker,
			e.metrics, e.outcomeObserver(builder), e.logger)
		pool.Start(runCtx, tasks, &wg)
	}

	discoveryErr := discoveries.Wait()
	if discoveryErr != nil {
		e.logger.Error("One or more discovery sessions failed", zap.Error(discoveryErr))
	}

	e.state.CompareAndSwap(int32(StateRunning), int32(StateDraining))

	if !waitTimeout(&wg, workerJoinTimeout) {
		e.logger.Error("Workers did not exit within join timeout",
			zap.Duration("timeout", workerJoinTimeout))
	}

	e.state.Store(int32(StateStopped))
	stopMonitor()

	snap := e.tracker.Snapshot()
	result := builder.Build(snap, e.cancelled.Load())

	e.logger.Info("Migration finished",
		zap.String("run_id", e.runID),
		zap.Int64("total", result.TotalObjects),
		zap.Int64("succeeded", result.Succeeded),
		zap.Int64("failed", result.Failed),
		zap.Int64("skipped", result.Skipped),
		zap.Bool("cancelled", result.Cancelled),
		zap.Float64("elapsed_s", result.ElapsedSeconds),
	)

	if discoveryErr != nil && !e.cancelled.Load() {
		return result, discoveryErr
	}
	if e.cancelled.Load() && errors.Is(discoveryErr, context.Canceled) {
		return result, nil
	}
	return result, discoveryErr
}

// RunRetry re-runs only the objects recorded as failed in the checkpoint
// store, using the same transfer path as a full run.
func (e *Engine) RunRetry(ctx context.Context) (*report.Report, error) {
	e.state.Store(int32(StateRunning))
	startedAt := time.Now()

	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	e.cancelMu.Lock()
	e.cancelRun = cancel
	e.cancelMu.Unlock()
	if e.cancelled.Load() {
		cancel()
	}

	go func() {
		select {
		case <-ctx.Done():
			e.RequestStop()
		case <-runCtx.Done():
		}
	}()

	records, err := e.checkpoint.ListFailedTasks()
	if err != nil {
		return nil, fmt.Errorf("failed to load failed task set: %w", err)
	}

	mappings := make(map[string]config.BucketMapping, len(e.cfg.BucketMappings))
	for _, m := range e.cfg.BucketMappings {
		mappings[m.SourceBucket] = m
	}

	builder := report.NewBuilder(e.runID, startedAt)
	e.logger.Info("Starting failed-set retry",
		zap.String("run_id", e.runID),
		zap.Int("failed_records", len(records)),
	)

	tasks := make(chan worker.Task, e.cfg.Migration.Concurrency*2)

	transferer := worker.NewTransferer(
		worker.PolicyFromConfig(e.cfg.Migration),
		e.sources,
		e.target,
		e.checkpoint,
		// Failed records are retried unconditionally; the target-side
		// checksum check still skips anything already converged.
		false,
		e.runID,
		e.logger,
	)
	pool := worker.NewPool(e.cfg.Migration.Concurrency, transferer, e.tracker,
		e.metrics, e.outcomeObserver(builder), e.logger)

	var wg sync.WaitGroup
	pool.Start(runCtx, tasks, &wg)

	enqueued := 0
enqueue:
	for _, record := range records {
		if runCtx.Err() != nil {
			break
		}

		mapping, ok := mappings[record.Bucket]
		if !ok {
			e.logger.Warn("Skipping failed record with no configured mapping",
				zap.String("bucket", record.Bucket),
				zap.String("key", record.Key),
			)
			continue
		}

		task := worker.Task{
			Mapping: mapping,
			Object: storage.ObjectInfo{
				Key:  record.Key,
				Size: record.Size,
				ETag: record.ETag,
			},
		}

		// Counted only once the task is actually on the queue, so a drain
		// does not inflate the totals with records it never enqueued.
		select {
		case tasks <- task:
			e.tracker.AddToTotal(record.Bucket, 1, record.Size)
			enqueued++
		case <-runCtx.Done():
			break enqueue
		}
	}
	close(tasks)

	e.state.CompareAndSwap(int32(StateRunning), int32(StateDraining))

	if !waitTimeout(&wg, workerJoinTimeout) {
		e.logger.Error("Workers did not exit within join timeout",
			zap.Duration("timeout", workerJoinTimeout))
	}

	e.state.Store(int32(StateStopped))

	result := builder.Build(e.tracker.Snapshot(), e.cancelled.Load())
	e.logger.Info("Retry finished",
		zap.Int("enqueued", enqueued),
		zap.Int64("succeeded", result.Succeeded),
		zap.Int64("failed", result.Failed),
	)
	return result, nil
}

func (e *Engine) dryRunConsumer(tasks <-chan worker.Task, wg *sync.WaitGroup) {
	defer wg.Done()
	for task := range tasks {
		e.logger.Info("Would migrate object",
			zap.String("bucket", task.Mapping.SourceBucket),
			zap.String("key", task.Object.Key),
			zap.String("target_key", worker.TargetKey(task.Mapping.TargetPrefix, task.Object.Key)),
			zap.Int64("size", task.Object.Size),
		)
	}
}

func (e *Engine) outcomeObserver(builder *report.Builder) func(worker.Outcome) {
	return func(o worker.Outcome) {
		if o.Status == worker.StatusFailed {
			builder.AddFailed(o.SourceBucket, o.Key, o.TargetKey, o.Error)
		}
	}
}

// Close releases engine resources
func (e *Engine) Close() error {
	if e.checkpoint != nil {
		return e.checkpoint.Close()
	}
	return nil
}

func providerKey(m config.BucketMapping) config.Provider {
	if m.Provider == "" {
		return config.ProviderOBS
	}
	return m.Provider
}

// waitTimeout waits on wg up to d; false means the join timed out
func waitTimeout(wg *sync.WaitGroup, d time.Duration) bool {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return true
	case <-time.After(d):
		return false
	}
}
