package worker

import (
	"context"
	"sync"

	"github.com/xiyadong1/obs2oss/internal/metrics"
	"github.com/xiyadong1/obs2oss/internal/progress"

	"go.uber.org/zap"
)

// Pool drives a fixed number of workers over a shared task queue. Each
// task is claimed by exactly one worker; outcomes feed the tracker and
// the metrics collector.
type Pool struct {
	size       int
	transferer *Transferer
	tracker    *progress.Tracker
	metrics    *metrics.Collector
	onOutcome  func(Outcome)
	logger     *zap.Logger
}

// NewPool creates a worker pool of the given size. onOutcome, when set,
// observes every terminal outcome after the counters are updated.
func NewPool(
	size int,
	transferer *Transferer,
	tracker *progress.Tracker,
	metricsCollector *metrics.Collector,
	onOutcome func(Outcome),
	logger *zap.Logger,
) *Pool {
	return &Pool{
		size:       size,
		transferer: transferer,
		tracker:    tracker,
		metrics:    metricsCollector,
		onOutcome:  onOutcome,
		logger:     logger,
	}
}

// Start spins up the workers. They exit when the task channel closes or
// the context is cancelled; wg is released as each worker returns.
func (p *Pool) Start(ctx context.Context, tasks <-chan Task, wg *sync.WaitGroup) {
	for i := 0; i < p.size; i++ {
		wg.Add(1)
		go p.worker(ctx, i, tasks, wg)
	}
}

func (p *Pool) worker(ctx context.Context, id int, tasks <-chan Task, wg *sync.WaitGroup) {
	defer wg.Done()

	logger := p.logger.With(zap.Int("worker_id", id))
	logger.Debug("Worker started")

	for {
		// Cancellation is checked before claiming so a drained run never
		// picks up queued-but-unclaimed tasks.
		select {
		case <-ctx.Done():
			logger.Debug("Worker stopped, cancellation requested")
			return
		default:
		}

		select {
		case task, ok := <-tasks:
			if !ok {
				logger.Debug("Worker finished, queue exhausted")
				return
			}
			p.process(ctx, task)

		case <-ctx.Done():
			logger.Debug("Worker stopped, cancellation requested")
			return
		}
	}
}

func (p *Pool) process(ctx context.Context, task Task) {
	p.metrics.WorkerStarted()
	defer p.metrics.WorkerIdle()

	outcome := p.transferer.Transfer(ctx, task)

	switch outcome.Status {
	case StatusSuccess:
		p.tracker.RecordSuccess(outcome.SourceBucket, outcome.Size)
		p.metrics.AddBytes(outcome.Size)
	case StatusSkipped:
		p.tracker.RecordSkipped(outcome.SourceBucket, outcome.Size)
	case StatusFailed:
		p.tracker.RecordFailed(outcome.SourceBucket)
	}

	p.metrics.IncObject(string(outcome.Status), outcome.SourceBucket)
	p.metrics.ObserveDuration(outcome.Duration)

	if p.onOutcome != nil {
		p.onOutcome(outcome)
	}
}
