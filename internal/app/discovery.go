package app

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/xiyadong1/obs2oss/internal/config"
	"github.com/xiyadong1/obs2oss/internal/progress"
	"github.com/xiyadong1/obs2oss/internal/storage"
	"github.com/xiyadong1/obs2oss/internal/worker"

	"go.uber.org/zap"
)

// itemBudget is the global discovery cap shared by all sessions. A zero
// limit means unlimited.
type itemBudget struct {
	unlimited bool
	remaining atomic.Int64
}

func newItemBudget(limit int64) *itemBudget {
	b := &itemBudget{unlimited: limit <= 0}
	b.remaining.Store(limit)
	return b
}

// take claims one slot; once the budget is exhausted no session emits
// further tasks.
func (b *itemBudget) take() bool {
	if b.unlimited {
		return true
	}
	return b.remaining.Add(-1) >= 0
}

// discoverySession lists one bucket mapping's objects, filters them and
// feeds them to its own output channel. Listing failures abort only this
// session.
type discoverySession struct {
	mapping config.BucketMapping
	source  storage.SourceStore
	tracker *progress.Tracker
	budget  *itemBudget
	logger  *zap.Logger
}

func (s *discoverySession) run(ctx context.Context, out chan<- worker.Task) error {
	defer close(out)

	s.logger.Info("Discovery started",
		zap.String("bucket", s.mapping.SourceBucket),
		zap.String("prefix", s.mapping.SourcePrefix),
	)

	objCh, errCh := s.source.ListObjects(ctx, s.mapping.SourceBucket, s.mapping.SourcePrefix)

	var emitted int64
	for {
		select {
		case obj, ok := <-objCh:
			if !ok {
				// The store closes objCh after sending any listing error, so
				// drain errCh before declaring the session complete.
				if errCh != nil {
					if err := <-errCh; err != nil {
						return fmt.Errorf("listing %s failed: %w", s.mapping.SourceBucket, err)
					}
				}
				s.logger.Info("Discovery finished",
					zap.String("bucket", s.mapping.SourceBucket),
					zap.Int64("objects", emitted),
				)
				return nil
			}

			if suffix, excluded := excludedBy(obj.Key, s.mapping.ExcludeSuffixes); excluded {
				s.logger.Debug("Excluding object",
					zap.String("key", obj.Key),
					zap.String("suffix", suffix),
				)
				continue
			}

			if s.mapping.ItemLimit > 0 && emitted >= s.mapping.ItemLimit {
				s.logger.Info("Per-mapping item limit reached",
					zap.String("bucket", s.mapping.SourceBucket),
					zap.Int64("limit", s.mapping.ItemLimit),
				)
				return nil
			}

			if !s.budget.take() {
				// Global cap reached; let the listing drain without
				// emitting more tasks.
				continue
			}

			emitted++
			s.tracker.AddToTotal(s.mapping.SourceBucket, 1, obj.Size)

			select {
			case out <- worker.Task{Mapping: s.mapping, Object: obj}:
			case <-ctx.Done():
				return ctx.Err()
			}

		case err, ok := <-errCh:
			if ok && err != nil {
				return fmt.Errorf("listing %s failed: %w", s.mapping.SourceBucket, err)
			}
			// errCh is closed; stop selecting on it and let objCh finish.
			errCh = nil

		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// excludedBy returns the first configured suffix the key ends with
func excludedBy(key string, suffixes []string) (string, bool) {
	for _, suffix := range suffixes {
		if strings.HasSuffix(key, suffix) {
			return suffix, true
		}
	}
	return "", false
}

// mergeRoundRobin interleaves the per-bucket channels into out, one task
// per channel per turn, dropping a channel from the rotation when it is
// exhausted. Small buckets are therefore never starved behind large ones.
// The rotation waits on each channel in turn, so a slow listing page stalls
// the feed until it arrives; skipping non-ready channels would keep turns
// flowing but busy-poll and reorder, and discovery is never the bottleneck
// next to the transfers themselves.
func mergeRoundRobin(ctx context.Context, ins []<-chan worker.Task, out chan<- worker.Task) {
	defer close(out)

	active := make([]<-chan worker.Task, len(ins))
	copy(active, ins)

	for len(active) > 0 {
		next := active[:0]
		for _, ch := range active {
			select {
			case task, ok := <-ch:
				if !ok {
					continue
				}
				select {
				case out <- task:
				case <-ctx.Done():
					return
				}
				next = append(next, ch)
			case <-ctx.Done():
				return
			}
		}
		active = next
	}
}
