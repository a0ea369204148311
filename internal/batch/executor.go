// Package batch runs admin bulk operations with bounded concurrency and
// tracks their progress for streaming clients.
package batch

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"

	"grok2api-go/internal/monitoring/tracing"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/semaphore"
)

// Result is the outcome of one item.
type Result[R any] struct {
	Value R
	Err   error
}

// OK reports whether the worker succeeded.
func (r Result[R]) OK() bool { return r.Err == nil }

// ExecOptions tune RunInBatches. Zero sizes are treated as 1.
type ExecOptions[T comparable] struct {
	MaxConcurrent int
	BatchSize     int
	// OnItem is called once per finished item. Calls are serialized.
	OnItem func(item T, ok bool)
	// ShouldCancel is polled before every chunk.
	ShouldCancel func() bool
}

// Worker processes a single item.
type Worker[T comparable, R any] func(ctx context.Context, item T) (R, error)

// RunInBatches processes items chunk by chunk. Inside a chunk at most
// MaxConcurrent workers run at once, and the next chunk starts only after the
// whole chunk finished. Cancellation is observed between chunks only: items
// of the current chunk always run to completion. Worker errors and panics are
// recorded per item and never stop the run.
func RunInBatches[T comparable, R any](ctx context.Context, items []T, worker Worker[T, R], opts ExecOptions[T]) map[T]Result[R] {
	maxConcurrent := max(opts.MaxConcurrent, 1)
	batchSize := max(opts.BatchSize, 1)

	ctx, span := tracing.StartSpan(ctx, "batch", "RunInBatches")
	span.SetAttributes(
		attribute.Int("batch.items", len(items)),
		attribute.Int("batch.max_concurrent", maxConcurrent),
		attribute.Int("batch.size", batchSize),
	)
	defer span.End()

	sem := semaphore.NewWeighted(int64(maxConcurrent))
	results := make(map[T]Result[R], len(items))
	var mu sync.Mutex

	for start := 0; start < len(items); start += batchSize {
		if opts.ShouldCancel != nil && opts.ShouldCancel() {
			log.WithFields(log.Fields{"done": len(results), "total": len(items)}).Info("batch: cancelled between chunks")
			break
		}
		if ctx.Err() != nil {
			break
		}
		end := min(start+batchSize, len(items))

		var wg sync.WaitGroup
		for _, item := range items[start:end] {
			if err := sem.Acquire(ctx, 1); err != nil {
				break
			}
			wg.Add(1)
			go func(item T) {
				defer wg.Done()
				defer sem.Release(1)
				value, err := runWorker(ctx, worker, item)

				mu.Lock()
				defer mu.Unlock()
				results[item] = Result[R]{Value: value, Err: err}
				if opts.OnItem != nil {
					opts.OnItem(item, err == nil)
				}
			}(item)
		}
		wg.Wait()
	}

	span.SetAttributes(attribute.Int("batch.processed", len(results)))
	return results
}

func runWorker[T comparable, R any](ctx context.Context, worker Worker[T, R], item T) (value R, err error) {
	defer func() {
		if r := recover(); r != nil {
			log.WithFields(log.Fields{
				"error": r,
				"stack": string(debug.Stack()),
			}).Error("batch: worker panic recovered")
			var zero R
			value = zero
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return worker(ctx, item)
}
