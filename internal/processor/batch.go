package processor

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/clipforge/video-compositor/internal/core"
	"github.com/clipforge/video-compositor/pkg/logger"
)

// ItemResult is the outcome of one batch item. Results come back in input
// order regardless of completion order.
type ItemResult struct {
	Index  int
	Output interface{}
	Err    error
}

// ItemFunc processes one batch item.
type ItemFunc func(ctx context.Context, index int, item interface{}) (interface{}, error)

// Batch fans a per-item function out over a bounded number of goroutines.
// Individual failures are captured per item; the batch itself fails only if
// every item fails, or if strict mode requires full success.
type Batch struct {
	name   string
	limit  int64
	strict bool
	log    logger.Logger
}

func NewBatch(name string, maxConcurrent int, strict bool, log logger.Logger) *Batch {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &Batch{name: name, limit: int64(maxConcurrent), strict: strict, log: log}
}

func (b *Batch) Process(ctx context.Context, items []interface{}, fn ItemFunc) ([]ItemResult, error) {
	if len(items) == 0 {
		return nil, core.NewError(core.KindProcessing, fmt.Sprintf("%s: empty batch", b.name))
	}

	sem := semaphore.NewWeighted(b.limit)
	results := make([]ItemResult, len(items))
	var wg sync.WaitGroup

	for i, item := range items {
		if err := sem.Acquire(ctx, 1); err != nil {
			// Cancelled while waiting for a slot; mark the remainder.
			for j := i; j < len(items); j++ {
				results[j] = ItemResult{Index: j, Err: core.WithStage(b.name, err)}
			}
			break
		}
		wg.Add(1)
		go func(idx int, it interface{}) {
			defer wg.Done()
			defer sem.Release(1)
			out, err := fn(ctx, idx, it)
			if err != nil {
				b.log.Warnf("%s: item %d failed: %v", b.name, idx, err)
			}
			results[idx] = ItemResult{Index: idx, Output: out, Err: err}
		}(i, item)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return results, core.WithStage(b.name, err)
	}

	failed := 0
	var firstErr error
	for _, r := range results {
		if r.Err != nil {
			failed++
			if firstErr == nil {
				firstErr = r.Err
			}
		}
	}
	if failed == len(items) {
		return results, core.WrapError(core.KindProcessing, firstErr,
			fmt.Sprintf("%s: all %d items failed", b.name, len(items)))
	}
	if b.strict && failed > 0 {
		return results, core.WrapError(core.KindProcessing, firstErr,
			fmt.Sprintf("%s: %d/%d items failed in strict mode", b.name, failed, len(items)))
	}
	return results, nil
}
