package processor

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"

	"github.com/clipforge/video-compositor/internal/core"
	"github.com/clipforge/video-compositor/internal/metrics"
	"github.com/clipforge/video-compositor/internal/pipeline"
	"github.com/clipforge/video-compositor/internal/resource"
	"github.com/clipforge/video-compositor/pkg/logger"
)

func items(n int) []interface{} {
	out := make([]interface{}, n)
	for i := range out {
		out[i] = i
	}
	return out
}

func TestBatchPreservesInputOrder(t *testing.T) {
	b := NewBatch("render_segments", 4, false, logger.NewNopLogger())
	results, err := b.Process(context.Background(), items(8), func(_ context.Context, idx int, item interface{}) (interface{}, error) {
		// Reverse the completion order so slow finishers land late.
		time.Sleep(time.Duration(8-idx) * time.Millisecond)
		return item.(int) * 10, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	for i, r := range results {
		if r.Index != i || r.Output.(int) != i*10 {
			t.Errorf("result %d out of order: %+v", i, r)
		}
	}
}

func TestBatchIsolatesItemFailures(t *testing.T) {
	b := NewBatch("render_segments", 2, false, logger.NewNopLogger())
	results, err := b.Process(context.Background(), items(4), func(_ context.Context, idx int, item interface{}) (interface{}, error) {
		if idx == 2 {
			return nil, errors.New("segment exploded")
		}
		return item, nil
	})
	if err != nil {
		t.Fatalf("partial failure must not fail the batch: %v", err)
	}
	if results[2].Err == nil {
		t.Error("failed item not recorded")
	}
	for _, i := range []int{0, 1, 3} {
		if results[i].Err != nil {
			t.Errorf("healthy item %d marked failed", i)
		}
	}
}

func TestBatchFailsWhenAllItemsFail(t *testing.T) {
	b := NewBatch("render_segments", 2, false, logger.NewNopLogger())
	_, err := b.Process(context.Background(), items(3), func(context.Context, int, interface{}) (interface{}, error) {
		return nil, errors.New("boom")
	})
	if core.KindOf(err) != core.KindProcessing {
		t.Fatalf("expected processing error, got %v", err)
	}
}

func TestBatchStrictModeFailsOnAnyError(t *testing.T) {
	b := NewBatch("render_segments", 2, true, logger.NewNopLogger())
	_, err := b.Process(context.Background(), items(3), func(_ context.Context, idx int, item interface{}) (interface{}, error) {
		if idx == 1 {
			return nil, errors.New("boom")
		}
		return item, nil
	})
	if err == nil {
		t.Fatal("strict mode must fail on a single item error")
	}
}

func TestBatchHonorsConcurrencyLimit(t *testing.T) {
	const limit = 3
	b := NewBatch("download", limit, false, logger.NewNopLogger())
	var current, peak int64
	var mu sync.Mutex
	_, err := b.Process(context.Background(), items(12), func(context.Context, int, interface{}) (interface{}, error) {
		n := atomic.AddInt64(&current, 1)
		mu.Lock()
		if n > peak {
			peak = n
		}
		mu.Unlock()
		time.Sleep(5 * time.Millisecond)
		atomic.AddInt64(&current, -1)
		return nil, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if peak > limit {
		t.Errorf("concurrency peaked at %d, limit %d", peak, limit)
	}
}

func TestBatchObservesCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	b := NewBatch("download", 1, false, logger.NewNopLogger())
	started := make(chan struct{}, 1)
	go func() {
		<-started
		cancel()
	}()
	_, err := b.Process(ctx, items(50), func(ctx context.Context, idx int, _ interface{}) (interface{}, error) {
		if idx == 0 {
			started <- struct{}{}
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(5 * time.Millisecond):
			return nil, nil
		}
	})
	if core.KindOf(err) != core.KindCancelled {
		t.Fatalf("expected cancelled, got %v", err)
	}
}

type doubler struct{}

func (doubler) Name() string { return "doubler" }
func (doubler) Kind() Kind   { return CPUBound }
func (doubler) Process(_ context.Context, in interface{}, _ *pipeline.Context) (interface{}, error) {
	return in.(int) * 2, nil
}

func TestRunWrapsProcessorWithMetrics(t *testing.T) {
	scope, err := resource.NewScope(t.TempDir(), "t", logger.NewNopLogger())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(scope.Release)
	pc := pipeline.NewContext("t", scope, metrics.NewCollector())

	out, err := Run(context.Background(), doubler{}, 21, pc)
	if err != nil {
		t.Fatal(err)
	}
	if out.(int) != 42 {
		t.Errorf("unexpected output %v", out)
	}
	s := pc.Metrics().Summary()
	if s.Total != 1 || !s.Stages[0].Success || s.Stages[0].Stage != "doubler" {
		t.Errorf("metric span missing: %+v", s)
	}
}
