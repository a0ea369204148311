package batch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func itemsN(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("item-%02d", i)
	}
	return out
}

func TestRunInBatchesRespectsConcurrency(t *testing.T) {
	var inFlight, peak int32
	worker := func(ctx context.Context, item string) (string, error) {
		cur := atomic.AddInt32(&inFlight, 1)
		for {
			old := atomic.LoadInt32(&peak)
			if cur <= old || atomic.CompareAndSwapInt32(&peak, old, cur) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
		return "v-" + item, nil
	}

	items := itemsN(20)
	res := RunInBatches(context.Background(), items, worker, ExecOptions[string]{MaxConcurrent: 3, BatchSize: 10})
	require.Len(t, res, 20)
	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(3))
	for _, it := range items {
		assert.True(t, res[it].OK())
		assert.Equal(t, "v-"+it, res[it].Value)
	}
}

func TestRunInBatchesErrorsAndPanicsAreIsolated(t *testing.T) {
	worker := func(ctx context.Context, item string) (int, error) {
		switch item {
		case "bad":
			return 0, errors.New("boom")
		case "panic":
			panic("worker exploded")
		}
		return len(item), nil
	}

	var mu sync.Mutex
	seen := map[string]bool{}
	res := RunInBatches(context.Background(), []string{"good", "bad", "panic", "fine"}, worker, ExecOptions[string]{
		MaxConcurrent: 2,
		BatchSize:     2,
		OnItem: func(item string, ok bool) {
			mu.Lock()
			seen[item] = ok
			mu.Unlock()
		},
	})

	require.Len(t, res, 4)
	assert.Equal(t, 4, res["good"].Value)
	assert.EqualError(t, res["bad"].Err, "boom")
	require.Error(t, res["panic"].Err)
	assert.Contains(t, res["panic"].Err.Error(), "worker exploded")
	assert.True(t, res["fine"].OK())
	assert.Equal(t, map[string]bool{"good": true, "bad": false, "panic": false, "fine": true}, seen)
}

func TestRunInBatchesCancelsAtChunkBoundary(t *testing.T) {
	var processed int32
	worker := func(ctx context.Context, item string) (struct{}, error) {
		atomic.AddInt32(&processed, 1)
		return struct{}{}, nil
	}
	var cancelled atomic.Bool
	res := RunInBatches(context.Background(), itemsN(10), worker, ExecOptions[string]{
		MaxConcurrent: 4,
		BatchSize:     3,
		OnItem: func(string, bool) {
			cancelled.Store(true)
		},
		ShouldCancel: cancelled.Load,
	})
	// the first chunk always completes; the flag is seen before chunk two
	assert.Len(t, res, 3)
	assert.EqualValues(t, 3, atomic.LoadInt32(&processed))
}

func TestRunInBatchesCancelledBeforeStart(t *testing.T) {
	res := RunInBatches(context.Background(), itemsN(5), func(ctx context.Context, item string) (int, error) {
		t.Fatal("worker must not run")
		return 0, nil
	}, ExecOptions[string]{ShouldCancel: func() bool { return true }})
	assert.Empty(t, res)
}

func TestRunInBatchesStopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := RunInBatches(ctx, itemsN(5), func(ctx context.Context, item string) (int, error) {
		return 1, nil
	}, ExecOptions[string]{MaxConcurrent: 1, BatchSize: 1})
	assert.Empty(t, res)
}

func TestRunInBatchesZeroOptionsDefaultToOne(t *testing.T) {
	var inFlight, peak int32
	res := RunInBatches(context.Background(), itemsN(4), func(ctx context.Context, item string) (bool, error) {
		cur := atomic.AddInt32(&inFlight, 1)
		if cur > atomic.LoadInt32(&peak) {
			atomic.StoreInt32(&peak, cur)
		}
		time.Sleep(time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
		return true, nil
	}, ExecOptions[string]{})
	assert.Len(t, res, 4)
	assert.EqualValues(t, 1, atomic.LoadInt32(&peak))
}

func TestRunInBatchesEmpty(t *testing.T) {
	res := RunInBatches(context.Background(), nil, func(ctx context.Context, item string) (int, error) {
		return 0, nil
	}, ExecOptions[string]{MaxConcurrent: 2, BatchSize: 2})
	assert.Empty(t, res)
}
