package workpool

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

func ints(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}

func TestLimit(t *testing.T) {
	tests := []struct {
		workers, n, want int
	}{
		{32, 100, 32},
		{32, 5, 5},
		{0, 100, DefaultWorkers},
		{-1, 3, 3},
		{4, 0, 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Limit(tt.workers, tt.n), "Limit(%d, %d)", tt.workers, tt.n)
	}
}

func TestRun_BoundsConcurrencyAndWaitsForAll(t *testing.T) {
	for _, policy := range []Policy{AbortOnError, ContinueOnError} {
		t.Run(policy.String(), func(t *testing.T) {
			var inFlight, peak, done atomic.Int32
			err := Run(context.Background(), ints(40), Options{Workers: 4, Policy: policy}, func(ctx context.Context, _ int) error {
				n := inFlight.Add(1)
				for {
					p := peak.Load()
					if n <= p || peak.CompareAndSwap(p, n) {
						break
					}
				}
				time.Sleep(2 * time.Millisecond)
				inFlight.Add(-1)
				done.Add(1)
				return nil
			})
			require.NoError(t, err)
			assert.Equal(t, int32(40), done.Load(), "every task finished before Run returned")
			assert.LessOrEqual(t, peak.Load(), int32(4))
			assert.Equal(t, int32(0), inFlight.Load())
		})
	}
}

func TestRun_AbortOnErrorStopsSubmitting(t *testing.T) {
	boom := errors.New("boom")
	var ran atomic.Int32
	err := Run(context.Background(), ints(100), Options{Workers: 1, Policy: AbortOnError}, func(ctx context.Context, i int) error {
		ran.Add(1)
		if i == 3 {
			return boom
		}
		return nil
	})
	require.ErrorIs(t, err, boom)
	assert.Less(t, ran.Load(), int32(100))
}

func TestRun_AbortOnErrorRunsNothingAfterFailure(t *testing.T) {
	boom := errors.New("boom")
	for range 50 {
		var (
			mu  sync.Mutex
			ran []int
		)
		err := Run(context.Background(), ints(3), Options{Workers: 1, Policy: AbortOnError}, func(ctx context.Context, i int) error {
			mu.Lock()
			ran = append(ran, i)
			mu.Unlock()
			if i == 1 {
				return boom
			}
			return nil
		})
		require.ErrorIs(t, err, boom)
		assert.Equal(t, []int{0, 1}, ran)
	}
}

func TestRun_AbortOnErrorCancelsInFlight(t *testing.T) {
	boom := errors.New("boom")
	var (
		cancelled atomic.Int32
		started   sync.WaitGroup
	)
	started.Add(3)
	err := Run(context.Background(), ints(4), Options{Workers: 4, Policy: AbortOnError}, func(ctx context.Context, i int) error {
		if i == 0 {
			started.Wait()
			return boom
		}
		started.Done()
		select {
		case <-ctx.Done():
			cancelled.Add(1)
		case <-time.After(2 * time.Second):
		}
		return nil
	})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, int32(3), cancelled.Load())
}

func TestRun_ContinueOnErrorRunsEverything(t *testing.T) {
	var (
		ran    atomic.Int32
		mu     sync.Mutex
		failed []int
	)
	err := Run(context.Background(), ints(10), Options{
		Workers: 3,
		Policy:  ContinueOnError,
		OnError: func(i int, err error) {
			mu.Lock()
			failed = append(failed, i)
			mu.Unlock()
		},
	}, func(ctx context.Context, i int) error {
		ran.Add(1)
		if i%4 == 0 {
			return fmt.Errorf("item %d: %w", i, context.DeadlineExceeded)
		}
		return nil
	})

	assert.Equal(t, int32(10), ran.Load())
	var be *BatchError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, 3, be.Failed)
	assert.Equal(t, 10, be.Total)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.ElementsMatch(t, []int{0, 4, 8}, failed)
}

func TestRun_Empty(t *testing.T) {
	called := false
	err := Run(context.Background(), []string(nil), Options{}, func(context.Context, string) error {
		called = true
		return nil
	})
	require.NoError(t, err)
	assert.False(t, called)
}

func TestRun_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var ran atomic.Int32
	err := Run(ctx, ints(10), Options{Workers: 2}, func(context.Context, int) error {
		ran.Add(1)
		return nil
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int32(0), ran.Load())
}

func TestBatchError_Message(t *testing.T) {
	one := &BatchError{Failed: 1, Total: 5, Errs: []error{errors.New("x")}}
	assert.Equal(t, "1 of 5 tasks failed: x", one.Error())

	many := &BatchError{Failed: 2, Total: 5, Errs: []error{errors.New("x"), errors.New("y")}}
	assert.Equal(t, "2 of 5 tasks failed", many.Error())
}
