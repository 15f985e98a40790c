// Package workpool runs a function over a slice with bounded concurrency.
//
// Run blocks until every submitted task has finished. Two failure policies are
// supported: AbortOnError stops submitting after the first failure and returns
// it; ContinueOnError runs every task and reports failures as a *BatchError.
package workpool

import (
	"context"
	"fmt"
	"sync"

	"github.com/fatih/semgroup"
	"golang.org/x/sync/errgroup"
)

// DefaultWorkers is the pool size used when Options.Workers is not set.
const DefaultWorkers = 32

// Policy selects how Run reacts to a failed task.
type Policy int

const (
	// AbortOnError cancels the remaining submissions on the first failure.
	AbortOnError Policy = iota
	// ContinueOnError runs every task and aggregates failures.
	ContinueOnError
)

func (p Policy) String() string {
	switch p {
	case AbortOnError:
		return "abort"
	case ContinueOnError:
		return "continue"
	default:
		return fmt.Sprintf("Policy(%d)", int(p))
	}
}

// Options configures Run.
type Options struct {
	Workers int
	Policy  Policy
	// OnError is called once per failed task under ContinueOnError. Calls are
	// serialized.
	OnError func(index int, err error)
}

// BatchError reports the failed tasks of a ContinueOnError run.
type BatchError struct {
	Failed int
	Total  int
	Errs   []error
}

func (e *BatchError) Error() string {
	if len(e.Errs) == 1 {
		return fmt.Sprintf("%d of %d tasks failed: %v", e.Failed, e.Total, e.Errs[0])
	}
	return fmt.Sprintf("%d of %d tasks failed", e.Failed, e.Total)
}

// Unwrap exposes the individual task errors to errors.Is and errors.As.
func (e *BatchError) Unwrap() []error {
	return e.Errs
}

// Limit returns the number of workers used for n tasks.
func Limit(workers, n int) int {
	if workers < 1 {
		workers = DefaultWorkers
	}
	return max(0, min(workers, n))
}

// Run calls fn for every item with at most Limit(opts.Workers, len(items))
// calls in flight. Submission blocks while the pool is full.
func Run[T any](ctx context.Context, items []T, opts Options, fn func(ctx context.Context, item T) error) error {
	if len(items) == 0 {
		return nil
	}
	limit := Limit(opts.Workers, len(items))

	switch opts.Policy {
	case ContinueOnError:
		return runContinue(ctx, items, limit, opts.OnError, fn)
	default:
		return runAbort(ctx, items, limit, fn)
	}
}

func runAbort[T any](ctx context.Context, items []T, limit int, fn func(context.Context, T) error) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	for _, item := range items {
		if gctx.Err() != nil {
			break
		}
		// Go may block for a slot that frees up only because a task failed.
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			return fn(gctx, item)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

func runContinue[T any](ctx context.Context, items []T, limit int, onError func(int, error), fn func(context.Context, T) error) error {
	sg := semgroup.NewGroup(ctx, int64(limit))

	var (
		mu   sync.Mutex
		errs []error
	)
	for i, item := range items {
		sg.Go(func() error {
			err := fn(ctx, item)
			if err == nil {
				return nil
			}
			mu.Lock()
			defer mu.Unlock()
			errs = append(errs, err)
			if onError != nil {
				onError(i, err)
			}
			return err
		})
	}
	// Task failures are tracked above; Wait only adds semaphore acquisition
	// failures, which happen when ctx is done.
	_ = sg.Wait()

	if len(errs) > 0 {
		return &BatchError{Failed: len(errs), Total: len(items), Errs: errs}
	}
	return ctx.Err()
}
