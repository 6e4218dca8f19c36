// Package async runs detached background tasks with bounded concurrency,
// panic recovery, a per-task timeout and logged failures.
package async

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/safatanc/safatanc-connect-core/internal/logging"
	"golang.org/x/sync/semaphore"
)

// Runner executes fire-and-forget tasks. At most limit tasks run at once;
// when the runner is saturated new tasks are dropped instead of queued.
type Runner struct {
	sem     *semaphore.Weighted
	timeout time.Duration
	logger  logging.Logger
	wg      sync.WaitGroup

	// OnDrop, if set, is called with the task name whenever a task is dropped.
	OnDrop func(task string)
}

func NewRunner(limit int64, timeout time.Duration, l logging.Logger) *Runner {
	if limit < 1 {
		limit = 1
	}
	return &Runner{
		sem:     semaphore.NewWeighted(limit),
		timeout: timeout,
		logger:  l.With("module", "async"),
	}
}

// Go schedules fn detached from the caller's cancellation but keeping its
// values. It reports whether the task was accepted.
func (r *Runner) Go(parent context.Context, task string, fn func(ctx context.Context) error) bool {
	if !r.sem.TryAcquire(1) {
		r.logger.Warn(parent, "background task dropped", "task", task)
		if r.OnDrop != nil {
			r.OnDrop(task)
		}
		return false
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer r.sem.Release(1)

		ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), r.timeout)
		defer cancel()

		defer func() {
			if p := recover(); p != nil {
				r.logger.Error(ctx, "background task panicked",
					"task", task, "panic", fmt.Sprint(p), "stack", string(debug.Stack()))
			}
		}()

		if err := fn(ctx); err != nil {
			r.logger.Warn(ctx, "background task failed", "task", task, "error", err)
		}
	}()
	return true
}

// Wait blocks until all accepted tasks finish or ctx is done.
func (r *Runner) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
