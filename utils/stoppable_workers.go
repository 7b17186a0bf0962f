// Package utils contains small concurrency and timing helpers shared by the recorder and the ROS
// transports.
package utils

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	goutils "go.viam.com/utils"
)

// StoppableWorkers is a collection of goroutines that can be stopped at a later time.
type StoppableWorkers interface {
	AddWorkers(...func(context.Context))
	// AddTicker starts a worker that calls `tick` every `period` of `clk` until the workers are
	// stopped or `tick` returns false.
	AddTicker(clk clock.Clock, period time.Duration, tick func(ctx context.Context, now time.Time) bool)
	Stop()
	Context() context.Context
}

// stoppableWorkersImpl is the implementation of StoppableWorkers. The linter will complain if you
// try to make a copy of something that contains a sync.WaitGroup (and returning a value at the end
// of NewStoppableWorkers() would make a copy of it), so we do everything through the
// StoppableWorkers interface to avoid making copies (since interfaces do everything by pointer).
type stoppableWorkersImpl struct {
	mu                      sync.Mutex
	cancelCtx               context.Context
	cancelFunc              func()
	activeBackgroundWorkers sync.WaitGroup
}

// NewStoppableWorkers runs the functions in separate goroutines. They can be stopped later.
func NewStoppableWorkers(funcs ...func(context.Context)) StoppableWorkers {
	return NewStoppableWorkersWithContext(context.Background(), funcs...)
}

// NewStoppableWorkersWithContext is like NewStoppableWorkers but the workers are also stopped once
// `parent` is done.
func NewStoppableWorkersWithContext(parent context.Context, funcs ...func(context.Context)) StoppableWorkers {
	cancelCtx, cancelFunc := context.WithCancel(parent)
	workers := &stoppableWorkersImpl{cancelCtx: cancelCtx, cancelFunc: cancelFunc}
	workers.AddWorkers(funcs...)
	return workers
}

// AddWorkers starts up additional goroutines for each function passed in. If you call this after
// calling Stop(), it will return immediately without starting any new goroutines.
func (sw *stoppableWorkersImpl) AddWorkers(funcs ...func(context.Context)) {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	if sw.cancelCtx.Err() != nil { // We've already stopped everything.
		return
	}

	sw.activeBackgroundWorkers.Add(len(funcs))
	for _, f := range funcs {
		goutils.PanicCapturingGo(func() {
			defer sw.activeBackgroundWorkers.Done()
			f(sw.cancelCtx)
		})
	}
}

func (sw *stoppableWorkersImpl) AddTicker(
	clk clock.Clock,
	period time.Duration,
	tick func(ctx context.Context, now time.Time) bool,
) {
	// The ticker is created before the goroutine starts so that a mock clock advanced right after
	// this call is guaranteed to reach it.
	ticker := clk.Ticker(period)
	sw.mu.Lock()
	stopped := sw.cancelCtx.Err() != nil
	sw.mu.Unlock()
	if stopped {
		ticker.Stop()
		return
	}
	sw.AddWorkers(func(ctx context.Context) {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				if ctx.Err() != nil {
					return
				}
				if !tick(ctx, now) {
					return
				}
			}
		}
	})
}

// Stop shuts down all the goroutines we started up. It is safe to call more than once, but must
// not be called from one of the workers.
func (sw *stoppableWorkersImpl) Stop() {
	sw.mu.Lock()
	sw.cancelFunc()
	sw.mu.Unlock()

	// Waiting happens outside the lock so a worker racing with Stop on AddWorkers observes the
	// cancellation instead of blocking.
	sw.activeBackgroundWorkers.Wait()
}

// Context gets the context the workers are checking on. Using this function is expected to be
// rare: usually you shouldn't need to interact with the context directly.
func (sw *stoppableWorkersImpl) Context() context.Context {
	return sw.cancelCtx
}
