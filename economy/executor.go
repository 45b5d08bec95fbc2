/*
executor.go - Task scheduling and futures

PURPOSE:
  Every public engine operation runs off the caller's goroutine. The
  Executor decides where; the Future is what the caller holds on to.

EXECUTORS:
  Pool:         Bounded concurrency, used in production. At most N tasks
                run at once; Submit blocks until a slot frees up, so
                a full pool never holds more than N goroutines.
  SyncExecutor: Runs the task inline. Used in tests so results are
                deterministic without sleeps.

FUTURES:
  Future[T] resolves exactly once with (value, error). The error is only
  ever an executor or context error - engine operations report business
  failures inside the value.

    f := engine.Deposit(ctx, req)
    res, err := f.Await(ctx)          // block with deadline
    g := economy.Then(f, exec, fn)    // chain a continuation

SEE ALSO:
  - engine.go: WithExecutor option
*/
package economy

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/semaphore"
)

// =============================================================================
// EXECUTOR
// =============================================================================

// Executor runs tasks. Submit must not run the task after returning an error.
type Executor interface {
	Submit(task func()) error
}

// SyncExecutor runs tasks on the calling goroutine.
type SyncExecutor struct{}

func (SyncExecutor) Submit(task func()) error {
	task()
	return nil
}

// Pool runs tasks on background goroutines with bounded concurrency.
type Pool struct {
	sem *semaphore.Weighted
	wg  sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// NewPool creates a pool running at most size tasks at once.
func NewPool(size int) *Pool {
	if size <= 0 {
		size = 1
	}
	return &Pool{sem: semaphore.NewWeighted(int64(size))}
}

// Submit waits for a free slot, then runs task on a new goroutine.
// Tasks must not submit to the same pool and wait on the result.
func (p *Pool) Submit(task func()) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrExecutorClosed
	}

	// Background context: Acquire only fails on context cancellation.
	_ = p.sem.Acquire(context.Background(), 1)
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer p.sem.Release(1)
		task()
	}()
	return nil
}

// Close stops accepting tasks and waits for submitted ones to finish.
func (p *Pool) Close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.wg.Wait()
}

// =============================================================================
// FUTURE
// =============================================================================

type Future[T any] struct {
	done chan struct{}
	once sync.Once
	val  T
	err  error
}

func newFuture[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

// Resolved returns an already completed future.
func Resolved[T any](v T) *Future[T] {
	f := newFuture[T]()
	f.resolve(v, nil)
	return f
}

func (f *Future[T]) resolve(v T, err error) {
	f.once.Do(func() {
		f.val = v
		f.err = err
		close(f.done)
	})
}

// Done is closed once the future has resolved.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Await blocks until the future resolves or ctx ends.
func (f *Future[T]) Await(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Wait blocks until the future resolves.
func (f *Future[T]) Wait() (T, error) {
	<-f.done
	return f.val, f.err
}

// Go runs fn on exec and returns its future. A panic in fn resolves the
// future with an error instead of crashing the process.
func Go[T any](exec Executor, fn func() T) *Future[T] {
	f := newFuture[T]()
	err := exec.Submit(func() {
		defer func() {
			if r := recover(); r != nil {
				var zero T
				f.resolve(zero, fmt.Errorf("task panicked: %v", r))
			}
		}()
		f.resolve(fn(), nil)
	})
	if err != nil {
		var zero T
		f.resolve(zero, err)
	}
	return f
}

// Then runs fn with the value of f once it resolves. Errors propagate
// without calling fn.
func Then[T, U any](f *Future[T], exec Executor, fn func(T) U) *Future[U] {
	out := newFuture[U]()
	go func() {
		v, err := f.Wait()
		if err != nil {
			var zero U
			out.resolve(zero, err)
			return
		}
		next := Go(exec, func() U { return fn(v) })
		u, err := next.Wait()
		out.resolve(u, err)
	}()
	return out
}
