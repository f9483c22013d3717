// Package sched implements a cooperative task runtime. Tasks run on a fixed
// number of worker slots and give up their slot at checkpoints once their time
// slice has elapsed, letting other tasks make progress.
package sched

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/semaphore"
)

// ErrCanceled is returned by checkpoints and waits of canceled tasks.
var ErrCanceled = errors.New("task canceled")

// Pool is a fixed set of worker slots shared by tasks.
type Pool struct {
	sem   *semaphore.Weighted
	slice time.Duration
	wg    sync.WaitGroup
}

// NewPool returns a pool of the given number of worker slots; GOMAXPROCS if
// workers is not positive. Tasks yield their slot at checkpoints once they
// have run for the given time slice; a non-positive slice disables yielding.
func NewPool(workers int, slice time.Duration) *Pool {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	return &Pool{
		sem:   semaphore.NewWeighted(int64(workers)),
		slice: slice,
	}
}

// Wait blocks until every task spawned on the pool has finished.
func (p *Pool) Wait() {
	p.wg.Wait()
}

// Task is the handle of a running task, passed to the task function.
type Task struct {
	pool  *Pool
	ctx   context.Context
	start time.Time
	held  bool
	// Number of checkpoints passed and slot yields performed.
	checkpoints, yields int
}

// Context returns the context of the task.
func (t *Task) Context() context.Context { return t.ctx }

// Checkpoints returns the number of checkpoints passed by the task.
func (t *Task) Checkpoints() int { return t.checkpoints }

// Yields returns the number of times the task gave up its worker slot.
func (t *Task) Yields() int { return t.yields }

// Checkpoint is a suspension point of the task. It returns ErrCanceled if the
// context of the task is done, and yields the worker slot of the task if its
// time slice has elapsed.
func (t *Task) Checkpoint() error {
	t.checkpoints++
	if err := t.ctx.Err(); err != nil {
		return errors.Wrap(ErrCanceled, err.Error())
	}
	if t.pool.slice <= 0 || time.Since(t.start) < t.pool.slice {
		return nil
	}
	return t.Yield()
}

// Yield gives up the worker slot of the task and waits to reacquire one.
func (t *Task) Yield() error {
	t.yields++
	t.release()
	runtime.Gosched()
	return t.acquire()
}

// Block runs fn without holding a worker slot; fn may block on other tasks of
// the pool.
func (t *Task) Block(fn func()) error {
	t.release()
	fn()
	return t.acquire()
}

func (t *Task) acquire() error {
	if err := t.pool.sem.Acquire(t.ctx, 1); err != nil {
		return errors.Wrap(ErrCanceled, err.Error())
	}
	t.held = true
	t.start = time.Now()
	return nil
}

func (t *Task) release() {
	if t.held {
		t.pool.sem.Release(1)
		t.held = false
	}
}

// Future is the eventual result of a task.
type Future[T any] struct {
	done chan struct{}
	val  T
	err  error
}

// Done returns a channel closed when the task has finished.
func (f *Future[T]) Done() <-chan struct{} { return f.done }

// Wait blocks until the task has finished or ctx is done, and returns the
// result of the task.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
		var zero T
		return zero, errors.Wrap(ErrCanceled, ctx.Err().Error())
	}
}

// Go spawns fn as a task of the pool. The task waits for a free worker slot
// before fn is invoked.
func Go[T any](ctx context.Context, p *Pool, fn func(t *Task) (T, error)) *Future[T] {
	f := &Future[T]{done: make(chan struct{})}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer close(f.done)
		t := &Task{pool: p, ctx: ctx}
		if err := t.acquire(); err != nil {
			f.err = err
			return
		}
		defer t.release()
		f.val, f.err = fn(t)
	}()
	return f
}

// Run runs fn as a task of the pool and waits for its result.
func Run[T any](ctx context.Context, p *Pool, fn func(t *Task) (T, error)) (T, error) {
	return Go(ctx, p, fn).Wait(ctx)
}
