// Package worker provides the shared task pool behind the export engine and
// the resolve cache: Submit returns a future, AsCompleted fans futures in as
// they finish regardless of submission order.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// ErrPoolClosed is reported by tasks submitted after Close.
var ErrPoolClosed = errors.New("worker: pool closed")

// Pool runs submitted work on a fixed number of goroutines. CPU-bound work
// (frame decode, JPEG encode, compression) sizes the pool to cores; IO-bound
// callers pick their own width.
type Pool struct {
	log   *slog.Logger
	queue chan func(context.Context)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// NewPool starts size workers. Size below one is clamped to one.
func NewPool(size int, log *slog.Logger) *Pool {
	if size < 1 {
		size = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		log:    log.With(slog.String("component", "worker-pool")),
		queue:  make(chan func(context.Context), 2*size),
		ctx:    ctx,
		cancel: cancel,
	}
	for i := 0; i < size; i++ {
		p.wg.Add(1)
		go p.run()
	}
	return p
}

func (p *Pool) run() {
	defer p.wg.Done()
	for fn := range p.queue {
		fn(p.ctx)
	}
}

// Close stops accepting work, lets queued tasks finish and waits for the
// workers. Tasks that check their context see cancellation only on Abort.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	p.wg.Wait()
	p.cancel()
}

// Abort cancels the pool context so long-running tasks can bail out, then
// closes as usual.
func (p *Pool) Abort() {
	p.cancel()
	p.Close()
}

// Task is the future for one submitted unit of work.
type Task[T any] struct {
	done  chan struct{}
	value T
	err   error
}

// Done closes when the task finished, successfully or not.
func (t *Task[T]) Done() <-chan struct{} { return t.done }

// Wait blocks for completion and returns the result.
func (t *Task[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-t.done:
		return t.value, t.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Value returns the result after Done has closed. Calling it earlier races.
func (t *Task[T]) Value() (T, error) { return t.value, t.err }

func (t *Task[T]) complete(v T, err error) {
	t.value = v
	t.err = err
	close(t.done)
}

// Submit queues fn and returns its future. Panics inside fn are captured as
// task errors so one bad frame cannot take down the pool.
func Submit[T any](p *Pool, fn func(context.Context) (T, error)) *Task[T] {
	t := &Task[T]{done: make(chan struct{})}

	wrapped := func(ctx context.Context) {
		defer func() {
			if r := recover(); r != nil {
				var zero T
				p.log.Error("task panicked", slog.Any("panic", r))
				t.complete(zero, fmt.Errorf("worker: task panic: %v", r))
			}
		}()
		v, err := fn(ctx)
		t.complete(v, err)
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		var zero T
		t.complete(zero, ErrPoolClosed)
		return t
	}
	p.queue <- wrapped
	return t
}

// AsCompleted returns a channel delivering each task as it finishes. The
// channel closes once every task has been delivered.
func AsCompleted[T any](tasks []*Task[T]) <-chan *Task[T] {
	out := make(chan *Task[T])
	var wg sync.WaitGroup
	wg.Add(len(tasks))
	for _, t := range tasks {
		go func(t *Task[T]) {
			defer wg.Done()
			<-t.done
			out <- t
		}(t)
	}
	go func() {
		wg.Wait()
		close(out)
	}()
	return out
}
