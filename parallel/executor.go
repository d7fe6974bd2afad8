package parallel

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
)

// ExecOption configures an Executor.
type ExecOption func(*execConfig)

type execConfig struct {
	concurrency int
}

// WithConcurrency overrides the executor's concurrency bound. It defaults to
// the backend's declared worker count.
func WithConcurrency(n int) ExecOption {
	return func(c *execConfig) {
		if n > 0 {
			c.concurrency = n
		}
	}
}

// Executor is a scoped, bounded-concurrency futures executor. Submissions are
// non-blocking: each future gets a goroutine gated on a semaphore, so excess
// submissions queue instead of running unbounded. Close guarantees that no
// background work survives the scope.
type Executor struct {
	sem    chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

func newExecutor(parent context.Context, concurrency int, opts ...ExecOption) *Executor {
	cfg := execConfig{concurrency: concurrency}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.concurrency <= 0 {
		cfg.concurrency = 1
	}
	ctx, cancel := context.WithCancel(parent)
	return &Executor{
		sem:    make(chan struct{}, cfg.concurrency),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Submit enqueues one unit of work and returns immediately. The returned
// future resolves when the work completes, fails, or is cancelled. Submitting
// to a closed executor yields an already-failed future rather than a panic so
// fan-out loops need no special casing.
func (e *Executor) Submit(fn TaskFunc, args []byte) *Future {
	f := newFuture(uuid.NewString())

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		f.fail(&TaskError{TaskID: f.id, Err: ErrResourceUnavailable})
		return f
	}
	e.wg.Add(1)
	e.mu.Unlock()

	go e.run(f, fn, args)
	return f
}

// Map submits one task per element of argsList. The returned futures are in
// input order regardless of completion order.
func (e *Executor) Map(fn TaskFunc, argsList [][]byte) []*Future {
	futures := make([]*Future, len(argsList))
	for i, args := range argsList {
		futures[i] = e.Submit(fn, args)
	}
	return futures
}

// Cancel requests best-effort cancellation of f. See Future.Cancel.
func (e *Executor) Cancel(f *Future) bool {
	return f.Cancel()
}

// Wait blocks until every submitted future is terminal, without cancelling
// anything.
func (e *Executor) Wait() {
	e.wg.Wait()
}

// Close cancels queued and running work and blocks until every future is
// terminal. It is idempotent.
func (e *Executor) Close() error {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	e.cancel()
	e.wg.Wait()
	return nil
}

func (e *Executor) run(f *Future, fn TaskFunc, args []byte) {
	defer e.wg.Done()

	select {
	case e.sem <- struct{}{}:
	case <-e.ctx.Done():
		f.finishCancelled()
		return
	case <-f.done:
		// Cancelled while queued.
		return
	}
	defer func() { <-e.sem }()

	taskCtx, cancel := context.WithCancel(e.ctx)
	defer cancel()
	if !f.tryStart(cancel) {
		return
	}

	value, err := fn(taskCtx, args)
	switch {
	case err == nil:
		f.complete(value)
	case errors.Is(err, context.Canceled) && (f.cancelRequested() || e.ctx.Err() != nil):
		f.finishCancelled()
	default:
		f.fail(&TaskError{TaskID: f.id, Err: err})
	}
}
