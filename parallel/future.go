package parallel

import (
	"context"
	"sync"
)

// State is a future's position in its lifecycle.
type State int32

const (
	StatePending State = iota
	StateRunning
	StateCompleted
	StateFailed
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// terminal reports whether the state is final.
func (s State) terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

// Future tracks one submitted unit of work through
// Pending → Running → {Completed | Failed | Cancelled}. Terminal states are
// final and idempotent to query. The executor owns the future until the
// caller retrieves or cancels it.
type Future struct {
	id string

	mu          sync.Mutex
	state       State
	value       []byte
	err         error
	cancelTask  context.CancelFunc
	cancelAsked bool
	done        chan struct{}
}

func newFuture(id string) *Future {
	return &Future{
		id:   id,
		done: make(chan struct{}),
	}
}

// ID returns the task id.
func (f *Future) ID() string { return f.id }

// State returns the current lifecycle state.
func (f *Future) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Done is closed when the future reaches a terminal state.
func (f *Future) Done() <-chan struct{} { return f.done }

// Result blocks until the future is terminal or ctx expires. A cancelled
// future yields a TaskError wrapping context.Canceled.
func (f *Future) Result(ctx context.Context) ([]byte, error) {
	select {
	case <-f.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.value, f.err
}

// Cancel requests best-effort cancellation and reports whether the future is
// now guaranteed never to produce work: true when a pending future was
// stopped before start. A running future has its task context cancelled so it
// can stop at its next checkpoint, but the outcome belongs to the task, so
// Cancel returns false. Terminal futures are unaffected.
func (f *Future) Cancel() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch f.state {
	case StatePending:
		f.cancelAsked = true
		f.finishLocked(StateCancelled, nil, &TaskError{TaskID: f.id, Err: context.Canceled})
		return true
	case StateRunning:
		f.cancelAsked = true
		if f.cancelTask != nil {
			f.cancelTask()
		}
		return false
	default:
		return false
	}
}

// tryStart transitions Pending → Running. It fails when the future was
// cancelled while queued; the executor must then skip the callable entirely.
func (f *Future) tryStart(cancel context.CancelFunc) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != StatePending {
		return false
	}
	f.state = StateRunning
	f.cancelTask = cancel
	return true
}

func (f *Future) cancelRequested() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cancelAsked
}

func (f *Future) complete(value []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finishLocked(StateCompleted, value, nil)
}

func (f *Future) fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finishLocked(StateFailed, nil, err)
}

func (f *Future) finishCancelled() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finishLocked(StateCancelled, nil, &TaskError{TaskID: f.id, Err: context.Canceled})
}

func (f *Future) finishLocked(state State, value []byte, err error) {
	if f.state.terminal() {
		return
	}
	f.state = state
	f.value = value
	f.err = err
	close(f.done)
}
