package parallel

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func echoTask(_ context.Context, args []byte) ([]byte, error) {
	return args, nil
}

func TestExecutorSubmitResolvesFuture(t *testing.T) {
	e := newExecutor(context.Background(), 2)
	defer e.Close()

	f := e.Submit(echoTask, []byte("payload"))
	value, err := f.Result(context.Background())
	if err != nil {
		t.Fatalf("result failed: %v", err)
	}
	if string(value) != "payload" {
		t.Fatalf("unexpected value %q", value)
	}
	if f.State() != StateCompleted {
		t.Fatalf("expected completed state, got %s", f.State())
	}
}

func TestExecutorMapPreservesInputOrder(t *testing.T) {
	// Later tasks finish first; the futures slice must still be input-ordered.
	e := newExecutor(context.Background(), 8)
	defer e.Close()

	slow := func(_ context.Context, args []byte) ([]byte, error) {
		var n int
		if err := json.Unmarshal(args, &n); err != nil {
			return nil, err
		}
		time.Sleep(time.Duration(8-n) * 5 * time.Millisecond)
		return json.Marshal(n * n)
	}

	argsList := make([][]byte, 8)
	for i := range argsList {
		argsList[i], _ = json.Marshal(i)
	}

	futures := e.Map(slow, argsList)
	for i, f := range futures {
		body, err := f.Result(context.Background())
		if err != nil {
			t.Fatalf("future %d failed: %v", i, err)
		}
		var got int
		if err := json.Unmarshal(body, &got); err != nil {
			t.Fatalf("decode failed: %v", err)
		}
		if got != i*i {
			t.Fatalf("position %d: expected %d, got %d", i, i*i, got)
		}
	}
}

func TestExecutorBoundsConcurrency(t *testing.T) {
	e := newExecutor(context.Background(), 2)
	defer e.Close()

	var running, peak atomic.Int64
	task := func(_ context.Context, _ []byte) ([]byte, error) {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		running.Add(-1)
		return nil, nil
	}

	for _, f := range e.Map(task, make([][]byte, 10)) {
		if _, err := f.Result(context.Background()); err != nil {
			t.Fatalf("task failed: %v", err)
		}
	}
	if got := peak.Load(); got > 2 {
		t.Fatalf("expected at most 2 concurrent tasks, observed %d", got)
	}
}

func TestExecutorCancelPendingNeverRuns(t *testing.T) {
	// One slow task holds the only slot; the queued task is cancelled before
	// it can start and its callable must never be invoked.
	e := newExecutor(context.Background(), 1)
	defer e.Close()

	release := make(chan struct{})
	blocker := e.Submit(func(ctx context.Context, _ []byte) ([]byte, error) {
		<-release
		return nil, nil
	}, nil)

	var ran atomic.Bool
	queued := e.Submit(func(context.Context, []byte) ([]byte, error) {
		ran.Store(true)
		return nil, nil
	}, nil)

	if !queued.Cancel() {
		t.Fatalf("expected pending cancel to report true")
	}
	if queued.State() != StateCancelled {
		t.Fatalf("expected cancelled state, got %s", queued.State())
	}
	close(release)
	if _, err := blocker.Result(context.Background()); err != nil {
		t.Fatalf("blocker failed: %v", err)
	}
	e.Wait()
	if ran.Load() {
		t.Fatalf("cancelled task must not run")
	}
	if _, err := queued.Result(context.Background()); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled in result, got %v", err)
	}
	var taskErr *TaskError
	if _, err := queued.Result(context.Background()); !errors.As(err, &taskErr) {
		t.Fatalf("expected TaskError, got %T", err)
	}
}

func TestExecutorCancelRunningSignalsContext(t *testing.T) {
	e := newExecutor(context.Background(), 1)
	defer e.Close()

	started := make(chan struct{})
	f := e.Submit(func(ctx context.Context, _ []byte) ([]byte, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	}, nil)

	<-started
	if f.Cancel() {
		t.Fatalf("cancelling a running future must report false")
	}
	if _, err := f.Result(context.Background()); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation error, got %v", err)
	}
	if f.State() != StateCancelled {
		t.Fatalf("expected cancelled state, got %s", f.State())
	}
}

func TestExecutorCancelAfterCompletionIsNoop(t *testing.T) {
	e := newExecutor(context.Background(), 1)
	defer e.Close()

	f := e.Submit(echoTask, []byte("v"))
	if _, err := f.Result(context.Background()); err != nil {
		t.Fatalf("result failed: %v", err)
	}
	if f.Cancel() {
		t.Fatalf("cancelling a terminal future must report false")
	}
	if f.State() != StateCompleted {
		t.Fatalf("terminal state must not change, got %s", f.State())
	}
	value, err := f.Result(context.Background())
	if err != nil || string(value) != "v" {
		t.Fatalf("result must stay stable, got %q err=%v", value, err)
	}
}

func TestExecutorFailureIsolation(t *testing.T) {
	e := newExecutor(context.Background(), 4)
	defer e.Close()

	boom := errors.New("boom")
	task := func(_ context.Context, args []byte) ([]byte, error) {
		if string(args) == "bad" {
			return nil, boom
		}
		return args, nil
	}

	futures := e.Map(task, [][]byte{[]byte("a"), []byte("bad"), []byte("c")})

	if _, err := futures[0].Result(context.Background()); err != nil {
		t.Fatalf("sibling 0 failed: %v", err)
	}
	_, err := futures[1].Result(context.Background())
	var taskErr *TaskError
	if !errors.As(err, &taskErr) || !errors.Is(err, boom) {
		t.Fatalf("expected TaskError wrapping boom, got %v", err)
	}
	if taskErr.TaskID != futures[1].ID() {
		t.Fatalf("task error carries wrong id: %s", taskErr.TaskID)
	}
	if _, err := futures[2].Result(context.Background()); err != nil {
		t.Fatalf("sibling 2 failed: %v", err)
	}
}

func TestExecutorCloseDrainsEverything(t *testing.T) {
	e := newExecutor(context.Background(), 1)

	futures := e.Map(func(ctx context.Context, _ []byte) ([]byte, error) {
		select {
		case <-time.After(10 * time.Millisecond):
			return nil, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}, make([][]byte, 5))

	if err := e.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	for i, f := range futures {
		if !f.State().terminal() {
			t.Fatalf("future %d not terminal after close: %s", i, f.State())
		}
	}
	// Close is idempotent.
	if err := e.Close(); err != nil {
		t.Fatalf("second close failed: %v", err)
	}
}

func TestExecutorSubmitAfterCloseFails(t *testing.T) {
	e := newExecutor(context.Background(), 1)
	if err := e.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	f := e.Submit(echoTask, nil)
	if f.State() != StateFailed {
		t.Fatalf("expected failed future, got %s", f.State())
	}
	if _, err := f.Result(context.Background()); !errors.Is(err, ErrResourceUnavailable) {
		t.Fatalf("expected ErrResourceUnavailable, got %v", err)
	}
}

func TestExecutorResultHonorsCallerContext(t *testing.T) {
	e := newExecutor(context.Background(), 1)
	defer e.Close()

	release := make(chan struct{})
	defer close(release)
	f := e.Submit(func(context.Context, []byte) ([]byte, error) {
		<-release
		return nil, nil
	}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := f.Result(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}
	// The future itself is untouched by the caller's deadline.
	if f.State().terminal() {
		t.Fatalf("future must still be live, got %s", f.State())
	}
}

func TestStateString(t *testing.T) {
	for _, tc := range []struct {
		state State
		want  string
	}{
		{StatePending, "pending"},
		{StateRunning, "running"},
		{StateCompleted, "completed"},
		{StateFailed, "failed"},
		{StateCancelled, "cancelled"},
		{State(99), "unknown"},
	} {
		if got := tc.state.String(); got != tc.want {
			t.Fatalf("State(%d).String() = %q, want %q", tc.state, got, tc.want)
		}
	}
}

func TestWithConcurrencyOverride(t *testing.T) {
	e := newExecutor(context.Background(), 8, WithConcurrency(1))
	defer e.Close()

	var running, peak atomic.Int64
	task := func(context.Context, []byte) ([]byte, error) {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		running.Add(-1)
		return nil, nil
	}
	for _, f := range e.Map(task, make([][]byte, 4)) {
		if _, err := f.Result(context.Background()); err != nil {
			t.Fatalf("task failed: %v", err)
		}
	}
	if peak.Load() != 1 {
		t.Fatalf("expected serialized execution, peak=%d", peak.Load())
	}
}

func TestTaskErrorMessageCarriesID(t *testing.T) {
	cause := errors.New("boom")
	err := &TaskError{TaskID: "abc", Err: cause}
	if msg := err.Error(); !strings.Contains(msg, "abc") || !strings.Contains(msg, "boom") {
		t.Fatalf("task error message missing context: %q", msg)
	}
	if !errors.Is(err, cause) {
		t.Fatalf("task error must wrap its cause")
	}
}
