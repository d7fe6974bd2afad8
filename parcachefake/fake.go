// Package parcachefake provides a deterministic in-memory store with call
// recording for tests. It wraps the memory store, so no external services
// are needed.
package parcachefake

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/goforj/parcache"
)

// Op identifies a store operation for assertions.
type Op string

const (
	OpGet        Op = "get"
	OpSet        Op = "set"
	OpAdd        Op = "add"
	OpInc        Op = "inc"
	OpDelete     Op = "delete"
	OpDeleteMany Op = "delete_many"
	OpFlush      Op = "flush"
	OpStats      Op = "stats"
)

// Fake exposes a spy store plus assertion helpers for tests.
type Fake struct {
	store  *countingStore
	counts map[Op]map[string]int
	mu     sync.Mutex
}

// New creates a Fake backed by an in-memory store.
func New() *Fake {
	store := &countingStore{inner: parcache.NewMemoryStore(context.Background())}
	f := &Fake{
		store:  store,
		counts: make(map[Op]map[string]int),
	}
	store.onCount = f.record
	return f
}

// Store returns the spy store to inject into code under test.
func (f *Fake) Store() parcache.Store { return f.store }

// FailWith makes every subsequent store operation return err. Passing nil
// restores normal behavior. Use it to exercise degraded cache paths.
func (f *Fake) FailWith(err error) {
	f.store.setErr(err)
}

// Reset clears recorded counts.
func (f *Fake) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.counts = make(map[Op]map[string]int)
}

// AssertCalled verifies key was touched by op the expected number of times.
func (f *Fake) AssertCalled(t *testing.T, op Op, key string, times int) {
	t.Helper()
	if got := f.Count(op, key); got != times {
		t.Fatalf("expected %s %q called %d times, got %d", op, key, times, got)
	}
}

// AssertNotCalled ensures key was never touched by op.
func (f *Fake) AssertNotCalled(t *testing.T, op Op, key string) {
	t.Helper()
	if got := f.Count(op, key); got != 0 {
		t.Fatalf("expected %s %q not called, got %d", op, key, got)
	}
}

// AssertTotal ensures the total call count for an op matches times.
func (f *Fake) AssertTotal(t *testing.T, op Op, times int) {
	t.Helper()
	if got := f.Total(op); got != times {
		t.Fatalf("expected %s total=%d, got %d", op, times, got)
	}
}

// Count returns calls for op+key.
func (f *Fake) Count(op Op, key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.counts[op] == nil {
		return 0
	}
	return f.counts[op][key]
}

// Total returns total calls for an op across keys.
func (f *Fake) Total(op Op) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	var sum int
	for _, v := range f.counts[op] {
		sum += v
	}
	return sum
}

func (f *Fake) record(op Op, key string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.counts[op] == nil {
		f.counts[op] = make(map[string]int)
	}
	f.counts[op][key]++
}

// countingStore wraps a Store to record calls and optionally inject failures.
type countingStore struct {
	inner   parcache.Store
	onCount func(Op, string)

	errMu sync.Mutex
	err   error
}

func (s *countingStore) setErr(err error) {
	s.errMu.Lock()
	s.err = err
	s.errMu.Unlock()
}

func (s *countingStore) failure() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

func (s *countingStore) Driver() parcache.Driver { return s.inner.Driver() }

func (s *countingStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	s.bump(OpGet, key)
	if err := s.failure(); err != nil {
		return nil, false, err
	}
	return s.inner.Get(ctx, key)
}

func (s *countingStore) Set(ctx context.Context, key string, val []byte, ttl time.Duration) error {
	s.bump(OpSet, key)
	if err := s.failure(); err != nil {
		return err
	}
	return s.inner.Set(ctx, key, val, ttl)
}

func (s *countingStore) Add(ctx context.Context, key string, val []byte, ttl time.Duration) (bool, error) {
	s.bump(OpAdd, key)
	if err := s.failure(); err != nil {
		return false, err
	}
	return s.inner.Add(ctx, key, val, ttl)
}

func (s *countingStore) Increment(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, error) {
	s.bump(OpInc, key)
	if err := s.failure(); err != nil {
		return 0, err
	}
	return s.inner.Increment(ctx, key, delta, ttl)
}

func (s *countingStore) Delete(ctx context.Context, key string) error {
	s.bump(OpDelete, key)
	if err := s.failure(); err != nil {
		return err
	}
	return s.inner.Delete(ctx, key)
}

func (s *countingStore) DeleteMany(ctx context.Context, keys ...string) error {
	for _, k := range keys {
		s.bump(OpDeleteMany, k)
	}
	if err := s.failure(); err != nil {
		return err
	}
	return s.inner.DeleteMany(ctx, keys...)
}

func (s *countingStore) Flush(ctx context.Context) error {
	s.bump(OpFlush, "")
	if err := s.failure(); err != nil {
		return err
	}
	return s.inner.Flush(ctx)
}

func (s *countingStore) Stats(ctx context.Context) (parcache.Stats, error) {
	s.bump(OpStats, "")
	if err := s.failure(); err != nil {
		return parcache.Stats{}, err
	}
	return s.inner.Stats(ctx)
}

func (s *countingStore) bump(op Op, key string) {
	if s.onCount != nil {
		s.onCount(op, key)
	}
}
