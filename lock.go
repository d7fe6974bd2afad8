package parcache

import (
	"context"
	"sync/atomic"
	"time"
)

// ComputeLock is a best-effort cross-worker mutex built on Store.Add. It
// keeps a fleet of workers from all computing the same expensive utility
// entry at once; it is an optimization, not a correctness mechanism.
//
// Caveat: Release does not validate ownership. A holder that outlives the
// lock TTL may release a lock re-acquired by someone else, which at worst
// causes one duplicate computation.
type ComputeLock struct {
	store Store
	key   string
	ttl   time.Duration
	held  atomic.Bool
}

// NewComputeLock creates a reusable lock for a key/ttl pair.
func NewComputeLock(store Store, key string, ttl time.Duration) *ComputeLock {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &ComputeLock{
		store: store,
		key:   key,
		ttl:   ttl,
	}
}

// Acquire attempts to take the lock once, without blocking.
func (l *ComputeLock) Acquire(ctx context.Context) (bool, error) {
	locked, err := l.store.Add(ctx, l.key, []byte("1"), l.ttl)
	if locked && err == nil {
		l.held.Store(true)
	}
	return locked, err
}

// Release frees the lock if this handle acquired it. Safe to call multiple
// times; calls after the first successful release are no-ops.
func (l *ComputeLock) Release(ctx context.Context) error {
	if !l.held.Load() {
		return nil
	}
	if err := l.store.Delete(ctx, l.key); err != nil {
		return err
	}
	l.held.Store(false)
	return nil
}

// While acquires the lock once, runs fn when acquired, then releases. The
// boolean reports whether fn ran.
func (l *ComputeLock) While(ctx context.Context, fn func(context.Context) error) (bool, error) {
	locked, err := l.Acquire(ctx)
	if err != nil || !locked {
		return false, err
	}
	defer func() { _ = l.Release(ctx) }()
	return true, fn(ctx)
}

// Wait blocks until the lock key disappears, the lock TTL elapses, or ctx
// expires. Callers poll for the holder's result in between.
func (l *ComputeLock) Wait(ctx context.Context, retryInterval time.Duration) error {
	if retryInterval <= 0 {
		retryInterval = 25 * time.Millisecond
	}
	deadline := time.Now().Add(l.ttl)
	ticker := time.NewTicker(retryInterval)
	defer ticker.Stop()
	for time.Now().Before(deadline) {
		_, held, err := l.store.Get(ctx, l.key)
		if err != nil {
			return err
		}
		if !held {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}
