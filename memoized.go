package parcache

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand/v2"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Utility is a user-supplied scoring function over a subset of data indices.
// It is the unit of work being cached and parallelized. The subset is a set:
// callers may pass indices in any order.
type Utility func(ctx context.Context, subset []int) (float64, error)

// entryEnvelope is the serialized form of a cached score. Entries are
// immutable once written; a re-put for the same key is a fresh write.
type entryEnvelope struct {
	Score      float64 `json:"score"`
	ComputedAt int64   `json:"computed_at"`
}

// MemoStats counts outcomes of memoized calls on this instance.
type MemoStats struct {
	Hits     int64
	Misses   int64
	Computes int64
	Errors   int64
}

// MemoizedUtility wraps a Utility with get-or-compute-and-store semantics.
// Store failures never fail a call that would otherwise succeed: a failed
// read degrades to direct computation and a failed write is logged and
// dropped, so only wall-clock time depends on the cache being healthy.
type MemoizedUtility struct {
	fn       Utility
	id       Identity
	store    Store
	keys     *KeyBuilder
	logger   *zap.Logger
	observer Observer

	// refreshProb forces recomputation on a would-be hit with the given
	// probability, guarding stochastic samplers against cache-induced
	// correlation. Off by default.
	refreshProb float64
	entryTTL    time.Duration

	// lockTTL > 0 enables single-flight computation across workers.
	lockTTL   time.Duration
	lockRetry time.Duration

	hits     atomic.Int64
	misses   atomic.Int64
	computes atomic.Int64
	errs     atomic.Int64
}

// MemoOption configures a MemoizedUtility.
type MemoOption func(*MemoizedUtility)

// WithLogger sets the logger used for degraded-path reporting.
func WithLogger(logger *zap.Logger) MemoOption {
	return func(m *MemoizedUtility) { m.logger = logger }
}

// WithObserver attaches an observer to receive per-operation events.
func WithObserver(o Observer) MemoOption {
	return func(m *MemoizedUtility) { m.observer = o }
}

// WithKeyBuilder overrides the default key builder.
func WithKeyBuilder(b *KeyBuilder) MemoOption {
	return func(m *MemoizedUtility) { m.keys = b }
}

// WithRefreshProbability sets the probability in [0, 1] of skipping the cache
// lookup and recomputing even when an entry exists.
func WithRefreshProbability(p float64) MemoOption {
	return func(m *MemoizedUtility) { m.refreshProb = p }
}

// WithEntryTTL overrides the TTL applied to stored entries.
func WithEntryTTL(ttl time.Duration) MemoOption {
	return func(m *MemoizedUtility) { m.entryTTL = ttl }
}

// WithSingleFlight guards misses with a cross-worker compute lock so only one
// worker computes a missing entry; the rest wait for its write. lockTTL bounds
// how long waiters trust a holder that never delivers.
func WithSingleFlight(lockTTL, retryInterval time.Duration) MemoOption {
	return func(m *MemoizedUtility) {
		m.lockTTL = lockTTL
		m.lockRetry = retryInterval
	}
}

// NewMemoizedUtility wraps fn with memoization over store. The identity is
// validated eagerly: an identity that cannot be stably fingerprinted fails
// construction rather than poisoning the cache later.
func NewMemoizedUtility(fn Utility, id Identity, store Store, opts ...MemoOption) (*MemoizedUtility, error) {
	m := &MemoizedUtility{
		fn:     fn,
		id:     id,
		store:  store,
		keys:   NewKeyBuilder(),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	if err := id.Validate(m.keys.floatDigits); err != nil {
		return nil, err
	}
	return m, nil
}

// Call returns the utility's score for subset, consulting the cache first.
func (m *MemoizedUtility) Call(ctx context.Context, subset []int, extra ...any) (float64, error) {
	key, err := m.keys.Key(m.id, subset, extra...)
	if err != nil {
		m.errs.Add(1)
		return 0, err
	}

	if m.refreshProb <= 0 || rand.Float64() >= m.refreshProb {
		if score, ok := m.lookup(ctx, key); ok {
			return score, nil
		}
	}

	if m.lockTTL > 0 {
		if score, done, err := m.callGuarded(ctx, key, subset); done {
			return score, err
		}
	}
	return m.compute(ctx, key, subset)
}

func (m *MemoizedUtility) compute(ctx context.Context, key string, subset []int) (float64, error) {
	start := time.Now()
	score, err := m.fn(ctx, subset)
	m.computes.Add(1)
	if err != nil {
		m.errs.Add(1)
		return 0, err
	}
	m.stash(ctx, key, score, start)
	return score, nil
}

// callGuarded routes a miss through the compute lock. done=false means the
// guarded path could not settle the call and the caller should compute
// directly.
func (m *MemoizedUtility) callGuarded(ctx context.Context, key string, subset []int) (float64, bool, error) {
	lock := NewComputeLock(m.store, key+":lock", m.lockTTL)
	acquired, err := lock.Acquire(ctx)
	if err != nil {
		m.logger.Warn("compute lock unavailable, computing directly",
			zap.String("key", key), zap.Error(err))
		return 0, false, nil
	}
	if acquired {
		defer func() { _ = lock.Release(ctx) }()
		score, err := m.compute(ctx, key, subset)
		return score, true, err
	}

	// Another worker holds the lock; wait for its write.
	if err := lock.Wait(ctx, m.lockRetry); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return 0, true, err
		}
		m.logger.Warn("compute lock wait failed, computing directly",
			zap.String("key", key), zap.Error(err))
		return 0, false, nil
	}
	if score, ok := m.peek(ctx, key); ok {
		m.hits.Add(1)
		return score, true, nil
	}
	// The holder released without writing; take over.
	return 0, false, nil
}

// peek reads an entry without touching counters or observers.
func (m *MemoizedUtility) peek(ctx context.Context, key string) (float64, bool) {
	body, ok, err := m.store.Get(ctx, key)
	if err != nil || !ok {
		return 0, false
	}
	var env entryEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return 0, false
	}
	return env.Score, true
}

// Stats returns call-outcome counters for this wrapper.
func (m *MemoizedUtility) Stats() MemoStats {
	return MemoStats{
		Hits:     m.hits.Load(),
		Misses:   m.misses.Load(),
		Computes: m.computes.Load(),
		Errors:   m.errs.Load(),
	}
}

// Store returns the underlying store.
func (m *MemoizedUtility) Store() Store { return m.store }

func (m *MemoizedUtility) lookup(ctx context.Context, key string) (float64, bool) {
	start := time.Now()
	body, ok, err := m.store.Get(ctx, key)
	m.observe(ctx, "get", key, ok, err, start)
	if err != nil {
		// Degrade to a miss; the computation must not depend on the cache.
		m.logger.Warn("cache read failed, computing directly",
			zap.String("key", key), zap.Error(err))
		m.misses.Add(1)
		return 0, false
	}
	if !ok {
		m.misses.Add(1)
		return 0, false
	}
	var env entryEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		m.logger.Warn("cache entry is malformed, recomputing",
			zap.String("key", key), zap.Error(err))
		m.misses.Add(1)
		return 0, false
	}
	m.hits.Add(1)
	if _, err := m.store.Increment(ctx, key+":hits", 1, m.entryTTL); err != nil {
		m.logger.Debug("hit counter update failed", zap.String("key", key), zap.Error(err))
	}
	return env.Score, true
}

func (m *MemoizedUtility) stash(ctx context.Context, key string, score float64, start time.Time) {
	body, err := json.Marshal(entryEnvelope{
		Score:      score,
		ComputedAt: time.Now().UnixMilli(),
	})
	if err == nil {
		err = m.store.Set(ctx, key, body, m.entryTTL)
	}
	m.observe(ctx, "set", key, false, err, start)
	if err != nil {
		// Best effort: the value was already computed and is returned
		// regardless of whether the write landed.
		m.logger.Warn("cache write failed", zap.String("key", key), zap.Error(err))
	}
}

func (m *MemoizedUtility) observe(ctx context.Context, op, key string, hit bool, err error, start time.Time) {
	if m.observer == nil {
		return
	}
	m.observer.OnCacheOp(ctx, op, key, hit, err, time.Since(start), m.store.Driver())
}
