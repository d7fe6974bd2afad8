package parcache

import (
	"context"
	"sync/atomic"
	"time"
)

// Store is the shared cache backend contract. Values written for a key are
// never merged: a Set for an existing key is a fresh write and concurrent
// writers race to last-write-wins, which is safe because every value stored
// under a key is a valid computation of that key.
type Store interface {
	Driver() Driver
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Add(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	Increment(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, error)
	Delete(ctx context.Context, key string) error
	DeleteMany(ctx context.Context, keys ...string) error
	Flush(ctx context.Context) error
	Stats(ctx context.Context) (Stats, error)
}

// Stats reports per-instance cache effectiveness. Hits and Misses are
// process-local counters; Size is authoritative for the backend's scope.
type Stats struct {
	Hits   int64
	Misses int64
	Size   int64
}

// hitCounter tracks Get outcomes for a store instance.
type hitCounter struct {
	hits   atomic.Int64
	misses atomic.Int64
}

func (c *hitCounter) record(hit bool) {
	if hit {
		c.hits.Add(1)
		return
	}
	c.misses.Add(1)
}

func (c *hitCounter) snapshot() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

func (c *hitCounter) reset() {
	c.hits.Store(0)
	c.misses.Store(0)
}
