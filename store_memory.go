package parcache

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

type memoryStore struct {
	cache      *gocache.Cache
	defaultTTL time.Duration
	counter    hitCounter
	mu         sync.Mutex
}

func newMemoryStore(defaultTTL, cleanupInterval time.Duration) Store {
	if defaultTTL <= 0 {
		defaultTTL = defaultCacheTTL
	}
	if cleanupInterval <= 0 {
		cleanupInterval = defaultMemoryCleanupInterval
	}
	return &memoryStore{
		cache:      gocache.New(defaultTTL, cleanupInterval),
		defaultTTL: defaultTTL,
	}
}

func (s *memoryStore) Driver() Driver {
	return DriverMemory
}

func (s *memoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	item, ok := s.cache.Get(key)
	if !ok {
		s.counter.record(false)
		return nil, false, nil
	}
	body, ok := item.([]byte)
	if !ok {
		s.counter.record(false)
		return nil, false, nil
	}
	s.counter.record(true)
	return cloneBytes(body), true, nil
}

func (s *memoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = s.defaultTTL
	}
	s.cache.Set(key, cloneBytes(value), ttl)
	return nil
}

func (s *memoryStore) Add(_ context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		ttl = s.defaultTTL
	}
	if err := s.cache.Add(key, cloneBytes(value), ttl); err != nil {
		if strings.Contains(err.Error(), "already exists") {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s *memoryStore) Increment(_ context.Context, key string, delta int64, ttl time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.readInt64(key)
	if err != nil {
		return 0, err
	}
	next := current + delta
	if ttl <= 0 {
		ttl = s.defaultTTL
	}
	s.cache.Set(key, []byte(strconv.FormatInt(next, 10)), ttl)
	return next, nil
}

func (s *memoryStore) Delete(_ context.Context, key string) error {
	s.cache.Delete(key)
	return nil
}

func (s *memoryStore) DeleteMany(_ context.Context, keys ...string) error {
	for _, key := range keys {
		s.cache.Delete(key)
	}
	return nil
}

func (s *memoryStore) Flush(_ context.Context) error {
	s.cache.Flush()
	return nil
}

func (s *memoryStore) Stats(_ context.Context) (Stats, error) {
	hits, misses := s.counter.snapshot()
	return Stats{Hits: hits, Misses: misses, Size: int64(s.cache.ItemCount())}, nil
}

func (s *memoryStore) readInt64(key string) (int64, error) {
	item, ok := s.cache.Get(key)
	if !ok {
		return 0, nil
	}
	body, ok := item.([]byte)
	if !ok {
		return 0, fmt.Errorf("cache key %q does not contain a numeric value", key)
	}
	n, err := strconv.ParseInt(string(body), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("cache key %q does not contain a numeric value", key)
	}
	return n, nil
}

func cloneBytes(value []byte) []byte {
	if value == nil {
		return nil
	}
	clone := make([]byte, len(value))
	copy(clone, value)
	return clone
}
