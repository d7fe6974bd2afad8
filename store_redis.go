package parcache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisClient captures the subset of redis.Client used by the store.
type RedisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	IncrBy(ctx context.Context, key string, value int64) *redis.IntCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Scan(ctx context.Context, cursor uint64, match string, count int64) *redis.ScanCmd
}

// redisStore is the cluster-shared variant: many machines read and write the
// same keyspace through a pre-existing redis server. Visibility is bounded by
// a network round-trip and there is no atomicity across keys, which is enough
// because entries are idempotent under duplicate writes.
type redisStore struct {
	client     RedisClient
	defaultTTL time.Duration
	prefix     string
	counter    hitCounter
}

func newRedisStore(client RedisClient, defaultTTL time.Duration, prefix string) Store {
	if defaultTTL <= 0 {
		defaultTTL = defaultCacheTTL
	}
	if prefix == "" {
		prefix = defaultCachePrefix
	}
	if client == nil {
		return newErrorStore(DriverRedis, storageErr(DriverRedis, "init", errors.New("redis client unavailable")))
	}
	return &redisStore{
		client:     client,
		defaultTTL: defaultTTL,
		prefix:     prefix,
	}
}

func (s *redisStore) Driver() Driver {
	return DriverRedis
}

func (s *redisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	value, err := s.client.Get(ctx, s.cacheKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			s.counter.record(false)
			return nil, false, nil
		}
		return nil, false, storageErr(DriverRedis, "get", err)
	}
	s.counter.record(true)
	return value, true, nil
}

func (s *redisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = s.defaultTTL
	}
	return storageErr(DriverRedis, "set", s.client.Set(ctx, s.cacheKey(key), value, ttl).Err())
}

func (s *redisStore) Add(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		ttl = s.defaultTTL
	}
	created, err := s.client.SetNX(ctx, s.cacheKey(key), value, ttl).Result()
	if err != nil {
		return false, storageErr(DriverRedis, "add", err)
	}
	return created, nil
}

func (s *redisStore) Increment(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, error) {
	cacheKey := s.cacheKey(key)
	value, err := s.client.IncrBy(ctx, cacheKey, delta).Result()
	if err != nil {
		return 0, storageErr(DriverRedis, "increment", err)
	}
	if ttl <= 0 {
		ttl = s.defaultTTL
	}
	if expireErr := s.client.Expire(ctx, cacheKey, ttl).Err(); expireErr != nil {
		return 0, storageErr(DriverRedis, "increment", expireErr)
	}
	return value, nil
}

func (s *redisStore) Delete(ctx context.Context, key string) error {
	return storageErr(DriverRedis, "delete", s.client.Del(ctx, s.cacheKey(key)).Err())
}

func (s *redisStore) DeleteMany(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	cacheKeys := make([]string, 0, len(keys))
	for _, key := range keys {
		cacheKeys = append(cacheKeys, s.cacheKey(key))
	}
	return storageErr(DriverRedis, "delete_many", s.client.Del(ctx, cacheKeys...).Err())
}

func (s *redisStore) Flush(ctx context.Context) error {
	pattern := s.cacheKey("*")
	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, pattern, 200).Result()
		if err != nil {
			return storageErr(DriverRedis, "flush", err)
		}
		if len(keys) > 0 {
			if err := s.client.Del(ctx, keys...).Err(); err != nil {
				return storageErr(DriverRedis, "flush", err)
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

func (s *redisStore) Stats(ctx context.Context) (Stats, error) {
	hits, misses := s.counter.snapshot()
	pattern := s.cacheKey("*")
	var cursor uint64
	var size int64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, pattern, 200).Result()
		if err != nil {
			return Stats{}, storageErr(DriverRedis, "stats", err)
		}
		size += int64(len(keys))
		cursor = next
		if cursor == 0 {
			return Stats{Hits: hits, Misses: misses, Size: size}, nil
		}
	}
}

func (s *redisStore) cacheKey(key string) string {
	return s.prefix + ":" + key
}
