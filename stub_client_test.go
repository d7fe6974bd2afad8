package parcache

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// stubRedisClient is an in-memory RedisClient used for unit tests.
type stubRedisClient struct {
	mu    sync.Mutex
	store map[string]string
	ttl   map[string]time.Time

	getErr  error
	setErr  error
	scanErr error
}

func newStubRedisClient() *stubRedisClient {
	return &stubRedisClient{
		store: make(map[string]string),
		ttl:   make(map[string]time.Time),
	}
}

func (c *stubRedisClient) expireIfNeeded(key string) {
	if deadline, ok := c.ttl[key]; ok && time.Now().After(deadline) {
		delete(c.ttl, key)
		delete(c.store, key)
	}
}

func (c *stubRedisClient) Get(ctx context.Context, key string) *redis.StringCmd {
	c.mu.Lock()
	defer c.mu.Unlock()
	cmd := redis.NewStringCmd(ctx)
	if c.getErr != nil {
		cmd.SetErr(c.getErr)
		return cmd
	}
	c.expireIfNeeded(key)
	if val, ok := c.store[key]; ok {
		cmd.SetVal(val)
		return cmd
	}
	cmd.SetErr(redis.Nil)
	return cmd
}

func (c *stubRedisClient) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	c.mu.Lock()
	defer c.mu.Unlock()
	cmd := redis.NewStatusCmd(ctx)
	if c.setErr != nil {
		cmd.SetErr(c.setErr)
		return cmd
	}
	bytes, _ := value.([]byte)
	c.store[key] = string(bytes)
	if expiration > 0 {
		c.ttl[key] = time.Now().Add(expiration)
	} else {
		delete(c.ttl, key)
	}
	cmd.SetVal("OK")
	return cmd
}

func (c *stubRedisClient) SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd {
	c.mu.Lock()
	defer c.mu.Unlock()
	cmd := redis.NewBoolCmd(ctx)
	c.expireIfNeeded(key)
	if _, exists := c.store[key]; exists {
		cmd.SetVal(false)
		return cmd
	}
	bytes, _ := value.([]byte)
	c.store[key] = string(bytes)
	if expiration > 0 {
		c.ttl[key] = time.Now().Add(expiration)
	}
	cmd.SetVal(true)
	return cmd
}

func (c *stubRedisClient) IncrBy(ctx context.Context, key string, value int64) *redis.IntCmd {
	c.mu.Lock()
	defer c.mu.Unlock()
	cmd := redis.NewIntCmd(ctx)
	c.expireIfNeeded(key)
	current := int64(0)
	if existing, ok := c.store[key]; ok {
		parsed, err := strconv.ParseInt(existing, 10, 64)
		if err != nil {
			cmd.SetErr(err)
			return cmd
		}
		current = parsed
	}
	current += value
	c.store[key] = strconv.FormatInt(current, 10)
	cmd.SetVal(current)
	return cmd
}

func (c *stubRedisClient) Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd {
	c.mu.Lock()
	defer c.mu.Unlock()
	cmd := redis.NewBoolCmd(ctx)
	c.expireIfNeeded(key)
	if _, ok := c.store[key]; !ok {
		cmd.SetVal(false)
		return cmd
	}
	c.ttl[key] = time.Now().Add(expiration)
	cmd.SetVal(true)
	return cmd
}

func (c *stubRedisClient) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	c.mu.Lock()
	defer c.mu.Unlock()
	cmd := redis.NewIntCmd(ctx)
	var removed int64
	for _, key := range keys {
		c.expireIfNeeded(key)
		if _, ok := c.store[key]; ok {
			delete(c.store, key)
			delete(c.ttl, key)
			removed++
		}
	}
	cmd.SetVal(removed)
	return cmd
}

func (c *stubRedisClient) Scan(ctx context.Context, cursor uint64, match string, count int64) *redis.ScanCmd {
	c.mu.Lock()
	defer c.mu.Unlock()
	cmd := redis.NewScanCmd(ctx, nil)
	if c.scanErr != nil {
		cmd.SetErr(c.scanErr)
		return cmd
	}
	prefix := strings.TrimSuffix(match, "*")
	var keys []string
	for key := range c.store {
		c.expireIfNeeded(key)
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	cmd.SetVal(keys, 0)
	return cmd
}
