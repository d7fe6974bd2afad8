package parcache

import (
	"os"
	"path/filepath"
	"time"
)

const (
	defaultCachePrefix           = "parcache"
	defaultCacheTTL              = 24 * time.Hour
	defaultMemoryCleanupInterval = 10 * time.Minute
)

func defaultFileDir() string {
	return filepath.Join(os.TempDir(), "parcache")
}

// StoreConfig controls how a Store is constructed.
type StoreConfig struct {
	Driver Driver

	// DefaultTTL is used when a call provides ttl <= 0. Utility scores stay
	// valid as long as the underlying data does, so the default is generous.
	DefaultTTL time.Duration

	// MemoryCleanupInterval controls in-process cache eviction sweeps.
	MemoryCleanupInterval time.Duration

	// Prefix namespaces keys on shared backends (e.g. redis).
	Prefix string

	// RedisClient is required when DriverRedis is used.
	RedisClient RedisClient

	// FileDir is where the file driver stores one entry file per key.
	FileDir string

	// NATSKeyValue is required when DriverNATS is used.
	NATSKeyValue NATSKeyValue

	// NATSBucketTTL trusts the bucket's own TTL instead of wrapping each
	// value in an expiry envelope.
	NATSBucketTTL bool
}

func (c StoreConfig) withDefaults() StoreConfig {
	if c.Driver == "" {
		c.Driver = DriverMemory
	}
	if c.DefaultTTL <= 0 {
		c.DefaultTTL = defaultCacheTTL
	}
	if c.MemoryCleanupInterval <= 0 {
		c.MemoryCleanupInterval = defaultMemoryCleanupInterval
	}
	if c.Prefix == "" {
		c.Prefix = defaultCachePrefix
	}
	if c.FileDir == "" {
		c.FileDir = defaultFileDir()
	}
	return c
}
