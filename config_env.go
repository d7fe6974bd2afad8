package parcache

import (
	"context"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/redis/go-redis/v9"
)

// EnvConfig is the environment-driven cache configuration. It selects the
// driver and its dependencies from the process environment so deployments can
// switch backends without code changes.
type EnvConfig struct {
	Driver     string        `env:"PARCACHE_DRIVER" envDefault:"memory"`
	DefaultTTL time.Duration `env:"PARCACHE_TTL" envDefault:"24h"`
	Prefix     string        `env:"PARCACHE_PREFIX" envDefault:"parcache"`
	FileDir    string        `env:"PARCACHE_FILE_DIR"`
	RedisURL   string        `env:"PARCACHE_REDIS_URL"`
}

// NewStoreFromEnv builds a store from environment variables. A redis driver
// without a reachable URL yields a store that surfaces the construction error
// on every call rather than failing here; callers that treat store errors as
// misses keep working, only slower.
func NewStoreFromEnv(ctx context.Context) (Store, error) {
	var cfg EnvConfig
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parcache: parse env config: %w", err)
	}

	sc := StoreConfig{
		Driver:     Driver(cfg.Driver),
		DefaultTTL: cfg.DefaultTTL,
		Prefix:     cfg.Prefix,
		FileDir:    cfg.FileDir,
	}
	if sc.Driver == DriverRedis {
		if cfg.RedisURL == "" {
			return nil, fmt.Errorf("parcache: PARCACHE_REDIS_URL is required for the redis driver")
		}
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("parcache: parse redis url: %w", err)
		}
		sc.RedisClient = redis.NewClient(opts)
	}
	return NewStore(ctx, sc), nil
}
