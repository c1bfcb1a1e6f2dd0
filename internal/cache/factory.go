package cache

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"thoth/internal/config"
)

// NewFromConfig builds a Cache with the durable tier selected by cfg.Backend,
// mirroring databases.NewManager's backend-by-string-switch pattern.
func NewFromConfig(ctx context.Context, cfg config.CacheConfig) (*Cache, error) {
	switch cfg.Backend {
	case "", "memory":
		return New(NewMemoryStore()), nil
	case "postgres":
		if cfg.DSN == "" {
			return nil, fmt.Errorf("cache backend postgres requires a DSN")
		}
		pool, err := pgxpool.New(ctx, cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("connect postgres cache: %w", err)
		}
		store, err := NewPostgresStore(ctx, pool)
		if err != nil {
			return nil, err
		}
		return New(store), nil
	case "redis":
		if cfg.DSN == "" {
			return nil, fmt.Errorf("cache backend redis requires a DSN")
		}
		opts, err := redis.ParseURL(cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("parse redis DSN: %w", err)
		}
		return New(NewRedisStore(redis.NewClient(opts))), nil
	default:
		return nil, fmt.Errorf("unsupported cache backend: %s", cfg.Backend)
	}
}
