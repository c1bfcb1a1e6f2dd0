package relstore

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"thoth/internal/config"
)

// New resolves the Store backend from cfg, following the same
// memory/auto/postgres switch databases.NewManager uses for the
// search/vector/graph backends.
func New(ctx context.Context, cfg config.DBConfig) (Store, error) {
	dsn := firstNonEmpty(cfg.Relational.DSN, cfg.DefaultDSN)
	switch cfg.Relational.Backend {
	case "", "memory":
		return NewMemory(), nil
	case "auto":
		if dsn == "" {
			return NewMemory(), nil
		}
		pool, err := newPgPool(ctx, dsn)
		if err != nil {
			return NewMemory(), nil
		}
		return NewPostgres(pool), nil
	case "postgres", "pg":
		if dsn == "" {
			return nil, fmt.Errorf("relational backend postgres requires DSN")
		}
		pool, err := newPgPool(ctx, dsn)
		if err != nil {
			return nil, fmt.Errorf("connect postgres (relational): %w", err)
		}
		return NewPostgres(pool), nil
	default:
		return nil, fmt.Errorf("unsupported relational backend: %s", cfg.Relational.Backend)
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func newPgPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pcfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	pcfg.MaxConns = 8
	pcfg.MinConns = 0
	pcfg.MaxConnLifetime = time.Hour
	pcfg.MaxConnIdleTime = 5 * time.Minute
	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, err
	}
	cctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := pool.Ping(cctx); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}
