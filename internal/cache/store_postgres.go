package cache

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"thoth/internal/thothmodel"
)

// postgresStore persists cache entries in a single table, following
// the same pgxpool + ON CONFLICT upsert idiom used throughout
// internal/persistence/databases.
type postgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore constructs a Store backed by Postgres, creating its
// table if missing.
func NewPostgresStore(ctx context.Context, pool *pgxpool.Pool) (Store, error) {
	s := &postgresStore{pool: pool}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *postgresStore) ensureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS cache_entries (
	kind        TEXT NOT NULL,
	fingerprint TEXT NOT NULL,
	value       BYTEA NOT NULL,
	size        INT NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL,
	expires_at  TIMESTAMPTZ,
	PRIMARY KEY (kind, fingerprint)
)`)
	return err
}

func (s *postgresStore) Get(ctx context.Context, kind, fingerprint string) (thothmodel.CacheEntry, bool, error) {
	row := s.pool.QueryRow(ctx, `
SELECT value, size, created_at, COALESCE(expires_at, 'epoch'::timestamptz)
FROM cache_entries WHERE kind=$1 AND fingerprint=$2`, kind, fingerprint)

	var e thothmodel.CacheEntry
	var expires time.Time
	if err := row.Scan(&e.Value, &e.Size, &e.CreatedAt, &expires); err != nil {
		return thothmodel.CacheEntry{}, false, nil // storage errors on read degrade to a miss
	}
	e.Kind, e.Fingerprint = kind, fingerprint
	if !expires.IsZero() && expires.Unix() != 0 {
		e.ExpiresAt = expires
	}
	return e, true, nil
}

func (s *postgresStore) Put(ctx context.Context, entry thothmodel.CacheEntry) error {
	var expires any
	if !entry.ExpiresAt.IsZero() {
		expires = entry.ExpiresAt
	}
	_, err := s.pool.Exec(ctx, `
INSERT INTO cache_entries (kind, fingerprint, value, size, created_at, expires_at)
VALUES ($1,$2,$3,$4,$5,$6)
ON CONFLICT (kind, fingerprint) DO UPDATE SET
	value=EXCLUDED.value, size=EXCLUDED.size, created_at=EXCLUDED.created_at, expires_at=EXCLUDED.expires_at`,
		entry.Kind, entry.Fingerprint, entry.Value, entry.Size, entry.CreatedAt, expires)
	return err
}

func (s *postgresStore) Delete(ctx context.Context, kind, fingerprint string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM cache_entries WHERE kind=$1 AND fingerprint=$2`, kind, fingerprint)
	return err
}

func (s *postgresStore) DeleteKind(ctx context.Context, kind string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM cache_entries WHERE kind=$1`, kind)
	return err
}
