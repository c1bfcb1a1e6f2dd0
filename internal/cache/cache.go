// Package cache is the content cache: the single source of truth for
// expensive, reproducible artifacts (OCR output, analyses, citation
// extractions, external API responses). It layers an in-process
// memory tier over a pluggable durable Store and deduplicates
// concurrent builds with golang.org/x/sync/singleflight.
package cache

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"thoth/internal/logging"
	"thoth/internal/thothmodel"
)

// Store is the durable tier behind the memory front. Implementations:
// memoryStore (tests), postgresStore (jackc/pgx/v5/pgxpool), and
// redisStore (redis/go-redis/v9).
type Store interface {
	Get(ctx context.Context, kind, fingerprint string) (thothmodel.CacheEntry, bool, error)
	Put(ctx context.Context, entry thothmodel.CacheEntry) error
	Delete(ctx context.Context, kind, fingerprint string) error
	DeleteKind(ctx context.Context, kind string) error
}

// BuildFunc produces an artifact for a cache miss.
type BuildFunc func(ctx context.Context) ([]byte, error)

// Cache fronts the durable tier with an in-process memory tier.
type Cache struct {
	store Store
	group singleflight.Group

	mu  sync.RWMutex
	mem map[string]thothmodel.CacheEntry
}

// New constructs a Cache fronting the given durable Store with an
// in-process memory tier.
func New(store Store) *Cache {
	return &Cache{store: store, mem: make(map[string]thothmodel.CacheEntry)}
}

func key(kind, fingerprint string) string { return kind + "/" + fingerprint }

// Get returns the cached artifact for (kind, fingerprint), or ok=false
// on a miss (including an expired entry or a degraded storage error).
func (c *Cache) Get(ctx context.Context, kind, fingerprint string) ([]byte, bool) {
	k := key(kind, fingerprint)

	c.mu.RLock()
	if e, ok := c.mem[k]; ok {
		c.mu.RUnlock()
		if e.Expired(time.Now()) {
			return nil, false
		}
		return e.Value, true
	}
	c.mu.RUnlock()

	entry, ok, err := c.store.Get(ctx, kind, fingerprint)
	if err != nil || !ok {
		return nil, false
	}
	if entry.Expired(time.Now()) {
		return nil, false
	}
	c.mu.Lock()
	c.mem[k] = entry
	c.mu.Unlock()
	return entry.Value, true
}

// Put stores an artifact with the given ttl (zero means no expiry; a
// negative ttl stores an entry that is already expired).
// Storage errors are non-fatal: the memory tier still holds the value
// so the caller's freshly built artifact is usable immediately.
func (c *Cache) Put(ctx context.Context, kind, fingerprint string, value []byte, ttl time.Duration) {
	now := time.Now()
	entry := thothmodel.CacheEntry{
		Kind:        kind,
		Fingerprint: fingerprint,
		Value:       value,
		Size:        len(value),
		CreatedAt:   now,
	}
	if ttl != 0 {
		entry.ExpiresAt = now.Add(ttl)
	}

	c.mu.Lock()
	c.mem[key(kind, fingerprint)] = entry
	c.mu.Unlock()

	if err := c.store.Put(ctx, entry); err != nil {
		// logged, not fatal: the memory tier already holds the entry
		logging.Log.WithError(err).WithField("kind", kind).Warn("cache: durable put failed")
	}
}

// Invalidate removes one cache entry.
func (c *Cache) Invalidate(ctx context.Context, kind, fingerprint string) {
	c.mu.Lock()
	delete(c.mem, key(kind, fingerprint))
	c.mu.Unlock()
	_ = c.store.Delete(ctx, kind, fingerprint)
}

// InvalidateKind removes every entry of a given kind.
func (c *Cache) InvalidateKind(ctx context.Context, kind string) {
	c.mu.Lock()
	for k := range c.mem {
		if len(k) > len(kind) && k[:len(kind)+1] == kind+"/" {
			delete(c.mem, k)
		}
	}
	c.mu.Unlock()
	_ = c.store.DeleteKind(ctx, kind)
}

// Singleflight guarantees at-most-one concurrent build per (kind,
// fingerprint): concurrent callers await the same result, and a build
// failure is never cached.
func (c *Cache) Singleflight(ctx context.Context, kind, fingerprint string, ttl time.Duration, build BuildFunc) ([]byte, error) {
	if v, ok := c.Get(ctx, kind, fingerprint); ok {
		return v, nil
	}

	v, err, _ := c.group.Do(key(kind, fingerprint), func() (any, error) {
		// Re-check after winning the singleflight race in case another
		// caller populated the cache between our miss and acquiring it.
		if v, ok := c.Get(ctx, kind, fingerprint); ok {
			return v, nil
		}
		built, err := build(ctx)
		if err != nil {
			return nil, err
		}
		c.Put(ctx, kind, fingerprint, built, ttl)
		return built, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}
