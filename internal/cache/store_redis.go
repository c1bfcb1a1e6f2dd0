package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"thoth/internal/thothmodel"
)

// redisStore persists cache entries in Redis, using the key's native
// TTL for expiry (SETEX) rather than re-checking ExpiresAt on read —
// a shared, fast, TTL-native durable tier for deployments that would
// rather not round-trip to Postgres for ephemeral artifacts.
type redisStore struct {
	client *redis.Client
	prefix string
}

// redisRecord is the JSON envelope stored under each key; Redis
// already expires the key itself, but CreatedAt/ExpiresAt travel with
// it so Get can still populate a full thothmodel.CacheEntry.
type redisRecord struct {
	Value     []byte    `json:"value"`
	Size      int       `json:"size"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// NewRedisStore constructs a Store backed by Redis.
func NewRedisStore(client *redis.Client) Store {
	return &redisStore{client: client, prefix: "thoth:cache:"}
}

func (s *redisStore) redisKey(kind, fingerprint string) string {
	return s.prefix + key(kind, fingerprint)
}

func (s *redisStore) Get(ctx context.Context, kind, fingerprint string) (thothmodel.CacheEntry, bool, error) {
	raw, err := s.client.Get(ctx, s.redisKey(kind, fingerprint)).Bytes()
	if errors.Is(err, redis.Nil) {
		return thothmodel.CacheEntry{}, false, nil
	}
	if err != nil {
		return thothmodel.CacheEntry{}, false, nil // storage errors on read degrade to a miss
	}
	var rec redisRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return thothmodel.CacheEntry{}, false, nil
	}
	return thothmodel.CacheEntry{
		Kind: kind, Fingerprint: fingerprint,
		Value: rec.Value, Size: rec.Size,
		CreatedAt: rec.CreatedAt, ExpiresAt: rec.ExpiresAt,
	}, true, nil
}

func (s *redisStore) Put(ctx context.Context, entry thothmodel.CacheEntry) error {
	rec := redisRecord{Value: entry.Value, Size: entry.Size, CreatedAt: entry.CreatedAt, ExpiresAt: entry.ExpiresAt}
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	var ttl time.Duration
	if !entry.ExpiresAt.IsZero() {
		ttl = time.Until(entry.ExpiresAt)
		if ttl <= 0 {
			return nil // already expired, nothing to store
		}
	}
	return s.client.Set(ctx, s.redisKey(entry.Kind, entry.Fingerprint), raw, ttl).Err()
}

func (s *redisStore) Delete(ctx context.Context, kind, fingerprint string) error {
	return s.client.Del(ctx, s.redisKey(kind, fingerprint)).Err()
}

func (s *redisStore) DeleteKind(ctx context.Context, kind string) error {
	pattern := s.prefix + kind + "/*"
	iter := s.client.Scan(ctx, 0, pattern, 0).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return s.client.Del(ctx, keys...).Err()
}
