package store

import (
	"context"
	"encoding/hex"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// CachedStore wraps a primary KV (PostgreSQL) with a Redis read-through
// cache. Writes go to the primary store and invalidate the cache; reads
// check Redis first then fall back to the primary.
type CachedStore struct {
	primary KV
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary KV, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) Apply(ctx context.Context, writes []Write) error {
	if err := s.primary.Apply(ctx, writes); err != nil {
		return err
	}
	if len(writes) == 0 {
		return nil
	}
	keys := make([]string, 0, len(writes))
	for _, w := range writes {
		keys = append(keys, cacheKey(w.Key))
	}
	// Invalidate; next read will re-populate.
	s.rdb.Del(ctx, keys...)
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) Get(ctx context.Context, key []byte) ([]byte, error) {
	data, err := s.rdb.Get(ctx, cacheKey(key)).Bytes()
	if err == nil {
		return data, nil
	}
	if !errors.Is(err, redis.Nil) {
		// Cache unavailable; serve from primary.
		return s.primary.Get(ctx, key)
	}

	value, err := s.primary.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	s.rdb.Set(ctx, cacheKey(key), value, s.ttl)
	return value, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) Scan(ctx context.Context, start, end []byte, order Order) ([]Pair, error) {
	return s.primary.Scan(ctx, start, end, order)
}

func cacheKey(key []byte) string { return "kv:" + hex.EncodeToString(key) }
