package blacklist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/banking/fraud-service/internal/domain"
)

// Cache is the hot lookup layer in front of the persistent store.
// Point checks hit Redis first; misses fall through to Postgres.
type Cache interface {
	GetEntry(ctx context.Context, entityType domain.EntityType, normValue string) (*domain.BlacklistEntry, bool, error)
	SetEntry(ctx context.Context, entry *domain.BlacklistEntry) error
	SetNegative(ctx context.Context, entityType domain.EntityType, normValue string) error
	Invalidate(ctx context.Context, entityType domain.EntityType, normValue string) error
}

// negativeSentinel marks a cached "not blacklisted" lookup
const negativeSentinel = "-"

// RedisCache implements Cache on go-redis
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

var _ Cache = (*RedisCache)(nil)

// NewRedisCache creates a Redis-backed blacklist cache
func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, ttl: ttl}
}

func cacheKey(entityType domain.EntityType, normValue string) string {
	return fmt.Sprintf("bl:%s:%s", entityType, normValue)
}

// GetEntry returns the cached entry for a key. The second return value is
// true when the cache held an answer (positive or negative); callers must
// fall through to the store when it is false.
func (c *RedisCache) GetEntry(ctx context.Context, entityType domain.EntityType, normValue string) (*domain.BlacklistEntry, bool, error) {
	raw, err := c.client.Get(ctx, cacheKey(entityType, normValue)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("blacklist cache get: %w", err)
	}

	if raw == negativeSentinel {
		return nil, true, nil
	}

	var entry domain.BlacklistEntry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		// Corrupt cache value; treat as a miss so the store stays authoritative
		return nil, false, nil
	}
	return &entry, true, nil
}

// SetEntry caches a positive lookup
func (c *RedisCache) SetEntry(ctx context.Context, entry *domain.BlacklistEntry) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("blacklist cache set: %w", err)
	}
	return c.client.Set(ctx, cacheKey(entry.Type, entry.Value), raw, c.ttl).Err()
}

// SetNegative caches a "not blacklisted" lookup
func (c *RedisCache) SetNegative(ctx context.Context, entityType domain.EntityType, normValue string) error {
	return c.client.Set(ctx, cacheKey(entityType, normValue), negativeSentinel, c.ttl).Err()
}

// Invalidate drops the cached value after a mutation
func (c *RedisCache) Invalidate(ctx context.Context, entityType domain.EntityType, normValue string) error {
	return c.client.Del(ctx, cacheKey(entityType, normValue)).Err()
}
