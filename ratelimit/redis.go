package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore is the distributed counter backend. It exposes the identical
// Store contract backed by atomic INCR with expiry, so multiple API nodes
// share one window per identifier.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore wraps an existing Redis client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// Increment atomically bumps the counter, setting the window expiry only
// when the key is first created.
func (s *RedisStore) Increment(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	pipe := s.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.ExpireNX(ctx, key, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("ratelimit: redis incr: %w", err)
	}
	return incr.Val(), nil
}

// Get returns the current count, 0 when the key is absent.
func (s *RedisStore) Get(ctx context.Context, key string) (int64, error) {
	count, err := s.client.Get(ctx, key).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("ratelimit: redis get: %w", err)
	}
	return count, nil
}

// Sweep is a no-op; Redis expires window keys natively.
func (s *RedisStore) Sweep(ctx context.Context) error {
	return nil
}

var _ Store = (*RedisStore)(nil)
