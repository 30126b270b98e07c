package repository

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"syncbridge/internal/core/ports"
)

// Ensure RedisCache implements DedupCache
var _ ports.DedupCache = (*RedisCache)(nil)

// RedisCache is the fast-path duplicate filter in front of the receipt table
type RedisCache struct {
	client redis.Cmdable
}

// NewRedisCache creates a new Redis dedup cache
func NewRedisCache(client redis.Cmdable) *RedisCache {
	return &RedisCache{client: client}
}

// Claim uses SETNX so that exactly one concurrent caller wins the key.
// The value is the claim timestamp for debugging purposes.
func (r *RedisCache) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := r.client.SetNX(ctx, key, time.Now().Unix(), ttl).Result()
	if err != nil {
		slog.Error("Failed to claim dedup key",
			"error", err,
			"key", key,
		)
		return false, fmt.Errorf("claim dedup key: %w", err)
	}
	if !ok {
		slog.Debug("Dedup key already claimed", "key", key)
	}
	return ok, nil
}

// Release deletes a claim so a redelivery is admitted
func (r *RedisCache) Release(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("release dedup key: %w", err)
	}
	return nil
}

// Ping checks Redis connectivity
func (r *RedisCache) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
