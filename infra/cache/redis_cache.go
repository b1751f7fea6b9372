// Package cache implements pkg/cache on Redis and in memory.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/amirasaad/ecclesia/pkg/cache"
	"github.com/redis/go-redis/v9"
)

// RedisCache stores JSON-encoded values in Redis.
type RedisCache[T any] struct {
	client redis.UniversalClient
	prefix string
	logger *slog.Logger
}

// NewRedisCache creates a RedisCache. Keys are stored as prefix+key.
func NewRedisCache[T any](client redis.UniversalClient, prefix string, logger *slog.Logger) *RedisCache[T] {
	return &RedisCache[T]{client: client, prefix: prefix, logger: logger}
}

func (r *RedisCache[T]) key(key string) string {
	return r.prefix + key
}

func (r *RedisCache[T]) Get(ctx context.Context, key string) (*T, error) {
	val, err := r.client.Get(ctx, r.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		r.logger.Debug("Redis cache miss", "key", key)
		return nil, nil // cache miss
	}
	if err != nil {
		r.logger.Error("Redis cache get error", "key", key, "error", err)
		return nil, err
	}
	var v T
	if err := json.Unmarshal(val, &v); err != nil {
		r.logger.Error("Redis cache unmarshal error", "key", key, "error", err)
		return nil, err
	}
	r.logger.Debug("Redis cache hit", "key", key)
	return &v, nil
}

func (r *RedisCache[T]) Set(ctx context.Context, key string, v *T, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		r.logger.Error("Redis cache marshal error", "key", key, "error", err)
		return err
	}
	if err := r.client.Set(ctx, r.key(key), data, ttl).Err(); err != nil {
		r.logger.Error("Redis cache set error", "key", key, "error", err)
		return err
	}
	r.logger.Debug("Redis cache set", "key", key, "ttl", ttl)
	return nil
}

func (r *RedisCache[T]) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.key(key)).Err(); err != nil {
		r.logger.Error("Redis cache delete error", "key", key, "error", err)
		return err
	}
	return nil
}

var _ cache.Cache[struct{}] = (*RedisCache[struct{}])(nil)
