// Package lock implements pkg/lock on Redis and in process memory.
package lock

import (
	"context"
	"log/slog"
	"time"

	"github.com/amirasaad/ecclesia/pkg/domain"
	"github.com/amirasaad/ecclesia/pkg/lock"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the key only while it still holds our owner token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker takes locks with SET NX PX.
type RedisLocker struct {
	client redis.UniversalClient
	prefix string
	logger *slog.Logger
}

// NewRedisLocker creates a RedisLocker. Keys are stored as prefix+"lock:"+key.
func NewRedisLocker(client redis.UniversalClient, prefix string, logger *slog.Logger) *RedisLocker {
	return &RedisLocker{client: client, prefix: prefix, logger: logger.With("locker", "redis")}
}

func (l *RedisLocker) key(key string) string {
	return l.prefix + "lock:" + key
}

// Acquire tries once; it never waits for the holder.
func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (lock.Lease, bool, error) {
	owner := uuid.NewString()
	ok, err := l.client.SetNX(ctx, l.key(key), owner, ttl).Result()
	if err != nil {
		l.logger.Error("Redis lock acquire error", "key", key, "error", err)
		return nil, false, &domain.InfrastructureError{Component: "lock store", Err: err}
	}
	if !ok {
		l.logger.Debug("Redis lock contested", "key", key)
		return nil, false, nil
	}
	l.logger.Debug("Redis lock acquired", "key", key, "ttl", ttl)
	return &redisLease{locker: l, key: key, owner: owner}, true, nil
}

type redisLease struct {
	locker *RedisLocker
	key    string
	owner  string
}

func (r *redisLease) Key() string { return r.key }

func (r *redisLease) Release(ctx context.Context) error {
	n, err := releaseScript.Run(ctx, r.locker.client, []string{r.locker.key(r.key)}, r.owner).Int()
	if err != nil {
		r.locker.logger.Error("Redis lock release error", "key", r.key, "error", err)
		return &domain.InfrastructureError{Component: "lock store", Err: err}
	}
	if n == 0 {
		r.locker.logger.Warn("Redis lock expired before release", "key", r.key)
	}
	return nil
}

var _ lock.Locker = (*RedisLocker)(nil)
