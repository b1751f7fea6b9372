// Package ratelimit provides pkg/ratelimit stores backed by Redis and by
// process memory.
package ratelimit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/amirasaad/ecclesia/pkg/domain"
	"github.com/amirasaad/ecclesia/pkg/ratelimit"
	"github.com/redis/go-redis/v9"
)

// incrScript counts a hit and sets the window on any key left without a
// TTL, so a key can never outlive its window.
var incrScript = redis.NewScript(`
local n = redis.call("INCR", KEYS[1])
if redis.call("PTTL", KEYS[1]) < 0 then
	redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return n
`)

// RedisStore is a fixed-window counter. INCR and PEXPIRE run in one script.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	logger *slog.Logger
}

// NewRedisStore creates a RedisStore. Keys are stored as prefix+"rl:"+key.
func NewRedisStore(client redis.UniversalClient, prefix string, logger *slog.Logger) *RedisStore {
	return &RedisStore{client: client, prefix: prefix, logger: logger.With("store", "redis")}
}

func (s *RedisStore) Increment(ctx context.Context, key string, window time.Duration) (int64, error) {
	k := s.prefix + "rl:" + key
	n, err := incrScript.Run(ctx, s.client, []string{k}, window.Milliseconds()).Int64()
	if err != nil {
		s.logger.Error("Redis rate limit error", "key", k, "error", err)
		return 0, &domain.InfrastructureError{Component: "rate limit store", Err: err}
	}
	return n, nil
}

// MemoryStore keeps windows in process memory.
type MemoryStore struct {
	mu      sync.Mutex
	windows map[string]memoryWindow
	clock   func() time.Time
}

type memoryWindow struct {
	count     int64
	expiresAt time.Time
}

// NewMemoryStore creates a MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{windows: make(map[string]memoryWindow), clock: time.Now}
}

// WithClock overrides the time source.
func (s *MemoryStore) WithClock(clock func() time.Time) *MemoryStore {
	s.clock = clock
	return s
}

func (s *MemoryStore) Increment(_ context.Context, key string, window time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock()
	w, ok := s.windows[key]
	if !ok || !now.Before(w.expiresAt) {
		w = memoryWindow{expiresAt: now.Add(window)}
	}
	w.count++
	s.windows[key] = w
	return w.count, nil
}

var (
	_ ratelimit.Store = (*RedisStore)(nil)
	_ ratelimit.Store = (*MemoryStore)(nil)
)
