package cache

import (
	"context"
	"sync"
	"time"

	"github.com/amirasaad/ecclesia/pkg/cache"
)

// MemoryCache keeps values in process memory. Expired entries are dropped
// on read.
type MemoryCache[T any] struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry[T]
	now     func() time.Time
}

type cacheEntry[T any] struct {
	value     *T
	expiresAt time.Time
}

// NewMemoryCache creates a MemoryCache.
func NewMemoryCache[T any]() *MemoryCache[T] {
	return &MemoryCache[T]{entries: make(map[string]cacheEntry[T]), now: time.Now}
}

func (c *MemoryCache[T]) Get(_ context.Context, key string) (*T, error) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	if !c.now().Before(entry.expiresAt) {
		c.mu.Lock()
		delete(c.entries, key)
		c.mu.Unlock()
		return nil, nil
	}
	return entry.value, nil
}

func (c *MemoryCache[T]) Set(_ context.Context, key string, v *T, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cacheEntry[T]{value: v, expiresAt: c.now().Add(ttl)}
	return nil
}

func (c *MemoryCache[T]) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
	return nil
}

var _ cache.Cache[struct{}] = (*MemoryCache[struct{}])(nil)
