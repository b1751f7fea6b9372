// Package cache declares a small typed cache used for external lookups.
package cache

import (
	"context"
	"time"
)

// Cache stores values of T by key. Get returns (nil, nil) on a miss.
type Cache[T any] interface {
	Get(ctx context.Context, key string) (*T, error)
	Set(ctx context.Context, key string, v *T, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}
