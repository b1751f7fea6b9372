// Package ratelimit implements a fixed-window limiter that fails open when
// its counter store is unavailable.
package ratelimit

import (
	"context"
	"log/slog"
	"time"

	"github.com/amirasaad/ecclesia/pkg/metrics"
)

// Store counts hits in a fixed window. Increment returns the counter value
// after the hit; the first hit in a window starts the window's expiry.
type Store interface {
	Increment(ctx context.Context, key string, window time.Duration) (int64, error)
}

// Result is the decision for a single hit.
type Result struct {
	Allowed    bool
	Remaining  int
	Limit      int
	FailedOpen bool
}

// Limiter applies limits on top of a Store.
type Limiter struct {
	store  Store
	logger *slog.Logger
}

// New creates a Limiter.
func New(store Store, logger *slog.Logger) *Limiter {
	return &Limiter{store: store, logger: logger.With("service", "ratelimit")}
}

// Check records a hit for key and reports whether it fits in limit per
// window. A store error allows the request with the full quota remaining.
func (l *Limiter) Check(ctx context.Context, key string, limit int, window time.Duration) Result {
	count, err := l.store.Increment(ctx, key, window)
	if err != nil {
		l.logger.Warn("rate limit store unavailable, allowing request", "key", key, "error", err)
		metrics.StoreFailOpen("ratelimit")
		return Result{Allowed: true, Remaining: limit, Limit: limit, FailedOpen: true}
	}
	remaining := limit - int(count)
	if remaining < 0 {
		remaining = 0
	}
	return Result{Allowed: count <= int64(limit), Remaining: remaining, Limit: limit}
}
