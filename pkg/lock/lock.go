// Package lock declares the distributed lock used to keep one scheduler
// pass running at a time across replicas.
package lock

import (
	"context"
	"time"
)

// Lease is a held lock. Release is safe to call after the TTL expired; it
// never deletes a lock taken over by another owner.
type Lease interface {
	Key() string
	Release(ctx context.Context) error
}

// Locker acquires leases. A contested key returns (nil, false, nil); an
// unreachable store returns a domain.InfrastructureError.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (Lease, bool, error)
}
