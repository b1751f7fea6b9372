package lock

import (
	"context"
	"sync"
	"time"

	"github.com/amirasaad/ecclesia/pkg/lock"
	"github.com/google/uuid"
)

// MemoryLocker is a single-process Locker for development and tests.
type MemoryLocker struct {
	mu    sync.Mutex
	held  map[string]memoryEntry
	clock func() time.Time
}

type memoryEntry struct {
	owner     string
	expiresAt time.Time
}

// NewMemoryLocker creates a MemoryLocker.
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{held: make(map[string]memoryEntry), clock: time.Now}
}

func (m *MemoryLocker) Acquire(_ context.Context, key string, ttl time.Duration) (lock.Lease, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.clock()
	if e, ok := m.held[key]; ok && now.Before(e.expiresAt) {
		return nil, false, nil
	}
	owner := uuid.NewString()
	m.held[key] = memoryEntry{owner: owner, expiresAt: now.Add(ttl)}
	return &memoryLease{locker: m, key: key, owner: owner}, true, nil
}

type memoryLease struct {
	locker *MemoryLocker
	key    string
	owner  string
}

func (l *memoryLease) Key() string { return l.key }

func (l *memoryLease) Release(context.Context) error {
	l.locker.mu.Lock()
	defer l.locker.mu.Unlock()
	if e, ok := l.locker.held[l.key]; ok && e.owner == l.owner {
		delete(l.locker.held, l.key)
	}
	return nil
}

var _ lock.Locker = (*MemoryLocker)(nil)
