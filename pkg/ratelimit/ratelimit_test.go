package ratelimit_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/amirasaad/ecclesia/pkg/ratelimit"
	"github.com/stretchr/testify/assert"
)

type countingStore struct {
	counts map[string]int64
	err    error
}

func (s *countingStore) Increment(_ context.Context, key string, _ time.Duration) (int64, error) {
	if s.err != nil {
		return 0, s.err
	}
	s.counts[key]++
	return s.counts[key], nil
}

func newLimiter(store ratelimit.Store) *ratelimit.Limiter {
	return ratelimit.New(store, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestLimiter_Check(t *testing.T) {
	l := newLimiter(&countingStore{counts: map[string]int64{}})
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		res := l.Check(ctx, "ip:10.0.0.1", 3, time.Minute)
		assert.True(t, res.Allowed, "hit %d", i)
		assert.Equal(t, 3-i, res.Remaining)
	}
	res := l.Check(ctx, "ip:10.0.0.1", 3, time.Minute)
	assert.False(t, res.Allowed)
	assert.Equal(t, 0, res.Remaining)

	other := l.Check(ctx, "ip:10.0.0.2", 3, time.Minute)
	assert.True(t, other.Allowed, "keys are counted separately")
}

func TestLimiter_FailsOpen(t *testing.T) {
	l := newLimiter(&countingStore{err: errors.New("connection refused")})

	res := l.Check(context.Background(), "ip:10.0.0.1", 5, time.Minute)
	assert.True(t, res.Allowed)
	assert.True(t, res.FailedOpen)
	assert.Equal(t, 5, res.Remaining)
}
