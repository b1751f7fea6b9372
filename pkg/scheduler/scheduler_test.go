package scheduler_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	infralock "github.com/amirasaad/ecclesia/infra/lock"
	"github.com/amirasaad/ecclesia/infra/repository/memory"
	"github.com/amirasaad/ecclesia/pkg/config"
	"github.com/amirasaad/ecclesia/pkg/domain"
	domainnotification "github.com/amirasaad/ecclesia/pkg/domain/notification"
	"github.com/amirasaad/ecclesia/pkg/domain/payer"
	"github.com/amirasaad/ecclesia/pkg/lock"
	"github.com/amirasaad/ecclesia/pkg/notification"
	"github.com/amirasaad/ecclesia/pkg/scheduler"
	"github.com/amirasaad/ecclesia/pkg/service/payment"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

type evaluatorFunc func(ctx context.Context, tenant *payer.Tenant, now time.Time) (notification.Tally, error)

func (f evaluatorFunc) EvaluateTenant(ctx context.Context, tenant *payer.Tenant, now time.Time) (notification.Tally, error) {
	return f(ctx, tenant, now)
}

type sweeps struct {
	cleaned    atomic.Int32
	reconciled atomic.Int32
}

func (s *sweeps) CleanupExpired(context.Context) (int64, error) {
	s.cleaned.Add(1)
	return 3, nil
}

func (s *sweeps) ReconcilePending(context.Context, time.Duration, int) (payment.ReconcileSummary, error) {
	s.reconciled.Add(1)
	return payment.ReconcileSummary{Checked: 2, Applied: 1}, nil
}

type brokenLocker struct{}

func (brokenLocker) Acquire(context.Context, string, time.Duration) (lock.Lease, bool, error) {
	return nil, false, &domain.InfrastructureError{Component: "lock store", Err: errors.New("dial tcp: refused")}
}

func tenants(n int) *memory.Payers {
	p := memory.NewPayers()
	for i := 0; i < n; i++ {
		p.AddTenant(payer.Tenant{ID: uuid.New(), Name: "Igreja", Timezone: "America/Sao_Paulo"})
	}
	return p
}

var cfg = config.Scheduler{
	LockKey:          "scheduler:notifications",
	LockTTL:          time.Minute,
	Concurrency:      2,
	CleanupTokens:    true,
	ReconcilePending: true,
}

func TestRun_AggregatesTenants(t *testing.T) {
	sw := &sweeps{}
	var seen atomic.Int32
	eval := evaluatorFunc(func(_ context.Context, tenant *payer.Tenant, _ time.Time) (notification.Tally, error) {
		seen.Add(1)
		return notification.Tally{Sent: 2, Failed: 1, Deduplicated: 1}, nil
	})
	s := scheduler.New(infralock.NewMemoryLocker(), tenants(3), eval,
		scheduler.Deps{Tokens: sw, Reconciler: sw}, cfg, discard)

	sum, err := s.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, scheduler.StatusExecuted, sum.Status)
	assert.Equal(t, int32(3), seen.Load())
	assert.Equal(t, 6, sum.Sent)
	assert.Equal(t, 3, sum.Failed)
	assert.Equal(t, 3, sum.Deduplicated)
	assert.Equal(t, int64(3), sum.TokensPurged)
	assert.Equal(t, 1, sum.Reconciled)
	assert.Equal(t, int32(1), sw.cleaned.Load())
	assert.Equal(t, int32(1), sw.reconciled.Load())
}

func TestRun_MutualExclusion(t *testing.T) {
	locker := infralock.NewMemoryLocker()
	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	blocking := evaluatorFunc(func(context.Context, *payer.Tenant, time.Time) (notification.Tally, error) {
		once.Do(func() { close(entered) })
		<-release
		return notification.Tally{Sent: 1}, nil
	})
	first := scheduler.New(locker, tenants(1), blocking, scheduler.Deps{}, cfg, discard)
	var calls atomic.Int32
	counting := evaluatorFunc(func(context.Context, *payer.Tenant, time.Time) (notification.Tally, error) {
		calls.Add(1)
		return notification.Tally{}, nil
	})
	second := scheduler.New(locker, tenants(1), counting, scheduler.Deps{}, cfg, discard)

	done := make(chan scheduler.Summary)
	go func() {
		sum, err := first.Run(context.Background())
		assert.NoError(t, err)
		done <- sum
	}()
	<-entered

	sum, err := second.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, scheduler.StatusSkipped, sum.Status)
	assert.NotEmpty(t, sum.Reason)
	assert.Zero(t, calls.Load())

	close(release)
	assert.Equal(t, scheduler.StatusExecuted, (<-done).Status)

	sum, err = second.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, scheduler.StatusExecuted, sum.Status, "lock is released after the pass")
	assert.Equal(t, int32(1), calls.Load())
}

func TestRun_LockStoreDownSkips(t *testing.T) {
	var calls atomic.Int32
	eval := evaluatorFunc(func(context.Context, *payer.Tenant, time.Time) (notification.Tally, error) {
		calls.Add(1)
		return notification.Tally{}, nil
	})
	s := scheduler.New(brokenLocker{}, tenants(1), eval, scheduler.Deps{}, cfg, discard)

	sum, err := s.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, scheduler.StatusSkipped, sum.Status)
	assert.Equal(t, "lock store unavailable", sum.Reason)
	assert.Zero(t, calls.Load())
}

func TestRun_TenantFailureDoesNotStopOthers(t *testing.T) {
	var n atomic.Int32
	eval := evaluatorFunc(func(context.Context, *payer.Tenant, time.Time) (notification.Tally, error) {
		if n.Add(1) == 1 {
			return notification.Tally{}, errors.New("rules: db down")
		}
		return notification.Tally{Sent: 1}, nil
	})
	s := scheduler.New(infralock.NewMemoryLocker(), tenants(3), eval, scheduler.Deps{}, cfg, discard)

	sum, err := s.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, scheduler.StatusExecuted, sum.Status)
	assert.Equal(t, 1, sum.TenantErrors)
	assert.Equal(t, 2, sum.Sent)
}

func TestRun_PurgesOldLogs(t *testing.T) {
	logs := memory.NewNotificationLogs()
	now := time.Date(2024, 6, 7, 8, 0, 0, 0, time.UTC)
	old := &domainnotification.Log{
		ID:       uuid.New(),
		TenantID: uuid.New(),
		UserID:   uuid.New(),
		RuleKey:  "payment_due_reminder:-3",
		Channel:  "email",
		Day:      "2024-01-01",
		SentAt:   now.AddDate(0, -5, 0),
	}
	ok, err := logs.Claim(context.Background(), old)
	require.NoError(t, err)
	require.True(t, ok)

	c := cfg
	c.LogRetention = 90 * 24 * time.Hour
	eval := evaluatorFunc(func(context.Context, *payer.Tenant, time.Time) (notification.Tally, error) {
		return notification.Tally{}, nil
	})
	s := scheduler.New(infralock.NewMemoryLocker(), tenants(1), eval, scheduler.Deps{Logs: logs}, c, discard).
		WithClock(func() time.Time { return now })

	sum, err := s.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), sum.LogsPurged)
	assert.Empty(t, logs.Entries())
}
