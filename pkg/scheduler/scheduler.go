// Package scheduler runs the periodic notification pass under a
// distributed lock so that only one replica evaluates rules at a time.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/amirasaad/ecclesia/pkg/config"
	"github.com/amirasaad/ecclesia/pkg/domain/payer"
	"github.com/amirasaad/ecclesia/pkg/lock"
	"github.com/amirasaad/ecclesia/pkg/metrics"
	"github.com/amirasaad/ecclesia/pkg/notification"
	"github.com/amirasaad/ecclesia/pkg/repository"
	"github.com/amirasaad/ecclesia/pkg/service/payment"
	"golang.org/x/sync/errgroup"
)

// Status of a pass.
type Status string

const (
	StatusExecuted Status = "executed"
	StatusSkipped  Status = "skipped"
)

// Summary reports one pass. Reason is set when the pass was skipped.
type Summary struct {
	Status       Status    `json:"status"`
	At           time.Time `json:"timestamp"`
	Sent         int       `json:"sent"`
	Failed       int       `json:"failed"`
	Skipped      int       `json:"skipped"`
	Deduplicated int       `json:"deduplicated"`
	Reason       string    `json:"reason,omitempty"`
	TenantErrors int       `json:"tenant_errors,omitempty"`
	TokensPurged int64     `json:"tokens_purged,omitempty"`
	LogsPurged   int64     `json:"logs_purged,omitempty"`
	Reconciled   int       `json:"reconciled,omitempty"`
}

// Evaluator evaluates every active rule of one tenant.
type Evaluator interface {
	EvaluateTenant(ctx context.Context, tenant *payer.Tenant, now time.Time) (notification.Tally, error)
}

// TokenCleaner purges expired payment tokens.
type TokenCleaner interface {
	CleanupExpired(ctx context.Context) (int64, error)
}

// Reconciler polls gateways for transactions stuck in pending.
type Reconciler interface {
	ReconcilePending(ctx context.Context, olderThan time.Duration, limit int) (payment.ReconcileSummary, error)
}

// Scheduler runs passes.
type Scheduler struct {
	locker     lock.Locker
	tenants    repository.PayerRepository
	evaluator  Evaluator
	tokens     TokenCleaner
	reconciler Reconciler
	logs       repository.NotificationLogRepository
	cfg        config.Scheduler
	logger     *slog.Logger
	now        func() time.Time
}

// Deps groups the optional sweeps run after notifications.
type Deps struct {
	Tokens     TokenCleaner
	Reconciler Reconciler
	Logs       repository.NotificationLogRepository
}

// New creates a Scheduler. Nil entries in deps disable their sweep.
func New(
	locker lock.Locker,
	tenants repository.PayerRepository,
	evaluator Evaluator,
	deps Deps,
	cfg config.Scheduler,
	logger *slog.Logger,
) *Scheduler {
	if cfg.LockKey == "" {
		cfg.LockKey = "scheduler:notifications"
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 2 * time.Minute
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	return &Scheduler{
		locker:     locker,
		tenants:    tenants,
		evaluator:  evaluator,
		tokens:     deps.Tokens,
		reconciler: deps.Reconciler,
		logs:       deps.Logs,
		cfg:        cfg,
		logger:     logger.With("service", "scheduler"),
		now:        time.Now,
	}
}

// WithClock overrides the time source.
func (s *Scheduler) WithClock(now func() time.Time) *Scheduler {
	s.now = now
	return s
}

// Run performs one pass. A held lock or an unreachable lock store skips the
// pass without an error; only a failure to list tenants is returned.
func (s *Scheduler) Run(ctx context.Context) (Summary, error) {
	at := s.now()
	sum := Summary{At: at}

	lease, ok, err := s.locker.Acquire(ctx, s.cfg.LockKey, s.cfg.LockTTL)
	if err != nil {
		s.logger.Warn("lock store unavailable, skipping pass", "error", err)
		metrics.StoreFailOpen("lock")
		return s.skipped(sum, "lock store unavailable"), nil
	}
	if !ok {
		s.logger.Info("another pass holds the lock, skipping")
		return s.skipped(sum, "lock held by another runner"), nil
	}
	defer func() {
		// The pass context may already be cancelled.
		if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
			s.logger.Error("failed to release scheduler lock", "error", err)
		}
	}()

	tenants, err := s.tenants.ListTenants(ctx)
	if err != nil {
		metrics.SchedulerRun("error")
		return sum, err
	}

	var (
		mu    sync.Mutex
		tally notification.Tally
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)
	for _, t := range tenants {
		g.Go(func() error {
			tt, err := s.evaluator.EvaluateTenant(gctx, t, at)
			mu.Lock()
			defer mu.Unlock()
			tally.Merge(tt)
			if err != nil {
				// One tenant failing does not stop the others.
				sum.TenantErrors++
				s.logger.Error("tenant evaluation failed", "tenant_id", t.ID, "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()

	sum.Sent = tally.Sent
	sum.Failed = tally.Failed
	sum.Skipped = tally.Skipped
	sum.Deduplicated = tally.Deduplicated
	s.sweep(ctx, &sum)

	sum.Status = StatusExecuted
	metrics.SchedulerRun(string(StatusExecuted))
	s.logger.Info("scheduler pass finished",
		"tenants", len(tenants),
		"sent", sum.Sent,
		"failed", sum.Failed,
		"deduplicated", sum.Deduplicated,
		"duration", s.now().Sub(at),
	)
	return sum, nil
}

func (s *Scheduler) sweep(ctx context.Context, sum *Summary) {
	if s.tokens != nil && s.cfg.CleanupTokens {
		n, err := s.tokens.CleanupExpired(ctx)
		if err != nil {
			s.logger.Error("token cleanup failed", "error", err)
		}
		sum.TokensPurged = n
	}
	if s.reconciler != nil && s.cfg.ReconcilePending {
		rs, err := s.reconciler.ReconcilePending(ctx, s.cfg.ReconcileOlder, s.cfg.ReconcileLimit)
		if err != nil {
			s.logger.Error("pending reconciliation failed", "error", err)
		}
		sum.Reconciled = rs.Applied
	}
	if s.logs != nil && s.cfg.LogRetention > 0 {
		n, err := s.logs.DeleteBefore(ctx, sum.At.Add(-s.cfg.LogRetention))
		if err != nil {
			s.logger.Error("notification log purge failed", "error", err)
		}
		sum.LogsPurged = n
	}
}

func (s *Scheduler) skipped(sum Summary, reason string) Summary {
	sum.Status = StatusSkipped
	sum.Reason = reason
	metrics.SchedulerRun(string(StatusSkipped))
	return sum
}
