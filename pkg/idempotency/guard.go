// Package idempotency detects client retries of a charge that is already in
// flight or settled.
//
// The check is a heuristic: two genuinely distinct contributions of the
// same amount by the same payer inside the window are treated as one. The
// charge flow narrows the race by writing the pending row before calling
// the gateway, so a retry that arrives while the first call is outstanding
// still finds a row.
package idempotency

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/amirasaad/ecclesia/pkg/domain"
	"github.com/amirasaad/ecclesia/pkg/domain/transaction"
	"github.com/amirasaad/ecclesia/pkg/repository"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DefaultWindow is used when a caller passes a non-positive window.
const DefaultWindow = 5 * time.Minute

// Result is the outcome of CheckDuplicate.
type Result struct {
	IsDuplicate bool
	Existing    *transaction.Transaction
}

// Guard answers whether a new charge repeats an open one.
type Guard struct {
	transactions repository.TransactionRepository
	logger       *slog.Logger
	now          func() time.Time
}

// New creates a Guard reading from the transaction store.
func New(transactions repository.TransactionRepository, logger *slog.Logger) *Guard {
	return &Guard{
		transactions: transactions,
		logger:       logger.With("service", "idempotency"),
		now:          time.Now,
	}
}

// WithClock overrides the time source.
func (g *Guard) WithClock(now func() time.Time) *Guard {
	g.now = now
	return g
}

// CheckDuplicate looks for a pending or approved transaction for payer with
// exactly amount, created inside window.
func (g *Guard) CheckDuplicate(
	ctx context.Context,
	payerID uuid.UUID,
	amount decimal.Decimal,
	window time.Duration,
) (Result, error) {
	if window <= 0 {
		window = DefaultWindow
	}
	since := g.now().Add(-window)
	existing, err := g.transactions.FindOpen(ctx, payerID, amount, since)
	if errors.Is(err, domain.ErrNotFound) {
		return Result{}, nil
	}
	if err != nil {
		return Result{}, err
	}
	g.logger.InfoContext(ctx, "duplicate charge detected",
		"payer_id", payerID,
		"amount", amount.StringFixed(2),
		"existing_id", existing.ID,
		"existing_status", existing.Status,
	)
	return Result{IsDuplicate: true, Existing: existing}, nil
}
