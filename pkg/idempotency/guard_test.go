package idempotency_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/amirasaad/ecclesia/infra/repository/memory"
	"github.com/amirasaad/ecclesia/pkg/domain/transaction"
	"github.com/amirasaad/ecclesia/pkg/idempotency"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seed(t *testing.T, store *memory.Transactions, payerID uuid.UUID, amount string, status transaction.Status, createdAt time.Time) *transaction.Transaction {
	t.Helper()
	tx := &transaction.Transaction{
		ID:        uuid.New(),
		PayerID:   payerID,
		TenantID:  uuid.New(),
		Amount:    decimal.RequireFromString(amount),
		Method:    transaction.MethodPix,
		Status:    status,
		Gateway:   "stripe",
		CreatedAt: createdAt,
	}
	require.NoError(t, store.Create(context.Background(), tx))
	return tx
}

func TestCheckDuplicate(t *testing.T) {
	now := time.Date(2024, 6, 7, 12, 0, 0, 0, time.UTC)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	payerID := uuid.New()

	tests := []struct {
		name      string
		status    transaction.Status
		amount    string
		age       time.Duration
		duplicate bool
	}{
		{name: "pending inside window", status: transaction.StatusPending, amount: "50.00", age: time.Minute, duplicate: true},
		{name: "approved inside window", status: transaction.StatusApproved, amount: "50.00", age: 4 * time.Minute, duplicate: true},
		{name: "refused is not open", status: transaction.StatusRefused, amount: "50.00", age: time.Minute},
		{name: "refunded is not open", status: transaction.StatusRefunded, amount: "50.00", age: time.Minute},
		{name: "outside window", status: transaction.StatusPending, amount: "50.00", age: 6 * time.Minute},
		{name: "different amount", status: transaction.StatusPending, amount: "50.01", age: time.Minute},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := memory.NewTransactions()
			existing := seed(t, store, payerID, tt.amount, tt.status, now.Add(-tt.age))
			guard := idempotency.New(store, logger).WithClock(func() time.Time { return now })

			res, err := guard.CheckDuplicate(context.Background(), payerID, decimal.RequireFromString("50.00"), 5*time.Minute)
			require.NoError(t, err)
			assert.Equal(t, tt.duplicate, res.IsDuplicate)
			if tt.duplicate {
				assert.Equal(t, existing.ID, res.Existing.ID)
			} else {
				assert.Nil(t, res.Existing)
			}
		})
	}
}

func TestCheckDuplicate_DefaultWindow(t *testing.T) {
	now := time.Now()
	store := memory.NewTransactions()
	payerID := uuid.New()
	seed(t, store, payerID, "10.00", transaction.StatusPending, now.Add(-4*time.Minute))
	guard := idempotency.New(store, slog.New(slog.NewTextHandler(io.Discard, nil))).
		WithClock(func() time.Time { return now })

	res, err := guard.CheckDuplicate(context.Background(), payerID, decimal.RequireFromString("10"), 0)
	require.NoError(t, err)
	assert.True(t, res.IsDuplicate)
}

// Two submissions within the window produce at most one open transaction.
func TestCheckDuplicate_SecondSubmissionIsCaught(t *testing.T) {
	now := time.Now()
	store := memory.NewTransactions()
	payerID := uuid.New()
	guard := idempotency.New(store, slog.New(slog.NewTextHandler(io.Discard, nil))).
		WithClock(func() time.Time { return now })
	amount := decimal.RequireFromString("25.00")

	first, err := guard.CheckDuplicate(context.Background(), payerID, amount, 5*time.Minute)
	require.NoError(t, err)
	require.False(t, first.IsDuplicate)
	created := seed(t, store, payerID, "25.00", transaction.StatusPending, now)

	second, err := guard.CheckDuplicate(context.Background(), payerID, amount, 5*time.Minute)
	require.NoError(t, err)
	assert.True(t, second.IsDuplicate)
	assert.Equal(t, created.ID, second.Existing.ID)
}
