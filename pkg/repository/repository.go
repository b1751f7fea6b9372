// Package repository declares the storage ports used by the engine. Every
// implementation maps a missing row to domain.ErrNotFound.
package repository

import (
	"context"
	"time"

	"github.com/amirasaad/ecclesia/pkg/domain/notification"
	"github.com/amirasaad/ecclesia/pkg/domain/payer"
	"github.com/amirasaad/ecclesia/pkg/domain/token"
	"github.com/amirasaad/ecclesia/pkg/domain/transaction"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TransactionPatch lists optional columns written together with a status
// change. Nil fields are left untouched.
type TransactionPatch struct {
	ProviderTransactionID *string
	RefundReason          *string
	RefundAmount          *decimal.Decimal
	ManualRefundPending   *bool
}

// TransactionRepository is the transaction store. Status is written only
// through CompareAndSetStatus and MarkFraud.
type TransactionRepository interface {
	Create(ctx context.Context, tx *transaction.Transaction) error
	Get(ctx context.Context, id uuid.UUID) (*transaction.Transaction, error)
	GetByProviderID(ctx context.Context, gateway, providerID string) (*transaction.Transaction, error)

	// FindOpen returns the most recent pending or approved transaction for
	// payer and exact amount created at or after since.
	FindOpen(
		ctx context.Context,
		payerID uuid.UUID,
		amount decimal.Decimal,
		since time.Time,
	) (*transaction.Transaction, error)

	// SetProviderID records the gateway identifier without touching status.
	SetProviderID(ctx context.Context, id uuid.UUID, providerID string) error

	// CompareAndSetStatus moves id from one status to another only if the
	// stored status still equals from. It reports whether a row changed.
	CompareAndSetStatus(
		ctx context.Context,
		id uuid.UUID,
		from, to transaction.Status,
		patch TransactionPatch,
	) (bool, error)

	// MarkFraud records the fraud marker and forces status to refused.
	MarkFraud(ctx context.Context, id uuid.UUID, fraud transaction.Fraud) error

	ListPending(ctx context.Context, createdBefore time.Time, limit int) ([]*transaction.Transaction, error)
	ListApprovedBetween(
		ctx context.Context,
		tenantID uuid.UUID,
		from, to time.Time,
	) ([]*transaction.Transaction, error)
}

// TokenRepository stores magic-link tokens.
type TokenRepository interface {
	Create(ctx context.Context, t *token.PaymentToken) error
	Get(ctx context.Context, value string) (*token.PaymentToken, error)
	// MarkUsed stamps used_at if it is still empty.
	MarkUsed(ctx context.Context, value string, at time.Time) error
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// PayerRepository reads payers and tenants owned by the platform.
type PayerRepository interface {
	Get(ctx context.Context, id uuid.UUID) (*payer.Payer, error)
	ListActive(ctx context.Context, tenantID uuid.UUID) ([]*payer.Payer, error)
	GetTenant(ctx context.Context, id uuid.UUID) (*payer.Tenant, error)
	ListTenants(ctx context.Context) ([]*payer.Tenant, error)
}

// RuleRepository stores notification rules.
type RuleRepository interface {
	Create(ctx context.Context, r *notification.Rule) error
	Update(ctx context.Context, r *notification.Rule) error
	Delete(ctx context.Context, tenantID, id uuid.UUID) error
	Get(ctx context.Context, tenantID, id uuid.UUID) (*notification.Rule, error)
	List(ctx context.Context, tenantID uuid.UUID) ([]*notification.Rule, error)
	ListActive(ctx context.Context, tenantID uuid.UUID) ([]*notification.Rule, error)
}

// NotificationLogRepository is the dedup ledger.
type NotificationLogRepository interface {
	// Claim inserts entry unless a row for the same user, rule key, channel
	// and day exists. It reports whether this caller won the claim.
	Claim(ctx context.Context, entry *notification.Log) (bool, error)
	Complete(ctx context.Context, id uuid.UUID, outcome notification.Outcome, errMsg string) error
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}
