package repository

import (
	"context"
	"time"

	"github.com/amirasaad/ecclesia/pkg/domain/transaction"
	repo "github.com/amirasaad/ecclesia/pkg/repository"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type transactionRepository struct {
	db *gorm.DB
}

// NewTransactionRepository creates a transaction store backed by gorm.
func NewTransactionRepository(db *gorm.DB) repo.TransactionRepository {
	return &transactionRepository{db: db}
}

// Create implements repository.TransactionRepository.
func (r *transactionRepository) Create(ctx context.Context, tx *transaction.Transaction) error {
	m := mapTransactionToModel(tx)
	if err := WrapError(func() error {
		return r.db.WithContext(ctx).Create(&m).Error
	}); err != nil {
		return err
	}
	tx.CreatedAt = m.CreatedAt
	tx.UpdatedAt = m.UpdatedAt
	return nil
}

// Get implements repository.TransactionRepository.
func (r *transactionRepository) Get(ctx context.Context, id uuid.UUID) (*transaction.Transaction, error) {
	var m Transaction
	if err := WrapError(func() error {
		return r.db.WithContext(ctx).First(&m, "id = ?", id).Error
	}); err != nil {
		return nil, err
	}
	return mapModelToTransaction(&m), nil
}

// GetByProviderID implements repository.TransactionRepository.
func (r *transactionRepository) GetByProviderID(
	ctx context.Context,
	gateway, providerID string,
) (*transaction.Transaction, error) {
	var m Transaction
	if err := WrapError(func() error {
		return r.db.WithContext(ctx).
			Where("gateway = ? AND provider_transaction_id = ?", gateway, providerID).
			First(&m).Error
	}); err != nil {
		return nil, err
	}
	return mapModelToTransaction(&m), nil
}

// FindOpen implements repository.TransactionRepository.
func (r *transactionRepository) FindOpen(
	ctx context.Context,
	payerID uuid.UUID,
	amount decimal.Decimal,
	since time.Time,
) (*transaction.Transaction, error) {
	var m Transaction
	if err := WrapError(func() error {
		return r.db.WithContext(ctx).
			Where("payer_id = ? AND amount = ? AND status IN ? AND created_at >= ?",
				payerID,
				amount,
				[]string{string(transaction.StatusPending), string(transaction.StatusApproved)},
				since,
			).
			Order("created_at DESC").
			First(&m).Error
	}); err != nil {
		return nil, err
	}
	return mapModelToTransaction(&m), nil
}

// SetProviderID implements repository.TransactionRepository.
func (r *transactionRepository) SetProviderID(ctx context.Context, id uuid.UUID, providerID string) error {
	res := r.db.WithContext(ctx).
		Model(&Transaction{}).
		Where("id = ?", id).
		Update("provider_transaction_id", providerID)
	if res.Error != nil {
		return MapGormErrorToDomain(res.Error)
	}
	if res.RowsAffected == 0 {
		return MapGormErrorToDomain(gorm.ErrRecordNotFound)
	}
	return nil
}

// CompareAndSetStatus implements repository.TransactionRepository.
func (r *transactionRepository) CompareAndSetStatus(
	ctx context.Context,
	id uuid.UUID,
	from, to transaction.Status,
	patch repo.TransactionPatch,
) (bool, error) {
	updates := mapPatchToUpdates(patch)
	updates["status"] = string(to)
	res := r.db.WithContext(ctx).
		Model(&Transaction{}).
		Where("id = ? AND status = ?", id, string(from)).
		Updates(updates)
	if res.Error != nil {
		return false, MapGormErrorToDomain(res.Error)
	}
	return res.RowsAffected == 1, nil
}

// MarkFraud implements repository.TransactionRepository.
func (r *transactionRepository) MarkFraud(ctx context.Context, id uuid.UUID, fraud transaction.Fraud) error {
	res := r.db.WithContext(ctx).
		Model(&Transaction{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"fraud_flagged":   true,
			"fraud_marked_by": fraud.MarkedBy,
			"fraud_marked_at": fraud.MarkedAt,
			"fraud_reason":    fraud.Reason,
			"status":          string(transaction.StatusRefused),
		})
	if res.Error != nil {
		return MapGormErrorToDomain(res.Error)
	}
	if res.RowsAffected == 0 {
		return MapGormErrorToDomain(gorm.ErrRecordNotFound)
	}
	return nil
}

// ListPending implements repository.TransactionRepository.
func (r *transactionRepository) ListPending(
	ctx context.Context,
	createdBefore time.Time,
	limit int,
) ([]*transaction.Transaction, error) {
	var rows []Transaction
	if err := r.db.WithContext(ctx).
		Where("status = ? AND created_at < ?",
			string(transaction.StatusPending), createdBefore).
		Order("created_at ASC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, MapGormErrorToDomain(err)
	}
	return mapModelsToTransactions(rows), nil
}

// ListApprovedBetween implements repository.TransactionRepository.
func (r *transactionRepository) ListApprovedBetween(
	ctx context.Context,
	tenantID uuid.UUID,
	from, to time.Time,
) ([]*transaction.Transaction, error) {
	var rows []Transaction
	if err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND status = ? AND updated_at >= ? AND updated_at < ?",
			tenantID, string(transaction.StatusApproved), from, to).
		Find(&rows).Error; err != nil {
		return nil, MapGormErrorToDomain(err)
	}
	return mapModelsToTransactions(rows), nil
}

// --- Mappers ---

func mapTransactionToModel(tx *transaction.Transaction) Transaction {
	return Transaction{
		ID:                    tx.ID,
		ProviderTransactionID: tx.ProviderTransactionID,
		TenantID:              tx.TenantID,
		PayerID:               tx.PayerID,
		OriginID:              tx.OriginID,
		Amount:                tx.Amount,
		Method:                string(tx.Method),
		Status:                string(tx.Status),
		Gateway:               tx.Gateway,
		FraudFlagged:          tx.Fraud.Flagged,
		FraudMarkedBy:         tx.Fraud.MarkedBy,
		FraudMarkedAt:         tx.Fraud.MarkedAt,
		FraudReason:           tx.Fraud.Reason,
		RefundReason:          tx.RefundReason,
		RefundAmount:          tx.RefundAmount,
		ManualRefundPending:   tx.ManualRefundPending,
		CreatedAt:             tx.CreatedAt,
		UpdatedAt:             tx.UpdatedAt,
	}
}

func mapModelToTransaction(m *Transaction) *transaction.Transaction {
	return &transaction.Transaction{
		ID:                    m.ID,
		ProviderTransactionID: m.ProviderTransactionID,
		TenantID:              m.TenantID,
		PayerID:               m.PayerID,
		OriginID:              m.OriginID,
		Amount:                m.Amount,
		Method:                transaction.Method(m.Method),
		Status:                transaction.Status(m.Status),
		Gateway:               m.Gateway,
		Fraud: transaction.Fraud{
			Flagged:  m.FraudFlagged,
			MarkedBy: m.FraudMarkedBy,
			MarkedAt: m.FraudMarkedAt,
			Reason:   m.FraudReason,
		},
		RefundReason:        m.RefundReason,
		RefundAmount:        m.RefundAmount,
		ManualRefundPending: m.ManualRefundPending,
		CreatedAt:           m.CreatedAt,
		UpdatedAt:           m.UpdatedAt,
	}
}

func mapModelsToTransactions(rows []Transaction) []*transaction.Transaction {
	result := make([]*transaction.Transaction, 0, len(rows))
	for i := range rows {
		result = append(result, mapModelToTransaction(&rows[i]))
	}
	return result
}

func mapPatchToUpdates(patch repo.TransactionPatch) map[string]any {
	updates := make(map[string]any)
	if patch.ProviderTransactionID != nil {
		updates["provider_transaction_id"] = *patch.ProviderTransactionID
	}
	if patch.RefundReason != nil {
		updates["refund_reason"] = *patch.RefundReason
	}
	if patch.RefundAmount != nil {
		updates["refund_amount"] = *patch.RefundAmount
	}
	if patch.ManualRefundPending != nil {
		updates["manual_refund_pending"] = *patch.ManualRefundPending
	}
	return updates
}
