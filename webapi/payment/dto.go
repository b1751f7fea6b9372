package payment

import (
	"time"

	"github.com/amirasaad/ecclesia/pkg/domain/transaction"
	"github.com/amirasaad/ecclesia/pkg/gateway"
	"github.com/amirasaad/ecclesia/pkg/money"
	"github.com/google/uuid"
)

// ChargeRequest is the body of POST /payments. PayerID is honored only for
// admins; members always pay for themselves.
type ChargeRequest struct {
	PayerID            string `json:"payer_id" validate:"omitempty,uuid"`
	OriginID           string `json:"origin_id" validate:"omitempty,uuid"`
	Amount             string `json:"amount" validate:"required"`
	Method             string `json:"method" validate:"required,oneof=pix card boleto"`
	Gateway            string `json:"gateway" validate:"omitempty,oneof=stripe pixbank"`
	PaymentMethodToken string `json:"payment_method_token"`
	Description        string `json:"description" validate:"max=255"`
	Document           string `json:"document" validate:"max=32"`
}

// RefundRequest is the body of POST /payments/:id/refund.
type RefundRequest struct {
	Amount string `json:"amount" validate:"required"`
	Reason string `json:"reason" validate:"required,max=500"`
}

// FraudRequest is the body of POST /payments/:id/fraud.
type FraudRequest struct {
	Reason string `json:"reason" validate:"required,max=500"`
}

// TransactionDTO is the API view of a transaction.
type TransactionDTO struct {
	ID                  uuid.UUID  `json:"id"`
	TenantID            uuid.UUID  `json:"tenant_id"`
	PayerID             uuid.UUID  `json:"payer_id"`
	Amount              string     `json:"amount"`
	Method              string     `json:"method"`
	Status              string     `json:"status"`
	Gateway             string     `json:"gateway"`
	ProviderID          string     `json:"provider_transaction_id,omitempty"`
	FraudFlagged        bool       `json:"fraud_flagged,omitempty"`
	RefundAmount        string     `json:"refund_amount,omitempty"`
	RefundReason        string     `json:"refund_reason,omitempty"`
	ManualRefundPending bool       `json:"manual_refund_pending,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           *time.Time `json:"updated_at,omitempty"`
}

// ChargeResponse adds the payer facing instructions of the gateway.
type ChargeResponse struct {
	Transaction   TransactionDTO `json:"transaction"`
	RedirectURL   string         `json:"redirect_url,omitempty"`
	PixCopyPaste  string         `json:"pix_copy_paste,omitempty"`
	BoletoLine    string         `json:"boleto_line,omitempty"`
	Indeterminate bool           `json:"indeterminate,omitempty"`
}

// ToDTO maps a transaction to its API view.
func ToDTO(tx *transaction.Transaction) TransactionDTO {
	dto := TransactionDTO{
		ID:                  tx.ID,
		TenantID:            tx.TenantID,
		PayerID:             tx.PayerID,
		Amount:              money.String(tx.Amount),
		Method:              string(tx.Method),
		Status:              string(tx.Status),
		Gateway:             tx.Gateway,
		FraudFlagged:        tx.Fraud.Flagged,
		ManualRefundPending: tx.ManualRefundPending,
		CreatedAt:           tx.CreatedAt,
	}
	if tx.ProviderTransactionID != nil {
		dto.ProviderID = *tx.ProviderTransactionID
	}
	if tx.RefundReason != nil {
		dto.RefundReason = *tx.RefundReason
	}
	if tx.RefundAmount != nil {
		dto.RefundAmount = money.String(*tx.RefundAmount)
	}
	if !tx.UpdatedAt.IsZero() {
		updated := tx.UpdatedAt
		dto.UpdatedAt = &updated
	}
	return dto
}

func toChargeResponse(tx *transaction.Transaction, res gateway.ChargeResult, indeterminate bool) ChargeResponse {
	return ChargeResponse{
		Transaction:   ToDTO(tx),
		RedirectURL:   res.RedirectURL,
		PixCopyPaste:  res.PixCopyPaste,
		BoletoLine:    res.BoletoLine,
		Indeterminate: indeterminate,
	}
}
