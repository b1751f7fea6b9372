// Package transaction models a contribution payment and the only status
// transitions it may go through.
package transaction

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Status is the canonical lifecycle state of a payment.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRefused  Status = "refused"
	StatusRefunded Status = "refunded"
)

// Method is the payment instrument chosen by the payer.
type Method string

const (
	MethodPix    Method = "pix"
	MethodCard   Method = "card"
	MethodBoleto Method = "boleto"
)

// Valid reports whether m is one of the known methods.
func (m Method) Valid() bool {
	switch m {
	case MethodPix, MethodCard, MethodBoleto:
		return true
	}
	return false
}

// Source identifies who asked for a transition. Webhook and poll sourced
// transitions that are invalid are dropped instead of rejected.
type Source string

const (
	SourceCharge   Source = "charge"
	SourceWebhook  Source = "webhook"
	SourcePoll     Source = "poll"
	SourceOperator Source = "operator"
)

// Fraud holds the operator supplied fraud marker.
type Fraud struct {
	Flagged  bool
	MarkedBy *uuid.UUID
	MarkedAt *time.Time
	Reason   string
}

// Transaction is a single contribution payment.
type Transaction struct {
	ID                    uuid.UUID
	ProviderTransactionID *string
	TenantID              uuid.UUID
	PayerID               uuid.UUID
	OriginID              *uuid.UUID
	Amount                decimal.Decimal
	Method                Method
	Status                Status
	Gateway               string
	Fraud                 Fraud
	RefundReason          *string
	RefundAmount          *decimal.Decimal
	ManualRefundPending   bool
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// IsOpen reports whether the transaction still blocks a new charge for the
// same payer and amount.
func (t *Transaction) IsOpen() bool {
	return t.Status == StatusPending || t.Status == StatusApproved
}
