package events

import (
	"time"

	"github.com/google/uuid"
)

// PaymentStatusChanged is emitted after a transaction status is durably
// written. Kind carries the concrete event type so one struct serves every
// transition.
type PaymentStatusChanged struct {
	Kind          EventType `json:"kind"`
	TransactionID uuid.UUID `json:"transaction_id"`
	TenantID      uuid.UUID `json:"tenant_id"`
	PayerID       uuid.UUID `json:"payer_id"`
	Amount        string    `json:"amount"`
	Method        string    `json:"method"`
	Gateway       string    `json:"gateway"`
	From          string    `json:"from,omitempty"`
	To            string    `json:"to"`
	Source        string    `json:"source"`
	ManualRefund  bool      `json:"manual_refund,omitempty"`
	OccurredAt    time.Time `json:"occurred_at"`
}

func (e *PaymentStatusChanged) Type() EventType { return e.Kind }

// PayerRegistered is emitted by the platform when a member signs up.
type PayerRegistered struct {
	PayerID    uuid.UUID `json:"payer_id"`
	TenantID   uuid.UUID `json:"tenant_id"`
	OccurredAt time.Time `json:"occurred_at"`
}

func (e *PayerRegistered) Type() EventType { return EventTypePayerRegistered }
