// Package token models the magic-link access token sent to payers.
package token

import (
	"time"

	"github.com/google/uuid"
)

// PaymentToken grants repeated access to the contribution flow until
// ExpiresAt. Expiry is absolute; UsedAt is informational.
type PaymentToken struct {
	Token     string
	PayerID   uuid.UUID
	TenantID  uuid.UUID
	ExpiresAt time.Time
	UsedAt    *time.Time
	CreatedAt time.Time
}

// Expired reports whether the token is past its expiry at now.
func (t *PaymentToken) Expired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// InvalidReason explains why a token was rejected.
type InvalidReason string

const (
	ReasonNotFound     InvalidReason = "not_found"
	ReasonExpired      InvalidReason = "expired"
	ReasonInactiveUser InvalidReason = "inactive_user"
)
