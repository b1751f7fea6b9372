package transaction

import (
	"github.com/amirasaad/ecclesia/pkg/domain"
	"github.com/shopspring/decimal"
)

var edges = map[Status][]Status{
	StatusPending:  {StatusApproved, StatusRefused},
	StatusApproved: {StatusRefunded},
}

// CanTransition reports whether from -> to is an edge of the state machine.
func CanTransition(from, to Status) bool {
	for _, s := range edges[from] {
		if s == to {
			return true
		}
	}
	return false
}

// SourcesFor returns the statuses from which to is reachable.
func SourcesFor(to Status) []Status {
	var out []Status
	for from, targets := range edges {
		for _, s := range targets {
			if s == to {
				out = append(out, from)
			}
		}
	}
	return out
}

// ValidateRefund enforces the refund guard: approved only, positive amount,
// never more than the original charge.
func ValidateRefund(t *Transaction, amount decimal.Decimal) error {
	if t.Status != StatusApproved {
		return &domain.StateConflictError{
			ID:   t.ID.String(),
			From: string(t.Status),
			To:   string(StatusRefunded),
		}
	}
	if !amount.IsPositive() {
		return domain.NewValidationError("amount", "refund amount must be positive")
	}
	if amount.GreaterThan(t.Amount) {
		return domain.NewValidationError("amount", "refund amount exceeds original amount")
	}
	return nil
}
