package transaction

import (
	"testing"

	"github.com/amirasaad/ecclesia/pkg/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

var allStatuses = []Status{StatusPending, StatusApproved, StatusRefused, StatusRefunded}

func TestCanTransition_OnlyDeclaredEdges(t *testing.T) {
	allowed := map[[2]Status]bool{
		{StatusPending, StatusApproved}:  true,
		{StatusPending, StatusRefused}:   true,
		{StatusApproved, StatusRefunded}: true,
	}
	for _, from := range allStatuses {
		for _, to := range allStatuses {
			assert.Equal(t, allowed[[2]Status{from, to}], CanTransition(from, to), "%s -> %s", from, to)
		}
	}
}

func TestSourcesFor(t *testing.T) {
	assert.ElementsMatch(t, []Status{StatusPending}, SourcesFor(StatusApproved))
	assert.ElementsMatch(t, []Status{StatusApproved}, SourcesFor(StatusRefunded))
	assert.Empty(t, SourcesFor(StatusPending))
}

func TestValidateRefund(t *testing.T) {
	tx := &Transaction{ID: uuid.New(), Amount: decimal.RequireFromString("100.00"), Status: StatusApproved}

	assert.NoError(t, ValidateRefund(tx, decimal.RequireFromString("100.00")))
	assert.NoError(t, ValidateRefund(tx, decimal.RequireFromString("40.00")))
	assert.ErrorIs(t, ValidateRefund(tx, decimal.RequireFromString("100.01")), domain.ErrValidation)
	assert.ErrorIs(t, ValidateRefund(tx, decimal.Zero), domain.ErrValidation)

	for _, s := range []Status{StatusPending, StatusRefused, StatusRefunded} {
		tx.Status = s
		assert.ErrorIs(t, ValidateRefund(tx, decimal.RequireFromString("1.00")), domain.ErrStateConflict, string(s))
	}
}

func TestMethodValid(t *testing.T) {
	assert.True(t, MethodPix.Valid())
	assert.True(t, MethodCard.Valid())
	assert.True(t, MethodBoleto.Valid())
	assert.False(t, Method("crypto").Valid())
}
