package gateway_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/amirasaad/ecclesia/pkg/domain"
	"github.com/amirasaad/ecclesia/pkg/domain/transaction"
	"github.com/amirasaad/ecclesia/pkg/gateway"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubGateway struct{ kind gateway.Kind }

func (s stubGateway) Kind() gateway.Kind { return s.kind }
func (s stubGateway) Supports(transaction.Method) bool { return true }
func (s stubGateway) Charge(context.Context, gateway.ChargeRequest) (gateway.ChargeResult, error) {
	return gateway.ChargeResult{}, nil
}
func (s stubGateway) Query(context.Context, string) (transaction.Status, error) {
	return transaction.StatusPending, nil
}
func (s stubGateway) Cancel(context.Context, string, decimal.Decimal) (gateway.CancelOutcome, error) {
	return gateway.CancelOutcome{}, nil
}
func (s stubGateway) ParseWebhook(context.Context, []byte, map[string]string) ([]gateway.Event, error) {
	return nil, nil
}

func TestParseKind(t *testing.T) {
	k, err := gateway.ParseKind("stripe")
	require.NoError(t, err)
	assert.Equal(t, gateway.KindStripe, k)

	k, err = gateway.ParseKind("pixbank")
	require.NoError(t, err)
	assert.Equal(t, gateway.KindPixBank, k)

	_, err = gateway.ParseKind("paypal")
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestRegistry(t *testing.T) {
	r, err := gateway.NewRegistry(gateway.KindStripe, stubGateway{gateway.KindStripe}, stubGateway{gateway.KindPixBank})
	require.NoError(t, err)
	assert.Equal(t, gateway.KindStripe, r.Default().Kind())
	assert.Equal(t, []gateway.Kind{gateway.KindPixBank, gateway.KindStripe}, r.Kinds())

	g, err := r.Get(gateway.KindPixBank)
	require.NoError(t, err)
	assert.Equal(t, gateway.KindPixBank, g.Kind())

	_, err = gateway.NewRegistry(gateway.KindPixBank, stubGateway{gateway.KindStripe})
	assert.Error(t, err)

	_, err = gateway.NewRegistry(gateway.KindStripe, stubGateway{gateway.KindStripe}, stubGateway{gateway.KindStripe})
	assert.Error(t, err)
}

func TestErrorKinds(t *testing.T) {
	err := fmt.Errorf("charge: %w", gateway.NewError(gateway.ErrorRejected, gateway.KindStripe, "charge", errors.New("card_declined")))
	assert.ErrorIs(t, err, gateway.ErrRejected)
	assert.NotErrorIs(t, err, gateway.ErrAuth)
	assert.False(t, gateway.IsTimeout(err))

	assert.True(t, gateway.IsTimeout(gateway.NewError(gateway.ErrorTimeout, gateway.KindPixBank, "query", nil)))
	assert.True(t, gateway.IsTimeout(fmt.Errorf("wrapped: %w", context.DeadlineExceeded)))
}
