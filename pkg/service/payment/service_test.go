package payment_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	infraeventbus "github.com/amirasaad/ecclesia/infra/eventbus"
	"github.com/amirasaad/ecclesia/infra/repository/memory"
	"github.com/amirasaad/ecclesia/pkg/domain"
	"github.com/amirasaad/ecclesia/pkg/domain/payer"
	"github.com/amirasaad/ecclesia/pkg/domain/transaction"
	"github.com/amirasaad/ecclesia/pkg/gateway"
	"github.com/amirasaad/ecclesia/pkg/gateway/gatewaytest"
	"github.com/amirasaad/ecclesia/pkg/idempotency"
	"github.com/amirasaad/ecclesia/pkg/service/payment"
	txservice "github.com/amirasaad/ecclesia/pkg/service/transaction"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	svc     *payment.Service
	txs     *memory.Transactions
	stripe  *gatewaytest.Fake
	pixbank *gatewaytest.Fake
	tenant  uuid.UUID
	payer   uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f := &fixture{
		txs:     memory.NewTransactions(),
		stripe:  gatewaytest.New(gateway.KindStripe),
		pixbank: gatewaytest.New(gateway.KindPixBank).ManualRefund(),
		tenant:  uuid.New(),
		payer:   uuid.New(),
	}
	f.pixbank.Methods = []transaction.Method{transaction.MethodPix, transaction.MethodBoleto}

	payers := memory.NewPayers()
	payers.AddTenant(payer.Tenant{ID: f.tenant, Name: "Igreja Central"})
	payers.AddPayer(payer.Payer{ID: f.payer, TenantID: f.tenant, Name: "Maria", Email: "maria@example.com", Active: true})

	reg, err := gateway.NewRegistry(gateway.KindStripe, f.stripe, f.pixbank)
	require.NoError(t, err)
	machine := txservice.New(f.txs, reg, infraeventbus.NewWithMemory(logger), logger)
	guard := idempotency.New(f.txs, logger)
	f.svc = payment.New(machine, guard, reg, payers, f.txs, payment.Options{Timeout: time.Second}, logger)
	return f
}

func (f *fixture) input(amount string, method transaction.Method) payment.ChargeInput {
	return payment.ChargeInput{
		TenantID:           f.tenant,
		PayerID:            f.payer,
		Amount:             decimal.RequireFromString(amount),
		Method:             method,
		PaymentMethodToken: "pm_card_visa",
	}
}

func TestCharge_PendingPix(t *testing.T) {
	f := newFixture(t)

	res, err := f.svc.Charge(context.Background(), f.input("50.00", transaction.MethodPix))
	require.NoError(t, err)
	assert.False(t, res.Duplicate)
	assert.Equal(t, transaction.StatusPending, res.Transaction.Status)
	require.NotNil(t, res.Transaction.ProviderTransactionID)

	charges := f.stripe.Charges()
	require.Len(t, charges, 1)
	assert.Equal(t, res.Transaction.ID, charges[0].TransactionID)
	assert.Equal(t, "BRL", charges[0].Currency)
	assert.Equal(t, "Maria", charges[0].Payer.Name)
}

func TestCharge_CardApprovedInstantly(t *testing.T) {
	f := newFixture(t)
	f.stripe.ChargeFn = func(_ context.Context, req gateway.ChargeRequest) (gateway.ChargeResult, error) {
		return gateway.ChargeResult{ProviderID: "pi_1", Status: transaction.StatusApproved}, nil
	}

	res, err := f.svc.Charge(context.Background(), f.input("80.00", transaction.MethodCard))
	require.NoError(t, err)
	assert.Equal(t, transaction.StatusApproved, res.Transaction.Status)

	stored, err := f.txs.GetByProviderID(context.Background(), "stripe", "pi_1")
	require.NoError(t, err)
	assert.Equal(t, transaction.StatusApproved, stored.Status)
}

// A retry with the same payer and amount inside the window never reaches
// the gateway twice.
func TestCharge_RetryIsDuplicate(t *testing.T) {
	f := newFixture(t)

	first, err := f.svc.Charge(context.Background(), f.input("50.00", transaction.MethodPix))
	require.NoError(t, err)

	second, err := f.svc.Charge(context.Background(), f.input("50.00", transaction.MethodPix))
	var dupErr *domain.DuplicateError
	require.ErrorAs(t, err, &dupErr)
	assert.Equal(t, first.Transaction.ID.String(), dupErr.ExistingID)
	assert.True(t, second.Duplicate)
	assert.Equal(t, first.Transaction.ID, second.Transaction.ID)
	assert.Len(t, f.stripe.Charges(), 1)

	_, err = f.svc.Charge(context.Background(), f.input("50.01", transaction.MethodPix))
	require.NoError(t, err, "a different amount is a new contribution")
	assert.Len(t, f.stripe.Charges(), 2)
}

func TestCharge_RejectionRefuses(t *testing.T) {
	f := newFixture(t)
	f.stripe.ChargeFn = func(context.Context, gateway.ChargeRequest) (gateway.ChargeResult, error) {
		return gateway.ChargeResult{}, gateway.NewError(gateway.ErrorRejected, gateway.KindStripe, "charge", errors.New("card_declined"))
	}

	res, err := f.svc.Charge(context.Background(), f.input("10.00", transaction.MethodCard))
	assert.ErrorIs(t, err, gateway.ErrRejected)
	require.NotNil(t, res.Transaction)
	assert.Equal(t, transaction.StatusRefused, res.Transaction.Status)

	_, err = f.svc.Charge(context.Background(), f.input("10.00", transaction.MethodCard))
	assert.ErrorIs(t, err, gateway.ErrRejected, "a refused charge does not block a retry")
}

func TestCharge_TimeoutIsIndeterminate(t *testing.T) {
	f := newFixture(t)
	f.stripe.ChargeFn = func(ctx context.Context, _ gateway.ChargeRequest) (gateway.ChargeResult, error) {
		return gateway.ChargeResult{}, context.DeadlineExceeded
	}

	res, err := f.svc.Charge(context.Background(), f.input("10.00", transaction.MethodPix))
	require.NoError(t, err)
	assert.True(t, res.Indeterminate)
	assert.Equal(t, transaction.StatusPending, res.Transaction.Status)

	stored, err := f.txs.Get(context.Background(), res.Transaction.ID)
	require.NoError(t, err)
	assert.Equal(t, transaction.StatusPending, stored.Status)
}

func TestCharge_TimeoutIsRecoveredByReconcile(t *testing.T) {
	f := newFixture(t)
	f.stripe.ChargeFn = func(context.Context, gateway.ChargeRequest) (gateway.ChargeResult, error) {
		return gateway.ChargeResult{}, gateway.NewError(gateway.ErrorTimeout, gateway.KindStripe, "charge", errors.New("slow"))
	}
	f.stripe.LocateFn = func(_ context.Context, id uuid.UUID, _ transaction.Method) (string, bool, error) {
		return "pi_" + id.String(), true, nil
	}
	f.stripe.QueryFn = func(context.Context, string) (transaction.Status, error) {
		return transaction.StatusApproved, nil
	}

	clock := time.Now().Add(-time.Hour)
	f.txs.SetClock(func() time.Time { return clock })
	res, err := f.svc.Charge(context.Background(), f.input("25.00", transaction.MethodCard))
	f.txs.SetClock(time.Now)
	require.NoError(t, err)
	require.True(t, res.Indeterminate)
	assert.Nil(t, res.Transaction.ProviderTransactionID)

	sum, err := f.svc.ReconcilePending(context.Background(), 30*time.Minute, 10)
	require.NoError(t, err)
	assert.Equal(t, payment.ReconcileSummary{Checked: 1, Applied: 1}, sum)

	stored, err := f.txs.Get(context.Background(), res.Transaction.ID)
	require.NoError(t, err)
	assert.Equal(t, transaction.StatusApproved, stored.Status)
	require.NotNil(t, stored.ProviderTransactionID)
	assert.Equal(t, "pi_"+res.Transaction.ID.String(), *stored.ProviderTransactionID)
	assert.Equal(t, []uuid.UUID{res.Transaction.ID}, f.stripe.Locates())
	assert.Equal(t, []string{"pi_" + res.Transaction.ID.String()}, f.stripe.Queries())
}

func TestReconcile_ChargeNeverReachedProvider(t *testing.T) {
	f := newFixture(t)
	f.stripe.ChargeFn = func(context.Context, gateway.ChargeRequest) (gateway.ChargeResult, error) {
		return gateway.ChargeResult{}, context.DeadlineExceeded
	}

	recent, err := f.svc.Charge(context.Background(), f.input("10.00", transaction.MethodCard))
	require.NoError(t, err)
	out, err := f.svc.Reconcile(context.Background(), recent.Transaction.ID)
	require.NoError(t, err)
	assert.Equal(t, txservice.OutcomeNoop, out.Outcome)
	assert.Equal(t, transaction.StatusPending, out.Transaction.Status)

	clock := time.Now().Add(-payment.DefaultAbandonAfter - time.Hour)
	f.txs.SetClock(func() time.Time { return clock })
	stale, err := f.svc.Charge(context.Background(), f.input("11.00", transaction.MethodCard))
	f.txs.SetClock(time.Now)
	require.NoError(t, err)
	out, err = f.svc.Reconcile(context.Background(), stale.Transaction.ID)
	require.NoError(t, err)
	assert.Equal(t, txservice.OutcomeApplied, out.Outcome)
	assert.Equal(t, transaction.StatusRefused, out.Transaction.Status)
	assert.Empty(t, f.stripe.Queries())
}

func TestCharge_DerivedReferenceStoredBeforeCall(t *testing.T) {
	f := newFixture(t)
	f.pixbank.RefFn = func(req gateway.ChargeRequest) string { return "txid-" + req.TransactionID.String() }
	var during *transaction.Transaction
	f.pixbank.ChargeFn = func(ctx context.Context, req gateway.ChargeRequest) (gateway.ChargeResult, error) {
		during, _ = f.txs.Get(ctx, req.TransactionID)
		return gateway.ChargeResult{}, context.DeadlineExceeded
	}

	in := f.input("30.00", transaction.MethodPix)
	in.Gateway = string(gateway.KindPixBank)
	res, err := f.svc.Charge(context.Background(), in)
	require.NoError(t, err)
	require.True(t, res.Indeterminate)
	require.NotNil(t, during)
	require.NotNil(t, during.ProviderTransactionID)
	ref := "txid-" + res.Transaction.ID.String()
	assert.Equal(t, ref, *during.ProviderTransactionID)

	f.pixbank.WebhookFn = func(context.Context, []byte, map[string]string) ([]gateway.Event, error) {
		return []gateway.Event{{ProviderID: ref, Status: transaction.StatusApproved}}, nil
	}
	sum, err := f.svc.HandleWebhook(context.Background(), gateway.KindPixBank, []byte(`{}`), nil)
	require.NoError(t, err)
	assert.Equal(t, payment.WebhookSummary{Applied: 1}, sum)
	assert.Empty(t, f.pixbank.Locates())
}

func TestHandleWebhook_MatchesByTransactionID(t *testing.T) {
	f := newFixture(t)
	f.stripe.ChargeFn = func(context.Context, gateway.ChargeRequest) (gateway.ChargeResult, error) {
		return gateway.ChargeResult{}, context.DeadlineExceeded
	}
	res, err := f.svc.Charge(context.Background(), f.input("40.00", transaction.MethodCard))
	require.NoError(t, err)
	require.True(t, res.Indeterminate)

	f.stripe.WebhookFn = func(context.Context, []byte, map[string]string) ([]gateway.Event, error) {
		return []gateway.Event{
			{ProviderID: "pi_late", TransactionID: res.Transaction.ID, Status: transaction.StatusApproved},
			{ProviderID: "pi_other", TransactionID: uuid.New(), Status: transaction.StatusApproved},
		}, nil
	}
	sum, err := f.svc.HandleWebhook(context.Background(), gateway.KindStripe, []byte(`{}`), nil)
	require.NoError(t, err)
	assert.Equal(t, payment.WebhookSummary{Applied: 1, Unknown: 1}, sum)

	stored, err := f.txs.GetByProviderID(context.Background(), string(gateway.KindStripe), "pi_late")
	require.NoError(t, err)
	assert.Equal(t, res.Transaction.ID, stored.ID)
	assert.Equal(t, transaction.StatusApproved, stored.Status)
}

func TestCharge_Validation(t *testing.T) {
	f := newFixture(t)
	tests := []struct {
		name    string
		in      payment.ChargeInput
		wantErr error
	}{
		{"sub-cent", f.input("1.001", transaction.MethodPix), domain.ErrValidation},
		{"negative", f.input("-1.00", transaction.MethodPix), domain.ErrValidation},
		{"unknown method", f.input("1.00", "cash"), domain.ErrValidation},
		{"unknown gateway", func() payment.ChargeInput {
			in := f.input("1.00", transaction.MethodPix)
			in.Gateway = "paypal"
			return in
		}(), domain.ErrValidation},
		{"card on the bank gateway", func() payment.ChargeInput {
			in := f.input("1.00", transaction.MethodCard)
			in.Gateway = string(gateway.KindPixBank)
			return in
		}(), domain.ErrValidation},
		{"foreign tenant", func() payment.ChargeInput {
			in := f.input("1.00", transaction.MethodPix)
			in.TenantID = uuid.New()
			return in
		}(), domain.ErrForbidden},
		{"unknown payer", func() payment.ChargeInput {
			in := f.input("1.00", transaction.MethodPix)
			in.PayerID = uuid.New()
			return in
		}(), domain.ErrValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Charge(context.Background(), tt.in)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
	assert.Empty(t, f.stripe.Charges())
	assert.Empty(t, f.pixbank.Charges())
}

func TestReconcile(t *testing.T) {
	f := newFixture(t)
	res, err := f.svc.Charge(context.Background(), f.input("50.00", transaction.MethodPix))
	require.NoError(t, err)

	f.stripe.QueryFn = func(context.Context, string) (transaction.Status, error) {
		return transaction.StatusApproved, nil
	}
	out, err := f.svc.Reconcile(context.Background(), res.Transaction.ID)
	require.NoError(t, err)
	assert.Equal(t, txservice.OutcomeApplied, out.Outcome)
	assert.Equal(t, []string{*res.Transaction.ProviderTransactionID}, f.stripe.Queries())
}

func TestReconcilePending(t *testing.T) {
	f := newFixture(t)
	clock := time.Now().Add(-time.Hour)
	f.txs.SetClock(func() time.Time { return clock })
	for _, amount := range []string{"1.00", "2.00", "3.00"} {
		_, err := f.svc.Charge(context.Background(), f.input(amount, transaction.MethodPix))
		require.NoError(t, err)
	}
	f.txs.SetClock(time.Now)

	f.stripe.QueryFn = func(_ context.Context, id string) (transaction.Status, error) {
		if len(f.stripe.Queries())%3 == 0 {
			return "", gateway.NewError(gateway.ErrorTimeout, gateway.KindStripe, "query", errors.New("slow"))
		}
		return transaction.StatusApproved, nil
	}
	sum, err := f.svc.ReconcilePending(context.Background(), 30*time.Minute, 10)
	require.NoError(t, err)
	assert.Equal(t, 3, sum.Checked)
	assert.Equal(t, 2, sum.Applied)
	assert.Equal(t, 1, sum.Failed)
}

func TestHandleWebhook(t *testing.T) {
	f := newFixture(t)
	res, err := f.svc.Charge(context.Background(), f.input("50.00", transaction.MethodPix))
	require.NoError(t, err)
	providerID := *res.Transaction.ProviderTransactionID

	f.stripe.WebhookFn = func(context.Context, []byte, map[string]string) ([]gateway.Event, error) {
		return []gateway.Event{
			{ProviderID: providerID, Status: transaction.StatusApproved},
			{ProviderID: providerID, Status: transaction.StatusApproved},
			{ProviderID: providerID, Status: transaction.StatusRefused},
			{ProviderID: "unknown", Status: transaction.StatusApproved},
		}, nil
	}
	sum, err := f.svc.HandleWebhook(context.Background(), gateway.KindStripe, []byte(`{}`), nil)
	require.NoError(t, err)
	assert.Equal(t, payment.WebhookSummary{Applied: 1, Noop: 1, Dropped: 1, Unknown: 1}, sum)

	stored, _ := f.txs.Get(context.Background(), res.Transaction.ID)
	assert.Equal(t, transaction.StatusApproved, stored.Status)
}

func TestHandleWebhook_Malformed(t *testing.T) {
	f := newFixture(t)
	f.stripe.WebhookFn = func(context.Context, []byte, map[string]string) ([]gateway.Event, error) {
		return nil, domain.NewValidationError("payload", "malformed")
	}
	_, err := f.svc.HandleWebhook(context.Background(), gateway.KindStripe, []byte(`{`), nil)
	assert.ErrorIs(t, err, domain.ErrValidation)
}
