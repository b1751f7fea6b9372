// Package gatewaytest provides a scriptable in-memory gateway for service
// and handler tests.
package gatewaytest

import (
	"context"
	"sync"

	"github.com/amirasaad/ecclesia/pkg/domain/transaction"
	"github.com/amirasaad/ecclesia/pkg/gateway"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Fake records calls and answers with the configured functions. A nil
// function falls back to a pending charge, a pending query, a supported
// cancel, no derived reference and a charge the provider never received.
type Fake struct {
	KindValue gateway.Kind
	Methods   []transaction.Method

	ChargeFn  func(ctx context.Context, req gateway.ChargeRequest) (gateway.ChargeResult, error)
	QueryFn   func(ctx context.Context, providerID string) (transaction.Status, error)
	CancelFn  func(ctx context.Context, providerID string, amount decimal.Decimal) (gateway.CancelOutcome, error)
	WebhookFn func(ctx context.Context, payload []byte, headers map[string]string) ([]gateway.Event, error)
	RefFn     func(req gateway.ChargeRequest) string
	LocateFn  func(ctx context.Context, transactionID uuid.UUID, method transaction.Method) (string, bool, error)

	mu      sync.Mutex
	charges []gateway.ChargeRequest
	cancels []string
	queries []string
	locates []uuid.UUID
}

// New returns a Fake of kind supporting every method.
func New(kind gateway.Kind) *Fake {
	return &Fake{
		KindValue: kind,
		Methods:   []transaction.Method{transaction.MethodPix, transaction.MethodCard, transaction.MethodBoleto},
	}
}

func (f *Fake) Kind() gateway.Kind { return f.KindValue }

func (f *Fake) Supports(method transaction.Method) bool {
	for _, m := range f.Methods {
		if m == method {
			return true
		}
	}
	return false
}

func (f *Fake) Charge(ctx context.Context, req gateway.ChargeRequest) (gateway.ChargeResult, error) {
	f.mu.Lock()
	f.charges = append(f.charges, req)
	f.mu.Unlock()
	if f.ChargeFn != nil {
		return f.ChargeFn(ctx, req)
	}
	return gateway.ChargeResult{ProviderID: "prov-" + req.TransactionID.String(), Status: transaction.StatusPending}, nil
}

func (f *Fake) Query(ctx context.Context, providerID string) (transaction.Status, error) {
	f.mu.Lock()
	f.queries = append(f.queries, providerID)
	f.mu.Unlock()
	if f.QueryFn != nil {
		return f.QueryFn(ctx, providerID)
	}
	return transaction.StatusPending, nil
}

func (f *Fake) Cancel(ctx context.Context, providerID string, amount decimal.Decimal) (gateway.CancelOutcome, error) {
	f.mu.Lock()
	f.cancels = append(f.cancels, providerID)
	f.mu.Unlock()
	if f.CancelFn != nil {
		return f.CancelFn(ctx, providerID, amount)
	}
	return gateway.CancelOutcome{Supported: true, Status: transaction.StatusRefunded}, nil
}

func (f *Fake) ParseWebhook(ctx context.Context, payload []byte, headers map[string]string) ([]gateway.Event, error) {
	if f.WebhookFn != nil {
		return f.WebhookFn(ctx, payload, headers)
	}
	return nil, nil
}

func (f *Fake) Reference(req gateway.ChargeRequest) string {
	if f.RefFn != nil {
		return f.RefFn(req)
	}
	return ""
}

func (f *Fake) Locate(ctx context.Context, transactionID uuid.UUID, method transaction.Method) (string, bool, error) {
	f.mu.Lock()
	f.locates = append(f.locates, transactionID)
	f.mu.Unlock()
	if f.LocateFn != nil {
		return f.LocateFn(ctx, transactionID, method)
	}
	return "", false, nil
}

// Locates returns the transaction ids passed to Locate.
func (f *Fake) Locates() []uuid.UUID {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]uuid.UUID(nil), f.locates...)
}

// Charges returns the charge requests received so far.
func (f *Fake) Charges() []gateway.ChargeRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]gateway.ChargeRequest(nil), f.charges...)
}

// Cancels returns the provider ids passed to Cancel.
func (f *Fake) Cancels() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.cancels...)
}

// Queries returns the provider ids passed to Query.
func (f *Fake) Queries() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.queries...)
}

// ManualRefund makes f behave like a gateway without a refund API.
func (f *Fake) ManualRefund() *Fake {
	f.CancelFn = func(context.Context, string, decimal.Decimal) (gateway.CancelOutcome, error) {
		return gateway.CancelOutcome{Supported: false, ManualActionRequired: true}, nil
	}
	return f
}

var (
	_ gateway.Gateway    = (*Fake)(nil)
	_ gateway.Referencer = (*Fake)(nil)
	_ gateway.Locator    = (*Fake)(nil)
)
