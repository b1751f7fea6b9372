// Package gateway defines the provider-neutral payment gateway contract and
// the closed set of gateway kinds the engine can be configured with.
package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/amirasaad/ecclesia/pkg/domain"
	"github.com/amirasaad/ecclesia/pkg/domain/transaction"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Kind identifies a gateway variant.
type Kind string

const (
	// KindStripe is the full-featured card, pix and boleto gateway.
	KindStripe Kind = "stripe"
	// KindPixBank is the bank gateway authenticated with OAuth2 over mTLS.
	// It cannot refund through its API.
	KindPixBank Kind = "pixbank"
)

// Kinds lists every known gateway kind.
func Kinds() []Kind { return []Kind{KindStripe, KindPixBank} }

// ParseKind validates s against the closed set of kinds.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(s); k {
	case KindStripe, KindPixBank:
		return k, nil
	}
	return "", domain.NewValidationError("gateway", fmt.Sprintf("unknown gateway %q", s))
}

// DefaultTimeout bounds every outbound gateway call.
const DefaultTimeout = 8 * time.Second

// Payer carries the details some methods need at charge time.
type Payer struct {
	Name     string
	Email    string
	Document string
}

// ChargeRequest asks a gateway to charge amount with method.
type ChargeRequest struct {
	TransactionID uuid.UUID
	TenantID      uuid.UUID
	PayerID       uuid.UUID
	Amount        decimal.Decimal
	Currency      string
	Method        transaction.Method
	Description   string
	Payer         Payer
	// PaymentMethodToken is the tokenized card reference for card charges.
	PaymentMethodToken string
	DueDate            time.Time
}

// ChargeResult is the gateway answer to a charge. Status is pending for
// methods that settle asynchronously.
type ChargeResult struct {
	ProviderID   string
	Status       transaction.Status
	RedirectURL  string
	PixCopyPaste string
	BoletoLine   string
}

// CancelOutcome reports how a cancel or refund request was handled.
type CancelOutcome struct {
	Supported            bool
	ManualActionRequired bool
	Status               transaction.Status
	ReferenceID          string
}

// Event is a normalized provider notification. TransactionID is set when
// the provider echoes the local id back, so a charge whose reference was
// never recorded can still be matched.
type Event struct {
	ProviderID    string
	TransactionID uuid.UUID
	Status        transaction.Status
	Type          string
}

// Gateway is implemented by every variant.
type Gateway interface {
	Kind() Kind
	Supports(method transaction.Method) bool
	Charge(ctx context.Context, req ChargeRequest) (ChargeResult, error)
	Query(ctx context.Context, providerID string) (transaction.Status, error)
	Cancel(ctx context.Context, providerID string, amount decimal.Decimal) (CancelOutcome, error)
	// ParseWebhook turns a provider callback into zero or more events.
	// Malformed payloads yield a domain.ErrValidation error.
	ParseWebhook(ctx context.Context, payload []byte, headers map[string]string) ([]Event, error)
}

// Referencer is implemented by gateways whose provider reference is derived
// from the request. The reference is stored before the charge is sent, so a
// call that times out can still be queried.
type Referencer interface {
	// Reference returns "" when the provider assigns the reference itself.
	Reference(req ChargeRequest) string
}

// Locator is implemented by gateways that can find a charge from the local
// transaction id. found is false when the provider has no such charge.
type Locator interface {
	Locate(ctx context.Context, transactionID uuid.UUID, method transaction.Method) (providerID string, found bool, err error)
}

// Pinger is implemented by gateways that can verify credentials cheaply.
type Pinger interface {
	Ping(ctx context.Context) error
}
