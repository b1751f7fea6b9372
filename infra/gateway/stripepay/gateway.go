// Package stripepay adapts Stripe PaymentIntents and Refunds to the gateway
// contract. It supports card, pix and boleto.
package stripepay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/amirasaad/ecclesia/pkg/config"
	"github.com/amirasaad/ecclesia/pkg/domain"
	"github.com/amirasaad/ecclesia/pkg/domain/transaction"
	"github.com/amirasaad/ecclesia/pkg/gateway"
	"github.com/amirasaad/ecclesia/pkg/money"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
)

const signatureHeader = "Stripe-Signature"

// Gateway implements gateway.Gateway using the Stripe API.
type Gateway struct {
	client *stripe.Client
	cfg    *config.Stripe
	logger *slog.Logger
}

// Option customizes the Stripe client.
type Option func(*options)

type options struct {
	httpClient *http.Client
	baseURL    string
}

// WithHTTPClient sets the HTTP client used for API calls.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.httpClient = c }
}

// WithBaseURL points the client at a different API host.
func WithBaseURL(u string) Option {
	return func(o *options) { o.baseURL = u }
}

// New creates the Stripe gateway with the key for the configured
// environment.
func New(cfg *config.Stripe, logger *slog.Logger, opts ...Option) *Gateway {
	o := options{baseURL: cfg.BaseURL}
	for _, opt := range opts {
		opt(&o)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = gateway.DefaultTimeout
	}
	if o.httpClient == nil {
		o.httpClient = &http.Client{Timeout: timeout}
	}
	backendCfg := &stripe.BackendConfig{
		HTTPClient:        o.httpClient,
		MaxNetworkRetries: stripe.Int64(0),
		LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelNull},
	}
	if o.baseURL != "" {
		backendCfg.URL = stripe.String(o.baseURL)
	}
	client := stripe.NewClient(cfg.ApiKey(), stripe.WithBackends(stripe.NewBackendsWithConfig(backendCfg)))
	return &Gateway{
		client: client,
		cfg:    cfg,
		logger: logger.With("gateway", gateway.KindStripe),
	}
}

// Kind implements gateway.Gateway.
func (g *Gateway) Kind() gateway.Kind { return gateway.KindStripe }

// Supports implements gateway.Gateway.
func (g *Gateway) Supports(method transaction.Method) bool {
	return method.Valid()
}

func (g *Gateway) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	timeout := g.cfg.Timeout
	if timeout <= 0 {
		timeout = gateway.DefaultTimeout
	}
	return context.WithTimeout(ctx, timeout)
}

// Charge creates and confirms a PaymentIntent. The transaction id doubles as
// the Stripe idempotency key so a replayed call never charges twice.
func (g *Gateway) Charge(ctx context.Context, req gateway.ChargeRequest) (gateway.ChargeResult, error) {
	const op = "charge"
	log := g.logger.With(
		"op", op,
		"transaction_id", req.TransactionID,
		"method", req.Method,
		"amount", money.String(req.Amount),
	)
	if !g.Supports(req.Method) {
		return gateway.ChargeResult{}, domain.NewValidationError("method", "unsupported payment method")
	}
	cents, err := money.ToCents(req.Amount)
	if err != nil {
		return gateway.ChargeResult{}, domain.NewValidationError("amount", err.Error())
	}
	currency := strings.ToLower(req.Currency)
	if currency == "" {
		currency = "brl"
	}

	params := &stripe.PaymentIntentCreateParams{
		Amount:             stripe.Int64(cents),
		Currency:           stripe.String(currency),
		PaymentMethodTypes: stripe.StringSlice([]string{string(req.Method)}),
		Confirm:            stripe.Bool(true),
		Metadata: map[string]string{
			"transaction_id": req.TransactionID.String(),
			"payer_id":       req.PayerID.String(),
			"tenant_id":      req.TenantID.String(),
		},
	}
	if req.Description != "" {
		params.Description = stripe.String(req.Description)
	}
	if req.Payer.Email != "" {
		params.ReceiptEmail = stripe.String(req.Payer.Email)
	}
	switch req.Method {
	case transaction.MethodCard:
		if req.PaymentMethodToken == "" {
			return gateway.ChargeResult{}, domain.NewValidationError("payment_method", "card charges require a payment method token")
		}
		params.PaymentMethod = stripe.String(req.PaymentMethodToken)
	case transaction.MethodPix:
		params.PaymentMethodData = &stripe.PaymentIntentCreatePaymentMethodDataParams{
			Type: stripe.String("pix"),
		}
	case transaction.MethodBoleto:
		params.PaymentMethodData = &stripe.PaymentIntentCreatePaymentMethodDataParams{
			Type: stripe.String("boleto"),
			Boleto: &stripe.PaymentMethodBoletoParams{
				TaxID: stripe.String(req.Payer.Document),
			},
			BillingDetails: &stripe.PaymentIntentCreatePaymentMethodDataBillingDetailsParams{
				Name:  stripe.String(req.Payer.Name),
				Email: stripe.String(req.Payer.Email),
			},
		}
	}
	params.SetIdempotencyKey(req.TransactionID.String())

	ctx, cancel := g.withTimeout(ctx)
	defer cancel()
	pi, err := g.client.V1PaymentIntents.Create(ctx, params)
	if err != nil {
		gerr := g.classify(op, err)
		log.Error("stripe: failed to create payment intent", "error", err, "kind", gerr.Kind)
		return gateway.ChargeResult{}, gerr
	}

	res := gateway.ChargeResult{ProviderID: pi.ID, Status: mapIntentStatus(pi.Status)}
	if pi.NextAction != nil {
		if qr := pi.NextAction.PixDisplayQRCode; qr != nil {
			res.PixCopyPaste = qr.Data
			res.RedirectURL = qr.HostedInstructionsURL
		}
		if b := pi.NextAction.BoletoDisplayDetails; b != nil {
			res.BoletoLine = b.Number
			res.RedirectURL = b.HostedVoucherURL
		}
		if r := pi.NextAction.RedirectToURL; r != nil && res.RedirectURL == "" {
			res.RedirectURL = r.URL
		}
	}
	log.Info("stripe: payment intent created", "payment_intent_id", pi.ID, "status", pi.Status)
	return res, nil
}

// Query implements gateway.Gateway.
func (g *Gateway) Query(ctx context.Context, providerID string) (transaction.Status, error) {
	const op = "query"
	ctx, cancel := g.withTimeout(ctx)
	defer cancel()
	params := &stripe.PaymentIntentRetrieveParams{}
	params.AddExpand("latest_charge")
	pi, err := g.client.V1PaymentIntents.Retrieve(ctx, providerID, params)
	if err != nil {
		gerr := g.classify(op, err)
		g.logger.Error("stripe: failed to get payment intent",
			"op", op, "payment_intent_id", providerID, "error", err)
		return "", gerr
	}
	if pi.LatestCharge != nil && pi.LatestCharge.Refunded {
		return transaction.StatusRefunded, nil
	}
	return mapIntentStatus(pi.Status), nil
}

// Locate implements gateway.Locator by searching intents on the
// transaction_id metadata set at charge time. Search results can lag a new
// intent by about a minute, so callers should only locate charges older
// than that.
func (g *Gateway) Locate(ctx context.Context, transactionID uuid.UUID, _ transaction.Method) (string, bool, error) {
	const op = "locate"
	ctx, cancel := g.withTimeout(ctx)
	defer cancel()
	params := &stripe.PaymentIntentSearchParams{
		SearchParams: stripe.SearchParams{
			Query: fmt.Sprintf("metadata['transaction_id']:'%s'", transactionID),
			Limit: stripe.Int64(1),
		},
	}
	for pi, err := range g.client.V1PaymentIntents.Search(ctx, params) {
		if err != nil {
			g.logger.Error("stripe: failed to search payment intents",
				"op", op, "transaction_id", transactionID, "error", err)
			return "", false, g.classify(op, err)
		}
		return pi.ID, true, nil
	}
	return "", false, nil
}

// Cancel refunds a settled intent or cancels one still awaiting payment.
func (g *Gateway) Cancel(ctx context.Context, providerID string, amount decimal.Decimal) (gateway.CancelOutcome, error) {
	const op = "cancel"
	log := g.logger.With("op", op, "payment_intent_id", providerID, "amount", money.String(amount))
	cents, err := money.ToCents(amount)
	if err != nil {
		return gateway.CancelOutcome{}, domain.NewValidationError("amount", err.Error())
	}

	ctx, cancel := g.withTimeout(ctx)
	defer cancel()
	pi, err := g.client.V1PaymentIntents.Retrieve(ctx, providerID, nil)
	if err != nil {
		return gateway.CancelOutcome{}, g.classify(op, err)
	}

	if pi.Status != stripe.PaymentIntentStatusSucceeded {
		canceled, err := g.client.V1PaymentIntents.Cancel(ctx, providerID, nil)
		if err != nil {
			log.Error("stripe: failed to cancel payment intent", "error", err)
			return gateway.CancelOutcome{}, g.classify(op, err)
		}
		log.Info("stripe: payment intent canceled")
		return gateway.CancelOutcome{
			Supported:   true,
			Status:      mapIntentStatus(canceled.Status),
			ReferenceID: canceled.ID,
		}, nil
	}

	params := &stripe.RefundCreateParams{
		PaymentIntent: stripe.String(providerID),
		Amount:        stripe.Int64(cents),
	}
	refund, err := g.client.V1Refunds.Create(ctx, params)
	if err != nil {
		log.Error("stripe: failed to create refund", "error", err)
		return gateway.CancelOutcome{}, g.classify(op, err)
	}
	log.Info("stripe: refund created", "refund_id", refund.ID, "status", refund.Status)
	return gateway.CancelOutcome{
		Supported:   true,
		Status:      transaction.StatusRefunded,
		ReferenceID: refund.ID,
	}, nil
}

// ParseWebhook implements gateway.Gateway. The signature is verified only
// when a signing secret is configured.
func (g *Gateway) ParseWebhook(
	_ context.Context,
	payload []byte,
	headers map[string]string,
) ([]gateway.Event, error) {
	var (
		event stripe.Event
		err   error
	)
	if g.cfg.SigningSecret != "" {
		event, err = webhook.ConstructEventWithOptions(
			payload,
			headerValue(headers, signatureHeader),
			g.cfg.SigningSecret,
			webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true},
		)
		if err != nil {
			return nil, domain.NewValidationError("signature", "invalid webhook signature")
		}
	} else if err = json.Unmarshal(payload, &event); err != nil {
		return nil, domain.NewValidationError("payload", "malformed stripe event")
	}
	if event.Type == "" || event.Data == nil {
		return nil, domain.NewValidationError("payload", "missing event type or data")
	}
	log := g.logger.With("event_type", event.Type, "event_id", event.ID)

	handlers := map[stripe.EventType]func(json.RawMessage) (gateway.Event, error){
		"payment_intent.succeeded":      intentEvent(transaction.StatusApproved),
		"payment_intent.payment_failed": intentEvent(transaction.StatusRefused),
		"payment_intent.canceled":       intentEvent(transaction.StatusRefused),
		"charge.refunded":               chargeRefundedEvent,
	}
	handler, ok := handlers[event.Type]
	if !ok {
		log.Info("stripe: unhandled event type")
		return nil, nil
	}
	ev, err := handler(event.Data.Raw)
	if err != nil {
		log.Warn("stripe: malformed event data", "error", err)
		return nil, domain.NewValidationError("data", err.Error())
	}
	ev.Type = string(event.Type)
	return []gateway.Event{ev}, nil
}

func intentEvent(status transaction.Status) func(json.RawMessage) (gateway.Event, error) {
	return func(raw json.RawMessage) (gateway.Event, error) {
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(raw, &pi); err != nil {
			return gateway.Event{}, fmt.Errorf("payment intent: %w", err)
		}
		if pi.ID == "" {
			return gateway.Event{}, errors.New("payment intent id is empty")
		}
		ev := gateway.Event{ProviderID: pi.ID, Status: status}
		if id, err := uuid.Parse(pi.Metadata["transaction_id"]); err == nil {
			ev.TransactionID = id
		}
		return ev, nil
	}
}

func chargeRefundedEvent(raw json.RawMessage) (gateway.Event, error) {
	var ch stripe.Charge
	if err := json.Unmarshal(raw, &ch); err != nil {
		return gateway.Event{}, fmt.Errorf("charge: %w", err)
	}
	if ch.PaymentIntent == nil || ch.PaymentIntent.ID == "" {
		return gateway.Event{}, errors.New("charge has no payment intent")
	}
	return gateway.Event{ProviderID: ch.PaymentIntent.ID, Status: transaction.StatusRefunded}, nil
}

func mapIntentStatus(s stripe.PaymentIntentStatus) transaction.Status {
	switch s {
	case stripe.PaymentIntentStatusSucceeded:
		return transaction.StatusApproved
	case stripe.PaymentIntentStatusCanceled:
		return transaction.StatusRefused
	default:
		return transaction.StatusPending
	}
}

func (g *Gateway) classify(op string, err error) *gateway.Error {
	if gateway.IsTimeout(err) {
		return gateway.NewError(gateway.ErrorTimeout, gateway.KindStripe, op, err)
	}
	var serr *stripe.Error
	if errors.As(err, &serr) {
		gerr := gateway.NewError(gateway.ErrorRejected, gateway.KindStripe, op, err)
		gerr.Code = string(serr.Code)
		gerr.Status = serr.HTTPStatusCode
		switch {
		case serr.HTTPStatusCode == http.StatusUnauthorized || serr.HTTPStatusCode == http.StatusForbidden:
			gerr.Kind = gateway.ErrorAuth
		case serr.HTTPStatusCode >= http.StatusInternalServerError:
			gerr.Kind = gateway.ErrorTimeout
		}
		return gerr
	}
	return gateway.NewError(gateway.ErrorTimeout, gateway.KindStripe, op, err)
}

func headerValue(headers map[string]string, name string) string {
	if v, ok := headers[name]; ok {
		return v
	}
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}

var (
	_ gateway.Gateway = (*Gateway)(nil)
	_ gateway.Locator = (*Gateway)(nil)
)
