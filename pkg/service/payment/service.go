// Package payment implements the charge flow and provider reconciliation.
package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/amirasaad/ecclesia/pkg/domain"
	"github.com/amirasaad/ecclesia/pkg/domain/transaction"
	"github.com/amirasaad/ecclesia/pkg/gateway"
	"github.com/amirasaad/ecclesia/pkg/idempotency"
	"github.com/amirasaad/ecclesia/pkg/metrics"
	"github.com/amirasaad/ecclesia/pkg/money"
	"github.com/amirasaad/ecclesia/pkg/repository"
	txservice "github.com/amirasaad/ecclesia/pkg/service/transaction"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DefaultAbandonAfter is how long a charge the provider has no record of
// stays pending before it is refused. It matches Stripe's idempotency key
// retention, after which a retried create could charge again.
const DefaultAbandonAfter = 24 * time.Hour

// Options tunes the charge flow.
type Options struct {
	Window   time.Duration
	Timeout  time.Duration
	Currency string
	// AbandonAfter bounds how long an unlocatable pending charge is retried.
	AbandonAfter time.Duration
}

// ChargeInput is a request to charge a payer.
type ChargeInput struct {
	TenantID uuid.UUID
	PayerID  uuid.UUID
	OriginID *uuid.UUID
	Amount   decimal.Decimal
	Method   transaction.Method
	// Gateway selects a variant; empty means the configured default.
	Gateway            string
	PaymentMethodToken string
	Description        string
	Document           string
}

// ChargeResult is returned by Charge. Indeterminate is set when the gateway
// outcome is unknown and the transaction stays pending until reconciled.
type ChargeResult struct {
	Transaction   *transaction.Transaction
	Provider      gateway.ChargeResult
	Duplicate     bool
	Indeterminate bool
}

// ReconcileSummary reports a pending sweep.
type ReconcileSummary struct {
	Checked int
	Applied int
	Failed  int
}

// WebhookSummary reports how provider events were applied.
type WebhookSummary struct {
	Applied int
	Noop    int
	Dropped int
	Unknown int
}

// Service runs charges against the configured gateways.
type Service struct {
	machine  *txservice.Machine
	guard    *idempotency.Guard
	gateways *gateway.Registry
	payers   repository.PayerRepository
	txs      repository.TransactionRepository
	opts     Options
	logger   *slog.Logger
	now      func() time.Time
}

// New creates a Service.
func New(
	machine *txservice.Machine,
	guard *idempotency.Guard,
	gateways *gateway.Registry,
	payers repository.PayerRepository,
	txs repository.TransactionRepository,
	opts Options,
	logger *slog.Logger,
) *Service {
	if opts.Window <= 0 {
		opts.Window = idempotency.DefaultWindow
	}
	if opts.Timeout <= 0 {
		opts.Timeout = gateway.DefaultTimeout
	}
	if opts.Currency == "" {
		opts.Currency = "BRL"
	}
	if opts.AbandonAfter <= 0 {
		opts.AbandonAfter = DefaultAbandonAfter
	}
	return &Service{
		machine:  machine,
		guard:    guard,
		gateways: gateways,
		payers:   payers,
		txs:      txs,
		opts:     opts,
		logger:   logger.With("service", "payment"),
		now:      time.Now,
	}
}

// Charge validates in, rejects retries of an open charge and calls the
// gateway. The pending row is written before the gateway call so a retry
// racing the first attempt is still caught by the guard.
func (s *Service) Charge(ctx context.Context, in ChargeInput) (ChargeResult, error) {
	if err := money.Validate(in.Amount); err != nil {
		return ChargeResult{}, domain.NewValidationError("amount", err.Error())
	}
	if !in.Method.Valid() {
		return ChargeResult{}, domain.NewValidationError("method", "must be one of pix, card, boleto")
	}
	gw, err := s.resolve(in.Gateway)
	if err != nil {
		return ChargeResult{}, err
	}
	if !gw.Supports(in.Method) {
		return ChargeResult{}, domain.NewValidationError(
			"method", fmt.Sprintf("%s is not available on %s", in.Method, gw.Kind()),
		)
	}
	if in.Method == transaction.MethodCard && in.PaymentMethodToken == "" {
		return ChargeResult{}, domain.NewValidationError("payment_method_token", "is required for card")
	}

	p, err := s.payers.Get(ctx, in.PayerID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return ChargeResult{}, domain.NewValidationError("payer_id", "unknown payer")
		}
		return ChargeResult{}, err
	}
	if p.TenantID != in.TenantID {
		return ChargeResult{}, domain.ErrForbidden
	}
	if !p.Active {
		return ChargeResult{}, domain.NewValidationError("payer_id", "payer is inactive")
	}

	log := s.logger.With("payer_id", in.PayerID, "gateway", gw.Kind(), "method", in.Method)

	dup, err := s.guard.CheckDuplicate(ctx, in.PayerID, in.Amount, s.opts.Window)
	if err != nil {
		return ChargeResult{}, fmt.Errorf("idempotency check: %w", err)
	}
	if dup.IsDuplicate {
		metrics.ChargeAttempted(string(gw.Kind()), "duplicate")
		return ChargeResult{Transaction: dup.Existing, Duplicate: true},
			&domain.DuplicateError{ExistingID: dup.Existing.ID.String()}
	}

	tx := &transaction.Transaction{
		ID:       uuid.New(),
		TenantID: in.TenantID,
		PayerID:  in.PayerID,
		OriginID: in.OriginID,
		Amount:   in.Amount,
		Method:   in.Method,
		Status:   transaction.StatusPending,
		Gateway:  string(gw.Kind()),
	}
	req := gateway.ChargeRequest{
		TransactionID:      tx.ID,
		TenantID:           tx.TenantID,
		PayerID:            tx.PayerID,
		Amount:             tx.Amount,
		Currency:           s.opts.Currency,
		Method:             tx.Method,
		Description:        in.Description,
		Payer:              gateway.Payer{Name: p.Name, Email: p.Email, Document: in.Document},
		PaymentMethodToken: in.PaymentMethodToken,
		DueDate:            s.now().AddDate(0, 0, 3),
	}
	if r, ok := gw.(gateway.Referencer); ok {
		if ref := r.Reference(req); ref != "" {
			tx.ProviderTransactionID = &ref
		}
	}
	if err := s.machine.Create(ctx, tx); err != nil {
		return ChargeResult{}, err
	}
	log = log.With("transaction_id", tx.ID)

	callCtx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()
	start := s.now()
	res, err := gw.Charge(callCtx, req)
	metrics.GatewayCallDuration(string(gw.Kind()), "charge", start)
	if err != nil {
		return s.chargeFailed(ctx, log, gw.Kind(), tx, err)
	}

	recorded := tx.ProviderTransactionID != nil && *tx.ProviderTransactionID == res.ProviderID
	if !recorded {
		if err := s.machine.SetProviderID(ctx, tx.ID, res.ProviderID); err != nil {
			// Reconcile locates the charge again from the transaction id.
			log.Error("failed to record provider id", "provider_id", res.ProviderID, "error", err)
		} else {
			providerID := res.ProviderID
			tx.ProviderTransactionID = &providerID
		}
	}

	if res.Status != transaction.StatusPending {
		tr, err := s.machine.Transition(ctx, tx.ID, res.Status, transaction.SourceCharge)
		if err != nil {
			return ChargeResult{}, err
		}
		tx = tr.Transaction
	}
	metrics.ChargeAttempted(string(gw.Kind()), string(tx.Status))
	log.Info("charge submitted", "status", tx.Status, "provider_id", res.ProviderID)
	return ChargeResult{Transaction: tx, Provider: res}, nil
}

func (s *Service) chargeFailed(
	ctx context.Context,
	log *slog.Logger,
	kind gateway.Kind,
	tx *transaction.Transaction,
	err error,
) (ChargeResult, error) {
	if gateway.IsTimeout(err) {
		// Outcome unknown: the provider may have charged. Leave it pending
		// for reconciliation instead of refusing.
		log.Warn("charge outcome indeterminate", "error", err)
		metrics.ChargeAttempted(string(kind), "indeterminate")
		return ChargeResult{Transaction: tx, Indeterminate: true}, nil
	}
	log.Warn("charge failed", "error", err)
	metrics.ChargeAttempted(string(kind), "refused")
	tr, terr := s.machine.Transition(ctx, tx.ID, transaction.StatusRefused, transaction.SourceCharge)
	if terr != nil {
		log.Error("failed to refuse transaction", "error", terr)
		return ChargeResult{Transaction: tx}, err
	}
	return ChargeResult{Transaction: tr.Transaction}, err
}

// Reconcile asks the gateway for the status of id and applies it. A pending
// charge without a provider reference is first located by its transaction
// id; one the provider never received is refused once AbandonAfter passed.
func (s *Service) Reconcile(ctx context.Context, id uuid.UUID) (txservice.Result, error) {
	tx, err := s.machine.Get(ctx, id)
	if err != nil {
		return txservice.Result{}, err
	}
	gw, err := s.resolve(tx.Gateway)
	if err != nil {
		return txservice.Result{}, err
	}
	if tx.ProviderTransactionID == nil {
		res, located, err := s.locate(ctx, gw, tx)
		if err != nil || !located {
			return res, err
		}
		tx = res.Transaction
	}
	callCtx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()
	start := s.now()
	status, err := gw.Query(callCtx, *tx.ProviderTransactionID)
	metrics.GatewayCallDuration(string(gw.Kind()), "query", start)
	if err != nil {
		return txservice.Result{}, err
	}
	return s.machine.Transition(ctx, tx.ID, status, transaction.SourcePoll)
}

// locate recovers the provider reference of tx. located is false when the
// returned result is final for this pass.
func (s *Service) locate(
	ctx context.Context,
	gw gateway.Gateway,
	tx *transaction.Transaction,
) (txservice.Result, bool, error) {
	if tx.Status != transaction.StatusPending {
		return txservice.Result{Transaction: tx, Outcome: txservice.OutcomeNoop}, false, nil
	}
	loc, ok := gw.(gateway.Locator)
	if !ok {
		return txservice.Result{}, false, domain.NewValidationError("transaction", "has no provider reference")
	}
	log := s.logger.With("transaction_id", tx.ID, "gateway", gw.Kind())
	callCtx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()
	start := s.now()
	providerID, found, err := loc.Locate(callCtx, tx.ID, tx.Method)
	metrics.GatewayCallDuration(string(gw.Kind()), "locate", start)
	if err != nil {
		return txservice.Result{}, false, err
	}
	if !found {
		if s.now().Sub(tx.CreatedAt) < s.opts.AbandonAfter {
			log.Info("charge not found at provider yet")
			return txservice.Result{Transaction: tx, Outcome: txservice.OutcomeNoop}, false, nil
		}
		log.Warn("charge never reached the provider, refusing", "created_at", tx.CreatedAt)
		res, err := s.machine.Transition(ctx, tx.ID, transaction.StatusRefused, transaction.SourcePoll)
		return res, false, err
	}
	if err := s.machine.SetProviderID(ctx, tx.ID, providerID); err != nil {
		return txservice.Result{}, false, err
	}
	log.Info("provider reference recovered", "provider_id", providerID)
	tx.ProviderTransactionID = &providerID
	return txservice.Result{Transaction: tx}, true, nil
}

// ReconcilePending queries every pending transaction older than olderThan.
// Individual failures are counted and logged; the sweep continues.
func (s *Service) ReconcilePending(ctx context.Context, olderThan time.Duration, limit int) (ReconcileSummary, error) {
	pending, err := s.txs.ListPending(ctx, s.now().Add(-olderThan), limit)
	if err != nil {
		return ReconcileSummary{}, fmt.Errorf("list pending: %w", err)
	}
	var sum ReconcileSummary
	for _, tx := range pending {
		if ctx.Err() != nil {
			return sum, ctx.Err()
		}
		sum.Checked++
		res, err := s.Reconcile(ctx, tx.ID)
		if err != nil {
			sum.Failed++
			s.logger.Warn("reconcile failed", "transaction_id", tx.ID, "error", err)
			continue
		}
		if res.Outcome == txservice.OutcomeApplied {
			sum.Applied++
		}
	}
	s.logger.Info("pending reconciliation finished",
		"checked", sum.Checked,
		"applied", sum.Applied,
		"failed", sum.Failed,
	)
	return sum, nil
}

// HandleWebhook parses a provider callback and applies each event. An event
// whose provider id is not recorded is matched by the transaction id it
// carries; events matching nothing are ignored so the provider stops retrying.
func (s *Service) HandleWebhook(
	ctx context.Context,
	kind gateway.Kind,
	payload []byte,
	headers map[string]string,
) (WebhookSummary, error) {
	gw, err := s.gateways.Get(kind)
	if err != nil {
		return WebhookSummary{}, err
	}
	evs, err := gw.ParseWebhook(ctx, payload, headers)
	if err != nil {
		return WebhookSummary{}, err
	}
	log := s.logger.With("gateway", kind)
	var sum WebhookSummary
	for _, ev := range evs {
		tx, err := s.webhookTransaction(ctx, kind, ev)
		if errors.Is(err, domain.ErrNotFound) {
			log.Warn("webhook for unknown transaction", "provider_id", ev.ProviderID, "type", ev.Type)
			sum.Unknown++
			continue
		}
		if err != nil {
			return sum, err
		}
		res, err := s.machine.Transition(ctx, tx.ID, ev.Status, transaction.SourceWebhook)
		if err != nil {
			return sum, err
		}
		switch res.Outcome {
		case txservice.OutcomeApplied:
			sum.Applied++
		case txservice.OutcomeNoop:
			sum.Noop++
		case txservice.OutcomeDropped:
			sum.Dropped++
		}
	}
	return sum, nil
}

func (s *Service) webhookTransaction(
	ctx context.Context,
	kind gateway.Kind,
	ev gateway.Event,
) (*transaction.Transaction, error) {
	tx, err := s.machine.GetByProvider(ctx, kind, ev.ProviderID)
	if !errors.Is(err, domain.ErrNotFound) || ev.TransactionID == uuid.Nil {
		return tx, err
	}
	tx, err = s.machine.Get(ctx, ev.TransactionID)
	if err != nil {
		return nil, err
	}
	if tx.Gateway != string(kind) || tx.ProviderTransactionID != nil {
		return nil, domain.ErrNotFound
	}
	if err := s.machine.SetProviderID(ctx, tx.ID, ev.ProviderID); err != nil {
		return nil, err
	}
	s.logger.Info("provider reference recovered from webhook",
		"transaction_id", tx.ID, "provider_id", ev.ProviderID)
	providerID := ev.ProviderID
	tx.ProviderTransactionID = &providerID
	return tx, nil
}

func (s *Service) resolve(name string) (gateway.Gateway, error) {
	if name == "" {
		return s.gateways.Default(), nil
	}
	kind, err := gateway.ParseKind(name)
	if err != nil {
		return nil, err
	}
	return s.gateways.Get(kind)
}
