// Package transaction applies status changes to contribution payments.
//
// Every write is a compare-and-set against the status the caller last read,
// so concurrent webhooks, polls and operator actions converge on a single
// outcome. Provider callbacks that would break the state machine are logged
// and dropped, never surfaced as errors, because providers retry on non-2xx.
package transaction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/amirasaad/ecclesia/pkg/domain"
	"github.com/amirasaad/ecclesia/pkg/domain/events"
	"github.com/amirasaad/ecclesia/pkg/domain/transaction"
	"github.com/amirasaad/ecclesia/pkg/eventbus"
	"github.com/amirasaad/ecclesia/pkg/gateway"
	"github.com/amirasaad/ecclesia/pkg/metrics"
	"github.com/amirasaad/ecclesia/pkg/money"
	"github.com/amirasaad/ecclesia/pkg/repository"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Outcome describes what a transition did.
type Outcome string

const (
	// OutcomeApplied means the status changed.
	OutcomeApplied Outcome = "applied"
	// OutcomeNoop means the transaction was already at the target status.
	OutcomeNoop Outcome = "noop"
	// OutcomeDropped means an invalid provider-sourced transition was ignored.
	OutcomeDropped Outcome = "dropped"
)

// Result is returned by Transition.
type Result struct {
	Transaction *transaction.Transaction
	Outcome     Outcome
}

// RefundRequest asks for a full or partial refund of an approved payment.
type RefundRequest struct {
	ID       uuid.UUID
	Amount   decimal.Decimal
	Reason   string
	Operator uuid.UUID
}

// RefundResult reports the refund outcome. ManualActionRequired is set when
// the gateway cannot refund and an operator must complete it out of band.
type RefundResult struct {
	Transaction          *transaction.Transaction
	ManualActionRequired bool
}

// Machine owns every status write.
type Machine struct {
	transactions repository.TransactionRepository
	gateways     *gateway.Registry
	bus          eventbus.Bus
	logger       *slog.Logger
	now          func() time.Time
}

// New creates a Machine.
func New(
	transactions repository.TransactionRepository,
	gateways *gateway.Registry,
	bus eventbus.Bus,
	logger *slog.Logger,
) *Machine {
	return &Machine{
		transactions: transactions,
		gateways:     gateways,
		bus:          bus,
		logger:       logger.With("service", "transaction"),
		now:          time.Now,
	}
}

// Create stores a new transaction. Only pending, or approved for instantly
// settled methods, are valid initial statuses.
func (m *Machine) Create(ctx context.Context, tx *transaction.Transaction) error {
	if tx.Status != transaction.StatusPending && tx.Status != transaction.StatusApproved {
		return domain.NewValidationError("status", "a transaction starts pending or approved")
	}
	if err := money.Validate(tx.Amount); err != nil {
		return domain.NewValidationError("amount", err.Error())
	}
	if tx.ID == uuid.Nil {
		tx.ID = uuid.New()
	}
	if err := m.transactions.Create(ctx, tx); err != nil {
		return fmt.Errorf("create transaction: %w", err)
	}
	m.emit(ctx, events.EventTypePaymentCreated, tx, "", transaction.SourceCharge)
	if tx.Status == transaction.StatusApproved {
		m.emit(ctx, events.EventTypePaymentApproved, tx, "", transaction.SourceCharge)
	}
	return nil
}

// Transition moves id to status to. Re-delivery of a transition that
// already happened is a no-op. An invalid transition is a
// StateConflictError for operator and charge sources and a dropped result
// for webhook and poll sources.
func (m *Machine) Transition(
	ctx context.Context,
	id uuid.UUID,
	to transaction.Status,
	source transaction.Source,
) (Result, error) {
	log := m.logger.With("transaction_id", id, "to", to, "source", source)
	cur, err := m.transactions.Get(ctx, id)
	if err != nil {
		return Result{}, err
	}
	if cur.Status == to {
		metrics.Transition(string(source), string(OutcomeNoop))
		return Result{Transaction: cur, Outcome: OutcomeNoop}, nil
	}
	if !transaction.CanTransition(cur.Status, to) {
		return m.reject(log, cur, to, source)
	}

	from := cur.Status
	ok, err := m.transactions.CompareAndSetStatus(ctx, id, from, to, repository.TransactionPatch{})
	if err != nil {
		return Result{}, fmt.Errorf("transition %s: %w", id, err)
	}
	if !ok {
		// Someone else wrote first; judge against the winner.
		cur, err = m.transactions.Get(ctx, id)
		if err != nil {
			return Result{}, err
		}
		if cur.Status == to {
			metrics.Transition(string(source), string(OutcomeNoop))
			return Result{Transaction: cur, Outcome: OutcomeNoop}, nil
		}
		return m.reject(log, cur, to, source)
	}

	cur.Status = to
	cur.UpdatedAt = m.now()
	log.Info("transaction status changed", "from", from)
	metrics.Transition(string(source), string(OutcomeApplied))
	m.emit(ctx, eventTypeFor(to), cur, from, source)
	return Result{Transaction: cur, Outcome: OutcomeApplied}, nil
}

func (m *Machine) reject(
	log *slog.Logger,
	cur *transaction.Transaction,
	to transaction.Status,
	source transaction.Source,
) (Result, error) {
	if source == transaction.SourceWebhook || source == transaction.SourcePoll {
		log.Warn("dropping invalid provider transition", "current", cur.Status)
		metrics.Transition(string(source), string(OutcomeDropped))
		return Result{Transaction: cur, Outcome: OutcomeDropped}, nil
	}
	metrics.Transition(string(source), "conflict")
	return Result{}, &domain.StateConflictError{
		ID:   cur.ID.String(),
		From: string(cur.Status),
		To:   string(to),
	}
}

// Refund refunds an approved transaction. The gateway is called before the
// status write and no lock is held across that call.
func (m *Machine) Refund(ctx context.Context, req RefundRequest) (RefundResult, error) {
	log := m.logger.With("transaction_id", req.ID, "operator", req.Operator, "amount", money.String(req.Amount))
	if req.Reason == "" {
		return RefundResult{}, domain.NewValidationError("reason", "is required")
	}
	if err := money.Validate(req.Amount); err != nil {
		return RefundResult{}, domain.NewValidationError("amount", err.Error())
	}
	tx, err := m.transactions.Get(ctx, req.ID)
	if err != nil {
		return RefundResult{}, err
	}
	if err := transaction.ValidateRefund(tx, req.Amount); err != nil {
		return RefundResult{}, err
	}
	if tx.ProviderTransactionID == nil {
		return RefundResult{}, domain.NewValidationError("transaction", "has no provider reference to refund")
	}
	kind, err := gateway.ParseKind(tx.Gateway)
	if err != nil {
		return RefundResult{}, err
	}
	gw, err := m.gateways.Get(kind)
	if err != nil {
		return RefundResult{}, err
	}

	start := m.now()
	outcome, err := gw.Cancel(ctx, *tx.ProviderTransactionID, req.Amount)
	metrics.GatewayCallDuration(string(kind), "cancel", start)
	if err != nil {
		log.Error("gateway refund failed", "error", err)
		return RefundResult{}, err
	}
	manual := outcome.ManualActionRequired
	if manual {
		log.Warn("gateway cannot refund; recorded locally, manual action required",
			"gateway", kind,
			"provider_id", *tx.ProviderTransactionID,
		)
	}

	reason := req.Reason
	amount := req.Amount
	patch := repository.TransactionPatch{
		RefundReason:        &reason,
		RefundAmount:        &amount,
		ManualRefundPending: &manual,
	}
	ok, err := m.transactions.CompareAndSetStatus(ctx, tx.ID, transaction.StatusApproved, transaction.StatusRefunded, patch)
	if err != nil {
		return RefundResult{}, fmt.Errorf("refund %s: %w", tx.ID, err)
	}
	if !ok {
		cur, err := m.transactions.Get(ctx, tx.ID)
		if err != nil {
			return RefundResult{}, err
		}
		if cur.Status == transaction.StatusRefunded {
			// A provider refund callback landed between the gateway call and
			// the write.
			log.Info("refund already recorded")
			return RefundResult{Transaction: cur, ManualActionRequired: manual}, nil
		}
		return RefundResult{}, &domain.StateConflictError{
			ID:   cur.ID.String(),
			From: string(cur.Status),
			To:   string(transaction.StatusRefunded),
		}
	}

	tx.Status = transaction.StatusRefunded
	tx.RefundReason = &reason
	tx.RefundAmount = &amount
	tx.ManualRefundPending = manual
	tx.UpdatedAt = m.now()
	log.Info("transaction refunded", "manual", manual)
	metrics.Transition(string(transaction.SourceOperator), string(OutcomeApplied))
	m.emit(ctx, events.EventTypePaymentRefunded, tx, transaction.StatusApproved, transaction.SourceOperator)
	return RefundResult{Transaction: tx, ManualActionRequired: manual}, nil
}

// MarkFraud flags a transaction and forces it to refused from any status.
func (m *Machine) MarkFraud(
	ctx context.Context,
	id uuid.UUID,
	operator uuid.UUID,
	reason string,
) (*transaction.Transaction, error) {
	if operator == uuid.Nil {
		return nil, domain.ErrForbidden
	}
	if reason == "" {
		return nil, domain.NewValidationError("reason", "is required")
	}
	cur, err := m.transactions.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	at := m.now()
	fraud := transaction.Fraud{Flagged: true, MarkedBy: &operator, MarkedAt: &at, Reason: reason}
	if err := m.transactions.MarkFraud(ctx, id, fraud); err != nil {
		return nil, fmt.Errorf("mark fraud %s: %w", id, err)
	}
	from := cur.Status
	cur.Fraud = fraud
	cur.Status = transaction.StatusRefused
	cur.UpdatedAt = at
	m.logger.Warn("transaction flagged as fraud",
		"transaction_id", id,
		"operator", operator,
		"previous_status", from,
	)
	m.emit(ctx, events.EventTypePaymentFlagged, cur, from, transaction.SourceOperator)
	if from != transaction.StatusRefused {
		m.emit(ctx, events.EventTypePaymentRefused, cur, from, transaction.SourceOperator)
	}
	return cur, nil
}

// SetProviderID records the gateway reference of a charge.
func (m *Machine) SetProviderID(ctx context.Context, id uuid.UUID, providerID string) error {
	return m.transactions.SetProviderID(ctx, id, providerID)
}

// Get returns a transaction.
func (m *Machine) Get(ctx context.Context, id uuid.UUID) (*transaction.Transaction, error) {
	return m.transactions.Get(ctx, id)
}

// GetByProvider resolves a transaction from its gateway reference.
func (m *Machine) GetByProvider(ctx context.Context, kind gateway.Kind, providerID string) (*transaction.Transaction, error) {
	return m.transactions.GetByProviderID(ctx, string(kind), providerID)
}

func eventTypeFor(to transaction.Status) events.EventType {
	switch to {
	case transaction.StatusApproved:
		return events.EventTypePaymentApproved
	case transaction.StatusRefused:
		return events.EventTypePaymentRefused
	case transaction.StatusRefunded:
		return events.EventTypePaymentRefunded
	}
	return events.EventTypePaymentCreated
}

// emit publishes after the durable write. A bus failure never undoes the
// transition.
func (m *Machine) emit(
	ctx context.Context,
	kind events.EventType,
	tx *transaction.Transaction,
	from transaction.Status,
	source transaction.Source,
) {
	if m.bus == nil {
		return
	}
	ev := &events.PaymentStatusChanged{
		Kind:          kind,
		TransactionID: tx.ID,
		TenantID:      tx.TenantID,
		PayerID:       tx.PayerID,
		Amount:        money.String(tx.Amount),
		Method:        string(tx.Method),
		Gateway:       tx.Gateway,
		From:          string(from),
		To:            string(tx.Status),
		Source:        string(source),
		ManualRefund:  tx.ManualRefundPending,
		OccurredAt:    m.now(),
	}
	domain.TryBestEffort(ctx, m.logger, "emit "+string(kind), func(ctx context.Context) error {
		if err := m.bus.Emit(ctx, ev); err != nil {
			return errors.Join(errors.New("event bus emit failed"), err)
		}
		return nil
	})
}
