// Package notification decides which payers a rule targets on a given day,
// renders the message and delivers it at most once per payer, rule,
// channel and local day.
package notification

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/amirasaad/ecclesia/pkg/domain/notification"
	"github.com/amirasaad/ecclesia/pkg/domain/payer"
	"github.com/amirasaad/ecclesia/pkg/repository"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Recipient is a payer selected by a rule for today.
type Recipient struct {
	Payer   *payer.Payer
	DueDate time.Time
	// Amount and TransactionID are set for payment_received rules.
	Amount        *decimal.Decimal
	TransactionID uuid.UUID
}

// Engine evaluates rules against the payer and transaction stores.
type Engine struct {
	payers repository.PayerRepository
	txs    repository.TransactionRepository
	logger *slog.Logger
}

// NewEngine creates an Engine.
func NewEngine(payers repository.PayerRepository, txs repository.TransactionRepository, logger *slog.Logger) *Engine {
	return &Engine{payers: payers, txs: txs, logger: logger.With("service", "notification_engine")}
}

// Due returns the recipients rule fires for on the local calendar day of
// now in the tenant timezone.
func (e *Engine) Due(ctx context.Context, tenant *payer.Tenant, rule *notification.Rule, now time.Time) ([]Recipient, error) {
	if !rule.Active {
		return nil, nil
	}
	loc := tenant.Location()
	today := localDay(now, loc)

	switch rule.Trigger {
	case notification.TriggerPaymentDueReminder, notification.TriggerPaymentOverdue:
		return e.anchorDue(ctx, tenant, rule, today, loc)
	case notification.TriggerUserRegistered:
		return e.registeredDue(ctx, tenant, rule, today, loc)
	case notification.TriggerPaymentReceived:
		return e.receivedDue(ctx, tenant, rule, today, loc)
	}
	return nil, fmt.Errorf("unknown trigger %q", rule.Trigger)
}

func (e *Engine) anchorDue(
	ctx context.Context,
	tenant *payer.Tenant,
	rule *notification.Rule,
	today time.Time,
	loc *time.Location,
) ([]Recipient, error) {
	payers, err := e.payers.ListActive(ctx, tenant.ID)
	if err != nil {
		return nil, fmt.Errorf("list payers: %w", err)
	}
	var out []Recipient
	for _, p := range payers {
		if p.DueDay < 1 || p.DueDay > 31 {
			continue
		}
		// A reminder may target next month's due date and an overdue
		// notice last month's.
		for _, shift := range []int{-1, 0, 1} {
			due := DueDate(today.Year(), today.Month()+time.Month(shift), p.DueDay, loc)
			if sameDay(due.AddDate(0, 0, rule.DaysOffset), today) {
				out = append(out, Recipient{Payer: p, DueDate: due})
				break
			}
		}
	}
	return out, nil
}

func (e *Engine) registeredDue(
	ctx context.Context,
	tenant *payer.Tenant,
	rule *notification.Rule,
	today time.Time,
	loc *time.Location,
) ([]Recipient, error) {
	payers, err := e.payers.ListActive(ctx, tenant.ID)
	if err != nil {
		return nil, fmt.Errorf("list payers: %w", err)
	}
	var out []Recipient
	for _, p := range payers {
		if p.RegisteredAt.IsZero() {
			continue
		}
		if sameDay(localDay(p.RegisteredAt, loc).AddDate(0, 0, rule.DaysOffset), today) {
			out = append(out, Recipient{Payer: p})
		}
	}
	return out, nil
}

func (e *Engine) receivedDue(
	ctx context.Context,
	tenant *payer.Tenant,
	rule *notification.Rule,
	today time.Time,
	loc *time.Location,
) ([]Recipient, error) {
	from := today.AddDate(0, 0, -rule.DaysOffset)
	txs, err := e.txs.ListApprovedBetween(ctx, tenant.ID, from, from.AddDate(0, 0, 1))
	if err != nil {
		return nil, fmt.Errorf("list approved transactions: %w", err)
	}
	var out []Recipient
	for _, tx := range txs {
		p, err := e.payers.Get(ctx, tx.PayerID)
		if err != nil {
			e.logger.Warn("skipping receipt for unknown payer", "payer_id", tx.PayerID, "error", err)
			continue
		}
		if !p.Active {
			continue
		}
		amount := tx.Amount
		out = append(out, Recipient{Payer: p, Amount: &amount, TransactionID: tx.ID})
	}
	return out, nil
}

// DueDate returns the due day of the given month at local midnight,
// clamped to the last day of shorter months. month may be out of range and
// is normalized the way time.Date does.
func DueDate(year int, month time.Month, day int, loc *time.Location) time.Time {
	first := time.Date(year, month, 1, 0, 0, 0, 0, loc)
	last := first.AddDate(0, 1, -1).Day()
	if day > last {
		day = last
	}
	return time.Date(first.Year(), first.Month(), day, 0, 0, 0, 0, loc)
}

func localDay(t time.Time, loc *time.Location) time.Time {
	l := t.In(loc)
	return time.Date(l.Year(), l.Month(), l.Day(), 0, 0, 0, 0, loc)
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// Day formats the ledger day of now in loc.
func Day(now time.Time, loc *time.Location) string {
	return now.In(loc).Format(notification.DayLayout)
}
