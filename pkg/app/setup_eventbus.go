package app

import (
	"context"

	"github.com/amirasaad/ecclesia/pkg/domain/events"
	"github.com/amirasaad/ecclesia/pkg/eventbus"
)

// setupEventBus registers the event handlers. Immediate notifications are
// wrapped so a redelivered event does not dispatch twice in this process;
// the notification ledger covers other replicas.
func (a *App) setupEventBus() {
	bus := a.Deps.EventBus
	logger := a.Deps.Logger
	tracker := eventbus.NewIdempotencyTracker()

	bus.Register(
		events.EventTypePaymentApproved,
		eventbus.WithIdempotency(a.Notifications.HandlePaymentApproved, tracker, eventbus.EventKey, "payment receipt", logger),
	)
	bus.Register(
		events.EventTypePayerRegistered,
		eventbus.WithIdempotency(a.Notifications.HandlePayerRegistered, tracker, eventbus.EventKey, "welcome", logger),
	)

	audit := logger.With("handler", "audit")
	for _, t := range []events.EventType{
		events.EventTypePaymentRefused,
		events.EventTypePaymentRefunded,
		events.EventTypePaymentFlagged,
	} {
		bus.Register(t, func(_ context.Context, e events.Event) error {
			ev, ok := e.(*events.PaymentStatusChanged)
			if !ok {
				return nil
			}
			audit.Info("payment status changed",
				"event", ev.Kind,
				"transaction_id", ev.TransactionID,
				"tenant_id", ev.TenantID,
				"from", ev.From,
				"to", ev.To,
				"manual_refund", ev.ManualRefund,
			)
			return nil
		})
	}
}
