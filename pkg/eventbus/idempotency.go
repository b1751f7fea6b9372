package eventbus

import (
	"context"
	"log/slog"
	"sync"

	"github.com/amirasaad/ecclesia/pkg/domain/events"
	"golang.org/x/sync/singleflight"
)

// KeyExtractor extracts an idempotency key from an event. An empty key
// disables the check for that event.
type KeyExtractor func(events.Event) string

// EventKey identifies an event by its type and subject. Redelivered copies
// of the same transition get the same key.
func EventKey(e events.Event) string {
	switch ev := e.(type) {
	case *events.PaymentStatusChanged:
		return string(ev.Kind) + ":" + ev.TransactionID.String()
	case *events.PayerRegistered:
		return string(ev.Type()) + ":" + ev.PayerID.String()
	}
	return ""
}

// IdempotencyTracker tracks processed events by key.
type IdempotencyTracker struct {
	processed sync.Map
	inflight  singleflight.Group
}

// NewIdempotencyTracker creates a new idempotency tracker.
func NewIdempotencyTracker() *IdempotencyTracker {
	return &IdempotencyTracker{}
}

// Processed reports whether key already completed.
func (t *IdempotencyTracker) Processed(key string) bool {
	_, ok := t.processed.Load(key)
	return ok
}

// WithIdempotency runs handler at most once per key. Concurrent deliveries
// of one key wait for the in-flight attempt and share its result; a failed
// attempt leaves the key unmarked so a redelivery retries.
func WithIdempotency(
	handler HandlerFunc,
	tracker *IdempotencyTracker,
	keyExtractor KeyExtractor,
	handlerName string,
	logger *slog.Logger,
) HandlerFunc {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context, e events.Event) error {
		key := keyExtractor(e)
		if key == "" {
			return handler(ctx, e)
		}
		log := logger.With(
			"handler", handlerName,
			"event_type", e.Type(),
			"idempotency_key", key,
		)
		if tracker.Processed(key) {
			log.Info("🔁 [SKIP] Event already processed")
			return nil
		}
		_, err, _ := tracker.inflight.Do(key, func() (any, error) {
			if tracker.Processed(key) {
				return nil, nil
			}
			if err := handler(ctx, e); err != nil {
				return nil, err
			}
			tracker.processed.Store(key, struct{}{})
			return nil, nil
		})
		return err
	}
}
