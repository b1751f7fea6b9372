package eventbus_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/amirasaad/ecclesia/pkg/domain/events"
	"github.com/amirasaad/ecclesia/pkg/eventbus"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func approved(id uuid.UUID) *events.PaymentStatusChanged {
	return &events.PaymentStatusChanged{Kind: events.EventTypePaymentApproved, TransactionID: id}
}

func TestEventKey(t *testing.T) {
	id := uuid.New()
	assert.Equal(t, "Payment.Approved:"+id.String(), eventbus.EventKey(approved(id)))
	assert.Equal(t, "Payer.Registered:"+id.String(), eventbus.EventKey(&events.PayerRegistered{PayerID: id}))

	refused := &events.PaymentStatusChanged{Kind: events.EventTypePaymentRefused, TransactionID: id}
	assert.NotEqual(t, eventbus.EventKey(approved(id)), eventbus.EventKey(refused))
}

func TestWithIdempotency(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("runs once per key", func(t *testing.T) {
		t.Parallel()
		var calls atomic.Int32
		h := eventbus.WithIdempotency(func(context.Context, events.Event) error {
			calls.Add(1)
			return nil
		}, eventbus.NewIdempotencyTracker(), eventbus.EventKey, "receipt", nil)

		ev := approved(uuid.New())
		var wg sync.WaitGroup
		for range 8 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				assert.NoError(t, h(ctx, ev))
			}()
		}
		wg.Wait()
		require.NoError(t, h(ctx, ev))
		assert.Equal(t, int32(1), calls.Load())

		require.NoError(t, h(ctx, approved(uuid.New())))
		assert.Equal(t, int32(2), calls.Load())
	})

	t.Run("failure allows retry", func(t *testing.T) {
		t.Parallel()
		var calls atomic.Int32
		tracker := eventbus.NewIdempotencyTracker()
		h := eventbus.WithIdempotency(func(context.Context, events.Event) error {
			if calls.Add(1) == 1 {
				return errors.New("smtp down")
			}
			return nil
		}, tracker, eventbus.EventKey, "receipt", nil)

		ev := approved(uuid.New())
		assert.Error(t, h(ctx, ev))
		assert.False(t, tracker.Processed(eventbus.EventKey(ev)))
		assert.NoError(t, h(ctx, ev))
		assert.True(t, tracker.Processed(eventbus.EventKey(ev)))
	})

	t.Run("empty key bypasses tracking", func(t *testing.T) {
		t.Parallel()
		var calls atomic.Int32
		h := eventbus.WithIdempotency(func(context.Context, events.Event) error {
			calls.Add(1)
			return nil
		}, eventbus.NewIdempotencyTracker(), func(events.Event) string { return "" }, "any", nil)
		ev := approved(uuid.New())
		require.NoError(t, h(ctx, ev))
		require.NoError(t, h(ctx, ev))
		assert.Equal(t, int32(2), calls.Load())
	})
}
