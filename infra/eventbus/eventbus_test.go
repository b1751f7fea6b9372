package eventbus

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/amirasaad/ecclesia/pkg/domain/events"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryEventBus_DispatchesByType(t *testing.T) {
	bus := NewWithMemory(slog.Default())

	var approved, refused int
	bus.Register(events.EventTypePaymentApproved, func(ctx context.Context, e events.Event) error {
		approved++
		return nil
	})
	bus.Register(events.EventTypePaymentRefused, func(ctx context.Context, e events.Event) error {
		refused++
		return errors.New("handler failure is swallowed")
	})

	require.NoError(t, bus.Emit(context.Background(), &events.PaymentStatusChanged{Kind: events.EventTypePaymentApproved}))
	require.NoError(t, bus.Emit(context.Background(), &events.PaymentStatusChanged{Kind: events.EventTypePaymentRefused}))

	assert.Equal(t, 1, approved)
	assert.Equal(t, 1, refused)
	assert.Len(t, bus.Published(), 2)
}

func TestMemoryEventBus_RecoversPanics(t *testing.T) {
	bus := NewWithMemory(slog.Default())
	bus.Register(events.EventTypePaymentApproved, func(ctx context.Context, e events.Event) error {
		panic("boom")
	})
	assert.NotPanics(t, func() {
		_ = bus.Emit(context.Background(), &events.PaymentStatusChanged{Kind: events.EventTypePaymentApproved})
	})
}

func TestEnvelope_RoundTrip(t *testing.T) {
	in := &events.PaymentStatusChanged{
		Kind:          events.EventTypePaymentRefunded,
		TransactionID: uuid.New(),
		Amount:        "10.00",
		To:            "refunded",
		ManualRefund:  true,
		OccurredAt:    time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	raw, err := encodeEnvelope(in)
	require.NoError(t, err)

	out, err := decodeEnvelope(raw)
	require.NoError(t, err)
	assert.Equal(t, in, out)

	_, err = decodeEnvelope([]byte(`{"type":"Nope","payload":{}}`))
	assert.Error(t, err)
}

func TestTopicNames(t *testing.T) {
	assert.Equal(t, "ecclesia.events.payment.approved", topicNameFor("ecclesia.events", events.EventTypePaymentApproved))
	assert.Equal(t, "ecclesia.events.dlq.payment.approved", dlqTopicNameFor("ecclesia.events", events.EventTypePaymentApproved))
	assert.Equal(t, []string{"a:9092", "b:9092"}, parseBrokers(" a:9092, ,b:9092"))
}
