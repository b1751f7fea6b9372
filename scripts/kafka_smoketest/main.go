package main

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	infraeventbus "github.com/amirasaad/ecclesia/infra/eventbus"
	"github.com/amirasaad/ecclesia/pkg/domain/events"
	"github.com/google/uuid"
)

// RunSmokeTest publishes one event of each engine type through the Kafka
// bus and waits until the local consumers receive them all.
func RunSmokeTest() error {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	brokers := strings.TrimSpace(os.Getenv("BROKERS"))
	if brokers == "" {
		brokers = "localhost:9093,localhost:9092"
	}
	groupID := strings.TrimSpace(os.Getenv("GROUP_ID"))
	if groupID == "" {
		groupID = "ecclesia-smoketest-" + uuid.NewString()[:8]
	}

	bus, err := infraeventbus.NewWithKafka(brokers, logger, &infraeventbus.KafkaEventBusConfig{
		GroupID:     groupID,
		TopicPrefix: "ecclesia.smoketest",
	})
	if err != nil {
		logger.Error("bus init failed", "error", err)
		return err
	}
	defer func() { _ = bus.Close() }()

	tenantID, payerID := uuid.New(), uuid.New()
	sample := []events.Event{
		&events.PaymentStatusChanged{
			Kind:          events.EventTypePaymentApproved,
			TransactionID: uuid.New(),
			TenantID:      tenantID,
			PayerID:       payerID,
			Amount:        "10.00",
			Method:        "pix",
			Gateway:       "stripe",
			From:          "pending",
			To:            "approved",
			Source:        "webhook",
			OccurredAt:    time.Now().UTC(),
		},
		&events.PayerRegistered{PayerID: payerID, TenantID: tenantID, OccurredAt: time.Now().UTC()},
	}

	var wg sync.WaitGroup
	for _, ev := range sample {
		wg.Add(1)
		var once sync.Once
		bus.Register(ev.Type(), func(_ context.Context, got events.Event) error {
			logger.Info("consumed", "type", got.Type())
			once.Do(wg.Done)
			return nil
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	for _, ev := range sample {
		if err := bus.Emit(ctx, ev); err != nil {
			logger.Error("emit failed", "type", ev.Type(), "error", err)
			return err
		}
		logger.Info("produced", "type", ev.Type())
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		logger.Error("timed out waiting for consumers", "error", ctx.Err())
		return ctx.Err()
	}

	logger.Info("kafka smoke test passed")
	return nil
}

// main runs the smoke test and exits non-zero on failure.
func main() {
	if err := RunSmokeTest(); err != nil {
		os.Exit(1)
	}
}
