package eventbus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/amirasaad/ecclesia/pkg/domain/events"
	"github.com/amirasaad/ecclesia/pkg/eventbus"
	"github.com/segmentio/kafka-go"
)

// KafkaEventBusConfig holds configuration for the Kafka event bus.
type KafkaEventBusConfig struct {
	GroupID     string
	TopicPrefix string
}

// DefaultKafkaEventBusConfig returns default configuration for KafkaEventBus.
func DefaultKafkaEventBusConfig() *KafkaEventBusConfig {
	return &KafkaEventBusConfig{
		GroupID:     "ecclesia",
		TopicPrefix: "ecclesia.events",
	}
}

// KafkaEventBus publishes one topic per event type so that report consumers
// outside this process can follow transaction history. Handlers registered
// locally are fed by a consumer group reader per type.
type KafkaEventBus struct {
	brokers []string
	writer  *kafka.Writer
	config  *KafkaEventBusConfig
	logger  *slog.Logger

	handlersMtx sync.RWMutex
	handlers    map[events.EventType][]eventbus.HandlerFunc

	readersMtx sync.Mutex
	readers    map[events.EventType]*kafka.Reader

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewWithKafka creates a Kafka backed bus from a comma separated broker list.
func NewWithKafka(
	brokers string,
	logger *slog.Logger,
	config *KafkaEventBusConfig,
) (*KafkaEventBus, error) {
	parsed := parseBrokers(brokers)
	if len(parsed) == 0 {
		return nil, fmt.Errorf("kafka event bus: brokers are required")
	}
	if config == nil {
		config = DefaultKafkaEventBusConfig()
	}
	if strings.TrimSpace(config.TopicPrefix) == "" {
		config.TopicPrefix = "ecclesia.events"
	}
	if config.GroupID == "" {
		config.GroupID = "ecclesia"
	}

	ctx, cancel := context.WithCancel(context.Background())
	bus := &KafkaEventBus{
		brokers: parsed,
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(parsed...),
			AllowAutoTopicCreation: true,
			RequiredAcks:           kafka.RequireOne,
			Balancer:               &kafka.Hash{},
		},
		config:   config,
		logger:   logger.With("bus", "kafka"),
		handlers: make(map[events.EventType][]eventbus.HandlerFunc),
		readers:  make(map[events.EventType]*kafka.Reader),
		ctx:      ctx,
		cancel:   cancel,
	}
	bus.logger.Info("Kafka event bus initialized", "brokers", parsed, "group_id", config.GroupID)
	return bus, nil
}

// Close stops consumers and flushes the writer.
func (b *KafkaEventBus) Close() error {
	b.cancel()
	b.readersMtx.Lock()
	for _, r := range b.readers {
		_ = r.Close()
	}
	b.readersMtx.Unlock()
	b.wg.Wait()
	return b.writer.Close()
}

// Register registers a handler and starts the consumer for its type.
func (b *KafkaEventBus) Register(eventType events.EventType, handler eventbus.HandlerFunc) {
	b.handlersMtx.Lock()
	b.handlers[eventType] = append(b.handlers[eventType], handler)
	b.handlersMtx.Unlock()
	b.ensureConsumer(eventType)
}

// Emit publishes an event to its topic keyed by event type.
func (b *KafkaEventBus) Emit(ctx context.Context, event events.Event) error {
	raw, err := encodeEnvelope(event)
	if err != nil {
		return err
	}
	msg := kafka.Message{
		Topic: topicNameFor(b.config.TopicPrefix, event.Type()),
		Key:   []byte(event.Type()),
		Value: raw,
		Time:  time.Now(),
	}
	if err := b.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka event bus: publish failed: %w", err)
	}
	return nil
}

func (b *KafkaEventBus) ensureConsumer(eventType events.EventType) {
	b.readersMtx.Lock()
	defer b.readersMtx.Unlock()
	if _, ok := b.readers[eventType]; ok {
		return
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     b.brokers,
		GroupID:     b.config.GroupID,
		Topic:       topicNameFor(b.config.TopicPrefix, eventType),
		StartOffset: kafka.FirstOffset,
		MinBytes:    1,
		MaxBytes:    10e6,
		MaxWait:     time.Second,
	})
	b.readers[eventType] = reader

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.consumeLoop(eventType, reader)
	}()
}

func (b *KafkaEventBus) consumeLoop(eventType events.EventType, reader *kafka.Reader) {
	for {
		msg, err := reader.FetchMessage(b.ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || b.ctx.Err() != nil {
				return
			}
			b.logger.Error("kafka consume error", "error", err, "event_type", eventType)
			time.Sleep(500 * time.Millisecond)
			continue
		}
		b.process(eventType, msg)
		if err := reader.CommitMessages(b.ctx, msg); err != nil {
			b.logger.Error("kafka commit error", "error", err, "topic", msg.Topic, "offset", msg.Offset)
		}
	}
}

// process runs handlers for one message; failed messages go to the DLQ
// topic so the partition keeps moving.
func (b *KafkaEventBus) process(eventType events.EventType, msg kafka.Message) {
	evt, err := decodeEnvelope(msg.Value)
	if err != nil {
		b.logger.Error("dropping undecodable message", "error", err, "topic", msg.Topic, "offset", msg.Offset)
		return
	}
	b.handlersMtx.RLock()
	handlers := append([]eventbus.HandlerFunc(nil), b.handlers[eventType]...)
	b.handlersMtx.RUnlock()

	failed := false
	for _, h := range handlers {
		if err := h(b.ctx, evt); err != nil {
			failed = true
			b.logger.Error("handler error", "error", err, "event_type", eventType, "offset", msg.Offset)
		}
	}
	if !failed {
		return
	}
	dlq := kafka.Message{
		Topic: dlqTopicNameFor(b.config.TopicPrefix, eventType),
		Key:   msg.Key,
		Value: msg.Value,
		Time:  time.Now(),
	}
	if err := b.writer.WriteMessages(b.ctx, dlq); err != nil {
		b.logger.Error("kafka dlq publish failed", "error", err, "event_type", eventType)
		return
	}
	b.logger.Warn("message sent to DLQ", "event_type", eventType, "dlq_topic", dlq.Topic)
}

func parseBrokers(brokers string) []string {
	var out []string
	for _, b := range strings.Split(brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

func topicNameFor(prefix string, eventType events.EventType) string {
	return fmt.Sprintf("%s.%s", prefix, strings.ToLower(string(eventType)))
}

func dlqTopicNameFor(prefix string, eventType events.EventType) string {
	return fmt.Sprintf("%s.dlq.%s", prefix, strings.ToLower(string(eventType)))
}

var _ eventbus.Bus = (*KafkaEventBus)(nil)
