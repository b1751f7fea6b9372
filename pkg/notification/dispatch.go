package notification

import (
	"context"
	"log/slog"
	"time"

	"github.com/amirasaad/ecclesia/pkg/domain"
	"github.com/amirasaad/ecclesia/pkg/domain/notification"
	"github.com/amirasaad/ecclesia/pkg/domain/payer"
	"github.com/amirasaad/ecclesia/pkg/metrics"
	"github.com/amirasaad/ecclesia/pkg/repository"
	"github.com/google/uuid"
)

// Message is a rendered notification for one recipient.
type Message struct {
	TenantID uuid.UUID
	Payer    *payer.Payer
	RuleKey  string
	Channels []notification.Channel
	Day      string
	Subject  string
	Body     string
	// Render, when set, fills Subject and Body once the first channel claim
	// is won, so a deduplicated message costs no rendering side effects.
	Render func(ctx context.Context) (subject, body string)
}

// Sender delivers a message on one channel.
type Sender interface {
	Channel() notification.Channel
	Send(ctx context.Context, to string, subject, body string) error
}

// DeliveryOutcome extends the ledger outcome with results that never reach
// the ledger.
type DeliveryOutcome string

const (
	DeliverySent         DeliveryOutcome = "sent"
	DeliveryFailed       DeliveryOutcome = "failed"
	DeliveryDeduplicated DeliveryOutcome = "deduplicated"
	DeliverySkipped      DeliveryOutcome = "skipped"
)

// Delivery is the per channel result of Dispatch.
type Delivery struct {
	Channel notification.Channel
	Outcome DeliveryOutcome
	Err     error
}

// Tally aggregates deliveries.
type Tally struct {
	Sent         int
	Failed       int
	Deduplicated int
	Skipped      int
}

// Add counts d.
func (t *Tally) Add(ds ...Delivery) {
	for _, d := range ds {
		switch d.Outcome {
		case DeliverySent:
			t.Sent++
		case DeliveryFailed:
			t.Failed++
		case DeliveryDeduplicated:
			t.Deduplicated++
		case DeliverySkipped:
			t.Skipped++
		}
	}
}

// Merge adds o into t.
func (t *Tally) Merge(o Tally) {
	t.Sent += o.Sent
	t.Failed += o.Failed
	t.Deduplicated += o.Deduplicated
	t.Skipped += o.Skipped
}

// Dispatcher claims a ledger row before every send so concurrent runners,
// with or without the scheduler lock, deliver each message once.
type Dispatcher struct {
	logs    repository.NotificationLogRepository
	senders map[notification.Channel]Sender
	logger  *slog.Logger
	now     func() time.Time
}

// NewDispatcher creates a Dispatcher with the given senders.
func NewDispatcher(logs repository.NotificationLogRepository, logger *slog.Logger, senders ...Sender) *Dispatcher {
	m := make(map[notification.Channel]Sender, len(senders))
	for _, s := range senders {
		m[s.Channel()] = s
	}
	return &Dispatcher{logs: logs, senders: m, logger: logger.With("service", "notification_dispatcher"), now: time.Now}
}

// Dispatch delivers msg on each of its channels. A failing channel never
// blocks the others.
func (d *Dispatcher) Dispatch(ctx context.Context, msg Message) []Delivery {
	out := make([]Delivery, 0, len(msg.Channels))
	for _, ch := range msg.Channels {
		out = append(out, d.deliver(ctx, &msg, ch))
	}
	return out
}

func (d *Dispatcher) deliver(ctx context.Context, msg *Message, ch notification.Channel) Delivery {
	log := d.logger.With("payer_id", msg.Payer.ID, "rule", msg.RuleKey, "channel", ch, "day", msg.Day)
	sender, ok := d.senders[ch]
	if !ok {
		log.Debug("no sender configured for channel")
		metrics.NotificationDispatched(string(ch), string(DeliverySkipped))
		return Delivery{Channel: ch, Outcome: DeliverySkipped}
	}
	to := address(msg.Payer, ch)
	if to == "" {
		log.Debug("payer has no address for channel")
		metrics.NotificationDispatched(string(ch), string(DeliverySkipped))
		return Delivery{Channel: ch, Outcome: DeliverySkipped}
	}

	entry := &notification.Log{
		ID:       uuid.New(),
		TenantID: msg.TenantID,
		UserID:   msg.Payer.ID,
		RuleKey:  msg.RuleKey,
		Channel:  ch,
		Day:      msg.Day,
		SentAt:   d.now(),
		Outcome:  notification.OutcomeClaimed,
	}
	won, err := d.logs.Claim(ctx, entry)
	if err != nil {
		log.Error("failed to claim notification", "error", err)
		metrics.NotificationDispatched(string(ch), string(DeliveryFailed))
		return Delivery{Channel: ch, Outcome: DeliveryFailed, Err: err}
	}
	if !won {
		metrics.NotificationDispatched(string(ch), string(DeliveryDeduplicated))
		return Delivery{Channel: ch, Outcome: DeliveryDeduplicated}
	}
	if msg.Render != nil {
		msg.Subject, msg.Body = msg.Render(ctx)
		msg.Render = nil
	}

	sendErr := sender.Send(ctx, to, msg.Subject, msg.Body)
	outcome, errMsg := notification.OutcomeSent, ""
	if sendErr != nil {
		outcome, errMsg = notification.OutcomeFailed, sendErr.Error()
		log.Warn("notification delivery failed", "error", sendErr)
	}
	domain.TryBestEffort(ctx, log, "complete notification log", func(ctx context.Context) error {
		return d.logs.Complete(ctx, entry.ID, outcome, errMsg)
	})
	metrics.NotificationDispatched(string(ch), string(outcome))
	if sendErr != nil {
		return Delivery{Channel: ch, Outcome: DeliveryFailed, Err: sendErr}
	}
	return Delivery{Channel: ch, Outcome: DeliverySent}
}

func address(p *payer.Payer, ch notification.Channel) string {
	switch ch {
	case notification.ChannelEmail:
		return p.Email
	case notification.ChannelWhatsApp:
		return p.Phone
	}
	return ""
}
