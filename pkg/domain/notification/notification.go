// Package notification holds the rule and ledger types driving reminder and
// receipt messages.
package notification

import (
	"time"

	"github.com/google/uuid"
)

// Trigger is the event family a rule reacts to.
type Trigger string

const (
	TriggerUserRegistered     Trigger = "user_registered"
	TriggerPaymentReceived    Trigger = "payment_received"
	TriggerPaymentDueReminder Trigger = "payment_due_reminder"
	TriggerPaymentOverdue     Trigger = "payment_overdue"
)

// AnchorRelative reports whether the trigger is computed from the payer's
// monthly due day rather than from an event timestamp.
func (t Trigger) AnchorRelative() bool {
	return t == TriggerPaymentDueReminder || t == TriggerPaymentOverdue
}

// Valid reports whether t is a known trigger.
func (t Trigger) Valid() bool {
	switch t {
	case TriggerUserRegistered, TriggerPaymentReceived, TriggerPaymentDueReminder, TriggerPaymentOverdue:
		return true
	}
	return false
}

// Channel is a delivery medium.
type Channel string

const (
	ChannelEmail    Channel = "email"
	ChannelWhatsApp Channel = "whatsapp"
)

// Outcome is the ledger result of a send attempt.
type Outcome string

const (
	OutcomeClaimed Outcome = "claimed"
	OutcomeSent    Outcome = "sent"
	OutcomeFailed  Outcome = "failed"
)

// Rule is an administrator configured notification.
type Rule struct {
	ID         uuid.UUID
	TenantID   uuid.UUID
	Name       string
	Trigger    Trigger
	DaysOffset int
	Template   string
	Email      bool
	WhatsApp   bool
	Active     bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Channels returns the enabled channels in a stable order.
func (r *Rule) Channels() []Channel {
	var out []Channel
	if r.Email {
		out = append(out, ChannelEmail)
	}
	if r.WhatsApp {
		out = append(out, ChannelWhatsApp)
	}
	return out
}

// Key is the ledger identity of the rule.
func (r *Rule) Key() string { return r.ID.String() }

// ValidateOffset enforces the sign convention of each trigger: overdue
// offsets count days after the due date, event triggers never look back.
func (r *Rule) ValidateOffset() bool {
	switch r.Trigger {
	case TriggerPaymentOverdue:
		return r.DaysOffset > 0
	case TriggerUserRegistered, TriggerPaymentReceived:
		return r.DaysOffset >= 0
	case TriggerPaymentDueReminder:
		return true
	}
	return false
}

// Log is one row of the dedup ledger: at most one per
// (user, rule key, channel, local day).
type Log struct {
	ID       uuid.UUID
	TenantID uuid.UUID
	UserID   uuid.UUID
	RuleKey  string
	Channel  Channel
	Day      string
	SentAt   time.Time
	Outcome  Outcome
	Error    string
}

// DayLayout formats the local calendar day stored in the ledger.
const DayLayout = "2006-01-02"
