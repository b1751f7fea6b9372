package events

// EventType represents the type of an event in the system.
type EventType string

// Event type constants
const (
	EventTypePaymentCreated  EventType = "Payment.Created"
	EventTypePaymentApproved EventType = "Payment.Approved"
	EventTypePaymentRefused  EventType = "Payment.Refused"
	EventTypePaymentRefunded EventType = "Payment.Refunded"
	EventTypePaymentFlagged  EventType = "Payment.FraudFlagged"

	EventTypePayerRegistered EventType = "Payer.Registered"
)

// Event is implemented by every payload carried on the bus.
type Event interface {
	Type() EventType
}

// EventTypes maps an event type to a constructor used to decode envelopes.
var EventTypes = map[EventType]func() Event{
	EventTypePaymentCreated:  func() Event { return &PaymentStatusChanged{} },
	EventTypePaymentApproved: func() Event { return &PaymentStatusChanged{} },
	EventTypePaymentRefused:  func() Event { return &PaymentStatusChanged{} },
	EventTypePaymentRefunded: func() Event { return &PaymentStatusChanged{} },
	EventTypePaymentFlagged:  func() Event { return &PaymentStatusChanged{} },
	EventTypePayerRegistered: func() Event { return &PayerRegistered{} },
}
