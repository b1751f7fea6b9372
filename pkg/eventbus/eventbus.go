// Package eventbus defines the contract between event producers (the
// transaction state machine) and consumers (notifications, reporting).
package eventbus

import (
	"context"

	"github.com/amirasaad/ecclesia/pkg/domain/events"
)

// HandlerFunc processes a single event.
type HandlerFunc func(ctx context.Context, e events.Event) error

// Bus publishes events and fans them out to registered handlers.
type Bus interface {
	Register(eventType events.EventType, handler HandlerFunc)
	Emit(ctx context.Context, event events.Event) error
}
