// Package app wires the engine services from their dependencies.
package app

import (
	"context"
	"log/slog"

	"github.com/amirasaad/ecclesia/pkg/config"
	"github.com/amirasaad/ecclesia/pkg/domain/payer"
	"github.com/amirasaad/ecclesia/pkg/eventbus"
	"github.com/amirasaad/ecclesia/pkg/gateway"
	"github.com/amirasaad/ecclesia/pkg/idempotency"
	"github.com/amirasaad/ecclesia/pkg/lock"
	"github.com/amirasaad/ecclesia/pkg/notification"
	"github.com/amirasaad/ecclesia/pkg/ratelimit"
	"github.com/amirasaad/ecclesia/pkg/repository"
	"github.com/amirasaad/ecclesia/pkg/scheduler"
	"github.com/amirasaad/ecclesia/pkg/service/payment"
	"github.com/amirasaad/ecclesia/pkg/service/token"
	txservice "github.com/amirasaad/ecclesia/pkg/service/transaction"
)

// AddressLookup resolves postal codes.
type AddressLookup interface {
	Lookup(ctx context.Context, code string) (*payer.Address, error)
}

// Pinger is a sender that can check its provider connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps contains the infrastructure the services are built from.
type Deps struct {
	Transactions     repository.TransactionRepository
	Tokens           repository.TokenRepository
	Payers           repository.PayerRepository
	Rules            repository.RuleRepository
	NotificationLogs repository.NotificationLogRepository
	Gateways         *gateway.Registry
	EventBus         eventbus.Bus
	Locker           lock.Locker
	RateLimitStore   ratelimit.Store
	Senders          []notification.Sender
	WhatsApp         Pinger
	Postal           AddressLookup
	Logger           *slog.Logger
}

// App holds the services used by the HTTP surface and the CLI.
type App struct {
	Deps          *Deps
	Config        *config.App
	Transactions  *txservice.Machine
	Payments      *payment.Service
	Tokens        *token.Service
	Notifications *notification.Service
	Scheduler     *scheduler.Scheduler
	Limiter       *ratelimit.Limiter
}

// New builds every service and registers the event handlers.
func New(deps *Deps, cfg *config.App) *App {
	logger := deps.Logger
	a := &App{Deps: deps, Config: cfg}

	a.Transactions = txservice.New(deps.Transactions, deps.Gateways, deps.EventBus, logger)
	a.Payments = payment.New(
		a.Transactions,
		idempotency.New(deps.Transactions, logger),
		deps.Gateways,
		deps.Payers,
		deps.Transactions,
		payment.Options{Window: cfg.Idempotency.Window},
		logger,
	)
	a.Tokens = token.New(deps.Tokens, deps.Payers, cfg.Token.TTL, cfg.Token.LinkURL, logger)
	a.Notifications = notification.NewService(
		notification.NewEngine(deps.Payers, deps.Transactions, logger),
		notification.NewDispatcher(deps.NotificationLogs, logger, deps.Senders...),
		deps.Rules,
		deps.Payers,
		a.Tokens,
		logger,
	)
	a.Scheduler = scheduler.New(
		deps.Locker,
		deps.Payers,
		a.Notifications,
		scheduler.Deps{Tokens: a.Tokens, Reconciler: a.Payments, Logs: deps.NotificationLogs},
		*cfg.Scheduler,
		logger,
	)
	a.Limiter = ratelimit.New(deps.RateLimitStore, logger)

	a.setupEventBus()
	return a
}
