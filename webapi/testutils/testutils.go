// Package testutils builds a fully wired HTTP app on in-memory
// infrastructure for handler tests.
package testutils

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"

	infracache "github.com/amirasaad/ecclesia/infra/cache"
	infraeventbus "github.com/amirasaad/ecclesia/infra/eventbus"
	infralock "github.com/amirasaad/ecclesia/infra/lock"
	"github.com/amirasaad/ecclesia/infra/postal"
	infraratelimit "github.com/amirasaad/ecclesia/infra/ratelimit"
	"github.com/amirasaad/ecclesia/infra/repository/memory"
	"github.com/amirasaad/ecclesia/pkg/app"
	"github.com/amirasaad/ecclesia/pkg/config"
	"github.com/amirasaad/ecclesia/pkg/domain/notification"
	"github.com/amirasaad/ecclesia/pkg/domain/payer"
	"github.com/amirasaad/ecclesia/pkg/gateway"
	"github.com/amirasaad/ecclesia/pkg/gateway/gatewaytest"
	"github.com/amirasaad/ecclesia/pkg/middleware"
	notifysvc "github.com/amirasaad/ecclesia/pkg/notification"
	"github.com/amirasaad/ecclesia/webapi"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"
)

const (
	// CronSecret authorizes POST /cron/notifications in tests.
	CronSecret = "cron-secret"
	// PostalBase is the postal provider host mocked with gock.
	PostalBase = "http://cep.test"
)

// Sent is one message captured by RecordingSender.
type Sent struct {
	Channel notification.Channel
	To      string
	Subject string
	Body    string
}

// RecordingSender captures messages instead of delivering them.
type RecordingSender struct {
	channel notification.Channel
	mu      sync.Mutex
	sent    []Sent
}

func (s *RecordingSender) Channel() notification.Channel { return s.channel }

func (s *RecordingSender) Send(_ context.Context, to, subject, body string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, Sent{Channel: s.channel, To: to, Subject: subject, Body: body})
	return nil
}

// Sent returns the captured messages.
func (s *RecordingSender) Sent() []Sent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Sent(nil), s.sent...)
}

// StubPinger answers Ping with Err.
type StubPinger struct{ Err error }

func (p StubPinger) Ping(context.Context) error { return p.Err }

// Config returns a complete configuration for tests.
func Config() *config.App {
	return &config.App{
		Env:    "test",
		Server: &config.Server{Scheme: "http", Host: "localhost", Port: 3000},
		Log:    &config.Log{},
		DB:     &config.DB{},
		Auth: &config.Auth{
			Jwt:      &config.Jwt{Secret: "test-secret", Expiry: time.Hour},
			LoginURL: "/login",
		},
		Redis: &config.Redis{KeyPrefix: "ecclesia:"},
		Kafka: &config.Kafka{},
		RateLimit: &config.RateLimit{
			MaxRequests: 1000,
			Window:      time.Minute,
			Webhook:     config.RouteLimit{Limit: 100, Window: time.Minute},
			Lookup:      config.RouteLimit{Limit: 3, Window: time.Minute},
			WhatsApp:    config.RouteLimit{Limit: 2, Window: 10 * time.Minute},
		},
		Gateway:     &config.Gateway{Default: "stripe", Stripe: &config.Stripe{}, PixBank: &config.PixBank{}},
		Idempotency: &config.Idempotency{Window: 5 * time.Minute},
		Token:       &config.Token{TTL: 48 * time.Hour, LinkURL: "http://localhost:3000/contribute"},
		Scheduler: &config.Scheduler{
			Secret:       CronSecret,
			LockKey:      "scheduler:notifications",
			LockTTL:      time.Minute,
			Concurrency:  2,
			LogRetention: 90 * 24 * time.Hour,
		},
		Notification: &config.Notification{},
		Postal:       &config.Postal{URL: PostalBase + "/ws", Timeout: time.Second},
		Metrics:      &config.Metrics{},
	}
}

// Suite is the base of the webapi handler suites. Each test gets a fresh
// app with one tenant, one active payer and both gateways faked.
type Suite struct {
	suite.Suite

	Cfg          *config.App
	Core         *app.App
	App          *fiber.App
	Transactions *memory.Transactions
	Payers       *memory.Payers
	Rules        *memory.Rules
	Logs         *memory.NotificationLogs
	Bus          *infraeventbus.MemoryEventBus
	Stripe       *gatewaytest.Fake
	PixBank      *gatewaytest.Fake
	Email        *RecordingSender
	Tenant       payer.Tenant
	Payer        payer.Payer
}

// SetupTest wires a new app.
func (s *Suite) SetupTest() {
	log.SetOutput(io.Discard)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	s.Cfg = Config()
	s.Transactions = memory.NewTransactions()
	s.Payers = memory.NewPayers()
	s.Rules = memory.NewRules()
	s.Logs = memory.NewNotificationLogs()
	s.Bus = infraeventbus.NewWithMemory(logger)
	s.Stripe = gatewaytest.New(gateway.KindStripe)
	s.PixBank = gatewaytest.New(gateway.KindPixBank)
	s.Email = &RecordingSender{channel: notification.ChannelEmail}

	s.Tenant = payer.Tenant{
		ID:       uuid.New(),
		Name:     "Igreja Central",
		Timezone: "America/Sao_Paulo",
		Locale:   "pt-BR",
		Currency: "BRL",
	}
	s.Payer = payer.Payer{
		ID:           uuid.New(),
		TenantID:     s.Tenant.ID,
		Name:         "Ana",
		Email:        "ana@example.com",
		Phone:        "+5511988887777",
		DueDay:       10,
		Active:       true,
		RegisteredAt: time.Now().AddDate(-1, 0, 0),
	}
	s.Payers.AddTenant(s.Tenant)
	s.Payers.AddPayer(s.Payer)

	registry, err := gateway.NewRegistry(gateway.KindStripe, s.Stripe, s.PixBank)
	s.Require().NoError(err)

	deps := &app.Deps{
		Transactions:     s.Transactions,
		Tokens:           memory.NewTokens(),
		Payers:           s.Payers,
		Rules:            s.Rules,
		NotificationLogs: s.Logs,
		Gateways:         registry,
		EventBus:         s.Bus,
		Locker:           infralock.NewMemoryLocker(),
		RateLimitStore:   infraratelimit.NewMemoryStore(),
		Senders:          []notifysvc.Sender{s.Email},
		WhatsApp:         StubPinger{},
		Postal:           postal.New(s.Cfg.Postal, infracache.NewMemoryCache[payer.Address](), &http.Client{}, logger),
		Logger:           logger,
	}
	s.Core = app.New(deps, s.Cfg)
	s.App = webapi.SetupApp(s.Core)
}

// TokenFor mints a JWT for a caller of the suite tenant.
func (s *Suite) TokenFor(role middleware.Role) string {
	return s.TokenForTenant(role, s.Tenant.ID)
}

// TokenForTenant mints a JWT for a caller of tenantID.
func (s *Suite) TokenForTenant(role middleware.Role, tenantID uuid.UUID) string {
	userID := uuid.New()
	if role == middleware.RoleMember {
		userID = s.Payer.ID
	}
	tok, err := middleware.GenerateToken(s.Cfg.Auth.Jwt, middleware.Principal{
		UserID:   userID,
		TenantID: tenantID,
		Role:     role,
	}, time.Now())
	s.Require().NoError(err)
	return tok
}

// MakeRequest is a helper for making HTTP requests in tests
func (s *Suite) MakeRequest(method, path, body, token string) *http.Response {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := s.App.Test(req, -1)
	s.Require().NoError(err)
	return resp
}
