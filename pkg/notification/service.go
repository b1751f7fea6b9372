package notification

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/amirasaad/ecclesia/pkg/domain"
	"github.com/amirasaad/ecclesia/pkg/domain/events"
	"github.com/amirasaad/ecclesia/pkg/domain/notification"
	"github.com/amirasaad/ecclesia/pkg/domain/payer"
	"github.com/amirasaad/ecclesia/pkg/eventbus"
	"github.com/amirasaad/ecclesia/pkg/repository"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// LinkIssuer returns a magic link for payer.
type LinkIssuer interface {
	IssueLink(ctx context.Context, payerID, tenantID uuid.UUID) (string, error)
}

// Service evaluates rules and dispatches the resulting messages.
type Service struct {
	engine     *Engine
	dispatcher *Dispatcher
	rules      repository.RuleRepository
	payers     repository.PayerRepository
	links      LinkIssuer
	logger     *slog.Logger
	now        func() time.Time
}

// NewService creates a Service. links may be nil, in which case {{link}}
// renders empty.
func NewService(
	engine *Engine,
	dispatcher *Dispatcher,
	rules repository.RuleRepository,
	payers repository.PayerRepository,
	links LinkIssuer,
	logger *slog.Logger,
) *Service {
	return &Service{
		engine:     engine,
		dispatcher: dispatcher,
		rules:      rules,
		payers:     payers,
		links:      links,
		logger:     logger.With("service", "notification"),
		now:        time.Now,
	}
}

// EvaluateTenant runs every active rule of tenant for the local day of now.
// A failing rule is logged and counted; the remaining rules still run.
func (s *Service) EvaluateTenant(ctx context.Context, tenant *payer.Tenant, now time.Time) (Tally, error) {
	rules, err := s.rules.ListActive(ctx, tenant.ID)
	if err != nil {
		return Tally{}, fmt.Errorf("list rules for tenant %s: %w", tenant.ID, err)
	}
	day := Day(now, tenant.Location())
	renderer := NewRenderer(tenant)
	var tally Tally
	for _, rule := range rules {
		if ctx.Err() != nil {
			return tally, ctx.Err()
		}
		recipients, err := s.engine.Due(ctx, tenant, rule, now)
		if err != nil {
			s.logger.Error("rule evaluation failed", "tenant_id", tenant.ID, "rule_id", rule.ID, "error", err)
			tally.Failed++
			continue
		}
		for _, r := range recipients {
			tally.Add(s.dispatcher.Dispatch(ctx, s.message(tenant, rule, renderer, r, day))...)
		}
	}
	s.logger.Info("tenant notifications evaluated",
		"tenant_id", tenant.ID,
		"day", day,
		"sent", tally.Sent,
		"failed", tally.Failed,
		"deduplicated", tally.Deduplicated,
	)
	return tally, nil
}

// HandlePaymentApproved sends same-day receipts as soon as a payment is
// approved. The scheduler pass later finds the same ledger rows and skips.
func (s *Service) HandlePaymentApproved(ctx context.Context, e events.Event) error {
	ev, ok := e.(*events.PaymentStatusChanged)
	if !ok || ev.Kind != events.EventTypePaymentApproved {
		return nil
	}
	amount, err := decimal.NewFromString(ev.Amount)
	if err != nil {
		return domain.NewValidationError("amount", err.Error())
	}
	return s.dispatchNow(ctx, ev.TenantID, ev.PayerID, notification.TriggerPaymentReceived, func(p *payer.Payer) Recipient {
		return Recipient{Payer: p, Amount: &amount, TransactionID: ev.TransactionID}
	})
}

// HandlePayerRegistered sends offset zero welcome rules right after sign-up.
func (s *Service) HandlePayerRegistered(ctx context.Context, e events.Event) error {
	ev, ok := e.(*events.PayerRegistered)
	if !ok {
		return nil
	}
	return s.dispatchNow(ctx, ev.TenantID, ev.PayerID, notification.TriggerUserRegistered, func(p *payer.Payer) Recipient {
		return Recipient{Payer: p}
	})
}

func (s *Service) dispatchNow(
	ctx context.Context,
	tenantID, payerID uuid.UUID,
	trigger notification.Trigger,
	recipient func(*payer.Payer) Recipient,
) error {
	tenant, err := s.payers.GetTenant(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("load tenant %s: %w", tenantID, err)
	}
	p, err := s.payers.Get(ctx, payerID)
	if err != nil {
		return fmt.Errorf("load payer %s: %w", payerID, err)
	}
	if !p.Active {
		return nil
	}
	rules, err := s.rules.ListActive(ctx, tenant.ID)
	if err != nil {
		return fmt.Errorf("list rules for tenant %s: %w", tenant.ID, err)
	}
	day := Day(s.now(), tenant.Location())
	renderer := NewRenderer(tenant)
	r := recipient(p)
	for _, rule := range rules {
		if rule.Trigger != trigger || rule.DaysOffset != 0 {
			continue
		}
		var tally Tally
		tally.Add(s.dispatcher.Dispatch(ctx, s.message(tenant, rule, renderer, r, day))...)
		s.logger.Info("immediate notification dispatched",
			"trigger", trigger,
			"payer_id", p.ID,
			"rule_id", rule.ID,
			"sent", tally.Sent,
			"deduplicated", tally.Deduplicated,
		)
	}
	return nil
}

// Subscribe registers the immediate handlers on bus.
func (s *Service) Subscribe(bus eventbus.Bus) {
	bus.Register(events.EventTypePaymentApproved, s.HandlePaymentApproved)
	bus.Register(events.EventTypePayerRegistered, s.HandlePayerRegistered)
}

// message builds the Message for r. The magic link is issued only when a
// channel claim is won.
func (s *Service) message(
	tenant *payer.Tenant,
	rule *notification.Rule,
	renderer *Renderer,
	r Recipient,
	day string,
) Message {
	vars := Vars{
		Name:    r.Payer.Name,
		Amount:  r.Amount,
		DueDate: r.DueDate,
		Tenant:  tenant.Name,
	}
	return Message{
		TenantID: tenant.ID,
		Payer:    r.Payer,
		RuleKey:  rule.Key(),
		Channels: rule.Channels(),
		Day:      day,
		Render: func(ctx context.Context) (string, string) {
			if s.links != nil && strings.Contains(rule.Template, PlaceholderLink) {
				res := domain.TryBestEffort(ctx, s.logger, "issue magic link", func(ctx context.Context) error {
					link, err := s.links.IssueLink(ctx, r.Payer.ID, tenant.ID)
					vars.Link = link
					return err
				})
				if !res.OK() {
					vars.Link = ""
				}
			}
			return renderer.Render(rule.Name, vars), renderer.Render(rule.Template, vars)
		},
	}
}
