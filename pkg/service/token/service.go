// Package token issues and validates the magic-link tokens that let payers
// reach the contribution flow without logging in.
package token

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/amirasaad/ecclesia/pkg/domain"
	"github.com/amirasaad/ecclesia/pkg/domain/token"
	"github.com/amirasaad/ecclesia/pkg/repository"
	"github.com/google/uuid"
)

const (
	// DefaultTTL is the lifetime of a token when none is configured.
	DefaultTTL = 48 * time.Hour
	// entropyBytes of randomness encode to a 64 character token.
	entropyBytes = 48
)

// Validation is the result of Validate. Reason is empty when Valid.
type Validation struct {
	Valid    bool
	PayerID  uuid.UUID
	TenantID uuid.UUID
	Reason   token.InvalidReason
}

// Service manages payment tokens.
type Service struct {
	tokens  repository.TokenRepository
	payers  repository.PayerRepository
	ttl     time.Duration
	linkURL string
	logger  *slog.Logger
	now     func() time.Time
}

// New creates a Service. A non-positive ttl falls back to DefaultTTL.
func New(
	tokens repository.TokenRepository,
	payers repository.PayerRepository,
	ttl time.Duration,
	linkURL string,
	logger *slog.Logger,
) *Service {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Service{
		tokens:  tokens,
		payers:  payers,
		ttl:     ttl,
		linkURL: linkURL,
		logger:  logger.With("service", "token"),
		now:     time.Now,
	}
}

// WithClock overrides the time source.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Issue creates a token for payer in tenant.
func (s *Service) Issue(ctx context.Context, payerID, tenantID uuid.UUID) (*token.PaymentToken, error) {
	buf := make([]byte, entropyBytes)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("generate token: %w", err)
	}
	now := s.now()
	t := &token.PaymentToken{
		Token:     base64.RawURLEncoding.EncodeToString(buf),
		PayerID:   payerID,
		TenantID:  tenantID,
		ExpiresAt: now.Add(s.ttl),
		CreatedAt: now,
	}
	if err := s.tokens.Create(ctx, t); err != nil {
		return nil, fmt.Errorf("store token: %w", err)
	}
	s.logger.Info("payment token issued", "payer_id", payerID, "tenant_id", tenantID, "expires_at", t.ExpiresAt)
	return t, nil
}

// Validate checks value. Expiry is absolute: a token stays usable until it
// expires no matter how often it is opened.
func (s *Service) Validate(ctx context.Context, value string) (Validation, error) {
	if value == "" {
		return Validation{Reason: token.ReasonNotFound}, nil
	}
	t, err := s.tokens.Get(ctx, value)
	if errors.Is(err, domain.ErrNotFound) {
		return Validation{Reason: token.ReasonNotFound}, nil
	}
	if err != nil {
		return Validation{}, err
	}
	now := s.now()
	if t.Expired(now) {
		return Validation{PayerID: t.PayerID, TenantID: t.TenantID, Reason: token.ReasonExpired}, nil
	}
	p, err := s.payers.Get(ctx, t.PayerID)
	if errors.Is(err, domain.ErrNotFound) {
		return Validation{PayerID: t.PayerID, TenantID: t.TenantID, Reason: token.ReasonInactiveUser}, nil
	}
	if err != nil {
		return Validation{}, err
	}
	if !p.Active {
		return Validation{PayerID: t.PayerID, TenantID: t.TenantID, Reason: token.ReasonInactiveUser}, nil
	}
	if t.UsedAt == nil {
		domain.TryBestEffort(ctx, s.logger, "mark token used", func(ctx context.Context) error {
			return s.tokens.MarkUsed(ctx, value, now)
		})
	}
	return Validation{Valid: true, PayerID: t.PayerID, TenantID: t.TenantID}, nil
}

// CleanupExpired deletes tokens past their expiry and returns the count.
func (s *Service) CleanupExpired(ctx context.Context) (int64, error) {
	n, err := s.tokens.DeleteExpired(ctx, s.now())
	if err != nil {
		return 0, fmt.Errorf("cleanup tokens: %w", err)
	}
	s.logger.Info("expired payment tokens removed", "count", n)
	return n, nil
}

// Link builds the magic-link URL carrying value.
func (s *Service) Link(value string) string {
	if s.linkURL == "" {
		return ""
	}
	u, err := url.Parse(s.linkURL)
	if err != nil {
		return ""
	}
	q := u.Query()
	q.Set("token", value)
	u.RawQuery = q.Encode()
	return u.String()
}

// IssueLink issues a token and returns its magic-link URL.
func (s *Service) IssueLink(ctx context.Context, payerID, tenantID uuid.UUID) (string, error) {
	t, err := s.Issue(ctx, payerID, tenantID)
	if err != nil {
		return "", err
	}
	return s.Link(t.Token), nil
}
