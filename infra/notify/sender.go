// Package notify delivers notifications through HTTP JSON messaging APIs.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/amirasaad/ecclesia/pkg/config"
	"github.com/amirasaad/ecclesia/pkg/domain"
	"github.com/amirasaad/ecclesia/pkg/domain/notification"
	notifier "github.com/amirasaad/ecclesia/pkg/notification"
)

const defaultTimeout = 10 * time.Second

// Option configures a sender.
type Option func(*client)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *client) { cl.http = c }
}

type client struct {
	http   *http.Client
	url    string
	auth   string
	logger *slog.Logger
}

func newClient(url, auth string, timeout time.Duration, logger *slog.Logger, opts []Option) client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	c := client{
		http:   &http.Client{Timeout: timeout},
		url:    url,
		auth:   auth,
		logger: logger,
	}
	for _, o := range opts {
		o(&c)
	}
	return c
}

func (c *client) post(ctx context.Context, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.auth != "" {
		req.Header.Set("Authorization", "Bearer "+c.auth)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("send: %w", err)
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode >= 400 {
		c.logger.Warn("messaging provider returned error", "status", resp.StatusCode, "body", string(respBody))
		return fmt.Errorf("error response: %s", resp.Status)
	}
	return nil
}

// ping checks the endpoint is reachable and accepts the credentials.
func (c *client) ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, c.url, nil)
	if err != nil {
		return err
	}
	if c.auth != "" {
		req.Header.Set("Authorization", "Bearer "+c.auth)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return &domain.InfrastructureError{Component: "messaging", Err: err}
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return domain.ErrUnauthorized
	case resp.StatusCode >= 500:
		return &domain.InfrastructureError{Component: "messaging", Err: fmt.Errorf("status %d", resp.StatusCode)}
	}
	return nil
}

// EmailSender posts messages to a transactional email API.
type EmailSender struct {
	client
	from string
}

// NewEmailSender creates an EmailSender. It returns nil when no URL is
// configured.
func NewEmailSender(cfg *config.Notification, logger *slog.Logger, opts ...Option) *EmailSender {
	if cfg == nil || cfg.EmailURL == "" {
		return nil
	}
	return &EmailSender{
		client: newClient(cfg.EmailURL, cfg.EmailAPIKey, cfg.Timeout, logger.With("sender", "email"), opts),
		from:   cfg.EmailFrom,
	}
}

func (s *EmailSender) Channel() notification.Channel { return notification.ChannelEmail }

type emailPayload struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Subject string `json:"subject"`
	Text    string `json:"text"`
}

func (s *EmailSender) Send(ctx context.Context, to, subject, body string) error {
	return s.post(ctx, emailPayload{From: s.from, To: to, Subject: subject, Text: body})
}

// Ping verifies connectivity to the email API.
func (s *EmailSender) Ping(ctx context.Context) error { return s.ping(ctx) }

// WhatsAppSender posts text messages to a WhatsApp business API.
type WhatsAppSender struct {
	client
}

// NewWhatsAppSender creates a WhatsAppSender. It returns nil when no URL is
// configured.
func NewWhatsAppSender(cfg *config.Notification, logger *slog.Logger, opts ...Option) *WhatsAppSender {
	if cfg == nil || cfg.WhatsAppURL == "" {
		return nil
	}
	return &WhatsAppSender{
		client: newClient(cfg.WhatsAppURL, cfg.WhatsAppToken, cfg.Timeout, logger.With("sender", "whatsapp"), opts),
	}
}

func (s *WhatsAppSender) Channel() notification.Channel { return notification.ChannelWhatsApp }

type whatsAppPayload struct {
	MessagingProduct string       `json:"messaging_product"`
	To               string       `json:"to"`
	Type             string       `json:"type"`
	Text             whatsAppText `json:"text"`
}

type whatsAppText struct {
	Body string `json:"body"`
}

// Send ignores subject; WhatsApp messages carry only a body.
func (s *WhatsAppSender) Send(ctx context.Context, to, _ string, body string) error {
	return s.post(ctx, whatsAppPayload{
		MessagingProduct: "whatsapp",
		To:               to,
		Type:             "text",
		Text:             whatsAppText{Body: body},
	})
}

// Ping verifies connectivity to the WhatsApp API.
func (s *WhatsAppSender) Ping(ctx context.Context) error { return s.ping(ctx) }

// Senders returns the configured senders, skipping unconfigured channels.
func Senders(cfg *config.Notification, logger *slog.Logger, opts ...Option) []notifier.Sender {
	var out []notifier.Sender
	if s := NewEmailSender(cfg, logger, opts...); s != nil {
		out = append(out, s)
	}
	if s := NewWhatsAppSender(cfg, logger, opts...); s != nil {
		out = append(out, s)
	}
	return out
}

var (
	_ notifier.Sender = (*EmailSender)(nil)
	_ notifier.Sender = (*WhatsAppSender)(nil)
)
