package notify_test

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/amirasaad/ecclesia/infra/notify"
	"github.com/amirasaad/ecclesia/pkg/config"
	"github.com/amirasaad/ecclesia/pkg/domain"
	"github.com/h2non/gock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func cfg() *config.Notification {
	return &config.Notification{
		EmailURL:      "http://mail.example.com/v1/send",
		EmailAPIKey:   "mail-key",
		EmailFrom:     "igreja@example.com",
		WhatsAppURL:   "http://wa.example.com/messages",
		WhatsAppToken: "wa-token",
		Timeout:       time.Second,
	}
}

func TestEmailSender_Send(t *testing.T) {
	tests := []struct {
		name          string
		mockResponse  func()
		expectedError bool
	}{
		{
			name: "Success",
			mockResponse: func() {
				gock.New("http://mail.example.com").
					Post("/v1/send").
					MatchHeader("Authorization", "Bearer mail-key").
					JSON(map[string]string{
						"from":    "igreja@example.com",
						"to":      "ana@example.com",
						"subject": "Lembrete",
						"text":    "Olá Ana",
					}).
					Reply(202)
			},
		},
		{
			name: "Error",
			mockResponse: func() {
				gock.New("http://mail.example.com").
					Post("/v1/send").
					Reply(500).
					JSON(map[string]string{"error": "internal server error"})
			},
			expectedError: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			defer gock.Off()
			tt.mockResponse()

			s := notify.NewEmailSender(cfg(), discard, notify.WithHTTPClient(&http.Client{}))
			err := s.Send(context.Background(), "ana@example.com", "Lembrete", "Olá Ana")
			if tt.expectedError {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			assert.True(t, gock.IsDone())
		})
	}
}

func TestWhatsAppSender_Send(t *testing.T) {
	defer gock.Off()
	gock.New("http://wa.example.com").
		Post("/messages").
		MatchHeader("Authorization", "Bearer wa-token").
		JSON(map[string]any{
			"messaging_product": "whatsapp",
			"to":                "+5511988887777",
			"type":              "text",
			"text":              map[string]string{"body": "Olá Ana"},
		}).
		Reply(200).
		JSON(map[string]any{"messages": []map[string]string{{"id": "wamid.1"}}})

	s := notify.NewWhatsAppSender(cfg(), discard, notify.WithHTTPClient(&http.Client{}))
	require.NoError(t, s.Send(context.Background(), "+5511988887777", "ignored", "Olá Ana"))
	assert.True(t, gock.IsDone())
}

func TestPing(t *testing.T) {
	defer gock.Off()
	s := notify.NewWhatsAppSender(cfg(), discard, notify.WithHTTPClient(&http.Client{}))

	gock.New("http://wa.example.com").Head("/messages").Reply(405)
	assert.NoError(t, s.Ping(context.Background()), "reachable even if HEAD is not allowed")

	gock.New("http://wa.example.com").Head("/messages").Reply(401)
	assert.ErrorIs(t, s.Ping(context.Background()), domain.ErrUnauthorized)

	gock.New("http://wa.example.com").Head("/messages").Reply(503)
	assert.ErrorIs(t, s.Ping(context.Background()), domain.ErrInfrastructure)
}

func TestSenders_SkipsUnconfigured(t *testing.T) {
	c := cfg()
	c.WhatsAppURL = ""
	senders := notify.Senders(c, discard)
	require.Len(t, senders, 1)
	assert.Equal(t, "email", string(senders[0].Channel()))
	assert.Nil(t, notify.NewWhatsAppSender(c, discard))
}
