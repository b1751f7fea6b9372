package stripepay_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/amirasaad/ecclesia/infra/gateway/stripepay"
	"github.com/amirasaad/ecclesia/pkg/config"
	"github.com/amirasaad/ecclesia/pkg/domain"
	"github.com/amirasaad/ecclesia/pkg/domain/transaction"
	"github.com/amirasaad/ecclesia/pkg/gateway"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newGateway(t *testing.T, handler http.HandlerFunc) *stripepay.Gateway {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	cfg := &config.Stripe{Env: "sandbox", SandboxKey: "sk_test_123", Timeout: 2 * time.Second}
	return stripepay.New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)), stripepay.WithBaseURL(srv.URL))
}

func TestCharge_CardApprovedInstantly(t *testing.T) {
	txID := uuid.New()
	var form url.Values
	var idemKey string
	g := newGateway(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/payment_intents", r.URL.Path)
		require.NoError(t, r.ParseForm())
		form = r.PostForm
		idemKey = r.Header.Get("Idempotency-Key")
		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprint(w, `{"id":"pi_123","object":"payment_intent","status":"succeeded","amount":5000,"currency":"brl"}`)
	})

	res, err := g.Charge(context.Background(), gateway.ChargeRequest{
		TransactionID:      txID,
		PayerID:            uuid.New(),
		TenantID:           uuid.New(),
		Amount:             decimal.RequireFromString("50.00"),
		Currency:           "BRL",
		Method:             transaction.MethodCard,
		PaymentMethodToken: "pm_card_visa",
	})
	require.NoError(t, err)
	assert.Equal(t, "pi_123", res.ProviderID)
	assert.Equal(t, transaction.StatusApproved, res.Status)
	assert.Equal(t, "5000", form.Get("amount"))
	assert.Equal(t, "brl", form.Get("currency"))
	assert.Equal(t, "card", form.Get("payment_method_types[0]"))
	assert.Equal(t, txID.String(), form.Get("metadata[transaction_id]"))
	assert.Equal(t, txID.String(), idemKey)
}

func TestCharge_PixPending(t *testing.T) {
	g := newGateway(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprint(w, `{"id":"pi_pix","object":"payment_intent","status":"requires_action",
			"next_action":{"type":"pix_display_qr_code","pix_display_qr_code":{"data":"000201pix","hosted_instructions_url":"https://pay.example/pix"}}}`)
	})

	res, err := g.Charge(context.Background(), gateway.ChargeRequest{
		TransactionID: uuid.New(),
		Amount:        decimal.RequireFromString("10.00"),
		Method:        transaction.MethodPix,
	})
	require.NoError(t, err)
	assert.Equal(t, transaction.StatusPending, res.Status)
	assert.Equal(t, "000201pix", res.PixCopyPaste)
	assert.Equal(t, "https://pay.example/pix", res.RedirectURL)
}

func TestCharge_ErrorClassification(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		target error
	}{
		{
			name:   "card declined",
			status: http.StatusPaymentRequired,
			body:   `{"error":{"type":"card_error","code":"card_declined","message":"declined"}}`,
			target: gateway.ErrRejected,
		},
		{
			name:   "bad key",
			status: http.StatusUnauthorized,
			body:   `{"error":{"type":"invalid_request_error","message":"Invalid API Key"}}`,
			target: gateway.ErrAuth,
		},
		{
			name:   "provider outage is indeterminate",
			status: http.StatusServiceUnavailable,
			body:   `{"error":{"type":"api_error","message":"unavailable"}}`,
			target: gateway.ErrTimeout,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := newGateway(t, func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				_, _ = fmt.Fprint(w, tt.body)
			})
			_, err := g.Charge(context.Background(), gateway.ChargeRequest{
				TransactionID:      uuid.New(),
				Amount:             decimal.RequireFromString("1.00"),
				Method:             transaction.MethodCard,
				PaymentMethodToken: "pm_card_visa",
			})
			assert.ErrorIs(t, err, tt.target)
		})
	}
}

func TestCharge_RejectsSubCentAmount(t *testing.T) {
	g := newGateway(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no request expected")
	})
	_, err := g.Charge(context.Background(), gateway.ChargeRequest{
		TransactionID: uuid.New(),
		Amount:        decimal.RequireFromString("1.005"),
		Method:        transaction.MethodPix,
	})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestQuery(t *testing.T) {
	g := newGateway(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/payment_intents/pi_123", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprint(w, `{"id":"pi_123","object":"payment_intent","status":"succeeded",
			"latest_charge":{"id":"ch_1","object":"charge","refunded":true}}`)
	})
	status, err := g.Query(context.Background(), "pi_123")
	require.NoError(t, err)
	assert.Equal(t, transaction.StatusRefunded, status)
}

func TestLocate(t *testing.T) {
	txID := uuid.New()
	var query string
	g := newGateway(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/payment_intents/search", r.URL.Path)
		query = r.URL.Query().Get("query")
		w.Header().Set("Content-Type", "application/json")
		if strings.Contains(query, txID.String()) {
			_, _ = fmt.Fprint(w, `{"object":"search_result","url":"/v1/payment_intents/search","has_more":false,
				"data":[{"id":"pi_found","object":"payment_intent","status":"succeeded"}]}`)
			return
		}
		_, _ = fmt.Fprint(w, `{"object":"search_result","url":"/v1/payment_intents/search","has_more":false,"data":[]}`)
	})

	id, found, err := g.Locate(context.Background(), txID, transaction.MethodCard)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "pi_found", id)
	assert.Equal(t, fmt.Sprintf("metadata['transaction_id']:'%s'", txID), query)

	_, found, err = g.Locate(context.Background(), uuid.New(), transaction.MethodCard)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestCancel_RefundsSucceededIntent(t *testing.T) {
	var refundForm url.Values
	g := newGateway(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/v1/payment_intents/pi_123":
			_, _ = fmt.Fprint(w, `{"id":"pi_123","object":"payment_intent","status":"succeeded"}`)
		case r.Method == http.MethodPost && r.URL.Path == "/v1/refunds":
			require.NoError(t, r.ParseForm())
			refundForm = r.PostForm
			_, _ = fmt.Fprint(w, `{"id":"re_1","object":"refund","status":"succeeded"}`)
		default:
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
	})

	out, err := g.Cancel(context.Background(), "pi_123", decimal.RequireFromString("40.00"))
	require.NoError(t, err)
	assert.True(t, out.Supported)
	assert.False(t, out.ManualActionRequired)
	assert.Equal(t, "re_1", out.ReferenceID)
	assert.Equal(t, "4000", refundForm.Get("amount"))
	assert.Equal(t, "pi_123", refundForm.Get("payment_intent"))
}

func TestParseWebhook(t *testing.T) {
	g := newGateway(t, func(w http.ResponseWriter, r *http.Request) {})

	tests := []struct {
		name    string
		payload string
		want    []gateway.Event
		wantErr bool
	}{
		{
			name:    "succeeded",
			payload: `{"id":"evt_1","type":"payment_intent.succeeded","data":{"object":{"id":"pi_1","object":"payment_intent"}}}`,
			want:    []gateway.Event{{ProviderID: "pi_1", Status: transaction.StatusApproved, Type: "payment_intent.succeeded"}},
		},
		{
			name:    "failed",
			payload: `{"id":"evt_2","type":"payment_intent.payment_failed","data":{"object":{"id":"pi_2","object":"payment_intent"}}}`,
			want:    []gateway.Event{{ProviderID: "pi_2", Status: transaction.StatusRefused, Type: "payment_intent.payment_failed"}},
		},
		{
			name:    "refunded",
			payload: `{"id":"evt_3","type":"charge.refunded","data":{"object":{"id":"ch_1","object":"charge","payment_intent":"pi_3"}}}`,
			want:    []gateway.Event{{ProviderID: "pi_3", Status: transaction.StatusRefunded, Type: "charge.refunded"}},
		},
		{
			name: "succeeded carries the transaction id",
			payload: `{"id":"evt_5","type":"payment_intent.succeeded","data":{"object":{"id":"pi_5","object":"payment_intent",
				"metadata":{"transaction_id":"8c1d9a52-3f1e-4d6b-9a0e-2b7c5e4f1a30"}}}}`,
			want: []gateway.Event{{
				ProviderID:    "pi_5",
				TransactionID: uuid.MustParse("8c1d9a52-3f1e-4d6b-9a0e-2b7c5e4f1a30"),
				Status:        transaction.StatusApproved,
				Type:          "payment_intent.succeeded",
			}},
		},
		{
			name:    "unhandled type is ignored",
			payload: `{"id":"evt_4","type":"customer.created","data":{"object":{"id":"cus_1"}}}`,
			want:    nil,
		},
		{name: "malformed", payload: `{not json`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := g.ParseWebhook(context.Background(), []byte(tt.payload), nil)
			if tt.wantErr {
				assert.ErrorIs(t, err, domain.ErrValidation)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
