// Package pixbank adapts a bank Pix and boleto API to the gateway contract.
// Every call is authenticated with an OAuth2 client-credentials token fetched
// over a mutually authenticated TLS connection. The API has no refund
// endpoint, so refunds are reported as a manual operator step.
package pixbank

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/amirasaad/ecclesia/pkg/config"
	"github.com/amirasaad/ecclesia/pkg/domain"
	"github.com/amirasaad/ecclesia/pkg/domain/transaction"
	"github.com/amirasaad/ecclesia/pkg/gateway"
	"github.com/amirasaad/ecclesia/pkg/money"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// boletoPrefix namespaces boleto identifiers so Query can route them.
const boletoPrefix = "boleto-"

const defaultPixExpiry = 3600

// Gateway implements gateway.Gateway for the bank API.
type Gateway struct {
	cfg    *config.PixBank
	client *http.Client
	tokens oauth2.TokenSource
	logger *slog.Logger
	now    func() time.Time
}

// Option customizes the gateway.
type Option func(*Gateway)

// WithHTTPClient replaces the mTLS client. It is used for both the token
// endpoint and the API.
func WithHTTPClient(c *http.Client) Option {
	return func(g *Gateway) { g.client = c }
}

// WithClock overrides the time source used for boleto due dates.
func WithClock(now func() time.Time) Option {
	return func(g *Gateway) { g.now = now }
}

// New builds the gateway. Certificates are loaded eagerly so a bad key pair
// fails at startup rather than on the first charge.
func New(cfg *config.PixBank, logger *slog.Logger, opts ...Option) (*Gateway, error) {
	g := &Gateway{
		cfg:    cfg,
		logger: logger.With("gateway", gateway.KindPixBank),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.client == nil {
		client, err := newMTLSClient(cfg)
		if err != nil {
			return nil, fmt.Errorf("pixbank: %w", err)
		}
		g.client = client
	}

	cc := &clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     cfg.TokenURL,
		Scopes:       cfg.Scopes,
		AuthStyle:    oauth2.AuthStyleInHeader,
	}
	tokenCtx := context.WithValue(context.Background(), oauth2.HTTPClient, g.client)
	leeway := cfg.TokenLeeway
	if leeway <= 0 {
		leeway = time.Minute
	}
	g.tokens = oauth2.ReuseTokenSourceWithExpiry(nil, cc.TokenSource(tokenCtx), leeway)
	return g, nil
}

func newMTLSClient(cfg *config.PixBank) (*http.Client, error) {
	tlsCfg := &tls.Config{MinVersion: tls.VersionTLS12}
	if cfg.CertFile != "" || cfg.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("load client certificate: %w", err)
		}
		tlsCfg.Certificates = []tls.Certificate{cert}
	}
	if cfg.CAFile != "" {
		pem, err := os.ReadFile(cfg.CAFile)
		if err != nil {
			return nil, fmt.Errorf("read CA bundle: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, errors.New("CA bundle contains no certificates")
		}
		tlsCfg.RootCAs = pool
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = tlsCfg
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = gateway.DefaultTimeout
	}
	return &http.Client{Transport: transport, Timeout: timeout}, nil
}

// Kind implements gateway.Gateway.
func (g *Gateway) Kind() gateway.Kind { return gateway.KindPixBank }

// Supports implements gateway.Gateway. Cards are never accepted.
func (g *Gateway) Supports(method transaction.Method) bool {
	return method == transaction.MethodPix || method == transaction.MethodBoleto
}

// Ping fetches a token to prove the credentials and certificates work.
func (g *Gateway) Ping(_ context.Context) error {
	_, err := g.token("ping")
	return err
}

type pixValue struct {
	Original string `json:"original"`
}

type pixCalendar struct {
	Expiracao int `json:"expiracao"`
}

type pixChargeRequest struct {
	Calendario         pixCalendar `json:"calendario"`
	Valor              pixValue    `json:"valor"`
	Chave              string      `json:"chave"`
	SolicitacaoPagador string      `json:"solicitacaoPagador,omitempty"`
}

type pixChargeResponse struct {
	TxID          string `json:"txid"`
	Status        string `json:"status"`
	PixCopiaECola string `json:"pixCopiaECola"`
	Location      string `json:"location"`
}

type boletoPayer struct {
	Nome  string `json:"nome"`
	Email string `json:"email,omitempty"`
	CPF   string `json:"cpfCnpj,omitempty"`
}

type boletoRequest struct {
	SeuNumero      string      `json:"seuNumero"`
	Valor          string      `json:"valorNominal"`
	DataVencimento string      `json:"dataVencimento"`
	Pagador        boletoPayer `json:"pagador"`
}

type boletoResponse struct {
	ID             string `json:"id"`
	Status         string `json:"status"`
	LinhaDigitavel string `json:"linhaDigitavel"`
	URL            string `json:"url"`
}

type boletoSearchResponse struct {
	Boletos []boletoResponse `json:"boletos"`
}

// Charge implements gateway.Gateway.
func (g *Gateway) Charge(ctx context.Context, req gateway.ChargeRequest) (gateway.ChargeResult, error) {
	if !g.Supports(req.Method) {
		return gateway.ChargeResult{}, domain.NewValidationError(
			"method", fmt.Sprintf("%s is not accepted by %s", req.Method, gateway.KindPixBank))
	}
	if _, err := money.ToCents(req.Amount); err != nil {
		return gateway.ChargeResult{}, domain.NewValidationError("amount", err.Error())
	}
	if req.Method == transaction.MethodBoleto {
		return g.chargeBoleto(ctx, req)
	}
	return g.chargePix(ctx, req)
}

func (g *Gateway) chargePix(ctx context.Context, req gateway.ChargeRequest) (gateway.ChargeResult, error) {
	const op = "charge"
	txid := TxID(req)
	body := pixChargeRequest{
		Calendario:         pixCalendar{Expiracao: defaultPixExpiry},
		Valor:              pixValue{Original: money.String(req.Amount)},
		Chave:              g.cfg.PixKey,
		SolicitacaoPagador: req.Description,
	}
	var resp pixChargeResponse
	if err := g.do(ctx, op, http.MethodPut, "/v2/cob/"+txid, body, &resp); err != nil {
		return gateway.ChargeResult{}, err
	}
	if resp.TxID == "" {
		resp.TxID = txid
	}
	g.logger.Info("pixbank: pix charge created", "txid", resp.TxID, "status", resp.Status)
	return gateway.ChargeResult{
		ProviderID:   resp.TxID,
		Status:       mapPixStatus(resp.Status),
		PixCopyPaste: resp.PixCopiaECola,
		RedirectURL:  resp.Location,
	}, nil
}

func (g *Gateway) chargeBoleto(ctx context.Context, req gateway.ChargeRequest) (gateway.ChargeResult, error) {
	const op = "charge"
	due := req.DueDate
	if due.IsZero() {
		due = g.now().AddDate(0, 0, 3)
	}
	body := boletoRequest{
		SeuNumero:      seuNumero(req.TransactionID),
		Valor:          money.String(req.Amount),
		DataVencimento: due.Format("2006-01-02"),
		Pagador: boletoPayer{
			Nome:  req.Payer.Name,
			Email: req.Payer.Email,
			CPF:   req.Payer.Document,
		},
	}
	var resp boletoResponse
	if err := g.do(ctx, op, http.MethodPost, "/v1/boletos", body, &resp); err != nil {
		return gateway.ChargeResult{}, err
	}
	if resp.ID == "" {
		return gateway.ChargeResult{}, gateway.NewError(gateway.ErrorRejected, gateway.KindPixBank, op,
			errors.New("boleto response has no id"))
	}
	g.logger.Info("pixbank: boleto issued", "boleto_id", resp.ID, "status", resp.Status)
	return gateway.ChargeResult{
		ProviderID:  boletoPrefix + resp.ID,
		Status:      mapBoletoStatus(resp.Status),
		BoletoLine:  resp.LinhaDigitavel,
		RedirectURL: resp.URL,
	}, nil
}

// Reference implements gateway.Referencer. Pix charges are created under a
// txid derived from the transaction id; boleto ids are assigned by the bank.
func (g *Gateway) Reference(req gateway.ChargeRequest) string {
	if req.Method == transaction.MethodPix {
		return TxID(req)
	}
	return ""
}

// Locate implements gateway.Locator.
func (g *Gateway) Locate(ctx context.Context, transactionID uuid.UUID, method transaction.Method) (string, bool, error) {
	const op = "locate"
	if method == transaction.MethodBoleto {
		var resp boletoSearchResponse
		if err := g.do(ctx, op, http.MethodGet, "/v1/boletos?seuNumero="+seuNumero(transactionID), nil, &resp); err != nil {
			return "", false, err
		}
		for _, b := range resp.Boletos {
			if b.ID != "" {
				return boletoPrefix + b.ID, true, nil
			}
		}
		return "", false, nil
	}
	txid := TxID(gateway.ChargeRequest{TransactionID: transactionID})
	var resp pixChargeResponse
	if err := g.do(ctx, op, http.MethodGet, "/v2/cob/"+txid, nil, &resp); err != nil {
		if gateway.IsNotFound(err) {
			return "", false, nil
		}
		return "", false, err
	}
	return txid, true, nil
}

// Query implements gateway.Gateway.
func (g *Gateway) Query(ctx context.Context, providerID string) (transaction.Status, error) {
	const op = "query"
	if id, ok := strings.CutPrefix(providerID, boletoPrefix); ok {
		var resp boletoResponse
		if err := g.do(ctx, op, http.MethodGet, "/v1/boletos/"+id, nil, &resp); err != nil {
			return "", err
		}
		return mapBoletoStatus(resp.Status), nil
	}
	var resp pixChargeResponse
	if err := g.do(ctx, op, http.MethodGet, "/v2/cob/"+providerID, nil, &resp); err != nil {
		return "", err
	}
	return mapPixStatus(resp.Status), nil
}

// Cancel implements gateway.Gateway. The bank API offers no refund, so the
// outcome always asks for a manual operator action.
func (g *Gateway) Cancel(_ context.Context, providerID string, amount decimal.Decimal) (gateway.CancelOutcome, error) {
	g.logger.Warn("pixbank: refund must be performed manually in the bank portal",
		"provider_id", providerID,
		"amount", money.String(amount),
	)
	return gateway.CancelOutcome{Supported: false, ManualActionRequired: true}, nil
}

type webhookPayload struct {
	Pix []struct {
		TxID   string `json:"txid"`
		Status string `json:"status"`
	} `json:"pix"`
	Boleto *struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	} `json:"boleto"`
}

// ParseWebhook implements gateway.Gateway. A pix entry without a status is
// a settlement notice.
func (g *Gateway) ParseWebhook(_ context.Context, payload []byte, _ map[string]string) ([]gateway.Event, error) {
	var body webhookPayload
	if err := json.Unmarshal(payload, &body); err != nil {
		return nil, domain.NewValidationError("payload", "malformed pixbank notification")
	}
	if len(body.Pix) == 0 && body.Boleto == nil {
		return nil, domain.NewValidationError("payload", "notification has neither pix nor boleto")
	}
	var out []gateway.Event
	for _, p := range body.Pix {
		if p.TxID == "" {
			return nil, domain.NewValidationError("pix.txid", "is required")
		}
		status := transaction.StatusApproved
		if p.Status != "" {
			status = mapPixStatus(p.Status)
		}
		out = append(out, gateway.Event{ProviderID: p.TxID, Status: status, Type: "pix"})
	}
	if b := body.Boleto; b != nil {
		if b.ID == "" || b.Status == "" {
			return nil, domain.NewValidationError("boleto", "id and status are required")
		}
		out = append(out, gateway.Event{
			ProviderID: boletoPrefix + b.ID,
			Status:     mapBoletoStatus(b.Status),
			Type:       "boleto",
		})
	}
	return out, nil
}

func (g *Gateway) token(op string) (*oauth2.Token, error) {
	tok, err := g.tokens.Token()
	if err != nil {
		g.logger.Error("pixbank: token request failed", "op", op, "error", err)
		return nil, gateway.NewError(gateway.ErrorAuth, gateway.KindPixBank, op, err)
	}
	return tok, nil
}

func (g *Gateway) do(ctx context.Context, op, method, path string, in, out any) error {
	tok, err := g.token(op)
	if err != nil {
		return err
	}
	timeout := g.cfg.Timeout
	if timeout <= 0 {
		timeout = gateway.DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("pixbank: encode request: %w", err)
		}
		body = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(g.cfg.BaseURL, "/")+path, body)
	if err != nil {
		return fmt.Errorf("pixbank: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	tok.SetAuthHeader(req)

	resp, err := g.client.Do(req)
	if err != nil {
		g.logger.Error("pixbank: request failed", "op", op, "path", path, "error", err)
		return gateway.NewError(gateway.ErrorTimeout, gateway.KindPixBank, op, err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return gateway.NewError(gateway.ErrorTimeout, gateway.KindPixBank, op, err)
	}
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return gateway.NewError(gateway.ErrorAuth, gateway.KindPixBank, op, fmt.Errorf("status %d", resp.StatusCode))
	case resp.StatusCode >= http.StatusInternalServerError:
		return gateway.NewError(gateway.ErrorTimeout, gateway.KindPixBank, op, fmt.Errorf("status %d", resp.StatusCode))
	case resp.StatusCode >= http.StatusBadRequest:
		gerr := gateway.NewError(gateway.ErrorRejected, gateway.KindPixBank, op, fmt.Errorf("status %d: %s", resp.StatusCode, truncate(raw)))
		gerr.Code = problemType(raw)
		gerr.Status = resp.StatusCode
		return gerr
	}
	if out != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return gateway.NewError(gateway.ErrorTimeout, gateway.KindPixBank, op, fmt.Errorf("decode response: %w", err))
		}
	}
	return nil
}

func problemType(raw []byte) string {
	var p struct {
		Type  string `json:"type"`
		Title string `json:"title"`
	}
	if json.Unmarshal(raw, &p) != nil {
		return ""
	}
	if p.Type != "" {
		return p.Type
	}
	return p.Title
}

func truncate(raw []byte) string {
	const limit = 256
	if len(raw) > limit {
		return string(raw[:limit])
	}
	return string(raw)
}

// TxID derives the bank transaction id from the local transaction id. It is
// 32 alphanumeric characters, inside the 26 to 35 range the API requires.
func TxID(req gateway.ChargeRequest) string {
	return strings.ReplaceAll(req.TransactionID.String(), "-", "")
}

// seuNumero is the 15 character boleto reference sent at creation.
func seuNumero(transactionID uuid.UUID) string {
	return strings.ReplaceAll(transactionID.String(), "-", "")[:15]
}

func mapPixStatus(s string) transaction.Status {
	switch strings.ToUpper(s) {
	case "CONCLUIDA":
		return transaction.StatusApproved
	case "REMOVIDA_PELO_USUARIO_RECEBEDOR", "REMOVIDA_PELO_PSP", "EXPIRADA":
		return transaction.StatusRefused
	default:
		return transaction.StatusPending
	}
}

func mapBoletoStatus(s string) transaction.Status {
	switch strings.ToUpper(s) {
	case "PAGO", "LIQUIDADO":
		return transaction.StatusApproved
	case "CANCELADO", "EXPIRADO", "BAIXADO":
		return transaction.StatusRefused
	default:
		return transaction.StatusPending
	}
}

var (
	_ gateway.Gateway    = (*Gateway)(nil)
	_ gateway.Referencer = (*Gateway)(nil)
	_ gateway.Locator    = (*Gateway)(nil)
)
