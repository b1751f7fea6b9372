// Package postal resolves Brazilian postal codes (CEP) to addresses for the
// payer registration form.
package postal

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/amirasaad/ecclesia/pkg/cache"
	"github.com/amirasaad/ecclesia/pkg/config"
	"github.com/amirasaad/ecclesia/pkg/domain"
	"github.com/amirasaad/ecclesia/pkg/domain/payer"
	"golang.org/x/sync/singleflight"
)

// CacheTTL is how long a resolved address is kept.
const CacheTTL = 24 * time.Hour

type viaCEP struct {
	CEP        string `json:"cep"`
	Logradouro string `json:"logradouro"`
	Bairro     string `json:"bairro"`
	Localidade string `json:"localidade"`
	UF         string `json:"uf"`
	Erro       any    `json:"erro"`
}

// Client queries a ViaCEP compatible API.
type Client struct {
	http     *http.Client
	baseURL  string
	cache    cache.Cache[payer.Address]
	inflight singleflight.Group
	logger   *slog.Logger
}

// New creates a Client. c may be nil to disable caching.
func New(cfg *config.Postal, c cache.Cache[payer.Address], httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	return &Client{
		http:    httpClient,
		baseURL: strings.TrimRight(cfg.URL, "/"),
		cache:   c,
		logger:  logger.With("client", "postal"),
	}
}

// Normalize strips formatting and checks the code has eight digits.
func Normalize(code string) (string, error) {
	digits := strings.Map(func(r rune) rune {
		if r == '-' || r == '.' || r == ' ' {
			return -1
		}
		return r
	}, code)
	if len(digits) != 8 || strings.Trim(digits, "0123456789") != "" {
		return "", domain.NewValidationError("code", "postal code must have 8 digits")
	}
	return digits, nil
}

// Lookup resolves code. Unknown codes return domain.ErrNotFound. Concurrent
// lookups of the same code share one upstream request.
func (c *Client) Lookup(ctx context.Context, code string) (*payer.Address, error) {
	code, err := Normalize(code)
	if err != nil {
		return nil, err
	}
	if c.cache != nil {
		if a, err := c.cache.Get(ctx, code); err == nil && a != nil {
			return a, nil
		} else if err != nil {
			c.logger.Warn("postal cache unavailable", "error", err)
		}
	}
	v, err, _ := c.inflight.Do(code, func() (any, error) {
		return c.fetch(ctx, code)
	})
	if err != nil {
		return nil, err
	}
	a := v.(*payer.Address)
	if c.cache != nil {
		if err := c.cache.Set(ctx, code, a, CacheTTL); err != nil {
			c.logger.Warn("postal cache write failed", "error", err)
		}
	}
	return a, nil
}

func (c *Client) fetch(ctx context.Context, code string) (*payer.Address, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/"+code+"/json/", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &domain.InfrastructureError{Component: "postal lookup", Err: err}
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode == http.StatusBadRequest:
		return nil, domain.NewValidationError("code", "postal code rejected")
	case resp.StatusCode >= 400:
		return nil, &domain.InfrastructureError{
			Component: "postal lookup",
			Err:       fmt.Errorf("error response: %s", resp.Status),
		}
	}
	var body viaCEP
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode postal response: %w", err)
	}
	if body.Erro != nil && body.Erro != false && body.Erro != "false" {
		return nil, fmt.Errorf("postal code %s: %w", code, domain.ErrNotFound)
	}
	return &payer.Address{
		PostalCode:   code,
		Street:       body.Logradouro,
		Neighborhood: body.Bairro,
		City:         body.Localidade,
		State:        body.UF,
	}, nil
}
