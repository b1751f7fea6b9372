package common_test

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/amirasaad/ecclesia/pkg/domain"
	"github.com/amirasaad/ecclesia/pkg/gateway"
	"github.com/amirasaad/ecclesia/webapi/common"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorToStatusCode(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{domain.NewValidationError("amount", "required"), fiber.StatusBadRequest},
		{domain.ErrUnauthorized, fiber.StatusUnauthorized},
		{fmt.Errorf("role: %w", domain.ErrForbidden), fiber.StatusForbidden},
		{domain.ErrNotFound, fiber.StatusNotFound},
		{&domain.DuplicateError{ExistingID: "x"}, fiber.StatusConflict},
		{&domain.StateConflictError{ID: "x", From: "refused", To: "approved"}, fiber.StatusConflict},
		{&domain.NotSupportedError{Operation: "refund", Provider: "pixbank"}, fiber.StatusUnprocessableEntity},
		{gateway.NewError(gateway.ErrorRejected, gateway.KindStripe, "charge", nil), fiber.StatusUnprocessableEntity},
		{gateway.NewError(gateway.ErrorAuth, gateway.KindPixBank, "charge", nil), fiber.StatusBadGateway},
		{gateway.NewError(gateway.ErrorTimeout, gateway.KindPixBank, "charge", nil), fiber.StatusGatewayTimeout},
		{&domain.InfrastructureError{Component: "lock store", Err: errors.New("down")}, fiber.StatusServiceUnavailable},
		{fiber.NewError(fiber.StatusTooManyRequests, "slow down"), fiber.StatusTooManyRequests},
		{errors.New("boom"), fiber.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.want, common.ErrorToStatusCode(tt.err))
		})
	}
}

func TestProblemDetailsJSON_Duplicate(t *testing.T) {
	app := fiber.New()
	app.Get("/", func(c *fiber.Ctx) error {
		return common.ProblemDetailsJSON(c, "Duplicate charge", &domain.DuplicateError{ExistingID: "tx-1"})
	})

	resp, err := app.Test(httptest.NewRequest(fiber.MethodGet, "/", nil))
	require.NoError(t, err)
	defer resp.Body.Close() //nolint:errcheck
	assert.Equal(t, fiber.StatusConflict, resp.StatusCode)
	assert.Equal(t, "application/problem+json", resp.Header.Get(fiber.HeaderContentType))

	var pd common.ProblemDetails
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&pd))
	assert.Equal(t, "Duplicate charge", pd.Title)
	assert.Equal(t, map[string]any{"existing_transaction_id": "tx-1"}, pd.Errors)
}

type chargeBody struct {
	Amount string `json:"amount" validate:"required"`
	Method string `json:"method" validate:"required,oneof=pix card boleto"`
}

func TestBindAndValidate(t *testing.T) {
	app := fiber.New()
	app.Post("/", func(c *fiber.Ctx) error {
		in, err := common.BindAndValidate[chargeBody](c)
		if in == nil {
			return err
		}
		return c.SendString(in.Method)
	})

	tests := []struct {
		name   string
		body   string
		status int
	}{
		{"valid", `{"amount":"10.00","method":"pix"}`, fiber.StatusOK},
		{"missing", `{"method":"pix"}`, fiber.StatusBadRequest},
		{"bad method", `{"amount":"1","method":"cash"}`, fiber.StatusBadRequest},
		{"not json", `{`, fiber.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(fiber.MethodPost, "/", strings.NewReader(tt.body))
			req.Header.Set("Content-Type", "application/json")
			resp, err := app.Test(req)
			require.NoError(t, err)
			defer resp.Body.Close() //nolint:errcheck
			assert.Equal(t, tt.status, resp.StatusCode)
		})
	}
}
