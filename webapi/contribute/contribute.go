// Package contribute serves the magic link flow: a payer opens a link with
// a payment token and pays without logging in.
package contribute

import (
	"net/url"

	"github.com/amirasaad/ecclesia/pkg/config"
	"github.com/amirasaad/ecclesia/pkg/repository"
	paymentsvc "github.com/amirasaad/ecclesia/pkg/service/payment"
	tokensvc "github.com/amirasaad/ecclesia/pkg/service/token"
	"github.com/amirasaad/ecclesia/webapi/common"
	"github.com/amirasaad/ecclesia/webapi/payment"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
)

// Routes registers the magic link routes.
func Routes(
	app fiber.Router,
	tokens *tokensvc.Service,
	payers repository.PayerRepository,
	payments *paymentsvc.Service,
	cfg *config.App,
) {
	app.Get("/contribute", Context(tokens, payers, cfg.Auth.LoginURL))
	app.Post("/contribute/charge", Charge(tokens, payments))
}

// ContextDTO is what the contribution page needs to render.
type ContextDTO struct {
	PayerID    string `json:"payer_id"`
	PayerName  string `json:"payer_name"`
	TenantID   string `json:"tenant_id"`
	TenantName string `json:"tenant_name"`
	Currency   string `json:"currency"`
	DueDay     int    `json:"due_day"`
}

// Context validates ?token= and returns the contribution context. Invalid
// tokens redirect to the login page with the reason.
func Context(tokens *tokensvc.Service, payers repository.PayerRepository, loginURL string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		v, err := tokens.Validate(c.UserContext(), c.Query("token"))
		if err != nil {
			log.Errorf("Failed to validate payment token: %v", err)
			return common.ProblemDetailsJSON(c, "Failed to validate token", err)
		}
		if !v.Valid {
			return c.Redirect(loginURL+"?reason="+url.QueryEscape(string(v.Reason)), fiber.StatusFound)
		}
		p, err := payers.Get(c.UserContext(), v.PayerID)
		if err != nil {
			return common.ProblemDetailsJSON(c, "Failed to load payer", err)
		}
		tenant, err := payers.GetTenant(c.UserContext(), v.TenantID)
		if err != nil {
			return common.ProblemDetailsJSON(c, "Failed to load tenant", err)
		}
		return common.SuccessResponseJSON(c, fiber.StatusOK, "Contribution context", ContextDTO{
			PayerID:    p.ID.String(),
			PayerName:  p.Name,
			TenantID:   tenant.ID.String(),
			TenantName: tenant.Name,
			Currency:   tenant.Currency,
			DueDay:     p.DueDay,
		})
	}
}

// Charge pays with the payer and tenant bound to ?token=. The payer_id in
// the body is ignored.
func Charge(tokens *tokensvc.Service, payments *paymentsvc.Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		v, err := tokens.Validate(c.UserContext(), c.Query("token"))
		if err != nil {
			return common.ProblemDetailsJSON(c, "Failed to validate token", err)
		}
		if !v.Valid {
			return common.ProblemDetailsJSON(c, "Invalid payment link", nil, fiber.StatusUnauthorized, string(v.Reason))
		}
		input, err := common.BindAndValidate[payment.ChargeRequest](c)
		if input == nil {
			return err // error response already written
		}
		input.PayerID = ""
		return payment.ChargeForPayer(c, payments, v.TenantID, v.PayerID, input)
	}
}
