// Package payers exposes admin actions on payers.
package payers

import (
	"time"

	"github.com/amirasaad/ecclesia/pkg/config"
	"github.com/amirasaad/ecclesia/pkg/domain"
	"github.com/amirasaad/ecclesia/pkg/middleware"
	"github.com/amirasaad/ecclesia/pkg/repository"
	tokensvc "github.com/amirasaad/ecclesia/pkg/service/token"
	"github.com/amirasaad/ecclesia/webapi/common"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
)

// LinkDTO is a freshly issued magic link.
type LinkDTO struct {
	PayerID  string    `json:"payer_id"`
	Link     string    `json:"link"`
	IssuedAt time.Time `json:"issued_at"`
}

// Routes registers the payer routes.
func Routes(app fiber.Router, tokens *tokensvc.Service, payers repository.PayerRepository, cfg *config.App) {
	g := app.Group("/payers", middleware.JwtProtected(cfg.Auth.Jwt))
	g.Post("/:id/token", middleware.RequireRole(middleware.RoleAdmin), IssueToken(tokens, payers))
}

// IssueToken issues a payment token for a payer of the caller's tenant and
// returns the magic link.
func IssueToken(tokens *tokensvc.Service, payers repository.PayerRepository) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := uuid.Parse(c.Params("id"))
		if err != nil {
			return common.ProblemDetailsJSON(c, "Invalid payer id", domain.NewValidationError("id", "must be a uuid"))
		}
		p, _ := middleware.PrincipalFrom(c)
		payer, err := payers.Get(c.UserContext(), id)
		if err != nil {
			return common.ProblemDetailsJSON(c, "Payer not found", err)
		}
		if payer.TenantID != p.TenantID {
			return common.ProblemDetailsJSON(c, "Payer not found", domain.ErrNotFound)
		}
		link, err := tokens.IssueLink(c.UserContext(), payer.ID, payer.TenantID)
		if err != nil {
			log.Errorf("Failed to issue payment token for %s: %v", payer.ID, err)
			return common.ProblemDetailsJSON(c, "Failed to issue token", err)
		}
		return common.SuccessResponseJSON(c, fiber.StatusCreated, "Payment link issued", LinkDTO{
			PayerID:  payer.ID.String(),
			Link:     link,
			IssuedAt: time.Now().UTC(),
		})
	}
}
