// Package lookup serves the rate limited helper endpoints: postal code
// lookup and the WhatsApp connectivity test.
package lookup

import (
	"errors"

	"github.com/amirasaad/ecclesia/pkg/app"
	"github.com/amirasaad/ecclesia/pkg/config"
	"github.com/amirasaad/ecclesia/pkg/middleware"
	"github.com/amirasaad/ecclesia/pkg/ratelimit"
	"github.com/amirasaad/ecclesia/webapi/common"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
)

var errWhatsAppDisabled = errors.New("whatsapp channel is not configured")

// Routes registers the helper routes with their per route limits.
func Routes(router fiber.Router, postal app.AddressLookup, whatsapp app.Pinger, limiter *ratelimit.Limiter, cfg *config.App) {
	lookupLimit := cfg.RateLimit.Lookup
	router.Get("/lookup/postal/:code",
		middleware.RateLimit(limiter, "lookup", lookupLimit.Limit, lookupLimit.Window, middleware.ClientIP),
		PostalCode(postal),
	)
	waLimit := cfg.RateLimit.WhatsApp
	router.Post("/notifications/whatsapp/test",
		middleware.JwtProtected(cfg.Auth.Jwt),
		middleware.RequireRole(middleware.RoleAdmin),
		middleware.RateLimit(limiter, "whatsapp", waLimit.Limit, waLimit.Window, tenantKey),
		WhatsAppTest(whatsapp),
	)
}

func tenantKey(c *fiber.Ctx) string {
	if p, ok := middleware.PrincipalFrom(c); ok {
		return p.TenantID.String()
	}
	return middleware.ClientIP(c)
}

// PostalCode resolves a CEP into an address.
func PostalCode(postal app.AddressLookup) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if postal == nil {
			return common.ProblemDetailsJSON(c, "Postal lookup unavailable", nil, fiber.StatusServiceUnavailable)
		}
		addr, err := postal.Lookup(c.UserContext(), c.Params("code"))
		if err != nil {
			return common.ProblemDetailsJSON(c, "Postal code lookup failed", err)
		}
		return common.SuccessResponseJSON(c, fiber.StatusOK, "Address found", addr)
	}
}

// WhatsAppTest checks that the WhatsApp provider accepts our credentials.
func WhatsAppTest(whatsapp app.Pinger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if whatsapp == nil {
			return common.ProblemDetailsJSON(c, "WhatsApp unavailable", errWhatsAppDisabled, fiber.StatusServiceUnavailable)
		}
		if err := whatsapp.Ping(c.UserContext()); err != nil {
			log.Errorf("WhatsApp connectivity test failed: %v", err)
			return common.ProblemDetailsJSON(c, "WhatsApp connectivity test failed", err)
		}
		return common.SuccessResponseJSON(c, fiber.StatusOK, "WhatsApp reachable", fiber.Map{"connected": true})
	}
}
