// Package webapi provides the HTTP surface of the engine.
// It is organized into sub-packages per route family:
// - payment: charges, transaction admin and provider webhooks
// - contribute: the magic link contribution flow
// - payers: magic link issuance
// - rules: notification rule management
// - cron: the scheduler trigger
// - lookup: postal code lookup and the WhatsApp connectivity test
package webapi

import (
	"github.com/amirasaad/ecclesia/pkg/app"
	"github.com/amirasaad/ecclesia/pkg/metrics"
	"github.com/amirasaad/ecclesia/pkg/middleware"
	"github.com/amirasaad/ecclesia/webapi/common"
	"github.com/amirasaad/ecclesia/webapi/contribute"
	"github.com/amirasaad/ecclesia/webapi/cron"
	"github.com/amirasaad/ecclesia/webapi/lookup"
	"github.com/amirasaad/ecclesia/webapi/payers"
	"github.com/amirasaad/ecclesia/webapi/payment"
	"github.com/amirasaad/ecclesia/webapi/rules"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
)

// SetupApp Initialize Fiber with custom configuration
func SetupApp(a *app.App) *fiber.App {
	cfg := a.Config

	fiberApp := fiber.New(middleware.ProxyConfig(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			return common.ProblemDetailsJSON(c, "Internal Server Error", err)
		},
	}, cfg.Server.ProxyHeader, cfg.Server.TrustedProxies))
	fiberApp.Use(recover.New())
	fiberApp.Use(logger.New())

	// Health and metrics stay outside the global limit so health checks are never throttled.
	fiberApp.Get("/", func(c *fiber.Ctx) error {
		return c.SendString("Ecclesia API is running!")
	})
	fiberApp.Get("/metrics", func(c *fiber.Ctx) error {
		c.Set(fiber.HeaderContentType, "text/plain; version=0.0.4")
		metrics.WritePrometheus(c.Response().BodyWriter())
		return nil
	})

	fiberApp.Use(middleware.RateLimit(a.Limiter, "global", cfg.RateLimit.MaxRequests, cfg.RateLimit.Window, middleware.ClientIP))

	webhookLimit := middleware.RateLimit(
		a.Limiter, "webhook", cfg.RateLimit.Webhook.Limit, cfg.RateLimit.Webhook.Window, middleware.ClientIP,
	)
	payment.WebhookRoutes(fiberApp, a.Payments, webhookLimit)
	payment.Routes(fiberApp, a.Payments, a.Transactions, cfg)
	contribute.Routes(fiberApp, a.Tokens, a.Deps.Payers, a.Payments, cfg)
	payers.Routes(fiberApp, a.Tokens, a.Deps.Payers, cfg)
	rules.Routes(fiberApp, a.Deps.Rules, cfg)
	cron.Routes(fiberApp, a.Scheduler, cfg.Scheduler.Secret)
	lookup.Routes(fiberApp, a.Deps.Postal, a.Deps.WhatsApp, a.Limiter, cfg)
	return fiberApp
}
