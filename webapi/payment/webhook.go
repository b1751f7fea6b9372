package payment

import (
	"github.com/amirasaad/ecclesia/pkg/gateway"
	paymentsvc "github.com/amirasaad/ecclesia/pkg/service/payment"
	"github.com/amirasaad/ecclesia/webapi/common"
	"github.com/gofiber/fiber/v2"
)

// WebhookRoutes registers the provider callback endpoint. limit runs before
// the body is parsed.
func WebhookRoutes(app fiber.Router, payments *paymentsvc.Service, limit fiber.Handler) {
	app.Post("/webhooks/:gateway", limit, WebhookHandler(payments))
}

// WebhookHandler applies provider events synchronously. Applied, repeated
// and dropped events all answer 200 so the provider stops retrying; only a
// malformed payload answers 400.
func WebhookHandler(payments *paymentsvc.Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		kind, err := gateway.ParseKind(c.Params("gateway"))
		if err != nil {
			return common.ProblemDetailsJSON(c, "Unknown gateway", err, fiber.StatusNotFound)
		}
		payload := c.Body()
		if len(payload) == 0 {
			return common.ProblemDetailsJSON(c, "Invalid webhook", nil, fiber.StatusBadRequest, "Empty request body")
		}
		headers := make(map[string]string)
		for k, v := range c.GetReqHeaders() {
			if len(v) > 0 {
				headers[k] = v[0]
			}
		}
		sum, err := payments.HandleWebhook(c.UserContext(), kind, payload, headers)
		if err != nil {
			return common.ProblemDetailsJSON(c, "Error processing webhook", err)
		}
		return c.Status(fiber.StatusOK).JSON(fiber.Map{
			"received": true,
			"applied":  sum.Applied,
			"noop":     sum.Noop,
			"dropped":  sum.Dropped,
			"unknown":  sum.Unknown,
		})
	}
}
