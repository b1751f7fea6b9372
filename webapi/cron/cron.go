// Package cron exposes the scheduler pass to an external cron trigger.
package cron

import (
	"github.com/amirasaad/ecclesia/pkg/middleware"
	"github.com/amirasaad/ecclesia/pkg/scheduler"
	"github.com/amirasaad/ecclesia/webapi/common"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
)

// Routes registers POST /cron/notifications behind the shared secret.
func Routes(app fiber.Router, s *scheduler.Scheduler, secret string) {
	app.Post("/cron/notifications", middleware.CronSecret(secret), Run(s))
}

// Run executes one pass and returns its summary. A skipped pass is still 200.
func Run(s *scheduler.Scheduler) fiber.Handler {
	return func(c *fiber.Ctx) error {
		sum, err := s.Run(c.UserContext())
		if err != nil {
			log.Errorf("Scheduler pass failed: %v", err)
			return common.ProblemDetailsJSON(c, "Scheduler pass failed", err)
		}
		return c.Status(fiber.StatusOK).JSON(sum)
	}
}
