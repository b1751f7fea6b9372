// Package rules exposes tenant scoped CRUD for notification rules.
package rules

import (
	"time"

	"github.com/amirasaad/ecclesia/pkg/config"
	"github.com/amirasaad/ecclesia/pkg/domain"
	"github.com/amirasaad/ecclesia/pkg/domain/notification"
	"github.com/amirasaad/ecclesia/pkg/middleware"
	"github.com/amirasaad/ecclesia/pkg/repository"
	"github.com/amirasaad/ecclesia/webapi/common"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

// Routes registers the rule routes. Only admins manage rules.
func Routes(app fiber.Router, rules repository.RuleRepository, cfg *config.App) {
	g := app.Group("/notification-rules",
		middleware.JwtProtected(cfg.Auth.Jwt),
		middleware.RequireRole(middleware.RoleAdmin),
	)
	g.Get("/", List(rules))
	g.Post("/", Create(rules))
	g.Get("/:id", Get(rules))
	g.Put("/:id", Update(rules))
	g.Delete("/:id", Delete(rules))
}

// RuleRequest is the body of create and update.
type RuleRequest struct {
	Name       string `json:"name" validate:"required,max=120"`
	Trigger    string `json:"trigger" validate:"required,oneof=user_registered payment_received payment_due_reminder payment_overdue"`
	DaysOffset int    `json:"days_offset" validate:"gte=-60,lte=60"`
	Template   string `json:"template" validate:"required,max=4000"`
	Email      bool   `json:"email"`
	WhatsApp   bool   `json:"whatsapp"`
	Active     *bool  `json:"active"`
}

// RuleDTO is the API view of a rule.
type RuleDTO struct {
	ID         uuid.UUID `json:"id"`
	Name       string    `json:"name"`
	Trigger    string    `json:"trigger"`
	DaysOffset int       `json:"days_offset"`
	Template   string    `json:"template"`
	Email      bool      `json:"email"`
	WhatsApp   bool      `json:"whatsapp"`
	Active     bool      `json:"active"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func toDTO(r *notification.Rule) RuleDTO {
	return RuleDTO{
		ID:         r.ID,
		Name:       r.Name,
		Trigger:    string(r.Trigger),
		DaysOffset: r.DaysOffset,
		Template:   r.Template,
		Email:      r.Email,
		WhatsApp:   r.WhatsApp,
		Active:     r.Active,
		CreatedAt:  r.CreatedAt,
		UpdatedAt:  r.UpdatedAt,
	}
}

func (in *RuleRequest) apply(r *notification.Rule) error {
	r.Name = in.Name
	r.Trigger = notification.Trigger(in.Trigger)
	r.DaysOffset = in.DaysOffset
	r.Template = in.Template
	r.Email = in.Email
	r.WhatsApp = in.WhatsApp
	if in.Active != nil {
		r.Active = *in.Active
	}
	if !r.ValidateOffset() {
		return domain.NewValidationError("days_offset", "is not valid for trigger "+in.Trigger)
	}
	if !r.Email && !r.WhatsApp {
		return domain.NewValidationError("channels", "enable email, whatsapp or both")
	}
	return nil
}

func tenantOf(c *fiber.Ctx) uuid.UUID {
	p, _ := middleware.PrincipalFrom(c)
	return p.TenantID
}

func ruleID(c *fiber.Ctx) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return uuid.Nil, domain.NewValidationError("id", "must be a uuid")
	}
	return id, nil
}

// List returns every rule of the tenant.
func List(rules repository.RuleRepository) fiber.Handler {
	return func(c *fiber.Ctx) error {
		list, err := rules.List(c.UserContext(), tenantOf(c))
		if err != nil {
			return common.ProblemDetailsJSON(c, "Failed to list rules", err)
		}
		out := make([]RuleDTO, 0, len(list))
		for _, r := range list {
			out = append(out, toDTO(r))
		}
		return common.SuccessResponseJSON(c, fiber.StatusOK, "Rules fetched", out)
	}
}

// Create adds a rule. Rules are active unless the body says otherwise.
func Create(rules repository.RuleRepository) fiber.Handler {
	return func(c *fiber.Ctx) error {
		input, err := common.BindAndValidate[RuleRequest](c)
		if input == nil {
			return err // error response already written
		}
		r := &notification.Rule{ID: uuid.New(), TenantID: tenantOf(c), Active: true}
		if err := input.apply(r); err != nil {
			return common.ProblemDetailsJSON(c, "Invalid rule", err)
		}
		if err := rules.Create(c.UserContext(), r); err != nil {
			return common.ProblemDetailsJSON(c, "Failed to create rule", err)
		}
		return common.SuccessResponseJSON(c, fiber.StatusCreated, "Rule created", toDTO(r))
	}
}

// Get returns one rule.
func Get(rules repository.RuleRepository) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := ruleID(c)
		if err != nil {
			return common.ProblemDetailsJSON(c, "Invalid rule id", err)
		}
		r, err := rules.Get(c.UserContext(), tenantOf(c), id)
		if err != nil {
			return common.ProblemDetailsJSON(c, "Rule not found", err)
		}
		return common.SuccessResponseJSON(c, fiber.StatusOK, "Rule fetched", toDTO(r))
	}
}

// Update replaces a rule.
func Update(rules repository.RuleRepository) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := ruleID(c)
		if err != nil {
			return common.ProblemDetailsJSON(c, "Invalid rule id", err)
		}
		r, err := rules.Get(c.UserContext(), tenantOf(c), id)
		if err != nil {
			return common.ProblemDetailsJSON(c, "Rule not found", err)
		}
		input, err := common.BindAndValidate[RuleRequest](c)
		if input == nil {
			return err // error response already written
		}
		if err := input.apply(r); err != nil {
			return common.ProblemDetailsJSON(c, "Invalid rule", err)
		}
		if err := rules.Update(c.UserContext(), r); err != nil {
			return common.ProblemDetailsJSON(c, "Failed to update rule", err)
		}
		return common.SuccessResponseJSON(c, fiber.StatusOK, "Rule updated", toDTO(r))
	}
}

// Delete removes a rule. Ledger rows keep referencing its key.
func Delete(rules repository.RuleRepository) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := ruleID(c)
		if err != nil {
			return common.ProblemDetailsJSON(c, "Invalid rule id", err)
		}
		if err := rules.Delete(c.UserContext(), tenantOf(c), id); err != nil {
			return common.ProblemDetailsJSON(c, "Failed to delete rule", err)
		}
		return c.SendStatus(fiber.StatusNoContent)
	}
}
