// Package payment exposes charges, operator actions and gateway webhooks.
package payment

import (
	"fmt"

	"github.com/amirasaad/ecclesia/pkg/config"
	"github.com/amirasaad/ecclesia/pkg/domain"
	"github.com/amirasaad/ecclesia/pkg/domain/transaction"
	"github.com/amirasaad/ecclesia/pkg/middleware"
	"github.com/amirasaad/ecclesia/pkg/money"
	paymentsvc "github.com/amirasaad/ecclesia/pkg/service/payment"
	txservice "github.com/amirasaad/ecclesia/pkg/service/transaction"
	"github.com/amirasaad/ecclesia/webapi/common"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

// Routes registers the payment routes.
func Routes(app fiber.Router, payments *paymentsvc.Service, machine *txservice.Machine, cfg *config.App) {
	auth := middleware.JwtProtected(cfg.Auth.Jwt)
	operators := middleware.RequireRole(middleware.RoleAdmin, middleware.RoleTreasurer)

	app.Post("/payments", auth, middleware.RequireRole(middleware.RoleMember, middleware.RoleAdmin), Charge(payments))
	app.Get("/payments/:id", auth, operators, GetTransaction(machine))
	app.Post("/payments/:id/refund", auth, operators, Refund(machine))
	app.Post("/payments/:id/fraud", auth, operators, MarkFraud(machine))
	app.Post("/payments/:id/reconcile", auth, operators, Reconcile(payments, machine))
}

// Charge creates a charge for the caller, or for any payer of the tenant
// when the caller is an admin.
func Charge(payments *paymentsvc.Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		p, _ := middleware.PrincipalFrom(c)
		input, err := common.BindAndValidate[ChargeRequest](c)
		if input == nil {
			return err // error response already written
		}
		payerID := p.UserID
		if input.PayerID != "" && p.HasRole(middleware.RoleAdmin) {
			payerID = uuid.MustParse(input.PayerID)
		}
		return charge(c, payments, p.TenantID, payerID, input)
	}
}

func charge(c *fiber.Ctx, payments *paymentsvc.Service, tenantID, payerID uuid.UUID, input *ChargeRequest) error {
	amount, err := money.Parse(input.Amount)
	if err != nil {
		return common.ProblemDetailsJSON(c, "Invalid amount", domain.NewValidationError("amount", err.Error()))
	}
	in := paymentsvc.ChargeInput{
		TenantID:           tenantID,
		PayerID:            payerID,
		Amount:             amount,
		Method:             transaction.Method(input.Method),
		Gateway:            input.Gateway,
		PaymentMethodToken: input.PaymentMethodToken,
		Description:        input.Description,
		Document:           input.Document,
	}
	if input.OriginID != "" {
		origin := uuid.MustParse(input.OriginID)
		in.OriginID = &origin
	}
	res, err := payments.Charge(c.UserContext(), in)
	if err != nil {
		return common.ProblemDetailsJSON(c, "Charge failed", err)
	}
	status := fiber.StatusCreated
	message := "Charge created"
	if res.Indeterminate {
		status = fiber.StatusAccepted
		message = "Charge submitted; the outcome will be confirmed by the gateway"
	}
	return common.SuccessResponseJSON(c, status, message, toChargeResponse(res.Transaction, res.Provider, res.Indeterminate))
}

// GetTransaction returns one transaction of the caller's tenant.
func GetTransaction(machine *txservice.Machine) fiber.Handler {
	return func(c *fiber.Ctx) error {
		tx, err := scoped(c, machine)
		if err != nil {
			return common.ProblemDetailsJSON(c, "Transaction not found", err)
		}
		return common.SuccessResponseJSON(c, fiber.StatusOK, "Transaction fetched", ToDTO(tx))
	}
}

// Refund refunds an approved payment in full or in part.
func Refund(machine *txservice.Machine) fiber.Handler {
	return func(c *fiber.Ctx) error {
		tx, err := scoped(c, machine)
		if err != nil {
			return common.ProblemDetailsJSON(c, "Transaction not found", err)
		}
		input, err := common.BindAndValidate[RefundRequest](c)
		if input == nil {
			return err // error response already written
		}
		amount, err := money.Parse(input.Amount)
		if err != nil {
			return common.ProblemDetailsJSON(c, "Invalid amount", domain.NewValidationError("amount", err.Error()))
		}
		p, _ := middleware.PrincipalFrom(c)
		res, err := machine.Refund(c.UserContext(), txservice.RefundRequest{
			ID:       tx.ID,
			Amount:   amount,
			Reason:   input.Reason,
			Operator: p.UserID,
		})
		if err != nil {
			return common.ProblemDetailsJSON(c, "Refund failed", err)
		}
		message := "Refund recorded"
		if res.ManualActionRequired {
			message = "Refund recorded; the gateway cannot refund, complete it manually"
		}
		return common.SuccessResponseJSON(c, fiber.StatusOK, message, fiber.Map{
			"transaction":            ToDTO(res.Transaction),
			"manual_action_required": res.ManualActionRequired,
		})
	}
}

// MarkFraud flags a transaction and forces it to refused.
func MarkFraud(machine *txservice.Machine) fiber.Handler {
	return func(c *fiber.Ctx) error {
		tx, err := scoped(c, machine)
		if err != nil {
			return common.ProblemDetailsJSON(c, "Transaction not found", err)
		}
		input, err := common.BindAndValidate[FraudRequest](c)
		if input == nil {
			return err // error response already written
		}
		p, _ := middleware.PrincipalFrom(c)
		flagged, err := machine.MarkFraud(c.UserContext(), tx.ID, p.UserID, input.Reason)
		if err != nil {
			return common.ProblemDetailsJSON(c, "Failed to flag transaction", err)
		}
		return common.SuccessResponseJSON(c, fiber.StatusOK, "Transaction flagged as fraud", ToDTO(flagged))
	}
}

// Reconcile queries the gateway for the current status.
func Reconcile(payments *paymentsvc.Service, machine *txservice.Machine) fiber.Handler {
	return func(c *fiber.Ctx) error {
		tx, err := scoped(c, machine)
		if err != nil {
			return common.ProblemDetailsJSON(c, "Transaction not found", err)
		}
		res, err := payments.Reconcile(c.UserContext(), tx.ID)
		if err != nil {
			return common.ProblemDetailsJSON(c, "Reconciliation failed", err)
		}
		return common.SuccessResponseJSON(c, fiber.StatusOK, "Transaction reconciled", fiber.Map{
			"transaction": ToDTO(res.Transaction),
			"outcome":     res.Outcome,
		})
	}
}

// scoped loads :id and hides transactions of other tenants.
func scoped(c *fiber.Ctx, machine *txservice.Machine) (*transaction.Transaction, error) {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return nil, domain.NewValidationError("id", "must be a uuid")
	}
	p, ok := middleware.PrincipalFrom(c)
	if !ok {
		return nil, domain.ErrUnauthorized
	}
	tx, err := machine.Get(c.UserContext(), id)
	if err != nil {
		return nil, err
	}
	if tx.TenantID != p.TenantID {
		return nil, fmt.Errorf("transaction %s: %w", id, domain.ErrNotFound)
	}
	return tx, nil
}

// ChargeForPayer is used by the magic link flow where the payer comes from
// a validated payment token instead of a JWT.
func ChargeForPayer(c *fiber.Ctx, payments *paymentsvc.Service, tenantID, payerID uuid.UUID, input *ChargeRequest) error {
	return charge(c, payments, tenantID, payerID, input)
}
