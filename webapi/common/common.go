// Package common holds the response helpers shared by every route group.
package common

import (
	"errors"

	"github.com/amirasaad/ecclesia/pkg/domain"
	"github.com/amirasaad/ecclesia/pkg/gateway"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
)

var validate = validator.New()

// Response defines the standard API response structure for success cases.
type Response struct {
	Status  int    `json:"status"`         // HTTP status code
	Message string `json:"message"`        // Human-readable explanation
	Data    any    `json:"data,omitempty"` // Response data
}

// ProblemDetails follows RFC 9457 Problem Details for HTTP APIs.
type ProblemDetails struct {
	Type     string `json:"type,omitempty"`     // A URI reference that identifies the problem type
	Title    string `json:"title"`              // Short, human-readable summary
	Status   int    `json:"status"`             // HTTP status code
	Detail   string `json:"detail,omitempty"`   // Human-readable explanation
	Instance string `json:"instance,omitempty"` // URI reference that identifies the specific occurrence
	Errors   any    `json:"errors,omitempty"`   // Optional: additional error details
}

// SuccessResponseJSON writes a Response envelope.
func SuccessResponseJSON(c *fiber.Ctx, status int, message string, data any) error {
	return c.Status(status).JSON(Response{Status: status, Message: message, Data: data})
}

// ProblemDetailsJSON writes err as problem details. The status comes from
// ErrorToStatusCode unless an int is passed in args; a string in args
// replaces the detail text.
func ProblemDetailsJSON(c *fiber.Ctx, title string, err error, args ...any) error {
	status := fiber.StatusInternalServerError
	if err != nil {
		status = ErrorToStatusCode(err)
	}
	pd := ProblemDetails{Type: "about:blank", Title: title, Instance: c.OriginalURL()}
	if err != nil {
		pd.Detail = err.Error()
		pd.Errors = errorDetails(err)
	}
	for _, a := range args {
		switch v := a.(type) {
		case int:
			status = v
		case string:
			pd.Detail = v
		}
	}
	pd.Status = status
	return c.Status(status).JSON(pd, "application/problem+json")
}

func errorDetails(err error) any {
	var ve *domain.ValidationError
	if errors.As(err, &ve) {
		return ve.Fields
	}
	var de *domain.DuplicateError
	if errors.As(err, &de) {
		return fiber.Map{"existing_transaction_id": de.ExistingID}
	}
	var ne *domain.NotSupportedError
	if errors.As(err, &ne) {
		return fiber.Map{"operation": ne.Operation, "provider": ne.Provider, "manual_action_required": true}
	}
	return nil
}

// ErrorToStatusCode maps domain errors to appropriate HTTP status codes.
func ErrorToStatusCode(err error) int {
	var fe *fiber.Error
	switch {
	case errors.As(err, &fe):
		return fe.Code
	case errors.Is(err, domain.ErrValidation):
		return fiber.StatusBadRequest
	case errors.Is(err, domain.ErrUnauthorized):
		return fiber.StatusUnauthorized
	case errors.Is(err, domain.ErrForbidden):
		return fiber.StatusForbidden
	case errors.Is(err, domain.ErrNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, domain.ErrDuplicate),
		errors.Is(err, domain.ErrAlreadyExists),
		errors.Is(err, domain.ErrStateConflict):
		return fiber.StatusConflict
	case errors.Is(err, domain.ErrNotSupported),
		errors.Is(err, gateway.ErrRejected):
		return fiber.StatusUnprocessableEntity
	case errors.Is(err, gateway.ErrAuth):
		return fiber.StatusBadGateway
	case gateway.IsTimeout(err):
		return fiber.StatusGatewayTimeout
	case errors.Is(err, domain.ErrInfrastructure):
		return fiber.StatusServiceUnavailable
	default:
		return fiber.StatusInternalServerError
	}
}

// BindAndValidate parses the request body and validates it using go-playground/validator.
// On failure it writes the problem response and returns a nil pointer; the
// returned error is the result of that write.
func BindAndValidate[T any](c *fiber.Ctx) (*T, error) {
	var input T
	if err := c.BodyParser(&input); err != nil {
		return nil, ProblemDetailsJSON(c, "Invalid request body", err, fiber.StatusBadRequest)
	}
	if err := validate.Struct(input); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs)*2)
			for _, fe := range verrs {
				fields = append(fields, fe.Field(), fe.Tag())
			}
			err = domain.NewValidationError(fields...)
		}
		return nil, ProblemDetailsJSON(c, "Validation failed", err, fiber.StatusBadRequest)
	}
	return &input, nil
}
