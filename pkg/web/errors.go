package web

import (
	"errors"

	"github.com/dukex/weave/pkg/services"
	"github.com/dukex/weave/pkg/triggers/webhook"
	"github.com/gofiber/fiber/v3"
	"github.com/moogar0880/problems"
)

// Problem is the RFC 7807 body returned on failures. Validation failures list every
// violated field.
type Problem struct {
	*problems.Problem

	Code   string                `json:"code,omitempty"`
	Fields []services.FieldError `json:"fields,omitempty"`
}

func badRequest(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(fiber.StatusBadRequest).
		WithInstance(c.Path()).
		WithType("validation_error").
		WithDetail(detail)

	return c.Status(fiber.StatusBadRequest).JSON(Problem{Problem: problem, Code: services.CodeValidationFailed})
}

// handleServiceError maps a service error to its problem response.
func handleServiceError(c fiber.Ctx, err error) error {
	status, kind := fiber.StatusInternalServerError, "internal_error"

	switch {
	case services.IsValidationError(err):
		status, kind = fiber.StatusBadRequest, "validation_error"
	case services.IsNotFound(err):
		status, kind = fiber.StatusNotFound, "not_found"
	case services.IsConflictError(err):
		status, kind = fiber.StatusConflict, "conflict"
	case errors.Is(err, webhook.ErrUnauthorized):
		status, kind = fiber.StatusUnauthorized, "unauthorized"
	}

	problem := problems.NewStatusProblem(status).
		WithInstance(c.Path()).
		WithType(kind)

	// Unexpected errors are not exposed.
	if status == fiber.StatusInternalServerError {
		return c.Status(status).JSON(Problem{Problem: problem.WithDetail("internal error")})
	}

	body := Problem{
		Problem: problem.WithError(err),
		Code:    services.CodeOf(err),
		Fields:  fieldsOf(err),
	}

	return c.Status(status).JSON(body)
}

func fieldsOf(err error) []services.FieldError {
	var serviceErr *services.ServiceError
	if errors.As(err, &serviceErr) {
		return serviceErr.Fields
	}

	return nil
}
