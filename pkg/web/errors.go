package web

import (
	"errors"

	"github.com/dukex/procflow/pkg/log"
	"github.com/dukex/procflow/pkg/services"
	"github.com/gofiber/fiber/v3"
	"github.com/moogar0880/problems"
)

func problem(c fiber.Ctx, status int, problemType, detail string) error {
	p := problems.NewStatusProblem(status).
		WithInstance(c.Path()).
		WithType(problemType).
		WithDetail(detail)

	return c.Status(status).JSON(p)
}

func badRequest(c fiber.Ctx, detail string) error {
	return problem(c, fiber.StatusBadRequest, "validation_error", detail)
}

func internalError(c fiber.Ctx, err error) error {
	log.FromContext(c.Context()).ErrorContext(c.Context(), "Request failed", "path", c.Path(), "error", err)

	p := problems.NewStatusProblem(fiber.StatusInternalServerError).
		WithInstance(c.Path()).
		WithType("internal_error").
		WithError(err)

	return c.Status(fiber.StatusInternalServerError).JSON(p)
}

// errorCode returns the code of the outermost ServiceError, or fallback.
func errorCode(err error, fallback string) string {
	var serviceErr *services.ServiceError
	if errors.As(err, &serviceErr) && serviceErr.Code != "" {
		return serviceErr.Code
	}

	return fallback
}

// handleServiceError maps the error classes of the registry and the engine to problem responses.
func handleServiceError(c fiber.Ctx, err error) error {
	switch {
	case services.IsValidationError(err):
		return problem(c, fiber.StatusBadRequest, errorCode(err, "validation_error"), err.Error())
	case services.IsNotFoundError(err):
		return problem(c, fiber.StatusNotFound, errorCode(err, "not_found"), err.Error())
	case services.IsInactiveDefinitionError(err):
		return problem(c, fiber.StatusConflict, errorCode(err, "definition_inactive"), err.Error())
	case services.IsInvalidStateError(err):
		return problem(c, fiber.StatusConflict, "invalid_state", err.Error())
	case services.IsStepMismatchError(err):
		return problem(c, fiber.StatusConflict, "step_mismatch", err.Error())
	case services.IsConflictError(err):
		return problem(c, fiber.StatusConflict, errorCode(err, "conflict"), err.Error())
	default:
		return internalError(c, err)
	}
}
