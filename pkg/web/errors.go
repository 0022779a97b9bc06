package web

import (
	"errors"

	"github.com/dukex/coursepipe/pkg/models"
	"github.com/dukex/coursepipe/pkg/orchestrator"
	"github.com/gofiber/fiber/v3"
	"github.com/moogar0880/problems"
)

func badRequest(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(400).
		WithInstance(c.Path()).
		WithType("validation_error").
		WithDetail(detail)

	return c.Status(fiber.StatusBadRequest).JSON(problem)
}

func notFound(c fiber.Ctx, problemType, detail string) error {
	problem := problems.NewStatusProblem(404).
		WithInstance(c.Path()).
		WithType(problemType).
		WithDetail(detail)

	return c.Status(fiber.StatusNotFound).JSON(problem)
}

// handleError maps orchestrator errors to problem responses.
func handleError(c fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, orchestrator.ErrRunNotFound):
		return notFound(c, "run_not_found", err.Error())

	case errors.Is(err, orchestrator.ErrSourceNotFound):
		return notFound(c, "source_not_found", err.Error())

	case errors.Is(err, orchestrator.ErrInvalidDecision),
		errors.Is(err, models.ErrUnknownStage):
		return badRequest(c, err.Error())

	case errors.Is(err, orchestrator.ErrSourceIneligible),
		errors.Is(err, orchestrator.ErrNoContentUnits):
		problem := problems.NewStatusProblem(422).
			WithInstance(c.Path()).
			WithType("source_not_ready").
			WithDetail(err.Error())

		return c.Status(fiber.StatusUnprocessableEntity).JSON(problem)

	case orchestrator.IsConflict(err):
		problem := problems.NewStatusProblem(409).
			WithInstance(c.Path()).
			WithType("conflict").
			WithDetail(err.Error())

		return c.Status(fiber.StatusConflict).JSON(problem)

	default:
		problem := problems.NewStatusProblem(500).
			WithInstance(c.Path()).
			WithType("internal_error").
			WithError(err)

		return c.Status(fiber.StatusInternalServerError).JSON(problem)
	}
}
