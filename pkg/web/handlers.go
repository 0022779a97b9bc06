// Package web provides HTTP handlers and REST API endpoints for pipeline runs.
package web

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/dukex/coursepipe/pkg/models"
	"github.com/dukex/coursepipe/pkg/orchestrator"
	"github.com/dukex/coursepipe/pkg/persistence"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
)

// Pipeline is the set of run operations exposed over HTTP.
type Pipeline interface {
	StartRun(ctx context.Context, sourceID, initiator string) (*models.PipelineRun, error)
	GetRun(ctx context.Context, runID string) (*models.PipelineRun, error)
	ListRuns(ctx context.Context, filter persistence.RunFilter) ([]*models.PipelineRun, error)
	ListStepExecutions(ctx context.Context, runID string) ([]*models.StepExecution, error)
	SubmitHumanReview(ctx context.Context, submission orchestrator.ReviewSubmission) (*orchestrator.ReviewOutcome, error)
	ResumePipeline(ctx context.Context, runID string) (*models.PipelineRun, error)
	RecoverStuckRun(ctx context.Context, runID string) (*models.PipelineRun, error)
	RestartPipeline(ctx context.Context, runID string) (*models.PipelineRun, error)
	PauseRun(ctx context.Context, runID string) (*models.PipelineRun, error)
	CancelRun(ctx context.Context, runID, reason string) (*models.PipelineRun, error)
	MarkDeployed(ctx context.Context, runID string) (*models.PipelineRun, error)
	RetryEnrichment(ctx context.Context, runID string) (*models.PipelineRun, error)
}

// HealthChecker reports whether a dependency is reachable.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

type APIHandlers struct {
	pipeline  Pipeline
	validator *validator.Validate
	checkers  map[string]HealthChecker
}

func NewAPIHandlers(pipeline Pipeline, validator *validator.Validate, checkers map[string]HealthChecker) *APIHandlers {
	return &APIHandlers{
		pipeline:  pipeline,
		validator: validator,
		checkers:  checkers,
	}
}

// RegisterRoutes mounts the run endpoints on router.
func RegisterRoutes(router fiber.Router, h *APIHandlers) {
	r := router.Group("/runs")
	r.Get("/", h.ListRuns)
	r.Post("/", h.StartRun)
	r.Get("/:id", h.GetRun)
	r.Get("/:id/steps", h.ListSteps)
	r.Post("/:id/reviews", h.SubmitReview)
	r.Post("/:id/resume", h.ResumeRun)
	r.Post("/:id/recover", h.RecoverRun)
	r.Post("/:id/restart", h.RestartRun)
	r.Post("/:id/pause", h.PauseRun)
	r.Post("/:id/cancel", h.CancelRun)
	r.Post("/:id/deploy", h.DeployRun)
	r.Post("/:id/enrichment", h.RetryEnrichment)

	router.Get("/health", h.HealthCheck)
}

func (h *APIHandlers) StartRun(c fiber.Ctx) error {
	var req StartRunRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	run, err := h.pipeline.StartRun(c.Context(), req.SourceID, req.Initiator)
	if err != nil {
		return handleError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(run)
}

func (h *APIHandlers) GetRun(c fiber.Ctx) error {
	run, err := h.pipeline.GetRun(c.Context(), c.Params("id"))
	if err != nil {
		return handleError(c, err)
	}

	return c.JSON(run)
}

func (h *APIHandlers) ListRuns(c fiber.Ctx) error {
	filter := persistence.RunFilter{
		Status:   models.RunStatus(c.Query("status")),
		SourceID: c.Query("source_id"),
	}

	if limit := c.Query("limit"); limit != "" {
		value, err := strconv.Atoi(limit)
		if err != nil || value < 0 {
			return badRequest(c, "limit must be a non-negative integer")
		}

		filter.Limit = value
	}

	if degraded := c.Query("degraded"); degraded != "" {
		value, err := strconv.ParseBool(degraded)
		if err != nil {
			return badRequest(c, "degraded must be a boolean")
		}

		filter.Degraded = &value
	}

	runs, err := h.pipeline.ListRuns(c.Context(), filter)
	if err != nil {
		return handleError(c, err)
	}

	return c.JSON(fiber.Map{
		"runs":        runs,
		"total_count": len(runs),
	})
}

func (h *APIHandlers) ListSteps(c fiber.Ctx) error {
	includeOutput := false

	if value := c.Query("include_output"); value != "" {
		parsed, err := strconv.ParseBool(value)
		if err != nil {
			return badRequest(c, "include_output must be a boolean")
		}

		includeOutput = parsed
	}

	steps, err := h.pipeline.ListStepExecutions(c.Context(), c.Params("id"))
	if err != nil {
		return handleError(c, err)
	}

	response := make([]StepExecutionResponse, 0, len(steps))
	for _, step := range steps {
		response = append(response, TransformStepResponse(step, includeOutput))
	}

	return c.JSON(fiber.Map{"steps": response})
}

func (h *APIHandlers) SubmitReview(c fiber.Ctx) error {
	var req SubmitReviewRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	stage, err := models.ParseStage(req.Stage)
	if err != nil {
		return badRequest(c, err.Error())
	}

	outcome, err := h.pipeline.SubmitHumanReview(c.Context(), orchestrator.ReviewSubmission{
		RunID:            c.Params("id"),
		Stage:            stage,
		Decision:         models.ReviewDecision(req.Decision),
		Reviewer:         req.Reviewer,
		Comment:          req.Comment,
		SelectedOptionID: req.SelectedOptionID,
	})
	if err != nil {
		return handleError(c, err)
	}

	return c.JSON(outcome)
}

func (h *APIHandlers) ResumeRun(c fiber.Ctx) error {
	return h.runAction(c, h.pipeline.ResumePipeline)
}

func (h *APIHandlers) RecoverRun(c fiber.Ctx) error {
	return h.runAction(c, h.pipeline.RecoverStuckRun)
}

func (h *APIHandlers) RestartRun(c fiber.Ctx) error {
	return h.runAction(c, h.pipeline.RestartPipeline)
}

func (h *APIHandlers) PauseRun(c fiber.Ctx) error {
	return h.runAction(c, h.pipeline.PauseRun)
}

func (h *APIHandlers) DeployRun(c fiber.Ctx) error {
	return h.runAction(c, h.pipeline.MarkDeployed)
}

func (h *APIHandlers) RetryEnrichment(c fiber.Ctx) error {
	return h.runAction(c, h.pipeline.RetryEnrichment)
}

func (h *APIHandlers) CancelRun(c fiber.Ctx) error {
	var req CancelRunRequest

	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&req); err != nil {
			return badRequest(c, "Invalid JSON format")
		}

		if err := h.validator.Struct(req); err != nil {
			return badRequest(c, err.Error())
		}
	}

	run, err := h.pipeline.CancelRun(c.Context(), c.Params("id"), req.Reason)
	if err != nil {
		return handleError(c, err)
	}

	return c.JSON(run)
}

func (h *APIHandlers) runAction(c fiber.Ctx, action func(context.Context, string) (*models.PipelineRun, error)) error {
	run, err := action(c.Context(), c.Params("id"))
	if err != nil {
		return handleError(c, err)
	}

	return c.JSON(run)
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	status := "healthy"
	message := "Coursepipe API is healthy"
	httpStatus := http.StatusOK

	results := fiber.Map{}

	for name, checker := range h.checkers {
		if err := checker.HealthCheck(c.Context()); err != nil {
			results[name] = err.Error()
			status = "unhealthy"
			message = "Coursepipe API is unhealthy"
			httpStatus = http.StatusServiceUnavailable

			continue
		}

		results[name] = "ok"
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":    status,
		"message":   message,
		"checkers":  results,
		"timestamp": time.Now().UTC(),
	})
}
