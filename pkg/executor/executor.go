// Package executor runs one unit of work of a pipeline run: it claims the step
// execution, gathers the outputs of earlier stages, calls the LLM gateway
// through the stage handler and records the outcome in the ledger.
package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dukex/coursepipe/pkg/checkpoint"
	"github.com/dukex/coursepipe/pkg/gateway"
	"github.com/dukex/coursepipe/pkg/ledger"
	"github.com/dukex/coursepipe/pkg/models"
	"github.com/dukex/coursepipe/pkg/otelhelper"
	"github.com/dukex/coursepipe/pkg/persistence"
	"github.com/dukex/coursepipe/pkg/protocol"
	"github.com/dukex/coursepipe/pkg/statemachine"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Config holds the executor tunables.
type Config struct {
	// MaxAttempts bounds how many times a unit runs before it is exhausted.
	MaxAttempts    int
	DefaultTimeout time.Duration
	StageTimeouts  map[models.Stage]time.Duration
}

func DefaultConfig() Config {
	return Config{
		MaxAttempts:    3,
		DefaultTimeout: gateway.DefaultTimeout,
		StageTimeouts:  gateway.DefaultStageTimeouts(),
	}
}

// Handlers resolves the handler of a stage.
type Handlers interface {
	Handler(stage models.Stage) (protocol.StepHandler, bool)
}

// Failure is the structured failure of an exhausted or retrying step.
type Failure struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retriable bool   `json:"retriable"`
}

// Result is the outcome of Execute.
type Result struct {
	Success         bool     `json:"success"`
	StepExecutionID string   `json:"step_execution_id,omitempty"`
	OutputSummary   string   `json:"output_summary,omitempty"`
	Failure         *Failure `json:"failure,omitempty"`
	// AlreadyCompleted is set when a redelivered job found its unit finished.
	AlreadyCompleted bool `json:"already_completed,omitempty"`
	// Skipped is set when no work was done: another worker holds the unit,
	// the run is already terminal or the job belongs to an earlier revision.
	Skipped bool `json:"skipped,omitempty"`
}

type Executor struct {
	persistence persistence.Persistence
	ledger      *ledger.Ledger
	checkpoints *checkpoint.Store
	handlers    Handlers
	gateway     protocol.LLMGateway
	tracer      trace.Tracer
	logger      *slog.Logger
	config      Config
}

func New(
	p persistence.Persistence,
	l *ledger.Ledger,
	checkpoints *checkpoint.Store,
	handlers Handlers,
	gw protocol.LLMGateway,
	tracer trace.Tracer,
	logger *slog.Logger,
	config Config,
) *Executor {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = DefaultConfig().MaxAttempts
	}

	return &Executor{
		persistence: p,
		ledger:      l,
		checkpoints: checkpoints,
		handlers:    handlers,
		gateway:     gateway.WithTimeouts(gw, config.StageTimeouts, config.DefaultTimeout),
		tracer:      tracer,
		logger:      logger,
		config:      config,
	}
}

// Execute runs the unit described by job. A nil error with a non-nil Failure
// means the unit is exhausted. ErrRetryScheduled means the queue should
// redeliver the job. Any other error is an infrastructure failure.
func (e *Executor) Execute(ctx context.Context, job models.Job) (*Result, error) {
	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "step.execute",
		attribute.String(otelhelper.RunIDKey, job.RunID),
		attribute.String(otelhelper.SourceIDKey, job.SourceID),
		attribute.String(otelhelper.StageKey, string(job.Stage)),
		attribute.Int(otelhelper.ScopeKey, models.ScopeValue(job.ScopeKey)),
		attribute.Int(otelhelper.AttemptKey, job.Attempt),
	)
	defer span.End()

	logger := e.logger.With("run_id", job.RunID, "stage", job.Stage, "scope_key", models.ScopeValue(job.ScopeKey))

	if !job.Stage.Valid() {
		return &Result{Failure: &Failure{Code: protocol.CodeUnknownStage, Message: fmt.Sprintf("unknown stage %q", job.Stage)}}, nil
	}

	run, err := e.persistence.RunRepository().GetRun(ctx, job.RunID)
	if err != nil {
		otelhelper.RecordFailure(span, err)

		return nil, fmt.Errorf("failed to load run %s: %w", job.RunID, err)
	}

	// A restart deletes the units of the previous revision; a job queued
	// before it must not create them again.
	if job.Revision != run.RevisionCount {
		logger.InfoContext(ctx, "Skipping job of a previous revision", "job_revision", job.Revision, "revision", run.RevisionCount)

		return &Result{Skipped: true}, nil
	}

	exec, err := e.ledger.FindOrCreate(ctx, job)
	if err != nil {
		otelhelper.RecordFailure(span, err)

		return nil, err
	}

	span.SetAttributes(attribute.String(otelhelper.StepExecutionIDKey, exec.ID))

	switch exec.Status {
	case models.StepStatusSuccess:
		logger.InfoContext(ctx, "Step already completed")

		return &Result{Success: true, AlreadyCompleted: true, StepExecutionID: exec.ID, OutputSummary: exec.Summary}, nil
	case models.StepStatusExhausted:
		return &Result{
			StepExecutionID: exec.ID,
			Failure:         &Failure{Code: exec.ErrorCode, Message: exec.ErrorMessage},
		}, nil
	}

	if statemachine.IsTerminal(run.Status) {
		logger.InfoContext(ctx, "Skipping step of terminal run", "status", run.Status)

		return &Result{Skipped: true, StepExecutionID: exec.ID}, nil
	}

	handler, ok := e.handlers.Handler(job.Stage)
	if !ok {
		err := Fatal(protocol.CodeHandlerNotRegistered, fmt.Sprintf("no handler registered for stage %s", job.Stage), nil)

		return e.fail(ctx, span, logger, exec, err)
	}

	err = e.ledger.Claim(ctx, exec)
	if err != nil {
		if errors.Is(err, ledger.ErrAlreadyRunning) || errors.Is(err, ledger.ErrClaimLost) || errors.Is(err, ledger.ErrTerminal) {
			logger.InfoContext(ctx, "Step claimed elsewhere, skipping", "reason", err.Error())

			return &Result{Skipped: true, StepExecutionID: exec.ID}, nil
		}

		otelhelper.RecordFailure(span, err)

		return nil, err
	}

	stepCtx, stepErr := e.gather(ctx, run, exec)
	if stepErr != nil {
		return e.fail(ctx, span, logger, exec, stepErr)
	}

	request, err := handler.BuildRequest(ctx, stepCtx)
	if err != nil {
		return e.fail(ctx, span, logger, exec, Fatal(protocol.CodeBuildRequestFailed, err.Error(), err))
	}

	if snapshot, err := json.Marshal(request); err == nil {
		exec.InputSnapshot = snapshot
	}

	completion, err := e.gateway.Complete(ctx, request)
	if err != nil {
		return e.fail(ctx, span, logger, exec, classifyGatewayError(err))
	}

	otelhelper.RecordCompletion(span, completion)

	if validation := handler.Validate(completion.Content); !validation.Valid {
		return e.fail(ctx, span, logger, exec, NewStepError(protocol.CodeValidationFailed, joinErrors(validation.Errors), nil))
	}

	output, err := handler.Parse(completion.Content)
	if err != nil {
		return e.fail(ctx, span, logger, exec, NewStepError(protocol.CodeParseFailed, err.Error(), err))
	}

	err = e.ledger.MarkSuccess(ctx, exec, output.Payload, output.Summary, models.ProviderMetadata{
		Provider:     completion.Provider,
		InputTokens:  completion.InputTokens,
		OutputTokens: completion.OutputTokens,
		LatencyMs:    completion.Latency.Milliseconds(),
	})
	if err != nil {
		otelhelper.RecordFailure(span, err)

		return nil, err
	}

	e.saveCheckpoint(ctx, logger, exec)

	if hook, ok := handler.(protocol.SuccessHook); ok {
		if err := hook.OnSuccess(ctx, stepCtx, output); err != nil {
			logger.ErrorContext(ctx, "Success hook failed", "error", err)
		}
	}

	logger.InfoContext(ctx, "Step completed",
		"step_execution_id", exec.ID, "duration_ms", exec.DurationMs, "provider", completion.Provider)

	return &Result{Success: true, StepExecutionID: exec.ID, OutputSummary: output.Summary}, nil
}

// saveCheckpoint records the completed unit unless the run became terminal
// while the step was running. Failures are logged.
func (e *Executor) saveCheckpoint(ctx context.Context, logger *slog.Logger, exec *models.StepExecution) {
	run, err := e.persistence.RunRepository().GetRun(ctx, exec.RunID)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to reload run before checkpoint", "error", err)

		return
	}

	if statemachine.IsTerminal(run.Status) {
		return
	}

	if _, err := e.checkpoints.Save(ctx, exec.RunID, exec.Stage, exec.ScopeKey); err != nil {
		logger.ErrorContext(ctx, "Failed to save checkpoint", "error", err)
	}
}

func (e *Executor) fail(ctx context.Context, span trace.Span, logger *slog.Logger, exec *models.StepExecution, stepErr *StepError) (*Result, error) {
	otelhelper.RecordFailure(span, stepErr)

	shouldRetry := stepErr.Retriable && exec.RetryCount+1 < e.config.MaxAttempts

	err := e.ledger.MarkFailed(ctx, exec, ledger.Failure{Code: stepErr.Code, Message: stepErr.Message}, shouldRetry)
	if err != nil {
		return nil, err
	}

	result := &Result{
		StepExecutionID: exec.ID,
		Failure:         &Failure{Code: stepErr.Code, Message: stepErr.Message, Retriable: shouldRetry},
	}

	if shouldRetry {
		logger.WarnContext(ctx, "Step failed, retry scheduled",
			"code", stepErr.Code, "message", stepErr.Message, "retry_count", exec.RetryCount)

		return result, fmt.Errorf("%w: %s", ErrRetryScheduled, stepErr.Code)
	}

	logger.ErrorContext(ctx, "Step exhausted",
		"code", stepErr.Code, "message", stepErr.Message, "retry_count", exec.RetryCount)

	return result, nil
}

func joinErrors(errs []string) string {
	if len(errs) == 0 {
		return "completion failed validation"
	}

	return strings.Join(errs, "; ")
}
