// Package worker connects the job queue to the step executor and reports
// step outcomes back to the orchestrator.
package worker

import (
	"context"
	"errors"
	"log/slog"

	"github.com/dukex/coursepipe/pkg/executor"
	"github.com/dukex/coursepipe/pkg/models"
	"github.com/dukex/coursepipe/pkg/protocol"
)

type StepExecutor interface {
	Execute(ctx context.Context, job models.Job) (*executor.Result, error)
}

type StageCallbacks interface {
	OnStageCompleted(ctx context.Context, runID string, stage models.Stage, scopeKey *int) error
	OnStageFailed(ctx context.Context, runID string, stage models.Stage, scopeKey *int, code, message string) error
}

type Worker struct {
	id        string
	executor  StepExecutor
	callbacks StageCallbacks
	logger    *slog.Logger
}

func New(id string, exec StepExecutor, callbacks StageCallbacks, logger *slog.Logger) *Worker {
	return &Worker{
		id:        id,
		executor:  exec,
		callbacks: callbacks,
		logger:    logger.With("module", "worker", "worker_id", id),
	}
}

// Run consumes jobs until ctx is cancelled.
func (w *Worker) Run(ctx context.Context, consumer protocol.Consumer) error {
	w.logger.InfoContext(ctx, "Worker started")

	err := consumer.Consume(ctx, w.Handle)

	w.logger.InfoContext(ctx, "Worker stopped")

	return err
}

// Handle executes one job. It returns an error when the job must be
// delivered again: a retry was scheduled or the outcome could not be
// reported to the orchestrator.
func (w *Worker) Handle(ctx context.Context, job models.Job) error {
	logger := w.logger.With(
		"run_id", job.RunID,
		"stage", job.Stage,
		"scope_key", models.ScopeValue(job.ScopeKey),
		"attempt", job.Attempt,
	)

	result, err := w.executor.Execute(ctx, job)
	if err != nil {
		if errors.Is(err, executor.ErrRetryScheduled) {
			logger.InfoContext(ctx, "Job will be retried", "reason", err)
		} else {
			logger.ErrorContext(ctx, "Job execution failed", "error", err)
		}

		return err
	}

	switch {
	case result.Skipped:
		logger.DebugContext(ctx, "Job skipped")

		return nil
	case result.Success:
		err = w.callbacks.OnStageCompleted(ctx, job.RunID, job.Stage, job.ScopeKey)
	case result.Failure != nil && result.StepExecutionID == "":
		// No unit was recorded for the job, so there is no stage of the run to fail.
		logger.ErrorContext(ctx, "Dropping job that matches no step execution",
			"code", result.Failure.Code, "message", result.Failure.Message)

		return nil
	case result.Failure != nil:
		err = w.callbacks.OnStageFailed(ctx, job.RunID, job.Stage, job.ScopeKey, result.Failure.Code, result.Failure.Message)
	}

	if err != nil {
		logger.ErrorContext(ctx, "Failed to report job outcome", "error", err)
	}

	return err
}
