// Package ledger tracks the lifecycle of step executions:
// pending -> running -> success | failed -> (pending) | exhausted.
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/coursepipe/pkg/events"
	"github.com/dukex/coursepipe/pkg/models"
	"github.com/dukex/coursepipe/pkg/persistence"
	"github.com/dukex/coursepipe/pkg/protocol"
)

var (
	// ErrAlreadyRunning is returned by Claim when another worker holds the execution.
	ErrAlreadyRunning = errors.New("step execution is already running")

	// ErrClaimLost is returned by Claim when a concurrent claim won the race.
	ErrClaimLost = errors.New("step execution claimed by another worker")

	// ErrTerminal is returned when a transition is attempted on a success or exhausted execution.
	ErrTerminal = errors.New("step execution is terminal")

	// ErrInvalidTransition is returned for a step status change the ledger does not allow.
	ErrInvalidTransition = errors.New("invalid step execution transition")
)

// DefaultStaleAfter is how long a running execution may go without finishing
// before a redelivered job is allowed to take it over.
const DefaultStaleAfter = 15 * time.Minute

// Failure is the structured {code, message} recorded on a failed execution.
type Failure struct {
	Code    string
	Message string
}

// Ledger records step execution transitions and emits a lifecycle event for each.
type Ledger struct {
	repo       persistence.StepExecutionRepository
	notifier   protocol.Notifier
	logger     *slog.Logger
	now        func() time.Time
	staleAfter time.Duration
}

// Option customizes a Ledger.
type Option func(*Ledger)

// WithClock replaces the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) {
		l.now = now
	}
}

// WithStaleAfter sets how old a running claim must be before it can be taken over.
func WithStaleAfter(d time.Duration) Option {
	return func(l *Ledger) {
		l.staleAfter = d
	}
}

func New(repo persistence.StepExecutionRepository, notifier protocol.Notifier, logger *slog.Logger, opts ...Option) *Ledger {
	l := &Ledger{
		repo:       repo,
		notifier:   notifier,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
		staleAfter: DefaultStaleAfter,
	}

	for _, opt := range opts {
		opt(l)
	}

	return l
}

func (l *Ledger) notify(ctx context.Context, eventType events.EventType, exec *models.StepExecution) {
	if l.notifier == nil {
		return
	}

	l.notifier.Notify(ctx, exec.RunID, events.NewStepEvent(eventType, exec))
}

// FindOrCreate returns the execution of the job's unit, creating it in pending when absent.
func (l *Ledger) FindOrCreate(ctx context.Context, job models.Job) (*models.StepExecution, error) {
	exec, created, err := l.repo.FindOrCreate(ctx, &models.StepExecution{
		RunID:        job.RunID,
		Stage:        job.Stage,
		StageOrdinal: job.Stage.Ordinal(),
		ScopeKey:     job.ScopeKey,
		Revision:     job.Revision,
		Status:       models.StepStatusPending,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to find or create step execution: %w", err)
	}

	if created {
		l.notify(ctx, events.StepCreatedEvent, exec)
	}

	return exec, nil
}

// Requeue moves a failed execution back to pending ahead of a retry.
func (l *Ledger) Requeue(ctx context.Context, exec *models.StepExecution) error {
	if exec.Status != models.StepStatusFailed {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, exec.Status, models.StepStatusPending)
	}

	exec.Status = models.StepStatusPending

	err := l.repo.UpdateStepExecution(ctx, exec)
	if err != nil {
		if persistence.IsVersionConflict(err) {
			return ErrClaimLost
		}

		return fmt.Errorf("failed to requeue step execution %s: %w", exec.ID, err)
	}

	return nil
}

// Claim marks the execution running and records its start time. A failed
// execution is requeued first. A running execution is only taken over when
// its claim is older than the stale threshold.
func (l *Ledger) Claim(ctx context.Context, exec *models.StepExecution) error {
	switch exec.Status {
	case models.StepStatusSuccess, models.StepStatusExhausted:
		return ErrTerminal
	case models.StepStatusFailed:
		if err := l.Requeue(ctx, exec); err != nil {
			return err
		}
	case models.StepStatusRunning:
		if exec.StartedAt != nil && l.now().Sub(*exec.StartedAt) < l.staleAfter {
			return ErrAlreadyRunning
		}

		l.logger.WarnContext(ctx, "taking over stale step execution",
			"step_execution_id", exec.ID, "run_id", exec.RunID, "stage", exec.Stage)
	case models.StepStatusPending:
	}

	startedAt := l.now()
	exec.Status = models.StepStatusRunning
	exec.StartedAt = &startedAt
	exec.CompletedAt = nil
	exec.DurationMs = 0

	err := l.repo.UpdateStepExecution(ctx, exec)
	if err != nil {
		if persistence.IsVersionConflict(err) {
			return ErrClaimLost
		}

		return fmt.Errorf("failed to claim step execution %s: %w", exec.ID, err)
	}

	l.notify(ctx, events.StepStartedEvent, exec)

	return nil
}

func (l *Ledger) complete(exec *models.StepExecution) {
	completedAt := l.now()
	exec.CompletedAt = &completedAt

	if exec.StartedAt != nil {
		exec.DurationMs = completedAt.Sub(*exec.StartedAt).Milliseconds()
	}
}

// MarkSuccess stores the output and provider metadata of a running execution.
// Duration comes from the recorded start and end timestamps.
func (l *Ledger) MarkSuccess(ctx context.Context, exec *models.StepExecution, output json.RawMessage, summary string, metadata models.ProviderMetadata) error {
	if exec.Status != models.StepStatusRunning {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, exec.Status, models.StepStatusSuccess)
	}

	l.complete(exec)
	exec.Status = models.StepStatusSuccess
	exec.OutputPayload = output
	exec.Summary = summary
	exec.Provider = metadata.Provider
	exec.InputTokens = metadata.InputTokens
	exec.OutputTokens = metadata.OutputTokens
	exec.LatencyMs = metadata.LatencyMs
	exec.ErrorCode = ""
	exec.ErrorMessage = ""

	err := l.repo.UpdateStepExecution(ctx, exec)
	if err != nil {
		return fmt.Errorf("failed to mark step execution %s successful: %w", exec.ID, err)
	}

	l.notify(ctx, events.StepCompletedEvent, exec)

	return nil
}

// MarkFailed records a failure and increments the retry count. The execution
// becomes failed when shouldRetry is set and exhausted otherwise.
func (l *Ledger) MarkFailed(ctx context.Context, exec *models.StepExecution, failure Failure, shouldRetry bool) error {
	if exec.IsTerminal() {
		return ErrTerminal
	}

	l.complete(exec)
	exec.RetryCount++
	exec.ErrorCode = failure.Code
	exec.ErrorMessage = failure.Message

	if shouldRetry {
		exec.Status = models.StepStatusFailed
	} else {
		exec.Status = models.StepStatusExhausted
	}

	err := l.repo.UpdateStepExecution(ctx, exec)
	if err != nil {
		return fmt.Errorf("failed to mark step execution %s failed: %w", exec.ID, err)
	}

	l.notify(ctx, events.StepFailedEvent, exec)

	return nil
}
