// Package orchestrator drives pipeline runs: it starts them, advances stages
// as step executions complete, fans work out per episode or level, waits for
// fan-in before moving on, pauses at human review gates and finalizes
// approved runs.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/coursepipe/pkg/checkpoint"
	"github.com/dukex/coursepipe/pkg/events"
	"github.com/dukex/coursepipe/pkg/models"
	"github.com/dukex/coursepipe/pkg/persistence"
	"github.com/dukex/coursepipe/pkg/protocol"
)

// errStale aborts a run mutation whose precondition no longer holds.
var errStale = errors.New("run changed concurrently")

// Config holds the orchestrator tunables.
type Config struct {
	// DefaultEpisodeCount is used when neither the outline nor the source
	// declares how many episodes the course has.
	DefaultEpisodeCount int
	// MaxUpdateRetries bounds re-reads after an optimistic lock conflict.
	MaxUpdateRetries int
}

func DefaultConfig() Config {
	return Config{
		DefaultEpisodeCount: 10,
		MaxUpdateRetries:    3,
	}
}

// Assembler builds the downstream course of an approved run.
type Assembler interface {
	Build(ctx context.Context, run *models.PipelineRun) (*models.Artifact, error)
}

type Orchestrator struct {
	persistence persistence.Persistence
	checkpoints *checkpoint.Store
	queue       protocol.Queue
	notifier    protocol.Notifier
	assembler   Assembler
	logger      *slog.Logger
	config      Config
	now         func() time.Time
}

func New(
	p persistence.Persistence,
	checkpoints *checkpoint.Store,
	queue protocol.Queue,
	notifier protocol.Notifier,
	assembler Assembler,
	logger *slog.Logger,
	config Config,
) *Orchestrator {
	if config.DefaultEpisodeCount <= 0 {
		config.DefaultEpisodeCount = DefaultConfig().DefaultEpisodeCount
	}

	if config.MaxUpdateRetries <= 0 {
		config.MaxUpdateRetries = DefaultConfig().MaxUpdateRetries
	}

	return &Orchestrator{
		persistence: p,
		checkpoints: checkpoints,
		queue:       queue,
		notifier:    notifier,
		assembler:   assembler,
		logger:      logger,
		config:      config,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// GetRun returns a run by id.
func (o *Orchestrator) GetRun(ctx context.Context, runID string) (*models.PipelineRun, error) {
	run, err := o.persistence.RunRepository().GetRun(ctx, runID)
	if err != nil {
		if persistence.IsRunNotFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
		}

		return nil, err
	}

	return run, nil
}

// ListRuns returns the runs matching filter.
func (o *Orchestrator) ListRuns(ctx context.Context, filter persistence.RunFilter) ([]*models.PipelineRun, error) {
	return o.persistence.RunRepository().ListRuns(ctx, filter)
}

// ListStepExecutions returns the step executions of a run in stage order.
func (o *Orchestrator) ListStepExecutions(ctx context.Context, runID string) ([]*models.StepExecution, error) {
	if _, err := o.GetRun(ctx, runID); err != nil {
		return nil, err
	}

	return o.persistence.StepExecutionRepository().ListByRun(ctx, runID)
}

// mutateRun applies fn to a fresh copy of the run and writes it with
// optimistic locking, re-reading on version conflicts. An error from fn
// aborts the write and is returned as is.
func (o *Orchestrator) mutateRun(ctx context.Context, runID string, fn func(run *models.PipelineRun) error) (*models.PipelineRun, error) {
	var lastErr error

	for range o.config.MaxUpdateRetries + 1 {
		run, err := o.GetRun(ctx, runID)
		if err != nil {
			return nil, err
		}

		if err := fn(run); err != nil {
			return nil, err
		}

		run.UpdatedAt = o.now()

		err = o.persistence.RunRepository().UpdateRun(ctx, run)
		if err == nil {
			return run, nil
		}

		if !persistence.IsVersionConflict(err) {
			return nil, fmt.Errorf("failed to update run %s: %w", runID, err)
		}

		lastErr = err
	}

	return nil, fmt.Errorf("failed to update run %s after %d attempts: %w", runID, o.config.MaxUpdateRetries+1, lastErr)
}

func (o *Orchestrator) notify(ctx context.Context, eventType events.EventType, run *models.PipelineRun) {
	if o.notifier == nil {
		return
	}

	o.notifier.Notify(ctx, run.ID, events.NewRunEvent(eventType, run))
}

// enqueueUnits enqueues the given units of a stage, one job per scope key.
func (o *Orchestrator) enqueueUnits(ctx context.Context, run *models.PipelineRun, stage models.Stage, scopes []*int) error {
	if len(scopes) == 0 {
		return nil
	}

	if len(scopes) == 1 && scopes[0] == nil {
		return o.queue.Enqueue(ctx, models.NewJob(run, stage, nil))
	}

	jobs := make([]models.Job, 0, len(scopes))
	for _, scope := range scopes {
		jobs = append(jobs, models.NewJob(run, stage, scope))
	}

	return o.queue.EnqueueBulk(ctx, jobs)
}

// enqueueStage enqueues every unit of a stage. A failed enqueue fails the run
// so that operators see it instead of a silently stalled run.
func (o *Orchestrator) enqueueStage(ctx context.Context, run *models.PipelineRun, stage models.Stage) error {
	return o.enqueueOrFail(ctx, run, stage, stage.ScopeKeys(run.EpisodeCount))
}

func (o *Orchestrator) enqueueOrFail(ctx context.Context, run *models.PipelineRun, stage models.Stage, scopes []*int) error {
	err := o.enqueueUnits(ctx, run, stage, scopes)
	if err == nil {
		o.logger.InfoContext(ctx, "Enqueued stage", "run_id", run.ID, "stage", stage, "jobs", len(scopes))

		return nil
	}

	o.logger.ErrorContext(ctx, "Failed to enqueue stage", "run_id", run.ID, "stage", stage, "error", err)

	if failErr := o.OnStageFailed(ctx, run.ID, stage, nil, CodeEnqueueFailed, err.Error()); failErr != nil {
		o.logger.ErrorContext(ctx, "Failed to record enqueue failure", "run_id", run.ID, "error", failErr)
	}

	return fmt.Errorf("failed to enqueue %s for run %s: %w", stage, run.ID, err)
}

func (o *Orchestrator) unlockSource(ctx context.Context, run *models.PipelineRun) {
	if err := o.persistence.SourceRepository().SetLocked(ctx, run.SourceID, false); err != nil {
		o.logger.ErrorContext(ctx, "Failed to unlock source", "run_id", run.ID, "source_id", run.SourceID, "error", err)
	}
}
