package orchestrator

import (
	"context"
	"fmt"

	"github.com/dukex/coursepipe/pkg/events"
	"github.com/dukex/coursepipe/pkg/models"
	"github.com/dukex/coursepipe/pkg/persistence"
	"github.com/dukex/coursepipe/pkg/statemachine"
	"github.com/google/uuid"
)

// StartRun creates a RUNNING run at the first stage for an eligible source,
// locks the source and enqueues the first stage.
func (o *Orchestrator) StartRun(ctx context.Context, sourceID, initiator string) (*models.PipelineRun, error) {
	source, err := o.persistence.SourceRepository().GetSource(ctx, sourceID)
	if err != nil {
		if persistence.IsNotFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrSourceNotFound, sourceID)
		}

		return nil, err
	}

	switch {
	case !source.Eligible():
		return nil, fmt.Errorf("%w: status is %s", ErrSourceIneligible, source.Status)
	case source.UnitCount <= 0:
		return nil, ErrNoContentUnits
	case source.HasCompletedOutput():
		return nil, fmt.Errorf("%w: artifact %s", ErrSourceAlreadyCompleted, source.CompletedArtifactID)
	}

	active, err := o.persistence.RunRepository().ActiveRunForSource(ctx, sourceID)
	if err != nil {
		return nil, err
	}

	if active != nil {
		return nil, fmt.Errorf("%w: run %s", ErrActiveRunExists, active.ID)
	}

	now := o.now()
	run := &models.PipelineRun{
		ID:        uuid.NewString(),
		SourceID:  sourceID,
		Status:    models.RunStatusCreated,
		Initiator: initiator,
		StartedAt: now,
		UpdatedAt: now,
	}

	if err := statemachine.Transition(run.Status, models.RunStatusRunning); err != nil {
		return nil, err
	}

	run.Status = models.RunStatusRunning
	run.CurrentStage = models.FirstStage
	run.CurrentStageOrdinal = models.FirstStage.Ordinal()

	err = o.persistence.RunRepository().CreateRun(ctx, run)
	if err != nil {
		if persistence.IsActiveRunExists(err) {
			return nil, fmt.Errorf("%w: %s", ErrActiveRunExists, sourceID)
		}

		return nil, fmt.Errorf("failed to create run: %w", err)
	}

	if err := o.persistence.SourceRepository().SetLocked(ctx, sourceID, true); err != nil {
		return nil, fmt.Errorf("failed to lock source %s: %w", sourceID, err)
	}

	o.logger.InfoContext(ctx, "Pipeline run started", "run_id", run.ID, "source_id", sourceID, "initiator", initiator)
	o.notify(ctx, events.RunStartedEvent, run)

	if err := o.enqueueStage(ctx, run, models.FirstStage); err != nil {
		return nil, err
	}

	return run, nil
}
