package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dukex/coursepipe/pkg/events"
	"github.com/dukex/coursepipe/pkg/models"
	"github.com/dukex/coursepipe/pkg/persistence"
	"github.com/dukex/coursepipe/pkg/statemachine"
)

// OnStageCompleted decides what follows the completion of one unit of a
// stage. Callbacks for runs that are not RUNNING, or for a stage the run
// already left, are ignored.
//
//	idea, final_evaluation          wait for review
//	outline                         fan out episode_draft per declared episode
//	episode_draft, episode_content  once every episode succeeded, fan out the next stage
//	practice                        once every level succeeded, enqueue final_evaluation
func (o *Orchestrator) OnStageCompleted(ctx context.Context, runID string, stage models.Stage, scopeKey *int) error {
	run, err := o.GetRun(ctx, runID)
	if err != nil {
		return err
	}

	logger := o.logger.With("run_id", runID, "stage", stage, "scope_key", models.ScopeValue(scopeKey))

	if run.Status != models.RunStatusRunning {
		logger.InfoContext(ctx, "Ignoring completion of a run that is not running", "status", run.Status)

		return nil
	}

	if run.CurrentStage != stage {
		logger.InfoContext(ctx, "Ignoring completion of a stage the run already left", "current_stage", run.CurrentStage)

		return nil
	}

	if _, gated := stage.ReviewGate(); gated {
		return o.waitForReview(ctx, run, stage)
	}

	if stage == models.StageOutline {
		return o.fanOutEpisodes(ctx, run)
	}

	completed, err := o.persistence.StepExecutionRepository().CountByStatus(ctx, runID, stage, models.StepStatusSuccess)
	if err != nil {
		return fmt.Errorf("failed to count completed %s units: %w", stage, err)
	}

	expected := stage.ExpectedUnits(run.EpisodeCount)
	if completed < expected {
		logger.DebugContext(ctx, "Waiting for remaining units", "completed", completed, "expected", expected)

		return nil
	}

	next, ok := stage.Next()
	if !ok {
		return nil
	}

	advanced, won, err := o.advance(ctx, runID, stage, next, nil)
	if err != nil || !won {
		return err
	}

	return o.enqueueStage(ctx, advanced, next)
}

// advance moves a RUNNING run from one stage to the next. Only the caller
// that observes the run still at from wins; the others get won == false.
func (o *Orchestrator) advance(ctx context.Context, runID string, from, to models.Stage, mutate func(*models.PipelineRun)) (*models.PipelineRun, bool, error) {
	run, err := o.mutateRun(ctx, runID, func(run *models.PipelineRun) error {
		if run.Status != models.RunStatusRunning || run.CurrentStage != from {
			return errStale
		}

		if mutate != nil {
			mutate(run)
		}

		run.EnterStage(to)

		return nil
	})
	if err != nil {
		if errors.Is(err, errStale) {
			return nil, false, nil
		}

		return nil, false, err
	}

	o.notify(ctx, events.RunStageEnteredEvent, run)

	return run, true, nil
}

func (o *Orchestrator) waitForReview(ctx context.Context, run *models.PipelineRun, stage models.Stage) error {
	updated, err := o.mutateRun(ctx, run.ID, func(run *models.PipelineRun) error {
		if run.Status != models.RunStatusRunning || run.CurrentStage != stage {
			return errStale
		}

		if err := statemachine.Transition(run.Status, models.RunStatusWaitingReview); err != nil {
			return err
		}

		run.Status = models.RunStatusWaitingReview
		run.EnterStage(stage)

		return nil
	})
	if err != nil {
		if errors.Is(err, errStale) {
			return nil
		}

		return err
	}

	o.logger.InfoContext(ctx, "Waiting for review", "run_id", run.ID, "stage", stage)
	o.notify(ctx, events.RunWaitingReviewEvent, updated)

	return nil
}

func (o *Orchestrator) fanOutEpisodes(ctx context.Context, run *models.PipelineRun) error {
	count, err := o.episodeCount(ctx, run)
	if err != nil {
		return err
	}

	advanced, won, err := o.advance(ctx, run.ID, models.StageOutline, models.StageEpisodeDraft, func(run *models.PipelineRun) {
		run.EpisodeCount = count
	})
	if err != nil || !won {
		return err
	}

	return o.enqueueStage(ctx, advanced, models.StageEpisodeDraft)
}

// episodeCount reads the episode count declared by the outline output,
// falling back to the source unit count and then to the configured default.
func (o *Orchestrator) episodeCount(ctx context.Context, run *models.PipelineRun) (int, error) {
	exec, err := o.persistence.StepExecutionRepository().FindStepExecution(ctx, run.ID, models.StageOutline, nil)
	if err != nil && !persistence.IsNotFound(err) {
		return 0, err
	}

	if exec != nil && exec.Status == models.StepStatusSuccess {
		var outline struct {
			EpisodeCount int `json:"episode_count"`
		}

		if json.Unmarshal(exec.OutputPayload, &outline) == nil && outline.EpisodeCount > 0 {
			return outline.EpisodeCount, nil
		}
	}

	source, err := o.persistence.SourceRepository().GetSource(ctx, run.SourceID)
	if err == nil && source.UnitCount > 0 {
		return source.UnitCount, nil
	}

	return o.config.DefaultEpisodeCount, nil
}

// OnStageFailed fails a RUNNING run after one of its units was exhausted.
// Failures of a stage the run is not at are ignored.
func (o *Orchestrator) OnStageFailed(ctx context.Context, runID string, stage models.Stage, scopeKey *int, code, message string) error {
	updated, err := o.mutateRun(ctx, runID, func(run *models.PipelineRun) error {
		if run.Status != models.RunStatusRunning || run.CurrentStage != stage {
			return errStale
		}

		if err := statemachine.Transition(run.Status, models.RunStatusFailed); err != nil {
			return err
		}

		run.Status = models.RunStatusFailed

		if scopeKey != nil {
			run.SetError(code, fmt.Sprintf("%s %d: %s", stage, *scopeKey, message))
		} else {
			run.SetError(code, fmt.Sprintf("%s: %s", stage, message))
		}

		return nil
	})
	if err != nil {
		if errors.Is(err, errStale) {
			o.logger.InfoContext(ctx, "Ignoring failure of a stage the run is not running", "run_id", runID, "stage", stage)

			return nil
		}

		return err
	}

	o.logger.ErrorContext(ctx, "Pipeline run failed", "run_id", runID, "stage", stage, "code", code, "message", message)
	o.notify(ctx, events.RunFailedEvent, updated)

	return nil
}
