package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/dukex/coursepipe/pkg/events"
	"github.com/dukex/coursepipe/pkg/models"
	"github.com/dukex/coursepipe/pkg/persistence"
	"github.com/dukex/coursepipe/pkg/statemachine"
)

// ResumePipeline continues a PAUSED run from its checkpoint. Units of the
// resume stage that already succeeded are not enqueued again. A run paused
// after finishing a review-gated stage whose review is still pending goes
// back to WAITING_REVIEW.
func (o *Orchestrator) ResumePipeline(ctx context.Context, runID string) (*models.PipelineRun, error) {
	return o.continueFromCheckpoint(ctx, runID, statemachine.CanResume, ErrNotResumable)
}

// RecoverStuckRun continues a STUCK run from its checkpoint the same way
// ResumePipeline continues a paused one, keeping the work already done.
func (o *Orchestrator) RecoverStuckRun(ctx context.Context, runID string) (*models.PipelineRun, error) {
	isStuck := func(status models.RunStatus) bool { return status == models.RunStatusStuck }

	return o.continueFromCheckpoint(ctx, runID, isStuck, ErrNotStuck)
}

func (o *Orchestrator) continueFromCheckpoint(ctx context.Context, runID string, allowed func(models.RunStatus) bool, notAllowed error) (*models.PipelineRun, error) {
	run, err := o.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}

	if !allowed(run.Status) {
		return nil, fmt.Errorf("%w: status is %s", notAllowed, run.Status)
	}

	point, err := o.checkpoints.GetResumePoint(ctx, runID)
	if err != nil {
		return nil, err
	}

	target, awaitingReview, err := o.resolveResumeStage(ctx, run, point)
	if err != nil {
		return nil, err
	}

	episodeCount := run.EpisodeCount
	if episodeCount == 0 && target.FanOut() == models.FanOutEpisode {
		if episodeCount, err = o.episodeCount(ctx, run); err != nil {
			return nil, err
		}
	}

	resumed, err := o.mutateRun(ctx, runID, func(run *models.PipelineRun) error {
		if !allowed(run.Status) {
			return fmt.Errorf("%w: status is %s", notAllowed, run.Status)
		}

		if err := statemachine.Transition(run.Status, models.RunStatusRunning); err != nil {
			return err
		}

		run.Status = models.RunStatusRunning
		run.EpisodeCount = episodeCount
		run.ClearError()
		run.EnterStage(target)

		if awaitingReview {
			if err := statemachine.Transition(run.Status, models.RunStatusWaitingReview); err != nil {
				return err
			}

			run.Status = models.RunStatusWaitingReview
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	o.logger.InfoContext(ctx, "Pipeline run resumed", "run_id", runID, "stage", target, "awaiting_review", awaitingReview)
	o.notify(ctx, events.RunResumedEvent, resumed)

	if awaitingReview {
		o.notify(ctx, events.RunWaitingReviewEvent, resumed)

		return resumed, nil
	}

	missing, err := o.missingUnits(ctx, resumed, target)
	if err != nil {
		return nil, err
	}

	if len(missing) == 0 {
		// Every unit finished while the run was paused.
		if err := o.OnStageCompleted(ctx, runID, target, nil); err != nil {
			return nil, err
		}

		return o.GetRun(ctx, runID)
	}

	if err := o.enqueueOrFail(ctx, resumed, target, missing); err != nil {
		return nil, err
	}

	return resumed, nil
}

// resolveResumeStage picks the stage a paused or stuck run continues with. The
// checkpoint points past the last completed unit, but a fan-out stage is
// only done once all of its units succeeded, and a gated stage is only done
// once approved.
func (o *Orchestrator) resolveResumeStage(ctx context.Context, run *models.PipelineRun, point *models.ResumePoint) (models.Stage, bool, error) {
	after := point.AfterStage
	if after == "" {
		return point.Stage, false, nil
	}

	if after.IsFanOut() {
		completed, err := o.persistence.StepExecutionRepository().CountByStatus(ctx, run.ID, after, models.StepStatusSuccess)
		if err != nil {
			return "", false, err
		}

		if completed < after.ExpectedUnits(run.EpisodeCount) {
			return after, false, nil
		}
	}

	if _, gated := after.ReviewGate(); gated {
		review, err := o.persistence.ReviewRepository().FindReview(ctx, run.ID, after, run.RevisionCount)
		if err != nil && !persistence.IsNotFound(err) {
			return "", false, err
		}

		if review == nil || !review.Approved() {
			return after, true, nil
		}
	}

	return point.Stage, false, nil
}

// missingUnits lists the scope keys of a stage without a successful execution.
func (o *Orchestrator) missingUnits(ctx context.Context, run *models.PipelineRun, stage models.Stage) ([]*int, error) {
	successes, err := o.persistence.StepExecutionRepository().ListByRun(ctx, run.ID, models.StepStatusSuccess)
	if err != nil {
		return nil, err
	}

	done := map[int]bool{}

	for _, exec := range successes {
		if exec.Stage == stage {
			done[exec.ScopeValue()] = true
		}
	}

	var missing []*int

	for _, scope := range stage.ScopeKeys(run.EpisodeCount) {
		if !done[models.ScopeValue(scope)] {
			missing = append(missing, scope)
		}
	}

	return missing, nil
}

// RestartPipeline discards every step execution and the checkpoint of a
// FAILED, STUCK or PAUSED run and starts it again from the first stage under
// a new revision.
func (o *Orchestrator) RestartPipeline(ctx context.Context, runID string) (*models.PipelineRun, error) {
	run, err := o.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}

	if !statemachine.CanRestart(run.Status) {
		return nil, fmt.Errorf("%w: status is %s", ErrNotRestartable, run.Status)
	}

	deleted, err := o.persistence.StepExecutionRepository().DeleteByRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to delete step executions of run %s: %w", runID, err)
	}

	if err := o.checkpoints.Clear(ctx, runID); err != nil {
		return nil, err
	}

	restarted, err := o.mutateRun(ctx, runID, func(run *models.PipelineRun) error {
		if !statemachine.CanRestart(run.Status) {
			return fmt.Errorf("%w: status is %s", ErrNotRestartable, run.Status)
		}

		if err := statemachine.Transition(run.Status, models.RunStatusRunning); err != nil {
			return err
		}

		run.Status = models.RunStatusRunning
		run.RevisionCount++
		run.CurrentStage = models.FirstStage
		run.CurrentStageOrdinal = models.FirstStage.Ordinal()
		run.ProgressPercent = 0
		run.EpisodeCount = 0
		run.ClearError()

		return nil
	})
	if err != nil {
		return nil, err
	}

	o.logger.InfoContext(ctx, "Pipeline run restarted",
		"run_id", runID, "revision", restarted.RevisionCount, "deleted_step_executions", deleted)
	o.notify(ctx, events.RunRestartedEvent, restarted)

	if err := o.enqueueStage(ctx, restarted, models.FirstStage); err != nil {
		return nil, err
	}

	return restarted, nil
}

// PauseRun pauses a RUNNING run. Units already queued still run; their
// completions are ignored until the run is resumed.
func (o *Orchestrator) PauseRun(ctx context.Context, runID string) (*models.PipelineRun, error) {
	paused, err := o.transition(ctx, runID, models.RunStatusPaused, nil)
	if err != nil {
		return nil, err
	}

	o.notify(ctx, events.RunPausedEvent, paused)

	return paused, nil
}

// CancelRun cancels a run that is not terminal. A RUNNING run is paused and
// cancelled in the same write.
func (o *Orchestrator) CancelRun(ctx context.Context, runID, reason string) (*models.PipelineRun, error) {
	return o.cancel(ctx, runID, CodeRunCancelled, reason)
}

func (o *Orchestrator) cancel(ctx context.Context, runID, code, message string) (*models.PipelineRun, error) {
	cancelled, err := o.mutateRun(ctx, runID, func(run *models.PipelineRun) error {
		if run.Status == models.RunStatusRunning {
			if err := statemachine.Transition(run.Status, models.RunStatusPaused); err != nil {
				return err
			}

			run.Status = models.RunStatusPaused
		}

		if err := statemachine.Transition(run.Status, models.RunStatusCancelled); err != nil {
			return err
		}

		completedAt := o.now()
		run.Status = models.RunStatusCancelled
		run.CompletedAt = &completedAt
		run.SetError(code, message)

		return nil
	})
	if err != nil {
		return nil, err
	}

	o.logger.InfoContext(ctx, "Pipeline run cancelled", "run_id", runID, "code", code)
	o.unlockSource(ctx, cancelled)
	o.notify(ctx, events.RunCancelledEvent, cancelled)

	return cancelled, nil
}

// MarkStuck flags a RUNNING run that stopped making progress.
func (o *Orchestrator) MarkStuck(ctx context.Context, runID, reason string) (*models.PipelineRun, error) {
	stuck, err := o.transition(ctx, runID, models.RunStatusStuck, func(run *models.PipelineRun) {
		run.SetError(CodeRunStuck, reason)
	})
	if err != nil {
		return nil, err
	}

	o.logger.WarnContext(ctx, "Pipeline run marked stuck", "run_id", runID, "reason", reason)
	o.notify(ctx, events.RunStuckEvent, stuck)

	return stuck, nil
}

// MarkDeployed records that an approved course was published.
func (o *Orchestrator) MarkDeployed(ctx context.Context, runID string) (*models.PipelineRun, error) {
	deployed, err := o.transition(ctx, runID, models.RunStatusDeployed, nil)
	if err != nil {
		return nil, err
	}

	o.notify(ctx, events.RunDeployedEvent, deployed)

	return deployed, nil
}

// transition applies a single status change allowed by the state machine.
func (o *Orchestrator) transition(ctx context.Context, runID string, to models.RunStatus, mutate func(*models.PipelineRun)) (*models.PipelineRun, error) {
	return o.mutateRun(ctx, runID, func(run *models.PipelineRun) error {
		if err := statemachine.Transition(run.Status, to); err != nil {
			return err
		}

		run.Status = to

		if mutate != nil {
			mutate(run)
		}

		return nil
	})
}

// IsConflict reports whether err rejects an operation because of the run's current status.
func IsConflict(err error) bool {
	return errors.Is(err, statemachine.ErrIllegalTransition) ||
		errors.Is(err, ErrNotWaitingReview) ||
		errors.Is(err, ErrReviewStageMismatch) ||
		errors.Is(err, ErrNotResumable) ||
		errors.Is(err, ErrNotStuck) ||
		errors.Is(err, ErrNotRestartable) ||
		errors.Is(err, ErrNotDegraded) ||
		errors.Is(err, ErrActiveRunExists) ||
		errors.Is(err, ErrSourceAlreadyCompleted)
}
