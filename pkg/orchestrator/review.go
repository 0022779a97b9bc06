package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/dukex/coursepipe/pkg/events"
	"github.com/dukex/coursepipe/pkg/models"
	"github.com/dukex/coursepipe/pkg/persistence"
	"github.com/dukex/coursepipe/pkg/statemachine"
	"github.com/google/uuid"
)

// NextAction tells the review submitter what the run does next.
type NextAction string

const (
	NextActionEnqueued  NextAction = "enqueued"
	NextActionFinalized NextAction = "finalized"
	NextActionCancelled NextAction = "cancelled"
)

// ReviewSubmission is a reviewer decision on the pending gate of a run.
type ReviewSubmission struct {
	RunID            string
	Stage            models.Stage
	Decision         models.ReviewDecision
	Reviewer         string
	Comment          string
	SelectedOptionID *string
}

// ReviewOutcome reports the effect of a review.
type ReviewOutcome struct {
	NextAction NextAction          `json:"next_action"`
	NextStage  models.Stage        `json:"next_stage,omitempty"`
	Run        *models.PipelineRun `json:"run"`
}

// SubmitHumanReview records a decision on the gate the run waits on. An
// approved idea resumes the run at the outline, an approved final evaluation
// finalizes it and any other decision cancels it. When a decision for the gate
// is already recorded but the run still waits on it, the recorded decision is
// applied again.
func (o *Orchestrator) SubmitHumanReview(ctx context.Context, submission ReviewSubmission) (*ReviewOutcome, error) {
	if !submission.Decision.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidDecision, submission.Decision)
	}

	run, err := o.GetRun(ctx, submission.RunID)
	if err != nil {
		return nil, err
	}

	if run.Status != models.RunStatusWaitingReview {
		return nil, fmt.Errorf("%w: status is %s", ErrNotWaitingReview, run.Status)
	}

	reviewType, gated := run.CurrentStage.ReviewGate()
	if !gated || submission.Stage != run.CurrentStage {
		return nil, fmt.Errorf("%w: run waits on %s, got %s", ErrReviewStageMismatch, run.CurrentStage, submission.Stage)
	}

	review := &models.HumanReviewRecord{
		ID:               uuid.NewString(),
		RunID:            run.ID,
		Stage:            submission.Stage,
		Revision:         run.RevisionCount,
		ReviewType:       reviewType,
		Decision:         submission.Decision,
		Reviewer:         submission.Reviewer,
		ReviewedAt:       o.now(),
		Comment:          submission.Comment,
		SelectedOptionID: submission.SelectedOptionID,
	}

	err = o.persistence.ReviewRepository().CreateReview(ctx, review)
	switch {
	case err == nil:
		o.logger.InfoContext(ctx, "Review recorded",
			"run_id", run.ID, "stage", submission.Stage, "decision", submission.Decision, "reviewer", submission.Reviewer)
		o.notify(ctx, events.RunReviewedEvent, run)
	case errors.Is(err, persistence.ErrReviewAlreadyExists):
		// The run still waits on the gate, so applying the recorded decision
		// failed after it was stored. The recorded decision wins.
		review, err = o.persistence.ReviewRepository().FindReview(ctx, run.ID, submission.Stage, run.RevisionCount)
		if err != nil {
			return nil, fmt.Errorf("failed to load recorded review: %w", err)
		}

		o.logger.WarnContext(ctx, "Applying previously recorded review",
			"run_id", run.ID, "stage", submission.Stage, "decision", review.Decision, "reviewer", review.Reviewer)
	default:
		return nil, fmt.Errorf("failed to record review: %w", err)
	}

	return o.applyReview(ctx, run, review)
}

// applyReview moves a run waiting on a gate according to the recorded decision.
func (o *Orchestrator) applyReview(ctx context.Context, run *models.PipelineRun, review *models.HumanReviewRecord) (*ReviewOutcome, error) {
	if !review.Approved() {
		code := CodeReviewRejected
		if review.Decision == models.ReviewDecisionCancel {
			code = CodeReviewCancelled
		}

		cancelled, err := o.cancel(ctx, run.ID, code, review.Comment)
		if err != nil {
			return nil, err
		}

		return &ReviewOutcome{NextAction: NextActionCancelled, Run: cancelled}, nil
	}

	next, ok := review.Stage.Next()
	if !ok {
		approved, err := o.finalize(ctx, run.ID)
		if err != nil {
			return nil, err
		}

		return &ReviewOutcome{NextAction: NextActionFinalized, Run: approved}, nil
	}

	resumed, err := o.mutateRun(ctx, run.ID, func(run *models.PipelineRun) error {
		if run.Status != models.RunStatusWaitingReview || run.CurrentStage != review.Stage {
			return fmt.Errorf("%w: status is %s", ErrNotWaitingReview, run.Status)
		}

		if err := statemachine.Transition(run.Status, models.RunStatusRunning); err != nil {
			return err
		}

		run.Status = models.RunStatusRunning
		run.ClearError()
		run.EnterStage(next)

		return nil
	})
	if err != nil {
		return nil, err
	}

	o.notify(ctx, events.RunStageEnteredEvent, resumed)

	if err := o.enqueueStage(ctx, resumed, next); err != nil {
		return nil, err
	}

	return &ReviewOutcome{NextAction: NextActionEnqueued, NextStage: next, Run: resumed}, nil
}

// finalize assembles the course and approves the run. Assembly is best
// effort: when it fails the run is still approved, flagged as degraded.
func (o *Orchestrator) finalize(ctx context.Context, runID string) (*models.PipelineRun, error) {
	run, err := o.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}

	if err := statemachine.Transition(run.Status, models.RunStatusApproved); err != nil {
		return nil, err
	}

	artifact, buildErr := o.buildArtifact(ctx, run)

	approved, err := o.mutateRun(ctx, runID, func(run *models.PipelineRun) error {
		if err := statemachine.Transition(run.Status, models.RunStatusApproved); err != nil {
			return err
		}

		completedAt := o.now()
		run.Status = models.RunStatusApproved
		run.ProgressPercent = models.ProgressComplete
		run.CompletedAt = &completedAt
		run.ClearError()

		if buildErr != nil {
			run.DegradedCompletion = true
			run.DegradedReason = buildErr.Error()
		} else {
			run.DegradedCompletion = false
			run.DegradedReason = ""
			run.ArtifactID = artifact.ID
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	if artifact != nil {
		o.markSourceCompleted(ctx, approved, artifact)
	}

	o.unlockSource(ctx, approved)
	o.notify(ctx, events.RunApprovedEvent, approved)

	return approved, nil
}

func (o *Orchestrator) buildArtifact(ctx context.Context, run *models.PipelineRun) (*models.Artifact, error) {
	if o.assembler == nil {
		return nil, errors.New("no artifact assembler configured")
	}

	artifact, err := o.assembler.Build(ctx, run)
	if err != nil {
		o.logger.ErrorContext(ctx, "Course assembly failed, completing run as degraded", "run_id", run.ID, "error", err)

		return nil, err
	}

	return artifact, nil
}

func (o *Orchestrator) markSourceCompleted(ctx context.Context, run *models.PipelineRun, artifact *models.Artifact) {
	if err := o.persistence.SourceRepository().MarkCompleted(ctx, run.SourceID, artifact.ID); err != nil {
		o.logger.ErrorContext(ctx, "Failed to mark source completed", "run_id", run.ID, "source_id", run.SourceID, "error", err)
	}
}

// RetryEnrichment re-runs course assembly for an approved run that completed degraded.
func (o *Orchestrator) RetryEnrichment(ctx context.Context, runID string) (*models.PipelineRun, error) {
	run, err := o.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}

	if run.Status != models.RunStatusApproved || !run.DegradedCompletion {
		return nil, fmt.Errorf("%w: %s", ErrNotDegraded, runID)
	}

	artifact, err := o.buildArtifact(ctx, run)
	if err != nil {
		_, _ = o.mutateRun(ctx, runID, func(run *models.PipelineRun) error {
			run.DegradedReason = err.Error()

			return nil
		})

		return nil, fmt.Errorf("course assembly failed again: %w", err)
	}

	enriched, err := o.mutateRun(ctx, runID, func(run *models.PipelineRun) error {
		run.DegradedCompletion = false
		run.DegradedReason = ""
		run.ArtifactID = artifact.ID

		return nil
	})
	if err != nil {
		return nil, err
	}

	o.markSourceCompleted(ctx, enriched, artifact)
	o.notify(ctx, events.RunEnrichmentDoneEvent, enriched)

	return enriched, nil
}
