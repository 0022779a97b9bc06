package executor

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dukex/coursepipe/pkg/models"
	"github.com/dukex/coursepipe/pkg/persistence"
	"github.com/dukex/coursepipe/pkg/protocol"
)

// gather builds the step context from the source, every successful output of
// the run and the approved reviews of the current revision. It fails with
// MISSING_PRIOR_OUTPUT when the prerequisite stage has not produced what the
// unit needs.
func (e *Executor) gather(ctx context.Context, run *models.PipelineRun, exec *models.StepExecution) (*protocol.StepContext, *StepError) {
	source, err := e.persistence.SourceRepository().GetSource(ctx, run.SourceID)
	if err != nil {
		if persistence.IsNotFound(err) {
			return nil, Fatal(protocol.CodeInternal, fmt.Sprintf("source %s not found", run.SourceID), err)
		}

		return nil, &StepError{Code: protocol.CodeInternal, Message: "failed to load source", Retriable: true, Err: err}
	}

	successes, err := e.persistence.StepExecutionRepository().ListByRun(ctx, run.ID, models.StepStatusSuccess)
	if err != nil {
		return nil, &StepError{Code: protocol.CodeInternal, Message: "failed to load prior outputs", Retriable: true, Err: err}
	}

	reviews, err := e.persistence.ReviewRepository().ListReviews(ctx, run.ID)
	if err != nil {
		return nil, &StepError{Code: protocol.CodeInternal, Message: "failed to load reviews", Retriable: true, Err: err}
	}

	stepCtx := &protocol.StepContext{
		RunID:         run.ID,
		Stage:         exec.Stage,
		ScopeKey:      exec.ScopeKey,
		Attempt:       exec.RetryCount + 1,
		Revision:      run.RevisionCount,
		EpisodeCount:  run.EpisodeCount,
		Source:        source,
		Outputs:       map[models.Stage]json.RawMessage{},
		FanOutOutputs: map[models.Stage][]protocol.ScopedOutput{},
		Reviews:       map[models.Stage]*models.HumanReviewRecord{},
	}

	for _, prior := range successes {
		if prior.Stage.IsFanOut() {
			stepCtx.FanOutOutputs[prior.Stage] = append(stepCtx.FanOutOutputs[prior.Stage], protocol.ScopedOutput{
				ScopeKey: prior.ScopeValue(),
				Output:   prior.OutputPayload,
				Summary:  prior.Summary,
			})

			continue
		}

		stepCtx.Outputs[prior.Stage] = prior.OutputPayload
	}

	for _, review := range reviews {
		if review.Revision == run.RevisionCount && review.Approved() {
			stepCtx.Reviews[review.Stage] = review
		}
	}

	if missing := missingPrerequisite(stepCtx, exec.Stage, exec.ScopeKey); missing != "" {
		return nil, Fatal(protocol.CodeMissingPriorOutput, missing, nil)
	}

	return stepCtx, nil
}

// missingPrerequisite describes what the previous stage still owes the unit,
// or returns "" when nothing is missing. A unit of a fan-out stage following
// a stage with the same fan-out only needs its own scope; every other unit
// needs the whole previous stage.
func missingPrerequisite(stepCtx *protocol.StepContext, stage models.Stage, scopeKey *int) string {
	prev, ok := stage.Previous()
	if !ok {
		return ""
	}

	if !prev.IsFanOut() {
		if _, ok := stepCtx.Output(prev); !ok {
			return fmt.Sprintf("%s requires the output of %s", stage, prev)
		}

		return ""
	}

	if scopeKey != nil && prev.FanOut() == stage.FanOut() {
		if _, ok := stepCtx.ScopedOutput(prev, *scopeKey); !ok {
			return fmt.Sprintf("%s %d requires %s %d", stage, *scopeKey, prev, *scopeKey)
		}

		return ""
	}

	expected := prev.ExpectedUnits(stepCtx.EpisodeCount)
	if got := len(stepCtx.FanOutOutputs[prev]); got < expected || expected == 0 {
		return fmt.Sprintf("%s requires %d %s outputs, found %d", stage, expected, prev, got)
	}

	return ""
}
