package events_test

import (
	"encoding/json"
	"testing"

	"github.com/dukex/coursepipe/pkg/events"
	"github.com/dukex/coursepipe/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRunEvent(t *testing.T) {
	t.Parallel()

	run := &models.PipelineRun{ID: "run-1", SourceID: "book-1", Status: models.RunStatusWaitingReview, RevisionCount: 2}
	run.EnterStage(models.StageFinalEvaluation)

	event := events.NewRunEvent(events.RunWaitingReviewEvent, run)

	assert.NotEmpty(t, event.ID)
	assert.Equal(t, events.RunWaitingReviewEvent, event.GetType())
	assert.Equal(t, "run-1", event.RunID)
	assert.Equal(t, models.StageFinalEvaluation, event.Stage)
	assert.Equal(t, 85, event.ProgressPercent)
	assert.Equal(t, 2, event.RevisionCount)
	assert.False(t, event.Timestamp.IsZero())
}

func TestNewStepEvent_JSONShape(t *testing.T) {
	t.Parallel()

	exec := &models.StepExecution{
		ID:         "step-1",
		RunID:      "run-1",
		Stage:      models.StagePractice,
		ScopeKey:   models.ScopeKey(2),
		Status:     models.StepStatusFailed,
		RetryCount: 1,
		ErrorCode:  "RATE_LIMITED",
	}

	payload, err := json.Marshal(events.NewStepEvent(events.StepFailedEvent, exec))
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(payload, &decoded))

	assert.Equal(t, "step.failed", decoded["type"])
	assert.Equal(t, "step-1", decoded["step_execution_id"])
	assert.InDelta(t, 2, decoded["scope_key"], 0)
	assert.Equal(t, "RATE_LIMITED", decoded["error_code"])
}

func TestEventTypeCategories(t *testing.T) {
	t.Parallel()

	assert.True(t, events.RunStartedEvent.IsRunEvent())
	assert.False(t, events.RunStartedEvent.IsStepEvent())
	assert.True(t, events.StepCompletedEvent.IsStepEvent())
	assert.False(t, events.EventType("runner").IsRunEvent())
}
