package artifact

import (
	"encoding/json"
	"testing"

	"github.com/dukex/coursepipe/pkg/models"
	"github.com/dukex/coursepipe/pkg/persistence"
	"github.com/dukex/coursepipe/pkg/persistence/file"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seed(t *testing.T, p persistence.Persistence, run *models.PipelineRun, stage models.Stage, scope *int, output string) {
	t.Helper()

	exec := &models.StepExecution{
		RunID:    run.ID,
		Stage:    stage,
		ScopeKey: scope,
		Status:   models.StepStatusPending,
	}

	stored, _, err := p.StepExecutionRepository().FindOrCreate(t.Context(), exec)
	require.NoError(t, err)

	stored.Status = models.StepStatusSuccess
	stored.OutputPayload = json.RawMessage(output)
	require.NoError(t, p.StepExecutionRepository().UpdateStepExecution(t.Context(), stored))
}

func completeRun(t *testing.T, p persistence.Persistence, run *models.PipelineRun) {
	t.Helper()

	seed(t, p, run, models.StageIdea, nil, `{"options":[{"id":"a","title":"A"},{"id":"b","title":"B"}]}`)
	seed(t, p, run, models.StageOutline, nil, `{"title":"Letters from a Stoic","episode_count":2}`)

	for n := 1; n <= run.EpisodeCount; n++ {
		seed(t, p, run, models.StageEpisodeContent, models.ScopeKey(n), `{"script":"..."}`)
	}

	for level := 1; level <= models.PracticeLevels; level++ {
		seed(t, p, run, models.StagePractice, models.ScopeKey(level), `{"level":1}`)
	}

	seed(t, p, run, models.StageFinalEvaluation, nil, `{"score":88,"verdict":"pass"}`)
}

func TestBuild(t *testing.T) {
	p := file.NewPersistence(t.TempDir())
	run := &models.PipelineRun{ID: "run-1", SourceID: "book-1", EpisodeCount: 2}
	completeRun(t, p, run)
	seed(t, p, run, models.StageEpisodeDraft, models.ScopeKey(2), `{"title":"Two"}`)

	selected := "b"
	require.NoError(t, p.ReviewRepository().CreateReview(t.Context(), &models.HumanReviewRecord{
		ID:               "review-1",
		RunID:            run.ID,
		Stage:            models.StageIdea,
		ReviewType:       models.ReviewTypeIdeaSelection,
		Decision:         models.ReviewDecisionApproved,
		SelectedOptionID: &selected,
	}))

	course, err := NewBuilder(p).Build(t.Context(), run)
	require.NoError(t, err)

	assert.Equal(t, "Letters from a Stoic", course.Title)
	assert.Equal(t, "run-1", course.RunID)
	assert.JSONEq(t, `{"id":"b","title":"B"}`, string(course.Idea))
	require.Len(t, course.Episodes, 2)
	assert.Nil(t, course.Episodes[0].Draft)
	assert.JSONEq(t, `{"title":"Two"}`, string(course.Episodes[1].Draft))
	assert.Len(t, course.Practice, 3)

	stored, err := p.ArtifactRepository().GetArtifact(t.Context(), course.ID)
	require.NoError(t, err)
	assert.Equal(t, course.Title, stored.Title)
}

func TestBuild_KeepsAllIdeasWithoutSelection(t *testing.T) {
	p := file.NewPersistence(t.TempDir())
	run := &models.PipelineRun{ID: "run-1", SourceID: "book-1", EpisodeCount: 1}
	completeRun(t, p, run)

	course, err := NewBuilder(p).Build(t.Context(), run)
	require.NoError(t, err)
	assert.Contains(t, string(course.Idea), `"options"`)
}

func TestBuild_IncompleteRun(t *testing.T) {
	p := file.NewPersistence(t.TempDir())
	run := &models.PipelineRun{ID: "run-1", SourceID: "book-1", EpisodeCount: 3}
	completeRun(t, p, &models.PipelineRun{ID: "run-1", SourceID: "book-1", EpisodeCount: 2})

	_, err := NewBuilder(p).Build(t.Context(), run)
	require.ErrorIs(t, err, ErrIncompleteRun)
	assert.Contains(t, err.Error(), "episode_content 3")

	_, err = NewBuilder(p).Build(t.Context(), &models.PipelineRun{ID: "run-2", SourceID: "book-1"})
	assert.ErrorIs(t, err, ErrIncompleteRun)
}
