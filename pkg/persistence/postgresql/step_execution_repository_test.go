package postgresql_test

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/dukex/coursepipe/pkg/models"
	"github.com/dukex/coursepipe/pkg/persistence"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStep(runID string, stage models.Stage, scope *int) *models.StepExecution {
	return &models.StepExecution{
		RunID:        runID,
		Stage:        stage,
		StageOrdinal: stage.Ordinal(),
		ScopeKey:     scope,
		Status:       models.StepStatusPending,
	}
}

func TestStepExecutionRepository_ConcurrentFindOrCreate(t *testing.T) {
	p, ctx, _ := setupTestDB(t)

	run := createTestRun(t, "book-1")
	require.NoError(t, p.RunRepository().CreateRun(ctx, run))

	repo := p.StepExecutionRepository()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		ids     = map[string]struct{}{}
		created int
	)

	for range 10 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			exec, isNew, err := repo.FindOrCreate(ctx, newStep(run.ID, models.StageEpisodeDraft, models.ScopeKey(1)))
			assert.NoError(t, err)

			if exec == nil {
				return
			}

			mu.Lock()
			defer mu.Unlock()

			ids[exec.ID] = struct{}{}

			if isNew {
				created++
			}
		}()
	}

	wg.Wait()

	assert.Len(t, ids, 1)
	assert.Equal(t, 1, created)
}

func TestStepExecutionRepository_LifecycleAndCounts(t *testing.T) {
	p, ctx, _ := setupTestDB(t)

	run := createTestRun(t, "book-1")
	require.NoError(t, p.RunRepository().CreateRun(ctx, run))

	repo := p.StepExecutionRepository()

	idea, isNew, err := repo.FindOrCreate(ctx, newStep(run.ID, models.StageIdea, nil))
	require.NoError(t, err)
	assert.True(t, isNew)
	assert.Nil(t, idea.ScopeKey)

	started := time.Now().UTC()
	completed := started.Add(1500 * time.Millisecond)

	idea.Status = models.StepStatusSuccess
	idea.StartedAt = &started
	idea.CompletedAt = &completed
	idea.DurationMs = 1500
	idea.OutputPayload = json.RawMessage(`{"options":[{"id":"a"}]}`)
	idea.Summary = "one option"
	idea.Provider = "stub"
	idea.InputTokens = 10
	idea.OutputTokens = 20
	require.NoError(t, repo.UpdateStepExecution(ctx, idea))
	assert.Equal(t, int64(2), idea.Version)

	stale := *idea
	stale.Version = 1
	err = repo.UpdateStepExecution(ctx, &stale)
	assert.True(t, persistence.IsVersionConflict(err))

	for _, scope := range []int{2, 1} {
		exec, _, err := repo.FindOrCreate(ctx, newStep(run.ID, models.StageEpisodeDraft, models.ScopeKey(scope)))
		require.NoError(t, err)

		exec.Status = models.StepStatusSuccess
		require.NoError(t, repo.UpdateStepExecution(ctx, exec))
	}

	count, err := repo.CountByStatus(ctx, run.ID, models.StageEpisodeDraft, models.StepStatusSuccess)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	list, err := repo.ListByRun(ctx, run.ID, models.StepStatusSuccess)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, models.StageIdea, list[0].Stage)
	assert.Equal(t, 1, list[1].ScopeValue())
	assert.Equal(t, 2, list[2].ScopeValue())
	assert.JSONEq(t, `{"options":[{"id":"a"}]}`, string(list[0].OutputPayload))

	pending, err := repo.ListByRun(ctx, run.ID, models.StepStatusPending)
	require.NoError(t, err)
	assert.Empty(t, pending)

	got, err := repo.GetStepExecution(ctx, idea.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1500), got.DurationMs)
	assert.Equal(t, "stub", got.Provider)

	deleted, err := repo.DeleteByRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, deleted)

	_, err = repo.FindStepExecution(ctx, run.ID, models.StageIdea, nil)
	assert.ErrorIs(t, err, persistence.ErrStepExecutionNotFound)
}

func TestReviewRepository_UniquePerRevision(t *testing.T) {
	p, ctx, _ := setupTestDB(t)

	run := createTestRun(t, "book-1")
	require.NoError(t, p.RunRepository().CreateRun(ctx, run))

	repo := p.ReviewRepository()
	option := "option-2"

	review := &models.HumanReviewRecord{
		RunID:            run.ID,
		Stage:            models.StageIdea,
		ReviewType:       models.ReviewTypeIdeaSelection,
		Decision:         models.ReviewDecisionApproved,
		Reviewer:         "editor",
		ReviewedAt:       time.Now().UTC(),
		SelectedOptionID: &option,
	}
	require.NoError(t, repo.CreateReview(ctx, review))

	dup := *review
	dup.ID = ""
	assert.ErrorIs(t, repo.CreateReview(ctx, &dup), persistence.ErrReviewAlreadyExists)

	next := *review
	next.ID = ""
	next.Revision = 1
	require.NoError(t, repo.CreateReview(ctx, &next))

	found, err := repo.FindReview(ctx, run.ID, models.StageIdea, 0)
	require.NoError(t, err)
	require.NotNil(t, found.SelectedOptionID)
	assert.Equal(t, "option-2", *found.SelectedOptionID)

	reviews, err := repo.ListReviews(ctx, run.ID)
	require.NoError(t, err)
	assert.Len(t, reviews, 2)
}

func TestSourceAndArtifactRepositories(t *testing.T) {
	p, ctx, _ := setupTestDB(t)

	sources := p.SourceRepository()
	require.NoError(t, sources.SaveSource(ctx, &models.Source{
		ID:        "book-1",
		Title:     "Meditations",
		Author:    "Marcus Aurelius",
		Status:    models.SourceStatusReady,
		UnitCount: 12,
		Metadata:  map[string]any{"genre": "philosophy"},
	}))
	require.NoError(t, sources.SetLocked(ctx, "book-1", true))

	source, err := sources.GetSource(ctx, "book-1")
	require.NoError(t, err)
	assert.True(t, source.Locked)
	assert.Equal(t, "philosophy", source.Metadata["genre"])

	assert.ErrorIs(t, sources.SetLocked(ctx, "missing", true), persistence.ErrSourceNotFound)

	artifacts := p.ArtifactRepository()
	artifact := &models.Artifact{
		ID:        "artifact-1",
		RunID:     "run-1",
		SourceID:  "book-1",
		Title:     "Meditations",
		Episodes:  []models.EpisodeArtifact{{Number: 1, Content: json.RawMessage(`{"script":"..."}`)}},
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, artifacts.SaveArtifact(ctx, artifact))
	require.NoError(t, sources.MarkCompleted(ctx, "book-1", artifact.ID))

	got, err := artifacts.GetArtifact(ctx, "artifact-1")
	require.NoError(t, err)
	require.Len(t, got.Episodes, 1)

	source, err = sources.GetSource(ctx, "book-1")
	require.NoError(t, err)
	assert.True(t, source.HasCompletedOutput())

	_, err = artifacts.GetArtifact(ctx, "missing")
	assert.ErrorIs(t, err, persistence.ErrArtifactNotFound)
}
