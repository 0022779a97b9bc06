package file

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dukex/coursepipe/pkg/models"
	"github.com/dukex/coursepipe/pkg/persistence"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRun(id, sourceID string) *models.PipelineRun {
	run := &models.PipelineRun{
		ID:       id,
		SourceID: sourceID,
		Status:   models.RunStatusRunning,
	}
	run.EnterStage(models.StageIdea)

	return run
}

func TestNewPersistence(t *testing.T) {
	p := NewPersistence("/tmp/test")
	fp := p.(*Persistence)
	assert.Equal(t, "/tmp/test", fp.store.root)

	p = NewPersistence("file:///tmp/test")
	fp = p.(*Persistence)
	assert.Equal(t, "/tmp/test", fp.store.root)
}

func TestPersistence_HealthCheck(t *testing.T) {
	p := NewPersistence(t.TempDir())
	require.NoError(t, p.HealthCheck(t.Context()))

	missing := NewPersistence("/definitely/not/here")
	assert.Error(t, missing.HealthCheck(t.Context()))
	assert.NoError(t, missing.Close(t.Context()))
}

func TestRunRepository_SingleActiveRunPerSource(t *testing.T) {
	p := NewPersistence(t.TempDir())
	repo := p.RunRepository()
	ctx := t.Context()

	first := newRun("run-1", "book-1")
	require.NoError(t, repo.CreateRun(ctx, first))
	assert.Equal(t, int64(1), first.Version)

	err := repo.CreateRun(ctx, newRun("run-2", "book-1"))
	require.Error(t, err)
	assert.True(t, persistence.IsActiveRunExists(err))

	// A different source is unaffected.
	require.NoError(t, repo.CreateRun(ctx, newRun("run-3", "book-2")))

	first.Status = models.RunStatusCancelled
	require.NoError(t, repo.UpdateRun(ctx, first))

	require.NoError(t, repo.CreateRun(ctx, newRun("run-4", "book-1")))

	active, err := repo.ActiveRunForSource(ctx, "book-1")
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, "run-4", active.ID)
}

func TestRunRepository_ConcurrentCreateAllowsOneActive(t *testing.T) {
	p := NewPersistence(t.TempDir())
	repo := p.RunRepository()

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)

	for i := range 10 {
		wg.Add(1)

		go func(i int) {
			defer wg.Done()

			err := repo.CreateRun(t.Context(), newRun("run-"+string(rune('a'+i)), "book-1"))
			if err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}(i)
	}

	wg.Wait()
	assert.Equal(t, 1, successes)
}

func TestRunRepository_UpdateRunOptimisticLock(t *testing.T) {
	p := NewPersistence(t.TempDir())
	repo := p.RunRepository()
	ctx := t.Context()

	run := newRun("run-1", "book-1")
	require.NoError(t, repo.CreateRun(ctx, run))

	stale, err := repo.GetRun(ctx, "run-1")
	require.NoError(t, err)

	run.EnterStage(models.StageOutline)
	require.NoError(t, repo.UpdateRun(ctx, run))
	assert.Equal(t, int64(2), run.Version)

	stale.Status = models.RunStatusPaused
	err = repo.UpdateRun(ctx, stale)
	require.Error(t, err)
	assert.True(t, persistence.IsVersionConflict(err))

	stored, err := repo.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, models.StageOutline, stored.CurrentStage)
	assert.Equal(t, models.RunStatusRunning, stored.Status)

	_, err = repo.GetRun(ctx, "missing")
	assert.True(t, persistence.IsRunNotFound(err))
}

func TestRunRepository_CheckpointSurvivesRunUpdates(t *testing.T) {
	p := NewPersistence(t.TempDir())
	repo := p.RunRepository()
	ctx := t.Context()

	run := newRun("run-1", "book-1")
	require.NoError(t, repo.CreateRun(ctx, run))

	_, err := repo.MutateCheckpoint(ctx, run.ID, func(current *models.Checkpoint) *models.Checkpoint {
		assert.Nil(t, current)

		return &models.Checkpoint{LastCompletedStage: models.StageIdea, SavedAt: time.Now().UTC()}
	})
	require.NoError(t, err)

	// The in-memory run has no checkpoint; updating it must not erase the stored one.
	run.ProgressPercent = 10
	require.NoError(t, repo.UpdateRun(ctx, run))

	stored, err := repo.GetRun(ctx, run.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.Checkpoint)
	assert.Equal(t, models.StageIdea, stored.Checkpoint.LastCompletedStage)
	assert.Equal(t, int64(2), stored.Version)
}

func TestRunRepository_MutateCheckpointTouchesUpdatedAt(t *testing.T) {
	p := NewPersistence(t.TempDir())
	repo := p.RunRepository()
	ctx := t.Context()

	run := newRun("run-1", "book-1")
	require.NoError(t, repo.CreateRun(ctx, run))

	created, err := repo.GetRun(ctx, run.ID)
	require.NoError(t, err)

	_, err = repo.MutateCheckpoint(ctx, run.ID, func(*models.Checkpoint) *models.Checkpoint {
		return &models.Checkpoint{LastCompletedStage: models.StageEpisodeDraft, SavedAt: time.Now().UTC()}
	})
	require.NoError(t, err)

	touched, err := repo.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.True(t, touched.UpdatedAt.After(created.UpdatedAt))
	assert.Equal(t, created.Version, touched.Version)
}

func TestRunRepository_ListRuns(t *testing.T) {
	p := NewPersistence(t.TempDir())
	repo := p.RunRepository()
	ctx := t.Context()

	require.NoError(t, repo.CreateRun(ctx, newRun("run-1", "book-1")))

	paused := newRun("run-2", "book-2")
	paused.Status = models.RunStatusPaused
	require.NoError(t, repo.CreateRun(ctx, paused))

	running, err := repo.ListRuns(ctx, persistence.RunFilter{Status: models.RunStatusRunning})
	require.NoError(t, err)
	require.Len(t, running, 1)
	assert.Equal(t, "run-1", running[0].ID)

	stale, err := repo.ListRuns(ctx, persistence.RunFilter{UpdatedBefore: time.Now().Add(time.Hour)})
	require.NoError(t, err)
	assert.Len(t, stale, 2)

	fresh, err := repo.ListRuns(ctx, persistence.RunFilter{UpdatedBefore: time.Now().Add(-time.Hour)})
	require.NoError(t, err)
	assert.Empty(t, fresh)
}

func TestStepExecutionRepository_FindOrCreateIsIdempotent(t *testing.T) {
	p := NewPersistence(t.TempDir())
	repo := p.StepExecutionRepository()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		ids     = map[string]struct{}{}
		created int
	)

	for range 20 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			exec, isNew, err := repo.FindOrCreate(t.Context(), &models.StepExecution{
				RunID:        "run-1",
				Stage:        models.StageEpisodeDraft,
				StageOrdinal: models.StageEpisodeDraft.Ordinal(),
				ScopeKey:     models.ScopeKey(2),
				Status:       models.StepStatusPending,
			})
			assert.NoError(t, err)

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

func TestStepExecutionRepository_UpdateCountListDelete(t *testing.T) {
	p := NewPersistence(t.TempDir())
	repo := p.StepExecutionRepository()
	ctx := t.Context()

	for _, scope := range []int{3, 1, 2} {
		exec, _, err := repo.FindOrCreate(ctx, &models.StepExecution{
			RunID:        "run-1",
			Stage:        models.StageEpisodeDraft,
			StageOrdinal: models.StageEpisodeDraft.Ordinal(),
			ScopeKey:     models.ScopeKey(scope),
			Status:       models.StepStatusPending,
		})
		require.NoError(t, err)

		if scope != 2 {
			exec.Status = models.StepStatusSuccess
			require.NoError(t, repo.UpdateStepExecution(ctx, exec))
			assert.Equal(t, int64(2), exec.Version)
		}
	}

	idea, _, err := repo.FindOrCreate(ctx, &models.StepExecution{
		RunID:        "run-1",
		Stage:        models.StageIdea,
		StageOrdinal: models.StageIdea.Ordinal(),
		Status:       models.StepStatusPending,
	})
	require.NoError(t, err)

	count, err := repo.CountByStatus(ctx, "run-1", models.StageEpisodeDraft, models.StepStatusSuccess)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	all, err := repo.ListByRun(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, idea.ID, all[0].ID)
	assert.Equal(t, 1, all[1].ScopeValue())
	assert.Equal(t, 3, all[3].ScopeValue())

	successes, err := repo.ListByRun(ctx, "run-1", models.StepStatusSuccess)
	require.NoError(t, err)
	assert.Len(t, successes, 2)

	stale := *idea
	idea.Status = models.StepStatusRunning
	require.NoError(t, repo.UpdateStepExecution(ctx, idea))

	err = repo.UpdateStepExecution(ctx, &stale)
	assert.True(t, persistence.IsVersionConflict(err))

	got, err := repo.GetStepExecution(ctx, idea.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StepStatusRunning, got.Status)

	deleted, err := repo.DeleteByRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, 4, deleted)

	_, err = repo.FindStepExecution(ctx, "run-1", models.StageIdea, nil)
	assert.True(t, errors.Is(err, persistence.ErrStepExecutionNotFound))
}

func TestReviewRepository_AppendOnly(t *testing.T) {
	p := NewPersistence(t.TempDir())
	repo := p.ReviewRepository()
	ctx := t.Context()

	review := &models.HumanReviewRecord{
		RunID:      "run-1",
		Stage:      models.StageIdea,
		Revision:   0,
		ReviewType: models.ReviewTypeIdeaSelection,
		Decision:   models.ReviewDecisionApproved,
		Reviewer:   "editor",
		ReviewedAt: time.Now().UTC(),
	}
	require.NoError(t, repo.CreateReview(ctx, review))
	assert.NotEmpty(t, review.ID)

	dup := *review
	dup.ID = ""
	err := repo.CreateReview(ctx, &dup)
	assert.True(t, errors.Is(err, persistence.ErrReviewAlreadyExists))

	found, err := repo.FindReview(ctx, "run-1", models.StageIdea, 0)
	require.NoError(t, err)
	assert.Equal(t, "editor", found.Reviewer)

	_, err = repo.FindReview(ctx, "run-1", models.StageIdea, 1)
	assert.True(t, errors.Is(err, persistence.ErrReviewNotFound))

	reviews, err := repo.ListReviews(ctx, "run-1")
	require.NoError(t, err)
	assert.Len(t, reviews, 1)
}

func TestSourceAndArtifactRepositories(t *testing.T) {
	p := NewPersistence(t.TempDir())
	ctx := t.Context()

	sources := p.SourceRepository()
	require.NoError(t, sources.SaveSource(ctx, &models.Source{ID: "book-1", Title: "Dune", Status: models.SourceStatusReady, UnitCount: 4}))
	require.NoError(t, sources.SetLocked(ctx, "book-1", true))
	require.NoError(t, sources.MarkCompleted(ctx, "book-1", "artifact-1"))

	source, err := sources.GetSource(ctx, "book-1")
	require.NoError(t, err)
	assert.True(t, source.Locked)
	assert.True(t, source.HasCompletedOutput())

	_, err = sources.GetSource(ctx, "book-2")
	assert.True(t, errors.Is(err, persistence.ErrSourceNotFound))

	artifacts := p.ArtifactRepository()
	require.NoError(t, artifacts.SaveArtifact(ctx, &models.Artifact{ID: "artifact-1", RunID: "run-1", Title: "Dune"}))

	artifact, err := artifacts.GetArtifact(ctx, "artifact-1")
	require.NoError(t, err)
	assert.Equal(t, "Dune", artifact.Title)

	_, err = artifacts.GetArtifact(ctx, "../etc")
	assert.Error(t, err)
}
