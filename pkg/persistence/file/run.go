package file

import (
	"context"
	"errors"
	"os"
	"sort"
	"time"

	"github.com/dukex/coursepipe/pkg/models"
	"github.com/dukex/coursepipe/pkg/persistence"
	"github.com/dukex/coursepipe/pkg/statemachine"
)

// RunRepository handles pipeline run file operations.
type RunRepository struct {
	store *store
}

func (r *RunRepository) runPath(id string) string {
	return r.store.path("runs", id+".json")
}

func (r *RunRepository) load(op, id string) (*models.PipelineRun, error) {
	if err := validateID(id); err != nil {
		return nil, persistence.NewRunError(op, id, err)
	}

	var run models.PipelineRun

	err := readJSON(r.runPath(id), &run)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, persistence.NewRunError(op, id, persistence.ErrRunNotFound)
		}

		return nil, persistence.NewRunError(op, id, err)
	}

	return &run, nil
}

func (r *RunRepository) activeFor(sourceID string) (*models.PipelineRun, error) {
	runs, err := readAll[models.PipelineRun](r.store.path("runs"))
	if err != nil {
		return nil, err
	}

	for _, run := range runs {
		if run.SourceID == sourceID && !statemachine.IsTerminal(run.Status) {
			return run, nil
		}
	}

	return nil, nil
}

// CreateRun saves a new run, enforcing a single non-terminal run per source.
func (r *RunRepository) CreateRun(_ context.Context, run *models.PipelineRun) error {
	if err := validateID(run.ID); err != nil {
		return persistence.NewRunError("CreateRun", run.ID, err)
	}

	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	if !statemachine.IsTerminal(run.Status) {
		active, err := r.activeFor(run.SourceID)
		if err != nil {
			return persistence.NewRunError("CreateRun", run.ID, err)
		}

		if active != nil {
			return persistence.NewRunError("CreateRun", run.ID, persistence.ErrActiveRunExists)
		}
	}

	now := time.Now().UTC()
	if run.StartedAt.IsZero() {
		run.StartedAt = now
	}

	run.UpdatedAt = now
	run.Version = 1

	err := writeJSON(r.runPath(run.ID), run)
	if err != nil {
		return persistence.NewRunError("CreateRun", run.ID, err)
	}

	return nil
}

func (r *RunRepository) GetRun(_ context.Context, id string) (*models.PipelineRun, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	return r.load("GetRun", id)
}

func (r *RunRepository) ActiveRunForSource(_ context.Context, sourceID string) (*models.PipelineRun, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	return r.activeFor(sourceID)
}

// UpdateRun persists the run when its version matches the stored one.
func (r *RunRepository) UpdateRun(_ context.Context, run *models.PipelineRun) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	stored, err := r.load("UpdateRun", run.ID)
	if err != nil {
		return err
	}

	if stored.Version != run.Version {
		return persistence.NewRunError("UpdateRun", run.ID, persistence.ErrVersionConflict)
	}

	updated := *run
	updated.Checkpoint = stored.Checkpoint
	updated.Version = stored.Version + 1
	updated.UpdatedAt = time.Now().UTC()

	err = writeJSON(r.runPath(run.ID), &updated)
	if err != nil {
		return persistence.NewRunError("UpdateRun", run.ID, err)
	}

	run.Version = updated.Version
	run.UpdatedAt = updated.UpdatedAt

	return nil
}

// MutateCheckpoint applies fn to the stored checkpoint and touches UpdatedAt.
// The version is left untouched.
func (r *RunRepository) MutateCheckpoint(_ context.Context, runID string, fn persistence.CheckpointMutator) (*models.Checkpoint, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	stored, err := r.load("MutateCheckpoint", runID)
	if err != nil {
		return nil, err
	}

	stored.Checkpoint = fn(stored.Checkpoint)
	stored.UpdatedAt = time.Now().UTC()

	err = writeJSON(r.runPath(runID), stored)
	if err != nil {
		return nil, persistence.NewRunError("MutateCheckpoint", runID, err)
	}

	return stored.Checkpoint, nil
}

func (r *RunRepository) ListRuns(_ context.Context, filter persistence.RunFilter) ([]*models.PipelineRun, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	runs, err := readAll[models.PipelineRun](r.store.path("runs"))
	if err != nil {
		return nil, err
	}

	result := make([]*models.PipelineRun, 0, len(runs))

	for _, run := range runs {
		if filter.Status != "" && run.Status != filter.Status {
			continue
		}

		if filter.SourceID != "" && run.SourceID != filter.SourceID {
			continue
		}

		if !filter.UpdatedBefore.IsZero() && !run.UpdatedAt.Before(filter.UpdatedBefore) {
			continue
		}

		if filter.Degraded != nil && run.DegradedCompletion != *filter.Degraded {
			continue
		}

		result = append(result, run)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].UpdatedAt.Before(result[j].UpdatedAt)
	})

	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}

	return result, nil
}
