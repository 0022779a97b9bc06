package file

import (
	"context"
	"errors"
	"fmt"
	"os"
	"slices"
	"sort"
	"time"

	"github.com/dukex/coursepipe/pkg/models"
	"github.com/dukex/coursepipe/pkg/persistence"
	"github.com/google/uuid"
)

// StepExecutionRepository stores one JSON document per (run, stage, scope) unit.
type StepExecutionRepository struct {
	store *store
}

func (r *StepExecutionRepository) unitPath(runID string, stage models.Stage, scopeKey *int) string {
	return r.store.path("step_executions", runID, fmt.Sprintf("%s-%d.json", stage, models.ScopeValue(scopeKey)))
}

func (r *StepExecutionRepository) loadUnit(runID string, stage models.Stage, scopeKey *int) (*models.StepExecution, error) {
	var exec models.StepExecution

	err := readJSON(r.unitPath(runID, stage, scopeKey), &exec)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, persistence.ErrStepExecutionNotFound
		}

		return nil, err
	}

	return &exec, nil
}

func (r *StepExecutionRepository) FindOrCreate(_ context.Context, exec *models.StepExecution) (*models.StepExecution, bool, error) {
	if err := validateID(exec.RunID); err != nil {
		return nil, false, persistence.NewStepExecutionError("FindOrCreate", exec.RunID, string(exec.Stage), exec.ScopeValue(), err)
	}

	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	existing, err := r.loadUnit(exec.RunID, exec.Stage, exec.ScopeKey)
	if err == nil {
		return existing, false, nil
	}

	if !errors.Is(err, persistence.ErrStepExecutionNotFound) {
		return nil, false, persistence.NewStepExecutionError("FindOrCreate", exec.RunID, string(exec.Stage), exec.ScopeValue(), err)
	}

	if exec.ID == "" {
		exec.ID = uuid.NewString()
	}

	now := time.Now().UTC()
	exec.CreatedAt = now
	exec.UpdatedAt = now
	exec.Version = 1

	err = writeJSON(r.unitPath(exec.RunID, exec.Stage, exec.ScopeKey), exec)
	if err != nil {
		return nil, false, persistence.NewStepExecutionError("FindOrCreate", exec.RunID, string(exec.Stage), exec.ScopeValue(), err)
	}

	created := *exec

	return &created, true, nil
}

func (r *StepExecutionRepository) all() ([]*models.StepExecution, error) {
	runs, err := os.ReadDir(r.store.path("step_executions"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to read step executions: %w", err)
	}

	var execs []*models.StepExecution

	for _, run := range runs {
		if !run.IsDir() {
			continue
		}

		items, err := readAll[models.StepExecution](r.store.path("step_executions", run.Name()))
		if err != nil {
			return nil, err
		}

		execs = append(execs, items...)
	}

	return execs, nil
}

func (r *StepExecutionRepository) GetStepExecution(_ context.Context, id string) (*models.StepExecution, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	execs, err := r.all()
	if err != nil {
		return nil, err
	}

	for _, exec := range execs {
		if exec.ID == id {
			return exec, nil
		}
	}

	return nil, fmt.Errorf("step execution %s: %w", id, persistence.ErrStepExecutionNotFound)
}

func (r *StepExecutionRepository) FindStepExecution(_ context.Context, runID string, stage models.Stage, scopeKey *int) (*models.StepExecution, error) {
	if err := validateID(runID); err != nil {
		return nil, persistence.NewStepExecutionError("FindStepExecution", runID, string(stage), models.ScopeValue(scopeKey), err)
	}

	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	exec, err := r.loadUnit(runID, stage, scopeKey)
	if err != nil {
		return nil, persistence.NewStepExecutionError("FindStepExecution", runID, string(stage), models.ScopeValue(scopeKey), err)
	}

	return exec, nil
}

func (r *StepExecutionRepository) UpdateStepExecution(_ context.Context, exec *models.StepExecution) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	stored, err := r.loadUnit(exec.RunID, exec.Stage, exec.ScopeKey)
	if err != nil {
		return persistence.NewStepExecutionError("UpdateStepExecution", exec.RunID, string(exec.Stage), exec.ScopeValue(), err)
	}

	if stored.ID != exec.ID {
		return persistence.NewStepExecutionError("UpdateStepExecution", exec.RunID, string(exec.Stage), exec.ScopeValue(), persistence.ErrStepExecutionNotFound)
	}

	if stored.Version != exec.Version {
		return persistence.NewStepExecutionError("UpdateStepExecution", exec.RunID, string(exec.Stage), exec.ScopeValue(), persistence.ErrVersionConflict)
	}

	updated := *exec
	updated.Version = stored.Version + 1
	updated.CreatedAt = stored.CreatedAt
	updated.UpdatedAt = time.Now().UTC()

	err = writeJSON(r.unitPath(exec.RunID, exec.Stage, exec.ScopeKey), &updated)
	if err != nil {
		return persistence.NewStepExecutionError("UpdateStepExecution", exec.RunID, string(exec.Stage), exec.ScopeValue(), err)
	}

	exec.Version = updated.Version
	exec.UpdatedAt = updated.UpdatedAt

	return nil
}

func (r *StepExecutionRepository) listRun(runID string) ([]*models.StepExecution, error) {
	if err := validateID(runID); err != nil {
		return nil, err
	}

	return readAll[models.StepExecution](r.store.path("step_executions", runID))
}

func (r *StepExecutionRepository) ListByRun(_ context.Context, runID string, statuses ...models.StepStatus) ([]*models.StepExecution, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	execs, err := r.listRun(runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list step executions of run %s: %w", runID, err)
	}

	result := make([]*models.StepExecution, 0, len(execs))

	for _, exec := range execs {
		if len(statuses) > 0 && !slices.Contains(statuses, exec.Status) {
			continue
		}

		result = append(result, exec)
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].StageOrdinal != result[j].StageOrdinal {
			return result[i].StageOrdinal < result[j].StageOrdinal
		}

		return result[i].ScopeValue() < result[j].ScopeValue()
	})

	return result, nil
}

func (r *StepExecutionRepository) CountByStatus(_ context.Context, runID string, stage models.Stage, status models.StepStatus) (int, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	execs, err := r.listRun(runID)
	if err != nil {
		return 0, fmt.Errorf("failed to count step executions of run %s: %w", runID, err)
	}

	count := 0

	for _, exec := range execs {
		if exec.Stage == stage && exec.Status == status {
			count++
		}
	}

	return count, nil
}

func (r *StepExecutionRepository) DeleteByRun(_ context.Context, runID string) (int, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	execs, err := r.listRun(runID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete step executions of run %s: %w", runID, err)
	}

	err = os.RemoveAll(r.store.path("step_executions", runID))
	if err != nil {
		return 0, fmt.Errorf("failed to delete step executions of run %s: %w", runID, err)
	}

	return len(execs), nil
}
