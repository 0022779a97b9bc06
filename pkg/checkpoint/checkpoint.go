// Package checkpoint persists the last completed unit of work of a run and
// derives the point a run resumes from.
package checkpoint

import (
	"context"
	"fmt"
	"time"

	"github.com/dukex/coursepipe/pkg/models"
	"github.com/dukex/coursepipe/pkg/persistence"
)

// Store reads and merges run checkpoints.
type Store struct {
	runs persistence.RunRepository
	now  func() time.Time
}

func NewStore(runs persistence.RunRepository) *Store {
	return &Store{
		runs: runs,
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// Save records the completion of a stage unit. The merge runs under the
// repository's row lock, so concurrent fan-out completions never lose a stage
// timestamp and LastCompletedStage never moves backwards.
func (s *Store) Save(ctx context.Context, runID string, stage models.Stage, scopeKey *int) (*models.Checkpoint, error) {
	if !stage.Valid() {
		return nil, fmt.Errorf("%w: %q", models.ErrUnknownStage, stage)
	}

	savedAt := s.now()

	checkpoint, err := s.runs.MutateCheckpoint(ctx, runID, func(current *models.Checkpoint) *models.Checkpoint {
		next := &models.Checkpoint{PerStageCompletedAt: map[models.Stage]time.Time{}}

		if current != nil {
			next.LastCompletedStage = current.LastCompletedStage
			next.LastCompletedEpisode = current.LastCompletedEpisode

			for k, v := range current.PerStageCompletedAt {
				next.PerStageCompletedAt[k] = v
			}
		}

		next.PerStageCompletedAt[stage] = savedAt
		next.SavedAt = savedAt

		if next.LastCompletedStage == "" || !next.LastCompletedStage.IsAfter(stage) {
			next.LastCompletedStage = stage
			next.LastCompletedEpisode = nil

			if stage.FanOut() == models.FanOutEpisode && scopeKey != nil {
				next.LastCompletedEpisode = models.ScopeKey(*scopeKey)
			}
		}

		return next
	})
	if err != nil {
		return nil, fmt.Errorf("failed to save checkpoint of run %s: %w", runID, err)
	}

	return checkpoint, nil
}

// Get returns the stored checkpoint, nil when none was saved.
func (s *Store) Get(ctx context.Context, runID string) (*models.Checkpoint, error) {
	run, err := s.runs.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}

	return run.Checkpoint, nil
}

// GetResumePoint returns the first stage for a run without progress, and the
// stage after the last completed one otherwise.
func (s *Store) GetResumePoint(ctx context.Context, runID string) (*models.ResumePoint, error) {
	checkpoint, err := s.Get(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to load checkpoint of run %s: %w", runID, err)
	}

	return ResumePointFrom(checkpoint), nil
}

// ResumePointFrom derives the resume point of a checkpoint.
func ResumePointFrom(checkpoint *models.Checkpoint) *models.ResumePoint {
	if checkpoint.IsEmpty() {
		return &models.ResumePoint{Stage: models.FirstStage}
	}

	point := &models.ResumePoint{
		Stage:         models.LastStage,
		AfterStage:    checkpoint.LastCompletedStage,
		EpisodeNumber: checkpoint.LastCompletedEpisode,
	}

	if next, ok := checkpoint.LastCompletedStage.Next(); ok {
		point.Stage = next
	}

	return point
}

// Clear removes the checkpoint of a run.
func (s *Store) Clear(ctx context.Context, runID string) error {
	_, err := s.runs.MutateCheckpoint(ctx, runID, func(*models.Checkpoint) *models.Checkpoint {
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to clear checkpoint of run %s: %w", runID, err)
	}

	return nil
}
