// Package artifact assembles the downstream course from the outputs of an approved run.
package artifact

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dukex/coursepipe/pkg/models"
	"github.com/dukex/coursepipe/pkg/persistence"
	"github.com/google/uuid"
)

// ErrIncompleteRun is returned when a stage output needed by the course is missing.
var ErrIncompleteRun = errors.New("run is missing stage outputs")

// Builder assembles and stores course artifacts.
type Builder struct {
	steps     persistence.StepExecutionRepository
	reviews   persistence.ReviewRepository
	artifacts persistence.ArtifactRepository
	now       func() time.Time
}

func NewBuilder(p persistence.Persistence) *Builder {
	return &Builder{
		steps:     p.StepExecutionRepository(),
		reviews:   p.ReviewRepository(),
		artifacts: p.ArtifactRepository(),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Build assembles the artifact of run from its successful step executions and stores it.
func (b *Builder) Build(ctx context.Context, run *models.PipelineRun) (*models.Artifact, error) {
	successes, err := b.steps.ListByRun(ctx, run.ID, models.StepStatusSuccess)
	if err != nil {
		return nil, fmt.Errorf("failed to load outputs of run %s: %w", run.ID, err)
	}

	single := map[models.Stage]json.RawMessage{}
	scoped := map[models.Stage]map[int]json.RawMessage{}

	for _, exec := range successes {
		if exec.Stage.IsFanOut() {
			if scoped[exec.Stage] == nil {
				scoped[exec.Stage] = map[int]json.RawMessage{}
			}

			scoped[exec.Stage][exec.ScopeValue()] = exec.OutputPayload

			continue
		}

		single[exec.Stage] = exec.OutputPayload
	}

	for _, stage := range []models.Stage{models.StageIdea, models.StageOutline, models.StageFinalEvaluation} {
		if _, ok := single[stage]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrIncompleteRun, stage)
		}
	}

	artifact := &models.Artifact{
		ID:         uuid.NewString(),
		RunID:      run.ID,
		SourceID:   run.SourceID,
		Outline:    single[models.StageOutline],
		Evaluation: single[models.StageFinalEvaluation],
		CreatedAt:  b.now(),
	}

	var outline struct {
		Title string `json:"title"`
	}
	if err := json.Unmarshal(artifact.Outline, &outline); err != nil {
		return nil, fmt.Errorf("failed to decode outline of run %s: %w", run.ID, err)
	}

	artifact.Title = outline.Title

	idea, err := b.selectedIdea(ctx, run, single[models.StageIdea])
	if err != nil {
		return nil, err
	}

	artifact.Idea = idea

	for n := 1; n <= run.EpisodeCount; n++ {
		content, ok := scoped[models.StageEpisodeContent][n]
		if !ok {
			return nil, fmt.Errorf("%w: %s %d", ErrIncompleteRun, models.StageEpisodeContent, n)
		}

		artifact.Episodes = append(artifact.Episodes, models.EpisodeArtifact{
			Number:  n,
			Draft:   scoped[models.StageEpisodeDraft][n],
			Content: content,
		})
	}

	for level := 1; level <= models.PracticeLevels; level++ {
		content, ok := scoped[models.StagePractice][level]
		if !ok {
			return nil, fmt.Errorf("%w: %s %d", ErrIncompleteRun, models.StagePractice, level)
		}

		artifact.Practice = append(artifact.Practice, models.PracticeSet{Level: level, Content: content})
	}

	if err := b.artifacts.SaveArtifact(ctx, artifact); err != nil {
		return nil, fmt.Errorf("failed to save artifact of run %s: %w", run.ID, err)
	}

	return artifact, nil
}

// selectedIdea narrows the idea output to the option approved at the idea
// review of the current revision. The whole output is kept when no option was
// selected.
func (b *Builder) selectedIdea(ctx context.Context, run *models.PipelineRun, idea json.RawMessage) (json.RawMessage, error) {
	review, err := b.reviews.FindReview(ctx, run.ID, models.StageIdea, run.RevisionCount)
	if err != nil {
		if persistence.IsNotFound(err) {
			return idea, nil
		}

		return nil, err
	}

	if review.SelectedOptionID == nil {
		return idea, nil
	}

	var payload struct {
		Options []json.RawMessage `json:"options"`
	}
	if err := json.Unmarshal(idea, &payload); err != nil {
		return idea, nil
	}

	for _, option := range payload.Options {
		var head struct {
			ID string `json:"id"`
		}
		if json.Unmarshal(option, &head) == nil && head.ID == *review.SelectedOptionID {
			return option, nil
		}
	}

	return idea, nil
}
