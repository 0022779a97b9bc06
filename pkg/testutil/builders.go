// Package testutil provides test data builders for sources and pipeline runs.
package testutil

import (
	"time"

	"github.com/dukex/coursepipe/pkg/models"
	"github.com/google/uuid"
)

// CreateTestSource creates a ready source with default values that can be overridden.
func CreateTestSource(overrides ...func(*models.Source)) *models.Source {
	source := &models.Source{
		ID:        uuid.New().String(),
		Title:     "Meditations",
		Author:    "Marcus Aurelius",
		Language:  "en",
		Status:    models.SourceStatusReady,
		UnitCount: 12,
		UpdatedAt: time.Now().UTC(),
	}

	for _, override := range overrides {
		override(source)
	}

	return source
}

// WithSourceID sets the source id.
func WithSourceID(id string) func(*models.Source) {
	return func(s *models.Source) {
		s.ID = id
	}
}

// WithUnitCount sets the number of content units of the source.
func WithUnitCount(count int) func(*models.Source) {
	return func(s *models.Source) {
		s.UnitCount = count
	}
}

// WithSourceStatus sets the editorial status.
func WithSourceStatus(status models.SourceStatus) func(*models.Source) {
	return func(s *models.Source) {
		s.Status = status
	}
}

// CreateTestRun creates a RUNNING run at the first stage with default values that can be overridden.
func CreateTestRun(overrides ...func(*models.PipelineRun)) *models.PipelineRun {
	now := time.Now().UTC()

	run := &models.PipelineRun{
		ID:        uuid.New().String(),
		SourceID:  uuid.New().String(),
		Status:    models.RunStatusRunning,
		Initiator: "test@example.com",
		StartedAt: now,
		UpdatedAt: now,
	}
	run.EnterStage(models.FirstStage)

	for _, override := range overrides {
		override(run)
	}

	return run
}

// WithRunID sets the run id.
func WithRunID(id string) func(*models.PipelineRun) {
	return func(r *models.PipelineRun) {
		r.ID = id
	}
}

// ForSource binds the run to a source.
func ForSource(sourceID string) func(*models.PipelineRun) {
	return func(r *models.PipelineRun) {
		r.SourceID = sourceID
	}
}

// WithRunStatus sets the run status.
func WithRunStatus(status models.RunStatus) func(*models.PipelineRun) {
	return func(r *models.PipelineRun) {
		r.Status = status
	}
}

// AtStage moves the run to stage.
func AtStage(stage models.Stage) func(*models.PipelineRun) {
	return func(r *models.PipelineRun) {
		r.EnterStage(stage)
	}
}
