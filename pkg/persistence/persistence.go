// Package persistence provides the data storage abstraction for pipeline runs, step executions and reviews.
package persistence

import (
	"context"
	"time"

	"github.com/dukex/coursepipe/pkg/models"
)

// Persistence is the storage collaborator of the orchestration engine. Every
// cross-worker coordination point (active-run uniqueness, idempotent step
// creation, fan-in counts, optimistic versions) is implemented here.
type Persistence interface {
	RunRepository() RunRepository
	StepExecutionRepository() StepExecutionRepository
	ReviewRepository() ReviewRepository
	SourceRepository() SourceRepository
	ArtifactRepository() ArtifactRepository

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

// RunFilter narrows ListRuns. Zero values are ignored.
type RunFilter struct {
	Status        models.RunStatus
	SourceID      string
	UpdatedBefore time.Time
	Degraded      *bool
	Limit         int
}

// CheckpointMutator receives the stored checkpoint (nil when none) and returns
// the checkpoint to store. Returning nil clears it.
type CheckpointMutator func(current *models.Checkpoint) *models.Checkpoint

// RunRepository stores pipeline runs.
type RunRepository interface {
	// CreateRun inserts a run. It fails with ErrActiveRunExists when another
	// non-terminal run exists for the same source.
	CreateRun(ctx context.Context, run *models.PipelineRun) error

	GetRun(ctx context.Context, id string) (*models.PipelineRun, error)

	// ActiveRunForSource returns the non-terminal run of a source, or nil.
	ActiveRunForSource(ctx context.Context, sourceID string) (*models.PipelineRun, error)

	// UpdateRun writes every run field except the checkpoint. The write only
	// succeeds when run.Version matches the stored version; on success the
	// version is incremented in place. A mismatch returns ErrVersionConflict.
	UpdateRun(ctx context.Context, run *models.PipelineRun) error

	// MutateCheckpoint applies fn to the stored checkpoint under a row lock.
	// It refreshes UpdatedAt and keeps the version.
	MutateCheckpoint(ctx context.Context, runID string, fn CheckpointMutator) (*models.Checkpoint, error)

	ListRuns(ctx context.Context, filter RunFilter) ([]*models.PipelineRun, error)
}

// StepExecutionRepository stores the step execution ledger.
type StepExecutionRepository interface {
	// FindOrCreate returns the execution for (RunID, Stage, ScopeKey), inserting
	// exec when none exists. The boolean reports whether exec was inserted.
	// Concurrent callers for the same key always observe the same row.
	FindOrCreate(ctx context.Context, exec *models.StepExecution) (*models.StepExecution, bool, error)

	GetStepExecution(ctx context.Context, id string) (*models.StepExecution, error)

	FindStepExecution(ctx context.Context, runID string, stage models.Stage, scopeKey *int) (*models.StepExecution, error)

	// UpdateStepExecution is a compare-and-set on Version, incremented in place on success.
	UpdateStepExecution(ctx context.Context, exec *models.StepExecution) error

	// ListByRun returns the executions of a run ordered by stage ordinal and
	// scope. When statuses are given only executions in those statuses are returned.
	ListByRun(ctx context.Context, runID string, statuses ...models.StepStatus) ([]*models.StepExecution, error)

	// CountByStatus counts executions of one stage of a run in the given status.
	CountByStatus(ctx context.Context, runID string, stage models.Stage, status models.StepStatus) (int, error)

	DeleteByRun(ctx context.Context, runID string) (int, error)
}

// ReviewRepository stores append-only human review records.
type ReviewRepository interface {
	// CreateReview fails with ErrReviewAlreadyExists when a record for
	// (RunID, Stage, Revision) exists.
	CreateReview(ctx context.Context, review *models.HumanReviewRecord) error

	FindReview(ctx context.Context, runID string, stage models.Stage, revision int) (*models.HumanReviewRecord, error)

	ListReviews(ctx context.Context, runID string) ([]*models.HumanReviewRecord, error)
}

// SourceRepository exposes the parts of a source the engine reads and writes.
type SourceRepository interface {
	GetSource(ctx context.Context, id string) (*models.Source, error)
	SaveSource(ctx context.Context, source *models.Source) error
	SetLocked(ctx context.Context, id string, locked bool) error
	MarkCompleted(ctx context.Context, id, artifactID string) error
}

// ArtifactRepository stores assembled course artifacts.
type ArtifactRepository interface {
	SaveArtifact(ctx context.Context, artifact *models.Artifact) error
	GetArtifact(ctx context.Context, id string) (*models.Artifact, error)
}
