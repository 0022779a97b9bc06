package persistence

import (
	"errors"
	"fmt"
)

// Standard persistence error types that all implementations use.
var (
	// ErrRunNotFound indicates a pipeline run was not found by the given identifier.
	ErrRunNotFound = errors.New("pipeline run not found")

	// ErrActiveRunExists indicates the source already has a non-terminal run.
	ErrActiveRunExists = errors.New("source already has an active run")

	// ErrVersionConflict indicates an optimistic lock failure: the row changed since it was read.
	ErrVersionConflict = errors.New("version conflict")

	// ErrStepExecutionNotFound indicates a step execution was not found.
	ErrStepExecutionNotFound = errors.New("step execution not found")

	// ErrReviewNotFound indicates no review exists for the run, stage and revision.
	ErrReviewNotFound = errors.New("review not found")

	// ErrReviewAlreadyExists indicates a review was already recorded for the run, stage and revision.
	ErrReviewAlreadyExists = errors.New("review already exists")

	// ErrSourceNotFound indicates a source was not found.
	ErrSourceNotFound = errors.New("source not found")

	// ErrArtifactNotFound indicates an artifact was not found.
	ErrArtifactNotFound = errors.New("artifact not found")
)

// RunError wraps run-related errors with additional context.
type RunError struct {
	Op    string // Operation being performed (e.g., "GetRun", "UpdateRun")
	RunID string
	Err   error
}

func (e *RunError) Error() string {
	return fmt.Sprintf("%s operation failed for run %s: %v", e.Op, e.RunID, e.Err)
}

func (e *RunError) Unwrap() error {
	return e.Err
}

// Is implements error comparison for run errors.
func (e *RunError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewRunError creates a new run error with context.
func NewRunError(op, runID string, err error) *RunError {
	return &RunError{Op: op, RunID: runID, Err: err}
}

// StepExecutionError wraps step execution errors with the unit they refer to.
type StepExecutionError struct {
	Op       string
	RunID    string
	Stage    string
	ScopeKey int
	Err      error
}

func (e *StepExecutionError) Error() string {
	return fmt.Sprintf("%s operation failed for step %s/%d of run %s: %v", e.Op, e.Stage, e.ScopeKey, e.RunID, e.Err)
}

func (e *StepExecutionError) Unwrap() error {
	return e.Err
}

func (e *StepExecutionError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewStepExecutionError creates a new step execution error with context.
func NewStepExecutionError(op, runID, stage string, scopeKey int, err error) *StepExecutionError {
	return &StepExecutionError{Op: op, RunID: runID, Stage: stage, ScopeKey: scopeKey, Err: err}
}

// IsRunNotFound checks if an error indicates a run was not found.
func IsRunNotFound(err error) bool {
	return errors.Is(err, ErrRunNotFound)
}

// IsActiveRunExists checks if an error indicates the single-active-run invariant was violated.
func IsActiveRunExists(err error) bool {
	return errors.Is(err, ErrActiveRunExists)
}

// IsVersionConflict checks if an error indicates an optimistic lock failure.
func IsVersionConflict(err error) bool {
	return errors.Is(err, ErrVersionConflict)
}

// IsNotFound checks if an error indicates any missing entity.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrRunNotFound) ||
		errors.Is(err, ErrStepExecutionNotFound) ||
		errors.Is(err, ErrReviewNotFound) ||
		errors.Is(err, ErrSourceNotFound) ||
		errors.Is(err, ErrArtifactNotFound)
}
