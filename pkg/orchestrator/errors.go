package orchestrator

import "errors"

var (
	ErrSourceNotFound         = errors.New("source not found")
	ErrSourceIneligible       = errors.New("source is not ready for a pipeline run")
	ErrNoContentUnits         = errors.New("source has no content units")
	ErrSourceAlreadyCompleted = errors.New("source already has a completed course")
	ErrActiveRunExists        = errors.New("source already has an active pipeline run")
	ErrRunNotFound            = errors.New("pipeline run not found")
	ErrNotWaitingReview       = errors.New("pipeline run is not waiting for a review")
	ErrReviewStageMismatch    = errors.New("review stage does not match the pending review")
	ErrInvalidDecision        = errors.New("invalid review decision")
	ErrNotResumable           = errors.New("pipeline run cannot be resumed")
	ErrNotStuck               = errors.New("pipeline run is not stuck")
	ErrNotRestartable         = errors.New("pipeline run cannot be restarted")
	ErrNotDegraded            = errors.New("pipeline run has no degraded completion to retry")
)

// Failure codes recorded on runs by the orchestrator.
const (
	CodeReviewRejected  = "REVIEW_REJECTED"
	CodeReviewCancelled = "REVIEW_CANCELLED"
	CodeRunCancelled    = "RUN_CANCELLED"
	CodeRunStuck        = "RUN_STUCK"
	CodeEnqueueFailed   = "ENQUEUE_FAILED"
)
