package models

import "time"

// RunStatus is the lifecycle status of a pipeline run.
type RunStatus string

const (
	RunStatusCreated       RunStatus = "CREATED"
	RunStatusRunning       RunStatus = "RUNNING"
	RunStatusPaused        RunStatus = "PAUSED"
	RunStatusWaitingReview RunStatus = "WAITING_REVIEW"
	RunStatusFailed        RunStatus = "FAILED"
	RunStatusStuck         RunStatus = "STUCK"
	RunStatusApproved      RunStatus = "APPROVED"
	RunStatusDeployed      RunStatus = "DEPLOYED"
	RunStatusCancelled     RunStatus = "CANCELLED"
)

// RunStatuses lists every run status.
func RunStatuses() []RunStatus {
	return []RunStatus{
		RunStatusCreated,
		RunStatusRunning,
		RunStatusPaused,
		RunStatusWaitingReview,
		RunStatusFailed,
		RunStatusStuck,
		RunStatusApproved,
		RunStatusDeployed,
		RunStatusCancelled,
	}
}

// PipelineRun is one workflow instance bound to exactly one source.
type PipelineRun struct {
	ID                  string    `json:"id"`
	SourceID            string    `json:"source_id"`
	Status              RunStatus `json:"status"`
	CurrentStage        Stage     `json:"current_stage"`
	CurrentStageOrdinal int       `json:"current_stage_ordinal"`
	ProgressPercent     int       `json:"progress_percent"`
	RevisionCount       int       `json:"revision_count"`
	EpisodeCount        int       `json:"episode_count"`
	Initiator           string    `json:"initiator"`

	ErrorCode    string `json:"error_code,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`

	// DegradedCompletion is set when the run completed but the course artifact could not be assembled.
	DegradedCompletion bool   `json:"degraded_completion"`
	DegradedReason     string `json:"degraded_reason,omitempty"`
	ArtifactID         string `json:"artifact_id,omitempty"`

	Checkpoint *Checkpoint `json:"checkpoint,omitempty"`

	StartedAt   time.Time  `json:"started_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	Version int64 `json:"version"`
}

// EnterStage moves the run to the given stage and applies the stage's progress weight.
// Progress never decreases.
func (r *PipelineRun) EnterStage(stage Stage) {
	r.CurrentStage = stage
	r.CurrentStageOrdinal = stage.Ordinal()

	if progress := stage.Progress(); progress > r.ProgressPercent {
		r.ProgressPercent = progress
	}
}

// SetError records a user-visible {code, message} pair on the run.
func (r *PipelineRun) SetError(code, message string) {
	r.ErrorCode = code
	r.ErrorMessage = message
}

// ClearError removes any recorded failure.
func (r *PipelineRun) ClearError() {
	r.ErrorCode = ""
	r.ErrorMessage = ""
}

// Checkpoint records the last completed unit of work of a run.
type Checkpoint struct {
	LastCompletedStage   Stage               `json:"last_completed_stage,omitempty"`
	LastCompletedEpisode *int                `json:"last_completed_episode,omitempty"`
	PerStageCompletedAt  map[Stage]time.Time `json:"per_stage_completed_at,omitempty"`
	SavedAt              time.Time           `json:"saved_at"`
}

// IsEmpty reports whether nothing has been completed yet.
func (c *Checkpoint) IsEmpty() bool {
	return c == nil || c.LastCompletedStage == ""
}

// ResumePoint is where a paused or failed run continues from. AfterStage is the
// last completed stage, empty when nothing completed yet.
type ResumePoint struct {
	Stage         Stage `json:"stage"`
	EpisodeNumber *int  `json:"episode_number,omitempty"`
	AfterStage    Stage `json:"after_stage,omitempty"`
}
