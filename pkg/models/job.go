package models

import "fmt"

// Job is the descriptor handed to the queue for one unit of work.
type Job struct {
	RunID        string `json:"run_id"`
	SourceID     string `json:"source_id"`
	Stage        Stage  `json:"stage"`
	StageOrdinal int    `json:"stage_ordinal"`
	ScopeKey     *int   `json:"scope_key,omitempty"`
	// Revision is the run revision the job was enqueued under. Jobs of an
	// earlier revision are dropped once the run restarts.
	Revision int `json:"revision"`
	Attempt  int `json:"attempt"`
}

// NewJob builds the first-attempt job for a stage unit of a run.
func NewJob(run *PipelineRun, stage Stage, scopeKey *int) Job {
	return Job{
		RunID:        run.ID,
		SourceID:     run.SourceID,
		Stage:        stage,
		StageOrdinal: stage.Ordinal(),
		ScopeKey:     scopeKey,
		Revision:     run.RevisionCount,
		Attempt:      1,
	}
}

// Key identifies the unit of work independently of the attempt.
func (j Job) Key() string {
	return fmt.Sprintf("%s:%s:%d", j.RunID, j.Stage, ScopeValue(j.ScopeKey))
}
