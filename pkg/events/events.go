// Package events defines event types and structures for pipeline run lifecycle notifications.
package events

import (
	"time"

	"github.com/dukex/coursepipe/pkg/models"
	"github.com/google/uuid"
)

type EventType string

// Topics.
const (
	Topic    = "coursepipe.events" // Lifecycle notifications
	JobTopic = "coursepipe.jobs"   // Stage job descriptors
)

const (
	EventMetadataKey     = "key"
	EventTypeMetadataKey = "event_type"
)

const (
	// Run lifecycle events.
	RunStartedEvent        EventType = "run.started"
	RunStageEnteredEvent   EventType = "run.stage_entered"
	RunWaitingReviewEvent  EventType = "run.waiting_review"
	RunReviewedEvent       EventType = "run.reviewed"
	RunPausedEvent         EventType = "run.paused"
	RunResumedEvent        EventType = "run.resumed"
	RunRestartedEvent      EventType = "run.restarted"
	RunFailedEvent         EventType = "run.failed"
	RunStuckEvent          EventType = "run.stuck"
	RunApprovedEvent       EventType = "run.approved"
	RunDeployedEvent       EventType = "run.deployed"
	RunCancelledEvent      EventType = "run.cancelled"
	RunEnrichmentDoneEvent EventType = "run.enrichment_done"

	// Step execution lifecycle events.
	StepCreatedEvent   EventType = "step.created"
	StepStartedEvent   EventType = "step.started"
	StepCompletedEvent EventType = "step.completed"
	StepFailedEvent    EventType = "step.failed"
)

// RunEventTypes lists every run lifecycle event type.
func RunEventTypes() []EventType {
	return []EventType{
		RunStartedEvent,
		RunStageEnteredEvent,
		RunWaitingReviewEvent,
		RunReviewedEvent,
		RunPausedEvent,
		RunResumedEvent,
		RunRestartedEvent,
		RunFailedEvent,
		RunStuckEvent,
		RunApprovedEvent,
		RunDeployedEvent,
		RunCancelledEvent,
		RunEnrichmentDoneEvent,
	}
}

// StepEventTypes lists every step execution event type.
func StepEventTypes() []EventType {
	return []EventType{
		StepCreatedEvent,
		StepStartedEvent,
		StepCompletedEvent,
		StepFailedEvent,
	}
}

// IsRunEvent reports whether the type belongs to the run lifecycle.
func (t EventType) IsRunEvent() bool {
	return len(t) > 4 && t[:4] == "run."
}

// IsStepEvent reports whether the type belongs to the step lifecycle.
func (t EventType) IsStepEvent() bool {
	return len(t) > 5 && t[:5] == "step."
}

type BaseEvent struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	RunID     string         `json:"run_id"`
	WorkerID  string         `json:"worker_id,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

func newBase(eventType EventType, runID string) BaseEvent {
	return BaseEvent{
		ID:        uuid.NewString(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		RunID:     runID,
	}
}

// RunEvent is emitted on every run status or stage change.
type RunEvent struct {
	BaseEvent

	SourceID        string           `json:"source_id"`
	Status          models.RunStatus `json:"status"`
	Stage           models.Stage     `json:"stage"`
	ProgressPercent int              `json:"progress_percent"`
	RevisionCount   int              `json:"revision_count"`
	ErrorCode       string           `json:"error_code,omitempty"`
	ErrorMessage    string           `json:"error_message,omitempty"`
	Degraded        bool             `json:"degraded,omitempty"`
	Initiator       string           `json:"initiator,omitempty"`
}

func (e RunEvent) GetType() EventType {
	return e.Type
}

// NewRunEvent snapshots the run into an event of the given type.
func NewRunEvent(eventType EventType, run *models.PipelineRun) RunEvent {
	return RunEvent{
		BaseEvent:       newBase(eventType, run.ID),
		SourceID:        run.SourceID,
		Status:          run.Status,
		Stage:           run.CurrentStage,
		ProgressPercent: run.ProgressPercent,
		RevisionCount:   run.RevisionCount,
		ErrorCode:       run.ErrorCode,
		ErrorMessage:    run.ErrorMessage,
		Degraded:        run.DegradedCompletion,
		Initiator:       run.Initiator,
	}
}

// StepEvent is emitted on every step execution transition.
type StepEvent struct {
	BaseEvent

	StepExecutionID string            `json:"step_execution_id"`
	Stage           models.Stage      `json:"stage"`
	ScopeKey        *int              `json:"scope_key,omitempty"`
	Status          models.StepStatus `json:"status"`
	RetryCount      int               `json:"retry_count"`
	DurationMs      int64             `json:"duration_ms,omitempty"`
	ErrorCode       string            `json:"error_code,omitempty"`
	ErrorMessage    string            `json:"error_message,omitempty"`
	Provider        string            `json:"provider,omitempty"`
	InputTokens     int               `json:"input_tokens,omitempty"`
	OutputTokens    int               `json:"output_tokens,omitempty"`
}

func (e StepEvent) GetType() EventType {
	return e.Type
}

// NewStepEvent snapshots the execution into an event of the given type.
func NewStepEvent(eventType EventType, exec *models.StepExecution) StepEvent {
	return StepEvent{
		BaseEvent:       newBase(eventType, exec.RunID),
		StepExecutionID: exec.ID,
		Stage:           exec.Stage,
		ScopeKey:        exec.ScopeKey,
		Status:          exec.Status,
		RetryCount:      exec.RetryCount,
		DurationMs:      exec.DurationMs,
		ErrorCode:       exec.ErrorCode,
		ErrorMessage:    exec.ErrorMessage,
		Provider:        exec.Provider,
		InputTokens:     exec.InputTokens,
		OutputTokens:    exec.OutputTokens,
	}
}
