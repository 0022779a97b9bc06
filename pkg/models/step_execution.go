package models

import (
	"encoding/json"
	"time"
)

// StepStatus is the lifecycle status of a single step execution.
type StepStatus string

const (
	StepStatusPending   StepStatus = "pending"
	StepStatusRunning   StepStatus = "running"
	StepStatusSuccess   StepStatus = "success"
	StepStatusFailed    StepStatus = "failed"
	StepStatusExhausted StepStatus = "exhausted"
)

// StepExecution tracks one executable unit: a stage of a run, optionally scoped to an episode or level.
// Retries reuse the same record and increment RetryCount.
type StepExecution struct {
	ID           string     `json:"id"`
	RunID        string     `json:"run_id"`
	Stage        Stage      `json:"stage"`
	StageOrdinal int        `json:"stage_ordinal"`
	ScopeKey     *int       `json:"scope_key,omitempty"`
	Revision     int        `json:"revision"`
	Status       StepStatus `json:"status"`
	RetryCount   int        `json:"retry_count"`

	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	DurationMs  int64      `json:"duration_ms"`

	ErrorCode    string `json:"error_code,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`

	InputSnapshot json.RawMessage `json:"input_snapshot,omitempty"`
	OutputPayload json.RawMessage `json:"output_payload,omitempty"`
	Summary       string          `json:"summary,omitempty"`

	Provider     string `json:"provider,omitempty"`
	InputTokens  int    `json:"input_tokens"`
	OutputTokens int    `json:"output_tokens"`
	LatencyMs    int64  `json:"latency_ms"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Version   int64     `json:"version"`
}

// IsTerminal reports whether the execution will not run again without a restart.
func (e *StepExecution) IsTerminal() bool {
	return e.Status == StepStatusSuccess || e.Status == StepStatusExhausted
}

// ScopeValue returns the scope key with "no scope" mapped to 0.
func (e *StepExecution) ScopeValue() int {
	return ScopeValue(e.ScopeKey)
}

// ProviderMetadata describes the LLM call that produced a step output.
type ProviderMetadata struct {
	Provider     string `json:"provider"`
	InputTokens  int    `json:"input_tokens"`
	OutputTokens int    `json:"output_tokens"`
	LatencyMs    int64  `json:"latency_ms"`
}
