// Package web provides HTTP request and response types for the pipeline API.
package web

import (
	"encoding/json"
	"time"

	"github.com/dukex/coursepipe/pkg/models"
)

// StartRunRequest represents the request body for starting a pipeline run.
type StartRunRequest struct {
	SourceID  string `json:"source_id" validate:"required"`
	Initiator string `json:"initiator" validate:"required"`
}

// SubmitReviewRequest represents a reviewer decision on the pending gate of a run.
type SubmitReviewRequest struct {
	Stage            string  `json:"stage"                        validate:"required,oneof=idea final_evaluation"`
	Decision         string  `json:"decision"                     validate:"required,oneof=approved rejected cancel"`
	Reviewer         string  `json:"reviewer"                     validate:"required"`
	Comment          string  `json:"comment,omitempty"            validate:"max=2000"`
	SelectedOptionID *string `json:"selected_option_id,omitempty" validate:"omitempty,min=1"`
}

// CancelRunRequest carries the optional reason of a cancellation.
type CancelRunRequest struct {
	Reason string `json:"reason,omitempty" validate:"max=500"`
}

// StepExecutionResponse is a step execution without its input snapshot.
type StepExecutionResponse struct {
	ID           string            `json:"id"`
	Stage        models.Stage      `json:"stage"`
	ScopeKey     *int              `json:"scope_key,omitempty"`
	Status       models.StepStatus `json:"status"`
	RetryCount   int               `json:"retry_count"`
	DurationMs   int64             `json:"duration_ms"`
	ErrorCode    string            `json:"error_code,omitempty"`
	ErrorMessage string            `json:"error_message,omitempty"`
	Summary      string            `json:"summary,omitempty"`
	Output       json.RawMessage   `json:"output,omitempty"`
	Provider     string            `json:"provider,omitempty"`
	InputTokens  int               `json:"input_tokens"`
	OutputTokens int               `json:"output_tokens"`
	StartedAt    *time.Time        `json:"started_at,omitempty"`
	CompletedAt  *time.Time        `json:"completed_at,omitempty"`
}

// TransformStepResponse drops the prompt snapshot and includes the output only when requested.
func TransformStepResponse(exec *models.StepExecution, includeOutput bool) StepExecutionResponse {
	response := StepExecutionResponse{
		ID:           exec.ID,
		Stage:        exec.Stage,
		ScopeKey:     exec.ScopeKey,
		Status:       exec.Status,
		RetryCount:   exec.RetryCount,
		DurationMs:   exec.DurationMs,
		ErrorCode:    exec.ErrorCode,
		ErrorMessage: exec.ErrorMessage,
		Summary:      exec.Summary,
		Provider:     exec.Provider,
		InputTokens:  exec.InputTokens,
		OutputTokens: exec.OutputTokens,
		StartedAt:    exec.StartedAt,
		CompletedAt:  exec.CompletedAt,
	}

	if includeOutput {
		response.Output = exec.OutputPayload
	}

	return response
}
