package protocol

import (
	"context"
	"encoding/json"
	"time"

	"github.com/dukex/coursepipe/pkg/models"
)

// ScopedOutput is the output of one unit of a fan-out stage.
type ScopedOutput struct {
	ScopeKey int             `json:"scope_key"`
	Output   json.RawMessage `json:"output"`
	Summary  string          `json:"summary,omitempty"`
}

// StepContext is everything a handler may read when building a request.
type StepContext struct {
	RunID        string       `json:"run_id"`
	Stage        models.Stage `json:"stage"`
	ScopeKey     *int         `json:"scope_key,omitempty"`
	Attempt      int          `json:"attempt"`
	Revision     int          `json:"revision"`
	EpisodeCount int          `json:"episode_count"`

	Source *models.Source `json:"source"`

	// Outputs holds the output of every completed single-unit stage.
	Outputs map[models.Stage]json.RawMessage `json:"outputs"`
	// FanOutOutputs holds the outputs of fan-out stages ordered by scope key.
	FanOutOutputs map[models.Stage][]ScopedOutput `json:"fan_out_outputs"`
	// Reviews holds the approved review of each gate stage for the current revision.
	Reviews map[models.Stage]*models.HumanReviewRecord `json:"reviews,omitempty"`
}

// Output returns the output of a single-unit stage.
func (c *StepContext) Output(stage models.Stage) (json.RawMessage, bool) {
	output, ok := c.Outputs[stage]

	return output, ok
}

// ScopedOutput returns the output of one unit of a fan-out stage.
func (c *StepContext) ScopedOutput(stage models.Stage, scopeKey int) (json.RawMessage, bool) {
	for _, output := range c.FanOutOutputs[stage] {
		if output.ScopeKey == scopeKey {
			return output.Output, true
		}
	}

	return nil, false
}

// Request is what a handler asks the LLM gateway to complete.
type Request struct {
	Stage       models.Stage      `json:"stage"`
	System      string            `json:"system,omitempty"`
	Prompt      string            `json:"prompt"`
	Temperature float64           `json:"temperature,omitempty"`
	MaxTokens   int               `json:"max_tokens,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// Completion is the raw gateway answer.
type Completion struct {
	Content      string        `json:"content"`
	Provider     string        `json:"provider"`
	InputTokens  int           `json:"input_tokens"`
	OutputTokens int           `json:"output_tokens"`
	Latency      time.Duration `json:"latency"`
}

// ValidationResult reports handler-specific business rule violations.
type ValidationResult struct {
	Valid  bool
	Errors []string
}

// ParsedOutput is the structured output a handler extracts from a completion.
type ParsedOutput struct {
	Payload json.RawMessage
	Summary string
}

// StepHandler implements the stage-specific parts of a step: prompt building
// and response validation and parsing.
type StepHandler interface {
	Stage() models.Stage
	BuildRequest(ctx context.Context, stepCtx *StepContext) (*Request, error)
	Validate(raw string) ValidationResult
	Parse(raw string) (*ParsedOutput, error)
}

// SuccessHook is optionally implemented by handlers that react to a persisted output.
type SuccessHook interface {
	OnSuccess(ctx context.Context, stepCtx *StepContext, output *ParsedOutput) error
}

// LLMGateway completes requests against a language model provider.
type LLMGateway interface {
	Complete(ctx context.Context, request *Request) (*Completion, error)
}
