// Package handlers provides the built-in step handlers. Each handler renders a
// prompt template, checks the completion against a JSON schema and extracts a
// compact payload plus a one-line summary.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	texttemplate "text/template"

	"github.com/dukex/coursepipe/pkg/models"
	"github.com/dukex/coursepipe/pkg/protocol"
	"github.com/dukex/coursepipe/pkg/template"
	"github.com/xeipuuv/gojsonschema"
)

var ErrNoJSON = errors.New("completion does not contain a JSON object")

// Definition describes one stage handler.
type Definition struct {
	Stage       models.Stage
	System      string
	Prompt      string
	Schema      string
	Temperature float64
	MaxTokens   int

	// Rules checks business rules the schema cannot express.
	Rules func(payload map[string]any) []string
	// Summarize produces the one-line summary stored on the step execution.
	Summarize func(payload map[string]any) string
}

// JSONHandler implements protocol.StepHandler for a Definition.
type JSONHandler struct {
	def    Definition
	prompt *texttemplate.Template
	schema *gojsonschema.Schema
}

func New(def Definition) (*JSONHandler, error) {
	if !def.Stage.Valid() {
		return nil, fmt.Errorf("%w: %q", models.ErrUnknownStage, def.Stage)
	}

	prompt, err := template.Parse(string(def.Stage), def.Prompt)
	if err != nil {
		return nil, err
	}

	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(def.Schema))
	if err != nil {
		return nil, fmt.Errorf("invalid schema for stage %s: %w", def.Stage, err)
	}

	return &JSONHandler{def: def, prompt: prompt, schema: schema}, nil
}

func (h *JSONHandler) Stage() models.Stage {
	return h.def.Stage
}

func (h *JSONHandler) BuildRequest(_ context.Context, stepCtx *protocol.StepContext) (*protocol.Request, error) {
	data, err := newPromptData(stepCtx)
	if err != nil {
		return nil, err
	}

	prompt, err := template.Execute(h.prompt, data)
	if err != nil {
		return nil, err
	}

	metadata := map[string]string{
		"run_id":   stepCtx.RunID,
		"revision": fmt.Sprint(stepCtx.Revision),
	}
	if stepCtx.ScopeKey != nil {
		metadata["scope_key"] = fmt.Sprint(*stepCtx.ScopeKey)
	}

	return &protocol.Request{
		Stage:       h.def.Stage,
		System:      h.def.System,
		Prompt:      prompt,
		Temperature: h.def.Temperature,
		MaxTokens:   h.def.MaxTokens,
		Metadata:    metadata,
	}, nil
}

func (h *JSONHandler) Validate(raw string) protocol.ValidationResult {
	document, err := ExtractJSON(raw)
	if err != nil {
		return protocol.ValidationResult{Errors: []string{err.Error()}}
	}

	result, err := h.schema.Validate(gojsonschema.NewStringLoader(document))
	if err != nil {
		return protocol.ValidationResult{Errors: []string{err.Error()}}
	}

	var violations []string
	for _, desc := range result.Errors() {
		violations = append(violations, desc.String())
	}

	if len(violations) == 0 && h.def.Rules != nil {
		var payload map[string]any
		if err := json.Unmarshal([]byte(document), &payload); err != nil {
			return protocol.ValidationResult{Errors: []string{err.Error()}}
		}

		violations = h.def.Rules(payload)
	}

	return protocol.ValidationResult{Valid: len(violations) == 0, Errors: violations}
}

func (h *JSONHandler) Parse(raw string) (*protocol.ParsedOutput, error) {
	document, err := ExtractJSON(raw)
	if err != nil {
		return nil, err
	}

	var payload map[string]any
	if err := json.Unmarshal([]byte(document), &payload); err != nil {
		return nil, fmt.Errorf("failed to decode %s output: %w", h.def.Stage, err)
	}

	compact, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	output := &protocol.ParsedOutput{Payload: compact}
	if h.def.Summarize != nil {
		output.Summary = h.def.Summarize(payload)
	}

	return output, nil
}

// ExtractJSON returns the outermost JSON object of a completion, dropping
// markdown code fences and any prose around it.
func ExtractJSON(raw string) (string, error) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")

	if start < 0 || end < start {
		return "", ErrNoJSON
	}

	document := raw[start : end+1]
	if !json.Valid([]byte(document)) {
		return "", ErrNoJSON
	}

	return document, nil
}
