package handlers

import (
	"encoding/json"
	"fmt"

	"github.com/dukex/coursepipe/pkg/models"
	"github.com/dukex/coursepipe/pkg/protocol"
)

// promptData is the value prompt templates are executed with.
type promptData struct {
	Source       *models.Source
	Scope        int
	EpisodeCount int
	Revision     int

	// Outputs holds decoded single-unit stage outputs keyed by stage id.
	Outputs map[string]any
	// Units holds decoded fan-out outputs keyed by stage id, ordered by scope.
	Units map[string][]any
	// Current holds the fan-out outputs of the unit with the same scope.
	Current map[string]any

	// Selection is the idea option picked at the idea review.
	Selection     any
	ReviewComment string
}

func newPromptData(stepCtx *protocol.StepContext) (*promptData, error) {
	data := &promptData{
		Source:       stepCtx.Source,
		Scope:        models.ScopeValue(stepCtx.ScopeKey),
		EpisodeCount: stepCtx.EpisodeCount,
		Revision:     stepCtx.Revision,
		Outputs:      map[string]any{},
		Units:        map[string][]any{},
		Current:      map[string]any{},
	}

	if data.Source == nil {
		data.Source = &models.Source{}
	}

	for stage, raw := range stepCtx.Outputs {
		value, err := decode(raw)
		if err != nil {
			return nil, fmt.Errorf("failed to decode %s output: %w", stage, err)
		}

		data.Outputs[string(stage)] = value
	}

	for stage, outputs := range stepCtx.FanOutOutputs {
		for _, output := range outputs {
			value, err := decode(output.Output)
			if err != nil {
				return nil, fmt.Errorf("failed to decode %s output %d: %w", stage, output.ScopeKey, err)
			}

			data.Units[string(stage)] = append(data.Units[string(stage)], value)

			if stepCtx.ScopeKey != nil && output.ScopeKey == *stepCtx.ScopeKey {
				data.Current[string(stage)] = value
			}
		}
	}

	review := stepCtx.Reviews[models.StageIdea]
	if review != nil {
		data.ReviewComment = review.Comment
	}

	data.Selection = selectIdea(data.Outputs[string(models.StageIdea)], review)

	return data, nil
}

func decode(raw json.RawMessage) (any, error) {
	if len(raw) == 0 {
		return nil, nil
	}

	var value any
	if err := json.Unmarshal(raw, &value); err != nil {
		return nil, err
	}

	return value, nil
}

// selectIdea returns the option chosen at review, falling back to the first option.
func selectIdea(idea any, review *models.HumanReviewRecord) any {
	payload, ok := idea.(map[string]any)
	if !ok {
		return nil
	}

	options, _ := payload["options"].([]any)
	if len(options) == 0 {
		return nil
	}

	if review != nil && review.SelectedOptionID != nil {
		for _, option := range options {
			if o, ok := option.(map[string]any); ok && o["id"] == *review.SelectedOptionID {
				return o
			}
		}
	}

	return options[0]
}
