package handlers

import (
	"fmt"

	"github.com/dukex/coursepipe/pkg/models"
	"github.com/dukex/coursepipe/pkg/protocol"
)

const system = `You are an instructional designer turning books into audio courses.
Answer with a single JSON object that follows the requested structure. Do not add commentary.`

var ideaDefinition = Definition{
	Stage:       models.StageIdea,
	System:      system,
	Temperature: 0.9,
	MaxTokens:   2000,
	Prompt: `Propose course ideas for the book "{{ .Source.Title }}" by {{ default "an unknown author" .Source.Author }}.
The book is split into {{ .Source.UnitCount }} content units{{ with .Source.Language }} and written in {{ . }}{{ end }}.

Return {"options": [{"id": "...", "title": "...", "pitch": "...", "audience": "..."}]} with three distinct options.`,
	Schema: `{
		"type": "object",
		"required": ["options"],
		"properties": {
			"options": {
				"type": "array",
				"minItems": 1,
				"items": {
					"type": "object",
					"required": ["id", "title", "pitch"],
					"properties": {
						"id": {"type": "string", "minLength": 1},
						"title": {"type": "string", "minLength": 1},
						"pitch": {"type": "string", "minLength": 1},
						"audience": {"type": "string"}
					}
				}
			}
		}
	}`,
	Rules: func(payload map[string]any) []string {
		seen := map[any]bool{}

		var violations []string

		for _, option := range payload["options"].([]any) {
			id := option.(map[string]any)["id"]
			if seen[id] {
				violations = append(violations, fmt.Sprintf("duplicate option id %v", id))
			}

			seen[id] = true
		}

		return violations
	},
	Summarize: func(payload map[string]any) string {
		return fmt.Sprintf("%d course ideas", len(payload["options"].([]any)))
	},
}

var outlineDefinition = Definition{
	Stage:       models.StageOutline,
	System:      system,
	Temperature: 0.5,
	MaxTokens:   4000,
	Prompt: `Outline an audio course based on "{{ .Source.Title }}".

Chosen idea:
{{ json .Selection }}
{{ with .ReviewComment }}
Reviewer notes: {{ . }}
{{ end }}
Cover the {{ .Source.UnitCount }} content units of the book. Return
{"title": "...", "episode_count": N, "episodes": [{"number": 1, "title": "...", "synopsis": "..."}]}
with episodes numbered from 1 to N.`,
	Schema: `{
		"type": "object",
		"required": ["title", "episode_count", "episodes"],
		"properties": {
			"title": {"type": "string", "minLength": 1},
			"episode_count": {"type": "integer", "minimum": 1},
			"episodes": {
				"type": "array",
				"minItems": 1,
				"items": {
					"type": "object",
					"required": ["number", "title", "synopsis"],
					"properties": {
						"number": {"type": "integer", "minimum": 1},
						"title": {"type": "string", "minLength": 1},
						"synopsis": {"type": "string"}
					}
				}
			}
		}
	}`,
	Rules: func(payload map[string]any) []string {
		count := int(payload["episode_count"].(float64))
		episodes := payload["episodes"].([]any)

		if len(episodes) != count {
			return []string{fmt.Sprintf("episode_count is %d but %d episodes were outlined", count, len(episodes))}
		}

		for i, episode := range episodes {
			if number := int(episode.(map[string]any)["number"].(float64)); number != i+1 {
				return []string{fmt.Sprintf("episode %d is numbered %d", i+1, number)}
			}
		}

		return nil
	},
	Summarize: func(payload map[string]any) string {
		return fmt.Sprintf("%v (%v episodes)", payload["title"], payload["episode_count"])
	},
}

var episodeDraftDefinition = Definition{
	Stage:       models.StageEpisodeDraft,
	System:      system,
	Temperature: 0.7,
	MaxTokens:   3000,
	Prompt: `Course outline:
{{ json .Outputs.outline }}

Draft episode {{ .Scope }} of {{ .EpisodeCount }}. Return
{"episode": {{ .Scope }}, "title": "...", "beats": ["..."]} listing the key beats of the episode.`,
	Schema: `{
		"type": "object",
		"required": ["episode", "title", "beats"],
		"properties": {
			"episode": {"type": "integer", "minimum": 1},
			"title": {"type": "string", "minLength": 1},
			"beats": {"type": "array", "minItems": 1, "items": {"type": "string"}}
		}
	}`,
	Summarize: func(payload map[string]any) string {
		return fmt.Sprintf("Episode %v: %v", payload["episode"], payload["title"])
	},
}

var episodeContentDefinition = Definition{
	Stage:       models.StageEpisodeContent,
	System:      system,
	Temperature: 0.7,
	MaxTokens:   8000,
	Prompt: `Course outline:
{{ json .Outputs.outline }}

Episode draft:
{{ json .Current.episode_draft }}

Write the narration script of episode {{ .Scope }}. Return
{"episode": {{ .Scope }}, "title": "...", "script": "...", "duration_minutes": N}.`,
	Schema: `{
		"type": "object",
		"required": ["episode", "title", "script"],
		"properties": {
			"episode": {"type": "integer", "minimum": 1},
			"title": {"type": "string", "minLength": 1},
			"script": {"type": "string", "minLength": 1},
			"duration_minutes": {"type": "number", "minimum": 0}
		}
	}`,
	Summarize: func(payload map[string]any) string {
		return fmt.Sprintf("Episode %v: %v", payload["episode"], payload["title"])
	},
}

var practiceDefinition = Definition{
	Stage:       models.StagePractice,
	System:      system,
	Temperature: 0.6,
	MaxTokens:   4000,
	Prompt: `Course outline:
{{ json .Outputs.outline }}

The course has {{ len .Units.episode_content }} episodes. Write practice exercises for
difficulty level {{ .Scope }} of 3 (1 is introductory, 3 is advanced). Return
{"level": {{ .Scope }}, "exercises": [{"prompt": "...", "answer": "...", "episode": N}]}.`,
	Schema: `{
		"type": "object",
		"required": ["level", "exercises"],
		"properties": {
			"level": {"type": "integer", "minimum": 1, "maximum": 3},
			"exercises": {
				"type": "array",
				"minItems": 1,
				"items": {
					"type": "object",
					"required": ["prompt", "answer"],
					"properties": {
						"prompt": {"type": "string", "minLength": 1},
						"answer": {"type": "string", "minLength": 1},
						"episode": {"type": "integer"}
					}
				}
			}
		}
	}`,
	Summarize: func(payload map[string]any) string {
		return fmt.Sprintf("Level %v: %d exercises", payload["level"], len(payload["exercises"].([]any)))
	},
}

var finalEvaluationDefinition = Definition{
	Stage:       models.StageFinalEvaluation,
	System:      system,
	Temperature: 0.2,
	MaxTokens:   3000,
	Prompt: `Evaluate the course "{{ .Outputs.outline.title }}" before publication.

Episodes:
{{ json .Units.episode_content }}

Practice sets:
{{ json .Units.practice }}

Return {"score": 0-100, "verdict": "pass" or "revise", "notes": "..."}.`,
	Schema: `{
		"type": "object",
		"required": ["score", "verdict"],
		"properties": {
			"score": {"type": "number", "minimum": 0, "maximum": 100},
			"verdict": {"type": "string", "enum": ["pass", "revise"]},
			"notes": {"type": "string"}
		}
	}`,
	Summarize: func(payload map[string]any) string {
		return fmt.Sprintf("%v (score %v)", payload["verdict"], payload["score"])
	},
}

// Definitions returns the built-in definition of every run stage.
func Definitions() []Definition {
	return []Definition{
		ideaDefinition,
		outlineDefinition,
		episodeDraftDefinition,
		episodeContentDefinition,
		practiceDefinition,
		finalEvaluationDefinition,
	}
}

// Defaults builds the built-in handlers.
func Defaults() ([]protocol.StepHandler, error) {
	definitions := Definitions()
	handlers := make([]protocol.StepHandler, 0, len(definitions))

	for _, def := range definitions {
		handler, err := New(def)
		if err != nil {
			return nil, err
		}

		handlers = append(handlers, handler)
	}

	return handlers, nil
}
