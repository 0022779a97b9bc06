package models

import (
	"encoding/json"
	"time"
)

// Artifact is the downstream course assembled from the outputs of an approved run.
type Artifact struct {
	ID         string            `json:"id"`
	RunID      string            `json:"run_id"`
	SourceID   string            `json:"source_id"`
	Title      string            `json:"title"`
	Idea       json.RawMessage   `json:"idea,omitempty"`
	Outline    json.RawMessage   `json:"outline,omitempty"`
	Episodes   []EpisodeArtifact `json:"episodes"`
	Practice   []PracticeSet     `json:"practice"`
	Evaluation json.RawMessage   `json:"evaluation,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
}

// EpisodeArtifact pairs the draft and final content of one episode.
type EpisodeArtifact struct {
	Number  int             `json:"number"`
	Draft   json.RawMessage `json:"draft,omitempty"`
	Content json.RawMessage `json:"content"`
}

// PracticeSet holds the practice material of one difficulty level.
type PracticeSet struct {
	Level   int             `json:"level"`
	Content json.RawMessage `json:"content"`
}
