package models

import "time"

// SourceStatus is the editorial status of a source book.
type SourceStatus string

const (
	SourceStatusDraft    SourceStatus = "draft"
	SourceStatusReady    SourceStatus = "ready"
	SourceStatusArchived SourceStatus = "archived"
)

// Source is the book a pipeline run turns into a course.
type Source struct {
	ID                  string         `json:"id"`
	Title               string         `json:"title"`
	Author              string         `json:"author"`
	Language            string         `json:"language,omitempty"`
	Status              SourceStatus   `json:"status"`
	UnitCount           int            `json:"unit_count"`
	Locked              bool           `json:"locked"`
	CompletedArtifactID string         `json:"completed_artifact_id,omitempty"`
	Metadata            map[string]any `json:"metadata,omitempty"`
	UpdatedAt           time.Time      `json:"updated_at"`
}

// Eligible reports whether the source may start a pipeline run.
func (s *Source) Eligible() bool {
	return s.Status == SourceStatusReady
}

// HasCompletedOutput reports whether a course was already produced for the source.
func (s *Source) HasCompletedOutput() bool {
	return s.CompletedArtifactID != ""
}
