package models

import "time"

// ReviewType names the human review gate a record belongs to.
type ReviewType string

const (
	ReviewTypeIdeaSelection ReviewType = "idea_selection"
	ReviewTypeFinalApproval ReviewType = "final_approval"
)

// ReviewDecision is the outcome chosen by a reviewer.
type ReviewDecision string

const (
	ReviewDecisionApproved ReviewDecision = "approved"
	ReviewDecisionRejected ReviewDecision = "rejected"
	ReviewDecisionCancel   ReviewDecision = "cancel"
)

// Valid reports whether the decision is one of the known values.
func (d ReviewDecision) Valid() bool {
	switch d {
	case ReviewDecisionApproved, ReviewDecisionRejected, ReviewDecisionCancel:
		return true
	default:
		return false
	}
}

// HumanReviewRecord is an append-only review decision. Revision ties the record to one
// attempt of the run so that a restarted run goes through its gates again.
type HumanReviewRecord struct {
	ID               string         `json:"id"`
	RunID            string         `json:"run_id"`
	Stage            Stage          `json:"stage"`
	Revision         int            `json:"revision"`
	ReviewType       ReviewType     `json:"review_type"`
	Decision         ReviewDecision `json:"decision"`
	Reviewer         string         `json:"reviewer"`
	ReviewedAt       time.Time      `json:"reviewed_at"`
	Comment          string         `json:"comment,omitempty"`
	SelectedOptionID *string        `json:"selected_option_id,omitempty"`
}

// Approved reports whether the reviewer approved the stage.
func (r *HumanReviewRecord) Approved() bool {
	return r.Decision == ReviewDecisionApproved
}
