// Package statemachine encodes the legal status transitions of a pipeline run.
package statemachine

import (
	"errors"
	"fmt"
	"slices"

	"github.com/dukex/coursepipe/pkg/models"
)

// ErrIllegalTransition is returned for any transition outside the transition table.
var ErrIllegalTransition = errors.New("illegal run status transition")

var transitions = map[models.RunStatus][]models.RunStatus{
	models.RunStatusCreated:       {models.RunStatusRunning, models.RunStatusCancelled},
	models.RunStatusRunning:       {models.RunStatusPaused, models.RunStatusWaitingReview, models.RunStatusFailed, models.RunStatusStuck, models.RunStatusApproved},
	models.RunStatusPaused:        {models.RunStatusRunning, models.RunStatusCancelled, models.RunStatusFailed},
	models.RunStatusWaitingReview: {models.RunStatusRunning, models.RunStatusCancelled, models.RunStatusFailed, models.RunStatusApproved},
	models.RunStatusFailed:        {models.RunStatusRunning, models.RunStatusCancelled},
	models.RunStatusStuck:         {models.RunStatusRunning, models.RunStatusCancelled, models.RunStatusApproved},
	models.RunStatusApproved:      {models.RunStatusDeployed},
	models.RunStatusDeployed:      {},
	models.RunStatusCancelled:     {},
}

// TransitionError describes a rejected status change.
type TransitionError struct {
	From models.RunStatus
	To   models.RunStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s: %s -> %s", ErrIllegalTransition, e.From, e.To)
}

func (e *TransitionError) Unwrap() error {
	return ErrIllegalTransition
}

// CanTransition reports whether a run may move from one status to another.
func CanTransition(from, to models.RunStatus) bool {
	allowed, ok := transitions[from]
	if !ok {
		return false
	}

	return slices.Contains(allowed, to)
}

// Transition validates a status change and returns a *TransitionError when it is not allowed.
func Transition(from, to models.RunStatus) error {
	if !CanTransition(from, to) {
		return &TransitionError{From: from, To: to}
	}

	return nil
}

// Allowed returns the statuses reachable from the given status.
func Allowed(from models.RunStatus) []models.RunStatus {
	return slices.Clone(transitions[from])
}

// IsTerminal reports whether the status is final. Only DEPLOYED and CANCELLED are.
func IsTerminal(status models.RunStatus) bool {
	return status == models.RunStatusDeployed || status == models.RunStatusCancelled
}

// CanResume reports whether a run in this status may be resumed from its checkpoint.
func CanResume(status models.RunStatus) bool {
	return status == models.RunStatusPaused
}

// CanRestart reports whether a run in this status may be reset and started over.
func CanRestart(status models.RunStatus) bool {
	switch status {
	case models.RunStatusFailed, models.RunStatusStuck, models.RunStatusPaused:
		return true
	default:
		return false
	}
}
