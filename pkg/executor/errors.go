package executor

import (
	"context"
	"errors"
	"fmt"

	"github.com/dukex/coursepipe/pkg/protocol"
)

// ErrRetryScheduled is returned by Execute when the step failed with a
// transient error and will run again once the job is redelivered.
var ErrRetryScheduled = errors.New("step failed, retry scheduled")

var transientCodes = map[string]bool{
	protocol.CodeGatewayTimeout:     true,
	protocol.CodeRateLimited:        true,
	protocol.CodeGatewayUnavailable: true,
	protocol.CodeValidationFailed:   true,
	protocol.CodeParseFailed:        true,
}

// IsTransient reports whether failures with the code are retried.
func IsTransient(code string) bool {
	return transientCodes[code]
}

// StepError is a classified step failure.
type StepError struct {
	Code      string
	Message   string
	Retriable bool
	Err       error
}

func (e *StepError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}

	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

func (e *StepError) ErrorCode() string {
	return e.Code
}

// NewStepError builds a failure that is retried when its code is transient.
func NewStepError(code, message string, err error) *StepError {
	return &StepError{Code: code, Message: message, Retriable: IsTransient(code), Err: err}
}

// Fatal builds a failure that is never retried.
func Fatal(code, message string, err error) *StepError {
	return &StepError{Code: code, Message: message, Err: err}
}

// classifyGatewayError turns a gateway error into a StepError. Errors without
// a code are treated as an unavailable gateway.
func classifyGatewayError(err error) *StepError {
	var stepErr *StepError
	if errors.As(err, &stepErr) {
		return stepErr
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return NewStepError(protocol.CodeGatewayTimeout, "completion timed out", err)
	}

	code := protocol.ErrorCode(err)
	if code == "" {
		code = protocol.CodeGatewayUnavailable
	}

	return NewStepError(code, err.Error(), err)
}
