package protocol

import "errors"

// User-visible failure codes shared by the gateway, handlers and the executor.
const (
	CodeHandlerNotRegistered = "HANDLER_NOT_REGISTERED"
	CodeMissingPriorOutput   = "MISSING_PRIOR_OUTPUT"
	CodeUnknownStage         = "UNKNOWN_STAGE"
	CodeBuildRequestFailed   = "BUILD_REQUEST_FAILED"
	CodeGatewayTimeout       = "GATEWAY_TIMEOUT"
	CodeRateLimited          = "RATE_LIMITED"
	CodeGatewayUnavailable   = "GATEWAY_UNAVAILABLE"
	CodeGatewayRejected      = "GATEWAY_REJECTED"
	CodeValidationFailed     = "VALIDATION_FAILED"
	CodeParseFailed          = "PARSE_FAILED"
	CodeInternal             = "INTERNAL_ERROR"
)

// CodedError is implemented by collaborator errors that carry a failure code.
type CodedError interface {
	error
	ErrorCode() string
}

// ErrorCode extracts the failure code of err, or "" when none is attached.
func ErrorCode(err error) string {
	var coded CodedError
	if errors.As(err, &coded) {
		return coded.ErrorCode()
	}

	return ""
}
