package jobregistry

import (
	"errors"
	"fmt"
)

// Machine-readable error codes reported to API callers.
const (
	// CodeValidation indicates bad input rejected before any state mutation.
	CodeValidation = "VALIDATION_ERROR"

	// CodeCapabilityViolation indicates a priority or chunk size outside the
	// adapter's advertised range, rejected before the adapter was invoked.
	CodeCapabilityViolation = "CAPABILITY_VIOLATION"

	// CodeJobNotFound indicates the job id is unknown to the registry.
	CodeJobNotFound = "JOB_NOT_FOUND"

	// CodeInvalidTransition indicates an illegal lifecycle transition.
	CodeInvalidTransition = "INVALID_TRANSITION"

	// CodeUnsupportedOperation indicates the adapter does not support the
	// requested operation (e.g., cancellation).
	CodeUnsupportedOperation = "UNSUPPORTED_OPERATION"

	// CodePersistenceFailure indicates a disk write failed. This is logged
	// and surfaced via health metrics, never returned to API callers.
	CodePersistenceFailure = "PERSISTENCE_FAILURE"
)

// Error is a coded registry error carrying an optional remediation hint and
// structured context for the HTTP error envelope.
type Error struct {
	Code    string
	Message string
	Hint    string
	Context map[string]any
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewValidationError reports bad submission or filter input.
func NewValidationError(message, hint string) *Error {
	return &Error{Code: CodeValidation, Message: message, Hint: hint}
}

// NewCapabilityViolation reports a value outside the adapter's advertised
// capability range.
func NewCapabilityViolation(message string, context map[string]any) *Error {
	return &Error{
		Code:    CodeCapabilityViolation,
		Message: message,
		Hint:    "inspect the farm capability descriptor via the farms endpoint",
		Context: context,
	}
}

// NewJobNotFound reports an unknown job id.
func NewJobNotFound(jobID string) *Error {
	return &Error{
		Code:    CodeJobNotFound,
		Message: fmt.Sprintf("job not found: %s", jobID),
		Context: map[string]any{"job_id": jobID},
	}
}

// NewInvalidTransition reports an illegal lifecycle edge. The job's status
// is left unchanged by the caller.
func NewInvalidTransition(jobID string, from, to JobStatus) *Error {
	return &Error{
		Code:    CodeInvalidTransition,
		Message: fmt.Sprintf("cannot transition job %s from %s to %s", jobID, from, to),
		Context: map[string]any{
			"job_id": jobID,
			"from":   string(from),
			"to":     string(to),
		},
	}
}

// NewUnsupportedOperation reports an operation the owning adapter does not
// advertise.
func NewUnsupportedOperation(message, hint string) *Error {
	return &Error{Code: CodeUnsupportedOperation, Message: message, Hint: hint}
}

// AsError extracts a coded registry error, if err carries one.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

func hasCode(err error, code string) bool {
	e, ok := AsError(err)
	return ok && e.Code == code
}

// IsValidation reports whether err is a validation rejection.
func IsValidation(err error) bool { return hasCode(err, CodeValidation) }

// IsCapabilityViolation reports whether err is a capability range rejection.
func IsCapabilityViolation(err error) bool { return hasCode(err, CodeCapabilityViolation) }

// IsJobNotFound reports whether err is an unknown-job rejection.
func IsJobNotFound(err error) bool { return hasCode(err, CodeJobNotFound) }

// IsInvalidTransition reports whether err is an illegal-transition rejection.
func IsInvalidTransition(err error) bool { return hasCode(err, CodeInvalidTransition) }

// IsUnsupportedOperation reports whether err is an unsupported-operation
// rejection.
func IsUnsupportedOperation(err error) bool { return hasCode(err, CodeUnsupportedOperation) }
