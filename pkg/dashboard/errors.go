package dashboard

import (
	"errors"
	"fmt"
)

// ValidationError rejects a dashboard or admin request before any state
// is touched.
type ValidationError struct {
	// Field is the offending parameter.
	Field string

	// Reason describes the constraint that was violated.
	Reason string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// IsValidation reports whether err is an input rejection.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
