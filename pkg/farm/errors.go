package farm

import (
	"errors"
	"fmt"
)

// Sentinel errors for adapter operations.
var (
	// ErrUnavailable indicates the farm service cannot be reached.
	ErrUnavailable = errors.New("farm unavailable")

	// ErrRejected indicates the farm refused the submission.
	ErrRejected = errors.New("submission rejected by farm")

	// ErrNotImplemented indicates the adapter does not implement the
	// requested operation.
	ErrNotImplemented = errors.New("operation not implemented by farm")

	// ErrConfiguration indicates the adapter is misconfigured.
	ErrConfiguration = errors.New("farm configuration error")

	// ErrUnknownFarm indicates no adapter is registered under the
	// requested farm type.
	ErrUnknownFarm = errors.New("unknown farm type")
)

// AdapterError wraps adapter failures with operation context.
type AdapterError struct {
	// Op is the operation that failed (e.g., "Submit", "CancelJob").
	Op string

	// Farm is the adapter type.
	Farm string

	// JobID is the farm job id, if applicable.
	JobID string

	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *AdapterError) Error() string {
	if e.JobID != "" {
		return fmt.Sprintf("%s %s: %s: %v", e.Farm, e.Op, e.JobID, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Farm, e.Op, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *AdapterError) Unwrap() error {
	return e.Err
}

// IsUnavailable reports whether the error indicates the farm is unreachable.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}

// IsRejected reports whether the error indicates the farm refused the job.
func IsRejected(err error) bool {
	return errors.Is(err, ErrRejected)
}

// IsNotImplemented reports whether the error indicates a missing operation.
func IsNotImplemented(err error) bool {
	return errors.Is(err, ErrNotImplemented)
}

// IsConfiguration reports whether the error indicates adapter misconfiguration.
func IsConfiguration(err error) bool {
	return errors.Is(err, ErrConfiguration)
}

// IsUnknownFarm reports whether the error indicates an unregistered farm type.
func IsUnknownFarm(err error) bool {
	return errors.Is(err, ErrUnknownFarm)
}
