package tracking

import (
	"errors"
	"fmt"
)

// Sentinel errors for tracking operations.
var (
	// ErrNotFound indicates the requested project or version does not exist.
	ErrNotFound = errors.New("not found")

	// ErrUnavailable indicates the tracking service cannot be reached.
	ErrUnavailable = errors.New("tracking service unavailable")

	// ErrThrottled indicates the request was rate limited by the service.
	ErrThrottled = errors.New("request throttled")
)

// TrackingError wraps tracking failures with operation context.
type TrackingError struct {
	// Op is the operation that failed (e.g., "FetchProject").
	Op string

	// Project is the project name, if applicable.
	Project string

	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *TrackingError) Error() string {
	if e.Project != "" {
		return fmt.Sprintf("tracking %s: %s: %v", e.Op, e.Project, e.Err)
	}
	return fmt.Sprintf("tracking %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *TrackingError) Unwrap() error {
	return e.Err
}

// IsNotFound reports whether the error indicates missing data.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsUnavailable reports whether the error indicates a service outage.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}

// IsThrottled reports whether the error indicates rate limiting.
func IsThrottled(err error) bool {
	return errors.Is(err, ErrThrottled)
}
