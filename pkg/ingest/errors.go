package ingest

import "errors"

// Sentinel errors for run operations.
var (
	// ErrNotFound indicates the run id is unknown to the registry.
	ErrNotFound = errors.New("ingest run not found")

	// ErrDuplicateRun indicates a Start with an id already registered.
	ErrDuplicateRun = errors.New("ingest run already exists")

	// ErrAlreadyCompleted indicates a Complete on a finished run.
	ErrAlreadyCompleted = errors.New("ingest run already completed")
)

// IsNotFound reports whether err is an unknown-run rejection.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
