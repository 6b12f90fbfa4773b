// Package archive defines the off-host snapshot archiver abstraction.
//
// An Archiver receives a copy of each job-store snapshot after it has been
// written to disk. Archival is strictly best effort: the store logs
// failures and never lets them affect a save.
package archive

import (
	"context"
	"errors"
	"fmt"
)

// Archiver copies job-store snapshots to an off-host location.
//
// Implementations must be safe for concurrent use and should honor the
// context deadline; the store bounds each upload with a timeout.
type Archiver interface {
	// ArchiveSnapshot writes one snapshot copy.
	ArchiveSnapshot(ctx context.Context, snapshot []byte) error

	// Close releases any resources held by the archiver.
	Close() error
}

// Sentinel errors for archive operations.
var (
	// ErrAccessDenied indicates insufficient permissions.
	ErrAccessDenied = errors.New("access denied")

	// ErrBucketNotFound indicates the bucket does not exist.
	ErrBucketNotFound = errors.New("bucket not found")

	// ErrInvalidCredentials indicates authentication failed.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrThrottled indicates the request was rate limited by the backend.
	ErrThrottled = errors.New("request throttled")

	// ErrUnavailable indicates the archive backend is unavailable.
	ErrUnavailable = errors.New("archive backend unavailable")
)

// ArchiveError wraps backend-specific errors with context.
type ArchiveError struct {
	// Op is the operation that failed (e.g., "ArchiveSnapshot").
	Op string

	// Backend is the backend type (e.g., "s3").
	Backend string

	// Bucket is the bucket name, if applicable.
	Bucket string

	// Key is the object key, if applicable.
	Key string

	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *ArchiveError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("%s %s: %s/%s: %v", e.Backend, e.Op, e.Bucket, e.Key, e.Err)
	}
	if e.Bucket != "" {
		return fmt.Sprintf("%s %s: %s: %v", e.Backend, e.Op, e.Bucket, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Backend, e.Op, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *ArchiveError) Unwrap() error {
	return e.Err
}

// IsAccessDenied returns true if the error indicates insufficient permissions.
func IsAccessDenied(err error) bool {
	return errors.Is(err, ErrAccessDenied)
}

// IsBucketNotFound returns true if the error indicates the bucket does not exist.
func IsBucketNotFound(err error) bool {
	return errors.Is(err, ErrBucketNotFound)
}

// IsInvalidCredentials returns true if the error indicates authentication failed.
func IsInvalidCredentials(err error) bool {
	return errors.Is(err, ErrInvalidCredentials)
}

// IsThrottled returns true if the error indicates the request was rate limited.
func IsThrottled(err error) bool {
	return errors.Is(err, ErrThrottled)
}

// IsUnavailable returns true if the error indicates the backend is unavailable.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}
