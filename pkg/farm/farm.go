// Package farm defines abstractions for render-farm adapters.
//
// Adapters implement a minimal surface area focused on submission. Optional
// operations (cancellation, status reporting) are feature-detected through
// type assertions, and every adapter advertises a declarative capability
// descriptor that the job registry validates submissions against before the
// adapter is ever invoked.
package farm

import "context"

// Adapter abstracts one render-farm backend.
//
// Implementations should:
//   - Be safe for concurrent use
//   - Return stable, farm-unique job identifiers from Submit
//   - Advertise honest capability ranges; the registry rejects out-of-range
//     submissions without calling the adapter
type Adapter interface {
	// Type returns the farm identifier (e.g., "deadline", "tractor").
	Type() string

	// Capabilities returns the adapter's advertised capability descriptor.
	Capabilities() Capabilities

	// Submit sends a resolved submission to the farm and returns the
	// farm-assigned job reference.
	Submit(ctx context.Context, spec SubmissionSpec) (*SubmissionResult, error)
}

// Optional adapter capability interfaces.
//
// These are used for feature detection (type assertions). The core Adapter
// interface remains intentionally small.

// JobCanceler can cancel a previously submitted job.
//
// The boolean result reports whether the farm actually cancelled the job;
// false with a nil error means the job had already finished on the farm.
type JobCanceler interface {
	CancelJob(ctx context.Context, jobID string) (bool, error)
}

// StatusReporter can report the current farm-side status of a job.
type StatusReporter interface {
	JobStatus(ctx context.Context, jobID string) (*StatusReport, error)
}

// SubmissionSpec is a fully resolved submission handed to an adapter.
//
// Priority and ChunkSize have already been validated against the adapter's
// capability descriptor and defaulted where the caller omitted them.
// ChunkSize is zero when the adapter does not chunk.
type SubmissionSpec struct {
	Scene     string
	Frames    string
	Priority  int
	ChunkSize int
	User      string
	Metadata  map[string]string
}

// SubmissionResult is the farm's acknowledgement of a submission.
type SubmissionResult struct {
	// JobID is the farm-assigned job identifier.
	JobID string

	// Status is the initial lifecycle status reported by the farm,
	// normally "queued" or "running".
	Status string

	// Message is an optional human-readable detail.
	Message string
}

// StatusReport is a point-in-time status observation for one job.
type StatusReport struct {
	Status  string
	Message string
}
