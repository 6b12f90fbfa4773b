// Package jobregistry owns authoritative render-job state: the lifecycle
// state machine, the in-memory history cap, durable snapshots through an
// attached store, and event emission for every transition.
package jobregistry

import "time"

// JobStatus is the lifecycle status of a render job.
//
// NOTE: These values are persisted in the snapshot file and are part of the
// stable on-disk contract.
type JobStatus string

const (
	StatusQueued    JobStatus = "queued"
	StatusRunning   JobStatus = "running"
	StatusCompleted JobStatus = "completed"
	StatusFailed    JobStatus = "failed"
	StatusCancelled JobStatus = "cancelled"
)

// Valid reports whether the status is one of the known lifecycle values.
func (s JobStatus) Valid() bool {
	switch s {
	case StatusQueued, StatusRunning, StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// IsTerminal reports whether the status accepts no further transitions.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// transitions is the job lifecycle state machine. Cancellation edges are
// additionally gated on adapter capability at the call site.
var transitions = map[JobStatus]map[JobStatus]bool{
	StatusQueued: {
		StatusRunning:   true,
		StatusFailed:    true,
		StatusCancelled: true,
	},
	StatusRunning: {
		StatusCompleted: true,
		StatusFailed:    true,
		StatusCancelled: true,
	},
}

// CanTransition reports whether from -> to is a legal lifecycle edge.
// Terminal states accept nothing; self-transitions are not edges.
func CanTransition(from, to JobStatus) bool {
	return transitions[from][to]
}

// SubmissionRequest is the submission payload captured on a JobRecord.
//
// Priority and ChunkSize are pointers so that "omitted" is distinguishable
// from zero: omitted values take the adapter's advertised defaults.
type SubmissionRequest struct {
	Farm      string            `json:"farm"`
	Scene     string            `json:"scene"`
	Frames    string            `json:"frames"`
	Priority  *int              `json:"priority,omitempty"`
	ChunkSize *int              `json:"chunk_size,omitempty"`
	User      string            `json:"user,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Clone returns a deep copy of the request.
func (r SubmissionRequest) Clone() SubmissionRequest {
	out := r
	if r.Priority != nil {
		p := *r.Priority
		out.Priority = &p
	}
	if r.ChunkSize != nil {
		c := *r.ChunkSize
		out.ChunkSize = &c
	}
	if r.Metadata != nil {
		out.Metadata = make(map[string]string, len(r.Metadata))
		for k, v := range r.Metadata {
			out.Metadata[k] = v
		}
	}
	return out
}

// JobRecord is the authoritative state of one render submission.
//
// The schema is designed for backward-compatible extension (additive
// fields). JobID is immutable and unique for the lifetime of the registry
// and the persistent store; UpdatedAt is always >= CreatedAt.
type JobRecord struct {
	JobID     string            `json:"job_id"`
	Status    JobStatus         `json:"status"`
	Farm      string            `json:"farm"`
	Request   SubmissionRequest `json:"request"`
	Message   string            `json:"message,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// Clone returns a deep copy of the record.
func (r JobRecord) Clone() JobRecord {
	out := r
	out.Request = r.Request.Clone()
	return out
}

// Event kinds published on the jobs broadcaster.
const (
	EventJobCreated = "job.created"
	EventJobUpdated = "job.updated"
	EventJobRemoved = "job.removed"
)

// removedPayload is the job.removed event payload. Evicted jobs carry only
// their identifier; the full record is intentionally not re-broadcast.
type removedPayload struct {
	JobID string `json:"job_id"`
}
