// Package output provides JSONL output for CLI commands.
//
// Output is structured as typed record envelopes containing jobs, runs,
// errors, and progress updates. Each line is a self-contained JSON
// object that can be parsed independently.
package output

import (
	"encoding/json"
	"errors"
	"time"
)

// Record type constants define the envelope types for JSONL output.
// These follow the pattern: farmsight.<type>.v<version>
const (
	// TypeJob identifies render job records.
	TypeJob = "farmsight.job.v1"

	// TypeRun identifies ingest run records.
	TypeRun = "farmsight.run.v1"

	// TypeError identifies error records.
	TypeError = "farmsight.error.v1"

	// TypeProgress identifies progress update records.
	TypeProgress = "farmsight.progress.v1"

	// TypeSummary identifies final summary records.
	TypeSummary = "farmsight.summary.v1"
)

// Record is the envelope for all JSONL output.
//
// Each line of JSONL output contains a Record with a type-specific
// payload in the Data field. The type field determines how to
// interpret the Data payload.
type Record struct {
	// Type identifies the record type (e.g., "farmsight.job.v1").
	Type string `json:"type"`

	// TS is the timestamp when the record was created (RFC3339Nano).
	TS time.Time `json:"ts"`

	// BatchID is the correlation ID for a submit batch, if any.
	BatchID string `json:"batch_id,omitempty"`

	// Farm identifies the farm adapter (e.g., "tractor", "deadline").
	Farm string `json:"farm,omitempty"`

	// Data contains the type-specific payload as raw JSON.
	Data json.RawMessage `json:"data"`
}

// JobRecord is the data payload for render jobs.
//
// This is the flat per-job shape emitted by `farmsight submit` as each
// submission lands and by `farmsight jobs list --format jsonl`.
type JobRecord struct {
	// JobID is the job identifier assigned by the registry.
	JobID string `json:"job_id"`

	// Status is the job lifecycle state (queued, running, ...).
	Status string `json:"status"`

	// Farm is the farm adapter the job was submitted to.
	Farm string `json:"farm"`

	// Scene is the scene file path submitted for rendering.
	Scene string `json:"scene"`

	// Frames is the frame range submitted with the job.
	Frames string `json:"frames"`

	// Priority is the effective priority, if recorded.
	Priority *int `json:"priority,omitempty"`

	// ChunkSize is the effective frames per task, if recorded.
	ChunkSize *int `json:"chunk_size,omitempty"`

	// User is the submitting user, if recorded.
	User string `json:"user,omitempty"`

	// Message is the latest status message, if any.
	Message string `json:"message,omitempty"`

	// CreatedAt is when the job entered the registry.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is when the job last changed.
	UpdatedAt time.Time `json:"updated_at"`
}

// RunRecord is the data payload for ingest runs, emitted by
// `farmsight runs list --format jsonl`.
type RunRecord struct {
	// RunID is the ingest run identifier.
	RunID string `json:"run_id"`

	// Status is the run state (running, completed).
	Status string `json:"status"`

	// StartedAt is when the run started.
	StartedAt time.Time `json:"started_at"`

	// CompletedAt is when the run completed, if it has.
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// ProcessedCount is the number of media files ingested.
	ProcessedCount int `json:"processed_count"`

	// InvalidCount is the number of media files rejected.
	InvalidCount int `json:"invalid_count"`
}

// ErrorRecord is the data payload for errors.
//
// Errors are emitted as records rather than failing the entire batch,
// allowing partial results when some submissions fail.
type ErrorRecord struct {
	// Code is a machine-readable error code.
	Code string `json:"code"`

	// Message is a human-readable error description.
	Message string `json:"message"`

	// Scene is the scene file related to this error, if applicable.
	Scene string `json:"scene,omitempty"`

	// Details contains additional error context.
	Details any `json:"details,omitempty"`
}

// Error codes for ErrorRecord.
const (
	// ErrCodeValidation indicates the submission failed validation.
	ErrCodeValidation = "VALIDATION"

	// ErrCodeCapability indicates the farm rejected an unsupported option.
	ErrCodeCapability = "CAPABILITY_VIOLATION"

	// ErrCodeUnavailable indicates the farm or service was unreachable.
	ErrCodeUnavailable = "UPSTREAM_UNAVAILABLE"

	// ErrCodeTimeout indicates an operation timed out.
	ErrCodeTimeout = "TIMEOUT"

	// ErrCodeInternal indicates an unexpected internal error.
	ErrCodeInternal = "INTERNAL"
)

// ProgressRecord is the data payload for progress updates.
//
// Progress records are emitted periodically during submit batches to
// provide visibility into long-running operations.
type ProgressRecord struct {
	// Phase indicates the current batch phase.
	Phase string `json:"phase"`

	// ScenesFound is the number of matching scenes seen so far.
	ScenesFound int64 `json:"scenes_found"`

	// JobsSubmitted is the number of jobs submitted so far.
	JobsSubmitted int64 `json:"jobs_submitted"`

	// Errors is the count of submission errors so far.
	Errors int64 `json:"errors"`

	// Scene is the scene currently being submitted, if applicable.
	Scene string `json:"scene,omitempty"`
}

// Progress phase constants.
const (
	// PhaseStarting indicates the batch is initializing.
	PhaseStarting = "starting"

	// PhaseScanning indicates scenes are being scanned.
	PhaseScanning = "scanning"

	// PhaseSubmitting indicates jobs are being submitted.
	PhaseSubmitting = "submitting"

	// PhaseComplete indicates the batch has finished.
	PhaseComplete = "complete"
)

// SummaryRecord is the data payload for final summaries.
//
// A summary record is emitted at the end of a submit batch with
// aggregate statistics.
type SummaryRecord struct {
	// ScenesMatched is the number of scenes matching the patterns.
	ScenesMatched int64 `json:"scenes_matched"`

	// JobsSubmitted is the number of jobs successfully submitted.
	JobsSubmitted int64 `json:"jobs_submitted"`

	// Errors is the count of submission errors.
	Errors int64 `json:"errors"`

	// Duration is the total batch duration.
	Duration time.Duration `json:"duration_ns"`

	// DurationHuman is a human-readable duration string.
	DurationHuman string `json:"duration"`
}

// Writer errors.
var (
	// ErrWriterClosed is returned when writing to a closed writer.
	ErrWriterClosed = errors.New("writer is closed")
)

// WriteError wraps errors that occur during write operations.
type WriteError struct {
	Op  string // Operation that failed (e.g., "marshal_data", "write")
	Err error  // Underlying error
}

func (e *WriteError) Error() string {
	return "output: " + e.Op + ": " + e.Err.Error()
}

func (e *WriteError) Unwrap() error {
	return e.Err
}
