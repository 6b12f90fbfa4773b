// Package ingest tracks media ingest runs for the dashboard: which runs
// are in flight, what each run accepted and rejected, and a rollup of
// recent outcomes. Runs live in memory only; the ingest tooling that
// performs the actual file work reports into this registry over the API.
package ingest

import "time"

// RunStatus is the lifecycle status of an ingest run. A run is running
// from Start until Complete records its report.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
)

// MediaInfo identifies the shot a media file belongs to.
type MediaInfo struct {
	ShowCode   string `json:"show_code"`
	Episode    string `json:"episode"`
	Scene      string `json:"scene"`
	Shot       string `json:"shot"`
	Descriptor string `json:"descriptor"`
	Extension  string `json:"extension"`
}

// IngestedMedia is one file accepted by an ingest run.
type IngestedMedia struct {
	Path      string    `json:"path"`
	Bucket    string    `json:"bucket,omitempty"`
	Key       string    `json:"key,omitempty"`
	MediaInfo MediaInfo `json:"media_info"`
}

// InvalidMedia is one file rejected by an ingest run.
type InvalidMedia struct {
	Path   string `json:"path"`
	Reason string `json:"reason"`
}

// Report is the outcome of one ingest run. The counts are normalized
// from the slices when the report is recorded.
type Report struct {
	Processed      []IngestedMedia `json:"processed"`
	Invalid        []InvalidMedia  `json:"invalid"`
	ProcessedCount int             `json:"processed_count"`
	InvalidCount   int             `json:"invalid_count"`
}

// Clone returns a deep copy of the report.
func (r Report) Clone() Report {
	out := r
	if r.Processed != nil {
		out.Processed = append([]IngestedMedia(nil), r.Processed...)
	}
	if r.Invalid != nil {
		out.Invalid = append([]InvalidMedia(nil), r.Invalid...)
	}
	return out
}

// RunRecord is the registry's view of one ingest run.
type RunRecord struct {
	RunID       string     `json:"id"`
	Status      RunStatus  `json:"status"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at"`
	Report      Report     `json:"report"`
}

// Clone returns a deep copy of the record.
func (r RunRecord) Clone() RunRecord {
	out := r
	if r.CompletedAt != nil {
		t := *r.CompletedAt
		out.CompletedAt = &t
	}
	out.Report = r.Report.Clone()
	return out
}

// Succeeded reports whether the run completed without rejecting media.
func (r RunRecord) Succeeded() bool {
	return r.Status == RunCompleted && r.Report.InvalidCount == 0
}

// Failed reports whether the run completed but rejected media.
func (r RunRecord) Failed() bool {
	return r.Status == RunCompleted && r.Report.InvalidCount > 0
}

// SummaryCounts breaks recent runs down by outcome.
type SummaryCounts struct {
	Total      int `json:"total"`
	Successful int `json:"successful"`
	Failed     int `json:"failed"`
	Running    int `json:"running"`
}

// Summary is the dashboard rollup of recent ingest runs.
type Summary struct {
	Counts        SummaryCounts `json:"counts"`
	LastSuccessAt *time.Time    `json:"last_success_at"`
	FailureStreak int           `json:"failure_streak"`
}

// Event kinds published on the runs broadcaster.
const (
	EventRunCreated = "run.created"
	EventRunUpdated = "run.updated"
	EventRunRemoved = "run.removed"
)

// removedPayload is the run.removed event payload.
type removedPayload struct {
	RunID string `json:"id"`
}
