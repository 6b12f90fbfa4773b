// Package mock provides an in-memory farm adapter for development and
// tests. It accepts every submission, assigns deterministic job IDs, and
// can be scripted to fail submissions, refuse cancellations, or walk a
// job through a sequence of status reports.
package mock

import (
	"context"
	"fmt"
	"sync"

	"github.com/lodgepole/farmsight/pkg/farm"
)

// Ensure Adapter implements the farm capability interfaces.
var (
	_ farm.Adapter        = (*Adapter)(nil)
	_ farm.JobCanceler    = (*Adapter)(nil)
	_ farm.StatusReporter = (*Adapter)(nil)
)

// Config tunes the scripted behavior. The zero value yields a permissive
// adapter that accepts everything and reports jobs as queued.
type Config struct {
	// Capabilities overrides the default descriptor when non-nil.
	Capabilities *farm.Capabilities

	// InitialStatus is reported for jobs with no status script.
	// Defaults to "queued".
	InitialStatus string

	// SubmitErr, when set, is returned by every Submit call.
	SubmitErr error

	// CancelErr, when set, is returned by every CancelJob call.
	CancelErr error

	// StatusErr, when set, is returned by every JobStatus call.
	StatusErr error

	// CancelAlreadyFinished makes CancelJob report that the job had
	// already finished on the farm (false result, nil error).
	CancelAlreadyFinished bool
}

// DefaultCapabilities is the descriptor used when Config.Capabilities is nil.
func DefaultCapabilities() farm.Capabilities {
	return farm.Capabilities{
		Priority:     farm.PriorityRange{Default: 50, Min: 1, Max: 100},
		Chunking:     farm.Chunking{Enabled: true, Min: 1, Max: 50, Default: 10},
		Cancellation: farm.Cancellation{Supported: true},
	}
}

// Adapter is a scripted in-memory farm.
type Adapter struct {
	cfg  Config
	caps farm.Capabilities

	mu        sync.Mutex
	seq       int
	submitted []farm.SubmissionSpec
	cancelled []string
	scripts   map[string][]farm.StatusReport
	cursor    map[string]int
}

// New creates a mock adapter.
func New(cfg Config) *Adapter {
	caps := DefaultCapabilities()
	if cfg.Capabilities != nil {
		caps = *cfg.Capabilities
	}
	if cfg.InitialStatus == "" {
		cfg.InitialStatus = "queued"
	}
	return &Adapter{
		cfg:     cfg,
		caps:    caps,
		scripts: make(map[string][]farm.StatusReport),
		cursor:  make(map[string]int),
	}
}

func (a *Adapter) Type() string { return "mock" }

func (a *Adapter) Capabilities() farm.Capabilities { return a.caps }

// Submit records the submission and assigns a sequential job ID.
func (a *Adapter) Submit(ctx context.Context, spec farm.SubmissionSpec) (*farm.SubmissionResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if a.cfg.SubmitErr != nil {
		return nil, a.cfg.SubmitErr
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.seq++
	a.submitted = append(a.submitted, spec)
	return &farm.SubmissionResult{
		JobID:   fmt.Sprintf("mock-%04d", a.seq),
		Status:  a.cfg.InitialStatus,
		Message: fmt.Sprintf("accepted %s", spec.Scene),
	}, nil
}

// CancelJob records the cancellation and returns the configured result.
func (a *Adapter) CancelJob(ctx context.Context, jobID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if a.cfg.CancelErr != nil {
		return false, a.cfg.CancelErr
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.cancelled = append(a.cancelled, jobID)
	return !a.cfg.CancelAlreadyFinished, nil
}

// JobStatus walks the job's status script one entry per call, sticking on
// the last entry once exhausted. Jobs without a script report the
// configured initial status.
func (a *Adapter) JobStatus(ctx context.Context, jobID string) (*farm.StatusReport, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if a.cfg.StatusErr != nil {
		return nil, a.cfg.StatusErr
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	script, ok := a.scripts[jobID]
	if !ok || len(script) == 0 {
		return &farm.StatusReport{Status: a.cfg.InitialStatus}, nil
	}
	i := a.cursor[jobID]
	if i >= len(script) {
		i = len(script) - 1
	} else {
		a.cursor[jobID] = i + 1
	}
	report := script[i]
	return &report, nil
}

// ScriptStatus sets the sequence of reports JobStatus returns for jobID.
func (a *Adapter) ScriptStatus(jobID string, reports ...farm.StatusReport) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.scripts[jobID] = reports
	a.cursor[jobID] = 0
}

// Submitted returns a copy of every spec accepted so far.
func (a *Adapter) Submitted() []farm.SubmissionSpec {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]farm.SubmissionSpec, len(a.submitted))
	copy(out, a.submitted)
	return out
}

// Cancelled returns the job IDs passed to CancelJob, in order.
func (a *Adapter) Cancelled() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, len(a.cancelled))
	copy(out, a.cancelled)
	return out
}
