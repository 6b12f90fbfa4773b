package ingest

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lodgepole/farmsight/pkg/events"
)

const (
	// DefaultHistoryLimit caps the in-memory run history.
	DefaultHistoryLimit = 200

	// DefaultListLimit is the page size when a caller does not ask for
	// one; MaxListLimit is the hard ceiling.
	DefaultListLimit = 20
	MaxListLimit     = 100

	// DefaultSummaryWindow is how many recent runs the rollup inspects.
	DefaultSummaryWindow = 10

	// runsEventBuffer is the per-subscriber queue size for the runs
	// broadcaster.
	runsEventBuffer = 32
)

// Config configures a Registry.
type Config struct {
	// HistoryLimit caps in-memory runs. Zero takes the default;
	// negative values are ignored with a warning.
	HistoryLimit int

	// Broadcaster receives run lifecycle events. When nil the registry
	// creates its own.
	Broadcaster *events.Broadcaster

	Logger *zap.Logger
}

// Stats is the registry's health snapshot.
type Stats struct {
	Runs            int        `json:"runs"`
	HistoryLimit    int        `json:"history_limit"`
	PrunedTotal     int        `json:"pruned_total"`
	LastPruneAt     *time.Time `json:"last_prune_at"`
	SubscriberCount int        `json:"subscriber_count"`
}

// Registry owns ingest-run state. All mutations are serialized through a
// single lock; events are published while the lock is held so subscribers
// observe runs in commit order. Runs are never persisted.
type Registry struct {
	logger       *zap.Logger
	broadcaster  *events.Broadcaster
	historyLimit int

	mu          sync.RWMutex
	runs        map[string]*RunRecord
	prunedTotal int
	lastPruneAt *time.Time
}

// New creates an empty run registry.
func New(cfg Config) *Registry {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	limit := cfg.HistoryLimit
	if limit < 0 {
		logger.Warn("ignoring negative run history limit", zap.Int("limit", limit))
		limit = 0
	}
	if limit == 0 {
		limit = DefaultHistoryLimit
	}
	broadcaster := cfg.Broadcaster
	if broadcaster == nil {
		broadcaster = events.NewBroadcaster("runs", runsEventBuffer, logger)
	}
	return &Registry{
		logger:       logger,
		broadcaster:  broadcaster,
		historyLimit: limit,
		runs:         make(map[string]*RunRecord),
	}
}

// Events returns the broadcaster carrying run lifecycle events.
func (r *Registry) Events() *events.Broadcaster {
	return r.broadcaster
}

// Start registers a new running ingest run and emits run.created. An
// empty id gets a generated one.
func (r *Registry) Start(runID string) (*RunRecord, error) {
	runID = strings.TrimSpace(runID)
	if runID == "" {
		runID = uuid.New().String()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.runs[runID]; ok {
		return nil, fmt.Errorf("run %s: %w", runID, ErrDuplicateRun)
	}

	rec := &RunRecord{
		RunID:     runID,
		Status:    RunRunning,
		StartedAt: time.Now().UTC(),
	}
	r.runs[runID] = rec

	victims := r.pruneLocked()
	r.publishLocked(EventRunCreated, rec.Clone())
	for _, v := range victims {
		r.publishLocked(EventRunRemoved, removedPayload{RunID: v.RunID})
	}

	r.logger.Info("ingest run started", zap.String("run_id", runID))
	out := rec.Clone()
	return &out, nil
}

// Complete records the run's report, marks it completed and emits
// run.updated. The report counts are normalized from its slices.
func (r *Registry) Complete(runID string, report Report) (*RunRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.runs[runID]
	if !ok {
		return nil, fmt.Errorf("run %s: %w", runID, ErrNotFound)
	}
	if rec.Status == RunCompleted {
		return nil, fmt.Errorf("run %s: %w", runID, ErrAlreadyCompleted)
	}

	report = report.Clone()
	report.ProcessedCount = len(report.Processed)
	report.InvalidCount = len(report.Invalid)

	now := time.Now().UTC()
	rec.Status = RunCompleted
	rec.CompletedAt = &now
	rec.Report = report

	r.publishLocked(EventRunUpdated, rec.Clone())
	r.logger.Info("ingest run completed",
		zap.String("run_id", runID),
		zap.Int("processed", report.ProcessedCount),
		zap.Int("invalid", report.InvalidCount))

	out := rec.Clone()
	return &out, nil
}

// Get returns one run by id.
func (r *Registry) Get(runID string) (*RunRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.runs[runID]
	if !ok {
		return nil, fmt.Errorf("run %s: %w", runID, ErrNotFound)
	}
	out := rec.Clone()
	return &out, nil
}

// List returns recent runs, most recently started first. A non-positive
// limit takes the default page size; limits above MaxListLimit are
// capped.
func (r *Registry) List(limit int) []RunRecord {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}

	out := r.recent()
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Summarize rolls up the most recent runs for the dashboard. A
// non-positive window takes the default.
func (r *Registry) Summarize(window int) Summary {
	if window <= 0 {
		window = DefaultSummaryWindow
	}
	runs := r.recent()
	if len(runs) > window {
		runs = runs[:window]
	}

	var summary Summary
	summary.Counts.Total = len(runs)
	for _, run := range runs {
		switch {
		case run.Succeeded():
			summary.Counts.Successful++
			if run.CompletedAt != nil &&
				(summary.LastSuccessAt == nil || run.CompletedAt.After(*summary.LastSuccessAt)) {
				t := *run.CompletedAt
				summary.LastSuccessAt = &t
			}
		case run.Failed():
			summary.Counts.Failed++
		case run.Status == RunRunning:
			summary.Counts.Running++
		}
	}

	// The streak counts consecutive failures from the newest run back,
	// stopping at the first success or still-running run.
	for _, run := range runs {
		if run.Succeeded() {
			break
		}
		if run.Failed() {
			summary.FailureStreak++
			continue
		}
		break
	}
	return summary
}

// Prune enforces the history limit immediately and returns the number of
// evicted runs. Start prunes automatically; this entry point exists for
// operators and tests.
func (r *Registry) Prune() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	victims := r.pruneLocked()
	for _, v := range victims {
		r.publishLocked(EventRunRemoved, removedPayload{RunID: v.RunID})
	}
	return len(victims)
}

// Stats returns registry counters.
func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return Stats{
		Runs:            len(r.runs),
		HistoryLimit:    r.historyLimit,
		PrunedTotal:     r.prunedTotal,
		LastPruneAt:     r.lastPruneAt,
		SubscriberCount: r.broadcaster.SubscriberCount(),
	}
}

// recent returns every run cloned and sorted most recently started first.
func (r *Registry) recent() []RunRecord {
	r.mu.RLock()
	out := make([]RunRecord, 0, len(r.runs))
	for _, rec := range r.runs {
		out = append(out, rec.Clone())
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].StartedAt.After(out[j].StartedAt)
		}
		return out[i].RunID < out[j].RunID
	})
	return out
}

// pruneLocked evicts runs until the history fits the limit, preferring
// completed runs over running ones and older starts over newer. Caller
// holds the write lock.
func (r *Registry) pruneLocked() []RunRecord {
	excess := len(r.runs) - r.historyLimit
	if excess <= 0 {
		return nil
	}

	all := make([]*RunRecord, 0, len(r.runs))
	for _, rec := range r.runs {
		all = append(all, rec)
	}
	sort.Slice(all, func(i, j int) bool {
		a, b := all[i], all[j]
		if ac, bc := a.Status == RunCompleted, b.Status == RunCompleted; ac != bc {
			return ac
		}
		if !a.StartedAt.Equal(b.StartedAt) {
			return a.StartedAt.Before(b.StartedAt)
		}
		return a.RunID < b.RunID
	})

	victims := make([]RunRecord, 0, excess)
	for _, rec := range all[:excess] {
		victims = append(victims, rec.Clone())
		delete(r.runs, rec.RunID)
	}

	now := time.Now().UTC()
	r.prunedTotal += len(victims)
	r.lastPruneAt = &now

	r.logger.Info("pruned run history",
		zap.Int("evicted", len(victims)),
		zap.Int("runs", len(r.runs)),
		zap.Int("history_limit", r.historyLimit))
	return victims
}

// publishLocked emits one event while holding the registry lock, keeping
// event order aligned with commit order.
func (r *Registry) publishLocked(kind string, payload any) {
	evt, err := events.New(kind, payload)
	if err != nil {
		r.logger.Warn("failed to encode event", zap.String("kind", kind), zap.Error(err))
		return
	}
	r.broadcaster.Publish(evt)
}
