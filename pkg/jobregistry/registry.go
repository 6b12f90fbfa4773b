package jobregistry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lodgepole/farmsight/pkg/events"
	"github.com/lodgepole/farmsight/pkg/farm"
)

const (
	// DefaultHistoryLimit caps the in-memory job history.
	DefaultHistoryLimit = 50

	// DefaultPersistDelay debounces snapshot writes after a mutation.
	DefaultPersistDelay = time.Second

	// jobsEventBuffer is the per-subscriber queue size for the registry's
	// own broadcaster.
	jobsEventBuffer = 64
)

// Config configures a Registry.
type Config struct {
	// HistoryLimit caps in-memory records. Zero takes the default;
	// negative values are ignored with a warning.
	HistoryLimit int

	// PersistDelay debounces snapshot writes. Zero takes the default; a
	// negative delay persists synchronously inside each mutation, which
	// is intended for tests.
	PersistDelay time.Duration

	// Store is the optional durable snapshot store. Without one the
	// registry runs memory-only.
	Store *Store

	// Farms resolves submission targets. Required.
	Farms *farm.Registry

	// Broadcaster receives job lifecycle events. When nil the registry
	// creates its own.
	Broadcaster *events.Broadcaster

	Logger *zap.Logger
}

// Health is the registry's health snapshot, including the store's when a
// store is attached.
type Health struct {
	HistorySize        int         `json:"history_size"`
	HistoryLimit       int         `json:"history_limit"`
	HistoryPrunedTotal int         `json:"history_pruned_total"`
	LastHistoryPruneAt *time.Time  `json:"last_history_prune_at"`
	LastHistoryPruned  []string    `json:"last_history_pruned"`
	Store              *StoreStats `json:"store,omitempty"`
}

// ListFilter narrows List results. Zero values match everything.
type ListFilter struct {
	Status JobStatus
	Farm   string
	Limit  int
}

// RefreshStats summarizes one Refresh pass over non-terminal jobs.
type RefreshStats struct {
	Checked int `json:"checked"`
	Updated int `json:"updated"`
	Failed  int `json:"failed"`
}

// Registry is the authoritative owner of render-job state.
//
// All mutations are serialized through a single registry lock; transitions
// on the same job are therefore linearizable. Events are published while
// the lock is held so subscribers observe transitions in commit order, and
// every event carries a snapshot taken at commit time.
type Registry struct {
	logger       *zap.Logger
	store        *Store
	farms        *farm.Registry
	broadcaster  *events.Broadcaster
	historyLimit int
	persistDelay time.Duration
	syncPersist  bool

	mu          sync.RWMutex
	jobs        map[string]*JobRecord
	prunedTotal int
	lastPruneAt *time.Time
	lastPruned  []string

	dirty     chan struct{}
	stop      chan struct{}
	done      chan struct{}
	loop      bool
	closeOnce sync.Once
}

// New creates a Registry, loading any persisted history from the store.
func New(cfg Config) (*Registry, error) {
	if cfg.Farms == nil {
		return nil, fmt.Errorf("farm registry is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	limit := cfg.HistoryLimit
	if limit < 0 {
		logger.Warn("invalid history limit, using default",
			zap.Int("history_limit", limit),
			zap.Int("default", DefaultHistoryLimit))
		limit = 0
	}
	if limit == 0 {
		limit = DefaultHistoryLimit
	}

	delay := cfg.PersistDelay
	syncPersist := false
	if delay < 0 {
		syncPersist = true
	} else if delay == 0 {
		delay = DefaultPersistDelay
	}

	broadcaster := cfg.Broadcaster
	if broadcaster == nil {
		broadcaster = events.NewBroadcaster("jobs", jobsEventBuffer, logger)
	}

	r := &Registry{
		logger:       logger,
		store:        cfg.Store,
		farms:        cfg.Farms,
		broadcaster:  broadcaster,
		historyLimit: limit,
		persistDelay: delay,
		syncPersist:  syncPersist,
		jobs:         make(map[string]*JobRecord),
		dirty:        make(chan struct{}, 1),
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
	}

	if r.store != nil {
		r.restore()
	}
	if r.store != nil && !r.syncPersist {
		r.loop = true
		go r.persistLoop()
	}
	return r, nil
}

// restore loads persisted records and enforces the history limit.
func (r *Registry) restore() {
	records := r.store.Load()

	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range records {
		rec := records[i]
		if strings.TrimSpace(rec.JobID) == "" || !rec.Status.Valid() {
			r.logger.Warn("skipping invalid persisted job record",
				zap.String("job_id", rec.JobID),
				zap.String("status", string(rec.Status)))
			continue
		}
		if _, exists := r.jobs[rec.JobID]; exists {
			r.logger.Warn("skipping duplicate persisted job record",
				zap.String("job_id", rec.JobID))
			continue
		}
		r.jobs[rec.JobID] = &rec
	}
	victims := r.pruneLocked()
	for _, v := range victims {
		r.publishLocked(EventJobRemoved, removedPayload{JobID: v.JobID})
	}
	r.logger.Info("restored job history",
		zap.Int("records", len(r.jobs)),
		zap.Int("pruned", len(victims)))
}

// Events returns the broadcaster carrying job lifecycle events.
func (r *Registry) Events() *events.Broadcaster {
	return r.broadcaster
}

// Farms returns the adapter registry submissions resolve against.
func (r *Registry) Farms() *farm.Registry {
	return r.farms
}

// Submit validates a request against the target farm's capability
// descriptor, submits it, and records the job with the status the farm
// reported, queued when the farm reported none.
//
// Capability violations are rejected before the adapter is invoked and
// cause no state change and no events.
func (r *Registry) Submit(ctx context.Context, req SubmissionRequest) (*JobRecord, error) {
	if strings.TrimSpace(req.Farm) == "" {
		return nil, NewValidationError("farm is required", "set farm to one of: "+strings.Join(r.farms.Types(), ", "))
	}
	if strings.TrimSpace(req.Scene) == "" {
		return nil, NewValidationError("scene is required", "set scene to the scene file path to render")
	}
	if strings.TrimSpace(req.Frames) == "" {
		return nil, NewValidationError("frames is required", "set frames to a frame range such as 1-240")
	}

	adapter, err := r.farms.Lookup(req.Farm)
	if err != nil {
		return nil, NewValidationError(
			fmt.Sprintf("unknown farm %q", req.Farm),
			"set farm to one of: "+strings.Join(r.farms.Types(), ", "))
	}

	caps := adapter.Capabilities()
	priority, err := caps.ResolvePriority(req.Priority)
	if err != nil {
		return nil, capabilityViolation(err)
	}
	chunk, err := caps.ResolveChunkSize(req.ChunkSize)
	if err != nil {
		return nil, capabilityViolation(err)
	}

	spec := farm.SubmissionSpec{
		Scene:     req.Scene,
		Frames:    req.Frames,
		Priority:  priority,
		ChunkSize: chunk,
		User:      req.User,
		Metadata:  req.Clone().Metadata,
	}
	result, err := adapter.Submit(ctx, spec)
	if err != nil {
		return nil, wrapAdapterErr("Submit", req.Farm, "", err)
	}

	jobID := strings.TrimSpace(result.JobID)
	if jobID == "" {
		jobID = uuid.New().String()
	}

	// Fast farms may report running or even completed straight from the
	// submission call; the record starts at whatever the farm said.
	status := StatusQueued
	if reported := JobStatus(strings.ToLower(strings.TrimSpace(result.Status))); reported != "" {
		if reported.Valid() {
			status = reported
		} else {
			r.logger.Warn("farm reported unknown initial status",
				zap.String("farm", req.Farm),
				zap.String("status", result.Status))
		}
	}

	now := time.Now().UTC()
	rec := &JobRecord{
		JobID:     jobID,
		Status:    status,
		Farm:      req.Farm,
		Request:   req.Clone(),
		Message:   result.Message,
		CreatedAt: now,
		UpdatedAt: now,
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.jobs[jobID]; exists {
		return nil, fmt.Errorf("farm %s returned duplicate job id %s", req.Farm, jobID)
	}
	r.jobs[jobID] = rec
	victims := r.pruneLocked()

	r.persistLocked()
	r.publishLocked(EventJobCreated, rec.Clone())
	for _, v := range victims {
		r.publishLocked(EventJobRemoved, removedPayload{JobID: v.JobID})
	}

	r.logger.Info("job submitted",
		zap.String("job_id", jobID),
		zap.String("farm", req.Farm),
		zap.String("scene", req.Scene),
		zap.Int("priority", priority),
		zap.Int("chunk_size", chunk))

	out := rec.Clone()
	return &out, nil
}

// UpdateStatus applies a lifecycle transition reported by an adapter or
// operator. Repeating the current status refreshes the message only.
func (r *Registry) UpdateStatus(jobID string, status JobStatus, message string) (*JobRecord, error) {
	if !status.Valid() {
		return nil, NewValidationError(
			fmt.Sprintf("invalid status %q", status),
			"status must be one of: queued, running, completed, failed, cancelled")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.jobs[jobID]
	if !ok {
		return nil, NewJobNotFound(jobID)
	}

	if rec.Status == status {
		if message != "" && message != rec.Message {
			rec.Message = message
			rec.UpdatedAt = time.Now().UTC()
			r.persistLocked()
			r.publishLocked(EventJobUpdated, rec.Clone())
		}
		out := rec.Clone()
		return &out, nil
	}

	if !CanTransition(rec.Status, status) {
		return nil, NewInvalidTransition(jobID, rec.Status, status)
	}

	rec.Status = status
	rec.Message = message
	rec.UpdatedAt = time.Now().UTC()

	r.persistLocked()
	r.publishLocked(EventJobUpdated, rec.Clone())

	r.logger.Info("job status updated",
		zap.String("job_id", jobID),
		zap.String("status", string(status)))

	out := rec.Clone()
	return &out, nil
}

// Cancel asks the owning farm to cancel the job and records the result.
// Farms that do not advertise cancellation support are rejected without
// invoking the adapter.
func (r *Registry) Cancel(ctx context.Context, jobID string) (*JobRecord, error) {
	r.mu.RLock()
	rec, ok := r.jobs[jobID]
	if !ok {
		r.mu.RUnlock()
		return nil, NewJobNotFound(jobID)
	}
	if rec.Status.IsTerminal() {
		status := rec.Status
		r.mu.RUnlock()
		return nil, NewInvalidTransition(jobID, status, StatusCancelled)
	}
	farmType := rec.Farm
	r.mu.RUnlock()

	adapter, err := r.farms.Lookup(farmType)
	if err != nil {
		return nil, NewUnsupportedOperation(
			fmt.Sprintf("farm %q is no longer registered", farmType),
			"the job can only be cancelled on the farm that owns it")
	}
	if !adapter.Capabilities().Cancellation.Supported {
		return nil, NewUnsupportedOperation(
			fmt.Sprintf("farm %q does not support cancellation", farmType),
			"cancel the job in the farm's own interface")
	}
	canceler, ok := adapter.(farm.JobCanceler)
	if !ok {
		return nil, NewUnsupportedOperation(
			fmt.Sprintf("farm %q does not implement cancellation", farmType),
			"cancel the job in the farm's own interface")
	}

	cancelled, err := canceler.CancelJob(ctx, jobID)
	if err != nil {
		return nil, wrapAdapterErr("CancelJob", farmType, jobID, err)
	}
	if !cancelled {
		return nil, &Error{
			Code:    CodeInvalidTransition,
			Message: fmt.Sprintf("job %s already finished on the farm", jobID),
			Hint:    "refresh the job to pick up its final status",
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok = r.jobs[jobID]
	if !ok {
		return nil, NewJobNotFound(jobID)
	}
	// The job may have reached a terminal state while the farm call was in
	// flight; the farm-side cancellation already happened, so report the
	// conflict rather than overwrite.
	if !CanTransition(rec.Status, StatusCancelled) {
		return nil, NewInvalidTransition(jobID, rec.Status, StatusCancelled)
	}

	rec.Status = StatusCancelled
	rec.Message = "cancelled"
	rec.UpdatedAt = time.Now().UTC()

	r.persistLocked()
	r.publishLocked(EventJobUpdated, rec.Clone())

	r.logger.Info("job cancelled",
		zap.String("job_id", jobID),
		zap.String("farm", farmType))

	out := rec.Clone()
	return &out, nil
}

// Get returns a copy of one job.
func (r *Registry) Get(jobID string) (*JobRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.jobs[jobID]
	if !ok {
		return nil, NewJobNotFound(jobID)
	}
	out := rec.Clone()
	return &out, nil
}

// List returns matching jobs sorted most recently updated first.
func (r *Registry) List(filter ListFilter) []JobRecord {
	r.mu.RLock()
	out := make([]JobRecord, 0, len(r.jobs))
	for _, rec := range r.jobs {
		if filter.Status != "" && rec.Status != filter.Status {
			continue
		}
		if filter.Farm != "" && rec.Farm != filter.Farm {
			continue
		}
		out = append(out, rec.Clone())
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].JobID < out[j].JobID
	})

	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out
}

// Prune enforces the history limit immediately and returns the number of
// evicted jobs. Submit prunes automatically; this entry point exists for
// operators and tests.
func (r *Registry) Prune() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	victims := r.pruneLocked()
	if len(victims) == 0 {
		return 0
	}
	r.persistLocked()
	for _, v := range victims {
		r.publishLocked(EventJobRemoved, removedPayload{JobID: v.JobID})
	}
	return len(victims)
}

// pruneLocked evicts jobs until the history fits the limit, preferring
// terminal jobs over active ones and older updates over newer. Caller
// holds the write lock.
func (r *Registry) pruneLocked() []JobRecord {
	excess := len(r.jobs) - r.historyLimit
	if excess <= 0 {
		return nil
	}

	all := make([]*JobRecord, 0, len(r.jobs))
	for _, rec := range r.jobs {
		all = append(all, rec)
	}
	sort.Slice(all, func(i, j int) bool {
		a, b := all[i], all[j]
		if at, bt := a.Status.IsTerminal(), b.Status.IsTerminal(); at != bt {
			return at
		}
		if !a.UpdatedAt.Equal(b.UpdatedAt) {
			return a.UpdatedAt.Before(b.UpdatedAt)
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.JobID < b.JobID
	})

	victims := make([]JobRecord, 0, excess)
	ids := make([]string, 0, excess)
	for _, rec := range all[:excess] {
		victims = append(victims, rec.Clone())
		ids = append(ids, rec.JobID)
		delete(r.jobs, rec.JobID)
	}

	now := time.Now().UTC()
	r.prunedTotal += len(victims)
	r.lastPruneAt = &now
	r.lastPruned = ids

	r.logger.Info("pruned job history",
		zap.Int("evicted", len(victims)),
		zap.Int("history_size", len(r.jobs)),
		zap.Int("history_limit", r.historyLimit))
	return victims
}

// RefreshJob polls the owning farm for the job's current status and applies
// it. Farms without status reporting leave the record unchanged.
func (r *Registry) RefreshJob(ctx context.Context, jobID string) (*JobRecord, error) {
	r.mu.RLock()
	rec, ok := r.jobs[jobID]
	if !ok {
		r.mu.RUnlock()
		return nil, NewJobNotFound(jobID)
	}
	current := rec.Clone()
	r.mu.RUnlock()

	if current.Status.IsTerminal() {
		return &current, nil
	}

	adapter, err := r.farms.Lookup(current.Farm)
	if err != nil {
		return &current, nil
	}
	reporter, ok := adapter.(farm.StatusReporter)
	if !ok {
		return &current, nil
	}

	report, err := reporter.JobStatus(ctx, jobID)
	if err != nil {
		return nil, wrapAdapterErr("JobStatus", current.Farm, jobID, err)
	}

	status := JobStatus(strings.ToLower(strings.TrimSpace(report.Status)))
	if !status.Valid() {
		r.logger.Warn("farm reported unknown status",
			zap.String("job_id", jobID),
			zap.String("farm", current.Farm),
			zap.String("status", report.Status))
		return &current, nil
	}

	updated, err := r.UpdateStatus(jobID, status, report.Message)
	if err != nil {
		// Another writer may have moved the job to a terminal state
		// between the poll and the update.
		if IsInvalidTransition(err) {
			return r.Get(jobID)
		}
		return nil, err
	}
	return updated, nil
}

// Refresh polls every non-terminal job once. Poll failures are logged and
// counted, never fatal to the pass.
func (r *Registry) Refresh(ctx context.Context) RefreshStats {
	r.mu.RLock()
	ids := make([]string, 0, len(r.jobs))
	for id, rec := range r.jobs {
		if !rec.Status.IsTerminal() {
			ids = append(ids, id)
		}
	}
	r.mu.RUnlock()
	sort.Strings(ids)

	var stats RefreshStats
	for _, id := range ids {
		if ctx.Err() != nil {
			break
		}
		before, err := r.Get(id)
		if err != nil {
			continue
		}
		after, err := r.RefreshJob(ctx, id)
		stats.Checked++
		if err != nil {
			stats.Failed++
			r.logger.Warn("job refresh failed", zap.String("job_id", id), zap.Error(err))
			continue
		}
		if after.Status != before.Status || after.Message != before.Message {
			stats.Updated++
		}
	}
	return stats
}

// Health returns registry counters plus store stats when attached.
func (r *Registry) Health() Health {
	r.mu.RLock()
	h := Health{
		HistorySize:        len(r.jobs),
		HistoryLimit:       r.historyLimit,
		HistoryPrunedTotal: r.prunedTotal,
		LastHistoryPruneAt: r.lastPruneAt,
		LastHistoryPruned:  append([]string(nil), r.lastPruned...),
	}
	r.mu.RUnlock()

	if r.store != nil {
		stats := r.store.Stats()
		h.Store = &stats
	}
	return h
}

// Flush writes the current state to the store synchronously.
func (r *Registry) Flush() error {
	if r.store == nil {
		return nil
	}
	r.mu.RLock()
	records := r.snapshotLocked()
	r.mu.RUnlock()
	return r.store.Save(records)
}

// Close stops the persistence loop and writes a final snapshot.
func (r *Registry) Close() error {
	r.closeOnce.Do(func() {
		close(r.stop)
	})
	if r.loop {
		<-r.done
	}
	return r.Flush()
}

// snapshotLocked returns the full history sorted oldest-created first for
// a stable snapshot layout. Caller holds at least a read lock.
func (r *Registry) snapshotLocked() []JobRecord {
	records := make([]JobRecord, 0, len(r.jobs))
	for _, rec := range r.jobs {
		records = append(records, rec.Clone())
	}
	sort.Slice(records, func(i, j int) bool {
		if !records[i].CreatedAt.Equal(records[j].CreatedAt) {
			return records[i].CreatedAt.Before(records[j].CreatedAt)
		}
		return records[i].JobID < records[j].JobID
	})
	return records
}

// persistLocked schedules a snapshot write after a mutation. Store errors
// never propagate to the mutating caller. Caller holds the write lock.
func (r *Registry) persistLocked() {
	if r.store == nil {
		return
	}
	if r.syncPersist {
		// Store failures are logged by the store and surfaced via Stats.
		_ = r.store.Save(r.snapshotLocked())
		return
	}
	select {
	case r.dirty <- struct{}{}:
	default:
	}
}

// persistLoop coalesces mutation signals into debounced snapshot writes.
func (r *Registry) persistLoop() {
	defer close(r.done)
	for {
		select {
		case <-r.stop:
			return
		case <-r.dirty:
			timer := time.NewTimer(r.persistDelay)
			select {
			case <-r.stop:
				timer.Stop()
				return
			case <-timer.C:
			}
			// Collapse signals that arrived during the debounce window;
			// the flush below snapshots the current state anyway.
			select {
			case <-r.dirty:
			default:
			}
			_ = r.Flush()
		}
	}
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

// capabilityViolation converts a farm capability error into the registry's
// error shape.
func capabilityViolation(err error) error {
	var capErr *farm.CapabilityError
	if errors.As(err, &capErr) {
		return NewCapabilityViolation(capErr.Error(), map[string]any{
			"field": capErr.Field,
			"value": capErr.Value,
		})
	}
	return NewCapabilityViolation(err.Error(), nil)
}

// wrapAdapterErr adds operation context to adapter failures unless the
// adapter already did.
func wrapAdapterErr(op, farmType, jobID string, err error) error {
	var already *farm.AdapterError
	if errors.As(err, &already) {
		return err
	}
	return &farm.AdapterError{Op: op, Farm: farmType, JobID: jobID, Err: err}
}
