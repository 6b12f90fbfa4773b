// Package poller implements background status refresh for render jobs.
//
// The poller runs an interval loop. Each pass snapshots the registry's
// non-terminal jobs and polls their farms with bounded concurrency, so a
// slow farm delays a pass rather than piling up goroutines. Status changes
// are applied through the registry and therefore flow through the normal
// commit path (persistence, events).
package poller

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/lodgepole/farmsight/pkg/jobregistry"
)

// Config configures poller behavior.
type Config struct {
	// Interval is the delay between refresh passes.
	// Default: 15s
	Interval time.Duration

	// Workers is the number of concurrent status polls within a pass.
	// Default: 4
	Workers int

	// RateLimit is the maximum polls per second against each farm.
	// Zero means unlimited (the farm handles its own throttling).
	// Default: 0
	RateLimit float64
}

// DefaultConfig returns the default poller configuration.
func DefaultConfig() Config {
	return Config{
		Interval:  15 * time.Second,
		Workers:   4,
		RateLimit: 0,
	}
}

// Stats contains cumulative counters across all refresh passes.
type Stats struct {
	// Passes is the number of completed refresh passes.
	Passes int64 `json:"passes"`

	// Polled is the total number of status polls issued.
	Polled int64 `json:"polled"`

	// Transitioned is the number of polls that changed a job.
	Transitioned int64 `json:"transitioned"`

	// Errors is the number of failed polls.
	Errors int64 `json:"errors"`
}

// PassStats summarizes a single refresh pass.
type PassStats struct {
	Polled       int
	Transitioned int
	Errors       int
	Duration     time.Duration
}

// Poller drives periodic status refresh of non-terminal render jobs.
//
// Poller is safe for concurrent use, though a single Run loop is the
// intended mode of operation.
type Poller struct {
	registry *jobregistry.Registry
	logger   *zap.Logger
	config   Config

	// Per-farm rate limiters, created lazily on first poll.
	limiterMu sync.Mutex
	limiters  map[string]*rate.Limiter

	// Atomic counters for stats
	passes       atomic.Int64
	polled       atomic.Int64
	transitioned atomic.Int64
	errorCount   atomic.Int64
}

// New creates a poller for the given registry.
//
// Parameters:
//   - registry: Job registry whose non-terminal jobs are refreshed
//   - logger: Structured logger (nil for no logging)
//   - cfg: Poller configuration (use DefaultConfig() as base)
func New(registry *jobregistry.Registry, logger *zap.Logger, cfg Config) *Poller {
	if logger == nil {
		logger = zap.NewNop()
	}

	// Apply defaults for zero values
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultConfig().Interval
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultConfig().Workers
	}

	return &Poller{
		registry: registry,
		logger:   logger,
		config:   cfg,
		limiters: make(map[string]*rate.Limiter),
	}
}

// Run executes refresh passes until the context is cancelled.
//
// The first pass starts immediately; subsequent passes run every
// Interval. Run returns the context's error on shutdown.
func (p *Poller) Run(ctx context.Context) error {
	p.logger.Info("status poller started",
		zap.Duration("interval", p.config.Interval),
		zap.Int("workers", p.config.Workers),
		zap.Float64("rate_limit", p.config.RateLimit))

	ticker := time.NewTicker(p.config.Interval)
	defer ticker.Stop()

	for {
		p.RunOnce(ctx)

		select {
		case <-ctx.Done():
			p.logger.Info("status poller stopped", zap.Int64("passes", p.passes.Load()))
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunOnce executes a single refresh pass and returns its statistics.
//
// Poll failures are counted and logged, never fatal to the pass. A
// cancelled context stops the pass early with partial statistics.
func (p *Poller) RunOnce(ctx context.Context) PassStats {
	start := time.Now()
	jobs := p.activeJobs()

	var polled, transitioned, errCount atomic.Int64

	// Use a semaphore to limit concurrency
	sem := make(chan struct{}, p.config.Workers)
	var wg sync.WaitGroup

	for _, job := range jobs {
		// Acquire semaphore or bail on cancellation.
		// We must only release the semaphore if we successfully acquired it,
		// so we use a select that either acquires or returns early.
		select {
		case <-ctx.Done():
			// Context cancelled before we could acquire - exit the loop
			// (break here only exits select, so we rely on the ctx.Err check below)
		case sem <- struct{}{}:
			// Successfully acquired semaphore - proceed to launch goroutine
		}

		// Check if we exited due to cancellation
		if ctx.Err() != nil {
			break
		}

		wg.Add(1)
		go func(before jobregistry.JobRecord) {
			defer wg.Done()
			defer func() { <-sem }() // Release semaphore we acquired above

			if err := p.waitForRateLimit(ctx, before.Farm); err != nil {
				return
			}

			after, err := p.registry.RefreshJob(ctx, before.JobID)
			polled.Add(1)
			if err != nil {
				errCount.Add(1)
				p.logger.Warn("status poll failed",
					zap.String("job_id", before.JobID),
					zap.String("farm", before.Farm),
					zap.Error(err))
				return
			}
			if after.Status != before.Status || after.Message != before.Message {
				transitioned.Add(1)
			}
		}(job)
	}

	wg.Wait()

	// Fold the pass into the cumulative counters
	p.passes.Add(1)
	p.polled.Add(polled.Load())
	p.transitioned.Add(transitioned.Load())
	p.errorCount.Add(errCount.Load())

	stats := PassStats{
		Polled:       int(polled.Load()),
		Transitioned: int(transitioned.Load()),
		Errors:       int(errCount.Load()),
		Duration:     time.Since(start),
	}

	if stats.Polled > 0 {
		p.logger.Debug("refresh pass complete",
			zap.Int("polled", stats.Polled),
			zap.Int("transitioned", stats.Transitioned),
			zap.Int("errors", stats.Errors),
			zap.Duration("duration", stats.Duration))
	}
	return stats
}

// Stats returns cumulative counters across all passes.
func (p *Poller) Stats() Stats {
	return Stats{
		Passes:       p.passes.Load(),
		Polled:       p.polled.Load(),
		Transitioned: p.transitioned.Load(),
		Errors:       p.errorCount.Load(),
	}
}

// activeJobs snapshots the registry's non-terminal jobs.
func (p *Poller) activeJobs() []jobregistry.JobRecord {
	var active []jobregistry.JobRecord
	for _, job := range p.registry.List(jobregistry.ListFilter{}) {
		if !job.Status.IsTerminal() {
			active = append(active, job)
		}
	}
	return active
}

// waitForRateLimit blocks until the farm's rate limiter allows a poll.
// Returns immediately if rate limiting is disabled.
func (p *Poller) waitForRateLimit(ctx context.Context, farmType string) error {
	if p.config.RateLimit <= 0 {
		return nil
	}

	p.limiterMu.Lock()
	limiter, ok := p.limiters[farmType]
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(p.config.RateLimit), 1)
		p.limiters[farmType] = limiter
	}
	p.limiterMu.Unlock()

	return limiter.Wait(ctx)
}
