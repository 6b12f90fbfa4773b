// Package staticfile implements tracking.Provider over a JSON fixture
// file. It exists for local development and tests: the dashboard can run
// against a checked-in snapshot of tracking data, and outage behavior can
// be exercised by flipping the provider unavailable at runtime.
package staticfile

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/lodgepole/farmsight/pkg/tracking"
)

// Ensure Provider implements the tracking interface.
var _ tracking.Provider = (*Provider)(nil)

// fixture is the on-disk document shape.
type fixture struct {
	Projects []tracking.Project `json:"projects"`
	Versions []tracking.Version `json:"versions"`
}

type Config struct {
	// Path is the fixture file.
	Path string

	// Latency is added to every call to simulate a slow upstream.
	Latency time.Duration
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Path) == "" {
		return fmt.Errorf("fixture path is required")
	}
	return nil
}

// Provider serves tracking data from an in-memory copy of the fixture.
type Provider struct {
	latency time.Duration

	mu          sync.RWMutex
	projects    []tracking.Project
	versions    []tracking.Version
	unavailable bool
}

// New loads the fixture and returns a provider serving it.
func New(cfg Config) (*Provider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	b, err := os.ReadFile(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("read tracking fixture: %w", err)
	}
	var f fixture
	if err := json.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("parse tracking fixture: %w", err)
	}

	return &Provider{
		latency:  cfg.Latency,
		projects: f.Projects,
		versions: f.Versions,
	}, nil
}

// SetUnavailable toggles outage simulation. While unavailable every call
// fails with tracking.ErrUnavailable.
func (p *Provider) SetUnavailable(down bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.unavailable = down
}

func (p *Provider) Close() error { return nil }

func (p *Provider) ListProjects(ctx context.Context) ([]tracking.Project, error) {
	if err := p.wait(ctx, "ListProjects", ""); err != nil {
		return nil, err
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]tracking.Project, 0, len(p.projects))
	for _, proj := range p.projects {
		out = append(out, proj.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (p *Provider) FetchProject(ctx context.Context, name string) (*tracking.Project, error) {
	if err := p.wait(ctx, "FetchProject", name); err != nil {
		return nil, err
	}

	name = strings.TrimSpace(name)
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, proj := range p.projects {
		if proj.Name == name {
			out := proj.Clone()
			return &out, nil
		}
	}
	return nil, &tracking.TrackingError{Op: "FetchProject", Project: name, Err: tracking.ErrNotFound}
}

func (p *Provider) FetchVersions(ctx context.Context, query tracking.VersionQuery) ([]tracking.Version, error) {
	if err := p.wait(ctx, "FetchVersions", query.Project); err != nil {
		return nil, err
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]tracking.Version, 0)
	for _, v := range p.versions {
		if query.Project != "" && v.Project != query.Project {
			continue
		}
		if query.Episode != "" && v.Episode != query.Episode {
			continue
		}
		if query.Shot != "" && v.Shot != query.Shot {
			continue
		}
		if query.Status != "" && v.Status != query.Status {
			continue
		}
		out = append(out, v)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if query.Limit > 0 && len(out) > query.Limit {
		out = out[:query.Limit]
	}
	return out, nil
}

// wait applies the configured latency and the outage toggle, respecting
// context cancellation.
func (p *Provider) wait(ctx context.Context, op, project string) error {
	if p.latency > 0 {
		timer := time.NewTimer(p.latency)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return &tracking.TrackingError{Op: op, Project: project, Err: ctx.Err()}
		case <-timer.C:
		}
	} else if err := ctx.Err(); err != nil {
		return &tracking.TrackingError{Op: op, Project: project, Err: err}
	}

	p.mu.RLock()
	down := p.unavailable
	p.mu.RUnlock()
	if down {
		return &tracking.TrackingError{Op: op, Project: project, Err: tracking.ErrUnavailable}
	}
	return nil
}
