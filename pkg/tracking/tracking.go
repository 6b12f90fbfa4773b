// Package tracking defines abstractions for the studio's production
// tracking service (project and version lookups).
//
// Providers implement a minimal read-only surface. The dashboard never
// talks to a provider directly; lookups go through a read-through cache
// that absorbs provider slowness and outages.
package tracking

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Project is one show tracked by the studio.
type Project struct {
	// Name is the canonical project identifier (e.g., "wilderun").
	Name string `json:"name"`

	// Label is the display name.
	Label string `json:"label,omitempty"`

	// Status is the production status (e.g., "active", "archived").
	Status string `json:"status,omitempty"`

	// Episodes lists the project's episode codes in production order.
	Episodes []string `json:"episodes,omitempty"`
}

// Clone returns a deep copy of the project.
func (p Project) Clone() Project {
	out := p
	if p.Episodes != nil {
		out.Episodes = append([]string(nil), p.Episodes...)
	}
	return out
}

// Version is one published iteration of a shot.
type Version struct {
	ID        string    `json:"id"`
	Project   string    `json:"project"`
	Episode   string    `json:"episode,omitempty"`
	Shot      string    `json:"shot,omitempty"`
	Artist    string    `json:"artist,omitempty"`
	Status    string    `json:"status,omitempty"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}

// CloneVersions returns a copy of a version slice.
func CloneVersions(in []Version) []Version {
	if in == nil {
		return nil
	}
	out := make([]Version, len(in))
	copy(out, in)
	return out
}

// VersionQuery narrows a version lookup. Zero fields match everything.
type VersionQuery struct {
	Project string `json:"project"`
	Episode string `json:"episode,omitempty"`
	Shot    string `json:"shot,omitempty"`
	Status  string `json:"status,omitempty"`

	// Limit caps the result count. Zero means provider default.
	Limit int `json:"limit,omitempty"`
}

// Fingerprint returns a stable cache key for the query.
func (q VersionQuery) Fingerprint() string {
	var b strings.Builder
	b.WriteString("versions")
	fmt.Fprintf(&b, "|project=%s", q.Project)
	if q.Episode != "" {
		fmt.Fprintf(&b, "|episode=%s", q.Episode)
	}
	if q.Shot != "" {
		fmt.Fprintf(&b, "|shot=%s", q.Shot)
	}
	if q.Status != "" {
		fmt.Fprintf(&b, "|status=%s", q.Status)
	}
	if q.Limit > 0 {
		fmt.Fprintf(&b, "|limit=%d", q.Limit)
	}
	return b.String()
}

// Provider abstracts the production tracking service.
//
// Implementations should:
//   - Be safe for concurrent use
//   - Respect context cancellation on every call
//   - Return ErrNotFound / ErrUnavailable through TrackingError so callers
//     can distinguish missing data from outages
type Provider interface {
	// ListProjects returns every project visible to the service account.
	ListProjects(ctx context.Context) ([]Project, error)

	// FetchProject returns one project by canonical name.
	// Returns ErrNotFound if the project does not exist.
	FetchProject(ctx context.Context, name string) (*Project, error)

	// FetchVersions returns versions matching the query, newest first.
	FetchVersions(ctx context.Context, query VersionQuery) ([]Version, error)

	// Close releases any resources held by the provider.
	Close() error
}
