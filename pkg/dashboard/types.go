package dashboard

import (
	"github.com/lodgepole/farmsight/pkg/readcache"
	"github.com/lodgepole/farmsight/pkg/tracking"
)

// Overview is the studio-wide totals row shown at the top of the
// dashboard. Shots are counted once per project.
type Overview struct {
	Projects int `json:"projects"`
	Shots    int `json:"shots"`
	Versions int `json:"versions"`
}

// ProjectSummary aggregates one project's tracking data.
type ProjectSummary struct {
	Project          string             `json:"project"`
	Label            string             `json:"label,omitempty"`
	Status           string             `json:"status,omitempty"`
	Episodes         int                `json:"episodes"`
	Shots            int                `json:"shots"`
	Versions         int                `json:"versions"`
	ApprovedVersions int                `json:"approved_versions"`
	StatusTotals     map[string]int     `json:"status_totals,omitempty"`
	LatestPublished  []tracking.Version `json:"latest_published"`
}

// Clone returns a deep copy of the summary.
func (s ProjectSummary) Clone() ProjectSummary {
	out := s
	if s.StatusTotals != nil {
		out.StatusTotals = make(map[string]int, len(s.StatusTotals))
		for k, v := range s.StatusTotals {
			out.StatusTotals[k] = v
		}
	}
	out.LatestPublished = tracking.CloneVersions(s.LatestPublished)
	return out
}

// EpisodeSummary aggregates one episode of a project.
type EpisodeSummary struct {
	Project          string             `json:"project"`
	Episode          string             `json:"episode"`
	Shots            int                `json:"shots"`
	Versions         int                `json:"versions"`
	ApprovedVersions int                `json:"approved_versions"`
	StatusCounts     map[string]int     `json:"status_counts,omitempty"`
	LatestPublished  []tracking.Version `json:"latest_published"`
}

// ConfigUpdate carries an admin cache-tuning request. Nil fields leave
// the current value in place; Flush clears every bucket before any new
// setting is applied.
type ConfigUpdate struct {
	TTLSeconds  *float64 `json:"ttl_seconds,omitempty"`
	MaxRecords  *int     `json:"max_records,omitempty"`
	MaxProjects *int     `json:"max_projects,omitempty"`
	Flush       bool     `json:"flush,omitempty"`
}

// CacheStatus reports the live cache configuration and per-bucket
// counters.
type CacheStatus struct {
	TTLSeconds  float64            `json:"ttl_seconds"`
	MaxRecords  int                `json:"max_records"`
	MaxProjects int                `json:"max_projects"`
	Buckets     []readcache.Status `json:"buckets"`
}
