// Package dashboard aggregates production tracking data behind
// read-through caches so the pipeline dashboard stays responsive while
// the tracking service is slow or down.
//
// Four cache buckets back the service:
//   - projects: the discovery list, one entry
//   - overview: studio-wide totals, one entry
//   - summaries: per-project aggregates, capped at max_projects
//   - versions: raw version queries, capped at max_records
//
// Evicting a project summary purges that project's version queries, so
// the distinct-project cap bounds both buckets.
package dashboard

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/lodgepole/farmsight/pkg/readcache"
	"github.com/lodgepole/farmsight/pkg/tracking"
)

// Defaults applied by New for zero config values.
const (
	DefaultTTL             = 15 * time.Minute
	DefaultMaxRecords      = 5000
	DefaultMaxProjects     = 25
	DefaultUpstreamTimeout = 10 * time.Second
)

// Bounds for admin updates.
const (
	maxTTL         = 24 * time.Hour
	maxRecordsCap  = 100000
	maxProjectsCap = 500
)

const (
	bucketProjects  = "projects"
	bucketOverview  = "overview"
	bucketSummaries = "summaries"
	bucketVersions  = "versions"

	projectsKey = "all"
	overviewKey = "current"

	latestPublishedLimit = 5
)

// Config configures the dashboard service.
type Config struct {
	// Provider is the tracking service boundary. Required.
	Provider tracking.Provider

	// TTL is the cache entry lifetime for every bucket.
	// Default: 15m
	TTL time.Duration

	// MaxRecords caps cached version queries.
	// Default: 5000
	MaxRecords int

	// MaxProjects caps distinct cached projects.
	// Default: 25
	MaxProjects int

	// UpstreamTimeout bounds one call into the provider.
	// Default: 10s
	UpstreamTimeout time.Duration

	// RateLimit is the maximum provider requests per second.
	// Zero means unlimited.
	RateLimit float64

	// Burst is the rate limiter burst size. Only consulted when
	// RateLimit is set. Default: 1
	Burst int

	Logger *zap.Logger
}

// Service answers dashboard queries from cache, reaching upstream only
// on misses and expiry. Expired entries are served as last-known-good
// when the upstream fetch fails.
type Service struct {
	provider tracking.Provider
	logger   *zap.Logger

	// Rate limiter (nil if unlimited)
	limiter *rate.Limiter

	projects  *readcache.Cache[[]tracking.Project]
	overview  *readcache.Cache[Overview]
	summaries *readcache.Cache[ProjectSummary]
	versions  *readcache.Cache[[]tracking.Version]

	// mu guards the mirror of the tunable settings reported by
	// CacheStatus; each bucket carries its own lock.
	mu          sync.Mutex
	ttl         time.Duration
	maxRecords  int
	maxProjects int
}

// New creates the dashboard service over a tracking provider.
func New(cfg Config) (*Service, error) {
	if cfg.Provider == nil {
		return nil, fmt.Errorf("tracking provider is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.MaxRecords <= 0 {
		cfg.MaxRecords = DefaultMaxRecords
	}
	if cfg.MaxProjects <= 0 {
		cfg.MaxProjects = DefaultMaxProjects
	}
	if cfg.UpstreamTimeout <= 0 {
		cfg.UpstreamTimeout = DefaultUpstreamTimeout
	}

	s := &Service{
		provider:    cfg.Provider,
		logger:      logger,
		ttl:         cfg.TTL,
		maxRecords:  cfg.MaxRecords,
		maxProjects: cfg.MaxProjects,
	}
	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	s.projects = readcache.New(readcache.Config[[]tracking.Project]{
		Name:         bucketProjects,
		TTL:          cfg.TTL,
		FetchTimeout: cfg.UpstreamTimeout,
		Clone:        cloneProjects,
		Logger:       logger,
	})
	s.overview = readcache.New(readcache.Config[Overview]{
		Name: bucketOverview,
		TTL:  cfg.TTL,
		// The overview fetch spans one upstream call per project, so it
		// gets more time than the single-call timeout.
		FetchTimeout: time.Minute,
		Logger:       logger,
	})
	s.versions = readcache.New(readcache.Config[[]tracking.Version]{
		Name:         bucketVersions,
		TTL:          cfg.TTL,
		MaxEntries:   cfg.MaxRecords,
		FetchTimeout: cfg.UpstreamTimeout,
		Clone:        tracking.CloneVersions,
		Logger:       logger,
	})
	s.summaries = readcache.New(readcache.Config[ProjectSummary]{
		Name:         bucketSummaries,
		TTL:          cfg.TTL,
		MaxEntries:   cfg.MaxProjects,
		FetchTimeout: cfg.UpstreamTimeout,
		Clone:        ProjectSummary.Clone,
		OnEvict:      s.onSummaryEvicted,
		Logger:       logger,
	})
	return s, nil
}

// DiscoverProjects returns every tracked project, sorted by name.
func (s *Service) DiscoverProjects(ctx context.Context) ([]tracking.Project, error) {
	return s.projects.GetOrFetch(ctx, projectsKey, func(fctx context.Context) ([]tracking.Project, error) {
		if err := s.waitUpstream(fctx); err != nil {
			return nil, err
		}
		projects, err := s.provider.ListProjects(fctx)
		if err != nil {
			return nil, err
		}
		sort.Slice(projects, func(i, j int) bool { return projects[i].Name < projects[j].Name })
		return projects, nil
	})
}

// OverallStatus returns studio-wide totals across every project.
func (s *Service) OverallStatus(ctx context.Context) (Overview, error) {
	return s.overview.GetOrFetch(ctx, overviewKey, func(fctx context.Context) (Overview, error) {
		projects, err := s.DiscoverProjects(fctx)
		if err != nil {
			return Overview{}, err
		}
		shots := make(map[string]struct{})
		total := 0
		for _, proj := range projects {
			versions, err := s.versionsFor(fctx, tracking.VersionQuery{Project: proj.Name})
			if err != nil {
				return Overview{}, err
			}
			total += len(versions)
			for _, v := range versions {
				if v.Shot != "" {
					shots[proj.Name+"/"+v.Shot] = struct{}{}
				}
			}
		}
		return Overview{Projects: len(projects), Shots: len(shots), Versions: total}, nil
	})
}

// ProjectSummary aggregates tracking data for one project.
func (s *Service) ProjectSummary(ctx context.Context, project string) (ProjectSummary, error) {
	project = strings.TrimSpace(project)
	if project == "" {
		return ProjectSummary{}, &ValidationError{Field: "project", Reason: "must not be empty"}
	}
	return s.summaries.GetOrFetch(ctx, project, func(fctx context.Context) (ProjectSummary, error) {
		return s.buildProjectSummary(fctx, project)
	})
}

func (s *Service) buildProjectSummary(ctx context.Context, project string) (ProjectSummary, error) {
	if err := s.waitUpstream(ctx); err != nil {
		return ProjectSummary{}, err
	}
	proj, err := s.provider.FetchProject(ctx, project)
	if err != nil {
		if tracking.IsNotFound(err) {
			// The project is gone upstream; drop anything cached for it
			// so the stale fallback cannot resurrect it.
			s.summaries.Invalidate(project)
			s.purgeProjectVersions(project)
		}
		return ProjectSummary{}, err
	}

	versions, err := s.versionsFor(ctx, tracking.VersionQuery{Project: project})
	if err != nil {
		return ProjectSummary{}, err
	}

	episodes := make(map[string]struct{})
	for _, ep := range proj.Episodes {
		episodes[ep] = struct{}{}
	}
	for _, v := range versions {
		if ep := episodeOf(v); ep != "" {
			episodes[ep] = struct{}{}
		}
	}
	tally := tallyVersions(versions)

	return ProjectSummary{
		Project:          proj.Name,
		Label:            proj.Label,
		Status:           proj.Status,
		Episodes:         len(episodes),
		Shots:            len(tally.shots),
		Versions:         len(versions),
		ApprovedVersions: tally.approved,
		StatusTotals:     tally.totals,
		LatestPublished:  latestPublished(versions, latestPublishedLimit),
	}, nil
}

// EpisodeSummary aggregates tracking data for one episode of a project.
func (s *Service) EpisodeSummary(ctx context.Context, project, episode string) (EpisodeSummary, error) {
	project = strings.TrimSpace(project)
	episode = strings.TrimSpace(episode)
	if project == "" {
		return EpisodeSummary{}, &ValidationError{Field: "project", Reason: "must not be empty"}
	}
	if episode == "" {
		return EpisodeSummary{}, &ValidationError{Field: "episode", Reason: "must not be empty"}
	}

	projects, err := s.DiscoverProjects(ctx)
	if err != nil {
		return EpisodeSummary{}, err
	}
	var proj *tracking.Project
	for i := range projects {
		if projects[i].Name == project {
			proj = &projects[i]
			break
		}
	}
	if proj == nil {
		return EpisodeSummary{}, fmt.Errorf("project %s: %w", project, tracking.ErrNotFound)
	}

	versions, err := s.versionsFor(ctx, tracking.VersionQuery{Project: project, Episode: episode})
	if err != nil {
		return EpisodeSummary{}, err
	}
	if len(versions) == 0 && !containsEpisode(proj.Episodes, episode) {
		return EpisodeSummary{}, fmt.Errorf("episode %s/%s: %w", project, episode, tracking.ErrNotFound)
	}

	tally := tallyVersions(versions)
	return EpisodeSummary{
		Project:          project,
		Episode:          episode,
		Shots:            len(tally.shots),
		Versions:         len(versions),
		ApprovedVersions: tally.approved,
		StatusCounts:     tally.totals,
		LatestPublished:  latestPublished(versions, latestPublishedLimit),
	}, nil
}

// versionsFor reads a version query through the cache.
func (s *Service) versionsFor(ctx context.Context, query tracking.VersionQuery) ([]tracking.Version, error) {
	return s.versions.GetOrFetch(ctx, query.Fingerprint(), func(fctx context.Context) ([]tracking.Version, error) {
		if err := s.waitUpstream(fctx); err != nil {
			return nil, err
		}
		return s.provider.FetchVersions(fctx, query)
	})
}

// waitUpstream blocks until the rate limiter allows an upstream call.
func (s *Service) waitUpstream(ctx context.Context) error {
	if s.limiter == nil {
		return nil
	}
	return s.limiter.Wait(ctx)
}

// onSummaryEvicted keeps the versions bucket consistent with the
// distinct-project cap.
func (s *Service) onSummaryEvicted(project string) {
	removed := s.purgeProjectVersions(project)
	if removed > 0 {
		s.logger.Debug("purged version queries for evicted project",
			zap.String("project", project),
			zap.Int("removed", removed))
	}
}

// purgeProjectVersions removes every cached version query for a project.
func (s *Service) purgeProjectVersions(project string) int {
	prefix := tracking.VersionQuery{Project: project}.Fingerprint()
	return s.versions.InvalidateMatching(func(key string) bool {
		return key == prefix || strings.HasPrefix(key, prefix+"|")
	})
}

type versionTally struct {
	shots    map[string]struct{}
	totals   map[string]int
	approved int
}

func tallyVersions(versions []tracking.Version) versionTally {
	t := versionTally{shots: make(map[string]struct{}), totals: make(map[string]int)}
	for _, v := range versions {
		if v.Shot != "" {
			t.shots[v.Shot] = struct{}{}
		}
		if st := normalizeStatus(v.Status); st != "" {
			t.totals[st]++
		}
		if isApproved(v.Status) {
			t.approved++
		}
	}
	return t
}

// episodeOf derives the episode for a version, falling back to the shot
// name prefix (e.g. "ep01_sc010") when tracking leaves the field empty.
func episodeOf(v tracking.Version) string {
	if ep := strings.TrimSpace(v.Episode); ep != "" {
		return ep
	}
	if i := strings.Index(v.Shot, "_"); i > 0 {
		return v.Shot[:i]
	}
	return ""
}

func containsEpisode(episodes []string, episode string) bool {
	for _, ep := range episodes {
		if ep == episode {
			return true
		}
	}
	return false
}

func normalizeStatus(status string) string {
	return strings.ToLower(strings.TrimSpace(status))
}

func statusHasPrefix(status string, prefixes ...string) bool {
	st := normalizeStatus(status)
	if st == "" {
		return false
	}
	for _, p := range prefixes {
		if strings.HasPrefix(st, p) {
			return true
		}
	}
	return false
}

func isApproved(status string) bool { return statusHasPrefix(status, "apr") }

func isPublished(status string) bool { return statusHasPrefix(status, "pub", "final") }

// latestPublished returns the newest published versions, capped at n.
func latestPublished(versions []tracking.Version, n int) []tracking.Version {
	published := make([]tracking.Version, 0, n)
	for _, v := range versions {
		if isPublished(v.Status) {
			published = append(published, v)
		}
	}
	sort.SliceStable(published, func(i, j int) bool {
		return published[i].CreatedAt.After(published[j].CreatedAt)
	})
	if len(published) > n {
		published = published[:n]
	}
	return published
}

func cloneProjects(in []tracking.Project) []tracking.Project {
	if in == nil {
		return nil
	}
	out := make([]tracking.Project, len(in))
	for i := range in {
		out[i] = in[i].Clone()
	}
	return out
}
