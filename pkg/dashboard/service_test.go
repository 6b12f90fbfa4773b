package dashboard

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lodgepole/farmsight/pkg/tracking"
	"github.com/lodgepole/farmsight/pkg/tracking/staticfile"
)

const dashboardFixture = `{
  "projects": [
    {"name": "wilderun", "label": "Wilderun", "status": "active", "episodes": ["ep01", "ep02"]},
    {"name": "ashfall", "label": "Ashfall", "status": "archived", "episodes": ["ep01"]}
  ],
  "versions": [
    {"id": "v-101", "project": "wilderun", "episode": "ep01", "shot": "sc010", "artist": "rvargas", "status": "published", "created_at": "2026-02-10T10:00:00Z"},
    {"id": "v-102", "project": "wilderun", "episode": "ep01", "shot": "sc010", "artist": "rvargas", "status": "approved", "created_at": "2026-02-11T10:00:00Z"},
    {"id": "v-103", "project": "wilderun", "episode": "ep01", "shot": "sc020", "artist": "mchen", "status": "review", "created_at": "2026-02-12T10:00:00Z"},
    {"id": "v-104", "project": "wilderun", "episode": "ep02", "shot": "sc030", "artist": "mchen", "status": "published", "created_at": "2026-02-13T10:00:00Z"},
    {"id": "v-201", "project": "ashfall", "episode": "ep01", "shot": "sc100", "artist": "kito", "status": "approved", "created_at": "2026-02-14T10:00:00Z"}
  ]
}`

// countingProvider wraps the fixture provider to observe upstream load.
type countingProvider struct {
	*staticfile.Provider

	mu           sync.Mutex
	listCalls    int
	projectCalls int
	versionCalls int
}

func (p *countingProvider) ListProjects(ctx context.Context) ([]tracking.Project, error) {
	p.mu.Lock()
	p.listCalls++
	p.mu.Unlock()
	return p.Provider.ListProjects(ctx)
}

func (p *countingProvider) FetchProject(ctx context.Context, name string) (*tracking.Project, error) {
	p.mu.Lock()
	p.projectCalls++
	p.mu.Unlock()
	return p.Provider.FetchProject(ctx, name)
}

func (p *countingProvider) FetchVersions(ctx context.Context, query tracking.VersionQuery) ([]tracking.Version, error) {
	p.mu.Lock()
	p.versionCalls++
	p.mu.Unlock()
	return p.Provider.FetchVersions(ctx, query)
}

func (p *countingProvider) counts() (list, project, version int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.listCalls, p.projectCalls, p.versionCalls
}

func newTestService(t *testing.T, cfg Config) (*Service, *countingProvider) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tracking.json")
	require.NoError(t, os.WriteFile(path, []byte(dashboardFixture), 0o644))
	inner, err := staticfile.New(staticfile.Config{Path: path})
	require.NoError(t, err)

	provider := &countingProvider{Provider: inner}
	cfg.Provider = provider
	if cfg.TTL == 0 {
		cfg.TTL = time.Minute
	}
	svc, err := New(cfg)
	require.NoError(t, err)
	return svc, provider
}

func TestNewRequiresProvider(t *testing.T) {
	_, err := New(Config{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tracking provider is required")
}

func TestDiscoverProjectsSortedAndCached(t *testing.T) {
	svc, provider := newTestService(t, Config{})
	ctx := context.Background()

	projects, err := svc.DiscoverProjects(ctx)
	require.NoError(t, err)
	require.Len(t, projects, 2)
	assert.Equal(t, "ashfall", projects[0].Name)
	assert.Equal(t, "wilderun", projects[1].Name)

	_, err = svc.DiscoverProjects(ctx)
	require.NoError(t, err)
	list, _, _ := provider.counts()
	assert.Equal(t, 1, list, "second call should be served from cache")
}

func TestOverallStatusTotals(t *testing.T) {
	svc, provider := newTestService(t, Config{})
	ctx := context.Background()

	overview, err := svc.OverallStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, Overview{Projects: 2, Shots: 4, Versions: 5}, overview)

	_, err = svc.OverallStatus(ctx)
	require.NoError(t, err)
	_, _, versions := provider.counts()
	assert.Equal(t, 2, versions, "overview must be cached, not recomputed")
}

func TestProjectSummary(t *testing.T) {
	svc, _ := newTestService(t, Config{})

	summary, err := svc.ProjectSummary(context.Background(), "wilderun")
	require.NoError(t, err)

	assert.Equal(t, "wilderun", summary.Project)
	assert.Equal(t, "Wilderun", summary.Label)
	assert.Equal(t, "active", summary.Status)
	assert.Equal(t, 2, summary.Episodes)
	assert.Equal(t, 3, summary.Shots)
	assert.Equal(t, 4, summary.Versions)
	assert.Equal(t, 1, summary.ApprovedVersions)
	assert.Equal(t, map[string]int{"published": 2, "approved": 1, "review": 1}, summary.StatusTotals)

	require.Len(t, summary.LatestPublished, 2)
	assert.Equal(t, "v-104", summary.LatestPublished[0].ID)
	assert.Equal(t, "v-101", summary.LatestPublished[1].ID)
}

func TestProjectSummaryCached(t *testing.T) {
	svc, provider := newTestService(t, Config{})
	ctx := context.Background()

	_, err := svc.ProjectSummary(ctx, "wilderun")
	require.NoError(t, err)
	_, err = svc.ProjectSummary(ctx, "wilderun")
	require.NoError(t, err)

	_, project, version := provider.counts()
	assert.Equal(t, 1, project)
	assert.Equal(t, 1, version)
}

func TestProjectSummaryUnknownProject(t *testing.T) {
	svc, _ := newTestService(t, Config{})

	_, err := svc.ProjectSummary(context.Background(), "duskwatch")
	require.Error(t, err)
	assert.True(t, tracking.IsNotFound(err))
}

func TestProjectSummaryRejectsEmptyName(t *testing.T) {
	svc, _ := newTestService(t, Config{})

	_, err := svc.ProjectSummary(context.Background(), "  ")
	require.Error(t, err)
	assert.True(t, IsValidation(err))
}

func TestEpisodeSummary(t *testing.T) {
	svc, _ := newTestService(t, Config{})

	summary, err := svc.EpisodeSummary(context.Background(), "wilderun", "ep01")
	require.NoError(t, err)

	assert.Equal(t, "wilderun", summary.Project)
	assert.Equal(t, "ep01", summary.Episode)
	assert.Equal(t, 2, summary.Shots)
	assert.Equal(t, 3, summary.Versions)
	assert.Equal(t, 1, summary.ApprovedVersions)
	assert.Equal(t, map[string]int{"published": 1, "approved": 1, "review": 1}, summary.StatusCounts)
	require.Len(t, summary.LatestPublished, 1)
	assert.Equal(t, "v-101", summary.LatestPublished[0].ID)
}

func TestEpisodeSummaryUnknownEpisode(t *testing.T) {
	svc, _ := newTestService(t, Config{})

	_, err := svc.EpisodeSummary(context.Background(), "wilderun", "ep09")
	require.Error(t, err)
	assert.True(t, tracking.IsNotFound(err))
}

func TestEpisodeSummaryUnknownProject(t *testing.T) {
	svc, _ := newTestService(t, Config{})

	_, err := svc.EpisodeSummary(context.Background(), "duskwatch", "ep01")
	require.Error(t, err)
	assert.True(t, tracking.IsNotFound(err))
}

func TestStaleSummaryServedDuringOutage(t *testing.T) {
	svc, provider := newTestService(t, Config{TTL: 30 * time.Millisecond})
	ctx := context.Background()

	fresh, err := svc.ProjectSummary(ctx, "wilderun")
	require.NoError(t, err)

	time.Sleep(60 * time.Millisecond)
	provider.SetUnavailable(true)

	stale, err := svc.ProjectSummary(ctx, "wilderun")
	require.NoError(t, err, "expired summary should be served when upstream is down")
	assert.Equal(t, fresh, stale)
	assert.GreaterOrEqual(t, svc.summaries.Status().StaleServes, int64(1))
}

func TestOutageWithColdCacheFails(t *testing.T) {
	svc, provider := newTestService(t, Config{})
	provider.SetUnavailable(true)

	_, err := svc.ProjectSummary(context.Background(), "wilderun")
	require.Error(t, err)
	assert.True(t, tracking.IsUnavailable(err))

	_, err = svc.OverallStatus(context.Background())
	require.Error(t, err)
	assert.True(t, tracking.IsUnavailable(err))
}

func TestRecoveryAfterOutageRefreshes(t *testing.T) {
	svc, provider := newTestService(t, Config{TTL: 30 * time.Millisecond})
	ctx := context.Background()

	_, err := svc.ProjectSummary(ctx, "wilderun")
	require.NoError(t, err)

	time.Sleep(60 * time.Millisecond)
	provider.SetUnavailable(true)
	_, err = svc.ProjectSummary(ctx, "wilderun")
	require.NoError(t, err)

	provider.SetUnavailable(false)
	_, err = svc.ProjectSummary(ctx, "wilderun")
	require.NoError(t, err)
	// One fetch per phase: the warm load, the failed probe during the
	// outage, and the refresh after recovery.
	_, projects, _ := provider.counts()
	assert.Equal(t, 3, projects)
}

func TestRateLimitedServiceStillServes(t *testing.T) {
	svc, _ := newTestService(t, Config{RateLimit: 200})

	_, err := svc.OverallStatus(context.Background())
	require.NoError(t, err)
}

func TestEpisodeOf(t *testing.T) {
	tests := []struct {
		name    string
		version tracking.Version
		want    string
	}{
		{"explicit field", tracking.Version{Episode: "ep01", Shot: "ep02_sc010"}, "ep01"},
		{"derived from shot", tracking.Version{Shot: "ep05_sc010"}, "ep05"},
		{"shot without separator", tracking.Version{Shot: "sc010"}, ""},
		{"empty", tracking.Version{}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, episodeOf(tt.version))
		})
	}
}

func TestStatusClassification(t *testing.T) {
	assert.True(t, isApproved("approved"))
	assert.True(t, isApproved("APR"))
	assert.False(t, isApproved("review"))
	assert.True(t, isPublished("published"))
	assert.True(t, isPublished("Final"))
	assert.False(t, isPublished("approved"))
	assert.False(t, isPublished(""))
}

func TestLatestPublishedCapsAndSorts(t *testing.T) {
	base := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	versions := make([]tracking.Version, 0, 8)
	for i := 0; i < 7; i++ {
		versions = append(versions, tracking.Version{
			ID:        string(rune('a' + i)),
			Status:    "published",
			CreatedAt: base.Add(time.Duration(i) * time.Hour),
		})
	}
	versions = append(versions, tracking.Version{ID: "skipped", Status: "review", CreatedAt: base.Add(240 * time.Hour)})

	latest := latestPublished(versions, 5)
	require.Len(t, latest, 5)
	assert.Equal(t, "g", latest[0].ID)
	assert.Equal(t, "c", latest[4].ID)
}
