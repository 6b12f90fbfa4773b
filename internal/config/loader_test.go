package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// moduleRoot walks up from the working directory to the go.mod boundary.
func moduleRoot(t *testing.T) string {
	t.Helper()
	dir, err := os.Getwd()
	require.NoError(t, err)
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			t.Fatalf("no go.mod above %s", dir)
		}
		dir = parent
	}
}

func TestLoad(t *testing.T) {
	ctx := context.Background()

	// CI checkouts can live outside $HOME, where walking up from the
	// working directory alone may stop short of the repo. The workspace
	// env var pins the boundary in that case.
	t.Run("honors CI workspace boundary", func(t *testing.T) {
		root := moduleRoot(t)
		t.Setenv("HOME", t.TempDir())
		t.Setenv("CI", "true")
		t.Setenv("FARMSIGHT_WORKSPACE_ROOT", root)

		cfg, err := Load(ctx)
		require.NoError(t, err)
		require.NotNil(t, cfg)
	})

	t.Run("defaults", func(t *testing.T) {
		cfg, err := Load(ctx)
		require.NoError(t, err)
		require.NotNil(t, cfg)

		assert.Equal(t, "localhost", cfg.Server.Host)
		assert.Equal(t, 8080, cfg.Server.Port)
		assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)
		assert.Equal(t, 30*time.Second, cfg.Server.WriteTimeout)
		assert.Equal(t, 120*time.Second, cfg.Server.IdleTimeout)
		assert.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeout)

		assert.Equal(t, "info", cfg.Logging.Level)
		assert.Equal(t, "STRUCTURED", cfg.Logging.Profile)

		assert.True(t, cfg.Metrics.Enabled)
		assert.Equal(t, 9090, cfg.Metrics.Port)
		assert.True(t, cfg.Health.Enabled)
		assert.False(t, cfg.Debug.Enabled)
		assert.False(t, cfg.Debug.PprofEnabled)
		assert.Equal(t, 4, cfg.Workers)

		assert.Equal(t, "data/render_jobs.json", cfg.Store.Path)
		assert.Equal(t, 168, cfg.Store.RetentionHours)
		assert.Equal(t, time.Second, cfg.Store.PersistInterval)

		assert.Equal(t, 50, cfg.Registry.HistoryLimit)
		assert.Equal(t, 5*time.Second, cfg.Registry.StatusPollInterval)

		assert.Equal(t, 900, cfg.Cache.TTLSeconds)
		assert.Equal(t, 5000, cfg.Cache.MaxRecords)
		assert.Equal(t, 25, cfg.Cache.MaxProjects)

		assert.Equal(t, 10*time.Second, cfg.Upstream.Timeout)
		assert.Equal(t, 10.0, cfg.Upstream.RateLimit)
		assert.Equal(t, 20, cfg.Upstream.Burst)

		assert.Equal(t, 32, cfg.Events.Buffer)
		assert.Equal(t, 64, cfg.Events.JobsBuffer)
		assert.Equal(t, 30*time.Second, cfg.Events.Keepalive)

		assert.False(t, cfg.Archive.Enabled)
		assert.Equal(t, "farmsight/snapshots", cfg.Archive.Prefix)
	})

	t.Run("runtime overrides", func(t *testing.T) {
		cfg, err := Load(ctx, map[string]any{
			"server":  map[string]any{"port": 9000, "host": "0.0.0.0"},
			"logging": map[string]any{"level": "debug"},
		})
		require.NoError(t, err)

		assert.Equal(t, "0.0.0.0", cfg.Server.Host)
		assert.Equal(t, 9000, cfg.Server.Port)
		assert.Equal(t, "debug", cfg.Logging.Level)

		// Untouched keys keep their defaults.
		assert.Equal(t, "STRUCTURED", cfg.Logging.Profile)
		assert.Equal(t, 9090, cfg.Metrics.Port)
	})

	t.Run("env overrides", func(t *testing.T) {
		t.Setenv("FARMSIGHT_PORT", "3000")
		t.Setenv("FARMSIGHT_LOG_LEVEL", "warn")
		t.Setenv("FARMSIGHT_METRICS_ENABLED", "false")

		cfg, err := Load(ctx)
		require.NoError(t, err)

		assert.Equal(t, 3000, cfg.Server.Port)
		assert.Equal(t, "warn", cfg.Logging.Level)
		assert.False(t, cfg.Metrics.Enabled)
	})

	t.Run("runtime overrides beat env", func(t *testing.T) {
		t.Setenv("FARMSIGHT_PORT", "4000")

		cfg, err := Load(ctx, map[string]any{
			"server": map[string]any{"port": 5000},
		})
		require.NoError(t, err)
		assert.Equal(t, 5000, cfg.Server.Port)
	})

	t.Run("out-of-domain values fall back to defaults", func(t *testing.T) {
		cfg, err := Load(ctx, map[string]any{
			"workers":  -2,
			"registry": map[string]any{"history_limit": 0},
			"cache":    map[string]any{"ttl_seconds": -30},
			"events":   map[string]any{"buffer": 0},
		})
		require.NoError(t, err)

		assert.Equal(t, 4, cfg.Workers)
		assert.Equal(t, 50, cfg.Registry.HistoryLimit)
		assert.Equal(t, 900, cfg.Cache.TTLSeconds)
		assert.Equal(t, 32, cfg.Events.Buffer)
	})
}

func TestGetConfig(t *testing.T) {
	cfg, err := Load(context.Background())
	require.NoError(t, err)

	got := GetConfig()
	require.NotNil(t, got)
	assert.Equal(t, cfg.Server.Port, got.Server.Port)
	assert.Equal(t, cfg.Logging.Level, got.Logging.Level)
}

func TestEnvSpecs(t *testing.T) {
	_, err := Load(context.Background())
	require.NoError(t, err)

	specs := getEnvSpecs()
	require.NotEmpty(t, specs)

	names := make(map[string]bool, len(specs))
	for _, spec := range specs {
		names[spec.Name] = true
	}

	for _, want := range []string{
		"FARMSIGHT_HOST",
		"FARMSIGHT_PORT",
		"FARMSIGHT_LOG_LEVEL",
		"FARMSIGHT_METRICS_PORT",
		"FARMSIGHT_STORE_PATH",
		"FARMSIGHT_HISTORY_LIMIT",
		"FARMSIGHT_STATUS_POLL_INTERVAL",
		"FARMSIGHT_UPSTREAM_FIXTURE",
		"FARMSIGHT_ARCHIVE_BUCKET",
	} {
		assert.True(t, names[want], "missing env binding %s", want)
	}
}

func TestDurationParsing(t *testing.T) {
	t.Setenv("FARMSIGHT_READ_TIMEOUT", "45s")
	t.Setenv("FARMSIGHT_SHUTDOWN_TIMEOUT", "5m")

	cfg, err := Load(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 45*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 5*time.Minute, cfg.Server.ShutdownTimeout)
}

func TestConfigReload(t *testing.T) {
	ctx := context.Background()

	first, err := Load(ctx)
	require.NoError(t, err)
	port := first.Server.Port

	second, err := Load(ctx, map[string]any{
		"server": map[string]any{"port": port + 1000},
	})
	require.NoError(t, err)
	assert.Equal(t, port+1000, second.Server.Port)

	// GetConfig tracks the most recent load.
	assert.Equal(t, second.Server.Port, GetConfig().Server.Port)
}

// resetIdentity clears the process-wide snapshot so the nil-identity
// paths are reachable.
func resetIdentity() {
	configMu.Lock()
	defer configMu.Unlock()
	appIdentity = nil
	appConfig = nil
}

func TestNilIdentityFallbacks(t *testing.T) {
	resetIdentity()
	defer func() { _, _ = Load(context.Background()) }()

	assert.Empty(t, getUserConfigPaths())
	assert.Empty(t, getEnvSpecs())
}

func TestFindProjectRootCIBoundaries(t *testing.T) {
	root := moduleRoot(t)

	t.Run("empty boundary vars fall back to discovery", func(t *testing.T) {
		t.Setenv("CI", "true")
		t.Setenv("FARMSIGHT_WORKSPACE_ROOT", "")
		t.Setenv("GITHUB_WORKSPACE", "")
		t.Setenv("CI_PROJECT_DIR", "")
		t.Setenv("WORKSPACE", "")

		got, err := findProjectRoot()
		require.NoError(t, err)
		assert.NotEmpty(t, got)
	})

	t.Run("relative boundary is ignored", func(t *testing.T) {
		t.Setenv("CI", "true")
		t.Setenv("FARMSIGHT_WORKSPACE_ROOT", "./relative/path")

		got, err := findProjectRoot()
		require.NoError(t, err)
		assert.NotEmpty(t, got)
	})

	t.Run("missing boundary is ignored", func(t *testing.T) {
		t.Setenv("CI", "true")
		t.Setenv("FARMSIGHT_WORKSPACE_ROOT", "/nonexistent/path/that/does/not/exist")

		got, err := findProjectRoot()
		require.NoError(t, err)
		assert.NotEmpty(t, got)
	})

	t.Run("boundary not containing cwd is ignored", func(t *testing.T) {
		t.Setenv("CI", "true")
		t.Setenv("FARMSIGHT_WORKSPACE_ROOT", os.TempDir())

		got, err := findProjectRoot()
		require.NoError(t, err)
		assert.NotEmpty(t, got)
	})

	t.Run("github workspace wins on actions runners", func(t *testing.T) {
		t.Setenv("GITHUB_ACTIONS", "true")
		t.Setenv("GITHUB_WORKSPACE", root)

		got, err := findProjectRoot()
		require.NoError(t, err)
		assert.Equal(t, root, got)
	})
}

func TestEnvSpecsCarryPrefixAndPath(t *testing.T) {
	_, err := Load(context.Background())
	require.NoError(t, err)

	specs := getEnvSpecs()
	require.NotEmpty(t, specs)
	for _, spec := range specs {
		assert.Contains(t, spec.Name, "FARMSIGHT_", "env name %q lacks the prefix", spec.Name)
		assert.NotEmpty(t, spec.Path, "env var %s has no config path", spec.Name)
	}
}
