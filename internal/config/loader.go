// Package config loads the layered farmsight configuration: defaults,
// an optional farmsight.yaml, FARMSIGHT_* environment variables, then
// runtime overrides, in rising precedence.
package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	mapstructure "github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Identity is the application naming contract: binary name, environment
// prefix, and config file base name.
type Identity struct {
	BinaryName string
	EnvPrefix  string
	ConfigName string
}

var (
	configMu    sync.Mutex
	appIdentity *Identity
	appConfig   *Config
)

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// LoggingConfig selects the log level and output profile.
type LoggingConfig struct {
	Level   string `mapstructure:"level"`
	Profile string `mapstructure:"profile"`
}

// MetricsConfig controls the Prometheus exposition listener.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// HealthConfig controls the health endpoints.
type HealthConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// DebugConfig controls development-only surfaces.
type DebugConfig struct {
	Enabled      bool `mapstructure:"enabled"`
	PprofEnabled bool `mapstructure:"pprof_enabled"`
}

// StoreConfig holds the job snapshot store settings.
type StoreConfig struct {
	Path            string        `mapstructure:"path"`
	RetentionHours  int           `mapstructure:"retention_hours"`
	PersistInterval time.Duration `mapstructure:"persist_interval"`
}

// RegistryConfig holds the job registry settings.
type RegistryConfig struct {
	HistoryLimit       int           `mapstructure:"history_limit"`
	StatusPollInterval time.Duration `mapstructure:"status_poll_interval"`
}

// CacheConfig holds the dashboard read-cache settings.
type CacheConfig struct {
	TTLSeconds  int `mapstructure:"ttl_seconds"`
	MaxRecords  int `mapstructure:"max_records"`
	MaxProjects int `mapstructure:"max_projects"`
}

// UpstreamConfig holds the tracking provider settings.
type UpstreamConfig struct {
	Timeout     time.Duration `mapstructure:"timeout"`
	RateLimit   float64       `mapstructure:"rate_limit"`
	Burst       int           `mapstructure:"burst"`
	FixturePath string        `mapstructure:"fixture_path"`
}

// EventsConfig holds the broadcaster queue depths and stream heartbeat.
type EventsConfig struct {
	Buffer     int           `mapstructure:"buffer"`
	JobsBuffer int           `mapstructure:"jobs_buffer"`
	Keepalive  time.Duration `mapstructure:"keepalive"`
}

// ArchiveConfig holds the optional S3 snapshot archiver settings.
// Credentials come from the environment or the default AWS chain, never
// from the config file.
type ArchiveConfig struct {
	Enabled         bool   `mapstructure:"enabled"`
	Bucket          string `mapstructure:"bucket"`
	Prefix          string `mapstructure:"prefix"`
	Region          string `mapstructure:"region"`
	Endpoint        string `mapstructure:"endpoint"`
	Profile         string `mapstructure:"profile"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	ForcePathStyle  bool   `mapstructure:"force_path_style"`
}

// Config is the full runtime configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Health   HealthConfig   `mapstructure:"health"`
	Debug    DebugConfig    `mapstructure:"debug"`
	Workers  int            `mapstructure:"workers"`
	Store    StoreConfig    `mapstructure:"store"`
	Registry RegistryConfig `mapstructure:"registry"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Upstream UpstreamConfig `mapstructure:"upstream"`
	Events   EventsConfig   `mapstructure:"events"`
	Archive  ArchiveConfig  `mapstructure:"archive"`
}

// envSpec maps one environment variable onto its config path.
type envSpec struct {
	Name string
	Path string
}

// envBindings is the FARMSIGHT_* surface. Flat names for the standard
// service variables, grouped names for farmsight-specific settings.
var envBindings = []struct{ suffix, path string }{
	{"HOST", "server.host"},
	{"PORT", "server.port"},
	{"READ_TIMEOUT", "server.read_timeout"},
	{"WRITE_TIMEOUT", "server.write_timeout"},
	{"IDLE_TIMEOUT", "server.idle_timeout"},
	{"SHUTDOWN_TIMEOUT", "server.shutdown_timeout"},
	{"LOG_LEVEL", "logging.level"},
	{"LOG_PROFILE", "logging.profile"},
	{"METRICS_ENABLED", "metrics.enabled"},
	{"METRICS_PORT", "metrics.port"},
	{"HEALTH_ENABLED", "health.enabled"},
	{"WORKERS", "workers"},
	{"DEBUG_ENABLED", "debug.enabled"},
	{"PPROF_ENABLED", "debug.pprof_enabled"},
	{"STORE_PATH", "store.path"},
	{"STORE_RETENTION_HOURS", "store.retention_hours"},
	{"STORE_PERSIST_INTERVAL", "store.persist_interval"},
	{"HISTORY_LIMIT", "registry.history_limit"},
	{"STATUS_POLL_INTERVAL", "registry.status_poll_interval"},
	{"CACHE_TTL_SECONDS", "cache.ttl_seconds"},
	{"CACHE_MAX_RECORDS", "cache.max_records"},
	{"CACHE_MAX_PROJECTS", "cache.max_projects"},
	{"UPSTREAM_TIMEOUT", "upstream.timeout"},
	{"UPSTREAM_RATE_LIMIT", "upstream.rate_limit"},
	{"UPSTREAM_BURST", "upstream.burst"},
	{"UPSTREAM_FIXTURE", "upstream.fixture_path"},
	{"EVENTS_BUFFER", "events.buffer"},
	{"EVENTS_JOBS_BUFFER", "events.jobs_buffer"},
	{"EVENTS_KEEPALIVE", "events.keepalive"},
	{"ARCHIVE_ENABLED", "archive.enabled"},
	{"ARCHIVE_BUCKET", "archive.bucket"},
	{"ARCHIVE_PREFIX", "archive.prefix"},
	{"ARCHIVE_REGION", "archive.region"},
	{"ARCHIVE_ENDPOINT", "archive.endpoint"},
	{"ARCHIVE_AWS_PROFILE", "archive.profile"},
	{"ARCHIVE_ACCESS_KEY_ID", "archive.access_key_id"},
	{"ARCHIVE_SECRET_ACCESS_KEY", "archive.secret_access_key"},
	{"ARCHIVE_FORCE_PATH_STYLE", "archive.force_path_style"},
}

// Load builds the configuration and installs it as the process-wide
// snapshot returned by GetConfig. Later calls reload from scratch, so
// runtime overrides never leak between loads.
func Load(ctx context.Context, overrides ...map[string]any) (*Config, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	configMu.Lock()
	defer configMu.Unlock()

	appIdentity = &Identity{
		BinaryName: "farmsight",
		EnvPrefix:  "FARMSIGHT",
		ConfigName: "farmsight",
	}

	v := viper.New()
	setLoaderDefaults(v)

	// The config file is optional: project root first, then user paths.
	v.SetConfigName(appIdentity.ConfigName)
	v.SetConfigType("yaml")
	if root, err := findProjectRoot(); err == nil {
		v.AddConfigPath(root)
	}
	for _, path := range getUserConfigPaths() {
		v.AddConfigPath(path)
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	for _, spec := range getEnvSpecs() {
		if err := v.BindEnv(spec.Path, spec.Name); err != nil {
			return nil, fmt.Errorf("bind %s: %w", spec.Name, err)
		}
	}

	// Runtime overrides take precedence over everything, including
	// bound environment variables.
	for _, override := range overrides {
		applyOverrides(v, "", override)
	}

	var cfg Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	normalize(&cfg)

	appConfig = &cfg
	return &cfg, nil
}

// GetConfig returns the last loaded configuration, or nil before Load.
func GetConfig() *Config {
	configMu.Lock()
	defer configMu.Unlock()
	return appConfig
}

// GetIdentity returns the application identity, or nil before Load.
func GetIdentity() *Identity {
	configMu.Lock()
	defer configMu.Unlock()
	return appIdentity
}

func setLoaderDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.profile", "structured")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", 9090)

	v.SetDefault("health.enabled", true)

	v.SetDefault("debug.enabled", false)
	v.SetDefault("debug.pprof_enabled", false)

	v.SetDefault("workers", 4)

	v.SetDefault("store.path", "data/render_jobs.json")
	v.SetDefault("store.retention_hours", 168)
	v.SetDefault("store.persist_interval", "1s")

	v.SetDefault("registry.history_limit", 50)
	v.SetDefault("registry.status_poll_interval", "5s")

	v.SetDefault("cache.ttl_seconds", 900)
	v.SetDefault("cache.max_records", 5000)
	v.SetDefault("cache.max_projects", 25)

	v.SetDefault("upstream.timeout", "10s")
	v.SetDefault("upstream.rate_limit", 10.0)
	v.SetDefault("upstream.burst", 20)
	v.SetDefault("upstream.fixture_path", "")

	v.SetDefault("events.buffer", 32)
	v.SetDefault("events.jobs_buffer", 64)
	v.SetDefault("events.keepalive", "30s")

	v.SetDefault("archive.enabled", false)
	v.SetDefault("archive.bucket", "")
	v.SetDefault("archive.prefix", "farmsight/snapshots")
	v.SetDefault("archive.region", "")
	v.SetDefault("archive.endpoint", "")
	v.SetDefault("archive.profile", "")
	v.SetDefault("archive.access_key_id", "")
	v.SetDefault("archive.secret_access_key", "")
	v.SetDefault("archive.force_path_style", false)
}

// applyOverrides flattens nested override maps into dotted keys and
// applies them at viper's highest precedence.
func applyOverrides(v *viper.Viper, prefix string, values map[string]any) {
	for key, value := range values {
		path := key
		if prefix != "" {
			path = prefix + "." + key
		}
		if nested, ok := value.(map[string]any); ok {
			applyOverrides(v, path, nested)
			continue
		}
		v.Set(path, value)
	}
}

// normalize clamps out-of-domain values back to defaults with a warning
// instead of failing startup.
func normalize(cfg *Config) {
	log := zap.L()

	cfg.Logging.Profile = strings.ToUpper(strings.TrimSpace(cfg.Logging.Profile))

	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		log.Warn("server port out of range, using default", zap.Int("port", cfg.Server.Port))
		cfg.Server.Port = 8080
	}
	if cfg.Workers < 1 {
		log.Warn("workers below 1, using default", zap.Int("workers", cfg.Workers))
		cfg.Workers = 4
	}
	if cfg.Registry.HistoryLimit < 1 {
		log.Warn("history limit below 1, using default", zap.Int("history_limit", cfg.Registry.HistoryLimit))
		cfg.Registry.HistoryLimit = 50
	}
	if cfg.Registry.StatusPollInterval <= 0 {
		log.Warn("status poll interval not positive, using default",
			zap.Duration("status_poll_interval", cfg.Registry.StatusPollInterval))
		cfg.Registry.StatusPollInterval = 5 * time.Second
	}
	if cfg.Store.RetentionHours < 0 {
		log.Warn("store retention negative, using default", zap.Int("retention_hours", cfg.Store.RetentionHours))
		cfg.Store.RetentionHours = 168
	}
	if cfg.Cache.TTLSeconds < 1 {
		log.Warn("cache ttl below 1s, using default", zap.Int("ttl_seconds", cfg.Cache.TTLSeconds))
		cfg.Cache.TTLSeconds = 900
	}
	if cfg.Cache.MaxRecords < 1 {
		log.Warn("cache max records below 1, using default", zap.Int("max_records", cfg.Cache.MaxRecords))
		cfg.Cache.MaxRecords = 5000
	}
	if cfg.Cache.MaxProjects < 1 {
		log.Warn("cache max projects below 1, using default", zap.Int("max_projects", cfg.Cache.MaxProjects))
		cfg.Cache.MaxProjects = 25
	}
	if cfg.Upstream.Timeout <= 0 {
		log.Warn("upstream timeout not positive, using default", zap.Duration("timeout", cfg.Upstream.Timeout))
		cfg.Upstream.Timeout = 10 * time.Second
	}
	if cfg.Upstream.RateLimit < 0 {
		log.Warn("upstream rate limit negative, using default", zap.Float64("rate_limit", cfg.Upstream.RateLimit))
		cfg.Upstream.RateLimit = 10
	}
	if cfg.Upstream.Burst < 1 {
		log.Warn("upstream burst below 1, using default", zap.Int("burst", cfg.Upstream.Burst))
		cfg.Upstream.Burst = 20
	}
	if cfg.Events.Buffer < 1 {
		log.Warn("events buffer below 1, using default", zap.Int("buffer", cfg.Events.Buffer))
		cfg.Events.Buffer = 32
	}
	if cfg.Events.JobsBuffer < 1 {
		log.Warn("jobs buffer below 1, using default", zap.Int("jobs_buffer", cfg.Events.JobsBuffer))
		cfg.Events.JobsBuffer = 64
	}
	if cfg.Events.Keepalive <= 0 {
		log.Warn("events keepalive not positive, using default", zap.Duration("keepalive", cfg.Events.Keepalive))
		cfg.Events.Keepalive = 30 * time.Second
	}
}

// getEnvSpecs lists the environment variables the loader binds. Empty
// before Load establishes the identity.
func getEnvSpecs() []envSpec {
	if appIdentity == nil {
		return nil
	}
	specs := make([]envSpec, 0, len(envBindings))
	for _, b := range envBindings {
		specs = append(specs, envSpec{
			Name: appIdentity.EnvPrefix + "_" + b.suffix,
			Path: b.path,
		})
	}
	return specs
}

// EnvSpecs exposes the variable-to-path table for the doctor command.
func EnvSpecs() []struct{ Name, Path string } {
	specs := getEnvSpecs()
	out := make([]struct{ Name, Path string }, 0, len(specs))
	for _, s := range specs {
		out = append(out, struct{ Name, Path string }{Name: s.Name, Path: s.Path})
	}
	return out
}

// getUserConfigPaths lists per-user config directories. Empty before
// Load establishes the identity.
func getUserConfigPaths() []string {
	if appIdentity == nil {
		return nil
	}
	var paths []string
	if base, err := os.UserConfigDir(); err == nil {
		paths = append(paths, filepath.Join(base, appIdentity.BinaryName))
	}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, "."+appIdentity.BinaryName))
	}
	return paths
}

// ciBoundaryVars pin project-root discovery to the CI workspace. CI
// checkouts often live outside $HOME, where walking up from the working
// directory could escape the checkout.
var ciBoundaryVars = []string{
	"FARMSIGHT_WORKSPACE_ROOT",
	"GITHUB_WORKSPACE",
	"CI_PROJECT_DIR",
	"WORKSPACE",
}

// findProjectRoot locates the directory farmsight.yaml is searched in:
// the nearest ancestor with go.mod or .git, bounded by the CI workspace
// when one is declared.
func findProjectRoot() (string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("determine working directory: %w", err)
	}

	if os.Getenv("CI") == "true" || os.Getenv("GITHUB_ACTIONS") == "true" {
		for _, name := range ciBoundaryVars {
			root := os.Getenv(name)
			if root == "" || !filepath.IsAbs(root) {
				continue
			}
			info, err := os.Stat(root)
			if err != nil || !info.IsDir() {
				continue
			}
			rel, err := filepath.Rel(root, cwd)
			if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
				continue
			}
			return root, nil
		}
	}

	dir := cwd
	for {
		for _, marker := range []string{"go.mod", ".git"} {
			if _, err := os.Stat(filepath.Join(dir, marker)); err == nil {
				return dir, nil
			}
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			// No marker found; fall back to the working directory.
			return cwd, nil
		}
		dir = parent
	}
}
