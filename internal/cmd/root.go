// Package cmd implements the farmsight CLI: the API server plus the
// operator commands that talk to it.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/lodgepole/farmsight/internal/client"
	"github.com/lodgepole/farmsight/internal/config"
	"github.com/lodgepole/farmsight/internal/observability"
)

// Exit codes follow sysexits.h where one fits.
const (
	exitUsage       = 64
	exitNoInput     = 66
	exitUnavailable = 69
	exitCantCreate  = 73
	exitInterrupted = 130
)

// versionInfo carries the build metadata injected through SetVersionInfo
// at link time.
var versionInfo = struct {
	Version   string
	Commit    string
	BuildDate string
}{
	Version:   "dev",
	Commit:    "HEAD",
	BuildDate: "unknown",
}

// SetVersionInfo records the build metadata shown by the version command
// and the /version endpoint.
func SetVersionInfo(version, commit, buildDate string) {
	versionInfo.Version = version
	versionInfo.Commit = commit
	versionInfo.BuildDate = buildDate
}

var appIdentity *config.Identity

// GetAppIdentity returns the application identity, or nil before the
// package initializes.
func GetAppIdentity() *config.Identity {
	return appIdentity
}

var (
	readOnly  bool
	verbose   bool
	serverURL string
)

var rootCmd = &cobra.Command{
	Use:   "farmsight",
	Short: "Render telemetry and job state for the studio pipeline",
	Long: `farmsight tracks render jobs, ingest runs, and production tracking
data for the studio pipeline dashboard.

The serve command runs the API server. The remaining commands talk to a
running server; point them at one with --server or FARMSIGHT_SERVER.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		observability.InitCLILogger(appIdentity.BinaryName, verbose)
	},
}

func init() {
	appIdentity = &config.Identity{
		BinaryName: "farmsight",
		EnvPrefix:  "FARMSIGHT",
		ConfigName: "farmsight",
	}

	setDefaults()

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&readOnly, "readonly", false, "Refuse commands that mutate service state")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "Server base URL (default http://localhost:8080, env FARMSIGHT_SERVER)")
	_ = viper.BindPFlag("readonly", rootCmd.PersistentFlags().Lookup("readonly"))
}

// setDefaults seeds the global viper instance. The config loader keeps
// its own layered instance; these defaults back direct viper lookups in
// command code.
func setDefaults() {
	viper.SetDefault("server.host", "localhost")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout", "30s")
	viper.SetDefault("server.write_timeout", "30s")
	viper.SetDefault("server.idle_timeout", "120s")
	viper.SetDefault("server.shutdown_timeout", "10s")

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.profile", "structured")

	viper.SetDefault("metrics.enabled", true)
	viper.SetDefault("metrics.port", 9090)

	viper.SetDefault("health.enabled", true)

	viper.SetDefault("debug.enabled", false)
	viper.SetDefault("debug.pprof_enabled", false)

	viper.SetDefault("workers", 4)

	viper.SetDefault("store.path", "data/render_jobs.json")
	viper.SetDefault("store.retention_hours", 168)
	viper.SetDefault("store.persist_interval", "1s")

	viper.SetDefault("registry.history_limit", 50)
	viper.SetDefault("registry.status_poll_interval", "5s")

	viper.SetDefault("cache.ttl_seconds", 900)
	viper.SetDefault("cache.max_records", 5000)
	viper.SetDefault("cache.max_projects", 25)

	viper.SetDefault("upstream.timeout", "10s")
	viper.SetDefault("upstream.rate_limit", 10.0)
	viper.SetDefault("upstream.burst", 20)

	viper.SetDefault("events.buffer", 32)
	viper.SetDefault("events.jobs_buffer", 64)
	viper.SetDefault("events.keepalive", "30s")

	viper.SetDefault("archive.enabled", false)
	viper.SetDefault("archive.prefix", "farmsight/snapshots")

	viper.SetDefault("readonly", false)
}

// Execute runs the root command and returns the process exit status.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := rootCmd.ExecuteContext(ctx)
	observability.SyncAll()
	if err == nil {
		return 0
	}

	var coded *codedError
	if errors.As(err, &coded) {
		return coded.code
	}
	return 1
}

// codedError carries a process exit code alongside the failure.
type codedError struct {
	code    int
	message string
	err     error
}

func (e *codedError) Error() string {
	return fmt.Sprintf("%s: %v (exit code %d)", e.message, e.err, e.code)
}

func (e *codedError) Unwrap() error { return e.err }

// exitError creates an error that causes the CLI to exit with the given
// code.
func exitError(code int, message string, err error) error {
	return &codedError{code: code, message: message, err: err}
}

// requireWritable rejects mutating commands while --readonly is set.
func requireWritable(action string) error {
	if readOnly || viper.GetBool("readonly") {
		return exitError(exitUsage, "Blocked by readonly mode",
			fmt.Errorf("%s mutates service state, which --readonly forbids", action))
	}
	return nil
}

// newAPIClient builds the client for commands that talk to a running
// server. Credentials come from the environment only.
func newAPIClient() (*client.Client, error) {
	base := serverURL
	if base == "" {
		base = os.Getenv("FARMSIGHT_SERVER")
	}
	if base == "" {
		base = "http://localhost:8080"
	}
	return client.New(client.Config{
		BaseURL:   base,
		APIKey:    os.Getenv("FARMSIGHT_API_KEY"),
		APISecret: os.Getenv("FARMSIGHT_API_SECRET"),
	})
}
