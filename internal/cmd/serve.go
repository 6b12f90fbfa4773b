package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/pprof"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/lodgepole/farmsight/internal/config"
	"github.com/lodgepole/farmsight/internal/observability"
	"github.com/lodgepole/farmsight/internal/server"
	"github.com/lodgepole/farmsight/internal/server/handlers"
	"github.com/lodgepole/farmsight/internal/server/middleware"
	s3archive "github.com/lodgepole/farmsight/pkg/archive/s3"
	"github.com/lodgepole/farmsight/pkg/dashboard"
	"github.com/lodgepole/farmsight/pkg/events"
	"github.com/lodgepole/farmsight/pkg/farm"
	"github.com/lodgepole/farmsight/pkg/farm/mock"
	"github.com/lodgepole/farmsight/pkg/ingest"
	"github.com/lodgepole/farmsight/pkg/jobregistry"
	"github.com/lodgepole/farmsight/pkg/poller"
	"github.com/lodgepole/farmsight/pkg/tracking/staticfile"
)

var (
	serveHost string
	servePort int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the farmsight API server",
	Long: `Run the farmsight API server: render job registry, ingest run
tracking, dashboard caches, and the event streams.

Configuration comes from farmsight.yaml, FARMSIGHT_* environment
variables, and the flags below, in rising precedence.

Examples:
  farmsight serve
  farmsight serve --port 9000
  farmsight serve --host 0.0.0.0`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveHost, "host", "", "Bind address (overrides config)")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Listen port (overrides config)")
}

// signalHealthChecker reports signal handling as healthy; installing the
// notify context cannot fail after startup.
type signalHealthChecker struct{}

func (signalHealthChecker) CheckHealth(ctx context.Context) error {
	return nil
}

// telemetryHealthChecker verifies the telemetry system is live.
type telemetryHealthChecker struct{}

func (telemetryHealthChecker) CheckHealth(ctx context.Context) error {
	if observability.TelemetrySystem == nil && observability.PrometheusExporter == nil {
		return fmt.Errorf("telemetry system not initialized")
	}
	return nil
}

// identityHealthChecker verifies the application identity is complete.
type identityHealthChecker struct {
	binaryName string
	envPrefix  string
	configName string
}

func (c identityHealthChecker) CheckHealth(ctx context.Context) error {
	if c.binaryName == "" {
		return fmt.Errorf("app identity incomplete: missing binary name")
	}
	if c.envPrefix == "" {
		return fmt.Errorf("app identity incomplete: missing env prefix")
	}
	if c.configName == "" {
		return fmt.Errorf("app identity incomplete: missing config name")
	}
	return nil
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	overrides := map[string]any{}
	serverOverrides := map[string]any{}
	if cmd.Flags().Changed("host") {
		serverOverrides["host"] = serveHost
	}
	if cmd.Flags().Changed("port") {
		serverOverrides["port"] = servePort
	}
	if len(serverOverrides) > 0 {
		overrides["server"] = serverOverrides
	}

	cfg, err := config.Load(ctx, overrides)
	if err != nil {
		return exitError(exitUsage, "Failed to load configuration", err)
	}

	logger := observability.InitLogging(cfg.Logging.Level, cfg.Logging.Profile)
	defer observability.SyncAll()

	tel := observability.InitTelemetry()

	health := handlers.InitHealthManager(versionInfo.Version)
	health.RegisterChecker("signals", signalHealthChecker{})
	health.RegisterChecker("telemetry", telemetryHealthChecker{})
	if identity := GetAppIdentity(); identity != nil {
		health.RegisterChecker("identity", identityHealthChecker{
			binaryName: identity.BinaryName,
			envPrefix:  identity.EnvPrefix,
			configName: identity.ConfigName,
		})
	}

	// Farm adapters. Mock is the built-in; production adapters register
	// here as they land.
	farms := farm.NewRegistry()
	if err := farms.Register(mock.New(mock.Config{})); err != nil {
		return exitError(exitUsage, "Failed to register farm adapter", err)
	}

	// Durable job snapshots, with optional archival to S3.
	var store *jobregistry.Store
	if cfg.Store.Path != "" {
		retention := time.Duration(cfg.Store.RetentionHours) * time.Hour
		store = jobregistry.NewStore(cfg.Store.Path, retention, logger)

		if cfg.Archive.Enabled {
			archiver, err := s3archive.New(ctx, s3archive.Config{
				Bucket:          cfg.Archive.Bucket,
				Prefix:          cfg.Archive.Prefix,
				Region:          cfg.Archive.Region,
				Endpoint:        cfg.Archive.Endpoint,
				Profile:         cfg.Archive.Profile,
				AccessKeyID:     cfg.Archive.AccessKeyID,
				SecretAccessKey: cfg.Archive.SecretAccessKey,
				ForcePathStyle:  cfg.Archive.ForcePathStyle,
			})
			if err != nil {
				return exitError(exitUnavailable, "Failed to initialize snapshot archiver", err)
			}
			defer func() { _ = archiver.Close() }()
			store.SetArchiver(archiver)
			logger.Info("snapshot archiver enabled",
				zap.String("bucket", cfg.Archive.Bucket),
				zap.String("prefix", cfg.Archive.Prefix))
		}
	} else {
		logger.Warn("job store disabled, history is memory-only")
	}

	jobEvents := events.NewBroadcaster("jobs", cfg.Events.JobsBuffer, logger)
	registry, err := jobregistry.New(jobregistry.Config{
		HistoryLimit: cfg.Registry.HistoryLimit,
		PersistDelay: cfg.Store.PersistInterval,
		Store:        store,
		Farms:        farms,
		Broadcaster:  jobEvents,
		Logger:       logger,
	})
	if err != nil {
		return exitError(exitUsage, "Failed to create job registry", err)
	}
	defer registry.Close()

	runEvents := events.NewBroadcaster("runs", cfg.Events.Buffer, logger)
	runs := ingest.New(ingest.Config{
		Broadcaster: runEvents,
		Logger:      logger,
	})

	// Dashboard caches sit over the tracking provider. Without a
	// fixture there is no provider, so the routes stay unmounted.
	var dash *dashboard.Service
	if cfg.Upstream.FixturePath != "" {
		provider, err := staticfile.New(staticfile.Config{Path: cfg.Upstream.FixturePath})
		if err != nil {
			return exitError(exitNoInput, "Failed to open tracking fixture", err)
		}
		defer func() { _ = provider.Close() }()

		dash, err = dashboard.New(dashboard.Config{
			Provider:        provider,
			TTL:             time.Duration(cfg.Cache.TTLSeconds) * time.Second,
			MaxRecords:      cfg.Cache.MaxRecords,
			MaxProjects:     cfg.Cache.MaxProjects,
			UpstreamTimeout: cfg.Upstream.Timeout,
			RateLimit:       cfg.Upstream.RateLimit,
			Burst:           cfg.Upstream.Burst,
			Logger:          logger,
		})
		if err != nil {
			return exitError(exitUsage, "Failed to create dashboard service", err)
		}
	} else {
		logger.Info("dashboard disabled, no tracking fixture configured")
	}

	statusPoller := poller.New(registry, logger, poller.Config{
		Interval: cfg.Registry.StatusPollInterval,
		Workers:  cfg.Workers,
	})

	srv := server.New(cfg.Server.Host, cfg.Server.Port,
		server.WithRegistry(registry),
		server.WithIngest(runs),
		server.WithDashboard(dash),
		server.WithLogger(logger),
		server.WithTelemetry(tel),
		server.WithKeepalive(cfg.Events.Keepalive),
		server.WithAuthenticator(middleware.NewAuthenticator(os.Getenv("FARMSIGHT_SERVICE_CREDENTIALS"), logger)),
		server.WithVersion(handlers.VersionInfo{
			Name:      appIdentity.BinaryName,
			Version:   versionInfo.Version,
			Commit:    versionInfo.Commit,
			BuildDate: versionInfo.BuildDate,
		}),
		server.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout,
			cfg.Server.IdleTimeout, cfg.Server.ShutdownTimeout),
	)

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error { return srv.Start(ctx) })
	group.Go(func() error { return statusPoller.Run(ctx) })
	if cfg.Metrics.Enabled {
		group.Go(func() error {
			return serveMetrics(ctx, cfg.Server.Host, cfg.Metrics.Port, cfg.Debug.PprofEnabled, logger)
		})
	}

	logger.Info("farmsight service started",
		zap.String("host", cfg.Server.Host),
		zap.Int("port", cfg.Server.Port),
		zap.Bool("metrics", cfg.Metrics.Enabled),
		zap.String("version", versionInfo.Version))

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return exitError(exitUnavailable, "Server failed", err)
	}

	logger.Info("farmsight service stopped")
	return nil
}

// serveMetrics runs the Prometheus exposition listener, separate from
// the API port so scrapes bypass API auth.
func serveMetrics(ctx context.Context, host string, port int, pprofEnabled bool, logger *zap.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", observability.PrometheusExporter)
	if pprofEnabled {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}

	srv := &http.Server{
		Addr:         net.JoinHostPort(host, strconv.Itoa(port)),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	logger.Info("metrics listener started",
		zap.String("addr", srv.Addr),
		zap.Bool("pprof", pprofEnabled))

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("metrics listener: %w", err)
	}
}

