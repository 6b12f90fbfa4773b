// Package server assembles the HTTP surface: routing, middleware, and
// lifecycle for the farmsight API.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	apperrors "github.com/lodgepole/farmsight/internal/errors"
	"github.com/lodgepole/farmsight/internal/observability"
	"github.com/lodgepole/farmsight/internal/server/handlers"
	"github.com/lodgepole/farmsight/internal/server/middleware"
	"github.com/lodgepole/farmsight/pkg/dashboard"
	"github.com/lodgepole/farmsight/pkg/ingest"
	"github.com/lodgepole/farmsight/pkg/jobregistry"
)

// adminTokenEnv gates the admin API. When unset the routes are not
// registered at all.
const adminTokenEnv = "FARMSIGHT_ADMIN_TOKEN"

// Default connection timeouts, overridable through WithTimeouts.
const (
	DefaultReadTimeout     = 30 * time.Second
	DefaultWriteTimeout    = 30 * time.Second
	DefaultIdleTimeout     = 120 * time.Second
	DefaultShutdownTimeout = 10 * time.Second
)

// Server hosts the farmsight HTTP API. Domain route groups are mounted
// only when their backing component is provided, so a bare Server still
// serves health and version endpoints.
type Server struct {
	host string
	port int

	logger    *zap.Logger
	telemetry *observability.Telemetry
	auth      *middleware.Authenticator

	registry  *jobregistry.Registry
	ingest    *ingest.Registry
	dashboard *dashboard.Service

	version    handlers.VersionInfo
	keepalive  time.Duration
	adminToken string

	readTimeout     time.Duration
	writeTimeout    time.Duration
	idleTimeout     time.Duration
	shutdownTimeout time.Duration

	router chi.Router
}

// Option configures a Server before its routes are built.
type Option func(*Server)

// WithRegistry mounts the render job API over the given registry.
func WithRegistry(registry *jobregistry.Registry) Option {
	return func(s *Server) { s.registry = registry }
}

// WithIngest mounts the ingest run API over the given registry.
func WithIngest(registry *ingest.Registry) Option {
	return func(s *Server) { s.ingest = registry }
}

// WithDashboard mounts the dashboard API over the given service.
func WithDashboard(service *dashboard.Service) Option {
	return func(s *Server) { s.dashboard = service }
}

// WithAuthenticator applies service-credential auth to the API groups.
func WithAuthenticator(auth *middleware.Authenticator) Option {
	return func(s *Server) { s.auth = auth }
}

// WithTelemetry wires request metrics.
func WithTelemetry(tel *observability.Telemetry) Option {
	return func(s *Server) { s.telemetry = tel }
}

// WithLogger sets the request logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithVersion sets the build identity served at /version.
func WithVersion(info handlers.VersionInfo) Option {
	return func(s *Server) { s.version = info }
}

// WithKeepalive sets the heartbeat interval for SSE and websocket
// streams.
func WithKeepalive(d time.Duration) Option {
	return func(s *Server) { s.keepalive = d }
}

// WithAdminToken overrides the admin token read from the environment.
func WithAdminToken(token string) Option {
	return func(s *Server) { s.adminToken = token }
}

// WithTimeouts overrides the connection and shutdown timeouts.
// Non-positive values keep the defaults.
func WithTimeouts(read, write, idle, shutdown time.Duration) Option {
	return func(s *Server) {
		if read > 0 {
			s.readTimeout = read
		}
		if write > 0 {
			s.writeTimeout = write
		}
		if idle > 0 {
			s.idleTimeout = idle
		}
		if shutdown > 0 {
			s.shutdownTimeout = shutdown
		}
	}
}

// New creates a Server bound to host:port and builds its routes.
func New(host string, port int, opts ...Option) *Server {
	s := &Server{
		host:            host,
		port:            port,
		logger:          zap.L(),
		adminToken:      os.Getenv(adminTokenEnv),
		keepalive:       handlers.DefaultKeepalive,
		readTimeout:     DefaultReadTimeout,
		writeTimeout:    DefaultWriteTimeout,
		idleTimeout:     DefaultIdleTimeout,
		shutdownTimeout: DefaultShutdownTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.router = s.buildRouter()
	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Port returns the configured port. After Start binds port 0 this
// reports the actual listening port.
func (s *Server) Port() int {
	return s.port
}

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RequestLogger(s.logger))
	r.Use(middleware.Metrics(s.telemetry))
	r.Use(middleware.Recovery)

	r.NotFound(apperrors.NotFoundHandler())
	r.MethodNotAllowed(apperrors.MethodNotAllowedHandler())

	r.Get("/health", handlers.HealthHandler)
	r.Get("/health/live", handlers.LivenessHandler)
	r.Get("/health/ready", handlers.ReadinessHandler)
	r.Get("/health/startup", handlers.StartupHandler)
	r.Get("/version", handlers.NewVersionHandler(s.version).ServeHTTP)

	auth := s.auth
	if auth == nil {
		auth = middleware.NewAuthenticator("", s.logger)
	}

	if s.registry != nil {
		render := handlers.NewRenderHandler(s.registry)
		jobEvents := handlers.NewEventStream("jobs", s.registry.Events(), s.keepalive, s.logger)
		jobSocket := handlers.NewJobSocket(s.registry, s.keepalive, s.logger)

		r.Route("/api/render", func(r chi.Router) {
			r.Group(func(r chi.Router) {
				r.Use(auth.Require(middleware.RoleRenderRead))
				r.Get("/jobs", render.ListJobs)
				r.Get("/jobs/{jobID}", render.GetJob)
				r.Get("/farms", render.ListFarms)
				r.Get("/health", render.RegistryHealth)
				r.Get("/events", jobEvents.ServeHTTP)
				r.Get("/ws", jobSocket.ServeHTTP)
			})
			r.Group(func(r chi.Router) {
				r.Use(auth.Require(middleware.RoleRenderSubmit))
				r.Post("/jobs", render.SubmitJob)
			})
			r.Group(func(r chi.Router) {
				r.Use(auth.Require(middleware.RoleRenderManage))
				r.Post("/jobs/{jobID}/cancel", render.CancelJob)
			})
		})
	}

	if s.ingest != nil {
		ing := handlers.NewIngestHandler(s.ingest)
		runEvents := handlers.NewEventStream("runs", s.ingest.Events(), s.keepalive, s.logger)

		r.Route("/api/ingest", func(r chi.Router) {
			r.Group(func(r chi.Router) {
				r.Use(auth.Require(middleware.RoleIngestRead))
				r.Get("/runs", ing.ListRuns)
				r.Get("/runs/{runID}", ing.GetRun)
				r.Get("/summary", ing.Summary)
				r.Get("/events", runEvents.ServeHTTP)
			})
			r.Group(func(r chi.Router) {
				r.Use(auth.Require(middleware.RoleIngestRecord))
				r.Post("/runs", ing.RecordRun)
				r.Post("/runs/{runID}/complete", ing.CompleteRun)
			})
		})
	}

	if s.dashboard != nil {
		dash := handlers.NewDashboardHandler(s.dashboard)

		r.Route("/api/dashboard", func(r chi.Router) {
			r.Use(auth.Require(middleware.RoleDashboardRead))
			r.Get("/projects", dash.ListProjects)
			r.Get("/status", dash.Status)
			r.Get("/projects/{name}", dash.ProjectSummary)
			r.Get("/projects/{name}/episodes/{episode}", dash.EpisodeSummary)
		})

		if s.adminToken != "" {
			admin := handlers.NewAdminHandler(s.dashboard)

			r.Route("/api/admin", func(r chi.Router) {
				r.Use(middleware.RequireAdminToken(s.adminToken))
				r.Get("/cache", admin.CacheStatus)
				r.Post("/cache", admin.UpdateCache)
				r.Post("/cache/invalidate", admin.InvalidateCache)
			})
			s.logger.Info("admin API enabled")
		} else {
			s.logger.Debug("admin API disabled, no admin token configured")
		}
	}

	return r
}

// Start serves HTTP until ctx is cancelled, then drains connections
// within the shutdown timeout.
func (s *Server) Start(ctx context.Context) error {
	addr := net.JoinHostPort(s.host, strconv.Itoa(s.port))
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	if tcp, ok := listener.Addr().(*net.TCPAddr); ok {
		s.port = tcp.Port
	}

	httpServer := &http.Server{
		Handler:      s.router,
		ReadTimeout:  s.readTimeout,
		WriteTimeout: s.writeTimeout,
		IdleTimeout:  s.idleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.Serve(listener)
	}()

	s.logger.Info("http server listening",
		zap.String("host", s.host),
		zap.Int("port", s.port))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		s.logger.Info("http server stopped")
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve: %w", err)
	}
}
