package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"

	mw "github.com/lightvibes/biomap/internal/api/middleware"
	v1 "github.com/lightvibes/biomap/internal/api/v1"
	"github.com/lightvibes/biomap/internal/conf"
	"github.com/lightvibes/biomap/internal/logger"
	"github.com/lightvibes/biomap/internal/observability"
)

const healthCheckTimeout = 3 * time.Second

// HealthChecker reports whether a backing service is reachable.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// Server is the biomap HTTP server.
type Server struct {
	echo     *echo.Echo
	config   *Config
	settings *conf.Settings
	log      logger.Logger

	searcher  v1.SpeciesSearcher
	fetcher   v1.OccurrenceFetcher
	predictor v1.Predictor
	history   v1.History
	metrics   *observability.Metrics
	checks    map[string]HealthChecker
	version   string

	apiController *v1.Controller

	startTime time.Time
}

// ServerOption is a functional option for configuring the Server.
type ServerOption func(*Server)

// WithMetrics enables request metrics and the Prometheus endpoint.
func WithMetrics(m *observability.Metrics) ServerOption {
	return func(s *Server) { s.metrics = m }
}

// WithPredictor enables the prediction endpoint.
func WithPredictor(p v1.Predictor) ServerOption {
	return func(s *Server) { s.predictor = p }
}

// WithHistory enables the prediction history endpoints.
func WithHistory(h v1.History) ServerOption {
	return func(s *Server) { s.history = h }
}

// WithHealthChecker adds a dependency to the /health report.
func WithHealthChecker(name string, hc HealthChecker) ServerOption {
	return func(s *Server) {
		if s.checks == nil {
			s.checks = make(map[string]HealthChecker)
		}
		s.checks[name] = hc
	}
}

// WithVersion sets the version reported by /health.
func WithVersion(v string) ServerOption {
	return func(s *Server) { s.version = v }
}

// New creates the server and registers every route.
func New(settings *conf.Settings, searcher v1.SpeciesSearcher, fetcher v1.OccurrenceFetcher, opts ...ServerOption) (*Server, error) {
	config := ConfigFromSettings(settings)
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid server configuration: %w", err)
	}

	s := &Server{
		config:    config,
		settings:  settings,
		log:       GetLogger(),
		searcher:  searcher,
		fetcher:   fetcher,
		startTime: time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.echo = echo.New()
	s.echo.HideBanner = true
	s.echo.HidePort = true
	s.echo.Server.ReadTimeout = config.ReadTimeout
	s.echo.Server.IdleTimeout = config.IdleTimeout

	s.setupMiddleware()
	s.setupRoutes()

	s.log.Info("HTTP server initialized",
		logger.String("address", config.Address()),
		logger.Bool("metrics", config.MetricsEnabled),
		logger.Bool("debug", config.Debug))

	return s, nil
}

func (s *Server) setupMiddleware() {
	s.echo.Use(echomw.Recover())

	// probes and scrapes would drown the request log
	s.echo.Use(mw.NewRequestLoggerWithSkipper(s.log, func(c echo.Context) bool {
		p := c.Request().URL.Path
		return p == "/health" || p == s.config.MetricsPath
	}))

	securityConfig := mw.DefaultSecurityConfig()
	securityConfig.AllowedOrigins = s.config.AllowedOrigins

	s.echo.Use(mw.NewCORS(securityConfig))
	s.echo.Use(mw.NewBodyLimit(s.config.BodyLimit))
	s.echo.Use(mw.NewGzip())
	s.echo.Use(mw.NewSecureHeaders(securityConfig))

	if s.metrics != nil {
		s.echo.Use(mw.NewMetrics(s.metrics.HTTP))
	}
}

func (s *Server) setupRoutes() {
	s.echo.GET("/health", s.healthCheck)

	if s.config.MetricsEnabled && s.metrics != nil {
		s.echo.GET(s.config.MetricsPath, echo.WrapHandler(s.metrics.Handler()))
	}

	var opts []v1.Option
	if s.predictor != nil {
		opts = append(opts, v1.WithPredictor(s.predictor))
	}
	if s.history != nil {
		opts = append(opts, v1.WithHistory(s.history))
	}
	if s.metrics != nil {
		opts = append(opts, v1.WithMetrics(s.metrics.HTTP))
	}
	s.apiController = v1.New(s.echo, s.settings, s.searcher, s.fetcher, opts...)

	s.log.Debug("Routes initialized",
		logger.String("api_version", "v1"),
		logger.Int("routes", len(s.echo.Routes())))
}

// HealthResponse is the body of /health.
type HealthResponse struct {
	Status           string            `json:"status"`
	Name             string            `json:"name,omitempty"`
	Version          string            `json:"version,omitempty"`
	Uptime           string            `json:"uptime"`
	UptimeSeconds    float64           `json:"uptime_seconds"`
	Timestamp        string            `json:"timestamp"`
	PlaybackSessions int               `json:"playback_sessions"`
	MemoryUsedPct    float64           `json:"memory_used_percent,omitempty"`
	ProcessRSS       uint64            `json:"process_rss_bytes,omitempty"`
	Dependencies     map[string]string `json:"dependencies,omitempty"`
}

// healthCheck reports uptime, memory and the state of optional dependencies.
// A failing dependency degrades the status but still answers 200.
func (s *Server) healthCheck(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), healthCheckTimeout)
	defer cancel()

	uptime := time.Since(s.startTime)
	resp := HealthResponse{
		Status:           "healthy",
		Name:             s.settings.Main.Name,
		Version:          s.version,
		Uptime:           uptime.Truncate(time.Second).String(),
		UptimeSeconds:    uptime.Seconds(),
		Timestamp:        time.Now().Format(time.RFC3339),
		PlaybackSessions: s.apiController.Sessions().Count(),
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		resp.MemoryUsedPct = vm.UsedPercent
	} else {
		s.log.Debug("memory stats unavailable", logger.Error(err))
	}
	if p, err := process.NewProcessWithContext(ctx, int32(os.Getpid())); err == nil { //nolint:gosec // pid fits in int32
		if mi, err := p.MemoryInfoWithContext(ctx); err == nil {
			resp.ProcessRSS = mi.RSS
		}
	}

	if len(s.checks) > 0 {
		resp.Dependencies = make(map[string]string, len(s.checks))
		for name, hc := range s.checks {
			if err := hc.Health(ctx); err != nil {
				resp.Dependencies[name] = err.Error()
				resp.Status = "degraded"
				continue
			}
			resp.Dependencies[name] = "ok"
		}
	}

	return c.JSON(http.StatusOK, resp)
}

// Start serves HTTP in a background goroutine and returns immediately.
func (s *Server) Start() {
	go func() {
		if err := s.startBlocking(); err != nil {
			s.log.Error("Server error", logger.Error(err))
		}
	}()
}

func (s *Server) startBlocking() error {
	addr := s.config.Address()
	s.log.Info("Starting HTTP server", logger.String("address", addr))

	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// StartWithGracefulShutdown starts the server and shuts it down on SIGINT
// or SIGTERM, or when ctx is cancelled.
func (s *Server) StartWithGracefulShutdown(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() { errCh <- s.startBlocking() }()

	select {
	case err := <-errCh:
		if err != nil {
			s.apiController.Shutdown()
			return err
		}
	case <-ctx.Done():
		s.log.Info("Shutdown signal received, initiating graceful shutdown")
	}
	return s.Shutdown()
}

// Shutdown closes event streams and playback sessions, then stops the
// listener within the configured timeout.
func (s *Server) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()

	if s.apiController != nil {
		s.apiController.Shutdown()
	}

	if err := s.echo.Shutdown(ctx); err != nil {
		s.log.Error("Error during server shutdown", logger.Error(err))
		return fmt.Errorf("shutdown error: %w", err)
	}

	s.log.Info("Server shutdown complete")
	return nil
}

// Echo returns the underlying Echo instance.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

// APIController returns the v1 controller.
func (s *Server) APIController() *v1.Controller {
	return s.apiController
}
