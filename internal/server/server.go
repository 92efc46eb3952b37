package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	gosync "sync"
	"time"

	"github.com/quizhub/adminview/internal/analytics"
	"github.com/quizhub/adminview/internal/config"
	"github.com/quizhub/adminview/internal/db"
	"github.com/quizhub/adminview/internal/logger"
	"github.com/quizhub/adminview/internal/metrics"
	"github.com/quizhub/adminview/internal/sweep"
)

// VersionInfo holds build-time version metadata.
type VersionInfo struct {
	Version       string `json:"version"`
	Commit        string `json:"commit"`
	BuildDate     string `json:"build_date"`
	SchemaVersion string `json:"schema_version,omitempty"`
}

// Server is the HTTP server for the admin JSON API.
type Server struct {
	mu      gosync.RWMutex
	cfg     config.Config
	store   db.Store
	dash    *analytics.Builder
	sweeper *sweep.Sweeper
	metrics *metrics.Manager
	log     logger.Logger
	mux     *http.ServeMux
	httpSrv *http.Server
	version VersionInfo
	now     func() time.Time

	// handlerDelay is injected before each timeout-wrapped
	// handler, used only by tests to guarantee handlers
	// exceed a short timeout. Zero in production.
	handlerDelay time.Duration
}

// New creates a new Server over store.
func New(
	cfg config.Config, store db.Store, opts ...Option,
) *Server {
	s := &Server{
		cfg:     cfg,
		store:   store,
		metrics: metrics.Default(),
		log:     logger.Named("server"),
		mux:     http.NewServeMux(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.dash == nil {
		s.dash = analytics.NewBuilder(store,
			analytics.WithTopN(cfg.TopN),
			analytics.WithMetrics(s.metrics),
			analytics.WithLogger(s.log.Named("analytics")),
		)
	}
	if s.sweeper == nil {
		s.sweeper = sweep.New(store,
			sweep.WithThreshold(cfg.StaleAfter),
			sweep.WithClock(s.now),
			sweep.WithMetrics(s.metrics),
			sweep.WithLogger(s.log.Named("sweep")),
		)
	}
	s.routes()
	return s
}

// Option configures a Server.
type Option func(*Server)

// WithVersion sets the build-time version metadata.
func WithVersion(v VersionInfo) Option {
	return func(s *Server) { s.version = v }
}

// WithMetrics sets the metrics manager. Nil is ignored.
func WithMetrics(m *metrics.Manager) Option {
	return func(s *Server) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithLogger sets the request logger. Nil is ignored.
func WithLogger(l logger.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.log = l
		}
	}
}

// WithSweeper shares a sweeper with the caller, so threshold
// changes made elsewhere apply to the HTTP endpoints.
func WithSweeper(sw *sweep.Sweeper) Option {
	return func(s *Server) {
		if sw != nil {
			s.sweeper = sw
		}
	}
}

// WithBuilder overrides the dashboard builder.
func WithBuilder(b *analytics.Builder) Option {
	return func(s *Server) {
		if b != nil {
			s.dash = b
		}
	}
}

// WithClock overrides time.Now for range resolution and the
// default sweeper.
func WithClock(now func() time.Time) Option {
	return func(s *Server) {
		if now != nil {
			s.now = now
		}
	}
}

func (s *Server) routes() {
	// Preserved unversioned path for existing dashboard links.
	s.mux.Handle("GET /api/master-dashboard", s.withTimeout(s.handleMasterDashboard))

	s.mux.Handle("GET /api/v1/dashboard/games", s.withTimeout(s.handleGameDashboard))
	s.mux.Handle("GET /api/v1/dashboard/quizzes", s.withTimeout(s.handleQuizDashboard))
	s.mux.Handle("GET /api/v1/dashboard/billing", s.withTimeout(s.handleBillingSummary))
	s.mux.Handle("GET /api/v1/reports/summary", s.withTimeout(s.handleReportSummary))
	s.mux.Handle(
		"GET /api/v1/users/{id}/quiz-history", s.withTimeout(s.handleUserQuizHistory),
	)

	s.mux.Handle("GET /api/v1/profiles", s.withTimeout(s.handleListProfiles))
	s.mux.Handle("PATCH /api/v1/profiles/{id}", s.withTimeout(s.handlePatchProfile))

	s.mux.Handle("GET /api/v1/sessions/stale", s.withTimeout(s.handleListStale))
	s.mux.Handle("POST /api/v1/sessions/stale/clear", s.withTimeout(s.handleClearStale))

	s.mux.Handle("GET /api/v1/version", s.withTimeout(s.handleGetVersion))
	s.mux.Handle("GET /healthz", s.withTimeout(s.handleHealth))
	s.mux.Handle("GET /metrics", s.metrics.Handler())
}

func (s *Server) handleGetVersion(
	w http.ResponseWriter, _ *http.Request,
) {
	writeJSON(w, http.StatusOK, s.version)
}

func (s *Server) handleHealth(
	w http.ResponseWriter, r *http.Request,
) {
	if err := s.store.Ping(r.Context()); err != nil {
		if handleContextError(w, err) {
			return
		}
		s.log.Error(r.Context(), "health check failed", logger.Error(err))
		writeError(w, http.StatusServiceUnavailable, "database unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// SetPort updates the listen port (for testing).
func (s *Server) SetPort(port int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg.Port = port
}

// Reload applies the live-reloadable settings of cfg.
func (s *Server) Reload(cfg config.Config) {
	s.mu.Lock()
	s.cfg.StaleAfter = cfg.StaleAfter
	s.cfg.LogLevel = cfg.LogLevel
	s.cfg.CacheMaxAge = cfg.CacheMaxAge
	s.cfg.CacheSWR = cfg.CacheSWR
	s.mu.Unlock()
	s.sweeper.SetThreshold(cfg.StaleAfter)
}

// cacheControl returns the master dashboard Cache-Control value
// (thread-safe).
func (s *Server) cacheControl() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.CacheControl()
}

// Handler returns the http.Handler with middleware applied.
func (s *Server) Handler() http.Handler {
	return corsMiddleware(
		requestIDMiddleware(s.logMiddleware(s.metricsMiddleware(s.mux))),
	)
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	s.mu.RLock()
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	s.mu.RUnlock()
	srv := &http.Server{
		Addr:        addr,
		Handler:     s.Handler(),
		ReadTimeout: 10 * time.Second,
		IdleTimeout: 120 * time.Second,
	}
	s.mu.Lock()
	s.httpSrv = srv
	s.mu.Unlock()
	s.log.Info(context.Background(), "starting server",
		logger.String("url", fmt.Sprintf("http://%s", addr)))
	return srv.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.RLock()
	srv := s.httpSrv
	s.mu.RUnlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

// FindAvailablePort finds an available port starting from the
// given port, binding to the specified host.
func FindAvailablePort(host string, start int) int {
	for port := start; port < start+100; port++ {
		addr := net.JoinHostPort(host, strconv.Itoa(port))
		ln, err := net.Listen("tcp", addr)
		if err == nil {
			ln.Close()
			return port
		}
	}
	return start
}
