// Package api serves queue statistics, Prometheus metrics and job events
// over HTTP, and accepts layer job submissions from authenticated clients.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mattjoyce/layerqueue/internal/auth"
	"github.com/mattjoyce/layerqueue/internal/events"
	"github.com/mattjoyce/layerqueue/internal/job"
	"github.com/mattjoyce/layerqueue/internal/metrics"
)

// Dispatcher is the job queue served by the API.
type Dispatcher interface {
	Add(j job.Job)
	Remove(j job.Job)
	Cleanup(force bool)
	QueueSize() int
	MaxQueueLength() int
	QueuedJobNames() []string
	MetricsRegistry() *metrics.Collector
}

// LayerRequest identifies one layer job.
type LayerRequest struct {
	LayerID string
	Type    job.Type
	Session string
	Params  url.Values
}

// LayerFactory builds the job for a layer request.
type LayerFactory func(req LayerRequest) (job.Job, error)

// DatasourceChecker provisions module pools.
type DatasourceChecker interface {
	Check(ctx context.Context, module string) bool
	Ping(ctx context.Context) error
}

// WorkerReporter reports worker pool activity.
type WorkerReporter interface {
	Running() int
	JobCount() int64
}

// BreakerReporter reports circuit breaker state per group.
type BreakerReporter interface {
	BreakerStates() map[string]string
}

// Config holds API server configuration.
type Config struct {
	Listen string
	// APIKey is a single bearer token with full access.
	APIKey string
	// Tokens is an optional list of scoped bearer tokens.
	Tokens []auth.TokenConfig
}

// Server is the HTTP API server.
type Server struct {
	config      Config
	queue       Dispatcher
	layers      LayerFactory
	datasources DatasourceChecker
	breakers    BreakerReporter
	workers     WorkerReporter
	events      *events.Hub
	logger      *slog.Logger
	server      *http.Server
	startedAt   time.Time
}

// Option configures optional Server collaborators.
type Option func(*Server)

func WithDatasources(d DatasourceChecker) Option {
	return func(s *Server) { s.datasources = d }
}

func WithBreakers(b BreakerReporter) Option {
	return func(s *Server) { s.breakers = b }
}

func WithWorkers(w WorkerReporter) Option {
	return func(s *Server) { s.workers = w }
}

// New creates a new API server instance.
func New(config Config, queue Dispatcher, layers LayerFactory, hub *events.Hub, logger *slog.Logger, opts ...Option) *Server {
	s := &Server{
		config:    config,
		queue:     queue,
		layers:    layers,
		events:    hub,
		logger:    logger,
		startedAt: time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              s.config.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	s.logger.Info("API server starting", "listen", s.config.Listen)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("API server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return nil
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealthz)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.queue.MetricsRegistry().Gatherer(), promhttp.HandlerOpts{}))

	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)
		r.With(s.requireScopes(auth.ScopeQueueRO)).Get("/queue", s.handleQueue)
		r.With(s.requireScopes(auth.ScopeQueueRW)).Post("/queue/cleanup", s.handleCleanup)
		r.With(s.requireScopes(auth.ScopeLayersRW)).Post("/layers/{layerID}/jobs/{type}", s.handleSubmitLayer)
		r.With(s.requireScopes(auth.ScopeLayersRW)).Delete("/layers/{layerID}/jobs/{type}", s.handleRemoveLayer)
		r.With(s.requireScopes(auth.ScopeQueueRW)).Post("/datasources/{module}/check", s.handleCheckDatasource)
		r.With(s.requireScopes(auth.ScopeEventsRO)).Get("/events", s.handleEvents)
	})

	return r
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
