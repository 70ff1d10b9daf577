package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mattjoyce/busdispatch/internal/dispatch"
	"github.com/mattjoyce/busdispatch/internal/events"
	"github.com/mattjoyce/busdispatch/internal/ledger"
	"github.com/mattjoyce/busdispatch/internal/metrics"
	"github.com/mattjoyce/busdispatch/internal/roster"
)

// DayStarter starts a day's dispatch and exposes the day's roster.
type DayStarter interface {
	StartDay(ctx context.Context, day string, count int) (*dispatch.Outcome, error)
	Eligible(ctx context.Context, day string) ([]roster.EligibleWorker, error)
}

// RunReader reads recorded dispatch runs.
type RunReader interface {
	Get(ctx context.Context, id string) (*ledger.Run, error)
	List(ctx context.Context, limit int) ([]*ledger.Run, error)
}

// ChannelCounter reports how many dispatch channels are open.
type ChannelCounter interface {
	Len() int
}

// Config holds API server configuration
type Config struct {
	Listen string
	APIKey string
}

// Server represents the HTTP API server
type Server struct {
	config    Config
	days      DayStarter
	runs      RunReader
	channels  ChannelCounter
	events    *events.Hub
	validate  *validator.Validate
	logger    *slog.Logger
	server    *http.Server
	startedAt time.Time
}

// New creates a new API server instance. channels may be nil.
func New(config Config, days DayStarter, runs RunReader, channels ChannelCounter, hub *events.Hub, logger *slog.Logger) *Server {
	if hub == nil {
		hub = events.NewHub(256)
	}
	return &Server{
		config:    config,
		days:      days,
		runs:      runs,
		channels:  channels,
		events:    hub,
		validate:  validator.New(validator.WithRequiredStructEnabled()),
		logger:    logger,
		startedAt: time.Now(),
	}
}

// Start starts the HTTP server (blocking)
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         s.config.Listen,
		Handler:      s.setupRoutes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  60 * time.Second,
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
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
}

// setupRoutes configures the HTTP router
func (s *Server) setupRoutes() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	// Unauthenticated ops endpoints.
	r.Get("/healthz", s.handleHealthz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)
		r.Post("/day/{day}/start", s.handleStartDay)
		r.Get("/roster/{day}", s.handleRoster)
		r.Get("/runs", s.handleListRuns)
		r.Get("/runs/{runID}", s.handleGetRun)
		r.Get("/events", s.handleListEvents)
	})
	r.With(s.streamAuthMiddleware).Get("/events/stream", s.handleEvents)

	return r
}

// loggingMiddleware logs HTTP requests and counts them by route pattern.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		pattern := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			pattern = rctx.RoutePattern()
		}
		metrics.HTTPRequestsTotal.WithLabelValues(pattern, r.Method, strconv.Itoa(ww.Status())).Inc()

		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
