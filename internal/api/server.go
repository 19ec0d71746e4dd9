package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/mattjoyce/trestle/pipeline"
	"github.com/mattjoyce/trestle/step"
)

//go:generate mockgen -destination=mocks/mock_store.go -package=mocks github.com/mattjoyce/trestle/internal/api ResultStore

// ResultStore defines the interface for cached step results used by
// run-scoped invocations. *results.Store satisfies it.
type ResultStore interface {
	Gather(ctx context.Context, runID string, steps []string) (string, []string, error)
	Put(ctx context.Context, runID, stepName, result string) error
}

// Config holds API server configuration
type Config struct {
	Listen string
	// APIKey is the bearer token protecting the /v1 routes. Empty means
	// the API runs unauthenticated; trestle check warns about that.
	APIKey string
}

// Server represents the HTTP API server
type Server struct {
	config    Config
	steps     *step.Registry
	pipelines *pipeline.Registry
	store     ResultStore
	logger    *slog.Logger
	server    *http.Server
	startedAt time.Time
}

// New creates a new API server instance. store may be nil, in which case
// run-scoped invocations are rejected.
func New(config Config, steps *step.Registry, pipelines *pipeline.Registry, store ResultStore, logger *slog.Logger) *Server {
	return &Server{
		config:    config,
		steps:     steps,
		pipelines: pipelines,
		store:     store,
		logger:    logger,
		startedAt: time.Now(),
	}
}

// Start starts the HTTP server (blocking)
func (s *Server) Start(ctx context.Context) error {
	router := s.setupRoutes()

	s.server = &http.Server{
		Addr:         s.config.Listen,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Minute, // step handlers run inline; allow slow ones
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("API server starting", "listen", s.config.Listen)

	// Run server in a goroutine
	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// Wait for context cancellation or server error
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

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	// Routes
	// Unauthenticated ops endpoint.
	r.Get("/healthz", s.handleHealthz)

	// Protected API.
	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)
		r.Get("/v1/steps", s.handleListSteps)
		r.Get("/v1/steps/{step}", s.handleGetStep)
		r.Post("/v1/steps/{step}/invoke", s.handleInvokeStep)
		r.Get("/v1/pipelines", s.handleListPipelines)
		r.Get("/v1/pipelines/{pipeline}", s.handleGetPipeline)
		r.Get("/v1/dsl", s.handleDSL)
	})

	return r
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
