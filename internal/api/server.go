// Package api exposes the orchestration engine over HTTP. Handlers are
// thin: they decode requests, call the engine or the platform client, record
// history, and map errors to status codes.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/seantiz/lakerun/internal/engine"
	"github.com/seantiz/lakerun/internal/platform"
	"github.com/seantiz/lakerun/internal/poll"
	"github.com/seantiz/lakerun/internal/store"
)

const (
	shutdownTimeout   = 10 * time.Second
	readHeaderTimeout = 10 * time.Second

	// Write timeout applies to plain handlers; waiting endpoints and SSE
	// lift it per-connection via http.NewResponseController.
	writeTimeout = 30 * time.Second
)

// Server wraps the chi router and application dependencies.
type Server struct {
	router   *chi.Mux
	engine   *engine.Engine
	client   *platform.Client
	history  store.Store
	logger   *slog.Logger
	addr     string
	pollOpts poll.Options
}

// NewServer creates and configures a new HTTP server. pollOpts are the
// default wait bounds; individual requests may override them.
func NewServer(addr string, eng *engine.Engine, client *platform.Client, history store.Store, pollOpts poll.Options, logger *slog.Logger) *Server {
	srv := &Server{
		router:   chi.NewRouter(),
		engine:   eng,
		client:   client,
		history:  history,
		logger:   logger,
		addr:     addr,
		pollOpts: pollOpts,
	}

	srv.router.Use(middleware.RequestID)
	srv.router.Use(middleware.Recoverer)
	srv.router.Use(srv.loggingMiddleware)
	srv.router.Use(metricsMiddleware)
	srv.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders: []string{"X-Request-Id"},
		MaxAge:         600,
	}))

	srv.routes()

	return srv
}

// routes registers all HTTP routes on the router.
func (s *Server) routes() {
	s.router.Get("/healthz", s.handleHealthz)
	s.router.Handle("/metrics", metricsHandler())

	s.router.Route("/v1/contexts", func(r chi.Router) {
		r.Post("/", s.handleCreateContext)
		r.Get("/{id}", s.handleValidateContext)
		r.Delete("/{id}", s.handleDestroyContext)
	})

	s.router.Route("/v1/commands", func(r chi.Router) {
		r.Post("/", s.handleSubmitCommand)
		r.Post("/run", s.handleRunCommandOnce)
		r.Post("/{id}/wait", s.handleWaitCommand)
		r.Post("/{id}/cancel", s.handleCancelCommand)
	})

	s.router.Route("/v1/statements", func(r chi.Router) {
		r.Post("/", s.handleSubmitStatement)
		r.Post("/execute", s.handleExecuteStatement)
		r.Post("/{id}/wait", s.handleWaitStatement)
		r.Get("/{id}/pages/{token}", s.handleStatementPage)
		r.Post("/{id}/cancel", s.handleCancelStatement)
	})

	s.router.Route("/v1/runs", func(r chi.Router) {
		r.Post("/", s.handleSubmitRun)
		r.Get("/{id}", s.handleGetRun)
		r.Post("/{id}/wait", s.handleWaitRun)
		r.Post("/{id}/cancel", s.handleCancelRun)
		r.Get("/{id}/output", s.handleRunOutput)
	})

	s.router.Route("/v1/jobs", func(r chi.Router) {
		r.Get("/", s.handleListJobs)
		r.Get("/{id}", s.handleGetJob)
		r.Post("/{id}/run-now", s.handleRunJobNow)
	})

	s.router.Route("/v1/clusters", func(r chi.Router) {
		r.Get("/", s.handleListClusters)
		r.Get("/{id}", s.handleGetCluster)
		r.Post("/{id}/start", s.handleStartCluster)
		r.Post("/{id}/terminate", s.handleTerminateCluster)
		r.Post("/{id}/restart", s.handleRestartCluster)
	})

	s.router.Route("/v1/workspace", func(r chi.Router) {
		r.Get("/", s.handleListWorkspace)
		r.Get("/export", s.handleExportNotebook)
	})

	s.router.Get("/v1/operations", s.handleListOperations)
	s.router.Get("/v1/operations/{id}", s.handleGetOperation)
	s.router.Get("/v1/stats", s.handleGetStats)

	s.router.Get("/v1/events/{kind}/{id}", s.handleStreamEvents)
}

// Router returns the chi router for route registration.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Run serves HTTP until SIGINT or SIGTERM, then drains in-flight requests.
// Long-running waits that outlive the shutdown window are cut off; their poll
// loops observe the dropped request context and stop.
func (s *Server) Run() error {
	httpServer := &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: readHeaderTimeout,
		WriteTimeout:      writeTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)
	go func() {
		s.logger.Info("server listening", "addr", s.addr)
		serveErr <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
		s.logger.Info("shutdown signal received")
	}

	drainCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(drainCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}

	s.logger.Info("server stopped")
	return nil
}

// loggingMiddleware emits one structured line per completed request.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()

		next.ServeHTTP(ww, r)

		s.logger.Info("http request",
			"request_id", middleware.GetReqID(r.Context()),
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

// writeEngineError maps engine, poll, and platform errors to status codes.
func (s *Server) writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, engine.ErrUnsupportedLanguage),
		errors.Is(err, engine.ErrNoWarehouse),
		errors.Is(err, engine.ErrBadPageToken):
		s.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, engine.ErrContextLost):
		s.writeError(w, http.StatusGone, err.Error())
	case errors.Is(err, engine.ErrInvalidContext):
		s.writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, poll.ErrTimedOut):
		s.writeError(w, http.StatusGatewayTimeout, err.Error())
	case errors.Is(err, poll.ErrCancelled), errors.Is(err, context.Canceled):
		// Client gave up; the status code is for the log line only.
		s.writeError(w, http.StatusGatewayTimeout, err.Error())
	case platform.IsNotFound(err):
		s.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, poll.ErrExhausted), errors.Is(err, poll.ErrAborted), platform.IsTransient(err), platform.IsPermanent(err):
		s.writeError(w, http.StatusBadGateway, err.Error())
	default:
		s.logger.Error("request failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// parseIntQuery parses an integer query parameter with a default value.
func parseIntQuery(r *http.Request, key string, defaultVal int) int {
	q := r.URL.Query().Get(key)
	if q == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(q)
	if err != nil {
		return defaultVal
	}
	return v
}
