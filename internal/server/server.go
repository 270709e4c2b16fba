// Package server exposes a playground session over HTTP and WebSocket and
// serves the embedded editor page.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/michaelbrown/playground/internal/monitoring"
	"github.com/michaelbrown/playground/internal/playground"
	"github.com/michaelbrown/playground/internal/storage"
)

// Options wires a Server to a playground. Store and Metrics may be nil.
type Options struct {
	Session      *playground.Session
	Log          *playground.OutputLog
	Orchestrator *playground.Orchestrator
	Store        storage.Store
	Metrics      *monitoring.Metrics
	Logger       *zap.Logger

	Backend     string
	InitialCode string
}

// Server is the HTTP server for the playground.
type Server struct {
	session     *playground.Session
	log         *playground.OutputLog
	orch        *playground.Orchestrator
	store       storage.Store
	metrics     *monitoring.Metrics
	logger      *zap.Logger
	backend     string
	initialCode string

	ctx    context.Context
	cancel context.CancelFunc
	router chi.Router
	http   *http.Server
}

// New creates a new Server.
func New(opts Options) *Server {
	s := &Server{
		session:     opts.Session,
		log:         opts.Log,
		orch:        opts.Orchestrator,
		store:       opts.Store,
		metrics:     opts.Metrics,
		logger:      opts.Logger,
		backend:     opts.Backend,
		initialCode: opts.InitialCode,
		router:      chi.NewRouter(),
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	r := s.router

	r.Use(middleware.RequestID)
	r.Use(requestLogger(s.logger))
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Get("/ws", s.handleWebSocket)

		r.Group(func(r chi.Router) {
			r.Use(jsonContentType)

			r.Get("/status", s.handleStatus)
			r.Get("/config", s.handleConfig)
			r.Get("/output", s.handleOutput)
			r.Post("/run", s.handleRun)

			r.Get("/runs", s.handleListRuns)
			r.Get("/runs/{id}", s.handleGetRun)
		})
	})

	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler())
	}

	r.Handle("/*", spaHandler())
}

// runContext outlives individual requests and ends at Shutdown.
func (s *Server) runContext() context.Context { return s.ctx }

// Handler returns the root handler.
func (s *Server) Handler() http.Handler { return s.router }

// jsonContentType sets Content-Type to application/json for API routes.
func jsonContentType(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

// requestLogger logs one line per request once it completes.
func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				logger.Debug("http request",
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.Int("status", ww.Status()),
					zap.Int("bytes", ww.BytesWritten()),
					zap.Duration("elapsed", time.Since(start)),
					zap.String("request_id", middleware.GetReqID(r.Context())))
			}()
			next.ServeHTTP(ww, r)
		})
	}
}

// Start begins listening on the given port.
func (s *Server) Start(port int) error {
	addr := fmt.Sprintf(":%d", port)
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info("playground server starting", zap.String("url", "http://localhost"+addr))
	return s.http.ListenAndServe()
}

// Shutdown gracefully shuts down the server and releases the sandbox.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	s.cancel()

	var err error
	if s.http != nil {
		err = s.http.Shutdown(shutdownCtx)
	}
	if closeErr := s.session.Close(); closeErr != nil {
		s.logger.Warn("closing sandbox", zap.Error(closeErr))
	}
	return err
}
