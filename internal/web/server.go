// Package web exposes the pipelines over HTTP as a small JSON API: connect
// and disconnect sessions, upload files, list tables, and ask questions.
// Rendering lives entirely with the client; this layer only translates
// between HTTP and the pipeline packages.
package web

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/blacksamuraiiii/xiyan-web/internal/config"
	"github.com/blacksamuraiiii/xiyan-web/internal/ingest"
	"github.com/blacksamuraiiii/xiyan-web/internal/query"
	"github.com/blacksamuraiiii/xiyan-web/internal/session"
)

// Server is the HTTP front of the import and query pipelines.
type Server struct {
	cfg      config.Config
	registry *session.Registry
	importer *ingest.Importer
	pipeline *query.Pipeline
	router   *chi.Mux
	server   *http.Server
}

// NewServer wires the API around an already-constructed registry, importer
// and query pipeline.
func NewServer(cfg config.Config, registry *session.Registry, importer *ingest.Importer, pipeline *query.Pipeline) *Server {
	s := &Server{
		cfg:      cfg,
		registry: registry,
		importer: importer,
		pipeline: pipeline,
		router:   chi.NewRouter(),
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(5 * time.Minute))
}

func (s *Server) setupRoutes() {
	s.router.Get("/healthz", s.handleHealth)

	s.router.Route("/api", func(r chi.Router) {
		r.Post("/sessions", s.handleConnect)

		r.Route("/sessions/{sessionID}", func(r chi.Router) {
			r.Delete("/", s.handleDisconnect)
			r.Post("/files", s.handleUpload)
			r.Get("/tables", s.handleTables)
			r.Get("/history", s.handleHistory)
			r.Post("/queries", s.handleAsk)
		})
	})
}

// Handler returns the root handler, mainly for tests.
func (s *Server) Handler() http.Handler { return s.router }

// ListenAndServe runs the server until ctx is canceled, then shuts down
// gracefully within the configured timeout.
func (s *Server) ListenAndServe(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port),
		Handler:      s.router,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- s.server.ListenAndServe() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
	defer cancel()
	return s.server.Shutdown(shutdownCtx)
}
