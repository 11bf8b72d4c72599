// Package server provides the read-only HTTP API over a vault snapshot.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/hyperjump/kioku/internal/config"
	"github.com/hyperjump/kioku/internal/models"
	"github.com/hyperjump/kioku/internal/reader"
)

// Backend answers the queries the API exposes.
type Backend interface {
	Search(ctx context.Context, query *models.SearchQuery) (*models.SearchResponse, error)
	Related(ctx context.Context, id string, limit int, boost bool) ([]*models.SearchResult, error)
	GetRecord(ctx context.Context, id string) (*models.Record, error)
	Status() *reader.Status
}

// Server is the HTTP server for the kioku query API.
type Server struct {
	backend Backend
	config  *config.ServerConfig
	search  *config.SearchConfig
	logger  *zap.Logger
	server  *http.Server
}

// NewServer creates a server answering from backend.
func NewServer(backend Backend, cfg *config.Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		backend: backend,
		config:  &cfg.Server,
		search:  &cfg.Search,
		logger:  logger,
	}
}

// Handler returns the router with all routes and middleware.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(middleware.Compress(5))

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/search", s.handleSearchGet)
		r.Post("/search", s.handleSearch)
		r.Get("/notes/*", s.handleGetNote)
		r.Get("/related/*", s.handleRelated)
		r.Get("/status", s.handleStatus)
	})
	r.Get("/health", s.handleHealth)
	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("Starting server", zap.String("addr", addr))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}
