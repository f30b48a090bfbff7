// Package server provides the HTTP API for gamesense.
package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/hyperjump/gamesense/internal/config"
	"github.com/hyperjump/gamesense/internal/ingest"
	"github.com/hyperjump/gamesense/internal/metrics"
	"go.uber.org/zap"
)

// WatchService manages inbox directories at runtime. Implemented by watcher.Watcher.
type WatchService interface {
	Directories() []string
	AddDirectory(path string, syncExisting bool) error
	RemoveDirectory(path string) error
}

// GameLookup answers fuzzy game-name queries. Implemented by catalog.Catalog.
type GameLookup interface {
	Suggest(query string, limit int) ([]string, error)
}

// Server is the HTTP server for the gamesense API.
type Server struct {
	ingester   *ingest.Ingester
	config     *config.Config
	logger     *zap.Logger
	games      GameLookup
	metrics    *metrics.Metrics
	watch      WatchService
	configPath string
	configMu   sync.Mutex
	server     *http.Server
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithGameLookup enables GET /games.
func WithGameLookup(g GameLookup) ServerOption {
	return func(s *Server) { s.games = g }
}

// WithMetrics enables request instrumentation and GET /metrics.
func WithMetrics(m *metrics.Metrics) ServerOption {
	return func(s *Server) { s.metrics = m }
}

// WithWatch enables the watch directory API. When configPath is set, changes are written back
// to the config file.
func WithWatch(w WatchService, configPath string) ServerOption {
	return func(s *Server) {
		s.watch = w
		s.configPath = configPath
	}
}

// NewServer creates a server with the given dependencies.
func NewServer(ingester *ingest.Ingester, cfg *config.Config, logger *zap.Logger, opts ...ServerOption) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		ingester: ingester,
		config:   cfg,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	if s.metrics != nil {
		r.Use(s.metrics.Middleware)
	}
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.config.Server.CORSAllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"*"},
		MaxAge:         300,
	}))

	r.Group(func(r chi.Router) {
		if rate := s.config.Server.UploadRatePerMinute; rate > 0 {
			r.Use(httprate.LimitByIP(rate, time.Minute))
		}
		r.Post("/upload", s.handleUpload)
		r.Post("/upload/", s.handleUpload)
	})

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(60 * time.Second))
		r.Use(middleware.Compress(5, "application/json"))
		r.Get("/stats", s.handleStats)
		r.Get("/visualize_clusters", s.handleVisualize)
		r.Get("/games", s.handleGames)
		r.Get("/health", s.handleHealth)
		r.Get("/api/v1/status", s.handleStatus)
		r.Get("/api/v1/watch/directories", s.handleWatchDirectoriesList)
		r.Post("/api/v1/watch/directories", s.handleWatchDirectoriesAdd)
		r.Delete("/api/v1/watch/directories", s.handleWatchDirectoriesRemove)
	})

	static := http.StripPrefix("/static/", http.FileServer(http.Dir(s.config.Visualize.StaticDir)))
	r.Get("/static/*", static.ServeHTTP)

	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}
	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
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
