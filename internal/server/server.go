// Package server exposes stats reports over HTTP.
package server

import (
	"context"
	"fmt"
	"net/http"
	gosync "sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tripboard/tripstats/internal/auth"
	"github.com/tripboard/tripstats/internal/config"
	"github.com/tripboard/tripstats/internal/logging"
	"github.com/tripboard/tripstats/internal/metrics"
	"github.com/tripboard/tripstats/internal/stats"
)

// VersionInfo holds build-time version metadata.
type VersionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildDate string `json:"build_date"`
}

// Store is the storage handle the server reads from.
type Store interface {
	stats.Store
	Ping(ctx context.Context) error
}

// Server is the HTTP server for the stats API.
type Server struct {
	mu      gosync.RWMutex
	cfg     config.Config
	store   Store
	auth    *auth.Verifier
	engine  *stats.Engine
	breaker *reportBreaker
	mux     *http.ServeMux
	httpSrv *http.Server
	version VersionInfo

	engineOpts []stats.EngineOption
}

// New creates a new Server.
func New(
	cfg config.Config, store Store, verifier *auth.Verifier,
	opts ...Option,
) *Server {
	s := &Server{
		cfg:   cfg,
		store: store,
		auth:  verifier,
		mux:   http.NewServeMux(),
	}
	for _, opt := range opts {
		opt(s)
	}
	engineOpts := append([]stats.EngineOption{
		stats.WithReadConcurrency(cfg.Stats.ReadConcurrency),
		stats.WithReaderErrorHook(metrics.ReaderError),
	}, s.engineOpts...)
	s.engine = stats.NewEngine(store, engineOpts...)
	s.breaker = newReportBreaker(cfg.Stats)
	s.routes()
	return s
}

// Option configures a Server.
type Option func(*Server)

// WithVersion sets the build-time version metadata.
func WithVersion(v VersionInfo) Option {
	return func(s *Server) { s.version = v }
}

// WithEngineOptions passes extra options to the report engine.
func WithEngineOptions(opts ...stats.EngineOption) Option {
	return func(s *Server) {
		s.engineOpts = append(s.engineOpts, opts...)
	}
}

func (s *Server) routes() {
	statsHandler := s.rateLimit(s.withTimeout(s.handleStats))
	s.mux.Handle("GET /api/v1/stats", statsHandler)
	s.mux.Handle("GET /stats", statsHandler)
	s.mux.Handle("GET /api/v1/healthz", s.withTimeout(s.handleHealth))
	s.mux.Handle("GET /api/v1/version", s.withTimeout(s.handleGetVersion))
	s.mux.Handle("GET /metrics", promhttp.Handler())
}

func (s *Server) handleGetVersion(
	w http.ResponseWriter, _ *http.Request,
) {
	writeJSON(w, http.StatusOK, s.version)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		if handleContextError(w, err) {
			return
		}
		logging.Ctx(r.Context()).Warn().Err(err).Msg("health check failed")
		writeError(w, http.StatusServiceUnavailable, "storage unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Reload applies the runtime-tunable parts of cfg.
func (s *Server) Reload(cfg config.Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg.Stats.RequestTimeout = cfg.Stats.RequestTimeout
	s.cfg.Stats.CacheMaxAge = cfg.Stats.CacheMaxAge
	s.cfg.Log = cfg.Log
}

func (s *Server) requestTimeout() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.Stats.RequestTimeout
}

func (s *Server) cacheMaxAge() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.Stats.CacheMaxAge
}

// Handler returns the http.Handler with middleware applied.
func (s *Server) Handler() http.Handler {
	return requestIDMiddleware(logMiddleware(s.mux))
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	s.mu.RLock()
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.mu.RUnlock()
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	s.mu.Lock()
	s.httpSrv = srv
	s.mu.Unlock()
	logging.Info().Str("addr", addr).Msg("starting server")
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
