// Package api exposes the pipeline's operational HTTP surface: batch
// lifecycle control, status, memory pressure, and a forced cache sweep,
// plus a Prometheus scrape endpoint. It intentionally does not carry the
// rest of a wallet-tracking service's REST API (portfolios, users,
// webhooks) — those sit outside this core (spec §1 scope).
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/address-scanner/internal/batchproc"
	"github.com/address-scanner/internal/logging"
)

// Server is the operational HTTP surface.
type Server struct {
	router     *mux.Router
	httpServer *http.Server
	processor  *batchproc.Processor
	config     *ServerConfig
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	RateLimitRPS    int
	RateLimitBurst  int
}

// NewServer builds the operational HTTP surface over an already-wired
// batch Processor.
func NewServer(config *ServerConfig, processor *batchproc.Processor) *Server {
	s := &Server{
		router:    mux.NewRouter(),
		processor: processor,
		config:    config,
	}

	s.setupRouter()
	return s
}

func (s *Server) setupRouter() {
	rateLimiter := NewRateLimiter(s.config.RateLimitRPS, s.config.RateLimitBurst)

	s.router.Use(LoggingMiddleware)
	s.router.Use(RecoveryMiddleware)
	s.router.Use(CORSMiddleware)
	s.router.Use(RateLimitMiddleware(rateLimiter))
	s.router.Use(CompressionMiddleware)

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%s", s.config.Host, s.config.Port),
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/batch/health", s.handleHealth).Methods("GET")

	batch := s.router.PathPrefix("/batch").Subrouter()
	batch.HandleFunc("/start", s.handleBatchStart).Methods("POST")
	batch.HandleFunc("/stop", s.handleBatchStop).Methods("POST")
	batch.HandleFunc("/status", s.handleBatchStatus).Methods("GET")
	batch.HandleFunc("/metrics", s.handleBatchStatus).Methods("GET")
	batch.HandleFunc("/memory-status", s.handleMemoryStatus).Methods("GET")
	batch.HandleFunc("/cache-cleanup", s.handleCacheCleanup).Methods("POST")

	s.router.Handle("/metrics", promhttp.Handler()).Methods("GET")
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	logging.Infof("starting operational HTTP surface on %s", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	logging.Info("shutting down operational HTTP surface")
	return s.httpServer.Shutdown(ctx)
}
