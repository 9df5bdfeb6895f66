// Package api provides the HTTP API server implementation.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/pegged-token/claimer/internal/logging"
	"github.com/pegged-token/claimer/internal/metrics"
	"github.com/pegged-token/claimer/internal/service"
)

// ClaimServiceInterface defines the claim operations exposed over HTTP
type ClaimServiceInterface interface {
	LinkWallet(ctx context.Context, address string) (*service.LinkResult, error)
	ClaimTokens(ctx context.Context) (*service.ClaimResult, error)
	SyncTokens(ctx context.Context) (*service.SyncResult, error)
	GetStats(ctx context.Context) (*service.Stats, error)
	AccrueTokens(ctx context.Context, amount int64) (*service.AccrueResult, error)
	TokenData(ctx context.Context) (*service.TokenData, error)
}

// HealthCheck probes one dependency for the health endpoint
type HealthCheck func(ctx context.Context) error

// Server represents the HTTP API server.
type Server struct {
	router       *mux.Router
	httpServer   *http.Server
	claimService ClaimServiceInterface
	checks       map[string]HealthCheck
	config       *ServerConfig
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	RequestsPerSec  int // Requests per second per client
	Burst           int
}

// NewServer creates a new API server instance.
func NewServer(config *ServerConfig, claimService ClaimServiceInterface, checks map[string]HealthCheck) *Server {
	s := &Server{
		router:       mux.NewRouter(),
		claimService: claimService,
		checks:       checks,
		config:       config,
	}

	s.setupRouter()

	return s
}

// setupRouter configures the router with middleware and routes
func (s *Server) setupRouter() {
	rateLimiter := NewRateLimiter(s.config.RequestsPerSec, s.config.Burst)

	// Order matters: request ids and recovery wrap everything else
	s.router.Use(RequestIDMiddleware)
	s.router.Use(LoggingMiddleware)
	s.router.Use(RecoveryMiddleware)
	s.router.Use(metrics.InstrumentHandler)
	s.router.Use(CORSMiddleware)

	s.setupRoutes(RateLimitMiddleware(rateLimiter))

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%s", s.config.Host, s.config.Port),
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}
}

// setupRoutes configures all API routes.
func (s *Server) setupRoutes(limit mux.MiddlewareFunc) {
	// Health and metrics are not rate limited
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
	s.router.Handle("/metrics", metrics.Handler()).Methods("GET")

	api := s.router.PathPrefix("/api").Subrouter()
	api.Use(limit)

	// Claim endpoints
	api.HandleFunc("/claim", s.handleClaim).Methods("POST", "OPTIONS")
	api.HandleFunc("/wallet/link", s.handleLinkWallet).Methods("POST", "OPTIONS")
	api.HandleFunc("/stats", s.handleStats).Methods("GET", "OPTIONS")
	api.HandleFunc("/sync", s.handleSync).Methods("POST", "OPTIONS")

	// Token record endpoints
	api.HandleFunc("/tokens", s.handleTokenData).Methods("GET", "OPTIONS")
	api.HandleFunc("/tokens/accrue", s.handleAccrue).Methods("POST", "OPTIONS")
}

// Handler returns the configured router
func (s *Server) Handler() http.Handler {
	return s.router
}

// handleHealth reports healthy when every dependency check passes
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := http.StatusOK
	deps := make(map[string]string, len(s.checks))
	for name, check := range s.checks {
		if err := check(ctx); err != nil {
			logging.FromContext(r.Context()).WithError(err).WithField("dependency", name).Warn("Health check failed")
			deps[name] = "unhealthy"
			status = http.StatusServiceUnavailable
			continue
		}
		deps[name] = "healthy"
	}

	overall := "healthy"
	if status != http.StatusOK {
		overall = "degraded"
	}
	respondJSON(w, status, map[string]interface{}{
		"status":       overall,
		"service":      "claimer",
		"dependencies": deps,
	})
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	logging.Infof("Starting API server on %s", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	logging.Info("Shutting down API server...")
	return s.httpServer.Shutdown(ctx)
}
