package api

import (
	"context"
	"crypto/tls"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"snippet-runner/internal/config"
	"snippet-runner/internal/monitor"
)

// Server is the HTTP front of the snippet runner.
type Server struct {
	httpServer *http.Server
	router     chi.Router
	limiter    *RateLimiter
	cfg        *config.Config
}

// NewServer creates and configures the HTTP server with all routes and middleware.
func NewServer(cfg *config.Config, handlers *Handlers, metrics *monitor.Metrics) *Server {
	s := &Server{
		router:  chi.NewRouter(),
		limiter: NewRateLimiter(cfg.Security.RateLimitRPS, cfg.Security.RateLimitBurst, metrics),
		cfg:     cfg,
	}

	if len(cfg.Security.AllowedKeys) == 0 {
		log.Warn().Msg("no API keys configured, execution endpoints are open")
	}

	r := s.router
	// Outermost first.
	r.Use(RecoveryMiddleware)
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware)
	r.Use(chimiddleware.CleanPath)
	r.Use(SecurityHeadersMiddleware)
	r.Use(CORSMiddleware(cfg.Security.AllowedOrigins, cfg.Security.APIKeyHeader))
	r.Use(MaxBodyMiddleware(cfg.Server.MaxRequestBody))
	r.Use(s.limiter.Middleware)
	r.Use(MetricsMiddleware(metrics))

	// Health, info and metrics bypass auth.
	r.Get("/health", handlers.HandleHealth)
	r.Get("/info", handlers.HandleInfo)
	if cfg.Metrics.Enabled {
		path := cfg.Metrics.Path
		if path == "" {
			path = "/metrics"
		}
		r.Method(http.MethodGet, path, promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))
	}

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(cfg.Security.APIKeyHeader, cfg.Security.AllowedKeys, metrics))

		inFlight := InFlightMiddleware(cfg.Security.MaxInFlight, metrics)
		r.With(inFlight).Post("/execute", handlers.HandleExecute)
		r.With(inFlight).Post("/validate", handlers.HandleValidate)

		r.Get("/executions", handlers.HandleListExecutions)
		r.Get("/executions/{id}", handlers.HandleGetExecution)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, "not found", "NOT_FOUND", http.StatusNotFound, r)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, "method not allowed", "METHOD_NOT_ALLOWED", http.StatusMethodNotAllowed, r)
	})

	s.httpServer = &http.Server{
		Addr:              cfg.Address(),
		Handler:           r,
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       120 * time.Second,
	}

	return s
}

// Handler returns the routed handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start begins listening for requests. Uses TLS if configured. The rate
// limiter's sweeper stops with ctx.
func (s *Server) Start(ctx context.Context) error {
	s.limiter.StartSweeper(ctx, time.Minute)

	if s.cfg.TLS.Enabled {
		log.Info().
			Str("addr", s.httpServer.Addr).
			Str("cert", s.cfg.TLS.CertFile).
			Msg("starting HTTPS server with TLS")

		s.httpServer.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
		return s.httpServer.ListenAndServeTLS(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
	}

	log.Info().
		Str("addr", s.httpServer.Addr).
		Msg("starting HTTP server")
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Msg("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}
