// Package server exposes the bot's control API: bot lifecycle, positions,
// strategies, risk limits, trading settings, and the audit trail.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jmonteroh/polysignal/internal/domain"
	"github.com/jmonteroh/polysignal/internal/server/handler"
	"github.com/jmonteroh/polysignal/internal/server/middleware"
)

const (
	rateLimitRequests = 60
	rateLimitWindow   = time.Minute
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled
}

// Handlers aggregates all HTTP handlers the server registers.
type Handlers struct {
	Health     *handler.HealthHandler
	Bot        *handler.BotHandler
	Positions  *handler.PositionHandler
	Strategies *handler.StrategyHandler
	Risk       *handler.RiskHandler
	Settings   *handler.SettingsHandler
	Audit      *handler.AuditHandler
}

// Server is the headless HTTP API server for the trading bot.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates a Server with all routes registered on the ServeMux and
// the middleware chain (rate limiting, auth, logging, CORS) applied.
// limiter may be nil to disable API rate limiting.
func NewServer(cfg Config, handlers Handlers, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	// Health check (no auth required; the auth middleware exempts it).
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	// Bot lifecycle.
	mux.HandleFunc("GET /api/bot/status", handlers.Bot.GetStatus)
	mux.HandleFunc("POST /api/bot/start", handlers.Bot.Start)
	mux.HandleFunc("POST /api/bot/stop", handlers.Bot.Stop)
	mux.HandleFunc("POST /api/bot/tasks/{name}/trigger", handlers.Bot.TriggerTask)
	mux.HandleFunc("PUT /api/bot/tasks/{name}", handlers.Bot.UpdateTask)

	// Positions.
	mux.HandleFunc("GET /api/positions", handlers.Positions.ListPositions)
	mux.HandleFunc("GET /api/positions/{id}", handlers.Positions.GetPosition)
	mux.HandleFunc("POST /api/positions/{id}/close", handlers.Positions.ClosePosition)

	// Exit strategies.
	mux.HandleFunc("GET /api/strategies", handlers.Strategies.ListStrategies)
	mux.HandleFunc("POST /api/strategies", handlers.Strategies.CreateStrategy)
	mux.HandleFunc("GET /api/strategies/overview", handlers.Strategies.StrategyOverview)
	mux.HandleFunc("GET /api/strategies/{id}", handlers.Strategies.GetStrategy)
	mux.HandleFunc("PUT /api/strategies/{id}", handlers.Strategies.UpdateStrategy)
	mux.HandleFunc("DELETE /api/strategies/{id}", handlers.Strategies.DeleteStrategy)

	// Risk and settings.
	mux.HandleFunc("GET /api/risk", handlers.Risk.GetRisk)
	mux.HandleFunc("PUT /api/risk/limits", handlers.Risk.UpdateRiskLimits)
	mux.HandleFunc("GET /api/settings/trading", handlers.Settings.GetTrading)
	mux.HandleFunc("PUT /api/settings/trading", handlers.Settings.UpdateTrading)

	// Audit trail.
	mux.HandleFunc("GET /api/audit", handlers.Audit.ListAudit)

	// Build the middleware chain, innermost first.
	var h http.Handler = mux
	h = authExceptHealth(cfg.APIKey, h)
	if limiter != nil {
		h = middleware.RateLimit(limiter, rateLimitRequests, rateLimitWindow)(h)
	}
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{httpServer: srv, logger: logger}
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting",
		slog.String("addr", s.httpServer.Addr),
	)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}

// authExceptHealth applies API-key auth to everything except the health
// endpoint, so load balancers can probe without credentials.
func authExceptHealth(apiKey string, next http.Handler) http.Handler {
	authed := middleware.Auth(apiKey)(next)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/health" {
			next.ServeHTTP(w, r)
			return
		}
		authed.ServeHTTP(w, r)
	})
}
