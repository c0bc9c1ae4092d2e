// Package server exposes the escrow and settlement engine over HTTP and
// WebSocket.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/memepit/memepit/internal/domain"
	"github.com/memepit/memepit/internal/server/handler"
	"github.com/memepit/memepit/internal/server/middleware"
	"github.com/memepit/memepit/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port            int
	CORSOrigins     []string
	RateLimitPerMin int // 0 disables rate limiting
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health     *handler.HealthHandler
	Status     *handler.StatusHandler
	Matches    *handler.MatchHandler
	Epochs     *handler.EpochHandler
	Settlement *handler.SettlementHandler
	Vault      *handler.VaultHandler
	Admin      *handler.AdminHandler
}

// Server is the headless HTTP + WebSocket API server for the engine.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	logger     *slog.Logger
}

// NewServer creates a new Server with all routes registered on the ServeMux.
// It wires up middleware (CORS, logging, rate limiting, auth) and attaches
// the WebSocket hub. authn may be nil to disable authentication; limiter may
// be nil to disable rate limiting.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, authn middleware.Authenticator, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	// --- Register routes ---

	// Health and status (health skips auth in the middleware).
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)
	mux.HandleFunc("GET /api/status", handlers.Status.GetStatus)

	// Match escrow endpoints.
	mux.HandleFunc("POST /api/matches", handlers.Matches.Declare)
	mux.HandleFunc("GET /api/matches", handlers.Matches.ListMatches)
	mux.HandleFunc("GET /api/matches/{id}", handlers.Matches.GetMatch)
	mux.HandleFunc("POST /api/matches/{id}/deposit", handlers.Matches.Deposit)
	mux.HandleFunc("POST /api/matches/{id}/resolve", handlers.Matches.Resolve)
	mux.HandleFunc("POST /api/matches/{id}/refund", handlers.Matches.Refund)

	// Epoch lifecycle endpoints.
	mux.HandleFunc("POST /api/epochs", handlers.Epochs.Open)
	mux.HandleFunc("GET /api/epochs/current", handlers.Epochs.Current)
	mux.HandleFunc("GET /api/epochs/{id}", handlers.Epochs.GetEpoch)
	mux.HandleFunc("POST /api/epochs/{id}/close", handlers.Epochs.Close)
	mux.HandleFunc("GET /api/epochs/{id}/deposits", handlers.Epochs.Deposits)

	// Settlement pipeline endpoints.
	mux.HandleFunc("GET /api/epochs/{id}/settlement", handlers.Settlement.Progress)
	mux.HandleFunc("POST /api/epochs/{id}/settlement/initialize", handlers.Settlement.Initialize)
	mux.HandleFunc("POST /api/epochs/{id}/settlement/accumulate", handlers.Settlement.Accumulate)
	mux.HandleFunc("POST /api/epochs/{id}/settlement/convert", handlers.Settlement.Convert)
	mux.HandleFunc("POST /api/epochs/{id}/settlement/distribute", handlers.Settlement.Distribute)
	mux.HandleFunc("GET /api/epochs/{id}/settlement/weights", handlers.Settlement.Weights)
	mux.HandleFunc("GET /api/epochs/{id}/failed-conversions", handlers.Admin.FailedConversions)
	mux.HandleFunc("GET /api/epochs/{id}/archive", handlers.Admin.EpochArchive)

	// Vault endpoints.
	mux.HandleFunc("POST /api/vault/credits", handlers.Vault.Credit)
	mux.HandleFunc("POST /api/vault/withdrawals", handlers.Vault.Withdraw)
	mux.HandleFunc("GET /api/vault/{player}", handlers.Vault.Balances)
	mux.HandleFunc("GET /api/vault/{player}/{token}", handlers.Vault.Balance)

	// Admin registry endpoints.
	mux.HandleFunc("PUT /api/admin/tokens", handlers.Admin.UpsertToken)
	mux.HandleFunc("GET /api/admin/tokens", handlers.Admin.ListTokens)
	mux.HandleFunc("PUT /api/admin/adapters", handlers.Admin.BindAdapter)
	mux.HandleFunc("DELETE /api/admin/adapters", handlers.Admin.UnbindAdapter)
	mux.HandleFunc("GET /api/admin/adapters", handlers.Admin.ListBindings)
	mux.HandleFunc("POST /api/admin/pools", handlers.Admin.CreatePool)
	mux.HandleFunc("POST /api/admin/pools/fund", handlers.Admin.FundPool)
	mux.HandleFunc("GET /api/admin/pools", handlers.Admin.ListPools)

	// Admin recovery endpoints.
	mux.HandleFunc("POST /api/admin/sweeps/balance", handlers.Admin.SweepBalance)
	mux.HandleFunc("POST /api/admin/sweeps/failed-conversion", handlers.Admin.SweepFailedConversion)
	mux.HandleFunc("GET /api/admin/audit", handlers.Admin.AuditLog)

	// WebSocket endpoint.
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	// Build the middleware chain, innermost first.
	var h http.Handler = mux

	h = middleware.Auth(authn)(h)
	if limiter != nil && cfg.RateLimitPerMin > 0 {
		h = middleware.RateLimit(limiter, cfg.RateLimitPerMin, time.Minute)(h)
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

	return &Server{
		httpServer: srv,
		mux:        mux,
		logger:     logger,
	}
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
