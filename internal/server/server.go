package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/lazymarket/internal/domain"
	"github.com/alanyoungcy/lazymarket/internal/server/handler"
	"github.com/alanyoungcy/lazymarket/internal/server/middleware"
	"github.com/alanyoungcy/lazymarket/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	// APIKey guards /api/admin; empty closes the admin routes.
	APIKey string
	// AuthWindow bounds the age of a wallet-signed request.
	AuthWindow   time.Duration
	RateLimit    int
	RateInterval time.Duration
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health   *handler.HealthHandler
	Listings *handler.ListingHandler
	Lots     *handler.LotHandler
	Vouchers *handler.VoucherHandler
	Accounts *handler.AccountHandler
	Admin    *handler.AdminHandler
	Activity *handler.ActivityHandler
}

// Guards are the shared cache services the middleware uses. Both are
// optional.
type Guards struct {
	Nonces  domain.NonceCache
	Limiter domain.RateLimiter
}

// Server is the HTTP + WebSocket API of the marketplace.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates a new Server with all routes registered on the ServeMux.
// Mutating marketplace routes require a wallet signature; admin routes
// require the API key.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, guards Guards, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      Routes(cfg, handlers, wsHub, guards, logger),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		logger: logger,
	}
}

// Routes builds the full handler chain.
func Routes(cfg Config, handlers Handlers, wsHub *ws.Hub, guards Guards, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	signed := middleware.Wallet(middleware.WalletConfig{
		Window: cfg.AuthWindow,
		Nonces: guards.Nonces,
		Logger: logger,
	})
	wallet := func(f http.HandlerFunc) http.Handler { return signed(f) }
	admin := func(f http.HandlerFunc) http.Handler { return middleware.Auth(cfg.APIKey)(f) }

	// Health check.
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	// Listing endpoints.
	mux.HandleFunc("GET /api/listings", handlers.Listings.List)
	mux.HandleFunc("GET /api/listings/{id}", handlers.Listings.Get)
	mux.Handle("POST /api/listings", wallet(handlers.Listings.Create))
	mux.Handle("POST /api/listings/{id}/buy", wallet(handlers.Listings.Buy))
	mux.Handle("POST /api/listings/{id}/cancel", wallet(handlers.Listings.Cancel))

	// Auction endpoints.
	mux.HandleFunc("GET /api/lots", handlers.Lots.List)
	mux.HandleFunc("GET /api/lots/{id}", handlers.Lots.Get)
	mux.Handle("POST /api/lots", wallet(handlers.Lots.Create))
	mux.Handle("POST /api/lots/{id}/bids", wallet(handlers.Lots.Bid))
	mux.Handle("POST /api/lots/{id}/finish", wallet(handlers.Lots.Finish))
	mux.Handle("POST /api/lots/{id}/cancel", wallet(handlers.Lots.Cancel))

	// Vouchers and accounts.
	mux.HandleFunc("POST /api/vouchers/verify", handlers.Vouchers.Verify)
	mux.HandleFunc("GET /api/accounts/{address}", handlers.Accounts.Get)
	mux.Handle("POST /api/accounts/approve", wallet(handlers.Accounts.Approve))

	// Activity.
	mux.HandleFunc("GET /api/audit", handlers.Activity.Audit)
	mux.HandleFunc("GET /api/blacklist", handlers.Activity.Blacklist)
	mux.HandleFunc("GET /api/events", handlers.Activity.Events)

	// Operator endpoints.
	mux.Handle("POST /api/admin/mint", admin(handlers.Admin.Mint))
	mux.Handle("GET /api/admin/archives", admin(handlers.Admin.Archives))
	mux.Handle("GET /api/admin/archives/{path...}", admin(handlers.Admin.ArchiveFile))

	// WebSocket endpoint.
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	var h http.Handler = mux
	h = middleware.RateLimit(guards.Limiter, cfg.RateLimit, cfg.RateInterval, logger)(h)
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)
	return h
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting",
		slog.String("addr", s.httpServer.Addr),
	)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
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
