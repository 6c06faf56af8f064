// Package server is the read-side HTTP and WebSocket API over the bots:
// fills, PnL, equity, events, snapshots and global risk.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/quantbot/internal/domain"
	"github.com/alanyoungcy/quantbot/internal/server/handler"
	"github.com/alanyoungcy/quantbot/internal/server/middleware"
	"github.com/alanyoungcy/quantbot/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled
	// RateLimit is requests per RateWindow per client IP; 0 disables it.
	RateLimit  int
	RateWindow time.Duration
}

// Handlers aggregates all HTTP handlers that the server needs to register.
// Journal, Risk and Bots are required; the rest are optional.
type Handlers struct {
	Health   *handler.HealthHandler
	Status   *handler.StatusHandler
	Journal  *handler.JournalHandler
	Risk     *handler.RiskHandler
	Bots     *handler.BotsHandler
	News     *handler.NewsHandler
	Pipeline *handler.PipelineHandler
	Prices   *handler.PricesHandler
}

// Server is the headless HTTP + WebSocket API server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	logger     *slog.Logger
}

// NewServer creates a new Server with all routes registered on the ServeMux.
// It wires up middleware (logging, CORS, auth, rate limit) and attaches the
// WebSocket hub. limiter may be nil.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	logger = logger.With(slog.String("component", "server"))
	mux := http.NewServeMux()

	// --- Register routes ---

	// Health check (no auth required).
	if handlers.Health == nil {
		handlers.Health = handler.NewHealthHandler(logger)
	}
	mux.HandleFunc("GET /health", handlers.Health.HealthCheck)
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	if handlers.Status != nil {
		mux.HandleFunc("GET /api/status", handlers.Status.GetStatus)
	}

	// Journal endpoints.
	mux.HandleFunc("GET /api/fills", handlers.Journal.ListFills)
	mux.HandleFunc("GET /api/pnl", handlers.Journal.PnL)
	mux.HandleFunc("GET /api/equity", handlers.Journal.ListEquity)
	mux.HandleFunc("GET /api/bots/{venue}/{symbol}/events", handlers.Journal.ListBotEvents)

	// Snapshot endpoints.
	mux.HandleFunc("GET /api/bots", handlers.Bots.ListBots)
	mux.HandleFunc("GET /api/bots/{venue}/{symbol}", handlers.Bots.GetBot)
	mux.HandleFunc("GET /api/tape", handlers.Bots.Tape)
	mux.HandleFunc("GET /api/risk/global", handlers.Risk.Global)

	if handlers.News != nil {
		mux.HandleFunc("POST /api/news", handlers.News.AddHeadline)
	}
	if handlers.Prices != nil {
		mux.HandleFunc("GET /api/prices", handlers.Prices.GetPrices)
	}
	if handlers.Pipeline != nil {
		mux.HandleFunc("POST /api/pipeline/trigger", handlers.Pipeline.TriggerPipeline)
	}

	// WebSocket endpoint.
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	// Build the middleware chain, innermost first.
	var h http.Handler = mux
	window := cfg.RateWindow
	if window <= 0 {
		window = time.Minute
	}
	h = middleware.RateLimit(limiter, cfg.RateLimit, window)(h)
	h = middleware.Auth(cfg.APIKey, "/health", "/api/health")(h)
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		handler:    h,
		logger:     logger,
	}
}

// Handler returns the full middleware-wrapped handler.
func (s *Server) Handler() http.Handler { return s.handler }

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

// Run serves until ctx is cancelled, then shuts down with a 5s grace
// period.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() { errCh <- s.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.Shutdown(shutCtx); err != nil {
			return err
		}
		return <-errCh
	}
}
