// Package app provides the top-level application lifecycle for quantbot. It
// wires together the shared infrastructure (journals, caches, blob storage
// and notifications), builds the bot and starts the goroutines the selected
// mode needs.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/quantbot/internal/config"
)

// App is the root application object. It owns the configuration, logger, and a
// list of cleanup functions that are called in reverse order on shutdown.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	closers []func()
}

// New creates a new App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run wires all dependencies and runs the trading bot until the context is
// cancelled or the bot stops on a fatal persistence error.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting application",
		slog.String("bot", a.cfg.Bot.Venue+"/"+a.cfg.Bot.Symbol),
		slog.String("mode", a.cfg.Bot.Mode),
		slog.String("log_level", a.cfg.LogLevel),
	)
	deps, err := a.wire(ctx)
	if err != nil {
		return err
	}
	return a.BotMode(ctx, deps)
}

// Serve wires the read-side dependencies and runs the query API alone.
func (a *App) Serve(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting query server",
		slog.Int("port", a.cfg.Server.Port),
		slog.String("log_level", a.cfg.LogLevel),
	)
	deps, err := a.wire(ctx)
	if err != nil {
		return err
	}
	return a.ServeMode(ctx, deps)
}

func (a *App) wire(ctx context.Context) (*Dependencies, error) {
	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return nil, fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)
	return deps, nil
}

// Close tears down all resources in reverse registration order. It is safe to
// call multiple times; subsequent calls are no-ops.
func (a *App) Close() {
	a.logger.Info("shutting down application")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
