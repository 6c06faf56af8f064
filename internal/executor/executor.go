// Package executor turns accepted decisions into fills, either simulated
// against the quote or routed to a venue.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/quantbot/internal/domain"
)

// Engine executes one order. PaperSimulator and LiveRouter are the two
// implementations; both return the same Fill shape.
type Engine interface {
	Name() string
	Execute(ctx context.Context, req domain.OrderRequest, q domain.Quote) (domain.Fill, error)
}

// Select is the trading safety gate. The live router is returned only when
// trading is enabled, the mode routes to a venue and an adapter is
// present; in every other case the paper simulator is used. When a live or
// demo mode is forced onto paper the paper engine comes back together with
// an error wrapping domain.ErrTradingDisabled.
func Select(mode domain.Mode, tradingEnabled bool, adapter domain.VenueAdapter, paper *PaperSimulator) (Engine, error) {
	routed := mode == domain.ModeLive || mode == domain.ModeDemo
	switch {
	case !routed:
		return paper, nil
	case !tradingEnabled:
		return paper, fmt.Errorf("executor: %s mode: %w", mode, domain.ErrTradingDisabled)
	case adapter == nil:
		return paper, fmt.Errorf("executor: %s mode without a venue adapter: %w", mode, domain.ErrTradingDisabled)
	}
	return NewLiveRouter(adapter, mode), nil
}

// Executor wraps an Engine with client-order-ID dedup and logging.
type Executor struct {
	engine Engine
	dedup  *Dedup
	logger *slog.Logger

	cleanupInterval time.Duration
}

// NewExecutor creates an Executor over engine.
func NewExecutor(engine Engine, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		engine:          engine,
		dedup:           NewDedup(2 * time.Minute),
		logger:          logger.With(slog.String("component", "executor"), slog.String("engine", engine.Name())),
		cleanupInterval: 30 * time.Second,
	}
}

// Engine returns the wrapped engine.
func (e *Executor) Engine() Engine { return e.engine }

// Execute submits req once. A repeated client order ID within the dedup
// window fails with domain.ErrDuplicateOrder without reaching the engine.
// There is no retry here: a failed order ends the cycle.
func (e *Executor) Execute(ctx context.Context, req domain.OrderRequest, q domain.Quote) (domain.Fill, error) {
	log := e.logger.With(
		slog.String("client_order_id", req.ClientOrderID),
		slog.String("symbol", req.Symbol),
		slog.String("side", string(req.Side)),
		slog.Float64("qty", req.Qty),
	)
	if req.ClientOrderID != "" && e.dedup.IsDuplicate(req.ClientOrderID) {
		log.WarnContext(ctx, "duplicate order skipped")
		return domain.Fill{}, fmt.Errorf("executor: %s: %w", req.ClientOrderID, domain.ErrDuplicateOrder)
	}

	f, err := e.engine.Execute(ctx, req, q)
	if err != nil {
		if !errors.Is(err, domain.ErrAdapter) {
			// never reached a venue
			e.dedup.Forget(req.ClientOrderID)
		}
		log.ErrorContext(ctx, "order failed", slog.String("error", err.Error()))
		return domain.Fill{}, err
	}
	log.InfoContext(ctx, "order filled",
		slog.String("fill_id", f.ID),
		slog.Float64("price", f.Price),
		slog.Float64("fee", f.Fee),
	)
	return f, nil
}

// Run periodically cleans the dedup table until ctx is cancelled.
func (e *Executor) Run(ctx context.Context) error {
	t := time.NewTicker(e.cleanupInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			e.dedup.Cleanup()
		}
	}
}

// SetDedupTTL replaces the dedup table with one using ttl. Call it before
// Run.
func (e *Executor) SetDedupTTL(ttl time.Duration) {
	e.dedup = NewDedup(ttl)
}

var _ fmt.Stringer = (*Executor)(nil)

// String returns a human-readable description of the executor.
func (e *Executor) String() string {
	return fmt.Sprintf("Executor(engine=%s)", e.engine.Name())
}
