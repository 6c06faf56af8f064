// Package bot runs one venue/symbol/account trading loop: market view,
// signal, risk, execution, ledger and persistence, once per interval.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/quantbot/internal/domain"
	"github.com/alanyoungcy/quantbot/internal/executor"
	"github.com/alanyoungcy/quantbot/internal/globalrisk"
	"github.com/alanyoungcy/quantbot/internal/id"
	"github.com/alanyoungcy/quantbot/internal/marketview"
	"github.com/alanyoungcy/quantbot/internal/risk"
	"github.com/alanyoungcy/quantbot/internal/statestore"
	"github.com/alanyoungcy/quantbot/internal/strategy"
)

// Config is one bot's immutable runtime parameters.
type Config struct {
	Venue      string
	Symbol     string
	AccountTag string
	Mode       domain.Mode
	Interval   time.Duration

	// Sizing. OrderNotional wins over PositionFrac when set.
	PositionFrac  float64
	OrderNotional float64
	InitialCash   float64

	EventTape       int
	PersistAttempts int
	PersistBackoff  time.Duration
	GlobalMaxAge    time.Duration
	CycleTimeout    time.Duration
	LockTTL         time.Duration
}

func (c *Config) defaults() {
	if c.Interval <= 0 {
		c.Interval = 5 * time.Second
	}
	if c.EventTape <= 0 {
		c.EventTape = 200
	}
	if c.PersistAttempts <= 0 {
		c.PersistAttempts = 3
	}
	if c.PersistBackoff <= 0 {
		c.PersistBackoff = 200 * time.Millisecond
	}
	if c.GlobalMaxAge <= 0 {
		c.GlobalMaxAge = 30 * time.Second
	}
	if c.CycleTimeout <= 0 {
		c.CycleTimeout = max(3*c.Interval, 30*time.Second)
	}
	if c.LockTTL <= 0 {
		c.LockTTL = max(10*c.Interval, time.Minute)
	}
	if c.Mode == "" {
		c.Mode = domain.ModePaper
	}
}

// Key is the bot's stable identifier.
func (c Config) Key() string {
	return domain.BotKey(c.Venue, c.Symbol, c.AccountTag)
}

// MarketView is the per-cycle market source.
type MarketView interface {
	Refresh(ctx context.Context) (marketview.Result, error)
	OnFallback(fn marketview.FallbackHandler)
}

// Publisher receives best-effort copies of state and events, e.g. a Redis
// bus feeding dashboards.
type Publisher interface {
	PublishState(ctx context.Context, st domain.BotState) error
	PublishEvent(ctx context.Context, e domain.Event) error
}

// EquityFunc reports the equity backing the bot given its marked position.
type EquityFunc func(ctx context.Context, pos domain.Position) (float64, error)

// NewsFunc returns the auxiliary news score at now.
type NewsFunc func(now time.Time) float64

// PaperEquity is the simulated account: starting cash plus all PnL.
func PaperEquity(initial float64) EquityFunc {
	return func(_ context.Context, pos domain.Position) (float64, error) {
		return initial + pos.Realized + pos.Unrealized, nil
	}
}

// VenueEquity asks the venue for the account equity. A spot account only
// reports its quote balance, so the bot's holding is added at its last mark.
func VenueEquity(adapter domain.VenueAdapter) EquityFunc {
	return func(ctx context.Context, pos domain.Position) (float64, error) {
		acct, err := adapter.GetAccount(ctx)
		if err != nil {
			return 0, fmt.Errorf("bot: account: %w", err)
		}
		if acct.QuoteOnly {
			return acct.Equity + pos.AbsNotional(0), nil
		}
		return acct.Equity, nil
	}
}

// Deps are the collaborators a Bot drives. View, Generator, Risk, Executor
// and Store are required.
type Deps struct {
	View      MarketView
	Generator strategy.Generator
	Risk      *risk.Manager
	Cooldown  *risk.Cooldown
	Executor  *executor.Executor
	Store     *statestore.Store
	Global    *globalrisk.Aggregator
	Equity    EquityFunc
	News      NewsFunc

	Mirrors    []domain.JournalWriter
	Publishers []Publisher
	Prices     domain.PriceCache
	Lock       domain.LockManager
}

// Bot is a single trading loop.
type Bot struct {
	cfg  Config
	deps Deps

	logger *slog.Logger
	now    func() time.Time

	mu      sync.RWMutex
	state   domain.BotState
	pending []domain.Event

	dayKey     string
	dayStart   float64
	lastEquity float64
}

// New validates deps and builds a Bot.
func New(cfg Config, deps Deps, logger *slog.Logger) (*Bot, error) {
	cfg.defaults()
	var errs []error
	if cfg.Venue == "" || cfg.Symbol == "" {
		errs = append(errs, errors.New("bot: venue and symbol are required"))
	}
	if deps.View == nil {
		errs = append(errs, errors.New("bot: market view is required"))
	}
	if deps.Generator == nil {
		errs = append(errs, errors.New("bot: signal generator is required"))
	}
	if deps.Risk == nil {
		errs = append(errs, errors.New("bot: risk manager is required"))
	}
	if deps.Executor == nil {
		errs = append(errs, errors.New("bot: executor is required"))
	}
	if deps.Store == nil {
		errs = append(errs, errors.New("bot: state store is required"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	if deps.Cooldown == nil {
		deps.Cooldown = risk.NewCooldown(risk.DefaultCooldownConfig())
	}
	if deps.Equity == nil {
		deps.Equity = PaperEquity(cfg.InitialCash)
	}

	b := &Bot{
		cfg:  cfg,
		deps: deps,
		logger: logger.With(
			slog.String("component", "bot"),
			slog.String("bot", cfg.Key()),
		),
		now: time.Now,
		state: domain.BotState{
			BotID:      cfg.Key(),
			Venue:      cfg.Venue,
			Symbol:     cfg.Symbol,
			AccountTag: cfg.AccountTag,
			Mode:       cfg.Mode,
			Strategy:   deps.Generator.Name(),
		},
	}
	deps.View.OnFallback(b.collect)
	return b, nil
}

// State returns a copy of the last published state.
func (b *Bot) State() domain.BotState {
	b.mu.RLock()
	defer b.mu.RUnlock()
	st := b.state
	st.Events = append([]domain.Event(nil), b.state.Events...)
	return st
}

// Recover restores the position from the fill log (or the last snapshot)
// and the event tape from the last snapshot.
func (b *Bot) Recover(ctx context.Context) error {
	pos, src, err := b.deps.Store.Recover()
	if err != nil {
		return fmt.Errorf("bot: recover: %w", err)
	}
	b.mu.Lock()
	if prev, err := b.deps.Store.LoadSnapshot(); err == nil {
		b.state.Events = prev.Events
		b.state.Cycle = prev.Cycle
		b.state.Equity = prev.Equity
		b.lastEquity = prev.Equity
	}
	b.state.Position = pos
	b.mu.Unlock()

	b.logger.InfoContext(ctx, "position recovered",
		slog.String("source", string(src)),
		slog.Float64("qty", pos.Qty),
		slog.Float64("avg_cost", pos.AvgCost),
		slog.Float64("realized", pos.Realized),
	)
	b.collect(ctx, b.event(domain.EventStartup, string(src), map[string]any{
		"qty":      pos.Qty,
		"avg_cost": pos.AvgCost,
	}))
	return nil
}

// Run recovers, then executes a cycle every interval until ctx is done.
// Cycles never overlap. A cycle in flight when ctx is cancelled still
// completes its persistence. Only persistence failures stop the loop.
func (b *Bot) Run(ctx context.Context) error {
	if b.deps.Lock != nil {
		unlock, err := b.deps.Lock.Acquire(ctx, "bot:"+b.cfg.Key(), b.cfg.LockTTL)
		if err != nil {
			return fmt.Errorf("bot: lock %s: %w", b.cfg.Key(), err)
		}
		defer unlock()
	}
	if err := b.Recover(ctx); err != nil {
		return err
	}

	b.logger.InfoContext(ctx, "bot started",
		slog.String("mode", string(b.cfg.Mode)),
		slog.String("strategy", b.deps.Generator.Name()),
		slog.String("engine", b.deps.Executor.String()),
		slog.Duration("interval", b.cfg.Interval),
	)

	ticker := time.NewTicker(b.cfg.Interval)
	defer ticker.Stop()

	for {
		if err := b.runCycle(ctx); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			b.shutdown()
			return nil
		case <-ticker.C:
		}
	}
}

func (b *Bot) runCycle(ctx context.Context) error {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), b.cfg.CycleTimeout)
	defer cancel()

	err := b.Cycle(cctx)
	if err == nil {
		return nil
	}
	if !domain.IsRecoverable(err) {
		b.logger.ErrorContext(ctx, "bot stopping", slog.String("error", err.Error()))
		return err
	}
	b.logger.WarnContext(ctx, "cycle failed", slog.String("error", err.Error()))
	return nil
}

func (b *Bot) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	e := b.event(domain.EventShutdown, "context_done", nil)
	if err := b.deps.Store.AppendEvent(e); err != nil {
		b.logger.WarnContext(ctx, "shutdown event not persisted", slog.String("error", err.Error()))
	}
	b.mirrorEvents(ctx, []domain.Event{e})
	b.logger.InfoContext(ctx, "bot stopped")
}

// collect queues e for this cycle's event flush.
func (b *Bot) collect(_ context.Context, e domain.Event) {
	if e.Time.IsZero() {
		e.Time = b.now().UTC()
	}
	if e.ID == "" {
		e.ID = id.At(e.Time)
	}
	if e.Venue == "" {
		e.Venue, e.Symbol, e.AccountTag = b.cfg.Venue, b.cfg.Symbol, b.cfg.AccountTag
	}
	b.mu.Lock()
	b.pending = append(b.pending, e)
	b.mu.Unlock()
}

func (b *Bot) event(t domain.EventType, reason string, data map[string]any) domain.Event {
	now := b.now().UTC()
	return domain.Event{
		ID:         id.At(now),
		Time:       now,
		Type:       t,
		Venue:      b.cfg.Venue,
		Symbol:     b.cfg.Symbol,
		AccountTag: b.cfg.AccountTag,
		Reason:     reason,
		Data:       data,
	}
}
