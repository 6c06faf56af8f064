package marketview

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/alanyoungcy/quantbot/internal/domain"
)

// Config holds the view's per-bot parameters.
type Config struct {
	Symbol          string
	Interval        string
	CandleLimit     int
	BookDepth       int
	FlowWindow      time.Duration
	PressureWindow  time.Duration
	Staleness       time.Duration
	FallbackTimeout time.Duration
	FallbackLimit   int
	LargeTradeMin   float64
	TapeLen         int
}

func (c *Config) defaults() {
	if c.Interval == "" {
		c.Interval = "1m"
	}
	if c.CandleLimit <= 0 {
		c.CandleLimit = 200
	}
	if c.BookDepth <= 0 {
		c.BookDepth = 10
	}
	if c.FlowWindow <= 0 {
		c.FlowWindow = 5 * time.Second
	}
	if c.PressureWindow <= 0 {
		c.PressureWindow = 15 * time.Second
	}
	if c.Staleness <= 0 {
		c.Staleness = 30 * time.Second
	}
	if c.FallbackTimeout <= 0 {
		c.FallbackTimeout = 3 * time.Second
	}
	if c.FallbackLimit <= 0 {
		c.FallbackLimit = 500
	}
	if c.TapeLen <= 0 {
		c.TapeLen = DefaultTapeLen
	}
}

// FallbackHandler receives the stale_fallback event.
type FallbackHandler func(ctx context.Context, e domain.Event)

// Result is what one refresh produces.
type Result struct {
	Snapshot     domain.MarketSnapshot
	Flow         domain.FlowStat
	Pressure     PressureStat
	Liquidations domain.LiquidationStat
	// Stale wraps domain.ErrStale when flow came from the REST fallback
	// instead of the push stream.
	Stale error
}

// View is the single market-data abstraction the cycle sees. Price, book
// and candles come from the venue every refresh. Flow comes from the push
// tape while it is fresh and from a bounded REST pull otherwise.
type View struct {
	venue      domain.VenueAdapter
	trades     domain.TradeSource
	tape       *TradeTape
	liqs       *LiquidationBook
	flow       *FlowCalculator
	cfg        Config
	onFallback FallbackHandler
	now        func() time.Time
	logger     *slog.Logger
}

// New creates a View. trades and liqs may be nil; without a TradeSource a
// stale tape yields an empty FlowStat marked as REST-sourced.
func New(venue domain.VenueAdapter, trades domain.TradeSource, tape *TradeTape, liqs *LiquidationBook, cfg Config, logger *slog.Logger) *View {
	cfg.defaults()
	if tape == nil {
		tape = NewTradeTape(max(cfg.FlowWindow, cfg.PressureWindow)*4, 0)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &View{
		venue:  venue,
		trades: trades,
		tape:   tape,
		liqs:   liqs,
		flow:   NewFlowCalculator(cfg.FlowWindow, cfg.LargeTradeMin),
		cfg:    cfg,
		now:    time.Now,
		logger: logger.With(slog.String("component", "marketview"), slog.String("symbol", cfg.Symbol)),
	}
}

// OnFallback registers the handler for stale_fallback events.
func (v *View) OnFallback(fn FallbackHandler) { v.onFallback = fn }

// Tape returns the push-side buffer the stream listener writes to.
func (v *View) Tape() *TradeTape { return v.tape }

// Liquidations returns the forced-order book, or nil.
func (v *View) Liquidations() *LiquidationBook { return v.liqs }

// Refresh fetches the venue snapshot and computes this cycle's flow.
func (v *View) Refresh(ctx context.Context) (Result, error) {
	now := v.now()
	snap, err := v.fetchSnapshot(ctx, now)
	if err != nil {
		return Result{}, err
	}

	prints, source, staleness, stale := v.flowPrints(ctx, now)
	res := Result{Snapshot: snap, Stale: stale}
	res.Flow = v.flow.Compute(now, prints)
	res.Flow.Source = source
	res.Flow.StalenessSec = staleness
	res.Pressure = Pressure(window(prints, now, v.cfg.PressureWindow))
	res.Flow.Pressure = res.Pressure.Pressure

	if source == domain.FlowSourceStream {
		res.Snapshot.Tape = v.tape.Recent(now, v.cfg.TapeLen, 0)
	} else {
		res.Snapshot.Tape = recent(prints, now, v.cfg.TapeLen)
	}
	if v.liqs != nil {
		res.Liquidations = v.liqs.Snapshot(now, snap.MarkPrice())
	}
	return res, nil
}

func (v *View) fetchSnapshot(ctx context.Context, now time.Time) (domain.MarketSnapshot, error) {
	symbol := v.cfg.Symbol
	price, err := v.venue.GetPrice(ctx, symbol)
	if err != nil {
		return domain.MarketSnapshot{}, fmt.Errorf("marketview: price: %w", err)
	}
	book, err := v.venue.GetOrderbook(ctx, symbol, v.cfg.BookDepth)
	if err != nil {
		return domain.MarketSnapshot{}, fmt.Errorf("marketview: orderbook: %w", err)
	}
	candles, err := v.venue.GetCandles(ctx, symbol, v.cfg.Interval, v.cfg.CandleLimit)
	if err != nil {
		return domain.MarketSnapshot{}, fmt.Errorf("marketview: candles: %w", err)
	}

	snap := domain.MarketSnapshot{
		Venue:     v.venue.Name(),
		Symbol:    symbol,
		LastPrice: price,
		BestBid:   book.BestBid(),
		BestAsk:   book.BestAsk(),
		Candles:   candles,
		Bids:      book.Bids,
		Asks:      book.Asks,
		FetchedAt: now,
	}
	if err := snap.Validate(); err != nil {
		return domain.MarketSnapshot{}, fmt.Errorf("marketview: %w", err)
	}
	return snap, nil
}

// flowPrints picks the backing strategy for this cycle. Staleness is
// checked once, against wall-clock time, before any flow is computed. The
// error is non-nil only on the fallback path.
func (v *View) flowPrints(ctx context.Context, now time.Time) ([]domain.TradePrint, domain.FlowSource, float64, error) {
	last := v.tape.LastSample()
	staleness := v.cfg.Staleness.Seconds() + 1
	if !last.IsZero() {
		staleness = now.Sub(last).Seconds()
	}
	if !last.IsZero() && now.Sub(last) <= v.cfg.Staleness {
		span := max(v.cfg.FlowWindow, v.cfg.PressureWindow)
		return v.tape.Window(now, span), domain.FlowSourceStream, staleness, nil
	}

	stale := fmt.Errorf("marketview: no streamed trade for %.1fs: %w", staleness, domain.ErrStale)
	prints, err := v.pull(ctx)
	data := map[string]any{
		"staleness_sec": staleness,
		"threshold_sec": v.cfg.Staleness.Seconds(),
		"trades":        len(prints),
	}
	if err != nil {
		data["error"] = err.Error()
		stale = fmt.Errorf("%w: rest fallback: %w", stale, err)
		v.logger.WarnContext(ctx, "rest trade fallback failed", slog.String("error", err.Error()))
	} else {
		v.logger.InfoContext(ctx, "trade stream stale, using rest trades",
			slog.Float64("staleness_sec", staleness),
			slog.Int("trades", len(prints)),
		)
	}
	if v.onFallback != nil {
		v.onFallback(ctx, domain.Event{
			Time:   now,
			Type:   domain.EventStaleFallback,
			Venue:  v.venue.Name(),
			Symbol: v.cfg.Symbol,
			Reason: "trade_stream_stale",
			Data:   data,
		})
	}
	return prints, domain.FlowSourceREST, staleness, stale
}

func (v *View) pull(ctx context.Context) ([]domain.TradePrint, error) {
	if v.trades == nil {
		return nil, errors.New("marketview: no rest trade source")
	}
	ctx, cancel := context.WithTimeout(ctx, v.cfg.FallbackTimeout)
	defer cancel()
	prints, err := v.trades.RecentTrades(ctx, v.cfg.Symbol, v.cfg.FallbackLimit)
	if err != nil {
		return nil, fmt.Errorf("marketview: recent trades: %w", err)
	}
	sort.SliceStable(prints, func(i, j int) bool { return prints[i].Time.Before(prints[j].Time) })
	return prints, nil
}

func recent(prints []domain.TradePrint, now time.Time, limit int) []domain.TradePrint {
	out := make([]domain.TradePrint, 0, min(limit, len(prints)))
	for i := len(prints) - 1; i >= 0 && len(out) < limit; i-- {
		if !prints[i].Time.After(now) {
			out = append(out, prints[i])
		}
	}
	return out
}
