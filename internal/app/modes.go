package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/quantbot/internal/bot"
	"github.com/alanyoungcy/quantbot/internal/domain"
	"github.com/alanyoungcy/quantbot/internal/executor"
	"github.com/alanyoungcy/quantbot/internal/feed"
	"github.com/alanyoungcy/quantbot/internal/globalrisk"
	"github.com/alanyoungcy/quantbot/internal/marketview"
	"github.com/alanyoungcy/quantbot/internal/pipeline"
	"github.com/alanyoungcy/quantbot/internal/platform/binance"
	"github.com/alanyoungcy/quantbot/internal/risk"
	"github.com/alanyoungcy/quantbot/internal/server"
	"github.com/alanyoungcy/quantbot/internal/server/handler"
	"github.com/alanyoungcy/quantbot/internal/server/ws"
	"github.com/alanyoungcy/quantbot/internal/statestore"
	"github.com/alanyoungcy/quantbot/internal/strategy"
)

// Venue names accepted in bot.venue.
const (
	VenueBinance        = "binance"
	VenueBinanceFutures = "binance_futures"
	VenueDemo           = "demo"
)

// venue is an adapter that also serves the REST trade fallback.
type venue interface {
	domain.VenueAdapter
	domain.TradeSource
}

// running is what BotMode hands to the HTTP server.
type running struct {
	bot  *bot.Bot
	view *marketview.View
	news *strategy.NewsBoard
	hub  *ws.Hub
	mode domain.Mode
}

// BotMode runs one trading bot together with its trade streams, the
// executor's dedup sweeper and, when enabled, the archiver and HTTP API.
func (a *App) BotMode(ctx context.Context, deps *Dependencies) error {
	cfg := a.cfg
	a.logger.InfoContext(ctx, "starting bot mode",
		slog.String("venue", cfg.Bot.Venue),
		slog.String("symbol", cfg.Bot.Symbol),
		slog.String("account", cfg.Bot.AccountTag),
		slog.String("mode", cfg.Bot.Mode),
		slog.Bool("trading_enabled", cfg.Bot.TradingEnabled),
	)

	v, err := a.buildVenue()
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	// Market view and its push-side buffers.
	mvCfg := a.marketViewConfig()
	tape := marketview.NewTradeTape(max(mvCfg.FlowWindow, mvCfg.PressureWindow)*4, mvCfg.TapeLen)
	var liqs *marketview.LiquidationBook
	if cfg.Feed.Liquidations && cfg.Bot.Venue == VenueBinanceFutures {
		liqs = marketview.NewLiquidationBook(cfg.MarketView.LiquidationWindow.Duration, cfg.MarketView.LiquidationBucketBps)
	}
	view := marketview.New(v, v, tape, liqs, mvCfg, a.logger)

	if cfg.Feed.Enabled && cfg.Bot.Venue != VenueDemo {
		a.startStreams(gctx, g, tape, liqs)
	}

	// Strategy and news.
	gen, err := strategy.NewRegistry().Build(a.strategyConfig())
	if err != nil {
		return fmt.Errorf("app: strategy: %w", err)
	}
	news := strategy.NewNewsBoard(strategy.KeywordScorer{
		Positive: cfg.Strategy.News.Positive,
		Negative: cfg.Strategy.News.Negative,
	}, cfg.Strategy.News.TTL.Duration)

	// Risk.
	limits := a.riskLimits()
	if err := limits.Validate(); err != nil {
		return fmt.Errorf("app: risk limits: %w", err)
	}

	// Execution, behind the trading gate.
	mode := domain.Mode(cfg.Bot.Mode)
	paper := executor.NewPaperSimulator(cfg.Executor.FeeBps, cfg.Executor.SlippageBps)
	engine, err := executor.Select(mode, cfg.Bot.TradingEnabled, v, paper)
	if errors.Is(err, domain.ErrTradingDisabled) {
		a.logger.WarnContext(ctx, "routing orders to the paper simulator",
			slog.String("requested_mode", cfg.Bot.Mode),
			slog.String("reason", err.Error()),
		)
		mode = domain.ModePaper
	}
	exec := executor.NewExecutor(engine, a.logger)
	if ttl := cfg.Executor.DedupTTL.Duration; ttl > 0 {
		exec.SetDedupTTL(ttl)
	}
	g.Go(func() error {
		return exec.Run(gctx)
	})

	equity := bot.PaperEquity(cfg.Bot.InitialCash)
	if mode != domain.ModePaper {
		equity = bot.VenueEquity(v)
	}

	botCfg := bot.Config{
		Venue:           cfg.Bot.Venue,
		Symbol:          cfg.Bot.Symbol,
		AccountTag:      cfg.Bot.AccountTag,
		Mode:            mode,
		Interval:        cfg.Bot.Interval.Duration,
		PositionFrac:    cfg.Bot.PositionFrac,
		OrderNotional:   cfg.Bot.OrderNotional,
		InitialCash:     cfg.Bot.InitialCash,
		EventTape:       cfg.Bot.EventTape,
		PersistAttempts: cfg.Bot.PersistAttempts,
		PersistBackoff:  cfg.Bot.PersistBackoff.Duration,
		GlobalMaxAge:    cfg.Bot.GlobalMaxAge.Duration,
	}
	store, err := statestore.New(cfg.Bot.StateDir, botCfg.Key(), a.logger)
	if err != nil {
		return fmt.Errorf("app: state store: %w", err)
	}

	// Event fan-out: the Redis bus when publishing is on (the hub then
	// subscribes to it), otherwise straight into the in-process hub.
	var hub *ws.Hub
	var publishers []bot.Publisher
	busFeedsHub := deps.Bus != nil && cfg.Redis.PublishEvents
	if busFeedsHub {
		publishers = append(publishers, deps.Bus)
	}
	if cfg.Server.Enabled {
		var sub ws.Subscriber
		if busFeedsHub {
			sub = deps.Bus
		}
		hub = ws.NewHub(sub, a.logger, ws.Status{
			BotID:    botCfg.Key(),
			Mode:     string(mode),
			Strategy: gen.Name(),
		})
		if !busFeedsHub {
			publishers = append(publishers, hub)
		}
	}

	botDeps := bot.Deps{
		View:       view,
		Generator:  gen,
		Risk:       risk.NewManager(limits),
		Cooldown:   risk.NewCooldown(a.cooldownConfig()),
		Executor:   exec,
		Store:      store,
		Global:     globalrisk.New(globalrisk.FromStateRoot(cfg.Bot.StateDir), a.logger),
		Equity:     equity,
		News:       news.Score,
		Mirrors:    deps.Mirrors,
		Publishers: publishers,
		Prices:     deps.PriceCache,
	}
	if cfg.Redis.LockBots {
		botDeps.Lock = deps.LockManager
	}
	b, err := bot.New(botCfg, botDeps, a.logger)
	if err != nil {
		return fmt.Errorf("app: bot: %w", err)
	}

	// The bot stopping ends the process: cancel the streams and server too.
	g.Go(func() error {
		if err := b.Run(gctx); err != nil {
			return err
		}
		return context.Canceled
	})

	var triggerCh chan struct{}
	if cfg.Pipeline.Enabled && deps.BlobArchiver != nil {
		triggerCh = make(chan struct{}, 1)
		a.startArchiver(gctx, g, deps, triggerCh)
	}

	if cfg.Server.Enabled {
		a.startHTTPServer(gctx, g, deps, running{bot: b, view: view, news: news, hub: hub, mode: mode}, triggerCh)
	}

	return quiet(ctx, g.Wait())
}

// ServeMode runs the read-side API alone over the shared state root and
// journal, plus the archiver when enabled.
func (a *App) ServeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting serve mode",
		slog.String("state_dir", a.cfg.Bot.StateDir),
		slog.Int("port", a.cfg.Server.Port),
	)

	g, gctx := errgroup.WithContext(ctx)

	var sub ws.Subscriber
	if deps.Bus != nil {
		sub = deps.Bus
	}
	hub := ws.NewHub(sub, a.logger, ws.Status{Mode: "serve"})

	var triggerCh chan struct{}
	if a.cfg.Pipeline.Enabled && deps.BlobArchiver != nil {
		triggerCh = make(chan struct{}, 1)
		a.startArchiver(gctx, g, deps, triggerCh)
	}

	a.startHTTPServer(gctx, g, deps, running{hub: hub, mode: "serve"}, triggerCh)
	return quiet(ctx, g.Wait())
}

// startStreams runs the trade stream and, for futures, the forced order
// stream. Both reconnect on their own until gctx ends.
func (a *App) startStreams(ctx context.Context, g *errgroup.Group, tape *marketview.TradeTape, liqs *marketview.LiquidationBook) {
	cfg := a.cfg
	futures := cfg.Bot.Venue == VenueBinanceFutures

	trades := feed.NewTradeStream(
		feed.TradeStreamURL(cfg.Feed.WSURL, futures, cfg.Bot.Symbol),
		map[string]feed.TradeSink{cfg.Bot.Symbol: tape},
		a.logger,
	).WithBackoff(cfg.Feed.BackoffMin.Duration, cfg.Feed.BackoffMax.Duration)
	g.Go(func() error {
		return trades.Run(ctx)
	})

	if liqs != nil {
		forced := feed.NewLiquidationStream(
			feed.LiquidationStreamURL(cfg.Feed.WSURL),
			map[string]feed.LiquidationSink{cfg.Bot.Symbol: liqs},
			a.logger,
		).WithBackoff(cfg.Feed.BackoffMin.Duration, cfg.Feed.BackoffMax.Duration)
		g.Go(func() error {
			return forced.Run(ctx)
		})
	}
}

// startArchiver runs the archive job on its cron schedule; a receive on
// triggerCh runs it once immediately.
func (a *App) startArchiver(ctx context.Context, g *errgroup.Group, deps *Dependencies, triggerCh <-chan struct{}) {
	arch := pipeline.NewArchiver(deps.BlobArchiver, a.cfg.Bot.StateDir, a.cfg.Pipeline.ArchiveRetentionDays, a.logger).
		WithJournal(deps.Journal, deps.Pruner).
		WithTrigger(triggerCh)
	g.Go(func() error {
		return arch.RunCron(ctx, a.cfg.Pipeline.ArchiveCron)
	})
}

// startHTTPServer registers the read-side API and runs it until ctx ends.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, r running, triggerCh chan<- struct{}) {
	health := handler.NewHealthHandler(a.logger)
	for name, c := range deps.Checks {
		health.WithCheck(name, c)
	}

	states := handler.StateSource(func(ctx context.Context) ([]domain.BotState, error) {
		return statestore.ListSnapshots(a.cfg.Bot.StateDir)
	})
	if deps.Bus != nil && a.cfg.Redis.PublishEvents {
		states = deps.Bus.States
	}

	botID, strategyName := "", ""
	var tape handler.TapeSource
	if r.bot != nil {
		st := r.bot.State()
		botID, strategyName = st.BotID, st.Strategy
		tape = func(now time.Time, limit int) []domain.TradePrint {
			return r.view.Tape().Recent(now, limit, 0)
		}
	}

	handlers := server.Handlers{
		Health:  health,
		Status:  handler.NewStatusHandler(botID, string(r.mode), strategyName, a.cfg.Bot.TradingEnabled),
		Journal: handler.NewJournalHandler(deps.Journal, a.logger),
		Risk: handler.NewRiskHandler(
			globalrisk.New(globalrisk.FromStateRoot(a.cfg.Bot.StateDir), a.logger),
			a.cfg.Bot.GlobalMaxAge.Duration,
			a.logger,
		),
		Bots:     handler.NewBotsHandler(states, tape, a.logger),
		Pipeline: handler.NewPipelineHandler(a.logger),
	}
	if triggerCh != nil {
		handlers.Pipeline.WithTriggerChannel(triggerCh)
	}
	if r.news != nil {
		handlers.News = handler.NewNewsHandler(r.news, a.logger)
	}
	if deps.PriceCache != nil {
		handlers.Prices = handler.NewPricesHandler(deps.PriceCache, a.logger)
	}

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  time.Minute,
	}, handlers, r.hub, deps.RateLimiter, a.logger)

	if r.hub != nil {
		g.Go(func() error {
			return r.hub.Run(ctx)
		})
	}
	g.Go(func() error {
		return srv.Run(ctx)
	})
}

// buildVenue constructs the configured adapter.
func (a *App) buildVenue() (venue, error) {
	cfg := a.cfg
	switch strings.ToLower(cfg.Bot.Venue) {
	case VenueDemo:
		return binance.NewDemoAdapter(cfg.Bot.DemoSeed, cfg.Bot.DemoStartPrice), nil
	case VenueBinance, VenueBinanceFutures:
		auth, err := cfg.VenueAuth()
		if err != nil {
			return nil, fmt.Errorf("app: venue credentials: %w", err)
		}
		return binance.New(binance.Config{
			BaseURL:      cfg.Binance.BaseURL,
			Futures:      cfg.Bot.Venue == VenueBinanceFutures,
			Auth:         auth,
			Timeout:      cfg.Binance.Timeout.Duration,
			QuoteAsset:   cfg.Binance.QuoteAsset,
			QtyPrecision: cfg.Binance.QtyPrecision,
			FeeBps:       cfg.Executor.FeeBps,
		}, a.logger), nil
	default:
		return nil, fmt.Errorf("app: unsupported venue %q", cfg.Bot.Venue)
	}
}

func (a *App) marketViewConfig() marketview.Config {
	mv := a.cfg.MarketView
	return marketview.Config{
		Symbol:          a.cfg.Bot.Symbol,
		Interval:        mv.CandleInterval,
		CandleLimit:     a.cfg.EffectiveCandleLimit(),
		BookDepth:       mv.BookDepth,
		FlowWindow:      mv.FlowWindow.Duration,
		PressureWindow:  mv.PressureWindow.Duration,
		Staleness:       mv.Staleness.Duration,
		FallbackTimeout: mv.FallbackTimeout.Duration,
		FallbackLimit:   mv.FallbackLimit,
		LargeTradeMin:   mv.LargeTradeMin,
		TapeLen:         mv.TapeLen,
	}
}

func (a *App) strategyConfig() strategy.Config {
	s, b := a.cfg.Strategy.Scalp, a.cfg.Strategy.Blender
	return strategy.Config{
		Name: a.cfg.Strategy.Name,
		Scalp: strategy.ScalpParams{
			RSIPeriod:           s.RSIPeriod,
			VolSMA:              s.VolSMA,
			MinTradeValue:       s.MinTradeValue,
			MinBookNotional:     s.MinBookNotional,
			BookDepth:           s.BookDepth,
			MaxSpreadBps:        s.MaxSpreadBps,
			Max1mRangePct:       s.Max1mRangePct,
			Max1mBodyPct:        s.Max1mBodyPct,
			NewsVolMult:         s.NewsVolMult,
			NewsMovePct:         s.NewsMovePct,
			NewsVolSMA:          s.NewsVolSMA,
			NewsCooldown:        s.NewsCooldown.Duration,
			MinPressureNotional: s.MinPressureNotional,
			PressureThreshold:   s.PressureThreshold,
			MinFlowRate:         s.MinFlowRate,
			MinTradeCount:       s.MinTradeCount,
			MinLargeShare:       s.MinLargeShare,

			MinVolSurge:           s.MinVolSurge,
			OBImbalanceThreshold:  s.OBImbalanceThreshold,
			MinOBDelta:            s.MinOBDelta,
			MinFlowAccel:          s.MinFlowAccel,
			RSILongTrigger:        s.RSILongTrigger,
			RSIShortMin:           s.RSIShortMin,
			RSIShortMax:           s.RSIShortMax,
			UseRSICross:           s.UseRSICross,
			RequireReversalCandle: s.RequireReversalCandle,
		},
		Blender: strategy.BlenderParams{
			TrendWeight:   b.TrendWeight,
			RSIWeight:     b.RSIWeight,
			VolumeWeight:  b.VolumeWeight,
			NewsWeight:    b.NewsWeight,
			FibWeight:     b.FibWeight,
			BuyThreshold:  b.BuyThreshold,
			SellThreshold: b.SellThreshold,
			RSIPeriod:     b.RSIPeriod,
			MAWindows:     b.MAWindows,
			BandPeriod:    b.BandPeriod,
			BandK:         b.BandK,
			NearBandPct:   b.NearBandPct,
			VolSMA:        b.VolSMA,
			FibLookback:   b.FibLookback,
		},
	}
}

// riskLimits maps the risk section; the cost model is shared with the
// paper simulator so the net take-profit sees the same fees.
func (a *App) riskLimits() risk.Limits {
	r := a.cfg.Risk
	return risk.Limits{
		StopLossPct:      r.StopLossPct,
		TrailingStopPct:  r.TrailingStopPct,
		TakeProfitNetPct: r.TakeProfitNetPct,
		FeeRate:          a.cfg.Executor.FeeBps / 1e4,
		SlippageRate:     a.cfg.Executor.SlippageBps / 1e4,
		MaxPositionFrac:  r.MaxPositionFrac,
		MaxAccountFrac:   r.MaxAccountFrac,
		MaxGlobalFrac:    r.MaxGlobalFrac,
		MaxNotional:      r.MaxNotional,
		MaxDailyLoss:     r.MaxDailyLoss,
		CloseScore:       r.CloseScore,
		ReduceFraction:   r.ReduceFraction,
		AllowPyramiding:  r.AllowPyramiding,
	}
}

func (a *App) cooldownConfig() risk.CooldownConfig {
	c := a.cfg.Cooldown
	cats := make(map[string]time.Duration, len(c.CategoryBase))
	for k, v := range c.CategoryBase {
		cats[k] = v.Duration
	}
	return risk.CooldownConfig{
		AfterExitFill:  c.AfterExitFill.Duration,
		AfterEntryFill: c.AfterEntryFill.Duration,
		RejectBase:     c.RejectBase.Duration,
		CategoryBase:   cats,
		BackoffMult:    c.BackoffMult,
		Max:            c.Max.Duration,
		FailWindow:     c.FailWindow.Duration,
	}
}

// quiet maps a shutdown caused by cancellation to a clean exit.
func quiet(parent context.Context, err error) error {
	if err == nil || errors.Is(err, context.Canceled) {
		return nil
	}
	if parent.Err() != nil && errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}
