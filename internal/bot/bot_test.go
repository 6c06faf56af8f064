package bot

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/quantbot/internal/domain"
	"github.com/alanyoungcy/quantbot/internal/executor"
	"github.com/alanyoungcy/quantbot/internal/globalrisk"
	"github.com/alanyoungcy/quantbot/internal/marketview"
	"github.com/alanyoungcy/quantbot/internal/risk"
	"github.com/alanyoungcy/quantbot/internal/statestore"
	"github.com/alanyoungcy/quantbot/internal/strategy"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeView struct {
	snap     domain.MarketSnapshot
	err      error
	stale    bool
	fallback marketview.FallbackHandler
}

func (v *fakeView) OnFallback(fn marketview.FallbackHandler) { v.fallback = fn }

func (v *fakeView) Refresh(ctx context.Context) (marketview.Result, error) {
	if v.stale && v.fallback != nil {
		v.fallback(ctx, domain.Event{
			Time:   v.snap.FetchedAt,
			Type:   domain.EventStaleFallback,
			Reason: "trade_stream_stale",
		})
	}
	if v.err != nil {
		return marketview.Result{}, v.err
	}
	return marketview.Result{Snapshot: v.snap}, nil
}

func (v *fakeView) setPrice(p float64) {
	v.snap.LastPrice, v.snap.BestBid, v.snap.BestAsk = p, p, p
}

type fakeGen struct {
	side  domain.Side
	score float64
}

func (g *fakeGen) Name() string { return "fake" }

func (g *fakeGen) Generate(in strategy.Input) domain.Signal {
	if !g.side.Tradable() {
		return domain.Flat(in.Now, "fake", "no_edge", nil)
	}
	return domain.Signal{Time: in.Now, Strategy: "fake", Side: g.side, Score: g.score, Reason: "test"}
}

type failingAdapter struct{}

func (failingAdapter) Name() string { return "stub" }
func (failingAdapter) GetPrice(context.Context, string) (float64, error) {
	return 0, errors.New("unused")
}
func (failingAdapter) GetOrderbook(context.Context, string, int) (domain.OrderBook, error) {
	return domain.OrderBook{}, errors.New("unused")
}
func (failingAdapter) GetCandles(context.Context, string, string, int) ([]domain.Candle, error) {
	return nil, errors.New("unused")
}
func (failingAdapter) PlaceOrder(context.Context, domain.OrderRequest) (domain.Fill, error) {
	return domain.Fill{}, errors.New("exchange says no")
}
func (failingAdapter) GetAccount(context.Context) (domain.Account, error) {
	return domain.Account{Equity: 10_000}, nil
}

type recordingMirror struct {
	mu     sync.Mutex
	fills  []domain.Fill
	events []domain.Event
	equity []domain.EquityPoint
	states []domain.BotState
}

func (m *recordingMirror) RecordFill(_ context.Context, f domain.Fill) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fills = append(m.fills, f)
	return nil
}

func (m *recordingMirror) RecordEvent(_ context.Context, e domain.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
	return nil
}

func (m *recordingMirror) RecordEquity(_ context.Context, p domain.EquityPoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.equity = append(m.equity, p)
	return nil
}

func (m *recordingMirror) PublishState(_ context.Context, st domain.BotState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states = append(m.states, st)
	return nil
}

func (m *recordingMirror) PublishEvent(context.Context, domain.Event) error { return nil }

type heldLock struct{}

func (heldLock) Acquire(context.Context, string, time.Duration) (func(), error) {
	return nil, domain.ErrLockHeld
}

type harness struct {
	bot    *Bot
	view   *fakeView
	gen    *fakeGen
	store  *statestore.Store
	mirror *recordingMirror
	root   string
	clock  time.Time
}

func (h *harness) advance(d time.Duration) { h.clock = h.clock.Add(d) }

type option func(*Config, *Deps)

func newHarness(t *testing.T, opts ...option) *harness {
	t.Helper()
	root := t.TempDir()
	cfg := Config{
		Venue:           "binance",
		Symbol:          "BTCUSDT",
		Mode:            domain.ModePaper,
		Interval:        time.Second,
		PositionFrac:    0.05,
		InitialCash:     10_000,
		PersistAttempts: 2,
		PersistBackoff:  time.Millisecond,
	}
	store, err := statestore.New(root, cfg.Key(), discard())
	require.NoError(t, err)

	h := &harness{
		view:   &fakeView{},
		gen:    &fakeGen{side: domain.SideFlat},
		store:  store,
		mirror: &recordingMirror{},
		root:   root,
		clock:  time.Now().UTC(),
	}
	h.view.setPrice(100)

	deps := Deps{
		View:       h.view,
		Generator:  h.gen,
		Risk:       risk.NewManager(risk.DefaultLimits()),
		Cooldown:   risk.NewCooldown(risk.CooldownConfig{}),
		Executor:   executor.NewExecutor(executor.NewPaperSimulator(0, 0), discard()),
		Store:      store,
		Mirrors:    []domain.JournalWriter{h.mirror},
		Publishers: []Publisher{h.mirror},
	}
	for _, o := range opts {
		o(&cfg, &deps)
	}
	b, err := New(cfg, deps, discard())
	require.NoError(t, err)
	b.now = func() time.Time { return h.clock }
	h.bot = b
	return h
}

func eventTypes(events []domain.Event) []domain.EventType {
	out := make([]domain.EventType, 0, len(events))
	for _, e := range events {
		out = append(out, e.Type)
	}
	return out
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := New(Config{Venue: "binance"}, Deps{}, discard())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "symbol")
	assert.Contains(t, err.Error(), "market view")
	assert.Contains(t, err.Error(), "executor")
}

func TestCycleOpensThenStopsOut(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.gen.side, h.gen.score = domain.SideBuy, 1
	require.NoError(t, h.bot.Cycle(ctx))

	st := h.bot.State()
	assert.InDelta(t, 5, st.Position.Qty, 1e-9)
	assert.InDelta(t, 100, st.Position.AvgCost, 1e-9)
	assert.Equal(t, int64(1), st.Cycle)
	assert.Contains(t, eventTypes(st.Events), domain.EventEntry)
	assert.Contains(t, eventTypes(st.Events), domain.EventFill)

	h.advance(time.Second)
	h.gen.side = domain.SideFlat
	h.view.setPrice(98.5)
	require.NoError(t, h.bot.Cycle(ctx))

	st = h.bot.State()
	assert.True(t, st.Position.IsFlat())
	assert.InDelta(t, -7.5, st.Position.Realized, 1e-9)
	assert.Contains(t, eventTypes(st.Events), domain.EventStopLoss)

	fills, err := h.store.ReadFills()
	require.NoError(t, err)
	require.Len(t, fills, 2)
	assert.Equal(t, domain.SideSell, fills[1].Side)
	assert.InDelta(t, -7.5, fills[1].RealizedDelta, 1e-9)

	pos, src, err := h.store.Recover()
	require.NoError(t, err)
	assert.Equal(t, statestore.RecoveredFromFills, src)
	assert.InDelta(t, st.Position.Realized, pos.Realized, 1e-9)

	snap, err := h.store.LoadSnapshot()
	require.NoError(t, err)
	assert.Equal(t, int64(2), snap.Cycle)
	assert.InDelta(t, 10_000-7.5, snap.Equity, 1e-9)

	assert.Len(t, h.mirror.fills, 2)
	assert.Len(t, h.mirror.states, 2)
}

func TestCycleHoldsWithoutSignal(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.bot.Cycle(context.Background()))

	st := h.bot.State()
	assert.True(t, st.Position.IsFlat())
	assert.Empty(t, st.Events)
	fills, err := h.store.ReadFills()
	if err != nil {
		require.ErrorIs(t, err, domain.ErrNotFound)
	}
	assert.Empty(t, fills)
}

func TestOrderErrorStartsCooldown(t *testing.T) {
	h := newHarness(t, func(c *Config, d *Deps) {
		c.Mode = domain.ModeLive
		eng, err := executor.Select(domain.ModeLive, true, failingAdapter{}, executor.NewPaperSimulator(0, 0))
		require.NoError(t, err)
		d.Executor = executor.NewExecutor(eng, discard())
		d.Cooldown = risk.NewCooldown(risk.DefaultCooldownConfig())
	})
	ctx := context.Background()
	h.gen.side, h.gen.score = domain.SideBuy, 1

	require.NoError(t, h.bot.Cycle(ctx))
	st := h.bot.State()
	assert.True(t, st.Position.IsFlat())
	require.Contains(t, eventTypes(st.Events), domain.EventOrderError)
	for _, e := range st.Events {
		if e.Type == domain.EventOrderError {
			assert.Contains(t, e.Reason, "exchange says no")
			assert.Equal(t, 10.0, e.Data["cooldown_sec"])
		}
	}

	h.advance(time.Second)
	require.NoError(t, h.bot.Cycle(ctx))
	st = h.bot.State()
	assert.Equal(t, domain.EventCooldown, st.Events[len(st.Events)-1].Type)

	h.advance(15 * time.Second)
	require.NoError(t, h.bot.Cycle(ctx))
	st = h.bot.State()
	assert.Equal(t, domain.EventOrderError, st.Events[len(st.Events)-1].Type)
}

func TestRiskRejectRecordsEvent(t *testing.T) {
	h := newHarness(t, func(c *Config, _ *Deps) {
		c.PositionFrac = 0.5
	})
	h.gen.side, h.gen.score = domain.SideSell, 1
	require.NoError(t, h.bot.Cycle(context.Background()))

	st := h.bot.State()
	assert.True(t, st.Position.IsFlat())
	last := st.Events[len(st.Events)-1]
	assert.Equal(t, domain.EventRiskReject, last.Type)
	assert.Equal(t, risk.ReasonMaxPosition, last.Reason)
}

func TestGlobalExposureBlocksEntry(t *testing.T) {
	h := newHarness(t, func(c *Config, d *Deps) {
		l := risk.DefaultLimits()
		l.MaxAccountFrac = 0.5
		d.Risk = risk.NewManager(l)
	})
	root := h.root

	other, err := statestore.New(root, domain.BotKey("binance", "ETHUSDT", ""), discard())
	require.NoError(t, err)
	require.NoError(t, other.SaveSnapshot(domain.BotState{
		BotID:     "binance_ETHUSDT",
		Venue:     "binance",
		Symbol:    "ETHUSDT",
		Market:    domain.MarketSnapshot{LastPrice: 100},
		Position:  domain.Position{Qty: 60, AvgCost: 100},
		Equity:    10_000,
		UpdatedAt: time.Now().UTC(),
	}))
	h.bot.deps.Global = globalrisk.New(globalrisk.FromStateRoot(root), discard())

	h.gen.side, h.gen.score = domain.SideBuy, 1
	require.NoError(t, h.bot.Cycle(context.Background()))

	st := h.bot.State()
	assert.True(t, st.Position.IsFlat())
	last := st.Events[len(st.Events)-1]
	assert.Equal(t, domain.EventRiskReject, last.Type)
	assert.Equal(t, risk.ReasonAccountExposure, last.Reason)
}

func TestStaleFallbackEventIsRecorded(t *testing.T) {
	h := newHarness(t)
	h.view.stale = true
	require.NoError(t, h.bot.Cycle(context.Background()))

	events, err := h.store.ReadEvents()
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, domain.EventStaleFallback, events[0].Type)
	assert.Equal(t, "BTCUSDT", events[0].Symbol)
	assert.NotEmpty(t, events[0].ID)
	assert.Len(t, h.mirror.events, 1)
}

func TestMarketViewErrorIsRecoverable(t *testing.T) {
	h := newHarness(t)
	h.view.err = errors.New("connection refused")

	err := h.bot.Cycle(context.Background())
	require.Error(t, err)
	assert.True(t, domain.IsRecoverable(err))
	assert.Equal(t, int64(0), h.bot.State().Cycle)
}

func TestPersistenceFailureIsFatal(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, os.RemoveAll(h.store.Dir()))

	err := h.bot.Cycle(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrPersistence)
	assert.False(t, domain.IsRecoverable(err))
}

func TestEquityLogOnlyOnChange(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	for range 3 {
		require.NoError(t, h.bot.Cycle(ctx))
		h.advance(time.Second)
	}
	points, err := h.store.ReadEquity()
	require.NoError(t, err)
	require.Len(t, points, 1)
	assert.Equal(t, 10_000.0, points[0].Equity)

	h.gen.side, h.gen.score = domain.SideBuy, 1
	require.NoError(t, h.bot.Cycle(ctx))
	h.view.setPrice(101)
	h.gen.side = domain.SideFlat
	h.advance(time.Second)
	require.NoError(t, h.bot.Cycle(ctx))

	points, err = h.store.ReadEquity()
	require.NoError(t, err)
	require.Len(t, points, 2)
	assert.InDelta(t, 10_005, points[1].Equity, 1e-9)
}

func TestRunFinishesCycleAfterCancel(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, h.bot.Run(ctx))

	snap, err := h.store.LoadSnapshot()
	require.NoError(t, err)
	assert.Equal(t, int64(1), snap.Cycle)

	events, err := h.store.ReadEvents()
	require.NoError(t, err)
	types := eventTypes(events)
	assert.Equal(t, domain.EventStartup, types[0])
	assert.Equal(t, domain.EventShutdown, types[len(types)-1])
}

func TestRunRecoversPosition(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.store.AppendFill(domain.Fill{
		ID: "f1", Time: h.clock, Venue: "binance", Symbol: "BTCUSDT",
		Side: domain.SideBuy, Qty: 2, Price: 100, Fee: 0.2,
	}))
	require.NoError(t, h.bot.Recover(context.Background()))

	st := h.bot.State()
	assert.InDelta(t, 2, st.Position.Qty, 1e-9)
	assert.InDelta(t, 0.2, st.Position.CarriedFee, 1e-9)
}

func TestRunFailsWhenLockHeld(t *testing.T) {
	h := newHarness(t, func(_ *Config, d *Deps) {
		d.Lock = heldLock{}
	})
	err := h.bot.Run(context.Background())
	require.ErrorIs(t, err, domain.ErrLockHeld)
}

func TestSize(t *testing.T) {
	long := domain.Position{Qty: 4, AvgCost: 100}
	tests := []struct {
		name string
		d    domain.Decision
		want float64
	}{
		{"close", domain.Decision{Action: domain.ActionClose}, 4},
		{"reduce", domain.Decision{Action: domain.ActionReduce}, 2},
		{"open sized by risk", domain.Decision{Action: domain.ActionOpen, Qty: 3}, 3},
		{"open from notional", domain.Decision{Action: domain.ActionOpen}, 5},
		{"hold", domain.Decision{Action: domain.ActionHold}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, size(tt.d, long, 500, 100, 0.5), 1e-9)
		})
	}
}

func TestPaperEquity(t *testing.T) {
	eq, err := PaperEquity(1000)(context.Background(), domain.Position{Realized: 10, Unrealized: -3})
	require.NoError(t, err)
	assert.Equal(t, 1007.0, eq)

	eq, err = VenueEquity(failingAdapter{})(context.Background(), domain.Position{})
	require.NoError(t, err)
	assert.Equal(t, 10_000.0, eq)

	// margin accounts already include the position
	held := domain.Position{Qty: 0.5, LastPrice: 200}
	eq, err = VenueEquity(failingAdapter{})(context.Background(), held)
	require.NoError(t, err)
	assert.Equal(t, 10_000.0, eq)
}

type spotAccount struct{ failingAdapter }

func (spotAccount) GetAccount(context.Context) (domain.Account, error) {
	return domain.Account{Equity: 900, Cash: 900, Positions: map[string]float64{"BTC": 0.5}, QuoteOnly: true}, nil
}

func TestVenueEquityValuesSpotHoldings(t *testing.T) {
	equity := VenueEquity(spotAccount{})

	eq, err := equity(context.Background(), domain.Position{})
	require.NoError(t, err)
	assert.Equal(t, 900.0, eq)

	eq, err = equity(context.Background(), domain.Position{Qty: 0.5, LastPrice: 200})
	require.NoError(t, err)
	assert.Equal(t, 1000.0, eq)
}
