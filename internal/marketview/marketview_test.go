package marketview

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/quantbot/internal/domain"
)

var t0 = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

func buy(at time.Time, price, qty float64) domain.TradePrint {
	return domain.TradePrint{Time: at, Side: domain.SideBuy, Price: price, Qty: qty}
}

func sell(at time.Time, price, qty float64) domain.TradePrint {
	return domain.TradePrint{Time: at, Side: domain.SideSell, Price: price, Qty: qty}
}

type fakeVenue struct {
	price float64
	err   error
}

func (f *fakeVenue) Name() string { return "fake" }

func (f *fakeVenue) GetPrice(context.Context, string) (float64, error) {
	return f.price, f.err
}

func (f *fakeVenue) GetOrderbook(context.Context, string, int) (domain.OrderBook, error) {
	return domain.OrderBook{
		Bids: []domain.PriceLevel{{Price: f.price - 1, Size: 2}, {Price: f.price - 2, Size: 3}},
		Asks: []domain.PriceLevel{{Price: f.price + 1, Size: 2}, {Price: f.price + 2, Size: 3}},
	}, nil
}

func (f *fakeVenue) GetCandles(_ context.Context, _ string, _ string, limit int) ([]domain.Candle, error) {
	out := make([]domain.Candle, 0, 3)
	for i := 0; i < 3; i++ {
		out = append(out, domain.Candle{
			OpenTime: t0.Add(time.Duration(i-3) * time.Minute),
			Open:     f.price, High: f.price + 1, Low: f.price - 1, Close: f.price, Volume: 10,
		})
	}
	return out, nil
}

func (f *fakeVenue) PlaceOrder(context.Context, domain.OrderRequest) (domain.Fill, error) {
	return domain.Fill{}, errors.New("not supported")
}

func (f *fakeVenue) GetAccount(context.Context) (domain.Account, error) {
	return domain.Account{}, nil
}

type fakeTrades struct {
	prints []domain.TradePrint
	calls  int
	err    error
}

func (f *fakeTrades) RecentTrades(ctx context.Context, _ string, _ int) ([]domain.TradePrint, error) {
	f.calls++
	if _, ok := ctx.Deadline(); !ok {
		return nil, errors.New("fallback must be bounded")
	}
	return f.prints, f.err
}

func newView(tape *TradeTape, trades domain.TradeSource) *View {
	v := New(&fakeVenue{price: 100}, trades, tape, NewLiquidationBook(0, 0), Config{
		Symbol:     "BTCUSDT",
		FlowWindow: 5 * time.Second,
		Staleness:  30 * time.Second,
	}, nil)
	v.now = func() time.Time { return t0 }
	return v
}

func TestTapeWindowAndRecent(t *testing.T) {
	tape := NewTradeTape(time.Minute, 0)
	tape.AddAt(buy(t0.Add(-10*time.Second), 100, 1), t0)
	tape.AddAt(sell(t0.Add(-3*time.Second), 100, 2), t0)
	tape.AddAt(buy(t0.Add(-1*time.Second), 100, 3), t0)
	tape.AddAt(buy(t0, 0, 1), t0)

	assert.Equal(t, 3, tape.Len())
	w := tape.Window(t0, 5*time.Second)
	require.Len(t, w, 2)
	assert.InDelta(t, 200, w[0].Notional(), 1e-9)

	r := tape.Recent(t0, 2, 0)
	require.Len(t, r, 2)
	assert.Equal(t, t0.Add(-1*time.Second), r[0].Time, "newest first")
	assert.Equal(t, t0, tape.LastSample())
}

func TestTapeEvictsByRetentionAndLength(t *testing.T) {
	tape := NewTradeTape(10*time.Second, 3)
	for i := 0; i < 5; i++ {
		tape.AddAt(buy(t0.Add(time.Duration(i)*time.Second), 100, 1), t0)
	}
	assert.Equal(t, 3, tape.Len())

	tape.AddAt(buy(t0.Add(time.Minute), 100, 1), t0)
	assert.Equal(t, 1, tape.Len())
}

func TestPressure(t *testing.T) {
	p := Pressure([]domain.TradePrint{buy(t0, 10, 3), sell(t0, 10, 1)})
	assert.InDelta(t, 0.5, p.Pressure, 1e-9)
	assert.InDelta(t, 40, p.Notional, 1e-9)
	assert.Equal(t, 2, p.TradeCount)

	assert.Zero(t, Pressure(nil).Pressure)
	assert.InDelta(t, -1, Pressure([]domain.TradePrint{sell(t0, 10, 1)}).Pressure, 1e-9)
}

func TestFlowCalculatorBaseline(t *testing.T) {
	c := NewFlowCalculator(5*time.Second, 500)
	prints := []domain.TradePrint{buy(t0.Add(-time.Second), 100, 6), sell(t0.Add(-2*time.Second), 100, 4)}

	first := c.Compute(t0, prints)
	assert.Equal(t, 2, first.TradeCount)
	assert.InDelta(t, 1000, first.TotalNotional, 1e-9)
	assert.InDelta(t, 200, first.NotionalRate, 1e-9)
	assert.Zero(t, first.NotionalAccel)
	assert.InDelta(t, 200, first.RateEMA, 1e-9)
	assert.Zero(t, first.RateZ)
	assert.Equal(t, 1, first.LargeTradeCount)
	assert.InDelta(t, 0.6, first.LargeShare, 1e-9)

	// ten seconds later the window is empty
	second := c.Compute(t0.Add(10*time.Second), prints)
	assert.Zero(t, second.TradeCount)
	assert.InDelta(t, -20, second.NotionalAccel, 1e-9)
	assert.InDelta(t, 0.92*200, second.RateEMA, 1e-9)
	assert.Less(t, second.RateZ, 0.0)
}

func TestLiquidationBookBuckets(t *testing.T) {
	b := NewLiquidationBook(30*time.Second, 10)
	b.Add(Liquidation{Time: t0.Add(-time.Minute), Side: domain.SideSell, Price: 100, Qty: 100})
	b.Add(Liquidation{Time: t0.Add(-time.Second), Side: domain.SideSell, Price: 100.02, Qty: 2})
	b.Add(Liquidation{Time: t0.Add(-time.Second), Side: domain.SideSell, Price: 99.98, Qty: 2})
	b.Add(Liquidation{Time: t0.Add(-time.Second), Side: domain.SideSell, Price: 101, Qty: 1})
	b.Add(Liquidation{Time: t0, Side: domain.SideBuy, Price: 102, Qty: 1})

	st := b.Snapshot(t0, 100)
	assert.InDelta(t, 30, st.WindowSec, 1e-9)
	assert.InDelta(t, 100.02*2+99.98*2+101, st.SellNotional, 1e-9)
	assert.InDelta(t, 100, st.TopSellPrice, 1e-9)
	assert.InDelta(t, 400, st.TopSellBucket, 1e-9)
	assert.InDelta(t, 102, st.BuyNotional, 1e-9)
	assert.InDelta(t, 102, st.TopBuyPrice, 1e-9)
}

func TestRefreshUsesFreshStream(t *testing.T) {
	tape := NewTradeTape(time.Minute, 0)
	tape.AddAt(buy(t0.Add(-time.Second), 100, 2), t0.Add(-time.Second))
	trades := &fakeTrades{}
	v := newView(tape, trades)
	var events []domain.Event
	v.OnFallback(func(_ context.Context, e domain.Event) { events = append(events, e) })

	res, err := v.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.FlowSourceStream, res.Flow.Source)
	assert.Equal(t, 1, res.Flow.TradeCount)
	assert.InDelta(t, 1, res.Flow.Pressure, 1e-9)
	assert.InDelta(t, 99, res.Snapshot.BestBid, 1e-9)
	assert.InDelta(t, 101, res.Snapshot.BestAsk, 1e-9)
	assert.Len(t, res.Snapshot.Tape, 1)
	assert.Zero(t, trades.calls)
	assert.Empty(t, events)
	assert.NoError(t, res.Stale)
}

func TestRefreshFallsBackWhenStreamStale(t *testing.T) {
	tape := NewTradeTape(time.Minute, 0)
	tape.AddAt(buy(t0.Add(-2*time.Minute), 100, 2), t0.Add(-2*time.Minute))
	trades := &fakeTrades{prints: []domain.TradePrint{
		sell(t0.Add(-time.Second), 100, 3),
		buy(t0.Add(-2*time.Second), 100, 1),
	}}
	v := newView(tape, trades)
	var events []domain.Event
	v.OnFallback(func(_ context.Context, e domain.Event) { events = append(events, e) })

	res, err := v.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, trades.calls)
	assert.Equal(t, domain.FlowSourceREST, res.Flow.Source)
	assert.Equal(t, 2, res.Flow.TradeCount)
	assert.InDelta(t, -0.5, res.Flow.Pressure, 1e-9)
	assert.InDelta(t, 120, res.Flow.StalenessSec, 1e-9)
	require.ErrorIs(t, res.Stale, domain.ErrStale)
	assert.Contains(t, res.Stale.Error(), "120.0s")

	require.Len(t, events, 1)
	assert.Equal(t, domain.EventStaleFallback, events[0].Type)
	assert.Equal(t, "BTCUSDT", events[0].Symbol)

	// fresh samples resume: next cycle is back on the stream
	tape.AddAt(buy(t0.Add(-time.Second), 100, 1), t0)
	res, err = v.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.FlowSourceStream, res.Flow.Source)
	assert.NoError(t, res.Stale)
	assert.Equal(t, 1, trades.calls)
	assert.Len(t, events, 1)
}

func TestRefreshFallbackErrorStillRecorded(t *testing.T) {
	trades := &fakeTrades{err: errors.New("boom")}
	v := newView(NewTradeTape(time.Minute, 0), trades)
	var events []domain.Event
	v.OnFallback(func(_ context.Context, e domain.Event) { events = append(events, e) })

	res, err := v.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.FlowSourceREST, res.Flow.Source)
	assert.Zero(t, res.Flow.TradeCount)
	require.ErrorIs(t, res.Stale, domain.ErrStale)
	assert.Contains(t, res.Stale.Error(), "boom")
	require.Len(t, events, 1)
	assert.Contains(t, events[0].Data["error"], "boom")
}

func TestRefreshVenueError(t *testing.T) {
	v := New(&fakeVenue{err: errors.New("down")}, nil, nil, nil, Config{Symbol: "X"}, nil)
	_, err := v.Refresh(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "marketview: price")
}
