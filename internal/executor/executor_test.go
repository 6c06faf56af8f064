package executor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/quantbot/internal/domain"
)

var t0 = time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)

func order(side domain.Side, qty float64) domain.OrderRequest {
	return domain.OrderRequest{
		ClientOrderID: "qb-1",
		Venue:         "binance",
		Symbol:        "BTCUSDT",
		AccountTag:    "main",
		Side:          side,
		Qty:           qty,
		Type:          domain.OrderTypeMarket,
		Reason:        "signal_open",
		CreatedAt:     t0,
	}
}

type stubAdapter struct {
	fill  domain.Fill
	err   error
	calls int
}

func (s *stubAdapter) Name() string { return "stub" }
func (s *stubAdapter) GetPrice(context.Context, string) (float64, error) {
	return 0, nil
}
func (s *stubAdapter) GetOrderbook(context.Context, string, int) (domain.OrderBook, error) {
	return domain.OrderBook{}, nil
}
func (s *stubAdapter) GetCandles(context.Context, string, string, int) ([]domain.Candle, error) {
	return nil, nil
}
func (s *stubAdapter) PlaceOrder(context.Context, domain.OrderRequest) (domain.Fill, error) {
	s.calls++
	return s.fill, s.err
}
func (s *stubAdapter) GetAccount(context.Context) (domain.Account, error) {
	return domain.Account{}, nil
}

func TestPaperPrices(t *testing.T) {
	p := NewPaperSimulator(10, 5)
	q := domain.Quote{Bid: 99, Ask: 101, Last: 100}

	buy, err := p.Execute(context.Background(), order(domain.SideBuy, 2), q)
	require.NoError(t, err)
	assert.InDelta(t, 101*1.0005, buy.Price, 1e-9)
	assert.InDelta(t, 0.001*2*101*1.0005, buy.Fee, 1e-9)
	assert.Equal(t, domain.ModePaper, buy.Mode)
	assert.Equal(t, "qb-1", buy.ID)
	assert.Equal(t, t0, buy.Time)
	assert.Equal(t, "main", buy.AccountTag)

	sell, err := p.Execute(context.Background(), order(domain.SideSell, 2), q)
	require.NoError(t, err)
	assert.InDelta(t, 99*0.9995, sell.Price, 1e-9)

	// missing book side falls back to last
	sell, err = p.Execute(context.Background(), order(domain.SideSell, 1), domain.Quote{Last: 100})
	require.NoError(t, err)
	assert.InDelta(t, 99.95, sell.Price, 1e-9)
}

func TestPaperIsDeterministic(t *testing.T) {
	p := NewPaperSimulator(7.5, 3)
	q := domain.Quote{Bid: 1999.5, Ask: 2000.5}
	first, err := p.Execute(context.Background(), order(domain.SideBuy, 0.37), q)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := p.Execute(context.Background(), order(domain.SideBuy, 0.37), q)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestPaperRejects(t *testing.T) {
	p := NewPaperSimulator(10, 5)
	q := domain.Quote{Bid: 99, Ask: 101}

	_, err := p.Execute(context.Background(), order(domain.SideBuy, 0), q)
	assert.ErrorIs(t, err, domain.ErrInvalidFill)

	_, err = p.Execute(context.Background(), order(domain.SideFlat, 1), q)
	assert.ErrorIs(t, err, domain.ErrInvalidFill)

	_, err = p.Execute(context.Background(), order(domain.SideBuy, 1), domain.Quote{})
	assert.Error(t, err)
}

func TestLiveRouterNormalizesFill(t *testing.T) {
	a := &stubAdapter{fill: domain.Fill{Qty: 2, Price: 100.5, Fee: 0.2}}
	r := NewLiveRouter(a, domain.ModeLive)

	f, err := r.Execute(context.Background(), order(domain.SideBuy, 2), domain.Quote{})
	require.NoError(t, err)
	assert.Equal(t, "qb-1", f.ID)
	assert.Equal(t, "qb-1", f.ClientOrderID)
	assert.Equal(t, domain.SideBuy, f.Side)
	assert.Equal(t, domain.ModeLive, f.Mode)
	assert.Equal(t, "main", f.AccountTag)
	assert.Equal(t, t0, f.Time)
	assert.Equal(t, "live:stub", r.Name())
}

func TestLiveRouterNeverFabricatesFill(t *testing.T) {
	a := &stubAdapter{err: errors.New("insufficient balance")}
	r := NewLiveRouter(a, domain.ModeLive)

	f, err := r.Execute(context.Background(), order(domain.SideBuy, 1), domain.Quote{Ask: 100})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrAdapter)
	assert.Contains(t, err.Error(), "insufficient balance")
	assert.Equal(t, domain.Fill{}, f)

	a.err = nil
	a.fill = domain.Fill{Qty: 0, Price: 100}
	_, err = r.Execute(context.Background(), order(domain.SideBuy, 1), domain.Quote{})
	assert.ErrorIs(t, err, domain.ErrAdapter)
	assert.ErrorIs(t, err, domain.ErrInvalidFill)
}

func TestSelectSafetyGate(t *testing.T) {
	paper := NewPaperSimulator(10, 5)
	a := &stubAdapter{}

	tests := []struct {
		mode       domain.Mode
		enabled    bool
		adapter    domain.VenueAdapter
		wantLive   bool
		downgraded bool
	}{
		{domain.ModeLive, true, a, true, false},
		{domain.ModeDemo, true, a, true, false},
		{domain.ModeLive, false, a, false, true},
		{domain.ModeDemo, false, a, false, true},
		{domain.ModeLive, true, nil, false, true},
		{domain.ModePaper, true, a, false, false},
	}
	for _, tt := range tests {
		eng, err := Select(tt.mode, tt.enabled, tt.adapter, paper)
		_, live := eng.(*LiveRouter)
		assert.Equal(t, tt.wantLive, live, "mode=%s enabled=%v", tt.mode, tt.enabled)
		if tt.downgraded {
			assert.ErrorIs(t, err, domain.ErrTradingDisabled, "mode=%s enabled=%v", tt.mode, tt.enabled)
		} else {
			assert.NoError(t, err, "mode=%s enabled=%v", tt.mode, tt.enabled)
		}
		if !tt.wantLive {
			assert.Same(t, paper, eng)
		}
	}
}

func TestExecutorDedup(t *testing.T) {
	a := &stubAdapter{fill: domain.Fill{Qty: 1, Price: 100}}
	e := NewExecutor(NewLiveRouter(a, domain.ModeLive), nil)

	_, err := e.Execute(context.Background(), order(domain.SideBuy, 1), domain.Quote{})
	require.NoError(t, err)
	_, err = e.Execute(context.Background(), order(domain.SideBuy, 1), domain.Quote{})
	assert.ErrorIs(t, err, domain.ErrDuplicateOrder)
	assert.Equal(t, 1, a.calls)
}

func TestExecutorDedupTTL(t *testing.T) {
	a := &stubAdapter{fill: domain.Fill{Qty: 1, Price: 100}}
	e := NewExecutor(NewLiveRouter(a, domain.ModeLive), nil)
	e.SetDedupTTL(10 * time.Second)
	now := t0
	e.dedup.now = func() time.Time { return now }

	_, err := e.Execute(context.Background(), order(domain.SideBuy, 1), domain.Quote{})
	require.NoError(t, err)
	now = now.Add(5 * time.Second)
	_, err = e.Execute(context.Background(), order(domain.SideBuy, 1), domain.Quote{})
	require.ErrorIs(t, err, domain.ErrDuplicateOrder)

	// past the shortened window the id is accepted again
	now = now.Add(6 * time.Second)
	_, err = e.Execute(context.Background(), order(domain.SideBuy, 1), domain.Quote{})
	require.NoError(t, err)
	assert.Equal(t, 2, a.calls)
}

func TestExecutorForgetsOrdersThatNeverLeft(t *testing.T) {
	e := NewExecutor(NewPaperSimulator(10, 5), nil)
	_, err := e.Execute(context.Background(), order(domain.SideBuy, 1), domain.Quote{})
	require.Error(t, err)

	_, err = e.Execute(context.Background(), order(domain.SideBuy, 1), domain.Quote{Ask: 100})
	require.NoError(t, err)
}

func TestDedupExpiry(t *testing.T) {
	d := NewDedup(time.Minute)
	now := t0
	d.now = func() time.Time { return now }

	assert.False(t, d.IsDuplicate("a"))
	assert.True(t, d.IsDuplicate("a"))
	now = now.Add(2 * time.Minute)
	assert.False(t, d.IsDuplicate("a"))

	now = now.Add(2 * time.Minute)
	d.Cleanup()
	assert.Empty(t, d.seen)
}
