package binance

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/alanyoungcy/quantbot/internal/domain"
)

// DemoAdapter is an offline venue: a seeded random-walk market with
// instant fills at the current walk price and no fees.
type DemoAdapter struct {
	mu     sync.Mutex
	rng    *rand.Rand
	price  float64
	equity float64
	now    func() time.Time
}

// NewDemoAdapter starts the walk at start (100 when zero).
func NewDemoAdapter(seed uint64, start float64) *DemoAdapter {
	if start <= 0 {
		start = 100
	}
	return &DemoAdapter{
		rng:    rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		price:  start,
		equity: 10_000_000,
		now:    time.Now,
	}
}

func (d *DemoAdapter) Name() string { return "demo" }

// SetPrice pins the walk to p.
func (d *DemoAdapter) SetPrice(p float64) {
	d.mu.Lock()
	d.price = p
	d.mu.Unlock()
}

// step advances the walk one tick and returns the new price.
func (d *DemoAdapter) step() float64 {
	d.price = math.Max(0.01, d.price+d.rng.NormFloat64()*0.05)
	return d.price
}

func (d *DemoAdapter) GetPrice(_ context.Context, _ string) (float64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.step(), nil
}

// GetOrderbook builds a symmetric book one basis point around the price.
func (d *DemoAdapter) GetOrderbook(_ context.Context, _ string, depth int) (domain.OrderBook, error) {
	if depth <= 0 {
		depth = 20
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	tick := d.price * 0.0001
	book := domain.OrderBook{Time: d.now().UTC()}
	for i := range depth {
		off := tick * float64(i+1)
		book.Bids = append(book.Bids, domain.PriceLevel{Price: d.price - off, Size: 5 + d.rng.Float64()*20})
		book.Asks = append(book.Asks, domain.PriceLevel{Price: d.price + off, Size: 5 + d.rng.Float64()*20})
	}
	return book, nil
}

// GetCandles walks limit one-minute bars ending at the current minute.
func (d *DemoAdapter) GetCandles(_ context.Context, _ string, _ string, limit int) ([]domain.Candle, error) {
	if limit <= 0 {
		limit = 200
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	end := d.now().UTC().Truncate(time.Minute)
	out := make([]domain.Candle, limit)
	// Walk backwards from the current price so the last close is current.
	px := d.price
	for i := limit - 1; i >= 0; i-- {
		open := px - d.rng.NormFloat64()*0.05
		cl := px + d.rng.NormFloat64()*0.03
		hi := math.Max(math.Max(open, cl), px+math.Abs(d.rng.NormFloat64()*0.07))
		lo := math.Min(math.Min(open, cl), px-math.Abs(d.rng.NormFloat64()*0.07))
		out[i] = domain.Candle{
			OpenTime: end.Add(-time.Duration(limit-1-i) * time.Minute),
			Open:     open,
			High:     hi,
			Low:      lo,
			Close:    cl,
			Volume:   math.Exp(2 + 0.4*d.rng.NormFloat64()),
		}
		px = open
	}
	out[limit-1].Close = d.price
	out[limit-1].High = math.Max(out[limit-1].High, d.price)
	out[limit-1].Low = math.Min(out[limit-1].Low, d.price)
	return out, nil
}

// RecentTrades synthesizes limit prints over the last minute.
func (d *DemoAdapter) RecentTrades(_ context.Context, _ string, limit int) ([]domain.TradePrint, error) {
	if limit <= 0 {
		limit = 100
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	now := d.now().UTC()
	out := make([]domain.TradePrint, limit)
	for i := range out {
		side := domain.SideBuy
		if d.rng.IntN(2) == 0 {
			side = domain.SideSell
		}
		out[i] = domain.TradePrint{
			Time:  now.Add(-time.Duration(limit-i) * 60 * time.Second / time.Duration(limit)),
			Side:  side,
			Price: d.price,
			Qty:   d.rng.ExpFloat64(),
		}
	}
	return out, nil
}

// PlaceOrder fills the full quantity at the current price.
func (d *DemoAdapter) PlaceOrder(_ context.Context, req domain.OrderRequest) (domain.Fill, error) {
	if req.Qty <= 0 {
		return domain.Fill{}, fmt.Errorf("demo: place order: qty %v: %w", req.Qty, domain.ErrInvalidFill)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return domain.Fill{
		ID:            req.ClientOrderID,
		Time:          d.now().UTC(),
		Venue:         req.Venue,
		Symbol:        req.Symbol,
		Side:          req.Side,
		Qty:           req.Qty,
		Price:         d.price,
		ClientOrderID: req.ClientOrderID,
	}, nil
}

func (d *DemoAdapter) GetAccount(context.Context) (domain.Account, error) {
	return domain.Account{Equity: d.equity, Cash: d.equity}, nil
}

var (
	_ domain.VenueAdapter = (*DemoAdapter)(nil)
	_ domain.TradeSource  = (*DemoAdapter)(nil)
)
