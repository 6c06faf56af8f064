package marketview

import (
	"math"
	"sync"
	"time"

	"github.com/alanyoungcy/quantbot/internal/domain"
)

// Liquidation is one forced order from the venue. Side BUY is a forced buy,
// usually a short being liquidated.
type Liquidation struct {
	Time  time.Time   `json:"ts"`
	Side  domain.Side `json:"side"`
	Price float64     `json:"price"`
	Qty   float64     `json:"qty"`
}

// LiquidationBook keeps a rolling window of forced orders and clusters
// them into price buckets.
type LiquidationBook struct {
	mu        sync.Mutex
	window    time.Duration
	bucketBps float64
	events    []Liquidation
}

// NewLiquidationBook creates a book. Defaults are a 30s window and 10 bps
// buckets.
func NewLiquidationBook(window time.Duration, bucketBps float64) *LiquidationBook {
	if window <= 0 {
		window = 30 * time.Second
	}
	if bucketBps <= 0 {
		bucketBps = 10
	}
	return &LiquidationBook{window: window, bucketBps: bucketBps}
}

// Add records a forced order.
func (b *LiquidationBook) Add(l Liquidation) {
	if l.Price <= 0 || l.Qty <= 0 || !l.Side.Tradable() {
		return
	}
	b.mu.Lock()
	b.events = append(b.events, l)
	b.mu.Unlock()
}

// Snapshot trims events older than the window and returns totals plus the
// densest bucket per side. Buckets are sized from ref, falling back to each
// event's own price when ref <= 0.
func (b *LiquidationBook) Snapshot(now time.Time, ref float64) domain.LiquidationStat {
	b.mu.Lock()
	defer b.mu.Unlock()

	cutoff := now.Add(-b.window)
	keep := b.events[:0]
	for _, e := range b.events {
		if !e.Time.Before(cutoff) {
			keep = append(keep, e)
		}
	}
	b.events = keep

	st := domain.LiquidationStat{WindowSec: b.window.Seconds()}
	buys := make(map[float64]float64)
	sells := make(map[float64]float64)
	for _, e := range b.events {
		n := e.Price * e.Qty
		k := b.bucket(e.Price, ref)
		if e.Side == domain.SideBuy {
			st.BuyNotional += n
			buys[k] += n
		} else {
			st.SellNotional += n
			sells[k] += n
		}
	}
	st.TopBuyPrice, st.TopBuyBucket = top(buys)
	st.TopSellPrice, st.TopSellBucket = top(sells)
	return st
}

func (b *LiquidationBook) bucket(price, ref float64) float64 {
	if ref <= 0 {
		ref = price
	}
	step := math.Max(ref*b.bucketBps/10_000, 1e-9)
	return math.Round(price/step) * step
}

// top returns the bucket with the largest notional, lowest price on ties.
func top(m map[float64]float64) (price, notional float64) {
	for p, n := range m {
		if n > notional || (n == notional && p < price) {
			price, notional = p, n
		}
	}
	return price, notional
}
