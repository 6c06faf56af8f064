package marketview

import (
	"math"
	"sync"
	"time"

	"github.com/alanyoungcy/quantbot/internal/domain"
)

const (
	flowAlpha = 0.08
	flowEps   = 1e-9
	minDt     = 1e-6
)

// FlowCalculator turns a window of prints into a FlowStat. It keeps only
// the trailing EMA baseline of rate and acceleration between calls.
type FlowCalculator struct {
	window   time.Duration
	largeMin float64

	mu       sync.Mutex
	seen     bool
	lastAt   time.Time
	lastRate float64
	rateEMA  float64
	rateDev  float64
	accelEMA float64
	accelDev float64
}

// NewFlowCalculator creates a calculator. Trades with notional at or above
// largeMin count as large; largeMin <= 0 disables the large-trade stats.
func NewFlowCalculator(window time.Duration, largeMin float64) *FlowCalculator {
	if window <= 0 {
		window = 5 * time.Second
	}
	return &FlowCalculator{window: window, largeMin: largeMin}
}

// Window returns the rolling window length.
func (c *FlowCalculator) Window() time.Duration { return c.window }

// Compute builds the FlowStat for (now-window, now] and advances the
// baseline. prints may contain trades outside the window.
func (c *FlowCalculator) Compute(now time.Time, prints []domain.TradePrint) domain.FlowStat {
	in := window(prints, now, c.window)
	winSec := c.window.Seconds()

	st := domain.FlowStat{WindowSec: winSec, TradeCount: len(in)}
	var large float64
	for _, p := range in {
		n := p.Notional()
		if p.Side == domain.SideBuy {
			st.BuyNotional += n
		} else {
			st.SellNotional += n
		}
		if c.largeMin > 0 && n >= c.largeMin {
			st.LargeTradeCount++
			large += n
		}
	}
	st.TotalNotional = st.BuyNotional + st.SellNotional
	st.NotionalRate = st.TotalNotional / math.Max(winSec, flowEps)
	if st.TotalNotional > 0 {
		st.LargeShare = large / st.TotalNotional
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.seen {
		dt := math.Max(now.Sub(c.lastAt).Seconds(), minDt)
		st.NotionalAccel = (st.NotionalRate - c.lastRate) / dt
	} else {
		c.rateEMA = st.NotionalRate
		c.accelEMA = st.NotionalAccel
	}
	c.seen = true
	c.lastAt = now
	c.lastRate = st.NotionalRate

	c.rateEMA = (1-flowAlpha)*c.rateEMA + flowAlpha*st.NotionalRate
	c.rateDev = (1-flowAlpha)*c.rateDev + flowAlpha*math.Abs(st.NotionalRate-c.rateEMA)
	c.accelEMA = (1-flowAlpha)*c.accelEMA + flowAlpha*st.NotionalAccel
	c.accelDev = (1-flowAlpha)*c.accelDev + flowAlpha*math.Abs(st.NotionalAccel-c.accelEMA)

	st.RateEMA = c.rateEMA
	st.AccelEMA = c.accelEMA
	st.RateZ = (st.NotionalRate - c.rateEMA) / math.Max(c.rateDev, flowEps)
	st.AccelZ = (st.NotionalAccel - c.accelEMA) / math.Max(c.accelDev, flowEps)
	return st
}
