package strategy

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/alanyoungcy/quantbot/internal/domain"
)

// ScalpName is the registry name of the scalp generator.
const ScalpName = "scalp"

// Scalp gate reasons, in evaluation order.
const (
	ReasonLowTradeValue       = "low_trade_value"
	ReasonLowOrderbook        = "low_orderbook"
	ReasonLowVolSurge         = "low_vol_surge"
	ReasonWideSpread          = "wide_spread"
	ReasonHigh1mRange         = "high_1m_range"
	ReasonHigh1mBody          = "high_1m_body"
	ReasonNewsCooldown        = "news_cooldown"
	ReasonLowPressureNotional = "low_pressure_notional"
	ReasonLowPressure         = "low_pressure"
	ReasonLowFlowRate         = "low_flow_rate"
	ReasonLowTradeCount       = "low_trade_count"
	ReasonLowLargeShare       = "low_large_share"
	ReasonNoPressure          = "no_pressure"
	ReasonLowOBImbalance      = "low_ob_imbalance"
	ReasonOBDelta             = "ob_delta_misaligned"
	ReasonFlowAccel           = "flow_accel_misaligned"
	ReasonNoRSISetup          = "no_rsi_setup"
	ReasonNoReversalCandle    = "no_reversal_candle"
	ReasonPressureLong        = "pressure_long"
	ReasonPressureShort       = "pressure_short"
)

// ScalpParams configures the scalp gates. A zero limit disables its gate.
type ScalpParams struct {
	RSIPeriod           int
	VolSMA              int
	MinTradeValue       float64
	MinBookNotional     float64
	BookDepth           int
	MaxSpreadBps        float64
	Max1mRangePct       float64
	Max1mBodyPct        float64
	NewsVolMult         float64
	NewsMovePct         float64
	NewsVolSMA          int
	NewsCooldown        time.Duration
	MinPressureNotional float64
	PressureThreshold   float64
	MinFlowRate         float64
	MinTradeCount       int
	MinLargeShare       float64

	// MinVolSurge is the least last-bar volume over its VolSMA average.
	MinVolSurge float64
	// OBImbalanceThreshold requires the book imbalance to reach this
	// magnitude on the same side as trade pressure.
	OBImbalanceThreshold float64
	// MinOBDelta requires the imbalance change since the previous cycle to
	// move at least this far in the trade direction.
	MinOBDelta float64
	// MinFlowAccel requires notional acceleration (quote/sec²) of at least
	// this size in the trade direction.
	MinFlowAccel float64

	// RSI entry. A long needs RSI at or below RSILongTrigger, or with
	// UseRSICross a cross back up through it. A short needs RSI within
	// [RSIShortMin, RSIShortMax], or with UseRSICross a fall into that band
	// from above. Zero RSILongTrigger and RSIShortMax disable the check.
	RSILongTrigger float64
	RSIShortMin    float64
	RSIShortMax    float64
	UseRSICross    bool

	// RequireReversalCandle wants a green last bar for longs and a red one
	// for shorts.
	RequireReversalCandle bool
}

// DefaultScalpParams returns the stock scalp configuration.
func DefaultScalpParams() ScalpParams {
	return ScalpParams{
		RSIPeriod:         14,
		VolSMA:            5,
		BookDepth:         10,
		MaxSpreadBps:      8,
		Max1mRangePct:     0.012,
		Max1mBodyPct:      0.010,
		NewsVolMult:       5.0,
		NewsMovePct:       0.007,
		NewsVolSMA:        20,
		NewsCooldown:      300 * time.Second,
		PressureThreshold: 0.20,
	}
}

// Scalp is the low-latency generator: liquidity and volatility gates,
// then direction from executed-trade pressure.
type Scalp struct {
	p ScalpParams

	mu        sync.Mutex
	coolUntil time.Time
	prevImb   float64
	seenBook  bool
}

// NewScalp creates a scalp generator.
func NewScalp(p ScalpParams) *Scalp {
	if p.RSIPeriod <= 0 {
		p.RSIPeriod = 14
	}
	if p.VolSMA <= 0 {
		p.VolSMA = 5
	}
	if p.BookDepth <= 0 {
		p.BookDepth = 10
	}
	if p.NewsVolSMA <= 0 {
		p.NewsVolSMA = 20
	}
	return &Scalp{p: p}
}

func (s *Scalp) Name() string { return ScalpName }

// MinHistory is the number of candles needed before any gate runs: the
// RSI of the last two bars and the volume average.
func (s *Scalp) MinHistory() int {
	return max(s.p.RSIPeriod+2, s.p.VolSMA)
}

// CooldownUntil returns when the current news cooldown ends.
func (s *Scalp) CooldownUntil() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.coolUntil
}

func (s *Scalp) Generate(in Input) domain.Signal {
	p := s.p
	m := in.Market
	comp := map[string]float64{"candles": float64(len(m.Candles))}
	flat := func(reason string) domain.Signal {
		return domain.Flat(in.Now, ScalpName, reason, comp)
	}

	if len(m.Candles) < s.MinHistory() {
		return flat(ReasonInsufficientHistory)
	}
	last := m.Candles[len(m.Candles)-1]

	comp["trade_value_1m"] = last.TradeValue()
	if p.MinTradeValue > 0 && last.TradeValue() < p.MinTradeValue {
		return flat(ReasonLowTradeValue)
	}

	book := domain.DepthNotional(m.Bids, m.Asks, p.BookDepth)
	imb := domain.Imbalance(m.Bids, m.Asks, p.BookDepth)
	imbDelta := s.bookDelta(imb)
	comp["book_notional"] = book
	comp["ob_imbalance"] = imb
	comp["ob_imbalance_delta"] = imbDelta
	if p.MinBookNotional > 0 && book < p.MinBookNotional {
		return flat(ReasonLowOrderbook)
	}

	if surge, ok := VolumeSurge(volumes(m.Candles), p.VolSMA); ok {
		comp["vol_surge"] = surge
		if p.MinVolSurge > 0 && surge < p.MinVolSurge {
			return flat(ReasonLowVolSurge)
		}
	}

	spread := m.SpreadBps()
	comp["spread_bps"] = spread
	if p.MaxSpreadBps > 0 && spread > p.MaxSpreadBps {
		return flat(ReasonWideSpread)
	}

	var rangePct, bodyPct float64
	if last.Close > 0 {
		rangePct = (last.High - last.Low) / last.Close
	}
	if last.Open > 0 {
		bodyPct = math.Abs(last.Close-last.Open) / last.Open
	}
	comp["range_1m_pct"] = rangePct
	comp["body_1m_pct"] = bodyPct
	if p.Max1mRangePct > 0 && rangePct > p.Max1mRangePct {
		return flat(ReasonHigh1mRange)
	}
	if p.Max1mBodyPct > 0 && bodyPct > p.Max1mBodyPct {
		return flat(ReasonHigh1mBody)
	}

	if s.newsCooldown(in.Now, m.Candles, bodyPct, comp) {
		return flat(ReasonNewsCooldown)
	}

	pr := in.Pressure
	comp["pressure"] = pr.Pressure
	comp["pressure_notional"] = pr.Notional
	if p.MinPressureNotional > 0 && pr.Notional < p.MinPressureNotional {
		return flat(ReasonLowPressureNotional)
	}
	if p.PressureThreshold > 0 && math.Abs(pr.Pressure) < p.PressureThreshold {
		return flat(ReasonLowPressure)
	}

	f := in.Flow
	comp["flow_rate"] = f.NotionalRate
	comp["flow_rate_z"] = f.RateZ
	comp["flow_accel_z"] = f.AccelZ
	comp["trade_count"] = float64(f.TradeCount)
	comp["large_share"] = f.LargeShare
	if p.MinFlowRate > 0 && f.NotionalRate < p.MinFlowRate {
		return flat(ReasonLowFlowRate)
	}
	if p.MinTradeCount > 0 && f.TradeCount < p.MinTradeCount {
		return flat(ReasonLowTradeCount)
	}
	if p.MinLargeShare > 0 && f.LargeShare < p.MinLargeShare {
		return flat(ReasonLowLargeShare)
	}

	if pr.Pressure == 0 {
		return flat(ReasonNoPressure)
	}
	dir := 1.0
	if pr.Pressure < 0 {
		dir = -1
	}

	if p.OBImbalanceThreshold > 0 && dir*imb < p.OBImbalanceThreshold {
		return flat(ReasonLowOBImbalance)
	}
	if p.MinOBDelta > 0 && dir*imbDelta < p.MinOBDelta {
		return flat(ReasonOBDelta)
	}
	comp["flow_accel"] = f.NotionalAccel
	if p.MinFlowAccel > 0 && dir*f.NotionalAccel < p.MinFlowAccel {
		return flat(ReasonFlowAccel)
	}
	if !s.rsiSetup(dir, closes(m.Candles), comp) {
		return flat(ReasonNoRSISetup)
	}
	if p.RequireReversalCandle && dir*(last.Close-last.Open) < 0 {
		return flat(ReasonNoReversalCandle)
	}

	score := math.Abs(pr.Pressure)
	if p.PressureThreshold > 0 {
		score = math.Min(1, math.Abs(pr.Pressure)/p.PressureThreshold)
	}
	comp["score"] = score

	sig := domain.Signal{Time: in.Now, Strategy: ScalpName, Score: score, Components: comp}
	if pr.Pressure > 0 {
		sig.Side, sig.Reason = domain.SideBuy, ReasonPressureLong
	} else {
		sig.Side, sig.Reason = domain.SideSell, ReasonPressureShort
	}
	return sig
}

// bookDelta returns the imbalance change since the previous call; the first
// call reads zero.
func (s *Scalp) bookDelta(imb float64) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var d float64
	if s.seenBook {
		d = imb - s.prevImb
	}
	s.prevImb, s.seenBook = imb, true
	return d
}

// rsiSetup applies the RSI entry rule for the trade direction.
func (s *Scalp) rsiSetup(dir float64, cl []float64, comp map[string]float64) bool {
	p := s.p
	if (dir > 0 && p.RSILongTrigger <= 0) || (dir < 0 && p.RSIShortMax <= 0) {
		return true
	}
	rsi, ok := RSI(cl, p.RSIPeriod)
	if !ok {
		return false
	}
	prev, havePrev := RSI(cl[:len(cl)-1], p.RSIPeriod)
	comp["rsi"] = rsi
	if havePrev {
		comp["rsi_prev"] = prev
	}
	inBand := func(v float64) bool { return v >= p.RSIShortMin && v <= p.RSIShortMax }

	if dir > 0 {
		if p.UseRSICross {
			return havePrev && prev < p.RSILongTrigger && rsi >= p.RSILongTrigger
		}
		return rsi <= p.RSILongTrigger
	}
	if p.UseRSICross {
		return havePrev && prev > p.RSIShortMax && inBand(rsi)
	}
	return inBand(rsi)
}

// GateError wraps domain.ErrLiquidityGate for a FLAT signal that a
// liquidity or microstructure gate produced, and is nil otherwise.
func GateError(sig domain.Signal) error {
	if sig.Side != domain.SideFlat {
		return nil
	}
	switch sig.Reason {
	case ReasonLowTradeValue, ReasonLowOrderbook, ReasonLowVolSurge, ReasonWideSpread,
		ReasonHigh1mRange, ReasonHigh1mBody, ReasonLowPressureNotional,
		ReasonLowFlowRate, ReasonLowTradeCount, ReasonLowOBImbalance:
		return fmt.Errorf("strategy: %s: %w", sig.Reason, domain.ErrLiquidityGate)
	}
	return nil
}

// newsCooldown detects a volume spike with a large move on the last bar
// and suppresses signals until the cooldown lapses. The spike baseline is
// the SMA of the bars before the last one.
func (s *Scalp) newsCooldown(now time.Time, candles []domain.Candle, bodyPct float64, comp map[string]float64) bool {
	p := s.p
	s.mu.Lock()
	defer s.mu.Unlock()

	if p.NewsCooldown > 0 && p.NewsVolMult > 0 && len(candles) > p.NewsVolSMA {
		prior := volumes(candles[:len(candles)-1])
		if avg, ok := SMA(prior, p.NewsVolSMA); ok && avg > 0 {
			mult := candles[len(candles)-1].Volume / avg
			comp["news_vol_mult"] = mult
			if mult >= p.NewsVolMult && bodyPct >= p.NewsMovePct {
				s.coolUntil = now.Add(p.NewsCooldown)
			}
		}
	}
	if now.Before(s.coolUntil) {
		comp["news_cooldown_sec"] = s.coolUntil.Sub(now).Seconds()
		return true
	}
	return false
}
