package strategy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/quantbot/internal/domain"
	"github.com/alanyoungcy/quantbot/internal/marketview"
)

var now = time.Date(2024, 6, 3, 9, 30, 0, 0, time.UTC)

func flatCandles(n int, price, vol float64) []domain.Candle {
	out := make([]domain.Candle, n)
	for i := range out {
		out[i] = domain.Candle{
			OpenTime: now.Add(time.Duration(i-n) * time.Minute),
			Open:     price, High: price + 0.5, Low: price - 0.5, Close: price, Volume: vol,
		}
	}
	return out
}

func scalpInput(pressure float64) Input {
	return Input{
		Market: domain.MarketSnapshot{
			LastPrice: 100, BestBid: 99.99, BestAsk: 100.01,
			Candles: flatCandles(25, 100, 10),
			Bids:    []domain.PriceLevel{{Price: 99.99, Size: 5}},
			Asks:    []domain.PriceLevel{{Price: 100.01, Size: 5}},
		},
		Flow:     domain.FlowStat{TradeCount: 10, NotionalRate: 500, LargeShare: 0.2},
		Pressure: marketview.PressureStat{Pressure: pressure, Notional: 10_000},
		Now:      now,
	}
}

func TestScalpOpensOnPressure(t *testing.T) {
	s := NewScalp(DefaultScalpParams())
	sig := s.Generate(scalpInput(0.5))
	require.NoError(t, sig.Validate())
	assert.Equal(t, domain.SideBuy, sig.Side)
	assert.Equal(t, ReasonPressureLong, sig.Reason)
	assert.InDelta(t, 1, sig.Score, 1e-9)
	assert.InDelta(t, 2, sig.Components["spread_bps"], 1e-6)
	assert.Contains(t, sig.Components, "book_notional")

	p := DefaultScalpParams()
	p.PressureThreshold = 0
	sig = NewScalp(p).Generate(scalpInput(-0.4))
	assert.Equal(t, domain.SideSell, sig.Side)
	assert.InDelta(t, 0.4, sig.Score, 1e-9)
}

func TestScalpInsufficientHistory(t *testing.T) {
	in := scalpInput(0.5)
	in.Market.Candles = in.Market.Candles[:10]
	sig := NewScalp(DefaultScalpParams()).Generate(in)
	assert.Equal(t, domain.SideFlat, sig.Side)
	assert.Equal(t, ReasonInsufficientHistory, sig.Reason)
	assert.Zero(t, sig.Score)
}

func TestScalpGates(t *testing.T) {
	tests := []struct {
		name   string
		params func(*ScalpParams)
		input  func(*Input)
		want   string
	}{
		{
			name:   "trade value",
			params: func(p *ScalpParams) { p.MinTradeValue = 2000 },
			want:   ReasonLowTradeValue,
		},
		{
			name:   "orderbook",
			params: func(p *ScalpParams) { p.MinBookNotional = 1e9 },
			want:   ReasonLowOrderbook,
		},
		{
			name: "spread",
			input: func(in *Input) {
				in.Market.BestBid, in.Market.BestAsk = 99, 101
			},
			want: ReasonWideSpread,
		},
		{
			name: "range",
			input: func(in *Input) {
				c := &in.Market.Candles[len(in.Market.Candles)-1]
				c.High, c.Low = 102, 98
			},
			want: ReasonHigh1mRange,
		},
		{
			name:   "body",
			params: func(p *ScalpParams) { p.Max1mRangePct = 0.05 },
			input: func(in *Input) {
				c := &in.Market.Candles[len(in.Market.Candles)-1]
				c.Close, c.High = 101.5, 101.6
			},
			want: ReasonHigh1mBody,
		},
		{
			name:   "pressure notional",
			params: func(p *ScalpParams) { p.MinPressureNotional = 1e9 },
			want:   ReasonLowPressureNotional,
		},
		{
			name:  "pressure",
			input: func(in *Input) { in.Pressure.Pressure = 0.1 },
			want:  ReasonLowPressure,
		},
		{
			name:   "flow rate",
			params: func(p *ScalpParams) { p.MinFlowRate = 1e9 },
			want:   ReasonLowFlowRate,
		},
		{
			name:   "trade count",
			params: func(p *ScalpParams) { p.MinTradeCount = 100 },
			want:   ReasonLowTradeCount,
		},
		{
			name:   "large share",
			params: func(p *ScalpParams) { p.MinLargeShare = 0.9 },
			want:   ReasonLowLargeShare,
		},
		{
			name:   "vol surge",
			params: func(p *ScalpParams) { p.MinVolSurge = 2 },
			want:   ReasonLowVolSurge,
		},
		{
			name:   "balanced book",
			params: func(p *ScalpParams) { p.OBImbalanceThreshold = 0.2 },
			want:   ReasonLowOBImbalance,
		},
		{
			name:   "book against pressure",
			params: func(p *ScalpParams) { p.OBImbalanceThreshold = 0.2 },
			input: func(in *Input) {
				in.Market.Bids[0].Size = 20
				in.Pressure.Pressure = -0.5
			},
			want: ReasonLowOBImbalance,
		},
		{
			// the first cycle has no previous book to compare with
			name:   "book delta",
			params: func(p *ScalpParams) { p.MinOBDelta = 0.1 },
			want:   ReasonOBDelta,
		},
		{
			name:   "flow accel against pressure",
			params: func(p *ScalpParams) { p.MinFlowAccel = 10 },
			input:  func(in *Input) { in.Flow.NotionalAccel = -50 },
			want:   ReasonFlowAccel,
		},
		{
			// a flat market reads RSI 50, above the long trigger
			name:   "rsi long trigger",
			params: func(p *ScalpParams) { p.RSILongTrigger = 30 },
			want:   ReasonNoRSISetup,
		},
		{
			name:   "rsi short band",
			params: func(p *ScalpParams) { p.RSIShortMin, p.RSIShortMax = 60, 80 },
			input:  func(in *Input) { in.Pressure.Pressure = -0.5 },
			want:   ReasonNoRSISetup,
		},
		{
			name:   "reversal candle",
			params: func(p *ScalpParams) { p.RequireReversalCandle = true },
			input: func(in *Input) {
				in.Market.Candles[len(in.Market.Candles)-1].Close = 99.9
			},
			want: ReasonNoReversalCandle,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := DefaultScalpParams()
			if tt.params != nil {
				tt.params(&p)
			}
			in := scalpInput(0.5)
			if tt.input != nil {
				tt.input(&in)
			}
			sig := NewScalp(p).Generate(in)
			assert.Equal(t, domain.SideFlat, sig.Side)
			assert.Equal(t, tt.want, sig.Reason)
		})
	}
}

func TestScalpGatesPassWhenAligned(t *testing.T) {
	p := DefaultScalpParams()
	p.MinVolSurge = 1
	p.OBImbalanceThreshold = 0.2
	p.MinFlowAccel = 10
	p.RequireReversalCandle = true

	in := scalpInput(0.5)
	in.Market.Bids[0].Size = 20
	in.Flow.NotionalAccel = 50
	sig := NewScalp(p).Generate(in)
	assert.Equal(t, domain.SideBuy, sig.Side)
	assert.Greater(t, sig.Components["ob_imbalance"], 0.2)
	assert.InDelta(t, 50, sig.Components["flow_accel"], 1e-9)
}

func TestScalpBookDeltaTracksPreviousCycle(t *testing.T) {
	p := DefaultScalpParams()
	p.MinOBDelta = 0.1
	s := NewScalp(p)

	assert.Equal(t, ReasonOBDelta, s.Generate(scalpInput(0.5)).Reason)

	// bids grow between cycles: imbalance moves toward the buyers
	in := scalpInput(0.5)
	in.Market.Bids[0].Size = 20
	sig := s.Generate(in)
	assert.Equal(t, domain.SideBuy, sig.Side)
	assert.Greater(t, sig.Components["ob_imbalance_delta"], 0.1)

	// unchanged book: no fresh move
	assert.Equal(t, ReasonOBDelta, s.Generate(in).Reason)
}

// rsiBounceInput falls one point per bar, then bounces ten on the last bar.
// RSI before the bounce is 0 and after it about 43.
func rsiBounceInput() Input {
	in := scalpInput(0.5)
	c := in.Market.Candles
	for i := range c {
		c[i].Open, c[i].Close = float64(125-i), float64(124-i)
		c[i].High, c[i].Low = c[i].Open, c[i].Close
	}
	last := &c[len(c)-1]
	last.Open, last.Close = 101, 111
	last.High, last.Low = 111, 101
	return in
}

func TestScalpRSICrossBack(t *testing.T) {
	p := DefaultScalpParams()
	p.Max1mRangePct, p.Max1mBodyPct = 0, 0
	p.RSILongTrigger = 30
	p.UseRSICross = true
	p.RequireReversalCandle = true

	sig := NewScalp(p).Generate(rsiBounceInput())
	require.Equal(t, domain.SideBuy, sig.Side)
	assert.InDelta(t, 0, sig.Components["rsi_prev"], 1e-9)
	assert.Greater(t, sig.Components["rsi"], 30.0)

	// without the cross rule RSI must sit at or below the trigger
	p.UseRSICross = false
	assert.Equal(t, ReasonNoRSISetup, NewScalp(p).Generate(rsiBounceInput()).Reason)

	// a green bar is no reversal for a short
	p.RSILongTrigger = 0
	in := rsiBounceInput()
	in.Pressure.Pressure = -0.5
	assert.Equal(t, ReasonNoReversalCandle, NewScalp(p).Generate(in).Reason)
}

func TestGateError(t *testing.T) {
	sig := domain.Flat(now, ScalpName, ReasonWideSpread, nil)
	require.ErrorIs(t, GateError(sig), domain.ErrLiquidityGate)
	assert.Contains(t, GateError(sig).Error(), ReasonWideSpread)

	assert.NoError(t, GateError(domain.Flat(now, ScalpName, ReasonNewsCooldown, nil)))
	assert.NoError(t, GateError(NewScalp(DefaultScalpParams()).Generate(scalpInput(0.5))))
}

func TestScalpNewsCooldown(t *testing.T) {
	s := NewScalp(DefaultScalpParams())

	in := scalpInput(0.5)
	spike := &in.Market.Candles[len(in.Market.Candles)-1]
	spike.Volume, spike.Close, spike.High, spike.Low = 60, 100.8, 100.9, 99.9
	sig := s.Generate(in)
	assert.Equal(t, ReasonNewsCooldown, sig.Reason)
	assert.InDelta(t, 6, sig.Components["news_vol_mult"], 1e-9)
	assert.Equal(t, now.Add(300*time.Second), s.CooldownUntil())

	calm := scalpInput(0.5)
	calm.Now = now.Add(time.Minute)
	assert.Equal(t, ReasonNewsCooldown, s.Generate(calm).Reason)

	calm.Now = now.Add(301 * time.Second)
	assert.Equal(t, domain.SideBuy, s.Generate(calm).Side)
}

func blenderParams() BlenderParams {
	return BlenderParams{
		TrendWeight: 1, RSIWeight: 1, VolumeWeight: 1, NewsWeight: 1, FibWeight: 1,
		BuyThreshold: 3, SellThreshold: 2.5,
		RSIPeriod: 3, MAWindows: []int{5, 10}, BandPeriod: 5, BandK: 2,
		NearBandPct: 0.01, VolSMA: 3, FibLookback: 10,
	}
}

func constCandles(n int, price float64) []domain.Candle {
	out := make([]domain.Candle, n)
	for i := range out {
		out[i] = domain.Candle{
			OpenTime: now.Add(time.Duration(i-n) * time.Minute),
			Open:     price, High: price, Low: price, Close: price, Volume: 10,
		}
	}
	return out
}

func TestBlenderThresholds(t *testing.T) {
	b := NewBlender(blenderParams())
	in := Input{Market: domain.MarketSnapshot{Candles: constCandles(12, 100)}, Now: now}

	// a flat market scores only the fib touch
	sig := b.Generate(in)
	assert.Equal(t, domain.SideFlat, sig.Side)
	assert.Equal(t, ReasonBelowThreshold, sig.Reason)
	assert.InDelta(t, 1, sig.Score, 1e-9)
	assert.InDelta(t, 1, sig.Components["fib"], 1e-9)
	assert.InDelta(t, 0, sig.Components["trend"], 1e-9)
	assert.InDelta(t, 0, sig.Components["rsi"], 1e-9)

	in.NewsScore = 2
	sig = b.Generate(in)
	assert.Equal(t, domain.SideBuy, sig.Side)
	assert.InDelta(t, 3, sig.Score, 1e-9)

	in.NewsScore = -4
	sig = b.Generate(in)
	assert.Equal(t, domain.SideSell, sig.Side)
	assert.InDelta(t, -3, sig.Score, 1e-9)
}

func TestBlenderZeroScoreIsFlat(t *testing.T) {
	p := blenderParams()
	p.FibWeight = 0
	b := NewBlender(p)
	sig := b.Generate(Input{Market: domain.MarketSnapshot{Candles: constCandles(12, 100)}, Now: now})
	assert.Equal(t, domain.SideFlat, sig.Side)
	assert.Equal(t, ReasonZeroScore, sig.Reason)
	assert.Zero(t, sig.Score)
}

func TestBlenderInsufficientHistory(t *testing.T) {
	b := NewBlender(blenderParams())
	assert.Equal(t, 10, b.MinHistory())
	sig := b.Generate(Input{Market: domain.MarketSnapshot{Candles: constCandles(9, 100)}, Now: now})
	assert.Equal(t, ReasonInsufficientHistory, sig.Reason)

	assert.Equal(t, 864, NewBlender(BlenderParams{}).MinHistory())
}

func TestBlenderTrend(t *testing.T) {
	b := NewBlender(blenderParams())
	down := make([]float64, 20)
	up := make([]float64, 20)
	for i := range down {
		down[i] = 195 - float64(i)*5
		up[i] = 100 + float64(i)*5
	}
	assert.InDelta(t, 1.5, b.trend(down), 1e-9)
	assert.InDelta(t, -1.0, b.trend(up), 1e-9)
}

func TestIndicators(t *testing.T) {
	v, ok := SMA([]float64{1, 2, 3, 4, 5}, 2)
	require.True(t, ok)
	assert.InDelta(t, 4.5, v, 1e-12)
	_, ok = SMA([]float64{1}, 2)
	assert.False(t, ok)

	mid, upper, lower, ok := Bollinger([]float64{1, 2, 3, 4, 5}, 5, 2)
	require.True(t, ok)
	assert.InDelta(t, 3, mid, 1e-12)
	assert.InDelta(t, 3+2*1.5811388300841898, upper, 1e-9)
	assert.InDelta(t, 3-2*1.5811388300841898, lower, 1e-9)

	surge, ok := VolumeSurge([]float64{1, 1, 1, 1, 6}, 5)
	require.True(t, ok)
	assert.InDelta(t, 3, surge, 1e-12)

	rsi, ok := RSI([]float64{1, 2, 3, 4, 5}, 3)
	require.True(t, ok)
	assert.InDelta(t, 100, rsi, 1e-12)
	rsi, _ = RSI([]float64{5, 4, 3, 2, 1}, 3)
	assert.InDelta(t, 0, rsi, 1e-12)
	rsi, _ = RSI([]float64{2, 2, 2, 2}, 3)
	assert.InDelta(t, 50, rsi, 1e-12)
	_, ok = RSI([]float64{1, 2, 3}, 3)
	assert.False(t, ok)

	lvl, ok := Fib618([]domain.Candle{{High: 110, Low: 95}, {High: 105, Low: 90}}, 60)
	require.True(t, ok)
	assert.InDelta(t, 102.36, lvl, 1e-9)
}

func TestKeywordScorer(t *testing.T) {
	k := KeywordScorer{Positive: ParseKeywords("approval, merger,"), Negative: []string{"hack"}}
	score, hits := k.Score("Merger APPROVAL follows exchange hack")
	assert.InDelta(t, 0, score, 1e-12)
	assert.Equal(t, []string{"+approval", "+merger", "-hack"}, hits)

	score, hits = k.Score("nothing to see")
	assert.Zero(t, score)
	assert.Empty(t, hits)
}

func TestNewsBoard(t *testing.T) {
	b := NewNewsBoard(KeywordScorer{Positive: []string{"approval"}, Negative: []string{"hack"}}, 10*time.Minute)
	assert.InDelta(t, 1, b.Add("a", "ETF approval", now), 1e-12)
	assert.Zero(t, b.Add("a", "ETF approval", now), "duplicate ids are ignored")
	b.Add("b", "exchange hack", now.Add(5*time.Minute))

	assert.InDelta(t, -1, b.Score(now.Add(6*time.Minute)), 1e-12)
	assert.InDelta(t, -2, b.Score(now.Add(12*time.Minute)), 1e-12)
	assert.Zero(t, b.Score(now.Add(time.Hour)))
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	assert.Equal(t, []string{BlenderName, ScalpName}, r.List())

	g, err := r.Build(Config{Name: ScalpName, Scalp: DefaultScalpParams()})
	require.NoError(t, err)
	assert.Equal(t, ScalpName, g.Name())

	g, err = r.Build(Config{Name: BlenderName})
	require.NoError(t, err)
	assert.Equal(t, BlenderName, g.Name())

	_, err = r.Build(Config{Name: "nope"})
	assert.Error(t, err)
}
