package strategy

import (
	"math"
	"slices"

	"github.com/alanyoungcy/quantbot/internal/domain"
)

// BlenderName is the registry name of the blender generator.
const BlenderName = "blender"

// BlenderParams weights the blender components and sets its thresholds.
type BlenderParams struct {
	TrendWeight   float64
	RSIWeight     float64
	VolumeWeight  float64
	NewsWeight    float64
	FibWeight     float64
	BuyThreshold  float64
	SellThreshold float64
	RSIPeriod     int
	MAWindows     []int
	BandPeriod    int
	BandK         float64
	NearBandPct   float64
	VolSMA        int
	FibLookback   int
}

// DefaultBlenderParams returns the stock blender configuration.
func DefaultBlenderParams() BlenderParams {
	return BlenderParams{
		TrendWeight:   1,
		RSIWeight:     1,
		VolumeWeight:  1,
		NewsWeight:    1,
		FibWeight:     1,
		BuyThreshold:  3.0,
		SellThreshold: 2.5,
		RSIPeriod:     14,
		MAWindows:     []int{30, 120, 200, 864},
		BandPeriod:    20,
		BandK:         2,
		NearBandPct:   0.01,
		VolSMA:        5,
		FibLookback:   60,
	}
}

// Blender is a weighted linear combination of trend, RSI, volume surge,
// a Fibonacci retracement touch and the news score.
type Blender struct {
	p BlenderParams
}

// NewBlender creates a blender. Missing fields take their defaults.
func NewBlender(p BlenderParams) *Blender {
	d := DefaultBlenderParams()
	if len(p.MAWindows) == 0 {
		p.MAWindows = d.MAWindows
	}
	if p.RSIPeriod <= 0 {
		p.RSIPeriod = d.RSIPeriod
	}
	if p.BandPeriod <= 1 {
		p.BandPeriod = d.BandPeriod
	}
	if p.BandK <= 0 {
		p.BandK = d.BandK
	}
	if p.NearBandPct <= 0 {
		p.NearBandPct = d.NearBandPct
	}
	if p.VolSMA <= 0 {
		p.VolSMA = d.VolSMA
	}
	if p.FibLookback <= 0 {
		p.FibLookback = d.FibLookback
	}
	if p.BuyThreshold <= 0 {
		p.BuyThreshold = d.BuyThreshold
	}
	if p.SellThreshold <= 0 {
		p.SellThreshold = d.SellThreshold
	}
	return &Blender{p: p}
}

func (b *Blender) Name() string { return BlenderName }

// MinHistory is the longest indicator window.
func (b *Blender) MinHistory() int {
	return max(slices.Max(b.p.MAWindows), b.p.RSIPeriod+1, b.p.BandPeriod, b.p.VolSMA)
}

func (b *Blender) Generate(in Input) domain.Signal {
	p := b.p
	candles := in.Market.Candles
	if len(candles) < b.MinHistory() {
		return domain.Flat(in.Now, BlenderName, ReasonInsufficientHistory,
			map[string]float64{"candles": float64(len(candles))})
	}
	cl := closes(candles)
	last := candles[len(candles)-1]

	trend := b.trend(cl)
	rsiScore := 0.0
	rsi, ok := RSI(cl, p.RSIPeriod)
	if ok {
		rsiScore = clamp((50-rsi)/50, -1, 1)
	}
	vol := 0.0
	if surge, ok := VolumeSurge(volumes(candles), p.VolSMA); ok {
		switch {
		case surge >= 2:
			vol = 1
		case surge >= 1.5:
			vol = 0.5
		}
		if last.Close < last.Open {
			vol = -vol
		}
	}
	fib := 0.0
	if lvl, ok := Fib618(candles, p.FibLookback); ok && lvl > 0 && math.Abs(last.Close-lvl)/lvl <= p.NearBandPct {
		fib = 1
	}

	comp := map[string]float64{
		"trend":   trend,
		"rsi":     rsiScore,
		"rsi_raw": rsi,
		"volume":  vol,
		"news":    in.NewsScore,
		"fib":     fib,
	}
	score := p.TrendWeight*trend + p.RSIWeight*rsiScore + p.VolumeWeight*vol +
		p.NewsWeight*in.NewsScore + p.FibWeight*fib
	comp["score"] = score

	sig := domain.Signal{Time: in.Now, Strategy: BlenderName, Score: score, Components: comp}
	switch {
	case score == 0:
		sig.Side, sig.Reason = domain.SideFlat, ReasonZeroScore
	case score >= p.BuyThreshold:
		sig.Side, sig.Reason = domain.SideBuy, "score_above_buy"
	case score <= -p.SellThreshold:
		sig.Side, sig.Reason = domain.SideSell, "score_below_sell"
	default:
		sig.Side, sig.Reason = domain.SideFlat, ReasonBelowThreshold
	}
	return sig
}

// trend scores the moving-average structure. An inverse alignment (close
// below every MA, shorter below longer) marks a washed-out bottom
// candidate; the mirrored full bull alignment scores the same negative.
// Reclaiming the shortest MA and hugging the lower band add to the long
// side, hugging the upper band subtracts.
func (b *Blender) trend(cl []float64) float64 {
	p := b.p
	price := cl[len(cl)-1]
	mas := []float64{price}
	for _, w := range p.MAWindows {
		v, _ := SMA(cl, w)
		mas = append(mas, v)
	}

	var score float64
	rev := slices.Clone(mas)
	slices.Reverse(rev)
	switch {
	case strictlyIncreasing(mas...):
		score += 1.5
	case strictlyIncreasing(rev...):
		score -= 1.5
	}
	if price > mas[1] {
		score += 0.5
	}
	if _, upper, lower, ok := Bollinger(cl, p.BandPeriod, p.BandK); ok {
		if lower > 0 && (price-lower)/lower <= p.NearBandPct {
			score += 0.5
		}
		if upper > 0 && (upper-price)/upper <= p.NearBandPct {
			score -= 0.5
		}
	}
	return score
}

func clamp(x, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, x))
}
