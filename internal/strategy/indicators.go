package strategy

import (
	"math"

	"github.com/alanyoungcy/quantbot/internal/domain"
)

func closes(c []domain.Candle) []float64 {
	out := make([]float64, len(c))
	for i, k := range c {
		out[i] = k.Close
	}
	return out
}

func volumes(c []domain.Candle) []float64 {
	out := make([]float64, len(c))
	for i, k := range c {
		out[i] = k.Volume
	}
	return out
}

// SMA is the mean of the last n values.
func SMA(vals []float64, n int) (float64, bool) {
	if n <= 0 || len(vals) < n {
		return 0, false
	}
	var sum float64
	for _, v := range vals[len(vals)-n:] {
		sum += v
	}
	return sum / float64(n), true
}

// RSI is Wilder's relative strength index: gains and losses smoothed with
// an RMA (EMA with alpha 1/n) seeded on the first change. It needs n+1
// closes. A window with no losses reads 100, and a flat one 50.
func RSI(vals []float64, n int) (float64, bool) {
	if n <= 0 || len(vals) < n+1 {
		return 0, false
	}
	alpha := 1 / float64(n)
	var gain, loss float64
	for i := 1; i < len(vals); i++ {
		d := vals[i] - vals[i-1]
		g, l := math.Max(d, 0), math.Max(-d, 0)
		if i == 1 {
			gain, loss = g, l
			continue
		}
		gain = (1-alpha)*gain + alpha*g
		loss = (1-alpha)*loss + alpha*l
	}
	switch {
	case loss == 0 && gain == 0:
		return 50, true
	case loss == 0:
		return 100, true
	}
	return 100 - 100/(1+gain/loss), true
}

// Bollinger returns the n-period mid band and the bands k sample standard
// deviations either side.
func Bollinger(vals []float64, n int, k float64) (mid, upper, lower float64, ok bool) {
	if n < 2 || len(vals) < n {
		return 0, 0, 0, false
	}
	mid, _ = SMA(vals, n)
	var ss float64
	for _, v := range vals[len(vals)-n:] {
		ss += (v - mid) * (v - mid)
	}
	sd := math.Sqrt(ss / float64(n-1))
	return mid, mid + k*sd, mid - k*sd, true
}

// VolumeSurge is the last volume over its n-period SMA (last bar
// included).
func VolumeSurge(vols []float64, n int) (float64, bool) {
	avg, ok := SMA(vols, n)
	if !ok || avg <= 0 {
		return 0, false
	}
	return vols[len(vols)-1] / avg, true
}

// Fib618 is the 0.618 retracement level of the range over the last
// lookback candles.
func Fib618(c []domain.Candle, lookback int) (float64, bool) {
	if len(c) == 0 {
		return 0, false
	}
	if lookback > 0 && len(c) > lookback {
		c = c[len(c)-lookback:]
	}
	hi, lo := c[0].High, c[0].Low
	for _, k := range c[1:] {
		hi = math.Max(hi, k.High)
		lo = math.Min(lo, k.Low)
	}
	return lo + (hi-lo)*0.618, true
}

// strictlyIncreasing reports whether xs[0] < xs[1] < ... .
func strictlyIncreasing(xs ...float64) bool {
	for i := 1; i < len(xs); i++ {
		if !(xs[i-1] < xs[i]) {
			return false
		}
	}
	return true
}
