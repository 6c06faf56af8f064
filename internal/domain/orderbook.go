package domain

import "math"

// PriceLevel is a single price+size entry in an orderbook.
type PriceLevel struct {
	Price float64 `json:"price"`
	Size  float64 `json:"size"`
}

// Notional returns price * size.
func (l PriceLevel) Notional() float64 {
	return l.Price * l.Size
}

// DepthNotional sums bid and ask notional within the top k levels per side.
// k <= 0 means all levels.
func DepthNotional(bids, asks []PriceLevel, k int) float64 {
	return sideNotional(bids, k) + sideNotional(asks, k)
}

// Imbalance returns (bid - ask) / (bid + ask) notional within the top k
// levels, clamped to [-1, 1]. Zero when the book is empty.
func Imbalance(bids, asks []PriceLevel, k int) float64 {
	b := sideNotional(bids, k)
	a := sideNotional(asks, k)
	if b+a <= 0 {
		return 0
	}
	return math.Max(-1, math.Min(1, (b-a)/(b+a)))
}

func sideNotional(levels []PriceLevel, k int) float64 {
	if k <= 0 || k > len(levels) {
		k = len(levels)
	}
	var total float64
	for _, l := range levels[:k] {
		total += l.Notional()
	}
	return total
}
