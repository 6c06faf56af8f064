package domain

import "math"

// Position is one bot's holding in its symbol. Qty is signed: positive is
// long, negative is short. It is derived state: replaying the fill log
// reproduces it exactly.
type Position struct {
	Qty        float64 `json:"qty"`
	AvgCost    float64 `json:"avg_cost"`
	Realized   float64 `json:"realized_pnl"`
	Unrealized float64 `json:"unrealized_pnl"`
	PnLPct     float64 `json:"pnl_pct"`
	FeesPaid   float64 `json:"fees_paid"`
	CarriedFee float64 `json:"carried_fee"`
	HighWater  float64 `json:"high_water"`
	LowWater   float64 `json:"low_water"`
	LastPrice  float64 `json:"last_price"`
	FillCount  int     `json:"fill_count"`
}

// IsFlat reports whether no quantity is held.
func (p Position) IsFlat() bool {
	return p.Qty == 0
}

// Side returns BUY for long, SELL for short, FLAT otherwise.
func (p Position) Side() Side {
	switch {
	case p.Qty > 0:
		return SideBuy
	case p.Qty < 0:
		return SideSell
	default:
		return SideFlat
	}
}

// AbsNotional is |qty| * price, using the last mark when price <= 0.
func (p Position) AbsNotional(price float64) float64 {
	if price <= 0 {
		price = p.LastPrice
	}
	return math.Abs(p.Qty) * price
}
