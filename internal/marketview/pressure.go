package marketview

import "github.com/alanyoungcy/quantbot/internal/domain"

// PressureStat is the executed-trade imbalance over a window.
type PressureStat struct {
	Pressure     float64 `json:"pressure"`
	BuyNotional  float64 `json:"buy_notional"`
	SellNotional float64 `json:"sell_notional"`
	Notional     float64 `json:"notional"`
	TradeCount   int     `json:"trade_count"`
}

// Pressure computes (buy-sell)/(buy+sell), clamped to [-1, 1]. It is 0 when
// there is no notional.
func Pressure(prints []domain.TradePrint) PressureStat {
	var s PressureStat
	for _, p := range prints {
		n := p.Notional()
		if n <= 0 {
			continue
		}
		switch p.Side {
		case domain.SideBuy:
			s.BuyNotional += n
		case domain.SideSell:
			s.SellNotional += n
		default:
			continue
		}
		s.TradeCount++
	}
	s.Notional = s.BuyNotional + s.SellNotional
	if s.Notional > 0 {
		s.Pressure = clamp((s.BuyNotional-s.SellNotional)/s.Notional, -1, 1)
	}
	return s
}

func clamp(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}
