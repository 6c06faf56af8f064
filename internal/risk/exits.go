package risk

import (
	"math"

	"github.com/alanyoungcy/quantbot/internal/domain"
)

// ExitCheck describes how far an open position is from each exit rule.
type ExitCheck struct {
	RawReturn  float64 `json:"raw_return"`
	NetReturn  float64 `json:"net_return"`
	TrailPrice float64 `json:"trail_price,omitempty"`
}

// Returns computes raw and estimated net return of pos at price, and the
// trailing stop price. Net return deducts round-trip fees and slippage.
func (m *Manager) Returns(pos domain.Position, price float64) ExitCheck {
	l := m.limits
	var c ExitCheck
	if pos.IsFlat() || pos.AvgCost <= 0 || price <= 0 {
		return c
	}
	entry := pos.AvgCost
	if pos.Qty > 0 {
		c.RawReturn = (price - entry) / entry
		if l.TrailingStopPct > 0 {
			c.TrailPrice = math.Max(pos.HighWater, price) * (1 - l.TrailingStopPct)
		}
	} else {
		c.RawReturn = (entry - price) / entry
		if l.TrailingStopPct > 0 {
			low := pos.LowWater
			if low <= 0 || price < low {
				low = price
			}
			c.TrailPrice = low * (1 + l.TrailingStopPct)
		}
	}
	c.NetReturn = c.RawReturn - 2*l.FeeRate - 2*l.SlippageRate
	return c
}

// checkExit applies stop-loss, trailing stop and take-profit in that order.
func (m *Manager) checkExit(pos domain.Position, price float64) (domain.Decision, bool) {
	l := m.limits
	if price <= 0 || pos.AvgCost <= 0 {
		return domain.Decision{}, false
	}
	c := m.Returns(pos, price)
	closeAll := func(trigger domain.EventType) (domain.Decision, bool) {
		return domain.Decision{
			Action:  domain.ActionClose,
			Side:    pos.Side().Opposite(),
			Qty:     math.Abs(pos.Qty),
			Reason:  string(trigger),
			Trigger: trigger,
		}, true
	}

	if l.StopLossPct > 0 && c.RawReturn <= -l.StopLossPct {
		return closeAll(domain.EventStopLoss)
	}
	if c.TrailPrice > 0 {
		if (pos.Qty > 0 && price <= c.TrailPrice) || (pos.Qty < 0 && price >= c.TrailPrice) {
			return closeAll(domain.EventTrailingStop)
		}
	}
	if l.TakeProfitNetPct > 0 && c.NetReturn >= l.TakeProfitNetPct {
		return closeAll(domain.EventTakeProfit)
	}
	return domain.Decision{}, false
}
