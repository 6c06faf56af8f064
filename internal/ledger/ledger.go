// Package ledger folds fills into positions using a conservative long/short
// rule: only the part of a fill that closes existing exposure realizes PnL.
package ledger

import (
	"fmt"
	"math"

	"github.com/alanyoungcy/quantbot/internal/domain"
)

// dust below this is treated as a fully closed position.
const qtyEpsilon = 1e-12

// Apply folds one fill into pos and returns the new position together with
// the fill stamped with its RealizedDelta. An invalid fill is rejected and
// pos is returned unchanged.
//
// Fees are split by quantity. The share of a fill's fee belonging to the
// closing portion (fee*closed/qty) is realized immediately; the rest stays
// with the newly opened lot as CarriedFee and is realized, pro rata, when
// that lot is closed. No rounding is applied to either share, so they
// always sum to the fill fee.
func Apply(pos domain.Position, f domain.Fill) (domain.Position, domain.Fill, error) {
	if err := f.Validate(); err != nil {
		return pos, f, fmt.Errorf("ledger: apply %s: %w", f.ID, err)
	}

	next := pos
	sign := f.Side.Sign()
	var realized float64

	if pos.Qty == 0 || (pos.Qty > 0) == (sign > 0) {
		absOld := math.Abs(pos.Qty)
		absNew := absOld + f.Qty
		next.AvgCost = (absOld*pos.AvgCost + f.Qty*f.Price) / absNew
		next.Qty = pos.Qty + sign*f.Qty
		next.CarriedFee = pos.CarriedFee + f.Fee
		if pos.Qty == 0 {
			next.HighWater, next.LowWater = f.Price, f.Price
		}
	} else {
		open := math.Abs(pos.Qty)
		dir := 1.0
		if pos.Qty < 0 {
			dir = -1
		}
		closed := math.Min(f.Qty, open)
		feeShare := f.Fee * closed / f.Qty
		carriedShare := pos.CarriedFee * closed / open
		realized = (f.Price-pos.AvgCost)*closed*dir - feeShare - carriedShare

		left := open - closed
		if left <= qtyEpsilon {
			next.Qty, next.AvgCost, next.CarriedFee = 0, 0, 0
			next.HighWater, next.LowWater = 0, 0
		} else {
			next.Qty = dir * left
			next.CarriedFee = pos.CarriedFee - carriedShare
		}

		if rest := f.Qty - closed; rest > qtyEpsilon {
			next.Qty = sign * rest
			next.AvgCost = f.Price
			next.CarriedFee = f.Fee - feeShare
			next.HighWater, next.LowWater = f.Price, f.Price
		}
	}

	next.Realized += realized
	next.FeesPaid += f.Fee
	next.FillCount++
	next = Mark(next, f.Price)

	f.RealizedDelta = realized
	return next, f, nil
}

// Mark revalues pos at price: unrealized PnL, pnl_pct and the favorable
// water marks used by the trailing stop. A non-positive price only clears
// derived fields of a flat position.
func Mark(pos domain.Position, price float64) domain.Position {
	if price <= 0 || math.IsNaN(price) || math.IsInf(price, 0) {
		return pos
	}
	pos.LastPrice = price
	if pos.Qty == 0 {
		pos.Unrealized, pos.PnLPct = 0, 0
		return pos
	}
	if pos.HighWater == 0 || price > pos.HighWater {
		pos.HighWater = price
	}
	if pos.LowWater == 0 || price < pos.LowWater {
		pos.LowWater = price
	}
	pos.Unrealized = (price - pos.AvgCost) * pos.Qty
	if basis := math.Abs(pos.Qty) * pos.AvgCost; basis > 0 {
		pos.PnLPct = pos.Unrealized / basis
	} else {
		pos.PnLPct = 0
	}
	return pos
}

// Replay folds fills from an empty position. The result depends only on
// the fill sequence, so replaying the fill log always rebuilds the same
// position. The returned fills carry their recomputed RealizedDelta.
func Replay(fills []domain.Fill) (domain.Position, []domain.Fill, error) {
	var pos domain.Position
	out := make([]domain.Fill, 0, len(fills))
	for i, f := range fills {
		next, stamped, err := Apply(pos, f)
		if err != nil {
			return pos, out, fmt.Errorf("ledger: replay fill %d: %w", i, err)
		}
		pos = next
		out = append(out, stamped)
	}
	return pos, out, nil
}
