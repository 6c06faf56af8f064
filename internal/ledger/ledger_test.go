package ledger

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/quantbot/internal/domain"
)

const eps = 1e-9

var t0 = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func fill(side domain.Side, qty, price, fee float64) domain.Fill {
	return domain.Fill{
		Time:   t0,
		Venue:  "binance",
		Symbol: "BTCUSDT",
		Side:   side,
		Qty:    qty,
		Price:  price,
		Fee:    fee,
	}
}

func TestApplyRoundTripRealizesBothFees(t *testing.T) {
	pos, f1, err := Apply(domain.Position{}, fill(domain.SideBuy, 1, 100, 0.1))
	require.NoError(t, err)
	assert.InDelta(t, 1, pos.Qty, eps)
	assert.InDelta(t, 100, pos.AvgCost, eps)
	assert.InDelta(t, 0, pos.Realized, eps)
	assert.InDelta(t, 0, f1.RealizedDelta, eps)
	assert.InDelta(t, 0.1, pos.CarriedFee, eps)

	pos, f2, err := Apply(pos, fill(domain.SideSell, 1, 110, 0.11))
	require.NoError(t, err)
	assert.InDelta(t, 0, pos.Qty, eps)
	assert.InDelta(t, 9.79, pos.Realized, eps)
	assert.InDelta(t, 9.79, f2.RealizedDelta, eps)
	assert.InDelta(t, 0, pos.CarriedFee, eps)
	assert.InDelta(t, 0.21, pos.FeesPaid, eps)
}

func TestApplyFlipSplitsFee(t *testing.T) {
	pos, _, err := Apply(domain.Position{}, fill(domain.SideBuy, 2, 50, 0))
	require.NoError(t, err)

	pos, f, err := Apply(pos, fill(domain.SideSell, 3, 60, 0.3))
	require.NoError(t, err)
	assert.InDelta(t, 19.8, f.RealizedDelta, eps)
	assert.InDelta(t, 19.8, pos.Realized, eps)
	assert.InDelta(t, -1, pos.Qty, eps)
	assert.InDelta(t, 60, pos.AvgCost, eps)
	assert.InDelta(t, 0.1, pos.CarriedFee, eps)
	assert.Equal(t, domain.SideSell, pos.Side())
}

func TestApplyShortCoverRealizesOnPriceDrop(t *testing.T) {
	pos, _, err := Apply(domain.Position{}, fill(domain.SideSell, 2, 100, 0))
	require.NoError(t, err)
	assert.InDelta(t, -2, pos.Qty, eps)

	pos, f, err := Apply(pos, fill(domain.SideBuy, 1, 90, 0))
	require.NoError(t, err)
	assert.InDelta(t, 10, f.RealizedDelta, eps)
	assert.InDelta(t, -1, pos.Qty, eps)
	assert.InDelta(t, 100, pos.AvgCost, eps)
}

func TestApplySameDirectionWeightsAverage(t *testing.T) {
	prices := []float64{100, 110, 95, 120}
	qtys := []float64{1, 2, 0.5, 1.5}

	var pos domain.Position
	var notional, total float64
	for i := range prices {
		var err error
		pos, _, err = Apply(pos, fill(domain.SideBuy, qtys[i], prices[i], 0.05))
		require.NoError(t, err)
		notional += qtys[i] * prices[i]
		total += qtys[i]
		assert.InDelta(t, 0, pos.Realized, eps, "no realized pnl before a reversing fill")
	}
	assert.InDelta(t, notional/total, pos.AvgCost, eps)
	assert.InDelta(t, total, pos.Qty, eps)
	assert.InDelta(t, 0.2, pos.CarriedFee, eps)
}

func TestApplyPartialCloseKeepsAverageCost(t *testing.T) {
	pos, _, err := Apply(domain.Position{}, fill(domain.SideBuy, 4, 25, 0.4))
	require.NoError(t, err)

	pos, f, err := Apply(pos, fill(domain.SideSell, 1, 30, 0.2))
	require.NoError(t, err)
	// (30-25)*1 - 0.2 exit fee - 0.4*1/4 carried entry fee
	assert.InDelta(t, 4.7, f.RealizedDelta, eps)
	assert.InDelta(t, 3, pos.Qty, eps)
	assert.InDelta(t, 25, pos.AvgCost, eps)
	assert.InDelta(t, 0.3, pos.CarriedFee, eps)
}

func TestApplyRejectsInvalidFills(t *testing.T) {
	start := domain.Position{Qty: 1, AvgCost: 100, CarriedFee: 0.1}
	cases := map[string]domain.Fill{
		"zero qty":     fill(domain.SideSell, 0, 100, 0),
		"negative qty": fill(domain.SideSell, -1, 100, 0),
		"nan price":    fill(domain.SideSell, 1, math.NaN(), 0),
		"inf price":    fill(domain.SideSell, 1, math.Inf(1), 0),
		"zero price":   fill(domain.SideSell, 1, 0, 0),
		"negative fee": fill(domain.SideSell, 1, 100, -0.1),
		"flat side":    fill(domain.SideFlat, 1, 100, 0),
	}
	for name, f := range cases {
		t.Run(name, func(t *testing.T) {
			got, _, err := Apply(start, f)
			require.ErrorIs(t, err, domain.ErrInvalidFill)
			assert.Equal(t, start, got)
		})
	}
}

func TestReplayIsDeterministic(t *testing.T) {
	fills := []domain.Fill{
		fill(domain.SideBuy, 1, 100, 0.1),
		fill(domain.SideBuy, 1, 104, 0.1),
		fill(domain.SideSell, 3, 110, 0.33),
		fill(domain.SideBuy, 0.5, 101, 0.05),
		fill(domain.SideBuy, 2, 99, 0.2),
	}

	a, stampedA, err := Replay(fills)
	require.NoError(t, err)
	b, stampedB, err := Replay(fills)
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Equal(t, stampedA, stampedB)

	var sum float64
	for _, f := range stampedA {
		sum += f.RealizedDelta
	}
	assert.InDelta(t, a.Realized, sum, eps)
	assert.InDelta(t, 1.5, a.Qty, eps)
}

func TestReplayStopsAtInvalidFill(t *testing.T) {
	fills := []domain.Fill{
		fill(domain.SideBuy, 1, 100, 0),
		fill(domain.SideSell, 0, 100, 0),
	}
	pos, out, err := Replay(fills)
	require.ErrorIs(t, err, domain.ErrInvalidFill)
	assert.Len(t, out, 1)
	assert.InDelta(t, 1, pos.Qty, eps)
}

func TestMarkTracksWaterMarks(t *testing.T) {
	pos, _, err := Apply(domain.Position{}, fill(domain.SideBuy, 2, 100, 0))
	require.NoError(t, err)

	pos = Mark(pos, 110)
	pos = Mark(pos, 104)
	assert.InDelta(t, 110, pos.HighWater, eps)
	assert.InDelta(t, 100, pos.LowWater, eps)
	assert.InDelta(t, 8, pos.Unrealized, eps)
	assert.InDelta(t, 0.04, pos.PnLPct, eps)

	flat := Mark(domain.Position{}, 100)
	assert.InDelta(t, 0, flat.Unrealized, eps)
	assert.InDelta(t, 100, flat.LastPrice, eps)
}
