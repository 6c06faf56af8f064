package globalrisk

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/quantbot/internal/domain"
	"github.com/alanyoungcy/quantbot/internal/statestore"
)

var now = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func state(account string, equity, qty, price float64, age time.Duration) domain.BotState {
	return domain.BotState{
		AccountTag: account,
		Equity:     equity,
		Position:   domain.Position{Qty: qty},
		Market:     domain.MarketSnapshot{LastPrice: price},
		UpdatedAt:  now.Add(-age),
	}
}

func staticSource(states ...domain.BotState) SnapshotSource {
	return func(context.Context) ([]domain.BotState, error) { return states, nil }
}

func newAgg(src SnapshotSource) *Aggregator {
	a := New(src, nil)
	a.now = func() time.Time { return now }
	return a
}

func TestSummaryGroupsByAccount(t *testing.T) {
	a := newAgg(staticSource(
		state("main", 1000, 1, 100, time.Second),
		state("main", 1000, -2, 50, 2*time.Second),
		state("alt", 500, 0.5, 200, time.Second),
	))

	g, err := a.Summary(context.Background(), 30*time.Second)
	require.NoError(t, err)
	require.Len(t, g.Accounts, 2)

	alt := g.Account("alt")
	assert.InDelta(t, 500, alt.Equity, 1e-9)
	assert.InDelta(t, 100, alt.AbsNotional, 1e-9)
	require.NotNil(t, alt.ExposureFrac)
	assert.InDelta(t, 0.2, *alt.ExposureFrac, 1e-9)

	main := g.Account("main")
	assert.InDelta(t, 1000, main.Equity, 1e-9, "equity is not double counted")
	assert.InDelta(t, 200, main.AbsNotional, 1e-9)
	assert.Equal(t, 2, main.Bots)

	assert.Equal(t, TotalTag, g.Total.AccountTag)
	assert.InDelta(t, 1500, g.Total.Equity, 1e-9)
	assert.InDelta(t, 300, g.Total.AbsNotional, 1e-9)
	require.NotNil(t, g.Total.ExposureFrac)
	assert.InDelta(t, 0.2, *g.Total.ExposureFrac, 1e-9)
}

func TestSummaryExcludesStaleSnapshots(t *testing.T) {
	a := newAgg(staticSource(
		state("main", 1000, 1, 100, time.Second),
		state("old", 9000, 10, 100, time.Minute),
	))

	g, err := a.Summary(context.Background(), 30*time.Second)
	require.NoError(t, err)
	require.Len(t, g.Accounts, 1)
	assert.Equal(t, "main", g.Accounts[0].AccountTag)
	assert.InDelta(t, 1000, g.Total.Equity, 1e-9)
}

func TestSummaryZeroEquityHasNoFraction(t *testing.T) {
	a := newAgg(staticSource(state("", 0, 1, 100, 0)))

	g, err := a.Summary(context.Background(), time.Minute)
	require.NoError(t, err)
	row := g.Account("default")
	assert.InDelta(t, 100, row.AbsNotional, 1e-9)
	assert.Nil(t, row.ExposureFrac)
	assert.Nil(t, g.Total.ExposureFrac)
}

func TestSummaryEmpty(t *testing.T) {
	g, err := newAgg(staticSource()).Summary(context.Background(), time.Minute)
	require.NoError(t, err)
	assert.Empty(t, g.Accounts)
	assert.Nil(t, g.Total.ExposureFrac)
	assert.Zero(t, g.Account("missing").Bots)
}

func TestFromStateRootReadsSnapshots(t *testing.T) {
	root := t.TempDir()
	s, err := statestore.New(root, "binance_BTCUSDT", nil)
	require.NoError(t, err)
	require.NoError(t, s.SaveSnapshot(state("main", 1000, 1, 100, 0)))

	g, err := newAgg(FromStateRoot(root)).Summary(context.Background(), time.Minute)
	require.NoError(t, err)
	assert.InDelta(t, 100, g.Account("main").AbsNotional, 1e-9)
}
