package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/quantbot/internal/config"
	"github.com/alanyoungcy/quantbot/internal/domain"
	"github.com/alanyoungcy/quantbot/internal/statestore"
	"github.com/alanyoungcy/quantbot/internal/strategy"
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func demoConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Defaults()
	cfg.Bot.Venue = VenueDemo
	cfg.Bot.Mode = "paper"
	cfg.Bot.StateDir = t.TempDir()
	cfg.Bot.Interval.Duration = 20 * time.Millisecond
	cfg.Feed.Enabled = false
	require.NoError(t, cfg.Validate())
	return &cfg
}

func TestRunDemoPaperBot(t *testing.T) {
	cfg := demoConfig(t)
	a := New(cfg, discard())
	defer a.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	require.NoError(t, a.Run(ctx))

	states, err := statestore.ListSnapshots(cfg.Bot.StateDir)
	require.NoError(t, err)
	require.Len(t, states, 1)
	st := states[0]
	assert.Equal(t, "demo_BTCUSDT", st.BotID)
	assert.Equal(t, domain.ModePaper, st.Mode)
	assert.Positive(t, st.Cycle)
	assert.Positive(t, st.Market.LastPrice)

	events, err := statestore.NewFileJournal(cfg.Bot.StateDir).ListEvents(context.Background(), domain.Filter{
		Types: []domain.EventType{domain.EventShutdown},
	})
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestRunRecordsDowngradeAsPaper(t *testing.T) {
	cfg := demoConfig(t)
	cfg.Bot.Mode = "demo"
	cfg.Bot.TradingEnabled = false

	a := New(cfg, discard())
	defer a.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	require.NoError(t, a.Run(ctx))

	states, err := statestore.ListSnapshots(cfg.Bot.StateDir)
	require.NoError(t, err)
	require.Len(t, states, 1)
	assert.Equal(t, domain.ModePaper, states[0].Mode)
}

func TestBuildVenue(t *testing.T) {
	cfg := config.Defaults()
	a := New(&cfg, discard())

	cfg.Bot.Venue = VenueDemo
	v, err := a.buildVenue()
	require.NoError(t, err)
	assert.Equal(t, "demo", v.Name())

	cfg.Bot.Venue = VenueBinanceFutures
	v, err = a.buildVenue()
	require.NoError(t, err)
	assert.Equal(t, "binance_futures", v.Name())

	cfg.Bot.Venue = "kraken"
	_, err = a.buildVenue()
	assert.Error(t, err)
}

func TestRiskLimitsShareCostModel(t *testing.T) {
	cfg := config.Defaults()
	cfg.Executor.FeeBps = 4
	cfg.Executor.SlippageBps = 1
	l := New(&cfg, discard()).riskLimits()
	assert.InDelta(t, 0.0004, l.FeeRate, 1e-12)
	assert.InDelta(t, 0.0001, l.SlippageRate, 1e-12)
	require.NoError(t, l.Validate())
}

func TestCandleWindowCoversStrategyHistory(t *testing.T) {
	blender := config.Defaults()
	blender.Strategy.Name = "blender"
	short := blender
	short.Strategy.Blender.MAWindows = []int{10, 20}
	short.Strategy.Blender.BandPeriod = 0
	slowRSI := config.Defaults()
	slowRSI.Strategy.Scalp.RSIPeriod = 30

	for _, cfg := range []config.Config{config.Defaults(), blender, short, slowRSI} {
		a := New(&cfg, discard())
		gen, err := strategy.NewRegistry().Build(a.strategyConfig())
		require.NoError(t, err)
		h, ok := gen.(interface{ MinHistory() int })
		require.True(t, ok)
		assert.Equal(t, h.MinHistory(), cfg.Strategy.MinHistory(), cfg.Strategy.Name)
		assert.GreaterOrEqual(t, a.marketViewConfig().CandleLimit, h.MinHistory(), cfg.Strategy.Name)
	}
}

func TestQuiet(t *testing.T) {
	live := context.Background()
	done, cancel := context.WithCancel(context.Background())
	cancel()

	boom := errors.New("boom")
	assert.NoError(t, quiet(live, nil))
	assert.NoError(t, quiet(live, context.Canceled))
	assert.ErrorIs(t, quiet(live, context.DeadlineExceeded), context.DeadlineExceeded)
	assert.NoError(t, quiet(done, context.DeadlineExceeded))
	assert.ErrorIs(t, quiet(done, boom), boom)
}
