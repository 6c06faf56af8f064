package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/quantbot/internal/crypto"
	"github.com/alanyoungcy/quantbot/internal/domain"
	"github.com/alanyoungcy/quantbot/internal/ledger"
	"github.com/alanyoungcy/quantbot/internal/statestore"
)

func execute(t *testing.T, stdin string, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetArgs(args)
	rootCmd.SetIn(strings.NewReader(stdin))
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	require.NoError(t, rootCmd.Execute(), out.String())
	return out.String()
}

// seedBot writes a round trip into dir and a snapshot consistent with it.
func seedBot(t *testing.T, dir string) string {
	t.Helper()
	key := domain.BotKey("binance", "BTCUSDT", "default")
	store, err := statestore.New(dir, key, nil)
	require.NoError(t, err)

	t0 := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	raw := []domain.Fill{
		{ID: "f1", Time: t0, Venue: "binance", Symbol: "BTCUSDT", AccountTag: "default", Mode: domain.ModePaper, Side: domain.SideBuy, Qty: 2, Price: 100, Fee: 0.2},
		{ID: "f2", Time: t0.Add(time.Minute), Venue: "binance", Symbol: "BTCUSDT", AccountTag: "default", Mode: domain.ModePaper, Side: domain.SideSell, Qty: 1, Price: 110, Fee: 0.11},
	}
	pos, stamped, err := ledger.Replay(raw)
	require.NoError(t, err)
	for _, f := range stamped {
		require.NoError(t, store.AppendFill(f))
	}
	require.NoError(t, store.SaveSnapshot(domain.BotState{
		BotID:      key,
		Venue:      "binance",
		Symbol:     "BTCUSDT",
		AccountTag: "default",
		Mode:       domain.ModePaper,
		Market:     domain.MarketSnapshot{LastPrice: 110},
		Position:   ledger.Mark(pos, 110),
		UpdatedAt:  t0.Add(time.Minute),
	}))
	return key
}

func TestReplayMatchesSnapshot(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("QUANTBOT_BOT_STATE_DIR", dir)
	key := seedBot(t, dir)

	var res replayResult
	require.NoError(t, json.Unmarshal([]byte(execute(t, "", "replay")), &res))
	assert.Equal(t, key, res.BotID)
	assert.Equal(t, 2, res.Fills)
	assert.InDelta(t, 1.0, res.Position.Qty, 1e-9)
	require.NotNil(t, res.Matches)
	assert.True(t, *res.Matches)
}

func TestReportFromStateRoot(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("QUANTBOT_BOT_STATE_DIR", dir)
	seedBot(t, dir)

	var out reportOutput
	require.NoError(t, json.Unmarshal([]byte(execute(t, "", "report", "--trades")), &out))
	assert.Equal(t, 1, out.Summary.Trades)
	assert.Equal(t, 1, out.Summary.Wins)
	require.Len(t, out.Daily, 1)
	assert.Equal(t, "2026-03-02", out.Daily[0].Day)
	assert.Equal(t, 2, out.Daily[0].Fills)
	require.Len(t, out.Trades, 1)
	assert.Equal(t, "f2", out.Trades[0].FillID)
}

func TestSecretEncrypt(t *testing.T) {
	t.Setenv("QUANTBOT_BINANCE_SECRET_PASSWORD", "hunter2")
	path := filepath.Join(t.TempDir(), "secret.json")

	out := execute(t, "api-secret-value\n", "secret", "encrypt", "--out", path)
	assert.Contains(t, out, path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "api-secret-value")

	got, err := crypto.DecryptSecret(data, "hunter2")
	require.NoError(t, err)
	assert.Equal(t, "api-secret-value", got)
}

type fakeStream struct {
	msgs  []domain.StreamMessage
	reads int
}

func (f *fakeStream) StreamRead(_ context.Context, _, lastID string, count int) ([]domain.StreamMessage, error) {
	f.reads++
	var out []domain.StreamMessage
	for _, m := range f.msgs {
		if m.ID > lastID && len(out) < count {
			out = append(out, m)
		}
	}
	return out, nil
}

func TestTailEvents(t *testing.T) {
	src := &fakeStream{msgs: []domain.StreamMessage{
		{ID: "1-0", Payload: []byte(`{"type":"fill"}`)},
		{ID: "2-0", Payload: []byte(`not json`)},
		{ID: "3-0", Payload: []byte(`{"type":"shutdown"}`)},
	}}

	var out bytes.Buffer
	last, err := tailEvents(context.Background(), src, &out, "1-0", 10, false, time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, "3-0", last)

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)
	var entry streamEntry
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "2-0", entry.ID)
	assert.JSONEq(t, `"not json"`, string(entry.Event))
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &entry))
	assert.JSONEq(t, `{"type":"shutdown"}`, string(entry.Event))
}

func TestTailEventsFollowPagesUntilCancel(t *testing.T) {
	src := &fakeStream{msgs: []domain.StreamMessage{
		{ID: "1-0", Payload: []byte(`{}`)},
		{ID: "2-0", Payload: []byte(`{}`)},
		{ID: "3-0", Payload: []byte(`{}`)},
	}}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	var out bytes.Buffer
	last, err := tailEvents(ctx, src, &out, "", 2, true, 5*time.Millisecond)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, "3-0", last)
	assert.Equal(t, 3, strings.Count(out.String(), "\n"))
	assert.Greater(t, src.reads, 2)
}
