package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/quantbot/internal/domain"
)

type fakeBlob struct {
	dirs    []string
	before  time.Time
	rows    int64
	failDir bool
}

func (f *fakeBlob) ArchiveBotDir(_ context.Context, dir string, _ time.Time) (int, error) {
	if f.failDir {
		return 0, errors.New("boom")
	}
	f.dirs = append(f.dirs, filepath.Base(dir))
	return 3, nil
}

func (f *fakeBlob) ArchiveJournal(_ context.Context, _ domain.JournalReader, before time.Time) (int64, error) {
	f.before = before
	return f.rows, nil
}

type fakePruner struct{ cutoff time.Time }

func (p *fakePruner) PruneBefore(_ context.Context, cutoff time.Time) (int64, error) {
	p.cutoff = cutoff
	return 7, nil
}

type nopJournal struct{}

func (nopJournal) ListFills(context.Context, domain.Filter) ([]domain.Fill, error) { return nil, nil }
func (nopJournal) ListEvents(context.Context, domain.Filter) ([]domain.Event, error) {
	return nil, nil
}
func (nopJournal) ListEquity(context.Context, domain.Filter) ([]domain.EquityPoint, error) {
	return nil, nil
}

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestArchiverRun(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(root, "binance_BTCUSDT"), 0o755))
	require.NoError(t, os.Mkdir(filepath.Join(root, "binance_ETHUSDT_desk"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "stray.txt"), nil, 0o644))

	now := time.Date(2024, 6, 10, 0, 30, 0, 0, time.UTC)
	blob := &fakeBlob{rows: 5}
	pruner := &fakePruner{}
	a := NewArchiver(blob, root, 30, discard()).WithJournal(nopJournal{}, pruner)
	a.now = func() time.Time { return now }

	require.NoError(t, a.Run(context.Background()))
	assert.ElementsMatch(t, []string{"binance_BTCUSDT", "binance_ETHUSDT_desk"}, blob.dirs)
	assert.Equal(t, now.Add(-30*24*time.Hour), blob.before)
	assert.Equal(t, blob.before, pruner.cutoff)
}

func TestArchiverRunWithoutJournal(t *testing.T) {
	root := t.TempDir()
	blob := &fakeBlob{}
	a := NewArchiver(blob, root, 30, discard())
	require.NoError(t, a.Run(context.Background()))
	assert.True(t, blob.before.IsZero())
}

func TestArchiverRunFails(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(root, "bot"), 0o755))
	a := NewArchiver(&fakeBlob{failDir: true}, root, 0, discard())
	assert.Error(t, a.Run(context.Background()))

	assert.Error(t, NewArchiver(&fakeBlob{}, filepath.Join(root, "missing"), 0, discard()).Run(context.Background()))
}

func TestArchiverRunCronTrigger(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(root, "demo_BTCUSDT"), 0o755))

	trigger := make(chan struct{})
	blob := &fakeBlob{}
	a := NewArchiver(blob, root, 0, discard()).WithTrigger(trigger)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.RunCron(ctx, "0 0 1 1 *") }()

	trigger <- struct{}{}
	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("RunCron did not stop")
	}
	assert.Equal(t, []string{"demo_BTCUSDT"}, blob.dirs)
}

func TestCronNext(t *testing.T) {
	base := time.Date(2024, 6, 10, 10, 7, 30, 0, time.UTC) // a Monday
	tests := []struct {
		expr string
		want time.Time
	}{
		{"* * * * *", time.Date(2024, 6, 10, 10, 8, 0, 0, time.UTC)},
		{"*/15 * * * *", time.Date(2024, 6, 10, 10, 15, 0, 0, time.UTC)},
		{"30 0 * * *", time.Date(2024, 6, 11, 0, 30, 0, 0, time.UTC)},
		{"0 3 1 * *", time.Date(2024, 7, 1, 3, 0, 0, 0, time.UTC)},
		{"0 9-17 * * 1-5", time.Date(2024, 6, 10, 11, 0, 0, 0, time.UTC)},
		{"0 0 * * 0,6", time.Date(2024, 6, 15, 0, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			c, err := parseCron(tt.expr)
			require.NoError(t, err)
			got, err := c.next(base)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseCronErrors(t *testing.T) {
	for _, expr := range []string{"", "* * * *", "x * * * *", "*/0 * * * *", "5-1 * * * *"} {
		_, err := parseCron(expr)
		assert.Error(t, err, expr)
	}
	_, err := parseCron("0 0 31 2 *")
	require.NoError(t, err)
	c, _ := parseCron("0 0 31 2 *")
	_, err = c.next(time.Now())
	assert.Error(t, err)
}
