package s3blob

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/quantbot/internal/domain"
)

type memWriter struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
}

func newMemWriter() *memWriter {
	return &memWriter{objects: map[string][]byte{}, types: map[string]string{}}
}

func (w *memWriter) Put(_ context.Context, path string, data io.Reader, contentType string) error {
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.objects[path] = b
	w.types[path] = contentType
	return nil
}

func (w *memWriter) PutMultipart(ctx context.Context, path string, data io.Reader, _ int64) error {
	return w.Put(ctx, path, data, "multipart")
}

type fakeJournal struct {
	fills  []domain.Fill
	events []domain.Event
	until  *time.Time
}

func (j *fakeJournal) ListFills(_ context.Context, f domain.Filter) ([]domain.Fill, error) {
	j.until = f.Until
	return j.fills, nil
}

func (j *fakeJournal) ListEvents(context.Context, domain.Filter) ([]domain.Event, error) {
	return j.events, nil
}

func (j *fakeJournal) ListEquity(context.Context, domain.Filter) ([]domain.EquityPoint, error) {
	return nil, nil
}

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestArchiveBotDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "binance_BTCUSDT")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "binance_BTCUSDT.json"), []byte(`{}`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "fills.jsonl"), []byte("{}\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "snap.tmp"), []byte("x"), 0o644))

	w := newMemWriter()
	a := NewArchiver(w, "", discard())
	day := time.Date(2024, 5, 6, 23, 0, 0, 0, time.UTC)
	n, err := a.ArchiveBotDir(context.Background(), dir, day)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	snap := "archive/bots/binance_BTCUSDT/2024-05-06/binance_BTCUSDT.json"
	require.Contains(t, w.objects, snap)
	assert.Equal(t, "application/json", w.types[snap])
	assert.Equal(t, "application/x-ndjson", w.types["archive/bots/binance_BTCUSDT/2024-05-06/fills.jsonl"])
	assert.NotContains(t, w.objects, "archive/bots/binance_BTCUSDT/2024-05-06/snap.tmp")
}

func TestArchiveJournal(t *testing.T) {
	t0 := time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC)
	j := &fakeJournal{
		fills: []domain.Fill{
			{ID: "a", Time: t0, Venue: "binance", Symbol: "BTCUSDT", Side: domain.SideBuy, Qty: 1, Price: 100},
			{ID: "b", Time: t0, Venue: "binance", Symbol: "BTCUSDT", Side: domain.SideSell, Qty: 1, Price: 101},
		},
		events: []domain.Event{{ID: "e", Time: t0, Type: domain.EventFill, Reason: "a<b"}},
	}
	w := newMemWriter()
	a := NewArchiver(w, "cold", discard())

	n, err := a.ArchiveJournal(context.Background(), j, t0)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	require.NotNil(t, j.until)
	assert.Equal(t, t0, *j.until)

	fills := w.objects["cold/journal/fills/2024-01-31T000000Z.jsonl"]
	assert.Equal(t, 2, bytes.Count(fills, []byte("\n")))
	events := string(w.objects["cold/journal/events/2024-01-31T000000Z.jsonl"])
	assert.True(t, strings.Contains(events, `"a<b"`), "html is not escaped")
	assert.NotContains(t, w.objects, "cold/journal/equity/2024-01-31T000000Z.jsonl")
}

func TestNormaliseEndpoint(t *testing.T) {
	assert.Equal(t, "https://s3.example.com", normaliseEndpoint("s3.example.com", true))
	assert.Equal(t, "http://minio:9000", normaliseEndpoint("minio:9000", false))
	assert.Equal(t, "http://x", normaliseEndpoint("http://x", true))
}

func (w *memWriter) Get(_ context.Context, key string) (io.ReadCloser, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	b, ok := w.objects[key]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (w *memWriter) List(_ context.Context, prefix string) ([]domain.BlobInfo, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	var out []domain.BlobInfo
	for k, b := range w.objects {
		if strings.HasPrefix(k, prefix) {
			out = append(out, domain.BlobInfo{Path: k, Size: int64(len(b))})
		}
	}
	return out, nil
}

func (w *memWriter) Exists(_ context.Context, key string) (bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.objects[key]
	return ok, nil
}

func TestRestoreRoundTrip(t *testing.T) {
	src := filepath.Join(t.TempDir(), "demo_BTCUSDT")
	require.NoError(t, os.MkdirAll(src, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "fills.jsonl"), []byte("{\"id\":\"f1\"}\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(src, "state.json"), []byte(`{"cycle":3}`), 0o644))

	store := newMemWriter()
	a := NewArchiver(store, "", discard())
	ctx := context.Background()
	for _, day := range []time.Time{
		time.Date(2024, 5, 7, 1, 0, 0, 0, time.UTC),
		time.Date(2024, 5, 6, 1, 0, 0, 0, time.UTC),
	} {
		_, err := a.ArchiveBotDir(ctx, src, day)
		require.NoError(t, err)
	}

	days, err := ArchivedDays(ctx, store, "", "demo_BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, []string{"2024-05-06", "2024-05-07"}, days)

	dst := filepath.Join(t.TempDir(), "demo_BTCUSDT")
	day := time.Date(2024, 5, 6, 0, 0, 0, 0, time.UTC)
	n, err := Restore(ctx, store, "", "demo_BTCUSDT", day, dst, false)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	got, err := os.ReadFile(filepath.Join(dst, "state.json"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"cycle":3}`, string(got))

	_, err = Restore(ctx, store, "", "demo_BTCUSDT", day, dst, false)
	assert.ErrorIs(t, err, ErrExists)
	n, err = Restore(ctx, store, "", "demo_BTCUSDT", day, dst, true)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = Restore(ctx, store, "", "demo_BTCUSDT", time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC), dst, true)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
