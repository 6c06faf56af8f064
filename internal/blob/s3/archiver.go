package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/alanyoungcy/quantbot/internal/domain"
)

// multipartThreshold is the file size above which uploads go through the
// multipart manager.
const multipartThreshold int64 = 64 * 1024 * 1024

// Archiver copies bot state to object storage: each bot directory's
// snapshot and JSONL logs, plus JSONL exports of mirrored journal rows.
//
// Nothing is deleted here. Pruning the mirror after a verified export is
// the caller's decision.
type Archiver struct {
	writer domain.BlobWriter
	prefix string
	logger *slog.Logger
}

// NewArchiver creates an Archiver writing under prefix (default "archive").
func NewArchiver(writer domain.BlobWriter, prefix string, logger *slog.Logger) *Archiver {
	if prefix == "" {
		prefix = "archive"
	}
	return &Archiver{
		writer: writer,
		prefix: prefix,
		logger: logger.With(slog.String("component", "archiver")),
	}
}

// ArchiveBotDir uploads every regular file of one bot directory to
// <prefix>/bots/<bot>/<YYYY-MM-DD>/<file>. Re-running on the same day
// overwrites that day's copy. It returns the number of files uploaded.
func (a *Archiver) ArchiveBotDir(ctx context.Context, dir string, day time.Time) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("s3blob: read bot dir %s: %w", dir, err)
	}
	bot := filepath.Base(dir)
	n := 0
	for _, e := range entries {
		if !e.Type().IsRegular() || filepath.Ext(e.Name()) == ".tmp" {
			continue
		}
		key := BotDayPrefix(a.prefix, bot, day) + e.Name()
		if err := a.uploadFile(ctx, filepath.Join(dir, e.Name()), key); err != nil {
			return n, err
		}
		n++
	}
	a.logger.InfoContext(ctx, "bot dir archived", slog.String("bot", bot), slog.Int("files", n))
	return n, nil
}

func (a *Archiver) uploadFile(ctx context.Context, src, key string) error {
	f, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("s3blob: open %s: %w", src, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("s3blob: stat %s: %w", src, err)
	}
	if info.Size() > multipartThreshold {
		return a.writer.PutMultipart(ctx, key, f, minPartSize*4)
	}
	contentType := "application/x-ndjson"
	if filepath.Ext(src) == ".json" {
		contentType = "application/json"
	}
	return a.writer.Put(ctx, key, f, contentType)
}

// ArchiveJournal exports mirrored fills, events and equity points older
// than before as JSONL to <prefix>/journal/<kind>/<cutoff>.jsonl and
// returns the number of rows written.
func (a *Archiver) ArchiveJournal(ctx context.Context, journal domain.JournalReader, before time.Time) (int64, error) {
	f := domain.Filter{Until: &before}

	fills, err := journal.ListFills(ctx, f)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive fills query: %w", err)
	}
	events, err := journal.ListEvents(ctx, f)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive events query: %w", err)
	}
	equity, err := journal.ListEquity(ctx, f)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive equity query: %w", err)
	}

	var total int64
	for _, export := range []func() (int, error){
		func() (int, error) { return exportJSONL(ctx, a, "fills", fills, before) },
		func() (int, error) { return exportJSONL(ctx, a, "events", events, before) },
		func() (int, error) { return exportJSONL(ctx, a, "equity", equity, before) },
	} {
		n, err := export()
		total += int64(n)
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func exportJSONL[T any](ctx context.Context, a *Archiver, kind string, rows []T, before time.Time) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	buf, err := marshalJSONL(rows)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive %s marshal: %w", kind, err)
	}
	key := archivePath(a.prefix, kind, before)
	if err := a.writer.Put(ctx, key, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive %s upload: %w", kind, err)
	}
	a.logger.InfoContext(ctx, "journal archived",
		slog.String("kind", kind),
		slog.String("path", key),
		slog.Int("count", len(rows)),
	)
	return len(rows), nil
}

// archivePath builds the key for a journal export, named by its cutoff so
// a second run on the same day never replaces rows already pruned:
//
//	archive/journal/fills/2025-01-31T030000Z.jsonl
func archivePath(prefix, kind string, before time.Time) string {
	return path.Join(prefix, "journal", kind, before.UTC().Format("2006-01-02T150405Z")+".jsonl")
}

// marshalJSONL encodes each record as one compact JSON line.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
