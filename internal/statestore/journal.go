package statestore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/alanyoungcy/quantbot/internal/domain"
)

// FileJournal answers read-side queries straight from the per-bot logs
// under a shared state root. It is the fallback when no database mirror is
// configured.
type FileJournal struct {
	root string
}

var _ domain.JournalReader = (*FileJournal)(nil)

// NewFileJournal reads every bot directory below root.
func NewFileJournal(root string) *FileJournal {
	return &FileJournal{root: root}
}

// ListFills returns matching fills across bots ordered by time.
func (j *FileJournal) ListFills(ctx context.Context, f domain.Filter) ([]domain.Fill, error) {
	var out []domain.Fill
	err := j.eachBot(ctx, f, func(dir string) error {
		fills, err := readJSONL[domain.Fill](filepath.Join(dir, FillsFile))
		if err != nil {
			return err
		}
		for _, fl := range fills {
			if f.Matches(fl.AccountTag, fl.Venue, fl.Symbol, fl.Time) {
				out = append(out, fl)
			}
		}
		return nil
	})
	sort.SliceStable(out, func(a, b int) bool { return out[a].Time.Before(out[b].Time) })
	return limit(out, f.Limit), err
}

// ListEvents returns matching events across bots ordered by time.
func (j *FileJournal) ListEvents(ctx context.Context, f domain.Filter) ([]domain.Event, error) {
	want := make(map[domain.EventType]bool, len(f.Types))
	for _, t := range f.Types {
		want[t] = true
	}
	var out []domain.Event
	err := j.eachBot(ctx, f, func(dir string) error {
		events, err := readJSONL[domain.Event](filepath.Join(dir, EventsFile))
		if err != nil {
			return err
		}
		for _, e := range events {
			if len(want) > 0 && !want[e.Type] {
				continue
			}
			if f.Matches(e.AccountTag, e.Venue, e.Symbol, e.Time) {
				out = append(out, e)
			}
		}
		return nil
	})
	sort.SliceStable(out, func(a, b int) bool { return out[a].Time.Before(out[b].Time) })
	return limit(out, f.Limit), err
}

// ListEquity returns matching equity points across bots ordered by time.
func (j *FileJournal) ListEquity(ctx context.Context, f domain.Filter) ([]domain.EquityPoint, error) {
	var out []domain.EquityPoint
	byAccount := f
	byAccount.Venue, byAccount.Symbol = "", ""
	err := j.eachBot(ctx, f, func(dir string) error {
		points, err := readJSONL[domain.EquityPoint](filepath.Join(dir, EquityFile))
		if err != nil {
			return err
		}
		for _, p := range points {
			if f.BotID != "" && p.BotID != f.BotID {
				continue
			}
			if byAccount.Matches(p.AccountTag, "", "", p.Time) {
				out = append(out, p)
			}
		}
		return nil
	})
	sort.SliceStable(out, func(a, b int) bool { return out[a].Time.Before(out[b].Time) })
	return limit(out, f.Limit), err
}

// eachBot calls fn for every bot directory, skipping bots whose log is
// missing.
func (j *FileJournal) eachBot(ctx context.Context, f domain.Filter, fn func(dir string) error) error {
	entries, err := os.ReadDir(j.root)
	if err != nil {
		return fmt.Errorf("statestore: read root %s: %w", j.root, err)
	}
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !e.IsDir() {
			continue
		}
		if f.BotID != "" && e.Name() != f.BotID {
			continue
		}
		if err := fn(filepath.Join(j.root, e.Name())); err != nil && !errors.Is(err, domain.ErrNotFound) {
			return err
		}
	}
	return nil
}

// ListSnapshots decodes every bot snapshot under root. Unreadable
// snapshots are reported in the joined error but do not hide the others.
func ListSnapshots(root string) ([]domain.BotState, error) {
	paths, err := filepath.Glob(filepath.Join(root, "*", SnapshotFile))
	if err != nil {
		return nil, fmt.Errorf("statestore: glob snapshots: %w", err)
	}
	sort.Strings(paths)
	var (
		out  []domain.BotState
		errs []error
	)
	for _, p := range paths {
		st, err := ReadSnapshot(p)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out = append(out, st)
	}
	return out, errors.Join(errs...)
}

// limit keeps the newest n entries of a time-ordered slice.
func limit[T any](in []T, n int) []T {
	if n <= 0 || len(in) <= n {
		return in
	}
	return in[len(in)-n:]
}
