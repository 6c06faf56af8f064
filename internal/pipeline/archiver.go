// Package pipeline runs the scheduled background jobs around the bots,
// currently the cold-storage archive of bot state and the journal mirror.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/quantbot/internal/domain"
)

// BlobArchiver uploads bot directories and journal exports.
type BlobArchiver interface {
	ArchiveBotDir(ctx context.Context, dir string, day time.Time) (int, error)
	ArchiveJournal(ctx context.Context, journal domain.JournalReader, before time.Time) (int64, error)
}

// Pruner deletes mirrored journal rows older than a cutoff.
type Pruner interface {
	PruneBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Archiver copies every bot's state directory to cold storage and, when a
// journal is attached, exports and optionally prunes mirrored rows older
// than the retention window.
type Archiver struct {
	blob          BlobArchiver
	stateRoot     string
	journal       domain.JournalReader
	pruner        Pruner
	retentionDays int
	trigger       <-chan struct{}
	now           func() time.Time
	logger        *slog.Logger
}

// NewArchiver creates an Archiver over the shared state root.
func NewArchiver(blob BlobArchiver, stateRoot string, retentionDays int, logger *slog.Logger) *Archiver {
	return &Archiver{
		blob:          blob,
		stateRoot:     stateRoot,
		retentionDays: retentionDays,
		now:           time.Now,
		logger:        logger.With(slog.String("component", "archiver")),
	}
}

// WithJournal attaches the mirrored journal. pruner may be nil to keep
// exported rows.
func (a *Archiver) WithJournal(journal domain.JournalReader, pruner Pruner) *Archiver {
	a.journal = journal
	a.pruner = pruner
	return a
}

// WithTrigger makes RunCron also run once per receive on ch.
func (a *Archiver) WithTrigger(ch <-chan struct{}) *Archiver {
	a.trigger = ch
	return a
}

// Run executes a single archive run.
func (a *Archiver) Run(ctx context.Context) error {
	now := a.now().UTC()
	a.logger.InfoContext(ctx, "starting archive run",
		slog.String("state_root", a.stateRoot),
		slog.Int("retention_days", a.retentionDays),
	)

	entries, err := os.ReadDir(a.stateRoot)
	if err != nil {
		return fmt.Errorf("pipeline: read state root: %w", err)
	}
	var bots, files int
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		n, err := a.blob.ArchiveBotDir(ctx, filepath.Join(a.stateRoot, e.Name()), now)
		if err != nil {
			return fmt.Errorf("pipeline: archive bot %s: %w", e.Name(), err)
		}
		bots++
		files += n
	}

	var rows, pruned int64
	if a.journal != nil && a.retentionDays > 0 {
		cutoff := now.Add(-time.Duration(a.retentionDays) * 24 * time.Hour)
		rows, err = a.blob.ArchiveJournal(ctx, a.journal, cutoff)
		if err != nil {
			return fmt.Errorf("pipeline: archive journal before %v: %w", cutoff, err)
		}
		if a.pruner != nil {
			pruned, err = a.pruner.PruneBefore(ctx, cutoff)
			if err != nil {
				return fmt.Errorf("pipeline: prune journal before %v: %w", cutoff, err)
			}
		}
	}

	a.logger.InfoContext(ctx, "archive run complete",
		slog.Int("bots", bots),
		slog.Int("files", files),
		slog.Int64("journal_rows", rows),
		slog.Int64("pruned", pruned),
	)
	return nil
}

// RunCron runs the archiver on a 5-field cron schedule ("minute hour
// day-of-month month day-of-week", e.g. "30 0 * * *" daily at 00:30 UTC)
// until the context is cancelled.
func (a *Archiver) RunCron(ctx context.Context, cronExpr string) error {
	sched, err := parseCron(cronExpr)
	if err != nil {
		return fmt.Errorf("pipeline: cron %q: %w", cronExpr, err)
	}
	a.logger.InfoContext(ctx, "archiver cron started", slog.String("cron", cronExpr))

	for {
		next, err := sched.next(a.now().UTC())
		if err != nil {
			return fmt.Errorf("pipeline: cron %q: %w", cronExpr, err)
		}
		wait := time.Until(next)
		a.logger.DebugContext(ctx, "archiver waiting",
			slog.Time("next_run", next),
			slog.Duration("wait", wait),
		)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			a.logger.InfoContext(ctx, "archiver cron stopped")
			return ctx.Err()
		case <-timer.C:
			if err := a.Run(ctx); err != nil {
				a.logger.ErrorContext(ctx, "archive run failed", slog.String("error", err.Error()))
			}
		case <-a.trigger:
			timer.Stop()
			a.logger.InfoContext(ctx, "archive run triggered")
			if err := a.Run(ctx); err != nil {
				a.logger.ErrorContext(ctx, "archive run failed", slog.String("error", err.Error()))
			}
		}
	}
}

// cronField is one parsed cron field.
type cronField struct {
	wildcard bool
	step     int
	values   []int
}

func (f cronField) matches(val int) bool {
	if f.wildcard {
		return f.step <= 1 || val%f.step == 0
	}
	for _, v := range f.values {
		if v == val {
			return true
		}
	}
	return false
}

// parseCronField parses "*", "*/n", "a,b,c" or "a-b".
func parseCronField(field string) (cronField, error) {
	if field == "*" {
		return cronField{wildcard: true}, nil
	}
	if rest, ok := strings.CutPrefix(field, "*/"); ok {
		n, err := strconv.Atoi(rest)
		if err != nil || n <= 0 {
			return cronField{}, fmt.Errorf("invalid cron step %q", field)
		}
		return cronField{wildcard: true, step: n}, nil
	}

	var values []int
	for _, p := range strings.Split(field, ",") {
		p = strings.TrimSpace(p)
		if lo, hi, ok := strings.Cut(p, "-"); ok {
			a, errA := strconv.Atoi(lo)
			b, errB := strconv.Atoi(hi)
			if errA != nil || errB != nil || b < a {
				return cronField{}, fmt.Errorf("invalid cron range %q", p)
			}
			for v := a; v <= b; v++ {
				values = append(values, v)
			}
			continue
		}
		v, err := strconv.Atoi(p)
		if err != nil {
			return cronField{}, fmt.Errorf("invalid cron field value %q: %w", p, err)
		}
		values = append(values, v)
	}
	return cronField{values: values}, nil
}

// parsedCron is a whole schedule.
type parsedCron struct {
	minute     cronField
	hour       cronField
	dayOfMonth cronField
	month      cronField
	dayOfWeek  cronField
}

// matchesTime reports whether t matches all five fields.
func (c parsedCron) matchesTime(t time.Time) bool {
	return c.minute.matches(t.Minute()) &&
		c.hour.matches(t.Hour()) &&
		c.dayOfMonth.matches(t.Day()) &&
		c.month.matches(int(t.Month())) &&
		c.dayOfWeek.matches(int(t.Weekday()))
}

// parseCron parses a 5-field cron expression.
func parseCron(expr string) (parsedCron, error) {
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return parsedCron{}, fmt.Errorf("cron expression must have 5 fields, got %d", len(fields))
	}
	names := [5]string{"minute", "hour", "day-of-month", "month", "day-of-week"}
	var parsed [5]cronField
	for i, f := range fields {
		cf, err := parseCronField(f)
		if err != nil {
			return parsedCron{}, fmt.Errorf("parsing %s field: %w", names[i], err)
		}
		parsed[i] = cf
	}
	return parsedCron{
		minute:     parsed[0],
		hour:       parsed[1],
		dayOfMonth: parsed[2],
		month:      parsed[3],
		dayOfWeek:  parsed[4],
	}, nil
}

// next returns the first minute strictly after 'after' that matches,
// searching up to one year ahead.
func (c parsedCron) next(after time.Time) (time.Time, error) {
	candidate := after.Truncate(time.Minute).Add(time.Minute)
	limit := after.Add(366 * 24 * time.Hour)
	for candidate.Before(limit) {
		if c.matchesTime(candidate) {
			return candidate, nil
		}
		candidate = candidate.Add(time.Minute)
	}
	return time.Time{}, fmt.Errorf("no matching time within one year")
}
