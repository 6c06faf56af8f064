// Package statestore persists one bot's state: an atomically replaced
// snapshot plus append-only fill, event and equity logs.
package statestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/alanyoungcy/quantbot/internal/domain"
	"github.com/alanyoungcy/quantbot/internal/ledger"
)

const (
	SnapshotFile = "state.json"
	FillsFile    = "fills.jsonl"
	EventsFile   = "events.jsonl"
	EquityFile   = "equity.jsonl"
)

// RecoverSource tells where a recovered position came from.
type RecoverSource string

const (
	RecoveredFromFills    RecoverSource = "fills"
	RecoveredFromSnapshot RecoverSource = "snapshot"
	RecoveredEmpty        RecoverSource = "empty"
)

// Store owns the files of a single bot under <root>/<key>/.
type Store struct {
	dir    string
	key    string
	mu     sync.Mutex
	logger *slog.Logger
}

// New creates the bot directory if needed.
func New(root, key string, logger *slog.Logger) (*Store, error) {
	if root == "" || key == "" {
		return nil, errors.New("statestore: root and key are required")
	}
	dir := filepath.Join(root, key)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("statestore: create %s: %w", dir, err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		dir:    dir,
		key:    key,
		logger: logger.With(slog.String("component", "statestore"), slog.String("bot", key)),
	}, nil
}

// Dir returns the bot directory.
func (s *Store) Dir() string { return s.dir }

// Key returns the bot key.
func (s *Store) Key() string { return s.key }

// Path returns the full path of one of the store's files.
func (s *Store) Path(name string) string { return filepath.Join(s.dir, name) }

// SaveSnapshot replaces the snapshot atomically: the document is written to
// a temp file in the same directory, synced, then renamed over the old one,
// so readers see either the previous or the new snapshot, never a torn one.
func (s *Store) SaveSnapshot(state domain.BotState) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("statestore: marshal snapshot: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tmp, err := os.CreateTemp(s.dir, "state-*.tmp")
	if err != nil {
		return fmt.Errorf("statestore: create temp: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("statestore: write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("statestore: sync temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("statestore: close temp: %w", err)
	}
	if err := os.Rename(tmpName, s.Path(SnapshotFile)); err != nil {
		cleanup()
		return fmt.Errorf("statestore: rename snapshot: %w", err)
	}
	syncDir(s.dir)
	return nil
}

// SaveWithRetry retries SaveSnapshot with linear backoff. Exhausting the
// attempts returns an error wrapping domain.ErrPersistence.
func (s *Store) SaveWithRetry(ctx context.Context, state domain.BotState, attempts int, backoff time.Duration) error {
	if attempts < 1 {
		attempts = 1
	}
	var last error
	for i := 1; i <= attempts; i++ {
		if last = s.SaveSnapshot(state); last == nil {
			return nil
		}
		s.logger.WarnContext(ctx, "snapshot write failed",
			slog.Int("attempt", i),
			slog.String("error", last.Error()),
		)
		if i == attempts {
			break
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %v (%v)", domain.ErrPersistence, last, ctx.Err())
		case <-time.After(backoff * time.Duration(i)):
		}
	}
	return fmt.Errorf("%w: after %d attempts: %v", domain.ErrPersistence, attempts, last)
}

// LoadSnapshot reads the last persisted snapshot.
func (s *Store) LoadSnapshot() (domain.BotState, error) {
	return ReadSnapshot(s.Path(SnapshotFile))
}

// ReadSnapshot decodes a snapshot file. A missing file maps to
// domain.ErrNotFound.
func ReadSnapshot(path string) (domain.BotState, error) {
	var st domain.BotState
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return st, fmt.Errorf("statestore: %s: %w", path, domain.ErrNotFound)
	}
	if err != nil {
		return st, fmt.Errorf("statestore: read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, &st); err != nil {
		return st, fmt.Errorf("statestore: decode %s: %w", path, err)
	}
	return st, nil
}

// AppendFill appends f to the fill log.
func (s *Store) AppendFill(f domain.Fill) error {
	return s.append(FillsFile, f)
}

// AppendEvent appends e to the event log.
func (s *Store) AppendEvent(e domain.Event) error {
	return s.append(EventsFile, e)
}

// AppendEquity appends p to the equity snapshot log.
func (s *Store) AppendEquity(p domain.EquityPoint) error {
	return s.append(EquityFile, p)
}

func (s *Store) append(name string, v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := appendJSONL(s.Path(name), v); err != nil {
		return fmt.Errorf("statestore: append %s: %w", name, err)
	}
	return nil
}

// ReadFills returns the whole fill log in append order.
func (s *Store) ReadFills() ([]domain.Fill, error) {
	return readJSONL[domain.Fill](s.Path(FillsFile))
}

// ReadEvents returns the whole event log in append order.
func (s *Store) ReadEvents() ([]domain.Event, error) {
	return readJSONL[domain.Event](s.Path(EventsFile))
}

// ReadEquity returns the whole equity log in append order.
func (s *Store) ReadEquity() ([]domain.EquityPoint, error) {
	return readJSONL[domain.EquityPoint](s.Path(EquityFile))
}

// Recover rebuilds the position. The fill log is the system of record and
// is replayed when present; otherwise the last snapshot is trusted.
func (s *Store) Recover() (domain.Position, RecoverSource, error) {
	fills, err := s.ReadFills()
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return domain.Position{}, RecoveredEmpty, err
	}
	if len(fills) > 0 {
		pos, _, err := ledger.Replay(fills)
		if err != nil {
			return pos, RecoveredFromFills, fmt.Errorf("statestore: recover: %w", err)
		}
		return pos, RecoveredFromFills, nil
	}

	st, err := s.LoadSnapshot()
	if errors.Is(err, domain.ErrNotFound) {
		return domain.Position{}, RecoveredEmpty, nil
	}
	if err != nil {
		return domain.Position{}, RecoveredEmpty, err
	}
	return st.Position, RecoveredFromSnapshot, nil
}

func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	_ = d.Sync()
	_ = d.Close()
}
