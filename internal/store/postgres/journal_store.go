package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/quantbot/internal/domain"
)

// JournalStore mirrors fills, events and equity points into PostgreSQL and
// answers the read-side queries. Writes are idempotent on the row key, so
// re-mirroring a replayed log is harmless.
type JournalStore struct {
	pool *pgxpool.Pool
}

// NewJournalStore creates a JournalStore backed by the given pool.
func NewJournalStore(pool *pgxpool.Pool) *JournalStore {
	return &JournalStore{pool: pool}
}

var _ domain.Journal = (*JournalStore)(nil)

const (
	insertFill = `
		INSERT INTO fills (
			id, ts, bot_id, venue, symbol, account_tag, mode,
			side, qty, price, fee, realized_pnl_delta, client_order_id, reason
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (id) DO NOTHING`

	insertEvent = `
		INSERT INTO events (id, ts, bot_id, type, venue, symbol, account_tag, reason, fill, data)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO NOTHING`

	insertEquity = `
		INSERT INTO equity_points (bot_id, ts, account_tag, equity, realized_pnl, unrealized_pnl)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (bot_id, ts) DO UPDATE SET
			equity = EXCLUDED.equity,
			realized_pnl = EXCLUDED.realized_pnl,
			unrealized_pnl = EXCLUDED.unrealized_pnl`

	fillSelectCols = `id, ts, venue, symbol, account_tag, mode, side, qty, price,
		fee, realized_pnl_delta, client_order_id, reason`

	eventSelectCols = `id, ts, type, venue, symbol, account_tag, reason, fill, data`

	equitySelectCols = `ts, bot_id, account_tag, equity, realized_pnl, unrealized_pnl`
)

func fillArgs(f domain.Fill) []any {
	return []any{
		f.ID, f.Time, domain.BotKey(f.Venue, f.Symbol, f.AccountTag), f.Venue, f.Symbol,
		f.AccountTag, string(f.Mode), string(f.Side), f.Qty, f.Price, f.Fee,
		f.RealizedDelta, f.ClientOrderID, f.Reason,
	}
}

// RecordFill inserts one fill.
func (s *JournalStore) RecordFill(ctx context.Context, f domain.Fill) error {
	if _, err := s.pool.Exec(ctx, insertFill, fillArgs(f)...); err != nil {
		return fmt.Errorf("postgres: record fill %s: %w", f.ID, err)
	}
	return nil
}

// RecordFills inserts many fills in one batch, e.g. when backfilling from
// a bot's JSONL log.
func (s *JournalStore) RecordFills(ctx context.Context, fills []domain.Fill) error {
	if len(fills) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, f := range fills {
		batch.Queue(insertFill, fillArgs(f)...)
	}
	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for i := range fills {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: insert fill batch item %d: %w", i, err)
		}
	}
	return nil
}

// RecordEvent inserts one event. The attached fill and data are stored as
// JSONB.
func (s *JournalStore) RecordEvent(ctx context.Context, e domain.Event) error {
	var fillJSON, dataJSON []byte
	var err error
	if e.Fill != nil {
		if fillJSON, err = json.Marshal(e.Fill); err != nil {
			return fmt.Errorf("postgres: marshal event fill: %w", err)
		}
	}
	if len(e.Data) > 0 {
		if dataJSON, err = json.Marshal(e.Data); err != nil {
			return fmt.Errorf("postgres: marshal event data: %w", err)
		}
	}
	_, err = s.pool.Exec(ctx, insertEvent,
		e.ID, e.Time, domain.BotKey(e.Venue, e.Symbol, e.AccountTag), string(e.Type),
		e.Venue, e.Symbol, e.AccountTag, e.Reason, fillJSON, dataJSON,
	)
	if err != nil {
		return fmt.Errorf("postgres: record event %s: %w", e.ID, err)
	}
	return nil
}

// RecordEquity upserts one equity point.
func (s *JournalStore) RecordEquity(ctx context.Context, p domain.EquityPoint) error {
	_, err := s.pool.Exec(ctx, insertEquity,
		p.BotID, p.Time, p.AccountTag, p.Equity, p.Realized, p.Unrealized,
	)
	if err != nil {
		return fmt.Errorf("postgres: record equity %s: %w", p.BotID, err)
	}
	return nil
}

// where builds the WHERE clause shared by the list queries. withType adds
// the event type filter.
func where(f domain.Filter, withType bool) (string, []any) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if f.BotID != "" {
		add("bot_id = $%d", f.BotID)
	}
	if f.AccountTag != "" {
		add("account_tag = $%d", f.AccountTag)
	}
	if f.Venue != "" {
		add("venue = $%d", f.Venue)
	}
	if f.Symbol != "" {
		add("symbol = $%d", f.Symbol)
	}
	if withType && len(f.Types) > 0 {
		types := make([]string, len(f.Types))
		for i, t := range f.Types {
			types[i] = string(t)
		}
		add("type = ANY($%d)", types)
	}
	if f.Since != nil {
		add("ts >= $%d", *f.Since)
	}
	if f.Until != nil {
		add("ts < $%d", *f.Until)
	}
	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// page appends ordering and the limit. A limit keeps the newest rows; the
// caller reverses them back to ascending order.
func page(query string, args []any, limit int) (string, []any) {
	if limit > 0 {
		args = append(args, limit)
		return query + fmt.Sprintf(" ORDER BY ts DESC LIMIT $%d", len(args)), args
	}
	return query + " ORDER BY ts ASC", args
}

// ListFills returns matching fills in time order.
func (s *JournalStore) ListFills(ctx context.Context, f domain.Filter) ([]domain.Fill, error) {
	cond, args := where(f, false)
	query, args := page(`SELECT `+fillSelectCols+` FROM fills`+cond, args, f.Limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list fills: %w", err)
	}
	defer rows.Close()

	var out []domain.Fill
	for rows.Next() {
		var (
			fl         domain.Fill
			mode, side string
		)
		if err := rows.Scan(
			&fl.ID, &fl.Time, &fl.Venue, &fl.Symbol, &fl.AccountTag, &mode, &side,
			&fl.Qty, &fl.Price, &fl.Fee, &fl.RealizedDelta, &fl.ClientOrderID, &fl.Reason,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan fill: %w", err)
		}
		fl.Mode, fl.Side = domain.Mode(mode), domain.Side(side)
		fl.Time = fl.Time.UTC()
		out = append(out, fl)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list fills: %w", err)
	}
	if f.Limit > 0 {
		slices.Reverse(out)
	}
	return out, nil
}

// ListEvents returns matching events in time order.
func (s *JournalStore) ListEvents(ctx context.Context, f domain.Filter) ([]domain.Event, error) {
	cond, args := where(f, true)
	query, args := page(`SELECT `+eventSelectCols+` FROM events`+cond, args, f.Limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list events: %w", err)
	}
	defer rows.Close()

	var out []domain.Event
	for rows.Next() {
		var (
			e                  domain.Event
			typ                string
			fillJSON, dataJSON []byte
		)
		if err := rows.Scan(&e.ID, &e.Time, &typ, &e.Venue, &e.Symbol, &e.AccountTag,
			&e.Reason, &fillJSON, &dataJSON); err != nil {
			return nil, fmt.Errorf("postgres: scan event: %w", err)
		}
		e.Type = domain.EventType(typ)
		e.Time = e.Time.UTC()
		if len(fillJSON) > 0 {
			var fl domain.Fill
			if err := json.Unmarshal(fillJSON, &fl); err != nil {
				return nil, fmt.Errorf("postgres: decode event fill %s: %w", e.ID, err)
			}
			e.Fill = &fl
		}
		if len(dataJSON) > 0 {
			if err := json.Unmarshal(dataJSON, &e.Data); err != nil {
				return nil, fmt.Errorf("postgres: decode event data %s: %w", e.ID, err)
			}
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list events: %w", err)
	}
	if f.Limit > 0 {
		slices.Reverse(out)
	}
	return out, nil
}

// ListEquity returns matching equity points in time order. Venue and
// symbol filters are applied through the bot ID prefix.
func (s *JournalStore) ListEquity(ctx context.Context, f domain.Filter) ([]domain.EquityPoint, error) {
	ef := domain.Filter{BotID: f.BotID, AccountTag: f.AccountTag, Since: f.Since, Until: f.Until, Limit: f.Limit}
	cond, args := where(ef, false)
	if f.Venue != "" || f.Symbol != "" {
		args = append(args, botPattern(f.Venue, f.Symbol))
		if cond == "" {
			cond = " WHERE"
		} else {
			cond += " AND"
		}
		cond += fmt.Sprintf(" bot_id LIKE $%d", len(args))
	}
	query, args := page(`SELECT `+equitySelectCols+` FROM equity_points`+cond, args, f.Limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list equity: %w", err)
	}
	defer rows.Close()

	var out []domain.EquityPoint
	for rows.Next() {
		var p domain.EquityPoint
		if err := rows.Scan(&p.Time, &p.BotID, &p.AccountTag, &p.Equity, &p.Realized, &p.Unrealized); err != nil {
			return nil, fmt.Errorf("postgres: scan equity: %w", err)
		}
		p.Time = p.Time.UTC()
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list equity: %w", err)
	}
	if f.Limit > 0 {
		slices.Reverse(out)
	}
	return out, nil
}

// botPattern is a LIKE pattern over bot IDs for a venue and/or symbol.
// Bot IDs are venue_symbol[_account].
func botPattern(venue, symbol string) string {
	esc := func(v string) string { return strings.ReplaceAll(v, "_", `\_`) }
	switch {
	case venue != "" && symbol != "":
		return esc(domain.BotKey(venue, symbol, "")) + "%"
	case venue != "":
		return esc(venue) + `\_%`
	default:
		return `%\_` + esc(strings.TrimPrefix(domain.BotKey("", symbol, ""), "_")) + "%"
	}
}

// PruneBefore deletes mirrored rows older than cutoff once they have been
// archived. The local JSONL logs are untouched.
func (s *JournalStore) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	var total int64
	for _, table := range []string{"fills", "events", "equity_points"} {
		tag, err := s.pool.Exec(ctx, `DELETE FROM `+table+` WHERE ts < $1`, cutoff)
		if err != nil {
			return total, fmt.Errorf("postgres: prune %s: %w", table, err)
		}
		total += tag.RowsAffected()
	}
	return total, nil
}
