// Package sqlite is the single-host journal: the same fill, event and
// equity mirror as the Postgres store, in one local database file.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/alanyoungcy/quantbot/internal/domain"
)

// Journal implements domain.Journal over SQLite.
type Journal struct {
	db *sql.DB
}

var _ domain.Journal = (*Journal)(nil)

// Open opens (creating if needed) the database at path and applies the
// schema.
func Open(path string) (*Journal, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", path, err)
	}
	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: apply schema: %w", err)
	}
	return &Journal{db: db}, nil
}

// Close closes the database.
func (j *Journal) Close() error {
	return j.db.Close()
}

func nanos(t time.Time) int64 { return t.UTC().UnixNano() }

func fromNanos(n int64) time.Time { return time.Unix(0, n).UTC() }

func (j *Journal) RecordFill(ctx context.Context, f domain.Fill) error {
	_, err := j.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO fills
		(id, ts, bot_id, venue, symbol, account_tag, mode, side, qty, price, fee,
		 realized_pnl_delta, client_order_id, reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		f.ID, nanos(f.Time), domain.BotKey(f.Venue, f.Symbol, f.AccountTag), f.Venue, f.Symbol,
		f.AccountTag, string(f.Mode), string(f.Side), f.Qty, f.Price, f.Fee,
		f.RealizedDelta, f.ClientOrderID, f.Reason,
	)
	if err != nil {
		return fmt.Errorf("sqlite: record fill %s: %w", f.ID, err)
	}
	return nil
}

func (j *Journal) RecordEvent(ctx context.Context, e domain.Event) error {
	var fillJSON, dataJSON sql.NullString
	if e.Fill != nil {
		b, err := json.Marshal(e.Fill)
		if err != nil {
			return fmt.Errorf("sqlite: marshal event fill: %w", err)
		}
		fillJSON = sql.NullString{String: string(b), Valid: true}
	}
	if len(e.Data) > 0 {
		b, err := json.Marshal(e.Data)
		if err != nil {
			return fmt.Errorf("sqlite: marshal event data: %w", err)
		}
		dataJSON = sql.NullString{String: string(b), Valid: true}
	}
	_, err := j.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO events
		(id, ts, bot_id, type, venue, symbol, account_tag, reason, fill, data)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, nanos(e.Time), domain.BotKey(e.Venue, e.Symbol, e.AccountTag), string(e.Type),
		e.Venue, e.Symbol, e.AccountTag, e.Reason, fillJSON, dataJSON,
	)
	if err != nil {
		return fmt.Errorf("sqlite: record event %s: %w", e.ID, err)
	}
	return nil
}

// RecordEquity upserts one equity point.
func (j *Journal) RecordEquity(ctx context.Context, p domain.EquityPoint) error {
	_, err := j.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO equity
		(bot_id, ts, account_tag, equity, realized_pnl, unrealized_pnl)
		VALUES (?, ?, ?, ?, ?, ?)`,
		p.BotID, nanos(p.Time), p.AccountTag, p.Equity, p.Realized, p.Unrealized,
	)
	if err != nil {
		return fmt.Errorf("sqlite: record equity %s: %w", p.BotID, err)
	}
	return nil
}

// botPattern is a LIKE pattern (escaped with a backslash) over bot IDs, which are
// venue_symbol[_account].
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

// query renders a filtered SELECT. A limit keeps the newest rows.
// Tables without venue and symbol columns pass byBotID to filter them
// through the bot ID instead.
func query(cols, table string, f domain.Filter, withType, byBotID bool) (string, []any) {
	var (
		conds []string
		args  []any
	)
	eq := func(col, v string) {
		if v != "" {
			conds = append(conds, col+" = ?")
			args = append(args, v)
		}
	}
	eq("bot_id", f.BotID)
	eq("account_tag", f.AccountTag)
	if byBotID {
		if f.Venue != "" || f.Symbol != "" {
			conds = append(conds, `bot_id LIKE ? ESCAPE '\'`)
			args = append(args, botPattern(f.Venue, f.Symbol))
		}
	} else {
		eq("venue", f.Venue)
		eq("symbol", f.Symbol)
	}
	if withType && len(f.Types) > 0 {
		conds = append(conds, "type IN (?"+strings.Repeat(", ?", len(f.Types)-1)+")")
		for _, t := range f.Types {
			args = append(args, string(t))
		}
	}
	if f.Since != nil {
		conds = append(conds, "ts >= ?")
		args = append(args, nanos(*f.Since))
	}
	if f.Until != nil {
		conds = append(conds, "ts < ?")
		args = append(args, nanos(*f.Until))
	}

	q := "SELECT " + cols + " FROM " + table
	if len(conds) > 0 {
		q += " WHERE " + strings.Join(conds, " AND ")
	}
	if f.Limit > 0 {
		q += " ORDER BY ts DESC LIMIT ?"
		args = append(args, f.Limit)
	} else {
		q += " ORDER BY ts ASC"
	}
	return q, args
}

func (j *Journal) ListFills(ctx context.Context, f domain.Filter) ([]domain.Fill, error) {
	q, args := query(`id, ts, venue, symbol, account_tag, mode, side, qty, price, fee,
		realized_pnl_delta, client_order_id, reason`, "fills", f, false, false)
	rows, err := j.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list fills: %w", err)
	}
	defer rows.Close()

	var out []domain.Fill
	for rows.Next() {
		var (
			fl         domain.Fill
			ts         int64
			mode, side string
		)
		if err := rows.Scan(&fl.ID, &ts, &fl.Venue, &fl.Symbol, &fl.AccountTag, &mode, &side,
			&fl.Qty, &fl.Price, &fl.Fee, &fl.RealizedDelta, &fl.ClientOrderID, &fl.Reason); err != nil {
			return nil, fmt.Errorf("sqlite: scan fill: %w", err)
		}
		fl.Time, fl.Mode, fl.Side = fromNanos(ts), domain.Mode(mode), domain.Side(side)
		out = append(out, fl)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: list fills: %w", err)
	}
	if f.Limit > 0 {
		slices.Reverse(out)
	}
	return out, nil
}

func (j *Journal) ListEvents(ctx context.Context, f domain.Filter) ([]domain.Event, error) {
	q, args := query("id, ts, type, venue, symbol, account_tag, reason, fill, data", "events", f, true, false)
	rows, err := j.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list events: %w", err)
	}
	defer rows.Close()

	var out []domain.Event
	for rows.Next() {
		var (
			e                  domain.Event
			ts                 int64
			typ                string
			fillJSON, dataJSON sql.NullString
		)
		if err := rows.Scan(&e.ID, &ts, &typ, &e.Venue, &e.Symbol, &e.AccountTag, &e.Reason,
			&fillJSON, &dataJSON); err != nil {
			return nil, fmt.Errorf("sqlite: scan event: %w", err)
		}
		e.Time, e.Type = fromNanos(ts), domain.EventType(typ)
		if fillJSON.Valid {
			var fl domain.Fill
			if err := json.Unmarshal([]byte(fillJSON.String), &fl); err != nil {
				return nil, fmt.Errorf("sqlite: decode event fill %s: %w", e.ID, err)
			}
			e.Fill = &fl
		}
		if dataJSON.Valid {
			if err := json.Unmarshal([]byte(dataJSON.String), &e.Data); err != nil {
				return nil, fmt.Errorf("sqlite: decode event data %s: %w", e.ID, err)
			}
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: list events: %w", err)
	}
	if f.Limit > 0 {
		slices.Reverse(out)
	}
	return out, nil
}

func (j *Journal) ListEquity(ctx context.Context, f domain.Filter) ([]domain.EquityPoint, error) {
	q, args := query("ts, bot_id, account_tag, equity, realized_pnl, unrealized_pnl", "equity", f, false, true)
	rows, err := j.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list equity: %w", err)
	}
	defer rows.Close()

	var out []domain.EquityPoint
	for rows.Next() {
		var (
			p  domain.EquityPoint
			ts int64
		)
		if err := rows.Scan(&ts, &p.BotID, &p.AccountTag, &p.Equity, &p.Realized, &p.Unrealized); err != nil {
			return nil, fmt.Errorf("sqlite: scan equity: %w", err)
		}
		p.Time = fromNanos(ts)
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: list equity: %w", err)
	}
	if f.Limit > 0 {
		slices.Reverse(out)
	}
	return out, nil
}
