package sqlite

// Schema is applied on open. Timestamps are unix nanoseconds so range
// filters and ordering stay numeric.
const Schema = `
CREATE TABLE IF NOT EXISTS fills (
	id TEXT PRIMARY KEY,
	ts INTEGER NOT NULL,
	bot_id TEXT NOT NULL,
	venue TEXT NOT NULL,
	symbol TEXT NOT NULL,
	account_tag TEXT NOT NULL DEFAULT '',
	mode TEXT NOT NULL,
	side TEXT NOT NULL,
	qty REAL NOT NULL,
	price REAL NOT NULL,
	fee REAL NOT NULL DEFAULT 0,
	realized_pnl_delta REAL NOT NULL DEFAULT 0,
	client_order_id TEXT NOT NULL DEFAULT '',
	reason TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_fills_bot_ts ON fills(bot_id, ts);

CREATE TABLE IF NOT EXISTS events (
	id TEXT PRIMARY KEY,
	ts INTEGER NOT NULL,
	bot_id TEXT NOT NULL,
	type TEXT NOT NULL,
	venue TEXT NOT NULL,
	symbol TEXT NOT NULL,
	account_tag TEXT NOT NULL DEFAULT '',
	reason TEXT NOT NULL DEFAULT '',
	fill TEXT,
	data TEXT
);

CREATE INDEX IF NOT EXISTS idx_events_bot_ts ON events(bot_id, ts);

CREATE TABLE IF NOT EXISTS equity (
	bot_id TEXT NOT NULL,
	ts INTEGER NOT NULL,
	account_tag TEXT NOT NULL DEFAULT '',
	equity REAL NOT NULL,
	realized_pnl REAL NOT NULL,
	unrealized_pnl REAL NOT NULL,
	PRIMARY KEY (bot_id, ts)
);

CREATE INDEX IF NOT EXISTS idx_equity_account_ts ON equity(account_tag, ts);
`
