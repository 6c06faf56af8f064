package domain

import (
	"context"
	"time"
)

// Filter narrows journal queries. Empty fields match everything.
type Filter struct {
	BotID      string
	AccountTag string
	Venue      string
	Symbol     string
	Types      []EventType
	Since      *time.Time
	Until      *time.Time
	Limit      int
}

// Matches reports whether a row with the given attributes passes the
// filter. Time bounds are [Since, Until).
func (f Filter) Matches(account, venue, symbol string, ts time.Time) bool {
	if f.AccountTag != "" && f.AccountTag != account {
		return false
	}
	if f.Venue != "" && f.Venue != venue {
		return false
	}
	if f.Symbol != "" && f.Symbol != symbol {
		return false
	}
	if f.Since != nil && ts.Before(*f.Since) {
		return false
	}
	if f.Until != nil && !ts.Before(*f.Until) {
		return false
	}
	return true
}

// JournalWriter mirrors the durable logs into a queryable store.
type JournalWriter interface {
	RecordFill(ctx context.Context, f Fill) error
	RecordEvent(ctx context.Context, e Event) error
	RecordEquity(ctx context.Context, p EquityPoint) error
}

// JournalReader serves the read-side query surface.
type JournalReader interface {
	ListFills(ctx context.Context, f Filter) ([]Fill, error)
	ListEvents(ctx context.Context, f Filter) ([]Event, error)
	ListEquity(ctx context.Context, f Filter) ([]EquityPoint, error)
}

// Journal is a store that can both record and answer queries.
type Journal interface {
	JournalWriter
	JournalReader
}
