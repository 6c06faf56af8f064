package domain

import "time"

// EventType classifies an entry in the event log.
type EventType string

const (
	EventSignal        EventType = "signal"
	EventEntry         EventType = "entry"
	EventFill          EventType = "fill"
	EventStopLoss      EventType = "stop_loss"
	EventTrailingStop  EventType = "trailing_stop"
	EventTakeProfit    EventType = "take_profit"
	EventRiskReject    EventType = "risk_reject"
	EventOrderError    EventType = "order_error"
	EventStaleFallback EventType = "stale_fallback"
	EventCooldown      EventType = "cooldown"
	EventPersistError  EventType = "persist_error"
	EventStartup       EventType = "startup"
	EventShutdown      EventType = "shutdown"
)

// Event is an auditable occurrence: every fill plus the non-trade
// decisions around it.
type Event struct {
	ID         string         `json:"id"`
	Time       time.Time      `json:"ts"`
	Type       EventType      `json:"type"`
	Venue      string         `json:"venue"`
	Symbol     string         `json:"symbol"`
	AccountTag string         `json:"account_tag"`
	Reason     string         `json:"reason,omitempty"`
	Fill       *Fill          `json:"fill,omitempty"`
	Data       map[string]any `json:"data,omitempty"`
}

// EquityPoint is one row of the equity snapshot log.
type EquityPoint struct {
	Time       time.Time `json:"ts"`
	BotID      string    `json:"bot_id"`
	AccountTag string    `json:"account_tag"`
	Equity     float64   `json:"equity"`
	Realized   float64   `json:"realized_pnl"`
	Unrealized float64   `json:"unrealized_pnl"`
}
