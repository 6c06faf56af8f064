package domain

import (
	"strings"
	"time"
)

// BotState is everything one bot exposes to dashboards and the global risk
// aggregator. It is replaced wholesale on every persist.
type BotState struct {
	BotID        string          `json:"bot_id"`
	Venue        string          `json:"venue"`
	Symbol       string          `json:"symbol"`
	AccountTag   string          `json:"account_tag"`
	Mode         Mode            `json:"mode"`
	Strategy     string          `json:"strategy"`
	Market       MarketSnapshot  `json:"market"`
	Position     Position        `json:"position"`
	LastSignal   Signal          `json:"last_signal"`
	Flow         FlowStat        `json:"flow"`
	Liquidations LiquidationStat `json:"liquidations"`
	Equity       float64         `json:"equity"`
	Cycle        int64           `json:"cycle"`
	Events       []Event         `json:"events"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// AbsNotional is the bot's absolute exposure at its last mark.
func (s BotState) AbsNotional() float64 {
	return s.Position.AbsNotional(s.Market.MarkPrice())
}

// PushEvent appends e to the bounded tape, keeping the newest max entries.
func (s *BotState) PushEvent(e Event, max int) {
	s.Events = append(s.Events, e)
	if max > 0 && len(s.Events) > max {
		s.Events = append([]Event(nil), s.Events[len(s.Events)-max:]...)
	}
}

// BotKey is the stable identifier of a bot: venue, symbol and, when set,
// the account tag. It is also the snapshot file stem.
func BotKey(venue, symbol, accountTag string) string {
	parts := []string{venue, symbol}
	if accountTag != "" && accountTag != "default" {
		parts = append(parts, accountTag)
	}
	key := strings.Join(parts, "_")
	return strings.NewReplacer("/", "-", "\\", "-", " ", "-").Replace(key)
}
