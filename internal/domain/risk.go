package domain

import "time"

// Action is what the risk manager decides to do this cycle.
type Action string

const (
	ActionOpen     Action = "OPEN"
	ActionIncrease Action = "INCREASE"
	ActionReduce   Action = "REDUCE"
	ActionClose    Action = "CLOSE"
	ActionHold     Action = "HOLD"
	ActionReject   Action = "REJECT"
)

// Trades reports whether the action results in an order.
func (a Action) Trades() bool {
	switch a {
	case ActionOpen, ActionIncrease, ActionReduce, ActionClose:
		return true
	}
	return false
}

// Decision is the risk manager's verdict. Side and Qty describe the order
// to place when the action trades; Trigger names the exit rule that fired.
type Decision struct {
	Action  Action    `json:"action"`
	Side    Side      `json:"side,omitempty"`
	Qty     float64   `json:"qty,omitempty"`
	Reason  string    `json:"reason"`
	Trigger EventType `json:"trigger,omitempty"`
}

// AccountRiskRow is the exposure of one account tag. ExposureFrac is nil
// when equity is zero.
type AccountRiskRow struct {
	AccountTag   string    `json:"account_tag"`
	Equity       float64   `json:"equity"`
	AbsNotional  float64   `json:"abs_notional"`
	ExposureFrac *float64  `json:"exposure_frac,omitempty"`
	Bots         int       `json:"bots"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// GlobalRisk is the aggregate exposure across all fresh bot snapshots.
type GlobalRisk struct {
	Accounts   []AccountRiskRow `json:"accounts"`
	Total      AccountRiskRow   `json:"total"`
	MaxAge     time.Duration    `json:"max_age"`
	ComputedAt time.Time        `json:"computed_at"`
}

// Account returns the row for tag, or a zero row tagged tag.
func (g GlobalRisk) Account(tag string) AccountRiskRow {
	for _, r := range g.Accounts {
		if r.AccountTag == tag {
			return r
		}
	}
	return AccountRiskRow{AccountTag: tag}
}

// Fraction returns notional/equity, or nil when equity is not positive.
func Fraction(notional, equity float64) *float64 {
	if equity <= 0 {
		return nil
	}
	f := notional / equity
	return &f
}
