// Package risk decides what to do with a signal given the open position
// and exposure limits. Manager is pure: it never calls out and keeps no
// state between evaluations.
package risk

import (
	"errors"
	"fmt"
	"math"

	"github.com/alanyoungcy/quantbot/internal/domain"
)

// Limits are the per-bot risk thresholds. Fractions are of equity; a zero
// value disables its rule.
type Limits struct {
	StopLossPct      float64
	TrailingStopPct  float64
	TakeProfitNetPct float64
	FeeRate          float64
	SlippageRate     float64

	MaxPositionFrac float64
	MaxAccountFrac  float64
	MaxGlobalFrac   float64
	MaxNotional     float64
	MaxDailyLoss    float64

	CloseScore      float64
	ReduceFraction  float64
	AllowPyramiding bool
}

// DefaultLimits returns the stock limits.
func DefaultLimits() Limits {
	return Limits{
		StopLossPct:      0.01,
		TrailingStopPct:  0.005,
		TakeProfitNetPct: 0.0039,
		FeeRate:          0.001,
		SlippageRate:     0.0005,
		MaxPositionFrac:  0.10,
		MaxDailyLoss:     0.03,
		ReduceFraction:   1,
	}
}

// Validate reports every inconsistent threshold.
func (l Limits) Validate() error {
	var errs []error
	check := func(name string, v float64) {
		if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			errs = append(errs, fmt.Errorf("risk: %s must be a non-negative number", name))
		}
	}
	check("stop_loss_pct", l.StopLossPct)
	check("trailing_stop_pct", l.TrailingStopPct)
	check("take_profit_net_pct", l.TakeProfitNetPct)
	check("fee_rate", l.FeeRate)
	check("slippage_rate", l.SlippageRate)
	check("max_position_frac", l.MaxPositionFrac)
	check("max_account_frac", l.MaxAccountFrac)
	check("max_global_frac", l.MaxGlobalFrac)
	check("max_notional", l.MaxNotional)
	check("max_daily_loss", l.MaxDailyLoss)
	if l.ReduceFraction < 0 || l.ReduceFraction > 1 {
		errs = append(errs, errors.New("risk: reduce_fraction must be within [0, 1]"))
	}
	return errors.Join(errs...)
}

// Exposure is an absolute notional against the equity backing it.
type Exposure struct {
	Notional float64
	Equity   float64
}

// Input is one evaluation's worth of context.
type Input struct {
	Position         domain.Position
	Signal           domain.Signal
	Price            float64
	Equity           float64
	DayStartEquity   float64
	Account          Exposure
	Global           Exposure
	IntendedNotional float64
}

// Reasons attached to non-exit decisions.
const (
	ReasonNoSignal          = "no_signal"
	ReasonInvalidSignal     = "invalid_signal"
	ReasonNoPrice           = "no_price"
	ReasonNoEquity          = "no_equity"
	ReasonNoSize            = "no_size"
	ReasonDailyLossStop     = "daily_loss_stop"
	ReasonMaxNotional       = "max_notional"
	ReasonMaxPosition       = "max_position"
	ReasonAccountExposure   = "account_exposure"
	ReasonGlobalExposure    = "global_exposure"
	ReasonAlreadyPositioned = "already_positioned"
	ReasonOpen              = "signal_open"
	ReasonIncrease          = "signal_increase"
	ReasonReversal          = "signal_reversal"
)

// Manager evaluates decisions against fixed limits.
type Manager struct {
	limits Limits
}

// NewManager creates a Manager. A zero ReduceFraction means close fully.
func NewManager(l Limits) *Manager {
	if l.ReduceFraction <= 0 {
		l.ReduceFraction = 1
	}
	return &Manager{limits: l}
}

// Limits returns the configured thresholds.
func (m *Manager) Limits() Limits { return m.limits }

// Evaluate returns the action for this cycle. With an open position the
// exit rules run first, in order: stop-loss, trailing stop, take-profit.
// Any of them closes regardless of the signal.
func (m *Manager) Evaluate(in Input) domain.Decision {
	pos := in.Position
	if !pos.IsFlat() {
		if d, ok := m.checkExit(pos, in.Price); ok {
			return d
		}
	}
	if err := in.Signal.Validate(); err != nil {
		return domain.Decision{Action: domain.ActionReject, Reason: ReasonInvalidSignal, Trigger: domain.EventRiskReject}
	}
	if pos.IsFlat() {
		return m.whenFlat(in)
	}
	return m.withPosition(in)
}

func (m *Manager) whenFlat(in Input) domain.Decision {
	if !in.Signal.Side.Tradable() {
		return domain.Decision{Action: domain.ActionHold, Reason: ReasonNoSignal}
	}
	qty, reason, ok := m.admit(in)
	if !ok {
		return reject(reason)
	}
	return domain.Decision{Action: domain.ActionOpen, Side: in.Signal.Side, Qty: qty, Reason: ReasonOpen}
}

func (m *Manager) withPosition(in Input) domain.Decision {
	pos := in.Position
	sig := in.Signal
	held := pos.Side()
	switch {
	case !sig.Side.Tradable():
		return domain.Decision{Action: domain.ActionHold, Reason: ReasonNoSignal}
	case sig.Side == held.Opposite():
		open := math.Abs(pos.Qty)
		if m.limits.ReduceFraction >= 1 || math.Abs(sig.Score) >= m.limits.CloseScore {
			return domain.Decision{Action: domain.ActionClose, Side: sig.Side, Qty: open, Reason: ReasonReversal}
		}
		return domain.Decision{Action: domain.ActionReduce, Side: sig.Side, Qty: open * m.limits.ReduceFraction, Reason: ReasonReversal}
	case !m.limits.AllowPyramiding:
		return domain.Decision{Action: domain.ActionHold, Reason: ReasonAlreadyPositioned}
	}
	qty, reason, ok := m.admit(in)
	if !ok {
		return reject(reason)
	}
	return domain.Decision{Action: domain.ActionIncrease, Side: sig.Side, Qty: qty, Reason: ReasonIncrease}
}

// admit runs every check that guards new exposure and sizes the order.
func (m *Manager) admit(in Input) (float64, string, bool) {
	l := m.limits
	if in.Price <= 0 || math.IsNaN(in.Price) || math.IsInf(in.Price, 0) {
		return 0, ReasonNoPrice, false
	}
	if l.MaxDailyLoss > 0 && in.DayStartEquity > 0 &&
		(in.Equity-in.DayStartEquity)/in.DayStartEquity <= -l.MaxDailyLoss {
		return 0, ReasonDailyLossStop, false
	}
	added := in.IntendedNotional
	if added <= 0 {
		return 0, ReasonNoSize, false
	}
	if reason, ok := m.checkExposure(in, added); !ok {
		return 0, reason, false
	}
	return added / in.Price, "", true
}

// checkExposure tests the post-trade absolute notional against each limit.
// Missing account figures fall back to this bot's own; missing global
// figures fall back to the account's.
func (m *Manager) checkExposure(in Input, added float64) (string, bool) {
	l := m.limits
	fracs := l.MaxPositionFrac > 0 || l.MaxAccountFrac > 0 || l.MaxGlobalFrac > 0
	if fracs && in.Equity <= 0 {
		return ReasonNoEquity, false
	}

	own := in.Position.AbsNotional(in.Price)
	if l.MaxNotional > 0 && own+added > l.MaxNotional {
		return ReasonMaxNotional, false
	}
	if l.MaxPositionFrac > 0 && (own+added)/in.Equity > l.MaxPositionFrac {
		return ReasonMaxPosition, false
	}

	acct := in.Account
	if acct.Equity <= 0 {
		acct = Exposure{Notional: own, Equity: in.Equity}
	}
	if l.MaxAccountFrac > 0 && exceeds(acct, added, l.MaxAccountFrac) {
		return ReasonAccountExposure, false
	}

	glob := in.Global
	if glob.Equity <= 0 {
		glob = acct
	}
	if l.MaxGlobalFrac > 0 && exceeds(glob, added, l.MaxGlobalFrac) {
		return ReasonGlobalExposure, false
	}
	return "", true
}

func exceeds(e Exposure, added, limit float64) bool {
	f := domain.Fraction(e.Notional+added, e.Equity)
	return f == nil || *f > limit
}

func reject(reason string) domain.Decision {
	return domain.Decision{Action: domain.ActionReject, Reason: reason, Trigger: domain.EventRiskReject}
}
