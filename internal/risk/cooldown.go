package risk

import (
	"errors"
	"math"
	"sync"
	"time"

	"github.com/alanyoungcy/quantbot/internal/domain"
)

// Failure categories used to pick a backoff base.
const (
	CategoryReject             = "reject"
	CategoryRateLimit          = "rate_limit"
	CategoryUnauthorized       = "unauthorized"
	CategoryInsufficientMargin = "insufficient_margin"
	CategoryMinNotional        = "min_notional"
)

// Categorized is implemented by adapter errors that know their failure
// category.
type Categorized interface {
	Category() string
}

// Classify maps an order error to a failure category.
func Classify(err error) string {
	var c Categorized
	switch {
	case errors.As(err, &c):
		return c.Category()
	case errors.Is(err, domain.ErrRateLimited):
		return CategoryRateLimit
	case errors.Is(err, domain.ErrUnauthorized):
		return CategoryUnauthorized
	}
	return CategoryReject
}

// CooldownConfig configures entry cooldowns. Durations of zero disable the
// corresponding cooldown.
type CooldownConfig struct {
	AfterExitFill  time.Duration
	AfterEntryFill time.Duration
	RejectBase     time.Duration
	CategoryBase   map[string]time.Duration
	BackoffMult    float64
	Max            time.Duration
	FailWindow     time.Duration
}

// DefaultCooldownConfig returns the stock cooldowns.
func DefaultCooldownConfig() CooldownConfig {
	return CooldownConfig{
		AfterExitFill: 2 * time.Second,
		RejectBase:    10 * time.Second,
		CategoryBase: map[string]time.Duration{
			CategoryRateLimit:          5 * time.Second,
			CategoryUnauthorized:       600 * time.Second,
			CategoryInsufficientMargin: 180 * time.Second,
			CategoryMinNotional:        300 * time.Second,
		},
		BackoffMult: 2,
		Max:         900 * time.Second,
		FailWindow:  180 * time.Second,
	}
}

// CooldownState is the public view of one symbol's cooldown.
type CooldownState struct {
	Until      time.Time `json:"until"`
	FailCount  int       `json:"fail_count"`
	LastFail   time.Time `json:"last_fail"`
	LastReason string    `json:"last_reason"`
}

// Active reports whether entries are blocked at now.
func (s CooldownState) Active(now time.Time) bool { return now.Before(s.Until) }

// Cooldown blocks new entries per symbol after exits and failed orders.
// It never blocks exits.
type Cooldown struct {
	cfg   CooldownConfig
	mu    sync.Mutex
	state map[string]*CooldownState
}

// NewCooldown creates a Cooldown.
func NewCooldown(cfg CooldownConfig) *Cooldown {
	if cfg.BackoffMult < 1 {
		cfg.BackoffMult = 1
	}
	return &Cooldown{cfg: cfg, state: make(map[string]*CooldownState)}
}

func (c *Cooldown) get(symbol string) *CooldownState {
	st, ok := c.state[symbol]
	if !ok {
		st = &CooldownState{}
		c.state[symbol] = st
	}
	return st
}

// Snapshot returns the state for symbol.
func (c *Cooldown) Snapshot(symbol string) CooldownState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return *c.get(symbol)
}

// AllowEntry reports whether a new entry may be placed at now.
func (c *Cooldown) AllowEntry(symbol string, now time.Time) (bool, time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := c.get(symbol)
	if st.Active(now) {
		return false, st.Until.Sub(now)
	}
	return true, 0
}

// Gate turns an entry decision into HOLD while the symbol cools down.
// Exits pass through untouched.
func (c *Cooldown) Gate(d domain.Decision, symbol string, now time.Time) (domain.Decision, bool) {
	if d.Action != domain.ActionOpen && d.Action != domain.ActionIncrease {
		return d, false
	}
	if ok, _ := c.AllowEntry(symbol, now); ok {
		return d, false
	}
	return domain.Decision{Action: domain.ActionHold, Reason: "cooldown", Trigger: domain.EventCooldown}, true
}

// OnExitFilled starts the post-exit cooldown.
func (c *Cooldown) OnExitFilled(symbol string, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.extend(c.get(symbol), now, c.cfg.AfterExitFill, "exit_filled")
}

// OnEntryFilled clears the failure count and starts the post-entry
// cooldown, if any.
func (c *Cooldown) OnEntryFilled(symbol string, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := c.get(symbol)
	st.FailCount = 0
	c.extend(st, now, c.cfg.AfterEntryFill, "entry_filled")
}

// OnEntryFailed applies exponential backoff: base * mult^(n-1), capped,
// where n counts failures within the fail window. It returns the
// cooldown applied.
func (c *Cooldown) OnEntryFailed(symbol string, err error, now time.Time) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := c.get(symbol)
	if st.FailCount > 0 && c.cfg.FailWindow > 0 && now.Sub(st.LastFail) > c.cfg.FailWindow {
		st.FailCount = 0
	}
	st.FailCount++
	st.LastFail = now

	cat := Classify(err)
	base, ok := c.cfg.CategoryBase[cat]
	if !ok {
		base = c.cfg.RejectBase
	}
	d := time.Duration(float64(base) * math.Pow(c.cfg.BackoffMult, float64(st.FailCount-1)))
	if c.cfg.Max > 0 && d > c.cfg.Max {
		d = c.cfg.Max
	}
	c.extend(st, now, d, cat)
	return d
}

func (c *Cooldown) extend(st *CooldownState, now time.Time, d time.Duration, reason string) {
	if d <= 0 {
		return
	}
	if until := now.Add(d); until.After(st.Until) {
		st.Until = until
	}
	st.LastReason = reason
}
