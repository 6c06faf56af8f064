package domain

import (
	"fmt"
	"math"
	"time"
)

// Signal is a strategy's directional opinion for one cycle. Components
// holds the named contributions that produced Score.
type Signal struct {
	Time       time.Time          `json:"time"`
	Strategy   string             `json:"strategy"`
	Side       Side               `json:"side"`
	Score      float64            `json:"score"`
	Reason     string             `json:"reason,omitempty"`
	Components map[string]float64 `json:"components,omitempty"`
}

// Flat builds a FLAT signal carrying reason.
func Flat(now time.Time, strategy, reason string, components map[string]float64) Signal {
	return Signal{Time: now, Strategy: strategy, Side: SideFlat, Reason: reason, Components: components}
}

// Validate rejects signals with an unknown side or a non-finite score.
func (s Signal) Validate() error {
	switch s.Side {
	case SideBuy, SideSell, SideFlat:
	default:
		return fmt.Errorf("%w: side %q", ErrInvalidSignal, s.Side)
	}
	if math.IsNaN(s.Score) || math.IsInf(s.Score, 0) {
		return fmt.Errorf("%w: score not finite", ErrInvalidSignal)
	}
	return nil
}
