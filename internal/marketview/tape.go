// Package marketview assembles the per-cycle market picture: the REST
// snapshot from the venue plus trade-flow statistics from the live tape,
// falling back to REST trades when the stream goes quiet.
package marketview

import (
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/quantbot/internal/domain"
)

// DefaultTapeLen bounds the dashboard tape.
const DefaultTapeLen = 200

// TradeTape is the buffer shared between the stream listener, which is the
// only writer, and the trading cycle and dashboard, which read copies.
type TradeTape struct {
	mu         sync.RWMutex
	prints     []domain.TradePrint
	retain     time.Duration
	maxLen     int
	lastSample time.Time
}

// NewTradeTape keeps prints for retain and at most maxLen of them.
func NewTradeTape(retain time.Duration, maxLen int) *TradeTape {
	if retain <= 0 {
		retain = time.Minute
	}
	if maxLen <= 0 {
		maxLen = 10_000
	}
	return &TradeTape{retain: retain, maxLen: maxLen}
}

// Add records a print received now.
func (t *TradeTape) Add(p domain.TradePrint) {
	t.AddAt(p, time.Now())
}

// AddAt records a print with an explicit receipt time. Prints with a
// non-positive price or qty are ignored.
func (t *TradeTape) AddAt(p domain.TradePrint, received time.Time) {
	if p.Price <= 0 || p.Qty <= 0 || p.Time.IsZero() {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	t.prints = append(t.prints, p)
	if received.After(t.lastSample) {
		t.lastSample = received
	}

	cutoff := p.Time.Add(-t.retain)
	drop := 0
	for drop < len(t.prints) && t.prints[drop].Time.Before(cutoff) {
		drop++
	}
	if over := len(t.prints) - drop - t.maxLen; over > 0 {
		drop += over
	}
	if drop > 0 {
		t.prints = append(t.prints[:0], t.prints[drop:]...)
	}
}

// LastSample returns when the listener last delivered a print.
func (t *TradeTape) LastSample() time.Time {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.lastSample
}

// Len returns the number of retained prints.
func (t *TradeTape) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.prints)
}

// Window returns a copy of the prints in (now-d, now].
func (t *TradeTape) Window(now time.Time, d time.Duration) []domain.TradePrint {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return window(t.prints, now, d)
}

// Recent returns up to limit prints no older than maxAge, newest first.
func (t *TradeTape) Recent(now time.Time, limit int, maxAge time.Duration) []domain.TradePrint {
	if limit <= 0 {
		limit = DefaultTapeLen
	}
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]domain.TradePrint, 0, min(limit, len(t.prints)))
	for i := len(t.prints) - 1; i >= 0 && len(out) < limit; i-- {
		p := t.prints[i]
		if maxAge > 0 && now.Sub(p.Time) > maxAge {
			break
		}
		out = append(out, p)
	}
	return out
}

// window filters prints to (now-d, now] and sorts them by time.
func window(prints []domain.TradePrint, now time.Time, d time.Duration) []domain.TradePrint {
	cutoff := now.Add(-d)
	out := make([]domain.TradePrint, 0, len(prints))
	for _, p := range prints {
		if p.Time.After(cutoff) && !p.Time.After(now) {
			out = append(out, p)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Time.Before(out[j].Time) })
	return out
}
