package strategy

import (
	"strings"
	"sync"
	"time"
)

// KeywordScorer scores headline text: +1 per positive keyword found and
// -2 per negative keyword.
type KeywordScorer struct {
	Positive []string
	Negative []string
}

// ParseKeywords splits a comma separated keyword list.
func ParseKeywords(s string) []string {
	var out []string
	for _, k := range strings.Split(s, ",") {
		if k = strings.TrimSpace(k); k != "" {
			out = append(out, k)
		}
	}
	return out
}

// Score returns the score of text and the keywords that hit, prefixed with
// + or -.
func (k KeywordScorer) Score(text string) (float64, []string) {
	t := strings.ToLower(text)
	var score float64
	var hits []string
	for _, w := range k.Positive {
		if w != "" && strings.Contains(t, strings.ToLower(w)) {
			score++
			hits = append(hits, "+"+w)
		}
	}
	for _, w := range k.Negative {
		if w != "" && strings.Contains(t, strings.ToLower(w)) {
			score -= 2
			hits = append(hits, "-"+w)
		}
	}
	return score, hits
}

// NewsBoard keeps recently scored headlines and sums the scores that are
// still within their time-to-live. Writers are the news pollers, the
// reader is the trading cycle.
type NewsBoard struct {
	mu     sync.Mutex
	ttl    time.Duration
	scorer KeywordScorer
	seen   map[string]time.Time
	items  []newsItem
}

type newsItem struct {
	at    time.Time
	score float64
}

// NewNewsBoard creates a board. Headlines older than ttl stop counting.
func NewNewsBoard(scorer KeywordScorer, ttl time.Duration) *NewsBoard {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &NewsBoard{ttl: ttl, scorer: scorer, seen: make(map[string]time.Time)}
}

// Add scores a headline once per id and returns its score.
func (b *NewsBoard) Add(id, text string, at time.Time) float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	if id == "" {
		id = text
	}
	if _, dup := b.seen[id]; dup {
		return 0
	}
	b.seen[id] = at
	s, _ := b.scorer.Score(text)
	if s != 0 {
		b.items = append(b.items, newsItem{at: at, score: s})
	}
	return s
}

// Score sums live headline scores at now and forgets expired ones.
func (b *NewsBoard) Score(now time.Time) float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	cutoff := now.Add(-b.ttl)
	keep := b.items[:0]
	var sum float64
	for _, it := range b.items {
		if it.at.Before(cutoff) {
			continue
		}
		keep = append(keep, it)
		sum += it.score
	}
	b.items = keep
	for id, at := range b.seen {
		if at.Before(cutoff) {
			delete(b.seen, id)
		}
	}
	return sum
}
