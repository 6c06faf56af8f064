package domain

import (
	"fmt"
	"time"
)

// Candle is one OHLCV bar. OpenTime is the bar's open.
type Candle struct {
	OpenTime time.Time `json:"open_time"`
	Open     float64   `json:"open"`
	High     float64   `json:"high"`
	Low      float64   `json:"low"`
	Close    float64   `json:"close"`
	Volume   float64   `json:"volume"`
}

// TradeValue is volume * close, the quote notional traded in the bar.
func (c Candle) TradeValue() float64 {
	return c.Volume * c.Close
}

// TradePrint is one executed trade from the tape. Side is the aggressor.
type TradePrint struct {
	Time  time.Time `json:"time"`
	Side  Side      `json:"side"`
	Price float64   `json:"price"`
	Qty   float64   `json:"qty"`
}

// Notional returns price * qty.
func (t TradePrint) Notional() float64 {
	return t.Price * t.Qty
}

// MarketSnapshot is the uniform view of one venue/symbol at the start of
// a cycle.
type MarketSnapshot struct {
	Venue     string       `json:"venue"`
	Symbol    string       `json:"symbol"`
	LastPrice float64      `json:"last_price"`
	BestBid   float64      `json:"best_bid"`
	BestAsk   float64      `json:"best_ask"`
	Candles   []Candle     `json:"candles,omitempty"`
	Bids      []PriceLevel `json:"bids,omitempty"`
	Asks      []PriceLevel `json:"asks,omitempty"`
	Tape      []TradePrint `json:"tape,omitempty"`
	FetchedAt time.Time    `json:"fetched_at"`
}

// Validate checks the ordering invariants: candle open times strictly
// increasing, bids descending and asks ascending by price.
func (m MarketSnapshot) Validate() error {
	for i := 1; i < len(m.Candles); i++ {
		if !m.Candles[i].OpenTime.After(m.Candles[i-1].OpenTime) {
			return fmt.Errorf("%w: candle %d not after candle %d", ErrInvalidSnapshot, i, i-1)
		}
	}
	for i := 1; i < len(m.Bids); i++ {
		if m.Bids[i].Price > m.Bids[i-1].Price {
			return fmt.Errorf("%w: bids not descending at level %d", ErrInvalidSnapshot, i)
		}
	}
	for i := 1; i < len(m.Asks); i++ {
		if m.Asks[i].Price < m.Asks[i-1].Price {
			return fmt.Errorf("%w: asks not ascending at level %d", ErrInvalidSnapshot, i)
		}
	}
	return nil
}

// Mid returns the bid/ask midpoint, or the last price when either side is
// missing.
func (m MarketSnapshot) Mid() float64 {
	if m.BestBid > 0 && m.BestAsk > 0 {
		return (m.BestBid + m.BestAsk) / 2
	}
	return m.LastPrice
}

// SpreadBps returns the quoted spread in basis points of the mid. It is 0
// when either side of the book is missing.
func (m MarketSnapshot) SpreadBps() float64 {
	if m.BestBid <= 0 || m.BestAsk <= 0 {
		return 0
	}
	mid := (m.BestBid + m.BestAsk) / 2
	return (m.BestAsk - m.BestBid) / mid * 10_000
}

// MarkPrice is the price used for valuation: last trade, else mid.
func (m MarketSnapshot) MarkPrice() float64 {
	if m.LastPrice > 0 {
		return m.LastPrice
	}
	return m.Mid()
}

// Quote returns the executable price context of the snapshot.
func (m MarketSnapshot) Quote() Quote {
	return Quote{Bid: m.BestBid, Ask: m.BestAsk, Last: m.LastPrice}
}

// LastCandle returns the most recent candle, if any.
func (m MarketSnapshot) LastCandle() (Candle, bool) {
	if len(m.Candles) == 0 {
		return Candle{}, false
	}
	return m.Candles[len(m.Candles)-1], true
}
