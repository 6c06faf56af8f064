package domain

import (
	"fmt"
	"time"
)

// Side is the direction of an order, a fill, a trade print or a signal.
// FLAT is only meaningful for signals.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
	SideFlat Side = "FLAT"
)

// Opposite returns the other trading side. FLAT maps to FLAT.
func (s Side) Opposite() Side {
	switch s {
	case SideBuy:
		return SideSell
	case SideSell:
		return SideBuy
	default:
		return SideFlat
	}
}

// Sign returns +1 for BUY, -1 for SELL and 0 otherwise.
func (s Side) Sign() float64 {
	switch s {
	case SideBuy:
		return 1
	case SideSell:
		return -1
	default:
		return 0
	}
}

// Tradable reports whether s is BUY or SELL.
func (s Side) Tradable() bool {
	return s == SideBuy || s == SideSell
}

// ParseSide accepts BUY/SELL/FLAT in any case plus the "buy"/"sell"
// spellings some venues use.
func ParseSide(v string) (Side, error) {
	switch v {
	case "BUY", "buy", "Buy", "BID", "bid":
		return SideBuy, nil
	case "SELL", "sell", "Sell", "ASK", "ask":
		return SideSell, nil
	case "FLAT", "flat", "HOLD", "hold", "":
		return SideFlat, nil
	}
	return SideFlat, fmt.Errorf("domain: unknown side %q", v)
}

// OrderType is the execution style requested from a venue.
type OrderType string

const (
	OrderTypeMarket OrderType = "MARKET"
	OrderTypeLimit  OrderType = "LIMIT"
)

// Mode is how a bot routes its orders.
type Mode string

const (
	ModePaper Mode = "paper"
	ModeLive  Mode = "live"
	ModeDemo  Mode = "demo"
)

// OrderRequest is what the bot hands to an execution engine.
type OrderRequest struct {
	ClientOrderID string
	Venue         string
	Symbol        string
	AccountTag    string
	Side          Side
	Qty           float64
	Type          OrderType
	LimitPrice    float64
	Reason        string
	CreatedAt     time.Time
}

// Quote is the price context an order executes against.
type Quote struct {
	Bid  float64
	Ask  float64
	Last float64
}
