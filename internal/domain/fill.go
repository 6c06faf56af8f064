package domain

import (
	"fmt"
	"math"
	"time"
)

// Fill is one confirmed execution. It is immutable once appended to the
// fill log; RealizedDelta is set by the ledger when the fill is applied.
type Fill struct {
	ID            string    `json:"id"`
	Time          time.Time `json:"ts"`
	Venue         string    `json:"venue"`
	Symbol        string    `json:"symbol"`
	AccountTag    string    `json:"account_tag"`
	Mode          Mode      `json:"mode"`
	Side          Side      `json:"side"`
	Qty           float64   `json:"qty"`
	Price         float64   `json:"price"`
	Fee           float64   `json:"fee"`
	RealizedDelta float64   `json:"realized_pnl_delta"`
	ClientOrderID string    `json:"client_order_id,omitempty"`
	Reason        string    `json:"reason,omitempty"`
}

// Notional returns qty * price.
func (f Fill) Notional() float64 {
	return f.Qty * f.Price
}

// Validate rejects a fill that must never reach the ledger: zero or
// negative quantity, a non-finite or non-positive price, a negative or
// non-finite fee, or a non-trading side.
func (f Fill) Validate() error {
	if !f.Side.Tradable() {
		return fmt.Errorf("%w: side %q", ErrInvalidFill, f.Side)
	}
	if math.IsNaN(f.Qty) || math.IsInf(f.Qty, 0) || f.Qty <= 0 {
		return fmt.Errorf("%w: qty %v", ErrInvalidFill, f.Qty)
	}
	if math.IsNaN(f.Price) || math.IsInf(f.Price, 0) || f.Price <= 0 {
		return fmt.Errorf("%w: price %v", ErrInvalidFill, f.Price)
	}
	if math.IsNaN(f.Fee) || math.IsInf(f.Fee, 0) || f.Fee < 0 {
		return fmt.Errorf("%w: fee %v", ErrInvalidFill, f.Fee)
	}
	return nil
}
