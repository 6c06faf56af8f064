package domain

import (
	"context"
	"time"
)

// OrderBook is the top of a venue's book, bids descending, asks ascending.
type OrderBook struct {
	Bids []PriceLevel
	Asks []PriceLevel
	Time time.Time
}

// BestBid returns the highest bid price, or 0.
func (b OrderBook) BestBid() float64 {
	if len(b.Bids) == 0 {
		return 0
	}
	return b.Bids[0].Price
}

// BestAsk returns the lowest ask price, or 0.
func (b OrderBook) BestAsk() float64 {
	if len(b.Asks) == 0 {
		return 0
	}
	return b.Asks[0].Price
}

// Account is a venue account summary.
type Account struct {
	Equity    float64            `json:"equity"`
	Cash      float64            `json:"cash"`
	Positions map[string]float64 `json:"positions"`
	// QuoteOnly marks spot accounts whose Equity is the quote balance
	// alone; base holdings are listed in Positions unpriced.
	QuoteOnly bool `json:"quote_only,omitempty"`
}

// VenueAdapter is the uniform capability every exchange integration
// provides. Authentication and sessions are the adapter's business.
type VenueAdapter interface {
	Name() string
	GetPrice(ctx context.Context, symbol string) (float64, error)
	GetOrderbook(ctx context.Context, symbol string, depth int) (OrderBook, error)
	GetCandles(ctx context.Context, symbol, interval string, limit int) ([]Candle, error)
	PlaceOrder(ctx context.Context, req OrderRequest) (Fill, error)
	GetAccount(ctx context.Context) (Account, error)
}

// TradeSource is the pull side of the trade tape, used when the push
// stream goes stale.
type TradeSource interface {
	RecentTrades(ctx context.Context, symbol string, limit int) ([]TradePrint, error)
}
