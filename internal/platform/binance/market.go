package binance

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"

	"github.com/alanyoungcy/quantbot/internal/domain"
)

// depthLimits are the book sizes the venue accepts.
var depthLimits = []int{5, 10, 20, 50, 100, 500, 1000}

// depthLimit rounds n up to the nearest accepted depth.
func depthLimit(n int) int {
	for _, l := range depthLimits {
		if n <= l {
			return l
		}
	}
	return depthLimits[len(depthLimits)-1]
}

// GetPrice returns the last traded price.
func (c *Client) GetPrice(ctx context.Context, symbol string) (float64, error) {
	var resp struct {
		Symbol string `json:"symbol"`
		Price  string `json:"price"`
	}
	params := url.Values{"symbol": {NormSymbol(symbol)}}
	if err := c.publicGet(ctx, c.path("/api/v3/ticker/price", "/fapi/v1/ticker/price"), params, &resp); err != nil {
		return 0, fmt.Errorf("binance: get price: %w", err)
	}
	p, err := strconv.ParseFloat(resp.Price, 64)
	if err != nil {
		return 0, fmt.Errorf("binance: get price: parse %q: %w", resp.Price, err)
	}
	return p, nil
}

// GetOrderbook returns the top depth levels per side, bids descending and
// asks ascending as the venue sends them.
func (c *Client) GetOrderbook(ctx context.Context, symbol string, depth int) (domain.OrderBook, error) {
	var resp apiDepth
	params := url.Values{
		"symbol": {NormSymbol(symbol)},
		"limit":  {strconv.Itoa(depthLimit(depth))},
	}
	if err := c.publicGet(ctx, c.path("/api/v3/depth", "/fapi/v1/depth"), params, &resp); err != nil {
		return domain.OrderBook{}, fmt.Errorf("binance: get orderbook: %w", err)
	}
	book, err := resp.toDomain(c.now().UTC())
	if err != nil {
		return domain.OrderBook{}, fmt.Errorf("binance: get orderbook: %w", err)
	}
	if depth > 0 {
		book.Bids = book.Bids[:min(depth, len(book.Bids))]
		book.Asks = book.Asks[:min(depth, len(book.Asks))]
	}
	return book, nil
}

// GetCandles returns up to limit klines, oldest first.
func (c *Client) GetCandles(ctx context.Context, symbol, interval string, limit int) ([]domain.Candle, error) {
	if interval == "" {
		interval = "1m"
	}
	params := url.Values{
		"symbol":   {NormSymbol(symbol)},
		"interval": {interval},
	}
	if limit > 0 {
		params.Set("limit", strconv.Itoa(min(limit, 1000)))
	}
	var rows []apiKline
	if err := c.publicGet(ctx, c.path("/api/v3/klines", "/fapi/v1/klines"), params, &rows); err != nil {
		return nil, fmt.Errorf("binance: get candles: %w", err)
	}
	out := make([]domain.Candle, 0, len(rows))
	for i, r := range rows {
		cd, err := r.toDomain()
		if err != nil {
			return nil, fmt.Errorf("binance: get candles: row %d: %w", i, err)
		}
		out = append(out, cd)
	}
	return out, nil
}

// RecentTrades returns up to limit recent public trades, oldest first.
func (c *Client) RecentTrades(ctx context.Context, symbol string, limit int) ([]domain.TradePrint, error) {
	params := url.Values{"symbol": {NormSymbol(symbol)}}
	if limit > 0 {
		params.Set("limit", strconv.Itoa(min(limit, 1000)))
	}
	var rows []apiTrade
	if err := c.publicGet(ctx, c.path("/api/v3/trades", "/fapi/v1/trades"), params, &rows); err != nil {
		return nil, fmt.Errorf("binance: recent trades: %w", err)
	}
	out := make([]domain.TradePrint, 0, len(rows))
	for _, r := range rows {
		tp, err := r.toDomain()
		if err != nil {
			c.logger.Debug("skipping malformed trade", slog.Int64("id", r.ID), slog.String("error", err.Error()))
			continue
		}
		out = append(out, tp)
	}
	return out, nil
}
