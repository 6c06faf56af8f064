package binance

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/alanyoungcy/quantbot/internal/domain"
)

// formatQty cuts q to the configured precision (never rounding up) and
// trims trailing zeros.
func (c *Client) formatQty(q float64) string {
	s := strconv.FormatFloat(q, 'f', c.cfg.QtyPrecision+2, 64)
	if dot := strings.IndexByte(s, '.'); dot >= 0 && len(s) > dot+1+c.cfg.QtyPrecision {
		s = s[:dot+1+c.cfg.QtyPrecision]
	}
	s = strings.TrimRight(s, "0")
	return strings.TrimSuffix(s, ".")
}

// baseAsset strips the quote asset suffix: BTCUSDT -> BTC.
func (c *Client) baseAsset(symbol string) string {
	return strings.TrimSuffix(NormSymbol(symbol), c.cfg.QuoteAsset)
}

// PlaceOrder submits a market order and returns the executed fill. An
// order the venue accepted but did not execute is an error.
func (c *Client) PlaceOrder(ctx context.Context, req domain.OrderRequest) (domain.Fill, error) {
	if req.Type != "" && req.Type != domain.OrderTypeMarket {
		return domain.Fill{}, fmt.Errorf("binance: place order: unsupported type %s", req.Type)
	}
	qty := c.formatQty(req.Qty)
	if qty == "" || qty == "0" {
		return domain.Fill{}, fmt.Errorf("binance: place order: qty %v below precision", req.Qty)
	}
	params := url.Values{
		"symbol":   {NormSymbol(req.Symbol)},
		"side":     {string(req.Side)},
		"type":     {"MARKET"},
		"quantity": {qty},
	}
	if req.ClientOrderID != "" {
		params.Set("newClientOrderId", req.ClientOrderID)
	}
	if c.cfg.Futures {
		params.Set("newOrderRespType", "RESULT")
	} else {
		params.Set("newOrderRespType", "FULL")
	}

	var resp apiOrder
	if err := c.signed(ctx, http.MethodPost, c.path("/api/v3/order", "/fapi/v1/order"), params, &resp); err != nil {
		return domain.Fill{}, fmt.Errorf("binance: place order: %w", err)
	}

	executed := parseFloat(resp.ExecutedQty)
	price := resp.avgPrice()
	if executed <= 0 || price <= 0 {
		return domain.Fill{}, fmt.Errorf("binance: place order: %s not executed (status %s)", req.ClientOrderID, resp.Status)
	}
	fee, ok := resp.fee(c.baseAsset(req.Symbol), c.cfg.QuoteAsset)
	if !ok {
		fee = executed * price * c.cfg.FeeBps / 10000
	}

	c.logger.InfoContext(ctx, "order filled",
		slog.String("symbol", req.Symbol),
		slog.String("side", string(req.Side)),
		slog.Float64("qty", executed),
		slog.Float64("price", price),
		slog.Int64("order_id", resp.OrderID),
	)
	return domain.Fill{
		ID:            strconv.FormatInt(resp.OrderID, 10),
		Time:          resp.time(),
		Venue:         req.Venue,
		Symbol:        req.Symbol,
		Side:          req.Side,
		Qty:           executed,
		Price:         price,
		Fee:           fee,
		ClientOrderID: req.ClientOrderID,
	}, nil
}

// GetAccount reports quote-asset equity (spot: free + locked; futures:
// total margin balance).
func (c *Client) GetAccount(ctx context.Context) (domain.Account, error) {
	if c.cfg.Futures {
		var resp struct {
			TotalMarginBalance string `json:"totalMarginBalance"`
			AvailableBalance   string `json:"availableBalance"`
			Positions          []struct {
				Symbol      string `json:"symbol"`
				PositionAmt string `json:"positionAmt"`
			} `json:"positions"`
		}
		if err := c.signed(ctx, http.MethodGet, "/fapi/v2/account", nil, &resp); err != nil {
			return domain.Account{}, fmt.Errorf("binance: get account: %w", err)
		}
		acct := domain.Account{
			Equity:    parseFloat(resp.TotalMarginBalance),
			Cash:      parseFloat(resp.AvailableBalance),
			Positions: map[string]float64{},
		}
		for _, p := range resp.Positions {
			if q := parseFloat(p.PositionAmt); q != 0 {
				acct.Positions[p.Symbol] = q
			}
		}
		return acct, nil
	}

	var resp struct {
		Balances []struct {
			Asset  string `json:"asset"`
			Free   string `json:"free"`
			Locked string `json:"locked"`
		} `json:"balances"`
	}
	if err := c.signed(ctx, http.MethodGet, "/api/v3/account", nil, &resp); err != nil {
		return domain.Account{}, fmt.Errorf("binance: get account: %w", err)
	}
	acct := domain.Account{Positions: map[string]float64{}, QuoteOnly: true}
	for _, b := range resp.Balances {
		free, locked := parseFloat(b.Free), parseFloat(b.Locked)
		if b.Asset == c.cfg.QuoteAsset {
			acct.Cash = free
			acct.Equity = free + locked
			continue
		}
		if free+locked != 0 {
			acct.Positions[b.Asset] = free + locked
		}
	}
	return acct, nil
}
