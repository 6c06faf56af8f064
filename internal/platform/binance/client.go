// Package binance is the Binance spot / USD-M futures venue adapter: public
// market data over REST and HMAC-signed order placement.
package binance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/alanyoungcy/quantbot/internal/crypto"
	"github.com/alanyoungcy/quantbot/internal/domain"
)

const (
	SpotBaseURL    = "https://api.binance.com"
	FuturesBaseURL = "https://fapi.binance.com"
)

// Config configures a Client.
type Config struct {
	BaseURL string
	Futures bool
	Auth    *crypto.HMACAuth
	Timeout time.Duration

	// QuoteAsset is the balance reported as spot equity.
	QuoteAsset string
	// QtyPrecision is the number of decimals order quantities are cut to.
	QtyPrecision int
	// FeeBps estimates the fee when the venue does not report it in the
	// quote asset.
	FeeBps float64
}

// Client is the REST adapter. It implements domain.VenueAdapter and
// domain.TradeSource.
type Client struct {
	cfg        Config
	baseURL    string
	httpClient *http.Client
	now        func() time.Time
	logger     *slog.Logger
}

// New creates a Client.
func New(cfg Config, logger *slog.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.QuoteAsset == "" {
		cfg.QuoteAsset = "USDT"
	}
	if cfg.QtyPrecision <= 0 {
		cfg.QtyPrecision = 8
	}
	base := cfg.BaseURL
	if base == "" {
		base = SpotBaseURL
		if cfg.Futures {
			base = FuturesBaseURL
		}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		cfg:        cfg,
		baseURL:    strings.TrimRight(base, "/"),
		httpClient: &http.Client{Timeout: cfg.Timeout},
		now:        time.Now,
		logger:     logger.With(slog.String("component", "binance")),
	}
}

// Name returns "binance" or "binance_futures".
func (c *Client) Name() string {
	if c.cfg.Futures {
		return "binance_futures"
	}
	return "binance"
}

// path picks the spot or futures variant of an endpoint.
func (c *Client) path(spot, futures string) string {
	if c.cfg.Futures {
		return futures
	}
	return spot
}

// APIError is a non-2xx response. Code and Msg come from the venue's
// {"code":..,"msg":..} body when present.
type APIError struct {
	Status int
	Code   int
	Msg    string
}

func (e *APIError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("binance: HTTP %d code %d: %s", e.Status, e.Code, e.Msg)
	}
	return fmt.Sprintf("binance: HTTP %d: %s", e.Status, e.Msg)
}

// Category maps the failure onto an entry-cooldown category.
func (e *APIError) Category() string {
	switch {
	case e.Status == http.StatusTooManyRequests || e.Status == http.StatusTeapot:
		return "rate_limit"
	case e.Status == http.StatusUnauthorized || e.Code == -2015 || e.Code == -2014:
		return "unauthorized"
	case e.Code == -2019 || strings.Contains(strings.ToLower(e.Msg), "insufficient"):
		return "insufficient_margin"
	case e.Code == -4164 || strings.Contains(strings.ToUpper(e.Msg), "NOTIONAL"):
		return "min_notional"
	}
	return "reject"
}

// Unwrap lets errors.Is match the domain rate-limit and auth sentinels.
func (e *APIError) Unwrap() error {
	switch e.Category() {
	case "rate_limit":
		return domain.ErrRateLimited
	case "unauthorized":
		return domain.ErrUnauthorized
	}
	return nil
}

func (c *Client) publicGet(ctx context.Context, path string, params url.Values, out any) error {
	u := c.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("binance: create request: %w", err)
	}
	return c.do(req, out)
}

func (c *Client) signed(ctx context.Context, method, path string, params url.Values, out any) error {
	if !c.cfg.Auth.Configured() {
		return fmt.Errorf("binance: %s %s: %w", method, path, domain.ErrUnauthorized)
	}
	u := c.baseURL + path + "?" + c.cfg.Auth.SignedQuery(params, c.now())
	req, err := http.NewRequestWithContext(ctx, method, u, nil)
	if err != nil {
		return fmt.Errorf("binance: create request: %w", err)
	}
	for k, v := range c.cfg.Auth.Headers() {
		req.Header.Set(k, v)
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("binance: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return fmt.Errorf("binance: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode, Msg: strings.TrimSpace(string(body))}
		var payload struct {
			Code int    `json:"code"`
			Msg  string `json:"msg"`
		}
		if json.Unmarshal(body, &payload) == nil && payload.Msg != "" {
			apiErr.Code, apiErr.Msg = payload.Code, payload.Msg
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("binance: decode %s: %w", req.URL.Path, err)
	}
	return nil
}

// NormSymbol strips separators and upper-cases: "btc/usdt" -> "BTCUSDT".
func NormSymbol(s string) string {
	return strings.ToUpper(strings.NewReplacer("-", "", "/", "", "_", "").Replace(s))
}

// IsAPIError reports whether err carries an APIError.
func IsAPIError(err error) (*APIError, bool) {
	var e *APIError
	ok := errors.As(err, &e)
	return e, ok
}

var (
	_ domain.VenueAdapter = (*Client)(nil)
	_ domain.TradeSource  = (*Client)(nil)
)
