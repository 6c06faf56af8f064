package feed

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/quantbot/internal/domain"
	"github.com/alanyoungcy/quantbot/internal/marketview"
)

const (
	SpotStreamURL    = "wss://stream.binance.com:9443"
	FuturesStreamURL = "wss://fstream.binance.com"
)

// TradeSink receives decoded prints. *marketview.TradeTape satisfies it.
type TradeSink interface {
	Add(p domain.TradePrint)
}

// LiquidationSink receives forced orders. *marketview.LiquidationBook
// satisfies it.
type LiquidationSink interface {
	Add(l marketview.Liquidation)
}

var (
	_ TradeSink       = (*marketview.TradeTape)(nil)
	_ LiquidationSink = (*marketview.LiquidationBook)(nil)
)

// TradeStreamURL builds the raw trade stream endpoint. A single symbol
// uses /ws/<sym>@trade, several use the combined /stream endpoint.
func TradeStreamURL(base string, futures bool, symbols ...string) string {
	if base == "" {
		base = SpotStreamURL
		if futures {
			base = FuturesStreamURL
		}
	}
	base = strings.TrimRight(base, "/")
	names := make([]string, len(symbols))
	for i, s := range symbols {
		names[i] = wsSymbol(s) + "@trade"
	}
	if len(names) == 1 {
		return base + "/ws/" + names[0]
	}
	return base + "/stream?streams=" + strings.Join(names, "/")
}

// LiquidationStreamURL is the all-market forced order stream.
func LiquidationStreamURL(base string) string {
	if base == "" {
		base = FuturesStreamURL
	}
	return strings.TrimRight(base, "/") + "/ws/!forceOrder@arr"
}

func wsSymbol(s string) string {
	return strings.ToLower(strings.NewReplacer("-", "", "/", "", "_", "").Replace(s))
}

// wsTrade is a raw trade frame. M is true when the buyer was the maker,
// i.e. the aggressor sold.
type wsTrade struct {
	Event  string `json:"e"`
	Symbol string `json:"s"`
	Price  string `json:"p"`
	Qty    string `json:"q"`
	Time   int64  `json:"T"`
	Maker  bool   `json:"m"`
}

// unwrap strips the combined-stream envelope {"stream":..,"data":..}.
func unwrap(raw []byte) json.RawMessage {
	var env struct {
		Stream string          `json:"stream"`
		Data   json.RawMessage `json:"data"`
	}
	if json.Unmarshal(raw, &env) == nil && env.Stream != "" && len(env.Data) > 0 {
		return env.Data
	}
	return raw
}

// ParseTrade decodes one trade frame.
func ParseTrade(raw []byte) (symbol string, p domain.TradePrint, err error) {
	var t wsTrade
	if err := json.Unmarshal(unwrap(raw), &t); err != nil {
		return "", p, fmt.Errorf("feed: decode trade: %w", err)
	}
	price, err := strconv.ParseFloat(t.Price, 64)
	if err != nil {
		return "", p, fmt.Errorf("feed: trade price %q: %w", t.Price, err)
	}
	qty, err := strconv.ParseFloat(t.Qty, 64)
	if err != nil {
		return "", p, fmt.Errorf("feed: trade qty %q: %w", t.Qty, err)
	}
	if t.Symbol == "" || price <= 0 || qty <= 0 {
		return "", p, fmt.Errorf("feed: incomplete trade frame")
	}
	side := domain.SideBuy
	if t.Maker {
		side = domain.SideSell
	}
	return strings.ToUpper(t.Symbol), domain.TradePrint{
		Time:  time.UnixMilli(t.Time).UTC(),
		Side:  side,
		Price: price,
		Qty:   qty,
	}, nil
}

// wsForceOrder is one forceOrder event; O holds the order.
type wsForceOrder struct {
	Event string `json:"e"`
	Time  int64  `json:"E"`
	Order struct {
		Symbol string `json:"s"`
		Side   string `json:"S"`
		Price  string `json:"p"`
		Avg    string `json:"ap"`
		Qty    string `json:"q"`
	} `json:"o"`
}

// ParseLiquidations decodes a forceOrder frame, which may be a single
// event, an array or a {"data":[...]} wrapper.
func ParseLiquidations(raw []byte) (map[string][]marketview.Liquidation, error) {
	raw = unwrap(raw)
	var events []wsForceOrder
	trimmed := strings.TrimSpace(string(raw))
	switch {
	case strings.HasPrefix(trimmed, "["):
		if err := json.Unmarshal(raw, &events); err != nil {
			return nil, fmt.Errorf("feed: decode liquidations: %w", err)
		}
	default:
		var wrapped struct {
			Data []wsForceOrder `json:"data"`
		}
		if json.Unmarshal(raw, &wrapped) == nil && len(wrapped.Data) > 0 {
			events = wrapped.Data
			break
		}
		var one wsForceOrder
		if err := json.Unmarshal(raw, &one); err != nil {
			return nil, fmt.Errorf("feed: decode liquidation: %w", err)
		}
		events = []wsForceOrder{one}
	}

	out := make(map[string][]marketview.Liquidation)
	for _, ev := range events {
		if ev.Event != "forceOrder" || ev.Order.Symbol == "" {
			continue
		}
		side, err := domain.ParseSide(ev.Order.Side)
		if err != nil || !side.Tradable() {
			continue
		}
		price, _ := strconv.ParseFloat(ev.Order.Avg, 64)
		if price <= 0 {
			price, _ = strconv.ParseFloat(ev.Order.Price, 64)
		}
		qty, _ := strconv.ParseFloat(ev.Order.Qty, 64)
		if price <= 0 || qty <= 0 {
			continue
		}
		sym := strings.ToUpper(ev.Order.Symbol)
		out[sym] = append(out[sym], marketview.Liquidation{
			Time:  time.UnixMilli(ev.Time).UTC(),
			Side:  side,
			Price: price,
			Qty:   qty,
		})
	}
	return out, nil
}

// NewTradeStream routes trades for each symbol into its sink.
func NewTradeStream(url string, sinks map[string]TradeSink, logger *slog.Logger) *Stream {
	norm := make(map[string]TradeSink, len(sinks))
	for sym, sink := range sinks {
		norm[strings.ToUpper(wsSymbol(sym))] = sink
	}
	return NewStream("trades", url, func(raw []byte) error {
		sym, p, err := ParseTrade(raw)
		if err != nil {
			return err
		}
		if sink, ok := norm[sym]; ok {
			sink.Add(p)
		}
		return nil
	}, logger)
}

// NewLiquidationStream filters the all-market forced order stream down to
// the symbols in sinks.
func NewLiquidationStream(url string, sinks map[string]LiquidationSink, logger *slog.Logger) *Stream {
	norm := make(map[string]LiquidationSink, len(sinks))
	for sym, sink := range sinks {
		norm[strings.ToUpper(wsSymbol(sym))] = sink
	}
	return NewStream("liquidations", url, func(raw []byte) error {
		bySym, err := ParseLiquidations(raw)
		if err != nil {
			return err
		}
		for sym, ls := range bySym {
			sink, ok := norm[sym]
			if !ok {
				continue
			}
			for _, l := range ls {
				sink.Add(l)
			}
		}
		return nil
	}, logger)
}
