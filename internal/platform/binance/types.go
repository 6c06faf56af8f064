package binance

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/alanyoungcy/quantbot/internal/domain"
)

// apiDepth is the /depth payload. Levels are [price, qty] string pairs.
type apiDepth struct {
	LastUpdateID int64       `json:"lastUpdateId"`
	Bids         [][2]string `json:"bids"`
	Asks         [][2]string `json:"asks"`
}

func (d apiDepth) toDomain(now time.Time) (domain.OrderBook, error) {
	bids, err := levels(d.Bids)
	if err != nil {
		return domain.OrderBook{}, fmt.Errorf("bids: %w", err)
	}
	asks, err := levels(d.Asks)
	if err != nil {
		return domain.OrderBook{}, fmt.Errorf("asks: %w", err)
	}
	return domain.OrderBook{Bids: bids, Asks: asks, Time: now}, nil
}

func levels(raw [][2]string) ([]domain.PriceLevel, error) {
	out := make([]domain.PriceLevel, 0, len(raw))
	for _, l := range raw {
		p, err := strconv.ParseFloat(l[0], 64)
		if err != nil {
			return nil, err
		}
		q, err := strconv.ParseFloat(l[1], 64)
		if err != nil {
			return nil, err
		}
		out = append(out, domain.PriceLevel{Price: p, Size: q})
	}
	return out, nil
}

// apiKline is one kline row: [openTime, open, high, low, close, volume, ...].
type apiKline []json.RawMessage

func (k apiKline) toDomain() (domain.Candle, error) {
	if len(k) < 6 {
		return domain.Candle{}, fmt.Errorf("kline has %d fields", len(k))
	}
	var openMs int64
	if err := json.Unmarshal(k[0], &openMs); err != nil {
		return domain.Candle{}, fmt.Errorf("kline open time: %w", err)
	}
	var f [5]float64
	for i := range f {
		var s string
		if err := json.Unmarshal(k[i+1], &s); err != nil {
			return domain.Candle{}, fmt.Errorf("kline field %d: %w", i+1, err)
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return domain.Candle{}, fmt.Errorf("kline field %d: %w", i+1, err)
		}
		f[i] = v
	}
	return domain.Candle{
		OpenTime: time.UnixMilli(openMs).UTC(),
		Open:     f[0],
		High:     f[1],
		Low:      f[2],
		Close:    f[3],
		Volume:   f[4],
	}, nil
}

// apiTrade is a /trades row. IsBuyerMaker means the aggressor sold.
type apiTrade struct {
	ID           int64  `json:"id"`
	Price        string `json:"price"`
	Qty          string `json:"qty"`
	Time         int64  `json:"time"`
	IsBuyerMaker bool   `json:"isBuyerMaker"`
}

func (t apiTrade) toDomain() (domain.TradePrint, error) {
	p, err := strconv.ParseFloat(t.Price, 64)
	if err != nil {
		return domain.TradePrint{}, err
	}
	q, err := strconv.ParseFloat(t.Qty, 64)
	if err != nil {
		return domain.TradePrint{}, err
	}
	side := domain.SideBuy
	if t.IsBuyerMaker {
		side = domain.SideSell
	}
	return domain.TradePrint{Time: time.UnixMilli(t.Time).UTC(), Side: side, Price: p, Qty: q}, nil
}

// apiOrder covers the spot FULL and futures RESULT order responses.
type apiOrder struct {
	OrderID       int64  `json:"orderId"`
	ClientOrderID string `json:"clientOrderId"`
	Status        string `json:"status"`
	ExecutedQty   string `json:"executedQty"`
	CumQuote      string `json:"cummulativeQuoteQty"`
	CumQuoteFut   string `json:"cumQuote"`
	AvgPrice      string `json:"avgPrice"`
	TransactTime  int64  `json:"transactTime"`
	UpdateTime    int64  `json:"updateTime"`
	Fills         []struct {
		Price           string `json:"price"`
		Qty             string `json:"qty"`
		Commission      string `json:"commission"`
		CommissionAsset string `json:"commissionAsset"`
	} `json:"fills"`
}

func parseFloat(s string) float64 {
	v, _ := strconv.ParseFloat(s, 64)
	return v
}

// avgPrice returns the volume-weighted execution price.
func (o apiOrder) avgPrice() float64 {
	qty := parseFloat(o.ExecutedQty)
	if qty <= 0 {
		return 0
	}
	if p := parseFloat(o.AvgPrice); p > 0 {
		return p
	}
	quote := parseFloat(o.CumQuote)
	if quote == 0 {
		quote = parseFloat(o.CumQuoteFut)
	}
	return quote / qty
}

// fee sums commissions paid in the quote asset or the base asset (valued
// at the fill price). ok is false when some commission was paid in a
// third asset and cannot be valued here.
func (o apiOrder) fee(base, quote string) (float64, bool) {
	if len(o.Fills) == 0 {
		return 0, false
	}
	var total float64
	for _, f := range o.Fills {
		c := parseFloat(f.Commission)
		switch f.CommissionAsset {
		case quote:
			total += c
		case base:
			total += c * parseFloat(f.Price)
		default:
			if c != 0 {
				return 0, false
			}
		}
	}
	return total, true
}

func (o apiOrder) time() time.Time {
	ms := o.TransactTime
	if ms == 0 {
		ms = o.UpdateTime
	}
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
