package ledger

import (
	"math"
	"sort"
	"time"

	"github.com/alanyoungcy/quantbot/internal/domain"
)

// Trade is one realized round trip: the closing portion of a fill.
type Trade struct {
	Time       time.Time   `json:"ts"`
	Venue      string      `json:"venue"`
	Symbol     string      `json:"symbol"`
	AccountTag string      `json:"account_tag"`
	Side       domain.Side `json:"side"`
	Qty        float64     `json:"qty"`
	EntryPrice float64     `json:"entry_price"`
	ExitPrice  float64     `json:"exit_price"`
	Net        float64     `json:"net_pnl"`
	FillID     string      `json:"fill_id"`
}

// Summary aggregates realized trades. ProfitFactor is nil when there are no
// losing trades.
type Summary struct {
	Trades       int      `json:"trades"`
	Wins         int      `json:"wins"`
	WinRate      float64  `json:"win_rate"`
	GrossProfit  float64  `json:"gross_profit"`
	GrossLoss    float64  `json:"gross_loss"`
	ProfitFactor *float64 `json:"profit_factor,omitempty"`
	Realized     float64  `json:"realized_pnl"`
	Fees         float64  `json:"fees"`
}

// DayPnL is realized PnL bucketed by calendar day.
type DayPnL struct {
	Day      string  `json:"day"`
	Realized float64 `json:"realized_pnl"`
	Fees     float64 `json:"fees"`
	Fills    int     `json:"fills"`
}

type bookKey struct{ venue, symbol, account string }

// Report replays fills per venue/symbol/account and returns the realized
// trade ledger plus its summary. Invalid fills are skipped so a report
// never fails on a single bad row.
func Report(fills []domain.Fill) ([]Trade, Summary) {
	books := make(map[bookKey]domain.Position)
	var trades []Trade
	var fees float64

	for _, f := range fills {
		k := bookKey{f.Venue, f.Symbol, f.AccountTag}
		before := books[k]
		after, stamped, err := Apply(before, f)
		if err != nil {
			continue
		}
		books[k] = after
		fees += f.Fee

		if before.Qty == 0 || (before.Qty > 0) == (f.Side == domain.SideBuy) {
			continue
		}
		closed := math.Min(f.Qty, math.Abs(before.Qty))
		trades = append(trades, Trade{
			Time:       f.Time,
			Venue:      f.Venue,
			Symbol:     f.Symbol,
			AccountTag: f.AccountTag,
			Side:       before.Side(),
			Qty:        closed,
			EntryPrice: before.AvgCost,
			ExitPrice:  f.Price,
			Net:        stamped.RealizedDelta,
			FillID:     f.ID,
		})
	}

	sum := Summarize(trades)
	sum.Fees = fees
	return trades, sum
}

// Summarize aggregates trades. Fees are left to the caller, who knows
// which fills the trades came from.
func Summarize(trades []Trade) Summary {
	var sum Summary
	for _, t := range trades {
		sum.Trades++
		sum.Realized += t.Net
		switch {
		case t.Net > 0:
			sum.Wins++
			sum.GrossProfit += t.Net
		case t.Net < 0:
			sum.GrossLoss += -t.Net
		}
	}
	if sum.Trades > 0 {
		sum.WinRate = float64(sum.Wins) / float64(sum.Trades)
	}
	if sum.GrossLoss > 0 {
		pf := sum.GrossProfit / sum.GrossLoss
		sum.ProfitFactor = &pf
	}
	return sum
}

// Daily buckets realized PnL by the fill's calendar day in loc. Fills must
// carry RealizedDelta, as they do when read from the fill log.
func Daily(fills []domain.Fill, loc *time.Location) []DayPnL {
	if loc == nil {
		loc = time.UTC
	}
	byDay := make(map[string]*DayPnL)
	for _, f := range fills {
		day := f.Time.In(loc).Format(time.DateOnly)
		d, ok := byDay[day]
		if !ok {
			d = &DayPnL{Day: day}
			byDay[day] = d
		}
		d.Realized += f.RealizedDelta
		d.Fees += f.Fee
		d.Fills++
	}
	out := make([]DayPnL, 0, len(byDay))
	for _, d := range byDay {
		out = append(out, *d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Day < out[j].Day })
	return out
}
