package domain

// FlowSource records which backing strategy produced a FlowStat.
type FlowSource string

const (
	FlowSourceStream FlowSource = "stream"
	FlowSourceREST   FlowSource = "rest"
)

// FlowStat describes trade-tape activity over a rolling window. It is
// recomputed every cycle from the current window only.
type FlowStat struct {
	WindowSec       float64    `json:"window_sec"`
	TradeCount      int        `json:"trade_count"`
	BuyNotional     float64    `json:"buy_notional"`
	SellNotional    float64    `json:"sell_notional"`
	TotalNotional   float64    `json:"total_notional"`
	NotionalRate    float64    `json:"notional_rate"`
	NotionalAccel   float64    `json:"notional_accel"`
	RateEMA         float64    `json:"rate_ema"`
	RateZ           float64    `json:"rate_z"`
	AccelEMA        float64    `json:"accel_ema"`
	AccelZ          float64    `json:"accel_z"`
	LargeTradeCount int        `json:"large_trade_count"`
	LargeShare      float64    `json:"large_share"`
	Pressure        float64    `json:"pressure"`
	Source          FlowSource `json:"source"`
	StalenessSec    float64    `json:"staleness_sec"`
}

// LiquidationStat summarizes forced orders over a rolling window, with the
// densest price bucket per side.
type LiquidationStat struct {
	WindowSec     float64 `json:"window_sec"`
	BuyNotional   float64 `json:"buy_notional"`
	SellNotional  float64 `json:"sell_notional"`
	TopBuyPrice   float64 `json:"top_buy_price,omitempty"`
	TopSellPrice  float64 `json:"top_sell_price,omitempty"`
	TopBuyBucket  float64 `json:"top_buy_bucket_notional"`
	TopSellBucket float64 `json:"top_sell_bucket_notional"`
}
