// Package config defines the top-level configuration for quantbot and
// provides validation helpers.
package config

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by QUANTBOT_* environment variables.
// One Config describes one bot; a fleet is several processes.
type Config struct {
	Bot        BotConfig        `toml:"bot"`
	Risk       RiskConfig       `toml:"risk"`
	Cooldown   CooldownConfig   `toml:"cooldown"`
	Strategy   StrategyConfig   `toml:"strategy"`
	MarketView MarketViewConfig `toml:"marketview"`
	Executor   ExecutorConfig   `toml:"executor"`
	Binance    BinanceConfig    `toml:"binance"`
	Feed       FeedConfig       `toml:"feed"`
	Postgres   PostgresConfig   `toml:"postgres"`
	SQLite     SQLiteConfig     `toml:"sqlite"`
	Redis      RedisConfig      `toml:"redis"`
	S3         S3Config         `toml:"s3"`
	Pipeline   PipelineConfig   `toml:"pipeline"`
	Server     ServerConfig     `toml:"server"`
	Notify     NotifyConfig     `toml:"notify"`
	LogLevel   string           `toml:"log_level"`
}

// BotConfig identifies the bot and holds its loop and sizing parameters.
type BotConfig struct {
	// Venue selects the adapter: "binance", "binance_futures" or "demo".
	Venue      string `toml:"venue"`
	Symbol     string `toml:"symbol"`
	AccountTag string `toml:"account_tag"`
	// Mode is "paper", "live" or "demo".
	Mode string `toml:"mode"`
	// TradingEnabled must be true for live or demo orders to reach the
	// venue. When false every mode runs on the paper simulator.
	TradingEnabled bool     `toml:"trading_enabled"`
	Interval       duration `toml:"interval"`

	PositionFrac  float64 `toml:"position_frac"`
	OrderNotional float64 `toml:"order_notional"`
	InitialCash   float64 `toml:"initial_cash"`

	StateDir        string   `toml:"state_dir"`
	EventTape       int      `toml:"event_tape"`
	PersistAttempts int      `toml:"persist_attempts"`
	PersistBackoff  duration `toml:"persist_backoff"`
	GlobalMaxAge    duration `toml:"global_max_age"`
	DemoSeed        uint64   `toml:"demo_seed"`
	DemoStartPrice  float64  `toml:"demo_start_price"`
}

// RiskConfig holds exit thresholds and exposure limits. Zero disables a
// limit.
type RiskConfig struct {
	StopLossPct      float64 `toml:"stop_loss_pct"`
	TrailingStopPct  float64 `toml:"trailing_stop_pct"`
	TakeProfitNetPct float64 `toml:"take_profit_net_pct"`
	MaxPositionFrac  float64 `toml:"max_position_frac"`
	MaxAccountFrac   float64 `toml:"max_account_frac"`
	MaxGlobalFrac    float64 `toml:"max_global_frac"`
	MaxNotional      float64 `toml:"max_notional"`
	MaxDailyLoss     float64 `toml:"max_daily_loss"`
	CloseScore       float64 `toml:"close_score"`
	ReduceFraction   float64 `toml:"reduce_fraction"`
	AllowPyramiding  bool    `toml:"allow_pyramiding"`
}

// CooldownConfig holds the entry cooldown and failure backoff.
type CooldownConfig struct {
	AfterExitFill  duration            `toml:"after_exit_fill"`
	AfterEntryFill duration            `toml:"after_entry_fill"`
	RejectBase     duration            `toml:"reject_base"`
	CategoryBase   map[string]duration `toml:"category_base"`
	BackoffMult    float64             `toml:"backoff_mult"`
	Max            duration            `toml:"max"`
	FailWindow     duration            `toml:"fail_window"`
}

// StrategyConfig selects the signal generator.
type StrategyConfig struct {
	// Name is "scalp" or "blender".
	Name    string        `toml:"name"`
	Scalp   ScalpConfig   `toml:"scalp"`
	Blender BlenderConfig `toml:"blender"`
	News    NewsConfig    `toml:"news"`
}

// ScalpConfig parameterizes the scalp generator. A zero limit disables its
// gate.
type ScalpConfig struct {
	RSIPeriod           int      `toml:"rsi_period"`
	VolSMA              int      `toml:"vol_sma"`
	MinTradeValue       float64  `toml:"min_trade_value"`
	MinBookNotional     float64  `toml:"min_book_notional"`
	BookDepth           int      `toml:"book_depth"`
	MaxSpreadBps        float64  `toml:"max_spread_bps"`
	Max1mRangePct       float64  `toml:"max_1m_range_pct"`
	Max1mBodyPct        float64  `toml:"max_1m_body_pct"`
	NewsVolMult         float64  `toml:"news_vol_mult"`
	NewsMovePct         float64  `toml:"news_move_pct"`
	NewsVolSMA          int      `toml:"news_vol_sma"`
	NewsCooldown        duration `toml:"news_cooldown"`
	MinPressureNotional float64  `toml:"min_pressure_notional"`
	PressureThreshold   float64  `toml:"pressure_threshold"`
	MinFlowRate         float64  `toml:"min_flow_rate"`
	MinTradeCount       int      `toml:"min_trade_count"`
	MinLargeShare       float64  `toml:"min_large_share"`

	MinVolSurge           float64 `toml:"min_vol_surge"`
	OBImbalanceThreshold  float64 `toml:"ob_imbalance_threshold"`
	MinOBDelta            float64 `toml:"min_ob_delta"`
	MinFlowAccel          float64 `toml:"min_flow_accel"`
	RSILongTrigger        float64 `toml:"rsi_long_trigger"`
	RSIShortMin           float64 `toml:"rsi_short_min"`
	RSIShortMax           float64 `toml:"rsi_short_max"`
	UseRSICross           bool    `toml:"use_rsi_cross"`
	RequireReversalCandle bool    `toml:"require_reversal_candle"`
}

// BlenderConfig weights the blender components.
type BlenderConfig struct {
	TrendWeight   float64 `toml:"trend_weight"`
	RSIWeight     float64 `toml:"rsi_weight"`
	VolumeWeight  float64 `toml:"volume_weight"`
	NewsWeight    float64 `toml:"news_weight"`
	FibWeight     float64 `toml:"fib_weight"`
	BuyThreshold  float64 `toml:"buy_threshold"`
	SellThreshold float64 `toml:"sell_threshold"`
	RSIPeriod     int     `toml:"rsi_period"`
	MAWindows     []int   `toml:"ma_windows"`
	BandPeriod    int     `toml:"band_period"`
	BandK         float64 `toml:"band_k"`
	NearBandPct   float64 `toml:"near_band_pct"`
	VolSMA        int     `toml:"vol_sma"`
	FibLookback   int     `toml:"fib_lookback"`
}

// NewsConfig holds the keyword scorer fed by POST /api/news.
type NewsConfig struct {
	Positive []string `toml:"positive"`
	Negative []string `toml:"negative"`
	TTL      duration `toml:"ttl"`
}

// MarketViewConfig holds the market view windows. A zero CandleLimit
// fetches enough candles for the configured strategy.
type MarketViewConfig struct {
	CandleInterval       string   `toml:"candle_interval"`
	CandleLimit          int      `toml:"candle_limit"`
	BookDepth            int      `toml:"book_depth"`
	FlowWindow           duration `toml:"flow_window"`
	PressureWindow       duration `toml:"pressure_window"`
	Staleness            duration `toml:"staleness"`
	FallbackTimeout      duration `toml:"fallback_timeout"`
	FallbackLimit        int      `toml:"fallback_limit"`
	LargeTradeMin        float64  `toml:"large_trade_min"`
	TapeLen              int      `toml:"tape_len"`
	LiquidationWindow    duration `toml:"liquidation_window"`
	LiquidationBucketBps float64  `toml:"liquidation_bucket_bps"`
}

// ExecutorConfig holds the simulated cost model, also used by the risk
// manager's net take-profit.
type ExecutorConfig struct {
	FeeBps      float64 `toml:"fee_bps"`
	SlippageBps float64 `toml:"slippage_bps"`
	// DedupTTL is how long a client order id is remembered.
	DedupTTL duration `toml:"dedup_ttl"`
}

// BinanceConfig holds venue REST endpoints and credentials.
type BinanceConfig struct {
	BaseURL             string   `toml:"base_url"`
	APIKey              string   `toml:"api_key"`
	APISecret           string   `toml:"api_secret"`
	EncryptedSecretPath string   `toml:"encrypted_secret_path"`
	SecretPassword      string   `toml:"secret_password"`
	RecvWindow          duration `toml:"recv_window"`
	Timeout             duration `toml:"timeout"`
	QuoteAsset          string   `toml:"quote_asset"`
	QtyPrecision        int      `toml:"qty_precision"`
}

// FeedConfig holds the push trade and liquidation streams.
type FeedConfig struct {
	Enabled      bool     `toml:"enabled"`
	WSURL        string   `toml:"ws_url"`
	Liquidations bool     `toml:"liquidations"`
	BackoffMin   duration `toml:"backoff_min"`
	BackoffMax   duration `toml:"backoff_max"`
}

// PostgresConfig holds PostgreSQL connection parameters for the journal
// mirror.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// SQLiteConfig holds the single-host journal.
type SQLiteConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Enabled       bool     `toml:"enabled"`
	Addr          string   `toml:"addr"`
	Password      string   `toml:"password"`
	DB            int      `toml:"db"`
	PoolSize      int      `toml:"pool_size"`
	MaxRetries    int      `toml:"max_retries"`
	TLSEnabled    bool     `toml:"tls_enabled"`
	Prefix        string   `toml:"prefix"`
	PriceTTL      duration `toml:"price_ttl"`
	StateTTL      duration `toml:"state_ttl"`
	StreamMaxLen  int64    `toml:"stream_max_len"`
	LockBots      bool     `toml:"lock_bots"`
	PublishEvents bool     `toml:"publish_events"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
	Prefix         string `toml:"prefix"`
}

// PipelineConfig holds the archive job.
type PipelineConfig struct {
	Enabled              bool   `toml:"enabled"`
	ArchiveRetentionDays int    `toml:"archive_retention_days"`
	ArchiveCron          string `toml:"archive_cron"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
	// RateLimit is requests per minute per client; 0 disables it. It needs
	// Redis.
	RateLimit int `toml:"rate_limit"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Bot: BotConfig{
			Venue:           "binance",
			Symbol:          "BTCUSDT",
			AccountTag:      "default",
			Mode:            "paper",
			Interval:        duration{5 * time.Second},
			PositionFrac:    0.05,
			InitialCash:     10_000,
			StateDir:        "state",
			EventTape:       200,
			PersistAttempts: 3,
			PersistBackoff:  duration{200 * time.Millisecond},
			GlobalMaxAge:    duration{30 * time.Second},
			DemoSeed:        1,
			DemoStartPrice:  50_000,
		},
		Risk: RiskConfig{
			StopLossPct:      0.01,
			TrailingStopPct:  0.005,
			TakeProfitNetPct: 0.0039,
			MaxPositionFrac:  0.10,
			MaxDailyLoss:     0.03,
			ReduceFraction:   1,
		},
		Cooldown: CooldownConfig{
			AfterExitFill: duration{2 * time.Second},
			RejectBase:    duration{10 * time.Second},
			CategoryBase: map[string]duration{
				"rate_limit":          {5 * time.Second},
				"unauthorized":        {600 * time.Second},
				"insufficient_margin": {180 * time.Second},
				"min_notional":        {300 * time.Second},
			},
			BackoffMult: 2,
			Max:         duration{900 * time.Second},
			FailWindow:  duration{180 * time.Second},
		},
		Strategy: StrategyConfig{
			Name: "scalp",
			Scalp: ScalpConfig{
				RSIPeriod:         14,
				VolSMA:            5,
				BookDepth:         10,
				MaxSpreadBps:      8,
				Max1mRangePct:     0.012,
				Max1mBodyPct:      0.010,
				NewsVolMult:       5.0,
				NewsMovePct:       0.007,
				NewsVolSMA:        20,
				NewsCooldown:      duration{300 * time.Second},
				PressureThreshold: 0.20,
			},
			Blender: BlenderConfig{
				TrendWeight:   1,
				RSIWeight:     1,
				VolumeWeight:  1,
				NewsWeight:    1,
				FibWeight:     1,
				BuyThreshold:  3.0,
				SellThreshold: 2.5,
				RSIPeriod:     14,
				MAWindows:     []int{30, 120, 200, 864},
				BandPeriod:    20,
				BandK:         2,
				NearBandPct:   0.01,
				VolSMA:        5,
				FibLookback:   60,
			},
			News: NewsConfig{
				Positive: []string{"etf approval", "partnership", "upgrade", "adoption"},
				Negative: []string{"hack", "exploit", "ban", "lawsuit", "delisting"},
				TTL:      duration{30 * time.Minute},
			},
		},
		MarketView: MarketViewConfig{
			CandleInterval:       "1m",
			BookDepth:            10,
			FlowWindow:           duration{5 * time.Second},
			PressureWindow:       duration{15 * time.Second},
			Staleness:            duration{30 * time.Second},
			FallbackTimeout:      duration{3 * time.Second},
			FallbackLimit:        500,
			LiquidationWindow:    duration{5 * time.Minute},
			LiquidationBucketBps: 10,
		},
		Executor: ExecutorConfig{
			FeeBps:      10,
			SlippageBps: 5,
			DedupTTL:    duration{2 * time.Minute},
		},
		Binance: BinanceConfig{
			RecvWindow:   duration{5 * time.Second},
			Timeout:      duration{15 * time.Second},
			QuoteAsset:   "USDT",
			QtyPrecision: 8,
		},
		Feed: FeedConfig{
			Enabled:    true,
			BackoffMin: duration{time.Second},
			BackoffMax: duration{60 * time.Second},
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "postgres",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		SQLite: SQLiteConfig{
			Path: "state/journal.db",
		},
		Redis: RedisConfig{
			Addr:          "localhost:6379",
			PoolSize:      20,
			MaxRetries:    3,
			Prefix:        "quantbot",
			PriceTTL:      duration{time.Minute},
			StateTTL:      duration{5 * time.Minute},
			StreamMaxLen:  10_000,
			LockBots:      true,
			PublishEvents: true,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "quantbot-data",
			ForcePathStyle: true,
			Prefix:         "archive",
		},
		Pipeline: PipelineConfig{
			ArchiveRetentionDays: 90,
			ArchiveCron:          "0 3 * * *",
		},
		Server: ServerConfig{
			Enabled:     false,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
		},
		Notify: NotifyConfig{
			Events: []string{"fill", "stop_loss", "trailing_stop", "take_profit", "order_error", "persist_error"},
		},
		LogLevel: "info",
	}
}

var validVenues = map[string]bool{
	"binance":         true,
	"binance_futures": true,
	"demo":            true,
}

var validModes = map[string]bool{
	"paper": true,
	"live":  true,
	"demo":  true,
}

var validStrategies = map[string]bool{
	"scalp":   true,
	"blender": true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

const (
	// MaxCandleLimit is the most klines one venue request returns.
	MaxCandleLimit = 1000
	// DefaultCandleLimit is the floor of the automatic candle window.
	DefaultCandleLimit = 200
)

// MinHistory is the number of candles the configured strategy needs before
// it can signal. Zero windows count as the strategy defaults.
func (s StrategyConfig) MinHistory() int {
	if s.Name == "blender" {
		b := s.Blender
		windows := b.MAWindows
		if len(windows) == 0 {
			windows = []int{30, 120, 200, 864}
		}
		n := max(positiveOr(b.RSIPeriod, 14)+1, positiveOr(b.VolSMA, 5))
		if b.BandPeriod > 1 {
			n = max(n, b.BandPeriod)
		} else {
			n = max(n, 20)
		}
		for _, w := range windows {
			n = max(n, w)
		}
		return n
	}
	return max(positiveOr(s.Scalp.RSIPeriod, 14)+2, positiveOr(s.Scalp.VolSMA, 5))
}

// EffectiveCandleLimit is the candle window the market view fetches: the
// configured limit, or the larger of DefaultCandleLimit and the strategy's
// history.
func (c *Config) EffectiveCandleLimit() int {
	if c.MarketView.CandleLimit > 0 {
		return c.MarketView.CandleLimit
	}
	return max(DefaultCandleLimit, c.Strategy.MinHistory())
}

func positiveOr(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}

// Validate checks Config for obviously invalid or missing values and returns
// every problem found joined into one error.
func (c *Config) Validate() error {
	var errs []error
	fail := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		fail("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel)
	}

	// Bot
	if !validVenues[c.Bot.Venue] {
		fail("bot: unknown venue %q (valid: binance, binance_futures, demo)", c.Bot.Venue)
	}
	if strings.TrimSpace(c.Bot.Symbol) == "" {
		fail("bot: symbol must not be empty")
	}
	if !validModes[c.Bot.Mode] {
		fail("bot: unknown mode %q (valid: paper, live, demo)", c.Bot.Mode)
	}
	if c.Bot.Interval.Duration <= 0 {
		fail("bot: interval must be > 0")
	}
	if c.Bot.StateDir == "" {
		fail("bot: state_dir must not be empty")
	}
	if c.Bot.PositionFrac < 0 || c.Bot.PositionFrac > 1 {
		fail("bot: position_frac must be within [0, 1], got %g", c.Bot.PositionFrac)
	}
	if c.Bot.OrderNotional < 0 {
		fail("bot: order_notional must be >= 0")
	}
	if c.Bot.PositionFrac == 0 && c.Bot.OrderNotional == 0 {
		fail("bot: one of position_frac or order_notional must be set")
	}
	if c.Bot.InitialCash < 0 {
		fail("bot: initial_cash must be >= 0")
	}
	if c.Bot.PersistAttempts < 1 {
		fail("bot: persist_attempts must be >= 1")
	}

	// Live trading needs credentials for a real venue.
	if c.Bot.TradingEnabled && c.Bot.Mode != "paper" && c.Bot.Venue != "demo" {
		if c.Binance.APIKey == "" {
			fail("binance: api_key is required when trading is enabled")
		}
		if c.Binance.APISecret == "" && c.Binance.EncryptedSecretPath == "" {
			fail("binance: either api_secret or encrypted_secret_path must be set when trading is enabled")
		}
	}
	if c.Binance.EncryptedSecretPath != "" && c.Binance.SecretPassword == "" {
		fail("binance: secret_password is required when encrypted_secret_path is set")
	}
	if c.Binance.QtyPrecision < 0 || c.Binance.QtyPrecision > 16 {
		fail("binance: qty_precision must be 0-16, got %d", c.Binance.QtyPrecision)
	}

	// Risk
	for name, v := range map[string]float64{
		"stop_loss_pct":       c.Risk.StopLossPct,
		"trailing_stop_pct":   c.Risk.TrailingStopPct,
		"take_profit_net_pct": c.Risk.TakeProfitNetPct,
		"max_position_frac":   c.Risk.MaxPositionFrac,
		"max_account_frac":    c.Risk.MaxAccountFrac,
		"max_global_frac":     c.Risk.MaxGlobalFrac,
		"max_notional":        c.Risk.MaxNotional,
		"max_daily_loss":      c.Risk.MaxDailyLoss,
		"close_score":         c.Risk.CloseScore,
	} {
		if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			fail("risk: %s must be a non-negative number", name)
		}
	}
	if c.Risk.ReduceFraction <= 0 || c.Risk.ReduceFraction > 1 {
		fail("risk: reduce_fraction must be within (0, 1], got %g", c.Risk.ReduceFraction)
	}
	if c.Cooldown.BackoffMult < 1 {
		fail("cooldown: backoff_mult must be >= 1")
	}

	// Strategy
	if !validStrategies[c.Strategy.Name] {
		fail("strategy: unknown name %q (valid: scalp, blender)", c.Strategy.Name)
	}
	if c.Strategy.Name == "blender" && c.Strategy.Blender.BuyThreshold <= 0 {
		fail("strategy: blender.buy_threshold must be > 0")
	}
	for _, w := range c.Strategy.Blender.MAWindows {
		if w <= 0 {
			fail("strategy: blender.ma_windows entries must be > 0, got %d", w)
			break
		}
	}
	need := c.Strategy.MinHistory()
	switch lim := c.MarketView.CandleLimit; {
	case need > MaxCandleLimit:
		fail("strategy: %s needs %d candles, more than the venue limit of %d", c.Strategy.Name, need, MaxCandleLimit)
	case lim < 0 || lim > MaxCandleLimit:
		fail("market_view: candle_limit must be within [0, %d], got %d", MaxCandleLimit, lim)
	case lim > 0 && lim < need:
		fail("market_view: candle_limit %d is below the %d candles strategy %s needs", lim, need, c.Strategy.Name)
	}
	if s := c.Strategy.Scalp; s.RSIShortMax > 0 && s.RSIShortMin > s.RSIShortMax {
		fail("strategy: scalp.rsi_short_min must be <= rsi_short_max")
	}

	// Executor
	if c.Executor.FeeBps < 0 || c.Executor.SlippageBps < 0 {
		fail("executor: fee_bps and slippage_bps must be >= 0")
	}
	if c.Executor.DedupTTL.Duration < 0 {
		fail("executor: dedup_ttl must be >= 0")
	}

	// Postgres
	if c.Postgres.Enabled {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				fail("postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				fail("postgres: port must be 1-65535, got %d", c.Postgres.Port)
			}
			if c.Postgres.Database == "" {
				fail("postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			fail("postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 || c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			fail("postgres: pool_min_conns must be within [0, pool_max_conns]")
		}
	}

	if c.SQLite.Enabled && c.SQLite.Path == "" {
		fail("sqlite: path must not be empty")
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			fail("redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			fail("redis: pool_size must be >= 1")
		}
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Bucket == "" {
			fail("s3: bucket must not be empty")
		}
	}
	if c.Pipeline.Enabled && !c.S3.Enabled {
		fail("pipeline: archiving needs s3.enabled")
	}
	if c.Pipeline.ArchiveRetentionDays < 0 {
		fail("pipeline: archive_retention_days must be >= 0")
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			fail("server: port must be 1-65535, got %d", c.Server.Port)
		}
		if c.Server.RateLimit > 0 && !c.Redis.Enabled {
			fail("server: rate_limit needs redis.enabled")
		}
	}
	if c.Server.RateLimit < 0 {
		fail("server: rate_limit must be >= 0")
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config validation failed:\n%w", err)
	}
	return nil
}
