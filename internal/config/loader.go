package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies QUANTBOT_* environment variable overrides, and
// returns the final Config. An empty path loads defaults plus environment.
// The returned Config has NOT been validated; the caller should invoke
// Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known QUANTBOT_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Bot ──
	setStr(&cfg.Bot.Venue, "QUANTBOT_BOT_VENUE")
	setStr(&cfg.Bot.Symbol, "QUANTBOT_BOT_SYMBOL")
	setStr(&cfg.Bot.AccountTag, "QUANTBOT_BOT_ACCOUNT_TAG")
	setStr(&cfg.Bot.Mode, "QUANTBOT_BOT_MODE")
	setBool(&cfg.Bot.TradingEnabled, "QUANTBOT_BOT_TRADING_ENABLED")
	setBool(&cfg.Bot.TradingEnabled, "QUANTBOT_TRADING_ENABLED") // short alias
	setDuration(&cfg.Bot.Interval, "QUANTBOT_BOT_INTERVAL")
	setFloat64(&cfg.Bot.PositionFrac, "QUANTBOT_BOT_POSITION_FRAC")
	setFloat64(&cfg.Bot.OrderNotional, "QUANTBOT_BOT_ORDER_NOTIONAL")
	setFloat64(&cfg.Bot.InitialCash, "QUANTBOT_BOT_INITIAL_CASH")
	setStr(&cfg.Bot.StateDir, "QUANTBOT_BOT_STATE_DIR")
	setDuration(&cfg.Bot.GlobalMaxAge, "QUANTBOT_BOT_GLOBAL_MAX_AGE")

	// ── Risk ──
	setFloat64(&cfg.Risk.StopLossPct, "QUANTBOT_RISK_STOP_LOSS_PCT")
	setFloat64(&cfg.Risk.TrailingStopPct, "QUANTBOT_RISK_TRAILING_STOP_PCT")
	setFloat64(&cfg.Risk.TakeProfitNetPct, "QUANTBOT_RISK_TAKE_PROFIT_NET_PCT")
	setFloat64(&cfg.Risk.MaxPositionFrac, "QUANTBOT_RISK_MAX_POSITION_FRAC")
	setFloat64(&cfg.Risk.MaxAccountFrac, "QUANTBOT_RISK_MAX_ACCOUNT_FRAC")
	setFloat64(&cfg.Risk.MaxGlobalFrac, "QUANTBOT_RISK_MAX_GLOBAL_FRAC")
	setFloat64(&cfg.Risk.MaxNotional, "QUANTBOT_RISK_MAX_NOTIONAL")
	setFloat64(&cfg.Risk.MaxDailyLoss, "QUANTBOT_RISK_MAX_DAILY_LOSS")
	setBool(&cfg.Risk.AllowPyramiding, "QUANTBOT_RISK_ALLOW_PYRAMIDING")

	// ── Strategy ──
	setStr(&cfg.Strategy.Name, "QUANTBOT_STRATEGY_NAME")
	setStringSlice(&cfg.Strategy.News.Positive, "QUANTBOT_STRATEGY_NEWS_POSITIVE")
	setStringSlice(&cfg.Strategy.News.Negative, "QUANTBOT_STRATEGY_NEWS_NEGATIVE")

	// ── Executor ──
	setFloat64(&cfg.Executor.FeeBps, "QUANTBOT_EXECUTOR_FEE_BPS")
	setFloat64(&cfg.Executor.SlippageBps, "QUANTBOT_EXECUTOR_SLIPPAGE_BPS")

	// ── Binance ──
	setStr(&cfg.Binance.BaseURL, "QUANTBOT_BINANCE_BASE_URL")
	setStr(&cfg.Binance.APIKey, "QUANTBOT_BINANCE_API_KEY")
	setStr(&cfg.Binance.APISecret, "QUANTBOT_BINANCE_API_SECRET")
	setStr(&cfg.Binance.EncryptedSecretPath, "QUANTBOT_BINANCE_ENCRYPTED_SECRET_PATH")
	setStr(&cfg.Binance.SecretPassword, "QUANTBOT_BINANCE_SECRET_PASSWORD")
	setInt(&cfg.Binance.QtyPrecision, "QUANTBOT_BINANCE_QTY_PRECISION")

	// ── Feed ──
	setBool(&cfg.Feed.Enabled, "QUANTBOT_FEED_ENABLED")
	setStr(&cfg.Feed.WSURL, "QUANTBOT_FEED_WS_URL")
	setBool(&cfg.Feed.Liquidations, "QUANTBOT_FEED_LIQUIDATIONS")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "QUANTBOT_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "QUANTBOT_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "QUANTBOT_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "QUANTBOT_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "QUANTBOT_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "QUANTBOT_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "QUANTBOT_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "QUANTBOT_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "QUANTBOT_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "QUANTBOT_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "QUANTBOT_POSTGRES_RUN_MIGRATIONS")

	// ── SQLite ──
	setBool(&cfg.SQLite.Enabled, "QUANTBOT_SQLITE_ENABLED")
	setStr(&cfg.SQLite.Path, "QUANTBOT_SQLITE_PATH")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "QUANTBOT_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "QUANTBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "QUANTBOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "QUANTBOT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "QUANTBOT_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "QUANTBOT_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "QUANTBOT_REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.Prefix, "QUANTBOT_REDIS_PREFIX")
	setInt64(&cfg.Redis.StreamMaxLen, "QUANTBOT_REDIS_STREAM_MAX_LEN")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "QUANTBOT_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "QUANTBOT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "QUANTBOT_S3_REGION")
	setStr(&cfg.S3.Bucket, "QUANTBOT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "QUANTBOT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "QUANTBOT_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "QUANTBOT_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "QUANTBOT_S3_FORCE_PATH_STYLE")

	// ── Pipeline ──
	setBool(&cfg.Pipeline.Enabled, "QUANTBOT_PIPELINE_ENABLED")
	setInt(&cfg.Pipeline.ArchiveRetentionDays, "QUANTBOT_PIPELINE_ARCHIVE_RETENTION_DAYS")
	setStr(&cfg.Pipeline.ArchiveCron, "QUANTBOT_PIPELINE_ARCHIVE_CRON")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "QUANTBOT_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "QUANTBOT_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "QUANTBOT_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "QUANTBOT_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "QUANTBOT_SERVER_RATE_LIMIT")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "QUANTBOT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "QUANTBOT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "QUANTBOT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "QUANTBOT_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.LogLevel, "QUANTBOT_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
