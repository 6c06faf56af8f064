package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	s3blob "github.com/alanyoungcy/quantbot/internal/blob/s3"
	"github.com/alanyoungcy/quantbot/internal/cache/redis"
	"github.com/alanyoungcy/quantbot/internal/config"
	"github.com/alanyoungcy/quantbot/internal/domain"
	"github.com/alanyoungcy/quantbot/internal/notify"
	"github.com/alanyoungcy/quantbot/internal/pipeline"
	"github.com/alanyoungcy/quantbot/internal/server/handler"
	"github.com/alanyoungcy/quantbot/internal/statestore"
	"github.com/alanyoungcy/quantbot/internal/store/postgres"
	"github.com/alanyoungcy/quantbot/internal/store/sqlite"
)

// Dependencies bundles the shared infrastructure a bot or query server
// runs on. Every optional backend is nil when its section is disabled. It
// is constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	// Journal answers read-side queries: Postgres when configured, else
	// SQLite, else the bots' own JSONL logs under the state root.
	Journal domain.JournalReader
	// Mirrors receive a copy of every fill, event and equity point.
	Mirrors []domain.JournalWriter
	// Pruner deletes archived rows; only Postgres supports it.
	Pruner pipeline.Pruner

	// Redis
	Bus         *redis.EventBus
	PriceCache  domain.PriceCache
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager

	// Blob storage
	BlobArchiver *s3blob.Archiver
	BlobReader   domain.BlobReader

	// Notifications
	Notifier *notify.Notifier

	// Checks are the dependency probes served on /health.
	Checks map[string]handler.Check
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{Checks: make(map[string]handler.Check)}

	// --- PostgreSQL journal mirror ---
	if cfg.Postgres.Enabled {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		// Run migrations if enabled.
		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}

		journal := pgClient.Journal()
		deps.Journal = journal
		deps.Mirrors = append(deps.Mirrors, journal)
		deps.Pruner = journal
		deps.Checks["postgres"] = func(ctx context.Context) error { return pgClient.Pool().Ping(ctx) }
	}

	// --- SQLite journal (single host) ---
	if cfg.SQLite.Enabled {
		if err := os.MkdirAll(filepath.Dir(cfg.SQLite.Path), 0o755); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: sqlite dir: %w", err)
		}
		lite, err := sqlite.Open(cfg.SQLite.Path)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: sqlite: %w", err)
		}
		closers = append(closers, func() { _ = lite.Close() })
		deps.Mirrors = append(deps.Mirrors, lite)
		if deps.Journal == nil {
			deps.Journal = lite
		}
	}

	if deps.Journal == nil {
		deps.Journal = statestore.NewFileJournal(cfg.Bot.StateDir)
	}

	// --- Redis ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
			Prefix:     cfg.Redis.Prefix,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.Bus = redis.NewEventBus(redisClient, cfg.Redis.StreamMaxLen, cfg.Redis.StateTTL.Duration)
		deps.PriceCache = redis.NewPriceCache(redisClient, cfg.Redis.PriceTTL.Duration)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.LockManager = redis.NewLockManager(redisClient)
		deps.Checks["redis"] = redisClient.Ping
	}

	// --- S3 blob storage ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		closers = append(closers, func() { _ = s3Client.Close() })

		deps.BlobArchiver = s3blob.NewArchiver(s3blob.NewWriter(s3Client), cfg.S3.Prefix, logger)
		deps.BlobReader = s3blob.NewReader(s3Client)
		deps.Checks["s3"] = s3Client.Health
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	if len(senders) > 0 {
		deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)
		deps.Mirrors = append(deps.Mirrors, deps.Notifier)
	}

	return deps, cleanup, nil
}
