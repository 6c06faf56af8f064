package config

import (
	"fmt"
	"maps"
	"slices"

	"github.com/alanyoungcy/quantbot/internal/crypto"
)

// RedactedConfig returns a copy of cfg with sensitive fields replaced by the
// redaction placeholder "***". Use this when logging or printing the active
// configuration so secrets are never accidentally exposed.
func RedactedConfig(cfg *Config) Config {
	out := *cfg // shallow copy of the top-level struct

	// Binance
	redact(&out.Binance.APIKey)
	redact(&out.Binance.APISecret)
	redact(&out.Binance.SecretPassword)

	// Postgres
	redact(&out.Postgres.DSN)
	redact(&out.Postgres.Password)

	// Redis
	redact(&out.Redis.Password)

	// S3
	redact(&out.S3.AccessKey)
	redact(&out.S3.SecretKey)

	// Server
	redact(&out.Server.APIKey)

	// Notify
	redact(&out.Notify.TelegramToken)
	redact(&out.Notify.DiscordWebhookURL)

	// Copy slices and maps so callers cannot mutate the original through the
	// redacted copy.
	out.Notify.Events = slices.Clone(cfg.Notify.Events)
	out.Server.CORSOrigins = slices.Clone(cfg.Server.CORSOrigins)
	out.Strategy.News.Positive = slices.Clone(cfg.Strategy.News.Positive)
	out.Strategy.News.Negative = slices.Clone(cfg.Strategy.News.Negative)
	out.Strategy.Blender.MAWindows = slices.Clone(cfg.Strategy.Blender.MAWindows)
	out.Cooldown.CategoryBase = maps.Clone(cfg.Cooldown.CategoryBase)

	return out
}

const redacted = "***"

// redact replaces a non-empty string with the redacted placeholder.
func redact(s *string) {
	if *s != "" {
		*s = redacted
	}
}

// VenueAuth resolves the venue API credentials. The secret comes from
// api_secret, or is decrypted from encrypted_secret_path. It returns nil
// when no key is configured.
func (c *Config) VenueAuth() (*crypto.HMACAuth, error) {
	if c.Binance.APIKey == "" {
		return nil, nil
	}
	secret, err := crypto.LoadSecret(crypto.SecretConfig{
		Raw:           c.Binance.APISecret,
		EncryptedPath: c.Binance.EncryptedSecretPath,
		Password:      c.Binance.SecretPassword,
	})
	if err != nil {
		return nil, fmt.Errorf("config: venue secret: %w", err)
	}
	return &crypto.HMACAuth{
		Key:        c.Binance.APIKey,
		Secret:     secret,
		RecvWindow: c.Binance.RecvWindow.Duration,
	}, nil
}
