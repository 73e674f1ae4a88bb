package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads the TOML file at path over the built-in defaults and applies
// MARKET_* environment overrides. A missing file is not an error when path
// is empty. The result is not validated.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides overwrites fields whose MARKET_* variable is set, so
// secrets can be injected at deploy time without touching the file.
func applyEnvOverrides(cfg *Config) {
	// ── Chain ──
	setInt64(&cfg.Chain.ChainID, "MARKET_CHAIN_ID")
	setStr(&cfg.Chain.VerifyingContract, "MARKET_CHAIN_VERIFYING_CONTRACT")

	// ── Marketplace ──
	setStr(&cfg.Marketplace.Address, "MARKET_ADDRESS")
	setStr(&cfg.Marketplace.Admin, "MARKET_ADMIN")
	setInt64(&cfg.Marketplace.FeeBps, "MARKET_FEE_BPS")
	setInt64(&cfg.Marketplace.RoyaltyBps, "MARKET_ROYALTY_BPS")
	setStr(&cfg.Marketplace.FeeRecipient, "MARKET_FEE_RECIPIENT")
	setDuration(&cfg.Marketplace.AuctionDuration, "MARKET_AUCTION_DURATION")
	setDuration(&cfg.Marketplace.SettleDelay, "MARKET_SETTLE_DELAY")
	setDuration(&cfg.Marketplace.OnceADayWindow, "MARKET_ONCE_A_DAY_WINDOW")
	setStr(&cfg.Marketplace.OnceADayScope, "MARKET_ONCE_A_DAY_SCOPE")
	setInt(&cfg.Marketplace.StrikeThreshold, "MARKET_STRIKE_THRESHOLD")
	setInt(&cfg.Marketplace.PaymentDecimals, "MARKET_PAYMENT_DECIMALS")
	setInt(&cfg.Marketplace.CallerRateLimit, "MARKET_CALLER_RATE_LIMIT")

	// ── Wallet ──
	setStr(&cfg.Wallet.PrivateKey, "MARKET_WALLET_PRIVATE_KEY")
	setStr(&cfg.Wallet.EncryptedKeyPath, "MARKET_WALLET_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Wallet.KeyPassword, "MARKET_WALLET_KEY_PASSWORD")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "MARKET_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "MARKET_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // platform alias
	setStr(&cfg.Postgres.Host, "MARKET_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "MARKET_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "MARKET_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "MARKET_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "MARKET_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "MARKET_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "MARKET_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "MARKET_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "MARKET_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "MARKET_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "MARKET_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "MARKET_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "MARKET_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "MARKET_REDIS_POOL_SIZE")
	setBool(&cfg.Redis.TLSEnabled, "MARKET_REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.KeyPrefix, "MARKET_REDIS_KEY_PREFIX")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "MARKET_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "MARKET_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "MARKET_S3_REGION")
	setStr(&cfg.S3.Bucket, "MARKET_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "MARKET_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "MARKET_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "MARKET_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "MARKET_S3_FORCE_PATH_STYLE")

	// ── Archive ──
	setDuration(&cfg.Archive.Retention, "MARKET_ARCHIVE_RETENTION")
	setDuration(&cfg.Archive.Interval, "MARKET_ARCHIVE_INTERVAL")
	setBool(&cfg.Archive.PruneAudit, "MARKET_ARCHIVE_PRUNE_AUDIT")

	// ── Server ──
	setInt(&cfg.Server.Port, "MARKET_SERVER_PORT")
	setInt(&cfg.Server.Port, "PORT") // platform alias
	setStringSlice(&cfg.Server.CORSOrigins, "MARKET_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "MARKET_SERVER_API_KEY")
	setDuration(&cfg.Server.AuthWindow, "MARKET_SERVER_AUTH_WINDOW")
	setInt(&cfg.Server.RateLimit, "MARKET_SERVER_RATE_LIMIT")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "MARKET_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "MARKET_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "MARKET_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "MARKET_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "MARKET_MODE")
	setStr(&cfg.LogLevel, "MARKET_LOG_LEVEL")
}

// Typed env-var helpers. Each only mutates the target when the variable is
// present, non-empty and parses.

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
