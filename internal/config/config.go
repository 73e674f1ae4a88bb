// Package config defines the marketplace daemon configuration and its
// validation.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Config is the root configuration. Fields are populated from a TOML file
// and then optionally overridden by MARKET_* environment variables.
type Config struct {
	Chain       ChainConfig       `toml:"chain"`
	Marketplace MarketplaceConfig `toml:"marketplace"`
	Wallet      WalletConfig      `toml:"wallet"`
	Postgres    PostgresConfig    `toml:"postgres"`
	Redis       RedisConfig       `toml:"redis"`
	S3          S3Config          `toml:"s3"`
	Archive     ArchiveConfig     `toml:"archive"`
	Server      ServerConfig      `toml:"server"`
	Notify      NotifyConfig      `toml:"notify"`
	Mode        string            `toml:"mode"`
	LogLevel    string            `toml:"log_level"`
}

// ChainConfig is the typed-data domain vouchers are signed under.
type ChainConfig struct {
	ChainID int64 `toml:"chain_id"`
	// VerifyingContract defaults to the marketplace address.
	VerifyingContract string `toml:"verifying_contract"`
}

// MarketplaceConfig holds settlement policy and ledger addresses.
type MarketplaceConfig struct {
	// Address is the custody account. When empty it is derived from the
	// wallet key.
	Address         string   `toml:"address"`
	Admin           string   `toml:"admin"`
	FeeBps          int64    `toml:"fee_bps"`
	RoyaltyBps      int64    `toml:"royalty_bps"`
	FeeRecipient    string   `toml:"fee_recipient"`
	AuctionDuration duration `toml:"auction_duration"`
	SettleDelay     duration `toml:"settle_delay"`
	OnceADayWindow  duration `toml:"once_a_day_window"`
	OnceADayScope   string   `toml:"once_a_day_scope"`
	StrikeThreshold int      `toml:"strike_threshold"`

	PaymentToken   string `toml:"payment_token"`
	PaymentSymbol  string `toml:"payment_symbol"`
	SingleLedger   string `toml:"single_ledger"`
	FungibleLedger string `toml:"fungible_ledger"`

	// PaymentDecimals only affects how alerts print amounts.
	PaymentDecimals int `toml:"payment_decimals"`

	// Per-caller limit on mutating calls; zero requests disables it.
	CallerRateLimit    int      `toml:"caller_rate_limit"`
	CallerRateInterval duration `toml:"caller_rate_interval"`
}

// WalletConfig holds the operator key. It signs nothing on the request path
// but fixes the custody address and is the default key for cmd/voucher.
type WalletConfig struct {
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// PostgresConfig holds the projection database parameters.
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

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Enabled      bool     `toml:"enabled"`
	Addr         string   `toml:"addr"`
	Password     string   `toml:"password"`
	DB           int      `toml:"db"`
	PoolSize     int      `toml:"pool_size"`
	MaxRetries   int      `toml:"max_retries"`
	TLSEnabled   bool     `toml:"tls_enabled"`
	KeyPrefix    string   `toml:"key_prefix"`
	StreamMaxLen int64    `toml:"stream_max_len"`
	LeaseTTL     duration `toml:"lease_ttl"`
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
}

// ArchiveConfig controls moving settled history to S3.
type ArchiveConfig struct {
	// Retention is how long settled records stay out of the archive.
	Retention duration `toml:"retention"`
	// Interval runs the archiver periodically in serve mode; zero disables.
	Interval   duration `toml:"interval"`
	PruneAudit bool     `toml:"prune_audit"`
}

// ServerConfig holds the HTTP API settings.
type ServerConfig struct {
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	// APIKey guards the admin routes. Empty disables them.
	APIKey string `toml:"api_key"`
	// AuthWindow bounds the age of a signed request timestamp.
	AuthWindow      duration `toml:"auth_window"`
	RateLimit       int      `toml:"rate_limit"`
	RateInterval    duration `toml:"rate_interval"`
	ShutdownTimeout duration `toml:"shutdown_timeout"`
}

// NotifyConfig holds operator alert channels.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration wraps time.Duration so it can be decoded from a TOML string such
// as "72h" or "30s".
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns the built-in configuration: a local devnet chain id,
// the deployed fee schedule and every optional backend disabled.
func Defaults() Config {
	return Config{
		Chain: ChainConfig{
			ChainID: 31337,
		},
		Marketplace: MarketplaceConfig{
			FeeBps:             500,
			RoyaltyBps:         500,
			AuctionDuration:    duration{72 * time.Hour},
			SettleDelay:        duration{24 * time.Hour},
			OnceADayWindow:     duration{24 * time.Hour},
			OnceADayScope:      "seller",
			StrikeThreshold:    2,
			PaymentToken:       "0x0000000000000000000000000000000000001000",
			PaymentSymbol:      "USD",
			PaymentDecimals:    6,
			SingleLedger:       "0x0000000000000000000000000000000000000721",
			FungibleLedger:     "0x0000000000000000000000000000000000001155",
			CallerRateLimit:    30,
			CallerRateInterval: duration{time.Minute},
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "lazymarket",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:         "localhost:6379",
			PoolSize:     20,
			MaxRetries:   3,
			KeyPrefix:    "lazymarket",
			StreamMaxLen: 10000,
			LeaseTTL:     duration{15 * time.Second},
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "lazymarket-archive",
			ForcePathStyle: true,
		},
		Archive: ArchiveConfig{
			Retention: duration{90 * 24 * time.Hour},
		},
		Server: ServerConfig{
			Port:            8000,
			CORSOrigins:     []string{"http://localhost:3000", "http://localhost:5173"},
			AuthWindow:      duration{5 * time.Minute},
			RateLimit:       120,
			RateInterval:    duration{time.Minute},
			ShutdownTimeout: duration{10 * time.Second},
		},
		Notify: NotifyConfig{
			Events: []string{"listing_sold", "lot_finished", "blacklisted"},
		},
		Mode:     "serve",
		LogLevel: "info",
	}
}

var validModes = map[string]bool{
	"serve":   true,
	"archive": true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validScopes = map[string]bool{
	"seller": true,
	"global": true,
}

// Validate checks every section and reports all problems at once.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: serve, archive)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Chain
	if c.Chain.ChainID <= 0 {
		errs = append(errs, "chain: chain_id must be positive")
	}
	errs = checkAddress(errs, "chain: verifying_contract", c.Chain.VerifyingContract, false)

	// Marketplace
	m := c.Marketplace
	if m.Address == "" && c.Wallet.PrivateKey == "" && c.Wallet.EncryptedKeyPath == "" {
		errs = append(errs, "marketplace: address is required when no wallet key is configured")
	}
	errs = checkAddress(errs, "marketplace: address", m.Address, false)
	errs = checkAddress(errs, "marketplace: admin", m.Admin, false)
	errs = checkAddress(errs, "marketplace: fee_recipient", m.FeeRecipient, m.FeeBps > 0)
	errs = checkAddress(errs, "marketplace: payment_token", m.PaymentToken, true)
	errs = checkAddress(errs, "marketplace: single_ledger", m.SingleLedger, true)
	errs = checkAddress(errs, "marketplace: fungible_ledger", m.FungibleLedger, true)
	if m.FeeBps < 0 || m.RoyaltyBps < 0 || m.FeeBps+m.RoyaltyBps > 10_000 {
		errs = append(errs, fmt.Sprintf("marketplace: fee_bps (%d) and royalty_bps (%d) must be non-negative and sum to at most 10000", m.FeeBps, m.RoyaltyBps))
	}
	if m.AuctionDuration.Duration <= 0 {
		errs = append(errs, "marketplace: auction_duration must be positive")
	}
	if m.SettleDelay.Duration < 0 || m.SettleDelay.Duration >= m.AuctionDuration.Duration {
		errs = append(errs, "marketplace: settle_delay must be non-negative and shorter than auction_duration")
	}
	if m.OnceADayWindow.Duration < 0 {
		errs = append(errs, "marketplace: once_a_day_window must not be negative")
	}
	if !validScopes[strings.ToLower(m.OnceADayScope)] {
		errs = append(errs, fmt.Sprintf("marketplace: unknown once_a_day_scope %q (valid: seller, global)", m.OnceADayScope))
	}
	if m.PaymentDecimals < 0 || m.PaymentDecimals > 36 {
		errs = append(errs, fmt.Sprintf("marketplace: payment_decimals must be 0-36, got %d", m.PaymentDecimals))
	}
	if m.StrikeThreshold < 1 {
		errs = append(errs, "marketplace: strike_threshold must be >= 1")
	}
	if m.CallerRateLimit < 0 || (m.CallerRateLimit > 0 && m.CallerRateInterval.Duration <= 0) {
		errs = append(errs, "marketplace: caller_rate_limit needs a positive caller_rate_interval")
	}

	// Wallet
	if c.Wallet.EncryptedKeyPath != "" && c.Wallet.KeyPassword == "" {
		errs = append(errs, "wallet: key_password is required when encrypted_key_path is set")
	}

	// Postgres
	if c.Postgres.Enabled {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 || c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must be between 0 and pool_max_conns")
		}
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
		if c.Redis.LeaseTTL.Duration < time.Second {
			errs = append(errs, "redis: lease_ttl must be at least 1s")
		}
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty")
		}
	}

	// Archive
	if strings.EqualFold(c.Mode, "archive") || c.Archive.Interval.Duration > 0 {
		if !c.S3.Enabled || !c.Postgres.Enabled {
			errs = append(errs, "archive: requires both s3 and postgres to be enabled")
		}
		if c.Archive.Retention.Duration <= 0 {
			errs = append(errs, "archive: retention must be positive")
		}
	}

	// Server
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
	}
	if c.Server.AuthWindow.Duration <= 0 {
		errs = append(errs, "server: auth_window must be positive")
	}
	if c.Server.RateLimit < 0 || (c.Server.RateLimit > 0 && c.Server.RateInterval.Duration <= 0) {
		errs = append(errs, "server: rate_limit needs a positive rate_interval")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func checkAddress(errs []string, field, value string, required bool) []string {
	switch {
	case value == "":
		if required {
			errs = append(errs, field+" must be set")
		}
	case !common.IsHexAddress(value):
		errs = append(errs, fmt.Sprintf("%s: %q is not a hex address", field, value))
	}
	return errs
}

// Address parses a validated address field; empty yields the zero address.
func Address(s string) common.Address {
	if s == "" {
		return common.Address{}
	}
	return common.HexToAddress(s)
}
