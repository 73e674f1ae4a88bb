package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const custody = "0x000000000000000000000000000000000000beef"

func validConfig() Config {
	cfg := Defaults()
	cfg.Marketplace.Address = custody
	cfg.Marketplace.FeeRecipient = "0x000000000000000000000000000000000000fee0"
	return cfg
}

func TestDefaultsNeedOnlyAddresses(t *testing.T) {
	cfg := validConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestValidateCollectsProblems(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"mode", func(c *Config) { c.Mode = "trade" }, `unknown mode "trade"`},
		{"log level", func(c *Config) { c.LogLevel = "loud" }, "unknown log_level"},
		{"no custody", func(c *Config) { c.Marketplace.Address = "" }, "address is required"},
		{"bad address", func(c *Config) { c.Marketplace.Admin = "0xnope" }, "not a hex address"},
		{"fee recipient", func(c *Config) { c.Marketplace.FeeRecipient = "" }, "fee_recipient must be set"},
		{"bps", func(c *Config) { c.Marketplace.FeeBps = 9000; c.Marketplace.RoyaltyBps = 2000 }, "sum to at most 10000"},
		{"settle delay", func(c *Config) { c.Marketplace.SettleDelay.Duration = 100 * time.Hour }, "settle_delay"},
		{"payment decimals", func(c *Config) { c.Marketplace.PaymentDecimals = 40 }, "payment_decimals"},
		{"scope", func(c *Config) { c.Marketplace.OnceADayScope = "planet" }, "once_a_day_scope"},
		{"threshold", func(c *Config) { c.Marketplace.StrikeThreshold = 0 }, "strike_threshold"},
		{"key password", func(c *Config) { c.Wallet.EncryptedKeyPath = "/k.json" }, "key_password"},
		{"postgres", func(c *Config) { c.Postgres.Enabled = true; c.Postgres.Host = "" }, "postgres: host"},
		{"archive", func(c *Config) { c.Mode = "archive" }, "archive: requires both"},
		{"port", func(c *Config) { c.Server.Port = 70000 }, "server: port"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("Validate() = %v, want mention of %q", err, tt.want)
			}
		})
	}
}

func TestWalletKeyReplacesAddress(t *testing.T) {
	cfg := validConfig()
	cfg.Marketplace.Address = ""
	cfg.Wallet.PrivateKey = "0x01"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "marketd.toml")
	body := `
mode = "serve"

[marketplace]
address = "` + custody + `"
fee_bps = 250
auction_duration = "48h"

[server]
port = 9000
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("MARKET_SERVER_PORT", "9100")
	t.Setenv("MARKET_NOTIFY_EVENTS", "lot_finished, ,blacklisted")
	t.Setenv("MARKET_SETTLE_DELAY", "not-a-duration")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Marketplace.FeeBps != 250 || cfg.Marketplace.RoyaltyBps != 500 {
		t.Fatalf("bps = %d/%d, want 250/500", cfg.Marketplace.FeeBps, cfg.Marketplace.RoyaltyBps)
	}
	if cfg.Marketplace.AuctionDuration.Duration != 48*time.Hour {
		t.Fatalf("auction_duration = %s", cfg.Marketplace.AuctionDuration)
	}
	if cfg.Marketplace.SettleDelay.Duration != 24*time.Hour {
		t.Fatalf("unparseable override applied: %s", cfg.Marketplace.SettleDelay)
	}
	if cfg.Server.Port != 9100 {
		t.Fatalf("port = %d, want env override 9100", cfg.Server.Port)
	}
	if got := strings.Join(cfg.Notify.Events, ","); got != "lot_finished,blacklisted" {
		t.Fatalf("events = %q", got)
	}
}

func TestRedactedConfig(t *testing.T) {
	cfg := validConfig()
	cfg.Wallet.PrivateKey = "0xsecret"
	cfg.Server.APIKey = "admin-key"
	cfg.S3.SecretKey = "s3"

	out := RedactedConfig(&cfg)
	if out.Wallet.PrivateKey != redacted || out.Server.APIKey != redacted || out.S3.SecretKey != redacted {
		t.Fatalf("secrets leaked: %+v", out)
	}
	if out.Redis.Password != "" {
		t.Fatal("empty secret replaced")
	}
	if cfg.Wallet.PrivateKey != "0xsecret" {
		t.Fatal("original mutated")
	}
	out.Notify.Events[0] = "changed"
	if cfg.Notify.Events[0] == "changed" {
		t.Fatal("events slice shared with original")
	}
}
