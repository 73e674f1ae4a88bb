package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/lazymarket/internal/access"
	s3blob "github.com/alanyoungcy/lazymarket/internal/blob/s3"
	"github.com/alanyoungcy/lazymarket/internal/cache/memory"
	"github.com/alanyoungcy/lazymarket/internal/cache/redis"
	"github.com/alanyoungcy/lazymarket/internal/config"
	"github.com/alanyoungcy/lazymarket/internal/crypto"
	"github.com/alanyoungcy/lazymarket/internal/domain"
	"github.com/alanyoungcy/lazymarket/internal/ledger"
	"github.com/alanyoungcy/lazymarket/internal/market"
	"github.com/alanyoungcy/lazymarket/internal/notify"
	"github.com/alanyoungcy/lazymarket/internal/server/handler"
	"github.com/alanyoungcy/lazymarket/internal/server/ws"
	"github.com/alanyoungcy/lazymarket/internal/service"
	"github.com/alanyoungcy/lazymarket/internal/store/postgres"
)

// Dependencies bundles everything the modes need. Backends that are
// disabled in the configuration leave their members nil.
type Dependencies struct {
	// Stores
	ListingStore   domain.ListingStore
	LotStore       domain.LotStore
	BlacklistStore domain.BlacklistStore
	AuditStore     domain.AuditStore

	// Caches
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	SignalBus   domain.SignalBus
	Nonces      domain.NonceCache

	// Blob storage
	BlobWriter domain.BlobWriter
	BlobReader domain.BlobReader
	Archiver   domain.Archiver

	// Notifications
	Notifier *notify.Notifier

	// Marketplace
	Engine   *market.Engine
	Market   *service.MarketService
	Accounts *service.AccountService
	Hub      *ws.Hub

	// Health probes keyed by backend name.
	Health map[string]handler.HealthCheck
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
	fail := func(err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, err
	}

	deps := &Dependencies{Health: make(map[string]handler.HealthCheck)}

	// --- PostgreSQL ---
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
			return fail(fmt.Errorf("wire: postgres: %w", err))
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				return fail(fmt.Errorf("wire: postgres migrations: %w", err))
			}
		}

		pool := pgClient.Pool()
		deps.ListingStore = postgres.NewListingStore(pool)
		deps.LotStore = postgres.NewLotStore(pool)
		deps.BlacklistStore = postgres.NewBlacklistStore(pool)
		deps.AuditStore = postgres.NewAuditStore(pool)
		deps.Health["postgres"] = pgClient.Health
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
			KeyPrefix:  cfg.Redis.KeyPrefix,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: redis: %w", err))
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.LockManager = redis.NewLockManager(redisClient)
		deps.SignalBus = redis.NewSignalBus(redisClient, cfg.Redis.StreamMaxLen)
		deps.Nonces = redis.NewNonceCache(redisClient)
		deps.Health["redis"] = redisClient.Ping
	} else {
		// Signed requests stay single-use within this process.
		nonces, err := memory.NewNonceCache(memory.DefaultNonceCapacity)
		if err != nil {
			return fail(fmt.Errorf("wire: %w", err))
		}
		deps.Nonces = nonces
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
			return fail(fmt.Errorf("wire: s3: %w", err))
		}

		deps.BlobWriter = s3blob.NewWriter(s3Client)
		deps.BlobReader = s3blob.NewReader(s3Client)
		deps.Health["s3"] = s3Client.Health
		// The archiver reads settled history from Postgres.
		if cfg.Postgres.Enabled {
			deps.Archiver = s3blob.NewArchiver(
				deps.BlobWriter,
				deps.BlobReader,
				deps.ListingStore,
				deps.LotStore,
				deps.AuditStore,
				s3blob.ArchiveConfig{PruneAudit: cfg.Archive.PruneAudit},
				logger,
			)
		}
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
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger).WithUnits(notify.Units{
		Symbol:   cfg.Marketplace.PaymentSymbol,
		Decimals: int32(cfg.Marketplace.PaymentDecimals),
	})

	// --- Marketplace ---
	if err := wireMarket(ctx, cfg, deps, logger); err != nil {
		return fail(err)
	}
	return deps, cleanup, nil
}

// wireMarket builds the ledgers, seeds the guard from persisted strikes and
// assembles the engine with its event recorder and services.
func wireMarket(ctx context.Context, cfg *config.Config, deps *Dependencies, logger *slog.Logger) error {
	mc := cfg.Marketplace

	custody, err := custodyAddress(cfg)
	if err != nil {
		return fmt.Errorf("wire: custody address: %w", err)
	}
	admin := config.Address(mc.Admin)
	if admin == (common.Address{}) {
		admin = custody
	}

	policy := market.Policy{
		FeeBps:          mc.FeeBps,
		RoyaltyBps:      mc.RoyaltyBps,
		FeeRecipient:    config.Address(mc.FeeRecipient),
		AuctionDuration: mc.AuctionDuration.Duration,
		SettleDelay:     mc.SettleDelay.Duration,
		OnceADayWindow:  mc.OnceADayWindow.Duration,
		OnceADayScope:   market.Scope(strings.ToLower(mc.OnceADayScope)),
		StrikeThreshold: mc.StrikeThreshold,
	}

	guard := access.NewGuard(policy.StrikeThreshold)
	if deps.BlacklistStore != nil {
		entries, err := deps.BlacklistStore.List(ctx, false)
		if err != nil {
			return fmt.Errorf("wire: load blacklist: %w", err)
		}
		guard.Seed(entries)
		logger.InfoContext(ctx, "blacklist restored", slog.Int("entries", len(entries)))
	}

	nextListing, nextLot, err := resumeIDs(ctx, deps)
	if err != nil {
		return err
	}

	verifying := config.Address(cfg.Chain.VerifyingContract)
	if verifying == (common.Address{}) {
		verifying = custody
	}

	deps.Hub = ws.NewHub(deps.SignalBus, logger, ws.Config{
		Mode:      cfg.Mode,
		StartedAt: time.Now().UTC(),
		Origins:   cfg.Server.CORSOrigins,
	})

	rdeps := service.RecorderDeps{
		Bus:       deps.SignalBus,
		Listings:  deps.ListingStore,
		Lots:      deps.LotStore,
		Blacklist: deps.BlacklistStore,
		Audit:     deps.AuditStore,
		Logger:    logger,
	}
	if deps.Notifier.Enabled() {
		rdeps.Notifier = deps.Notifier
	}
	// Without a bus the hub would hear nothing; feed it in-process.
	if deps.SignalBus == nil {
		rdeps.Local = append(rdeps.Local, deps.Hub)
	}

	engine, err := market.New(market.Deps{
		Address: custody,
		Payment: ledger.NewToken(config.Address(mc.PaymentToken), mc.PaymentSymbol),
		Assets: []domain.AssetLedger{
			ledger.NewSingleAsset(config.Address(mc.SingleLedger), admin, custody),
			ledger.NewMultiAsset(config.Address(mc.FungibleLedger), admin, custody),
		},
		Guard:    guard,
		Verifier: crypto.NewVoucherVerifier(crypto.Domain{ChainID: cfg.Chain.ChainID, VerifyingContract: verifying}),
		Sink:     service.NewEventRecorder(rdeps),
		Logger:   logger,

		NextListing: nextListing,
		NextLot:     nextLot,
	}, policy)
	if err != nil {
		return fmt.Errorf("wire: engine: %w", err)
	}
	deps.Engine = engine

	deps.Market = service.NewMarketService(
		engine,
		service.MarketStores{Listings: deps.ListingStore, Lots: deps.LotStore, Audit: deps.AuditStore},
		deps.RateLimiter,
		service.RateLimit{Requests: mc.CallerRateLimit, Window: mc.CallerRateInterval.Duration},
		logger,
	)
	deps.Accounts = service.NewAccountService(engine, deps.AuditStore, logger)

	logger.InfoContext(ctx, "marketplace ready",
		slog.String("custody", custody.Hex()),
		slog.String("verifying_contract", verifying.Hex()),
		slog.Int64("chain_id", cfg.Chain.ChainID),
		slog.Int("strike_threshold", policy.StrikeThreshold),
	)
	return nil
}

// custodyAddress returns the configured marketplace address, or the
// address of the operator wallet key when none is set.
func custodyAddress(cfg *config.Config) (common.Address, error) {
	if cfg.Marketplace.Address != "" {
		return config.Address(cfg.Marketplace.Address), nil
	}
	key, err := crypto.ResolveKey(crypto.KeySource{
		Raw:      cfg.Wallet.PrivateKey,
		Path:     cfg.Wallet.EncryptedKeyPath,
		Password: cfg.Wallet.KeyPassword,
	})
	if err != nil {
		return common.Address{}, err
	}
	return ethcrypto.PubkeyToAddress(key.PublicKey), nil
}

// resumeIDs continues listing and lot numbering after the highest ids in the
// projections, so a restarted engine never reuses an id a client has seen.
func resumeIDs(ctx context.Context, deps *Dependencies) (nextListing, nextLot uint64, err error) {
	nextListing = 1
	if deps.ListingStore != nil {
		top, ok, err := deps.ListingStore.MaxID(ctx)
		if err != nil {
			return 0, 0, fmt.Errorf("wire: resume listing ids: %w", err)
		}
		if ok {
			nextListing = top + 1
		}
	}
	if deps.LotStore != nil {
		top, ok, err := deps.LotStore.MaxID(ctx)
		if err != nil {
			return 0, 0, fmt.Errorf("wire: resume lot ids: %w", err)
		}
		if ok {
			nextLot = top + 1
		}
	}
	return nextListing, nextLot, nil
}
