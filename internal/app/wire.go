package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	s3blob "github.com/jmonteroh/polysignal/internal/blob/s3"
	"github.com/jmonteroh/polysignal/internal/cache/redis"
	"github.com/jmonteroh/polysignal/internal/config"
	"github.com/jmonteroh/polysignal/internal/crypto"
	"github.com/jmonteroh/polysignal/internal/domain"
	"github.com/jmonteroh/polysignal/internal/notify"
	"github.com/jmonteroh/polysignal/internal/platform/polymarket"
	"github.com/jmonteroh/polysignal/internal/store/postgres"
)

// Dependencies bundles every domain-level dependency the application modes
// need to operate. It is constructed by Wire and torn down by the returned
// cleanup function.
type Dependencies struct {
	// Stores
	Positions  domain.PositionStore
	Orders     domain.OrderStore
	Runtimes   domain.StrategyRuntimeStore
	Strategies domain.StrategyStore
	Settings   domain.SettingsStore
	Audit      domain.AuditStore

	// Caches and coordination
	PriceCache  domain.PriceCache
	RateLimiter domain.RateLimiter
	Locks       domain.LockManager
	SignalBus   domain.SignalBus

	// Exchange access. Gateway is nil without signing credentials; every
	// entry then executes in paper mode.
	Prices  domain.PriceFeed
	Gateway domain.OrderGateway
	Feed    *polymarket.MarketFeed

	// Blob storage; nil unless S3 is enabled.
	Blob domain.BlobWriter

	// Notifications
	Notifier *notify.Notifier

	// Health probes keyed by dependency name.
	Pingers map[string]func(ctx context.Context) error
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config) (*Dependencies, func(), error) {
	logger := slog.Default()

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{
		Pingers: make(map[string]func(ctx context.Context) error),
	}

	// --- PostgreSQL ---
	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Database.DSN,
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		Database: cfg.Database.Database,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		SSLMode:  cfg.Database.SSLMode,
		MaxConns: cfg.Database.PoolMaxConns,
		MinConns: cfg.Database.PoolMinConns,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: postgres: %w", err)
	}
	closers = append(closers, pgClient.Close)

	if cfg.Database.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
	}

	pool := pgClient.Pool()
	deps.Positions = postgres.NewPositionStore(pool)
	deps.Orders = postgres.NewOrderStore(pool)
	deps.Runtimes = postgres.NewRuntimeStore(pool)
	deps.Strategies = postgres.NewStrategyStore(pool)
	settingsStore := postgres.NewSettingsStore(pool)
	deps.Settings = settingsStore
	deps.Audit = postgres.NewAuditStore(pool)
	deps.Pingers["postgres"] = pool.Ping

	if err := seedSettings(ctx, settingsStore, cfg, logger); err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: seed settings: %w", err)
	}

	// --- Redis ---
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })

	deps.PriceCache = redis.NewPriceCache(redisClient)
	deps.RateLimiter = redis.NewRateLimiter(redisClient)
	deps.Locks = redis.NewLockManager(redisClient)
	deps.SignalBus = redis.NewSignalBus(redisClient)
	deps.Pingers["redis"] = redisClient.Ping

	// --- Exchange clients ---
	signer := buildSigner(cfg, logger)
	var hmacAuth *crypto.HMACAuth
	if cfg.Polymarket.ApiKey != "" {
		hmacAuth = &crypto.HMACAuth{
			Key:        cfg.Polymarket.ApiKey,
			Secret:     cfg.Polymarket.ApiSecret,
			Passphrase: cfg.Polymarket.ApiPassphrase,
		}
	}
	clob := polymarket.NewClobClient(cfg.Polymarket.ClobHost, signer, hmacAuth)
	deps.Prices = clob
	if clob.CanTradeLive() {
		deps.Gateway = clob
	} else {
		logger.Info("wire: order gateway disabled, all entries execute in paper mode")
	}

	// Streaming prices land in the Redis price cache so the exit engine can
	// read them without hitting the REST API every cycle.
	deps.Feed = polymarket.NewMarketFeed(cfg.Polymarket.WsHost + "/ws/market")
	priceCache := deps.PriceCache
	deps.Feed.OnPriceChange(func(change domain.PriceChange) {
		cctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := priceCache.SetPrice(cctx, change.AssetID, change.Price, change.Timestamp); err != nil {
			logger.Warn("wire: cache price update failed",
				slog.String("asset_id", change.AssetID),
				slog.String("error", err.Error()),
			)
		}
	})
	closers = append(closers, func() { _ = deps.Feed.Close() })

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

		deps.Blob = s3blob.NewWriter(s3Client)
		deps.Pingers["s3"] = s3Client.Health
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
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}

// seedSettings persists the config-derived risk limits and trading settings
// on first start only. First start is detected through the risk state, which
// exists from the first trade onward; after that the settings API owns these
// values and config changes no longer touch them.
func seedSettings(ctx context.Context, settings domain.SettingsStore, cfg *config.Config, logger *slog.Logger) error {
	_, err := settings.RiskState(ctx)
	if err == nil {
		return nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return err
	}

	limits := domain.RiskLimits{
		MaxPositionSize:         cfg.Risk.MaxPositionSize,
		MaxPortfolioRiskPercent: cfg.Risk.MaxPortfolioRiskPercent,
		MaxDailyLoss:            cfg.Risk.MaxDailyLoss,
		MaxDrawdownPercent:      cfg.Risk.MaxDrawdownPercent,
		MaxOpenPositions:        cfg.Risk.MaxOpenPositions,
		Enabled:                 cfg.Risk.Enabled,
	}
	if err := settings.SaveRiskLimits(ctx, limits); err != nil {
		return err
	}

	trading := domain.TradingSettings{
		LiveTrading:         cfg.Trading.LiveTrading,
		DefaultPositionSize: cfg.Trading.DefaultPositionSize,
		MaxPositionSize:     cfg.Trading.MaxPositionSize,
		MaxOpenPositions:    cfg.Trading.MaxOpenPositions,
		MinConfidence:       cfg.Trading.MinConfidence,
	}
	if err := settings.SaveTrading(ctx, trading); err != nil {
		return err
	}

	logger.Info("wire: seeded settings from config",
		slog.Bool("live_trading", trading.LiveTrading),
		slog.Float64("initial_capital", cfg.Risk.InitialCapital),
	)
	return nil
}

// buildSigner resolves the wallet key and constructs the EIP-712 order
// signer. A missing key is not an error: the bot runs paper-only.
func buildSigner(cfg *config.Config, logger *slog.Logger) *crypto.Signer {
	key, err := crypto.LoadKey(crypto.KeyConfig{
		RawPrivateKey:    cfg.Wallet.PrivateKey,
		EncryptedKeyPath: cfg.Wallet.EncryptedKeyPath,
		KeyPassword:      cfg.Wallet.KeyPassword,
	})
	if err != nil {
		logger.Info("wire: no signing key configured", slog.String("reason", err.Error()))
		return nil
	}

	signer, err := crypto.NewSigner(key, cfg.Polymarket.ChainID)
	if err != nil {
		logger.Warn("wire: signer construction failed, live trading unavailable",
			slog.String("error", err.Error()),
		)
		return nil
	}
	return signer
}
