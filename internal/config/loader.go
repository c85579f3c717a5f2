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
// built-in defaults, applies POLYSIGNAL_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known POLYSIGNAL_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Wallet ──
	setStr(&cfg.Wallet.PrivateKey, "POLYSIGNAL_WALLET_PRIVATE_KEY")
	setStr(&cfg.Wallet.FunderAddress, "POLYSIGNAL_WALLET_FUNDER_ADDRESS")
	setStr(&cfg.Wallet.EncryptedKeyPath, "POLYSIGNAL_WALLET_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Wallet.KeyPassword, "POLYSIGNAL_WALLET_KEY_PASSWORD")

	// ── Polymarket ──
	setStr(&cfg.Polymarket.ClobHost, "POLYSIGNAL_POLYMARKET_CLOB_HOST")
	setStr(&cfg.Polymarket.GammaHost, "POLYSIGNAL_POLYMARKET_GAMMA_HOST")
	setStr(&cfg.Polymarket.WsHost, "POLYSIGNAL_POLYMARKET_WS_HOST")
	setInt(&cfg.Polymarket.ChainID, "POLYSIGNAL_POLYMARKET_CHAIN_ID")
	setInt(&cfg.Polymarket.SignatureType, "POLYSIGNAL_POLYMARKET_SIGNATURE_TYPE")
	setStr(&cfg.Polymarket.ApiKey, "POLYSIGNAL_POLYMARKET_API_KEY")
	setStr(&cfg.Polymarket.ApiSecret, "POLYSIGNAL_POLYMARKET_API_SECRET")
	setStr(&cfg.Polymarket.ApiPassphrase, "POLYSIGNAL_POLYMARKET_API_PASSPHRASE")

	// ── Database ──
	setStr(&cfg.Database.DSN, "POLYSIGNAL_DATABASE_DSN")
	setStr(&cfg.Database.DSN, "POLYSIGNAL_DATABASE_URL") // compatibility alias
	setStr(&cfg.Database.Host, "POLYSIGNAL_DATABASE_HOST")
	setInt(&cfg.Database.Port, "POLYSIGNAL_DATABASE_PORT")
	setStr(&cfg.Database.Database, "POLYSIGNAL_DATABASE_DATABASE")
	setStr(&cfg.Database.User, "POLYSIGNAL_DATABASE_USER")
	setStr(&cfg.Database.Password, "POLYSIGNAL_DATABASE_PASSWORD")
	setStr(&cfg.Database.SSLMode, "POLYSIGNAL_DATABASE_SSLMODE")
	setInt(&cfg.Database.PoolMaxConns, "POLYSIGNAL_DATABASE_POOL_MAX_CONNS")
	setInt(&cfg.Database.PoolMinConns, "POLYSIGNAL_DATABASE_POOL_MIN_CONNS")
	setBool(&cfg.Database.RunMigrations, "POLYSIGNAL_DATABASE_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "POLYSIGNAL_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "POLYSIGNAL_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "POLYSIGNAL_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "POLYSIGNAL_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "POLYSIGNAL_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "POLYSIGNAL_REDIS_TLS_ENABLED")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "POLYSIGNAL_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "POLYSIGNAL_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "POLYSIGNAL_S3_REGION")
	setStr(&cfg.S3.Bucket, "POLYSIGNAL_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "POLYSIGNAL_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "POLYSIGNAL_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "POLYSIGNAL_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "POLYSIGNAL_S3_FORCE_PATH_STYLE")

	// ── Risk ──
	setFloat64(&cfg.Risk.MaxPositionSize, "POLYSIGNAL_RISK_MAX_POSITION_SIZE")
	setFloat64(&cfg.Risk.MaxPortfolioRiskPercent, "POLYSIGNAL_RISK_MAX_PORTFOLIO_RISK_PERCENT")
	setFloat64(&cfg.Risk.MaxDailyLoss, "POLYSIGNAL_RISK_MAX_DAILY_LOSS")
	setFloat64(&cfg.Risk.MaxDrawdownPercent, "POLYSIGNAL_RISK_MAX_DRAWDOWN_PERCENT")
	setInt(&cfg.Risk.MaxOpenPositions, "POLYSIGNAL_RISK_MAX_OPEN_POSITIONS")
	setFloat64(&cfg.Risk.InitialCapital, "POLYSIGNAL_RISK_INITIAL_CAPITAL")
	setBool(&cfg.Risk.Enabled, "POLYSIGNAL_RISK_ENABLED")

	// ── Trading ──
	setBool(&cfg.Trading.LiveTrading, "POLYSIGNAL_TRADING_LIVE_TRADING")
	setFloat64(&cfg.Trading.DefaultPositionSize, "POLYSIGNAL_TRADING_DEFAULT_POSITION_SIZE")
	setFloat64(&cfg.Trading.MaxPositionSize, "POLYSIGNAL_TRADING_MAX_POSITION_SIZE")
	setInt(&cfg.Trading.MaxOpenPositions, "POLYSIGNAL_TRADING_MAX_OPEN_POSITIONS")
	setFloat64(&cfg.Trading.MinConfidence, "POLYSIGNAL_TRADING_MIN_CONFIDENCE")

	// ── Bot ──
	setDuration(&cfg.Bot.PositionCheckInterval, "POLYSIGNAL_BOT_POSITION_CHECK_INTERVAL")
	setDuration(&cfg.Bot.OrderMonitorInterval, "POLYSIGNAL_BOT_ORDER_MONITOR_INTERVAL")
	setDuration(&cfg.Bot.SignalPollInterval, "POLYSIGNAL_BOT_SIGNAL_POLL_INTERVAL")
	setDuration(&cfg.Bot.ArchiveInterval, "POLYSIGNAL_BOT_ARCHIVE_INTERVAL")
	setStr(&cfg.Bot.SignalGroup, "POLYSIGNAL_BOT_SIGNAL_GROUP")
	setStr(&cfg.Bot.SignalConsumer, "POLYSIGNAL_BOT_SIGNAL_CONSUMER")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "POLYSIGNAL_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "POLYSIGNAL_SERVER_PORT")
	setStr(&cfg.Server.ApiKey, "POLYSIGNAL_SERVER_API_KEY")
	setStringSlice(&cfg.Server.CORSOrigins, "POLYSIGNAL_SERVER_CORS_ORIGINS")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "POLYSIGNAL_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "POLYSIGNAL_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "POLYSIGNAL_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "POLYSIGNAL_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "POLYSIGNAL_MODE")
	setStr(&cfg.LogLevel, "POLYSIGNAL_LOG_LEVEL")
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
