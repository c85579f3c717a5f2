// Package config defines the top-level configuration for the trading bot and
// provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by POLYSIGNAL_* environment variables.
type Config struct {
	Wallet     WalletConfig     `toml:"wallet"`
	Polymarket PolymarketConfig `toml:"polymarket"`
	Database   DatabaseConfig   `toml:"database"`
	Redis      RedisConfig      `toml:"redis"`
	S3         S3Config         `toml:"s3"`
	Risk       RiskConfig       `toml:"risk"`
	Trading    TradingConfig    `toml:"trading"`
	Bot        BotConfig        `toml:"bot"`
	Server     ServerConfig     `toml:"server"`
	Notify     NotifyConfig     `toml:"notify"`
	Mode       string           `toml:"mode"`
	LogLevel   string           `toml:"log_level"`
}

// WalletConfig holds Ethereum wallet credentials used for CLOB order signing.
type WalletConfig struct {
	PrivateKey       string `toml:"private_key"`
	FunderAddress    string `toml:"funder_address"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// PolymarketConfig holds Polymarket API endpoints, credentials, and chain
// parameters.
type PolymarketConfig struct {
	ClobHost      string `toml:"clob_host"`
	GammaHost     string `toml:"gamma_host"`
	WsHost        string `toml:"ws_host"`
	ChainID       int    `toml:"chain_id"`
	SignatureType int    `toml:"signature_type"`
	ApiKey        string `toml:"api_key"`
	ApiSecret     string `toml:"api_secret"`
	ApiPassphrase string `toml:"api_passphrase"`
}

// DatabaseConfig holds PostgreSQL connection parameters.
type DatabaseConfig struct {
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
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters for the archiver.
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

// RiskConfig seeds the persisted risk limits on first start. Once persisted,
// the settings API owns these values.
type RiskConfig struct {
	MaxPositionSize         float64 `toml:"max_position_size"`
	MaxPortfolioRiskPercent float64 `toml:"max_portfolio_risk_percent"`
	MaxDailyLoss            float64 `toml:"max_daily_loss"`
	MaxDrawdownPercent      float64 `toml:"max_drawdown_percent"`
	MaxOpenPositions        int     `toml:"max_open_positions"`
	InitialCapital          float64 `toml:"initial_capital"`
	Enabled                 bool    `toml:"enabled"`
}

// TradingConfig seeds the persisted trading settings on first start.
type TradingConfig struct {
	LiveTrading         bool    `toml:"live_trading"`
	DefaultPositionSize float64 `toml:"default_position_size"`
	MaxPositionSize     float64 `toml:"max_position_size"`
	MaxOpenPositions    int     `toml:"max_open_positions"`
	MinConfidence       float64 `toml:"min_confidence"`
}

// BotConfig holds the intervals of the recurring bot tasks.
type BotConfig struct {
	PositionCheckInterval duration `toml:"position_check_interval"`
	OrderMonitorInterval  duration `toml:"order_monitor_interval"`
	SignalPollInterval    duration `toml:"signal_poll_interval"`
	ArchiveInterval       duration `toml:"archive_interval"`
	SignalGroup           string   `toml:"signal_group"`
	SignalConsumer        string   `toml:"signal_consumer"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	ApiKey      string   `toml:"api_key"`
	CORSOrigins []string `toml:"cors_origins"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
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

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Polymarket: PolymarketConfig{
			ClobHost:      "https://clob.polymarket.com",
			GammaHost:     "https://gamma-api.polymarket.com",
			WsHost:        "wss://ws-subscriptions-clob.polymarket.com",
			ChainID:       137,
			SignatureType: 1,
		},
		Database: DatabaseConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "polysignal",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
		},
		S3: S3Config{
			Enabled:        false,
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "polysignal-archive",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Risk: RiskConfig{
			MaxPositionSize:         100,
			MaxPortfolioRiskPercent: 2,
			MaxDailyLoss:            200,
			MaxDrawdownPercent:      10,
			MaxOpenPositions:        10,
			InitialCapital:          1000,
			Enabled:                 true,
		},
		Trading: TradingConfig{
			LiveTrading:         false,
			DefaultPositionSize: 50,
			MaxPositionSize:     100,
			MaxOpenPositions:    10,
			MinConfidence:       0.7,
		},
		Bot: BotConfig{
			PositionCheckInterval: duration{60 * time.Second},
			OrderMonitorInterval:  duration{30 * time.Second},
			SignalPollInterval:    duration{5 * time.Second},
			ArchiveInterval:       duration{1 * time.Hour},
			SignalGroup:           "polysignal",
			SignalConsumer:        "bot-1",
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
		},
		Notify: NotifyConfig{
			Events: []string{"position_opened", "position_closed", "order_failed", "error"},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"bot":    true,
	"server": true,
	"full":   true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: bot, server, full)", c.Mode))
	}

	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Wallet — live trading needs a signing key from one source or the other.
	if c.Trading.LiveTrading {
		if c.Wallet.PrivateKey == "" && c.Wallet.EncryptedKeyPath == "" {
			errs = append(errs, "wallet: either private_key or encrypted_key_path must be set when trading.live_trading is true")
		}
		if c.Wallet.EncryptedKeyPath != "" && c.Wallet.KeyPassword == "" {
			errs = append(errs, "wallet: key_password is required when encrypted_key_path is set")
		}
	}

	// Polymarket endpoints
	if c.Polymarket.ClobHost == "" {
		errs = append(errs, "polymarket: clob_host must not be empty")
	}
	if c.Polymarket.GammaHost == "" {
		errs = append(errs, "polymarket: gamma_host must not be empty")
	}
	if c.Polymarket.ChainID <= 0 {
		errs = append(errs, "polymarket: chain_id must be positive")
	}
	if c.Polymarket.SignatureType != 1 && c.Polymarket.SignatureType != 2 {
		errs = append(errs, fmt.Sprintf("polymarket: signature_type must be 1 (EOA) or 2 (Safe), got %d", c.Polymarket.SignatureType))
	}

	// CLOB API creds must be set together, or all empty.
	ck := c.Polymarket.ApiKey != ""
	cs := c.Polymarket.ApiSecret != ""
	cp := c.Polymarket.ApiPassphrase != ""
	if ck || cs || cp {
		if !(ck && cs && cp) {
			errs = append(errs, "polymarket: api_key, api_secret, and api_passphrase must all be set together")
		}
	}

	// Database
	if strings.TrimSpace(c.Database.DSN) == "" {
		if c.Database.Host == "" {
			errs = append(errs, "database: host must not be empty (or set database.dsn)")
		}
		if c.Database.Port <= 0 || c.Database.Port > 65535 {
			errs = append(errs, fmt.Sprintf("database: port must be 1-65535, got %d", c.Database.Port))
		}
		if c.Database.Database == "" {
			errs = append(errs, "database: database must not be empty")
		}
	}
	if c.Database.PoolMaxConns < 1 {
		errs = append(errs, "database: pool_max_conns must be >= 1")
	}
	if c.Database.PoolMinConns < 0 {
		errs = append(errs, "database: pool_min_conns must be >= 0")
	}
	if c.Database.PoolMinConns > c.Database.PoolMaxConns {
		errs = append(errs, "database: pool_min_conns must not exceed pool_max_conns")
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty when enabled")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when enabled")
		}
	}

	// Risk seeds
	if c.Risk.MaxPositionSize <= 0 {
		errs = append(errs, "risk: max_position_size must be > 0")
	}
	if c.Risk.MaxPortfolioRiskPercent <= 0 || c.Risk.MaxPortfolioRiskPercent > 100 {
		errs = append(errs, "risk: max_portfolio_risk_percent must be in (0, 100]")
	}
	if c.Risk.MaxOpenPositions < 1 {
		errs = append(errs, "risk: max_open_positions must be >= 1")
	}
	if c.Risk.InitialCapital <= 0 {
		errs = append(errs, "risk: initial_capital must be > 0")
	}

	// Trading seeds
	if c.Trading.DefaultPositionSize <= 0 {
		errs = append(errs, "trading: default_position_size must be > 0")
	}
	if c.Trading.MinConfidence < 0 || c.Trading.MinConfidence > 1 {
		errs = append(errs, "trading: min_confidence must be in [0, 1]")
	}

	// Bot intervals
	if c.Bot.PositionCheckInterval.Duration <= 0 {
		errs = append(errs, "bot: position_check_interval must be > 0")
	}
	if c.Bot.OrderMonitorInterval.Duration <= 0 {
		errs = append(errs, "bot: order_monitor_interval must be > 0")
	}
	if c.Bot.SignalPollInterval.Duration <= 0 {
		errs = append(errs, "bot: signal_poll_interval must be > 0")
	}
	if c.Bot.SignalGroup == "" {
		errs = append(errs, "bot: signal_group must not be empty")
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
