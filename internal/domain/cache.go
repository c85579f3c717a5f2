package domain

import (
	"context"
	"time"
)

// PriceCache stores the latest observed price per asset.
type PriceCache interface {
	SetPrice(ctx context.Context, assetID string, price float64, ts time.Time) error

	// GetPrice returns ErrNotFound when no price has been cached.
	GetPrice(ctx context.Context, assetID string) (float64, time.Time, error)

	// GetPrices omits assets with no cached price from the result map.
	GetPrices(ctx context.Context, assetIDs []string) (map[string]float64, error)
}

// SignalEnvelope pairs a consumed trade signal with its stream entry id, which
// the consumer acknowledges after handling.
type SignalEnvelope struct {
	StreamID string
	Signal   TradeSignal
}

// SignalBus transports trade signals from producers to the bot.
type SignalBus interface {
	Publish(ctx context.Context, sig TradeSignal) error

	// Fetch reads up to count pending signals for the consumer group,
	// blocking up to block when none are available.
	Fetch(ctx context.Context, group, consumer string, count int64, block time.Duration) ([]SignalEnvelope, error)

	Ack(ctx context.Context, group string, streamIDs ...string) error
}

// RateLimiter throttles calls to external APIs.
type RateLimiter interface {
	// Allow reports whether a request for key is permitted under a sliding
	// window of limit requests per window, counting the request if so.
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)

	// Wait blocks until a request for key is permitted or ctx is done.
	Wait(ctx context.Context, key string) error
}

// LockManager provides distributed mutual exclusion across bot instances.
type LockManager interface {
	// Acquire returns an unlock function on success, or ErrLockHeld when
	// another holder owns the lock.
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
}
