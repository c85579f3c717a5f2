package domain

import "errors"

// Sentinel errors shared across the storage, cache, and service layers.
// Callers match them with errors.Is.
var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicatePosition is returned when an open position already exists
	// for the requested market and side.
	ErrDuplicatePosition = errors.New("duplicate position")

	// ErrInvalidTransition is returned when a status-preconditioned update
	// finds the record in a different state than expected.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrRiskRejected is returned when pre-trade risk validation fails.
	ErrRiskRejected = errors.New("risk validation rejected")

	// ErrLiveTradingDisabled is returned when a live execution path is
	// requested while the live-trading switch is off.
	ErrLiveTradingDisabled = errors.New("live trading disabled")

	// ErrPriceUnavailable is returned when no current price could be
	// obtained for an asset.
	ErrPriceUnavailable = errors.New("price unavailable")

	// ErrLockHeld is returned when a distributed lock is already held.
	ErrLockHeld = errors.New("lock already held")

	// ErrUnauthorized is returned when the exchange rejects our credentials.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrRateLimited is returned when the exchange throttles our requests.
	ErrRateLimited = errors.New("rate limited")
)
