package domain

import "time"

// PositionStatus tracks a position through its lifecycle. The only backward
// transition allowed is closing -> open, which happens when a live exit order
// is cancelled or rejected by the exchange.
type PositionStatus string

const (
	PositionStatusPending PositionStatus = "pending" // live entry order awaiting fill
	PositionStatusOpen    PositionStatus = "open"
	PositionStatusClosing PositionStatus = "closing" // live exit order awaiting fill
	PositionStatusClosed  PositionStatus = "closed"
	PositionStatusFailed  PositionStatus = "failed"
)

// TradingMode distinguishes simulated fills from real exchange execution.
type TradingMode string

const (
	TradingModePaper TradingMode = "paper"
	TradingModeLive  TradingMode = "live"
)

// Position represents a stake in one outcome token of a prediction market.
// Size is the allocated USD capital; SharesOrdered/SharesFilled track the
// token quantity. At most one position per (market, side) is open at a time.
type Position struct {
	ID             string
	SignalID       string
	StrategyID     int64 // 0 means no exit strategy attached
	StrategyName   string
	MarketID       string
	TokenID        string
	MarketQuestion string
	Side           string // outcome label, e.g. "Yes" or "No"
	Source         string

	EntryPrice   float64
	CurrentPrice float64
	ExitPrice    *float64
	Size         float64 // USD capital allocated

	Status      PositionStatus
	TradingMode TradingMode

	EntryOrderID     string
	EntryOrderStatus OrderStatus
	ExitOrderID      string
	ExitOrderStatus  OrderStatus
	SharesOrdered    float64
	SharesFilled     float64
	AvgFillPrice     *float64
	LastOrderError   string

	UnrealizedPnL        float64
	UnrealizedPnLPercent float64
	RealizedPnL          float64
	RealizedPnLPercent   float64

	OpenedAt time.Time
	ClosedAt *time.Time
}

// IsLive reports whether the position executes against the real exchange.
func (p Position) IsLive() bool {
	return p.TradingMode == TradingModeLive
}

// PnLPercent returns the percentage move of price against the entry price.
// Both outcome sides trade their own token's order book, so the formula is
// identical regardless of side: a position profits when its token's price
// rises.
func PnLPercent(entry, current float64) float64 {
	if entry <= 0 {
		return 0
	}
	return (current - entry) / entry * 100
}
