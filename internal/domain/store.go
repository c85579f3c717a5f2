package domain

import (
	"context"
	"time"
)

// PositionFilter narrows List queries. Zero-value fields are ignored.
type PositionFilter struct {
	Status      PositionStatus
	TradingMode TradingMode
	MarketID    string
	StrategyID  int64
	Source      string
	Limit       int
	Offset      int
}

// StrategyOverview aggregates position outcomes per exit strategy.
type StrategyOverview struct {
	StrategyID      int64
	StrategyName    string
	OpenPositions   int
	ClosedPositions int
	RealizedPnL     float64
	WinRate         float64 // fraction of closed positions with positive pnl
}

// PositionStore persists positions.
type PositionStore interface {
	Create(ctx context.Context, p *Position) error
	Get(ctx context.Context, id string) (*Position, error)

	// GetOpenByMarket returns the non-terminal (pending, open, or closing)
	// position for the given market and side, or ErrNotFound.
	GetOpenByMarket(ctx context.Context, marketID, side string) (*Position, error)

	List(ctx context.Context, f PositionFilter) ([]*Position, error)
	ListByStatus(ctx context.Context, statuses ...PositionStatus) ([]*Position, error)
	CountByStatus(ctx context.Context, status PositionStatus) (int, error)

	Update(ctx context.Context, p *Position) error

	// UpdateIfStatus writes p only while the stored row still has the
	// expected status, returning ErrInvalidTransition otherwise. Lifecycle
	// transitions go through this so concurrent monitors cannot clobber
	// each other.
	UpdateIfStatus(ctx context.Context, p *Position, expect PositionStatus) error

	OverviewByStrategy(ctx context.Context) ([]StrategyOverview, error)
}

// OrderStore persists the local order ledger.
type OrderStore interface {
	Create(ctx context.Context, o *Order) error
	Get(ctx context.Context, id string) (*Order, error)
	GetByExchangeID(ctx context.Context, exchangeID string) (*Order, error)
	ListByPosition(ctx context.Context, positionID string) ([]*Order, error)
	Update(ctx context.Context, o *Order) error
}

// StrategyStore persists exit-strategy definitions.
type StrategyStore interface {
	Create(ctx context.Context, s *StrategyRecord) error
	Get(ctx context.Context, id int64) (*StrategyRecord, error)
	GetByName(ctx context.Context, name string) (*StrategyRecord, error)
	List(ctx context.Context) ([]*StrategyRecord, error)
	Update(ctx context.Context, s *StrategyRecord) error
	Delete(ctx context.Context, id int64) error
}

// StrategyRuntimeStore persists per-position exit-engine state so trailing
// peaks and fired partial exits survive restarts.
type StrategyRuntimeStore interface {
	Get(ctx context.Context, positionID string) (*StrategyRuntime, error)
	Save(ctx context.Context, r *StrategyRuntime) error
	Delete(ctx context.Context, positionID string) error
}

// RiskState is the running portfolio state backing the risk checks. DailyDate
// is the UTC date (YYYY-MM-DD) DailyPnL belongs to; a new date resets it.
type RiskState struct {
	Capital     float64
	PeakCapital float64
	DailyPnL    float64
	DailyDate   string
}

// SettingsStore persists reloadable runtime settings.
type SettingsStore interface {
	RiskLimits(ctx context.Context) (RiskLimits, error)
	SaveRiskLimits(ctx context.Context, l RiskLimits) error

	Trading(ctx context.Context) (TradingSettings, error)
	SaveTrading(ctx context.Context, s TradingSettings) error

	RiskState(ctx context.Context) (RiskState, error)
	SaveRiskState(ctx context.Context, s RiskState) error
}

// AuditEntry records one bot action for the audit trail. Detail is stored as
// JSONB.
type AuditEntry struct {
	ID        int64
	Action    string // e.g. "position_opened", "risk_rejected", "bot_started"
	Actor     string // "bot" or the API principal
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists the append-only audit trail.
type AuditStore interface {
	Append(ctx context.Context, e *AuditEntry) error
	ListRecent(ctx context.Context, limit int) ([]*AuditEntry, error)
	ListSince(ctx context.Context, since time.Time, limit int) ([]*AuditEntry, error)
}
