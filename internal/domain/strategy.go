package domain

import "time"

// StrategyKind discriminates the stored exit-strategy variants.
type StrategyKind string

const (
	StrategyKindCustom   StrategyKind = "custom"
	StrategyKindAdvanced StrategyKind = "advanced"
)

// CustomParams is the flat parameter set of a user-defined exit strategy.
// Percentages are expressed in pnl-percent points (take_profit=20 means exit
// at +20%).
type CustomParams struct {
	TakeProfit           float64
	StopLoss             float64
	TrailingStop         *float64
	PartialExitPercent   *float64
	PartialExitThreshold *float64
}

// DynamicTrailing interpolates the trailing-stop width from Base down to
// Tight as the position captures more of its maximum theoretical upside.
type DynamicTrailing struct {
	Enabled   bool
	Base      float64
	Tight     float64
	Threshold float64 // captured-upside % at which tightening starts
}

// TimeTrailing interpolates the trailing-stop width from the dynamic base
// down to Tight as hold time moves across [StartHours, MaxHours].
type TimeTrailing struct {
	Enabled    bool
	StartHours float64
	MaxHours   float64
	Tight      float64
}

// PartialExitLevel is one step of an ordered partial-exit ladder. Each level
// fires at most once per position lifetime.
type PartialExitLevel struct {
	ExitOrder   int
	ExitPercent float64 // percent of remaining size to exit
	Threshold   float64 // pnl% threshold
}

// SourceParams overrides exit parameters for positions opened from a
// specific signal source. Nil fields fall back to the strategy defaults.
// SizeMultiplier scales entry sizing only.
type SourceParams struct {
	Source         string
	TakeProfit     *float64
	StopLoss       *float64
	TrailingStop   *float64
	SizeMultiplier float64
}

// AdvancedParams configures the advanced exit strategy.
type AdvancedParams struct {
	TakeProfit   float64
	StopLoss     float64
	TrailingStop *float64

	Dynamic DynamicTrailing
	Time    TimeTrailing

	PartialExits []PartialExitLevel
	Sources      []SourceParams

	// Legacy single partial exit, evaluated after the ladder.
	PartialExitPercent   *float64
	PartialExitThreshold *float64
}

// StrategyRecord is the persisted form of an exit strategy. Exactly one of
// Custom/Advanced is populated, selected by Kind.
type StrategyRecord struct {
	ID          int64
	Name        string
	Description string
	Kind        StrategyKind
	Enabled     bool
	Custom      *CustomParams
	Advanced    *AdvancedParams
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// StrategyRuntime is the per-position runtime state of the exit engine,
// persisted alongside the position so a restart cannot reset a trailing-stop
// peak or re-fire a partial exit.
type StrategyRuntime struct {
	PositionID    string
	HighWaterMark *float64 // peak pnl%, nil until first evaluation
	FiredExits    []int    // partial-exit orders already fired
	LegacyPartial bool     // single partial exit already fired
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// HasFired reports whether the given partial-exit order already fired.
func (r *StrategyRuntime) HasFired(exitOrder int) bool {
	for _, o := range r.FiredExits {
		if o == exitOrder {
			return true
		}
	}
	return false
}

// MarkFired records a partial-exit order as fired. Idempotent.
func (r *StrategyRuntime) MarkFired(exitOrder int) {
	if !r.HasFired(exitOrder) {
		r.FiredExits = append(r.FiredExits, exitOrder)
	}
}

// Observe folds a pnl% observation into the high-water mark and returns the
// updated mark. The mark is non-decreasing across observations.
func (r *StrategyRuntime) Observe(pnlPct float64) float64 {
	if r.HighWaterMark == nil || pnlPct > *r.HighWaterMark {
		v := pnlPct
		r.HighWaterMark = &v
	}
	return *r.HighWaterMark
}
