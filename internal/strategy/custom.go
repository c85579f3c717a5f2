package strategy

import (
	"github.com/jmonteroh/polysignal/internal/domain"
)

// Custom is the flat user-defined exit strategy: fixed take-profit and
// stop-loss levels, an optional fixed-width trailing stop, and an optional
// single partial exit.
type Custom struct {
	name   string
	params domain.CustomParams
}

// NewCustom creates a custom strategy from stored parameters.
func NewCustom(name string, params domain.CustomParams) *Custom {
	return &Custom{name: name, params: params}
}

// Name returns the strategy's stored name.
func (c *Custom) Name() string { return c.name }

// Evaluate applies the checks in fixed order: take-profit, stop-loss,
// trailing stop, then the single partial exit.
func (c *Custom) Evaluate(view View, currentPrice float64, rt *domain.StrategyRuntime) Decision {
	pnl := domain.PnLPercent(view.EntryPrice, currentPrice)
	hwm := rt.Observe(pnl)

	if pnl >= c.params.TakeProfit {
		return fullExit("take_profit")
	}
	if pnl <= -c.params.StopLoss {
		return fullExit("stop_loss")
	}

	if c.params.TrailingStop != nil && *c.params.TrailingStop > 0 &&
		hwm > 0 && hwm-pnl >= *c.params.TrailingStop {
		return fullExit("trailing_stop")
	}

	if c.params.PartialExitPercent != nil && c.params.PartialExitThreshold != nil &&
		!rt.LegacyPartial && pnl >= *c.params.PartialExitThreshold {
		rt.LegacyPartial = true
		return Decision{
			Exit:     true,
			Reason:   "partial_take_profit",
			Fraction: *c.params.PartialExitPercent / 100,
		}
	}

	return hold
}

// Compile-time interface check.
var _ ExitStrategy = (*Custom)(nil)
