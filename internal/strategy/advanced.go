package strategy

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jmonteroh/polysignal/internal/domain"
)

// Advanced is the exit strategy with per-source parameter overrides, price-
// and time-based trailing-stop curves, and an ordered ladder of partial
// exits.
type Advanced struct {
	name    string
	params  domain.AdvancedParams
	sources map[string]domain.SourceParams

	// partials is the exit ladder sorted ascending by threshold.
	partials []domain.PartialExitLevel

	now func() time.Time
}

// NewAdvanced creates an advanced strategy from stored parameters.
func NewAdvanced(name string, params domain.AdvancedParams) *Advanced {
	sources := make(map[string]domain.SourceParams, len(params.Sources))
	for _, s := range params.Sources {
		sources[s.Source] = s
	}

	partials := make([]domain.PartialExitLevel, len(params.PartialExits))
	copy(partials, params.PartialExits)
	sort.SliceStable(partials, func(i, j int) bool {
		return partials[i].Threshold < partials[j].Threshold
	})

	return &Advanced{
		name:     name,
		params:   params,
		sources:  sources,
		partials: partials,
		now:      time.Now,
	}
}

// Name returns the strategy's stored name.
func (a *Advanced) Name() string { return a.name }

// AcceptsSource reports whether this strategy has parameters for the source.
func (a *Advanced) AcceptsSource(source string) bool {
	_, ok := a.sources[source]
	return ok
}

// SizeMultiplier returns the entry-size multiplier for a source, defaulting
// to 1.
func (a *Advanced) SizeMultiplier(source string) float64 {
	if s, ok := a.sources[source]; ok && s.SizeMultiplier > 0 {
		return s.SizeMultiplier
	}
	return 1
}

// paramsForSource resolves take-profit, stop-loss, and trailing-stop for a
// source, falling back to the strategy defaults for unset fields.
func (a *Advanced) paramsForSource(source string) (takeProfit, stopLoss float64, trailing *float64) {
	takeProfit = a.params.TakeProfit
	stopLoss = a.params.StopLoss
	trailing = a.params.TrailingStop

	if s, ok := a.sources[source]; ok {
		if s.TakeProfit != nil {
			takeProfit = *s.TakeProfit
		}
		if s.StopLoss != nil {
			stopLoss = *s.StopLoss
		}
		if s.TrailingStop != nil {
			trailing = s.TrailingStop
		}
	}
	return takeProfit, stopLoss, trailing
}

// Evaluate applies take-profit and stop-loss first, then the combined
// trailing stop (the tighter of the price and time curves), then the partial
// exit ladder, then the legacy single partial exit.
func (a *Advanced) Evaluate(view View, currentPrice float64, rt *domain.StrategyRuntime) Decision {
	takeProfit, stopLoss, _ := a.paramsForSource(view.Source)

	pnl := domain.PnLPercent(view.EntryPrice, currentPrice)
	hwm := rt.Observe(pnl)

	if pnl >= takeProfit {
		return fullExit("take_profit")
	}
	if pnl <= -stopLoss {
		return fullExit("stop_loss")
	}

	priceTrail := a.dynamicTrail(view.EntryPrice, currentPrice, view.Side)
	timeTrail := a.timeTrail(view.OpenedAt)
	effective := priceTrail
	if timeTrail < effective {
		effective = timeTrail
	}

	// A non-positive trail means neither curve is configured; a zero-width
	// trail would otherwise exit on the first profitable tick.
	if effective > 0 && hwm > 0 && hwm-pnl >= effective {
		if priceTrail <= timeTrail {
			return fullExit("dynamic_trailing")
		}
		return fullExit("time_trailing")
	}

	for _, level := range a.partials {
		if rt.HasFired(level.ExitOrder) {
			continue
		}
		if pnl >= level.Threshold {
			rt.MarkFired(level.ExitOrder)
			return Decision{
				Exit:     true,
				Reason:   fmt.Sprintf("partial_take_profit_%d", level.ExitOrder),
				Fraction: level.ExitPercent / 100,
			}
		}
	}

	if a.params.PartialExitPercent != nil && a.params.PartialExitThreshold != nil &&
		!rt.LegacyPartial && pnl >= *a.params.PartialExitThreshold {
		rt.LegacyPartial = true
		return Decision{
			Exit:     true,
			Reason:   "partial_take_profit",
			Fraction: *a.params.PartialExitPercent / 100,
		}
	}

	return hold
}

// dynamicTrail interpolates the trailing-stop width from base down to tight
// as the position captures more of its maximum theoretical upside. A "Yes"
// position's price can rise to 1, so its upside is 1-entry; a "No" position
// profits as the market price falls toward 0, so its upside is the entry
// price itself.
func (a *Advanced) dynamicTrail(entry, current float64, side string) float64 {
	d := a.params.Dynamic
	if !d.Enabled {
		return d.Base
	}

	var maxUpside, captured float64
	if strings.EqualFold(side, "Yes") {
		maxUpside = 1 - entry
		captured = current - entry
	} else {
		maxUpside = entry
		captured = entry - current
	}
	if maxUpside <= 0 {
		return d.Tight
	}

	capturedPct := captured / maxUpside * 100
	if capturedPct < 0 {
		capturedPct = 0
	} else if capturedPct > 100 {
		capturedPct = 100
	}

	if capturedPct < d.Threshold {
		return d.Base
	}
	progress := (capturedPct - d.Threshold) / (100 - d.Threshold)
	return d.Base - (d.Base-d.Tight)*progress
}

// timeTrail interpolates the trailing-stop width from the dynamic base down
// to tight as hold time moves across [StartHours, MaxHours].
func (a *Advanced) timeTrail(openedAt time.Time) float64 {
	t := a.params.Time
	base := a.params.Dynamic.Base
	if !t.Enabled || openedAt.IsZero() {
		return base
	}

	holdHours := a.now().Sub(openedAt).Hours()
	switch {
	case holdHours < t.StartHours:
		return base
	case holdHours >= t.MaxHours:
		return t.Tight
	default:
		progress := (holdHours - t.StartHours) / (t.MaxHours - t.StartHours)
		return base - (base-t.Tight)*progress
	}
}

// Compile-time interface check.
var _ ExitStrategy = (*Advanced)(nil)
