package strategy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmonteroh/polysignal/internal/domain"
)

func f(v float64) *float64 { return &v }

func newRuntime(id string) *domain.StrategyRuntime {
	return &domain.StrategyRuntime{PositionID: id}
}

func TestCustomTakeProfit(t *testing.T) {
	c := NewCustom("tp20", domain.CustomParams{TakeProfit: 20, StopLoss: 10})
	view := View{PositionID: "p1", EntryPrice: 0.50}

	d := c.Evaluate(view, 0.61, newRuntime("p1"))

	require.True(t, d.Exit)
	assert.Equal(t, "take_profit", d.Reason)
	assert.Equal(t, 1.0, d.Fraction)
}

func TestCustomStopLoss(t *testing.T) {
	c := NewCustom("tp20", domain.CustomParams{TakeProfit: 20, StopLoss: 10})
	view := View{PositionID: "p1", EntryPrice: 0.50}

	d := c.Evaluate(view, 0.44, newRuntime("p1"))

	require.True(t, d.Exit)
	assert.Equal(t, "stop_loss", d.Reason)
	assert.Equal(t, 1.0, d.Fraction)
}

func TestCustomHold(t *testing.T) {
	c := NewCustom("tp20", domain.CustomParams{TakeProfit: 20, StopLoss: 10})
	view := View{PositionID: "p1", EntryPrice: 0.50}

	d := c.Evaluate(view, 0.52, newRuntime("p1"))

	assert.False(t, d.Exit)
	assert.Zero(t, d.Fraction)
}

func TestCustomTrailingStop(t *testing.T) {
	c := NewCustom("trail", domain.CustomParams{
		TakeProfit: 100, StopLoss: 50, TrailingStop: f(10),
	})
	view := View{PositionID: "p1", EntryPrice: 0.50}
	rt := newRuntime("p1")

	// Rise to +30%, establishing the high-water mark.
	d := c.Evaluate(view, 0.65, rt)
	assert.False(t, d.Exit)
	require.NotNil(t, rt.HighWaterMark)
	assert.InDelta(t, 30, *rt.HighWaterMark, 1e-9)

	// Fall to +22%: drawdown from peak is 8, inside the 10 trail.
	d = c.Evaluate(view, 0.61, rt)
	assert.False(t, d.Exit)

	// Fall to +18%: drawdown 12 >= 10 fires the trail.
	d = c.Evaluate(view, 0.59, rt)
	require.True(t, d.Exit)
	assert.Equal(t, "trailing_stop", d.Reason)
}

func TestCustomTrailingNeverFiresUnderWater(t *testing.T) {
	c := NewCustom("trail", domain.CustomParams{
		TakeProfit: 100, StopLoss: 50, TrailingStop: f(5),
	})
	view := View{PositionID: "p1", EntryPrice: 0.50}
	rt := newRuntime("p1")

	// The position only ever loses; hwm stays negative so the trail is inert.
	d := c.Evaluate(view, 0.48, rt)
	assert.False(t, d.Exit)
	d = c.Evaluate(view, 0.40, rt)
	require.True(t, d.Exit)
	assert.Equal(t, "stop_loss", d.Reason)
}

func TestCustomLegacyPartialFiresOnce(t *testing.T) {
	c := NewCustom("partial", domain.CustomParams{
		TakeProfit: 100, StopLoss: 50,
		PartialExitPercent: f(50), PartialExitThreshold: f(10),
	})
	view := View{PositionID: "p1", EntryPrice: 0.50}
	rt := newRuntime("p1")

	d := c.Evaluate(view, 0.56, rt)
	require.True(t, d.Exit)
	assert.Equal(t, "partial_take_profit", d.Reason)
	assert.InDelta(t, 0.5, d.Fraction, 1e-9)

	// Still above threshold on the next tick, but it never refires.
	d = c.Evaluate(view, 0.57, rt)
	assert.False(t, d.Exit)
}

func TestHighWaterMarkNonDecreasing(t *testing.T) {
	c := NewCustom("tp", domain.CustomParams{TakeProfit: 1000, StopLoss: 1000})
	view := View{PositionID: "p1", EntryPrice: 0.50}
	rt := newRuntime("p1")

	prices := []float64{0.55, 0.60, 0.52, 0.58, 0.45, 0.50}
	var last float64
	for i, price := range prices {
		c.Evaluate(view, price, rt)
		require.NotNil(t, rt.HighWaterMark)
		if i > 0 {
			assert.GreaterOrEqual(t, *rt.HighWaterMark, last)
		}
		last = *rt.HighWaterMark
	}
	assert.InDelta(t, 20, last, 1e-9) // peak was 0.60
}

func TestAdvancedDynamicTrailing(t *testing.T) {
	a := NewAdvanced("dyn", domain.AdvancedParams{
		TakeProfit: 1000, StopLoss: 1000,
		Dynamic: domain.DynamicTrailing{Enabled: true, Base: 20, Tight: 5, Threshold: 50},
	})
	view := View{PositionID: "p1", Side: "Yes", EntryPrice: 0.40}
	rt := newRuntime("p1")

	// Price rises to 0.70: captured upside = 0.30/0.60 = 50%, exactly at the
	// threshold, and the high-water mark reaches +75%.
	d := a.Evaluate(view, 0.70, rt)
	assert.False(t, d.Exit)
	require.NotNil(t, rt.HighWaterMark)
	assert.InDelta(t, 75, *rt.HighWaterMark, 1e-9)

	// At 0.60: pnl=50, drawdown from peak 25, captured=33% so the trail is
	// back at base=20. 25 >= 20 fires the dynamic trail.
	d = a.Evaluate(view, 0.60, rt)
	require.True(t, d.Exit)
	assert.Equal(t, "dynamic_trailing", d.Reason)
	assert.Equal(t, 1.0, d.Fraction)
}

func TestAdvancedDynamicTrailTightens(t *testing.T) {
	a := NewAdvanced("dyn", domain.AdvancedParams{
		Dynamic: domain.DynamicTrailing{Enabled: true, Base: 20, Tight: 5, Threshold: 50},
	})

	// Below the threshold the trail stays at base.
	assert.InDelta(t, 20, a.dynamicTrail(0.40, 0.50, "Yes"), 1e-9)
	// At captured=50% interpolation starts at base.
	assert.InDelta(t, 20, a.dynamicTrail(0.40, 0.70, "Yes"), 1e-9)
	// At captured=75% the trail is halfway between base and tight.
	assert.InDelta(t, 12.5, a.dynamicTrail(0.40, 0.85, "Yes"), 1e-9)
	// At captured=100% the trail reaches tight.
	assert.InDelta(t, 5, a.dynamicTrail(0.40, 1.0, "Yes"), 1e-9)
	// A "No" position captures upside as the market price falls.
	assert.InDelta(t, 12.5, a.dynamicTrail(0.40, 0.10, "No"), 1e-9)
}

func TestAdvancedTimeTrailing(t *testing.T) {
	a := NewAdvanced("time", domain.AdvancedParams{
		TakeProfit: 1000, StopLoss: 1000,
		Dynamic: domain.DynamicTrailing{Base: 20, Tight: 5, Threshold: 50},
		Time:    domain.TimeTrailing{Enabled: true, StartHours: 2, MaxHours: 10, Tight: 4},
	})
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	a.now = func() time.Time { return base.Add(1 * time.Hour) }
	assert.InDelta(t, 20, a.timeTrail(base), 1e-9)

	a.now = func() time.Time { return base.Add(6 * time.Hour) }
	assert.InDelta(t, 12, a.timeTrail(base), 1e-9) // halfway across [2, 10]

	a.now = func() time.Time { return base.Add(12 * time.Hour) }
	assert.InDelta(t, 4, a.timeTrail(base), 1e-9)
}

func TestAdvancedTrailReasonNamesTighterCurve(t *testing.T) {
	a := NewAdvanced("both", domain.AdvancedParams{
		TakeProfit: 1000, StopLoss: 1000,
		Dynamic: domain.DynamicTrailing{Enabled: true, Base: 20, Tight: 5, Threshold: 50},
		Time:    domain.TimeTrailing{Enabled: true, StartHours: 1, MaxHours: 2, Tight: 3},
	})
	opened := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	a.now = func() time.Time { return opened.Add(3 * time.Hour) }

	view := View{PositionID: "p1", Side: "Yes", EntryPrice: 0.40, OpenedAt: opened}
	rt := newRuntime("p1")

	// Peak at +50%, then a small pullback. The time curve is fully tightened
	// to 3 while the price curve still sits at base=20, so the time trail
	// fires first and is the reported reason.
	a.Evaluate(view, 0.60, rt)
	d := a.Evaluate(view, 0.58, rt)
	require.True(t, d.Exit)
	assert.Equal(t, "time_trailing", d.Reason)
}

func TestAdvancedWithoutTrailingHoldsOnGain(t *testing.T) {
	// A record configuring only take-profit and stop-loss has no trailing
	// curve; the first profitable tick must not exit as a zero-width trail.
	s, err := FromRecord(&domain.StrategyRecord{
		Name: "bare", Kind: domain.StrategyKindAdvanced,
		Advanced: &domain.AdvancedParams{TakeProfit: 20, StopLoss: 10},
	})
	require.NoError(t, err)

	view := View{PositionID: "p1", Side: "Yes", EntryPrice: 0.50}
	rt := newRuntime("p1")

	d := s.Evaluate(view, 0.51, rt)
	assert.False(t, d.Exit)

	// A pullback from the peak holds too while both levels are clear.
	d = s.Evaluate(view, 0.505, rt)
	assert.False(t, d.Exit)

	// The configured levels still apply.
	d = s.Evaluate(view, 0.60, rt)
	require.True(t, d.Exit)
	assert.Equal(t, "take_profit", d.Reason)
}

func TestCustomZeroWidthTrailingNeverFires(t *testing.T) {
	c := NewCustom("flat", domain.CustomParams{
		TakeProfit: 20, StopLoss: 10, TrailingStop: f(0),
	})
	view := View{PositionID: "p1", Side: "Yes", EntryPrice: 0.50}
	rt := newRuntime("p1")

	c.Evaluate(view, 0.52, rt)
	d := c.Evaluate(view, 0.51, rt)
	assert.False(t, d.Exit)
}

func TestAdvancedPartialLadder(t *testing.T) {
	a := NewAdvanced("ladder", domain.AdvancedParams{
		TakeProfit: 1000, StopLoss: 1000,
		PartialExits: []domain.PartialExitLevel{
			{ExitOrder: 2, ExitPercent: 30, Threshold: 40},
			{ExitOrder: 1, ExitPercent: 25, Threshold: 20},
		},
	})
	view := View{PositionID: "p1", Side: "Yes", EntryPrice: 0.50}
	rt := newRuntime("p1")

	// +25% reaches only the first level (threshold 20, sorted ascending).
	d := a.Evaluate(view, 0.625, rt)
	require.True(t, d.Exit)
	assert.Equal(t, "partial_take_profit_1", d.Reason)
	assert.InDelta(t, 0.25, d.Fraction, 1e-9)

	// Same price again: level 1 already fired, level 2 not yet reached.
	d = a.Evaluate(view, 0.625, rt)
	assert.False(t, d.Exit)

	// +50% reaches level 2.
	d = a.Evaluate(view, 0.75, rt)
	require.True(t, d.Exit)
	assert.Equal(t, "partial_take_profit_2", d.Reason)
	assert.InDelta(t, 0.30, d.Fraction, 1e-9)

	// Both fired: nothing left to trigger.
	d = a.Evaluate(view, 0.80, rt)
	assert.False(t, d.Exit)
	assert.ElementsMatch(t, []int{1, 2}, rt.FiredExits)
}

func TestAdvancedSourceOverrides(t *testing.T) {
	a := NewAdvanced("src", domain.AdvancedParams{
		TakeProfit: 50, StopLoss: 25,
		Sources: []domain.SourceParams{
			{Source: "alpha", TakeProfit: f(10), SizeMultiplier: 2},
		},
	})

	rt := newRuntime("p1")
	view := View{PositionID: "p1", Side: "Yes", Source: "alpha", EntryPrice: 0.50}

	// +12% exceeds the alpha override (10) but not the default (50).
	d := a.Evaluate(view, 0.56, rt)
	require.True(t, d.Exit)
	assert.Equal(t, "take_profit", d.Reason)

	// Other sources keep the defaults.
	other := View{PositionID: "p2", Side: "Yes", Source: "beta", EntryPrice: 0.50}
	d = a.Evaluate(other, 0.56, newRuntime("p2"))
	assert.False(t, d.Exit)

	assert.True(t, a.AcceptsSource("alpha"))
	assert.False(t, a.AcceptsSource("beta"))
	assert.Equal(t, 2.0, a.SizeMultiplier("alpha"))
	assert.Equal(t, 1.0, a.SizeMultiplier("beta"))
}

func TestFromRecord(t *testing.T) {
	custom, err := FromRecord(&domain.StrategyRecord{
		Name: "c", Kind: domain.StrategyKindCustom,
		Custom: &domain.CustomParams{TakeProfit: 20, StopLoss: 10},
	})
	require.NoError(t, err)
	assert.IsType(t, &Custom{}, custom)

	adv, err := FromRecord(&domain.StrategyRecord{
		Name: "a", Kind: domain.StrategyKindAdvanced,
		Advanced: &domain.AdvancedParams{TakeProfit: 20, StopLoss: 10},
	})
	require.NoError(t, err)
	assert.IsType(t, &Advanced{}, adv)

	_, err = FromRecord(&domain.StrategyRecord{Name: "x", Kind: "bogus"})
	assert.Error(t, err)

	_, err = FromRecord(&domain.StrategyRecord{Name: "c", Kind: domain.StrategyKindCustom})
	assert.Error(t, err)
}

func TestPnLPercentSymmetry(t *testing.T) {
	// Identical formula regardless of side: each side trades its own token.
	assert.InDelta(t, 22, domain.PnLPercent(0.50, 0.61), 1e-9)
	assert.InDelta(t, -12, domain.PnLPercent(0.50, 0.44), 1e-9)
	assert.Zero(t, domain.PnLPercent(0, 0.5))
}
