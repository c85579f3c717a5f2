package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmonteroh/polysignal/internal/domain"
)

func f64(v float64) *float64 { return &v }

type executorFixture struct {
	*positionFixture
	strategies *memStrategies
	executor   *StrategyExecutor
}

func newExecutorFixture() *executorFixture {
	pf := newPositionFixture(nil)
	strategies := newMemStrategies()
	return &executorFixture{
		positionFixture: pf,
		strategies:      strategies,
		executor: NewStrategyExecutor(
			pf.positions, pf.runtimes, strategies, nil, pf.feed, pf.svc, testLogger(),
		),
	}
}

func (f *executorFixture) addStrategy(t *testing.T, rec *domain.StrategyRecord) int64 {
	t.Helper()
	require.NoError(t, f.strategies.Create(context.Background(), rec))
	return rec.ID
}

func (f *executorFixture) openPaper(t *testing.T, strategyID int64, entry float64) string {
	t.Helper()
	f.feed.set("token-1", entry)
	pos, err := f.svc.Open(context.Background(), OpenRequest{
		Signal:     testSignal(),
		StrategyID: strategyID,
		Size:       50,
	})
	require.NoError(t, err)
	return pos.ID
}

func customRecord(name string, params domain.CustomParams) *domain.StrategyRecord {
	return &domain.StrategyRecord{
		Name:    name,
		Kind:    domain.StrategyKindCustom,
		Enabled: true,
		Custom:  &params,
	}
}

func TestExecutorTakeProfitClosesPosition(t *testing.T) {
	f := newExecutorFixture()
	ctx := context.Background()

	id := f.addStrategy(t, customRecord("tp20", domain.CustomParams{TakeProfit: 20, StopLoss: 10}))
	posID := f.openPaper(t, id, 0.50)

	f.feed.set("token-1", 0.61)
	require.NoError(t, f.executor.Run(ctx))

	stored, err := f.positions.Get(ctx, posID)
	require.NoError(t, err)
	assert.Equal(t, domain.PositionStatusClosed, stored.Status)
	require.NotNil(t, stored.ExitPrice)
	assert.Equal(t, 0.61, *stored.ExitPrice)

	_, err = f.runtimes.Get(ctx, posID)
	assert.ErrorIs(t, err, domain.ErrNotFound, "a full exit discards the runtime state")
}

func TestExecutorHoldRefreshesPrice(t *testing.T) {
	f := newExecutorFixture()
	ctx := context.Background()

	id := f.addStrategy(t, customRecord("tp20", domain.CustomParams{TakeProfit: 20, StopLoss: 10}))
	posID := f.openPaper(t, id, 0.50)

	f.feed.set("token-1", 0.55)
	require.NoError(t, f.executor.Run(ctx))

	stored, err := f.positions.Get(ctx, posID)
	require.NoError(t, err)
	assert.Equal(t, domain.PositionStatusOpen, stored.Status)
	assert.Equal(t, 0.55, stored.CurrentPrice)
	assert.InDelta(t, 5, stored.UnrealizedPnL, 1e-9)
	assert.InDelta(t, 10, stored.UnrealizedPnLPercent, 1e-9)

	rt, err := f.runtimes.Get(ctx, posID)
	require.NoError(t, err)
	require.NotNil(t, rt.HighWaterMark)
	assert.InDelta(t, 10, *rt.HighWaterMark, 1e-9, "the observation lands in the persisted runtime")
}

func TestExecutorSkipsPositionWithoutPrice(t *testing.T) {
	f := newExecutorFixture()
	ctx := context.Background()

	id := f.addStrategy(t, customRecord("tp20", domain.CustomParams{TakeProfit: 20, StopLoss: 10}))
	posID := f.openPaper(t, id, 0.50)

	// Quote disappears.
	f.feed = newFakeFeed()
	f.executor.feed = f.feed

	require.NoError(t, f.executor.Run(ctx))

	stored, err := f.positions.Get(ctx, posID)
	require.NoError(t, err)
	assert.Equal(t, domain.PositionStatusOpen, stored.Status, "no price means no action")
	assert.Equal(t, 0.50, stored.CurrentPrice)
}

func TestExecutorPartialExitShrinksPosition(t *testing.T) {
	f := newExecutorFixture()
	ctx := context.Background()

	id := f.addStrategy(t, customRecord("partial", domain.CustomParams{
		TakeProfit:           100,
		StopLoss:             50,
		PartialExitPercent:   f64(50),
		PartialExitThreshold: f64(10),
	}))
	posID := f.openPaper(t, id, 0.50)

	f.feed.set("token-1", 0.56)
	require.NoError(t, f.executor.Run(ctx))

	stored, err := f.positions.Get(ctx, posID)
	require.NoError(t, err)
	assert.Equal(t, domain.PositionStatusOpen, stored.Status)
	assert.InDelta(t, 25, stored.Size, 1e-9)

	rt, err := f.runtimes.Get(ctx, posID)
	require.NoError(t, err)
	assert.True(t, rt.LegacyPartial, "the fired partial is persisted")

	// Same price on the next sweep: the partial must not fire again.
	require.NoError(t, f.executor.Run(ctx))
	stored, err = f.positions.Get(ctx, posID)
	require.NoError(t, err)
	assert.InDelta(t, 25, stored.Size, 1e-9)
}

func TestExecutorTrailingPeakSurvivesRestart(t *testing.T) {
	f := newExecutorFixture()
	ctx := context.Background()

	id := f.addStrategy(t, customRecord("trail", domain.CustomParams{
		TakeProfit:   100,
		StopLoss:     50,
		TrailingStop: f64(10),
	}))
	posID := f.openPaper(t, id, 0.50)

	// Peak at +30%.
	f.feed.set("token-1", 0.65)
	require.NoError(t, f.executor.Run(ctx))

	// Simulate a restart: a fresh executor reads the persisted runtime.
	restarted := NewStrategyExecutor(
		f.positions, f.runtimes, f.strategies, nil, f.feed, f.svc, testLogger(),
	)

	// Drop to +18%: drawdown from the persisted peak is 12 >= 10.
	f.feed.set("token-1", 0.59)
	require.NoError(t, restarted.Run(ctx))

	stored, err := f.positions.Get(ctx, posID)
	require.NoError(t, err)
	assert.Equal(t, domain.PositionStatusClosed, stored.Status, "the trail fires off the persisted peak")
}

func TestExecutorIgnoresDisabledStrategy(t *testing.T) {
	f := newExecutorFixture()
	ctx := context.Background()

	rec := customRecord("tp20", domain.CustomParams{TakeProfit: 20, StopLoss: 10})
	rec.Enabled = false
	id := f.addStrategy(t, rec)
	posID := f.openPaper(t, id, 0.50)

	f.feed.set("token-1", 0.70)
	require.NoError(t, f.executor.Run(ctx))

	stored, err := f.positions.Get(ctx, posID)
	require.NoError(t, err)
	assert.Equal(t, domain.PositionStatusOpen, stored.Status, "disabled strategies only refresh the price")
	assert.Equal(t, 0.70, stored.CurrentPrice)
}

func TestExecutorRecompilesOnStrategyUpdate(t *testing.T) {
	f := newExecutorFixture()
	ctx := context.Background()

	rec := customRecord("tp", domain.CustomParams{TakeProfit: 50, StopLoss: 50})
	id := f.addStrategy(t, rec)
	posID := f.openPaper(t, id, 0.50)

	f.feed.set("token-1", 0.60)
	require.NoError(t, f.executor.Run(ctx))
	stored, _ := f.positions.Get(ctx, posID)
	require.Equal(t, domain.PositionStatusOpen, stored.Status)

	// Tighten the take-profit; the cached build must be replaced.
	time.Sleep(time.Millisecond)
	rec.Custom.TakeProfit = 15
	require.NoError(t, f.strategies.Update(ctx, rec))

	require.NoError(t, f.executor.Run(ctx))
	stored, _ = f.positions.Get(ctx, posID)
	assert.Equal(t, domain.PositionStatusClosed, stored.Status)
}
