package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmonteroh/polysignal/internal/domain"
)

type consumerFixture struct {
	*positionFixture
	strategies  *memStrategies
	strategySvc *StrategyService
	bus         *fakeBus
	consumer    *SignalConsumer
}

func newConsumerFixture() *consumerFixture {
	pf := newPositionFixture(nil)
	strategies := newMemStrategies()
	strategySvc := NewStrategyService(strategies, pf.positions, pf.audit, testLogger())
	bus := &fakeBus{}
	return &consumerFixture{
		positionFixture: pf,
		strategies:      strategies,
		strategySvc:     strategySvc,
		bus:             bus,
		consumer: NewSignalConsumer(
			bus, pf.settings, strategySvc, pf.svc, "polysignal", "bot-1", testLogger(),
		),
	}
}

func TestConsumerOpensPositionFromSignal(t *testing.T) {
	f := newConsumerFixture()
	ctx := context.Background()
	f.feed.set("token-1", 0.50)

	require.NoError(t, f.bus.Publish(ctx, testSignal()))
	require.NoError(t, f.consumer.Run(ctx))

	open, err := f.positions.ListByStatus(ctx, domain.PositionStatusOpen)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, "market-1", open[0].MarketID)
	assert.Equal(t, 50.0, open[0].Size, "default position size applies without a multiplier")

	assert.Equal(t, []string{"sig-1"}, f.bus.acked)
}

func TestConsumerFiltersLowConfidence(t *testing.T) {
	f := newConsumerFixture()
	ctx := context.Background()
	f.feed.set("token-1", 0.50)

	sig := testSignal()
	sig.Confidence = 0.5 // below the 0.7 default threshold
	require.NoError(t, f.bus.Publish(ctx, sig))
	require.NoError(t, f.consumer.Run(ctx))

	open, err := f.positions.ListByStatus(ctx, domain.PositionStatusOpen)
	require.NoError(t, err)
	assert.Empty(t, open)
	assert.Equal(t, []string{"sig-1"}, f.bus.acked, "filtered signals are still acknowledged")
}

func TestConsumerAcksDuplicates(t *testing.T) {
	f := newConsumerFixture()
	ctx := context.Background()
	f.feed.set("token-1", 0.50)

	require.NoError(t, f.bus.Publish(ctx, testSignal()))
	sig := testSignal()
	sig.ID = "sig-2"
	require.NoError(t, f.bus.Publish(ctx, sig))

	require.NoError(t, f.consumer.Run(ctx))

	open, err := f.positions.ListByStatus(ctx, domain.PositionStatusOpen)
	require.NoError(t, err)
	assert.Len(t, open, 1, "one market, one position")
	assert.ElementsMatch(t, []string{"sig-1", "sig-2"}, f.bus.acked)
}

func TestConsumerAcksRiskRejections(t *testing.T) {
	f := newConsumerFixture()
	ctx := context.Background()
	f.feed.set("token-1", 0.50)

	limits := domain.DefaultRiskLimits()
	limits.MaxPositionSize = 1
	f.settings.limits = &limits

	require.NoError(t, f.bus.Publish(ctx, testSignal()))
	require.NoError(t, f.consumer.Run(ctx))

	open, err := f.positions.ListByStatus(ctx, domain.PositionStatusOpen)
	require.NoError(t, err)
	assert.Empty(t, open)
	assert.Equal(t, []string{"sig-1"}, f.bus.acked, "a risk rejection is a final outcome")
}

func TestConsumerAttachesMatchingSourceStrategy(t *testing.T) {
	f := newConsumerFixture()
	ctx := context.Background()
	f.feed.set("token-1", 0.50)

	// A generic strategy and an advanced one keyed to the signal's source.
	require.NoError(t, f.strategies.Create(ctx, customRecord("a-default", domain.CustomParams{
		TakeProfit: 20, StopLoss: 10,
	})))
	require.NoError(t, f.strategies.Create(ctx, &domain.StrategyRecord{
		Name:    "alpha-tuned",
		Kind:    domain.StrategyKindAdvanced,
		Enabled: true,
		Advanced: &domain.AdvancedParams{
			TakeProfit: 30,
			StopLoss:   15,
			Sources: []domain.SourceParams{
				{Source: "alpha", SizeMultiplier: 1.5},
			},
		},
	}))

	require.NoError(t, f.bus.Publish(ctx, testSignal()))
	require.NoError(t, f.consumer.Run(ctx))

	open, err := f.positions.ListByStatus(ctx, domain.PositionStatusOpen)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, "alpha-tuned", open[0].StrategyName, "the source-matched strategy wins")
	assert.InDelta(t, 75, open[0].Size, 1e-9, "the per-source multiplier scales the entry")
}

func TestConsumerCapsSizeAtMax(t *testing.T) {
	f := newConsumerFixture()
	ctx := context.Background()
	f.feed.set("token-1", 0.50)

	require.NoError(t, f.strategies.Create(ctx, &domain.StrategyRecord{
		Name:    "big",
		Kind:    domain.StrategyKindAdvanced,
		Enabled: true,
		Advanced: &domain.AdvancedParams{
			TakeProfit: 30,
			StopLoss:   15,
			Sources: []domain.SourceParams{
				{Source: "alpha", SizeMultiplier: 10},
			},
		},
	}))

	require.NoError(t, f.bus.Publish(ctx, testSignal()))
	require.NoError(t, f.consumer.Run(ctx))

	open, err := f.positions.ListByStatus(ctx, domain.PositionStatusOpen)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.InDelta(t, 100, open[0].Size, 1e-9, "sizing never exceeds the configured max")
}

func TestConsumerDropsMalformedSignals(t *testing.T) {
	f := newConsumerFixture()
	ctx := context.Background()

	sig := testSignal()
	sig.MarketID = ""
	require.NoError(t, f.bus.Publish(ctx, sig))
	require.NoError(t, f.consumer.Run(ctx))

	open, err := f.positions.ListByStatus(ctx, domain.PositionStatusOpen)
	require.NoError(t, err)
	assert.Empty(t, open)
	assert.Equal(t, []string{"sig-1"}, f.bus.acked)
}
