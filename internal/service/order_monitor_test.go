package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmonteroh/polysignal/internal/domain"
)

type monitorFixture struct {
	*positionFixture
	monitor *OrderMonitor
}

func newMonitorFixture() *monitorFixture {
	gateway := newFakeGateway()
	f := newPositionFixture(gateway)
	return &monitorFixture{
		positionFixture: f,
		monitor:         NewOrderMonitor(f.positions, f.orders, gateway, f.svc, testLogger()),
	}
}

func livePosition(id string, status domain.PositionStatus) *domain.Position {
	return &domain.Position{
		ID:            id,
		MarketID:      "market-" + id,
		TokenID:       "token-1",
		Side:          "Yes",
		EntryPrice:    0.50,
		CurrentPrice:  0.50,
		Size:          50,
		SharesOrdered: 100,
		Status:        status,
		TradingMode:   domain.TradingModeLive,
		OpenedAt:      time.Now().UTC(),
	}
}

func TestMonitorEntryFillOpensPosition(t *testing.T) {
	f := newMonitorFixture()
	ctx := context.Background()

	pos := livePosition("p1", domain.PositionStatusPending)
	pos.EntryOrderID = "ex-1"
	f.positions.put(pos)

	avg := 0.49
	f.gateway.orders["ex-1"] = domain.OrderResult{
		Success:    true,
		OrderID:    "ex-1",
		Status:     domain.OrderStatusFilled,
		FilledSize: 100,
		AvgPrice:   &avg,
	}

	require.NoError(t, f.monitor.Run(ctx))

	stored, err := f.positions.Get(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, domain.PositionStatusOpen, stored.Status)
	assert.InDelta(t, 100, stored.SharesFilled, 1e-9)
	assert.Equal(t, 0.49, stored.EntryPrice, "entry re-priced to the average fill")
}

func TestMonitorDeadEntryFailsPosition(t *testing.T) {
	f := newMonitorFixture()
	ctx := context.Background()

	pos := livePosition("p1", domain.PositionStatusPending)
	pos.EntryOrderID = "ex-1"
	f.positions.put(pos)

	f.gateway.orders["ex-1"] = domain.OrderResult{Status: domain.OrderStatusExpired}

	require.NoError(t, f.monitor.Run(ctx))

	stored, err := f.positions.Get(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, domain.PositionStatusFailed, stored.Status)
	assert.Contains(t, stored.LastOrderError, "expired")
}

func TestMonitorExitFillClosesPosition(t *testing.T) {
	f := newMonitorFixture()
	ctx := context.Background()

	pos := livePosition("p1", domain.PositionStatusClosing)
	pos.SharesFilled = 100
	pos.ExitOrderID = "ex-exit-1"
	f.positions.put(pos)

	avg := 0.62
	f.gateway.orders["ex-exit-1"] = domain.OrderResult{
		Success:    true,
		OrderID:    "ex-exit-1",
		Status:     domain.OrderStatusMatched,
		FilledSize: 100,
		AvgPrice:   &avg,
	}

	require.NoError(t, f.monitor.Run(ctx))

	stored, err := f.positions.Get(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, domain.PositionStatusClosed, stored.Status)
	require.NotNil(t, stored.ExitPrice)
	assert.Equal(t, 0.62, *stored.ExitPrice)
	// (0.62-0.50) * 50 / 0.50 = 12
	assert.InDelta(t, 12, stored.RealizedPnL, 1e-9)
}

func TestMonitorCancelledExitRevertsToOpen(t *testing.T) {
	f := newMonitorFixture()
	ctx := context.Background()

	pos := livePosition("p1", domain.PositionStatusClosing)
	pos.SharesFilled = 100
	pos.ExitOrderID = "ex-exit-1"
	pos.ExitOrderStatus = domain.OrderStatusOpen
	f.positions.put(pos)

	f.gateway.orders["ex-exit-1"] = domain.OrderResult{Status: domain.OrderStatusCancelled}

	require.NoError(t, f.monitor.Run(ctx))

	stored, err := f.positions.Get(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, domain.PositionStatusOpen, stored.Status, "a dead exit order re-opens the position")
	assert.Empty(t, stored.ExitOrderID, "exit order fields cleared for the next attempt")
	assert.Empty(t, string(stored.ExitOrderStatus))
	assert.Contains(t, stored.LastOrderError, "cancelled")
}

func TestMonitorPartialExitFillSettlesFraction(t *testing.T) {
	f := newMonitorFixture()
	ctx := context.Background()

	pos := livePosition("p1", domain.PositionStatusClosing)
	pos.SharesFilled = 100
	pos.ExitOrderID = "ex-exit-1"
	f.positions.put(pos)

	// Local ledger knows the exit order covered half the shares.
	require.NoError(t, f.orders.Create(ctx, &domain.Order{
		ID:         "o1",
		PositionID: "p1",
		ExchangeID: "ex-exit-1",
		Side:       domain.OrderSideSell,
		Size:       50,
		Status:     domain.OrderStatusOpen,
	}))

	avg := 0.60
	f.gateway.orders["ex-exit-1"] = domain.OrderResult{
		Success:    true,
		Status:     domain.OrderStatusFilled,
		FilledSize: 50,
		AvgPrice:   &avg,
	}

	require.NoError(t, f.monitor.Run(ctx))

	stored, err := f.positions.Get(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, domain.PositionStatusOpen, stored.Status, "half the position remains open")
	assert.InDelta(t, 25, stored.Size, 1e-9)
	assert.InDelta(t, 50, stored.SharesFilled, 1e-9)
	assert.InDelta(t, 5, stored.RealizedPnL, 1e-9)
}

func TestMonitorIsolatesFailures(t *testing.T) {
	f := newMonitorFixture()
	ctx := context.Background()

	// p1's order is unknown to the exchange; p2's entry fill must still land.
	p1 := livePosition("p1", domain.PositionStatusPending)
	p1.EntryOrderID = "missing"
	f.positions.put(p1)

	p2 := livePosition("p2", domain.PositionStatusPending)
	p2.EntryOrderID = "ex-2"
	f.positions.put(p2)

	f.gateway.orders["ex-2"] = domain.OrderResult{
		Success:    true,
		Status:     domain.OrderStatusFilled,
		FilledSize: 100,
	}

	err := f.monitor.Run(ctx)
	require.Error(t, err, "the sweep reports the failure")

	stored, getErr := f.positions.Get(ctx, "p2")
	require.NoError(t, getErr)
	assert.Equal(t, domain.PositionStatusOpen, stored.Status, "other positions still reconcile")
}

func TestMonitorSkipsPaperPositions(t *testing.T) {
	f := newMonitorFixture()
	ctx := context.Background()

	pos := livePosition("p1", domain.PositionStatusPending)
	pos.TradingMode = domain.TradingModePaper
	f.positions.put(pos)

	require.NoError(t, f.monitor.Run(ctx))

	stored, err := f.positions.Get(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, domain.PositionStatusPending, stored.Status, "paper positions are not reconciled")
}
