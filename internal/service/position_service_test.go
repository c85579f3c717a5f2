package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmonteroh/polysignal/internal/domain"
)

type positionFixture struct {
	positions *memPositions
	orders    *memOrders
	runtimes  *memRuntimes
	settings  *memSettings
	audit     *memAudit
	feed      *fakeFeed
	gateway   *fakeGateway
	risk      *RiskService
	svc       *PositionService
}

func newPositionFixture(gateway *fakeGateway) *positionFixture {
	f := &positionFixture{
		positions: newMemPositions(),
		orders:    newMemOrders(),
		runtimes:  newMemRuntimes(),
		settings:  &memSettings{},
		audit:     &memAudit{},
		feed:      newFakeFeed(),
		gateway:   gateway,
	}
	// Generous limits so only the tests that want a rejection trip them.
	limits := domain.DefaultRiskLimits()
	limits.MaxPositionSize = 1000
	limits.MaxPortfolioRiskPercent = 100
	f.settings.limits = &limits

	f.risk = NewRiskService(f.settings, f.positions, f.audit, 1000, testLogger())

	var gw domain.OrderGateway
	if gateway != nil {
		gw = gateway
	}
	f.svc = NewPositionService(
		f.positions, f.orders, f.runtimes, f.feed, gw,
		f.risk, f.settings, f.audit, nil, testLogger(),
	)
	return f
}

func testSignal() domain.TradeSignal {
	return domain.TradeSignal{
		ID:             "sig-1",
		MarketID:       "market-1",
		TokenID:        "token-1",
		MarketQuestion: "Will it happen?",
		Side:           "Yes",
		Confidence:     0.9,
		PriceAtSignal:  0.52,
		Source:         "alpha",
		CreatedAt:      time.Now().UTC(),
	}
}

func TestOpenPaperPosition(t *testing.T) {
	f := newPositionFixture(nil)
	f.feed.set("token-1", 0.50)
	ctx := context.Background()

	pos, err := f.svc.Open(ctx, OpenRequest{Signal: testSignal(), Size: 50})
	require.NoError(t, err)

	assert.Equal(t, domain.PositionStatusOpen, pos.Status)
	assert.Equal(t, domain.TradingModePaper, pos.TradingMode)
	assert.Equal(t, 0.50, pos.EntryPrice, "entry uses the live quote, not the signal price")
	assert.InDelta(t, 100, pos.SharesOrdered, 1e-9)
	assert.InDelta(t, 100, pos.SharesFilled, 1e-9)

	stored, err := f.positions.Get(ctx, pos.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PositionStatusOpen, stored.Status)
	assert.Contains(t, f.audit.actions(), "position_opened")
}

func TestOpenFallsBackToSignalPrice(t *testing.T) {
	f := newPositionFixture(nil)
	// No quote in the feed.
	pos, err := f.svc.Open(context.Background(), OpenRequest{Signal: testSignal(), Size: 50})
	require.NoError(t, err)
	assert.Equal(t, 0.52, pos.EntryPrice)
}

func TestOpenSuppressesDuplicate(t *testing.T) {
	f := newPositionFixture(nil)
	f.feed.set("token-1", 0.50)
	ctx := context.Background()

	first, err := f.svc.Open(ctx, OpenRequest{Signal: testSignal(), Size: 50})
	require.NoError(t, err)

	// A second signal for the same market and side returns the existing
	// position instead of opening another.
	sig := testSignal()
	sig.ID = "sig-2"
	second, err := f.svc.Open(ctx, OpenRequest{Signal: sig, Size: 50})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	all, err := f.positions.List(ctx, domain.PositionFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 1)

	// The other side of the same market is a distinct position.
	sig.ID = "sig-3"
	sig.Side = "No"
	_, err = f.svc.Open(ctx, OpenRequest{Signal: sig, Size: 50})
	assert.NoError(t, err)
}

func TestOpenRejectedByRisk(t *testing.T) {
	f := newPositionFixture(nil)
	f.feed.set("token-1", 0.50)
	limits := domain.DefaultRiskLimits()
	limits.MaxPositionSize = 10
	f.settings.limits = &limits

	_, err := f.svc.Open(context.Background(), OpenRequest{Signal: testSignal(), Size: 50})
	require.ErrorIs(t, err, domain.ErrRiskRejected)

	all, _ := f.positions.List(context.Background(), domain.PositionFilter{})
	assert.Empty(t, all, "rejected entries never reach the store")
}

func TestOpenLiveImmediateFill(t *testing.T) {
	gateway := newFakeGateway()
	avg := 0.51
	gateway.placeResult = domain.OrderResult{
		Success:    true,
		OrderID:    "ex-1",
		Status:     domain.OrderStatusMatched,
		FilledSize: 98,
		AvgPrice:   &avg,
	}

	f := newPositionFixture(gateway)
	f.feed.set("token-1", 0.50)
	trading := domain.DefaultTradingSettings()
	trading.LiveTrading = true
	f.settings.trading = &trading

	pos, err := f.svc.Open(context.Background(), OpenRequest{Signal: testSignal(), Size: 50})
	require.NoError(t, err)

	assert.Equal(t, domain.TradingModeLive, pos.TradingMode)
	assert.Equal(t, domain.PositionStatusOpen, pos.Status, "an immediate fill opens the position")
	assert.Equal(t, "ex-1", pos.EntryOrderID)
	assert.Equal(t, 0.51, pos.EntryPrice, "entry re-priced to the average fill")
	assert.InDelta(t, 98, pos.SharesFilled, 1e-9)

	require.Len(t, gateway.placed, 1)
	assert.Equal(t, domain.OrderSideBuy, gateway.placed[0].Side)
}

func TestOpenLiveRejectedOrderFailsPosition(t *testing.T) {
	gateway := newFakeGateway()
	gateway.placeResult = domain.OrderResult{Success: false, Error: "not enough balance"}

	f := newPositionFixture(gateway)
	f.feed.set("token-1", 0.50)
	trading := domain.DefaultTradingSettings()
	trading.LiveTrading = true
	f.settings.trading = &trading

	pos, err := f.svc.Open(context.Background(), OpenRequest{Signal: testSignal(), Size: 50})
	require.Error(t, err)
	require.NotNil(t, pos)

	stored, getErr := f.positions.Get(context.Background(), pos.ID)
	require.NoError(t, getErr)
	assert.Equal(t, domain.PositionStatusFailed, stored.Status)
	assert.Equal(t, "not enough balance", stored.LastOrderError)
}

func TestOpenStaysPaperWhenSwitchOff(t *testing.T) {
	gateway := newFakeGateway()
	f := newPositionFixture(gateway)
	f.feed.set("token-1", 0.50)
	// Default trading settings keep live trading off.

	pos, err := f.svc.Open(context.Background(), OpenRequest{Signal: testSignal(), Size: 50})
	require.NoError(t, err)
	assert.Equal(t, domain.TradingModePaper, pos.TradingMode)
	assert.Empty(t, gateway.placed, "no order reaches the exchange while the switch is off")
}

func TestClosePaperPositionFully(t *testing.T) {
	f := newPositionFixture(nil)
	f.feed.set("token-1", 0.50)
	ctx := context.Background()

	pos, err := f.svc.Open(ctx, OpenRequest{Signal: testSignal(), Size: 50})
	require.NoError(t, err)

	require.NoError(t, f.svc.Close(ctx, pos.ID, 0.60, 1, "take_profit"))

	stored, err := f.positions.Get(ctx, pos.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PositionStatusClosed, stored.Status)
	require.NotNil(t, stored.ExitPrice)
	assert.Equal(t, 0.60, *stored.ExitPrice)
	require.NotNil(t, stored.ClosedAt)
	// (0.60-0.50) * 50 / 0.50 = 10
	assert.InDelta(t, 10, stored.RealizedPnL, 1e-9)
	assert.InDelta(t, 20, stored.RealizedPnLPercent, 1e-9)

	st, err := f.risk.State(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 10, st.DailyPnL, 1e-9, "the close feeds the daily pnl exactly once")
}

func TestClosePaperPositionPartially(t *testing.T) {
	f := newPositionFixture(nil)
	f.feed.set("token-1", 0.50)
	ctx := context.Background()

	pos, err := f.svc.Open(ctx, OpenRequest{Signal: testSignal(), Size: 50})
	require.NoError(t, err)

	require.NoError(t, f.svc.Close(ctx, pos.ID, 0.60, 0.5, "partial_take_profit_1"))

	stored, err := f.positions.Get(ctx, pos.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PositionStatusOpen, stored.Status, "a partial exit keeps the position open")
	assert.InDelta(t, 25, stored.Size, 1e-9)
	assert.InDelta(t, 50, stored.SharesFilled, 1e-9)
	assert.InDelta(t, 5, stored.RealizedPnL, 1e-9)

	// Closing the rest realizes the remainder.
	require.NoError(t, f.svc.Close(ctx, pos.ID, 0.60, 1, "take_profit"))
	stored, err = f.positions.Get(ctx, pos.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PositionStatusClosed, stored.Status)
	assert.InDelta(t, 10, stored.RealizedPnL, 1e-9)

	st, err := f.risk.State(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 10, st.DailyPnL, 1e-9, "partial slices are never double counted")
}

func TestCloseOnlyFromOpen(t *testing.T) {
	f := newPositionFixture(nil)
	ctx := context.Background()

	pos := &domain.Position{
		ID:          "p1",
		MarketID:    "market-1",
		Side:        "Yes",
		EntryPrice:  0.50,
		Size:        50,
		Status:      domain.PositionStatusClosed,
		TradingMode: domain.TradingModePaper,
	}
	f.positions.put(pos)

	err := f.svc.Close(ctx, "p1", 0.60, 1, "take_profit")
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestCloseLivePlacesSellAndMovesToClosing(t *testing.T) {
	gateway := newFakeGateway()
	gateway.placeResult = domain.OrderResult{
		Success: true,
		OrderID: "ex-exit-1",
		Status:  domain.OrderStatusOpen,
	}

	f := newPositionFixture(gateway)
	ctx := context.Background()

	f.positions.put(&domain.Position{
		ID:            "p1",
		MarketID:      "market-1",
		TokenID:       "token-1",
		Side:          "Yes",
		EntryPrice:    0.50,
		Size:          50,
		SharesOrdered: 100,
		SharesFilled:  100,
		Status:        domain.PositionStatusOpen,
		TradingMode:   domain.TradingModeLive,
		OpenedAt:      time.Now().UTC(),
	})

	require.NoError(t, f.svc.Close(ctx, "p1", 0.60, 0.5, "partial_take_profit_1"))

	stored, err := f.positions.Get(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, domain.PositionStatusClosing, stored.Status)
	assert.Equal(t, "ex-exit-1", stored.ExitOrderID)

	require.Len(t, gateway.placed, 1)
	assert.Equal(t, domain.OrderSideSell, gateway.placed[0].Side)
	assert.InDelta(t, 50, gateway.placed[0].Size, 1e-9, "sell covers the exited fraction of shares")
}
