package service

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmonteroh/polysignal/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestRisk(settings *memSettings, positions *memPositions, audit *memAudit) *RiskService {
	return NewRiskService(settings, positions, audit, 1000, testLogger())
}

func TestRiskSeedsStateOnFirstStart(t *testing.T) {
	settings := &memSettings{}
	risk := newTestRisk(settings, newMemPositions(), &memAudit{})

	st, err := risk.State(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1000.0, st.Capital)
	assert.Equal(t, 1000.0, st.PeakCapital)
	assert.Zero(t, st.DailyPnL)
	assert.NotEmpty(t, st.DailyDate)
}

func TestRiskPositionSizeAgainstPortfolioRisk(t *testing.T) {
	settings := &memSettings{}
	risk := newTestRisk(settings, newMemPositions(), &memAudit{})

	// With 1000 capital and a 2% portfolio-risk cap, anything over 20 is
	// rejected even though the absolute cap (100) would allow it.
	err := risk.ValidatePositionSize(context.Background(), 50)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "portfolio risk")

	assert.NoError(t, risk.ValidatePositionSize(context.Background(), 20))
}

func TestRiskPositionSizeAbsoluteCap(t *testing.T) {
	settings := &memSettings{}
	limits := domain.DefaultRiskLimits()
	limits.MaxPositionSize = 10
	limits.MaxPortfolioRiskPercent = 100
	settings.limits = &limits

	risk := newTestRisk(settings, newMemPositions(), &memAudit{})

	err := risk.ValidatePositionSize(context.Background(), 11)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds max")
}

func TestRiskValidateTradeCollectsAllViolations(t *testing.T) {
	settings := &memSettings{}
	limits := domain.DefaultRiskLimits()
	limits.MaxPositionSize = 10
	limits.MaxDailyLoss = 100
	limits.MaxOpenPositions = 1
	settings.limits = &limits
	settings.state = &domain.RiskState{
		Capital:     500,
		PeakCapital: 1000, // 50% drawdown, over the 10% limit
		DailyPnL:    -150, // past the daily-loss limit
		DailyDate:   utcDate(time.Now()),
	}

	positions := newMemPositions()
	positions.put(&domain.Position{ID: "p1", MarketID: "m1", Side: "Yes", Status: domain.PositionStatusOpen})

	audit := &memAudit{}
	risk := newTestRisk(settings, positions, audit)

	err := risk.ValidateTrade(context.Background(), 50)
	require.ErrorIs(t, err, domain.ErrRiskRejected)

	// Every failed check is named, not just the first.
	assert.Contains(t, err.Error(), "position size")
	assert.Contains(t, err.Error(), "daily loss")
	assert.Contains(t, err.Error(), "drawdown")
	assert.Contains(t, err.Error(), "open positions")

	assert.Contains(t, audit.actions(), "risk_rejected")
}

func TestRiskFlatDayPassesZeroLossLimit(t *testing.T) {
	settings := &memSettings{}
	limits := domain.DefaultRiskLimits()
	limits.MaxDailyLoss = 0
	settings.limits = &limits

	risk := newTestRisk(settings, newMemPositions(), &memAudit{})

	// No pnl recorded today: the daily-loss check only trips on an actual
	// loss, so a zero limit does not block a flat book.
	assert.NoError(t, risk.ValidateTrade(context.Background(), 10))

	require.NoError(t, risk.RecordDailyPnL(context.Background(), -0.5))
	err := risk.ValidateTrade(context.Background(), 10)
	require.ErrorIs(t, err, domain.ErrRiskRejected)
	assert.Contains(t, err.Error(), "daily loss")
}

func TestRiskDisabledPassesEverything(t *testing.T) {
	settings := &memSettings{}
	limits := domain.DefaultRiskLimits()
	limits.Enabled = false
	settings.limits = &limits
	settings.state = &domain.RiskState{
		Capital:     1,
		PeakCapital: 1000,
		DailyPnL:    -10000,
		DailyDate:   utcDate(time.Now()),
	}

	risk := newTestRisk(settings, newMemPositions(), &memAudit{})

	assert.NoError(t, risk.ValidateTrade(context.Background(), 1_000_000))
	assert.NoError(t, risk.ValidatePositionSize(context.Background(), 1_000_000))
}

func TestRiskDailyRollover(t *testing.T) {
	settings := &memSettings{}
	settings.state = &domain.RiskState{
		Capital:     900,
		PeakCapital: 1000,
		DailyPnL:    -150,
		DailyDate:   "2020-01-01",
	}

	risk := newTestRisk(settings, newMemPositions(), &memAudit{})

	st, err := risk.State(context.Background())
	require.NoError(t, err)
	assert.Zero(t, st.DailyPnL, "stale daily pnl must reset on a new UTC day")
	assert.Equal(t, utcDate(time.Now()), st.DailyDate)
	assert.Equal(t, 900.0, st.Capital, "capital survives the rollover")
}

func TestRiskRecordDailyPnL(t *testing.T) {
	settings := &memSettings{}
	risk := newTestRisk(settings, newMemPositions(), &memAudit{})
	ctx := context.Background()

	require.NoError(t, risk.RecordDailyPnL(ctx, 50))
	require.NoError(t, risk.RecordDailyPnL(ctx, -20))

	st, err := risk.State(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 30, st.DailyPnL, 1e-9)
	assert.InDelta(t, 1030, st.Capital, 1e-9)
	assert.InDelta(t, 1050, st.PeakCapital, 1e-9, "peak holds the high point")
}
