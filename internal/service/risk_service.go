package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/jmonteroh/polysignal/internal/domain"
)

// RiskService runs the portfolio-level pre-trade checks and maintains the
// running risk state (capital, peak capital, daily pnl). The daily pnl bucket
// rolls over lazily: the first check or pnl record on a new UTC day resets it.
type RiskService struct {
	settings  domain.SettingsStore
	positions domain.PositionStore
	audit     domain.AuditStore
	logger    *slog.Logger

	initialCapital float64

	mu sync.Mutex
}

// NewRiskService creates a RiskService. initialCapital seeds the risk state
// the first time the bot starts, before any state has been persisted.
func NewRiskService(
	settings domain.SettingsStore,
	positions domain.PositionStore,
	audit domain.AuditStore,
	initialCapital float64,
	logger *slog.Logger,
) *RiskService {
	return &RiskService{
		settings:       settings,
		positions:      positions,
		audit:          audit,
		initialCapital: initialCapital,
		logger:         logger,
	}
}

// state loads the persisted risk state, seeding it from the configured
// initial capital on first start and rolling the daily pnl bucket over when
// the UTC date has changed since the last write.
func (s *RiskService) state(ctx context.Context) (domain.RiskState, error) {
	st, err := s.settings.RiskState(ctx)
	if errors.Is(err, domain.ErrNotFound) {
		st = domain.RiskState{
			Capital:     s.initialCapital,
			PeakCapital: s.initialCapital,
			DailyDate:   utcDate(time.Now()),
		}
		if saveErr := s.settings.SaveRiskState(ctx, st); saveErr != nil {
			return domain.RiskState{}, fmt.Errorf("risk_service: seed state: %w", saveErr)
		}
		s.logger.InfoContext(ctx, "risk_service: state seeded",
			slog.Float64("capital", st.Capital),
		)
		return st, nil
	}
	if err != nil {
		return domain.RiskState{}, fmt.Errorf("risk_service: load state: %w", err)
	}

	if today := utcDate(time.Now()); st.DailyDate != today {
		st.DailyPnL = 0
		st.DailyDate = today
		if saveErr := s.settings.SaveRiskState(ctx, st); saveErr != nil {
			return domain.RiskState{}, fmt.Errorf("risk_service: roll over daily pnl: %w", saveErr)
		}
		s.logger.InfoContext(ctx, "risk_service: daily pnl rolled over",
			slog.String("date", today),
		)
	}
	return st, nil
}

// State returns the current risk state after applying any pending daily
// rollover.
func (s *RiskService) State(ctx context.Context) (domain.RiskState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state(ctx)
}

// ValidatePositionSize checks a proposed position size against the absolute
// cap and the portfolio-risk cap (a percentage of current capital).
func (s *RiskService) ValidatePositionSize(ctx context.Context, size float64) error {
	limits, err := s.settings.RiskLimits(ctx)
	if err != nil {
		return fmt.Errorf("risk_service: load limits: %w", err)
	}
	if !limits.Enabled {
		return nil
	}

	s.mu.Lock()
	st, err := s.state(ctx)
	s.mu.Unlock()
	if err != nil {
		return err
	}

	return s.checkPositionSize(size, limits, st)
}

func (s *RiskService) checkPositionSize(size float64, limits domain.RiskLimits, st domain.RiskState) error {
	if size <= 0 {
		return fmt.Errorf("position size must be positive, got %.2f", size)
	}
	if size > limits.MaxPositionSize {
		return fmt.Errorf("position size %.2f exceeds max %.2f", size, limits.MaxPositionSize)
	}
	if maxRisk := st.Capital * limits.MaxPortfolioRiskPercent / 100; size > maxRisk {
		return fmt.Errorf("position size %.2f exceeds portfolio risk limit %.2f (%.1f%% of %.2f capital)",
			size, maxRisk, limits.MaxPortfolioRiskPercent, st.Capital)
	}
	return nil
}

func (s *RiskService) checkDailyLoss(limits domain.RiskLimits, st domain.RiskState) error {
	// Only an actual loss counts; a flat day passes even with a zero limit.
	if st.DailyPnL < 0 && -st.DailyPnL >= limits.MaxDailyLoss {
		return fmt.Errorf("daily loss %.2f has reached the limit %.2f", -st.DailyPnL, limits.MaxDailyLoss)
	}
	return nil
}

func (s *RiskService) checkDrawdown(limits domain.RiskLimits, st domain.RiskState) error {
	if st.PeakCapital <= 0 {
		return nil
	}
	drawdown := (st.PeakCapital - st.Capital) / st.PeakCapital * 100
	if drawdown >= limits.MaxDrawdownPercent {
		return fmt.Errorf("drawdown %.1f%% has reached the limit %.1f%%", drawdown, limits.MaxDrawdownPercent)
	}
	return nil
}

func (s *RiskService) checkOpenPositions(ctx context.Context, limits domain.RiskLimits) error {
	open, err := s.positions.ListByStatus(ctx,
		domain.PositionStatusPending, domain.PositionStatusOpen, domain.PositionStatusClosing)
	if err != nil {
		return fmt.Errorf("risk_service: count open positions: %w", err)
	}
	if len(open) >= limits.MaxOpenPositions {
		return fmt.Errorf("open positions %d at the limit %d", len(open), limits.MaxOpenPositions)
	}
	return nil
}

// ValidateTrade runs every pre-trade check and collects all violations
// instead of stopping at the first, so a rejection names everything wrong
// with the trade. A rejection is recorded in the audit trail and wraps
// ErrRiskRejected.
func (s *RiskService) ValidateTrade(ctx context.Context, size float64) error {
	limits, err := s.settings.RiskLimits(ctx)
	if err != nil {
		return fmt.Errorf("risk_service: load limits: %w", err)
	}
	if !limits.Enabled {
		return nil
	}

	s.mu.Lock()
	st, err := s.state(ctx)
	s.mu.Unlock()
	if err != nil {
		return err
	}

	var violations []string
	if checkErr := s.checkPositionSize(size, limits, st); checkErr != nil {
		violations = append(violations, checkErr.Error())
	}
	if checkErr := s.checkDailyLoss(limits, st); checkErr != nil {
		violations = append(violations, checkErr.Error())
	}
	if checkErr := s.checkDrawdown(limits, st); checkErr != nil {
		violations = append(violations, checkErr.Error())
	}
	if checkErr := s.checkOpenPositions(ctx, limits); checkErr != nil {
		violations = append(violations, checkErr.Error())
	}

	if len(violations) == 0 {
		return nil
	}

	s.logger.WarnContext(ctx, "risk_service: trade rejected",
		slog.Float64("size", size),
		slog.Int("violations", len(violations)),
	)
	if auditErr := s.audit.Append(ctx, &domain.AuditEntry{
		Action: "risk_rejected",
		Detail: map[string]any{
			"size":       size,
			"violations": violations,
		},
	}); auditErr != nil {
		s.logger.WarnContext(ctx, "risk_service: audit append failed",
			slog.String("error", auditErr.Error()),
		)
	}

	return fmt.Errorf("%w: %s", domain.ErrRiskRejected, strings.Join(violations, "; "))
}

// RecordDailyPnL folds a realized pnl into the risk state. Called exactly
// once per position close.
func (s *RiskService) RecordDailyPnL(ctx context.Context, pnl float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.state(ctx)
	if err != nil {
		return err
	}

	st.DailyPnL += pnl
	st.Capital += pnl
	if st.Capital > st.PeakCapital {
		st.PeakCapital = st.Capital
	}

	if err := s.settings.SaveRiskState(ctx, st); err != nil {
		return fmt.Errorf("risk_service: save state: %w", err)
	}

	s.logger.InfoContext(ctx, "risk_service: daily pnl recorded",
		slog.Float64("pnl", pnl),
		slog.Float64("daily_pnl", st.DailyPnL),
		slog.Float64("capital", st.Capital),
	)
	return nil
}

func utcDate(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}
