package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jmonteroh/polysignal/internal/domain"
	"github.com/jmonteroh/polysignal/internal/notify"
)

// SettingsService exposes the reloadable runtime settings with validation
// and an audit trail. Changes take effect on the next task cycle; nothing
// caches the settings across cycles.
type SettingsService struct {
	settings domain.SettingsStore
	audit    domain.AuditStore
	notifier *notify.Notifier
	logger   *slog.Logger
}

// NewSettingsService creates a SettingsService.
func NewSettingsService(
	settings domain.SettingsStore,
	audit domain.AuditStore,
	notifier *notify.Notifier,
	logger *slog.Logger,
) *SettingsService {
	return &SettingsService{
		settings: settings,
		audit:    audit,
		notifier: notifier,
		logger:   logger,
	}
}

// RiskLimits returns the active risk limits.
func (s *SettingsService) RiskLimits(ctx context.Context) (domain.RiskLimits, error) {
	limits, err := s.settings.RiskLimits(ctx)
	if err != nil {
		return domain.RiskLimits{}, fmt.Errorf("settings_service: load risk limits: %w", err)
	}
	return limits, nil
}

// UpdateRiskLimits validates and persists new risk limits.
func (s *SettingsService) UpdateRiskLimits(ctx context.Context, limits domain.RiskLimits, actor string) error {
	if limits.MaxPositionSize <= 0 {
		return fmt.Errorf("settings_service: max_position_size must be positive")
	}
	if limits.MaxPortfolioRiskPercent <= 0 || limits.MaxPortfolioRiskPercent > 100 {
		return fmt.Errorf("settings_service: max_portfolio_risk_percent must be in (0, 100]")
	}
	if limits.MaxDailyLoss <= 0 {
		return fmt.Errorf("settings_service: max_daily_loss must be positive")
	}
	if limits.MaxDrawdownPercent <= 0 || limits.MaxDrawdownPercent > 100 {
		return fmt.Errorf("settings_service: max_drawdown_percent must be in (0, 100]")
	}
	if limits.MaxOpenPositions <= 0 {
		return fmt.Errorf("settings_service: max_open_positions must be positive")
	}

	if err := s.settings.SaveRiskLimits(ctx, limits); err != nil {
		return fmt.Errorf("settings_service: save risk limits: %w", err)
	}

	s.auditAppend(ctx, "risk_limits_updated", actor, map[string]any{
		"max_position_size":          limits.MaxPositionSize,
		"max_portfolio_risk_percent": limits.MaxPortfolioRiskPercent,
		"max_daily_loss":             limits.MaxDailyLoss,
		"max_drawdown_percent":       limits.MaxDrawdownPercent,
		"max_open_positions":         limits.MaxOpenPositions,
		"enabled":                    limits.Enabled,
	})
	s.logger.InfoContext(ctx, "settings_service: risk limits updated",
		slog.String("actor", actor),
		slog.Bool("enabled", limits.Enabled),
	)
	return nil
}

// Trading returns the active trading settings.
func (s *SettingsService) Trading(ctx context.Context) (domain.TradingSettings, error) {
	trading, err := s.settings.Trading(ctx)
	if err != nil {
		return domain.TradingSettings{}, fmt.Errorf("settings_service: load trading settings: %w", err)
	}
	return trading, nil
}

// UpdateTrading validates and persists new trading settings. Flipping the
// live-trading switch is always notified, regardless of direction.
func (s *SettingsService) UpdateTrading(ctx context.Context, trading domain.TradingSettings, actor string) error {
	if trading.DefaultPositionSize <= 0 {
		return fmt.Errorf("settings_service: default_position_size must be positive")
	}
	if trading.MaxPositionSize < trading.DefaultPositionSize {
		return fmt.Errorf("settings_service: max_position_size below default_position_size")
	}
	if trading.MaxOpenPositions <= 0 {
		return fmt.Errorf("settings_service: max_open_positions must be positive")
	}
	if trading.MinConfidence < 0 || trading.MinConfidence > 1 {
		return fmt.Errorf("settings_service: min_confidence must be in [0, 1]")
	}

	prev, err := s.settings.Trading(ctx)
	if err != nil {
		return fmt.Errorf("settings_service: load trading settings: %w", err)
	}

	if err := s.settings.SaveTrading(ctx, trading); err != nil {
		return fmt.Errorf("settings_service: save trading settings: %w", err)
	}

	s.auditAppend(ctx, "trading_settings_updated", actor, map[string]any{
		"live_trading":          trading.LiveTrading,
		"default_position_size": trading.DefaultPositionSize,
		"max_position_size":     trading.MaxPositionSize,
		"max_open_positions":    trading.MaxOpenPositions,
		"min_confidence":        trading.MinConfidence,
	})

	if prev.LiveTrading != trading.LiveTrading {
		state := "disabled"
		if trading.LiveTrading {
			state = "ENABLED"
		}
		s.logger.WarnContext(ctx, "settings_service: live trading switched",
			slog.Bool("live_trading", trading.LiveTrading),
			slog.String("actor", actor),
		)
		if s.notifier != nil {
			if err := s.notifier.NotifyAll(ctx, "Live trading "+state,
				fmt.Sprintf("Live trading %s by %s", state, actor)); err != nil {
				s.logger.WarnContext(ctx, "settings_service: notify failed",
					slog.String("error", err.Error()),
				)
			}
		}
	}
	return nil
}

func (s *SettingsService) auditAppend(ctx context.Context, action, actor string, detail map[string]any) {
	if err := s.audit.Append(ctx, &domain.AuditEntry{Action: action, Actor: actor, Detail: detail}); err != nil {
		s.logger.WarnContext(ctx, "settings_service: audit append failed",
			slog.String("action", action),
			slog.String("error", err.Error()),
		)
	}
}
