package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jmonteroh/polysignal/internal/domain"
)

// Settings keys in the key/value settings table.
const (
	settingsKeyRiskLimits = "risk_limits"
	settingsKeyTrading    = "trading"
	settingsKeyRiskState  = "risk_state"
)

// SettingsStore implements domain.SettingsStore using a JSONB key/value table.
type SettingsStore struct {
	pool *pgxpool.Pool
}

// NewSettingsStore creates a new SettingsStore backed by the given connection pool.
func NewSettingsStore(pool *pgxpool.Pool) *SettingsStore {
	return &SettingsStore{pool: pool}
}

func (s *SettingsStore) get(ctx context.Context, key string, dst any) error {
	var value []byte
	err := s.pool.QueryRow(ctx,
		`SELECT value FROM settings WHERE key = $1`, key).Scan(&value)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ErrNotFound
		}
		return fmt.Errorf("postgres: get setting %s: %w", key, err)
	}
	if err := json.Unmarshal(value, dst); err != nil {
		return fmt.Errorf("postgres: unmarshal setting %s: %w", key, err)
	}
	return nil
}

func (s *SettingsStore) put(ctx context.Context, key string, v any) error {
	value, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("postgres: marshal setting %s: %w", key, err)
	}

	const query = `
		INSERT INTO settings (key, value) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()`
	if _, err := s.pool.Exec(ctx, query, key, value); err != nil {
		return fmt.Errorf("postgres: put setting %s: %w", key, err)
	}
	return nil
}

// RiskLimits returns the persisted risk limits, or the defaults when none
// have been saved yet.
func (s *SettingsStore) RiskLimits(ctx context.Context) (domain.RiskLimits, error) {
	var l domain.RiskLimits
	err := s.get(ctx, settingsKeyRiskLimits, &l)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.DefaultRiskLimits(), nil
	}
	if err != nil {
		return domain.RiskLimits{}, err
	}
	return l, nil
}

// SaveRiskLimits persists the risk limits.
func (s *SettingsStore) SaveRiskLimits(ctx context.Context, l domain.RiskLimits) error {
	return s.put(ctx, settingsKeyRiskLimits, l)
}

// Trading returns the persisted trading settings, or the defaults when none
// have been saved yet.
func (s *SettingsStore) Trading(ctx context.Context) (domain.TradingSettings, error) {
	var t domain.TradingSettings
	err := s.get(ctx, settingsKeyTrading, &t)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.DefaultTradingSettings(), nil
	}
	if err != nil {
		return domain.TradingSettings{}, err
	}
	return t, nil
}

// SaveTrading persists the trading settings.
func (s *SettingsStore) SaveTrading(ctx context.Context, t domain.TradingSettings) error {
	return s.put(ctx, settingsKeyTrading, t)
}

// RiskState returns the persisted portfolio risk state. ErrNotFound means the
// bot has never recorded state; the risk service seeds it from config.
func (s *SettingsStore) RiskState(ctx context.Context) (domain.RiskState, error) {
	var st domain.RiskState
	if err := s.get(ctx, settingsKeyRiskState, &st); err != nil {
		return domain.RiskState{}, err
	}
	return st, nil
}

// SaveRiskState persists the portfolio risk state.
func (s *SettingsStore) SaveRiskState(ctx context.Context, st domain.RiskState) error {
	return s.put(ctx, settingsKeyRiskState, st)
}

// Compile-time interface check.
var _ domain.SettingsStore = (*SettingsStore)(nil)
