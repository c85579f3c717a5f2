package domain

// RiskLimits holds the tunable parameters for portfolio-level pre-trade
// checks. Enabled is the master switch: when false every check passes.
type RiskLimits struct {
	MaxPositionSize         float64
	MaxPortfolioRiskPercent float64
	MaxDailyLoss            float64
	MaxDrawdownPercent      float64
	MaxOpenPositions        int
	Enabled                 bool
}

// DefaultRiskLimits returns the limits applied when none are persisted.
func DefaultRiskLimits() RiskLimits {
	return RiskLimits{
		MaxPositionSize:         100,
		MaxPortfolioRiskPercent: 2,
		MaxDailyLoss:            200,
		MaxDrawdownPercent:      10,
		MaxOpenPositions:        10,
		Enabled:                 true,
	}
}

// TradingSettings is the persisted, reloadable settings blob carrying the
// live-trading switch and exchange-side caps. LiveTradingEnabled is a
// defense-in-depth gate separate from per-order checks: live orders are
// placed only while it is true.
type TradingSettings struct {
	LiveTrading         bool
	DefaultPositionSize float64
	MaxPositionSize     float64
	MaxOpenPositions    int
	MinConfidence       float64
}

// DefaultTradingSettings returns the settings applied when none are
// persisted. Live trading always starts disabled.
func DefaultTradingSettings() TradingSettings {
	return TradingSettings{
		LiveTrading:         false,
		DefaultPositionSize: 50,
		MaxPositionSize:     100,
		MaxOpenPositions:    10,
		MinConfidence:       0.7,
	}
}
