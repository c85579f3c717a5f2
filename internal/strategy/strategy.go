// Package strategy implements the exit-strategy decision engine. Strategies
// are pure decision functions: they read a position snapshot and the current
// price, fold the observation into the per-position runtime state, and return
// a verdict. Persisting the runtime state and acting on the verdict is the
// executor's job.
package strategy

import (
	"fmt"
	"time"

	"github.com/jmonteroh/polysignal/internal/domain"
)

// View is the position snapshot a strategy evaluates against.
type View struct {
	PositionID string
	Side       string
	Source     string
	EntryPrice float64
	Size       float64
	OpenedAt   time.Time
}

// Decision is the outcome of one evaluation. Fraction is the share of the
// remaining position to exit: 1 for a full exit, (0, 1) for a partial one.
type Decision struct {
	Exit     bool
	Reason   string
	Fraction float64
}

// ExitStrategy decides whether a position should be exited. Evaluate mutates
// rt (high-water mark, fired partial exits); the caller persists it.
type ExitStrategy interface {
	Name() string
	Evaluate(view View, currentPrice float64, rt *domain.StrategyRuntime) Decision
}

// FromRecord builds the executable strategy for a stored definition.
func FromRecord(rec *domain.StrategyRecord) (ExitStrategy, error) {
	switch rec.Kind {
	case domain.StrategyKindCustom:
		if rec.Custom == nil {
			return nil, fmt.Errorf("strategy: %s: missing custom params", rec.Name)
		}
		return NewCustom(rec.Name, *rec.Custom), nil
	case domain.StrategyKindAdvanced:
		if rec.Advanced == nil {
			return nil, fmt.Errorf("strategy: %s: missing advanced params", rec.Name)
		}
		return NewAdvanced(rec.Name, *rec.Advanced), nil
	default:
		return nil, fmt.Errorf("strategy: %s: unknown kind %q", rec.Name, rec.Kind)
	}
}

// hold is the no-exit decision.
var hold = Decision{}

func fullExit(reason string) Decision {
	return Decision{Exit: true, Reason: reason, Fraction: 1}
}
