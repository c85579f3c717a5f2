package domain

import "time"

// TradeSignal is emitted by an upstream signal source (chat monitoring,
// scoring pipeline) to request a position entry. The bot only consumes these;
// how they are produced is out of scope.
type TradeSignal struct {
	ID             string
	MarketID       string
	TokenID        string
	MarketQuestion string
	Side           string // outcome label, e.g. "Yes"
	Confidence     float64
	PriceAtSignal  float64
	Source         string // originating channel, keys per-source overrides
	CreatedAt      time.Time
}

// BotStatus is a summary of the bot's operational state.
type BotStatus struct {
	Status        string
	StartedAt     *time.Time
	StoppedAt     *time.Time
	UptimeSeconds int64
	ErrorMessage  string
	Tasks         []TaskStatus
}

// TaskStatus describes one recurring bot task.
type TaskStatus struct {
	Name            string
	Enabled         bool
	IntervalSeconds int
	LastRun         *time.Time
	RunCount        int64
	ErrorCount      int64
	LastError       string
}
