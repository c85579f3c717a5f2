package domain

import "time"

// Market is the slice of exchange market metadata the bot needs to open and
// track positions.
type Market struct {
	ID        string // condition id
	Question  string
	Outcomes  []string
	TokenIDs  []string // parallel to Outcomes
	Active    bool
	EndDate   *time.Time
	FetchedAt time.Time
}

// TokenFor returns the token id of the named outcome, or "".
func (m Market) TokenFor(outcome string) string {
	for i, o := range m.Outcomes {
		if o == outcome && i < len(m.TokenIDs) {
			return m.TokenIDs[i]
		}
	}
	return ""
}

// PriceChange is a single price update from the market data feed.
type PriceChange struct {
	AssetID   string
	Price     float64
	Timestamp time.Time
}
