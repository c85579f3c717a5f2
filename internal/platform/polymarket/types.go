package polymarket

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/jmonteroh/polysignal/internal/domain"
)

// APIMarket is the Gamma API representation of a market. The API returns
// clobTokenIds and outcomes as JSON-encoded string arrays inside strings, so
// both get a lenient decoder.
type APIMarket struct {
	ConditionID  string   `json:"conditionId"`
	Question     string   `json:"question"`
	Outcomes     jsonList `json:"outcomes"`
	ClobTokenIDs jsonList `json:"clobTokenIds"`
	Active       bool     `json:"active"`
	Closed       bool     `json:"closed"`
	EndDate      string   `json:"endDate"`
}

// jsonList decodes either a JSON array of strings or a string containing a
// JSON array of strings.
type jsonList []string

func (l *jsonList) UnmarshalJSON(data []byte) error {
	var direct []string
	if err := json.Unmarshal(data, &direct); err == nil {
		*l = direct
		return nil
	}

	var nested string
	if err := json.Unmarshal(data, &nested); err != nil {
		return err
	}
	if strings.TrimSpace(nested) == "" {
		*l = nil
		return nil
	}
	var inner []string
	if err := json.Unmarshal([]byte(nested), &inner); err != nil {
		return err
	}
	*l = inner
	return nil
}

// ToDomain converts an APIMarket to a domain.Market.
func (m *APIMarket) ToDomain() domain.Market {
	out := domain.Market{
		ID:        m.ConditionID,
		Question:  m.Question,
		Outcomes:  m.Outcomes,
		TokenIDs:  m.ClobTokenIDs,
		Active:    m.Active && !m.Closed,
		FetchedAt: time.Now().UTC(),
	}
	if m.EndDate != "" {
		if t, err := time.Parse(time.RFC3339, m.EndDate); err == nil {
			out.EndDate = &t
		}
	}
	return out
}

// APIOrderResult is the CLOB API response to an order placement.
type APIOrderResult struct {
	Success         bool     `json:"success"`
	ErrorMsg        string   `json:"errorMsg"`
	OrderID         string   `json:"orderID"`
	Status          string   `json:"status"`
	TakingAmount    string   `json:"takingAmount"`
	MakingAmount    string   `json:"makingAmount"`
	TransactionHash []string `json:"transactionsHashes"`
}

// ToDomain converts an APIOrderResult to a domain.OrderResult. CLOB reports
// immediate executions with status "matched".
func (r *APIOrderResult) ToDomain() domain.OrderResult {
	out := domain.OrderResult{
		Success: r.Success,
		OrderID: r.OrderID,
		Status:  mapOrderStatus(r.Status),
		Error:   r.ErrorMsg,
	}
	if taking, err := strconv.ParseFloat(r.TakingAmount, 64); err == nil {
		out.FilledSize = taking
	}
	return out
}

// APIOrder is the CLOB API representation of an order on GET /data/order.
type APIOrder struct {
	ID           string `json:"id"`
	Status       string `json:"status"`
	AssetID      string `json:"asset_id"`
	Side         string `json:"side"`
	Price        string `json:"price"`
	OriginalSize string `json:"original_size"`
	SizeMatched  string `json:"size_matched"`
}

// ToDomainResult converts an APIOrder to a domain.OrderResult reflecting the
// exchange's current view of the order.
func (o *APIOrder) ToDomainResult() domain.OrderResult {
	out := domain.OrderResult{
		Success: true,
		OrderID: o.ID,
		Status:  mapOrderStatus(o.Status),
	}
	matched, mErr := strconv.ParseFloat(o.SizeMatched, 64)
	if mErr == nil {
		out.FilledSize = matched
	}
	if price, err := strconv.ParseFloat(o.Price, 64); err == nil && mErr == nil && matched > 0 {
		p := price
		out.AvgPrice = &p
	}

	// A live order fully matched but not yet settled still counts as filled.
	if out.Status == domain.OrderStatusOpen && mErr == nil {
		if orig, err := strconv.ParseFloat(o.OriginalSize, 64); err == nil && orig > 0 && matched >= orig {
			out.Status = domain.OrderStatusFilled
		}
	}
	return out
}

// mapOrderStatus normalizes CLOB status strings to domain.OrderStatus.
func mapOrderStatus(s string) domain.OrderStatus {
	switch strings.ToLower(s) {
	case "live", "open":
		return domain.OrderStatusOpen
	case "matched":
		return domain.OrderStatusMatched
	case "filled":
		return domain.OrderStatusFilled
	case "delayed", "unmatched", "pending":
		return domain.OrderStatusPending
	case "cancelled", "canceled":
		return domain.OrderStatusCancelled
	case "expired":
		return domain.OrderStatusExpired
	case "failed", "rejected":
		return domain.OrderStatusFailed
	default:
		return domain.OrderStatusPending
	}
}

// WSCommand is the JSON payload sent to the market WebSocket to subscribe or
// unsubscribe.
type WSCommand struct {
	Type    string   `json:"type"`
	Channel string   `json:"channel"`
	Assets  []string `json:"assets_ids"`
}

// PriceChangeMessage is an incremental price update from the "price_change"
// WebSocket channel.
type PriceChangeMessage struct {
	EventType string `json:"event_type"`
	AssetID   string `json:"asset_id"`
	Price     string `json:"price"`
	Timestamp string `json:"timestamp"`
}

// ToDomain converts a PriceChangeMessage to a domain.PriceChange.
func (p *PriceChangeMessage) ToDomain() domain.PriceChange {
	pc := domain.PriceChange{AssetID: p.AssetID}
	if v, err := strconv.ParseFloat(p.Price, 64); err == nil {
		pc.Price = v
	}
	if ms, err := strconv.ParseInt(p.Timestamp, 10, 64); err == nil {
		pc.Timestamp = time.UnixMilli(ms)
	} else {
		pc.Timestamp = time.Now().UTC()
	}
	return pc
}
