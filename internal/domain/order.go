package domain

import "time"

// OrderSide indicates whether this is a buy or sell.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
)

// OrderType indicates the time-in-force policy.
type OrderType string

const (
	OrderTypeGTC OrderType = "GTC" // Good-Till-Cancelled
	OrderTypeFOK OrderType = "FOK" // Fill-Or-Kill, used for market-like execution
)

// OrderStatus tracks the exchange-side order lifecycle.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusOpen      OrderStatus = "open"
	OrderStatusFilled    OrderStatus = "filled"
	OrderStatusMatched   OrderStatus = "matched"
	OrderStatusPartial   OrderStatus = "partial"
	OrderStatusCancelled OrderStatus = "cancelled"
	OrderStatusExpired   OrderStatus = "expired"
	OrderStatusFailed    OrderStatus = "failed"
)

// IsFilled reports whether the status means the order fully executed.
func (s OrderStatus) IsFilled() bool {
	return s == OrderStatusFilled || s == OrderStatusMatched
}

// IsTerminalFailure reports whether the status means the order will never
// fill: cancelled, expired, or rejected outright.
func (s OrderStatus) IsTerminalFailure() bool {
	switch s {
	case OrderStatusCancelled, OrderStatusExpired, OrderStatusFailed:
		return true
	default:
		return false
	}
}

// Order is the local record of an exchange order. It is exclusively owned by
// its position and mutated only as the exchange reports progress.
type Order struct {
	ID           string
	PositionID   string
	ExchangeID   string // order id assigned by the exchange
	TokenID      string
	Side         OrderSide
	Type         OrderType
	Price        float64
	Size         float64 // shares requested
	FilledSize   float64
	AvgPrice     *float64
	Status       OrderStatus
	ErrorMessage string
	CreatedAt    time.Time
	UpdatedAt    *time.Time
}

// OrderResult wraps the exchange response for an order operation.
type OrderResult struct {
	Success    bool
	OrderID    string
	Status     OrderStatus
	FilledSize float64
	AvgPrice   *float64
	Error      string
}
