package domain

import (
	"context"
	"io"
)

// PriceFeed reads current market prices from the exchange.
type PriceFeed interface {
	// Price returns the current price of an outcome token, or
	// ErrPriceUnavailable when the exchange has no quote.
	Price(ctx context.Context, tokenID string) (float64, error)

	Prices(ctx context.Context, tokenIDs []string) (map[string]float64, error)
}

// OrderRequest describes an order to place on the exchange. Size is the share
// quantity, not USD.
type OrderRequest struct {
	TokenID string
	Side    OrderSide
	Type    OrderType
	Price   float64
	Size    float64
}

// OrderGateway places and tracks orders on the exchange.
type OrderGateway interface {
	// ValidateOrder checks the request against exchange constraints
	// (tick size, minimum size, balance) without placing it.
	ValidateOrder(ctx context.Context, req OrderRequest) error

	PlaceOrder(ctx context.Context, req OrderRequest) (OrderResult, error)
	CancelOrder(ctx context.Context, exchangeID string) error

	// GetOrder returns the exchange's current view of an order.
	GetOrder(ctx context.Context, exchangeID string) (OrderResult, error)
}

// BlobWriter uploads objects to blob storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
	PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error
}
