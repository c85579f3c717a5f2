package polymarket

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/big"
	"math/rand"
	"net/http"
	"strconv"
	"time"

	"github.com/jmonteroh/polysignal/internal/crypto"
	"github.com/jmonteroh/polysignal/internal/domain"
)

// minOrderShares is the smallest share quantity the CLOB accepts.
const minOrderShares = 5.0

// usdcDecimals scales prices and sizes to the exchange's 6-decimal fixed
// point representation.
const usdcDecimals = 1_000_000

// ClobClient is the REST client for the Polymarket CLOB (Central Limit Order
// Book) API. It implements domain.PriceFeed for quotes and
// domain.OrderGateway for order placement, cancellation, and queries.
//
// The signer and HMAC credentials are optional: a paper-trading deployment
// can read prices without them, and live order calls fail with
// domain.ErrLiveTradingDisabled when they are absent.
type ClobClient struct {
	baseURL    string
	httpClient *http.Client
	signer     *crypto.Signer
	hmacAuth   *crypto.HMACAuth
}

// NewClobClient creates a new CLOB REST client.
//
// baseURL is the CLOB API root, e.g. "https://clob.polymarket.com".
func NewClobClient(baseURL string, signer *crypto.Signer, hmac *crypto.HMACAuth) *ClobClient {
	return &ClobClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		signer:   signer,
		hmacAuth: hmac,
	}
}

// CanTradeLive reports whether the client holds signing credentials.
func (c *ClobClient) CanTradeLive() bool {
	return c.signer != nil && c.hmacAuth != nil
}

// Price returns the midpoint price of an outcome token.
func (c *ClobClient) Price(ctx context.Context, tokenID string) (float64, error) {
	body, err := c.doRequest(ctx, http.MethodGet, "/midpoint?token_id="+tokenID, nil)
	if err != nil {
		return 0, fmt.Errorf("polymarket/clob: get midpoint %s: %w", tokenID, err)
	}

	var resp struct {
		Mid string `json:"mid"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, fmt.Errorf("polymarket/clob: decode midpoint: %w", err)
	}

	price, err := strconv.ParseFloat(resp.Mid, 64)
	if err != nil || price <= 0 {
		return 0, fmt.Errorf("polymarket/clob: midpoint %s: %w", tokenID, domain.ErrPriceUnavailable)
	}
	return price, nil
}

// Prices returns midpoints for multiple tokens. Tokens without a quote are
// omitted from the result map.
func (c *ClobClient) Prices(ctx context.Context, tokenIDs []string) (map[string]float64, error) {
	out := make(map[string]float64, len(tokenIDs))
	for _, id := range tokenIDs {
		price, err := c.Price(ctx, id)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			continue
		}
		out[id] = price
	}
	return out, nil
}

// ValidateOrder checks an order request against exchange constraints without
// placing it: price inside (0, 1) and aligned to the market tick size, size
// at or above the exchange minimum.
func (c *ClobClient) ValidateOrder(ctx context.Context, req domain.OrderRequest) error {
	if req.Price <= 0 || req.Price >= 1 {
		return fmt.Errorf("polymarket/clob: price %.4f outside (0, 1)", req.Price)
	}
	if req.Size < minOrderShares {
		return fmt.Errorf("polymarket/clob: size %.2f below minimum %.0f shares", req.Size, minOrderShares)
	}

	tick, err := c.tickSize(ctx, req.TokenID)
	if err != nil {
		return err
	}
	if rem := math.Mod(req.Price, tick); rem > 1e-9 && tick-rem > 1e-9 {
		return fmt.Errorf("polymarket/clob: price %.4f not aligned to tick size %.4f", req.Price, tick)
	}
	return nil
}

// PlaceOrder signs and submits an order to the CLOB.
func (c *ClobClient) PlaceOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderResult, error) {
	if !c.CanTradeLive() {
		return domain.OrderResult{}, domain.ErrLiveTradingDisabled
	}

	payload, err := c.buildPayload(req)
	if err != nil {
		return domain.OrderResult{}, err
	}

	sig, err := c.signer.SignOrder(payload)
	if err != nil {
		return domain.OrderResult{}, fmt.Errorf("polymarket/clob: sign order: %w", err)
	}

	body := map[string]any{
		"order": map[string]any{
			"salt":          payload.Salt,
			"maker":         payload.Maker,
			"signer":        payload.Signer,
			"taker":         payload.Taker,
			"tokenID":       payload.TokenID,
			"makerAmount":   payload.MakerAmount,
			"takerAmount":   payload.TakerAmount,
			"expiration":    payload.Expiration,
			"nonce":         payload.Nonce,
			"feeRateBps":    payload.FeeRateBps,
			"side":          string(req.Side),
			"signatureType": payload.SignatureType,
			"signature":     sig,
		},
		"owner":     c.hmacAuth.Key,
		"orderType": string(req.Type),
	}

	respBody, err := c.doRequest(ctx, http.MethodPost, "/order", body)
	if err != nil {
		return domain.OrderResult{}, fmt.Errorf("polymarket/clob: post order: %w", err)
	}

	var apiResult APIOrderResult
	if err := json.Unmarshal(respBody, &apiResult); err != nil {
		return domain.OrderResult{}, fmt.Errorf("polymarket/clob: decode order result: %w", err)
	}

	result := apiResult.ToDomain()
	if !result.Success {
		return result, fmt.Errorf("polymarket/clob: order rejected: %s", result.Error)
	}
	return result, nil
}

// CancelOrder cancels a single order by its exchange ID.
func (c *ClobClient) CancelOrder(ctx context.Context, exchangeID string) error {
	body := map[string]any{"orderID": exchangeID}

	respBody, err := c.doRequest(ctx, http.MethodDelete, "/order", body)
	if err != nil {
		return fmt.Errorf("polymarket/clob: cancel order %s: %w", exchangeID, err)
	}

	var result struct {
		Success  bool   `json:"success"`
		ErrorMsg string `json:"errorMsg"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return fmt.Errorf("polymarket/clob: decode cancel response: %w", err)
	}
	if !result.Success {
		return fmt.Errorf("polymarket/clob: cancel failed: %s", result.ErrorMsg)
	}
	return nil
}

// GetOrder returns the exchange's current view of an order.
func (c *ClobClient) GetOrder(ctx context.Context, exchangeID string) (domain.OrderResult, error) {
	respBody, err := c.doRequest(ctx, http.MethodGet, "/data/order/"+exchangeID, nil)
	if err != nil {
		return domain.OrderResult{}, fmt.Errorf("polymarket/clob: get order %s: %w", exchangeID, err)
	}

	var apiOrder APIOrder
	if err := json.Unmarshal(respBody, &apiOrder); err != nil {
		return domain.OrderResult{}, fmt.Errorf("polymarket/clob: decode order: %w", err)
	}
	return apiOrder.ToDomainResult(), nil
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

// buildPayload converts an order request into the EIP-712 payload. Amounts
// use the exchange's 6-decimal fixed point: a BUY trades USDC (maker) for
// shares (taker), a SELL the reverse.
func (c *ClobClient) buildPayload(req domain.OrderRequest) (crypto.OrderPayload, error) {
	shares := new(big.Int).SetInt64(int64(math.Round(req.Size * usdcDecimals)))
	usdc := new(big.Int).SetInt64(int64(math.Round(req.Price * req.Size * usdcDecimals)))

	var makerAmt, takerAmt *big.Int
	switch req.Side {
	case domain.OrderSideBuy:
		makerAmt, takerAmt = usdc, shares
	case domain.OrderSideSell:
		makerAmt, takerAmt = shares, usdc
	default:
		return crypto.OrderPayload{}, fmt.Errorf("polymarket/clob: unknown side %q", req.Side)
	}

	address := c.signer.Address().Hex()
	return crypto.OrderPayload{
		Salt:          strconv.FormatInt(rand.Int63(), 10),
		Maker:         address,
		Signer:        address,
		Taker:         "0x0000000000000000000000000000000000000000",
		TokenID:       req.TokenID,
		MakerAmount:   makerAmt.String(),
		TakerAmount:   takerAmt.String(),
		Expiration:    "0",
		Nonce:         "0",
		FeeRateBps:    "0",
		Side:          sideToInt(req.Side),
		SignatureType: 0,
	}, nil
}

func sideToInt(s domain.OrderSide) int {
	if s == domain.OrderSideSell {
		return 1
	}
	return 0
}

// tickSize fetches the minimum tick size for a token.
func (c *ClobClient) tickSize(ctx context.Context, tokenID string) (float64, error) {
	body, err := c.doRequest(ctx, http.MethodGet, "/tick-size?token_id="+tokenID, nil)
	if err != nil {
		return 0, fmt.Errorf("polymarket/clob: get tick size %s: %w", tokenID, err)
	}

	var resp struct {
		MinimumTickSize json.Number `json:"minimum_tick_size"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, fmt.Errorf("polymarket/clob: decode tick size: %w", err)
	}

	tick, err := resp.MinimumTickSize.Float64()
	if err != nil || tick <= 0 {
		return 0.01, nil
	}
	return tick, nil
}

// doRequest builds, signs (HMAC when credentials exist), sends, and reads an
// HTTP request against the CLOB API. It returns the raw response body.
func (c *ClobClient) doRequest(ctx context.Context, method, path string, body any) ([]byte, error) {
	var bodyReader io.Reader
	var bodyStr string

	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		bodyStr = string(jsonBody)
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if c.CanTradeLive() {
		headers := c.hmacAuth.L2Headers(c.signer.Address().Hex(), method, path, bodyStr)
		for k, v := range headers {
			req.Header.Set(k, v)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if err := checkHTTPStatus(resp.StatusCode, respBody); err != nil {
		return nil, err
	}
	return respBody, nil
}

// checkHTTPStatus maps non-2xx status codes to domain errors.
func checkHTTPStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	bodyStr := string(body)
	switch statusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", domain.ErrNotFound, bodyStr)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %s", domain.ErrUnauthorized, bodyStr)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", domain.ErrRateLimited, bodyStr)
	default:
		return fmt.Errorf("HTTP %d: %s", statusCode, bodyStr)
	}
}

// Compile-time interface checks.
var (
	_ domain.PriceFeed    = (*ClobClient)(nil)
	_ domain.OrderGateway = (*ClobClient)(nil)
)
