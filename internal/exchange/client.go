// Package exchange is the signed REST egress client the engine routes
// orders and account queries through: klines, 24hr tickers, current
// price, exchange info, limit-GTC order placement, cancel, open orders,
// and account/balance. Order and account calls are signed with an HMAC
// over the query string; the market-data calls (klines, tickers, price,
// exchange info) are sent unsigned.
package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog"
)

// Client is a signed Binance spot REST client. Every authenticated call
// passes through its RateLimiter before hitting the network, so a
// caller that ignores ErrRateLimited is the only way to exceed the
// exchange's published budgets.
type Client struct {
	apiKey     string
	secretKey  string
	baseURL    string
	httpClient *http.Client
	limiter    *RateLimiter
	log        zerolog.Logger
}

// ErrRateLimited is returned instead of making the request when the
// RateLimiter has no budget left for the given priority tier.
type ErrRateLimited struct {
	Endpoint string
	Reason   string
	WaitTime time.Duration
}

func (e *ErrRateLimited) Error() string {
	return fmt.Sprintf("rate limited calling %s: %s (retry in %s)", e.Endpoint, e.Reason, e.WaitTime)
}

// NewClient builds a signed spot REST client with its own dedicated
// RateLimiter instance.
func NewClient(apiKey, secretKey, baseURL string, log zerolog.Logger) *Client {
	return &Client{
		apiKey:     apiKey,
		secretKey:  secretKey,
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		limiter:    NewRateLimiter(log),
		log:        log.With().Str("component", "exchange.Client").Logger(),
	}
}

// Kline is one candlestick from GET /api/v3/klines.
type Kline struct {
	OpenTime                 int64   `json:"openTime"`
	Open                     float64 `json:"open,string"`
	High                     float64 `json:"high,string"`
	Low                      float64 `json:"low,string"`
	Close                    float64 `json:"close,string"`
	Volume                   float64 `json:"volume,string"`
	CloseTime                int64   `json:"closeTime"`
	QuoteAssetVolume         float64 `json:"quoteAssetVolume,string"`
	NumberOfTrades           int     `json:"numberOfTrades"`
	TakerBuyBaseAssetVolume  float64 `json:"takerBuyBaseAssetVolume,string"`
	TakerBuyQuoteAssetVolume float64 `json:"takerBuyQuoteAssetVolume,string"`
}

// Ticker24hr is the 24hr rolling-window ticker statistics.
type Ticker24hr struct {
	Symbol             string  `json:"symbol"`
	PriceChange        float64 `json:"priceChange,string"`
	PriceChangePercent float64 `json:"priceChangePercent,string"`
	WeightedAvgPrice   float64 `json:"weightedAvgPrice,string"`
	LastPrice          float64 `json:"lastPrice,string"`
	Volume             float64 `json:"volume,string"`
	QuoteVolume        float64 `json:"quoteVolume,string"`
	OpenTime           int64   `json:"openTime"`
	CloseTime          int64   `json:"closeTime"`
	FirstId            int64   `json:"firstId"`
	LastId             int64   `json:"lastId"`
	Count              int64   `json:"count"`
}

// OrderResponse is the exchange's response to order placement or query.
type OrderResponse struct {
	Symbol              string  `json:"symbol"`
	OrderId             int64   `json:"orderId"`
	ClientOrderId       string  `json:"clientOrderId"`
	TransactTime        int64   `json:"transactTime"`
	Price               float64 `json:"price,string"`
	OrigQty             float64 `json:"origQty,string"`
	ExecutedQty         float64 `json:"executedQty,string"`
	CummulativeQuoteQty float64 `json:"cummulativeQuoteQty,string"`
	Status              string  `json:"status"`
	Type                string  `json:"type"`
	Side                string  `json:"side"`
}

// Balance is one asset line from GET /api/v3/account.
type Balance struct {
	Asset  string  `json:"asset"`
	Free   float64 `json:"free,string"`
	Locked float64 `json:"locked,string"`
}

// Account is the response shape of GET /api/v3/account.
type Account struct {
	MakerCommission  int64     `json:"makerCommission"`
	TakerCommission  int64     `json:"takerCommission"`
	CanTrade         bool      `json:"canTrade"`
	CanWithdraw      bool      `json:"canWithdraw"`
	CanDeposit       bool      `json:"canDeposit"`
	Balances         []Balance `json:"balances"`
}

// SymbolInfo is one entry of the spot exchangeInfo symbol list.
type SymbolInfo struct {
	Symbol               string `json:"symbol"`
	Status               string `json:"status"`
	BaseAsset            string `json:"baseAsset"`
	QuoteAsset           string `json:"quoteAsset"`
	IsSpotTradingAllowed bool   `json:"isSpotTradingAllowed"`
}

// ExchangeInfo is the response shape of GET /api/v3/exchangeInfo.
type ExchangeInfo struct {
	Symbols []SymbolInfo `json:"symbols"`
}

func (c *Client) acquire(ctx context.Context, endpoint string, priority RequestPriority) error {
	result := c.limiter.TryAcquire(endpoint, priority)
	if !result.Acquired {
		c.log.Warn().Str("endpoint", endpoint).Str("reason", result.Reason).Msg("request held back by rate limiter")
		return &ErrRateLimited{Endpoint: endpoint, Reason: result.Reason, WaitTime: result.WaitTime}
	}
	return nil
}

// GetKlines fetches candlestick data.
func (c *Client) GetKlines(ctx context.Context, symbol, interval string, limit int) ([]Kline, error) {
	if err := c.acquire(ctx, "/api/v3/klines", PriorityNormal); err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("interval", interval)
	params.Set("limit", strconv.Itoa(limit))

	body, err := c.getJSON(ctx, "/api/v3/klines", params)
	if err != nil {
		return nil, err
	}

	var rawKlines [][]interface{}
	if err := json.Unmarshal(body, &rawKlines); err != nil {
		return nil, fmt.Errorf("error parsing klines: %w", err)
	}

	klines := make([]Kline, len(rawKlines))
	for i, raw := range rawKlines {
		klines[i] = Kline{
			OpenTime:                 int64(raw[0].(float64)),
			Open:                     parseFloat(raw[1]),
			High:                     parseFloat(raw[2]),
			Low:                      parseFloat(raw[3]),
			Close:                    parseFloat(raw[4]),
			Volume:                   parseFloat(raw[5]),
			CloseTime:                int64(raw[6].(float64)),
			QuoteAssetVolume:         parseFloat(raw[7]),
			NumberOfTrades:           int(raw[8].(float64)),
			TakerBuyBaseAssetVolume:  parseFloat(raw[9]),
			TakerBuyQuoteAssetVolume: parseFloat(raw[10]),
		}
	}

	return klines, nil
}

// Get24hrTickers fetches 24hr ticker data for all symbols.
func (c *Client) Get24hrTickers(ctx context.Context) ([]Ticker24hr, error) {
	if err := c.acquire(ctx, "/api/v3/ticker/24hr", PriorityLow); err != nil {
		return nil, err
	}

	body, err := c.getJSON(ctx, "/api/v3/ticker/24hr", nil)
	if err != nil {
		return nil, err
	}

	var tickers []Ticker24hr
	if err := json.Unmarshal(body, &tickers); err != nil {
		return nil, fmt.Errorf("error parsing tickers: %w", err)
	}

	return tickers, nil
}

// GetCurrentPrice fetches the current price for a symbol.
func (c *Client) GetCurrentPrice(ctx context.Context, symbol string) (float64, error) {
	if err := c.acquire(ctx, "/api/v3/ticker/price", PriorityNormal); err != nil {
		return 0, err
	}

	params := url.Values{}
	params.Set("symbol", symbol)

	body, err := c.getJSON(ctx, "/api/v3/ticker/price", params)
	if err != nil {
		return 0, err
	}

	var priceResp struct {
		Symbol string  `json:"symbol"`
		Price  float64 `json:"price,string"`
	}
	if err := json.Unmarshal(body, &priceResp); err != nil {
		return 0, fmt.Errorf("error parsing price: %w", err)
	}

	return priceResp.Price, nil
}

// GetExchangeInfo fetches exchange information including all trading symbols.
func (c *Client) GetExchangeInfo(ctx context.Context) (*ExchangeInfo, error) {
	if err := c.acquire(ctx, "/api/v3/exchangeInfo", PriorityLow); err != nil {
		return nil, err
	}

	body, err := c.getJSON(ctx, "/api/v3/exchangeInfo", nil)
	if err != nil {
		return nil, err
	}

	var exchangeInfo ExchangeInfo
	if err := json.Unmarshal(body, &exchangeInfo); err != nil {
		return nil, fmt.Errorf("error parsing exchange info: %w", err)
	}

	return &exchangeInfo, nil
}

// PlaceLimitOrder submits a GTC limit order with a caller-supplied
// client order id, the only order shape this engine ever routes.
func (c *Client) PlaceLimitOrder(ctx context.Context, symbol, side string, quantity, price float64, clientOrderID string) (*OrderResponse, error) {
	if err := c.acquire(ctx, "/api/v3/order", PriorityCritical); err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("side", side)
	params.Set("type", "LIMIT")
	params.Set("timeInForce", "GTC")
	params.Set("quantity", strconv.FormatFloat(quantity, 'f', -1, 64))
	params.Set("price", strconv.FormatFloat(price, 'f', -1, 64))
	if clientOrderID != "" {
		params.Set("newClientOrderId", clientOrderID)
	}

	body, err := c.signedRequest(ctx, http.MethodPost, "/api/v3/order", params)
	if err != nil {
		return nil, fmt.Errorf("error placing order: %w", err)
	}

	var orderResp OrderResponse
	if err := json.Unmarshal(body, &orderResp); err != nil {
		return nil, fmt.Errorf("error parsing order response: %w", err)
	}
	return &orderResp, nil
}

// CancelOrder cancels an existing order by (symbol, orderId).
func (c *Client) CancelOrder(ctx context.Context, symbol string, orderId int64) error {
	if err := c.acquire(ctx, "/api/v3/order", PriorityCritical); err != nil {
		return err
	}

	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("orderId", strconv.FormatInt(orderId, 10))

	_, err := c.signedRequest(ctx, http.MethodDelete, "/api/v3/order", params)
	if err != nil {
		return fmt.Errorf("error canceling order: %w", err)
	}
	return nil
}

// GetOpenOrders returns all open orders, or just symbol's if non-empty.
func (c *Client) GetOpenOrders(ctx context.Context, symbol string) ([]OrderResponse, error) {
	if err := c.acquire(ctx, "/api/v3/openOrders", PriorityHigh); err != nil {
		return nil, err
	}

	params := url.Values{}
	if symbol != "" {
		params.Set("symbol", symbol)
	}

	body, err := c.signedRequest(ctx, http.MethodGet, "/api/v3/openOrders", params)
	if err != nil {
		return nil, fmt.Errorf("error fetching open orders: %w", err)
	}

	var orders []OrderResponse
	if err := json.Unmarshal(body, &orders); err != nil {
		return nil, fmt.Errorf("error parsing open orders: %w", err)
	}
	return orders, nil
}

// GetAccount fetches account information, including asset balances.
func (c *Client) GetAccount(ctx context.Context) (*Account, error) {
	if err := c.acquire(ctx, "/api/v3/account", PriorityHigh); err != nil {
		return nil, err
	}

	body, err := c.signedRequest(ctx, http.MethodGet, "/api/v3/account", url.Values{})
	if err != nil {
		return nil, fmt.Errorf("error fetching account: %w", err)
	}

	var account Account
	if err := json.Unmarshal(body, &account); err != nil {
		return nil, fmt.Errorf("error parsing account: %w", err)
	}
	return &account, nil
}

func (c *Client) getJSON(ctx context.Context, path string, params url.Values) ([]byte, error) {
	endpoint := fmt.Sprintf("%s%s", c.baseURL, path)
	if params != nil {
		endpoint = fmt.Sprintf("%s?%s", endpoint, params.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error calling %s: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("error reading response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		c.recordIfRateLimited(resp.StatusCode, body)
		return nil, fmt.Errorf("API error: %s", string(body))
	}

	return body, nil
}

// signedRequest adds timestamp+signature to params, using the exact
// query string it signs as the one it sends — url.Values.Encode()
// always sorts by key, so the signed and transmitted strings match.
func (c *Client) signedRequest(ctx context.Context, method, path string, params url.Values) ([]byte, error) {
	params.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))
	query := params.Encode()
	params.Set("signature", c.sign(query))

	endpoint := fmt.Sprintf("%s%s", c.baseURL, path)

	req, err := http.NewRequestWithContext(ctx, method, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.URL.RawQuery = params.Encode()
	req.Header.Set("X-MBX-APIKEY", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error calling %s: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("error reading response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		c.recordIfRateLimited(resp.StatusCode, body)
		return nil, fmt.Errorf("API error: %s", string(body))
	}

	return body, nil
}

func (c *Client) recordIfRateLimited(statusCode int, body []byte) {
	if statusCode != http.StatusTooManyRequests && statusCode != 418 {
		return
	}
	c.limiter.RecordRateLimitError(ParseBanUntilFromError(string(body)))
}

// sign computes the HMAC-SHA256 signature over the exact query string
// that will be sent, so signing must happen after the string is final.
func (c *Client) sign(query string) string {
	mac := hmac.New(sha256.New, []byte(c.secretKey))
	mac.Write([]byte(query))
	return hex.EncodeToString(mac.Sum(nil))
}

func parseFloat(val interface{}) float64 {
	switch v := val.(type) {
	case string:
		f, _ := strconv.ParseFloat(v, 64)
		return f
	case float64:
		return v
	default:
		return 0
	}
}
