// Package binance implements the binance Exchange Adapter: a
// common.Gateway backed by Binance's signed REST API. Grounded on the
// teacher's pkg/market/binance.Client (base URL selection, HTTP timeout,
// response decoding into typed structs) generalized to the uniform order
// submission / cancel / balance surface internal/exchange/common.Gateway
// requires.
package binance

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

	"trading-core/internal/exchange/common"
)

// Gateway submits orders to Binance spot/futures REST endpoints.
type Gateway struct {
	apiKey     string
	apiSecret  string
	baseURL    string
	httpClient *http.Client
	limiter    *common.RateLimiter
}

// New constructs a binance Gateway. testnet switches the base URL exactly
// as the original market data client does.
func New(apiKey, apiSecret string, testnet bool) *Gateway {
	base := "https://api.binance.com"
	if testnet {
		base = "https://testnet.binance.vision"
	}
	return &Gateway{
		apiKey:     apiKey,
		apiSecret:  apiSecret,
		baseURL:    base,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		limiter:    common.NewRateLimiter(20, 40), // ~1200 weight/min budget
	}
}

func (g *Gateway) Platform() common.Platform { return common.PlatformBinance }

func (g *Gateway) sign(params url.Values) string {
	mac := hmac.New(sha256.New, []byte(g.apiSecret))
	mac.Write([]byte(params.Encode()))
	return hex.EncodeToString(mac.Sum(nil))
}

func (g *Gateway) signedRequest(ctx context.Context, method, path string, params url.Values) ([]byte, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	params.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))
	params.Set("recvWindow", "5000")
	params.Set("signature", g.sign(params))

	u := fmt.Sprintf("%s%s?%s", g.baseURL, path, params.Encode())
	req, err := http.NewRequestWithContext(ctx, method, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-MBX-APIKEY", g.apiKey)

	res, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("binance request: %w", err)
	}
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("read binance response: %w", err)
	}

	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("binance status %d: %s", res.StatusCode, body)
	}
	return body, nil
}

func (g *Gateway) SubmitOrder(ctx context.Context, req common.OrderRequest) (common.OrderResult, error) {
	params := url.Values{}
	params.Set("symbol", req.Symbol)
	params.Set("side", string(req.Side))
	params.Set("type", string(req.Type))
	params.Set("quantity", req.Qty)
	if req.Type == common.OrderTypeLimit {
		params.Set("price", req.Price)
		params.Set("timeInForce", string(req.TimeInForce))
	}
	if req.StopPrice != "" {
		params.Set("stopPrice", req.StopPrice)
	}
	if req.ClientID != "" {
		params.Set("newClientOrderId", req.ClientID)
	}

	var resp struct {
		OrderID       int64  `json:"orderId"`
		Status        string `json:"status"`
		ClientOrderID string `json:"clientOrderId"`
		ExecutedQty   string `json:"executedQty"`
		Price         string `json:"price"`
	}
	raw, err := g.signedRequest(ctx, http.MethodPost, "/api/v3/order", params)
	if err != nil {
		return common.OrderResult{}, err
	}
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &resp)
	}

	return common.OrderResult{
		ExchangeOrderID: strconv.FormatInt(resp.OrderID, 10),
		Status:          normalizeStatus(resp.Status),
		ClientID:        resp.ClientOrderID,
		FilledQty:       resp.ExecutedQty,
		AvgPrice:        resp.Price,
	}, nil
}

func (g *Gateway) CancelOrder(ctx context.Context, symbol, exchangeOrderID string) error {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("orderId", exchangeOrderID)
	_, err := g.signedRequest(ctx, http.MethodDelete, "/api/v3/order", params)
	return err
}

func (g *Gateway) GetBalances(ctx context.Context) ([]common.Balance, error) {
	var resp struct {
		Balances []struct {
			Asset  string `json:"asset"`
			Free   string `json:"free"`
			Locked string `json:"locked"`
		} `json:"balances"`
	}
	raw, err := g.signedRequest(ctx, http.MethodGet, "/api/v3/account", url.Values{})
	if err != nil {
		return nil, err
	}
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &resp)
	}

	out := make([]common.Balance, 0, len(resp.Balances))
	for _, b := range resp.Balances {
		out = append(out, common.Balance{Asset: b.Asset, Available: b.Free, Locked: b.Locked})
	}
	return out, nil
}

func normalizeStatus(s string) common.OrderStatus {
	switch s {
	case "NEW":
		return common.StatusNew
	case "PARTIALLY_FILLED":
		return common.StatusPartial
	case "FILLED":
		return common.StatusFilled
	case "CANCELED":
		return common.StatusCanceled
	case "REJECTED":
		return common.StatusRejected
	case "EXPIRED":
		return common.StatusExpired
	default:
		return common.StatusNew
	}
}
