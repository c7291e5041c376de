// Package bybit implements the bybit Exchange Adapter, following the same
// signed-REST shape as internal/exchange/binance but against Bybit's v5
// unified-trading API (HMAC over timestamp+apiKey+recvWindow+body instead
// of over a flat query string).
package bybit

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"trading-core/internal/exchange/common"
)

// Gateway submits orders to Bybit's unified v5 REST API.
type Gateway struct {
	apiKey     string
	apiSecret  string
	baseURL    string
	httpClient *http.Client
	limiter    *common.RateLimiter
}

func New(apiKey, apiSecret string, testnet bool) *Gateway {
	base := "https://api.bybit.com"
	if testnet {
		base = "https://api-testnet.bybit.com"
	}
	return &Gateway{
		apiKey:     apiKey,
		apiSecret:  apiSecret,
		baseURL:    base,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		limiter:    common.NewRateLimiter(10, 20),
	}
}

func (g *Gateway) Platform() common.Platform { return common.PlatformBybit }

func (g *Gateway) sign(timestamp, body string) string {
	recvWindow := "5000"
	payload := timestamp + g.apiKey + recvWindow + body
	mac := hmac.New(sha256.New, []byte(g.apiSecret))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

func (g *Gateway) signedRequest(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	ts := strconv.FormatInt(time.Now().UnixMilli(), 10)
	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-BAPI-API-KEY", g.apiKey)
	req.Header.Set("X-BAPI-TIMESTAMP", ts)
	req.Header.Set("X-BAPI-RECV-WINDOW", "5000")
	req.Header.Set("X-BAPI-SIGN", g.sign(ts, string(body)))

	res, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("bybit request: %w", err)
	}
	defer res.Body.Close()

	respBody, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, err
	}
	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("bybit status %d: %s", res.StatusCode, respBody)
	}
	return respBody, nil
}

func (g *Gateway) SubmitOrder(ctx context.Context, req common.OrderRequest) (common.OrderResult, error) {
	payload := map[string]any{
		"category":  "spot",
		"symbol":    req.Symbol,
		"side":      titleCase(string(req.Side)),
		"orderType": titleCase(string(req.Type)),
		"qty":       req.Qty,
	}
	if req.Type == common.OrderTypeLimit {
		payload["price"] = req.Price
	}
	if req.ClientID != "" {
		payload["orderLinkId"] = req.ClientID
	}
	body, _ := json.Marshal(payload)

	var resp struct {
		Result struct {
			OrderID     string `json:"orderId"`
			OrderLinkID string `json:"orderLinkId"`
		} `json:"result"`
		RetMsg string `json:"retMsg"`
	}
	raw, err := g.signedRequest(ctx, http.MethodPost, "/v5/order/create", body)
	if err != nil {
		return common.OrderResult{}, err
	}
	_ = json.Unmarshal(raw, &resp)

	return common.OrderResult{
		ExchangeOrderID: resp.Result.OrderID,
		Status:          common.StatusNew,
		ClientID:        resp.Result.OrderLinkID,
	}, nil
}

func (g *Gateway) CancelOrder(ctx context.Context, symbol, exchangeOrderID string) error {
	body, _ := json.Marshal(map[string]any{"category": "spot", "symbol": symbol, "orderId": exchangeOrderID})
	_, err := g.signedRequest(ctx, http.MethodPost, "/v5/order/cancel", body)
	return err
}

func (g *Gateway) GetBalances(ctx context.Context) ([]common.Balance, error) {
	raw, err := g.signedRequest(ctx, http.MethodGet, "/v5/account/wallet-balance?accountType=UNIFIED", nil)
	if err != nil {
		return nil, err
	}
	var resp struct {
		Result struct {
			List []struct {
				Coin []struct {
					Coin            string `json:"coin"`
					WalletBalance   string `json:"walletBalance"`
					AvailableToWithdraw string `json:"availableToWithdraw"`
				} `json:"coin"`
			} `json:"list"`
		} `json:"result"`
	}
	_ = json.Unmarshal(raw, &resp)

	var out []common.Balance
	for _, acct := range resp.Result.List {
		for _, c := range acct.Coin {
			out = append(out, common.Balance{Asset: c.Coin, Total: c.WalletBalance, Available: c.AvailableToWithdraw})
		}
	}
	return out, nil
}

func titleCase(s string) string {
	if len(s) == 0 {
		return s
	}
	return string(s[0]) + toLower(s[1:])
}

func toLower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}
