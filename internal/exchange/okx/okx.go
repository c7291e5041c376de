// Package okx implements the okx Exchange Adapter, following the same
// signed-REST shape as the binance/bybit adapters but against OKX's v5
// REST API (HMAC-SHA256 over timestamp+method+path+body, base64-encoded).
package okx

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"trading-core/internal/exchange/common"
)

// Gateway submits orders to OKX's v5 REST API.
type Gateway struct {
	apiKey     string
	apiSecret  string
	passphrase string
	baseURL    string
	httpClient *http.Client
	limiter    *common.RateLimiter
}

// New constructs an okx Gateway. apiSecret is expected to be
// "secret:passphrase" (both values the Secret Vault stores encrypted
// together, since OKX requires a third credential beyond key/secret).
func New(apiKey, apiSecretAndPassphrase string) *Gateway {
	secret, passphrase := splitSecret(apiSecretAndPassphrase)
	return &Gateway{
		apiKey:     apiKey,
		apiSecret:  secret,
		passphrase: passphrase,
		baseURL:    "https://www.okx.com",
		httpClient: &http.Client{Timeout: 10 * time.Second},
		limiter:    common.NewRateLimiter(15, 30),
	}
}

func splitSecret(combined string) (secret, passphrase string) {
	for i := 0; i < len(combined); i++ {
		if combined[i] == ':' {
			return combined[:i], combined[i+1:]
		}
	}
	return combined, ""
}

func (g *Gateway) Platform() common.Platform { return common.PlatformOKX }

func (g *Gateway) sign(timestamp, method, path, body string) string {
	mac := hmac.New(sha256.New, []byte(g.apiSecret))
	mac.Write([]byte(timestamp + method + path + body))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func (g *Gateway) signedRequest(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	ts := time.Now().UTC().Format("2006-01-02T15:04:05.000Z")
	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("OK-ACCESS-KEY", g.apiKey)
	req.Header.Set("OK-ACCESS-SIGN", g.sign(ts, method, path, string(body)))
	req.Header.Set("OK-ACCESS-TIMESTAMP", ts)
	req.Header.Set("OK-ACCESS-PASSPHRASE", g.passphrase)

	res, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("okx request: %w", err)
	}
	defer res.Body.Close()

	respBody, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, err
	}
	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("okx status %d: %s", res.StatusCode, respBody)
	}
	return respBody, nil
}

func (g *Gateway) SubmitOrder(ctx context.Context, req common.OrderRequest) (common.OrderResult, error) {
	side := "buy"
	if req.Side == common.SideSell {
		side = "sell"
	}
	ordType := "market"
	if req.Type == common.OrderTypeLimit {
		ordType = "limit"
	}
	payload := map[string]any{
		"instId":  req.Symbol,
		"tdMode":  "cash",
		"side":    side,
		"ordType": ordType,
		"sz":      req.Qty,
	}
	if ordType == "limit" {
		payload["px"] = req.Price
	}
	if req.ClientID != "" {
		payload["clOrdId"] = req.ClientID
	}
	body, _ := json.Marshal([]any{payload})

	var resp struct {
		Data []struct {
			OrdID   string `json:"ordId"`
			ClOrdID string `json:"clOrdId"`
			SCode   string `json:"sCode"`
		} `json:"data"`
	}
	raw, err := g.signedRequest(ctx, http.MethodPost, "/api/v5/trade/order", body)
	if err != nil {
		return common.OrderResult{}, err
	}
	_ = json.Unmarshal(raw, &resp)
	if len(resp.Data) == 0 {
		return common.OrderResult{}, fmt.Errorf("okx: empty order response")
	}

	status := common.StatusNew
	if resp.Data[0].SCode != "0" {
		status = common.StatusRejected
	}
	return common.OrderResult{
		ExchangeOrderID: resp.Data[0].OrdID,
		ClientID:        resp.Data[0].ClOrdID,
		Status:          status,
	}, nil
}

func (g *Gateway) CancelOrder(ctx context.Context, symbol, exchangeOrderID string) error {
	body, _ := json.Marshal([]any{map[string]any{"instId": symbol, "ordId": exchangeOrderID}})
	_, err := g.signedRequest(ctx, http.MethodPost, "/api/v5/trade/cancel-order", body)
	return err
}

func (g *Gateway) GetBalances(ctx context.Context) ([]common.Balance, error) {
	raw, err := g.signedRequest(ctx, http.MethodGet, "/api/v5/account/balance", nil)
	if err != nil {
		return nil, err
	}
	var resp struct {
		Data []struct {
			Details []struct {
				Ccy     string `json:"ccy"`
				CashBal string `json:"cashBal"`
				AvailBal string `json:"availBal"`
			} `json:"details"`
		} `json:"data"`
	}
	_ = json.Unmarshal(raw, &resp)

	var out []common.Balance
	for _, d := range resp.Data {
		for _, det := range d.Details {
			out = append(out, common.Balance{Asset: det.Ccy, Total: det.CashBal, Available: det.AvailBal})
		}
	}
	return out, nil
}
