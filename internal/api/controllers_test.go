package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"trading-core/internal/aggregator"
	"trading-core/internal/breaker"
	"trading-core/internal/exchange"
	"trading-core/internal/exchange/common"
	"trading-core/internal/exchange/paper"
	"trading-core/internal/monitor"
	"trading-core/internal/notify"
	"trading-core/internal/portfolio"
	"trading-core/internal/risk"
	"trading-core/internal/router"
	"trading-core/internal/stream"
	"trading-core/internal/vault"
	"trading-core/pkg/config"
	"trading-core/pkg/db"
)

// noopPlatforms satisfies router.PlatformProvider with no live exchange
// connections, so every submitted order routes to the paper gateway.
type noopPlatforms struct{}

func (noopPlatforms) PlatformsForUser(string) []router.PlatformConnection { return nil }

func newTestServer(t *testing.T) (*httptest.Server, func()) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	database, err := db.New(":memory:")
	if err != nil {
		t.Fatalf("db.New: %v", err)
	}
	if err := db.ApplyMigrations(database); err != nil {
		t.Fatalf("ApplyMigrations: %v", err)
	}

	vaultKey, err := vault.GenerateKey()
	if err != nil {
		t.Fatalf("vault.GenerateKey: %v", err)
	}
	secretVault, err := vault.New(vaultKey)
	if err != nil {
		t.Fatalf("vault.New: %v", err)
	}

	breakers := breaker.NewRegistry(breaker.DefaultConfig())

	source := aggregator.NewSyntheticSource(30000, 1)
	agg := aggregator.New([]aggregator.Source{source}, breakers, nil, aggregator.DefaultConfig())
	market := aggregator.NewService(nil, nil, agg)

	paperGW := paper.New(10000, paper.DefaultConfig())
	pool := exchange.NewPool(secretVault, breakers, func(platform common.Platform, apiKey, apiSecret string) (common.Gateway, error) {
		return paperGW, nil
	}, exchange.DefaultPoolConfig())

	riskMgr := risk.NewManager(risk.DefaultConfig(), breakers)
	pf := portfolio.New(nil)

	streamHub := stream.New(func(string) {})
	notifyEngine := notify.New(notify.DefaultConfig(), nil, func(notify.Notification) {}, nil)

	tradeRouter := router.New(
		router.DefaultConfig(),
		riskMgr,
		breakers,
		market,
		pf,
		noopPlatforms{},
		func(ctx context.Context, conn router.PlatformConnection) (common.Gateway, error) {
			return paperGW, nil
		},
		paperGW,
		func(ctx context.Context, rec router.TradeRecord) {},
		func(userID, kind string, payload any) {},
		func(userID, channel string, payload any) {},
	)

	metrics := monitor.NewSystemMetrics()
	cfg := &config.Config{
		JWTSecret:      "test-secret",
		SeedBalanceUSD: 10000,
	}

	server := NewServer(database, secretVault, breakers, market, pool, riskMgr, pf, tradeRouter, notifyEngine, streamHub, nil, metrics, cfg)

	httpServer := httptest.NewServer(server.Router)
	cleanup := func() {
		httpServer.Close()
		_ = database.Close()
	}
	return httpServer, cleanup
}

func doJSON(t *testing.T, client *http.Client, method, url, token string, payload any, out any) int {
	t.Helper()

	var buf bytes.Buffer
	if payload != nil {
		if err := json.NewEncoder(&buf).Encode(payload); err != nil {
			t.Fatalf("encode payload: %v", err)
		}
	}

	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer resp.Body.Close()

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode response: %v", err)
		}
	}
	return resp.StatusCode
}

func registerAndLogin(t *testing.T, client *http.Client, baseURL string) string {
	t.Helper()
	var regResp struct {
		UserID string `json:"user_id"`
	}
	status := doJSON(t, client, http.MethodPost, baseURL+"/api/v1/auth/register", "", map[string]string{
		"username": "tester",
		"email":    "tester@example.com",
		"password": "StrongPass123!",
	}, &regResp)
	if status != http.StatusCreated {
		t.Fatalf("register status=%d resp=%+v", status, regResp)
	}

	var loginResp struct {
		Token string `json:"token"`
	}
	status = doJSON(t, client, http.MethodPost, baseURL+"/api/v1/auth/login", "", map[string]string{
		"email":    "tester@example.com",
		"password": "StrongPass123!",
	}, &loginResp)
	if status != http.StatusOK || loginResp.Token == "" {
		t.Fatalf("login failed status=%d resp=%+v", status, loginResp)
	}
	return loginResp.Token
}

func TestRegisterLoginRoundTrip(t *testing.T) {
	ts, cleanup := newTestServer(t)
	defer cleanup()

	client := ts.Client()
	token := registerAndLogin(t, client, ts.URL)
	if token == "" {
		t.Fatal("expected a non-empty token")
	}
}

func TestLoginRejectsWrongPassword(t *testing.T) {
	ts, cleanup := newTestServer(t)
	defer cleanup()

	client := ts.Client()
	registerAndLogin(t, client, ts.URL)

	var resp struct {
		Code string `json:"code"`
	}
	status := doJSON(t, client, http.MethodPost, ts.URL+"/api/v1/auth/login", "", map[string]string{
		"email":    "tester@example.com",
		"password": "wrong-password",
	}, &resp)
	if status != http.StatusUnauthorized || resp.Code != "INVALID_CREDENTIALS" {
		t.Fatalf("expected invalid credentials, got status=%d resp=%+v", status, resp)
	}
}

func TestGetPortfolioRequiresAuth(t *testing.T) {
	ts, cleanup := newTestServer(t)
	defer cleanup()

	client := ts.Client()
	status := doJSON(t, client, http.MethodGet, ts.URL+"/api/v1/portfolio", "", nil, nil)
	if status != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", status)
	}
}

func TestCreateTradeValidation(t *testing.T) {
	ts, cleanup := newTestServer(t)
	defer cleanup()

	client := ts.Client()
	token := registerAndLogin(t, client, ts.URL)

	var resp struct {
		Code string `json:"code"`
	}
	status := doJSON(t, client, http.MethodPost, ts.URL+"/api/v1/trades", token, map[string]any{
		"symbol": "",
		"side":   "buy",
	}, &resp)
	if status != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d resp=%+v", status, resp)
	}
}

func TestGetQuote(t *testing.T) {
	ts, cleanup := newTestServer(t)
	defer cleanup()

	client := ts.Client()
	token := registerAndLogin(t, client, ts.URL)

	var resp struct {
		Symbol string `json:"symbol"`
		Price  string `json:"price"`
	}
	status := doJSON(t, client, http.MethodGet, ts.URL+"/api/v1/market/BTCUSDT", token, nil, &resp)
	if status != http.StatusOK {
		t.Fatalf("expected 200, got %d", status)
	}
}

func TestMarketInsightDegradesWithoutAIProvider(t *testing.T) {
	ts, cleanup := newTestServer(t)
	defer cleanup()

	client := ts.Client()
	token := registerAndLogin(t, client, ts.URL)

	var resp struct {
		Degraded bool `json:"degraded"`
	}
	status := doJSON(t, client, http.MethodGet, ts.URL+"/api/v1/market/BTCUSDT/insight", token, nil, &resp)
	if status != http.StatusOK {
		t.Fatalf("expected 200, got %d", status)
	}
	if !resp.Degraded {
		t.Fatalf("expected a degraded insight when no AI provider is dialed")
	}
}

func TestEnableAndConfirmTOTP(t *testing.T) {
	ts, cleanup := newTestServer(t)
	defer cleanup()

	client := ts.Client()
	token := registerAndLogin(t, client, ts.URL)

	var enableResp struct {
		Secret string `json:"secret"`
	}
	status := doJSON(t, client, http.MethodPost, ts.URL+"/api/v1/2fa/enable", token, nil, &enableResp)
	if status != http.StatusOK || enableResp.Secret == "" {
		t.Fatalf("enable totp failed status=%d resp=%+v", status, enableResp)
	}

	var confirmResp struct {
		Code string `json:"code"`
	}
	status = doJSON(t, client, http.MethodPost, ts.URL+"/api/v1/2fa/confirm", token, map[string]string{
		"secret": enableResp.Secret,
		"code":   "000000",
	}, &confirmResp)
	if status != http.StatusBadRequest {
		t.Fatalf("expected a bad request for a bogus code, got status=%d", status)
	}
}

func TestKillSwitchRequiresAdminForGlobalScope(t *testing.T) {
	ts, cleanup := newTestServer(t)
	defer cleanup()

	client := ts.Client()
	token := registerAndLogin(t, client, ts.URL)

	status := doJSON(t, client, http.MethodPost, ts.URL+"/api/v1/admin/kill-switch", token, nil, nil)
	if status != http.StatusForbidden {
		t.Fatalf("expected 403 for a non-admin user, got %d", status)
	}
}
