package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"trading-core/internal/aggregator"
	"trading-core/pkg/money"
)

// quoteEnvelope is the minimal JSON shape expected back from a
// configured equity or FX quote endpoint: {"price": 187.23, ...}. Both
// HTTPSource variants below share it since spec.md describes both as a
// single-endpoint "ranked source", not a specific named provider.
type quoteEnvelope struct {
	Price     float64 `json:"price"`
	ChangePct float64 `json:"change_pct"`
	Volume    float64 `json:"volume"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
}

// HTTPSource is a minimal GET-JSON quote source: no equity or FX
// market-data client was retrieved anywhere in the pack, so this talks
// to a configured base URL directly with net/http, in the same
// do-it-yourself style pkg/market/binance/rest.go uses for its own
// upstream calls.
type HTTPSource struct {
	name       string
	class      AssetClass
	baseURL    string
	httpClient *http.Client
}

func newHTTPSource(name string, class AssetClass, baseURL string) *HTTPSource {
	return &HTTPSource{
		name:       name,
		class:      class,
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 5 * time.Second},
	}
}

// NewEquitySource builds the ranked equity source against a configured
// market-data endpoint (EQUITY_SOURCE_URL).
func NewEquitySource(baseURL string) *HTTPSource {
	return newHTTPSource("equity_endpoint", ClassStock, baseURL)
}

// NewForexSource builds the ranked FX source against a configured
// FX-rate endpoint (FOREX_SOURCE_URL).
func NewForexSource(baseURL string) *HTTPSource {
	return newHTTPSource("forex_endpoint", ClassForex, baseURL)
}

func (s *HTTPSource) Name() string { return s.name }

func (s *HTTPSource) Quote(ctx context.Context, symbol string) (aggregator.Quote, error) {
	if s.baseURL == "" {
		return aggregator.Quote{}, fmt.Errorf("%s: no endpoint configured", s.name)
	}

	u := s.baseURL + "/quote?" + url.Values{"symbol": {symbol}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return aggregator.Quote{}, err
	}
	res, err := s.httpClient.Do(req)
	if err != nil {
		return aggregator.Quote{}, err
	}
	defer res.Body.Close()

	body, _ := io.ReadAll(res.Body)
	if res.StatusCode >= 300 {
		return aggregator.Quote{}, fmt.Errorf("%s: status %d: %s", s.name, res.StatusCode, string(body))
	}

	var env quoteEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return aggregator.Quote{}, fmt.Errorf("%s: decode response: %w", s.name, err)
	}
	if env.Price <= 0 {
		return aggregator.Quote{}, fmt.Errorf("%s: non-positive price %v", s.name, env.Price)
	}

	return aggregator.Quote{
		Symbol:       symbol,
		Price:        money.FromFloat(env.Price),
		Change24hPct: env.ChangePct,
		Volume24h:    env.Volume,
		High24h:      env.High,
		Low24h:       env.Low,
		AssetClass:   string(s.class),
		Source:       s.name,
		Timestamp:    time.Now(),
	}, nil
}
