package sources

import (
	"context"
	"time"

	market "trading-core/pkg/market/binance"
	"trading-core/internal/aggregator"
	"trading-core/pkg/money"
)

// CryptoSource wraps pkg/market/binance's public REST ticker endpoint as
// the top-ranked source for crypto symbols.
type CryptoSource struct {
	client *market.MarketDataClient
}

// NewCryptoSource builds a crypto quote source against Binance's public
// market-data endpoint (testnet when sandbox is true).
func NewCryptoSource(testnet bool) *CryptoSource {
	return &CryptoSource{client: market.NewMarketDataClient(testnet)}
}

func (s *CryptoSource) Name() string { return "binance_public" }

func (s *CryptoSource) Quote(ctx context.Context, symbol string) (aggregator.Quote, error) {
	t, err := s.client.Ticker24hr(ctx, symbol)
	if err != nil {
		return aggregator.Quote{}, err
	}
	return aggregator.Quote{
		Symbol:       symbol,
		Price:        money.FromFloat(t.LastPrice),
		Change24hPct: t.PriceChangePercent,
		Volume24h:    t.Volume,
		High24h:      t.HighPrice,
		Low24h:       t.LowPrice,
		AssetClass:   string(ClassCrypto),
		Source:       s.Name(),
		Timestamp:    time.Now(),
	}, nil
}
