package aggregator

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trading-core/internal/breaker"
	"trading-core/pkg/money"
)

type fakeSource struct {
	name string
	err  error
	calls int
}

func (f *fakeSource) Name() string { return f.name }

func (f *fakeSource) Quote(ctx context.Context, symbol string) (Quote, error) {
	f.calls++
	if f.err != nil {
		return Quote{}, f.err
	}
	return Quote{Symbol: symbol, Price: money.FromFloat(100), Source: f.name, Timestamp: time.Now()}, nil
}

func newTestRegistry() *breaker.Registry {
	return breaker.NewRegistry(breaker.Config{FailureThreshold: 2, FailureWindow: time.Minute, Cooldown: time.Hour, ProbeLimit: 1})
}

func TestGetQuoteUsesFirstHealthySource(t *testing.T) {
	primary := &fakeSource{name: "binance"}
	fallback := &fakeSource{name: "bybit"}
	agg := New([]Source{primary, fallback}, newTestRegistry(), nil, DefaultConfig())

	q, err := agg.GetQuote(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, "binance", q.Source)
	assert.Equal(t, 0, fallback.calls)
}

func TestGetQuoteFallsBackOnSourceError(t *testing.T) {
	primary := &fakeSource{name: "binance", err: fmt.Errorf("timeout")}
	fallback := &fakeSource{name: "bybit"}
	agg := New([]Source{primary, fallback}, newTestRegistry(), nil, DefaultConfig())

	q, err := agg.GetQuote(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, "bybit", q.Source)
}

func TestGetQuoteServesCacheWithinFreshness(t *testing.T) {
	primary := &fakeSource{name: "binance"}
	agg := New([]Source{primary}, newTestRegistry(), nil, Config{Freshness: time.Minute, SourceTimeout: time.Second})

	_, err := agg.GetQuote(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	_, err = agg.GetQuote(context.Background(), "BTCUSDT")
	require.NoError(t, err)

	assert.Equal(t, 1, primary.calls)
}

func TestGetQuoteAllSourcesFailReturnsError(t *testing.T) {
	primary := &fakeSource{name: "binance", err: fmt.Errorf("down")}
	agg := New([]Source{primary}, newTestRegistry(), nil, DefaultConfig())

	_, err := agg.GetQuote(context.Background(), "ETHUSDT")
	assert.Error(t, err)
}

func TestSyntheticSourceProducesQuote(t *testing.T) {
	s := NewSyntheticSource(100, 1)
	q, err := s.Quote(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, "synthetic", q.Source)
	assert.False(t, q.Price.IsNegative())
}
