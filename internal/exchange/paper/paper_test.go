package paper

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trading-core/internal/exchange/common"
)

func TestSubmitOrderBuyThenSellFills(t *testing.T) {
	gw := New(10000, Config{FeeRate: 0, SlippageBps: 0})

	res, err := gw.SubmitOrder(context.Background(), common.OrderRequest{
		Symbol: "BTCUSDT", Side: common.SideBuy, Type: common.OrderTypeMarket,
		Qty: "1", Price: "100",
	})
	require.NoError(t, err)
	assert.Equal(t, common.StatusFilled, res.Status)
	assert.Equal(t, "1.00000000", res.FilledQty)

	assert.Equal(t, "1.00000000", gw.PositionQty("BTCUSDT"))

	balances, err := gw.GetBalances(context.Background())
	require.NoError(t, err)
	require.Len(t, balances, 1)
	assert.Equal(t, "9900.000000", balances[0].Total)

	_, err = gw.SubmitOrder(context.Background(), common.OrderRequest{
		Symbol: "BTCUSDT", Side: common.SideSell, Type: common.OrderTypeMarket,
		Qty: "1", Price: "110",
	})
	require.NoError(t, err)
	assert.Equal(t, "0.00000000", gw.PositionQty("BTCUSDT"))
}

func TestSubmitOrderInsufficientBalance(t *testing.T) {
	gw := New(50, Config{FeeRate: 0, SlippageBps: 0})
	_, err := gw.SubmitOrder(context.Background(), common.OrderRequest{
		Symbol: "BTCUSDT", Side: common.SideBuy, Type: common.OrderTypeMarket,
		Qty: "1", Price: "100",
	})
	assert.Error(t, err)
}

func TestSubmitOrderRequiresPrice(t *testing.T) {
	gw := New(10000, DefaultConfig())
	_, err := gw.SubmitOrder(context.Background(), common.OrderRequest{
		Symbol: "BTCUSDT", Side: common.SideBuy, Type: common.OrderTypeMarket,
		Qty: "1", Price: "0",
	})
	assert.Error(t, err)
}

func TestCancelOrderIsNoop(t *testing.T) {
	gw := New(10000, DefaultConfig())
	assert.NoError(t, gw.CancelOrder(context.Background(), "BTCUSDT", "whatever"))
}
