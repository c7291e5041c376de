package portfolio

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trading-core/pkg/money"
)

func TestSeedAccountSetsBalances(t *testing.T) {
	m := New(nil)
	m.SeedAccount("u1", money.FromFloat(10000))

	acc := m.GetAccount("u1")
	assert.Equal(t, "10000.000000", acc.Total.String())
	assert.Equal(t, "10000.000000", acc.Available.String())
	assert.True(t, acc.Locked.IsZero())
}

func TestLockMovesAvailableToLocked(t *testing.T) {
	m := New(nil)
	m.SeedAccount("u1", money.FromFloat(1000))

	err := m.Lock(context.Background(), "u1", money.FromFloat(400))
	require.NoError(t, err)

	acc := m.GetAccount("u1")
	assert.Equal(t, "600.000000", acc.Available.String())
	assert.Equal(t, "400.000000", acc.Locked.String())
}

func TestLockRejectsInsufficientBalance(t *testing.T) {
	m := New(nil)
	m.SeedAccount("u1", money.FromFloat(100))

	err := m.Lock(context.Background(), "u1", money.FromFloat(500))
	assert.Error(t, err)
}

func TestUnlockRestoresAvailable(t *testing.T) {
	m := New(nil)
	m.SeedAccount("u1", money.FromFloat(1000))
	require.NoError(t, m.Lock(context.Background(), "u1", money.FromFloat(400)))

	m.Unlock(context.Background(), "u1", money.FromFloat(400))
	acc := m.GetAccount("u1")
	assert.Equal(t, "1000.000000", acc.Available.String())
	assert.True(t, acc.Locked.IsZero())
}

func TestDeductReducesLockedAndTotal(t *testing.T) {
	m := New(nil)
	m.SeedAccount("u1", money.FromFloat(1000))
	require.NoError(t, m.Lock(context.Background(), "u1", money.FromFloat(400)))

	m.Deduct(context.Background(), "u1", money.FromFloat(400))
	acc := m.GetAccount("u1")
	assert.Equal(t, "600.000000", acc.Total.String())
	assert.True(t, acc.Locked.IsZero())
}

func TestAddCreditsTotalAndAvailable(t *testing.T) {
	m := New(nil)
	m.SeedAccount("u1", money.FromFloat(1000))

	m.Add(context.Background(), "u1", money.FromFloat(250))
	acc := m.GetAccount("u1")
	assert.Equal(t, "1250.000000", acc.Total.String())
	assert.Equal(t, "1250.000000", acc.Available.String())
}

func TestApplyFillOpensLongPosition(t *testing.T) {
	m := New(nil)
	pos := m.ApplyFill(context.Background(), "u1", "BTCUSDT", "BUY", money.FromFloat(1), money.FromFloat(50000))

	assert.Equal(t, "1.000000", pos.Qty.String())
	assert.Equal(t, "50000.000000", pos.AvgPrice.String())
}

func TestApplyFillAveragesAddingToLong(t *testing.T) {
	m := New(nil)
	m.ApplyFill(context.Background(), "u1", "BTCUSDT", "BUY", money.FromFloat(1), money.FromFloat(50000))
	pos := m.ApplyFill(context.Background(), "u1", "BTCUSDT", "BUY", money.FromFloat(1), money.FromFloat(60000))

	assert.Equal(t, "2.000000", pos.Qty.String())
	assert.Equal(t, "55000.000000", pos.AvgPrice.String())
}

func TestApplyFillPartialCloseKeepsAveragePrice(t *testing.T) {
	m := New(nil)
	m.ApplyFill(context.Background(), "u1", "BTCUSDT", "BUY", money.FromFloat(2), money.FromFloat(50000))
	pos := m.ApplyFill(context.Background(), "u1", "BTCUSDT", "SELL", money.FromFloat(1), money.FromFloat(70000))

	assert.Equal(t, "1.000000", pos.Qty.String())
	assert.Equal(t, "50000.000000", pos.AvgPrice.String())
}

func TestApplyFillFlipsFromLongToShort(t *testing.T) {
	m := New(nil)
	m.ApplyFill(context.Background(), "u1", "BTCUSDT", "BUY", money.FromFloat(1), money.FromFloat(50000))
	pos := m.ApplyFill(context.Background(), "u1", "BTCUSDT", "SELL", money.FromFloat(3), money.FromFloat(60000))

	assert.Equal(t, "-2.000000", pos.Qty.String())
	assert.Equal(t, "60000.000000", pos.AvgPrice.String())
}

func TestApplyFillFullCloseZeroesAveragePrice(t *testing.T) {
	m := New(nil)
	m.ApplyFill(context.Background(), "u1", "BTCUSDT", "BUY", money.FromFloat(1), money.FromFloat(50000))
	pos := m.ApplyFill(context.Background(), "u1", "BTCUSDT", "SELL", money.FromFloat(1), money.FromFloat(60000))

	assert.True(t, pos.Qty.IsZero())
	assert.True(t, pos.AvgPrice.IsZero())
}

func TestPositionsOmitsClosedPositions(t *testing.T) {
	m := New(nil)
	m.ApplyFill(context.Background(), "u1", "BTCUSDT", "BUY", money.FromFloat(1), money.FromFloat(50000))
	m.ApplyFill(context.Background(), "u1", "BTCUSDT", "SELL", money.FromFloat(1), money.FromFloat(50000))
	m.ApplyFill(context.Background(), "u1", "ETHUSDT", "BUY", money.FromFloat(2), money.FromFloat(3000))

	positions := m.Positions("u1")
	require.Len(t, positions, 1)
	assert.Equal(t, "ETHUSDT", positions[0].Symbol)
}

func TestOpenExposureSumsAbsoluteNotional(t *testing.T) {
	m := New(nil)
	m.ApplyFill(context.Background(), "u1", "BTCUSDT", "BUY", money.FromFloat(1), money.FromFloat(50000))
	m.ApplyFill(context.Background(), "u1", "ETHUSDT", "SELL", money.FromFloat(2), money.FromFloat(3000))

	exposure := m.OpenExposure("u1")
	assert.Equal(t, "56000.000000", exposure.String())
}

func TestJournalSinkReceivesEncodedEntries(t *testing.T) {
	var received []JournalEntry
	m := New(func(entry JournalEntry, encoded []byte) {
		decoded, err := DecodeJournalEntry(encoded)
		require.NoError(t, err)
		assert.Equal(t, entry.Seq, decoded.Seq)
		received = append(received, decoded)
	})
	m.SeedAccount("u1", money.FromFloat(1000))
	require.NoError(t, m.Lock(context.Background(), "u1", money.FromFloat(100)))
	m.Unlock(context.Background(), "u1", money.FromFloat(100))

	require.Len(t, received, 2)
	assert.Equal(t, uint64(1), received[0].Seq)
	assert.Equal(t, "lock", received[0].Kind)
	assert.Equal(t, uint64(2), received[1].Seq)
	assert.Equal(t, "unlock", received[1].Kind)
}

func TestLedgersAreIndependentPerUser(t *testing.T) {
	m := New(nil)
	m.SeedAccount("u1", money.FromFloat(1000))
	m.SeedAccount("u2", money.FromFloat(5000))

	assert.Equal(t, "1000.000000", m.GetAccount("u1").Total.String())
	assert.Equal(t, "5000.000000", m.GetAccount("u2").Total.String())
}
