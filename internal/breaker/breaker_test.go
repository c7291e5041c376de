package breaker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func testConfig() Config {
	return Config{
		FailureThreshold: 3,
		FailureWindow:    time.Minute,
		Cooldown:         10 * time.Millisecond,
		ProbeLimit:       1,
	}
}

func TestClosedAllowsByDefault(t *testing.T) {
	r := NewRegistry(testConfig())
	assert.True(t, r.Allow("exchange:binance"))
	assert.Equal(t, StateClosed, r.State("exchange:binance"))
}

func TestTripsOpenAfterThreshold(t *testing.T) {
	r := NewRegistry(testConfig())
	key := "exchange:binance"
	for i := 0; i < 3; i++ {
		r.RecordFailure(key)
	}
	assert.Equal(t, StateOpen, r.State(key))
	assert.False(t, r.Allow(key))
}

func TestHalfOpenAfterCooldown(t *testing.T) {
	r := NewRegistry(testConfig())
	key := "trade_execution"
	for i := 0; i < 3; i++ {
		r.RecordFailure(key)
	}
	require := assert.New(t)
	require.Equal(StateOpen, r.State(key))

	time.Sleep(20 * time.Millisecond)
	require.True(r.Allow(key))
	require.Equal(StateHalfOpen, r.State(key))

	// second concurrent probe should be denied (ProbeLimit=1)
	require.False(r.Allow(key))
}

func TestProbeSuccessCloses(t *testing.T) {
	r := NewRegistry(testConfig())
	key := "risk_threshold:u1"
	for i := 0; i < 3; i++ {
		r.RecordFailure(key)
	}
	time.Sleep(20 * time.Millisecond)
	assert.True(t, r.Allow(key))
	r.RecordSuccess(key)
	assert.Equal(t, StateClosed, r.State(key))
	assert.True(t, r.Allow(key))
}

func TestProbeFailureReopens(t *testing.T) {
	r := NewRegistry(testConfig())
	key := "exchange:okx"
	for i := 0; i < 3; i++ {
		r.RecordFailure(key)
	}
	time.Sleep(20 * time.Millisecond)
	assert.True(t, r.Allow(key))
	r.RecordFailure(key)
	assert.Equal(t, StateOpen, r.State(key))
}

func TestForceTripAndReset(t *testing.T) {
	r := NewRegistry(testConfig())
	key := "risk_threshold:u2"
	r.Trip(key)
	assert.Equal(t, StateOpen, r.State(key))
	assert.False(t, r.Allow(key))

	r.Reset(key)
	assert.Equal(t, StateClosed, r.State(key))
	assert.True(t, r.Allow(key))
}

func TestSnapshotReportsAllKeys(t *testing.T) {
	r := NewRegistry(testConfig())
	r.RecordFailure("a")
	r.RecordFailure("b")
	snaps := r.Snapshot()
	assert.Len(t, snaps, 2)
}
