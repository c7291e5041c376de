package notify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trading-core/pkg/money"
)

func TestArmSetsFingerprintAndArmedState(t *testing.T) {
	e := New(DefaultConfig(), nil, nil, nil)
	a := e.Arm(Alert{UserID: "u1", Symbol: "BTCUSDT", Condition: ConditionAbove, Target: money.FromFloat(60000)})

	assert.NotEmpty(t, a.Fingerprint)
	assert.True(t, a.Armed)
	assert.False(t, a.Triggered)
}

func TestArmIsIdempotentByFingerprint(t *testing.T) {
	e := New(DefaultConfig(), nil, nil, nil)
	e.Arm(Alert{UserID: "u1", Symbol: "BTCUSDT", Condition: ConditionAbove, Target: money.FromFloat(60000)})
	e.Arm(Alert{UserID: "u1", Symbol: "BTCUSDT", Condition: ConditionAbove, Target: money.FromFloat(60000)})

	assert.Len(t, e.Alerts("u1"), 1)
}

func TestEvaluateTickTriggersAboveAlertOnce(t *testing.T) {
	var received []Notification
	e := New(DefaultConfig(), nil, func(n Notification) { received = append(received, n) }, nil)
	e.Arm(Alert{UserID: "u1", Symbol: "BTCUSDT", Condition: ConditionAbove, Target: money.FromFloat(60000)})

	e.EvaluateTick("BTCUSDT", money.FromFloat(61000))
	e.EvaluateTick("BTCUSDT", money.FromFloat(62000))

	require.Len(t, received, 1)
	assert.Equal(t, "price_alert_triggered", received[0].Kind)
	assert.Equal(t, "u1", received[0].UserID)
}

func TestEvaluateTickDoesNotTriggerBelowTarget(t *testing.T) {
	var received []Notification
	e := New(DefaultConfig(), nil, func(n Notification) { received = append(received, n) }, nil)
	e.Arm(Alert{UserID: "u1", Symbol: "BTCUSDT", Condition: ConditionAbove, Target: money.FromFloat(60000)})

	e.EvaluateTick("BTCUSDT", money.FromFloat(59000))
	assert.Empty(t, received)
}

func TestEvaluateTickIgnoresOtherSymbols(t *testing.T) {
	var received []Notification
	e := New(DefaultConfig(), nil, func(n Notification) { received = append(received, n) }, nil)
	e.Arm(Alert{UserID: "u1", Symbol: "BTCUSDT", Condition: ConditionAbove, Target: money.FromFloat(60000)})

	e.EvaluateTick("ETHUSDT", money.FromFloat(70000))
	assert.Empty(t, received)
}

func TestBelowConditionTriggersOnDrop(t *testing.T) {
	var received []Notification
	e := New(DefaultConfig(), nil, func(n Notification) { received = append(received, n) }, nil)
	e.Arm(Alert{UserID: "u1", Symbol: "BTCUSDT", Condition: ConditionBelow, Target: money.FromFloat(40000)})

	e.EvaluateTick("BTCUSDT", money.FromFloat(39000))
	require.Len(t, received, 1)
}

func TestDismissRemovesAlert(t *testing.T) {
	e := New(DefaultConfig(), nil, nil, nil)
	a := e.Arm(Alert{UserID: "u1", Symbol: "BTCUSDT", Condition: ConditionAbove, Target: money.FromFloat(60000)})

	e.Dismiss("u1", a.Fingerprint)
	assert.Empty(t, e.Alerts("u1"))
}

func TestReArmingResetsTriggeredState(t *testing.T) {
	var received []Notification
	e := New(DefaultConfig(), nil, func(n Notification) { received = append(received, n) }, nil)
	e.Arm(Alert{UserID: "u1", Symbol: "BTCUSDT", Condition: ConditionAbove, Target: money.FromFloat(60000)})
	e.EvaluateTick("BTCUSDT", money.FromFloat(61000))
	require.Len(t, received, 1)

	e.Arm(Alert{UserID: "u1", Symbol: "BTCUSDT", Condition: ConditionAbove, Target: money.FromFloat(60000)})
	e.EvaluateTick("BTCUSDT", money.FromFloat(62000))
	assert.Len(t, received, 2)
}

func TestAlertsAreIndependentPerUser(t *testing.T) {
	e := New(DefaultConfig(), nil, nil, nil)
	e.Arm(Alert{UserID: "u1", Symbol: "BTCUSDT", Condition: ConditionAbove, Target: money.FromFloat(60000)})
	e.Arm(Alert{UserID: "u2", Symbol: "BTCUSDT", Condition: ConditionAbove, Target: money.FromFloat(60000)})

	assert.Len(t, e.Alerts("u1"), 1)
	assert.Len(t, e.Alerts("u2"), 1)
}

type fakeScanner struct {
	opps []Opportunity
	err  error
}

func (f *fakeScanner) Scan(ctx context.Context) ([]Opportunity, error) {
	return f.opps, f.err
}

func TestRunScansPublishesOpportunities(t *testing.T) {
	var received []Notification
	scanner := &fakeScanner{opps: []Opportunity{
		{Owner: "u1", Symbol: "BTCUSDT", Fingerprint: "fp1", Summary: "breakout", ExpiresAt: time.Now().Add(time.Hour)},
	}}
	e := New(DefaultConfig(), nil, func(n Notification) { received = append(received, n) }, []Scanner{scanner})

	e.runScans(context.Background())
	require.Len(t, received, 1)
	assert.Equal(t, "opportunity", received[0].Kind)
}

func TestRunScansDedupesByFingerprintUntilExpiry(t *testing.T) {
	var received []Notification
	scanner := &fakeScanner{opps: []Opportunity{
		{Owner: "u1", Symbol: "BTCUSDT", Fingerprint: "fp1", Summary: "breakout", ExpiresAt: time.Now().Add(time.Hour)},
	}}
	e := New(DefaultConfig(), nil, func(n Notification) { received = append(received, n) }, []Scanner{scanner})

	e.runScans(context.Background())
	e.runScans(context.Background())
	assert.Len(t, received, 1)
}

func TestRunScansSkipsFailingScanner(t *testing.T) {
	var received []Notification
	scanner := &fakeScanner{err: errors.New("scan unavailable")}
	e := New(DefaultConfig(), nil, func(n Notification) { received = append(received, n) }, []Scanner{scanner})

	e.runScans(context.Background())
	assert.Empty(t, received)
}

func TestFingerprintIsStableForSameParameters(t *testing.T) {
	a := Fingerprint("u1", "BTCUSDT", ConditionAbove, money.FromFloat(60000))
	b := Fingerprint("u1", "BTCUSDT", ConditionAbove, money.FromFloat(60000))
	assert.Equal(t, a, b)
}

func TestFingerprintDiffersAcrossUsers(t *testing.T) {
	a := Fingerprint("u1", "BTCUSDT", ConditionAbove, money.FromFloat(60000))
	b := Fingerprint("u2", "BTCUSDT", ConditionAbove, money.FromFloat(60000))
	assert.NotEqual(t, a, b)
}
