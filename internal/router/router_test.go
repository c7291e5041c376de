package router

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trading-core/internal/aggregator"
	"trading-core/internal/breaker"
	exchangecommon "trading-core/internal/exchange/common"
	"trading-core/internal/exchange/paper"
	"trading-core/internal/portfolio"
	"trading-core/internal/risk"
	"trading-core/pkg/money"
)

type fakeQuoteSource struct{ price float64 }

func (f *fakeQuoteSource) Name() string { return "fake" }

func (f *fakeQuoteSource) Quote(ctx context.Context, symbol string) (aggregator.Quote, error) {
	return aggregator.Quote{Symbol: symbol, Price: money.FromFloat(f.price), Source: "fake", Timestamp: time.Now()}, nil
}

func newTestRouter(t *testing.T) (*Router, *portfolio.Manager) {
	t.Helper()
	breakers := breaker.NewRegistry(breaker.Config{FailureThreshold: 5, FailureWindow: time.Minute, Cooldown: time.Minute, ProbeLimit: 1})
	agg := aggregator.New([]aggregator.Source{&fakeQuoteSource{price: 50000}}, breakers, nil, aggregator.DefaultConfig())
	riskMgr := risk.NewManager(risk.DefaultConfig(), breakers)
	pf := portfolio.New(nil)
	pf.SeedAccount("u1", money.FromFloat(100000))
	paperGW := paper.New(100000, paper.DefaultConfig())

	r := New(DefaultConfig(), riskMgr, breakers, agg, pf, nil, nil, paperGW, nil, nil, nil)
	return r, pf
}

func TestSubmitLearningOnlyNeverSubmits(t *testing.T) {
	r, pf := newTestRouter(t)
	r.SetMode("u1", ModeLearningOnly)

	res, err := r.Submit(context.Background(), OrderProposal{
		UserID: "u1", Symbol: "BTCUSDT", Side: exchangecommon.SideBuy,
		Notional: money.FromFloat(500), Type: exchangecommon.OrderTypeMarket,
		Source: SourceUser, CurrentEquity: money.FromFloat(100000),
	})
	require.NoError(t, err)
	assert.Equal(t, StateRecording, res.State)
	assert.Empty(t, pf.Positions("u1"))
}

func TestSubmitAutopilotExecutesAgainstPaper(t *testing.T) {
	r, pf := newTestRouter(t)
	r.SetMode("u1", ModeAutopilot)

	res, err := r.Submit(context.Background(), OrderProposal{
		UserID: "u1", Symbol: "BTCUSDT", Side: exchangecommon.SideBuy,
		Notional: money.FromFloat(500), Type: exchangecommon.OrderTypeMarket,
		Source: SourceUser, CurrentEquity: money.FromFloat(100000),
	})
	require.NoError(t, err)
	assert.Equal(t, StateRecording, res.State)
	assert.Equal(t, "paper", res.ExecutionKind)

	positions := pf.Positions("u1")
	require.Len(t, positions, 1)
	assert.Equal(t, "BTCUSDT", positions[0].Symbol)
}

func TestSubmitAssistedAutomatedOrderQueuesApproval(t *testing.T) {
	r, _ := newTestRouter(t)
	r.SetMode("u1", ModeAssisted)

	res, err := r.Submit(context.Background(), OrderProposal{
		UserID: "u1", Symbol: "BTCUSDT", Side: exchangecommon.SideBuy,
		Notional: money.FromFloat(500), Type: exchangecommon.OrderTypeMarket,
		Source: SourceAutomated, CurrentEquity: money.FromFloat(100000),
	})
	require.NoError(t, err)
	assert.Equal(t, StateIdle, res.State)
	assert.NotEmpty(t, res.PendingApprovalID)
}

func TestSubmitAssistedUserOrderProceedsDirectly(t *testing.T) {
	r, pf := newTestRouter(t)
	r.SetMode("u1", ModeAssisted)

	res, err := r.Submit(context.Background(), OrderProposal{
		UserID: "u1", Symbol: "BTCUSDT", Side: exchangecommon.SideBuy,
		Notional: money.FromFloat(500), Type: exchangecommon.OrderTypeMarket,
		Source: SourceUser, CurrentEquity: money.FromFloat(100000),
	})
	require.NoError(t, err)
	assert.Equal(t, StateRecording, res.State)
	assert.Len(t, pf.Positions("u1"), 1)
}

func TestApproveOrderSubmitsPendingApproval(t *testing.T) {
	r, pf := newTestRouter(t)
	r.SetMode("u1", ModeAssisted)

	res, err := r.Submit(context.Background(), OrderProposal{
		UserID: "u1", Symbol: "BTCUSDT", Side: exchangecommon.SideBuy,
		Notional: money.FromFloat(500), Type: exchangecommon.OrderTypeMarket,
		Source: SourceAutomated, CurrentEquity: money.FromFloat(100000),
	})
	require.NoError(t, err)

	approved, err := r.ApproveOrder(context.Background(), res.PendingApprovalID)
	require.NoError(t, err)
	assert.Equal(t, StateRecording, approved.State)
	assert.Len(t, pf.Positions("u1"), 1)
}

func TestApproveOrderUnknownIDFails(t *testing.T) {
	r, _ := newTestRouter(t)
	_, err := r.ApproveOrder(context.Background(), "nonexistent")
	assert.Error(t, err)
}

func TestRejectApprovalCancelsPending(t *testing.T) {
	r, _ := newTestRouter(t)
	r.SetMode("u1", ModeAssisted)

	res, err := r.Submit(context.Background(), OrderProposal{
		UserID: "u1", Symbol: "BTCUSDT", Side: exchangecommon.SideBuy,
		Notional: money.FromFloat(500), Type: exchangecommon.OrderTypeMarket,
		Source: SourceAutomated, CurrentEquity: money.FromFloat(100000),
	})
	require.NoError(t, err)

	require.NoError(t, r.RejectApproval(res.PendingApprovalID))
	_, err = r.ApproveOrder(context.Background(), res.PendingApprovalID)
	assert.Error(t, err)
}

func TestSubmitRejectedWhenKillSwitchEngaged(t *testing.T) {
	r, _ := newTestRouter(t)
	r.SetMode("u1", ModeAutopilot)
	r.TripKillSwitch("u1")

	_, err := r.Submit(context.Background(), OrderProposal{
		UserID: "u1", Symbol: "BTCUSDT", Side: exchangecommon.SideBuy,
		Notional: money.FromFloat(500), Type: exchangecommon.OrderTypeMarket,
		Source: SourceUser, CurrentEquity: money.FromFloat(100000),
	})
	assert.Error(t, err)
}

func TestSubmitRejectedWhenGlobalKillSwitchEngaged(t *testing.T) {
	r, _ := newTestRouter(t)
	r.SetMode("u1", ModeAutopilot)
	r.TripGlobalKillSwitch()

	_, err := r.Submit(context.Background(), OrderProposal{
		UserID: "u1", Symbol: "BTCUSDT", Side: exchangecommon.SideBuy,
		Notional: money.FromFloat(500), Type: exchangecommon.OrderTypeMarket,
		Source: SourceUser, CurrentEquity: money.FromFloat(100000),
	})
	assert.Error(t, err)

	r.ResetGlobalKillSwitch()
	_, err = r.Submit(context.Background(), OrderProposal{
		UserID: "u1", Symbol: "BTCUSDT", Side: exchangecommon.SideBuy,
		Notional: money.FromFloat(500), Type: exchangecommon.OrderTypeMarket,
		Source: SourceUser, CurrentEquity: money.FromFloat(100000),
	})
	assert.NoError(t, err)
}

func TestSubmitRejectedByRiskEngine(t *testing.T) {
	r, _ := newTestRouter(t)
	r.SetMode("u1", ModeAutopilot)

	_, err := r.Submit(context.Background(), OrderProposal{
		UserID: "u1", Symbol: "BTCUSDT", Side: exchangecommon.SideBuy,
		Notional: money.FromFloat(5), Type: exchangecommon.OrderTypeMarket,
		Source: SourceUser, CurrentEquity: money.FromFloat(100000),
	})
	assert.Error(t, err)
}

func TestDefaultModeIsLearningOnly(t *testing.T) {
	r, _ := newTestRouter(t)
	assert.Equal(t, ModeLearningOnly, r.GetMode("unconfigured-user"))
}

func TestSubmitIdempotencyKeyReplaysWithoutSecondSubmission(t *testing.T) {
	r, pf := newTestRouter(t)
	r.SetMode("u1", ModeAutopilot)

	proposal := OrderProposal{
		UserID: "u1", Symbol: "BTCUSDT", Side: exchangecommon.SideBuy,
		Notional: money.FromFloat(500), Type: exchangecommon.OrderTypeMarket,
		Source: SourceUser, CurrentEquity: money.FromFloat(100000),
		IdempotencyKey: "client-key-1",
	}

	first, err := r.Submit(context.Background(), proposal)
	require.NoError(t, err)
	require.Len(t, pf.Positions("u1"), 1)

	second, err := r.Submit(context.Background(), proposal)
	require.NoError(t, err)
	assert.Equal(t, first.OrderID, second.OrderID)
	assert.Len(t, pf.Positions("u1"), 1, "duplicate submission with the same idempotency key must not submit a second order")
}

func TestExecuteKillSwitchClosesOpenPositions(t *testing.T) {
	r, pf := newTestRouter(t)
	r.SetMode("u1", ModeAutopilot)

	_, err := r.Submit(context.Background(), OrderProposal{
		UserID: "u1", Symbol: "BTCUSDT", Side: exchangecommon.SideBuy,
		Notional: money.FromFloat(500), Type: exchangecommon.OrderTypeMarket,
		Source: SourceUser, CurrentEquity: money.FromFloat(100000),
	})
	require.NoError(t, err)
	require.Len(t, pf.Positions("u1"), 1)

	errs := r.ExecuteKillSwitch(context.Background(), "u1")
	assert.Empty(t, errs)
	assert.Empty(t, pf.Positions("u1"))
}
