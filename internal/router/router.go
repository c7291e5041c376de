// Package router implements the Trade Router: per-user operating-mode
// selection, platform choice, and the gated order-submission state
// machine. Adapted from an internal/order.Executor (gateway
// resolution, persistence hooks, event publication on submit/accept/
// reject/fill) and internal/engine's service wiring, generalized from a
// single global gateway and DB-backed strategy binding into per-user
// mode (LearningOnly/Assisted/Autopilot) and platform selection with the
// explicit Idle->Proposing->RiskChecking->BreakerChecking->Submitting->
// Recording state machine.
package router

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"trading-core/internal/aggregator"
	"trading-core/internal/breaker"
	exchangecommon "trading-core/internal/exchange/common"
	"trading-core/internal/portfolio"
	"trading-core/internal/risk"
	"trading-core/pkg/apierr"
	"trading-core/pkg/money"
)

// Mode is a user's trade-automation posture.
type Mode string

const (
	ModeLearningOnly Mode = "LEARNING_ONLY"
	ModeAssisted     Mode = "ASSISTED"
	ModeAutopilot    Mode = "AUTOPILOT"
)

// State is a step of the per-submission state machine.
type State string

const (
	StateIdle            State = "IDLE"
	StateProposing       State = "PROPOSING"
	StateRiskChecking    State = "RISK_CHECKING"
	StateBreakerChecking State = "BREAKER_CHECKING"
	StateSubmitting      State = "SUBMITTING"
	StateRecording       State = "RECORDING"
	StateRejected        State = "REJECTED"
)

// Source distinguishes who generated an order proposal; only automated
// proposals require explicit approval in Assisted mode.
type Source string

const (
	SourceUser      Source = "user"
	SourceAutomated Source = "automated"
)

// PlatformConnection describes one of a user's configured exchange
// connections (mirrors the pkg/db platform row).
type PlatformConnection struct {
	ID                 string
	UserID             string
	Kind               exchangecommon.Platform
	Status             string // "connected" or "disconnected"
	IsDefault          bool
	LastSuccessAt      time.Time
	EncryptedAPIKey    string
	EncryptedAPISecret string
}

// PlatformProvider supplies a user's configured exchange connections.
type PlatformProvider interface {
	PlatformsForUser(userID string) []PlatformConnection
}

// GatewayGetter resolves a live Gateway for a non-paper platform
// connection, backed by internal/exchange.Pool.Get in production.
type GatewayGetter func(ctx context.Context, conn PlatformConnection) (exchangecommon.Gateway, error)

// QuoteSource supplies a current price for a symbol. Satisfied by both
// a single-asset-class *aggregator.Aggregator and the multi-class
// *aggregator.Service, so the Router does not care which routing
// granularity the caller wired up.
type QuoteSource interface {
	GetQuote(ctx context.Context, symbol string) (aggregator.Quote, error)
}

// TradeRecord is what Submit hands to a Recorder once a fill settles.
type TradeRecord struct {
	OrderID             string
	UserID              string
	Symbol              string
	Side                string
	Qty                 money.Amount
	ExecutionKind       string // "live" or "paper"
	MarketPriceAtExec   money.Amount
	FillPrice           money.Amount
	PlatformKind        exchangecommon.Platform
	CreatedAt           time.Time
}

// Recorder persists a settled trade, backed by pkg/db in production.
type Recorder func(ctx context.Context, rec TradeRecord)

// Notifier is invoked on trade lifecycle events (submitted/rejected/
// filled), backed by internal/notify.
type Notifier func(userID, kind string, payload any)

// Streamer publishes a trade lifecycle event onto a named streaming
// channel, backed by internal/stream.
type Streamer func(userID, channel string, payload any)

// Result is returned once Submit completes, is queued for approval, or
// is rejected.
type Result struct {
	State             State
	OrderID           string
	PlatformKind      exchangecommon.Platform
	ExecutionKind     string
	FilledQty         money.Amount
	FillPrice         money.Amount
	Reason            string
	Warning           string
	PendingApprovalID string
}

// OrderProposal is the input to Submit. Notional is the quote-currency
// size the caller wants to trade (e.g. USD); the base-asset quantity
// actually sent to the adapter is derived once a current quote is
// obtained, since risk sizing and the adapter's Qty field operate in
// different units.
type OrderProposal struct {
	UserID   string
	Symbol   string
	Side     exchangecommon.Side
	Notional money.Amount
	Type     exchangecommon.OrderType
	Source   Source

	// CurrentEquity feeds the Risk Engine; callers derive it from
	// internal/portfolio before calling Submit. Open exposure is read from
	// internal/portfolio by the Router itself.
	CurrentEquity money.Amount
	Leverage      float64

	// IdempotencyKey, when set, makes Submit idempotent per user: a repeat
	// call with the same key returns the first call's Result instead of
	// submitting a second order.
	IdempotencyKey string
}

type idempotentResult struct {
	result Result
	err    error
}

type pendingApproval struct {
	id       string
	proposal OrderProposal
	expires  time.Time
	timer    *time.Timer
}

// Config tunes Router behavior.
type Config struct {
	ApprovalTTL      time.Duration // Assisted-mode approval window, default 5 minutes
	QuoteMaxAge      time.Duration // max acceptable quote age before submission, default 5 seconds
}

func DefaultConfig() Config {
	return Config{ApprovalTTL: 5 * time.Minute, QuoteMaxAge: 5 * time.Second}
}

// Router ties together the Risk Engine, Circuit Breaker Registry, Market
// Data Aggregator, Portfolio Accounting, and the Exchange Adapter into
// the single gated submission path every order passes through.
type Router struct {
	cfg Config

	risk       *risk.Manager
	breakers   *breaker.Registry
	aggregator QuoteSource
	portfolio  *portfolio.Manager
	platforms  PlatformProvider
	getGateway GatewayGetter
	paper      exchangecommon.Gateway

	recorder Recorder
	notify   Notifier
	stream   Streamer

	mu        sync.Mutex
	userLocks map[string]*sync.Mutex
	modes     map[string]Mode
	pending   map[string]*pendingApproval

	idemMu sync.Mutex
	idem   map[string]idempotentResult

	killMu     sync.RWMutex
	userKilled map[string]bool
	globalKill bool
}

// New constructs a Router. paper is the always-available fallback
// Gateway used when a user has no connected non-paper platform.
func New(cfg Config, riskMgr *risk.Manager, breakers *breaker.Registry, agg QuoteSource, pf *portfolio.Manager, platforms PlatformProvider, getGateway GatewayGetter, paper exchangecommon.Gateway, recorder Recorder, notify Notifier, stream Streamer) *Router {
	return &Router{
		cfg:        cfg,
		risk:       riskMgr,
		breakers:   breakers,
		aggregator: agg,
		portfolio:  pf,
		platforms:  platforms,
		getGateway: getGateway,
		paper:      paper,
		recorder:   recorder,
		notify:     notify,
		stream:     stream,
		userLocks:  make(map[string]*sync.Mutex),
		modes:      make(map[string]Mode),
		pending:    make(map[string]*pendingApproval),
		idem:       make(map[string]idempotentResult),
		userKilled: make(map[string]bool),
	}
}

func idempotencyCacheKey(userID, key string) string { return userID + ":" + key }

func (r *Router) lockFor(userID string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.userLocks[userID]
	if !ok {
		l = &sync.Mutex{}
		r.userLocks[userID] = l
	}
	return l
}

// SetMode installs a user's operating mode. Defaults to LearningOnly
// when never set, the conservative choice.
func (r *Router) SetMode(userID string, mode Mode) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.modes[userID] = mode
}

func (r *Router) GetMode(userID string) Mode {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.modes[userID]; ok {
		return m
	}
	return ModeLearningOnly
}

// TripKillSwitch engages a user's kill switch: all subsequent Submit
// calls are rejected immediately until ResetKillSwitch.
func (r *Router) TripKillSwitch(userID string) {
	r.killMu.Lock()
	defer r.killMu.Unlock()
	r.userKilled[userID] = true
}

func (r *Router) ResetKillSwitch(userID string) {
	r.killMu.Lock()
	defer r.killMu.Unlock()
	delete(r.userKilled, userID)
	if r.risk != nil {
		r.risk.ResetKillSwitch(userID)
	}
}

// TripGlobalKillSwitch engages the process-wide kill switch covering
// every user, for operator emergency stop.
func (r *Router) TripGlobalKillSwitch() {
	r.killMu.Lock()
	defer r.killMu.Unlock()
	r.globalKill = true
}

func (r *Router) ResetGlobalKillSwitch() {
	r.killMu.Lock()
	defer r.killMu.Unlock()
	r.globalKill = false
}

func (r *Router) killSwitchEngaged(userID string) bool {
	r.killMu.RLock()
	defer r.killMu.RUnlock()
	return r.globalKill || r.userKilled[userID]
}

// selectPlatform picks the platform a proposal should route to: the
// default-marked connected non-paper platform, else the most recently
// successful one, else paper with execution_kind=paper.
func (r *Router) selectPlatform(userID string) (PlatformConnection, bool) {
	if r.platforms == nil {
		return PlatformConnection{Kind: exchangecommon.PlatformPaper, Status: "connected"}, false
	}
	conns := r.platforms.PlatformsForUser(userID)

	var candidates []PlatformConnection
	for _, c := range conns {
		if c.Status == "connected" && c.Kind != exchangecommon.PlatformPaper {
			candidates = append(candidates, c)
		}
	}
	if len(candidates) == 0 {
		return PlatformConnection{Kind: exchangecommon.PlatformPaper, Status: "connected"}, false
	}

	for _, c := range candidates {
		if c.IsDefault {
			return c, true
		}
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].LastSuccessAt.After(candidates[j].LastSuccessAt)
	})
	return candidates[0], true
}

func exchangeBreakerKey(p exchangecommon.Platform) string   { return "exchange:" + string(p) }
func executionBreakerKey(p exchangecommon.Platform) string { return "trade_execution:" + string(p) }

// Submit runs the full gated submission pipeline for a proposal: mode
// selection, platform choice, risk + breaker gating, quote-freshness
// check, adapter submission, and portfolio recording. In LearningOnly
// mode the order is scored but never submitted. In Assisted mode an
// automated proposal is queued for approval instead of proceeding.
//
// When p.IdempotencyKey is set, a repeat Submit for the same user and key
// replays the first call's Result rather than submitting a second order.
func (r *Router) Submit(ctx context.Context, p OrderProposal) (Result, error) {
	lock := r.lockFor(p.UserID)
	lock.Lock()
	defer lock.Unlock()

	if p.IdempotencyKey != "" {
		cacheKey := idempotencyCacheKey(p.UserID, p.IdempotencyKey)
		r.idemMu.Lock()
		if cached, ok := r.idem[cacheKey]; ok {
			r.idemMu.Unlock()
			return cached.result, cached.err
		}
		r.idemMu.Unlock()
	}

	result, err := r.dispatch(ctx, p)

	if p.IdempotencyKey != "" {
		cacheKey := idempotencyCacheKey(p.UserID, p.IdempotencyKey)
		r.idemMu.Lock()
		r.idem[cacheKey] = idempotentResult{result: result, err: err}
		r.idemMu.Unlock()
	}
	return result, err
}

func (r *Router) dispatch(ctx context.Context, p OrderProposal) (Result, error) {
	if r.killSwitchEngaged(p.UserID) {
		return Result{State: StateRejected, Reason: "kill switch engaged"}, apierr.New(apierr.KindBreakerOpen, "KILL_SWITCH_ENGAGED", "trading halted by kill switch")
	}

	mode := r.GetMode(p.UserID)

	if mode == ModeLearningOnly {
		decision := r.evaluateRiskOnly(p)
		r.emit(p.UserID, "order_scored", decision)
		return Result{State: StateRecording, Reason: "recorded, not submitted (learning-only mode)"}, nil
	}

	if mode == ModeAssisted && p.Source == SourceAutomated {
		id := r.enqueueApproval(p)
		return Result{State: StateIdle, PendingApprovalID: id}, nil
	}

	return r.submitGated(ctx, p)
}

// evaluateRiskOnly runs the Risk Engine without committing anything, for
// LearningOnly-mode scoring.
func (r *Router) evaluateRiskOnly(p OrderProposal) risk.Decision {
	exposure := r.portfolio.OpenExposure(p.UserID)
	return r.risk.Evaluate(risk.Proposal{
		UserID:        p.UserID,
		Symbol:        p.Symbol,
		Side:          string(p.Side),
		Notional:      p.Notional.Float64(),
		Leverage:      p.Leverage,
		CurrentEquity: p.CurrentEquity.Float64(),
		OpenExposure:  exposure.Float64(),
	})
}

func (r *Router) enqueueApproval(p OrderProposal) string {
	id := uuid.NewString()
	expires := time.Now().Add(r.cfg.ApprovalTTL)

	pa := &pendingApproval{id: id, proposal: p, expires: expires}
	pa.timer = time.AfterFunc(r.cfg.ApprovalTTL, func() {
		r.mu.Lock()
		_, still := r.pending[id]
		delete(r.pending, id)
		r.mu.Unlock()
		if still {
			log.Info().Str("approval_id", id).Str("user", p.UserID).Msg("assisted-mode approval expired, order cancelled")
			r.emit(p.UserID, "order_expired", p)
		}
	})

	r.mu.Lock()
	r.pending[id] = pa
	r.mu.Unlock()
	return id
}

// ApproveOrder submits a pending Assisted-mode approval immediately.
func (r *Router) ApproveOrder(ctx context.Context, approvalID string) (Result, error) {
	r.mu.Lock()
	pa, ok := r.pending[approvalID]
	if ok {
		delete(r.pending, approvalID)
	}
	r.mu.Unlock()
	if !ok {
		return Result{}, apierr.New(apierr.KindNotFound, "APPROVAL_NOT_FOUND", "pending approval not found or already resolved")
	}
	pa.timer.Stop()

	lock := r.lockFor(pa.proposal.UserID)
	lock.Lock()
	defer lock.Unlock()
	return r.submitGated(ctx, pa.proposal)
}

// RejectApproval cancels a pending Assisted-mode approval before its TTL.
func (r *Router) RejectApproval(approvalID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	pa, ok := r.pending[approvalID]
	if !ok {
		return apierr.New(apierr.KindNotFound, "APPROVAL_NOT_FOUND", "pending approval not found")
	}
	pa.timer.Stop()
	delete(r.pending, approvalID)
	return nil
}

func (r *Router) submitGated(ctx context.Context, p OrderProposal) (Result, error) {
	conn, live := r.selectPlatform(p.UserID)
	executionKind := "paper"
	if live {
		executionKind = "live"
	}

	exposure := r.portfolio.OpenExposure(p.UserID)
	decision := r.risk.Evaluate(risk.Proposal{
		UserID:        p.UserID,
		Symbol:        p.Symbol,
		Side:          string(p.Side),
		Notional:      p.Notional.Float64(),
		Leverage:      p.Leverage,
		CurrentEquity: p.CurrentEquity.Float64(),
		OpenExposure:  exposure.Float64(),
	})
	if !decision.Allowed {
		r.emit(p.UserID, "order_rejected", decision.Reason)
		if decision.ReasonCode == risk.ReasonDailyDrawdownExceeded {
			// Evaluate is pure; applying the verdict (engaging the kill
			// switch and sweeping open positions) is the Router's job.
			r.risk.TripKillSwitch(p.UserID)
			r.ExecuteKillSwitch(ctx, p.UserID)
		}
		return Result{State: StateRejected, Reason: decision.Reason}, apierr.New(apierr.KindRiskRejected, "RISK_REJECTED", decision.Reason)
	}
	adjustedNotional := money.FromFloat(decision.AdjustedSize)

	if !r.breakers.Allow(exchangeBreakerKey(conn.Kind)) || !r.breakers.Allow(executionBreakerKey(conn.Kind)) {
		return Result{State: StateRejected, Reason: "platform temporarily unavailable, retry shortly"}, apierr.New(apierr.KindBreakerOpen, "BREAKER_OPEN", "exchange or execution breaker open for "+string(conn.Kind))
	}

	quote, err := r.aggregator.GetQuote(ctx, p.Symbol)
	if err != nil {
		return Result{State: StateRejected, Reason: "no current quote available"}, apierr.Wrap(apierr.KindUpstream, "QUOTE_FETCH_FAILED", "fetch quote", err)
	}
	if quote.IsStale(r.cfg.QuoteMaxAge) {
		r.breakers.RecordFailure("quote_source:" + quote.Source)
		return Result{State: StateRejected, Reason: "quote is stale, rejecting to avoid mispriced execution"}, apierr.New(apierr.KindUpstream, "QUOTE_STALE", "quote older than freshness window")
	}

	gw, err := r.resolveGateway(ctx, conn, live)
	if err != nil {
		r.breakers.RecordFailure(exchangeBreakerKey(conn.Kind))
		return Result{State: StateRejected, Reason: "could not reach exchange"}, apierr.Wrap(apierr.KindUpstream, "GATEWAY_UNAVAILABLE", "resolve gateway", err)
	}

	// Risk sizing and the adapter's Qty both operate in base-asset units
	// once a price is known; convert the risk-adjusted quote-currency
	// notional into a base-asset quantity against the fetched quote.
	adjustedQty := adjustedNotional.Div(quote.Price)

	orderID := uuid.NewString()
	req := exchangecommon.OrderRequest{
		Symbol:   p.Symbol,
		Side:     p.Side,
		Type:     p.Type,
		Qty:      adjustedQty.String(),
		Price:    quote.Price.String(),
		ClientID: orderID,
	}

	res, err := gw.SubmitOrder(ctx, req)
	if err != nil {
		r.breakers.RecordFailure(exchangeBreakerKey(conn.Kind))
		r.breakers.RecordFailure(executionBreakerKey(conn.Kind))
		r.emit(p.UserID, "order_rejected", err.Error())
		return Result{State: StateRejected, OrderID: orderID, Reason: err.Error()}, apierr.Wrap(apierr.KindUpstream, "ORDER_SUBMIT_FAILED", "submit order", err)
	}
	r.breakers.RecordSuccess(exchangeBreakerKey(conn.Kind))
	r.breakers.RecordSuccess(executionBreakerKey(conn.Kind))

	fillQty, _ := money.New(valueOr(res.FilledQty, adjustedQty.String()))
	fillPrice, _ := money.New(valueOr(res.AvgPrice, quote.Price.String()))

	notional := fillQty.Mul(fillPrice)
	if p.Side == exchangecommon.SideBuy {
		r.portfolio.Deduct(ctx, p.UserID, notional)
	} else {
		r.portfolio.Add(ctx, p.UserID, notional)
	}
	r.portfolio.ApplyFill(ctx, p.UserID, p.Symbol, string(p.Side), fillQty, fillPrice)

	if r.recorder != nil {
		r.recorder(ctx, TradeRecord{
			OrderID:           orderID,
			UserID:            p.UserID,
			Symbol:            p.Symbol,
			Side:              string(p.Side),
			Qty:               fillQty,
			ExecutionKind:     executionKind,
			MarketPriceAtExec: quote.Price,
			FillPrice:         fillPrice,
			PlatformKind:      conn.Kind,
			CreatedAt:         time.Now(),
		})
	}

	result := Result{
		State:         StateRecording,
		OrderID:       orderID,
		PlatformKind:  conn.Kind,
		ExecutionKind: executionKind,
		FilledQty:     fillQty,
		FillPrice:     fillPrice,
		Warning:       decision.Warning,
	}
	r.emit(p.UserID, "trade_executed", result)
	r.publish(p.UserID, "trades", result)
	return result, nil
}

func (r *Router) resolveGateway(ctx context.Context, conn PlatformConnection, live bool) (exchangecommon.Gateway, error) {
	if !live || conn.Kind == exchangecommon.PlatformPaper {
		if r.paper == nil {
			return nil, fmt.Errorf("no paper gateway configured")
		}
		return r.paper, nil
	}
	if r.getGateway == nil {
		return nil, fmt.Errorf("no gateway resolver configured")
	}
	return r.getGateway(ctx, conn)
}

func (r *Router) emit(userID, kind string, payload any) {
	if r.notify != nil {
		r.notify(userID, kind, payload)
	}
}

func (r *Router) publish(userID, channel string, payload any) {
	if r.stream != nil {
		r.stream(userID, channel, payload)
	}
}

func valueOr(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

// ExecuteKillSwitch engages a user's kill switch and sweeps every open
// position, closing oldest-first. Failures closing an individual
// position are logged but do not abort the sweep, matching spec's
// all-or-nothing-is-not-required mass-close semantics.
func (r *Router) ExecuteKillSwitch(ctx context.Context, userID string) []error {
	r.TripKillSwitch(userID)

	positions := r.portfolio.Positions(userID)
	sort.Slice(positions, func(i, j int) bool {
		return positions[i].UpdatedAt.Before(positions[j].UpdatedAt)
	})

	var errs []error
	for _, pos := range positions {
		side := exchangecommon.SideSell
		if pos.Qty.IsNegative() {
			side = exchangecommon.SideBuy
		}

		conn, live := r.selectPlatform(userID)
		gw, err := r.resolveGateway(ctx, conn, live)
		if err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", pos.Symbol, err))
			continue
		}

		quote, qErr := r.aggregator.GetQuote(ctx, pos.Symbol)
		price := pos.AvgPrice
		if qErr == nil {
			price = quote.Price
		}

		_, err = gw.SubmitOrder(ctx, exchangecommon.OrderRequest{
			Symbol:     pos.Symbol,
			Side:       side,
			Type:       exchangecommon.OrderTypeMarket,
			Qty:        pos.Qty.Abs().String(),
			Price:      price.String(),
			ClientID:   uuid.NewString(),
			ReduceOnly: true,
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", pos.Symbol, err))
			log.Error().Str("user", userID).Str("symbol", pos.Symbol).Err(err).Msg("kill switch mass-close failed for position")
			continue
		}
		r.portfolio.ApplyFill(ctx, userID, pos.Symbol, string(side), pos.Qty.Abs(), price)
	}
	return errs
}
