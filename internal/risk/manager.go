package risk

import (
	"fmt"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"

	"trading-core/internal/breaker"
)

// Manager evaluates trade proposals against layered global + per-user risk
// configuration, and tracks each user's running daily metrics. Adapted
// from internal/risk.Manager (global+per-strategy layering,
// QuickCheck/EvaluateFull split, soft-limit thresholds) generalized from
// per-strategy to per-user and extended with leverage and daily-drawdown
// checks spec.md requires.
type Manager struct {
	mu          sync.RWMutex
	global      Config
	userConfigs map[string]UserConfig
	metrics     map[string]*Metrics
	breakers    *breaker.Registry
}

// NewManager constructs a Manager with the given global default config.
// breakers is the shared Circuit Breaker Registry; a user's
// "risk_threshold:<userID>" breaker is force-tripped as a kill switch when
// their hard daily drawdown limit is breached.
func NewManager(global Config, breakers *breaker.Registry) *Manager {
	return &Manager{
		global:      global,
		userConfigs: make(map[string]UserConfig),
		metrics:     make(map[string]*Metrics),
		breakers:    breakers,
	}
}

func killSwitchKey(userID string) string { return "risk_threshold:" + userID }

// SetUserConfig installs or replaces a per-user override.
func (m *Manager) SetUserConfig(cfg UserConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cfg.UpdatedAt = time.Now()
	m.userConfigs[cfg.UserID] = cfg
}

func (m *Manager) effectiveConfig(userID string) Config {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cfg := m.global
	uc, ok := m.userConfigs[userID]
	if !ok {
		return cfg
	}
	if uc.PerTradeMaxFraction != nil {
		cfg.PerTradeMaxFraction = *uc.PerTradeMaxFraction
	}
	if uc.MaxLeverage != nil {
		cfg.MaxLeverage = *uc.MaxLeverage
	}
	if uc.MaxDailyLoss != nil {
		cfg.MaxDailyLoss = *uc.MaxDailyLoss
	}
	if uc.MaxDailyTrades != nil {
		cfg.MaxDailyTrades = *uc.MaxDailyTrades
	}
	if uc.EnableRisk != nil {
		cfg.EnableRisk = *uc.EnableRisk
	}
	return cfg
}

func (m *Manager) metricsFor(userID string) *Metrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	mt, ok := m.metrics[userID]
	if !ok {
		mt = &Metrics{UserID: userID, DayStart: time.Now()}
		m.metrics[userID] = mt
	}
	return mt
}

// Evaluate runs the full layered risk check pipeline against a proposal,
// returning a Decision the Trade Router gates submission on. Evaluate is
// read-only: it does not trip breakers or mutate metrics beyond the
// check/rejection/warning counters used for observability. Applying a
// Deny verdict (kill switch, position sweep) is the Trade Router's job.
func (m *Manager) Evaluate(p Proposal) Decision {
	cfg := m.effectiveConfig(p.UserID)
	mt := m.metricsFor(p.UserID)

	mt.incChecks()

	if !cfg.EnableRisk {
		return Decision{Allowed: true, Reason: "risk checks disabled", LimitLevel: LimitNormal, AdjustedSize: p.Notional}
	}

	if m.breakers != nil && !m.breakers.Allow(killSwitchKey(p.UserID)) {
		mt.incRejections()
		return Decision{Allowed: false, Reason: "kill switch engaged: daily drawdown limit breached", ReasonCode: ReasonKillSwitchEngaged, LimitLevel: LimitBlocked}
	}

	if cfg.UseOrderSizeLimits {
		if p.Notional < cfg.MinOrderSize {
			mt.incRejections()
			return Decision{Allowed: false, Reason: fmt.Sprintf("order size %.2f below minimum %.2f", p.Notional, cfg.MinOrderSize), ReasonCode: ReasonOrderSizeOutOfRange, LimitLevel: LimitBlocked}
		}
		if p.Notional > cfg.MaxOrderSize {
			mt.incRejections()
			return Decision{Allowed: false, Reason: fmt.Sprintf("order size %.2f exceeds maximum %.2f", p.Notional, cfg.MaxOrderSize), ReasonCode: ReasonOrderSizeOutOfRange, LimitLevel: LimitBlocked}
		}
	}

	if cfg.UseLeverageLimit && p.Leverage > cfg.MaxLeverage {
		mt.incRejections()
		return Decision{Allowed: false, Reason: fmt.Sprintf("leverage %.1fx exceeds maximum %.1fx", p.Leverage, cfg.MaxLeverage), ReasonCode: ReasonLeverageExceeded, LimitLevel: LimitBlocked}
	}

	if cfg.UseDailyTradeLimit && mt.DailyTrades >= cfg.MaxDailyTrades {
		mt.incRejections()
		return Decision{Allowed: false, Reason: fmt.Sprintf("daily trade limit reached (%d)", cfg.MaxDailyTrades), ReasonCode: ReasonDailyTradeLimitReached, LimitLevel: LimitBlocked}
	}

	if cfg.UseDailyLossLimit && mt.DailyLosses >= cfg.MaxDailyLoss {
		mt.incRejections()
		return Decision{Allowed: false, Reason: fmt.Sprintf("daily loss limit reached (%.2f)", cfg.MaxDailyLoss), ReasonCode: ReasonDailyLossLimitReached, LimitLevel: LimitBlocked}
	}

	// Daily drawdown, measured against the equity high-water mark. At or
	// above the hard limit the kill switch must fire; at or above the
	// (lower) soft limit no new trades are accepted either, but without
	// tripping the kill switch.
	if p.CurrentEquity > 0 {
		drawdown := mt.currentDrawdownFraction(p.CurrentEquity)
		if drawdown >= cfg.MaxDailyDrawdownHard {
			mt.incRejections()
			return Decision{Allowed: false, Reason: fmt.Sprintf("daily drawdown %.1f%% breached hard limit %.1f%%", drawdown*100, cfg.MaxDailyDrawdownHard*100), ReasonCode: ReasonDailyDrawdownExceeded, LimitLevel: LimitBlocked}
		}
		if drawdown >= cfg.MaxDailyDrawdownSoft {
			mt.incRejections()
			return Decision{Allowed: false, Reason: fmt.Sprintf("daily drawdown %.1f%% at or above soft limit %.1f%%, no new trades accepted", drawdown*100, cfg.MaxDailyDrawdownSoft*100), ReasonCode: ReasonDailyDrawdownSoftExceeded, LimitLevel: LimitBlocked}
		}
	}

	size := p.Notional
	level := LimitNormal
	warning := ""

	// Per-trade exposure: notional as a fraction of the user's total
	// balance, not an absolute ceiling, so the cap scales with account size.
	if cfg.UsePositionSizeLimit && p.CurrentEquity > 0 && cfg.PerTradeMaxFraction > 0 {
		fraction := p.Notional / p.CurrentEquity
		switch {
		case fraction > cfg.PerTradeMaxFraction:
			mt.incRejections()
			return Decision{Allowed: false, Reason: fmt.Sprintf("per-trade exposure %.3f%% of balance exceeds max %.3f%%", fraction*100, cfg.PerTradeMaxFraction*100), ReasonCode: ReasonPerTradeExposureExceeded, LimitLevel: LimitBlocked}
		case fraction >= cfg.PerTradeMaxFraction*cfg.CautionThreshold:
			size = p.Notional * cfg.CautionSizeRatio
			level = LimitCaution
			warning = "trade size reduced: approaching per-trade exposure cap"
		case fraction >= cfg.PerTradeMaxFraction*cfg.WarningThreshold:
			level = LimitWarning
			warning = "trade size approaching per-trade exposure cap"
		}
	}

	// Aggregate open exposure across all of a user's open trades must stay
	// within leverage_max times their current equity.
	if cfg.UseExposureLimit && p.CurrentEquity > 0 && cfg.MaxLeverage > 0 {
		maxExposure := cfg.MaxLeverage * p.CurrentEquity
		projectedExposure := p.OpenExposure + size
		if projectedExposure > maxExposure {
			mt.incRejections()
			return Decision{Allowed: false, Reason: fmt.Sprintf("projected exposure %.2f exceeds %.1fx equity cap (%.2f)", projectedExposure, cfg.MaxLeverage, maxExposure), ReasonCode: ReasonAggregateExposureExceeded, LimitLevel: LimitBlocked}
		}
	}

	if level == LimitWarning {
		mt.incWarnings()
	}

	return Decision{
		Allowed:      true,
		Reason:       "approved",
		Warning:      warning,
		LimitLevel:   level,
		AdjustedSize: size,
		StopLoss:     cfg.DefaultStopLoss,
		TakeProfit:   cfg.DefaultTakeProfit,
	}
}

// TripKillSwitch force-trips a user's drawdown kill switch. Evaluate never
// calls this itself — it is read-only — so the Trade Router calls it after
// receiving a Deny verdict with ReasonCode ReasonDailyDrawdownExceeded.
func (m *Manager) TripKillSwitch(userID string) {
	if m.breakers != nil {
		m.breakers.Trip(killSwitchKey(userID))
	}
}

// ResetKillSwitch clears a user's drawdown-triggered kill switch, used by
// the Trade Router's manual kill-switch reset.
func (m *Manager) ResetKillSwitch(userID string) {
	if m.breakers != nil {
		m.breakers.Reset(killSwitchKey(userID))
	}
}

// UpdateMetrics folds a settled trade result into a user's running daily
// metrics.
func (m *Manager) UpdateMetrics(userID string, result TradeResult) {
	mt := m.metricsFor(userID)
	mt.mu.Lock()
	defer mt.mu.Unlock()

	mt.DailyPnL += result.RealizedPnL
	mt.DailyTrades++
	mt.TotalRealizedPnL += result.RealizedPnL
	if result.RealizedPnL < 0 {
		mt.DailyLosses += -result.RealizedPnL
	}
}

// ResetDailyMetrics clears daily counters for every tracked user. Nothing
// in this module schedules it; daily counters stay in place until a caller
// invokes it.
func (m *Manager) ResetDailyMetrics() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, mt := range m.metrics {
		mt.mu.Lock()
		mt.DailyPnL = 0
		mt.DailyTrades = 0
		mt.DailyLosses = 0
		mt.DayStart = time.Now()
		mt.mu.Unlock()
	}
}

// GetMetrics returns a snapshot of a user's current risk metrics.
func (m *Manager) GetMetrics(userID string) Metrics {
	mt := m.metricsFor(userID)
	mt.mu.RLock()
	defer mt.mu.RUnlock()
	return Metrics{
		UserID:           mt.UserID,
		DailyPnL:         mt.DailyPnL,
		DailyTrades:      mt.DailyTrades,
		DailyLosses:      mt.DailyLosses,
		TotalRealizedPnL: mt.TotalRealizedPnL,
		MaxDrawdown:      mt.MaxDrawdown,
		EquityHighWater:  mt.EquityHighWater,
		ChecksTotal:      mt.ChecksTotal,
		RejectionsTotal:  mt.RejectionsTotal,
		WarningsTotal:    mt.WarningsTotal,
		DayStart:         mt.DayStart,
	}
}

// SuggestPositionSize returns a position-sizing advisory derived from the
// volatility (variance) of recent returns: higher volatility scales the
// suggested notional down. Uses gonum/stat for the variance computation
// rather than a hand-rolled accumulator.
func SuggestPositionSize(baseNotional float64, recentReturns []float64, targetVol float64) float64 {
	if len(recentReturns) < 2 || targetVol <= 0 {
		return baseNotional
	}
	_, variance := stat.MeanVariance(recentReturns, nil)
	if variance <= 0 {
		return baseNotional
	}
	scale := targetVol / variance
	if scale > 1 {
		scale = 1
	}
	if scale < 0.1 {
		scale = 0.1
	}
	return baseNotional * scale
}

func (mt *Metrics) incChecks() {
	mt.mu.Lock()
	defer mt.mu.Unlock()
	mt.ChecksTotal++
}

func (mt *Metrics) incRejections() {
	mt.mu.Lock()
	defer mt.mu.Unlock()
	mt.RejectionsTotal++
}

func (mt *Metrics) incWarnings() {
	mt.mu.Lock()
	defer mt.mu.Unlock()
	mt.WarningsTotal++
}

func (mt *Metrics) currentDrawdownFraction(currentEquity float64) float64 {
	mt.mu.Lock()
	defer mt.mu.Unlock()
	if currentEquity > mt.EquityHighWater {
		mt.EquityHighWater = currentEquity
	}
	if mt.EquityHighWater <= 0 {
		return 0
	}
	dd := (mt.EquityHighWater - currentEquity) / mt.EquityHighWater
	if dd > mt.MaxDrawdown {
		mt.MaxDrawdown = dd
	}
	if dd < 0 {
		return 0
	}
	return dd
}
