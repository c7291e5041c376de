// Package risk implements the Risk Engine: per-user risk configuration,
// layered global+user limit checks, soft-limit warning thresholds, and a
// position-sizing advisory. Generalized from
// internal/risk.Manager, which layered global config with per-strategy
// config; this layers global config with per-user config instead, since
// spec.md's Trade Router is user-driven, not strategy-driven.
package risk

import (
	"sync"
	"time"
)

// LimitLevel is the soft-limit tier a risk check currently sits at.
type LimitLevel string

const (
	LimitNormal  LimitLevel = "NORMAL"
	LimitWarning LimitLevel = "WARNING"
	LimitCaution LimitLevel = "CAUTION"
	LimitBlocked LimitLevel = "LIMIT"
)

// ReasonCode is a stable machine-readable denial reason a caller can
// branch on, alongside Decision.Reason's human-readable detail.
type ReasonCode string

const (
	ReasonKillSwitchEngaged          ReasonCode = "kill_switch_engaged"
	ReasonOrderSizeOutOfRange        ReasonCode = "order_size_out_of_range"
	ReasonLeverageExceeded           ReasonCode = "leverage_exceeded"
	ReasonDailyTradeLimitReached     ReasonCode = "daily_trade_limit_reached"
	ReasonDailyLossLimitReached      ReasonCode = "daily_loss_limit_reached"
	ReasonDailyDrawdownSoftExceeded  ReasonCode = "daily_drawdown_soft_exceeded"
	ReasonDailyDrawdownExceeded      ReasonCode = "daily_drawdown_exceeded"
	ReasonPerTradeExposureExceeded   ReasonCode = "per_trade_exposure_exceeded"
	ReasonAggregateExposureExceeded  ReasonCode = "aggregate_exposure_exceeded"
)

// Config defines risk management parameters, either the platform-wide
// default or a per-user override layered on top of it.
type Config struct {
	// Exposure, expressed relative to the user's current equity rather
	// than an absolute notional: PerTradeMaxFraction bounds a single
	// order's notional as a fraction of total_balance; MaxLeverage
	// doubles as the per-order leverage ceiling and, multiplied by
	// equity, the bound on aggregate open exposure.
	PerTradeMaxFraction float64 // order.notional / total_balance threshold, default 0.005 (0.5%)
	MaxLeverage         float64 // aggregate open exposure <= MaxLeverage * equity, default 3

	// Stop loss / take profit defaults (used when a trade proposal omits them)
	DefaultStopLoss   float64 // fraction, e.g. 0.02 = 2%
	DefaultTakeProfit float64

	// Daily limits
	MaxDailyLoss         float64 // quote-currency absolute
	MaxDailyTrades       int
	MaxDailyDrawdownSoft float64 // fraction of equity; no new trades accepted at/above this
	MaxDailyDrawdownHard float64 // fraction of equity; kill-switch fires at/above this

	// Order validation
	MinOrderSize float64
	MaxOrderSize float64

	// Feature toggles
	EnableRisk           bool
	UseDailyTradeLimit   bool
	UseDailyLossLimit    bool
	UseOrderSizeLimits   bool
	UsePositionSizeLimit bool // gates the per-trade exposure fraction check
	UseExposureLimit     bool // gates the aggregate leverage*equity exposure check
	UseLeverageLimit     bool

	// Soft staging thresholds, expressed as a fraction of PerTradeMaxFraction
	// so CAUTION/WARNING scale with the per-trade cap instead of a second,
	// independent absolute limit.
	WarningThreshold float64 // e.g. 0.8 = 80% of PerTradeMaxFraction
	CautionThreshold float64 // e.g. 0.9 = 90% of PerTradeMaxFraction
	CautionSizeRatio float64 // e.g. 0.5 = shrink proposal to 50% size

	UpdatedAt time.Time
}

// DefaultConfig returns the platform-wide default risk configuration.
func DefaultConfig() Config {
	return Config{
		PerTradeMaxFraction:  0.005,
		MaxLeverage:          3.0,
		DefaultStopLoss:      0.02,
		DefaultTakeProfit:    0.05,
		MaxDailyLoss:         2000.0,
		MaxDailyTrades:       20,
		MaxDailyDrawdownSoft: 0.03,
		MaxDailyDrawdownHard: 0.05,
		MinOrderSize:         10.0,
		MaxOrderSize:         10000.0,
		EnableRisk:           true,
		UseDailyTradeLimit:   true,
		UseDailyLossLimit:    true,
		UseOrderSizeLimits:   true,
		UsePositionSizeLimit: true,
		UseExposureLimit:     true,
		UseLeverageLimit:     true,
		WarningThreshold:     0.8,
		CautionThreshold:     0.9,
		CautionSizeRatio:     0.5,
	}
}

// UserConfig is a per-user override. Nil fields are pointers so "unset"
// (fall back to global default) is distinguishable from an explicit zero.
type UserConfig struct {
	UserID string

	PerTradeMaxFraction *float64
	MaxLeverage         *float64
	MaxDailyLoss        *float64
	MaxDailyTrades      *int

	EnableRisk *bool

	UpdatedAt time.Time
}

// Metrics tracks a user's running risk statistics, reset at the start of
// each trading day.
type Metrics struct {
	mu sync.RWMutex

	UserID string

	DailyPnL    float64
	DailyTrades int
	DailyLosses float64

	TotalRealizedPnL float64
	MaxDrawdown      float64
	EquityHighWater  float64

	ChecksTotal     uint64
	RejectionsTotal uint64
	WarningsTotal   uint64

	DayStart time.Time
}

// TradeResult is fed back into UpdateMetrics after a fill settles.
type TradeResult struct {
	RealizedPnL float64
	Notional    float64
}

// Proposal is the trade the Trade Router wants to submit, evaluated
// against a user's current equity and open exposure.
type Proposal struct {
	UserID        string
	Symbol        string
	Side          string // BUY/SELL
	Notional      float64
	Leverage      float64
	CurrentEquity float64
	OpenExposure  float64
}

// Decision is the result of risk evaluation.
type Decision struct {
	Allowed      bool
	Reason       string
	Warning      string
	LimitLevel   LimitLevel
	AdjustedSize float64 // notional the order should actually use
	StopLoss     float64 // absolute price offset fraction
	TakeProfit   float64
}
