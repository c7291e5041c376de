package risk

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// fileConfig mirrors Config but with YAML tags; zero fields are left for
// DefaultConfig to fill so an operator's file only needs to name the
// limits it wants to override.
type fileConfig struct {
	PerTradeMaxFraction  *float64 `yaml:"per_trade_max_fraction"`
	MaxLeverage          *float64 `yaml:"max_leverage"`
	DefaultStopLoss      *float64 `yaml:"default_stop_loss"`
	DefaultTakeProfit    *float64 `yaml:"default_take_profit"`
	MaxDailyLoss         *float64 `yaml:"max_daily_loss"`
	MaxDailyTrades       *int     `yaml:"max_daily_trades"`
	MaxDailyDrawdownSoft *float64 `yaml:"max_daily_drawdown_soft"`
	MaxDailyDrawdownHard *float64 `yaml:"max_daily_drawdown_hard"`
	MinOrderSize         *float64 `yaml:"min_order_size"`
	MaxOrderSize         *float64 `yaml:"max_order_size"`
	WarningThreshold     *float64 `yaml:"warning_threshold"`
	CautionThreshold     *float64 `yaml:"caution_threshold"`
	CautionSizeRatio     *float64 `yaml:"caution_size_ratio"`
}

// fileUserConfig mirrors UserConfig's narrower pointer-based override set.
type fileUserConfig struct {
	PerTradeMaxFraction *float64 `yaml:"per_trade_max_fraction"`
	MaxLeverage         *float64 `yaml:"max_leverage"`
	MaxDailyLoss        *float64 `yaml:"max_daily_loss"`
	MaxDailyTrades      *int     `yaml:"max_daily_trades"`
	EnableRisk          *bool    `yaml:"enable_risk"`
}

// fileDocument is the top-level shape of a risk limits file: a platform
// default plus an optional set of per-user overrides keyed by user ID.
type fileDocument struct {
	Default fileConfig                `yaml:"default"`
	Users   map[string]fileUserConfig `yaml:"users"`
}

// LoadConfigFile reads a YAML risk limits file and layers it onto
// DefaultConfig, returning the resulting global config plus any
// pre-provisioned per-user overrides. A missing file is not an error: the
// caller falls back to DefaultConfig() with no user overrides.
func LoadConfigFile(path string) (Config, []UserConfig, error) {
	base := DefaultConfig()

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return base, nil, nil
		}
		return base, nil, fmt.Errorf("risk: read config file: %w", err)
	}

	var doc fileDocument
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return base, nil, fmt.Errorf("risk: parse config file: %w", err)
	}

	global := applyOverrides(base, doc.Default)
	global.UpdatedAt = time.Now()

	var users []UserConfig
	for userID, o := range doc.Users {
		users = append(users, UserConfig{
			UserID:              userID,
			PerTradeMaxFraction: o.PerTradeMaxFraction,
			MaxLeverage:         o.MaxLeverage,
			MaxDailyLoss:        o.MaxDailyLoss,
			MaxDailyTrades:      o.MaxDailyTrades,
			EnableRisk:          o.EnableRisk,
			UpdatedAt:           global.UpdatedAt,
		})
	}
	return global, users, nil
}

func applyOverrides(base Config, f fileConfig) Config {
	out := base
	if f.PerTradeMaxFraction != nil {
		out.PerTradeMaxFraction = *f.PerTradeMaxFraction
	}
	if f.MaxLeverage != nil {
		out.MaxLeverage = *f.MaxLeverage
	}
	if f.DefaultStopLoss != nil {
		out.DefaultStopLoss = *f.DefaultStopLoss
	}
	if f.DefaultTakeProfit != nil {
		out.DefaultTakeProfit = *f.DefaultTakeProfit
	}
	if f.MaxDailyLoss != nil {
		out.MaxDailyLoss = *f.MaxDailyLoss
	}
	if f.MaxDailyTrades != nil {
		out.MaxDailyTrades = *f.MaxDailyTrades
	}
	if f.MaxDailyDrawdownSoft != nil {
		out.MaxDailyDrawdownSoft = *f.MaxDailyDrawdownSoft
	}
	if f.MaxDailyDrawdownHard != nil {
		out.MaxDailyDrawdownHard = *f.MaxDailyDrawdownHard
	}
	if f.MinOrderSize != nil {
		out.MinOrderSize = *f.MinOrderSize
	}
	if f.MaxOrderSize != nil {
		out.MaxOrderSize = *f.MaxOrderSize
	}
	if f.WarningThreshold != nil {
		out.WarningThreshold = *f.WarningThreshold
	}
	if f.CautionThreshold != nil {
		out.CautionThreshold = *f.CautionThreshold
	}
	if f.CautionSizeRatio != nil {
		out.CautionSizeRatio = *f.CautionSizeRatio
	}
	return out
}
