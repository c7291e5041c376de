package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds environment-driven settings for the trading core.
type Config struct {
	Port string

	// Database
	DBPath string

	// Auth
	JWTSecret   string
	JWTTTL      time.Duration
	BcryptCost  int

	// Secret Vault
	VaultKey string // base64 MASTER_ENCRYPTION_KEY, versioned via _V2.._V10

	// Exchange connectivity
	UseMockFeed bool
	ExecutionEnabled bool

	// Circuit breaker tunables
	BreakerFailureThreshold int
	BreakerFailureWindow    time.Duration
	BreakerCooldown         time.Duration
	BreakerProbeLimit       int

	// Risk engine tunables
	RiskPerTradeMax  float64 // fraction of portfolio equity, e.g. 0.005
	RiskLeverageMax  float64
	RiskDailyDDSoft  float64 // soft daily drawdown threshold (warn)
	RiskDailyDDHard  float64 // hard daily drawdown threshold (block)
	RiskConfigPath   string  // optional YAML file layering global + per-user limit overrides

	// Market data aggregator
	QuoteFreshness     time.Duration
	QuoteSourceTimeout time.Duration
	Symbols            []string // default watchlist seeded into the price stream
	EquitySourceURL    string   // base URL for the equity ranked source, empty disables it
	ForexSourceURL     string   // base URL for the FX ranked source, empty disables it
	ExchangeTestnet    bool     // use sandbox endpoints for binance/bybit adapters

	// Portfolio
	SeedBalanceUSD float64

	// AI provider (opaque, gRPC)
	AIProviderAddr string

	// Trade router
	AssistedApprovalTTL time.Duration

	// Notification engine
	OpportunityScanInterval time.Duration

	// Localization
	Language string // "en" or "zh"

	// Logging
	LogLevel string // trace/debug/info/warn/error
}

// Load reads environment variables (optionally via .env) into Config.
func Load() (*Config, error) {
	// Ignore error so the app still starts when .env is missing.
	_ = godotenv.Load()

	dbPath := getEnv("DB_PATH", "")
	if dbPath == "" {
		dbPath = getEnv("DATABASE_PATH", "./data/trading.db")
	}

	return &Config{
		Port:       getEnv("PORT", "8080"),
		DBPath:     dbPath,
		JWTSecret:  getEnv("JWT_SECRET", "dev-secret"),
		JWTTTL:     getEnvDuration("JWT_TTL", 24*time.Hour),
		BcryptCost: getEnvInt("BCRYPT_COST", 12),

		VaultKey: os.Getenv("MASTER_ENCRYPTION_KEY"),

		UseMockFeed:      getEnv("USE_MOCK_FEED", "true") == "true",
		ExecutionEnabled: getEnv("EXECUTION_ENABLED", "true") == "true",

		BreakerFailureThreshold: getEnvInt("BREAKER_FAILURE_THRESHOLD", 5),
		BreakerFailureWindow:    getEnvDuration("BREAKER_FAILURE_WINDOW_SEC", 60*time.Second),
		BreakerCooldown:         getEnvDuration("BREAKER_COOLDOWN_SEC", 30*time.Second),
		BreakerProbeLimit:       getEnvInt("BREAKER_PROBE_LIMIT", 1),

		RiskPerTradeMax: getEnvFloat("RISK_PER_TRADE_MAX", 0.005),
		RiskLeverageMax: getEnvFloat("RISK_LEVERAGE_MAX", 3.0),
		RiskDailyDDSoft: getEnvFloat("RISK_DAILY_DD_SOFT", 0.03),
		RiskDailyDDHard: getEnvFloat("RISK_DAILY_DD_HARD", 0.05),
		RiskConfigPath:  getEnv("RISK_CONFIG_PATH", ""),

		QuoteFreshness:     getEnvDuration("QUOTE_FRESHNESS_SEC", 5*time.Second),
		QuoteSourceTimeout: getEnvDuration("QUOTE_SOURCE_TIMEOUT_SEC", 2*time.Second),
		Symbols:            getEnvList("SYMBOLS", []string{"BTCUSDT", "ETHUSDT", "SOLUSDT"}),
		EquitySourceURL:    getEnv("EQUITY_SOURCE_URL", ""),
		ForexSourceURL:     getEnv("FOREX_SOURCE_URL", ""),
		ExchangeTestnet:    getEnv("EXCHANGE_TESTNET", "true") == "true",

		SeedBalanceUSD: getEnvFloat("SEED_BALANCE_USD", 10000.0),

		AIProviderAddr: getEnv("AI_PROVIDER_ADDR", ""),

		AssistedApprovalTTL: getEnvDuration("ASSISTED_APPROVAL_TTL_SEC", 120*time.Second),

		OpportunityScanInterval: getEnvDuration("OPPORTUNITY_SCAN_INTERVAL_SEC", 60*time.Second),

		Language: getEnv("LANGUAGE", "en"),
		LogLevel: strings.ToLower(getEnv("LOG_LEVEL", "info")),
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

// getEnvList reads a comma-separated env var into a trimmed string slice.
func getEnvList(key string, def []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.ToUpper(strings.TrimSpace(p))
		if p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}

// getEnvDuration reads a plain integer-seconds env var (matching the
// _SEC suffix convention used throughout this config) into a Duration.
func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if secs, err := strconv.Atoi(v); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return def
}
