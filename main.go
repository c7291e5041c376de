package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"trading-core/internal/aggregator"
	"trading-core/internal/aggregator/sources"
	"trading-core/internal/ai"
	"trading-core/internal/api"
	"trading-core/internal/breaker"
	"trading-core/internal/exchange"
	"trading-core/internal/exchange/binance"
	"trading-core/internal/exchange/bybit"
	"trading-core/internal/exchange/common"
	"trading-core/internal/exchange/okx"
	"trading-core/internal/exchange/paper"
	"trading-core/internal/monitor"
	"trading-core/internal/notify"
	"trading-core/internal/portfolio"
	"trading-core/internal/reconciliation"
	"trading-core/internal/risk"
	"trading-core/internal/router"
	"trading-core/internal/stream"
	"trading-core/internal/vault"
	"trading-core/pkg/config"
	"trading-core/pkg/db"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	log.Info().Str("port", cfg.Port).Str("db_path", cfg.DBPath).Msg("starting trading-core")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	database, err := db.New(cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open database")
	}
	defer database.Close()
	if err := db.ApplyMigrations(database); err != nil {
		log.Fatal().Err(err).Msg("failed to apply migrations")
	}

	vaultKey := cfg.VaultKey
	if vaultKey == "" {
		generated, err := vault.GenerateKey()
		if err != nil {
			log.Fatal().Err(err).Msg("failed to generate a vault key")
		}
		vaultKey = generated
		log.Warn().Msg("MASTER_ENCRYPTION_KEY not set, generated an ephemeral key — connections will not survive a restart")
	}
	secretVault, err := vault.New(vaultKey)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize secret vault")
	}

	breakers := breaker.NewRegistry(breaker.Config{
		FailureThreshold: cfg.BreakerFailureThreshold,
		FailureWindow:    cfg.BreakerFailureWindow,
		Cooldown:         cfg.BreakerCooldown,
		ProbeLimit:       cfg.BreakerProbeLimit,
	})

	market := buildMarketService(cfg, breakers)

	pool := exchange.NewPool(secretVault, breakers, gatewayFactory(cfg), exchange.DefaultPoolConfig())
	pool.Start(ctx)
	defer pool.Stop()

	var riskCfg risk.Config
	var userRiskOverrides []risk.UserConfig
	if cfg.RiskConfigPath != "" {
		loaded, overrides, err := risk.LoadConfigFile(cfg.RiskConfigPath)
		if err != nil {
			log.Fatal().Err(err).Str("path", cfg.RiskConfigPath).Msg("failed to load risk config file")
		}
		riskCfg, userRiskOverrides = loaded, overrides
	} else {
		riskCfg = risk.DefaultConfig()
	}
	riskCfg.PerTradeMaxFraction = cfg.RiskPerTradeMax
	riskCfg.MaxLeverage = cfg.RiskLeverageMax
	riskCfg.MaxDailyDrawdownSoft = cfg.RiskDailyDDSoft
	riskCfg.MaxDailyDrawdownHard = cfg.RiskDailyDDHard
	riskMgr := risk.NewManager(riskCfg, breakers)
	for _, uc := range userRiskOverrides {
		riskMgr.SetUserConfig(uc)
	}

	pf := portfolio.New(func(entry portfolio.JournalEntry, encoded []byte) {
		if err := database.AppendJournalEntry(ctx, entry.UserID, entry.Seq, entry.Kind, encoded); err != nil {
			log.Error().Err(err).Str("user_id", entry.UserID).Msg("failed to append journal entry")
		}
	})

	streamHub := stream.New(func(key string) {
		log.Debug().Str("key", key).Msg("stream subscriber disconnected")
	})

	notifyEngine := notify.New(notify.DefaultConfig(), nil, func(n notify.Notification) {
		persistNotification(ctx, database, n)
		streamHub.PublishNotification(n.UserID, n)
	}, nil)
	notifyEngine.Start(ctx)
	defer notifyEngine.Stop()

	paperGW := paper.New(cfg.SeedBalanceUSD, paper.DefaultConfig())

	tradeRouter := router.New(
		router.Config{ApprovalTTL: cfg.AssistedApprovalTTL, QuoteMaxAge: cfg.QuoteFreshness},
		riskMgr,
		breakers,
		market,
		pf,
		dbPlatformProvider{database},
		gatewayGetter(pool),
		paperGW,
		recorder(database),
		notifier(database, streamHub),
		streamer(streamHub),
	)

	reconciler := reconciliation.New(reconciliation.DefaultConfig(), pf, dbPlatformProvider{database}, reconciliation.GatewayGetter(gatewayGetter(pool)), func(d reconciliation.Drift) {
		persistNotification(ctx, database, notify.Notification{
			ID:        uuid.NewString(),
			UserID:    d.UserID,
			Kind:      "balance_drift",
			Message:   fmt.Sprintf("%s balance drift on %s: local %s vs reported %s", d.Asset, d.Platform, d.LocalTotal, d.RemoteTotal),
			Payload:   d,
			CreatedAt: d.CheckedAt,
		})
	})
	reconciler.Start(ctx)
	defer reconciler.Stop()

	aiClient, err := ai.Dial(cfg.AIProviderAddr, breakers, ai.DefaultConfig())
	if err != nil {
		log.Warn().Err(err).Msg("failed to dial AI provider, insight endpoint will stay degraded")
		aiClient = nil
	}
	if aiClient != nil {
		defer aiClient.Close()
	}

	metrics := monitor.NewSystemMetrics()

	go pollQuotes(ctx, cfg, market, streamHub, notifyEngine, database)

	server := api.NewServer(database, secretVault, breakers, market, pool, riskMgr, pf, tradeRouter, notifyEngine, streamHub, aiClient, metrics, cfg)

	addr := ":" + cfg.Port
	httpServer := &http.Server{Addr: addr, Handler: server.Router}

	go func() {
		log.Info().Str("addr", addr).Msg("http server listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutdown signal received")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http server shutdown did not complete cleanly")
	}
}

// buildMarketService wires one Aggregator per asset class (crypto, with
// equity/forex HTTP sources when configured) plus a synthetic fallback,
// routed through a Service keyed by sources.Classify.
func buildMarketService(cfg *config.Config, breakers *breaker.Registry) *aggregator.Service {
	aggCfg := aggregator.Config{Freshness: cfg.QuoteFreshness, SourceTimeout: cfg.QuoteSourceTimeout}

	synthetic := aggregator.NewSyntheticSource(100, 0.8)

	cryptoSources := []aggregator.Source{synthetic}
	if !cfg.UseMockFeed {
		cryptoSources = append([]aggregator.Source{sources.NewCryptoSource(cfg.ExchangeTestnet)}, cryptoSources...)
	}
	cryptoAgg := aggregator.New(cryptoSources, breakers, nil, aggCfg)

	byClass := map[string]*aggregator.Aggregator{
		string(sources.ClassCrypto): cryptoAgg,
	}

	if cfg.EquitySourceURL != "" {
		equitySources := []aggregator.Source{sources.NewEquitySource(cfg.EquitySourceURL), synthetic}
		byClass[string(sources.ClassStock)] = aggregator.New(equitySources, breakers, nil, aggCfg)
	}
	if cfg.ForexSourceURL != "" {
		forexSources := []aggregator.Source{sources.NewForexSource(cfg.ForexSourceURL), synthetic}
		byClass[string(sources.ClassForex)] = aggregator.New(forexSources, breakers, nil, aggCfg)
	}

	fallback := aggregator.New([]aggregator.Source{synthetic}, breakers, nil, aggCfg)

	classify := func(symbol string) string { return string(sources.Classify(symbol)) }
	return aggregator.NewService(classify, byClass, fallback)
}

// gatewayFactory dispatches a platform to its concrete Exchange Adapter
// constructor. The paper platform never reaches here: it's wired
// directly into the Router and never looked up through the pool.
func gatewayFactory(cfg *config.Config) exchange.Factory {
	return func(platform common.Platform, apiKey, apiSecret string) (common.Gateway, error) {
		switch platform {
		case common.PlatformBinance:
			return binance.New(apiKey, apiSecret, cfg.ExchangeTestnet), nil
		case common.PlatformBybit:
			return bybit.New(apiKey, apiSecret, cfg.ExchangeTestnet), nil
		case common.PlatformOKX:
			return okx.New(apiKey, apiSecret), nil
		default:
			return paper.New(cfg.SeedBalanceUSD, paper.DefaultConfig()), nil
		}
	}
}

// dbPlatformProvider adapts pkg/db's connection rows to the Router's
// PlatformProvider contract.
type dbPlatformProvider struct {
	db *db.Database
}

func (p dbPlatformProvider) PlatformsForUser(userID string) []router.PlatformConnection {
	conns, err := p.db.Queries().GetConnectionsByUser(context.Background(), userID)
	if err != nil {
		log.Error().Err(err).Str("user_id", userID).Msg("failed to load platform connections")
		return nil
	}
	out := make([]router.PlatformConnection, 0, len(conns))
	for _, c := range conns {
		status := "connected"
		if !c.IsActive {
			status = "disconnected"
		}
		out = append(out, router.PlatformConnection{
			ID:                 c.ID,
			UserID:             c.UserID,
			Kind:               common.Platform(c.ExchangeType),
			Status:             status,
			IsDefault:          c.IsDefault,
			LastSuccessAt:      c.UpdatedAt,
			EncryptedAPIKey:    c.APIKeyEncrypted,
			EncryptedAPISecret: c.APISecretEncrypted,
		})
	}
	return out
}

// gatewayGetter resolves a live (non-paper) Gateway through the pool,
// which owns decryption, breaker gating, and connection reuse.
func gatewayGetter(pool *exchange.Pool) router.GatewayGetter {
	return func(ctx context.Context, conn router.PlatformConnection) (common.Gateway, error) {
		return pool.Get(ctx, conn.UserID, conn.Kind, conn.EncryptedAPIKey, conn.EncryptedAPISecret)
	}
}

// recorder persists a settled trade to the durable order/trade tables.
func recorder(database *db.Database) router.Recorder {
	return func(ctx context.Context, rec router.TradeRecord) {
		trade := db.Trade{
			ID:        uuid.NewString(),
			OrderID:   rec.OrderID,
			UserID:    rec.UserID,
			Symbol:    rec.Symbol,
			Side:      rec.Side,
			Price:     rec.FillPrice.String(),
			Qty:       rec.Qty.String(),
			Fee:       "0",
			CreatedAt: rec.CreatedAt,
		}
		if err := database.Queries().CreateTradeWithUser(ctx, trade); err != nil {
			log.Error().Err(err).Str("user_id", rec.UserID).Str("order_id", rec.OrderID).Msg("failed to record trade")
		}
	}
}

// notifier turns a Router event into a durable, streamed notification.
func notifier(database *db.Database, streamHub *stream.Hub) router.Notifier {
	return func(userID, kind string, payload any) {
		encoded, err := json.Marshal(payload)
		if err != nil {
			encoded = []byte(`{}`)
		}
		n := db.Notification{
			ID:        uuid.NewString(),
			UserID:    userID,
			Kind:      kind,
			Message:   kind,
			Payload:   string(encoded),
			CreatedAt: time.Now(),
		}
		if err := database.CreateNotification(context.Background(), n); err != nil {
			log.Error().Err(err).Str("user_id", userID).Msg("failed to persist notification")
		}
		streamHub.PublishNotification(userID, n)
	}
}

// streamer fans a Router event out to its live WebSocket channel.
func streamer(streamHub *stream.Hub) router.Streamer {
	return func(userID, channel string, payload any) {
		switch channel {
		case "trades":
			streamHub.PublishTrade(userID, payload)
		default:
			streamHub.PublishSystem(payload)
		}
	}
}

// persistNotification stores an in-memory notify.Notification into the
// durable notifications table so it survives a restart and shows up in
// GET /api/v1/notifications.
func persistNotification(ctx context.Context, database *db.Database, n notify.Notification) {
	payload, err := json.Marshal(n.Payload)
	if err != nil {
		payload = []byte(`{}`)
	}
	row := db.Notification{
		ID:        n.ID,
		UserID:    n.UserID,
		Kind:      n.Kind,
		Message:   n.Message,
		Payload:   string(payload),
		CreatedAt: n.CreatedAt,
	}
	if err := database.CreateNotification(ctx, row); err != nil {
		log.Error().Err(err).Str("user_id", n.UserID).Msg("failed to persist notification")
	}
}

// pollQuotes periodically refreshes every configured symbol through the
// Market Data Aggregator, persisting the last-known price and fanning it
// out over the price WebSocket channel, and feeding the Notification
// Engine's alert evaluator. The Aggregator itself is pull-based (quotes
// are fetched on demand with freshness caching); this loop is what turns
// that into a steady push feed for subscribers and alerts.
func pollQuotes(ctx context.Context, cfg *config.Config, market *aggregator.Service, streamHub *stream.Hub, notifyEngine *notify.Engine, database *db.Database) {
	interval := cfg.QuoteFreshness
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, symbol := range cfg.Symbols {
				quote, err := market.Quote(ctx, symbol)
				if err != nil {
					log.Warn().Err(err).Str("symbol", symbol).Msg("quote refresh failed")
					continue
				}
				streamHub.PublishPrice(symbol, quote)
				notifyEngine.EvaluateTick(symbol, quote.Price)
				if err := database.UpsertQuote(ctx, db.Quote{
					Symbol:    quote.Symbol,
					Price:     quote.Price.String(),
					Source:    quote.Source,
					FetchedAt: quote.Timestamp,
				}); err != nil {
					log.Error().Err(err).Str("symbol", symbol).Msg("failed to persist quote")
				}
			}
		}
	}
}
