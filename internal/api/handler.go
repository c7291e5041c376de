// Package api implements the HTTP/WebSocket surface: JWT auth, portfolio
// and trade endpoints, platform connection management, market data
// snapshots, the smart-alert engine, and the operator kill switch.
// Adapted from an internal/api package (Gin server wired
// around a single event bus and a strategy-execution Engine service);
// generalized to route every request through the Trade Router's gated
// submission pipeline instead of a strategy engine, and to expose the
// Market Data Aggregator, Risk Engine, and Notification Engine directly.
package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"trading-core/internal/aggregator"
	"trading-core/internal/ai"
	"trading-core/internal/breaker"
	"trading-core/internal/exchange"
	"trading-core/internal/monitor"
	"trading-core/internal/notify"
	"trading-core/internal/portfolio"
	"trading-core/internal/risk"
	"trading-core/internal/router"
	"trading-core/internal/stream"
	"trading-core/internal/vault"
	"trading-core/pkg/config"
	"trading-core/pkg/db"
)

// Server wires every domain service into the HTTP/WebSocket surface.
type Server struct {
	Router *gin.Engine

	DB        *db.Database
	Vault     *vault.Vault
	Breakers  *breaker.Registry
	Market    *aggregator.Service
	Exchange  *exchange.Pool
	Risk      *risk.Manager
	Portfolio *portfolio.Manager
	Trade     *router.Router
	Notify    *notify.Engine
	Stream    *stream.Hub
	AI        *ai.Client
	Metrics   *monitor.SystemMetrics
	Cfg       *config.Config

	JWTSecret string
}

// NewServer constructs the Gin engine, installs the middleware stack, and
// registers every route. Every dependency is expected to already be
// started (breaker registry, notify engine cron, exchange pool eviction
// loop) by the caller.
func NewServer(
	database *db.Database,
	secretVault *vault.Vault,
	breakers *breaker.Registry,
	market *aggregator.Service,
	exchangePool *exchange.Pool,
	riskMgr *risk.Manager,
	portfolioMgr *portfolio.Manager,
	tradeRouter *router.Router,
	notifyEngine *notify.Engine,
	streamHub *stream.Hub,
	aiClient *ai.Client,
	metrics *monitor.SystemMetrics,
	cfg *config.Config,
) *Server {
	r := gin.New()

	// Middleware stack (order matters!)
	r.Use(gin.Recovery())               // Panic recovery (first)
	r.Use(RequestIDMiddleware())        // Request ID tracking
	r.Use(RequestLogger(metrics))       // Request logging (after ID is set)
	r.Use(RateLimitMiddleware())        // Rate limiting
	r.Use(TimeoutMiddleware(30 * time.Second)) // Request timeout (30s)
	r.Use(CORSMiddleware())             // CORS (last before routes)

	s := &Server{
		Router:    r,
		DB:        database,
		Vault:     secretVault,
		Breakers:  breakers,
		Market:    market,
		Exchange:  exchangePool,
		Risk:      riskMgr,
		Portfolio: portfolioMgr,
		Trade:     tradeRouter,
		Notify:    notifyEngine,
		Stream:    streamHub,
		AI:        aiClient,
		Metrics:   metrics,
		Cfg:       cfg,
		JWTSecret: cfg.JWTSecret,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.Router.GET("/health", s.health)
	s.Router.GET("/ready", s.ready)
	s.Router.GET("/ws", s.websocket)

	api := s.Router.Group("/api/v1")
	{
		api.GET("/metrics", s.getMetrics)

		auth := api.Group("/auth")
		{
			auth.POST("/register", s.registerUser)
			auth.POST("/login", s.loginUser)
		}

		protected := api.Group("")
		protected.Use(AuthMiddleware(s.JWTSecret))
		{
			protected.GET("/portfolio", s.getPortfolio)

			protected.POST("/2fa/enable", s.enableTOTP)
			protected.POST("/2fa/confirm", s.confirmTOTP)
			protected.DELETE("/2fa", s.disableTOTP)

			protected.GET("/trades", s.listTrades)
			protected.POST("/trades", s.createTrade)
			protected.POST("/trades/:id/approve", s.approveTrade)
			protected.POST("/trades/:id/reject", s.rejectTrade)

			protected.GET("/mode", s.getMode)
			protected.PUT("/mode", s.setMode)

			protected.GET("/platforms", s.listPlatforms)
			protected.POST("/platforms", s.createPlatform)
			protected.PUT("/platforms/:id/default", s.setDefaultPlatform)
			protected.POST("/platforms/:id/test", s.testPlatform)
			protected.DELETE("/platforms/:id", s.deletePlatform)

			protected.GET("/market/quotes", s.listQuotes)
			protected.GET("/market/:symbol", s.getQuote)
			protected.GET("/market/:symbol/insight", s.getMarketInsight)

			protected.GET("/alerts", s.listAlerts)
			protected.POST("/alerts", s.createAlert)
			protected.DELETE("/alerts/:fingerprint", s.deleteAlert)

			protected.GET("/notifications", s.listNotifications)
			protected.POST("/notifications/:id/read", s.markNotificationRead)

			protected.POST("/kill-switch", s.triggerKillSwitch)
			protected.DELETE("/kill-switch", s.resetKillSwitch)

			admin := protected.Group("")
			admin.Use(s.requireAdmin)
			{
				admin.POST("/admin/kill-switch", s.triggerGlobalKillSwitch)
				admin.DELETE("/admin/kill-switch", s.resetGlobalKillSwitch)
				admin.POST("/admin/breakers/:key/reset", s.resetBreaker)
				admin.GET("/admin/breakers", s.listBreakers)
			}
		}
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// ready reports whether the server can currently serve traffic: the
// database must answer a ping. Kubernetes-style liveness/readiness split
// so a slow DB takes the pod out of rotation without killing the process.
func (s *Server) ready(c *gin.Context) {
	if s.DB == nil || s.DB.DB == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready", "reason": "database not initialized"})
		return
	}
	if err := s.DB.DB.PingContext(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready", "reason": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

func (s *Server) getMetrics(c *gin.Context) {
	snap := s.Metrics.GetSnapshot()
	if s.Exchange != nil {
		stats := s.Exchange.Stats()
		s.Metrics.SetAdapterPoolStats(stats.Size, stats.MaxSize)
		snap.AdapterPool = monitor.PoolStats{Size: stats.Size, MaxSize: stats.MaxSize}
	}
	c.JSON(http.StatusOK, snap)
}

// Start runs the HTTP server, blocking until it exits.
func (s *Server) Start(addr string) error {
	return s.Router.Run(addr)
}
