package api

import (
	"net/http"
	"sort"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"trading-core/internal/ai"
	exchangecommon "trading-core/internal/exchange/common"
	"trading-core/internal/notify"
	"trading-core/internal/router"
	"trading-core/pkg/apierr"
	"trading-core/pkg/db"
	"trading-core/pkg/money"
)

// respondErr writes an apierr.Error (or wraps a plain error as internal)
// as the JSON body, matching the standard {"code", "error"} shape.
func respondErr(c *gin.Context, err error) {
	if apiErr, ok := err.(*apierr.Error); ok {
		c.JSON(apiErr.Status(), gin.H{"code": apiErr.Code, "error": apiErr.Message})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"code": "INTERNAL_ERROR", "error": err.Error()})
}

func badRequest(c *gin.Context, code, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"code": code, "error": msg})
}

// ----------------------------------------
// Portfolio
// ----------------------------------------

func (s *Server) getPortfolio(c *gin.Context) {
	userID := CurrentUserID(c)
	account := s.Portfolio.GetAccount(userID)
	positions := s.Portfolio.Positions(userID)
	exposure := s.Portfolio.OpenExposure(userID)

	c.JSON(http.StatusOK, gin.H{
		"total":         account.Total.String(),
		"available":     account.Available.String(),
		"locked":        account.Locked.String(),
		"equity":        account.Equity().String(),
		"open_exposure": exposure.String(),
		"positions":     positions,
	})
}

// ----------------------------------------
// Trades
// ----------------------------------------

func (s *Server) listTrades(c *gin.Context) {
	userID := CurrentUserID(c)
	trades, err := s.DB.Queries().GetTradesByUser(c.Request.Context(), userID, 100)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"trades": trades})
}

type createTradeRequest struct {
	Symbol   string  `json:"symbol"`
	Side     string  `json:"side"`
	Type     string  `json:"type"`
	Notional float64 `json:"notional"`
	Leverage float64 `json:"leverage"`
}

// createTrade accepts a user-originated proposal and submits it through
// the Trade Router's full gated pipeline: mode selection, risk and
// breaker gating, quote-freshness check, adapter submission.
func (s *Server) createTrade(c *gin.Context) {
	userID := CurrentUserID(c)

	var req createTradeRequest
	if err := c.BindJSON(&req); err != nil {
		badRequest(c, "INVALID_PAYLOAD", "invalid request payload")
		return
	}
	req.Symbol = strings.ToUpper(strings.TrimSpace(req.Symbol))
	side := exchangecommon.Side(strings.ToUpper(req.Side))
	if req.Symbol == "" || (side != exchangecommon.SideBuy && side != exchangecommon.SideSell) {
		badRequest(c, "INVALID_PROPOSAL", "symbol and side (BUY/SELL) are required")
		return
	}
	if req.Notional <= 0 {
		badRequest(c, "INVALID_NOTIONAL", "notional must be positive")
		return
	}
	orderType := exchangecommon.OrderType(strings.ToUpper(req.Type))
	if orderType == "" {
		orderType = exchangecommon.OrderTypeMarket
	}

	account := s.Portfolio.GetAccount(userID)

	result, err := s.Trade.Submit(c.Request.Context(), router.OrderProposal{
		UserID:         userID,
		Symbol:         req.Symbol,
		Side:           side,
		Notional:       money.FromFloat(req.Notional),
		Type:           orderType,
		Source:         router.SourceUser,
		CurrentEquity:  account.Equity(),
		Leverage:       req.Leverage,
		IdempotencyKey: strings.TrimSpace(c.GetHeader("Idempotency-Key")),
	})
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) approveTrade(c *gin.Context) {
	result, err := s.Trade.ApproveOrder(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) rejectTrade(c *gin.Context) {
	if err := s.Trade.RejectApproval(c.Param("id")); err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "rejected"})
}

// ----------------------------------------
// Trade mode
// ----------------------------------------

func (s *Server) getMode(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"mode": s.Trade.GetMode(CurrentUserID(c))})
}

func (s *Server) setMode(c *gin.Context) {
	var req struct {
		Mode string `json:"mode"`
	}
	if err := c.BindJSON(&req); err != nil {
		badRequest(c, "INVALID_PAYLOAD", "invalid request payload")
		return
	}
	mode := router.Mode(strings.ToUpper(req.Mode))
	switch mode {
	case router.ModeLearningOnly, router.ModeAssisted, router.ModeAutopilot:
	default:
		badRequest(c, "INVALID_MODE", "mode must be LEARNING_ONLY, ASSISTED, or AUTOPILOT")
		return
	}
	s.Trade.SetMode(CurrentUserID(c), mode)
	c.JSON(http.StatusOK, gin.H{"mode": mode})
}

// ----------------------------------------
// Platform connections
// ----------------------------------------

func (s *Server) listPlatforms(c *gin.Context) {
	conns, err := s.DB.Queries().GetConnectionsByUser(c.Request.Context(), CurrentUserID(c))
	if err != nil {
		respondErr(c, err)
		return
	}
	out := make([]gin.H, 0, len(conns))
	for _, conn := range conns {
		out = append(out, gin.H{
			"id":            conn.ID,
			"exchange_type": conn.ExchangeType,
			"name":          conn.Name,
			"is_default":    conn.IsDefault,
			"is_active":     conn.IsActive,
			"created_at":    conn.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"platforms": out})
}

type createPlatformRequest struct {
	ExchangeType string `json:"exchange_type"`
	Name         string `json:"name"`
	APIKey       string `json:"api_key"`
	APISecret    string `json:"api_secret"`
}

func (s *Server) createPlatform(c *gin.Context) {
	userID := CurrentUserID(c)

	var req createPlatformRequest
	if err := c.BindJSON(&req); err != nil {
		badRequest(c, "INVALID_PAYLOAD", "invalid request payload")
		return
	}
	req.ExchangeType = strings.ToLower(strings.TrimSpace(req.ExchangeType))
	switch exchangecommon.Platform(req.ExchangeType) {
	case exchangecommon.PlatformBinance, exchangecommon.PlatformBybit, exchangecommon.PlatformOKX:
	default:
		badRequest(c, "INVALID_EXCHANGE_TYPE", "exchange_type must be binance, bybit, or okx")
		return
	}
	if req.APIKey == "" || req.APISecret == "" {
		badRequest(c, "MISSING_CREDENTIALS", "api_key and api_secret are required")
		return
	}

	encryptedKey, err := s.Vault.Encrypt(req.APIKey)
	if err != nil {
		respondErr(c, apierr.Wrap(apierr.KindInternal, "ENCRYPT_FAILED", "encrypt api key", err))
		return
	}
	encryptedSecret, err := s.Vault.Encrypt(req.APISecret)
	if err != nil {
		respondErr(c, apierr.Wrap(apierr.KindInternal, "ENCRYPT_FAILED", "encrypt api secret", err))
		return
	}

	conn := db.Connection{
		ID:                 uuid.NewString(),
		UserID:             userID,
		ExchangeType:       req.ExchangeType,
		Name:               req.Name,
		APIKeyEncrypted:    encryptedKey,
		APISecretEncrypted: encryptedSecret,
		KeyVersion:         s.Vault.CurrentVersion(),
	}
	if err := s.DB.Queries().CreateConnectionEncrypted(c.Request.Context(), conn); err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": conn.ID})
}

func (s *Server) setDefaultPlatform(c *gin.Context) {
	if err := s.DB.Queries().SetDefaultConnection(c.Request.Context(), CurrentUserID(c), c.Param("id")); err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// testPlatform decrypts the stored credentials and asks the venue for
// account balances, the cheapest call that proves the key pair is valid.
func (s *Server) testPlatform(c *gin.Context) {
	userID := CurrentUserID(c)
	conn, err := s.DB.Queries().GetConnectionByID(c.Request.Context(), userID, c.Param("id"))
	if err != nil {
		respondErr(c, err)
		return
	}

	platform := exchangecommon.Platform(conn.ExchangeType)
	gw, err := s.Exchange.Get(c.Request.Context(), userID, platform, conn.APIKeyEncrypted, conn.APISecretEncrypted)
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"status": "unreachable", "reason": err.Error()})
		return
	}

	balances, err := gw.GetBalances(c.Request.Context())
	s.Exchange.RecordResult(platform, err)
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"status": "unreachable", "reason": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "connected", "balances": balances})
}

func (s *Server) deletePlatform(c *gin.Context) {
	if err := s.DB.Queries().DeactivateConnection(c.Request.Context(), CurrentUserID(c), c.Param("id")); err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deactivated"})
}

// ----------------------------------------
// Market data
// ----------------------------------------

func (s *Server) getQuote(c *gin.Context) {
	symbol := strings.ToUpper(c.Param("symbol"))
	quote, err := s.Market.Quote(c.Request.Context(), symbol)
	if err != nil {
		respondErr(c, apierr.Wrap(apierr.KindUpstream, "QUOTE_UNAVAILABLE", "fetch quote", err))
		return
	}
	c.JSON(http.StatusOK, quote)
}

func (s *Server) listQuotes(c *gin.Context) {
	raw := c.Query("symbols")
	if raw == "" {
		badRequest(c, "MISSING_SYMBOLS", "symbols query parameter is required, comma-separated")
		return
	}
	symbols := strings.Split(strings.ToUpper(raw), ",")
	quotes := s.Market.Quotes(c.Request.Context(), symbols)
	c.JSON(http.StatusOK, gin.H{"quotes": quotes})
}

// getMarketInsight asks the opaque AI provider for a read on a symbol. A
// nil s.AI (AI_PROVIDER_ADDR unset) and any upstream failure both resolve
// to the client's own degraded fallback, never an HTTP error.
func (s *Server) getMarketInsight(c *gin.Context) {
	symbol := strings.ToUpper(c.Param("symbol"))
	resp, _ := s.AI.Analyze(c.Request.Context(), ai.AnalysisRequest{
		Symbol: symbol,
		Prompt: "summarize current momentum and risk for " + symbol,
	})
	c.JSON(http.StatusOK, gin.H{
		"verdict":    resp.Verdict,
		"narrative":  resp.Narrative,
		"confidence": resp.Confidence,
		"degraded":   resp.Degraded,
	})
}

// ----------------------------------------
// Smart alerts
// ----------------------------------------

func (s *Server) listAlerts(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"alerts": s.Notify.Alerts(CurrentUserID(c))})
}

type createAlertRequest struct {
	Symbol    string  `json:"symbol"`
	Condition string  `json:"condition"`
	Target    float64 `json:"target"`
}

func (s *Server) createAlert(c *gin.Context) {
	userID := CurrentUserID(c)

	var req createAlertRequest
	if err := c.BindJSON(&req); err != nil {
		badRequest(c, "INVALID_PAYLOAD", "invalid request payload")
		return
	}
	req.Symbol = strings.ToUpper(strings.TrimSpace(req.Symbol))
	cond := notify.Condition(strings.ToUpper(req.Condition))
	if req.Symbol == "" || (cond != notify.ConditionAbove && cond != notify.ConditionBelow) {
		badRequest(c, "INVALID_ALERT", "symbol and condition (ABOVE/BELOW) are required")
		return
	}
	if req.Target <= 0 {
		badRequest(c, "INVALID_TARGET", "target must be positive")
		return
	}

	alert := s.Notify.Arm(notify.Alert{
		UserID:    userID,
		Symbol:    req.Symbol,
		Condition: cond,
		Target:    money.FromFloat(req.Target),
	})
	c.JSON(http.StatusCreated, alert)
}

func (s *Server) deleteAlert(c *gin.Context) {
	s.Notify.Dismiss(CurrentUserID(c), c.Param("fingerprint"))
	c.JSON(http.StatusOK, gin.H{"status": "dismissed"})
}

// ----------------------------------------
// Notifications
// ----------------------------------------

func (s *Server) listNotifications(c *gin.Context) {
	notifications, err := s.DB.Queries().GetNotificationsByUser(c.Request.Context(), CurrentUserID(c), 100)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"notifications": notifications})
}

func (s *Server) markNotificationRead(c *gin.Context) {
	if err := s.DB.Queries().MarkNotificationRead(c.Request.Context(), CurrentUserID(c), c.Param("id")); err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "read"})
}

// ----------------------------------------
// Kill switch
// ----------------------------------------

func (s *Server) triggerKillSwitch(c *gin.Context) {
	errs := s.Trade.ExecuteKillSwitch(c.Request.Context(), CurrentUserID(c))
	resp := gin.H{"status": "engaged"}
	if len(errs) > 0 {
		msgs := make([]string, len(errs))
		for i, e := range errs {
			msgs[i] = e.Error()
		}
		resp["position_close_errors"] = msgs
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) resetKillSwitch(c *gin.Context) {
	s.Trade.ResetKillSwitch(CurrentUserID(c))
	c.JSON(http.StatusOK, gin.H{"status": "reset"})
}

// ----------------------------------------
// Admin: global kill switch, manual breaker control
// ----------------------------------------

// requireAdmin gates a route group to db.RoleAdmin users, looked up fresh
// on every call rather than cached in the JWT so a demotion takes effect
// immediately without waiting for token expiry.
func (s *Server) requireAdmin(c *gin.Context) {
	user, err := s.DB.GetUserByID(c.Request.Context(), CurrentUserID(c))
	if err != nil || user == nil || user.Role != db.RoleAdmin {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"code": "FORBIDDEN", "error": "admin role required"})
		return
	}
	c.Next()
}

func (s *Server) triggerGlobalKillSwitch(c *gin.Context) {
	s.Trade.TripGlobalKillSwitch()
	c.JSON(http.StatusOK, gin.H{"status": "engaged"})
}

func (s *Server) resetGlobalKillSwitch(c *gin.Context) {
	s.Trade.ResetGlobalKillSwitch()
	c.JSON(http.StatusOK, gin.H{"status": "reset"})
}

func (s *Server) resetBreaker(c *gin.Context) {
	s.Breakers.Reset(c.Param("key"))
	c.JSON(http.StatusOK, gin.H{"status": "reset"})
}

func (s *Server) listBreakers(c *gin.Context) {
	snap := s.Breakers.Snapshot()
	sort.Slice(snap, func(i, j int) bool { return snap[i].Key < snap[j].Key })
	c.JSON(http.StatusOK, gin.H{"breakers": snap})
}
