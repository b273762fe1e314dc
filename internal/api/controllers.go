package api

import (
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"chartvision/internal/ai"
	"chartvision/internal/events"
	"chartvision/internal/monitor"
	"chartvision/internal/session"
	"chartvision/pkg/brokers/common"
	"chartvision/pkg/brokers/iifl"
	"chartvision/pkg/db"
)

var brokerNames = map[common.BrokerType]string{
	common.BrokerIIFLBlaze: "IIFL Blaze (XTS)",
	common.BrokerZerodha:   "Zerodha Kite",
	common.BrokerUpstox:    "Upstox",
	common.BrokerFyers:     "FYERS",
	common.BrokerDhan:      "Dhan",
}

// ---- Session lifecycle ----

func (s *Server) createSession(c *gin.Context) {
	var body struct {
		UserID string `json:"user_id"`
	}
	_ = c.ShouldBindJSON(&body)

	userID := body.UserID
	if userID == "" {
		userID = c.Query("user_id")
	}
	if userID == "" {
		// A valid Bearer token attributes the session to its subject.
		userID = bearerUserID(c, s.JWTSecret)
	}

	sess := s.Sessions.Create(userID)
	c.JSON(http.StatusOK, sess)
}

func (s *Server) sessionInfo(c *gin.Context) {
	c.JSON(http.StatusOK, currentSession(c))
}

func (s *Server) deleteSession(c *gin.Context) {
	sess := currentSession(c)
	s.Sessions.Delete(c.Request.Context(), sess.SessionID)
	c.JSON(http.StatusOK, gin.H{"status": "success", "message": "Session deleted"})
}

func (s *Server) setMode(c *gin.Context) {
	var body struct {
		Mode string `json:"mode" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "mode required"})
		return
	}
	sess := currentSession(c)
	if err := s.Sessions.SetMode(sess.SessionID, body.Mode); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "mode": body.Mode})
}

// ---- Configuration ----

func (s *Server) listBrokers(c *gin.Context) {
	list := make([]gin.H, 0, len(common.All()))
	for _, b := range common.All() {
		list = append(list, gin.H{"id": string(b), "name": brokerNames[b]})
	}
	c.JSON(http.StatusOK, gin.H{"brokers": list})
}

func (s *Server) configureGemini(c *gin.Context) {
	var body struct {
		APIKey string `json:"api_key" binding:"required"`
		Model  string `json:"model"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "api_key required"})
		return
	}

	client := s.newAI(body.APIKey, body.Model)
	s.aiMu.Lock()
	s.aiClient = client
	s.aiMu.Unlock()

	log.Printf("[AI] Gemini configured, model=%s", client.Model())
	c.JSON(http.StatusOK, gin.H{"status": "success", "model": client.Model()})
}

// ---- Broker connection ----

func (s *Server) connectBroker(c *gin.Context) {
	var creds common.Credentials
	if err := c.ShouldBindJSON(&creds); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sess := currentSession(c)
	if err := s.Sessions.ConnectBroker(c.Request.Context(), sess.SessionID, creds); err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	}

	s.Bus.Publish(events.TopicBrokerConnected, events.BrokerEvent{
		SessionID: sess.SessionID,
		Broker:    creds.Broker,
		Connected: true,
	})

	resp := gin.H{"status": "success", "broker": creds.Broker}
	if blaze, ok := s.Sessions.Client(sess.SessionID).(*iifl.Client); ok {
		resp["user_id"] = blaze.UserID()
		resp["has_market_data"] = blaze.HasMarketData()
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) disconnectBroker(c *gin.Context) {
	sess := currentSession(c)
	if !s.Sessions.DisconnectBroker(c.Request.Context(), sess.SessionID) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No broker connected"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "message": "Broker disconnected"})
}

func (s *Server) brokerStatus(c *gin.Context) {
	sess := currentSession(c)
	client := s.Sessions.Client(sess.SessionID)
	if client == nil {
		c.JSON(http.StatusOK, gin.H{"connected": false})
		return
	}

	resp := gin.H{
		"connected": client.TokenValid(),
		"broker":    sess.BrokerType,
		"circuit":   client.Breaker().Status(),
	}
	if blaze, ok := client.(*iifl.Client); ok {
		resp["user_id"] = blaze.UserID()
		resp["has_market_data"] = blaze.HasMarketData()
	}
	c.JSON(http.StatusOK, resp)
}

// ---- Risk ----

func (s *Server) riskStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.Risk.Status())
}

// ---- AI analysis ----

func (s *Server) analyzeMultiChart(c *gin.Context) {
	client := s.analyzer()
	if client == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Gemini not configured"})
		return
	}

	var body struct {
		Charts           []ai.ChartImage `json:"charts"`
		StrategyContext  string          `json:"strategy_context"`
		PreviousAnalysis string          `json:"previous_analysis"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := ai.ValidateCharts(body.Charts); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sess := currentSession(c)
	timer := monitor.NewTimer(s.Metrics.AILatency)
	sig, err := client.AnalyzeMultiChart(c.Request.Context(), body.Charts, body.StrategyContext, body.PreviousAnalysis)
	timer.Stop()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	accepted, reason := s.Risk.ValidateSignal(sig)
	if !accepted {
		sig.Warnings = append(sig.Warnings, "⚠ Risk: "+reason)
	}

	if s.DB != nil {
		rec := db.SignalRecord{
			SessionID:    sess.SessionID,
			Decision:     sig.Decision,
			Confidence:   sig.Confidence,
			SafetyScore:  sig.SafetyScore,
			Entry:        sig.Entry,
			Stoploss:     sig.Stoploss,
			RiskReward:   sig.RiskReward,
			Accepted:     accepted,
			RejectReason: reason,
		}
		if err := s.DB.InsertSignal(c.Request.Context(), rec); err != nil {
			log.Printf("[DB] signal audit failed: %v", err)
		}
	}

	s.Metrics.IncrementSignals()
	s.Bus.Publish(events.TopicSignal, events.SignalEvent{
		SessionID: sess.SessionID,
		Signal:    sig,
		Accepted:  accepted,
	})
	c.JSON(http.StatusOK, sig)
}

func (s *Server) recentSignals(c *gin.Context) {
	if s.DB == nil {
		c.JSON(http.StatusOK, gin.H{"signals": []db.SignalRecord{}})
		return
	}
	sess := currentSession(c)
	limit, _ := strconv.Atoi(c.Query("limit"))
	records, err := s.DB.RecentSignals(c.Request.Context(), sess.SessionID, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"signals": records})
}

// ---- Orders ----

func (s *Server) placeOrder(c *gin.Context) {
	var req common.OrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := req.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sess := currentSession(c)

	if sess.TradingMode == session.ModeLive {
		if ok, reason := s.Risk.CheckOrder(req); !ok {
			s.Bus.Publish(events.TopicRiskAlert, events.RiskEvent{SessionID: sess.SessionID, Reason: reason})
			c.JSON(http.StatusBadRequest, gin.H{"error": reason})
			return
		}
		client := s.Sessions.Client(sess.SessionID)
		if client == nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Broker not connected"})
			return
		}
		timer := monitor.NewTimer(s.Metrics.BrokerLatency)
		result, err := client.PlaceOrder(c.Request.Context(), req)
		timer.Stop()
		if err != nil {
			c.JSON(brokerErrorStatus(err), gin.H{"error": err.Error()})
			return
		}
		if result.Success() {
			s.Metrics.IncrementOrders()
			s.Bus.Publish(events.TopicOrderPlaced, events.OrderEvent{
				SessionID: sess.SessionID,
				Mode:      session.ModeLive,
				Request:   req,
				Result:    result,
			})
		}
		c.JSON(http.StatusOK, result)
		return
	}

	// Paper mode fills against the last traded price.
	ltp, _ := strconv.ParseFloat(c.Query("ltp"), 64)
	if ltp > 0 {
		s.LTP.Set(req.Symbol, ltp)
	} else if cached, ok := s.LTP.GetFresh(req.Symbol, s.ltpMaxAge); ok {
		ltp = cached
	}

	result := s.Sessions.PaperEngine(sess.SessionID).PlaceOrder(req, ltp)
	if result.Success() {
		s.Metrics.IncrementOrders()
		s.Bus.Publish(events.TopicOrderPlaced, events.OrderEvent{
			SessionID: sess.SessionID,
			Mode:      session.ModePaper,
			Request:   req,
			Result:    result,
		})
	}
	c.JSON(http.StatusOK, result)
}

func brokerErrorStatus(err error) int {
	switch {
	case errors.Is(err, common.ErrBrokerUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, common.ErrLoginFailed):
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) listOrders(c *gin.Context) {
	sess := currentSession(c)
	if sess.TradingMode == session.ModePaper {
		c.JSON(http.StatusOK, gin.H{"orders": s.Sessions.PaperEngine(sess.SessionID).Orders()})
		return
	}
	client := s.Sessions.Client(sess.SessionID)
	if client == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Broker not connected"})
		return
	}
	orders, err := client.OrderBook(c.Request.Context())
	if err != nil {
		c.JSON(brokerErrorStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders})
}

func (s *Server) cancelOrder(c *gin.Context) {
	sess := currentSession(c)
	if sess.TradingMode == session.ModePaper {
		c.JSON(http.StatusOK, gin.H{"status": "success", "message": "Cancelled (paper)"})
		return
	}
	client := s.Sessions.Client(sess.SessionID)
	if client == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Broker not connected"})
		return
	}
	result, err := client.CancelOrder(c.Request.Context(), c.Param("order_id"))
	if err != nil {
		c.JSON(brokerErrorStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, result)
}

// ---- Portfolio ----

func (s *Server) positions(c *gin.Context) {
	sess := currentSession(c)
	if sess.TradingMode == session.ModePaper {
		c.JSON(http.StatusOK, gin.H{"positions": s.Sessions.PaperEngine(sess.SessionID).Positions()})
		return
	}
	client := s.Sessions.Client(sess.SessionID)
	if client == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Broker not connected"})
		return
	}
	positions, err := client.Positions(c.Request.Context())
	if err != nil {
		c.JSON(brokerErrorStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"positions": positions})
}

func (s *Server) holdings(c *gin.Context) {
	sess := currentSession(c)
	if sess.TradingMode == session.ModePaper {
		c.JSON(http.StatusOK, gin.H{"holdings": []map[string]any{}})
		return
	}
	client := s.Sessions.Client(sess.SessionID)
	if client == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Broker not connected"})
		return
	}
	holdings, err := client.Holdings(c.Request.Context())
	if err != nil {
		c.JSON(brokerErrorStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"holdings": holdings})
}

func (s *Server) margins(c *gin.Context) {
	sess := currentSession(c)
	if sess.TradingMode == session.ModePaper {
		c.JSON(http.StatusOK, s.Sessions.PaperEngine(sess.SessionID).Margins())
		return
	}
	client := s.Sessions.Client(sess.SessionID)
	if client == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Broker not connected"})
		return
	}
	margins, err := client.Margins(c.Request.Context())
	if err != nil {
		c.JSON(brokerErrorStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, margins)
}

// ---- IIFL Blaze extras ----

func (s *Server) blazeClient(c *gin.Context) (*iifl.Client, bool) {
	sess := currentSession(c)
	blaze, ok := s.Sessions.Client(sess.SessionID).(*iifl.Client)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Not IIFL"})
		return nil, false
	}
	return blaze, true
}

func (s *Server) iiflProfile(c *gin.Context) {
	blaze, ok := s.blazeClient(c)
	if !ok {
		return
	}
	profile, err := blaze.Profile(c.Request.Context())
	if err != nil {
		c.JSON(brokerErrorStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, profile)
}

func (s *Server) iiflQuotes(c *gin.Context) {
	blaze, ok := s.blazeClient(c)
	if !ok {
		return
	}
	var body struct {
		Instruments []map[string]any `json:"instruments" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	quotes, err := blaze.Quotes(c.Request.Context(), body.Instruments)
	if err != nil {
		c.JSON(brokerErrorStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, quotes)
}

func (s *Server) iiflSearch(c *gin.Context) {
	blaze, ok := s.blazeClient(c)
	if !ok {
		return
	}
	query := c.Query("q")
	if query == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "q parameter required"})
		return
	}
	results, err := blaze.SearchInstruments(c.Request.Context(), query)
	if err != nil {
		c.JSON(brokerErrorStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, results)
}

func (s *Server) iiflOptionChain(c *gin.Context) {
	blaze, ok := s.blazeClient(c)
	if !ok {
		return
	}
	chain, err := blaze.OptionChain(
		c.Request.Context(),
		c.DefaultQuery("exchange_segment", "NSEFO"),
		c.DefaultQuery("series", "OPTIDX"),
		c.Query("symbol"),
		c.Query("expiry_date"),
		c.Query("option_type"),
	)
	if err != nil {
		c.JSON(brokerErrorStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, chain)
}

// ---- Paper trading ----

func (s *Server) paperStats(c *gin.Context) {
	sess := currentSession(c)
	c.JSON(http.StatusOK, s.Sessions.PaperEngine(sess.SessionID).Stats())
}

func (s *Server) paperReset(c *gin.Context) {
	var body struct {
		Capital float64 `json:"capital"`
	}
	_ = c.ShouldBindJSON(&body)
	if body.Capital == 0 {
		body.Capital = 100000
	}
	if body.Capital < 1 || body.Capital > 100000000 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Capital 1 – 10Cr"})
		return
	}
	sess := currentSession(c)
	s.Sessions.ResetPaperEngine(sess.SessionID, body.Capital)
	c.JSON(http.StatusOK, gin.H{"status": "success", "capital": body.Capital})
}
