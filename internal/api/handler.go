package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"chartvision/internal/ai"
	"chartvision/internal/breaker"
	"chartvision/internal/events"
	"chartvision/internal/monitor"
	"chartvision/internal/risk"
	"chartvision/internal/session"
	"chartvision/internal/signal"
	"chartvision/pkg/cache"
	"chartvision/pkg/db"
)

// Analyzer is the slice of the AI client the handlers need; tests swap
// in a stub.
type Analyzer interface {
	AnalyzeMultiChart(ctx context.Context, charts []ai.ChartImage, strategyContext, previousAnalysis string) (signal.TradeSignal, error)
	Breaker() *breaker.Breaker
	Model() string
}

// Server wires HTTP endpoints around the session manager.
type Server struct {
	Router    *gin.Engine
	Sessions  *session.Manager
	Risk      *risk.Manager
	Metrics   *monitor.SystemMetrics
	DB        *db.Database
	LTP       *cache.LTPCache
	Bus       *events.Bus
	JWTSecret string
	Meta      SystemMeta

	aiMu      sync.RWMutex
	aiClient  Analyzer
	newAI     func(apiKey, model string) Analyzer
	ltpMaxAge time.Duration
}

// SystemMeta describes runtime status exposed on /health.
type SystemMeta struct {
	Version    string
	InstanceID string
}

// Options configures optional server pieces.
type Options struct {
	DB        *db.Database
	AIClient  Analyzer
	LTPMaxAge time.Duration
	JWTSecret string
	Meta      SystemMeta
}

func NewServer(sessions *session.Manager, riskMgr *risk.Manager, metrics *monitor.SystemMetrics, opts Options) *Server {
	r := gin.New()

	// Middleware stack (order matters!)
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(RequestLogger(metrics))
	r.Use(RateLimitMiddleware())
	r.Use(CORSMiddleware())

	ltpMaxAge := opts.LTPMaxAge
	if ltpMaxAge <= 0 {
		ltpMaxAge = 30 * time.Second
	}

	s := &Server{
		Router:    r,
		Sessions:  sessions,
		Risk:      riskMgr,
		Metrics:   metrics,
		DB:        opts.DB,
		LTP:       cache.NewLTPCache(),
		Bus:       events.NewBus(),
		JWTSecret: opts.JWTSecret,
		Meta:      opts.Meta,
		aiClient:  opts.AIClient,
		ltpMaxAge: ltpMaxAge,
	}
	s.newAI = func(apiKey, model string) Analyzer { return ai.NewClient(apiKey, model) }
	s.routes()
	return s
}

func (s *Server) routes() {
	s.Router.GET("/health", s.health)
	s.Router.GET("/metrics", s.metrics)
	s.Router.GET("/ws/:session_id", s.websocket)

	api := s.Router.Group("/api")
	{
		api.POST("/session/create", s.createSession)
		api.GET("/brokers/list", s.listBrokers)
		api.POST("/config/gemini", s.configureGemini)

		// Everything below needs a valid X-Session-ID.
		authed := api.Group("")
		authed.Use(s.SessionMiddleware())
		{
			authed.GET("/session/info", s.sessionInfo)
			authed.DELETE("/session/delete", s.deleteSession)
			authed.POST("/config/mode", s.setMode)

			authed.POST("/broker/connect", s.connectBroker)
			authed.POST("/broker/disconnect", s.disconnectBroker)
			authed.GET("/broker/status", s.brokerStatus)

			authed.GET("/risk/status", s.riskStatus)
			authed.POST("/analyze/multi-chart", s.analyzeMultiChart)
			authed.GET("/signals/recent", s.recentSignals)

			authed.POST("/orders/place", s.placeOrder)
			authed.GET("/orders", s.listOrders)
			authed.DELETE("/orders/:order_id", s.cancelOrder)

			authed.GET("/positions", s.positions)
			authed.GET("/holdings", s.holdings)
			authed.GET("/margins", s.margins)

			authed.GET("/iifl/profile", s.iiflProfile)
			authed.POST("/iifl/quotes", s.iiflQuotes)
			authed.GET("/iifl/search", s.iiflSearch)
			authed.GET("/iifl/option-chain", s.iiflOptionChain)

			authed.GET("/paper/stats", s.paperStats)
			authed.POST("/paper/reset", s.paperReset)
		}
	}
}

func (s *Server) health(c *gin.Context) {
	var gemini any
	if client := s.analyzer(); client != nil {
		gemini = client.Breaker().Status()
	}
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"version":   s.Meta.Version,
		"instance":  s.Meta.InstanceID,
		"timestamp": time.Now().Format(time.RFC3339),
		"sessions":  s.Sessions.Count(),
		"gemini":    gemini,
		"risk":      s.Risk.Status(),
	})
}

func (s *Server) metrics(c *gin.Context) {
	c.JSON(http.StatusOK, s.Metrics.GetSnapshot())
}

func (s *Server) analyzer() Analyzer {
	s.aiMu.RLock()
	defer s.aiMu.RUnlock()
	return s.aiClient
}

func (s *Server) Start(addr string) error {
	return s.Router.Run(addr)
}
