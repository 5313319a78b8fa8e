// Package api is the dashboard's outer HTTP shell: a read-mostly view
// onto the decision core's position book, risk engine and decision
// envelopes, plus a narrow admin surface for setting the trading mode,
// resetting or killing the risk engine, and setting the global no-go
// flag. It is the explicit external
// collaborator the core talks to through plain Go types — this package
// owns the only JSON/HTTP/CORS/auth wire concerns in the repo.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"spotcore/internal/auth"
	"spotcore/internal/config"
	"spotcore/internal/events"
	"spotcore/internal/execution"
	"spotcore/internal/exchange"
	"spotcore/internal/position"
	"spotcore/internal/reconcile"
	"spotcore/internal/risk"
	"spotcore/internal/strategy"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// Config holds the HTTP listener and admin-gating configuration.
type Config struct {
	Host           string
	Port           int
	ProductionMode bool
	AdminToken     string
	AllowedOrigins []string
}

// Dependencies are the core components the dashboard reads from and
// issues admin commands to. Fields marked optional may be nil; their
// fields in the /health truth header are then omitted, and while NoGo is
// nil the /api/admin/no-go route answers 404.
type Dependencies struct {
	Positions  *position.Manager
	Risk       *risk.Engine
	Envelopes  *strategy.EnvelopeRing
	Supervisor *execution.Supervisor
	Exchange   *exchange.Client
	EventBus   *events.EventBus
	ConfigRef  *config.Config
	Reconciler *reconcile.Reconciler // optional
	NoGo       *strategy.NoGoFlag    // optional
}

// Server is the HTTP+WebSocket dashboard transport.
type Server struct {
	router     *gin.Engine
	httpServer *http.Server
	cfg        Config
	deps       Dependencies
	hub        *WSHub
	log        zerolog.Logger
}

// NewServer builds the dashboard server and wires its routes.
func NewServer(cfg Config, deps Dependencies, log zerolog.Logger) *Server {
	if cfg.ProductionMode {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsConfig.AllowOrigins = []string{"http://localhost:5173"}
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization"}
	corsConfig.AllowCredentials = true
	router.Use(cors.New(corsConfig))

	s := &Server{
		router: router,
		cfg:    cfg,
		deps:   deps,
		hub:    NewWSHub(log),
		log:    log.With().Str("component", "api.Server").Logger(),
	}

	go s.hub.Run()
	deps.EventBus.SubscribeAll(func(event events.Event) {
		s.hub.Broadcast(event)
	})

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)
	s.router.GET("/ws", s.handleWebSocket)

	api := s.router.Group("/api")
	{
		api.GET("/positions", s.handleGetOpenPositions)
		api.GET("/positions/history", s.handleGetClosedPositions)
		api.GET("/risk/status", s.handleGetRiskStatus)
		api.GET("/decisions", s.handleGetDecisions)
		api.GET("/config", s.handleGetConfig)
	}

	admin := s.router.Group("/api/admin")
	admin.Use(auth.Middleware(s.cfg.AdminToken))
	{
		admin.POST("/risk/reset", s.handleResetRisk)
		admin.POST("/risk/kill", s.handleKillSwitch)
		admin.POST("/trading-mode", s.handleSetTradingMode)
		admin.POST("/no-go", s.handleSetNoGo)
	}
}

// Start runs the HTTP server until it is shut down.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.log.Info().Str("addr", addr).Msg("starting dashboard HTTP server")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("shutting down dashboard HTTP server")
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

func (s *Server) handleHealth(c *gin.Context) {
	resp := gin.H{
		"status":        "healthy",
		"state_version": s.deps.Supervisor.StateVersion(),
		"time":          time.Now().UTC().Format(time.RFC3339),
	}
	if s.deps.NoGo != nil {
		resp["no_go_reason"] = s.deps.NoGo.Reason()
	}
	if s.deps.Reconciler != nil {
		snap := s.deps.Reconciler.Snapshot()
		resp["reconcile_last_error"] = snap.LastError
		resp["reconcile_drift_count"] = snap.DriftCount
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleGetOpenPositions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"positions": s.deps.Positions.OpenPositions()})
}

func (s *Server) handleGetClosedPositions(c *gin.Context) {
	n := 100
	c.JSON(http.StatusOK, gin.H{"positions": s.deps.Positions.ClosedPositions(n)})
}

func (s *Server) handleGetRiskStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.deps.Risk.Snapshot())
}

func (s *Server) handleGetDecisions(c *gin.Context) {
	n := 50
	c.JSON(http.StatusOK, gin.H{"decisions": s.deps.Envelopes.Recent(n)})
}

func (s *Server) handleGetConfig(c *gin.Context) {
	c.JSON(http.StatusOK, s.deps.ConfigRef)
}

func (s *Server) handleResetRisk(c *gin.Context) {
	s.deps.Risk.Reset()
	s.deps.EventBus.PublishRiskModeChanged("Active", "admin_reset")
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (s *Server) handleKillSwitch(c *gin.Context) {
	s.deps.Risk.Kill()
	s.deps.EventBus.PublishRiskModeChanged("Killed", "admin_kill_switch")
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (s *Server) handleSetNoGo(c *gin.Context) {
	if s.deps.NoGo == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no-go flag not configured"})
		return
	}
	var req struct {
		Reason string `json:"reason"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	s.deps.NoGo.Set(req.Reason)
	c.JSON(http.StatusOK, gin.H{"success": true, "no_go_reason": req.Reason})
}

func (s *Server) handleSetTradingMode(c *gin.Context) {
	var req struct {
		Mode string `json:"mode" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	switch config.TradingMode(req.Mode) {
	case config.TradingLive, config.TradingPaused, config.TradingKilled:
		s.deps.ConfigRef.TradingMode = config.TradingMode(req.Mode)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown trading mode"})
		return
	}

	s.deps.EventBus.PublishRiskModeChanged(req.Mode, "admin_trading_mode_change")
	c.JSON(http.StatusOK, gin.H{"success": true, "mode": req.Mode})
}
