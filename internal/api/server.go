// Package api exposes the REST and WebSocket surface: signal review,
// portfolio state, scan results, council transcripts and cost tracking.
package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"krx-trading-bot/config"
	"krx-trading-bot/internal/broker"
	"krx-trading-bot/internal/cost"
	"krx-trading-bot/internal/database"
	"krx-trading-bot/internal/events"
	"krx-trading-bot/internal/indicator"
	"krx-trading-bot/internal/market"
	"krx-trading-bot/internal/scanner"
)

// SignalReviewer is the pipeline surface the API drives: human approval and
// rejection of pending signals.
type SignalReviewer interface {
	Approve(ctx context.Context, id string) error
	Reject(ctx context.Context, id, reason string) error
	Active() []*database.Signal
}

// SignalReader is the repository slice the API reads.
type SignalReader interface {
	GetByID(ctx context.Context, id string) (*database.Signal, error)
	List(ctx context.Context, f database.SignalFilter) ([]*database.Signal, error)
}

// MeetingReader serves council transcripts.
type MeetingReader interface {
	RecentForSymbol(ctx context.Context, symbol string, limit int) ([]*database.MeetingRecord, error)
}

// Scans is the scanner surface: cached results plus an on-demand sweep.
type Scans interface {
	Results() []*indicator.ScanResult
	Scan(ctx context.Context) (*scanner.Summary, error)
}

// Server is the HTTP front end. All trading logic lives behind the
// interfaces; the server only translates HTTP to calls and events to frames.
type Server struct {
	cfg        config.ServerConfig
	router     *gin.Engine
	httpServer *http.Server
	db         *database.DB
	signals    SignalReader
	meetings   MeetingReader
	reviewer   SignalReviewer
	scans      Scans
	broker     broker.Broker
	costs      *cost.Manager
	calendar   *market.Calendar
	clock      market.Clock
	bus        *events.EventBus
	hub        *WSHub
	logger     zerolog.Logger
	startedAt  time.Time
}

func NewServer(
	cfg config.ServerConfig,
	db *database.DB,
	signals SignalReader,
	meetings MeetingReader,
	reviewer SignalReviewer,
	scans Scans,
	b broker.Broker,
	costs *cost.Manager,
	calendar *market.Calendar,
	clock market.Clock,
	bus *events.EventBus,
	logger zerolog.Logger,
) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	if cfg.AllowedOrigins == "*" || cfg.AllowedOrigins == "" {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = strings.Split(cfg.AllowedOrigins, ",")
		corsConfig.AllowCredentials = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization"}
	router.Use(cors.New(corsConfig))

	s := &Server{
		cfg:       cfg,
		router:    router,
		db:        db,
		signals:   signals,
		meetings:  meetings,
		reviewer:  reviewer,
		scans:     scans,
		broker:    b,
		costs:     costs,
		calendar:  calendar,
		clock:     clock,
		bus:       bus,
		logger:    logger.With().Str("component", "api").Logger(),
		startedAt: clock.Now(),
	}
	s.hub = newWSHub(s.logger)
	go s.hub.run()
	bus.SubscribeAll(s.hub.broadcastEvent)

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)

	api := s.router.Group("/api")
	{
		api.GET("/session", s.handleSession)

		api.GET("/signals", s.handleListSignals)
		api.GET("/signals/active", s.handleActiveSignals)
		api.GET("/signals/:id", s.handleGetSignal)
		api.POST("/signals/:id/approve", s.handleApproveSignal)
		api.POST("/signals/:id/reject", s.handleRejectSignal)

		api.GET("/portfolio", s.handlePortfolio)
		api.GET("/pnl", s.handleRealizedPnL)

		api.GET("/scan/results", s.handleScanResults)
		api.POST("/scan/run", s.handleRunScan)

		api.GET("/meetings", s.handleRecentMeetings)

		api.GET("/cost/summary", s.handleCostSummary)
		api.GET("/cost/history", s.handleCostHistory)
	}

	s.router.GET("/ws", s.handleWebSocket)
}

// Start blocks serving HTTP until Shutdown.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	s.logger.Info().Str("addr", addr).Msg("http server listening")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.stop()
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// Router exposes the handler for tests.
func (s *Server) Router() http.Handler { return s.router }

func errorResponse(c *gin.Context, statusCode int, message string) {
	c.JSON(statusCode, gin.H{"error": true, "message": message})
}

func successResponse(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, gin.H{"success": true, "data": data})
}
