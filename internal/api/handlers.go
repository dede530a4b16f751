package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"krx-trading-bot/internal/database"
)

func (s *Server) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	if s.db != nil {
		if err := s.db.Pool.Ping(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":   "unhealthy",
				"database": "unreachable",
			})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"status":     "healthy",
		"database":   "healthy",
		"started_at": s.startedAt.Format(time.RFC3339),
	})
}

// handleSession reports the market state at the current instant.
func (s *Server) handleSession(c *gin.Context) {
	now := s.clock.Now()
	session := s.calendar.Session(now)
	ok, reason := s.calendar.CanExecute(now)

	resp := gin.H{
		"now":         now.In(s.calendar.Location()).Format(time.RFC3339),
		"session":     session,
		"can_execute": ok,
		"detail":      reason,
	}
	if secs, err := s.calendar.SecondsUntilOpen(now); err == nil && secs != nil {
		resp["seconds_until_open"] = *secs
	}
	successResponse(c, resp)
}

func (s *Server) handleListSignals(c *gin.Context) {
	filter := database.SignalFilter{
		Symbol: c.Query("symbol"),
		Limit:  100,
	}
	if status := c.Query("status"); status != "" {
		filter.Statuses = []database.SignalStatus{database.SignalStatus(status)}
	}
	if limit, err := strconv.Atoi(c.Query("limit")); err == nil && limit > 0 && limit <= 500 {
		filter.Limit = limit
	}

	signals, err := s.signals.List(c.Request.Context(), filter)
	if err != nil {
		s.logger.Error().Err(err).Msg("signal list failed")
		errorResponse(c, http.StatusInternalServerError, "failed to list signals")
		return
	}
	successResponse(c, signals)
}

func (s *Server) handleActiveSignals(c *gin.Context) {
	successResponse(c, s.reviewer.Active())
}

func (s *Server) handleGetSignal(c *gin.Context) {
	sig, err := s.signals.GetByID(c.Request.Context(), c.Param("id"))
	if err == database.ErrSignalNotFound {
		errorResponse(c, http.StatusNotFound, "signal not found")
		return
	}
	if err != nil {
		errorResponse(c, http.StatusInternalServerError, "failed to load signal")
		return
	}
	successResponse(c, sig)
}

func (s *Server) handleApproveSignal(c *gin.Context) {
	id := c.Param("id")
	if err := s.reviewer.Approve(c.Request.Context(), id); err != nil {
		s.logger.Warn().Err(err).Str("signal", id).Msg("approve failed")
		errorResponse(c, http.StatusConflict, err.Error())
		return
	}
	sig, err := s.signals.GetByID(c.Request.Context(), id)
	if err != nil {
		errorResponse(c, http.StatusInternalServerError, "approved, but reload failed")
		return
	}
	successResponse(c, sig)
}

type rejectRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) handleRejectSignal(c *gin.Context) {
	id := c.Param("id")
	var req rejectRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Reason == "" {
		req.Reason = "rejected by operator"
	}
	if err := s.reviewer.Reject(c.Request.Context(), id, req.Reason); err != nil {
		if err == database.ErrSignalNotFound {
			errorResponse(c, http.StatusNotFound, "signal not found")
			return
		}
		errorResponse(c, http.StatusInternalServerError, "reject failed")
		return
	}
	successResponse(c, gin.H{"id": id, "status": database.StatusRejected})
}

func (s *Server) handlePortfolio(c *gin.Context) {
	ctx := c.Request.Context()
	balance, err := s.broker.GetBalance(ctx)
	if err != nil {
		errorResponse(c, http.StatusBadGateway, "balance unavailable")
		return
	}
	holdings, err := s.broker.GetHoldings(ctx)
	if err != nil {
		errorResponse(c, http.StatusBadGateway, "holdings unavailable")
		return
	}
	successResponse(c, gin.H{
		"balance":      balance,
		"holdings":     holdings,
		"total_assets": balance.TotalAssets(),
	})
}

func (s *Server) handleRealizedPnL(c *gin.Context) {
	days := 30
	if d, err := strconv.Atoi(c.Query("days")); err == nil && d > 0 && d <= 365 {
		days = d
	}
	end := s.clock.Now()
	start := end.AddDate(0, 0, -days)
	items, err := s.broker.GetRealizedPnL(c.Request.Context(), start, end)
	if err != nil {
		errorResponse(c, http.StatusBadGateway, "pnl unavailable")
		return
	}
	successResponse(c, items)
}

func (s *Server) handleScanResults(c *gin.Context) {
	results := s.scans.Results()
	limit := 50
	if l, err := strconv.Atoi(c.Query("limit")); err == nil && l > 0 && l <= len(results) {
		limit = l
	}
	if limit > len(results) {
		limit = len(results)
	}
	successResponse(c, results[:limit])
}

func (s *Server) handleRunScan(c *gin.Context) {
	// Scans take a while against the real broker; run detached and let the
	// event stream report progress.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()
		if _, err := s.scans.Scan(ctx); err != nil {
			s.logger.Warn().Err(err).Msg("manual scan failed")
		}
	}()
	c.JSON(http.StatusAccepted, gin.H{"success": true, "message": "scan started"})
}

func (s *Server) handleRecentMeetings(c *gin.Context) {
	symbol := c.Query("symbol")
	if symbol == "" {
		errorResponse(c, http.StatusBadRequest, "symbol query parameter required")
		return
	}
	limit := 10
	if l, err := strconv.Atoi(c.Query("limit")); err == nil && l > 0 && l <= 50 {
		limit = l
	}
	meetings, err := s.meetings.RecentForSymbol(c.Request.Context(), symbol, limit)
	if err != nil {
		errorResponse(c, http.StatusInternalServerError, "failed to load meetings")
		return
	}
	successResponse(c, meetings)
}

func (s *Server) handleCostSummary(c *gin.Context) {
	successResponse(c, s.costs.Summarize())
}

func (s *Server) handleCostHistory(c *gin.Context) {
	successResponse(c, s.costs.History())
}
