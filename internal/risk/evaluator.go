// Package risk implements the pre-trade gates, the action decision rules and
// the stop/target price clamps. Everything here fails safe: an unanswerable
// question blocks the trade.
package risk

import (
	"context"
	"fmt"
	"math"

	"github.com/rs/zerolog"

	"krx-trading-bot/config"
	"krx-trading-bot/internal/broker"
	"krx-trading-bot/internal/database"
)

// Gate names appear in audit logs and rejection reasons.
const (
	GateMinPosition  = "min_position"
	GateCashReserve  = "cash_reserve"
	GateMaxPositions = "max_positions"
	GateDataQuality  = "data_quality"
	GateError        = "error"
)

// GateResult is the outcome of a pre-trade check.
type GateResult struct {
	Allowed bool   `json:"allowed"`
	Gate    string `json:"gate,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

func allowed() GateResult { return GateResult{Allowed: true} }

func blocked(gate, format string, args ...interface{}) GateResult {
	return GateResult{Gate: gate, Reason: fmt.Sprintf(format, args...)}
}

// Evaluator applies RiskConfig policy. Stateless; safe for concurrent use.
type Evaluator struct {
	cfg    config.RiskConfig
	logger zerolog.Logger
}

func NewEvaluator(cfg config.RiskConfig, logger zerolog.Logger) *Evaluator {
	return &Evaluator{cfg: cfg, logger: logger.With().Str("component", "risk").Logger()}
}

// CheckBuyGates runs gates A (minimum position), B (cash reserve) and C (max
// positions) in order against a live balance snapshot. Any broker error
// blocks with gate "error".
func (e *Evaluator) CheckBuyGates(ctx context.Context, b broker.Broker, symbol string, suggestedAmount int64) GateResult {
	balance, err := b.GetBalance(ctx)
	if err != nil {
		e.audit(symbol, GateError, err.Error())
		return blocked(GateError, "balance unavailable: %v", err)
	}

	totalAssets := balance.TotalAssets()
	minPosition := int64(float64(totalAssets) * e.cfg.MinPositionPct / 100)
	if suggestedAmount < minPosition {
		r := blocked(GateMinPosition, "amount %d below minimum position %d (%.1f%% of %d)",
			suggestedAmount, minPosition, e.cfg.MinPositionPct, totalAssets)
		e.audit(symbol, r.Gate, r.Reason)
		return r
	}

	reserve := int64(float64(totalAssets) * e.cfg.MinCashReservePct / 100)
	if balance.AvailableAmount-suggestedAmount < reserve {
		r := blocked(GateCashReserve, "buying %d leaves %d, below the %d cash reserve",
			suggestedAmount, balance.AvailableAmount-suggestedAmount, reserve)
		e.audit(symbol, r.Gate, r.Reason)
		return r
	}

	holdings, err := b.GetHoldings(ctx)
	if err != nil {
		e.audit(symbol, GateError, err.Error())
		return blocked(GateError, "holdings unavailable: %v", err)
	}
	held := false
	for _, h := range holdings {
		if h.Symbol == symbol {
			held = true
			break
		}
	}
	// Adding to an existing position never opens a new slot.
	if !held && len(holdings) >= e.cfg.MaxPositions {
		r := blocked(GateMaxPositions, "%d positions held, limit %d", len(holdings), e.cfg.MaxPositions)
		e.audit(symbol, r.Gate, r.Reason)
		return r
	}

	return allowed()
}

// CheckDataQuality discards signals from meetings where two or more analysts
// failed. Applies to every signal type.
func (e *Evaluator) CheckDataQuality(symbol string, failureCount int) GateResult {
	if failureCount >= 2 {
		r := blocked(GateDataQuality, "%d analyst failures in meeting", failureCount)
		e.audit(symbol, r.Gate, r.Reason)
		return r
	}
	return allowed()
}

func (e *Evaluator) audit(symbol, gate, reason string) {
	e.logger.Warn().Str("symbol", symbol).Str("event", "gate_block_"+gate).
		Str("reason", reason).Msg("gate blocked")
}

// DetermineAction applies the decision rules in order. source is the meeting
// trigger kind ("news", "quant", "sell", "rebalance").
func (e *Evaluator) DetermineAction(finalPct float64, quantScore, fundScore, newsScore int, source string) database.SignalType {
	avg := (float64(quantScore) + float64(fundScore)) / 2

	switch {
	case source == "news" && newsScore <= 3:
		return database.SignalSell
	case avg <= 4:
		return database.SignalSell
	case finalPct < 0:
		return database.SignalSell
	}

	if source == "quant" {
		if (finalPct >= 10 && avg >= 5.5) || (finalPct >= 15 && avg >= 5) {
			return database.SignalBuy
		}
	}
	if source == "news" {
		if (finalPct >= 10 && avg >= 6) || (newsScore >= 8 && avg >= 5) {
			return database.SignalBuy
		}
	}
	return database.SignalHold
}

// ClampStopLoss bounds the analyst's stop between the configured min and max
// distance below the current price. A zero analyst stop takes the default.
func (e *Evaluator) ClampStopLoss(analystStop, current int64) int64 {
	if current <= 0 {
		return analystStop
	}
	if analystStop <= 0 {
		return roundWon(float64(current) * (1 - e.cfg.StopLossPct/100))
	}
	lo := roundWon(float64(current) * (1 - e.cfg.MaxStopLossPct/100))
	hi := roundWon(float64(current) * (1 - e.cfg.MinStopLossPct/100))
	return clampWon(analystStop, lo, hi)
}

// ClampTarget bounds the analyst's target between the configured min and max
// distance above the current price. A zero analyst target takes the default.
func (e *Evaluator) ClampTarget(analystTarget, current int64) int64 {
	if current <= 0 {
		return analystTarget
	}
	if analystTarget <= 0 {
		return roundWon(float64(current) * (1 + e.cfg.TakeProfitPct/100))
	}
	lo := roundWon(float64(current) * (1 + e.cfg.MinTakeProfitPct/100))
	hi := roundWon(float64(current) * (1 + e.cfg.MaxTakeProfitPct/100))
	return clampWon(analystTarget, lo, hi)
}

func roundWon(v float64) int64 { return int64(math.Round(v)) }

func clampWon(v, lo, hi int64) int64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
