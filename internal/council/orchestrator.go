package council

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"krx-trading-bot/config"
	"krx-trading-bot/internal/cost"
	"krx-trading-bot/internal/database"
	"krx-trading-bot/internal/events"
	"krx-trading-bot/internal/indicator"
	"krx-trading-bot/internal/market"
	"krx-trading-bot/internal/risk"
)

// Router receives the finished signal and walks it through the execution
// pipeline. Implemented by the pipeline package.
type Router interface {
	Route(ctx context.Context, signal *database.Signal) error
}

// MeetingArchiver persists finished transcripts. Optional.
type MeetingArchiver interface {
	Insert(ctx context.Context, m *database.MeetingRecord) error
}

// Orchestrator runs council meetings: the three-round deliberation for buys,
// the one-round sell review and the rebalance review. Meetings on different
// symbols run concurrently up to a bound; within a meeting every analyst call
// is serial.
type Orchestrator struct {
	trading config.TradingConfig
	riskCfg config.RiskConfig

	analyst Analyst
	risk    *risk.Evaluator
	cost    *cost.Manager
	bus     *events.EventBus
	router  Router
	archive MeetingArchiver
	clock   market.Clock
	logger  zerolog.Logger

	timeout time.Duration
	sem     chan struct{}
}

func NewOrchestrator(
	trading config.TradingConfig,
	riskCfg config.RiskConfig,
	councilCfg config.CouncilConfig,
	analyst Analyst,
	riskEval *risk.Evaluator,
	costMgr *cost.Manager,
	bus *events.EventBus,
	router Router,
	archive MeetingArchiver,
	clock market.Clock,
	logger zerolog.Logger,
) *Orchestrator {
	timeout := time.Duration(councilCfg.AnalystTimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	maxConcurrent := councilCfg.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 5
	}
	return &Orchestrator{
		trading: trading,
		riskCfg: riskCfg,
		analyst: analyst,
		risk:    riskEval,
		cost:    costMgr,
		bus:     bus,
		router:  router,
		archive: archive,
		clock:   clock,
		logger:  logger.With().Str("component", "council").Logger(),
		timeout: timeout,
		sem:     make(chan struct{}, maxConcurrent),
	}
}

// StartMeeting convenes the full three-round council and routes the resulting
// signal. The returned meeting carries the transcript either way.
func (o *Orchestrator) StartMeeting(ctx context.Context, req MeetingRequest) (*Meeting, error) {
	o.sem <- struct{}{}
	defer func() { <-o.sem }()

	m := o.newMeeting(req.Symbol, req.Company, req.Title, req.TriggerSource)

	depthScore := req.TriggerScore
	if req.TriggerSource == SourceQuant && req.QuantResult != nil {
		depthScore = req.QuantResult.TechnicalSubscore()
	}
	tier, tierReason := o.cost.DetermineDepth(req.Symbol, depthScore, req.IsHolding, req.PortfolioWeight, cost.PriorityNormal)
	m.Depth = string(tier)
	if tier == cost.Quick {
		m.Discarded = true
		m.DiscardReason = "budget: " + tierReason
		m.EndedAt = o.clock.Now()
		o.logger.Info().Str("symbol", req.Symbol).Str("reason", tierReason).Msg("meeting skipped at QUICK depth")
		return m, nil
	}

	quantCtx := renderQuantContext(req.QuantResult)
	base := Request{
		Symbol:        req.Symbol,
		Company:       req.Company,
		Title:         req.Title,
		TriggerSource: req.TriggerSource,
		CurrentPrice:  req.CurrentPrice,
		QuantContext:  quantCtx,
	}

	// Round 0: open.
	o.append(m, &Message{
		Round:     0,
		Role:      RoleModerator,
		Content:   fmt.Sprintf("Convening council for %s (%s): %s via %s", req.Symbol, req.Company, req.Title, req.TriggerSource),
		Timestamp: o.clock.Now(),
	})

	// Round 1: initial positions.
	msg1 := o.call(ctx, m, withRound(base, RoleQuant, 1, m.Messages,
		"Give your initial technical read and allocation."))
	msg2 := o.call(ctx, m, withRound(base, RoleFundamental, 1, m.Messages,
		"Give your initial fundamental read and allocation."))

	score1, pct1 := quantNumbers(msg1)
	score2, pct2 := fundNumbers(msg2)

	// Round 2: each responds to the other.
	msg3 := o.call(ctx, m, withRound(base, RoleQuant, 2, m.Messages,
		"Respond to the fundamental analyst. Revise your allocation if warranted."))
	if op := msg3.Quant; op != nil && !msg3.Fallback && op.SuggestedPercent != 0 {
		pct1 = op.SuggestedPercent
	}
	msg4 := o.call(ctx, m, withRound(base, RoleFundamental, 2, m.Messages,
		"Respond to the technical analyst. Revise your allocation if warranted."))
	if op := msg4.Fundamental; op != nil && !msg4.Fallback && op.SuggestedPercent != 0 {
		pct2 = op.SuggestedPercent
	}

	// Round 3: consensus.
	modReq := withRound(base, RoleModerator, 3, m.Messages, "Issue the final allocation and holding horizon.")
	modReq.Pct1, modReq.Pct2 = pct1, pct2
	msg5 := o.call(ctx, m, modReq)

	finalPct := (pct1 + pct2) / 2
	holdingDays := clampHoldingDays(0)
	if op := msg5.Consensus; op != nil {
		// A zero from the moderator means no override; keep the analysts' mean.
		if op.SuggestedPercent != 0 {
			finalPct = op.SuggestedPercent
		}
		holdingDays = op.HoldingDays
	}

	// Data-quality gate before any signal exists.
	if gate := o.risk.CheckDataQuality(req.Symbol, m.FailureCount); !gate.Allowed {
		m.Discarded = true
		m.DiscardReason = gate.Reason
		o.finish(ctx, m, "discarded: "+gate.Reason)
		o.cost.RecordAnalysis(req.Symbol, tier, false)
		return m, nil
	}

	signal := o.buildSignal(req, m, score1, score2, finalPct, holdingDays, msg1)
	m.Signal = signal
	m.ConsensusReached = true

	if err := o.router.Route(ctx, signal); err != nil {
		o.logger.Error().Err(err).Str("symbol", req.Symbol).Msg("signal routing failed")
		o.finish(ctx, m, "routing failed: "+err.Error())
		o.cost.RecordAnalysis(req.Symbol, tier, false)
		return m, fmt.Errorf("route signal: %w", err)
	}

	o.bus.PublishSignalCreated(signal.ID, signal.Symbol, string(signal.SignalType), signal.Confidence)
	o.finish(ctx, m, fmt.Sprintf("decision: %s %.1f%% (confidence %.2f)", signal.SignalType, finalPct, signal.Confidence))
	o.cost.RecordAnalysis(req.Symbol, tier, true)
	return m, nil
}

func (o *Orchestrator) buildSignal(req MeetingRequest, m *Meeting, score1, score2 int, finalPct float64, holdingDays int, quantMsg *Message) *database.Signal {
	now := o.clock.Now()

	newsScore := 0
	if req.TriggerSource == SourceNews {
		newsScore = req.TriggerScore
	}
	action := o.risk.DetermineAction(finalPct, score1, score2, newsScore, string(req.TriggerSource))

	var analystStop, analystTarget int64
	if op := quantMsg.Quant; op != nil {
		analystStop, analystTarget = op.StopLoss, op.TargetPrice
	}

	suggestedAmount := int64(math.Round(float64(req.AvailableAmount) * finalPct / 100))
	var quantity int64
	if req.CurrentPrice > 0 {
		quantity = suggestedAmount / req.CurrentPrice
	}

	strength := newsScore * 10
	if req.TriggerSource == SourceQuant && req.QuantResult != nil {
		strength = req.QuantResult.CompositeScore
	}

	deadline := now.AddDate(0, 0, holdingDays)
	signal := &database.Signal{
		ID:                uuid.New().String(),
		Symbol:            req.Symbol,
		Company:           req.Company,
		SignalType:        action,
		Strength:          strength,
		Confidence:        float64(score1+score2) / 20,
		SourceAgent:       "council",
		Reason:            fmt.Sprintf("%s council (%s): %s", req.TriggerSource, m.Depth, req.Title),
		TargetPrice:       o.risk.ClampTarget(analystTarget, req.CurrentPrice),
		StopLoss:          o.risk.ClampStopLoss(analystStop, req.CurrentPrice),
		CurrentPrice:      req.CurrentPrice,
		Quantity:          quantity,
		Status:            database.StatusPending,
		HoldingDeadline:   &deadline,
		QuantScore:        score1,
		FundamentalScore:  score2,
		AllocationPercent: finalPct,
		SuggestedAmount:   suggestedAmount,
		CreatedAt:         now,
	}
	if req.QuantResult != nil {
		if details, err := json.Marshal(req.QuantResult.FiredTriggers()); err == nil {
			signal.TriggerDetails = details
		}
	}
	return signal
}

// StartSellMeeting runs the one-round LIGHT sell review for a held position.
func (o *Orchestrator) StartSellMeeting(ctx context.Context, req SellRequest) (*Meeting, error) {
	o.sem <- struct{}{}
	defer func() { <-o.sem }()

	m := o.newMeeting(req.Symbol, req.Company, "sell review: "+req.Reason, SourceSell)
	m.Depth = string(cost.Light)

	profitRate := 0.0
	if req.AvgBuyPrice > 0 {
		profitRate = float64(req.CurrentPrice-req.AvgBuyPrice) / float64(req.AvgBuyPrice) * 100
	}

	o.append(m, &Message{
		Round:     0,
		Role:      RoleModerator,
		Content:   fmt.Sprintf("Sell review for %s: %s (P/L %.2f%%)", req.Symbol, req.Reason, profitRate),
		Timestamp: o.clock.Now(),
	})

	areq := Request{
		Role:          RoleQuant,
		Round:         1,
		Symbol:        req.Symbol,
		Company:       req.Company,
		Title:         req.Reason,
		TriggerSource: SourceSell,
		Prior:         append([]Message(nil), m.Messages...),
		HoldingsQty:   req.HoldingsQty,
		AvgBuyPrice:   req.AvgBuyPrice,
		CurrentPrice:  req.CurrentPrice,
		ProfitRate:    profitRate,
		Instruction:   "Recommend how much of the position to sell (sell_percent) and score the remaining upside 1-10.",
	}
	msg := o.call(ctx, m, areq)

	score, _ := quantNumbers(msg)
	sellPct := 30.0
	if op := msg.Quant; op != nil && op.SellPercent > 0 {
		sellPct = op.SellPercent
	}
	// Hard policy overrides the analyst at the extremes.
	switch {
	case profitRate < -o.riskCfg.StopLossPct:
		sellPct = 100
	case profitRate > o.riskCfg.TakeProfitPct:
		sellPct = 50
	}
	if sellPct < 30 {
		sellPct = 30
	}
	if sellPct > 100 {
		sellPct = 100
	}

	action := database.SignalPartialSell
	if sellPct >= 100 {
		action = database.SignalSell
	}
	quantity := int64(math.Round(float64(req.HoldingsQty) * sellPct / 100))
	if quantity > req.HoldingsQty {
		quantity = req.HoldingsQty
	}

	now := o.clock.Now()
	signal := &database.Signal{
		ID:           uuid.New().String(),
		Symbol:       req.Symbol,
		Company:      req.Company,
		SignalType:   action,
		Strength:     (10 - score) * 10,
		Confidence:   float64(score+score) / 20,
		SourceAgent:  "council",
		Reason:       fmt.Sprintf("sell review (%s): %.0f%% of position", req.Reason, sellPct),
		CurrentPrice: req.CurrentPrice,
		Quantity:     quantity,
		Status:       database.StatusPending,
		QuantScore:   score,
		CreatedAt:    now,
	}
	m.Signal = signal
	m.ConsensusReached = true

	if err := o.router.Route(ctx, signal); err != nil {
		o.finish(ctx, m, "routing failed: "+err.Error())
		return m, fmt.Errorf("route sell signal: %w", err)
	}

	o.bus.PublishSignalCreated(signal.ID, signal.Symbol, string(signal.SignalType), signal.Confidence)
	o.finish(ctx, m, fmt.Sprintf("decision: %s %.0f%%", action, sellPct))
	o.cost.RecordAnalysis(req.Symbol, cost.Light, true)
	return m, nil
}

// StartRebalanceReview runs a LIGHT quant-only pass over a held position and
// returns refreshed stop/target prices. It never produces a signal.
func (o *Orchestrator) StartRebalanceReview(ctx context.Context, req RebalanceRequest) (*RebalanceResult, error) {
	o.sem <- struct{}{}
	defer func() { <-o.sem }()

	m := o.newMeeting(req.Symbol, req.Company, "rebalance review", SourceRebalance)
	m.Depth = string(cost.Light)

	profitRate := 0.0
	if req.AvgBuyPrice > 0 {
		profitRate = float64(req.CurrentPrice-req.AvgBuyPrice) / float64(req.AvgBuyPrice) * 100
	}

	areq := Request{
		Role:          RoleQuant,
		Round:         1,
		Symbol:        req.Symbol,
		Company:       req.Company,
		TriggerSource: SourceRebalance,
		HoldingsQty:   req.HoldingsQty,
		AvgBuyPrice:   req.AvgBuyPrice,
		CurrentPrice:  req.CurrentPrice,
		ProfitRate:    profitRate,
		Instruction: fmt.Sprintf(
			"Daily rebalance. Previous target %d, previous stop %d. Score the position 1-10 and propose refreshed target_price and stop_loss.",
			req.PrevTarget, req.PrevStop),
	}
	msg := o.call(ctx, m, areq)
	score, _ := quantNumbers(msg)

	var target, stop int64
	if op := msg.Quant; op != nil {
		target, stop = op.TargetPrice, op.StopLoss
	}
	if target == 0 {
		target = req.PrevTarget
	}
	if stop == 0 {
		stop = req.PrevStop
	}

	result := &RebalanceResult{
		Symbol:        req.Symbol,
		Score:         score,
		NewTarget:     o.risk.ClampTarget(target, req.CurrentPrice),
		NewStop:       o.risk.ClampStopLoss(stop, req.CurrentPrice),
		RecommendSell: score <= 3,
	}
	o.finish(ctx, m, fmt.Sprintf("rebalance: score %d, target %d, stop %d", score, result.NewTarget, result.NewStop))
	o.cost.RecordAnalysis(req.Symbol, cost.Light, true)
	return result, nil
}

func (o *Orchestrator) newMeeting(symbol, company, title string, source TriggerSource) *Meeting {
	return &Meeting{
		ID:            uuid.New().String(),
		Symbol:        symbol,
		Company:       company,
		Title:         title,
		TriggerSource: source,
		StartedAt:     o.clock.Now(),
	}
}

// call invokes the analyst with the 60 s deadline and appends either its
// message or the deterministic fallback. The meeting never aborts.
func (o *Orchestrator) call(ctx context.Context, m *Meeting, req Request) *Message {
	actx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	msg, err := o.analyst.Analyze(actx, req)
	if err != nil {
		o.logger.Warn().Err(err).Str("symbol", m.Symbol).Str("role", string(req.Role)).
			Int("round", req.Round).Msg("analyst failed, using fallback")
		m.FailureCount++
		msg = fallbackMessage(req, err)
	}
	o.append(m, msg)
	return msg
}

func (o *Orchestrator) append(m *Meeting, msg *Message) {
	msg.Index = len(m.Messages)
	if msg.Timestamp.IsZero() {
		msg.Timestamp = o.clock.Now()
	}
	m.Messages = append(m.Messages, *msg)
	o.bus.PublishMeetingUpdate(m.ID, m.Symbol, string(msg.Role), msg.Round)
}

// finish appends the closing message, stamps the end time and archives the
// transcript.
func (o *Orchestrator) finish(ctx context.Context, m *Meeting, summary string) {
	o.append(m, &Message{
		Round:     3,
		Role:      RoleModerator,
		Content:   "Meeting closed. " + summary,
		Timestamp: o.clock.Now(),
	})
	m.EndedAt = o.clock.Now()
	o.bus.PublishMeetingUpdate(m.ID, m.Symbol, "closed", 3)

	if o.archive != nil {
		transcript, err := json.Marshal(m.Messages)
		if err == nil {
			rec := &database.MeetingRecord{
				ID:            m.ID,
				Symbol:        m.Symbol,
				Company:       m.Company,
				TriggerSource: string(m.TriggerSource),
				Depth:         m.Depth,
				Transcript:    transcript,
				CreatedAt:     m.StartedAt,
			}
			if m.Signal != nil {
				rec.SignalID = &m.Signal.ID
			}
			if err := o.archive.Insert(ctx, rec); err != nil {
				o.logger.Warn().Err(err).Str("meeting", m.ID).Msg("transcript archive failed")
			}
		}
	}
}

func withRound(base Request, role Role, round int, prior []Message, instruction string) Request {
	req := base
	req.Role = role
	req.Round = round
	req.Prior = append([]Message(nil), prior...)
	req.Instruction = instruction
	return req
}

func quantNumbers(msg *Message) (score int, pct float64) {
	if op := msg.Quant; op != nil {
		return op.Score, op.SuggestedPercent
	}
	return 5, 0
}

func fundNumbers(msg *Message) (score int, pct float64) {
	if op := msg.Fundamental; op != nil {
		return op.Score, op.SuggestedPercent
	}
	return 5, 0
}

// renderQuantContext summarises the scan result for the analyst prompt.
func renderQuantContext(res *indicator.ScanResult) string {
	if res == nil || res.Snapshot == nil || res.Snapshot.Empty() {
		return ""
	}
	var b strings.Builder
	s := res.Snapshot
	fmt.Fprintf(&b, "Composite score %d/100 (%s), %d bullish / %d bearish triggers\n",
		res.CompositeScore, res.Action, res.BullishCount, res.BearishCount)
	fmt.Fprintf(&b, "Close %d, MA5 %.0f, MA20 %.0f, MA60 %.0f\n", s.Close, s.MA5, s.MA20, s.MA60)
	fmt.Fprintf(&b, "RSI %.0f, MFI %.0f, ADX %.0f, ATR %.1f%%, 52wk position %.0f%%\n",
		s.RSI14, s.MFI14, s.ADX14, s.ATRPct, s.Position52W)
	fired := res.FiredTriggers()
	if len(fired) > 0 {
		b.WriteString("Fired triggers:\n")
		for _, tr := range fired {
			fmt.Fprintf(&b, "- %s %s (%s/%s): %s\n", tr.ID, tr.Name, tr.Signal, tr.Strength, tr.Details)
		}
	}
	return b.String()
}
