// Package monitor runs the background cadence: price sweeps over holdings,
// queue draining, in-session quant scans, and the end-of-day cron jobs.
package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"krx-trading-bot/config"
	"krx-trading-bot/internal/broker"
	"krx-trading-bot/internal/cache"
	"krx-trading-bot/internal/council"
	"krx-trading-bot/internal/database"
	"krx-trading-bot/internal/events"
	"krx-trading-bot/internal/indicator"
	"krx-trading-bot/internal/market"
	"krx-trading-bot/internal/scanner"
)

const sellCooldownPrefix = "sell:"

// SignalStore is the slice of the repository the monitor reads and updates.
type SignalStore interface {
	ActiveForSymbol(ctx context.Context, symbol string) (*database.Signal, error)
	PastHoldingDeadline(ctx context.Context, today time.Time) ([]*database.Signal, error)
	UpdateWithLock(ctx context.Context, id string, fn func(*database.Signal) (bool, error)) (*database.Signal, error)
}

// Pipeline is what the drain and expiry ticks call.
type Pipeline interface {
	DrainQueue(ctx context.Context) error
	ExpireStale(ctx context.Context) (int, error)
}

// Council is the part of the orchestrator the monitor convenes.
type Council interface {
	StartSellMeeting(ctx context.Context, req council.SellRequest) (*council.Meeting, error)
	StartRebalanceReview(ctx context.Context, req council.RebalanceRequest) (*council.RebalanceResult, error)
}

// QuantScanner runs the periodic sweep and holds the latest analyses.
type QuantScanner interface {
	Scan(ctx context.Context) (*scanner.Summary, error)
	Latest(symbol string) (*indicator.ScanResult, bool)
	SetUniverse(stocks []scanner.Stock)
}

// CostLedger is the daily reset hook.
type CostLedger interface {
	ResetDaily()
}

// Monitor owns the tickers and the cron schedule. Everything it does is also
// callable directly, which is how the tests drive it.
type Monitor struct {
	cfg      config.MonitorConfig
	risk     config.RiskConfig
	scanCfg  config.ScannerConfig
	broker   broker.Broker
	store    SignalStore
	pipeline Pipeline
	council  Council
	scanner  QuantScanner
	cost     CostLedger
	cache    *cache.Service
	calendar *market.Calendar
	clock    market.Clock
	bus      *events.EventBus
	logger   zerolog.Logger

	cron   *cron.Cron
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(
	cfg config.MonitorConfig,
	riskCfg config.RiskConfig,
	scanCfg config.ScannerConfig,
	b broker.Broker,
	store SignalStore,
	pipe Pipeline,
	c Council,
	sc QuantScanner,
	cost CostLedger,
	cacheSvc *cache.Service,
	calendar *market.Calendar,
	clock market.Clock,
	bus *events.EventBus,
	logger zerolog.Logger,
) *Monitor {
	return &Monitor{
		cfg:      cfg,
		risk:     riskCfg,
		scanCfg:  scanCfg,
		broker:   b,
		store:    store,
		pipeline: pipe,
		council:  c,
		scanner:  sc,
		cost:     cost,
		cache:    cacheSvc,
		calendar: calendar,
		clock:    clock,
		bus:      bus,
		logger:   logger.With().Str("component", "monitor").Logger(),
	}
}

// Start launches the tickers and registers the cron jobs. Idempotent stop via
// Stop.
func (m *Monitor) Start(parent context.Context) error {
	ctx, cancel := context.WithCancel(parent)
	m.cancel = cancel

	m.cron = cron.New(cron.WithLocation(m.calendar.Location()))
	if _, err := m.cron.AddFunc(m.cfg.EODCronSpec, func() { m.runEOD(ctx) }); err != nil {
		cancel()
		return fmt.Errorf("eod cron spec: %w", err)
	}
	if _, err := m.cron.AddFunc(m.cfg.UniverseCronSpec, func() { m.refreshUniverse(ctx) }); err != nil {
		cancel()
		return fmt.Errorf("universe cron spec: %w", err)
	}
	m.cron.Start()

	m.tick(ctx, time.Duration(m.cfg.PriceSweepIntervalSec)*time.Second, func() {
		if err := m.SweepPrices(ctx); err != nil {
			m.logger.Warn().Err(err).Msg("price sweep failed")
		}
	})
	m.tick(ctx, time.Duration(m.cfg.DrainIntervalSec)*time.Second, func() {
		if err := m.pipeline.DrainQueue(ctx); err != nil {
			m.logger.Warn().Err(err).Msg("queue drain failed")
		}
		if _, err := m.pipeline.ExpireStale(ctx); err != nil {
			m.logger.Warn().Err(err).Msg("expiry sweep failed")
		}
	})
	if m.scanCfg.Enabled {
		m.tick(ctx, time.Duration(m.scanCfg.ScanIntervalSec)*time.Second, func() {
			if ok, _ := m.calendar.CanExecute(m.clock.Now()); !ok {
				return
			}
			if _, err := m.scanner.Scan(ctx); err != nil {
				m.logger.Warn().Err(err).Msg("quant scan failed")
			}
		})
	}

	m.logger.Info().Msg("monitor started")
	return nil
}

// Stop halts the cron schedule and waits for tickers to drain.
func (m *Monitor) Stop() {
	if m.cron != nil {
		<-m.cron.Stop().Done()
	}
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
	m.logger.Info().Msg("monitor stopped")
}

func (m *Monitor) tick(ctx context.Context, interval time.Duration, fn func()) {
	if interval <= 0 {
		return
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				fn()
			}
		}
	}()
}

// SweepPrices walks current holdings and convenes a sell review when a
// position crosses its exit levels. Precedence per position: the active
// signal's stop, then its target, then the configured percentage bands, then
// a technical breakdown from the latest scan.
func (m *Monitor) SweepPrices(ctx context.Context) error {
	if ok, _ := m.calendar.CanExecute(m.clock.Now()); !ok {
		return nil
	}
	holdings, err := m.broker.GetHoldings(ctx)
	if err != nil {
		return fmt.Errorf("holdings: %w", err)
	}

	for _, h := range holdings {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		trigger, reason := m.evaluateExit(ctx, h)
		if trigger == "" {
			continue
		}

		cooling, err := m.cache.InCooldown(ctx, sellCooldownPrefix+h.Symbol)
		if err != nil || cooling {
			continue
		}
		if err := m.cache.MarkCooldown(ctx, sellCooldownPrefix+h.Symbol,
			time.Duration(m.cfg.SellCooldownSec)*time.Second); err != nil {
			m.logger.Warn().Err(err).Str("symbol", h.Symbol).Msg("sell cooldown mark failed")
		}

		m.bus.PublishPriceTrigger(h.Symbol, trigger, h.CurrentPrice)
		m.logger.Info().Str("symbol", h.Symbol).Str("trigger", trigger).
			Int64("price", h.CurrentPrice).Msg("exit trigger fired")

		if _, err := m.council.StartSellMeeting(ctx, council.SellRequest{
			Symbol:       h.Symbol,
			Company:      h.Company,
			Reason:       reason,
			HoldingsQty:  h.Quantity,
			AvgBuyPrice:  h.AvgBuyPrice,
			CurrentPrice: h.CurrentPrice,
		}); err != nil {
			m.logger.Warn().Err(err).Str("symbol", h.Symbol).Msg("sell meeting failed")
		}
	}
	return nil
}

// evaluateExit returns the first matching trigger name and a human reason, or
// "" when the position is fine.
func (m *Monitor) evaluateExit(ctx context.Context, h broker.Holding) (string, string) {
	sig, err := m.store.ActiveForSymbol(ctx, h.Symbol)
	if err != nil && err != database.ErrSignalNotFound {
		m.logger.Warn().Err(err).Str("symbol", h.Symbol).Msg("active signal lookup failed")
	}

	if sig != nil {
		if sig.StopLoss > 0 && h.CurrentPrice <= sig.StopLoss {
			return "stop_loss", fmt.Sprintf("price %d broke signal stop %d", h.CurrentPrice, sig.StopLoss)
		}
		if sig.TargetPrice > 0 && h.CurrentPrice >= sig.TargetPrice {
			return "take_profit", fmt.Sprintf("price %d reached signal target %d", h.CurrentPrice, sig.TargetPrice)
		}
	}

	if h.ProfitRate <= -m.risk.StopLossPct {
		return "stop_loss_pct", fmt.Sprintf("position down %.2f%%, beyond the %.0f%% stop band", h.ProfitRate, m.risk.StopLossPct)
	}
	if h.ProfitRate >= m.risk.TakeProfitPct {
		return "take_profit_pct", fmt.Sprintf("position up %.2f%%, past the %.0f%% profit band", h.ProfitRate, m.risk.TakeProfitPct)
	}

	if r, ok := m.scanner.Latest(h.Symbol); ok && !r.Snapshot.Empty() {
		if sub := r.TechnicalSubscore(); sub <= 3 {
			return "technical_breakdown", fmt.Sprintf("technical subscore fell to %d", sub)
		}
	}
	return "", ""
}

// runEOD is the after-close batch: expire stale signals, sweep holding
// deadlines, rebalance held positions, reset the daily cost ledger.
func (m *Monitor) runEOD(ctx context.Context) {
	m.logger.Info().Msg("end-of-day jobs starting")

	if n, err := m.pipeline.ExpireStale(ctx); err != nil {
		m.logger.Warn().Err(err).Msg("expiry sweep failed")
	} else if n > 0 {
		m.logger.Info().Int("expired", n).Msg("stale signals expired")
	}

	if err := m.SweepDeadlines(ctx); err != nil {
		m.logger.Warn().Err(err).Msg("deadline sweep failed")
	}
	if err := m.Rebalance(ctx); err != nil {
		m.logger.Warn().Err(err).Msg("rebalance failed")
	}

	m.cost.ResetDaily()
	m.logger.Info().Msg("end-of-day jobs finished")
}

// SweepDeadlines convenes a sell review for every executed BUY whose holding
// deadline has passed. Deadline reviews bypass the sell cooldown: a horizon
// that ran out is not a repeated price print.
func (m *Monitor) SweepDeadlines(ctx context.Context) error {
	today := m.clock.Now()
	due, err := m.store.PastHoldingDeadline(ctx, today)
	if err != nil {
		return fmt.Errorf("deadline query: %w", err)
	}
	if len(due) == 0 {
		return nil
	}

	holdings, err := m.broker.GetHoldings(ctx)
	if err != nil {
		return fmt.Errorf("holdings: %w", err)
	}
	held := make(map[string]broker.Holding, len(holdings))
	for _, h := range holdings {
		held[h.Symbol] = h
	}

	for _, sig := range due {
		h, ok := held[sig.Symbol]
		if !ok || h.Quantity <= 0 {
			continue // already exited elsewhere
		}
		if sig.TargetPrice > 0 && h.CurrentPrice >= sig.TargetPrice {
			// Target reached inside the horizon; the take-profit path owns
			// this position, not the deadline review.
			continue
		}
		m.cache.MarkCooldown(ctx, sellCooldownPrefix+sig.Symbol,
			time.Duration(m.cfg.SellCooldownSec)*time.Second)
		if _, err := m.council.StartSellMeeting(ctx, council.SellRequest{
			Symbol:       sig.Symbol,
			Company:      sig.Company,
			Reason:       fmt.Sprintf("holding deadline %s expired", sig.HoldingDeadline.Format("2006-01-02")),
			HoldingsQty:  h.Quantity,
			AvgBuyPrice:  h.AvgBuyPrice,
			CurrentPrice: h.CurrentPrice,
		}); err != nil {
			m.logger.Warn().Err(err).Str("symbol", sig.Symbol).Msg("deadline sell meeting failed")
		}
	}
	return nil
}

// Rebalance reviews every held position, refreshes the active signal's
// target and stop from the review, and escalates to a sell meeting when the
// review recommends exiting.
func (m *Monitor) Rebalance(ctx context.Context) error {
	holdings, err := m.broker.GetHoldings(ctx)
	if err != nil {
		return fmt.Errorf("holdings: %w", err)
	}

	for _, h := range holdings {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		sig, err := m.store.ActiveForSymbol(ctx, h.Symbol)
		if err != nil && err != database.ErrSignalNotFound {
			m.logger.Warn().Err(err).Str("symbol", h.Symbol).Msg("active signal lookup failed")
			continue
		}

		var prevTarget, prevStop int64
		if sig != nil {
			prevTarget, prevStop = sig.TargetPrice, sig.StopLoss
		}

		res, err := m.council.StartRebalanceReview(ctx, council.RebalanceRequest{
			Symbol:       h.Symbol,
			Company:      h.Company,
			HoldingsQty:  h.Quantity,
			AvgBuyPrice:  h.AvgBuyPrice,
			CurrentPrice: h.CurrentPrice,
			PrevTarget:   prevTarget,
			PrevStop:     prevStop,
		})
		if err != nil {
			m.logger.Warn().Err(err).Str("symbol", h.Symbol).Msg("rebalance review failed")
			continue
		}

		if sig != nil && (res.NewTarget != prevTarget || res.NewStop != prevStop) {
			_, err := m.store.UpdateWithLock(ctx, sig.ID, func(s *database.Signal) (bool, error) {
				s.TargetPrice = res.NewTarget
				s.StopLoss = res.NewStop
				return true, nil
			})
			if err != nil {
				m.logger.Warn().Err(err).Str("signal", sig.ID).Msg("target/stop update failed")
			} else {
				m.logger.Info().Str("symbol", h.Symbol).
					Int64("target", res.NewTarget).Int64("stop", res.NewStop).
					Msg("exit levels rebalanced")
			}
		}

		if res.RecommendSell {
			m.cache.MarkCooldown(ctx, sellCooldownPrefix+h.Symbol,
				time.Duration(m.cfg.SellCooldownSec)*time.Second)
			if _, err := m.council.StartSellMeeting(ctx, council.SellRequest{
				Symbol:       h.Symbol,
				Company:      h.Company,
				Reason:       fmt.Sprintf("rebalance review score %d recommends exit", res.Score),
				HoldingsQty:  h.Quantity,
				AvgBuyPrice:  h.AvgBuyPrice,
				CurrentPrice: h.CurrentPrice,
			}); err != nil {
				m.logger.Warn().Err(err).Str("symbol", h.Symbol).Msg("rebalance sell meeting failed")
			}
		}
	}
	return nil
}

// refreshUniverse pulls a fresh universe when a provider is wired; until
// then the scanner keeps its current list.
func (m *Monitor) refreshUniverse(ctx context.Context) {
	stocks, err := m.loadUniverse(ctx)
	if err != nil {
		m.logger.Warn().Err(err).Msg("universe refresh failed")
		return
	}
	if len(stocks) > 0 {
		m.scanner.SetUniverse(stocks)
	}
}

func (m *Monitor) loadUniverse(ctx context.Context) ([]scanner.Stock, error) {
	// The broker API exposes no ranking endpoint; fall back to the static
	// large-cap list so a stale custom universe heals overnight.
	return scanner.DefaultUniverse(), nil
}
