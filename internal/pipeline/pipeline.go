// Package pipeline owns the signal lifecycle: routing at creation, human
// approval re-entry, 24 h expiry, crash-safe restore and the idempotent
// queue drainer.
package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"krx-trading-bot/config"
	"krx-trading-bot/internal/broker"
	"krx-trading-bot/internal/cache"
	"krx-trading-bot/internal/database"
	"krx-trading-bot/internal/events"
	"krx-trading-bot/internal/market"
	"krx-trading-bot/internal/risk"
)

// SignalStore is the persistence the pipeline needs. *database.SignalRepository
// implements it; tests use an in-memory store.
type SignalStore interface {
	Insert(ctx context.Context, s *database.Signal) error
	GetByID(ctx context.Context, id string) (*database.Signal, error)
	List(ctx context.Context, f database.SignalFilter) ([]*database.Signal, error)
	ListRestorable(ctx context.Context) ([]*database.Signal, error)
	UpdateStatus(ctx context.Context, id string, status database.SignalStatus, reason string) error
	UpdateWithLock(ctx context.Context, id string, fn func(*database.Signal) (bool, error)) (*database.Signal, error)
	ExpireOlderThan(ctx context.Context, cutoff time.Time) ([]*database.Signal, error)
}

const (
	signalTTL     = 24 * time.Hour
	drainLockTTL  = 5 * time.Minute
	drainLockName = "signal:"
)

// Pipeline walks signals through PENDING/APPROVED/QUEUED to a terminal state.
// The store is authoritative; the in-memory active set is a cache rebuilt on
// restart.
type Pipeline struct {
	trading  config.TradingConfig
	store    SignalStore
	broker   broker.Broker
	risk     *risk.Evaluator
	locks    *cache.Service
	calendar *market.Calendar
	clock    market.Clock
	bus      *events.EventBus
	logger   zerolog.Logger

	mu     sync.RWMutex
	active map[string]*database.Signal
}

func New(
	trading config.TradingConfig,
	store SignalStore,
	b broker.Broker,
	riskEval *risk.Evaluator,
	locks *cache.Service,
	calendar *market.Calendar,
	clock market.Clock,
	bus *events.EventBus,
	logger zerolog.Logger,
) *Pipeline {
	return &Pipeline{
		trading:  trading,
		store:    store,
		broker:   b,
		risk:     riskEval,
		locks:    locks,
		calendar: calendar,
		clock:    clock,
		bus:      bus,
		logger:   logger.With().Str("component", "pipeline").Logger(),
		active:   make(map[string]*database.Signal),
	}
}

// Route persists a fresh signal and applies the creation-time branching:
// HOLD signals are closed immediately, blocked BUYs are rejected, and the
// rest go to auto-execution, the session queue, or human approval.
func (p *Pipeline) Route(ctx context.Context, s *database.Signal) error {
	if s.CreatedAt.IsZero() {
		s.CreatedAt = p.clock.Now()
	}

	if s.SignalType == database.SignalHold {
		s.Status = database.StatusRejected
		s.Reason = appendReason(s.Reason, "no trade: action HOLD")
		if err := p.store.Insert(ctx, s); err != nil {
			return err
		}
		p.publish(events.EventSignalRejected, s, "hold")
		return nil
	}

	if s.SignalType == database.SignalBuy {
		if gate := p.risk.CheckBuyGates(ctx, p.broker, s.Symbol, s.SuggestedAmount); !gate.Allowed {
			s.Status = database.StatusRejected
			s.Reason = appendReason(s.Reason, "gate "+gate.Gate+": "+gate.Reason)
			if err := p.store.Insert(ctx, s); err != nil {
				return err
			}
			p.publish(events.EventSignalRejected, s, gate.Reason)
			return nil
		}
	}

	if !p.trading.AutoExecute || s.Confidence < p.trading.MinConfidence {
		s.Status = database.StatusPending
		if err := p.store.Insert(ctx, s); err != nil {
			return err
		}
		p.track(s)
		return nil
	}

	if !p.canExecuteNow() {
		s.Status = database.StatusQueued
		if err := p.store.Insert(ctx, s); err != nil {
			return err
		}
		p.track(s)
		p.logger.Info().Str("signal", s.ID).Str("symbol", s.Symbol).Msg("queued until session open")
		return nil
	}

	// Submit immediately; any failure degrades to QUEUED for the drainer.
	s.Status = database.StatusQueued
	if err := p.store.Insert(ctx, s); err != nil {
		return err
	}
	result, err := p.submit(ctx, s)
	if err != nil || result.Status == broker.StatusError {
		p.track(s)
		p.logger.Warn().Err(err).Str("signal", s.ID).Msg("immediate submit failed, left queued")
		return nil
	}
	return p.settleSubmission(ctx, s, result, database.StatusAutoExecuted)
}

// Approve re-enters the routing branch for a PENDING signal.
func (p *Pipeline) Approve(ctx context.Context, id string) error {
	_, err := p.store.UpdateWithLock(ctx, id, func(s *database.Signal) (bool, error) {
		if s.Status != database.StatusPending {
			return false, fmt.Errorf("signal %s is %s, not PENDING", id, s.Status)
		}
		if !p.canExecuteNow() {
			s.Status = database.StatusQueued
			s.Reason = appendReason(s.Reason, "approved, queued for session open")
			return true, nil
		}
		s.Status = database.StatusApproved
		return true, nil
	})
	if err != nil {
		return err
	}

	s, err := p.store.GetByID(ctx, id)
	if err != nil {
		return err
	}
	p.track(s)
	p.publish(events.EventSignalApproved, s, "")
	if s.Status == database.StatusApproved {
		return p.executeLocked(ctx, s.ID, database.StatusExecuted)
	}
	return nil
}

// Reject terminates a PENDING signal.
func (p *Pipeline) Reject(ctx context.Context, id, reason string) error {
	if err := p.store.UpdateStatus(ctx, id, database.StatusRejected, reason); err != nil {
		return err
	}
	p.untrack(id)
	s, err := p.store.GetByID(ctx, id)
	if err == nil {
		p.publish(events.EventSignalRejected, s, reason)
	}
	return nil
}

// ExpireStale moves signals older than 24 h with no action to EXPIRED.
func (p *Pipeline) ExpireStale(ctx context.Context) (int, error) {
	cutoff := p.clock.Now().Add(-signalTTL)
	expired, err := p.store.ExpireOlderThan(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	for _, s := range expired {
		p.untrack(s.ID)
		p.publish(events.EventSignalExpired, s, "24h without action")
	}
	return len(expired), nil
}

// Restore rebuilds the in-memory active set after a restart.
func (p *Pipeline) Restore(ctx context.Context) (int, error) {
	signals, err := p.store.ListRestorable(ctx)
	if err != nil {
		return 0, err
	}
	restored := 0
	for _, s := range signals {
		if s.Quantity <= 0 {
			continue
		}
		switch s.SignalType {
		case database.SignalBuy, database.SignalSell, database.SignalPartialSell:
			p.track(s)
			restored++
		}
	}
	p.logger.Info().Int("count", restored).Msg("signals restored from store")
	return restored, nil
}

// Active returns the tracked non-terminal signals.
func (p *Pipeline) Active() []*database.Signal {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*database.Signal, 0, len(p.active))
	for _, s := range p.active {
		out = append(out, s)
	}
	return out
}

// DrainQueue submits QUEUED signals when the session allows trading.
// Safe to run concurrently: the per-signal lock, the FOR UPDATE re-read and
// the is_executed flag give at-most-once submission.
func (p *Pipeline) DrainQueue(ctx context.Context) error {
	if !p.canExecuteNow() {
		return nil
	}
	queued, err := p.store.List(ctx, database.SignalFilter{
		Statuses: []database.SignalStatus{database.StatusQueued},
	})
	if err != nil {
		return fmt.Errorf("list queued: %w", err)
	}

	for _, s := range queued {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := p.executeLocked(ctx, s.ID, database.StatusAutoExecuted); err != nil {
			p.logger.Warn().Err(err).Str("signal", s.ID).Msg("drain attempt failed")
		}
	}
	return nil
}

// executeLocked performs the locked read-regate-submit sequence for one
// signal and finishes it in the given executed status.
func (p *Pipeline) executeLocked(ctx context.Context, id string, executedStatus database.SignalStatus) error {
	got, err := p.locks.AcquireLock(ctx, drainLockName+id, drainLockTTL)
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !got {
		return nil // another worker owns it
	}
	defer p.locks.ReleaseLock(ctx, drainLockName+id)

	var submitted *database.Signal
	_, err = p.store.UpdateWithLock(ctx, id, func(s *database.Signal) (bool, error) {
		if s.IsExecuted || s.Status.Terminal() {
			return false, nil
		}
		if s.Status != database.StatusQueued && s.Status != database.StatusApproved {
			return false, nil
		}

		if s.SignalType == database.SignalBuy {
			gate := p.risk.CheckBuyGates(ctx, p.broker, s.Symbol, s.SuggestedAmount)
			if !gate.Allowed {
				if gate.Gate == risk.GateCashReserve {
					s.Status = database.StatusRejected
					s.Reason = appendReason(s.Reason, "insufficient_cash")
					return true, nil
				}
				// Other blocks (incl. broker errors) leave the signal queued.
				return false, nil
			}
		}

		result, err := p.submit(ctx, s)
		if err != nil || result.Status == broker.StatusError {
			return false, nil // transient, retry next drain
		}
		if result.Status == broker.StatusRejected {
			s.Status = database.StatusRejected
			s.Reason = appendReason(s.Reason, "broker rejected: "+result.Message)
			return true, nil
		}

		now := p.clock.Now()
		s.Status = executedStatus
		s.IsExecuted = true
		s.ExecutedAt = &now
		s.OrderNo = result.OrderNo
		submitted = s
		return true, nil
	})
	if err != nil {
		return err
	}

	final, err := p.store.GetByID(ctx, id)
	if err != nil {
		return err
	}
	switch {
	case submitted != nil:
		p.untrack(id)
		p.publish(events.EventSignalExecuted, final, "")
		p.logger.Info().Str("signal", id).Str("symbol", final.Symbol).
			Str("order_no", final.OrderNo).Msg("signal executed")
	case final.Status == database.StatusRejected:
		p.untrack(id)
		p.publish(events.EventSignalRejected, final, final.Reason)
	}
	return nil
}

// settleSubmission finishes a signal that was submitted outside the locked
// path (creation-time immediate execution).
func (p *Pipeline) settleSubmission(ctx context.Context, s *database.Signal, result *broker.OrderResult, executedStatus database.SignalStatus) error {
	if result.Status == broker.StatusRejected {
		if err := p.store.UpdateStatus(ctx, s.ID, database.StatusRejected, "broker rejected: "+result.Message); err != nil {
			return err
		}
		s.Status = database.StatusRejected
		p.publish(events.EventSignalRejected, s, result.Message)
		return nil
	}

	_, err := p.store.UpdateWithLock(ctx, s.ID, func(row *database.Signal) (bool, error) {
		now := p.clock.Now()
		row.Status = executedStatus
		row.IsExecuted = true
		row.ExecutedAt = &now
		row.OrderNo = result.OrderNo
		return true, nil
	})
	if err != nil {
		return err
	}
	s.Status = executedStatus
	s.OrderNo = result.OrderNo
	p.publish(events.EventSignalExecuted, s, "")
	p.logger.Info().Str("signal", s.ID).Str("symbol", s.Symbol).
		Str("order_no", result.OrderNo).Msg("signal executed at creation")
	return nil
}

func (p *Pipeline) submit(ctx context.Context, s *database.Signal) (*broker.OrderResult, error) {
	side := broker.SideBuy
	if s.SignalType == database.SignalSell || s.SignalType == database.SignalPartialSell {
		side = broker.SideSell
	}
	return p.broker.PlaceOrder(ctx, s.Symbol, side, s.Quantity, 0, broker.OrderMarket)
}

func (p *Pipeline) canExecuteNow() bool {
	if !p.trading.TradingEnabled {
		return false
	}
	if !p.trading.RespectTradingHours {
		return true
	}
	ok, _ := p.calendar.CanExecute(p.clock.Now())
	return ok
}

func (p *Pipeline) track(s *database.Signal) {
	p.mu.Lock()
	p.active[s.ID] = s
	p.mu.Unlock()
}

func (p *Pipeline) untrack(id string) {
	p.mu.Lock()
	delete(p.active, id)
	p.mu.Unlock()
}

func (p *Pipeline) publish(t events.EventType, s *database.Signal, reason string) {
	p.bus.PublishSignalStatus(t, s.ID, s.Symbol, string(s.Status), reason)
}

func appendReason(base, extra string) string {
	if base == "" {
		return extra
	}
	combined := base + " | " + extra
	if len(combined) > 1000 {
		combined = combined[:1000]
	}
	return combined
}
