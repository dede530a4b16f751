package monitor

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

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

type stubStore struct {
	mu      sync.Mutex
	active  map[string]*database.Signal
	overdue []*database.Signal
}

func newStubStore() *stubStore {
	return &stubStore{active: make(map[string]*database.Signal)}
}

func (s *stubStore) ActiveForSymbol(ctx context.Context, symbol string) (*database.Signal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sig, ok := s.active[symbol]
	if !ok {
		return nil, database.ErrSignalNotFound
	}
	c := *sig
	return &c, nil
}

func (s *stubStore) PastHoldingDeadline(ctx context.Context, today time.Time) ([]*database.Signal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.overdue, nil
}

func (s *stubStore) UpdateWithLock(ctx context.Context, id string, fn func(*database.Signal) (bool, error)) (*database.Signal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sig := range s.active {
		if sig.ID == id {
			write, err := fn(sig)
			if err != nil || !write {
				return sig, err
			}
			return sig, nil
		}
	}
	return nil, database.ErrSignalNotFound
}

type stubPipeline struct {
	drains  int
	expires int
}

func (p *stubPipeline) DrainQueue(ctx context.Context) error { p.drains++; return nil }
func (p *stubPipeline) ExpireStale(ctx context.Context) (int, error) {
	p.expires++
	return 0, nil
}

type stubCouncil struct {
	mu         sync.Mutex
	sells      []council.SellRequest
	rebalances []council.RebalanceRequest
	review     *council.RebalanceResult
}

func (c *stubCouncil) StartSellMeeting(ctx context.Context, req council.SellRequest) (*council.Meeting, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sells = append(c.sells, req)
	return &council.Meeting{Symbol: req.Symbol}, nil
}

func (c *stubCouncil) StartRebalanceReview(ctx context.Context, req council.RebalanceRequest) (*council.RebalanceResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rebalances = append(c.rebalances, req)
	if c.review != nil {
		r := *c.review
		r.Symbol = req.Symbol
		return &r, nil
	}
	return &council.RebalanceResult{Symbol: req.Symbol, Score: 6, NewTarget: req.PrevTarget, NewStop: req.PrevStop}, nil
}

func (c *stubCouncil) sellCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sells)
}

type stubScanner struct {
	mu     sync.Mutex
	latest map[string]*indicator.ScanResult
	scans  int
}

func (s *stubScanner) Scan(ctx context.Context) (*scanner.Summary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scans++
	return &scanner.Summary{}, nil
}

func (s *stubScanner) Latest(symbol string) (*indicator.ScanResult, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.latest[symbol]
	return r, ok
}

func (s *stubScanner) SetUniverse(stocks []scanner.Stock) {}

type stubLedger struct{ resets int }

func (l *stubLedger) ResetDaily() { l.resets++ }

type holdingsBroker struct {
	broker.Broker
	holdings []broker.Holding
}

func (b *holdingsBroker) GetHoldings(ctx context.Context) ([]broker.Holding, error) {
	return b.holdings, nil
}

type fixture struct {
	mon     *Monitor
	store   *stubStore
	council *stubCouncil
	scanner *stubScanner
	pipe    *stubPipeline
	ledger  *stubLedger
	broker  *holdingsBroker
	clock   *market.FixedClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cal, err := market.NewCalendar(config.SessionConfig{
		Timezone: "Asia/Seoul",
		Regular:  config.Window{Open: "09:00", Close: "15:30"},
		Pre:      config.Window{Open: "08:30", Close: "09:00"},
		PostA:    config.Window{Open: "15:40", Close: "16:00"},
		PostB:    config.Window{Open: "18:00", Close: "18:30"},
	})
	if err != nil {
		t.Fatalf("calendar: %v", err)
	}
	loc, _ := time.LoadLocation("Asia/Seoul")
	clock := &market.FixedClock{T: time.Date(2026, 8, 24, 10, 0, 0, 0, loc)} // Monday, regular session

	f := &fixture{
		store:   newStubStore(),
		council: &stubCouncil{},
		scanner: &stubScanner{latest: make(map[string]*indicator.ScanResult)},
		pipe:    &stubPipeline{},
		ledger:  &stubLedger{},
		broker:  &holdingsBroker{},
		clock:   clock,
	}
	bus := events.NewEventBus()
	t.Cleanup(bus.Close)

	f.mon = New(
		config.MonitorConfig{SellCooldownSec: 1800},
		config.RiskConfig{StopLossPct: 7, TakeProfitPct: 12},
		config.ScannerConfig{},
		f.broker, f.store, f.pipe, f.council, f.scanner, f.ledger,
		cache.New(config.RedisConfig{Enabled: false}),
		cal, clock, bus, zerolog.Nop(),
	)
	return f
}

func holding(symbol string, avg, current int64) broker.Holding {
	return broker.Holding{
		Symbol:       symbol,
		Company:      "Test Co",
		Quantity:     10,
		AvgBuyPrice:  avg,
		CurrentPrice: current,
		ProfitRate:   float64(current-avg) / float64(avg) * 100,
	}
}

func TestSweepPricesSignalStopBreach(t *testing.T) {
	f := newFixture(t)
	f.broker.holdings = []broker.Holding{holding("005930", 70_000, 66_000)}
	f.store.active["005930"] = &database.Signal{
		ID: "sig-1", Symbol: "005930", StopLoss: 66_500, TargetPrice: 80_000,
	}

	if err := f.mon.SweepPrices(context.Background()); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if f.council.sellCount() != 1 {
		t.Fatalf("sell meetings = %d, want 1", f.council.sellCount())
	}
	if !strings.Contains(f.council.sells[0].Reason, "stop") {
		t.Errorf("reason %q should mention the stop", f.council.sells[0].Reason)
	}

	// Cooldown: the same breach does not convene twice.
	if err := f.mon.SweepPrices(context.Background()); err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	if f.council.sellCount() != 1 {
		t.Errorf("sell meetings after cooldown = %d, want still 1", f.council.sellCount())
	}
}

func TestSweepPricesSignalLevelsBeatPctBands(t *testing.T) {
	f := newFixture(t)
	// +20% profit: both the signal target and the pct band match; the signal
	// target must win.
	f.broker.holdings = []broker.Holding{holding("005930", 70_000, 84_000)}
	f.store.active["005930"] = &database.Signal{
		ID: "sig-1", Symbol: "005930", StopLoss: 65_000, TargetPrice: 80_000,
	}

	if err := f.mon.SweepPrices(context.Background()); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if f.council.sellCount() != 1 {
		t.Fatalf("sell meetings = %d, want 1", f.council.sellCount())
	}
	if !strings.Contains(f.council.sells[0].Reason, "signal target") {
		t.Errorf("reason %q, want the signal-target trigger", f.council.sells[0].Reason)
	}
}

func TestSweepPricesPctFallback(t *testing.T) {
	f := newFixture(t)
	// No active signal: -8% crosses the 7% stop band.
	f.broker.holdings = []broker.Holding{holding("005930", 70_000, 64_400)}

	if err := f.mon.SweepPrices(context.Background()); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if f.council.sellCount() != 1 {
		t.Fatalf("sell meetings = %d, want 1", f.council.sellCount())
	}
	if !strings.Contains(f.council.sells[0].Reason, "stop band") {
		t.Errorf("reason %q, want the pct stop band", f.council.sells[0].Reason)
	}
}

func TestSweepPricesTechnicalBreakdown(t *testing.T) {
	f := newFixture(t)
	// Flat P/L, no signal, but the last scan rates the symbol 2/10.
	f.broker.holdings = []broker.Holding{holding("005930", 70_000, 70_500)}
	f.scanner.latest["005930"] = &indicator.ScanResult{
		Symbol:         "005930",
		CompositeScore: 20,
		Snapshot:       &indicator.Snapshot{Symbol: "005930", BarCount: 300},
	}

	if err := f.mon.SweepPrices(context.Background()); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if f.council.sellCount() != 1 {
		t.Fatalf("sell meetings = %d, want 1", f.council.sellCount())
	}
	if !strings.Contains(f.council.sells[0].Reason, "subscore") {
		t.Errorf("reason %q, want technical subscore", f.council.sells[0].Reason)
	}
}

func TestSweepPricesHealthyHoldingUntouched(t *testing.T) {
	f := newFixture(t)
	f.broker.holdings = []broker.Holding{holding("005930", 70_000, 72_000)}
	f.scanner.latest["005930"] = &indicator.ScanResult{
		Symbol:         "005930",
		CompositeScore: 60,
		Snapshot:       &indicator.Snapshot{Symbol: "005930", BarCount: 300},
	}

	if err := f.mon.SweepPrices(context.Background()); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if f.council.sellCount() != 0 {
		t.Errorf("healthy holding convened %d meetings", f.council.sellCount())
	}
}

func TestSweepPricesSkipsWhenClosed(t *testing.T) {
	f := newFixture(t)
	f.clock.T = f.clock.T.Add(12 * time.Hour) // 22:00 KST
	f.broker.holdings = []broker.Holding{holding("005930", 70_000, 60_000)}

	if err := f.mon.SweepPrices(context.Background()); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if f.council.sellCount() != 0 {
		t.Error("swept while market closed")
	}
}

func TestSweepDeadlines(t *testing.T) {
	f := newFixture(t)
	deadline := f.clock.T.AddDate(0, 0, -1)
	f.store.overdue = []*database.Signal{
		{ID: "sig-1", Symbol: "005930", Company: "Samsung Electronics", HoldingDeadline: &deadline},
		{ID: "sig-2", Symbol: "000660", Company: "SK hynix", HoldingDeadline: &deadline},
	}
	// Only the first is still held.
	f.broker.holdings = []broker.Holding{holding("005930", 70_000, 71_000)}

	if err := f.mon.SweepDeadlines(context.Background()); err != nil {
		t.Fatalf("deadlines: %v", err)
	}
	if f.council.sellCount() != 1 {
		t.Fatalf("sell meetings = %d, want 1", f.council.sellCount())
	}
	if f.council.sells[0].Symbol != "005930" {
		t.Errorf("convened %s, want 005930", f.council.sells[0].Symbol)
	}
	if !strings.Contains(f.council.sells[0].Reason, "deadline") {
		t.Errorf("reason %q should mention the deadline", f.council.sells[0].Reason)
	}
}

func TestSweepDeadlinesSkipsTargetReached(t *testing.T) {
	f := newFixture(t)
	deadline := f.clock.T.AddDate(0, 0, -1)
	f.store.overdue = []*database.Signal{
		{ID: "sig-1", Symbol: "005930", TargetPrice: 75_000, HoldingDeadline: &deadline},
		{ID: "sig-2", Symbol: "000660", TargetPrice: 200_000, HoldingDeadline: &deadline},
	}
	f.broker.holdings = []broker.Holding{
		holding("005930", 70_000, 80_000),  // past target, take-profit path owns it
		holding("000660", 180_000, 185_000), // target not reached
	}

	if err := f.mon.SweepDeadlines(context.Background()); err != nil {
		t.Fatalf("deadlines: %v", err)
	}
	if f.council.sellCount() != 1 {
		t.Fatalf("sell meetings = %d, want 1", f.council.sellCount())
	}
	if f.council.sells[0].Symbol != "000660" {
		t.Errorf("convened %s, want 000660", f.council.sells[0].Symbol)
	}
}

func TestSweepDeadlinesBypassesCooldown(t *testing.T) {
	f := newFixture(t)
	deadline := f.clock.T.AddDate(0, 0, -1)
	f.store.overdue = []*database.Signal{
		{ID: "sig-1", Symbol: "005930", HoldingDeadline: &deadline},
	}
	f.broker.holdings = []broker.Holding{holding("005930", 70_000, 71_000)}

	// A price trigger just fired; the deadline review must still run.
	f.mon.cache.MarkCooldown(context.Background(), sellCooldownPrefix+"005930", 30*time.Minute)

	if err := f.mon.SweepDeadlines(context.Background()); err != nil {
		t.Fatalf("deadlines: %v", err)
	}
	if f.council.sellCount() != 1 {
		t.Errorf("deadline review suppressed by cooldown")
	}
}

func TestRebalanceUpdatesExitLevels(t *testing.T) {
	f := newFixture(t)
	f.broker.holdings = []broker.Holding{holding("005930", 70_000, 72_000)}
	f.store.active["005930"] = &database.Signal{
		ID: "sig-1", Symbol: "005930", TargetPrice: 80_000, StopLoss: 65_000,
	}
	f.council.review = &council.RebalanceResult{Score: 6, NewTarget: 82_000, NewStop: 67_000}

	if err := f.mon.Rebalance(context.Background()); err != nil {
		t.Fatalf("rebalance: %v", err)
	}
	if len(f.council.rebalances) != 1 {
		t.Fatalf("reviews = %d, want 1", len(f.council.rebalances))
	}
	if f.council.rebalances[0].PrevTarget != 80_000 || f.council.rebalances[0].PrevStop != 65_000 {
		t.Errorf("previous levels not passed: %+v", f.council.rebalances[0])
	}

	sig := f.store.active["005930"]
	if sig.TargetPrice != 82_000 || sig.StopLoss != 67_000 {
		t.Errorf("levels = %d/%d, want 82000/67000", sig.TargetPrice, sig.StopLoss)
	}
	if f.council.sellCount() != 0 {
		t.Error("score 6 review should not escalate to a sell")
	}
}

func TestRebalanceEscalatesWeakScore(t *testing.T) {
	f := newFixture(t)
	f.broker.holdings = []broker.Holding{holding("005930", 70_000, 68_000)}
	f.council.review = &council.RebalanceResult{Score: 2, NewTarget: 75_000, NewStop: 66_000, RecommendSell: true}

	if err := f.mon.Rebalance(context.Background()); err != nil {
		t.Fatalf("rebalance: %v", err)
	}
	if f.council.sellCount() != 1 {
		t.Fatalf("sell meetings = %d, want 1", f.council.sellCount())
	}
	if !strings.Contains(f.council.sells[0].Reason, "rebalance") {
		t.Errorf("reason %q should mention the rebalance", f.council.sells[0].Reason)
	}
}

func TestRunEODRunsAllJobs(t *testing.T) {
	f := newFixture(t)
	f.mon.runEOD(context.Background())

	if f.pipe.expires != 1 {
		t.Errorf("expiry sweeps = %d, want 1", f.pipe.expires)
	}
	if f.ledger.resets != 1 {
		t.Errorf("cost resets = %d, want 1", f.ledger.resets)
	}
}
