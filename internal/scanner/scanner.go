// Package scanner sweeps the stock universe through the indicator engine and
// convenes council meetings for the strongest candidates.
package scanner

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"krx-trading-bot/config"
	"krx-trading-bot/internal/broker"
	"krx-trading-bot/internal/cache"
	"krx-trading-bot/internal/council"
	"krx-trading-bot/internal/events"
	"krx-trading-bot/internal/indicator"
	"krx-trading-bot/internal/market"
)

const (
	buyCooldownPrefix  = "buy:"
	sellCooldownPrefix = "sell:"
)

// Council is the part of the orchestrator the scanner drives.
type Council interface {
	StartMeeting(ctx context.Context, req council.MeetingRequest) (*council.Meeting, error)
	StartSellMeeting(ctx context.Context, req council.SellRequest) (*council.Meeting, error)
}

// Stock is one universe entry.
type Stock struct {
	Symbol  string `json:"symbol"`
	Company string `json:"company"`
}

// Summary is the outcome of one scan cycle.
type Summary struct {
	ScanID       string        `json:"scan_id"`
	Scanned      int           `json:"scanned"`
	Failures     int           `json:"failures"`
	BuyMeetings  int           `json:"buy_meetings"`
	SellMeetings int           `json:"sell_meetings"`
	Elapsed      time.Duration `json:"elapsed"`
}

// Scanner runs the quant sweep: universe -> indicator snapshots -> sorted
// candidates -> council meetings, rate-limited by per-symbol cooldowns.
type Scanner struct {
	cfg          config.ScannerConfig
	sellCooldown time.Duration
	broker       broker.Broker
	council      Council
	cache        *cache.Service
	bus          *events.EventBus
	clock        market.Clock
	logger       zerolog.Logger

	mu       sync.RWMutex
	universe []Stock
	latest   map[string]*indicator.ScanResult
	results  []*indicator.ScanResult
	lastScan time.Time
	scanning bool
}

func New(
	cfg config.ScannerConfig,
	sellCooldown time.Duration,
	b broker.Broker,
	c Council,
	cacheSvc *cache.Service,
	bus *events.EventBus,
	clock market.Clock,
	logger zerolog.Logger,
) *Scanner {
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 5
	}
	return &Scanner{
		cfg:          cfg,
		sellCooldown: sellCooldown,
		broker:       b,
		council:      c,
		cache:        cacheSvc,
		bus:          bus,
		clock:        clock,
		logger:       logger.With().Str("component", "scanner").Logger(),
		universe:     DefaultUniverse(),
		latest:       make(map[string]*indicator.ScanResult),
	}
}

// SetUniverse replaces the scan universe; the refresh job calls this.
func (s *Scanner) SetUniverse(stocks []Stock) {
	s.mu.Lock()
	s.universe = append([]Stock(nil), stocks...)
	s.mu.Unlock()
	s.logger.Info().Int("size", len(stocks)).Msg("universe updated")
}

// Universe returns a copy of the current scan universe.
func (s *Scanner) Universe() []Stock {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Stock(nil), s.universe...)
}

// Latest returns the most recent analysis for a symbol, if any.
func (s *Scanner) Latest(symbol string) (*indicator.ScanResult, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.latest[symbol]
	return r, ok
}

// Results returns the last scan's candidates, strongest first.
func (s *Scanner) Results() []*indicator.ScanResult {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]*indicator.ScanResult(nil), s.results...)
}

// Scan runs one full sweep. A second call while a sweep is running fails
// immediately instead of piling up.
func (s *Scanner) Scan(ctx context.Context) (*Summary, error) {
	s.mu.Lock()
	if s.scanning {
		s.mu.Unlock()
		return nil, fmt.Errorf("scan already in progress")
	}
	s.scanning = true
	universe := append([]Stock(nil), s.universe...)
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.scanning = false
		s.mu.Unlock()
	}()

	start := s.clock.Now()
	sum := &Summary{ScanID: uuid.New().String()}

	results := s.sweep(ctx, sum.ScanID, universe, &sum.Failures)
	sum.Scanned = len(results)

	sort.Slice(results, func(i, j int) bool {
		if results[i].CompositeScore != results[j].CompositeScore {
			return results[i].CompositeScore > results[j].CompositeScore
		}
		return results[i].Symbol < results[j].Symbol
	})

	s.mu.Lock()
	s.results = results
	for _, r := range results {
		s.latest[r.Symbol] = r
	}
	s.lastScan = start
	s.mu.Unlock()

	if err := s.convene(ctx, results, sum); err != nil {
		s.logger.Warn().Err(err).Msg("convening meetings failed")
	}

	sum.Elapsed = time.Since(start)
	s.bus.PublishScanCompleted(sum.ScanID, len(results), sum.Elapsed)
	s.logger.Info().Int("scanned", sum.Scanned).Int("failures", sum.Failures).
		Int("buys", sum.BuyMeetings).Int("sells", sum.SellMeetings).
		Dur("elapsed", sum.Elapsed).Msg("scan completed")
	return sum, nil
}

// sweep fans the universe over a worker pool and collects analyses.
func (s *Scanner) sweep(ctx context.Context, scanID string, universe []Stock, failures *int) []*indicator.ScanResult {
	jobs := make(chan Stock)
	out := make(chan *indicator.ScanResult, len(universe))
	var failed sync.Map

	var wg sync.WaitGroup
	for w := 0; w < s.cfg.WorkerCount; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for stock := range jobs {
				if ctx.Err() != nil {
					return
				}
				bars, err := s.broker.GetDailyPrices(ctx, stock.Symbol, s.clock.Now())
				if err != nil {
					failed.Store(stock.Symbol, err)
					continue
				}
				out <- indicator.Analyze(stock.Symbol, stock.Company, bars)
			}
		}()
	}

	go func() {
		defer close(jobs)
		for i, stock := range universe {
			select {
			case jobs <- stock:
			case <-ctx.Done():
				return
			}
			if (i+1)%10 == 0 || i+1 == len(universe) {
				s.bus.PublishScanProgress(scanID, i+1, len(universe), stock.Symbol)
			}
		}
	}()

	wg.Wait()
	close(out)

	var results []*indicator.ScanResult
	for r := range out {
		results = append(results, r)
	}
	failed.Range(func(k, v interface{}) bool {
		*failures++
		s.logger.Warn().Str("symbol", k.(string)).Err(v.(error)).Msg("symbol scan failed")
		return true
	})
	return results
}

// convene cross-checks holdings for exits, then opens BUY councils for the
// strongest not-held candidates.
func (s *Scanner) convene(ctx context.Context, results []*indicator.ScanResult, sum *Summary) error {
	holdings, err := s.broker.GetHoldings(ctx)
	if err != nil {
		return fmt.Errorf("holdings: %w", err)
	}
	held := make(map[string]broker.Holding, len(holdings))
	for _, h := range holdings {
		held[h.Symbol] = h
	}

	balance, err := s.broker.GetBalance(ctx)
	if err != nil {
		return fmt.Errorf("balance: %w", err)
	}

	// Exits first: a held symbol whose technicals turned bearish gets a sell
	// review, throttled so one weak print cannot convene twice.
	for _, h := range holdings {
		r, ok := s.Latest(h.Symbol)
		if !ok || r.Snapshot.Empty() {
			continue
		}
		if r.Action != indicator.Sell && r.Action != indicator.StrongSell {
			continue
		}
		cooling, err := s.cache.InCooldown(ctx, sellCooldownPrefix+h.Symbol)
		if err != nil || cooling {
			continue
		}
		if err := s.cache.MarkCooldown(ctx, sellCooldownPrefix+h.Symbol, s.sellCooldown); err != nil {
			s.logger.Warn().Err(err).Str("symbol", h.Symbol).Msg("sell cooldown mark failed")
		}
		if _, err := s.council.StartSellMeeting(ctx, council.SellRequest{
			Symbol:       h.Symbol,
			Company:      h.Company,
			Reason:       fmt.Sprintf("technical deterioration: composite %d (%s)", r.CompositeScore, r.Action),
			HoldingsQty:  h.Quantity,
			AvgBuyPrice:  h.AvgBuyPrice,
			CurrentPrice: h.CurrentPrice,
		}); err != nil {
			s.logger.Warn().Err(err).Str("symbol", h.Symbol).Msg("sell meeting failed")
			continue
		}
		sum.SellMeetings++
	}

	// New entries: strongest first, capped per cycle.
	for _, r := range results {
		if sum.BuyMeetings >= s.cfg.MaxBuysPerScan {
			break
		}
		if r.CompositeScore < s.cfg.BuyScoreMin {
			break // sorted descending, nothing further qualifies
		}
		if _, isHeld := held[r.Symbol]; isHeld {
			continue
		}
		cooling, err := s.cache.InCooldown(ctx, buyCooldownPrefix+r.Symbol)
		if err != nil || cooling {
			continue
		}
		if err := s.cache.MarkCooldown(ctx, buyCooldownPrefix+r.Symbol,
			time.Duration(s.cfg.BuyCooldownMins)*time.Minute); err != nil {
			s.logger.Warn().Err(err).Str("symbol", r.Symbol).Msg("buy cooldown mark failed")
		}

		var price int64
		if r.Snapshot != nil {
			price = r.Snapshot.Close
		}
		meeting, err := s.council.StartMeeting(ctx, council.MeetingRequest{
			Symbol:          r.Symbol,
			Company:         r.Company,
			Title:           fmt.Sprintf("quant scan: composite %d, %d bullish triggers", r.CompositeScore, r.BullishCount),
			TriggerScore:    r.CompositeScore,
			AvailableAmount: balance.AvailableAmount,
			CurrentPrice:    price,
			TriggerSource:   council.SourceQuant,
			QuantResult:     r,
		})
		if err != nil {
			s.logger.Warn().Err(err).Str("symbol", r.Symbol).Msg("buy meeting failed")
			continue
		}
		if meeting.Discarded {
			continue
		}
		sum.BuyMeetings++
	}
	return nil
}

// DefaultUniverse is the KOSPI large-cap fallback used until the refresh job
// supplies a real list.
func DefaultUniverse() []Stock {
	return []Stock{
		{Symbol: "005930", Company: "Samsung Electronics"},
		{Symbol: "000660", Company: "SK hynix"},
		{Symbol: "373220", Company: "LG Energy Solution"},
		{Symbol: "207940", Company: "Samsung Biologics"},
		{Symbol: "005380", Company: "Hyundai Motor"},
		{Symbol: "000270", Company: "Kia"},
		{Symbol: "068270", Company: "Celltrion"},
		{Symbol: "035420", Company: "NAVER"},
		{Symbol: "105560", Company: "KB Financial Group"},
		{Symbol: "055550", Company: "Shinhan Financial Group"},
		{Symbol: "005490", Company: "POSCO Holdings"},
		{Symbol: "035720", Company: "Kakao"},
		{Symbol: "012330", Company: "Hyundai Mobis"},
		{Symbol: "028260", Company: "Samsung C&T"},
		{Symbol: "066570", Company: "LG Electronics"},
		{Symbol: "096770", Company: "SK Innovation"},
		{Symbol: "051910", Company: "LG Chem"},
		{Symbol: "006400", Company: "Samsung SDI"},
		{Symbol: "003670", Company: "POSCO Future M"},
		{Symbol: "034730", Company: "SK Square"},
	}
}
