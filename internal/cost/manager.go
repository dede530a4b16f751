// Package cost enforces the LLM analysis budget: depth tiers, daily and
// monthly dollar limits, per-tier counters and the same-symbol cooldown.
package cost

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"krx-trading-bot/config"
	"krx-trading-bot/internal/cache"
	"krx-trading-bot/internal/market"
)

// Tier is an analysis depth level.
type Tier string

const (
	Quick    Tier = "QUICK"
	Light    Tier = "LIGHT"
	Standard Tier = "STANDARD"
	Full     Tier = "FULL"
	Deep     Tier = "DEEP"
)

// Cost is the estimated dollar cost of one run at this tier.
func (t Tier) Cost() float64 {
	switch t {
	case Light:
		return 0.015
	case Standard:
		return 0.075
	case Full:
		return 0.20
	case Deep:
		return 0.40
	default:
		return 0
	}
}

// rank orders tiers for promotion and downgrade.
func (t Tier) rank() int {
	switch t {
	case Light:
		return 1
	case Standard:
		return 2
	case Full:
		return 3
	case Deep:
		return 4
	default:
		return 0
	}
}

var tierByRank = []Tier{Quick, Light, Standard, Full, Deep}

// Priority escalates or leaves the depth decision alone.
type Priority string

const (
	PriorityNormal   Priority = "NORMAL"
	PriorityCritical Priority = "CRITICAL"
)

// Record is one completed analysis run.
type Record struct {
	Time    time.Time `json:"time"`
	Symbol  string    `json:"symbol"`
	Tier    Tier      `json:"tier"`
	Cost    float64   `json:"cost"`
	Success bool      `json:"success"`
}

const (
	maxHistory     = 1000
	resultCacheTTL = time.Hour
)

// Manager tracks spend against the configured budgets. Counters roll over on
// day and month boundaries in the market's time zone.
type Manager struct {
	cfg    config.CostConfig
	clock  market.Clock
	loc    *time.Location
	cache  *cache.Service
	logger zerolog.Logger

	mu           sync.Mutex
	day          string
	month        string
	daySpend     float64
	monthSpend   float64
	fullToday    int
	deepToday    int
	lastAnalysis map[string]time.Time
	history      []Record
}

func NewManager(cfg config.CostConfig, clock market.Clock, loc *time.Location, cacheSvc *cache.Service, logger zerolog.Logger) *Manager {
	m := &Manager{
		cfg:          cfg,
		clock:        clock,
		loc:          loc,
		cache:        cacheSvc,
		logger:       logger.With().Str("component", "cost").Logger(),
		lastAnalysis: make(map[string]time.Time),
	}
	now := clock.Now().In(loc)
	m.day = now.Format("2006-01-02")
	m.month = now.Format("2006-01")
	return m
}

// rollover resets counters when the civil day or month changes. Called under lock.
func (m *Manager) rollover(now time.Time) {
	day := now.Format("2006-01-02")
	if day != m.day {
		m.day = day
		m.daySpend = 0
		m.fullToday = 0
		m.deepToday = 0
	}
	month := now.Format("2006-01")
	if month != m.month {
		m.month = month
		m.monthSpend = 0
	}
}

// DetermineDepth picks the analysis tier for a news or quant event.
// Base tier comes from the news score; large holdings promote one tier,
// CRITICAL priority overrides to DEEP, and unaffordable tiers step down.
func (m *Manager) DetermineDepth(symbol string, newsScore int, isHolding bool, portfolioWeight float64, priority Priority) (Tier, string) {
	var tier Tier
	switch {
	case newsScore <= 3:
		tier = Quick
	case newsScore <= 6:
		tier = Light
	case newsScore == 7:
		tier = Standard
	default:
		tier = Full
	}
	reason := fmt.Sprintf("news score %d -> %s", newsScore, tier)

	if isHolding && portfolioWeight >= 10 && tier.rank() < Full.rank() {
		tier = tierByRank[tier.rank()+1]
		reason += fmt.Sprintf("; holding at %.1f%% weight, promoted to %s", portfolioWeight, tier)
	}

	if priority == PriorityCritical {
		tier = Deep
		reason += "; CRITICAL priority -> DEEP"
	}

	for tier.rank() > Quick.rank() {
		ok, why := m.CanAfford(symbol, tier)
		if ok {
			break
		}
		tier = tierByRank[tier.rank()-1]
		reason += fmt.Sprintf("; %s, downgraded to %s", why, tier)
	}
	return tier, reason
}

// CanAfford reports whether a run at the tier fits the remaining budgets,
// the per-tier daily counters and the symbol cooldown.
func (m *Manager) CanAfford(symbol string, tier Tier) (bool, string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now().In(m.loc)
	m.rollover(now)

	if tier == Quick {
		return true, ""
	}

	cooldown := time.Duration(m.cfg.SymbolCooldownMins) * time.Minute
	if last, ok := m.lastAnalysis[symbol]; ok && now.Sub(last) < cooldown {
		return false, fmt.Sprintf("symbol analysed %.0fm ago", now.Sub(last).Minutes())
	}
	if m.daySpend+tier.Cost() > m.cfg.DailyBudgetUSD {
		return false, fmt.Sprintf("daily budget exhausted ($%.2f/$%.2f)", m.daySpend, m.cfg.DailyBudgetUSD)
	}
	if m.monthSpend+tier.Cost() > m.cfg.MonthlyBudgetUSD {
		return false, fmt.Sprintf("monthly budget exhausted ($%.2f/$%.2f)", m.monthSpend, m.cfg.MonthlyBudgetUSD)
	}
	if tier == Full && m.fullToday >= m.cfg.MaxFullPerDay {
		return false, fmt.Sprintf("FULL runs capped at %d/day", m.cfg.MaxFullPerDay)
	}
	if tier == Deep && m.deepToday >= m.cfg.MaxDeepPerDay {
		return false, fmt.Sprintf("DEEP runs capped at %d/day", m.cfg.MaxDeepPerDay)
	}
	return true, ""
}

// RecordAnalysis charges a completed run against the budgets and stamps the
// symbol's cooldown.
func (m *Manager) RecordAnalysis(symbol string, tier Tier, success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now().In(m.loc)
	m.rollover(now)

	c := tier.Cost()
	m.daySpend += c
	m.monthSpend += c
	switch tier {
	case Full:
		m.fullToday++
	case Deep:
		m.deepToday++
	}
	m.lastAnalysis[symbol] = now

	m.history = append(m.history, Record{Time: now, Symbol: symbol, Tier: tier, Cost: c, Success: success})
	if len(m.history) > maxHistory {
		m.history = m.history[len(m.history)-maxHistory:]
	}

	m.logger.Debug().Str("symbol", symbol).Str("tier", string(tier)).
		Float64("day_spend", m.daySpend).Bool("success", success).
		Msg("analysis recorded")
}

// ResetDaily clears the daily counters. The EOD scheduler calls this at the
// day boundary so a long-running process never carries stale counters.
func (m *Manager) ResetDaily() {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.clock.Now().In(m.loc)
	m.day = now.Format("2006-01-02")
	m.daySpend = 0
	m.fullToday = 0
	m.deepToday = 0
}

// Summary is a point-in-time view of the budget state.
type Summary struct {
	Day          string  `json:"day"`
	DaySpendUSD  float64 `json:"day_spend_usd"`
	DailyBudget  float64 `json:"daily_budget_usd"`
	Month        string  `json:"month"`
	MonthSpend   float64 `json:"month_spend_usd"`
	MonthBudget  float64 `json:"monthly_budget_usd"`
	FullRunsUsed int     `json:"full_runs_used"`
	DeepRunsUsed int     `json:"deep_runs_used"`
	RecordCount  int     `json:"record_count"`
}

func (m *Manager) Summarize() Summary {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rollover(m.clock.Now().In(m.loc))
	return Summary{
		Day:          m.day,
		DaySpendUSD:  m.daySpend,
		DailyBudget:  m.cfg.DailyBudgetUSD,
		Month:        m.month,
		MonthSpend:   m.monthSpend,
		MonthBudget:  m.cfg.MonthlyBudgetUSD,
		FullRunsUsed: m.fullToday,
		DeepRunsUsed: m.deepToday,
		RecordCount:  len(m.history),
	}
}

// History returns a copy of the rolling record log, newest last.
func (m *Manager) History() []Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Record, len(m.history))
	copy(out, m.history)
	return out
}

// Fingerprint identifies a news item for result deduplication: the symbol
// plus the first 50 characters of the title.
func Fingerprint(symbol, title string) string {
	if len(title) > 50 {
		title = title[:50]
	}
	h := fnv.New64a()
	h.Write([]byte(symbol))
	h.Write([]byte("|"))
	h.Write([]byte(title))
	return fmt.Sprintf("%x", h.Sum64())
}

// CachedResult returns a prior analysis output for the same news fingerprint
// within the last hour, deduplicating repeated headlines.
func (m *Manager) CachedResult(ctx context.Context, symbol, title string, out interface{}) (bool, error) {
	if m.cache == nil {
		return false, nil
	}
	return m.cache.GetJSON(ctx, cache.PrefixResult+Fingerprint(symbol, title), out)
}

// StoreResult caches an analysis output under the news fingerprint.
func (m *Manager) StoreResult(ctx context.Context, symbol, title string, result interface{}) error {
	if m.cache == nil {
		return nil
	}
	return m.cache.SetJSON(ctx, cache.PrefixResult+Fingerprint(symbol, title), result, resultCacheTTL)
}
