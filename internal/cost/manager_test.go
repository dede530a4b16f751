package cost

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"krx-trading-bot/config"
	"krx-trading-bot/internal/cache"
	"krx-trading-bot/internal/market"
)

func testConfig() config.CostConfig {
	return config.CostConfig{
		DailyBudgetUSD:     5,
		MonthlyBudgetUSD:   100,
		MaxFullPerDay:      20,
		MaxDeepPerDay:      5,
		SymbolCooldownMins: 30,
	}
}

func newTestManager(clock market.Clock) *Manager {
	return NewManager(testConfig(), clock, time.UTC, nil, zerolog.Nop())
}

func TestDetermineDepthLadder(t *testing.T) {
	m := newTestManager(&market.FixedClock{T: time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)})

	cases := []struct {
		newsScore int
		want      Tier
	}{
		{1, Quick}, {3, Quick},
		{4, Light}, {6, Light},
		{7, Standard},
		{8, Full}, {10, Full},
	}
	for _, tc := range cases {
		got, _ := m.DetermineDepth("005930", tc.newsScore, false, 0, PriorityNormal)
		if got != tc.want {
			t.Errorf("DetermineDepth(score=%d) = %s, want %s", tc.newsScore, got, tc.want)
		}
	}
}

func TestDetermineDepthHoldingPromotion(t *testing.T) {
	m := newTestManager(&market.FixedClock{T: time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)})

	// Heavy holding promotes one tier.
	if got, _ := m.DetermineDepth("005930", 5, true, 12, PriorityNormal); got != Standard {
		t.Errorf("light + heavy holding = %s, want STANDARD", got)
	}
	// Promotion caps at FULL.
	if got, _ := m.DetermineDepth("005930", 9, true, 15, PriorityNormal); got != Full {
		t.Errorf("full + heavy holding = %s, want FULL (capped)", got)
	}
	// Below the weight floor, no promotion.
	if got, _ := m.DetermineDepth("005930", 5, true, 5, PriorityNormal); got != Light {
		t.Errorf("light + small holding = %s, want LIGHT", got)
	}
}

func TestDetermineDepthCriticalOverride(t *testing.T) {
	m := newTestManager(&market.FixedClock{T: time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)})
	if got, _ := m.DetermineDepth("005930", 2, false, 0, PriorityCritical); got != Deep {
		t.Errorf("critical override = %s, want DEEP", got)
	}
}

func TestSymbolCooldownRejectsNonQuick(t *testing.T) {
	clock := &market.FixedClock{T: time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)}
	m := newTestManager(clock)

	m.RecordAnalysis("005930", Full, true)

	if ok, _ := m.CanAfford("005930", Light); ok {
		t.Error("LIGHT should be rejected inside the 30m cooldown")
	}
	if ok, _ := m.CanAfford("005930", Quick); !ok {
		t.Error("QUICK is always affordable")
	}
	if ok, _ := m.CanAfford("000660", Light); !ok {
		t.Error("cooldown is per-symbol")
	}

	clock.T = clock.T.Add(31 * time.Minute)
	if ok, _ := m.CanAfford("005930", Light); !ok {
		t.Error("cooldown should expire after 30m")
	}
}

func TestDailyBudgetDowngrade(t *testing.T) {
	clock := &market.FixedClock{T: time.Date(2026, 8, 24, 9, 0, 0, 0, time.UTC)}
	m := newTestManager(clock)

	// Burn the daily budget with FULL runs on distinct symbols.
	for i := 0; i < 24; i++ {
		m.RecordAnalysis(string(rune('A'+i)), Full, true)
	}
	// daySpend = 24 * 0.20 = $4.80; a FULL run ($0.20) still fits but the
	// per-tier counter (20/day) blocks it, so the ladder steps down.
	got, reason := m.DetermineDepth("ZZZ", 9, false, 0, PriorityNormal)
	if got != Standard {
		t.Errorf("tier = %s (%s), want STANDARD after FULL cap", got, reason)
	}

	// Two more standard runs leave $0.05 headroom: only LIGHT fits.
	m.RecordAnalysis("YYY", Standard, true)
	m.RecordAnalysis("YYX", Standard, true)
	got, _ = m.DetermineDepth("XXX", 9, false, 0, PriorityNormal)
	if got != Light {
		t.Errorf("tier = %s, want LIGHT with $%.2f remaining", got, 5-4.95)
	}
}

func TestTierCounters(t *testing.T) {
	clock := &market.FixedClock{T: time.Date(2026, 8, 24, 9, 0, 0, 0, time.UTC)}
	m := newTestManager(clock)

	for i := 0; i < 5; i++ {
		m.RecordAnalysis(string(rune('a'+i)), Deep, true)
	}
	if ok, why := m.CanAfford("zzz", Deep); ok {
		t.Errorf("6th DEEP should be rejected: %s", why)
	}
	if ok, _ := m.CanAfford("zzz", Standard); !ok {
		t.Error("STANDARD unaffected by the DEEP cap")
	}
}

func TestDayRollover(t *testing.T) {
	clock := &market.FixedClock{T: time.Date(2026, 8, 24, 23, 0, 0, 0, time.UTC)}
	m := newTestManager(clock)

	for i := 0; i < 5; i++ {
		m.RecordAnalysis(string(rune('a'+i)), Deep, true)
	}
	if ok, _ := m.CanAfford("zzz", Deep); ok {
		t.Fatal("DEEP cap should be hit")
	}

	clock.T = clock.T.Add(2 * time.Hour) // past midnight
	if ok, why := m.CanAfford("zzz", Deep); !ok {
		t.Errorf("counters should reset at the day boundary: %s", why)
	}
	sum := m.Summarize()
	if sum.DaySpendUSD != 0 || sum.DeepRunsUsed != 0 {
		t.Errorf("summary after rollover: %+v", sum)
	}
	if sum.MonthSpend == 0 {
		t.Error("month spend should survive a day rollover")
	}
}

func TestHistoryCap(t *testing.T) {
	clock := &market.FixedClock{T: time.Date(2026, 8, 24, 9, 0, 0, 0, time.UTC)}
	m := newTestManager(clock)
	for i := 0; i < maxHistory+50; i++ {
		m.RecordAnalysis("005930", Quick, true)
	}
	if got := len(m.History()); got != maxHistory {
		t.Errorf("history length = %d, want %d", got, maxHistory)
	}
}

func TestResultCacheRoundTrip(t *testing.T) {
	clock := &market.FixedClock{T: time.Date(2026, 8, 24, 9, 0, 0, 0, time.UTC)}
	svc := cache.New(config.RedisConfig{Enabled: false})
	m := NewManager(testConfig(), clock, time.UTC, svc, zerolog.Nop())
	ctx := context.Background()

	type analysis struct {
		Score int `json:"score"`
	}

	title := "Samsung announces record HBM orders for AI datacenters worldwide"
	if err := m.StoreResult(ctx, "005930", title, analysis{Score: 8}); err != nil {
		t.Fatalf("store: %v", err)
	}

	var got analysis
	found, err := m.CachedResult(ctx, "005930", title, &got)
	if err != nil || !found || got.Score != 8 {
		t.Fatalf("cached result: found=%v err=%v got=%+v", found, err, got)
	}

	// Same first 50 chars of the title dedupes.
	if Fingerprint("005930", title) != Fingerprint("005930", title+" extra tail") {
		t.Error("fingerprint should ignore text beyond 50 chars")
	}
	if Fingerprint("005930", title) == Fingerprint("000660", title) {
		t.Error("fingerprint must include the symbol")
	}
}
