package indicator

import (
	"math"
	"testing"
	"time"

	"krx-trading-bot/internal/broker"
)

// makeBars builds n synthetic daily bars, latest-first, trending up gently
// with constant volume.
func makeBars(n int, startPrice int64) []broker.Bar {
	bars := make([]broker.Bar, n)
	date := time.Date(2026, 8, 21, 0, 0, 0, 0, time.UTC)
	price := startPrice + int64(n)*50
	for i := 0; i < n; i++ {
		bars[i] = broker.Bar{
			Date:   date.AddDate(0, 0, -i),
			Open:   price - 20,
			High:   price + 100,
			Low:    price - 100,
			Close:  price,
			Volume: 100000,
		}
		price -= 50
	}
	return bars
}

func TestBuildSnapshotInsufficientData(t *testing.T) {
	snap := BuildSnapshot("005930", makeBars(19, 70000))
	if !snap.Empty() {
		t.Error("19 bars should yield an empty snapshot")
	}
	if got := EvaluateTriggers(snap); len(got) != 0 {
		t.Errorf("empty snapshot produced %d triggers", len(got))
	}
	res := Analyze("005930", "", makeBars(5, 70000))
	if res.CompositeScore != 1 {
		t.Errorf("composite = %d, want 1 for empty input", res.CompositeScore)
	}
}

func TestBuildSnapshotBasics(t *testing.T) {
	bars := makeBars(300, 50000)
	snap := BuildSnapshot("005930", bars)

	if snap.Empty() {
		t.Fatal("300 bars should not be empty")
	}
	if snap.Close != bars[0].Close {
		t.Errorf("Close = %d, want %d", snap.Close, bars[0].Close)
	}
	if snap.PrevClose != bars[1].Close {
		t.Errorf("PrevClose = %d, want %d", snap.PrevClose, bars[1].Close)
	}
	// Uptrend: short MA above long MA, latest close above both.
	if snap.MA5 <= snap.MA20 || snap.MA20 <= snap.MA60 {
		t.Errorf("uptrend MAs out of order: MA5 %.0f MA20 %.0f MA60 %.0f", snap.MA5, snap.MA20, snap.MA60)
	}
	if float64(snap.Close) <= snap.MA5 {
		t.Errorf("close %d should sit above MA5 %.0f in an uptrend", snap.Close, snap.MA5)
	}
	if snap.High52W != bars[0].High {
		t.Errorf("High52W = %d, want %d", snap.High52W, bars[0].High)
	}
	if snap.Position52W < 95 {
		t.Errorf("Position52W = %.1f, want near 100 at the top of an uptrend", snap.Position52W)
	}
	if snap.ConsecutiveUp < 5 {
		t.Errorf("ConsecutiveUp = %d in a monotone uptrend", snap.ConsecutiveUp)
	}
	if snap.UDVR60 < 10 {
		t.Errorf("UDVR60 = %.2f, want heavily up-weighted in a monotone uptrend", snap.UDVR60)
	}
}

func TestEvaluateTriggersCoversAll42(t *testing.T) {
	snap := BuildSnapshot("005930", makeBars(300, 50000))
	results := EvaluateTriggers(snap)
	if len(results) != 42 {
		t.Fatalf("got %d trigger results, want 42", len(results))
	}
	seen := make(map[TriggerID]bool)
	for _, r := range results {
		if seen[r.ID] {
			t.Errorf("duplicate trigger %s", r.ID)
		}
		seen[r.ID] = true
		if r.Score < 0 || r.Score > 10 {
			t.Errorf("%s score %d out of range", r.ID, r.Score)
		}
		if r.Signal == Neutral && r.Score != 0 {
			t.Errorf("%s neutral with nonzero score %d", r.ID, r.Score)
		}
	}
}

func TestWeightTiers(t *testing.T) {
	for _, id := range []TriggerID{T01, T02, T03, T09, T14, T20} {
		if Weight(id) != 3 {
			t.Errorf("Weight(%s) = %d, want 3", id, Weight(id))
		}
	}
	for _, id := range []TriggerID{T04, T10, T22} {
		if Weight(id) != 2 {
			t.Errorf("Weight(%s) = %d, want 2", id, Weight(id))
		}
	}
	for _, id := range []TriggerID{T23, T30, T42} {
		if Weight(id) != 1 {
			t.Errorf("Weight(%s) = %d, want 1", id, Weight(id))
		}
	}
}

func TestCompositeScoreBounds(t *testing.T) {
	allBull := make([]TriggerResult, 0, 42)
	allBear := make([]TriggerResult, 0, 42)
	for _, def := range triggerTable {
		allBull = append(allBull, TriggerResult{ID: def.id, Signal: Bullish, Score: 10})
		allBear = append(allBear, TriggerResult{ID: def.id, Signal: Bearish, Score: 10})
	}
	if got := CompositeScore(allBull); got != 100 {
		t.Errorf("all-bullish composite = %d, want 100", got)
	}
	if got := CompositeScore(allBear); got != 1 {
		t.Errorf("all-bearish composite = %d, want 1 (never 0)", got)
	}
	neutral := make([]TriggerResult, 42)
	for i, def := range triggerTable {
		neutral[i] = TriggerResult{ID: def.id, Signal: Neutral}
	}
	if got := CompositeScore(neutral); got != 50 {
		t.Errorf("all-neutral composite = %d, want 50", got)
	}
}

// Flipping any single bullish trigger to bearish must never raise the score.
func TestCompositeScoreMonotone(t *testing.T) {
	base := make([]TriggerResult, 0, 42)
	for i, def := range triggerTable {
		sig := Bullish
		if i%3 == 0 {
			sig = Neutral
		}
		score := 7
		if sig == Neutral {
			score = 0
		}
		base = append(base, TriggerResult{ID: def.id, Signal: sig, Score: score})
	}
	before := CompositeScore(base)

	for i := range base {
		if base[i].Signal != Bullish {
			continue
		}
		flipped := make([]TriggerResult, len(base))
		copy(flipped, base)
		flipped[i].Signal = Bearish
		after := CompositeScore(flipped)
		if after > before {
			t.Errorf("flipping %s bullish->bearish raised score %d -> %d", base[i].ID, before, after)
		}
	}
}

func TestActionMapping(t *testing.T) {
	cases := []struct {
		score int
		want  Action
	}{
		{100, StrongBuy}, {80, StrongBuy},
		{79, Buy}, {65, Buy},
		{64, Hold}, {40, Hold},
		{39, Sell}, {25, Sell},
		{24, StrongSell}, {1, StrongSell},
	}
	for _, tc := range cases {
		if got := ActionFor(tc.score); got != tc.want {
			t.Errorf("ActionFor(%d) = %s, want %s", tc.score, got, tc.want)
		}
	}
}

func TestTriggerThresholds(t *testing.T) {
	find := func(results []TriggerResult, id TriggerID) TriggerResult {
		for _, r := range results {
			if r.ID == id {
				return r
			}
		}
		t.Fatalf("trigger %s missing", id)
		return TriggerResult{}
	}

	// T-01 accumulation band.
	snap := &Snapshot{BarCount: 300, TVRatio: 2.0}
	r := find(EvaluateTriggers(snap), T01)
	if r.Signal != Bullish || r.Strength != Strong {
		t.Errorf("T-01 at TV ratio 2.0: %s/%s, want bullish/strong", r.Signal, r.Strength)
	}

	// T-02 extreme spike.
	snap = &Snapshot{BarCount: 300, TVSpike: 12}
	r = find(EvaluateTriggers(snap), T02)
	if r.Signal != Bullish || r.Strength != VeryStrong || r.Score != 10 {
		t.Errorf("T-02 at 12x spike: %s/%s/%d", r.Signal, r.Strength, r.Score)
	}

	// T-14 prime AVWAP-60 reclaim zone: -5%..0%.
	snap = &Snapshot{BarCount: 300, AVWAP60: 100, AVWAP60Dev: -3}
	r = find(EvaluateTriggers(snap), T14)
	if r.Signal != Bullish || r.Strength != VeryStrong {
		t.Errorf("T-14 at -3%% dev: %s/%s", r.Signal, r.Strength)
	}

	// T-20 squeeze fires very strong.
	snap = &Snapshot{BarCount: 300, TTMSqueeze: true, BBWP: 15}
	r = find(EvaluateTriggers(snap), T20)
	if r.Signal != Bullish || r.Strength != VeryStrong {
		t.Errorf("T-20 in squeeze: %s/%s", r.Signal, r.Strength)
	}

	// T-37 picks up where T-01's band ends.
	snap = &Snapshot{BarCount: 300, TVRatio: 4.0}
	r = find(EvaluateTriggers(snap), T37)
	if r.Signal != Bearish {
		t.Errorf("T-37 at TV ratio 4.0: %s, want bearish", r.Signal)
	}
	r = find(EvaluateTriggers(snap), T01)
	if r.Signal != Neutral {
		t.Errorf("T-01 at TV ratio 4.0: %s, want neutral (beyond band)", r.Signal)
	}
}

func TestTechnicalSubscore(t *testing.T) {
	cases := []struct {
		composite int
		want      int
	}{
		{1, 1}, {25, 3}, {50, 5}, {82, 8}, {100, 10},
	}
	for _, tc := range cases {
		r := &ScanResult{CompositeScore: tc.composite}
		if got := r.TechnicalSubscore(); got != tc.want {
			t.Errorf("TechnicalSubscore(%d) = %d, want %d", tc.composite, got, tc.want)
		}
	}
}

func TestAnalyzeCounts(t *testing.T) {
	res := Analyze("005930", "Samsung Electronics", makeBars(300, 50000))
	if res.BullishCount+res.BearishCount+res.NeutralCount != 42 {
		t.Errorf("counts sum to %d, want 42",
			res.BullishCount+res.BearishCount+res.NeutralCount)
	}
	if res.CompositeScore < 1 || res.CompositeScore > 100 {
		t.Errorf("composite %d out of range", res.CompositeScore)
	}
	if res.Action != ActionFor(res.CompositeScore) {
		t.Errorf("action %s inconsistent with score %d", res.Action, res.CompositeScore)
	}
	fired := res.FiredTriggers()
	if len(fired) != res.BullishCount+res.BearishCount {
		t.Errorf("fired %d, want %d", len(fired), res.BullishCount+res.BearishCount)
	}
}

func TestAnchoredVWAP(t *testing.T) {
	highs := []float64{110, 120, 130}
	lows := []float64{90, 100, 110}
	closes := []float64{100, 110, 120}
	volumes := []float64{1, 1, 2}
	got := anchoredVWAP(highs, lows, closes, volumes, 3)
	want := (100.0*1 + 110*1 + 120*2) / 4
	if math.Abs(got-want) > 0.01 {
		t.Errorf("anchoredVWAP = %.2f, want %.2f", got, want)
	}
}
