package risk

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"krx-trading-bot/config"
	"krx-trading-bot/internal/broker"
	"krx-trading-bot/internal/database"
)

func testRiskConfig() config.RiskConfig {
	return config.RiskConfig{
		MaxPositions:      10,
		MinPositionPct:    1.0,
		MinCashReservePct: 10.0,
		StopLossPct:       7,
		MinStopLossPct:    3,
		MaxStopLossPct:    15,
		TakeProfitPct:     12,
		MinTakeProfitPct:  5,
		MaxTakeProfitPct:  30,
	}
}

func newTestEvaluator() *Evaluator {
	return NewEvaluator(testRiskConfig(), zerolog.Nop())
}

// gateBroker is a stub that returns fixed balances and holdings.
type gateBroker struct {
	broker.Broker
	balance     *broker.Balance
	holdings    []broker.Holding
	balanceErr  error
	holdingsErr error
}

func (g *gateBroker) GetBalance(ctx context.Context) (*broker.Balance, error) {
	return g.balance, g.balanceErr
}

func (g *gateBroker) GetHoldings(ctx context.Context) ([]broker.Holding, error) {
	return g.holdings, g.holdingsErr
}

func TestCheckBuyGates(t *testing.T) {
	e := newTestEvaluator()
	ctx := context.Background()

	// 10M cash + 10M evaluation: total assets 20M, min position 200k,
	// reserve 2M.
	b := &gateBroker{
		balance: &broker.Balance{AvailableAmount: 10_000_000, TotalEvaluation: 10_000_000},
		holdings: []broker.Holding{
			{Symbol: "005930", Quantity: 10},
		},
	}

	if r := e.CheckBuyGates(ctx, b, "000660", 1_000_000); !r.Allowed {
		t.Errorf("reasonable buy blocked by %s: %s", r.Gate, r.Reason)
	}

	// Gate A: below 1% of total assets.
	if r := e.CheckBuyGates(ctx, b, "000660", 150_000); r.Allowed || r.Gate != GateMinPosition {
		t.Errorf("tiny buy: %+v, want min_position block", r)
	}

	// Gate B: spending down to the reserve floor.
	if r := e.CheckBuyGates(ctx, b, "000660", 8_500_000); r.Allowed || r.Gate != GateCashReserve {
		t.Errorf("reserve-busting buy: %+v, want cash_reserve block", r)
	}
}

func TestGateMaxPositions(t *testing.T) {
	e := newTestEvaluator()
	ctx := context.Background()

	holdings := make([]broker.Holding, 10)
	for i := range holdings {
		holdings[i] = broker.Holding{Symbol: string(rune('A' + i))}
	}
	b := &gateBroker{
		balance:  &broker.Balance{AvailableAmount: 50_000_000, TotalEvaluation: 50_000_000},
		holdings: holdings,
	}

	if r := e.CheckBuyGates(ctx, b, "NEW", 2_000_000); r.Allowed || r.Gate != GateMaxPositions {
		t.Errorf("11th position: %+v, want max_positions block", r)
	}
	// Adding to a held symbol bypasses gate C.
	if r := e.CheckBuyGates(ctx, b, "A", 2_000_000); !r.Allowed {
		t.Errorf("add to held symbol blocked by %s: %s", r.Gate, r.Reason)
	}
}

func TestGatesFailSafeOnBrokerError(t *testing.T) {
	e := newTestEvaluator()
	ctx := context.Background()

	b := &gateBroker{balanceErr: errors.New("network down")}
	if r := e.CheckBuyGates(ctx, b, "005930", 2_000_000); r.Allowed || r.Gate != GateError {
		t.Errorf("balance error: %+v, want error block", r)
	}

	b = &gateBroker{
		balance:     &broker.Balance{AvailableAmount: 50_000_000, TotalEvaluation: 50_000_000},
		holdingsErr: errors.New("timeout"),
	}
	if r := e.CheckBuyGates(ctx, b, "005930", 2_000_000); r.Allowed || r.Gate != GateError {
		t.Errorf("holdings error: %+v, want error block", r)
	}
}

func TestCheckDataQuality(t *testing.T) {
	e := newTestEvaluator()
	if r := e.CheckDataQuality("005930", 1); !r.Allowed {
		t.Error("one failure should pass")
	}
	if r := e.CheckDataQuality("005930", 2); r.Allowed || r.Gate != GateDataQuality {
		t.Errorf("two failures: %+v, want data_quality block", r)
	}
}

func TestDetermineAction(t *testing.T) {
	e := newTestEvaluator()

	cases := []struct {
		name       string
		finalPct   float64
		quant      int
		fund       int
		newsScore  int
		source     string
		want       database.SignalType
	}{
		{"bad news forces sell", 20, 8, 8, 2, "news", database.SignalSell},
		{"low average forces sell", 20, 4, 4, 7, "news", database.SignalSell},
		{"negative pct forces sell", -10, 7, 7, 8, "news", database.SignalSell},
		{"quant buy on pct+avg", 12, 6, 6, 0, "quant", database.SignalBuy},
		{"quant buy on high pct", 16, 5, 5, 0, "quant", database.SignalBuy},
		{"quant hold below bar", 8, 6, 6, 0, "quant", database.SignalHold},
		{"news buy on pct+avg", 12, 6, 6, 7, "news", database.SignalBuy},
		{"news buy on strong score", 5, 5, 5, 9, "news", database.SignalBuy},
		{"news hold", 5, 6, 5, 6, "news", database.SignalHold},
		{"sell-source hold default", 12, 7, 7, 0, "sell", database.SignalHold},
	}
	for _, tc := range cases {
		got := e.DetermineAction(tc.finalPct, tc.quant, tc.fund, tc.newsScore, tc.source)
		if got != tc.want {
			t.Errorf("%s: got %s, want %s", tc.name, got, tc.want)
		}
	}
}

func TestClampStopLoss(t *testing.T) {
	e := newTestEvaluator()
	const current = 100_000

	// Default when analyst omits: 7% below.
	if got := e.ClampStopLoss(0, current); got != 93_000 {
		t.Errorf("default stop = %d, want 93000", got)
	}
	// Analyst too tight (1% below): clamped to min 3% distance.
	if got := e.ClampStopLoss(99_000, current); got != 97_000 {
		t.Errorf("tight stop = %d, want 97000", got)
	}
	// Analyst too wide (20% below): clamped to max 15% distance.
	if got := e.ClampStopLoss(80_000, current); got != 85_000 {
		t.Errorf("wide stop = %d, want 85000", got)
	}
	// In-range stop passes through.
	if got := e.ClampStopLoss(90_000, current); got != 90_000 {
		t.Errorf("in-range stop = %d, want 90000", got)
	}
}

func TestClampTarget(t *testing.T) {
	e := newTestEvaluator()
	const current = 100_000

	if got := e.ClampTarget(0, current); got != 112_000 {
		t.Errorf("default target = %d, want 112000", got)
	}
	// Too close (2%): clamped up to 5%.
	if got := e.ClampTarget(102_000, current); got != 105_000 {
		t.Errorf("near target = %d, want 105000", got)
	}
	// Too far (50%): clamped down to 30%.
	if got := e.ClampTarget(150_000, current); got != 130_000 {
		t.Errorf("far target = %d, want 130000", got)
	}
	if got := e.ClampTarget(120_000, current); got != 120_000 {
		t.Errorf("in-range target = %d, want 120000", got)
	}
}

// Sanity: gate evaluation must finish promptly even with a slow-but-working
// broker path, since it runs inside the drain loop.
func TestGateEvaluationIsFast(t *testing.T) {
	e := newTestEvaluator()
	b := &gateBroker{
		balance:  &broker.Balance{AvailableAmount: 10_000_000, TotalEvaluation: 0},
		holdings: nil,
	}
	start := time.Now()
	for i := 0; i < 1000; i++ {
		e.CheckBuyGates(context.Background(), b, "005930", 500_000)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("1000 gate checks took %v", elapsed)
	}
}
