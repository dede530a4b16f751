package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"krx-trading-bot/config"
	"krx-trading-bot/internal/broker"
	"krx-trading-bot/internal/cache"
	"krx-trading-bot/internal/cost"
	"krx-trading-bot/internal/database"
	"krx-trading-bot/internal/events"
	"krx-trading-bot/internal/indicator"
	"krx-trading-bot/internal/market"
	"krx-trading-bot/internal/scanner"
)

type stubSignals struct {
	byID map[string]*database.Signal
}

func (s *stubSignals) GetByID(ctx context.Context, id string) (*database.Signal, error) {
	sig, ok := s.byID[id]
	if !ok {
		return nil, database.ErrSignalNotFound
	}
	return sig, nil
}

func (s *stubSignals) List(ctx context.Context, f database.SignalFilter) ([]*database.Signal, error) {
	var out []*database.Signal
	for _, sig := range s.byID {
		if f.Symbol != "" && sig.Symbol != f.Symbol {
			continue
		}
		out = append(out, sig)
	}
	return out, nil
}

type stubReviewer struct {
	approved []string
	rejected []string
	err      error
}

func (r *stubReviewer) Approve(ctx context.Context, id string) error {
	if r.err != nil {
		return r.err
	}
	r.approved = append(r.approved, id)
	return nil
}

func (r *stubReviewer) Reject(ctx context.Context, id, reason string) error {
	if r.err != nil {
		return r.err
	}
	r.rejected = append(r.rejected, id)
	return nil
}

func (r *stubReviewer) Active() []*database.Signal { return nil }

type stubMeetings struct{}

func (m *stubMeetings) RecentForSymbol(ctx context.Context, symbol string, limit int) ([]*database.MeetingRecord, error) {
	return []*database.MeetingRecord{{ID: "m-1", Symbol: symbol}}, nil
}

type stubScans struct {
	results []*indicator.ScanResult
	scans   int
}

func (s *stubScans) Results() []*indicator.ScanResult { return s.results }
func (s *stubScans) Scan(ctx context.Context) (*scanner.Summary, error) {
	s.scans++
	return &scanner.Summary{}, nil
}

type apiBroker struct {
	broker.Broker
}

func (b *apiBroker) GetBalance(ctx context.Context) (*broker.Balance, error) {
	return &broker.Balance{AvailableAmount: 10_000_000, TotalEvaluation: 5_000_000}, nil
}

func (b *apiBroker) GetHoldings(ctx context.Context) ([]broker.Holding, error) {
	return []broker.Holding{{Symbol: "005930", Quantity: 10}}, nil
}

func (b *apiBroker) GetRealizedPnL(ctx context.Context, start, end time.Time) ([]broker.PnLItem, error) {
	return []broker.PnLItem{{Symbol: "005930", ProfitLoss: 120_000}}, nil
}

func newTestServer(t *testing.T, signals *stubSignals, reviewer *stubReviewer, scans *stubScans) *Server {
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
	clock := &market.FixedClock{T: time.Date(2026, 8, 24, 10, 0, 0, 0, loc)}

	bus := events.NewEventBus()
	t.Cleanup(bus.Close)
	costs := cost.NewManager(config.CostConfig{DailyBudgetUSD: 5, MonthlyBudgetUSD: 50},
		clock, loc, cache.New(config.RedisConfig{Enabled: false}), zerolog.Nop())

	return NewServer(
		config.ServerConfig{AllowedOrigins: "*"},
		nil, signals, &stubMeetings{}, reviewer, scans,
		&apiBroker{}, costs, cal, clock, bus, zerolog.Nop(),
	)
}

func doRequest(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)
	return w
}

func TestHealthEndpoint(t *testing.T) {
	s := newTestServer(t, &stubSignals{byID: map[string]*database.Signal{}}, &stubReviewer{}, &stubScans{})
	w := doRequest(t, s, "GET", "/health", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
}

func TestSessionEndpoint(t *testing.T) {
	s := newTestServer(t, &stubSignals{byID: map[string]*database.Signal{}}, &stubReviewer{}, &stubScans{})
	w := doRequest(t, s, "GET", "/api/session", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var resp struct {
		Data struct {
			Session    string `json:"session"`
			CanExecute bool   `json:"can_execute"`
		} `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Data.Session != "REGULAR" || !resp.Data.CanExecute {
		t.Errorf("session = %+v, want open REGULAR", resp.Data)
	}
}

func TestGetSignal(t *testing.T) {
	signals := &stubSignals{byID: map[string]*database.Signal{
		"sig-1": {ID: "sig-1", Symbol: "005930", Status: database.StatusPending},
	}}
	s := newTestServer(t, signals, &stubReviewer{}, &stubScans{})

	w := doRequest(t, s, "GET", "/api/signals/sig-1", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	w = doRequest(t, s, "GET", "/api/signals/missing", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("missing signal status = %d, want 404", w.Code)
	}
}

func TestApproveSignal(t *testing.T) {
	signals := &stubSignals{byID: map[string]*database.Signal{
		"sig-1": {ID: "sig-1", Symbol: "005930", Status: database.StatusApproved},
	}}
	reviewer := &stubReviewer{}
	s := newTestServer(t, signals, reviewer, &stubScans{})

	w := doRequest(t, s, "POST", "/api/signals/sig-1/approve", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}
	if len(reviewer.approved) != 1 || reviewer.approved[0] != "sig-1" {
		t.Errorf("approved = %v", reviewer.approved)
	}
}

func TestApproveConflict(t *testing.T) {
	reviewer := &stubReviewer{err: fmt.Errorf("signal sig-1 is REJECTED, not PENDING")}
	s := newTestServer(t, &stubSignals{byID: map[string]*database.Signal{}}, reviewer, &stubScans{})

	w := doRequest(t, s, "POST", "/api/signals/sig-1/approve", "")
	if w.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", w.Code)
	}
}

func TestRejectSignalDefaultsReason(t *testing.T) {
	reviewer := &stubReviewer{}
	s := newTestServer(t, &stubSignals{byID: map[string]*database.Signal{}}, reviewer, &stubScans{})

	w := doRequest(t, s, "POST", "/api/signals/sig-1/reject", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if len(reviewer.rejected) != 1 {
		t.Errorf("rejected = %v", reviewer.rejected)
	}
}

func TestPortfolio(t *testing.T) {
	s := newTestServer(t, &stubSignals{byID: map[string]*database.Signal{}}, &stubReviewer{}, &stubScans{})
	w := doRequest(t, s, "GET", "/api/portfolio", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var resp struct {
		Data struct {
			TotalAssets int64 `json:"total_assets"`
		} `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Data.TotalAssets != 15_000_000 {
		t.Errorf("total assets = %d, want 15000000", resp.Data.TotalAssets)
	}
}

func TestScanResultsAndRun(t *testing.T) {
	scans := &stubScans{results: []*indicator.ScanResult{
		{Symbol: "005930", CompositeScore: 80},
		{Symbol: "000660", CompositeScore: 70},
	}}
	s := newTestServer(t, &stubSignals{byID: map[string]*database.Signal{}}, &stubReviewer{}, scans)

	w := doRequest(t, s, "GET", "/api/scan/results?limit=1", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var resp struct {
		Data []json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Data) != 1 {
		t.Errorf("results = %d, want 1", len(resp.Data))
	}

	w = doRequest(t, s, "POST", "/api/scan/run", "")
	if w.Code != http.StatusAccepted {
		t.Fatalf("run status = %d, want 202", w.Code)
	}
}

func TestCostSummary(t *testing.T) {
	s := newTestServer(t, &stubSignals{byID: map[string]*database.Signal{}}, &stubReviewer{}, &stubScans{})
	w := doRequest(t, s, "GET", "/api/cost/summary", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), "daily_budget_usd") {
		t.Errorf("summary body missing budget: %s", w.Body.String())
	}
}

func TestMeetingsRequiresSymbol(t *testing.T) {
	s := newTestServer(t, &stubSignals{byID: map[string]*database.Signal{}}, &stubReviewer{}, &stubScans{})
	if w := doRequest(t, s, "GET", "/api/meetings", ""); w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	if w := doRequest(t, s, "GET", "/api/meetings?symbol=005930", ""); w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
}
