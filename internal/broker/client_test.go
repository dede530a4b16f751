package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

// chartRow is one daily bar in the venue's wire shape.
type chartRow struct {
	Date   string `json:"stck_bsop_date"`
	Open   string `json:"stck_oprc"`
	High   string `json:"stck_hgpr"`
	Low    string `json:"stck_lwpr"`
	Close  string `json:"stck_clpr"`
	Volume string `json:"acml_vol"`
}

// newChartServer serves a token endpoint plus a daily chart endpoint whose
// pages come from the supplied function, keyed by the requested end date.
func newChartServer(t *testing.T, page func(endDate string) []chartRow) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/oauth2/tokenP":
			json.NewEncoder(w).Encode(map[string]interface{}{
				"access_token": "test-token",
				"token_type":   "Bearer",
				"expires_in":   86400,
			})
		case "/uapi/domestic-stock/v1/quotations/inquire-daily-itemchartprice":
			rows := page(r.URL.Query().Get("FID_INPUT_DATE_2"))
			json.NewEncoder(w).Encode(map[string]interface{}{
				"rt_cd":   "0",
				"msg1":    "ok",
				"output2": rows,
			})
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
}

func TestGetDailyPricesPagesBackwards(t *testing.T) {
	end := time.Date(2026, 8, 21, 0, 0, 0, 0, time.UTC)
	srv := newChartServer(t, func(endDate string) []chartRow {
		cursor, err := time.Parse("20060102", endDate)
		if err != nil {
			t.Fatalf("bad cursor %q: %v", endDate, err)
		}
		rows := make([]chartRow, 100)
		for i := range rows {
			d := cursor.AddDate(0, 0, -i)
			rows[i] = chartRow{
				Date:   d.Format("20060102"),
				Open:   "69000",
				High:   "71000",
				Low:    "68500",
				Close:  "70000",
				Volume: "1000000",
			}
		}
		return rows
	})
	defer srv.Close()

	c := NewClient(Config{AppKey: "k", AppSecret: "s", AccountNo: "1234567801", BaseURL: srv.URL})
	bars, err := c.GetDailyPrices(context.Background(), "005930", end)
	if err != nil {
		t.Fatalf("daily prices: %v", err)
	}
	if len(bars) < 260 {
		t.Fatalf("bars = %d, want >= 260", len(bars))
	}
	if !bars[0].Date.Equal(end) {
		t.Errorf("first bar %s, want %s (latest-first)", bars[0].Date, end)
	}
	for i := 1; i < len(bars); i++ {
		if !bars[i].Date.Before(bars[i-1].Date) {
			t.Fatalf("bars not strictly descending at %d", i)
		}
	}
}

func TestGetDailyPricesStopsOnShortHistory(t *testing.T) {
	calls := 0
	srv := newChartServer(t, func(endDate string) []chartRow {
		calls++
		if calls > 1 {
			return nil // listing younger than the requested range
		}
		return []chartRow{{Date: "20260821", Open: "100", High: "110", Low: "90", Close: "105", Volume: "10"}}
	})
	defer srv.Close()

	c := NewClient(Config{AppKey: "k", AppSecret: "s", AccountNo: "1234567801", BaseURL: srv.URL})
	bars, err := c.GetDailyPrices(context.Background(), "005930", time.Time{})
	if err != nil {
		t.Fatalf("daily prices: %v", err)
	}
	if len(bars) != 1 {
		t.Errorf("bars = %d, want 1", len(bars))
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
}

func TestGetDailyPricesUnparseablePage(t *testing.T) {
	// A page whose rows all carry malformed dates must terminate the pager,
	// not crash it or loop on a stuck cursor.
	calls := 0
	srv := newChartServer(t, func(endDate string) []chartRow {
		calls++
		return []chartRow{
			{Date: "not-a-date", Close: "70000"},
			{Date: "", Close: "70000"},
		}
	})
	defer srv.Close()

	c := NewClient(Config{AppKey: "k", AppSecret: "s", AccountNo: "1234567801", BaseURL: srv.URL})
	bars, err := c.GetDailyPrices(context.Background(), "005930", time.Date(2026, 8, 21, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("daily prices: %v", err)
	}
	if len(bars) != 0 {
		t.Errorf("bars = %d, want 0", len(bars))
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1: pager must stop when a page yields nothing", calls)
	}
}

func TestGetDailyPricesRejectedQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/oauth2/tokenP" {
			json.NewEncoder(w).Encode(map[string]interface{}{"access_token": "t", "expires_in": 86400})
			return
		}
		fmt.Fprint(w, `{"rt_cd":"1","msg1":"invalid symbol"}`)
	}))
	defer srv.Close()

	c := NewClient(Config{AppKey: "k", AppSecret: "s", AccountNo: "1234567801", BaseURL: srv.URL})
	if _, err := c.GetDailyPrices(context.Background(), "999999", time.Time{}); err == nil {
		t.Fatal("rejected query should surface as an error")
	}
}
