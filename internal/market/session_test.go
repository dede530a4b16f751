package market

import (
	"testing"
	"time"

	"krx-trading-bot/config"
)

func testCalendar(t *testing.T, holidays ...string) *Calendar {
	t.Helper()
	cal, err := NewCalendar(config.SessionConfig{
		Timezone: "Asia/Seoul",
		Holidays: holidays,
		Regular:  config.Window{Open: "09:00", Close: "15:30"},
		Pre:      config.Window{Open: "08:30", Close: "09:00"},
		PostA:    config.Window{Open: "15:40", Close: "16:00"},
		PostB:    config.Window{Open: "18:00", Close: "18:30"},
	})
	if err != nil {
		t.Fatalf("NewCalendar: %v", err)
	}
	return cal
}

func kst(t *testing.T, value string) time.Time {
	t.Helper()
	loc, _ := time.LoadLocation("Asia/Seoul")
	ts, err := time.ParseInLocation("2006-01-02 15:04", value, loc)
	if err != nil {
		t.Fatalf("bad test time %q: %v", value, err)
	}
	return ts
}

func TestSessionBoundaries(t *testing.T) {
	cal := testCalendar(t)

	cases := []struct {
		at   string
		want Session
	}{
		{"2026-01-05 09:00", SessionRegular}, // Monday, open is inclusive
		{"2026-01-05 15:29", SessionRegular},
		{"2026-01-05 15:30", SessionClosed}, // close is exclusive
		{"2026-01-05 08:30", SessionPreMarket},
		{"2026-01-05 08:59", SessionPreMarket},
		{"2026-01-05 15:45", SessionPostMarket},
		{"2026-01-05 18:15", SessionPostMarket},
		{"2026-01-05 17:00", SessionClosed},
		{"2026-01-05 03:00", SessionClosed},
		{"2026-01-10 10:00", SessionClosed}, // Saturday
		{"2026-01-11 10:00", SessionClosed}, // Sunday
	}
	for _, tc := range cases {
		if got := cal.Session(kst(t, tc.at)); got != tc.want {
			t.Errorf("Session(%s) = %s, want %s", tc.at, got, tc.want)
		}
	}
}

func TestSessionHoliday(t *testing.T) {
	cal := testCalendar(t, "2026-01-05")

	if got := cal.Session(kst(t, "2026-01-05 10:00")); got != SessionClosed {
		t.Errorf("holiday should be CLOSED, got %s", got)
	}
	ok, reason := cal.CanExecute(kst(t, "2026-01-05 10:00"))
	if ok || reason != "market holiday" {
		t.Errorf("CanExecute on holiday = (%v, %q)", ok, reason)
	}
}

func TestCanExecuteSessions(t *testing.T) {
	cal := testCalendar(t)

	for _, at := range []string{"2026-01-05 08:45", "2026-01-05 12:00", "2026-01-05 15:50", "2026-01-05 18:10"} {
		if ok, reason := cal.CanExecute(kst(t, at)); !ok {
			t.Errorf("CanExecute(%s) = false (%s), want true", at, reason)
		}
	}
}

func TestNextOpenAcrossWeekend(t *testing.T) {
	cal := testCalendar(t)

	// Friday 21:00 -> Monday 08:30 pre-market.
	next, session, err := cal.NextOpen(kst(t, "2026-01-09 21:00"))
	if err != nil {
		t.Fatalf("NextOpen: %v", err)
	}
	if want := kst(t, "2026-01-12 08:30"); !next.Equal(want) {
		t.Errorf("NextOpen = %s, want %s", next, want)
	}
	if session != SessionPreMarket {
		t.Errorf("NextOpen session = %s, want PRE_MARKET", session)
	}
}

func TestNextOpenIntraday(t *testing.T) {
	cal := testCalendar(t)

	// The 16:00-18:00 gap resolves to the evening window.
	next, session, err := cal.NextOpen(kst(t, "2026-01-05 16:30"))
	if err != nil {
		t.Fatalf("NextOpen: %v", err)
	}
	if want := kst(t, "2026-01-05 18:00"); !next.Equal(want) {
		t.Errorf("NextOpen = %s, want %s", next, want)
	}
	if session != SessionPostMarket {
		t.Errorf("NextOpen session = %s, want POST_MARKET", session)
	}
}

func TestSecondsUntilOpen(t *testing.T) {
	cal := testCalendar(t)

	if secs, err := cal.SecondsUntilOpen(kst(t, "2026-01-05 10:00")); err != nil || secs != nil {
		t.Errorf("tradeable instant should return nil, got (%v, %v)", secs, err)
	}

	secs, err := cal.SecondsUntilOpen(kst(t, "2026-01-05 16:30"))
	if err != nil {
		t.Fatalf("SecondsUntilOpen: %v", err)
	}
	if secs == nil || *secs != 90*60 {
		t.Errorf("SecondsUntilOpen = %v, want 5400", secs)
	}
}
