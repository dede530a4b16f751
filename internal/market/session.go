// Package market answers "can an order execute now?" for the single market
// this system trades: a session calendar over the market's civil time zone
// with a holiday set and four tradeable windows.
package market

import (
	"fmt"
	"time"

	"krx-trading-bot/config"
)

// Session tags a timestamp with the market state it falls into.
type Session string

const (
	SessionClosed     Session = "CLOSED"
	SessionPreMarket  Session = "PRE_MARKET"
	SessionRegular    Session = "REGULAR"
	SessionPostMarket Session = "POST_MARKET"
)

type window struct {
	openMin  int // minutes since midnight, inclusive
	closeMin int // exclusive
	session  Session
}

// Calendar is static configuration: holidays plus the four session windows.
// Callers supply timestamps; the calendar never reads the clock itself.
type Calendar struct {
	loc      *time.Location
	holidays map[string]struct{}
	windows  []window
}

// NewCalendar builds a calendar from config. Window order matters for
// Session lookup but windows never overlap.
func NewCalendar(cfg config.SessionConfig) (*Calendar, error) {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid market timezone %q: %w", cfg.Timezone, err)
	}

	holidays := make(map[string]struct{}, len(cfg.Holidays))
	for _, h := range cfg.Holidays {
		holidays[h] = struct{}{}
	}

	windows := make([]window, 0, 4)
	for _, def := range []struct {
		w config.Window
		s Session
	}{
		{cfg.Regular, SessionRegular},
		{cfg.Pre, SessionPreMarket},
		{cfg.PostA, SessionPostMarket},
		{cfg.PostB, SessionPostMarket},
	} {
		open, err := parseClockMinutes(def.w.Open)
		if err != nil {
			return nil, err
		}
		closeM, err := parseClockMinutes(def.w.Close)
		if err != nil {
			return nil, err
		}
		windows = append(windows, window{openMin: open, closeMin: closeM, session: def.s})
	}

	return &Calendar{loc: loc, holidays: holidays, windows: windows}, nil
}

func parseClockMinutes(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("invalid session window time %q: %w", s, err)
	}
	return t.Hour()*60 + t.Minute(), nil
}

// Location returns the market's civil time zone.
func (c *Calendar) Location() *time.Location { return c.loc }

// Session classifies a timestamp. Window opens are inclusive and closes
// exclusive, so 09:00 is REGULAR and 15:30 is not.
func (c *Calendar) Session(t time.Time) Session {
	local := t.In(c.loc)

	if c.isHoliday(local) || isWeekend(local) {
		return SessionClosed
	}

	minutes := local.Hour()*60 + local.Minute()
	for _, w := range c.windows {
		if minutes >= w.openMin && minutes < w.closeMin {
			return w.session
		}
	}
	return SessionClosed
}

// CanExecute reports whether an order could be submitted at t, with a
// human-readable reason when it cannot.
func (c *Calendar) CanExecute(t time.Time) (bool, string) {
	session := c.Session(t)
	if session == SessionClosed {
		local := t.In(c.loc)
		switch {
		case c.isHoliday(local):
			return false, "market holiday"
		case isWeekend(local):
			return false, "weekend"
		default:
			return false, "outside trading sessions"
		}
	}
	return true, string(session)
}

// NextOpen searches forward minute by minute for the next tradeable instant,
// bounded to 30 days so a misconfigured calendar cannot spin forever.
func (c *Calendar) NextOpen(t time.Time) (time.Time, Session, error) {
	local := t.In(c.loc)
	// Align to the next whole minute; the current minute was already judged.
	cursor := local.Truncate(time.Minute).Add(time.Minute)
	limit := local.Add(30 * 24 * time.Hour)

	for !cursor.After(limit) {
		if s := c.Session(cursor); s != SessionClosed {
			return cursor, s, nil
		}
		// Skip whole closed days quickly once past the last window.
		if cursor.Hour()*60+cursor.Minute() > c.lastCloseMinute() {
			cursor = time.Date(cursor.Year(), cursor.Month(), cursor.Day(), 0, 0, 0, 0, c.loc).Add(24 * time.Hour)
			continue
		}
		cursor = cursor.Add(time.Minute)
	}
	return time.Time{}, SessionClosed, fmt.Errorf("no tradeable instant within 30 days of %s", t.Format(time.RFC3339))
}

// SecondsUntilOpen returns nil when t is already tradeable, otherwise the
// number of seconds until the next open.
func (c *Calendar) SecondsUntilOpen(t time.Time) (*int64, error) {
	if ok, _ := c.CanExecute(t); ok {
		return nil, nil
	}
	next, _, err := c.NextOpen(t)
	if err != nil {
		return nil, err
	}
	secs := int64(next.Sub(t).Seconds())
	return &secs, nil
}

func (c *Calendar) lastCloseMinute() int {
	last := 0
	for _, w := range c.windows {
		if w.closeMin > last {
			last = w.closeMin
		}
	}
	return last
}

func (c *Calendar) isHoliday(local time.Time) bool {
	_, ok := c.holidays[local.Format("2006-01-02")]
	return ok
}

func isWeekend(t time.Time) bool {
	wd := t.Weekday()
	return wd == time.Saturday || wd == time.Sunday
}
