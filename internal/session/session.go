// Package session gates sweeps on a trading calendar.
package session

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// IST is the Indian Standard Time location (UTC+5:30).
var IST = time.FixedZone("IST", 5*3600+30*60)

// Calendar describes when an exchange trades.
// Open and Close are minutes after local midnight.
type Calendar struct {
	Location *time.Location
	Open     int
	Close    int
	Grace    time.Duration // sweeps still run this long after Close
	Holidays map[string]bool
}

// NSE returns the NSE cash-market calendar (9:15–15:30 IST) with the 2026
// holiday list.
func NSE() *Calendar {
	c := &Calendar{
		Location: IST,
		Open:     9*60 + 15,
		Close:    15*60 + 30,
		Grace:    5 * time.Minute,
		Holidays: make(map[string]bool, len(nseHolidays2026)),
	}
	for _, h := range nseHolidays2026 {
		c.Holidays[dateKey(2026, h.month, h.day)] = true
	}
	return c
}

// ParseClock parses "HH:MM" into minutes after midnight.
func ParseClock(s string) (int, error) {
	hh, mm, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return 0, fmt.Errorf("clock %q: want HH:MM", s)
	}
	h, err := strconv.Atoi(hh)
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("clock %q: bad hour", s)
	}
	m, err := strconv.Atoi(mm)
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("clock %q: bad minute", s)
	}
	return h*60 + m, nil
}

// AddHolidays adds "2006-01-02" dates to the calendar.
func (c *Calendar) AddHolidays(dates []string) error {
	if c.Holidays == nil {
		c.Holidays = make(map[string]bool)
	}
	for _, d := range dates {
		d = strings.TrimSpace(d)
		if d == "" {
			continue
		}
		if _, err := time.ParseInLocation("2006-01-02", d, c.loc()); err != nil {
			return fmt.Errorf("holiday %q: %w", d, err)
		}
		c.Holidays[d] = true
	}
	return nil
}

func (c *Calendar) loc() *time.Location {
	if c.Location == nil {
		return time.UTC
	}
	return c.Location
}

// IsHoliday returns true if the local date of t is a holiday.
func (c *Calendar) IsHoliday(t time.Time) bool {
	return c.Holidays[t.In(c.loc()).Format("2006-01-02")]
}

// IsTradingDay returns true if t is Mon–Fri and not a holiday.
func (c *Calendar) IsTradingDay(t time.Time) bool {
	local := t.In(c.loc())
	wd := local.Weekday()
	return wd >= time.Monday && wd <= time.Friday && !c.IsHoliday(local)
}

// IsOpen returns true if t is inside trading hours on a trading day.
func (c *Calendar) IsOpen(t time.Time) bool {
	if !c.IsTradingDay(t) {
		return false
	}
	local := t.In(c.loc())
	hm := local.Hour()*60 + local.Minute()
	return hm >= c.Open && hm < c.Close
}

// ShouldSweep is IsOpen extended by the post-close grace period.
func (c *Calendar) ShouldSweep(t time.Time) bool {
	if c.IsOpen(t) {
		return true
	}
	if !c.IsTradingDay(t) || c.Grace <= 0 {
		return false
	}
	cl := c.todayAt(t, c.Close)
	local := t.In(c.loc())
	return !local.Before(cl) && local.Before(cl.Add(c.Grace))
}

func (c *Calendar) todayAt(t time.Time, minutes int) time.Time {
	local := t.In(c.loc())
	return time.Date(local.Year(), local.Month(), local.Day(), minutes/60, minutes%60, 0, 0, c.loc())
}

// NextOpen returns the next session open at or after t.
func (c *Calendar) NextOpen(t time.Time) time.Time {
	local := t.In(c.loc())
	todayOpen := c.todayAt(local, c.Open)
	if local.Before(todayOpen) && c.IsTradingDay(local) {
		return todayOpen
	}
	d := local.AddDate(0, 0, 1)
	for i := 0; i < 30; i++ {
		if c.IsTradingDay(d) {
			return c.todayAt(d, c.Open)
		}
		d = d.AddDate(0, 0, 1)
	}
	return c.todayAt(local.AddDate(0, 0, 1), c.Open)
}

// Status returns a human-readable session status.
func (c *Calendar) Status(t time.Time) string {
	if c.IsOpen(t) {
		return fmt.Sprintf("open, closes in %s", fmtDur(c.todayAt(t, c.Close).Sub(t)))
	}
	next := c.NextOpen(t)
	return fmt.Sprintf("closed, opens %s %s (%s)",
		next.Weekday().String()[:3], next.Format("15:04"), fmtDur(next.Sub(t)))
}

func fmtDur(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	if h > 0 {
		return fmt.Sprintf("%dh%dm", h, m)
	}
	return fmt.Sprintf("%dm", m)
}
