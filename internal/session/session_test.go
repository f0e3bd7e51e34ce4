package session

import (
	"testing"
	"time"
)

func ist(y int, m time.Month, d, hh, mm int) time.Time {
	return time.Date(y, m, d, hh, mm, 0, 0, IST)
}

func TestNSE_IsOpen(t *testing.T) {
	c := NSE()
	tests := []struct {
		name string
		t    time.Time
		want bool
	}{
		{"monday_mid_session", ist(2026, time.March, 2, 11, 0), true},
		{"at_open", ist(2026, time.March, 2, 9, 15), true},
		{"before_open", ist(2026, time.March, 2, 9, 14), false},
		{"at_close", ist(2026, time.March, 2, 15, 30), false},
		{"saturday", ist(2026, time.March, 7, 11, 0), false},
		{"good_friday", ist(2026, time.April, 10, 11, 0), false},
		{"utc_input", time.Date(2026, time.March, 2, 5, 30, 0, 0, time.UTC), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := c.IsOpen(tt.t); got != tt.want {
				t.Errorf("IsOpen(%v) = %v, want %v", tt.t, got, tt.want)
			}
		})
	}
}

func TestNSE_ShouldSweepGrace(t *testing.T) {
	c := NSE()
	if !c.ShouldSweep(ist(2026, time.March, 2, 15, 32)) {
		t.Error("expected sweep inside post-close grace")
	}
	if c.ShouldSweep(ist(2026, time.March, 2, 15, 40)) {
		t.Error("expected no sweep after grace")
	}
	if c.ShouldSweep(ist(2026, time.March, 7, 15, 31)) {
		t.Error("expected no sweep on a weekend")
	}
}

func TestNextOpen(t *testing.T) {
	c := NSE()
	// Thursday 9 April after close; Friday 10th is Good Friday, so Monday 13th.
	got := c.NextOpen(ist(2026, time.April, 9, 16, 0))
	want := ist(2026, time.April, 13, 9, 15)
	if !got.Equal(want) {
		t.Errorf("NextOpen = %v, want %v", got, want)
	}

	got = c.NextOpen(ist(2026, time.March, 2, 8, 0))
	want = ist(2026, time.March, 2, 9, 15)
	if !got.Equal(want) {
		t.Errorf("NextOpen before open = %v, want %v", got, want)
	}
}

func TestParseClock(t *testing.T) {
	if m, err := ParseClock("09:15"); err != nil || m != 555 {
		t.Errorf("ParseClock(09:15) = %d, %v", m, err)
	}
	for _, bad := range []string{"9", "25:00", "10:75", "ab:cd"} {
		if _, err := ParseClock(bad); err == nil {
			t.Errorf("ParseClock(%q) expected error", bad)
		}
	}
}

func TestAddHolidays(t *testing.T) {
	c := &Calendar{Location: time.UTC, Open: 0, Close: 24 * 60}
	if err := c.AddHolidays([]string{"2025-12-31", " "}); err != nil {
		t.Fatalf("AddHolidays: %v", err)
	}
	if c.IsOpen(time.Date(2025, 12, 31, 12, 0, 0, 0, time.UTC)) {
		t.Error("expected custom holiday to be closed")
	}
	if err := c.AddHolidays([]string{"31/12/2025"}); err == nil {
		t.Error("expected error for malformed date")
	}
}
