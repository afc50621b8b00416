package scheduler

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"pricetrail/config"
)

// Window is the time of day, and optionally the days of the week, during
// which runs may start. Start and End are minutes after local midnight and
// both are inclusive; Start > End wraps past midnight.
type Window struct {
	Start int
	End   int
	Days  map[time.Weekday]bool
	Loc   *time.Location
}

// ParseWindow builds the window from scheduler configuration.
func ParseWindow(cfg config.SchedulerConfig) (Window, error) {
	w := Window{Start: 0, End: 24*60 - 1, Loc: time.Local}

	if cfg.Timezone != "" {
		loc, err := time.LoadLocation(cfg.Timezone)
		if err != nil {
			return w, fmt.Errorf("timezone %q: %w", cfg.Timezone, err)
		}
		w.Loc = loc
	}
	if cfg.WindowStart != "" {
		m, err := parseClock(cfg.WindowStart)
		if err != nil {
			return w, fmt.Errorf("window start: %w", err)
		}
		w.Start = m
	}
	if cfg.WindowEnd != "" {
		m, err := parseClock(cfg.WindowEnd)
		if err != nil {
			return w, fmt.Errorf("window end: %w", err)
		}
		w.End = m
	}
	if len(cfg.Days) > 0 {
		w.Days = make(map[time.Weekday]bool, len(cfg.Days))
		for _, d := range cfg.Days {
			w.Days[d] = true
		}
	}
	return w, nil
}

// Contains reports whether t falls inside the window. The day check uses
// the day t falls on locally, so a wrapping window that starts on an
// allowed day does not continue past midnight into a disallowed one.
func (w Window) Contains(t time.Time) bool {
	if w.Loc != nil {
		t = t.In(w.Loc)
	}
	if w.Days != nil && !w.Days[t.Weekday()] {
		return false
	}
	m := t.Hour()*60 + t.Minute()
	if w.Start <= w.End {
		return m >= w.Start && m <= w.End
	}
	return m >= w.Start || m <= w.End
}

func parseClock(s string) (int, error) {
	hh, mm, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return 0, fmt.Errorf("invalid time %q, want HH:MM", s)
	}
	h, err := strconv.Atoi(hh)
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(mm)
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid minute in %q", s)
	}
	return h*60 + m, nil
}
