// Package compliance implements quiet-hours suppression for automated
// outbound messages. Windows are local wall-clock ranges in the property's
// timezone and may wrap past midnight.
package compliance

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Window is a daily quiet period expressed as minutes since local midnight.
// A zero Window is disabled and contains no time.
type Window struct {
	startMinutes int
	endMinutes   int
	enabled      bool
}

// Parse builds a window from "HH:MM" bounds. Empty bounds disable the
// window. A start equal to the end is rejected since it would either never
// or always match.
func Parse(start, end string) (Window, error) {
	if start == "" && end == "" {
		return Window{}, nil
	}
	s, err := parseClock(start)
	if err != nil {
		return Window{}, fmt.Errorf("compliance: quiet hours start: %w", err)
	}
	e, err := parseClock(end)
	if err != nil {
		return Window{}, fmt.Errorf("compliance: quiet hours end: %w", err)
	}
	if s == e {
		return Window{}, fmt.Errorf("compliance: quiet hours start equals end (%s)", start)
	}
	return Window{startMinutes: s, endMinutes: e, enabled: true}, nil
}

func parseClock(v string) (int, error) {
	parts := strings.SplitN(v, ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("want HH:MM, got %q", v)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("bad hour in %q", v)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("bad minute in %q", v)
	}
	return h*60 + m, nil
}

// Enabled reports whether the window suppresses anything at all.
func (w Window) Enabled() bool { return w.enabled }

// Contains reports whether t falls inside the quiet window in the given
// location. The start is inclusive, the end exclusive.
func (w Window) Contains(t time.Time, loc *time.Location) bool {
	if !w.enabled {
		return false
	}
	local := t.In(loc)
	m := local.Hour()*60 + local.Minute()
	if w.startMinutes < w.endMinutes {
		return m >= w.startMinutes && m < w.endMinutes
	}
	// wraps midnight, e.g. 21:00-08:00
	return m >= w.startMinutes || m < w.endMinutes
}

// NextEnd returns the moment the current or upcoming quiet window ends,
// which is when a suppressed message becomes sendable. Callers should check
// Contains first; when now is outside the window NextEnd returns the end of
// the next window.
func (w Window) NextEnd(now time.Time, loc *time.Location) time.Time {
	local := now.In(loc)
	end := time.Date(local.Year(), local.Month(), local.Day(),
		w.endMinutes/60, w.endMinutes%60, 0, 0, loc)
	if !end.After(local) {
		end = end.AddDate(0, 0, 1)
	}
	return end
}
