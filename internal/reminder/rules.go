// Package reminder schedules pre-arrival messages relative to each stay's
// check-in, in the property's local timezone.
package reminder

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/stayloop/guestops/internal/properties"
)

// RuleKey names a reminder rule. The key doubles as the template rule_key
// and the idempotency marker, so a stay fires each rule at most once.
type RuleKey string

const (
	RuleTMinus3 RuleKey = "t_minus_3"
	RuleTMinus1 RuleKey = "t_minus_1"
	RuleDayOf   RuleKey = "day_of"
)

// Rule is one reminder schedule: fire daysBefore days ahead of check-in at
// the configured local wall-clock time.
type Rule struct {
	Key        RuleKey
	daysBefore int
}

// AllRules returns the rule set in firing order.
func AllRules() []Rule {
	return []Rule{
		{Key: RuleTMinus3, daysBefore: 3},
		{Key: RuleTMinus1, daysBefore: 1},
		{Key: RuleDayOf, daysBefore: 0},
	}
}

// localTime returns the configured "15:04" send time for the rule.
func (r Rule) localTime(s properties.Settings) string {
	switch r.Key {
	case RuleTMinus3:
		return s.ReminderT3Time
	case RuleTMinus1:
		return s.ReminderT1Time
	case RuleDayOf:
		return s.ReminderDayOf
	}
	return ""
}

// ScheduledAt computes when the rule fires for a stay: the configured local
// time, daysBefore days ahead of the check-in date, in the property's
// timezone.
func (r Rule) ScheduledAt(stay properties.Stay, prop properties.Property, settings properties.Settings) (time.Time, error) {
	hour, minute, err := parseClock(r.localTime(settings))
	if err != nil {
		return time.Time{}, fmt.Errorf("reminder: rule %s: %w", r.Key, err)
	}
	loc := prop.Location()
	checkIn := stay.CheckIn.In(loc)
	day := checkIn.AddDate(0, 0, -r.daysBefore)
	return time.Date(day.Year(), day.Month(), day.Day(), hour, minute, 0, 0, loc), nil
}

func parseClock(v string) (hour, minute int, err error) {
	parts := strings.SplitN(v, ":", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("want HH:MM, got %q", v)
	}
	hour, err = strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("bad hour in %q", v)
	}
	minute, err = strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("bad minute in %q", v)
	}
	return hour, minute, nil
}

// DueRules returns the rules whose scheduled time has arrived but is still
// inside the grace window. A reminder older than the grace window is skipped
// rather than sent stale.
func DueRules(stay properties.Stay, prop properties.Property, settings properties.Settings, now time.Time, grace time.Duration) []Rule {
	if stay.Status.Terminal() {
		return nil
	}
	var due []Rule
	for _, r := range AllRules() {
		at, err := r.ScheduledAt(stay, prop, settings)
		if err != nil {
			continue
		}
		if !now.Before(at) && now.Sub(at) <= grace {
			due = append(due, r)
		}
	}
	return due
}
