package reminder

import (
	"testing"
	"time"

	"github.com/stayloop/guestops/internal/properties"
)

func denverStay(t *testing.T) (properties.Stay, properties.Property, properties.Settings) {
	t.Helper()
	loc, err := time.LoadLocation("America/Denver")
	if err != nil {
		t.Fatalf("LoadLocation: %v", err)
	}
	stay := properties.Stay{
		Status:  properties.StayBooked,
		CheckIn: time.Date(2024, 6, 10, 15, 0, 0, 0, loc),
	}
	prop := properties.Property{Timezone: "America/Denver"}
	settings := properties.Settings{
		ReminderT3Time: "09:00",
		ReminderT1Time: "10:30",
		ReminderDayOf:  "08:00",
	}
	return stay, prop, settings
}

func TestScheduledAtUsesPropertyTimezone(t *testing.T) {
	stay, prop, settings := denverStay(t)
	loc := prop.Location()

	cases := []struct {
		rule Rule
		want time.Time
	}{
		{Rule{Key: RuleTMinus3, daysBefore: 3}, time.Date(2024, 6, 7, 9, 0, 0, 0, loc)},
		{Rule{Key: RuleTMinus1, daysBefore: 1}, time.Date(2024, 6, 9, 10, 30, 0, 0, loc)},
		{Rule{Key: RuleDayOf, daysBefore: 0}, time.Date(2024, 6, 10, 8, 0, 0, 0, loc)},
	}
	for _, c := range cases {
		at, err := c.rule.ScheduledAt(stay, prop, settings)
		if err != nil {
			t.Fatalf("ScheduledAt(%s): %v", c.rule.Key, err)
		}
		if !at.Equal(c.want) {
			t.Errorf("ScheduledAt(%s) = %s, want %s", c.rule.Key, at, c.want)
		}
	}
}

func TestDueRulesInsideGraceWindow(t *testing.T) {
	stay, prop, settings := denverStay(t)
	loc := prop.Location()

	// five minutes after the T-3 time
	now := time.Date(2024, 6, 7, 9, 5, 0, 0, loc)
	due := DueRules(stay, prop, settings, now, time.Hour)
	if len(due) != 1 || due[0].Key != RuleTMinus3 {
		t.Fatalf("due = %v, want [t_minus_3]", due)
	}

	// exactly at the scheduled time
	due = DueRules(stay, prop, settings, time.Date(2024, 6, 7, 9, 0, 0, 0, loc), time.Hour)
	if len(due) != 1 {
		t.Errorf("due at scheduled instant = %v", due)
	}

	// one minute before: nothing yet
	due = DueRules(stay, prop, settings, time.Date(2024, 6, 7, 8, 59, 0, 0, loc), time.Hour)
	if len(due) != 0 {
		t.Errorf("due before schedule = %v", due)
	}
}

func TestDueRulesSkipsStaleReminders(t *testing.T) {
	stay, prop, settings := denverStay(t)
	loc := prop.Location()

	// two hours late with a one-hour grace: skip, don't send stale
	now := time.Date(2024, 6, 7, 11, 0, 0, 0, loc)
	if due := DueRules(stay, prop, settings, now, time.Hour); len(due) != 0 {
		t.Errorf("stale rule still due: %v", due)
	}
}

func TestDueRulesIgnoresTerminalStays(t *testing.T) {
	stay, prop, settings := denverStay(t)
	stay.Status = properties.StayCancelled
	now := time.Date(2024, 6, 7, 9, 5, 0, 0, prop.Location())
	if due := DueRules(stay, prop, settings, now, time.Hour); len(due) != 0 {
		t.Errorf("cancelled stay still due: %v", due)
	}
}

func TestScheduledAtRejectsBadClock(t *testing.T) {
	stay, prop, settings := denverStay(t)
	settings.ReminderT3Time = "9am"
	if _, err := (Rule{Key: RuleTMinus3, daysBefore: 3}).ScheduledAt(stay, prop, settings); err == nil {
		t.Error("bad clock value should fail")
	}
}
