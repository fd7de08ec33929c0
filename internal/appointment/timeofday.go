package appointment

import (
	"fmt"
	"time"
)

const (
	DateLayout      = "2006-01-02"
	TimeOfDayLayout = "15:04"

	minutesPerDay = 24 * 60
)

// EndOfDay is midnight at the end of the day. It closes a range but never starts a slot.
const EndOfDay = TimeOfDay(minutesPerDay)

// TimeOfDay is a wall-clock start time expressed in minutes after midnight.
type TimeOfDay int

func NewTimeOfDay(hour, minute int) TimeOfDay {
	return TimeOfDay(hour*60 + minute)
}

// ParseTimeOfDay accepts "HH:MM" and "HH:MM:SS". Seconds must be zero.
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	for _, layout := range []string{TimeOfDayLayout, "15:04:05"} {
		t, err := time.Parse(layout, s)
		if err != nil {
			continue
		}
		if t.Second() != 0 {
			return 0, fmt.Errorf("time %q has non-zero seconds", s)
		}
		return NewTimeOfDay(t.Hour(), t.Minute()), nil
	}
	return 0, fmt.Errorf("time %q is not HH:MM", s)
}

// ParseRangeEnd is ParseTimeOfDay that also accepts "24:00" for the end of the day.
func ParseRangeEnd(s string) (TimeOfDay, error) {
	if s == "24:00" || s == "24:00:00" {
		return EndOfDay, nil
	}
	return ParseTimeOfDay(s)
}

func (t TimeOfDay) Hour() int   { return int(t) / 60 }
func (t TimeOfDay) Minute() int { return int(t) % 60 }

func (t TimeOfDay) Valid() bool {
	return t >= 0 && t < minutesPerDay
}

func (t TimeOfDay) Add(minutes int) TimeOfDay {
	return t + TimeOfDay(minutes)
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour(), t.Minute())
}

// DateOf truncates t to its calendar date at UTC midnight.
func DateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("date %q is not YYYY-MM-DD", s)
	}
	return t, nil
}
