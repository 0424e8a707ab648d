// Package datemath holds the calendar arithmetic shared by the index, the
// view state and the drag engine. Every function works in an explicit local
// *time.Location; nothing here converts through UTC.
package datemath

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const keyLayout = "2006-01-02"

// DateKey is a local calendar date formatted as YYYY-MM-DD. The format is
// fixed-width, so string order equals chronological order.
type DateKey string

// ParseDateKey validates s and returns it as a DateKey.
func ParseDateKey(s string) (DateKey, error) {
	s = strings.TrimSpace(s)
	if _, err := time.Parse(keyLayout, s); err != nil {
		return "", fmt.Errorf("datemath: invalid date key %q: %w", s, err)
	}
	return DateKey(s), nil
}

func (k DateKey) String() string { return string(k) }

// Time returns local midnight of k in loc. An invalid key yields the zero time.
func (k DateKey) Time(loc *time.Location) time.Time {
	t, err := time.ParseInLocation(keyLayout, string(k), orLocal(loc))
	if err != nil {
		return time.Time{}
	}
	return t
}

// AddDays shifts the key by n calendar days.
func (k DateKey) AddDays(n int) DateKey {
	t, err := time.ParseInLocation(keyLayout, string(k), time.UTC)
	if err != nil {
		return k
	}
	return DateKey(t.AddDate(0, 0, n).Format(keyLayout))
}

// DaysBetween counts calendar days from a to b. Unparseable keys give 0.
func DaysBetween(a, b DateKey) int {
	ta, err1 := time.ParseInLocation(keyLayout, string(a), time.UTC)
	tb, err2 := time.ParseInLocation(keyLayout, string(b), time.UTC)
	if err1 != nil || err2 != nil {
		return 0
	}
	return int(tb.Sub(ta).Hours() / 24)
}

// ToDateKey formats the local calendar date of t. t is read in its own
// location; callers convert with t.In(loc) first when t is an instant.
func ToDateKey(t time.Time) DateKey {
	return DateKey(fmt.Sprintf("%04d-%02d-%02d", t.Year(), int(t.Month()), t.Day()))
}

// Midnight truncates t to 00:00 of its calendar day in its own location.
func Midnight(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// WeekStart returns midnight of the Sunday of the week containing t.
func WeekStart(t time.Time) time.Time {
	d := Midnight(t)
	return d.AddDate(0, 0, -int(d.Weekday()))
}

// WeekEnd returns midnight of the Saturday of the week containing t.
func WeekEnd(t time.Time) time.Time {
	return WeekStart(t).AddDate(0, 0, 6)
}

// MonthStart returns midnight of the first day of t's month.
func MonthStart(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
}

// MonthEnd returns midnight of the last day of t's month.
func MonthEnd(t time.Time) time.Time {
	return MonthStart(t).AddDate(0, 1, -1)
}

// DaysIn returns the number of days in t's month.
func DaysIn(t time.Time) int {
	return MonthEnd(t).Day()
}

// AddMonthsClamped moves t by n months, clamping the day so that
// Jan 31 + 1 month is the last day of February rather than early March.
func AddMonthsClamped(t time.Time, n int) time.Time {
	first := time.Date(t.Year(), t.Month()+time.Month(n), 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
	day := t.Day()
	if last := DaysIn(first); day > last {
		day = last
	}
	return first.AddDate(0, 0, day-1)
}

// CombineLocal builds an instant in loc from a date key and an optional
// "HH:MM" clock. With an empty clock it returns local midnight, the all-day
// boundary for that date.
func CombineLocal(key DateKey, clock string, loc *time.Location) (time.Time, error) {
	day, err := time.ParseInLocation(keyLayout, string(key), orLocal(loc))
	if err != nil {
		return time.Time{}, fmt.Errorf("datemath: invalid date key %q: %w", key, err)
	}
	clock = strings.TrimSpace(clock)
	if clock == "" {
		return day, nil
	}
	h, m, err := parseClock(clock)
	if err != nil {
		return time.Time{}, err
	}
	return time.Date(day.Year(), day.Month(), day.Day(), h, m, 0, 0, day.Location()), nil
}

// At is CombineLocal for numeric hour/minute already known to be valid.
func At(key DateKey, hour, minute int, loc *time.Location) time.Time {
	day := key.Time(loc)
	return time.Date(day.Year(), day.Month(), day.Day(), hour, minute, 0, 0, day.Location())
}

func parseClock(clock string) (int, int, error) {
	hs, ms, ok := strings.Cut(clock, ":")
	if !ok {
		return 0, 0, fmt.Errorf("datemath: invalid clock %q", clock)
	}
	h, err := strconv.Atoi(hs)
	if err != nil || h < 0 || h > 23 {
		return 0, 0, fmt.Errorf("datemath: invalid hour in %q", clock)
	}
	m, err := strconv.Atoi(ms)
	if err != nil || m < 0 || m > 59 {
		return 0, 0, fmt.Errorf("datemath: invalid minute in %q", clock)
	}
	return h, m, nil
}

// ClockString formats t as "HH:MM".
func ClockString(t time.Time) string {
	return fmt.Sprintf("%02d:%02d", t.Hour(), t.Minute())
}

// HourLabel renders 0..23 as "12 AM" .. "11 PM". Out-of-range input is a
// programming error.
func HourLabel(hour int) string {
	if hour < 0 || hour > 23 {
		panic(fmt.Sprintf("datemath: hour %d out of range", hour))
	}
	switch {
	case hour == 0:
		return "12 AM"
	case hour < 12:
		return fmt.Sprintf("%d AM", hour)
	case hour == 12:
		return "12 PM"
	default:
		return fmt.Sprintf("%d PM", hour-12)
	}
}

// SlotLabel renders a day-view slot start such as "9:30 AM".
func SlotLabel(hour, minute int) string {
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		panic(fmt.Sprintf("datemath: slot %d:%d out of range", hour, minute))
	}
	h := hour % 12
	if h == 0 {
		h = 12
	}
	period := "AM"
	if hour >= 12 {
		period = "PM"
	}
	return fmt.Sprintf("%d:%02d %s", h, minute, period)
}

func orLocal(loc *time.Location) *time.Location {
	if loc == nil {
		return time.Local
	}
	return loc
}
