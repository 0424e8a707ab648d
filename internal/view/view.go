// Package view holds the calendar's display state: which grid is shown and
// which date it is anchored on.
package view

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"webcal/internal/datemath"
)

var (
	// ErrInvalidMode is returned for mode strings other than month/week/day.
	ErrInvalidMode      = errors.New("invalid view mode")
	ErrInvalidDirection = errors.New("invalid direction")
)

// Mode is the grid granularity.
type Mode string

const (
	Month Mode = "month"
	Week  Mode = "week"
	Day   Mode = "day"
)

// ParseMode accepts "month", "week" or "day" in any case.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case Month, Week, Day:
		return m, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidMode, s)
	}
}

func (m Mode) Valid() bool {
	_, err := ParseMode(string(m))
	return err == nil
}

// Direction of a navigation request.
type Direction string

const (
	Prev  Direction = "prev"
	Next  Direction = "next"
	Today Direction = "today"
)

// ParseDirection accepts "prev"/"previous", "next" and "today".
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "prev", "previous":
		return Prev, nil
	case "next":
		return Next, nil
	case "today":
		return Today, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidDirection, s)
	}
}

// State is the current mode plus the anchor date. Anchor is always local
// midnight of a concrete day.
type State struct {
	Mode   Mode      `json:"mode"`
	Anchor time.Time `json:"anchor"`
}

// New returns a state anchored on the calendar day of anchor. An invalid
// mode falls back to Month.
func New(mode Mode, anchor time.Time) State {
	if !mode.Valid() {
		mode = Month
	}
	return State{Mode: mode, Anchor: datemath.Midnight(anchor)}
}

// AnchorKey is the anchor as a DateKey.
func (s State) AnchorKey() datemath.DateKey {
	return datemath.ToDateKey(s.Anchor)
}

// Range is an inclusive span of local dates.
type Range struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Keys returns the range bounds as date keys.
func (r Range) Keys() (datemath.DateKey, datemath.DateKey) {
	return datemath.ToDateKey(r.Start), datemath.ToDateKey(r.End)
}

// Days lists every date in the range.
func (r Range) Days() []time.Time {
	var out []time.Time
	for d := r.Start; !d.After(r.End); d = d.AddDate(0, 0, 1) {
		out = append(out, d)
	}
	return out
}

// FetchWindow converts the inclusive date range into the half-open instant
// window [start 00:00, day after end 00:00) used for backend queries.
func (r Range) FetchWindow() (time.Time, time.Time) {
	return r.Start, r.End.AddDate(0, 0, 1)
}

// VisibleRange is a pure function of mode and anchor:
//
//	Month: first..last day of the anchor's month
//	Week:  Sunday..Saturday containing the anchor
//	Day:   the anchor only
func VisibleRange(s State) Range {
	switch s.Mode {
	case Week:
		return Range{Start: datemath.WeekStart(s.Anchor), End: datemath.WeekEnd(s.Anchor)}
	case Day:
		d := datemath.Midnight(s.Anchor)
		return Range{Start: d, End: d}
	default:
		return Range{Start: datemath.MonthStart(s.Anchor), End: datemath.MonthEnd(s.Anchor)}
	}
}

// RequiresRefetch reports whether switching from oldMode to newMode must
// reload events. Every change of mode reloads; staying in a mode does not.
func RequiresRefetch(oldMode, newMode Mode) bool {
	return oldMode != newMode
}

// Advance moves the anchor one unit of the current mode. Month steps clamp
// the day of month so no month is skipped. Directions other than Prev and
// Next leave s unchanged; see Navigate for Today.
func Advance(s State, dir Direction) State {
	var step int
	switch dir {
	case Prev:
		step = -1
	case Next:
		step = 1
	default:
		return s
	}
	switch s.Mode {
	case Week:
		s.Anchor = s.Anchor.AddDate(0, 0, 7*step)
	case Day:
		s.Anchor = s.Anchor.AddDate(0, 0, step)
	default:
		s.Anchor = datemath.AddMonthsClamped(s.Anchor, step)
	}
	s.Anchor = datemath.Midnight(s.Anchor)
	return s
}

// WithMode returns s in newMode, or an error leaving s unchanged.
func WithMode(s State, newMode Mode) (State, error) {
	if !newMode.Valid() {
		return s, fmt.Errorf("%w: %q", ErrInvalidMode, newMode)
	}
	s.Mode = newMode
	return s, nil
}

// Navigate applies dir to s; Today re-anchors on now keeping the mode.
func Navigate(s State, dir Direction, now time.Time) State {
	if dir == Today {
		return New(s.Mode, now)
	}
	return Advance(s, dir)
}
