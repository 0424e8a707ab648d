package ics

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	"webcal/internal/datemath"
	appLog "webcal/internal/log"
)

// ParsedEvent is one VEVENT normalized for expansion. Timed events carry
// Start/End; all-day events carry StartDate/EndDate with EndDate inclusive.
type ParsedEvent struct {
	Source Source

	UID string
	Seq int

	Summary     string
	Description string
	Location    string

	Start time.Time
	End   time.Time

	AllDay    bool
	StartDate datemath.DateKey
	EndDate   datemath.DateKey

	RawRRule string
	ExDates  []time.Time

	// Recurrence is the RECURRENCE-ID of an override, in the series' zone.
	Recurrence *time.Time
	IsOverride bool
}

// Duration of a timed event.
func (ev ParsedEvent) Duration() time.Duration {
	return ev.End.Sub(ev.Start)
}

// span is the number of extra days an all-day event covers.
func (ev ParsedEvent) span() int {
	return max(datemath.DaysBetween(ev.StartDate, ev.EndDate), 0)
}

// ParseICS parses an ICS payload. VEVENTs that fail to parse are logged and
// skipped.
func ParseICS(src Source, body []byte) ([]ParsedEvent, error) {
	if len(body) == 0 {
		return nil, errors.New("empty ICS body")
	}
	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		appLog.Error("ics parse failed", err, "id", src.ID, "url", redactURL(src.URL))
		return nil, err
	}
	events := ParseCalendar(src, cal)
	appLog.Debug("ics parse completed", "id", src.ID, "event_count", len(events))
	return events, nil
}

// ParseCalendar normalizes every VEVENT of an already parsed calendar.
func ParseCalendar(src Source, cal *ical.Calendar) []ParsedEvent {
	events := make([]ParsedEvent, 0)
	for _, comp := range cal.Events() {
		ev, err := ParseVEvent(src, comp)
		if err != nil {
			appLog.Warn("ics vevent skipped", "id", src.ID, "err", err)
			continue
		}
		events = append(events, ev)
	}
	return events
}

func ParseVEvent(src Source, ve *ical.VEvent) (ParsedEvent, error) {
	out := ParsedEvent{Source: src}

	uid := ve.GetProperty(ical.ComponentPropertyUniqueId)
	if uid == nil || uid.Value == "" {
		return out, errors.New("missing UID")
	}
	out.UID = uid.Value

	if p := ve.GetProperty(ical.ComponentPropertySequence); p != nil {
		if n, err := strconv.Atoi(strings.TrimSpace(p.Value)); err == nil {
			out.Seq = n
		}
	}
	if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil {
		out.Summary = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertyDescription); p != nil {
		out.Description = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertyLocation); p != nil {
		out.Location = p.Value
	}

	dtStart := ve.GetProperty(ical.ComponentPropertyDtStart)
	if dtStart == nil {
		return out, fmt.Errorf("%s: missing DTSTART", out.UID)
	}

	if isDateValue(&dtStart.BaseProperty) {
		out.AllDay = true
		start, err := dateKeyOf(dtStart.Value)
		if err != nil {
			return out, fmt.Errorf("%s: %w", out.UID, err)
		}
		out.StartDate, out.EndDate = start, start
		// DTEND of a date-valued event is exclusive.
		if dtEnd := ve.GetProperty(ical.ComponentPropertyDtEnd); dtEnd != nil {
			if end, err := dateKeyOf(dtEnd.Value); err == nil && end > start {
				out.EndDate = end.AddDays(-1)
			}
		}
	} else {
		start, err := ve.GetStartAt()
		if err != nil {
			return out, fmt.Errorf("%s: DTSTART: %w", out.UID, err)
		}
		out.Start, out.End = start, start
		if end, err := ve.GetEndAt(); err == nil && !end.Before(start) {
			out.End = end
		} else if d := ve.GetProperty(ical.ComponentPropertyDuration); d != nil {
			if dur, err := parseDuration(d.Value); err == nil {
				out.End = start.Add(dur)
			}
		}
	}

	if p := ve.GetProperty(ical.ComponentPropertyRrule); p != nil {
		out.RawRRule = p.Value
	}

	for _, p := range ve.GetProperties(ical.ComponentPropertyExdate) {
		for _, part := range strings.Split(p.Value, ",") {
			if t, err := parseICSTime(part, &p.BaseProperty); err == nil {
				out.ExDates = append(out.ExDates, t)
			}
		}
	}

	if rid := ve.GetProperty(ical.ComponentPropertyRecurrenceId); rid != nil {
		if t, err := parseICSTime(rid.Value, &rid.BaseProperty); err == nil {
			out.Recurrence = &t
			out.IsOverride = true
		}
	}

	return out, nil
}

func isDateValue(p *ical.BaseProperty) bool {
	if vs, ok := p.ICalParameters[string(ical.ParameterValue)]; ok && len(vs) > 0 && strings.EqualFold(vs[0], string(ical.ValueDataTypeDate)) {
		return true
	}
	return !strings.Contains(p.Value, "T")
}

func dateKeyOf(v string) (datemath.DateKey, error) {
	v = strings.TrimSpace(v)
	if len(v) < 8 {
		return "", fmt.Errorf("invalid ICS date %q", v)
	}
	t, err := time.Parse("20060102", v[:8])
	if err != nil {
		return "", err
	}
	return datemath.ToDateKey(t), nil
}

// parseICSTime parses one DATE or DATE-TIME value, honoring the property's
// TZID. Floating times and dates are read in time.Local.
func parseICSTime(v string, prop *ical.BaseProperty) (time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, errors.New("empty time value")
	}

	loc := time.Local
	if prop != nil {
		if tz, ok := prop.ICalParameters["TZID"]; ok && len(tz) == 1 {
			if l, err := time.LoadLocation(tz[0]); err == nil {
				loc = l
			}
		}
	}

	switch {
	case strings.HasSuffix(v, "Z"):
		return time.Parse("20060102T150405Z", v)
	case strings.Contains(v, "T"):
		return time.ParseInLocation("20060102T150405", v, loc)
	default:
		return time.ParseInLocation("20060102", v, loc)
	}
}

// parseDuration handles the common subset of RFC 5545 durations:
// [+-]P[nW][nD][T[nH][nM][nS]].
func parseDuration(v string) (time.Duration, error) {
	v = strings.TrimSpace(v)
	neg := strings.HasPrefix(v, "-")
	v = strings.TrimLeft(v, "+-")
	if !strings.HasPrefix(v, "P") {
		return 0, fmt.Errorf("invalid duration %q", v)
	}
	v = v[1:]

	var d time.Duration
	inTime := false
	num := 0
	digits := false
	for _, r := range v {
		switch {
		case r >= '0' && r <= '9':
			num = num*10 + int(r-'0')
			digits = true
			continue
		case r == 'T':
			inTime = true
			continue
		}
		if !digits {
			return 0, fmt.Errorf("invalid duration %q", v)
		}
		n := time.Duration(num)
		switch {
		case r == 'W' && !inTime:
			d += n * 7 * 24 * time.Hour
		case r == 'D' && !inTime:
			d += n * 24 * time.Hour
		case r == 'H' && inTime:
			d += n * time.Hour
		case r == 'M' && inTime:
			d += n * time.Minute
		case r == 'S' && inTime:
			d += n * time.Second
		default:
			return 0, fmt.Errorf("invalid duration %q", v)
		}
		num, digits = 0, false
	}
	if neg {
		d = -d
	}
	return d, nil
}
