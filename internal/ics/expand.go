package ics

import (
	"errors"
	"strings"
	"time"

	"github.com/teambition/rrule-go"

	"webcal/internal/datemath"
	appLog "webcal/internal/log"
	"webcal/internal/model"
)

const (
	defaultMaxOccurrencesPerEvent = 5000

	instanceSep       = "_R"
	instanceStampUTC  = "20060102T150405Z"
	instanceStampDate = "20060102"
)

// ExpandConfig controls recurrence expansion.
type ExpandConfig struct {
	// DisplayLocation is the zone all-day dates are anchored in and timed
	// instants are converted to. Nil means time.Local.
	DisplayLocation *time.Location

	// RangeStart / RangeEnd is the half-open window [start, end).
	RangeStart time.Time
	RangeEnd   time.Time

	// MaxOccurrencesPerEvent caps one series. Zero means
	// defaultMaxOccurrencesPerEvent.
	MaxOccurrencesPerEvent int
}

type ExpandResult struct {
	Events []model.Event
	// TruncatedEvents lists UIDs that hit MaxOccurrencesPerEvent.
	TruncatedEvents []string
}

// InstanceID names one occurrence of a recurring series. Timed instances
// use the UTC start, all-day instances the date.
func InstanceID(uid string, start time.Time, allDay bool) string {
	if allDay {
		return uid + instanceSep + start.Format(instanceStampDate)
	}
	return uid + instanceSep + start.UTC().Format(instanceStampUTC)
}

// SplitInstanceID reverses InstanceID. ok is false for plain UIDs.
func SplitInstanceID(id string) (uid string, stamp string, ok bool) {
	i := strings.LastIndex(id, instanceSep)
	if i <= 0 {
		return id, "", false
	}
	stamp = id[i+len(instanceSep):]
	if _, err := time.Parse(instanceStampUTC, stamp); err == nil {
		return id[:i], stamp, true
	}
	if _, err := time.Parse(instanceStampDate, stamp); err == nil {
		return id[:i], stamp, true
	}
	return id, "", false
}

// ExpandOccurrences turns parsed VEVENTs into the events overlapping the
// configured window. It handles single events, RRULE series, EXDATE
// removals and RECURRENCE-ID overrides.
func ExpandOccurrences(events []ParsedEvent, cfg ExpandConfig) (ExpandResult, error) {
	var result ExpandResult

	if cfg.RangeEnd.Before(cfg.RangeStart) {
		return result, errors.New("expand: RangeEnd is before RangeStart")
	}
	if cfg.DisplayLocation == nil {
		cfg.DisplayLocation = time.Local
	}
	if cfg.MaxOccurrencesPerEvent <= 0 {
		cfg.MaxOccurrencesPerEvent = defaultMaxOccurrencesPerEvent
	}

	var order []string
	baseByUID := make(map[string][]ParsedEvent)
	overridesByUID := make(map[string][]ParsedEvent)
	for _, ev := range events {
		if ev.IsOverride && ev.Recurrence != nil {
			overridesByUID[ev.UID] = append(overridesByUID[ev.UID], ev)
			continue
		}
		if _, seen := baseByUID[ev.UID]; !seen {
			order = append(order, ev.UID)
		}
		baseByUID[ev.UID] = append(baseByUID[ev.UID], ev)
	}

	out := make([]model.Event, 0)
	for _, uid := range order {
		for _, ev := range baseByUID[uid] {
			var occ []model.Event
			var hitCap bool
			if ev.RawRRule == "" {
				occ = expandSingle(ev, cfg)
			} else {
				occ, hitCap = expandRecurring(ev, overridesByUID[uid], cfg)
			}
			out = append(out, occ...)
			if hitCap {
				result.TruncatedEvents = append(result.TruncatedEvents, uid)
				appLog.Warn("expand: occurrences truncated", "uid", uid, "cap", cfg.MaxOccurrencesPerEvent)
			}
		}
	}

	result.Events = out
	return result, nil
}

func expandSingle(ev ParsedEvent, cfg ExpandConfig) []model.Event {
	if !overlaps(ev, cfg) {
		return nil
	}
	return []model.Event{EventFrom(ev, ev.UID, false, cfg.DisplayLocation)}
}

func expandRecurring(ev ParsedEvent, overrides []ParsedEvent, cfg ExpandConfig) ([]model.Event, bool) {
	r, err := rrule.StrToRRule(ev.RawRRule)
	if err != nil {
		appLog.Error("expand: failed to parse RRULE", err, "uid", ev.UID, "rrule", ev.RawRRule)
		return nil, false
	}

	loc := cfg.DisplayLocation
	dtStart := ev.Start
	if ev.AllDay {
		dtStart = ev.StartDate.Time(loc)
	}
	r.DTStart(dtStart)

	var set rrule.Set
	set.RRule(r)
	for _, ex := range ev.ExDates {
		if ev.AllDay {
			set.ExDate(datemath.ToDateKey(ex).Time(loc))
		} else {
			set.ExDate(ex.In(dtStart.Location()))
		}
	}

	// Widen the lower bound so instances that started earlier but still
	// overlap the window are found.
	lower := cfg.RangeStart.Add(-ev.Duration())
	if ev.AllDay {
		lower = datemath.Midnight(cfg.RangeStart.In(loc)).AddDate(0, 0, -ev.span())
	}
	times := set.Between(lower.In(dtStart.Location()), cfg.RangeEnd.In(dtStart.Location()), true)

	hitCap := false
	if len(times) > cfg.MaxOccurrencesPerEvent {
		times = times[:cfg.MaxOccurrencesPerEvent]
		hitCap = true
	}

	used := make([]bool, len(overrides))
	out := make([]model.Event, 0, len(times))
	for _, t := range times {
		inst := ev
		inst.RawRRule = ""
		if ev.AllDay {
			inst.StartDate = datemath.ToDateKey(t)
			inst.EndDate = inst.StartDate.AddDays(ev.span())
		} else {
			inst.Start = t
			inst.End = t.Add(ev.Duration())
		}
		id := InstanceID(ev.UID, t, ev.AllDay)

		if i, ok := findOverride(ev, overrides, t, loc); ok {
			used[i] = true
			inst = overrides[i]
		}
		if overlaps(inst, cfg) {
			out = append(out, EventFrom(inst, id, true, loc))
		}
	}

	// Overrides that moved an instance into the window from outside it.
	for i, o := range overrides {
		if used[i] || !overlaps(o, cfg) || excluded(ev, *o.Recurrence) {
			continue
		}
		rid := *o.Recurrence
		if ev.AllDay {
			rid = datemath.ToDateKey(rid).Time(loc)
		}
		out = append(out, EventFrom(o, InstanceID(ev.UID, rid, ev.AllDay), true, loc))
	}

	return out, hitCap
}

// findOverride matches RECURRENCE-ID against an instance start: by date for
// all-day series, by instant otherwise.
func findOverride(base ParsedEvent, overrides []ParsedEvent, start time.Time, loc *time.Location) (int, bool) {
	for i, ov := range overrides {
		if ov.Recurrence == nil {
			continue
		}
		if base.AllDay {
			if datemath.ToDateKey(*ov.Recurrence) == datemath.ToDateKey(start.In(loc)) {
				return i, true
			}
			continue
		}
		if ov.Recurrence.Equal(start) {
			return i, true
		}
	}
	return -1, false
}

func excluded(base ParsedEvent, t time.Time) bool {
	for _, ex := range base.ExDates {
		if base.AllDay && datemath.ToDateKey(ex) == datemath.ToDateKey(t) {
			return true
		}
		if !base.AllDay && ex.Equal(t) {
			return true
		}
	}
	return false
}

// overlaps tests ev against [RangeStart, RangeEnd). Zero-length timed
// events count when they start inside the window.
func overlaps(ev ParsedEvent, cfg ExpandConfig) bool {
	if ev.AllDay {
		first := datemath.ToDateKey(cfg.RangeStart.In(cfg.DisplayLocation))
		last := datemath.ToDateKey(cfg.RangeEnd.In(cfg.DisplayLocation).Add(-time.Nanosecond))
		return ev.StartDate <= last && ev.EndDate >= first
	}
	if !ev.Start.Before(cfg.RangeEnd) {
		return false
	}
	return ev.End.After(cfg.RangeStart) || !ev.Start.Before(cfg.RangeStart)
}

// EventFrom converts one parsed VEVENT into an event with the given id,
// timed instants expressed in loc.
func EventFrom(ev ParsedEvent, id string, recurring bool, loc *time.Location) model.Event {
	out := model.Event{
		ID:          id,
		Title:       ev.Summary,
		Description: ev.Description,
		Location:    ev.Location,
		Recurring:   recurring,
		ReadOnly:    ev.Source.ReadOnly,
	}
	if ev.AllDay {
		out.Extent = model.AllDay(ev.StartDate, ev.EndDate)
	} else {
		out.Extent = model.Timed(ev.Start.In(loc), ev.End.In(loc))
	}
	return out
}
