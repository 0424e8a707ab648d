package model

import (
	"errors"
	"strings"
	"time"

	"webcal/internal/datemath"
)

var (
	ErrNoExtent       = errors.New("event has neither a timed nor an all-day extent")
	ErrMixedExtent    = errors.New("event has both a timed and an all-day extent")
	ErrEndBeforeStart = errors.New("event ends before it starts")
	ErrTitleRequired  = errors.New("event title is required")
)

// Extent is the temporal span of an event. Exactly one form is set:
//
//   - timed:   Start/End are instants, StartDate/EndDate are empty
//   - all-day: StartDate/EndDate are dates, Start/End are zero
type Extent struct {
	Start time.Time `json:"start,omitzero"`
	End   time.Time `json:"end,omitzero"`

	StartDate datemath.DateKey `json:"start_date,omitempty"`
	EndDate   datemath.DateKey `json:"end_date,omitempty"`
}

// Timed builds a timed extent.
func Timed(start, end time.Time) Extent {
	return Extent{Start: start, End: end}
}

// AllDay builds an all-day extent.
func AllDay(start, end datemath.DateKey) Extent {
	return Extent{StartDate: start, EndDate: end}
}

// IsAllDay reports whether the extent is date-only.
func (x Extent) IsAllDay() bool {
	return x.StartDate != ""
}

// Duration is End-Start for timed extents and zero for all-day ones.
func (x Extent) Duration() time.Duration {
	if x.IsAllDay() {
		return 0
	}
	return x.End.Sub(x.Start)
}

// Validate enforces the one-form invariant and ordering.
func (x Extent) Validate() error {
	timed := !x.Start.IsZero() || !x.End.IsZero()
	allDay := x.StartDate != "" || x.EndDate != ""
	switch {
	case timed && allDay:
		return ErrMixedExtent
	case !timed && !allDay:
		return ErrNoExtent
	case allDay:
		if _, err := datemath.ParseDateKey(string(x.StartDate)); err != nil {
			return err
		}
		if _, err := datemath.ParseDateKey(string(x.EndDate)); err != nil {
			return err
		}
		if x.EndDate < x.StartDate {
			return ErrEndBeforeStart
		}
	default:
		if x.Start.IsZero() || x.End.IsZero() {
			return ErrNoExtent
		}
		if x.End.Before(x.Start) {
			return ErrEndBeforeStart
		}
	}
	return nil
}

// LocalDateKey is the date the event is indexed under: the all-day start
// date as-is, or the local calendar day of the timed start in loc.
func (x Extent) LocalDateKey(loc *time.Location) datemath.DateKey {
	if x.IsAllDay() {
		return x.StartDate
	}
	if loc == nil {
		loc = time.Local
	}
	return datemath.ToDateKey(x.Start.In(loc))
}

// Event is a calendar entry as returned by a backend.
type Event struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Location    string `json:"location,omitempty"`

	Extent

	// Recurring is set on expanded instances of a recurring series.
	Recurring bool `json:"recurring,omitempty"`
	// ReadOnly marks events from sources that cannot be mutated.
	ReadOnly bool `json:"read_only,omitempty"`
}

// Patch describes a partial update. Nil fields are left untouched.
type Patch struct {
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`
	Location    *string `json:"location,omitempty"`
	Extent      *Extent `json:"extent,omitempty"`
}

// Apply returns ev with p applied.
func (p Patch) Apply(ev Event) Event {
	if p.Title != nil {
		ev.Title = *p.Title
	}
	if p.Description != nil {
		ev.Description = *p.Description
	}
	if p.Location != nil {
		ev.Location = *p.Location
	}
	if p.Extent != nil {
		ev.Extent = *p.Extent
	}
	return ev
}

// Validate checks fields that are being changed.
func (p Patch) Validate() error {
	if p.Title != nil && strings.TrimSpace(*p.Title) == "" {
		return ErrTitleRequired
	}
	if p.Extent != nil {
		return p.Extent.Validate()
	}
	return nil
}

// Draft is the input for creating an event.
type Draft struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Location    string `json:"location,omitempty"`
	Extent
}

func (d Draft) Validate() error {
	if strings.TrimSpace(d.Title) == "" {
		return ErrTitleRequired
	}
	return d.Extent.Validate()
}
