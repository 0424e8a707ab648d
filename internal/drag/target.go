package drag

import (
	"fmt"
	"math"
	"time"

	"webcal/internal/datemath"
	"webcal/internal/model"
)

// Point is a pointer position in screen pixels.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Rect is an axis-aligned screen rectangle.
type Rect struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// Contains is true for points inside the half-open rectangle.
func (r Rect) Contains(p Point) bool {
	return p.X >= r.X && p.X < r.X+r.W && p.Y >= r.Y && p.Y < r.Y+r.H
}

// Translate shifts r by (dx, dy).
func (r Rect) Translate(dx, dy float64) Rect {
	r.X += dx
	r.Y += dy
	return r
}

// TargetKind distinguishes timed slots from all-day cells.
type TargetKind string

const (
	TimeSlot TargetKind = "time_slot"
	AllDay   TargetKind = "all_day"
)

// DropTarget is the semantic location under the pointer. Hour and Minute
// are only meaningful for TimeSlot.
type DropTarget struct {
	Kind   TargetKind       `json:"kind"`
	Date   datemath.DateKey `json:"date"`
	Hour   int              `json:"hour,omitempty"`
	Minute int              `json:"minute,omitempty"`
}

func (t DropTarget) String() string {
	if t.Kind == AllDay {
		return fmt.Sprintf("%s (all-day)", t.Date)
	}
	return fmt.Sprintf("%s %02d:%02d", t.Date, t.Hour, t.Minute)
}

// Node is one hit-testable region of the rendered calendar. Walking Parent
// from the topmost node finds the enclosing droppable region.
type Node interface {
	Parent() Node
	Target() (DropTarget, bool)
}

// Surface is the rendered calendar as seen by the drag engine.
type Surface interface {
	// ElementRect is the on-screen rectangle of an event's representation.
	ElementRect(eventID string) (Rect, bool)
	// SetHitTestable excludes (false) or re-includes (true) an event's
	// representation from TopmostAt.
	SetHitTestable(eventID string, on bool)
	// TopmostAt returns the front-most node at p, or nil.
	TopmostAt(p Point) Node
}

// resolveTarget hides the dragged representation for exactly one query,
// then walks up from the node found.
func resolveTarget(s Surface, eventID string, p Point) (DropTarget, bool) {
	s.SetHitTestable(eventID, false)
	node := s.TopmostAt(p)
	s.SetHitTestable(eventID, true)

	for n := node; n != nil; n = n.Parent() {
		if t, ok := n.Target(); ok {
			return t, true
		}
	}
	return DropTarget{}, false
}

// Reschedule computes the extent of ev after dropping it on t. Timed events
// keep their duration in a time slot; all-day events get defaultDuration.
// Any event dropped on an all-day cell becomes a single all-day date.
func Reschedule(ev model.Event, t DropTarget, loc *time.Location, defaultDuration time.Duration) model.Extent {
	if t.Kind == AllDay {
		return model.AllDay(t.Date, t.Date)
	}
	start := datemath.At(t.Date, t.Hour, t.Minute, loc)
	dur := defaultDuration
	if !ev.IsAllDay() {
		dur = ev.Duration()
	}
	return model.Timed(start, start.Add(dur))
}

func exceeds(delta, threshold float64) bool {
	return math.Abs(delta) > threshold
}
