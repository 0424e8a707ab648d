// Package layout computes the on-screen geometry of the calendar grids. The
// same geometry is rendered by the web page and hit-tested by the drag
// controller, so a Layout doubles as a drag.Surface.
package layout

import (
	"sort"
	"strconv"
	"sync"
	"time"

	"webcal/internal/datemath"
	"webcal/internal/drag"
	"webcal/internal/model"
	"webcal/internal/view"
)

const (
	headerHeight = 24.0
	gutterWidth  = 56.0
	allDayHeight = 32.0
	chipHeight   = 18.0
	chipGap      = 2.0
	dayNumber    = 20.0
)

// Grid bounds the hour rows of the week and day views.
type Grid struct {
	DayStartHour int
	DayEndHour   int
	SlotMinutes  int
}

func DefaultGrid() Grid {
	return Grid{DayStartHour: 6, DayEndHour: 22, SlotMinutes: 30}
}

func (g Grid) normalize() Grid {
	d := DefaultGrid()
	if g.DayStartHour < 0 || g.DayStartHour > 23 {
		g.DayStartHour = d.DayStartHour
	}
	if g.DayEndHour < g.DayStartHour || g.DayEndHour > 23 {
		g.DayEndHour = d.DayEndHour
		if g.DayEndHour < g.DayStartHour {
			g.DayEndHour = 23
		}
	}
	switch g.SlotMinutes {
	case 5, 10, 15, 20, 30, 60:
	default:
		g.SlotMinutes = d.SlotMinutes
	}
	return g
}

type Viewport struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

var DefaultViewport = Viewport{Width: 1200, Height: 825}

// Source yields the events indexed under a date.
type Source interface {
	Lookup(key datemath.DateKey) []model.Event
}

// Label is a header or row caption.
type Label struct {
	Text string    `json:"text"`
	Rect drag.Rect `json:"rect"`
}

// Cell is one grid region. Droppable cells are drop targets.
type Cell struct {
	Rect      drag.Rect        `json:"rect"`
	Date      datemath.DateKey `json:"date"`
	Kind      drag.TargetKind  `json:"kind"`
	Hour      int              `json:"hour,omitempty"`
	Minute    int              `json:"minute,omitempty"`
	Label     string           `json:"label,omitempty"`
	InMonth   bool             `json:"in_month"`
	Droppable bool             `json:"droppable"`
	// More counts events that did not fit.
	More int `json:"more,omitempty"`
}

func (c *Cell) Parent() drag.Node { return nil }

func (c *Cell) Target() (drag.DropTarget, bool) {
	if !c.Droppable {
		return drag.DropTarget{}, false
	}
	t := drag.DropTarget{Kind: c.Kind, Date: c.Date}
	if c.Kind == drag.TimeSlot {
		t.Hour, t.Minute = c.Hour, c.Minute
	}
	return t, true
}

// Chip is the drawn representation of one event, nested in the cell the
// event starts in.
type Chip struct {
	EventID  string    `json:"event_id"`
	Title    string    `json:"title"`
	Time     string    `json:"time,omitempty"`
	AllDay   bool      `json:"all_day"`
	ReadOnly bool      `json:"read_only,omitempty"`
	Rect     drag.Rect `json:"rect"`
	Cell     int       `json:"cell"`

	cell *Cell
}

func (c *Chip) Parent() drag.Node { return c.cell }

func (c *Chip) Target() (drag.DropTarget, bool) { return drag.DropTarget{}, false }

type Layout struct {
	Mode     view.Mode  `json:"mode"`
	Range    view.Range `json:"range"`
	Title    string     `json:"title"`
	Viewport Viewport   `json:"viewport"`
	Columns  []Label    `json:"columns"`
	Rows     []Label    `json:"rows,omitempty"`
	Cells    []*Cell    `json:"cells"`
	Chips    []*Chip    `json:"chips"`

	loc    *time.Location
	mu     sync.Mutex
	hidden map[string]bool
}

// Build lays out the visible range of s inside vp.
func Build(s view.State, src Source, vp Viewport, g Grid, loc *time.Location) *Layout {
	if vp.Width <= 0 || vp.Height <= 0 {
		vp = DefaultViewport
	}
	if loc == nil {
		loc = time.Local
	}
	l := &Layout{
		Mode:     s.Mode,
		Range:    view.VisibleRange(s),
		Viewport: vp,
		loc:      loc,
		hidden:   make(map[string]bool),
	}
	g = g.normalize()

	switch s.Mode {
	case view.Week:
		l.Title = weekTitle(l.Range)
		l.buildTimeGrid(l.Range.Days(), 60, src, g)
	case view.Day:
		l.Title = s.Anchor.Format("Monday, January 2, 2006")
		l.buildTimeGrid(l.Range.Days(), g.SlotMinutes, src, g)
	default:
		l.Title = s.Anchor.Format("January 2006")
		l.buildMonth(s.Anchor, src)
	}
	return l
}

func weekTitle(r view.Range) string {
	if r.Start.Month() == r.End.Month() {
		return r.Start.Format("Jan 2") + " - " + r.End.Format("2, 2006")
	}
	return r.Start.Format("Jan 2") + " - " + r.End.Format("Jan 2, 2006")
}

func (l *Layout) buildMonth(anchor time.Time, src Source) {
	first := datemath.WeekStart(l.Range.Start)
	last := datemath.WeekEnd(l.Range.End)
	weeks := 0
	for d := first; !d.After(last); d = d.AddDate(0, 0, 7) {
		weeks++
	}

	colW := l.Viewport.Width / 7
	rowH := (l.Viewport.Height - headerHeight) / float64(weeks)
	for i := 0; i < 7; i++ {
		l.Columns = append(l.Columns, Label{
			Text: first.AddDate(0, 0, i).Weekday().String()[:3],
			Rect: drag.Rect{X: float64(i) * colW, Y: 0, W: colW, H: headerHeight},
		})
	}

	d := first
	for w := 0; w < weeks; w++ {
		for c := 0; c < 7; c++ {
			in := d.Month() == anchor.Month()
			cell := &Cell{
				Rect:      drag.Rect{X: float64(c) * colW, Y: headerHeight + float64(w)*rowH, W: colW, H: rowH},
				Date:      datemath.ToDateKey(d),
				Kind:      drag.AllDay,
				Label:     strconv.Itoa(d.Day()),
				InMonth:   in,
				Droppable: in,
			}
			l.Cells = append(l.Cells, cell)
			if in {
				l.stack(cell, src.Lookup(cell.Date), cell.Rect.Y+dayNumber, cell.Rect.Y+cell.Rect.H)
			}
			d = d.AddDate(0, 0, 1)
		}
	}
}

// stack places chips top-down inside cell between top and bottom.
func (l *Layout) stack(cell *Cell, evs []model.Event, top, bottom float64) {
	idx := len(l.Cells) - 1
	for i, ev := range evs {
		y := top + float64(i)*(chipHeight+chipGap)
		if y+chipHeight > bottom {
			cell.More = len(evs) - i
			return
		}
		l.Chips = append(l.Chips, l.chip(ev, cell, idx, drag.Rect{
			X: cell.Rect.X + 2, Y: y, W: cell.Rect.W - 4, H: chipHeight,
		}))
	}
}

func (l *Layout) chip(ev model.Event, cell *Cell, idx int, r drag.Rect) *Chip {
	c := &Chip{
		EventID:  ev.ID,
		Title:    ev.Title,
		AllDay:   ev.IsAllDay(),
		ReadOnly: ev.ReadOnly,
		Rect:     r,
		Cell:     idx,
		cell:     cell,
	}
	if !c.AllDay {
		c.Time = datemath.ClockString(ev.Start.In(l.loc))
	}
	return c
}

func (l *Layout) buildTimeGrid(days []time.Time, slot int, src Source, g Grid) {
	perHour := 60 / slot
	rows := (g.DayEndHour - g.DayStartHour + 1) * perHour
	top := headerHeight + allDayHeight
	colW := (l.Viewport.Width - gutterWidth) / float64(len(days))
	rowH := (l.Viewport.Height - top) / float64(rows)

	for r := 0; r < rows; r++ {
		h, m := g.DayStartHour+r/perHour, (r%perHour)*slot
		text := datemath.HourLabel(h)
		if slot < 60 {
			text = datemath.SlotLabel(h, m)
		}
		l.Rows = append(l.Rows, Label{Text: text, Rect: drag.Rect{X: 0, Y: top + float64(r)*rowH, W: gutterWidth, H: rowH}})
	}

	for i, d := range days {
		x := gutterWidth + float64(i)*colW
		key := datemath.ToDateKey(d)
		l.Columns = append(l.Columns, Label{
			Text: d.Format("Mon 1/2"),
			Rect: drag.Rect{X: x, Y: 0, W: colW, H: headerHeight},
		})

		strip := &Cell{
			Rect:      drag.Rect{X: x, Y: headerHeight, W: colW, H: allDayHeight},
			Date:      key,
			Kind:      drag.AllDay,
			InMonth:   true,
			Droppable: true,
		}
		l.Cells = append(l.Cells, strip)
		stripIdx := len(l.Cells) - 1

		slots := make([]int, rows)
		for r := 0; r < rows; r++ {
			h, m := g.DayStartHour+r/perHour, (r%perHour)*slot
			l.Cells = append(l.Cells, &Cell{
				Rect:      drag.Rect{X: x, Y: top + float64(r)*rowH, W: colW, H: rowH},
				Date:      key,
				Kind:      drag.TimeSlot,
				Hour:      h,
				Minute:    m,
				InMonth:   true,
				Droppable: true,
			})
			slots[r] = len(l.Cells) - 1
		}

		var allDay, timed []model.Event
		for _, ev := range src.Lookup(key) {
			if ev.IsAllDay() {
				allDay = append(allDay, ev)
			} else {
				timed = append(timed, ev)
			}
		}

		if n := len(allDay); n > 0 {
			h := (allDayHeight - 4) / float64(n)
			for j, ev := range allDay {
				l.Chips = append(l.Chips, l.chip(ev, strip, stripIdx, drag.Rect{
					X: x + 2, Y: headerHeight + 2 + float64(j)*h, W: colW - 4, H: h,
				}))
			}
		}
		l.placeTimed(timed, slots, g, slot, top, rowH)
	}
}

// placeTimed positions timed chips by start minute and duration, splitting
// the column into lanes where events overlap.
func (l *Layout) placeTimed(evs []model.Event, slots []int, g Grid, slot int, top, rowH float64) {
	if len(evs) == 0 {
		return
	}
	sort.SliceStable(evs, func(i, j int) bool { return evs[i].Start.Before(evs[j].Start) })

	span := len(slots) * slot
	lanes := []time.Time{}
	laneOf := make([]int, len(evs))
	for i, ev := range evs {
		lane := -1
		for k, end := range lanes {
			if !end.After(ev.Start) {
				lane = k
				break
			}
		}
		if lane < 0 {
			lanes = append(lanes, time.Time{})
			lane = len(lanes) - 1
		}
		lanes[lane] = ev.End
		laneOf[i] = lane
	}

	for i, ev := range evs {
		st := ev.Start.In(l.loc)
		offset := (st.Hour()-g.DayStartHour)*60 + st.Minute()
		offset = max(0, min(offset, span-slot))
		cell := l.Cells[slots[offset/slot]]
		colW := cell.Rect.W / float64(len(lanes))

		y := top + float64(offset)/float64(slot)*rowH
		h := ev.Duration().Minutes() / float64(slot) * rowH
		h = max(h, rowH/2)
		h = min(h, top+float64(len(slots))*rowH-y)

		l.Chips = append(l.Chips, l.chip(ev, cell, slots[offset/slot], drag.Rect{
			X: cell.Rect.X + float64(laneOf[i])*colW + 1, Y: y, W: colW - 2, H: h,
		}))
	}
}

// Chip returns the chip drawn for eventID.
func (l *Layout) Chip(eventID string) (*Chip, bool) {
	for _, c := range l.Chips {
		if c.EventID == eventID {
			return c, true
		}
	}
	return nil, false
}

func (l *Layout) ElementRect(eventID string) (drag.Rect, bool) {
	c, ok := l.Chip(eventID)
	if !ok {
		return drag.Rect{}, false
	}
	return c.Rect, true
}

func (l *Layout) SetHitTestable(eventID string, on bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if on {
		delete(l.hidden, eventID)
	} else {
		l.hidden[eventID] = true
	}
}

// TopmostAt returns the front-most chip at p, falling back to the cell.
func (l *Layout) TopmostAt(p drag.Point) drag.Node {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := len(l.Chips) - 1; i >= 0; i-- {
		c := l.Chips[i]
		if !l.hidden[c.EventID] && c.Rect.Contains(p) {
			return c
		}
	}
	for i := len(l.Cells) - 1; i >= 0; i-- {
		if l.Cells[i].Rect.Contains(p) {
			return l.Cells[i]
		}
	}
	return nil
}
