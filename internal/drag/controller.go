// Package drag implements pointer-driven rescheduling: a press on an event
// becomes a drag once the pointer leaves a small dead zone, and a release
// over a droppable region commits the new time to the calendar backend.
package drag

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"webcal/internal/calendar"
	appLog "webcal/internal/log"
	"webcal/internal/model"
)

var (
	ErrSessionActive  = errors.New("a drag session is already active")
	ErrNoSession      = errors.New("no drag session is active")
	ErrCommitInFlight = errors.New("event has an update in flight")
	ErrUnknownEvent   = errors.New("event is not rendered")
	ErrInvalidGesture = errors.New("gesture is missing an event id")
)

// State of the controller.
type State string

const (
	Idle        State = "idle"
	PointerDown State = "pointer_down"
	Dragging    State = "dragging"
	Settling    State = "settling"
)

// Session is the transient record of one gesture. It exists from press to
// release and is discarded afterwards.
type Session struct {
	EventID           string `json:"event_id"`
	Origin            Point  `json:"origin"`
	Current           Point  `json:"current"`
	OriginRect        Rect   `json:"origin_rect"`
	ThresholdExceeded bool   `json:"threshold_exceeded"`

	event   model.Event
	surface Surface
}

// Frame is what the renderer needs after a pointer move.
type Frame struct {
	State  State       `json:"state"`
	Rect   Rect        `json:"rect"`
	Target *DropTarget `json:"target,omitempty"`
}

type Severity string

const (
	SeverityInfo    Severity = "info"
	SeveritySuccess Severity = "success"
	SeverityError   Severity = "error"
)

type Notice struct {
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
}

type Notifier interface {
	Notify(n Notice)
}

// Refresher reloads the visible range after a successful commit.
type Refresher interface {
	Refresh(ctx context.Context) error
}

// Lookup resolves an event id to its indexed copy.
type Lookup interface {
	FindByID(id string) (model.Event, bool)
}

// Updater is the part of calendar.Client the controller needs.
type Updater interface {
	UpdateEvent(ctx context.Context, id string, p model.Patch) (model.Event, error)
}

type Options struct {
	// Threshold is the dead zone in pixels on either axis.
	Threshold float64
	// DefaultDuration is given to all-day events dropped on a time slot.
	DefaultDuration time.Duration
	CommitTimeout   time.Duration
	Location        *time.Location
}

func (o Options) withDefaults() Options {
	if o.Threshold <= 0 {
		o.Threshold = 5
	}
	if o.DefaultDuration <= 0 {
		o.DefaultDuration = time.Hour
	}
	if o.CommitTimeout <= 0 {
		o.CommitTimeout = 15 * time.Second
	}
	if o.Location == nil {
		o.Location = time.Local
	}
	return o
}

// Claimer is a per-event single-flight registry shared with other writers.
// Claim reports false while another write on the event is outstanding.
type Claimer interface {
	Claim(eventID string) bool
	Release(eventID string)
}

// Hooks wires the controller to the rest of the app. Client returning nil
// means there is no usable credential; such commits fail without a call.
type Hooks struct {
	Events        Lookup
	Claims        Claimer
	Client        func() Updater
	Refresher     Refresher
	Notifier      Notifier
	OnAuthExpired func()
}

type Controller struct {
	opts  Options
	hooks Hooks

	mu       sync.Mutex
	session  *Session
	inflight map[string]*Outcome
	wg       sync.WaitGroup
}

func New(opts Options, hooks Hooks) *Controller {
	return &Controller{
		opts:     opts.withDefaults(),
		hooks:    hooks,
		inflight: make(map[string]*Outcome),
	}
}

// State reports PointerDown or Dragging during a gesture, Settling while
// any commit is outstanding, otherwise Idle.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stateLocked()
}

func (c *Controller) stateLocked() State {
	switch {
	case c.session != nil && c.session.ThresholdExceeded:
		return Dragging
	case c.session != nil:
		return PointerDown
	case len(c.inflight) > 0:
		return Settling
	default:
		return Idle
	}
}

// Active returns a copy of the current session.
func (c *Controller) Active() (Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return Session{}, false
	}
	return *c.session, true
}

// InFlight reports whether eventID has an unresolved commit.
func (c *Controller) InFlight(eventID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.inflight[eventID]
	return ok
}

// Begin records a press on an event's representation.
func (c *Controller) Begin(s Surface, eventID string, p Point) error {
	if eventID == "" || s == nil {
		return ErrInvalidGesture
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session != nil {
		return ErrSessionActive
	}
	if _, busy := c.inflight[eventID]; busy {
		return fmt.Errorf("%w: %s", ErrCommitInFlight, eventID)
	}
	rect, ok := s.ElementRect(eventID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownEvent, eventID)
	}
	var ev model.Event
	if c.hooks.Events != nil {
		if ev, ok = c.hooks.Events.FindByID(eventID); !ok {
			return fmt.Errorf("%w: %s", ErrUnknownEvent, eventID)
		}
	}
	if ev.ReadOnly {
		return fmt.Errorf("%w: %s", calendar.ErrReadOnly, eventID)
	}

	c.session = &Session{
		EventID:    eventID,
		Origin:     p,
		Current:    p,
		OriginRect: rect,
		event:      ev,
		surface:    s,
	}
	appLog.Debug("drag begin", "event", eventID, "x", p.X, "y", p.Y)
	return nil
}

// Move tracks the pointer. Before the threshold is crossed the
// representation stays put; after, it follows the pointer and the target
// under it is resolved.
func (c *Controller) Move(p Point) (Frame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.session
	if s == nil {
		return Frame{}, ErrNoSession
	}
	s.Current = p
	dx, dy := p.X-s.Origin.X, p.Y-s.Origin.Y

	if !s.ThresholdExceeded {
		if !exceeds(dx, c.opts.Threshold) && !exceeds(dy, c.opts.Threshold) {
			return Frame{State: PointerDown, Rect: s.OriginRect}, nil
		}
		s.ThresholdExceeded = true
		appLog.Debug("drag started", "event", s.EventID)
	}

	f := Frame{State: Dragging, Rect: s.OriginRect.Translate(dx, dy)}
	if t, ok := resolveTarget(s.surface, s.EventID, p); ok {
		f.Target = &t
	}
	return f, nil
}

// End releases the pointer. The returned Outcome is final for clicks and
// aborted drops; for drops on a target it settles once the backend call and
// the follow-up refresh finish.
func (c *Controller) End(ctx context.Context, p Point) (*Outcome, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.session
	if s == nil {
		return nil, ErrNoSession
	}
	c.session = nil
	s.Current = p

	if !s.ThresholdExceeded {
		return settled(s.EventID, Click, s.OriginRect, nil), nil
	}

	target, ok := resolveTarget(s.surface, s.EventID, p)
	if !ok {
		appLog.Debug("drop outside any target", "event", s.EventID)
		c.notify(SeverityError, "Invalid drop location")
		return settled(s.EventID, Aborted, s.OriginRect, nil), nil
	}

	extent := Reschedule(s.event, target, c.opts.Location, c.opts.DefaultDuration)
	patch := model.Patch{Extent: &extent}

	var client Updater
	if c.hooks.Client != nil {
		client = c.hooks.Client()
	}
	if client == nil {
		c.notify(SeverityError, "Sign in to move events")
		o := settled(s.EventID, Failed, s.OriginRect, calendar.ErrAuthExpired)
		o.Target, o.Patch = &target, &patch
		return o, nil
	}

	if c.hooks.Claims != nil && !c.hooks.Claims.Claim(s.EventID) {
		appLog.Warn("drop while another write is in flight", "event", s.EventID)
		c.notify(SeverityError, "Event is still being saved")
		o := settled(s.EventID, Failed, s.OriginRect, fmt.Errorf("%w: %s", ErrCommitInFlight, s.EventID))
		o.Target, o.Patch = &target, &patch
		return o, nil
	}

	drop := s.OriginRect.Translate(p.X-s.Origin.X, p.Y-s.Origin.Y)
	o := &Outcome{
		EventID:  s.EventID,
		Target:   &target,
		Patch:    &patch,
		done:     make(chan struct{}),
		rect:     drop,
		dropRect: drop,
		origin:   s.OriginRect,
	}
	c.inflight[s.EventID] = o
	c.wg.Add(1)
	go c.commit(context.WithoutCancel(ctx), client, o)

	appLog.Info("drop", "event", s.EventID, "target", target.String())
	return o, nil
}

// Cancel abandons the gesture without contacting the backend and returns
// the rectangle the representation should snap back to.
func (c *Controller) Cancel() (Rect, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return Rect{}, ErrNoSession
	}
	r := c.session.OriginRect
	appLog.Debug("drag cancelled", "event", c.session.EventID)
	c.session = nil
	return r, nil
}

// Wait blocks until every outstanding commit has settled.
func (c *Controller) Wait() {
	c.wg.Wait()
}

func (c *Controller) commit(ctx context.Context, client Updater, o *Outcome) {
	defer c.wg.Done()
	defer func() {
		c.mu.Lock()
		delete(c.inflight, o.EventID)
		c.mu.Unlock()
		if c.hooks.Claims != nil {
			c.hooks.Claims.Release(o.EventID)
		}
		close(o.done)
	}()

	ctx, cancel := context.WithTimeout(ctx, c.opts.CommitTimeout)
	defer cancel()

	ev, err := client.UpdateEvent(ctx, o.EventID, *o.Patch)
	if err != nil {
		appLog.Error("update event failed", err, "event", o.EventID)
		o.result, o.err, o.rect = Failed, err, o.origin
		if errors.Is(err, calendar.ErrAuthExpired) && c.hooks.OnAuthExpired != nil {
			c.hooks.OnAuthExpired()
		}
		c.notify(SeverityError, "Failed to update event")
		return
	}

	o.result, o.event = Committed, ev
	c.notify(SeveritySuccess, "Event updated successfully")
	if c.hooks.Refresher != nil {
		if err := c.hooks.Refresher.Refresh(ctx); err != nil {
			appLog.Warn("refresh after update failed", "event", o.EventID, "err", err)
		}
	}
}

func (c *Controller) notify(sev Severity, msg string) {
	if c.hooks.Notifier != nil {
		c.hooks.Notifier.Notify(Notice{Severity: sev, Message: msg})
	}
}
