package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"webcal/internal/calendar"
	"webcal/internal/datemath"
	"webcal/internal/drag"
	appLog "webcal/internal/log"
	"webcal/internal/model"
	"webcal/internal/view"
)

const createKey = "\x00create"

// CreateEvent validates d, creates it and reloads the visible range.
func (a *App) CreateEvent(ctx context.Context, d model.Draft) (model.Event, error) {
	if err := d.Validate(); err != nil {
		return model.Event{}, err
	}
	var ev model.Event
	err := a.mutate(ctx, createKey, "Event created successfully", "Failed to create event", func(c calendar.Client) error {
		var err error
		ev, err = c.CreateEvent(ctx, d)
		return err
	})
	return ev, err
}

// UpdateEvent applies p to the event with id.
func (a *App) UpdateEvent(ctx context.Context, id string, p model.Patch) (model.Event, error) {
	if err := p.Validate(); err != nil {
		return model.Event{}, err
	}
	if err := a.checkWritable(id); err != nil {
		return model.Event{}, err
	}
	var ev model.Event
	err := a.mutate(ctx, id, "Event updated successfully", "Failed to update event", func(c calendar.Client) error {
		var err error
		ev, err = c.UpdateEvent(ctx, id, p)
		return err
	})
	return ev, err
}

func (a *App) DeleteEvent(ctx context.Context, id string) error {
	if err := a.checkWritable(id); err != nil {
		return err
	}
	return a.mutate(ctx, id, "Event deleted", "Failed to delete event", func(c calendar.Client) error {
		return c.DeleteEvent(ctx, id)
	})
}

func (a *App) checkWritable(id string) error {
	if ev, ok := a.index.FindByID(id); ok && ev.ReadOnly {
		return fmt.Errorf("%w: %s", calendar.ErrReadOnly, id)
	}
	return nil
}

// mutate runs one backend write under the per-key single-flight guard, then
// refreshes. The index is only touched by that refresh. An event under an
// active drag gesture is busy too: its drop would race this write.
func (a *App) mutate(ctx context.Context, key, okMsg, failMsg string, call func(calendar.Client) error) error {
	if !a.pending.Claim(key) {
		return fmt.Errorf("%w: %s", drag.ErrCommitInFlight, key)
	}
	defer a.pending.Release(key)
	if s, ok := a.drag.Active(); ok && s.EventID == key {
		return fmt.Errorf("%w: %s", drag.ErrCommitInFlight, key)
	}

	client := a.backend()
	if client == nil {
		a.notices.Notify(drag.Notice{Severity: drag.SeverityError, Message: "Sign in to edit events"})
		return calendar.ErrAuthExpired
	}

	if err := call(client); err != nil {
		appLog.Error("calendar write failed", err, "key", key)
		if errors.Is(err, calendar.ErrAuthExpired) {
			a.SignOut()
		}
		a.notices.Notify(drag.Notice{Severity: drag.SeverityError, Message: failMsg})
		return err
	}

	a.notices.Notify(drag.Notice{Severity: drag.SeveritySuccess, Message: okMsg})
	a.refreshLogged(ctx)
	return nil
}

// claims is a set of event ids with a write outstanding.
type claims struct {
	mu  sync.Mutex
	ids map[string]struct{}
}

func newClaims() *claims {
	return &claims{ids: make(map[string]struct{})}
}

// Claim marks id busy. It reports false when id already was.
func (c *claims) Claim(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, busy := c.ids[id]; busy {
		return false
	}
	c.ids[id] = struct{}{}
	return true
}

func (c *claims) Release(id string) {
	c.mu.Lock()
	delete(c.ids, id)
	c.mu.Unlock()
}

func (c *claims) Busy(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.ids[id]
	return ok
}

// DefaultDraftAt is the untitled draft a click on an empty region starts
// from: all-day in month view, one hour in week view, thirty minutes in day
// view.
func (a *App) DefaultDraftAt(mode view.Mode, date datemath.DateKey, hour, minute int) model.Draft {
	switch mode {
	case view.Week:
		start := datemath.At(date, hour, 0, a.loc)
		return model.Draft{Extent: model.Timed(start, start.Add(time.Hour))}
	case view.Day:
		start := datemath.At(date, hour, minute, a.loc)
		return model.Draft{Extent: model.Timed(start, start.Add(30*time.Minute))}
	default:
		return model.Draft{Extent: model.AllDay(date, date)}
	}
}
