package app

import (
	"context"
	"fmt"

	"webcal/internal/drag"
	"webcal/internal/layout"
)

// BeginDrag starts a gesture on eventID. The layout for vp becomes the
// surface the whole gesture is hit-tested against.
func (a *App) BeginDrag(vp layout.Viewport, eventID string, p drag.Point) (drag.Session, error) {
	if a.pending.Busy(eventID) {
		return drag.Session{}, fmt.Errorf("%w: %s", drag.ErrCommitInFlight, eventID)
	}
	if err := a.drag.Begin(a.Layout(vp), eventID, p); err != nil {
		return drag.Session{}, err
	}
	s, _ := a.drag.Active()
	return s, nil
}

func (a *App) UpdateDrag(p drag.Point) (drag.Frame, error) {
	return a.drag.Move(p)
}

// EndDrag releases the gesture; see drag.Controller.End.
func (a *App) EndDrag(ctx context.Context, p drag.Point) (*drag.Outcome, error) {
	return a.drag.End(ctx, p)
}

func (a *App) CancelDrag() (drag.Rect, error) {
	return a.drag.Cancel()
}

func (a *App) DragState() drag.State {
	return a.drag.State()
}
