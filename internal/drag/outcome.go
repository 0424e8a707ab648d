package drag

import (
	"context"

	"webcal/internal/model"
)

// Result of a released gesture.
type Result string

const (
	Pending   Result = "pending"
	Click     Result = "click"
	Aborted   Result = "aborted"
	Committed Result = "committed"
	Failed    Result = "failed"
)

// Outcome describes what became of a released gesture. Fields behind
// accessors are only meaningful once Done is closed.
type Outcome struct {
	EventID string
	Target  *DropTarget
	Patch   *model.Patch

	done     chan struct{}
	result   Result
	rect     Rect
	dropRect Rect
	origin   Rect
	event    model.Event
	err      error
}

func settled(id string, r Result, rect Rect, err error) *Outcome {
	o := &Outcome{EventID: id, done: make(chan struct{}), result: r, rect: rect, dropRect: rect, origin: rect, err: err}
	close(o.done)
	return o
}

// Done is closed when the outcome is final.
func (o *Outcome) Done() <-chan struct{} { return o.done }

// Wait blocks until the outcome settles or ctx ends.
func (o *Outcome) Wait(ctx context.Context) error {
	select {
	case <-o.done:
		return o.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Status is a consistent view of an outcome at one instant.
type Status struct {
	Result Result
	Rect   Rect
	Err    error
	Event  model.Event
}

// Snapshot reads result, rect and error under a single check of Done, so a
// commit settling mid-read cannot mix pending and final values.
func (o *Outcome) Snapshot() Status {
	select {
	case <-o.done:
		return Status{Result: o.result, Rect: o.rect, Err: o.err, Event: o.event}
	default:
		return Status{Result: Pending, Rect: o.dropRect}
	}
}

func (o *Outcome) Result() Result {
	select {
	case <-o.done:
		return o.result
	default:
		return Pending
	}
}

// Rect is where the representation belongs: the drop position after a
// commit, the origin after an abort or failure.
func (o *Outcome) Rect() Rect {
	select {
	case <-o.done:
		return o.rect
	default:
		return o.dropRect
	}
}

// Event is the backend's copy after a successful commit.
func (o *Outcome) Event() model.Event {
	<-o.done
	return o.event
}

func (o *Outcome) Err() error {
	select {
	case <-o.done:
		return o.err
	default:
		return nil
	}
}
