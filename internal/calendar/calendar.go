// Package calendar defines the backend contract the rest of the app talks to.
package calendar

import (
	"context"
	"errors"
	"time"

	"webcal/internal/model"
)

var (
	// ErrAuthExpired means the backend rejected the credentials; the caller
	// should sign out and ask for a new login.
	ErrAuthExpired = errors.New("calendar authorization expired")
	ErrNotFound    = errors.New("event not found")
	ErrReadOnly    = errors.New("event is read-only")
)

// Client is a calendar backend. ListEvents returns events overlapping the
// half-open window [from, to), recurring series expanded into instances.
type Client interface {
	ListEvents(ctx context.Context, from, to time.Time) ([]model.Event, error)
	UpdateEvent(ctx context.Context, id string, p model.Patch) (model.Event, error)
	CreateEvent(ctx context.Context, d model.Draft) (model.Event, error)
	DeleteEvent(ctx context.Context, id string) error
}
