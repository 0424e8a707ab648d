// Package app is the application context: it owns the view state, the
// event index and the drag controller, talks to the calendar backend and
// exposes the accessors and entry points the web layer renders from.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"webcal/internal/calendar"
	"webcal/internal/datemath"
	"webcal/internal/drag"
	"webcal/internal/index"
	"webcal/internal/layout"
	appLog "webcal/internal/log"
	"webcal/internal/model"
	"webcal/internal/prefs"
	"webcal/internal/view"
)

// Store is the preference store the app persists view state and the token in.
type Store interface {
	view.Preferences
	Delete(key string) error
}

type Options struct {
	Location *time.Location
	Grid     layout.Grid
	Drag     drag.Options
	// RefreshCron reloads the visible range on a schedule; empty disables it.
	RefreshCron string
	Now         func() time.Time
}

type App struct {
	opts  Options
	loc   *time.Location
	store Store
	index *index.Index
	drag  *drag.Controller

	mu     sync.RWMutex
	state  view.State
	client calendar.Client

	// refreshMu serializes backend fetches so index replacements land in
	// request order.
	refreshMu sync.Mutex

	// pending is the one per-event write registry shared by edits and drag
	// commits.
	pending *claims

	notices *noticeRing
	cron    *cron.Cron
}

// New builds the context. client may be nil (signed out); store may be nil
// (nothing persisted).
func New(opts Options, client calendar.Client, store Store) *App {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	opts.Drag.Location = opts.Location

	a := &App{
		opts:    opts,
		loc:     opts.Location,
		store:   store,
		index:   index.New(opts.Location),
		client:  client,
		pending: newClaims(),
		notices: newNoticeRing(noticeCapacity, opts.Now),
	}
	var prefStore view.Preferences
	if store != nil {
		prefStore = store
	}
	a.state = view.Restore(prefStore, a.today())
	a.drag = drag.New(opts.Drag, drag.Hooks{
		Events:        a.index,
		Claims:        a.pending,
		Client:        a.updater,
		Refresher:     a,
		Notifier:      a.notices,
		OnAuthExpired: a.SignOut,
	})
	return a
}

func (a *App) today() time.Time {
	return a.opts.Now().In(a.loc)
}

func (a *App) updater() drag.Updater {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.client == nil {
		return nil
	}
	return a.client
}

func (a *App) backend() calendar.Client {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.client
}

// Start loads the visible range and starts the refresh schedule. A failed
// first load is logged, not fatal.
func (a *App) Start(ctx context.Context) error {
	if err := a.Refresh(ctx); err != nil {
		appLog.Warn("initial load failed", "err", err)
	}
	if a.opts.RefreshCron == "" {
		return nil
	}
	c := cron.New(cron.WithLocation(a.loc))
	if _, err := c.AddFunc(a.opts.RefreshCron, func() {
		if err := a.Refresh(ctx); err != nil {
			appLog.Warn("scheduled refresh failed", "err", err)
		}
	}); err != nil {
		return fmt.Errorf("invalid refresh schedule %q: %w", a.opts.RefreshCron, err)
	}
	c.Start()
	a.cron = c
	appLog.Info("refresh schedule started", "cron", a.opts.RefreshCron)
	return nil
}

// Close stops the schedule and waits for in-flight drag commits.
func (a *App) Close() {
	if a.cron != nil {
		<-a.cron.Stop().Done()
	}
	a.drag.Wait()
}

// SetClient installs a backend after sign-in.
func (a *App) SetClient(c calendar.Client) {
	a.mu.Lock()
	a.client = c
	a.mu.Unlock()
}

// SignedIn reports whether a backend is installed.
func (a *App) SignedIn() bool {
	return a.backend() != nil
}

// SignOut drops the backend, the stored token and every indexed event.
func (a *App) SignOut() {
	a.mu.Lock()
	a.client = nil
	a.mu.Unlock()

	if a.store != nil {
		if err := a.store.Delete(prefs.TokenKey); err != nil {
			appLog.Error("failed to clear stored token", err)
		}
	}
	a.index.Clear()
	appLog.Info("signed out")
}

// Refresh reloads the visible range from the backend into the index.
func (a *App) Refresh(ctx context.Context) error {
	a.refreshMu.Lock()
	defer a.refreshMu.Unlock()

	client := a.backend()
	if client == nil {
		return calendar.ErrAuthExpired
	}
	r := view.VisibleRange(a.View())
	from, to := r.FetchWindow()

	evs, err := client.ListEvents(ctx, from, to)
	if err != nil {
		if errors.Is(err, calendar.ErrAuthExpired) {
			a.SignOut()
		}
		return fmt.Errorf("list events: %w", err)
	}

	startKey, endKey := r.Keys()
	a.index.ReplaceRange(startKey, endKey, evs)
	appLog.Debug("range refreshed", "from", startKey, "to", endKey, "events", len(evs))
	return nil
}

// View is the current view state.
func (a *App) View() view.State {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.state
}

// VisibleRange of the current view state.
func (a *App) VisibleRange() view.Range {
	return view.VisibleRange(a.View())
}

func (a *App) EventsForDate(key datemath.DateKey) []model.Event {
	return a.index.Lookup(key)
}

func (a *App) FindEvent(id string) (model.Event, bool) {
	return a.index.FindByID(id)
}

// SetMode switches the view mode. An unknown mode is rejected and the state
// left unchanged.
func (a *App) SetMode(ctx context.Context, raw string) (view.State, error) {
	mode, err := view.ParseMode(raw)
	if err != nil {
		return a.View(), err
	}

	a.mu.Lock()
	old := a.state
	next, err := view.WithMode(old, mode)
	if err != nil {
		a.mu.Unlock()
		return old, err
	}
	a.state = next
	a.mu.Unlock()

	a.persist(next)
	if view.RequiresRefetch(old.Mode, next.Mode) {
		a.refreshLogged(ctx)
	}
	return next, nil
}

// Navigate moves the anchor one unit back or forward, or back to today.
func (a *App) Navigate(ctx context.Context, dir view.Direction) (view.State, error) {
	switch dir {
	case view.Prev, view.Next, view.Today:
	default:
		return a.View(), fmt.Errorf("%w: %q", view.ErrInvalidDirection, dir)
	}

	a.mu.Lock()
	a.state = view.Navigate(a.state, dir, a.today())
	next := a.state
	a.mu.Unlock()

	a.persist(next)
	a.refreshLogged(ctx)
	return next, nil
}

func (a *App) persist(s view.State) {
	if a.store == nil {
		return
	}
	if err := view.Save(a.store, s); err != nil {
		appLog.Error("failed to save view preference", err)
	}
}

func (a *App) refreshLogged(ctx context.Context) {
	if err := a.Refresh(ctx); err != nil && !errors.Is(err, calendar.ErrAuthExpired) {
		appLog.Warn("refresh failed", "err", err)
	}
}

// Layout lays out the current view for a viewport.
func (a *App) Layout(vp layout.Viewport) *layout.Layout {
	return layout.Build(a.View(), a.index, vp, a.opts.Grid, a.loc)
}

func (a *App) Notices() []Notice {
	return a.notices.List()
}
