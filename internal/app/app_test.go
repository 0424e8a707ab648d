package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"webcal/internal/calendar"
	"webcal/internal/datemath"
	"webcal/internal/drag"
	"webcal/internal/layout"
	"webcal/internal/model"
	"webcal/internal/prefs"
	"webcal/internal/view"
)

type memStore map[string]string

func (m memStore) Get(k string) (string, bool) { v, ok := m[k]; return v, ok }
func (m memStore) Set(k, v string) error       { m[k] = v; return nil }
func (m memStore) Delete(k string) error       { delete(m, k); return nil }

type window struct{ from, to time.Time }

// fakeBackend is an in-memory calendar.Client.
type fakeBackend struct {
	mu      sync.Mutex
	events  map[string]model.Event
	lists   []window
	patches map[string]model.Patch
	err     error
	block   chan struct{}
	nextID  int

	// active and peak count concurrent UpdateEvent calls.
	active, peak int
}

func newFakeBackend(evs ...model.Event) *fakeBackend {
	f := &fakeBackend{events: map[string]model.Event{}, patches: map[string]model.Patch{}}
	for _, ev := range evs {
		f.events[ev.ID] = ev
	}
	return f
}

func (f *fakeBackend) ListEvents(_ context.Context, from, to time.Time) ([]model.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lists = append(f.lists, window{from, to})
	if f.err != nil {
		return nil, f.err
	}
	var out []model.Event
	for _, ev := range f.events {
		out = append(out, ev)
	}
	return out, nil
}

func (f *fakeBackend) UpdateEvent(_ context.Context, id string, p model.Patch) (model.Event, error) {
	f.mu.Lock()
	f.active++
	f.peak = max(f.peak, f.active)
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		f.active--
		f.mu.Unlock()
	}()
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return model.Event{}, f.err
	}
	ev, ok := f.events[id]
	if !ok {
		return model.Event{}, calendar.ErrNotFound
	}
	f.patches[id] = p
	ev = p.Apply(ev)
	f.events[id] = ev
	return ev, nil
}

func (f *fakeBackend) CreateEvent(_ context.Context, d model.Draft) (model.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return model.Event{}, f.err
	}
	f.nextID++
	ev := model.Event{ID: fmt.Sprintf("new%d", f.nextID), Title: d.Title, Extent: d.Extent}
	f.events[ev.ID] = ev
	return ev, nil
}

func (f *fakeBackend) DeleteEvent(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	if _, ok := f.events[id]; !ok {
		return calendar.ErrNotFound
	}
	delete(f.events, id)
	return nil
}

func (f *fakeBackend) listCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.lists)
}

func (f *fakeBackend) lastList() window {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lists[len(f.lists)-1]
}

func at(day, hour, minute int) time.Time {
	return time.Date(2024, 3, day, hour, minute, 0, 0, time.UTC)
}

var fixedNow = func() time.Time { return at(15, 10, 0) }

func newApp(t *testing.T, client calendar.Client, store Store) *App {
	t.Helper()
	a := New(Options{Location: time.UTC, Grid: layout.DefaultGrid(), Now: fixedNow}, client, store)
	t.Cleanup(a.Close)
	return a
}

func standup() model.Event {
	return model.Event{ID: "standup", Title: "Standup", Extent: model.Timed(at(10, 9, 0), at(10, 10, 0))}
}

func TestStartLoadsVisibleMonth(t *testing.T) {
	fb := newFakeBackend(standup())
	a := newApp(t, fb, nil)

	require.NoError(t, a.Start(context.Background()))
	assert.Equal(t, view.Month, a.View().Mode)
	assert.Equal(t, window{at(1, 0, 0), time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)}, fb.lastList())

	evs := a.EventsForDate("2024-03-10")
	require.Len(t, evs, 1)
	ev, ok := a.FindEvent("standup")
	assert.True(t, ok)
	assert.Equal(t, "Standup", ev.Title)
	assert.Empty(t, a.EventsForDate("2024-03-11"))
}

func TestViewStateRestoredAndPersisted(t *testing.T) {
	store := memStore{view.ModeKey: "day", view.AnchorKey: "2024-02-29"}
	fb := newFakeBackend()
	a := newApp(t, fb, store)
	assert.Equal(t, view.Day, a.View().Mode)
	assert.Equal(t, datemath.DateKey("2024-02-29"), a.View().AnchorKey())

	s, err := a.SetMode(context.Background(), "week")
	require.NoError(t, err)
	assert.Equal(t, view.Week, s.Mode)
	assert.Equal(t, "week", store[view.ModeKey])
	assert.Equal(t, 1, fb.listCount(), "mode change refetches")
	assert.Equal(t, time.Date(2024, 2, 25, 0, 0, 0, 0, time.UTC), fb.lastList().from)
}

func TestSetModeRejectsUnknown(t *testing.T) {
	fb := newFakeBackend()
	a := newApp(t, fb, nil)
	before := a.View()

	s, err := a.SetMode(context.Background(), "agenda")
	assert.ErrorIs(t, err, view.ErrInvalidMode)
	assert.Equal(t, before, s)
	assert.Equal(t, before, a.View())
	assert.Zero(t, fb.listCount())
}

func TestSameModeDoesNotRefetch(t *testing.T) {
	fb := newFakeBackend()
	a := newApp(t, fb, nil)
	_, err := a.SetMode(context.Background(), "month")
	require.NoError(t, err)
	assert.Zero(t, fb.listCount())
}

func TestNavigate(t *testing.T) {
	fb := newFakeBackend()
	a := newApp(t, fb, memStore{view.ModeKey: "week"})
	ctx := context.Background()

	s, err := a.Navigate(ctx, view.Next)
	require.NoError(t, err)
	assert.Equal(t, at(22, 0, 0), s.Anchor)
	assert.Equal(t, at(17, 0, 0), fb.lastList().from)

	s, err = a.Navigate(ctx, view.Today)
	require.NoError(t, err)
	assert.Equal(t, at(15, 0, 0), s.Anchor)

	_, err = a.Navigate(ctx, view.Direction("up"))
	assert.ErrorIs(t, err, view.ErrInvalidDirection)
	assert.Equal(t, 2, fb.listCount())
}

func chipCenter(t *testing.T, l *layout.Layout, id string) drag.Point {
	t.Helper()
	r, ok := l.ElementRect(id)
	require.True(t, ok, id)
	return drag.Point{X: r.X + r.W/2, Y: r.Y + r.H/2}
}

func slotCenter(t *testing.T, l *layout.Layout, date datemath.DateKey, hour int) drag.Point {
	t.Helper()
	for _, c := range l.Cells {
		if c.Kind == drag.TimeSlot && c.Date == date && c.Hour == hour && c.Minute == 0 {
			return drag.Point{X: c.Rect.X + c.Rect.W/2, Y: c.Rect.Y + c.Rect.H/2}
		}
	}
	t.Fatalf("no slot for %s %02d:00", date, hour)
	return drag.Point{}
}

func TestDragRescheduleEndToEnd(t *testing.T) {
	fb := newFakeBackend(standup())
	a := newApp(t, fb, memStore{view.ModeKey: "week"})
	ctx := context.Background()
	require.NoError(t, a.Start(ctx))

	r := a.VisibleRange()
	assert.Equal(t, at(10, 0, 0), r.Start)
	assert.Equal(t, at(16, 0, 0), r.End)

	l := a.Layout(layout.DefaultViewport)
	from := chipCenter(t, l, "standup")
	to := slotCenter(t, l, "2024-03-12", 14)

	_, err := a.BeginDrag(layout.DefaultViewport, "standup", from)
	require.NoError(t, err)
	assert.Equal(t, drag.PointerDown, a.DragState())

	frame, err := a.UpdateDrag(to)
	require.NoError(t, err)
	assert.Equal(t, drag.Dragging, frame.State)
	require.NotNil(t, frame.Target)

	o, err := a.EndDrag(ctx, to)
	require.NoError(t, err)
	require.NoError(t, o.Wait(ctx))
	assert.Equal(t, drag.Committed, o.Result())

	p := fb.patches["standup"]
	require.NotNil(t, p.Extent)
	assert.Equal(t, at(12, 14, 0), p.Extent.Start)
	assert.Equal(t, at(12, 15, 0), p.Extent.End)
	assert.Nil(t, p.Title, "reschedule patch carries only the extent")

	assert.Empty(t, a.EventsForDate("2024-03-10"))
	require.Len(t, a.EventsForDate("2024-03-12"), 1)
	assert.Equal(t, drag.SeveritySuccess, a.Notices()[0].Severity)
}

func TestDragWhileSignedOutFails(t *testing.T) {
	fb := newFakeBackend(standup())
	a := newApp(t, fb, memStore{view.ModeKey: "week"})
	ctx := context.Background()
	require.NoError(t, a.Start(ctx))
	l := a.Layout(layout.DefaultViewport)
	from := chipCenter(t, l, "standup")
	to := slotCenter(t, l, "2024-03-12", 14)

	a.SetClient(nil)
	_, err := a.BeginDrag(layout.DefaultViewport, "standup", from)
	require.NoError(t, err)
	_, err = a.UpdateDrag(to)
	require.NoError(t, err)
	o, err := a.EndDrag(ctx, to)
	require.NoError(t, err)
	assert.Equal(t, drag.Failed, o.Result())
	assert.ErrorIs(t, o.Err(), calendar.ErrAuthExpired)
	assert.Equal(t, from.X, o.Rect().X+o.Rect().W/2)
	assert.Empty(t, fb.patches)
}

func TestAuthExpiredSignsOut(t *testing.T) {
	fb := newFakeBackend(standup())
	store := memStore{prefs.TokenKey: `{"access_token":"x"}`}
	a := newApp(t, fb, store)
	ctx := context.Background()
	require.NoError(t, a.Start(ctx))
	require.Len(t, a.EventsForDate("2024-03-10"), 1)

	fb.err = fmt.Errorf("google: %w", calendar.ErrAuthExpired)
	title := "Renamed"
	_, err := a.UpdateEvent(ctx, "standup", model.Patch{Title: &title})
	assert.ErrorIs(t, err, calendar.ErrAuthExpired)

	assert.False(t, a.SignedIn())
	_, hasToken := store[prefs.TokenKey]
	assert.False(t, hasToken)
	assert.Empty(t, a.EventsForDate("2024-03-10"))
	notices := a.Notices()
	assert.Equal(t, drag.SeverityError, notices[len(notices)-1].Severity)

	_, err = a.CreateEvent(ctx, model.Draft{Title: "x", Extent: model.AllDay("2024-03-12", "2024-03-12")})
	assert.ErrorIs(t, err, calendar.ErrAuthExpired)
}

func TestEditSession(t *testing.T) {
	fb := newFakeBackend(standup())
	a := newApp(t, fb, nil)
	ctx := context.Background()
	require.NoError(t, a.Start(ctx))

	_, err := a.CreateEvent(ctx, model.Draft{Extent: model.AllDay("2024-03-12", "2024-03-12")})
	assert.ErrorIs(t, err, model.ErrTitleRequired)

	ev, err := a.CreateEvent(ctx, model.Draft{Title: "Offsite", Extent: model.AllDay("2024-03-12", "2024-03-12")})
	require.NoError(t, err)
	require.Len(t, a.EventsForDate("2024-03-12"), 1, "create refreshes the index")

	loc := "Room 4"
	updated, err := a.UpdateEvent(ctx, ev.ID, model.Patch{Location: &loc})
	require.NoError(t, err)
	assert.Equal(t, "Room 4", updated.Location)

	require.NoError(t, a.DeleteEvent(ctx, ev.ID))
	assert.Empty(t, a.EventsForDate("2024-03-12"))

	assert.ErrorIs(t, a.DeleteEvent(ctx, "nope"), calendar.ErrNotFound)
}

func TestReadOnlyEventsAreRejected(t *testing.T) {
	ro := standup()
	ro.ReadOnly = true
	fb := newFakeBackend(ro)
	a := newApp(t, fb, nil)
	ctx := context.Background()
	require.NoError(t, a.Start(ctx))

	title := "x"
	_, err := a.UpdateEvent(ctx, "standup", model.Patch{Title: &title})
	assert.ErrorIs(t, err, calendar.ErrReadOnly)
	assert.ErrorIs(t, a.DeleteEvent(ctx, "standup"), calendar.ErrReadOnly)
	_, err = a.BeginDrag(layout.DefaultViewport, "standup", chipCenter(t, a.Layout(layout.DefaultViewport), "standup"))
	assert.ErrorIs(t, err, calendar.ErrReadOnly)
}

func TestSingleFlightPerEvent(t *testing.T) {
	fb := newFakeBackend(standup())
	a := newApp(t, fb, nil)
	ctx := context.Background()
	require.NoError(t, a.Start(ctx))

	fb.block = make(chan struct{})
	errs := make(chan error, 1)
	title := "First"
	go func() {
		_, err := a.UpdateEvent(ctx, "standup", model.Patch{Title: &title})
		errs <- err
	}()

	require.Eventually(t, func() bool {
		return a.pending.Busy("standup")
	}, time.Second, time.Millisecond)

	second := "Second"
	_, err := a.UpdateEvent(ctx, "standup", model.Patch{Title: &second})
	assert.ErrorIs(t, err, drag.ErrCommitInFlight)
	_, err = a.BeginDrag(layout.DefaultViewport, "standup", drag.Point{})
	assert.ErrorIs(t, err, drag.ErrCommitInFlight)

	close(fb.block)
	require.NoError(t, <-errs)
	ev, _ := a.FindEvent("standup")
	assert.Equal(t, "First", ev.Title)
}

func TestEditAndDragShareSingleFlight(t *testing.T) {
	fb := newFakeBackend(standup())
	a := newApp(t, fb, memStore{view.ModeKey: "week"})
	ctx := context.Background()
	require.NoError(t, a.Start(ctx))
	l := a.Layout(layout.DefaultViewport)
	from := chipCenter(t, l, "standup")
	to := slotCenter(t, l, "2024-03-12", 14)

	fb.block = make(chan struct{})
	_, err := a.BeginDrag(layout.DefaultViewport, "standup", from)
	require.NoError(t, err)

	title := "Renamed"
	_, err = a.UpdateEvent(ctx, "standup", model.Patch{Title: &title})
	assert.ErrorIs(t, err, drag.ErrCommitInFlight, "edits wait for the gesture on the same event")
	assert.ErrorIs(t, a.DeleteEvent(ctx, "standup"), drag.ErrCommitInFlight)

	_, err = a.UpdateDrag(to)
	require.NoError(t, err)
	o, err := a.EndDrag(ctx, to)
	require.NoError(t, err)
	assert.Equal(t, drag.Pending, o.Snapshot().Result)
	assert.True(t, a.pending.Busy("standup"), "the drag commit holds the event")

	_, err = a.UpdateEvent(ctx, "standup", model.Patch{Title: &title})
	assert.ErrorIs(t, err, drag.ErrCommitInFlight)

	close(fb.block)
	require.NoError(t, o.Wait(ctx))
	assert.Equal(t, drag.Committed, o.Result())
	assert.False(t, a.pending.Busy("standup"))

	fb.mu.Lock()
	peak := fb.peak
	fb.mu.Unlock()
	assert.Equal(t, 1, peak)

	_, err = a.UpdateEvent(ctx, "standup", model.Patch{Title: &title})
	require.NoError(t, err)
}

func TestRefreshWithoutClient(t *testing.T) {
	a := newApp(t, nil, nil)
	assert.ErrorIs(t, a.Refresh(context.Background()), calendar.ErrAuthExpired)
	assert.False(t, a.SignedIn())
	require.NoError(t, a.Start(context.Background()), "initial load failure is not fatal")
}

func TestRefreshErrorKeepsIndex(t *testing.T) {
	fb := newFakeBackend(standup())
	a := newApp(t, fb, nil)
	ctx := context.Background()
	require.NoError(t, a.Refresh(ctx))

	fb.err = errors.New("boom")
	assert.Error(t, a.Refresh(ctx))
	assert.Len(t, a.EventsForDate("2024-03-10"), 1)
	assert.True(t, a.SignedIn())
}

func TestStartRejectsBadSchedule(t *testing.T) {
	a := New(Options{Location: time.UTC, Now: fixedNow, RefreshCron: "every tuesday"}, newFakeBackend(), nil)
	defer a.Close()
	assert.Error(t, a.Start(context.Background()))

	ok := New(Options{Location: time.UTC, Now: fixedNow, RefreshCron: "*/15 * * * *"}, newFakeBackend(), nil)
	require.NoError(t, ok.Start(context.Background()))
	ok.Close()
}

func TestNoticeRingKeepsLatest(t *testing.T) {
	r := newNoticeRing(4, fixedNow)
	for i := range 6 {
		r.Notify(drag.Notice{Severity: drag.SeverityInfo, Message: fmt.Sprint(i)})
	}
	got := r.List()
	require.Len(t, got, 4)
	assert.Equal(t, "2", got[0].Message)
	assert.Equal(t, "5", got[3].Message)
	assert.Equal(t, fixedNow(), got[0].At)
}

func TestDefaultDraftAt(t *testing.T) {
	a := newApp(t, nil, nil)

	d := a.DefaultDraftAt(view.Day, "2024-03-12", 9, 30)
	assert.Equal(t, at(12, 9, 30), d.Start)
	assert.Equal(t, at(12, 10, 0), d.End)

	d = a.DefaultDraftAt(view.Week, "2024-03-12", 14, 0)
	assert.Equal(t, time.Hour, d.Duration())

	d = a.DefaultDraftAt(view.Month, "2024-03-12", 0, 0)
	assert.True(t, d.IsAllDay())
	assert.Equal(t, datemath.DateKey("2024-03-12"), d.EndDate)
}
