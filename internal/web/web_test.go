package web

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"webcal/internal/app"
	"webcal/internal/calendar"
	"webcal/internal/config"
	"webcal/internal/drag"
	"webcal/internal/layout"
	"webcal/internal/model"
)

type fakeBackend struct {
	mu     sync.Mutex
	events map[string]model.Event
	nextID int
}

func (f *fakeBackend) ListEvents(context.Context, time.Time, time.Time) ([]model.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]model.Event, 0, len(f.events))
	for _, ev := range f.events {
		out = append(out, ev)
	}
	return out, nil
}

func (f *fakeBackend) UpdateEvent(_ context.Context, id string, p model.Patch) (model.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ev, ok := f.events[id]
	if !ok {
		return model.Event{}, calendar.ErrNotFound
	}
	ev = p.Apply(ev)
	f.events[id] = ev
	return ev, nil
}

func (f *fakeBackend) CreateEvent(_ context.Context, d model.Draft) (model.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	ev := model.Event{ID: fmt.Sprintf("new%d", f.nextID), Title: d.Title, Extent: d.Extent}
	f.events[ev.ID] = ev
	return ev, nil
}

func (f *fakeBackend) DeleteEvent(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.events[id]; !ok {
		return calendar.ErrNotFound
	}
	delete(f.events, id)
	return nil
}

type fakeSignIn struct {
	codes []string
}

func (f *fakeSignIn) AuthURL() (string, string) {
	return "https://accounts.example.com/auth?state=s1", "s1"
}

func (f *fakeSignIn) Complete(_ context.Context, code string) error {
	f.codes = append(f.codes, code)
	return nil
}

func at(day, hour, minute int) time.Time {
	return time.Date(2024, 3, day, hour, minute, 0, 0, time.UTC)
}

func newServer(t *testing.T, client calendar.Client, signIn SignIn) (*Server, *app.App) {
	t.Helper()
	a := app.New(app.Options{
		Location: time.UTC,
		Grid:     layout.DefaultGrid(),
		Now:      func() time.Time { return at(15, 10, 0) },
	}, client, nil)
	t.Cleanup(a.Close)
	require.NoError(t, a.Start(context.Background()))
	return NewServer(config.DefaultConfig(), a, signIn), a
}

func seeded() *fakeBackend {
	f := &fakeBackend{events: map[string]model.Event{}}
	for _, ev := range []model.Event{
		{ID: "standup", Title: "Standup", Extent: model.Timed(at(10, 9, 0), at(10, 10, 0))},
		{ID: "sub:team:holiday", Title: "Holiday", Extent: model.AllDay("2024-03-11", "2024-03-11"), ReadOnly: true},
	} {
		f.events[ev.ID] = ev
	}
	return f
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHealthAndBasicAuth(t *testing.T) {
	s, _ := newServer(t, seeded(), nil)
	s.cfg.BasicAuth = &config.BasicAuthConfig{Username: "u", Password: "p"}
	h := s.Handler()

	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/health", "").Code)

	rec := do(t, h, http.MethodGet, "/api/view", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Header().Get("WWW-Authenticate"), "Basic")

	req := httptest.NewRequest(http.MethodGet, "/api/view", nil)
	req.SetBasicAuth("u", "p")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestViewEndpoints(t *testing.T) {
	s, _ := newServer(t, seeded(), nil)
	h := s.Handler()

	v := decode[viewResponse](t, do(t, h, http.MethodGet, "/api/view", ""))
	assert.Equal(t, "month", string(v.Mode))
	assert.Equal(t, "2024-03-01", string(v.Start))
	assert.Equal(t, "2024-03-31", string(v.End))
	assert.True(t, v.SignedIn)
	assert.Equal(t, drag.Idle, v.Drag)

	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/api/view", `{"mode":"year"}`).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/api/view", `not json`).Code)

	rec := do(t, h, http.MethodPost, "/api/view", `{"mode":"week"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	v = decode[viewResponse](t, rec)
	assert.Equal(t, "2024-03-10", string(v.Start))
	assert.Equal(t, "2024-03-16", string(v.End))

	v = decode[viewResponse](t, do(t, h, http.MethodPost, "/api/navigate", `{"direction":"next"}`))
	assert.Equal(t, "2024-03-22", string(v.Anchor))
	v = decode[viewResponse](t, do(t, h, http.MethodPost, "/api/navigate", `{"direction":"today"}`))
	assert.Equal(t, "2024-03-15", string(v.Anchor))
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/api/navigate", `{"direction":"up"}`).Code)
}

func TestEventEndpoints(t *testing.T) {
	s, _ := newServer(t, seeded(), nil)
	h := s.Handler()

	rec := do(t, h, http.MethodGet, "/api/events?date=2024-03-10", "")
	require.Equal(t, http.StatusOK, rec.Code)
	day := decode[struct {
		Events []model.Event `json:"events"`
	}](t, rec)
	require.Len(t, day.Events, 1)
	assert.Equal(t, "standup", day.Events[0].ID)

	empty := decode[struct {
		Events []model.Event `json:"events"`
	}](t, do(t, h, http.MethodGet, "/api/events?date=2024-03-20", ""))
	assert.NotNil(t, empty.Events, "an empty day is [] not null")
	assert.Empty(t, empty.Events)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, "/api/events?date=March", "").Code)

	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/api/events/standup", "").Code)
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/api/events/nope", "").Code)

	rec = do(t, h, http.MethodPost, "/api/events", `{"title":"Lunch","start_date":"2024-03-20","end_date":"2024-03-20"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "new1", decode[model.Event](t, rec).ID)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/api/events", `{"title":" ","start_date":"2024-03-20","end_date":"2024-03-20"}`).Code)

	rec = do(t, h, http.MethodPatch, "/api/events/standup", `{"title":"Daily"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Daily", decode[model.Event](t, rec).Title)

	assert.Equal(t, http.StatusForbidden, do(t, h, http.MethodPatch, "/api/events/sub:team:holiday", `{"title":"x"}`).Code)
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodDelete, "/api/events/nope", "").Code)
	assert.Equal(t, http.StatusNoContent, do(t, h, http.MethodDelete, "/api/events/standup", "").Code)

	notices := decode[[]app.Notice](t, do(t, h, http.MethodGet, "/api/notices", ""))
	assert.NotEmpty(t, notices)
}

func TestDraftEndpoint(t *testing.T) {
	s, _ := newServer(t, seeded(), nil)
	h := s.Handler()

	d := decode[model.Draft](t, do(t, h, http.MethodGet, "/api/draft?date=2024-03-12", ""))
	assert.Equal(t, "2024-03-12", string(d.StartDate))

	do(t, h, http.MethodPost, "/api/view", `{"mode":"day"}`)
	d = decode[model.Draft](t, do(t, h, http.MethodGet, "/api/draft?date=2024-03-12&hour=14&minute=30", ""))
	assert.Equal(t, at(12, 14, 30), d.Start)
	assert.Equal(t, 30*time.Minute, d.Duration())
}

func center(r drag.Rect) drag.Point {
	return drag.Point{X: r.X + r.W/2, Y: r.Y + r.H/2}
}

func TestDragOverHTTP(t *testing.T) {
	s, _ := newServer(t, seeded(), nil)
	h := s.Handler()
	do(t, h, http.MethodPost, "/api/view", `{"mode":"week"}`)

	assert.Equal(t, http.StatusConflict, do(t, h, http.MethodPost, "/api/drag/move", `{"x":1,"y":1}`).Code)

	rec := do(t, h, http.MethodGet, "/api/layout?width=1200&height=825", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var l layout.Layout
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &l))

	var from, to drag.Point
	for _, c := range l.Chips {
		if c.EventID == "standup" {
			from = center(c.Rect)
		}
	}
	for _, c := range l.Cells {
		if c.Kind == drag.TimeSlot && c.Date == "2024-03-12" && c.Hour == 14 {
			to = center(c.Rect)
		}
	}
	require.NotZero(t, from)
	require.NotZero(t, to)

	body := fmt.Sprintf(`{"eventId":"standup","x":%f,"y":%f,"width":1200,"height":825}`, from.X, from.Y)
	require.Equal(t, http.StatusOK, do(t, h, http.MethodPost, "/api/drag/begin", body).Code)
	assert.Equal(t, http.StatusConflict, do(t, h, http.MethodPost, "/api/drag/begin", body).Code)

	move := fmt.Sprintf(`{"x":%f,"y":%f}`, to.X, to.Y)
	f := decode[drag.Frame](t, do(t, h, http.MethodPost, "/api/drag/move", move))
	assert.Equal(t, drag.Dragging, f.State)
	require.NotNil(t, f.Target)
	assert.Equal(t, 14, f.Target.Hour)

	rec = do(t, h, http.MethodPost, "/api/drag/end?wait=true", move)
	require.Equal(t, http.StatusOK, rec.Code)
	res := decode[dragEndResponse](t, rec)
	assert.Equal(t, drag.Committed, res.Result)
	require.NotNil(t, res.Event)
	assert.Equal(t, at(12, 14, 0), res.Event.Start)
	assert.Equal(t, at(12, 15, 0), res.Event.End)

	assert.Equal(t, http.StatusConflict, do(t, h, http.MethodPost, "/api/drag/cancel", "").Code)
}

func TestDragReadOnlyRejected(t *testing.T) {
	s, _ := newServer(t, seeded(), nil)
	h := s.Handler()
	do(t, h, http.MethodPost, "/api/view", `{"mode":"week"}`)

	l := s.app.Layout(layout.DefaultViewport)
	r, ok := l.ElementRect("sub:team:holiday")
	require.True(t, ok)
	p := center(r)
	body := fmt.Sprintf(`{"eventId":"sub:team:holiday","x":%f,"y":%f}`, p.X, p.Y)
	assert.Equal(t, http.StatusForbidden, do(t, h, http.MethodPost, "/api/drag/begin", body).Code)
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodPost, "/api/drag/begin", `{"eventId":"ghost"}`).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/api/drag/begin", `{}`).Code)
}

func TestSignedOutWritesAreUnauthorized(t *testing.T) {
	s, a := newServer(t, seeded(), nil)
	h := s.Handler()
	a.SignOut()

	assert.Equal(t, http.StatusUnauthorized, do(t, h, http.MethodPost, "/api/refresh", "").Code)
	rec := do(t, h, http.MethodPost, "/api/events", `{"title":"Lunch","start_date":"2024-03-20","end_date":"2024-03-20"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	sess := decode[struct {
		SignedIn  bool `json:"signed_in"`
		CanSignIn bool `json:"can_sign_in"`
	}](t, do(t, h, http.MethodGet, "/api/session", ""))
	assert.False(t, sess.SignedIn)
	assert.False(t, sess.CanSignIn)
}

func TestCalendarPage(t *testing.T) {
	s, _ := newServer(t, seeded(), nil)
	h := s.Handler()

	rec := do(t, h, http.MethodGet, "/calendar", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	body := rec.Body.String()
	assert.Contains(t, body, `data-ready="true"`)
	assert.Contains(t, body, "March 2024")
	assert.Contains(t, body, `data-event="standup"`)

	rec = do(t, h, http.MethodGet, "/", "")
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/calendar", rec.Header().Get("Location"))
}

func TestOAuthFlow(t *testing.T) {
	si := &fakeSignIn{}
	s, _ := newServer(t, seeded(), si)
	h := s.Handler()

	rec := do(t, h, http.MethodGet, "/oauth/login", "")
	require.Equal(t, http.StatusFound, rec.Code)
	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "s1", loc.Query().Get("state"))

	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, "/oauth/callback?state=forged&code=c", "").Code)
	assert.Empty(t, si.codes)

	rec = do(t, h, http.MethodGet, "/oauth/callback?state=s1&code=c1", "")
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, []string{"c1"}, si.codes)

	// States are single use.
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, "/oauth/callback?state=s1&code=c2", "").Code)
}

func TestOAuthUnavailableWithoutSignIn(t *testing.T) {
	s, _ := newServer(t, seeded(), nil)
	assert.Equal(t, http.StatusNotFound, do(t, s.Handler(), http.MethodGet, "/oauth/login", "").Code)
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusConflict, statusFor(fmt.Errorf("x: %w", drag.ErrCommitInFlight)))
	assert.Equal(t, http.StatusUnauthorized, statusFor(calendar.ErrAuthExpired))
	assert.Equal(t, http.StatusBadRequest, statusFor(model.ErrEndBeforeStart))
	assert.Equal(t, http.StatusInternalServerError, statusFor(io.ErrUnexpectedEOF))
}
