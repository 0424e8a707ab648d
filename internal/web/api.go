package web

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"webcal/internal/app"
	"webcal/internal/calendar"
	"webcal/internal/datemath"
	"webcal/internal/drag"
	"webcal/internal/layout"
	appLog "webcal/internal/log"
	"webcal/internal/model"
	"webcal/internal/view"
)

var errBadRequest = errors.New("bad request")

// statusFor maps domain errors onto HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, errBadRequest),
		errors.Is(err, view.ErrInvalidMode),
		errors.Is(err, view.ErrInvalidDirection),
		errors.Is(err, model.ErrNoExtent),
		errors.Is(err, model.ErrMixedExtent),
		errors.Is(err, model.ErrEndBeforeStart),
		errors.Is(err, model.ErrTitleRequired),
		errors.Is(err, drag.ErrInvalidGesture):
		return http.StatusBadRequest
	case errors.Is(err, calendar.ErrNotFound), errors.Is(err, drag.ErrUnknownEvent):
		return http.StatusNotFound
	case errors.Is(err, calendar.ErrAuthExpired):
		return http.StatusUnauthorized
	case errors.Is(err, calendar.ErrReadOnly):
		return http.StatusForbidden
	case errors.Is(err, drag.ErrSessionActive),
		errors.Is(err, drag.ErrNoSession),
		errors.Is(err, drag.ErrCommitInFlight):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeErr(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		appLog.Error("request failed", err)
	}
	writeJSON(w, status, struct {
		Error string `json:"error"`
	}{Error: err.Error()})
}

type viewResponse struct {
	Mode     view.Mode        `json:"mode"`
	Anchor   datemath.DateKey `json:"anchor"`
	Start    datemath.DateKey `json:"start"`
	End      datemath.DateKey `json:"end"`
	SignedIn bool             `json:"signed_in"`
	Drag     drag.State       `json:"drag"`
}

func (s *Server) viewResponse(st view.State) viewResponse {
	start, end := view.VisibleRange(st).Keys()
	return viewResponse{
		Mode:     st.Mode,
		Anchor:   st.AnchorKey(),
		Start:    start,
		End:      end,
		SignedIn: s.app.SignedIn(),
		Drag:     s.app.DragState(),
	}
}

func (s *Server) handleGetView(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.viewResponse(s.app.View()))
}

func (s *Server) handleSetView(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Mode string `json:"mode"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeErr(w, err)
		return
	}
	st, err := s.app.SetMode(r.Context(), req.Mode)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.viewResponse(st))
}

func (s *Server) handleNavigate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Direction string `json:"direction"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeErr(w, err)
		return
	}
	dir, err := view.ParseDirection(req.Direction)
	if err != nil {
		writeErr(w, err)
		return
	}
	st, err := s.app.Navigate(r.Context(), dir)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.viewResponse(st))
}

// GET /api/events?date=YYYY-MM-DD
func (s *Server) handleEventsForDate(w http.ResponseWriter, r *http.Request) {
	key, err := datemath.ParseDateKey(r.URL.Query().Get("date"))
	if err != nil {
		writeErr(w, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	evs := s.app.EventsForDate(key)
	if evs == nil {
		evs = []model.Event{}
	}
	writeJSON(w, http.StatusOK, struct {
		Date   datemath.DateKey `json:"date"`
		Events []model.Event    `json:"events"`
	}{Date: key, Events: evs})
}

func (s *Server) handleFindEvent(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	ev, ok := s.app.FindEvent(id)
	if !ok {
		writeError(w, http.StatusNotFound, "event not found")
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

func (s *Server) handleCreateEvent(w http.ResponseWriter, r *http.Request) {
	var d model.Draft
	if err := decodeJSON(w, r, &d); err != nil {
		writeErr(w, err)
		return
	}
	ev, err := s.app.CreateEvent(r.Context(), d)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, ev)
}

func (s *Server) handleUpdateEvent(w http.ResponseWriter, r *http.Request) {
	var p model.Patch
	if err := decodeJSON(w, r, &p); err != nil {
		writeErr(w, err)
		return
	}
	ev, err := s.app.UpdateEvent(r.Context(), r.PathValue("id"), p)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

func (s *Server) handleDeleteEvent(w http.ResponseWriter, r *http.Request) {
	if err := s.app.DeleteEvent(r.Context(), r.PathValue("id")); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GET /api/draft?date=YYYY-MM-DD&hour=9&minute=30 returns the draft a click
// on an empty region of the current view starts from.
func (s *Server) handleDraft(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	key, err := datemath.ParseDateKey(q.Get("date"))
	if err != nil {
		writeErr(w, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	hour := min(max(parseIntDefault(q.Get("hour"), 9), 0), 23)
	minute := min(max(parseIntDefault(q.Get("minute"), 0), 0), 59)
	writeJSON(w, http.StatusOK, s.app.DefaultDraftAt(s.app.View().Mode, key, hour, minute))
}

func (s *Server) handleLayout(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.app.Layout(viewportOf(r)))
}

func viewportOf(r *http.Request) layout.Viewport {
	q := r.URL.Query()
	vp := layout.Viewport{
		Width:  parseFloatDefault(q.Get("width"), 0),
		Height: parseFloatDefault(q.Get("height"), 0),
	}
	if vp.Width <= 0 || vp.Height <= 0 {
		return layout.DefaultViewport
	}
	return vp
}

type dragBeginRequest struct {
	EventID string  `json:"eventId"`
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
	Width   float64 `json:"width"`
	Height  float64 `json:"height"`
}

func (s *Server) handleDragBegin(w http.ResponseWriter, r *http.Request) {
	var req dragBeginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeErr(w, err)
		return
	}
	vp := layout.Viewport{Width: req.Width, Height: req.Height}
	if vp.Width <= 0 || vp.Height <= 0 {
		vp = layout.DefaultViewport
	}
	sess, err := s.app.BeginDrag(vp, req.EventID, drag.Point{X: req.X, Y: req.Y})
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleDragMove(w http.ResponseWriter, r *http.Request) {
	var p drag.Point
	if err := decodeJSON(w, r, &p); err != nil {
		writeErr(w, err)
		return
	}
	f, err := s.app.UpdateDrag(p)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, f)
}

type dragEndResponse struct {
	EventID string           `json:"event_id"`
	Result  drag.Result      `json:"result"`
	Rect    drag.Rect        `json:"rect"`
	Target  *drag.DropTarget `json:"target,omitempty"`
	Event   *model.Event     `json:"event,omitempty"`
	Error   string           `json:"error,omitempty"`
}

// POST /api/drag/end. With ?wait=true the response is held until the commit
// settles.
func (s *Server) handleDragEnd(w http.ResponseWriter, r *http.Request) {
	var p drag.Point
	if err := decodeJSON(w, r, &p); err != nil {
		writeErr(w, err)
		return
	}
	o, err := s.app.EndDrag(r.Context(), p)
	if err != nil {
		writeErr(w, err)
		return
	}
	if wait, _ := strconv.ParseBool(r.URL.Query().Get("wait")); wait {
		_ = o.Wait(r.Context())
	}

	st := o.Snapshot()
	resp := dragEndResponse{
		EventID: o.EventID,
		Result:  st.Result,
		Rect:    st.Rect,
		Target:  o.Target,
	}
	if st.Result == drag.Committed {
		resp.Event = &st.Event
	}
	if st.Err != nil {
		resp.Error = st.Err.Error()
	}
	status := http.StatusOK
	if resp.Result == drag.Pending {
		status = http.StatusAccepted
	}
	writeJSON(w, status, resp)
}

func (s *Server) handleDragCancel(w http.ResponseWriter, _ *http.Request) {
	rect, err := s.app.CancelDrag()
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Rect drag.Rect `json:"rect"`
	}{Rect: rect})
}

func (s *Server) handleNotices(w http.ResponseWriter, _ *http.Request) {
	ns := s.app.Notices()
	if ns == nil {
		ns = []app.Notice{}
	}
	writeJSON(w, http.StatusOK, ns)
}

func (s *Server) handleSession(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, struct {
		SignedIn  bool   `json:"signed_in"`
		Backend   string `json:"backend"`
		CanSignIn bool   `json:"can_sign_in"`
	}{
		SignedIn:  s.app.SignedIn(),
		Backend:   s.cfg.Backend,
		CanSignIn: s.signIn != nil,
	})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if err := s.app.Refresh(r.Context()); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.viewResponse(s.app.View()))
}

func (s *Server) handleSignOut(w http.ResponseWriter, _ *http.Request) {
	s.app.SignOut()
	w.WriteHeader(http.StatusNoContent)
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

func parseFloatDefault(s string, def float64) float64 {
	if s == "" {
		return def
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return def
	}
	return f
}

// issueState remembers an OAuth state and drops stale ones.
func (s *Server) issueState(state string, now time.Time) {
	s.statesMu.Lock()
	defer s.statesMu.Unlock()
	for k, at := range s.states {
		if now.Sub(at) > oauthStateTTL {
			delete(s.states, k)
		}
	}
	s.states[state] = now
}

func (s *Server) consumeState(state string, now time.Time) bool {
	s.statesMu.Lock()
	defer s.statesMu.Unlock()
	at, ok := s.states[state]
	delete(s.states, state)
	return ok && now.Sub(at) <= oauthStateTTL
}

func (s *Server) handleOAuthLogin(w http.ResponseWriter, r *http.Request) {
	if s.signIn == nil {
		writeError(w, http.StatusNotFound, "sign-in is not available for this backend")
		return
	}
	url, state := s.signIn.AuthURL()
	s.issueState(state, time.Now())
	http.Redirect(w, r, url, http.StatusFound)
}

func (s *Server) handleOAuthCallback(w http.ResponseWriter, r *http.Request) {
	if s.signIn == nil {
		writeError(w, http.StatusNotFound, "sign-in is not available for this backend")
		return
	}
	q := r.URL.Query()
	if e := q.Get("error"); e != "" {
		appLog.Warn("oauth consent denied", "error", e)
		writeError(w, http.StatusUnauthorized, "sign-in was cancelled")
		return
	}
	if !s.consumeState(q.Get("state"), time.Now()) {
		writeError(w, http.StatusBadRequest, "unknown or expired sign-in state")
		return
	}
	if err := s.signIn.Complete(r.Context(), q.Get("code")); err != nil {
		appLog.Error("oauth exchange failed", err)
		writeError(w, http.StatusBadGateway, "sign-in failed")
		return
	}
	if err := s.app.Refresh(r.Context()); err != nil {
		appLog.Warn("refresh after sign-in failed", "err", err)
	}
	http.Redirect(w, r, "/calendar", http.StatusFound)
}
