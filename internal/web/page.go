package web

import (
	"embed"
	"html/template"
	"net/http"
	"strconv"

	"webcal/internal/app"
	"webcal/internal/layout"
	appLog "webcal/internal/log"
)

//go:embed templates/calendar.html
var templateFS embed.FS

var calendarTemplate = template.Must(template.New("calendar.html").Funcs(template.FuncMap{
	"px": func(v float64) string { return strconv.FormatFloat(v, 'f', 1, 64) + "px" },
}).ParseFS(templateFS, "templates/calendar.html"))

type pageData struct {
	Layout   *layout.Layout
	Notices  []app.Notice
	SignedIn bool
	SignIn   bool
}

// handleCalendarPage renders the current view server-side. The root carries
// data-ready="true" once the markup is complete, which snapshot waits for.
func (s *Server) handleCalendarPage(w http.ResponseWriter, r *http.Request) {
	data := pageData{
		Layout:   s.app.Layout(viewportOf(r)),
		Notices:  s.app.Notices(),
		SignedIn: s.app.SignedIn(),
		SignIn:   s.signIn != nil,
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.page.Execute(w, data); err != nil {
		appLog.Error("failed to render calendar page", err)
	}
}
