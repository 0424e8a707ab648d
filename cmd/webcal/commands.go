package main

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/gosuri/uitable"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"webcal/internal/capture"
	"webcal/internal/datemath"
	"webcal/internal/index"
	appLog "webcal/internal/log"
	"webcal/internal/model"
	"webcal/internal/prefs"
	"webcal/internal/view"
	"webcal/internal/web"
)

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the calendar UI and API.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := loadRuntime(cmd)
			if err != nil {
				return err
			}
			ctx, cancel := signalContext()
			defer cancel()

			setup, err := rt.openBackend(ctx)
			if err != nil {
				return err
			}
			a := rt.newApp(setup)
			defer a.Close()
			if err := a.Start(ctx); err != nil {
				return err
			}

			var signIn web.SignIn
			if setup.SignIn != nil {
				signIn = setup.SignIn
			}
			appLog.Info("webcal starting", "version", version, "backend", rt.cfg.Backend)
			return web.StartServer(ctx, rt.cfg, web.NewServer(rt.cfg, a, signIn).Handler())
		},
	}
}

func newSnapshotCommand() *cobra.Command {
	var (
		out    string
		width  int
		height int
	)
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Render the current view to a PNG with headless Chromium.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := loadRuntime(cmd)
			if err != nil {
				return err
			}
			ctx, cancel := signalContext()
			defer cancel()

			setup, err := rt.openBackend(ctx)
			if err != nil {
				return err
			}
			a := rt.newApp(setup)
			defer a.Close()
			if err := a.Refresh(ctx); err != nil {
				appLog.Warn("snapshot without events", "err", err)
			}

			ln, err := net.Listen("tcp", "127.0.0.1:0")
			if err != nil {
				return err
			}
			srv := &http.Server{
				Handler:           web.NewServer(rt.cfg, a, nil).Handler(),
				ReadHeaderTimeout: 10 * time.Second,
			}
			go func() {
				if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
					appLog.Error("snapshot server failed", err)
				}
			}()
			defer srv.Close()

			opts := capture.Options{
				BaseURL:    "http://" + ln.Addr().String(),
				OutputPath: out,
				Width:      width,
				Height:     height,
			}
			if ba := rt.cfg.BasicAuth; ba != nil {
				opts.Username, opts.Password = ba.Username, ba.Password
			}
			return capture.Snapshot(ctx, opts)
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "webcal.png", "output PNG path")
	cmd.Flags().IntVar(&width, "width", capture.DefaultWidth, "viewport width in pixels")
	cmd.Flags().IntVar(&height, "height", capture.DefaultHeight, "viewport height in pixels")
	return cmd
}

func newEventsCommand() *cobra.Command {
	var (
		date string
		mode string
	)
	cmd := &cobra.Command{
		Use:   "events",
		Short: "List the events of a month, week or day.",
		Example: `
webcal events
webcal events --mode week --date 2024-03-12
`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := loadRuntime(cmd)
			if err != nil {
				return err
			}
			m, err := view.ParseMode(mode)
			if err != nil {
				return err
			}
			anchor := time.Now().In(rt.loc)
			if date != "" {
				key, err := datemath.ParseDateKey(date)
				if err != nil {
					return err
				}
				anchor = key.Time(rt.loc)
			}

			ctx, cancel := signalContext()
			defer cancel()
			setup, err := rt.openBackend(ctx)
			if err != nil {
				return err
			}
			if setup.Client == nil {
				return errSignedOut
			}

			r := view.VisibleRange(view.New(m, anchor))
			from, to := r.FetchWindow()
			evs, err := setup.Client.ListEvents(ctx, from, to)
			if err != nil {
				return err
			}
			idx := index.New(rt.loc)
			start, end := r.Keys()
			idx.ReplaceRange(start, end, evs)
			printEvents(r, idx, rt.loc)
			return nil
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "any date in the range (YYYY-MM-DD, default today)")
	cmd.Flags().StringVar(&mode, "mode", string(view.Week), "month, week or day")
	return cmd
}

func printEvents(r view.Range, idx *index.Index, loc *time.Location) {
	bold := color.New(color.Bold)
	faint := color.New(color.Faint)

	tbl := uitable.New()
	tbl.Separator = "  "
	tbl.MaxColWidth = 60
	tbl.AddRow(bold.Sprint("Date"), bold.Sprint("Time"), bold.Sprint("Title"), bold.Sprint("ID"))
	for _, d := range r.Days() {
		key := datemath.ToDateKey(d)
		for i, ev := range idx.Lookup(key) {
			day := ""
			if i == 0 {
				day = d.Format("Mon Jan 2")
			}
			title := ev.Title
			if ev.ReadOnly {
				title = faint.Sprint(title + " (read-only)")
			}
			tbl.AddRow(day, eventTime(ev, loc), title, faint.Sprint(ev.ID))
		}
	}
	_, _ = fmt.Fprintln(color.Output, tbl)
}

func eventTime(ev model.Event, loc *time.Location) string {
	if ev.IsAllDay() {
		if ev.EndDate != ev.StartDate {
			return "all day → " + string(ev.EndDate)
		}
		return "all day"
	}
	return datemath.ClockString(ev.Start.In(loc)) + "-" + datemath.ClockString(ev.End.In(loc))
}

func newLoginCommand() *cobra.Command {
	var code string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in to Google Calendar from the terminal.",
		Long: "Prints the consent URL. After approving, paste the code or the whole\n" +
			"redirect URL the browser lands on.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := loadRuntime(cmd)
			if err != nil {
				return err
			}
			ctx, cancel := signalContext()
			defer cancel()

			setup, err := rt.openBackend(ctx)
			if err != nil {
				return err
			}
			if setup.SignIn == nil {
				return fmt.Errorf("backend %q needs no sign-in", rt.cfg.Backend)
			}

			authURL, state := setup.SignIn.AuthURL()
			if code == "" {
				_, _ = fmt.Fprintf(color.Output, "Open this URL and approve access:\n\n  %s\n\nCode or redirect URL: ", color.CyanString(authURL))
				line, err := bufio.NewReader(os.Stdin).ReadString('\n')
				if err != nil && line == "" {
					return fmt.Errorf("read code: %w", err)
				}
				code = line
			}
			c, err := codeFrom(code, state)
			if err != nil {
				return err
			}
			if err := setup.SignIn.Complete(ctx, c); err != nil {
				return err
			}
			_, _ = fmt.Fprintln(color.Output, color.GreenString("Signed in."))
			return nil
		},
	}
	cmd.Flags().StringVar(&code, "code", "", "authorization code (skips the prompt)")
	return cmd
}

// codeFrom accepts a bare authorization code or the redirect URL carrying
// it. A URL must carry the expected state.
func codeFrom(input, state string) (string, error) {
	input = strings.TrimSpace(input)
	if !strings.Contains(input, "://") {
		if input == "" {
			return "", errors.New("authorization code is empty")
		}
		return input, nil
	}
	u, err := url.Parse(input)
	if err != nil {
		return "", fmt.Errorf("redirect URL: %w", err)
	}
	q := u.Query()
	if e := q.Get("error"); e != "" {
		return "", fmt.Errorf("consent denied: %s", e)
	}
	if q.Get("state") != state {
		return "", errors.New("redirect URL is from a different sign-in attempt")
	}
	if q.Get("code") == "" {
		return "", errors.New("redirect URL has no code")
	}
	return q.Get("code"), nil
}

func newLogoutCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the stored Google token.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := loadRuntime(cmd)
			if err != nil {
				return err
			}
			if err := prefs.NewTokenStore(rt.store).Clear(); err != nil {
				return err
			}
			_, _ = fmt.Fprintln(color.Output, "Signed out.")
			return nil
		},
	}
}

func newConfigCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := loadRuntime(cmd)
			if err != nil {
				return err
			}
			cfg := *rt.cfg
			if cfg.Google.ClientSecret != "" {
				cfg.Google.ClientSecret = "<redacted>"
			}
			if cfg.BasicAuth != nil {
				ba := *cfg.BasicAuth
				ba.Password = "<redacted>"
				cfg.BasicAuth = &ba
			}
			out, err := yaml.Marshal(&cfg)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(color.Output, "# %s\n%s", rt.cfgPath, out)
			return nil
		},
	}
}
