// Package backend opens the calendar.Client selected in the config and, for
// Google, the browser sign-in that produces one.
package backend

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"webcal/internal/auth"
	"webcal/internal/calendar"
	"webcal/internal/calendar/google"
	"webcal/internal/calendar/icsfile"
	"webcal/internal/config"
	"webcal/internal/ics"
	appLog "webcal/internal/log"
	"webcal/internal/prefs"
)

type Options struct {
	Config   *config.Config
	Store    *prefs.Store
	Location *time.Location

	// OAuthEndpoint and APIEndpoint replace Google's (tests).
	OAuthEndpoint *oauth2.Endpoint
	APIEndpoint   string
}

// Setup is what Open produced. Client is nil while signed out; SignIn is
// nil for backends without credentials.
type Setup struct {
	Client calendar.Client
	SignIn *GoogleSignIn
}

// Open builds the configured backend. ctx outlives every request: token
// refreshes of the Google client run on it.
func Open(ctx context.Context, opts Options) (*Setup, error) {
	cfg := opts.Config
	if cfg == nil {
		return nil, errors.New("backend: config is nil")
	}
	switch cfg.Backend {
	case config.BackendGoogle:
		return openGoogle(ctx, opts)
	case config.BackendICS, "":
		return openICS(opts)
	default:
		return nil, fmt.Errorf("backend: unknown backend %q", cfg.Backend)
	}
}

func openICS(opts Options) (*Setup, error) {
	cfg := opts.Config
	subs := make([]ics.Source, 0, len(cfg.ICS.Subscriptions))
	for _, s := range cfg.ICS.Subscriptions {
		if s.URL == "" {
			continue
		}
		subs = append(subs, ics.Source{ID: s.ID, URL: s.URL})
	}

	var fetcher *ics.Fetcher
	if len(subs) > 0 {
		cache, err := prefs.Open(filepath.Join(cfg.StateDir, "feeds"))
		if err != nil {
			return nil, fmt.Errorf("backend: feed cache: %w", err)
		}
		fetcher = ics.NewFetcher(cache.Cache(), nil)
	}

	b, err := icsfile.New(icsfile.Options{
		Path:          cfg.ICS.Path,
		Location:      opts.Location,
		Subscriptions: subs,
		Fetcher:       fetcher,
	})
	if err != nil {
		return nil, err
	}
	appLog.Info("using local calendar", "path", cfg.ICS.Path, "subscriptions", len(subs))
	return &Setup{Client: b}, nil
}

func openGoogle(ctx context.Context, opts Options) (*Setup, error) {
	cfg := opts.Config
	redirect := cfg.Google.RedirectURL
	if redirect == "" {
		redirect = "http://" + cfg.Listen + "/oauth/callback"
	}
	oc, err := auth.Config(auth.Credentials{
		ClientID:     cfg.Google.ClientID,
		ClientSecret: cfg.Google.ClientSecret,
		RedirectURL:  redirect,
	}, opts.OAuthEndpoint)
	if err != nil {
		return nil, err
	}
	if opts.Store == nil {
		return nil, errors.New("backend: google needs a preference store")
	}

	gs := &GoogleSignIn{
		ctx:    ctx,
		oauth:  oc,
		tokens: prefs.NewTokenStore(opts.Store),
		api: google.Options{
			CalendarID: cfg.Google.CalendarID,
			Location:   opts.Location,
			Endpoint:   opts.APIEndpoint,
		},
	}
	client, err := gs.Connect()
	if err != nil {
		return nil, err
	}
	if client == nil {
		appLog.Info("google calendar: not signed in", "login", "/oauth/login")
		return &Setup{SignIn: gs}, nil
	}
	return &Setup{Client: client, SignIn: gs}, nil
}

// GoogleSignIn runs the OAuth consent flow and turns the stored token into
// a calendar client.
type GoogleSignIn struct {
	ctx    context.Context
	oauth  *oauth2.Config
	tokens *prefs.TokenStore
	api    google.Options

	mu sync.Mutex
	// onClient receives the client built after a completed sign-in.
	onClient func(calendar.Client)
}

// OnClient registers the receiver of clients built by Complete.
func (g *GoogleSignIn) OnClient(fn func(calendar.Client)) {
	g.mu.Lock()
	g.onClient = fn
	g.mu.Unlock()
}

func (g *GoogleSignIn) AuthURL() (string, string) {
	return auth.AuthURL(g.oauth)
}

// Complete exchanges code for a token, stores it and hands the resulting
// client to the OnClient receiver.
func (g *GoogleSignIn) Complete(ctx context.Context, code string) error {
	if err := auth.Exchange(ctx, g.oauth, g.tokens, code); err != nil {
		return err
	}
	client, err := g.Connect()
	if err != nil {
		return err
	}
	if client == nil {
		return errors.New("google sign-in: token was not stored")
	}
	g.mu.Lock()
	fn := g.onClient
	g.mu.Unlock()
	if fn != nil {
		fn(client)
	}
	appLog.Info("google calendar: signed in")
	return nil
}

// Connect builds a client from the stored token. It returns nil, nil when no
// usable token is stored.
func (g *GoogleSignIn) Connect() (calendar.Client, error) {
	hc, ok := auth.Client(g.ctx, g.oauth, g.tokens)
	if !ok {
		return nil, nil
	}
	opts := g.api
	opts.HTTPClient = hc
	c, err := google.New(g.ctx, opts)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// SignOut forgets the stored token.
func (g *GoogleSignIn) SignOut() error {
	return g.tokens.Clear()
}
