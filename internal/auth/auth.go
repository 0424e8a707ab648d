// Package auth holds the OAuth2 glue for the Google Calendar backend: the
// client config, the code exchange and a token source that writes refreshed
// tokens back to the preference store.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	appLog "webcal/internal/log"
	"webcal/internal/prefs"
)

// CalendarScope grants read/write access to the user's calendars.
const CalendarScope = "https://www.googleapis.com/auth/calendar"

// DefaultRedirectURL is the out-of-band style loopback the CLI login prints.
const DefaultRedirectURL = "http://127.0.0.1:8080/oauth/callback"

var ErrNotConfigured = errors.New("google OAuth client id/secret not configured")

type Credentials struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
}

// Config builds the oauth2 config. Endpoint is google.Endpoint unless
// overridden (tests).
func Config(c Credentials, endpoint *oauth2.Endpoint) (*oauth2.Config, error) {
	if strings.TrimSpace(c.ClientID) == "" || strings.TrimSpace(c.ClientSecret) == "" {
		return nil, ErrNotConfigured
	}
	if c.RedirectURL == "" {
		c.RedirectURL = DefaultRedirectURL
	}
	ep := google.Endpoint
	if endpoint != nil {
		ep = *endpoint
	}
	return &oauth2.Config{
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		RedirectURL:  c.RedirectURL,
		Scopes:       []string{CalendarScope},
		Endpoint:     ep,
	}, nil
}

// AuthURL returns the consent URL and the state value to verify on callback.
// Offline access is requested so a refresh token comes back.
func AuthURL(cfg *oauth2.Config) (url, state string) {
	state = uuid.NewString()
	return cfg.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce), state
}

// Exchange trades an authorization code for a token and stores it.
func Exchange(ctx context.Context, cfg *oauth2.Config, tokens *prefs.TokenStore, code string) error {
	code = strings.TrimSpace(code)
	if code == "" {
		return errors.New("authorization code is empty")
	}
	tok, err := cfg.Exchange(ctx, code)
	if err != nil {
		return fmt.Errorf("token exchange: %w", err)
	}
	if err := tokens.Save(FromOAuth2(tok)); err != nil {
		return fmt.Errorf("store token: %w", err)
	}
	appLog.Info("google token stored", "expiry", tok.Expiry)
	return nil
}

// Client returns an HTTP client authorized with the stored token. ok is
// false when no usable token is stored.
func Client(ctx context.Context, cfg *oauth2.Config, tokens *prefs.TokenStore) (*http.Client, bool) {
	stored, ok := tokens.Load()
	if !ok {
		return nil, false
	}
	src := &persistingSource{
		base:   cfg.TokenSource(ctx, toOAuth2(stored)),
		tokens: tokens,
		last:   stored.AccessToken,
	}
	return oauth2.NewClient(ctx, oauth2.ReuseTokenSource(toOAuth2(stored), src)), true
}

// persistingSource saves every newly minted access token.
type persistingSource struct {
	base   oauth2.TokenSource
	tokens *prefs.TokenStore

	mu   sync.Mutex
	last string
}

func (s *persistingSource) Token() (*oauth2.Token, error) {
	tok, err := s.base.Token()
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if tok.AccessToken != s.last {
		s.last = tok.AccessToken
		if err := s.tokens.Save(FromOAuth2(tok)); err != nil {
			appLog.Error("failed to persist refreshed token", err)
		}
	}
	return tok, nil
}

func FromOAuth2(t *oauth2.Token) prefs.StoredToken {
	return prefs.StoredToken{
		AccessToken:  t.AccessToken,
		RefreshToken: t.RefreshToken,
		Expiry:       t.Expiry,
	}
}

func toOAuth2(t prefs.StoredToken) *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  t.AccessToken,
		TokenType:    "Bearer",
		RefreshToken: t.RefreshToken,
		Expiry:       t.Expiry,
	}
}
