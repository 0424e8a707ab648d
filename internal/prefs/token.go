package prefs

import (
	"encoding/json"
	"time"

	appLog "webcal/internal/log"
)

// TokenKey is where the Google OAuth token is persisted.
const TokenKey = "google_calendar_token"

type StoredToken struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	Expiry       time.Time `json:"expiry,omitzero"`
}

// Usable reports whether the token can still authorize requests at now.
// A refresh token keeps an expired access token usable.
func (t StoredToken) Usable(now time.Time) bool {
	if t.AccessToken == "" && t.RefreshToken == "" {
		return false
	}
	if t.RefreshToken != "" || t.Expiry.IsZero() {
		return true
	}
	return now.Before(t.Expiry)
}

type TokenStore struct {
	store *Store
	now   func() time.Time
}

func NewTokenStore(s *Store) *TokenStore {
	return &TokenStore{store: s, now: time.Now}
}

// Load returns the stored token. Unusable or corrupt entries are removed and
// reported as absent.
func (ts *TokenStore) Load() (StoredToken, bool) {
	raw, ok := ts.store.Get(TokenKey)
	if !ok {
		return StoredToken{}, false
	}
	var tok StoredToken
	if err := json.Unmarshal([]byte(raw), &tok); err != nil {
		appLog.Warn("stored token is corrupt, clearing", "err", err)
		_ = ts.Clear()
		return StoredToken{}, false
	}
	if !tok.Usable(ts.now()) {
		appLog.Info("stored token has expired, clearing")
		_ = ts.Clear()
		return StoredToken{}, false
	}
	return tok, true
}

func (ts *TokenStore) Save(tok StoredToken) error {
	raw, err := json.Marshal(tok)
	if err != nil {
		return err
	}
	return ts.store.Set(TokenKey, string(raw))
}

func (ts *TokenStore) Clear() error {
	return ts.store.Delete(TokenKey)
}
