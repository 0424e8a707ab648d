package view

import (
	"time"

	"webcal/internal/datemath"
)

// Preference keys.
const (
	ModeKey   = "calendar_view_preference"
	AnchorKey = "calendar_view_anchor"
)

// Preferences is the key/value store the state is persisted in.
type Preferences interface {
	Get(key string) (string, bool)
	Set(key, value string) error
}

// Restore rebuilds the last saved state, defaulting to Month anchored on
// today. Unreadable values are ignored.
func Restore(p Preferences, today time.Time) State {
	s := New(Month, today)
	if p == nil {
		return s
	}
	if raw, ok := p.Get(ModeKey); ok {
		if m, err := ParseMode(raw); err == nil {
			s.Mode = m
		}
	}
	if raw, ok := p.Get(AnchorKey); ok {
		if k, err := datemath.ParseDateKey(raw); err == nil {
			s.Anchor = k.Time(today.Location())
		}
	}
	return s
}

// Save writes mode and anchor.
func Save(p Preferences, s State) error {
	if p == nil {
		return nil
	}
	if err := p.Set(ModeKey, string(s.Mode)); err != nil {
		return err
	}
	return p.Set(AnchorKey, string(s.AnchorKey()))
}
