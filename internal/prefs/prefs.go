// Package prefs is the small key/value store behind view preferences and
// the stored OAuth token.
package prefs

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/peterbourgon/diskv/v3"
)

// Store keeps one file per key under its base directory.
type Store struct {
	d *diskv.Diskv
}

// Open returns a Store rooted at dir, creating it when needed.
func Open(dir string) (*Store, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("prefs: directory is empty")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("prefs: %w", err)
	}
	return &Store{d: diskv.New(diskv.Options{
		BasePath:     dir,
		FilePerm:     0o600,
		PathPerm:     0o700,
		CacheSizeMax: 64 * 1024,
	})}, nil
}

// Get returns the value for key. Missing or unreadable keys report false.
func (s *Store) Get(key string) (string, bool) {
	if !s.d.Has(key) {
		return "", false
	}
	v, err := s.d.Read(key)
	if err != nil {
		return "", false
	}
	return string(v), true
}

func (s *Store) Set(key, value string) error {
	return s.d.Write(key, []byte(value))
}

// Delete removes key; deleting a missing key is not an error.
func (s *Store) Delete(key string) error {
	if !s.d.Has(key) {
		return nil
	}
	return s.d.Erase(key)
}

// Cache exposes the underlying diskv for byte-oriented callers such as
// the ICS subscription cache.
func (s *Store) Cache() *diskv.Diskv {
	return s.d
}
