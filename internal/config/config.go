package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"gopkg.in/yaml.v3"
)

const appName = "webcal"

// Backend names.
const (
	BackendICS    = "ics"
	BackendGoogle = "google"
)

// SubscriptionConfig is one read-only remote ICS feed.
type SubscriptionConfig struct {
	// ID is an internal identifier used in event ids and logging.
	ID string `yaml:"id" json:"id"`
	// URL is the ICS subscription endpoint.
	URL string `yaml:"url" json:"url"`
	// Name is a human-friendly label.
	Name string `yaml:"name,omitempty" json:"name,omitempty"`
}

type ICSConfig struct {
	// Path is the local, writable calendar file.
	Path          string               `yaml:"path" json:"path"`
	Subscriptions []SubscriptionConfig `yaml:"subscriptions" json:"subscriptions"`
}

type GoogleConfig struct {
	CalendarID   string `yaml:"calendar_id" json:"calendar_id"`
	ClientID     string `yaml:"client_id" json:"client_id"`
	ClientSecret string `yaml:"client_secret" json:"-"`
	RedirectURL  string `yaml:"redirect_url" json:"redirect_url"`
}

type DragConfig struct {
	// ThresholdPX is the dead zone before a press becomes a drag.
	ThresholdPX float64 `yaml:"threshold_px" json:"threshold_px"`
	// DefaultDurationMinutes is given to all-day events dropped on a slot.
	DefaultDurationMinutes int `yaml:"default_duration_minutes" json:"default_duration_minutes"`
}

type GridConfig struct {
	DayStartHour int `yaml:"day_start_hour" json:"day_start_hour"`
	DayEndHour   int `yaml:"day_end_hour" json:"day_end_hour"`
	SlotMinutes  int `yaml:"slot_minutes" json:"slot_minutes"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the Web UI/API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"-"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the Web UI and API.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA zone all date keys are computed in. Empty means
	// the host's local zone.
	Timezone string `yaml:"timezone" json:"timezone"`

	LogLevel string `yaml:"log_level" json:"log_level"`

	// RefreshCron is a cron-style schedule (e.g. "*/15 * * * *") for
	// reloading the visible range. Empty disables it.
	RefreshCron string `yaml:"refresh" json:"refresh"`

	// Backend selects the calendar source: "ics" or "google".
	Backend string `yaml:"backend" json:"backend"`

	Google GoogleConfig `yaml:"google" json:"google"`
	ICS    ICSConfig    `yaml:"ics" json:"ics"`

	// StateDir holds preferences, the stored token and the feed cache.
	StateDir string `yaml:"state_dir" json:"state_dir"`

	Drag DragConfig `yaml:"drag" json:"drag"`
	Grid GridConfig `yaml:"grid" json:"grid"`

	CommitTimeoutSeconds int `yaml:"commit_timeout_seconds" json:"commit_timeout_seconds"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all endpoints
	// except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// DefaultPath is the config file location under the XDG config home.
func DefaultPath() string {
	return filepath.Join(xdg.ConfigHome, appName, "config.yaml")
}

func defaultStateDir() string {
	return filepath.Join(xdg.StateHome, appName)
}

func defaultICSPath() string {
	return filepath.Join(xdg.DataHome, appName, "calendar.ics")
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:      "127.0.0.1:8080",
		LogLevel:    "info",
		RefreshCron: "*/15 * * * *",
		Backend:     BackendICS,
		Google:      GoogleConfig{CalendarID: "primary"},
		ICS: ICSConfig{
			Path:          defaultICSPath(),
			Subscriptions: []SubscriptionConfig{},
		},
		StateDir: defaultStateDir(),
		Drag: DragConfig{
			ThresholdPX:            5,
			DefaultDurationMinutes: 60,
		},
		Grid: GridConfig{
			DayStartHour: 6,
			DayEndHour:   22,
			SlotMinutes:  30,
		},
		CommitTimeoutSeconds: 15,
	}
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	d := DefaultConfig()
	if c.Listen == "" {
		c.Listen = d.Listen
	}
	if c.LogLevel == "" {
		c.LogLevel = d.LogLevel
	}
	switch c.Backend = strings.ToLower(strings.TrimSpace(c.Backend)); c.Backend {
	case BackendICS, BackendGoogle:
	default:
		c.Backend = d.Backend
	}
	if c.Google.CalendarID == "" {
		c.Google.CalendarID = d.Google.CalendarID
	}
	if c.ICS.Path == "" {
		c.ICS.Path = d.ICS.Path
	}
	if c.ICS.Subscriptions == nil {
		c.ICS.Subscriptions = []SubscriptionConfig{}
	}
	for i := range c.ICS.Subscriptions {
		if c.ICS.Subscriptions[i].ID == "" {
			c.ICS.Subscriptions[i].ID = fmt.Sprintf("sub%d", i+1)
		}
	}
	if c.StateDir == "" {
		c.StateDir = d.StateDir
	}
	if c.Drag.ThresholdPX <= 0 {
		c.Drag.ThresholdPX = d.Drag.ThresholdPX
	}
	if c.Drag.DefaultDurationMinutes <= 0 {
		c.Drag.DefaultDurationMinutes = d.Drag.DefaultDurationMinutes
	}
	if c.Grid == (GridConfig{}) {
		c.Grid = d.Grid
	}
	if c.CommitTimeoutSeconds <= 0 {
		c.CommitTimeoutSeconds = d.CommitTimeoutSeconds
	}
}

// Location resolves Timezone, falling back to the local zone for an empty
// name. An unknown name is an error.
func (c *Config) Location() (*time.Location, error) {
	if strings.TrimSpace(c.Timezone) == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

func (c *Config) CommitTimeout() time.Duration {
	return time.Duration(c.CommitTimeoutSeconds) * time.Second
}

func (c *Config) DefaultDuration() time.Duration {
	return time.Duration(c.Drag.DefaultDurationMinutes) * time.Minute
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist, a default config is written with 0600
//     perms and returned.
//   - Otherwise the YAML is unmarshalled and normalized.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// First run: create default config file.
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.Normalize()

	return &cfg, nil
}

// Save writes cfg to path atomically (temp file + rename) with 0600
// permissions, creating the parent directory (0700) if needed.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".webcal-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	// Ensure we clean up temp file on error.
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

func (c *Config) Save(path string) error {
	return Save(path, c)
}
