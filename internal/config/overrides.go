package config

import (
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix namespaces environment overrides, e.g. WEBCAL_LISTEN.
const EnvPrefix = "WEBCAL"

// overridable maps viper keys onto config fields. A key is set by the flag
// of the same name (dashes for underscores) or WEBCAL_<KEY>.
var overridable = map[string]func(c *Config, v *viper.Viper, key string){
	"listen":               func(c *Config, v *viper.Viper, k string) { c.Listen = v.GetString(k) },
	"timezone":             func(c *Config, v *viper.Viper, k string) { c.Timezone = v.GetString(k) },
	"log_level":            func(c *Config, v *viper.Viper, k string) { c.LogLevel = v.GetString(k) },
	"backend":              func(c *Config, v *viper.Viper, k string) { c.Backend = v.GetString(k) },
	"refresh":              func(c *Config, v *viper.Viper, k string) { c.RefreshCron = v.GetString(k) },
	"state_dir":            func(c *Config, v *viper.Viper, k string) { c.StateDir = v.GetString(k) },
	"ics_path":             func(c *Config, v *viper.Viper, k string) { c.ICS.Path = v.GetString(k) },
	"google_calendar_id":   func(c *Config, v *viper.Viper, k string) { c.Google.CalendarID = v.GetString(k) },
	"google_client_id":     func(c *Config, v *viper.Viper, k string) { c.Google.ClientID = v.GetString(k) },
	"google_client_secret": func(c *Config, v *viper.Viper, k string) { c.Google.ClientSecret = v.GetString(k) },
}

// NewViper returns a viper instance reading WEBCAL_* variables and, when
// flags is non-nil, the matching command-line flags.
func NewViper(flags *pflag.FlagSet) *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	for key := range overridable {
		_ = v.BindEnv(key)
		if flags == nil {
			continue
		}
		if f := flags.Lookup(flagName(key)); f != nil {
			_ = v.BindPFlag(key, f)
		}
	}
	return v
}

// ApplyOverrides copies every flag or environment value that is set onto c
// and re-normalizes it. Flags win over the environment.
func (c *Config) ApplyOverrides(v *viper.Viper) {
	for key, set := range overridable {
		if v.IsSet(key) {
			set(c, v, key)
		}
	}
	c.Normalize()
}

func flagName(key string) string {
	return strings.ReplaceAll(key, "_", "-")
}
