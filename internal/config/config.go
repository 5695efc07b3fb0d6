// Package config loads typesync settings from flags, environment variables,
// an optional config file and built-in defaults, in that order of precedence.
//
// Settings are loaded once at startup into a Config value which is then
// passed explicitly to the components that need it.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Keys understood by Load.
const (
	KeyAPEKey         = "ape_key"
	KeyUpdatesPerDay  = "updates_per_day"
	KeyDataFile       = "data_file"
	KeyBaseURL        = "base_url"
	KeyPageSize       = "page_size"
	KeyPageDelay      = "page_delay"
	KeyRequestTimeout = "request_timeout"
	KeyCachePath      = "cache.path"
	KeyDashboardPort  = "dashboard.port"
	KeyLogFile        = "log.file"
	KeyLogMaxSizeMB   = "log.max_size_mb"
	KeyLogMaxBackups  = "log.max_backups"
	KeyLogMaxAgeDays  = "log.max_age_days"
)

// Defaults.
const (
	DefaultDataFile       = "monkeytype_results.json"
	DefaultBaseURL        = "https://api.monkeytype.com"
	DefaultUpdatesPerDay  = 1
	DefaultPageSize       = 1000
	DefaultPageDelay      = 1 * time.Second
	DefaultRequestTimeout = 30 * time.Second
	DefaultDashboardPort  = 8050
)

var (
	// ErrMissingAPIKey is returned when a fetch is attempted without an Ape key.
	ErrMissingAPIKey = errors.New("MONKEYTYPE_APE_KEY is not set")

	// ErrInvalid is wrapped by Validate for out-of-range settings.
	ErrInvalid = errors.New("invalid configuration")
)

// envBindings maps keys to their historical environment variable names.
// Other keys use the TYPESYNC_ prefix, e.g. TYPESYNC_CACHE_PATH.
var envBindings = map[string]string{
	KeyAPEKey:        "MONKEYTYPE_APE_KEY",
	KeyUpdatesPerDay: "UPDATES_PER_DAY",
	KeyDataFile:      "TYPESYNC_DATA_FILE",
}

// Config is the resolved configuration.
type Config struct {
	APEKey         string        `mapstructure:"ape_key"`
	UpdatesPerDay  int           `mapstructure:"updates_per_day"`
	DataFile       string        `mapstructure:"data_file"`
	BaseURL        string        `mapstructure:"base_url"`
	PageSize       int           `mapstructure:"page_size"`
	PageDelay      time.Duration `mapstructure:"page_delay"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`

	Cache     CacheConfig     `mapstructure:"cache"`
	Dashboard DashboardConfig `mapstructure:"dashboard"`
	Log       LogConfig       `mapstructure:"log"`

	// File is the config file that was read, if any.
	File string `mapstructure:"-"`
}

// CacheConfig configures the optional SQLite query cache.
type CacheConfig struct {
	// Path of the cache database. Empty disables the cache.
	Path string `mapstructure:"path"`
}

// DashboardConfig configures the dashboard server.
type DashboardConfig struct {
	Port int `mapstructure:"port"`
}

// LogConfig configures the rotating log file.
type LogConfig struct {
	// File enables file logging when set.
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// Options control where Load looks for settings.
type Options struct {
	// File is an explicit config file. Its extension selects the format.
	File string

	// Flags, when set, are bound by key name. A flag overrides every other
	// source only if it was changed on the command line.
	Flags *pflag.FlagSet
}

// Default returns a Config populated with defaults only.
func Default() *Config {
	return &Config{
		UpdatesPerDay:  DefaultUpdatesPerDay,
		DataFile:       DefaultDataFile,
		BaseURL:        DefaultBaseURL,
		PageSize:       DefaultPageSize,
		PageDelay:      DefaultPageDelay,
		RequestTimeout: DefaultRequestTimeout,
		Dashboard:      DashboardConfig{Port: DefaultDashboardPort},
		Log: LogConfig{
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
	}
}

// NewViper returns a viper instance with defaults and environment bindings
// registered.
func NewViper() *viper.Viper {
	v := viper.New()

	d := Default()
	v.SetDefault(KeyAPEKey, "")
	v.SetDefault(KeyUpdatesPerDay, d.UpdatesPerDay)
	v.SetDefault(KeyDataFile, d.DataFile)
	v.SetDefault(KeyBaseURL, d.BaseURL)
	v.SetDefault(KeyPageSize, d.PageSize)
	v.SetDefault(KeyPageDelay, d.PageDelay)
	v.SetDefault(KeyRequestTimeout, d.RequestTimeout)
	v.SetDefault(KeyCachePath, "")
	v.SetDefault(KeyDashboardPort, d.Dashboard.Port)
	v.SetDefault(KeyLogFile, "")
	v.SetDefault(KeyLogMaxSizeMB, d.Log.MaxSizeMB)
	v.SetDefault(KeyLogMaxBackups, d.Log.MaxBackups)
	v.SetDefault(KeyLogMaxAgeDays, d.Log.MaxAgeDays)

	v.SetEnvPrefix("TYPESYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range envBindings {
		_ = v.BindEnv(key, env)
	}
	return v
}

// Load resolves the configuration.
func Load(opts Options) (*Config, error) {
	v := NewViper()

	if opts.File != "" {
		v.SetConfigFile(opts.File)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", opts.File, err)
		}
	}

	if opts.Flags != nil {
		var bindErr error
		opts.Flags.VisitAll(func(f *pflag.Flag) {
			key := strings.ReplaceAll(f.Name, "-", "_")
			if !isKnownKey(key) || !f.Changed {
				return
			}
			if err := v.BindPFlag(key, f); err != nil && bindErr == nil {
				bindErr = err
			}
		})
		if bindErr != nil {
			return nil, fmt.Errorf("failed to bind flags: %w", bindErr)
		}
	}

	cfg := Default()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}
	cfg.File = v.ConfigFileUsed()
	cfg.APEKey = strings.TrimSpace(cfg.APEKey)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func isKnownKey(key string) bool {
	switch key {
	case KeyAPEKey, KeyUpdatesPerDay, KeyDataFile, KeyBaseURL, KeyPageSize,
		KeyPageDelay, KeyRequestTimeout:
		return true
	}
	return false
}

// Validate checks settings that have no meaningful fallback.
// A missing API key is not a validation error: commands that never fetch
// still work without one. Use RequireAPIKey before fetching.
func (c *Config) Validate() error {
	if c.DataFile == "" {
		return fmt.Errorf("%w: %s must not be empty", ErrInvalid, KeyDataFile)
	}
	if c.PageSize <= 0 {
		return fmt.Errorf("%w: %s must be positive, got %d", ErrInvalid, KeyPageSize, c.PageSize)
	}
	if c.PageDelay < 0 {
		return fmt.Errorf("%w: %s must not be negative", ErrInvalid, KeyPageDelay)
	}
	if c.Dashboard.Port < 0 || c.Dashboard.Port > 65535 {
		return fmt.Errorf("%w: %s out of range: %d", ErrInvalid, KeyDashboardPort, c.Dashboard.Port)
	}
	return nil
}

// RequireAPIKey returns ErrMissingAPIKey if no Ape key is configured.
func (c *Config) RequireAPIKey() error {
	if c.APEKey == "" {
		return ErrMissingAPIKey
	}
	return nil
}

// Interval returns the time between sync cycles: 24h divided by
// UpdatesPerDay. It returns 0 when UpdatesPerDay is zero or negative, which
// means a single cycle and no schedule.
func (c *Config) Interval() time.Duration {
	if c.UpdatesPerDay <= 0 {
		return 0
	}
	return 24 * time.Hour / time.Duration(c.UpdatesPerDay)
}

// Settings returns the file-storable settings as a nested map, in the shape
// Load reads back.
func (c *Config) Settings() map[string]any {
	out := map[string]any{
		KeyUpdatesPerDay:  c.UpdatesPerDay,
		KeyDataFile:       c.DataFile,
		KeyBaseURL:        c.BaseURL,
		KeyPageSize:       c.PageSize,
		KeyPageDelay:      c.PageDelay.String(),
		KeyRequestTimeout: c.RequestTimeout.String(),
		"cache":           map[string]any{"path": c.Cache.Path},
		"dashboard":       map[string]any{"port": c.Dashboard.Port},
		"log": map[string]any{
			"file":         c.Log.File,
			"max_size_mb":  c.Log.MaxSizeMB,
			"max_backups":  c.Log.MaxBackups,
			"max_age_days": c.Log.MaxAgeDays,
		},
	}
	if c.APEKey != "" {
		out[KeyAPEKey] = c.APEKey
	}
	return out
}
