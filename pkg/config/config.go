// Package config loads bugnosis-desktop settings.
//
// Sources are layered lowest to highest: built-in defaults, a config file
// (YAML or TOML), BUGNOSIS_* environment variables, then command-line flags
// that were explicitly set.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

// EnvPrefix is the prefix of environment overrides, e.g.
// BUGNOSIS_UI_MIN_IMPACT=80.
const EnvPrefix = "BUGNOSIS_"

// Defaults.
const (
	DefaultBinary          = "bugnosis"
	DefaultTimeout         = 2 * time.Minute
	DefaultProbeAddress    = "8.8.8.8:53"
	DefaultMinImpact       = 70
	DefaultLocale          = "en"
	DefaultRefreshInterval = 30 * time.Minute
	DefaultLogLevel        = "info"
	DefaultRingBufferSize  = 500

	minRefreshInterval = 10 * time.Second
)

// configFileNames are searched, in order, in the user config directory.
var configFileNames = []string{"config.yaml", "config.yml", "config.toml"}

// Config is the full application configuration.
type Config struct {
	Backend     BackendConfig     `koanf:"backend"`
	UI          UIConfig          `koanf:"ui"`
	AutoRefresh AutoRefreshConfig `koanf:"auto_refresh"`
	Log         LogConfig         `koanf:"log"`
}

// BackendConfig describes how the scanning backend is reached.
type BackendConfig struct {
	Binary       string        `koanf:"binary"`
	Timeout      time.Duration `koanf:"timeout"`
	ProbeAddress string        `koanf:"probe_address"`
	// Token is passed to the backend when no BUGNOSIS_GITHUB_TOKEN is set.
	Token string `koanf:"token"`
}

// UIConfig holds front-end settings.
type UIConfig struct {
	MinImpact int    `koanf:"min_impact"`
	Locale    string `koanf:"locale"`
	// StatePath is the CLI's UI state file; empty selects the default.
	StatePath string `koanf:"state_path"`
}

// AutoRefreshConfig controls the periodic watch scan in the desktop app.
type AutoRefreshConfig struct {
	Enabled  bool          `koanf:"enabled"`
	Interval time.Duration `koanf:"interval"`
}

// LogConfig controls logging.
type LogConfig struct {
	Level          string `koanf:"level"`
	RingBufferSize int    `koanf:"ring_buffer_size"`
}

// flagKeys maps command-line flag names to config keys.
var flagKeys = map[string]string{
	"backend":          "backend.binary",
	"timeout":          "backend.timeout",
	"probe-address":    "backend.probe_address",
	"token":            "backend.token",
	"min-impact":       "ui.min_impact",
	"locale":           "ui.locale",
	"state-file":       "ui.state_path",
	"auto-refresh":     "auto_refresh.enabled",
	"refresh-interval": "auto_refresh.interval",
	"log-level":        "log.level",
}

func defaults() map[string]any {
	return map[string]any{
		"backend.binary":        DefaultBinary,
		"backend.timeout":       DefaultTimeout.String(),
		"backend.probe_address": DefaultProbeAddress,
		"backend.token":         "",
		"ui.min_impact":         DefaultMinImpact,
		"ui.locale":             DefaultLocale,
		"ui.state_path":         "",
		"auto_refresh.enabled":  false,
		"auto_refresh.interval": DefaultRefreshInterval.String(),
		"log.level":             DefaultLogLevel,
		"log.ring_buffer_size":  DefaultRingBufferSize,
	}
}

// Default returns the built-in configuration.
func Default() *Config {
	k := koanf.New(".")
	_ = k.Load(confmap.Provider(defaults(), "."), nil)
	var cfg Config
	_ = k.Unmarshal("", &cfg)
	return &cfg
}

// Load builds the configuration. cfgFile may be empty, in which case the
// user config directory is searched. flags may be nil. It returns the config
// file actually read, or "" when none was found.
func Load(cfgFile string, flags *pflag.FlagSet) (*Config, string, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, "", fmt.Errorf("failed to load defaults: %w", err)
	}

	used := cfgFile
	if used == "" {
		used = findConfigFile(DefaultDir())
	}
	if used != "" {
		if err := loadFile(k, used); err != nil {
			return nil, "", err
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, "", fmt.Errorf("failed to load env vars: %w", err)
	}

	if flags != nil {
		if err := k.Load(posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, interface{}) {
			if !f.Changed {
				return "", nil
			}
			key, ok := flagKeys[f.Name]
			if !ok {
				return "", nil
			}
			return key, posflag.FlagVal(flags, f)
		}), nil); err != nil {
			return nil, "", fmt.Errorf("failed to load flags: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, "", fmt.Errorf("unable to decode config: %w", err)
	}
	cfg.Log.Level = strings.ToLower(strings.TrimSpace(cfg.Log.Level))
	return &cfg, used, nil
}

// envKey maps BUGNOSIS_UI_MIN_IMPACT to ui.min_impact. Only the first
// underscore after the prefix separates section from key.
func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	if strings.HasPrefix(s, "auto_refresh_") {
		return "auto_refresh." + strings.TrimPrefix(s, "auto_refresh_")
	}
	return strings.Replace(s, "_", ".", 1)
}

func loadFile(k *koanf.Koanf, path string) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		var raw map[string]any
		if _, err := toml.DecodeFile(path, &raw); err != nil {
			return fmt.Errorf("error reading config file %s: %w", path, err)
		}
		if err := k.Load(confmap.Provider(raw, ""), nil); err != nil {
			return fmt.Errorf("error loading config file %s: %w", path, err)
		}
	default:
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return fmt.Errorf("error reading config file %s: %w", path, err)
		}
	}
	return nil
}

// DefaultDir is the directory searched for a config file.
func DefaultDir() string {
	if dir, err := os.UserConfigDir(); err == nil && dir != "" {
		return filepath.Join(dir, "bugnosis-desktop")
	}
	return "."
}

func findConfigFile(dir string) string {
	for _, name := range configFileNames {
		p := filepath.Join(dir, name)
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// Validate reports every invalid setting.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Backend.Binary) == "" {
		errs = append(errs, errors.New("backend.binary must not be empty"))
	}
	if c.Backend.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("backend.timeout must be positive, got %s", c.Backend.Timeout))
	}
	if c.UI.MinImpact < 0 || c.UI.MinImpact > 100 {
		errs = append(errs, fmt.Errorf("ui.min_impact must be between 0 and 100, got %d", c.UI.MinImpact))
	}
	if c.AutoRefresh.Enabled && c.AutoRefresh.Interval < minRefreshInterval {
		errs = append(errs, fmt.Errorf("auto_refresh.interval must be at least %s, got %s", minRefreshInterval, c.AutoRefresh.Interval))
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level must be one of debug, info, warn, error; got %q", c.Log.Level))
	}
	if c.Log.RingBufferSize <= 0 {
		errs = append(errs, fmt.Errorf("log.ring_buffer_size must be positive, got %d", c.Log.RingBufferSize))
	}
	return errors.Join(errs...)
}
