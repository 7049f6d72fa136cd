// Package config holds the process configuration: where blobs live, how the
// host link and logging are set up, and optionally a module configuration
// and calendar list for running without a host.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"calendar-feed/internal/filter"
)

// Token store drivers.
const (
	TokenStoreFile   = "file"
	TokenStoreSQLite = "sqlite"
)

const (
	defaultModuleName = "calendar-feed"
	defaultLogLevel   = "info"
	defaultLogFormat  = "text"
	sqliteFileName    = "calendar-feed.db"
)

// Module is the configuration the host sends with INIT.
type Module struct {
	ExcludedEvents []filter.Rule `yaml:"excluded_events" json:"excludedEvents"`
}

// Calendar is a subscription registered at startup, without a host.
type Calendar struct {
	ID             string        `yaml:"id"`
	CalendarID     string        `yaml:"calendar_id"`
	FetchInterval  time.Duration `yaml:"fetch_interval"`
	MaximumEntries int64         `yaml:"maximum_entries"`
}

// Config is the top-level process configuration.
type Config struct {
	// StorageDir holds credentials.json and, with the file token store,
	// token.json.
	StorageDir string `yaml:"storage_dir"`

	// TokenStore selects where the OAuth token is kept: "file" or "sqlite".
	TokenStore string `yaml:"token_store"`
	SQLitePath string `yaml:"sqlite_path,omitempty"`

	// ModuleName is sent as the OAuth state parameter and expected back on
	// the redirect.
	ModuleName string `yaml:"module_name"`

	// CallbackListen is the address of the OAuth redirect receiver. Empty
	// disables it.
	CallbackListen string `yaml:"callback_listen,omitempty"`

	// SnapshotDir, when set, receives an .ics and a .json file per
	// subscription after every successful fetch.
	SnapshotDir string `yaml:"snapshot_dir,omitempty"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	Module    Module     `yaml:"module"`
	Calendars []Calendar `yaml:"calendars"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		StorageDir: ".",
		TokenStore: TokenStoreFile,
		ModuleName: defaultModuleName,
		LogLevel:   defaultLogLevel,
		LogFormat:  defaultLogFormat,
		Module:     Module{ExcludedEvents: []filter.Rule{}},
		Calendars:  []Calendar{},
	}
}

// Normalize fills in missing or unknown values so that partially filled
// configs still behave.
func (c *Config) Normalize() {
	if c.StorageDir == "" {
		c.StorageDir = "."
	}

	switch strings.ToLower(c.TokenStore) {
	case TokenStoreSQLite:
		c.TokenStore = TokenStoreSQLite
		if c.SQLitePath == "" {
			c.SQLitePath = filepath.Join(c.StorageDir, sqliteFileName)
		}
	default:
		c.TokenStore = TokenStoreFile
	}

	if c.ModuleName == "" {
		c.ModuleName = defaultModuleName
	}

	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
		c.LogLevel = strings.ToLower(c.LogLevel)
	default:
		c.LogLevel = defaultLogLevel
	}
	switch strings.ToLower(c.LogFormat) {
	case "json", "text":
		c.LogFormat = strings.ToLower(c.LogFormat)
	default:
		c.LogFormat = defaultLogFormat
	}

	if c.Module.ExcludedEvents == nil {
		c.Module.ExcludedEvents = []filter.Rule{}
	}
	if c.Calendars == nil {
		c.Calendars = []Calendar{}
	}
}

// envOverrides lists the settings that may be replaced from the
// environment. Empty values leave the file setting alone.
type envOverrides struct {
	StorageDir     string `env:"CALENDAR_FEED_STORAGE_DIR"`
	TokenStore     string `env:"CALENDAR_FEED_TOKEN_STORE"`
	SQLitePath     string `env:"CALENDAR_FEED_SQLITE_PATH"`
	ModuleName     string `env:"CALENDAR_FEED_MODULE_NAME"`
	CallbackListen string `env:"CALENDAR_FEED_CALLBACK_LISTEN"`
	SnapshotDir    string `env:"CALENDAR_FEED_SNAPSHOT_DIR"`
	LogLevel       string `env:"CALENDAR_FEED_LOG_LEVEL"`
	LogFormat      string `env:"CALENDAR_FEED_LOG_FORMAT"`
}

// ApplyEnv overrides c with CALENDAR_FEED_* environment variables.
func (c *Config) ApplyEnv() error {
	var o envOverrides
	if err := env.Parse(&o); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}

	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&c.StorageDir, o.StorageDir)
	set(&c.TokenStore, o.TokenStore)
	set(&c.SQLitePath, o.SQLitePath)
	set(&c.ModuleName, o.ModuleName)
	set(&c.CallbackListen, o.CallbackListen)
	set(&c.SnapshotDir, o.SnapshotDir)
	set(&c.LogLevel, o.LogLevel)
	set(&c.LogFormat, o.LogFormat)
	return nil
}

// Load reads the YAML config at path. On first run the file does not
// exist; a default config is written there with 0600 permissions and
// returned. Environment overrides are applied in both cases and never
// written back.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	cfg, err := read(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	cfg.Normalize()
	return cfg, nil
}

func read(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				return nil, fmt.Errorf("write default config: %w", err)
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return &cfg, nil
}

// Save writes cfg to path atomically via a temp file and rename, creating
// the parent directory (0700) when needed.
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

	tmp, err := os.CreateTemp(dir, ".calendar-feed-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
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
