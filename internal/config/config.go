package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"eventscope/internal/feed"
	"eventscope/internal/recommend"
)

// NOTE: YAML-based load/save with first-run creation and 0600 permissions.
// Durations are written as Go duration strings ("5m", "500ms").

// Duration is a time.Duration that reads and writes as "5m".
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

func (d *Duration) UnmarshalYAML(n *yaml.Node) error {
	var s string
	if err := n.Decode(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(strings.TrimSpace(s))
	if err != nil {
		return fmt.Errorf("line %d: %w", n.Line, err)
	}
	*d = Duration(v)
	return nil
}

// APIConfig points at the upstream events API.
type APIConfig struct {
	// Origin is the base URL, e.g. "https://api.example.com/v1".
	Origin  string   `yaml:"origin" json:"origin"`
	Timeout Duration `yaml:"timeout" json:"timeout"`
}

// CacheConfig tunes every fetch cache.
type CacheConfig struct {
	Staleness Duration `yaml:"staleness" json:"staleness"`
	Retention Duration `yaml:"retention" json:"retention"`
	// Retries is the number of extra attempts after a failed fetch.
	Retries int      `yaml:"retries" json:"retries"`
	Backoff Duration `yaml:"backoff" json:"backoff"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the local API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the local API.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA zone "today" and "this week" are evaluated in.
	Timezone string `yaml:"timezone" json:"timezone"`

	// LogLevel is one of debug, info, error.
	LogLevel string `yaml:"log_level" json:"log_level"`

	// Mode is the default filtering path: "remote" or "local".
	Mode string `yaml:"mode" json:"mode"`

	API   APIConfig   `yaml:"api" json:"api"`
	Cache CacheConfig `yaml:"cache" json:"cache"`

	// Feeds are extra ICS or Eventbrite sources merged into the local catalog.
	Feeds []feed.Source `yaml:"feeds" json:"feeds"`

	// FeedCacheDir keeps feed bodies for conditional requests. Empty disables
	// the disk cache.
	FeedCacheDir string `yaml:"feed_cache_dir" json:"feed_cache_dir"`

	// Mappers override the built-in category tables per source kind
	// ("recommendations", "eventbrite", "ics").
	Mappers map[string]recommend.Table `yaml:"mappers,omitempty" json:"mappers,omitempty"`

	PlaceholderImage string `yaml:"placeholder_image" json:"placeholder_image"`

	// SweepCron evicts cache entries past retention.
	SweepCron string `yaml:"sweep" json:"sweep"`
	// RefreshCron reloads the local catalog (API list plus feeds).
	RefreshCron string `yaml:"refresh" json:"refresh"`

	// BasicAuth, if set, protects every endpoint except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

const (
	defaultListen      = "127.0.0.1:8080"
	defaultTimezone    = "America/Los_Angeles"
	defaultLogLevel    = "info"
	defaultMode        = "remote"
	defaultOrigin      = "http://localhost:5000/api"
	defaultTimeout     = 15 * time.Second
	defaultStaleness   = 5 * time.Minute
	defaultRetention   = 30 * time.Minute
	defaultRetries     = 1
	defaultBackoff     = 500 * time.Millisecond
	defaultSweepCron   = "*/5 * * * *"
	defaultRefreshCron = "*/15 * * * *"
	defaultPlaceholder = "/static/placeholder-event.png"
)

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:   defaultListen,
		Timezone: defaultTimezone,
		LogLevel: defaultLogLevel,
		Mode:     defaultMode,
		API: APIConfig{
			Origin:  defaultOrigin,
			Timeout: Duration(defaultTimeout),
		},
		Cache: CacheConfig{
			Staleness: Duration(defaultStaleness),
			Retention: Duration(defaultRetention),
			Retries:   defaultRetries,
			Backoff:   Duration(defaultBackoff),
		},
		Feeds:            []feed.Source{},
		PlaceholderImage: defaultPlaceholder,
		SweepCron:        defaultSweepCron,
		RefreshCron:      defaultRefreshCron,
	}
}

// Normalize fills in missing or zero values so partially-filled configs
// still behave.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = defaultListen
	}
	if c.Timezone == "" {
		c.Timezone = defaultTimezone
	}
	if c.LogLevel == "" {
		c.LogLevel = defaultLogLevel
	}
	switch strings.ToLower(c.Mode) {
	case "remote", "local":
		c.Mode = strings.ToLower(c.Mode)
	default:
		c.Mode = defaultMode
	}
	c.API.Origin = strings.TrimRight(strings.TrimSpace(c.API.Origin), "/")
	if c.API.Origin == "" {
		c.API.Origin = defaultOrigin
	}
	if c.API.Timeout <= 0 {
		c.API.Timeout = Duration(defaultTimeout)
	}
	if c.Cache.Staleness <= 0 {
		c.Cache.Staleness = Duration(defaultStaleness)
	}
	if c.Cache.Retention <= 0 {
		c.Cache.Retention = Duration(defaultRetention)
	}
	if c.Cache.Retention < c.Cache.Staleness {
		c.Cache.Retention = c.Cache.Staleness
	}
	if c.Cache.Retries < 0 {
		c.Cache.Retries = 0
	}
	if c.Cache.Backoff <= 0 {
		c.Cache.Backoff = Duration(defaultBackoff)
	}
	if c.Feeds == nil {
		c.Feeds = []feed.Source{}
	}
	if c.PlaceholderImage == "" {
		c.PlaceholderImage = defaultPlaceholder
	}
	if c.SweepCron == "" {
		c.SweepCron = defaultSweepCron
	}
	if c.RefreshCron == "" {
		c.RefreshCron = defaultRefreshCron
	}
	if c.BasicAuth != nil && (c.BasicAuth.Username == "" || c.BasicAuth.Password == "") {
		c.BasicAuth = nil
	}
}

// Validate reports settings Normalize cannot repair.
func (c *Config) Validate() error {
	var errs []error
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("timezone %q: %w", c.Timezone, err))
	}
	seen := make(map[string]bool, len(c.Feeds))
	for i, f := range c.Feeds {
		switch {
		case f.ID == "":
			errs = append(errs, fmt.Errorf("feeds[%d]: id is required", i))
		case seen[f.ID]:
			errs = append(errs, fmt.Errorf("feeds[%d]: duplicate id %q", i, f.ID))
		}
		seen[f.ID] = true
		if f.URL == "" {
			errs = append(errs, fmt.Errorf("feeds[%d]: url is required", i))
		}
		switch strings.ToLower(f.Kind) {
		case "", feed.KindICS, feed.KindEventbrite:
		default:
			errs = append(errs, fmt.Errorf("feeds[%d]: unknown kind %q", i, f.Kind))
		}
	}
	return errors.Join(errs...)
}

// Location resolves Timezone, falling back to the local zone.
func (c *Config) Location() *time.Location {
	if loc, err := time.LoadLocation(c.Timezone); err == nil {
		return loc
	}
	return time.Local
}

// Load loads configuration from the given YAML path. Keys the file omits
// keep their defaults.
//
// Behavior:
//   - If the file does not exist:
//   - create parent directory if needed
//   - write a default config with 0600 perms
//   - return the default config
//   - If the file exists:
//   - read YAML and unmarshal over DefaultConfig()
//   - normalize defaults
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.Normalize()
	return cfg, nil
}

// Save writes cfg atomically (temp file + rename) with 0600 permissions,
// creating the parent directory with 0700 if needed.
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

	tmp, err := os.CreateTemp(dir, ".eventscope-config-*.tmp")
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

func (c *Config) Save(path string) error {
	return Save(path, c)
}
