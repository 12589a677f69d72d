package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Environment overrides, applied after the YAML file.
const (
	EnvListen    = "EVENTSCOPE_LISTEN"
	EnvOrigin    = "EVENTSCOPE_API_ORIGIN"
	EnvTimezone  = "EVENTSCOPE_TIMEZONE"
	EnvLogLevel  = "EVENTSCOPE_LOG_LEVEL"
	EnvMode      = "EVENTSCOPE_MODE"
	EnvStaleness = "EVENTSCOPE_STALENESS"
	EnvRetention = "EVENTSCOPE_RETENTION"
	EnvRetries   = "EVENTSCOPE_RETRIES"
)

// LoadEnv reads dotenv files into the process environment. Variables that
// are already set win. Missing files are ignored.
func LoadEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

// ApplyEnv overlays EVENTSCOPE_* variables onto c and normalizes the result.
func (c *Config) ApplyEnv() error {
	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			*dst = v
		}
	}
	str(EnvListen, &c.Listen)
	str(EnvOrigin, &c.API.Origin)
	str(EnvTimezone, &c.Timezone)
	str(EnvLogLevel, &c.LogLevel)
	str(EnvMode, &c.Mode)

	dur := func(key string, dst *Duration) error {
		v, ok := os.LookupEnv(key)
		if !ok || v == "" {
			return nil
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = Duration(d)
		return nil
	}
	if err := dur(EnvStaleness, &c.Cache.Staleness); err != nil {
		return err
	}
	if err := dur(EnvRetention, &c.Cache.Retention); err != nil {
		return err
	}
	if v, ok := os.LookupEnv(EnvRetries); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvRetries, err)
		}
		c.Cache.Retries = n
	}
	c.Normalize()
	return nil
}
