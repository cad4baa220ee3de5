// Package config loads daemon and CLI settings from a TOML file with
// environment overrides supplied by the surrounding deployment.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/pelletier/go-toml/v2"

	"gitmirror/schedule"
)

// Base locates the data the daemon works on.
type Base struct {
	// RepoRoot contains one <name>.git directory per hosted repository.
	RepoRoot string `toml:"repo_root"`
	// StorePath is the mirror configuration JSON document.
	StorePath string `toml:"store_path"`
	// LogDir holds the rotating sync log.
	LogDir string `toml:"log_dir"`
	// TickSeconds is the scheduler poll interval.
	TickSeconds int `toml:"tick_seconds"`
}

// Defaults apply to mirrors enabled without explicit values.
type Defaults struct {
	Schedule       string `toml:"schedule"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
	MaxConcurrent  int    `toml:"max_concurrent"`
}

type Config struct {
	Base     Base     `toml:"base"`
	Defaults Defaults `toml:"defaults"`
}

// Default returns the stock deployment layout.
func Default() Config {
	return Config{
		Base: Base{
			RepoRoot:    "/opt/cgit/data/repositories",
			StorePath:   "/opt/cgit/data/mirror-config.json",
			LogDir:      "/opt/cgit/data/logs",
			TickSeconds: 60,
		},
		Defaults: Defaults{
			Schedule:       "0 */6 * * *",
			TimeoutSeconds: 600,
			MaxConcurrent:  3,
		},
	}
}

var searchPaths = []string{
	"./config.toml",
	"/etc/gitmirror/config.toml",
}

// Load reads the first config file found on the search path, then applies
// environment overrides. A missing file is not an error; defaults plus
// environment are enough to run in a bare container.
func Load() (Config, error) {
	for _, path := range searchPaths {
		info, err := os.Stat(path)
		if err == nil && !info.IsDir() {
			return LoadFile(path)
		}
	}

	cfg := Default()
	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	if err := cfg.finalize(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadFile reads one specific config file, then applies environment
// overrides.
func LoadFile(path string) (Config, error) {
	cfg := Default()

	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := toml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}

	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	if err := cfg.finalize(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("MIRROR_REPO_ROOT"); v != "" {
		c.Base.RepoRoot = v
	}
	if v := os.Getenv("MIRROR_CONFIG_FILE"); v != "" {
		c.Base.StorePath = v
	}
	if v := os.Getenv("MIRROR_LOG_DIR"); v != "" {
		c.Base.LogDir = v
	}
	if v := os.Getenv("MIRROR_DEFAULT_SCHEDULE"); v != "" {
		c.Defaults.Schedule = v
	}

	for _, e := range []struct {
		name string
		dst  *int
	}{
		{"MIRROR_TICK_SECONDS", &c.Base.TickSeconds},
		{"MIRROR_DEFAULT_TIMEOUT", &c.Defaults.TimeoutSeconds},
		{"MIRROR_MAX_CONCURRENT", &c.Defaults.MaxConcurrent},
	} {
		v := os.Getenv(e.name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: %s: %w", e.name, err)
		}
		*e.dst = n
	}
	return nil
}

// finalize normalizes paths to absolute and validates the result.
func (c *Config) finalize() error {
	for _, p := range []*string{&c.Base.RepoRoot, &c.Base.StorePath, &c.Base.LogDir} {
		abs, err := filepath.Abs(*p)
		if err != nil {
			return fmt.Errorf("config: resolve path %q: %w", *p, err)
		}
		*p = abs
	}
	return c.validate()
}

func (c *Config) validate() error {
	if c.Base.TickSeconds <= 0 {
		return errors.New("config: tick_seconds must be positive")
	}
	if c.Defaults.TimeoutSeconds <= 0 {
		return errors.New("config: default timeout_seconds must be positive")
	}
	if c.Defaults.MaxConcurrent <= 0 {
		return errors.New("config: max_concurrent must be positive")
	}
	if err := schedule.Validate(c.Defaults.Schedule); err != nil {
		return fmt.Errorf("config: default schedule: %w", err)
	}
	return nil
}

// Tick returns the scheduler poll interval.
func (c Config) Tick() time.Duration {
	return time.Duration(c.Base.TickSeconds) * time.Second
}
