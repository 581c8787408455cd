package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/nmxmxh/memio/internal/utils"
)

// configFile is the file name searched for when no explicit path is given.
const configFile = "memio.toml"

// ConfigEnvVar overrides the config file location.
const ConfigEnvVar = "MEMIO_CONFIG"

// Config carries the runtime settings of the memio layer.
type Config struct {
	// BaseDir is the directory the CLI's clean command sweeps for orphaned
	// region files. Empty means the platform default. Regions created
	// through platform.NewManager do not read it and always use the
	// platform default directory.
	BaseDir string `toml:"base_dir"`

	// DefaultCapacity is the payload capacity used when a caller creates a
	// buffer without an explicit size.
	DefaultCapacity int `toml:"default_capacity"`

	// PollIntervalMS is the default WaitForChange poll interval.
	PollIntervalMS int `toml:"poll_interval_ms"`

	// LogLevel names the minimum emitted log level.
	LogLevel string `toml:"log_level"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		DefaultCapacity: 1024 * 1024,
		PollIntervalMS:  16,
		LogLevel:        "INFO",
	}
}

// PollInterval returns the poll interval as a duration.
func (c Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMS) * time.Millisecond
}

// Level returns the parsed log level.
func (c Config) Level() utils.LogLevel {
	return utils.ParseLevel(c.LogLevel)
}

// Load reads a TOML config file, filling unset fields with defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return Default(), err
	}
	if cfg.DefaultCapacity <= 0 {
		cfg.DefaultCapacity = Default().DefaultCapacity
	}
	if cfg.PollIntervalMS <= 0 {
		cfg.PollIntervalMS = Default().PollIntervalMS
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = Default().LogLevel
	}
	return cfg, nil
}

// Resolve locates and loads the effective config: the MEMIO_CONFIG override
// if set, otherwise a memio.toml found by walking up from startDir, otherwise
// defaults.
func Resolve(startDir string) (Config, error) {
	if path := os.Getenv(ConfigEnvVar); path != "" {
		return Load(path)
	}
	path, err := find(startDir)
	if err != nil || path == "" {
		return Default(), nil
	}
	return Load(path)
}

// find walks up from startDir looking for a memio.toml file. Returns an empty
// path when none exists.
func find(startDir string) (string, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return "", err
	}
	for {
		candidate := filepath.Join(dir, configFile)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached filesystem root
			return "", nil
		}
		dir = parent
	}
}
