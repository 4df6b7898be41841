package config

import (
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/matheus3301/wahub/internal/paths"
)

// Config represents the global ~/.wahub/config.toml.
type Config struct {
	// DataDir overrides where all daemon state lives. Empty means the
	// default base directory.
	DataDir string `toml:"data_dir"`
	// Owner tags instances created through this deployment.
	Owner string `toml:"owner"`
	// Debug lowers the log level to debug.
	Debug bool `toml:"debug"`
}

// Load reads config from the given path. A missing file yields the
// zero config, not an error; a present but malformed file is an error.
func Load(path string) (*Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		if os.IsNotExist(err) {
			return &cfg, nil
		}
		return nil, err
	}
	return &cfg, nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}

// Layout returns the path layout implied by this config.
func (c *Config) Layout() paths.Layout {
	base := c.DataDir
	if base == "" {
		base = paths.DefaultBase()
	}
	return paths.Layout{Base: base}
}
