package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Environment variables consulted at startup. TD_DIR points at the data
// directory; a tdtool.yaml found there is loaded before the environment
// overrides are applied.
const (
	EnvDir   = "TD_DIR"
	EnvTrade = "TD_TRADE"
)

// FileName is the per-directory configuration file.
const FileName = "tdtool.yaml"

// Config carries the settings shared by every tdtool command. It is
// resolved once at startup and injected; nothing reads the environment
// after that.
type Config struct {
	// Dir is the base data directory. Not stored in the file itself;
	// it is where the file came from.
	Dir string `yaml:"-"`

	// Trade is the invocation path of the external trade program.
	Trade string `yaml:"trade"`

	// DB is the market database, relative to Dir unless absolute.
	DB string `yaml:"db"`

	// Prices is the generated prices listing, relative to Dir unless
	// absolute.
	Prices string `yaml:"prices"`
}

// Default returns a configuration with sensible defaults.
func Default() *Config {
	return &Config{
		Dir:    ".",
		Trade:  "trade.py",
		DB:     "trade.db",
		Prices: "trade.prices",
	}
}

// Load resolves the active configuration: TD_DIR selects the base
// directory (default: current working directory), a tdtool.yaml in that
// directory overrides the defaults, and TD_TRADE overrides the trade
// program path on top of both.
func Load() (*Config, error) {
	dir := os.Getenv(EnvDir)
	if dir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("resolve working directory: %w", err)
		}
		dir = wd
	}

	cfg, err := LoadDir(dir)
	if err != nil {
		return nil, err
	}

	if trade := os.Getenv(EnvTrade); trade != "" {
		cfg.Trade = trade
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadDir loads the configuration rooted at dir, reading dir/tdtool.yaml
// when it exists. A missing file is not an error; the defaults apply.
func LoadDir(dir string) (*Config, error) {
	path := filepath.Join(dir, FileName)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := Default()
		cfg.Dir = dir
		return cfg, nil
	}

	cfg, err := LoadFile(path)
	if err != nil {
		return nil, err
	}
	cfg.Dir = dir
	return cfg, nil
}

// LoadFile reads one config file over the defaults.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := Default()
	cfg.Dir = filepath.Dir(path)
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// SaveToFile writes the configuration as YAML.
func (c *Config) SaveToFile(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

// Validate checks if the configuration is usable.
func (c *Config) Validate() error {
	if c.Trade == "" {
		return fmt.Errorf("trade program path is required")
	}
	if c.DB == "" {
		return fmt.Errorf("db path is required")
	}
	if c.Prices == "" {
		return fmt.Errorf("prices path is required")
	}
	return nil
}

// DBPath returns the database path anchored at the base directory.
func (c *Config) DBPath() string { return c.anchored(c.DB) }

// PricesPath returns the prices listing path anchored at the base directory.
func (c *Config) PricesPath() string { return c.anchored(c.Prices) }

func (c *Config) anchored(path string) string {
	if filepath.IsAbs(path) || c.Dir == "" {
		return path
	}
	return filepath.Join(c.Dir, path)
}
