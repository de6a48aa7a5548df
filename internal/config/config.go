// Package config holds the CLI configuration, merged from an optional
// YAML file, environment variables and flags, in that order.
package config

import (
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Driver         string `yaml:"driver"`     // sqlite | mysql
	DSN            string `yaml:"dsn"`        // database DSN or SQLite path
	Dir            string `yaml:"dir"`        // migrations directory
	Store          string `yaml:"store"`      // sql | json
	StorePath      string `yaml:"store_path"` // record file for the json store
	Table          string `yaml:"table"`      // record table for the sql store
	Lock           bool   `yaml:"lock"`       // take a MySQL advisory lock around runs
	LockTimeoutSec int    `yaml:"lock_timeout_sec"`
}

func Default() *Config {
	return &Config{
		Driver:         "sqlite",
		Dir:            "./migrations",
		Store:          "sql",
		StorePath:      "./trek.json",
		Table:          "trek_migrations",
		LockTimeoutSec: 30,
	}
}

func LoadYAML(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func MergeEnv(cfg *Config) *Config {
	if v := os.Getenv("TREK_DRIVER"); v != "" {
		cfg.Driver = v
	}
	if v := os.Getenv("TREK_DSN"); v != "" {
		cfg.DSN = v
	}
	if v := os.Getenv("TREK_DIR"); v != "" {
		cfg.Dir = v
	}
	if v := os.Getenv("TREK_STORE"); v != "" {
		cfg.Store = v
	}
	if v := os.Getenv("TREK_STORE_PATH"); v != "" {
		cfg.StorePath = v
	}
	if v := os.Getenv("TREK_TABLE"); v != "" {
		cfg.Table = v
	}
	if v := os.Getenv("TREK_LOCK_TIMEOUT_SEC"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.LockTimeoutSec = i
		}
	}
	return cfg
}

func (c *Config) LockTimeout() time.Duration {
	if c.LockTimeoutSec <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.LockTimeoutSec) * time.Second
}
