// Package config loads the process configuration from the environment and
// the governance rules (department capabilities, trigger map, retry bound)
// from a YAML file.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/caarlos0/env/v11"
)

// RulesFileName is the rules file looked up inside the data directory.
const RulesFileName = "governance_rules.yaml"

// Config holds the runtime settings shared by every command surface.
type Config struct {
	DataDir         string `env:"KMAD_DATA_DIR"`
	Store           string `env:"KMAD_STORE" envDefault:"sqlite"`
	RulesPath       string `env:"KMAD_RULES"`
	MaxRetries      int    `env:"KMAD_MAX_RETRIES"`
	HTTPAddr        string `env:"KMAD_HTTP_ADDR" envDefault:"127.0.0.1:8088"`
	LogLevel        string `env:"KMAD_LOG_LEVEL" envDefault:"info"`
	OTelEndpoint    string `env:"KMAD_OTEL_ENDPOINT"`
	MetricsEndpoint string `env:"KMAD_OTEL_METRICS_ENDPOINT"`
}

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Load reads Config from the environment and fills derived defaults.
func Load() (Config, error) {
	var cfg Config
	if err := ParseEnv(&cfg); err != nil {
		return Config{}, err
	}
	if cfg.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return Config{}, fmt.Errorf("resolve home dir: %w", err)
		}
		cfg.DataDir = filepath.Join(home, ".kmad")
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks enumerated settings.
func (c Config) Validate() error {
	switch c.Store {
	case "sqlite", "memory":
	default:
		return fmt.Errorf("invalid KMAD_STORE %q: must be one of: sqlite, memory", c.Store)
	}
	if c.MaxRetries < 0 || c.MaxRetries > MaxRetriesLimit {
		return fmt.Errorf("invalid KMAD_MAX_RETRIES %d: must be between 1 and %d", c.MaxRetries, MaxRetriesLimit)
	}
	if _, err := c.SlogLevel(); err != nil {
		return err
	}
	return nil
}

// SlogLevel parses LogLevel.
func (c Config) SlogLevel() (slog.Level, error) {
	var lvl slog.Level
	if c.LogLevel == "" {
		return slog.LevelInfo, nil
	}
	if err := lvl.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("invalid KMAD_LOG_LEVEL %q: must be one of: debug, info, warn, error", c.LogLevel)
	}
	return lvl, nil
}

// RulesFile returns the rules file path: KMAD_RULES when set, otherwise the
// default file inside the data directory.
func (c Config) RulesFile() string {
	if c.RulesPath != "" {
		return c.RulesPath
	}
	return filepath.Join(c.DataDir, RulesFileName)
}

// Rules resolves the governance rules. An explicit KMAD_RULES file must
// exist; the data-directory file is optional and the built-in rules apply
// when it is absent. KMAD_MAX_RETRIES overrides the file's retry bound.
func (c Config) Rules() (*Rules, error) {
	path := c.RulesFile()
	rules, err := LoadRules(path)
	switch {
	case errors.Is(err, os.ErrNotExist) && c.RulesPath == "":
		rules = DefaultRules()
	case err != nil:
		return nil, err
	}
	if c.MaxRetries > 0 {
		rules.Pipeline.MaxRetries = c.MaxRetries
	}
	if err := rules.Validate(); err != nil {
		return nil, fmt.Errorf("rules %s: %w", path, err)
	}
	return rules, nil
}
