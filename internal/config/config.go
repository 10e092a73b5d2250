package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
)

type Config struct {
	Database DatabaseConfig `toml:"database"`
	Capacity CapacityConfig `toml:"capacity"`
	Activity ActivityConfig `toml:"activity"`
	Logging  LoggingConfig  `toml:"logging"`
}

type DatabaseConfig struct {
	Path string `toml:"path"`
}

type CapacityConfig struct {
	DefaultWorkloadCap   float64 `toml:"default_workload_cap"`
	DefaultOverBeyondCap float64 `toml:"default_over_beyond_cap"`
}

type ActivityConfig struct {
	RetentionLimit int `toml:"retention_limit"`
}

type LoggingConfig struct {
	Level string `toml:"level"` // debug | info | warn | error
}

func Default(dbPath string) Config {
	return Config{
		Database: DatabaseConfig{
			Path: dbPath,
		},
		Capacity: CapacityConfig{
			DefaultWorkloadCap:   100,
			DefaultOverBeyondCap: 20,
		},
		Activity: ActivityConfig{
			RetentionLimit: 1000,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

func Load(path string, defaults Config) (Config, error) {
	cfg := defaults
	if strings.TrimSpace(path) == "" {
		return cfg, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	if len(content) == 0 {
		return cfg, nil
	}

	if err := toml.Unmarshal(content, &cfg); err != nil {
		return Config{}, fmt.Errorf("decode toml: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func (c Config) Validate() error {
	c.Database.Path = strings.TrimSpace(c.Database.Path)
	if c.Database.Path == "" {
		return errors.New("database path is required")
	}

	if c.Capacity.DefaultWorkloadCap <= 0 {
		return fmt.Errorf("capacity.default_workload_cap must be > 0, got %v", c.Capacity.DefaultWorkloadCap)
	}
	if c.Capacity.DefaultOverBeyondCap < 0 {
		return fmt.Errorf("capacity.default_over_beyond_cap must be >= 0, got %v", c.Capacity.DefaultOverBeyondCap)
	}

	if c.Activity.RetentionLimit <= 0 {
		return fmt.Errorf("activity.retention_limit must be > 0, got %d", c.Activity.RetentionLimit)
	}

	level := strings.TrimSpace(strings.ToLower(c.Logging.Level))
	if !slices.Contains([]string{"", "debug", "info", "warn", "error"}, level) {
		return fmt.Errorf("invalid logging.level: %q", c.Logging.Level)
	}

	return nil
}

func EnsureConfigDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
