// Package config loads server settings from defaults, an optional YAML file
// and the environment, in that order of precedence (lowest first).
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// History backends.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendBadger = "badger"
)

// Config holds every runtime setting of the server.
type Config struct {
	ListenAddr      string        `yaml:"listen_addr" env:"LISTEN_ADDR"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`

	History HistoryConfig `yaml:"history"`
	AI      AIConfig      `yaml:"ai"`
	Limits  LimitsConfig  `yaml:"limits"`
}

// HistoryConfig selects and configures the history backend.
type HistoryConfig struct {
	Backend      string        `yaml:"backend" env:"HISTORY_BACKEND"`
	RedisAddr    string        `yaml:"redis_addr" env:"REDIS_ADDR"`
	BadgerPath   string        `yaml:"badger_path" env:"BADGER_PATH"`
	StoreTimeout time.Duration `yaml:"store_timeout" env:"STORE_TIMEOUT"`
}

// AIConfig configures the completion backend. AI replies are disabled unless
// both BaseURL and APIKey are set.
type AIConfig struct {
	BaseURL string        `yaml:"base_url" env:"AI_BASE_URL"`
	APIKey  string        `yaml:"api_key" env:"AI_API_KEY"`
	Model   string        `yaml:"model" env:"AI_MODEL"`
	Timeout time.Duration `yaml:"timeout" env:"AI_TIMEOUT"`
}

// Enabled reports whether AI replies are configured.
func (c AIConfig) Enabled() bool {
	return c.BaseURL != "" && c.APIKey != ""
}

// LimitsConfig bounds what clients and rooms may consume. A zero UpgradeRate
// disables the per-IP upgrade limiter; a zero timeout or MaxConns disables
// that bound.
type LimitsConfig struct {
	UpgradeRate   int           `yaml:"upgrade_rate" env:"UPGRADE_RATE_LIMIT"`
	UpgradeWindow time.Duration `yaml:"upgrade_window" env:"UPGRADE_RATE_WINDOW"`

	MaxFrameBytes   int64         `yaml:"max_frame_bytes" env:"MAX_FRAME_BYTES"`
	MaxConns        int           `yaml:"max_conns" env:"ROOM_MAX_CONNS"`
	ConnIdleTimeout time.Duration `yaml:"conn_idle_timeout" env:"CONN_IDLE_TIMEOUT"`
	RoomIdleTimeout time.Duration `yaml:"room_idle_timeout" env:"ROOM_IDLE_TIMEOUT"`
}

// Default returns the settings used when nothing else is configured.
func Default() Config {
	return Config{
		ListenAddr:      ":8080",
		ShutdownTimeout: 10 * time.Second,
		History: HistoryConfig{
			Backend:      BackendMemory,
			StoreTimeout: 2 * time.Second,
		},
		AI: AIConfig{
			Timeout: 20 * time.Second,
		},
		Limits: LimitsConfig{
			UpgradeRate:     30,
			UpgradeWindow:   time.Minute,
			MaxFrameBytes:   1 << 20,
			RoomIdleTimeout: 10 * time.Minute,
		},
	}
}

// Load builds the configuration. If CONFIG_FILE is set, that YAML file is
// applied over the defaults; environment variables are applied last.
func Load() (Config, error) {
	cfg := Default()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}

// Validate checks that the selected backend has what it needs.
func (c Config) Validate() error {
	var errs []error
	if c.ListenAddr == "" {
		errs = append(errs, errors.New("listen address is required"))
	}
	switch c.History.Backend {
	case BackendMemory:
	case BackendRedis:
		if c.History.RedisAddr == "" {
			errs = append(errs, errors.New("REDIS_ADDR is required for the redis backend"))
		}
	case BackendBadger:
		if c.History.BadgerPath == "" {
			errs = append(errs, errors.New("BADGER_PATH is required for the badger backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown history backend %q", c.History.Backend))
	}
	if c.Limits.UpgradeRate < 0 {
		errs = append(errs, errors.New("upgrade rate limit must not be negative"))
	}
	if c.Limits.UpgradeRate > 0 && c.Limits.UpgradeWindow <= 0 {
		errs = append(errs, errors.New("upgrade rate window must be positive"))
	}
	if c.Limits.MaxFrameBytes <= 0 {
		errs = append(errs, errors.New("max frame size must be positive"))
	}
	if c.Limits.MaxConns < 0 || c.Limits.ConnIdleTimeout < 0 || c.Limits.RoomIdleTimeout < 0 {
		errs = append(errs, errors.New("connection and room limits must not be negative"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}
