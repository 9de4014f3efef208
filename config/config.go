package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete application configuration.
type Config struct {
	App      AppConfig      `json:"app" yaml:"app"`
	Gateway  GatewayConfig  `json:"gateway" yaml:"gateway"`
	Loop     LoopConfig     `json:"loop" yaml:"loop"`
	HTTP     HTTPConfig     `json:"http" yaml:"http"`
	Registry RegistryConfig `json:"registry" yaml:"registry"`
	Paper    PaperConfig    `json:"paper" yaml:"paper"`
}

type AppConfig struct {
	LogLevel  string `json:"log_level" yaml:"log_level"`
	LogFormat string `json:"log_format" yaml:"log_format"` // "json" or "console"
}

// GatewayConfig selects the market data gateway.
type GatewayConfig struct {
	Kind    string `json:"kind" yaml:"kind"` // "paper" or "bridge"
	URL     string `json:"url,omitempty" yaml:"url,omitempty"`
	Token   string `json:"token,omitempty" yaml:"token,omitempty"`
	Timeout string `json:"timeout" yaml:"timeout"` // per call, e.g. "5s"
}

// LoopConfig tunes the polling loop and the order worker pool.
type LoopConfig struct {
	Interval string `json:"interval" yaml:"interval"`
	Bars     int    `json:"bars" yaml:"bars"`
	Workers  int    `json:"workers" yaml:"workers"`
	Queue    int    `json:"queue" yaml:"queue"`
}

type HTTPConfig struct {
	Addr string `json:"addr" yaml:"addr"`
}

type RegistryConfig struct {
	Store string `json:"store" yaml:"store"` // "file" or "sqlite"
	Path  string `json:"path" yaml:"path"`
}

// PaperConfig configures the in-memory gateway and its optional tick replay.
type PaperConfig struct {
	Currency   string  `json:"currency" yaml:"currency"`
	Balance    float64 `json:"balance" yaml:"balance"`
	ReplayFile string  `json:"replay_file,omitempty" yaml:"replay_file,omitempty"`
	Speed      float64 `json:"speed,omitempty" yaml:"speed,omitempty"` // 0 replays as fast as possible
	Loop       bool    `json:"loop,omitempty" yaml:"loop,omitempty"`
}

// TimeoutDuration parses the gateway timeout.
func (g GatewayConfig) TimeoutDuration() (time.Duration, error) {
	return parseDuration(g.Timeout)
}

// IntervalDuration parses the polling interval.
func (l LoopConfig) IntervalDuration() (time.Duration, error) {
	return parseDuration(l.Interval)
}

func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	return time.ParseDuration(s)
}

// LoadFromFile loads configuration from a file (YAML, falling back to JSON)
// and validates it.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := Default()

	// Try YAML first, fall back to JSON
	if err := yaml.Unmarshal(data, cfg); err != nil {
		cfg = Default()
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config (tried YAML and JSON): %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// SaveToFile saves configuration to a file (JSON or YAML based on extension)
func (c *Config) SaveToFile(path string) error {
	var data []byte
	var err error

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(c)
	default:
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	switch c.App.LogLevel {
	case "trace", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("app.log_level must be one of trace, debug, info, warn, error")
	}
	if c.App.LogFormat != "json" && c.App.LogFormat != "console" {
		return fmt.Errorf("app.log_format must be 'json' or 'console'")
	}

	switch c.Gateway.Kind {
	case "paper":
	case "bridge":
		if c.Gateway.URL == "" {
			return fmt.Errorf("gateway.url required for bridge gateway")
		}
	default:
		return fmt.Errorf("gateway.kind must be 'paper' or 'bridge'")
	}
	if d, err := c.Gateway.TimeoutDuration(); err != nil || d <= 0 {
		return fmt.Errorf("gateway.timeout must be a positive duration")
	}

	if d, err := c.Loop.IntervalDuration(); err != nil || d <= 0 {
		return fmt.Errorf("loop.interval must be a positive duration")
	}
	if c.Loop.Bars < 5 {
		return fmt.Errorf("loop.bars must be at least 5")
	}
	if c.Loop.Workers <= 0 {
		return fmt.Errorf("loop.workers must be positive")
	}
	if c.Loop.Queue <= 0 {
		return fmt.Errorf("loop.queue must be positive")
	}

	if c.HTTP.Addr == "" {
		return fmt.Errorf("http.addr is required")
	}

	if c.Registry.Store != "file" && c.Registry.Store != "sqlite" {
		return fmt.Errorf("registry.store must be 'file' or 'sqlite'")
	}
	if c.Registry.Path == "" {
		return fmt.Errorf("registry.path is required")
	}

	if c.Gateway.Kind == "paper" {
		if c.Paper.Currency == "" {
			return fmt.Errorf("paper.currency is required")
		}
		if c.Paper.Balance <= 0 {
			return fmt.Errorf("paper.balance must be positive")
		}
		if c.Paper.Speed < 0 {
			return fmt.Errorf("paper.speed must not be negative")
		}
	}
	return nil
}

// Default returns a configuration with sensible defaults
func Default() *Config {
	return &Config{
		App: AppConfig{
			LogLevel:  "info",
			LogFormat: "json",
		},
		Gateway: GatewayConfig{
			Kind:    "paper",
			Timeout: "5s",
		},
		Loop: LoopConfig{
			Interval: "1s",
			Bars:     100,
			Workers:  4,
			Queue:    64,
		},
		HTTP: HTTPConfig{
			Addr: ":8000",
		},
		Registry: RegistryConfig{
			Store: "file",
			Path:  "trading_config.json",
		},
		Paper: PaperConfig{
			Currency: "USD",
			Balance:  10000,
			Speed:    1,
		},
	}
}
