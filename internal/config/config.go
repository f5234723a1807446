// Package config loads the remote's YAML configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"mediabox-remote/internal/connmgr"
)

// Config represents the mediabox-remote configuration.
type Config struct {
	Device           string          `yaml:"device"`            // host/IP or Bluetooth address
	Port             int             `yaml:"port"`              // TCP port
	Channel          int             `yaml:"channel"`           // RFCOMM channel
	PollInterval     time.Duration   `yaml:"poll_interval"`     // discovery-wait cadence
	DiscoveryTimeout time.Duration   `yaml:"discovery_timeout"` // discovery-wait bound
	ConnectTimeout   time.Duration   `yaml:"connect_timeout"`   // how long the CLI waits for Connected
	LogLevel         string          `yaml:"log_level"`         // debug, info, warn, error
	LogFormat        string          `yaml:"log_format"`        // console or json
	LogFile          string          `yaml:"log_file"`          // empty = stderr; a path is rotated
	Bluetooth        BluetoothConfig `yaml:"bluetooth"`
}

// BluetoothConfig holds BlueZ settings.
type BluetoothConfig struct {
	Adapter string `yaml:"adapter"` // e.g. hci0; empty = first adapter
	Opener  string `yaml:"opener"`  // socket or profile
}

const (
	OpenerSocket  = "socket"
	OpenerProfile = "profile"

	FormatConsole = "console"
	FormatJSON    = "json"
)

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		Device:           connmgr.DefaultHost,
		Port:             connmgr.DefaultPort,
		Channel:          int(connmgr.DefaultRFCOMMChannel),
		PollInterval:     connmgr.DefaultPollInterval,
		DiscoveryTimeout: connmgr.DefaultDiscoveryTimeout,
		ConnectTimeout:   45 * time.Second,
		LogLevel:         "info",
		LogFormat:        FormatConsole,
		Bluetooth: BluetoothConfig{
			Adapter: "hci0",
			Opener:  OpenerSocket,
		},
	}
}

// DefaultPath returns $XDG_CONFIG_HOME/mediabox-remote/config.yaml.
func DefaultPath() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			home = "."
		}
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "mediabox-remote", "config.yaml")
}

// Load reads path over the defaults. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}
	if c.Channel < 1 || c.Channel > 30 {
		return fmt.Errorf("channel %d out of range 1-30", c.Channel)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be positive")
	}
	if c.DiscoveryTimeout <= 0 {
		return fmt.Errorf("discovery_timeout must be positive")
	}
	if c.ConnectTimeout <= 0 {
		return fmt.Errorf("connect_timeout must be positive")
	}
	switch c.Bluetooth.Opener {
	case OpenerSocket, OpenerProfile:
	default:
		return fmt.Errorf("unknown bluetooth opener %q", c.Bluetooth.Opener)
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}
	switch strings.ToLower(c.LogFormat) {
	case "", FormatConsole, FormatJSON:
	default:
		return fmt.Errorf("unknown log format %q", c.LogFormat)
	}
	return nil
}

// ParseLevel maps a log_level string to a zap level.
func ParseLevel(s string) (zapcore.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return zapcore.DebugLevel, nil
	case "", "info":
		return zapcore.InfoLevel, nil
	case "warn", "warning":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	default:
		return zapcore.InfoLevel, fmt.Errorf("unknown log level %q", s)
	}
}
