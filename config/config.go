// Package config loads the stm32boot command-line configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/adrg/xdg"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/moffa90/go-stm32boot/protocol"
	"github.com/moffa90/go-stm32boot/serialport"
)

// Config holds the settings shared by every command.
type Config struct {
	// Port is the serial device, e.g. /dev/ttyUSB0 or COM3
	Port string `yaml:"port"`

	// Baud is the line speed, 1200 to 115200
	Baud int `yaml:"baud"`

	// ReadTimeout bounds every read from the device
	ReadTimeout time.Duration `yaml:"read_timeout"`

	// ReconnectDelay is waited between closing and reopening the port
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`

	// LogLevel is a logrus level name
	LogLevel string `yaml:"log_level"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Baud:           serialport.DefaultBaudRate,
		ReadTimeout:    protocol.DefaultReadTimeout,
		ReconnectDelay: protocol.DefaultReconnectDelay,
		LogLevel:       logrus.InfoLevel.String(),
	}
}

// DefaultPath returns $XDG_CONFIG_HOME/stm32boot/config.yaml.
func DefaultPath() string {
	return filepath.Join(xdg.ConfigHome, "stm32boot", "config.yaml")
}

// Load reads the configuration at path. Fields missing from the file keep
// their defaults. A missing file yields the defaults unless mustExist is set.
func Load(path string, mustExist bool) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && !mustExist {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse YAML %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks every field.
func (c *Config) Validate() error {
	if err := serialport.ValidateBaud(c.Baud); err != nil {
		return err
	}
	if c.ReadTimeout <= 0 {
		return fmt.Errorf("read_timeout must be positive, got %s", c.ReadTimeout)
	}
	if c.ReconnectDelay < 0 {
		return fmt.Errorf("reconnect_delay must not be negative, got %s", c.ReconnectDelay)
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	return nil
}

// Level returns the parsed log level.
func (c *Config) Level() (logrus.Level, error) {
	lvl, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return logrus.InfoLevel, fmt.Errorf("log_level: %w", err)
	}
	return lvl, nil
}

// Write stores the configuration at path, creating parent directories.
func (c *Config) Write(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}
