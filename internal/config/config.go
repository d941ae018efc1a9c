// Package config loads the bridge configuration file and builds the shared
// logger from it.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// MQTT holds the broker connection settings.
type MQTT struct {
	Broker   string `yaml:"broker" default:"tcp://127.0.0.1:1883"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// Config is the full bridge configuration.
type Config struct {
	LogLevel    string `yaml:"log_level" default:"info"`
	Board       string `yaml:"board" default:"esp32-s3"`
	TopicPrefix string `yaml:"topic_prefix" default:"blebridge"`
	DeviceID    string `yaml:"device_id"`
	MQTT        MQTT   `yaml:"mqtt"`
	// Scales seeds the target-address set; the config bus topic can
	// replace it at runtime.
	Scales []string `yaml:"scales"`
}

// Load reads the YAML config at path, applying defaults for absent keys.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	defaults.SetDefaults(cfg)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the fields that have no usable default.
func (c *Config) Validate() error {
	if c.DeviceID == "" {
		return fmt.Errorf("config: device_id is required")
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("config: invalid log_level %q", c.LogLevel)
	}
	return nil
}

// NewLogger creates a configured logger instance.
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})
	return logger
}
