// Package config loads the bridge configuration: connection settings from the
// environment (optionally seeded from a .env file) and the special-entity table
// from the config directory.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

// Config holds the connection settings of the bridge
type Config struct {
	HCClientID        string
	HCClientSecret    string
	HCRefreshToken    string
	HCAPIURL          string
	HCRefreshSchedule string
	CommandTimeout    time.Duration

	MQTTBrokerURL       string
	MQTTDiscoveryPrefix string
	MQTTClientID        string

	HAURL   string
	HAToken string

	APIPort   int
	ReadOnly  bool
	ConfigDir string
	LogLevel  string
}

// LoadEnv reads a .env file when present and builds the Config from the
// environment. A missing .env file only logs a warning.
func LoadEnv(logger *zap.Logger, files ...string) (*Config, error) {
	if err := godotenv.Load(files...); err != nil {
		logger.Warn("No .env file found, using environment variables")
	}
	return FromEnv()
}

// FromEnv builds the Config from environment variables
func FromEnv() (*Config, error) {
	cfg := &Config{
		HCClientID:          os.Getenv("HC_CLIENT_ID"),
		HCClientSecret:      os.Getenv("HC_CLIENT_SECRET"),
		HCRefreshToken:      os.Getenv("HC_REFRESH_TOKEN"),
		HCAPIURL:            getenv("HC_API_URL", "https://api.home-connect.com"),
		HCRefreshSchedule:   getenv("HC_REFRESH_SCHEDULE", "@every 1m"),
		MQTTBrokerURL:       getenv("MQTT_BROKER_URL", "mqtt://localhost:1883"),
		MQTTDiscoveryPrefix: getenv("MQTT_DISCOVERY_PREFIX", "homeassistant"),
		MQTTClientID:        os.Getenv("MQTT_CLIENT_ID"),
		HAURL:               os.Getenv("HA_URL"),
		HAToken:             os.Getenv("HA_TOKEN"),
		ReadOnly:            os.Getenv("READ_ONLY") == "true",
		ConfigDir:           getenv("CONFIG_DIR", "./configs"),
		LogLevel:            strings.ToLower(getenv("LOG_LEVEL", "info")),
	}

	timeout, err := time.ParseDuration(getenv("HC_COMMAND_TIMEOUT", "15s"))
	if err != nil {
		return nil, fmt.Errorf("invalid HC_COMMAND_TIMEOUT: %w", err)
	}
	cfg.CommandTimeout = timeout

	port, err := strconv.Atoi(getenv("API_PORT", "8080"))
	if err != nil {
		return nil, fmt.Errorf("invalid API_PORT: %w", err)
	}
	cfg.APIPort = port

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the settings required to start
func (c *Config) Validate() error {
	var missing []string
	if c.HCClientID == "" {
		missing = append(missing, "HC_CLIENT_ID")
	}
	if c.HCRefreshToken == "" {
		missing = append(missing, "HC_REFRESH_TOKEN")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
	}
	if c.CommandTimeout <= 0 {
		return fmt.Errorf("HC_COMMAND_TIMEOUT must be positive")
	}
	if c.APIPort <= 0 || c.APIPort > 65535 {
		return fmt.Errorf("API_PORT out of range: %d", c.APIPort)
	}
	return nil
}

// NotificationsEnabled reports whether failures can be shown in Home Assistant
func (c *Config) NotificationsEnabled() bool {
	return c.HAURL != "" && c.HAToken != ""
}

func getenv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}
