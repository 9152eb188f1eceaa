// Package config provides configuration loading and management for Planhub.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/c360studio/planhub/terminal"
)

// Config represents the complete Planhub configuration
type Config struct {
	NATS      NATSConfig          `yaml:"nats"`
	Database  DatabaseConfig      `yaml:"database"`
	Hub       HubConfig           `yaml:"hub"`
	Terminals []terminal.Terminal `yaml:"terminals" validate:"dive"`
}

// NATSConfig configures the NATS connection
type NATSConfig struct {
	// URL is the NATS server URL
	URL string `yaml:"url" validate:"omitempty,nats_url"`
}

// DatabaseConfig selects and configures the durable plan store
type DatabaseConfig struct {
	// Driver selects the durable provider: "sqlite" or "jetstream"
	Driver string `yaml:"driver" validate:"required,oneof=sqlite jetstream"`
	// Path is the SQLite database path (ignored for jetstream)
	Path string `yaml:"path"`
}

// HubConfig configures the orchestration services
type HubConfig struct {
	// StreamName is the JetStream stream carrying plan requests and events
	StreamName string `yaml:"stream_name" validate:"required"`
	// EventSource identifies this process on published events
	EventSource string `yaml:"event_source" validate:"required"`
	// TerminalTimeout bounds every terminal RPC call
	TerminalTimeout time.Duration `yaml:"terminal_timeout" validate:"required,min=1s"`
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		NATS: NATSConfig{
			URL: "nats://localhost:4222",
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			Path:   "data/planhub.db",
		},
		Hub: HubConfig{
			StreamName:      "PLAN",
			EventSource:     "planhub",
			TerminalTimeout: 30 * time.Second,
		},
	}
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if err := sharedValidator().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.Database.Driver == "sqlite" && c.Database.Path == "" {
		return fmt.Errorf("database.path is required for the sqlite driver")
	}
	return nil
}

// LoadFromFile loads configuration from a YAML file
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// SaveToFile saves configuration to a YAML file
func (c *Config) SaveToFile(path string) error {
	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Merge merges another config into this one (other takes precedence for non-zero values)
func (c *Config) Merge(other *Config) {
	if other == nil {
		return
	}

	if other.NATS.URL != "" {
		c.NATS.URL = other.NATS.URL
	}

	if other.Database.Driver != "" {
		c.Database.Driver = other.Database.Driver
	}
	if other.Database.Path != "" {
		c.Database.Path = other.Database.Path
	}

	if other.Hub.StreamName != "" {
		c.Hub.StreamName = other.Hub.StreamName
	}
	if other.Hub.EventSource != "" {
		c.Hub.EventSource = other.Hub.EventSource
	}
	if other.Hub.TerminalTimeout != 0 {
		c.Hub.TerminalTimeout = other.Hub.TerminalTimeout
	}

	if len(other.Terminals) > 0 {
		c.Terminals = other.Terminals
	}
}
