// Package config defines the Hyperagent daemon configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level daemon configuration.
type Config struct {
	Server   ServerConfig   `json:"server" yaml:"server"`
	Provider ProviderConfig `json:"provider" yaml:"provider"`
	Workers  []WorkerConfig `json:"workers" yaml:"workers"`
	DataDir  string         `json:"data_dir" yaml:"data_dir"`
	LogLevel string         `json:"log_level" yaml:"log_level"`

	PollIntervalMs      int `json:"poll_interval_ms" yaml:"poll_interval_ms"`
	WatchdogIntervalSec int `json:"watchdog_interval_sec" yaml:"watchdog_interval_sec"`
	MaxContextEvents    int `json:"max_context_events" yaml:"max_context_events"`
}

// PollInterval returns the worker poll interval as a duration.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMs) * time.Millisecond
}

// WatchdogInterval returns the controller watchdog interval as a duration.
func (c *Config) WatchdogInterval() time.Duration {
	return time.Duration(c.WatchdogIntervalSec) * time.Second
}

// ServerConfig controls the HTTP server.
type ServerConfig struct {
	Addr string `json:"addr" yaml:"addr"` // listen address, e.g., ":9090"
}

// ProviderConfig selects the generation backend.
type ProviderConfig struct {
	Kind      string `json:"kind" yaml:"kind"` // "ollama" or "mock"
	BaseURL   string `json:"base_url" yaml:"base_url"`
	Model     string `json:"model" yaml:"model"`
	MaxTokens int    `json:"max_tokens" yaml:"max_tokens"`
}

// WorkerConfig defines a single agent worker.
type WorkerConfig struct {
	ID        string `json:"id" yaml:"id"`
	AgentType string `json:"agent_type" yaml:"agent_type"` // task type the worker claims
	PersonaID string `json:"persona_id" yaml:"persona_id"`
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr: ":9090",
		},
		Provider: ProviderConfig{
			Kind:      "ollama",
			BaseURL:   "http://127.0.0.1:11434",
			Model:     "llama3.2:latest",
			MaxTokens: 512,
		},
		Workers: []WorkerConfig{
			{ID: "planner-1", AgentType: "planner", PersonaID: "planner"},
			{ID: "researcher-1", AgentType: "researcher", PersonaID: "researcher"},
		},
		DataDir:             "./data",
		LogLevel:            "info",
		PollIntervalMs:      500,
		WatchdogIntervalSec: 15,
		MaxContextEvents:    30,
	}
}

// Load reads a YAML config file over the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}
