// Package config loads user settings (config.json) and the gate policy
// (gate.yaml) from the claudebridge config directory.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"claudebridge/gate"
	"claudebridge/logger"
	"claudebridge/paths"
)

// DefaultModel is used when config.json names no model.
const DefaultModel = "sonnet"

// APIKeyEnv is consulted when config.json carries no API key.
const APIKeyEnv = "ANTHROPIC_API_KEY"

// Config holds the user settings.
type Config struct {
	BaseURL string `json:"base_url,omitempty"` // engine API endpoint override
	APIKey  string `json:"api_key,omitempty"`
	Model   string `json:"model,omitempty"`

	// DefaultPermissionMode seeds new sessions that carry no explicit mode.
	DefaultPermissionMode string `json:"default_permission_mode,omitempty"`

	Debug bool `json:"debug,omitempty"`

	mu       sync.RWMutex
	filePath string
}

// Load reads config.json, or returns defaults if it doesn't exist. Invalid
// field values are replaced with their defaults and logged rather than
// rejected, so a hand-edited file can never lock the user out.
func Load() (*Config, error) {
	path, err := paths.ConfigFilePath()
	if err != nil {
		return nil, err
	}
	return loadFrom(path)
}

func loadFrom(path string) (*Config, error) {
	cfg := &Config{filePath: path}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		cfg.applyDefaults()
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyDefaults()
	return cfg, nil
}

// applyDefaults fills empty fields and repairs invalid ones.
func (c *Config) applyDefaults() {
	if c.Model == "" {
		c.Model = DefaultModel
	}
	if c.APIKey == "" {
		c.APIKey = os.Getenv(APIKeyEnv)
	}
	if c.DefaultPermissionMode == "" {
		c.DefaultPermissionMode = string(gate.ModeDefault)
	} else if _, err := gate.ParseMode(c.DefaultPermissionMode); err != nil {
		logger.WithComponent("config").Warn("invalid default_permission_mode, using default",
			"value", c.DefaultPermissionMode)
		c.DefaultPermissionMode = string(gate.ModeDefault)
	}
}

// DefaultMode returns the configured default permission mode.
func (c *Config) DefaultMode() gate.Mode {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, err := gate.ParseMode(c.DefaultPermissionMode)
	if err != nil {
		return gate.ModeDefault
	}
	return m
}

// Save writes the config back to disk atomically.
func (c *Config) Save() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	dir := filepath.Dir(c.filePath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	tmp := c.filePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	if err := os.Rename(tmp, c.filePath); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace config: %w", err)
	}
	return nil
}
