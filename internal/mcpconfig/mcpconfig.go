// Package mcpconfig loads MCP-style external transport configuration.
// It exists because spec'd scheduler-owned transports inherit an
// MCP-server configuration file; nothing in the engine's hot path
// touches it, and most deployments never populate the file at all.
package mcpconfig

import (
	"encoding/json"
	"os"
	"sync"
)

// ServerConfig is one external MCP server entry.
type ServerConfig struct {
	Name    string            `json:"name"`
	Command string            `json:"command"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
}

// Config is the top-level document, keyed the way Claude-style
// mcpServers files are: a map of server name to its launch config.
type Config struct {
	Servers map[string]ServerConfig `json:"mcpServers"`
}

var (
	once    sync.Once
	cached  *Config
	loadErr error
)

// Load reads path once per process and memoizes the result; every
// subsequent call with any path returns the first load's outcome.
func Load(path string) (*Config, error) {
	once.Do(func() {
		cached, loadErr = load(path)
	})
	return cached, loadErr
}

func load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Config{Servers: map[string]ServerConfig{}}, nil
		}
		return nil, err
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	if cfg.Servers == nil {
		cfg.Servers = map[string]ServerConfig{}
	}
	return &cfg, nil
}
