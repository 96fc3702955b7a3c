// Package config loads the JSON bootstrap configuration file, falling
// back to built-in defaults and environment variables for anything the
// file omits.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

type StorageConfig struct {
	Type string `json:"type"` // "local" or "remote"
	Path string `json:"path,omitempty"`
	URL  string `json:"url,omitempty"`
}

type SchedulerConfig struct {
	CheckInterval      string `json:"check_interval"`
	DefaultTimezone    string `json:"default_timezone"`
	MaxConcurrentTasks int    `json:"max_concurrent_tasks"`
}

type HTTPAuthConfig struct {
	Type   string `json:"type"` // "none", "bearer", "apikey"
	Token  string `json:"token,omitempty"`
	Header string `json:"header,omitempty"`
}

type CORSConfig struct {
	Enabled bool     `json:"enabled"`
	Origins []string `json:"origins"`
}

type HTTPConfig struct {
	Port int            `json:"port"`
	Host string         `json:"host"`
	Auth HTTPAuthConfig `json:"auth"`
	CORS CORSConfig     `json:"cors"`
}

// Config is the bootstrap configuration document described in spec §6.
type Config struct {
	Storage   StorageConfig   `json:"storage"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Transport string          `json:"transport"` // "stdio" or "http"
	HTTP      *HTTPConfig     `json:"http,omitempty"`

	// Ambient settings, not part of the persisted document, sourced from
	// the environment the way the teacher's getEnv helpers do.
	RedisHost    string
	RedisPort    string
	AIServiceURL string
	AIEnabled    bool
	JWTSecret    string
	JWTIssuer    string
}

func defaults() *Config {
	return &Config{
		Scheduler: SchedulerConfig{
			CheckInterval:      "30s",
			DefaultTimezone:    "UTC",
			MaxConcurrentTasks: 10,
		},
		Transport: "stdio",
	}
}

// Load resolves the config file by the precedence order in spec §6:
// explicitArg, then ./.claude/claudecron.json, then
// $HOME/.claude/claudecron/config.json, then ./claudecron.json, then
// built-in defaults with no file at all. Env vars always layer on top.
func Load(explicitArg string) (*Config, error) {
	cfg := defaults()

	path := resolvePath(explicitArg)
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		file := defaults()
		if err := json.Unmarshal(data, file); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
		cfg = file
	}

	if cfg.Storage.Type == "" {
		return nil, fmt.Errorf("config: storage.type is required")
	}

	cfg.RedisHost = getEnv("REDIS_HOST", "localhost")
	cfg.RedisPort = getEnv("REDIS_PORT", "6379")
	cfg.AIServiceURL = getEnv("AI_SERVICE_URL", "http://localhost:8000")
	cfg.AIEnabled = getEnvAsBool("AI_ENABLED", false)
	cfg.JWTSecret = getEnv("JWT_SECRET", "")
	cfg.JWTIssuer = getEnv("JWT_ISSUER", "cronpilot")

	return cfg, nil
}

func resolvePath(explicitArg string) string {
	candidates := []string{
		explicitArg,
		filepath.Join(".", ".claude", "claudecron.json"),
		filepath.Join(homeDir(), ".claude", "claudecron", "config.json"),
		filepath.Join(".", "claudecron.json"),
	}
	for _, c := range candidates {
		if c == "" {
			continue
		}
		if _, err := os.Stat(c); err == nil {
			return c
		}
	}
	return ""
}

func homeDir() string {
	if h, err := os.UserHomeDir(); err == nil {
		return h
	}
	return "."
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvAsBool(key string, fallback bool) bool {
	value := getEnv(key, "")
	if value == "" {
		return fallback
	}
	return value == "true" || value == "1" || value == "yes"
}
