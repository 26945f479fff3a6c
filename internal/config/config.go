// Package config handles chatrelay configuration loading and validation.
package config

import (
	"fmt"
	"time"
)

// Store modes.
const (
	StoreModeHTTP   = "http"
	StoreModeSQLite = "sqlite"
)

// Config is the root configuration structure.
type Config struct {
	// Store configures the persisted thread/message store.
	Store StoreConfig `yaml:"store" mapstructure:"store"`

	// Completion configures the external text-completion service.
	Completion CompletionConfig `yaml:"completion" mapstructure:"completion"`

	// Logging configures structured logging.
	Logging LoggingConfig `yaml:"logging" mapstructure:"logging"`

	// Session identifies the calling user. Identity management itself is
	// external; these values are handed to it per call.
	Session SessionConfig `yaml:"session" mapstructure:"session"`
}

// StoreConfig selects and configures the store backend.
type StoreConfig struct {
	// Mode is "http" for a hosted store or "sqlite" for the embedded one.
	Mode string `yaml:"mode" mapstructure:"mode"`

	// BaseURL is the hosted store endpoint (http mode).
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`

	// Path is the database file (sqlite mode).
	Path string `yaml:"path" mapstructure:"path"`

	// Token authenticates calls to the hosted store.
	Token string `yaml:"token" mapstructure:"token"`

	// Timeout bounds each store request.
	Timeout time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

// CompletionConfig configures the completion gateway.
type CompletionConfig struct {
	Endpoint  string        `yaml:"endpoint" mapstructure:"endpoint"`
	APIKey    string        `yaml:"api_key" mapstructure:"api_key"`
	Model     string        `yaml:"model" mapstructure:"model"`
	MaxTokens int           `yaml:"max_tokens" mapstructure:"max_tokens"`
	Timeout   time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

// LoggingConfig configures log output.
type LoggingConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// SessionConfig identifies the user.
type SessionConfig struct {
	OwnerID string `yaml:"owner_id" mapstructure:"owner_id"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		Store: StoreConfig{
			Mode:    StoreModeSQLite,
			Path:    "~/.local/share/chatrelay/store.db",
			Timeout: 10 * time.Second,
		},
		Completion: CompletionConfig{
			Endpoint:  "https://openrouter.ai/v1/chat/completions",
			Model:     "openai/gpt-4o-mini",
			MaxTokens: 300,
			Timeout:   30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	switch c.Store.Mode {
	case StoreModeHTTP:
		if c.Store.BaseURL == "" {
			return fmt.Errorf("store.base_url is required in http mode")
		}
	case StoreModeSQLite:
		if c.Store.Path == "" {
			return fmt.Errorf("store.path is required in sqlite mode")
		}
	default:
		return fmt.Errorf("store.mode must be %q or %q, got %q", StoreModeHTTP, StoreModeSQLite, c.Store.Mode)
	}

	if c.Completion.Endpoint == "" {
		return fmt.Errorf("completion.endpoint is required")
	}
	if c.Completion.Model == "" {
		return fmt.Errorf("completion.model is required")
	}
	if c.Completion.MaxTokens <= 0 {
		return fmt.Errorf("completion.max_tokens must be positive")
	}

	switch c.Logging.Level {
	case "trace", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level %q is not valid", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format %q is not valid", c.Logging.Format)
	}
	return nil
}
