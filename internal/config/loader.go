package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Loader handles configuration loading with Viper.
type Loader struct {
	v          *viper.Viper
	configFile string
}

// NewLoader creates a new configuration loader.
func NewLoader() *Loader {
	return &Loader{v: viper.New()}
}

// SetConfigFile sets an explicit config file path.
func (l *Loader) SetConfigFile(path string) {
	l.configFile = path
}

// Load loads configuration with precedence: defaults < config file < env vars.
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()
	l.setupViper(cfg)

	if err := l.loadConfigFile(); err != nil {
		// The config file is optional; only fail when one was named.
		if l.configFile != "" {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	if err := l.v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.Store.Path = expandTilde(cfg.Store.Path)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

func (l *Loader) setupViper(cfg *Config) {
	v := l.v

	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		v.AddConfigPath(filepath.Join(xdgConfig, "chatrelay"))
	}
	if homeDir, _ := os.UserHomeDir(); homeDir != "" {
		v.AddConfigPath(filepath.Join(homeDir, ".config", "chatrelay"))
	}
	v.AddConfigPath(".")

	v.SetEnvPrefix("CHATRELAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Defaults mirror the config struct.
	v.SetDefault("store.mode", cfg.Store.Mode)
	v.SetDefault("store.base_url", cfg.Store.BaseURL)
	v.SetDefault("store.path", cfg.Store.Path)
	v.SetDefault("store.token", cfg.Store.Token)
	v.SetDefault("store.timeout", cfg.Store.Timeout)
	v.SetDefault("completion.endpoint", cfg.Completion.Endpoint)
	v.SetDefault("completion.api_key", cfg.Completion.APIKey)
	v.SetDefault("completion.model", cfg.Completion.Model)
	v.SetDefault("completion.max_tokens", cfg.Completion.MaxTokens)
	v.SetDefault("completion.timeout", cfg.Completion.Timeout)
	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.format", cfg.Logging.Format)
	v.SetDefault("session.owner_id", cfg.Session.OwnerID)

	// Bind explicitly; Unmarshal alone does not merge env vars for nested keys.
	for _, key := range []string{
		"store.mode", "store.base_url", "store.path", "store.token", "store.timeout",
		"completion.endpoint", "completion.api_key", "completion.model",
		"completion.max_tokens", "completion.timeout",
		"logging.level", "logging.format",
		"session.owner_id",
	} {
		_ = v.BindEnv(key)
	}
	v.AutomaticEnv()
}

func (l *Loader) loadConfigFile() error {
	if l.configFile != "" {
		l.v.SetConfigFile(l.configFile)
	}
	if err := l.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if l.configFile == "" && errors.As(err, &notFound) {
			return nil
		}
		return err
	}
	return nil
}

// expandTilde expands ~ to the user's home directory.
func expandTilde(path string) string {
	if path == "~" {
		home, _ := os.UserHomeDir()
		return home
	}
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return path
}
