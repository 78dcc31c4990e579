// ABOUTME: Configuration loading for the courier-chat client
// ABOUTME: Loads TOML config from the XDG path with environment variable expansion

package main

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Gateway GatewayConfig `toml:"gateway"`
	User    UserConfig    `toml:"user"`
	Chat    ChatConfig    `toml:"chat"`
	Logging LoggingConfig `toml:"logging"`
}

type GatewayConfig struct {
	URL string `toml:"url"`
}

type UserConfig struct {
	Username string `toml:"username"`
	// Token takes priority over TokenFile. When both are empty the client
	// falls back to COURIER_TOKEN, then to the token file bootstrap wrote.
	Token     string `toml:"token"`
	TokenFile string `toml:"token_file"`
}

type ChatConfig struct {
	// HistoryLimit is how many messages /history shows by default
	HistoryLimit int `toml:"history_limit"`
	// RefreshInterval is how often conversation summaries are re-fetched
	RefreshInterval    time.Duration `toml:"-"`
	RefreshIntervalRaw string        `toml:"refresh_interval"`
	// ReconnectDelay is the pause between reconnect attempts
	ReconnectDelay    time.Duration `toml:"-"`
	ReconnectDelayRaw string        `toml:"reconnect_delay"`
	// ReconnectAttempts bounds how often a dropped connection is retried
	ReconnectAttempts int `toml:"reconnect_attempts"`
	// AutoMarkRead marks pushed messages in the open conversation as read
	AutoMarkRead bool `toml:"auto_mark_read"`
}

type LoggingConfig struct {
	Level string `toml:"level"`
}

// Load reads config from the given path, expanding environment variables.
// A missing file yields the defaults, so the client works against a local
// gateway with nothing but a username flag.
func Load(path string) (*Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	} else {
		expanded := expandEnvVars(string(data))
		if _, err := toml.Decode(expanded, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config: %w", err)
		}
	}

	cfg.applyDefaults()
	if err := cfg.parseDurations(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR} with environment variable values.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)
	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := strings.TrimSuffix(strings.TrimPrefix(match, "${"), "}")
		return os.Getenv(varName)
	})
}

func (c *Config) applyDefaults() {
	if c.Gateway.URL == "" {
		c.Gateway.URL = "http://localhost:8080"
	}
	if c.Chat.HistoryLimit <= 0 {
		c.Chat.HistoryLimit = 50
	}
	if c.Chat.ReconnectAttempts <= 0 {
		c.Chat.ReconnectAttempts = 5
	}
}

func (c *Config) parseDurations() error {
	c.Chat.RefreshInterval = 30 * time.Second
	if c.Chat.RefreshIntervalRaw != "" {
		d, err := time.ParseDuration(c.Chat.RefreshIntervalRaw)
		if err != nil {
			return fmt.Errorf("parsing chat.refresh_interval: %w", err)
		}
		c.Chat.RefreshInterval = d
	}

	c.Chat.ReconnectDelay = 3 * time.Second
	if c.Chat.ReconnectDelayRaw != "" {
		d, err := time.ParseDuration(c.Chat.ReconnectDelayRaw)
		if err != nil {
			return fmt.Errorf("parsing chat.reconnect_delay: %w", err)
		}
		c.Chat.ReconnectDelay = d
	}

	return nil
}

// Validate checks that required config fields are present and valid.
func (c *Config) Validate() error {
	if _, err := url.Parse(c.Gateway.URL); err != nil {
		return fmt.Errorf("gateway.url is not a valid URL: %w", err)
	}
	return nil
}

// ResolveToken returns the bearer token for this user, trying the config
// value, the COURIER_TOKEN environment variable, the configured token file,
// and finally the token file bootstrap writes next to the gateway config.
func (c *Config) ResolveToken() (string, error) {
	if c.User.Token != "" {
		return c.User.Token, nil
	}
	if token := os.Getenv("COURIER_TOKEN"); token != "" {
		return strings.TrimSpace(token), nil
	}

	path := c.User.TokenFile
	if path == "" {
		configDir := os.Getenv("XDG_CONFIG_HOME")
		if configDir == "" {
			homeDir, err := os.UserHomeDir()
			if err != nil {
				return "", fmt.Errorf("no token configured and cannot locate home directory: %w", err)
			}
			configDir = filepath.Join(homeDir, ".config")
		}
		path = filepath.Join(configDir, "courier", "token-"+c.User.Username)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("no token found: set user.token, COURIER_TOKEN, or run courier-gateway bootstrap (tried %s)", path)
	}
	return strings.TrimSpace(string(data)), nil
}
