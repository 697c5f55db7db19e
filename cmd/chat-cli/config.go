// ABOUTME: Configuration loading for the chat-cli client
// ABOUTME: Loads TOML config from XDG path with environment variable expansion

package main

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/2389/chat-gateway/internal/session"
	"github.com/2389/chat-gateway/internal/wire"
)

const (
	defaultGatewayURL     = "http://localhost:8080"
	defaultRequestTimeout = 180 * time.Second
)

type Config struct {
	Gateway GatewayConfig `toml:"gateway"`
	Chat    ChatConfig    `toml:"chat"`
	Display DisplayConfig `toml:"display"`
}

type GatewayConfig struct {
	URL            string `toml:"url"`
	Format         string `toml:"format"` // ndjson or sse
	RequestTimeout string `toml:"request_timeout"`
}

type ChatConfig struct {
	StepLimit       int      `toml:"step_limit"`
	MaxPayloadBytes int64    `toml:"max_payload_bytes"`
	System          string   `toml:"system"`
	Tools           []string `toml:"tools"`
	Reasoning       bool     `toml:"reasoning"`
}

type DisplayConfig struct {
	Color *bool `toml:"color"`
}

// defaultConfigPath returns XDG_CONFIG_HOME/chat-gateway/cli.toml, falling
// back to ~/.config.
func defaultConfigPath() string {
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "cli.toml"
		}
		configDir = filepath.Join(homeDir, ".config")
	}
	return filepath.Join(configDir, "chat-gateway", "cli.toml")
}

// LoadConfig reads config from path. A missing file at the default path
// yields defaults; a missing explicit path is an error.
func LoadConfig(path string, explicit bool) (*Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist) && !explicit:
	case err != nil:
		return nil, fmt.Errorf("reading config file: %w", err)
	default:
		if _, err := toml.Decode(expandEnvVars(string(data)), &cfg); err != nil {
			return nil, fmt.Errorf("parsing config: %w", err)
		}
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return &cfg, nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR} with environment variable values.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := strings.TrimSuffix(strings.TrimPrefix(match, "${"), "}")
		return os.Getenv(varName)
	})
}

func (c *Config) applyDefaults() {
	if c.Gateway.URL == "" {
		c.Gateway.URL = defaultGatewayURL
	}
	c.Gateway.URL = strings.TrimRight(c.Gateway.URL, "/")
	if c.Gateway.Format == "" {
		c.Gateway.Format = string(wire.FormatNDJSON)
	}
	if c.Gateway.RequestTimeout == "" {
		c.Gateway.RequestTimeout = defaultRequestTimeout.String()
	}
	if c.Chat.MaxPayloadBytes == 0 {
		c.Chat.MaxPayloadBytes = session.DefaultMaxPayloadBytes
	}
	if c.Display.Color == nil {
		on := true
		c.Display.Color = &on
	}
}

// Validate checks that config fields are present and valid.
func (c *Config) Validate() error {
	u, err := url.Parse(c.Gateway.URL)
	if err != nil {
		return fmt.Errorf("gateway.url is not a valid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("gateway.url must use http or https scheme")
	}
	if c.Gateway.Format != string(wire.FormatNDJSON) && c.Gateway.Format != string(wire.FormatSSE) {
		return fmt.Errorf("gateway.format must be %q or %q", wire.FormatNDJSON, wire.FormatSSE)
	}
	if _, err := c.Timeout(); err != nil {
		return err
	}
	if c.Chat.StepLimit < 0 {
		return fmt.Errorf("chat.step_limit must not be negative")
	}
	if c.Chat.MaxPayloadBytes < 0 {
		return fmt.Errorf("chat.max_payload_bytes must not be negative")
	}
	return nil
}

// Timeout parses gateway.request_timeout.
func (c *Config) Timeout() (time.Duration, error) {
	d, err := time.ParseDuration(c.Gateway.RequestTimeout)
	if err != nil {
		return 0, fmt.Errorf("gateway.request_timeout: %w", err)
	}
	if d < 0 {
		return 0, fmt.Errorf("gateway.request_timeout must not be negative")
	}
	return d, nil
}

// SessionConfig maps the client config onto a session controller config.
func (c *Config) SessionConfig(transport session.Transport) session.Config {
	timeout, _ := c.Timeout()
	return session.Config{
		Transport:       transport,
		MaxPayloadBytes: c.Chat.MaxPayloadBytes,
		RequestTimeout:  timeout,
		StepLimit:       c.Chat.StepLimit,
		Tools:           c.Chat.Tools,
		System:          c.Chat.System,
		Reasoning:       c.Chat.Reasoning,
	}
}
