// ABOUTME: Configuration loading and parsing for chat-gateway
// ABOUTME: Supports YAML files with environment variable expansion, duration parsing and defaults

package config

import (
	"fmt"
	"os"
	"regexp"
	"slices"
	"time"

	"gopkg.in/yaml.v3"
)

// Default values applied when the config omits them.
const (
	DefaultHTTPAddr        = ":8080"
	DefaultMaxRequestBytes = 64 << 20
	DefaultRequestTimeout  = 180 * time.Second
	DefaultShutdownTimeout = 10 * time.Second
	DefaultStepLimit       = 5
	DefaultMaxStepLimit    = 20
	DefaultToolTimeout     = 30 * time.Second
	DefaultDedupeTTL       = 5 * time.Minute
	DefaultDedupeMaxSize   = 10000
	DefaultMCPPath         = "/mcp"
	DefaultMaxTokens       = 4096
	DefaultThinkingBudget  = 2048
	DefaultNotesPath       = ":memory:"
)

// Provider kinds.
const (
	ProviderScripted  = "scripted"
	ProviderOllama    = "ollama"
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderGemini    = "gemini"
)

// Built-in tool pack names.
const (
	BuiltinBase  = "base"
	BuiltinNotes = "notes"
)

// Config represents the complete chat-gateway configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Tailscale TailscaleConfig `yaml:"tailscale"`
	Provider  ProviderConfig  `yaml:"provider"`
	Agent     AgentConfig     `yaml:"agent"`
	Tools     ToolsConfig     `yaml:"tools"`
	MCP       MCPConfig       `yaml:"mcp"`
	Dedupe    DedupeConfig    `yaml:"dedupe"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig holds listener and request limits
type ServerConfig struct {
	HTTPAddr        string   `yaml:"http_addr"`
	GRPCAddr        string   `yaml:"grpc_addr"` // gRPC health service, disabled when empty
	MaxRequestBytes int64    `yaml:"max_request_bytes"`
	CORSOrigins     []string `yaml:"cors_origins"`

	RequestTimeout  time.Duration `yaml:"-"`
	ShutdownTimeout time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	RequestTimeoutRaw  string `yaml:"request_timeout"`
	ShutdownTimeoutRaw string `yaml:"shutdown_timeout"`
}

// TailscaleConfig holds Tailscale tsnet configuration
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Hostname  string `yaml:"hostname"`
	AuthKey   string `yaml:"auth_key"`
	StateDir  string `yaml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral"`
	Funnel    bool   `yaml:"funnel"` // Enable public Funnel (implies HTTPS)
}

// ProviderConfig selects and configures the model backend
type ProviderConfig struct {
	Kind    string `yaml:"kind"`
	Model   string `yaml:"model"`
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`

	MaxTokens      int64 `yaml:"max_tokens"`      // anthropic
	ThinkingBudget int64 `yaml:"thinking_budget"` // anthropic, used when reasoning is requested
	GoogleSearch   bool  `yaml:"google_search"`   // gemini grounding when no function tools are offered
}

// AgentConfig holds agent loop defaults
type AgentConfig struct {
	StepLimit    int    `yaml:"step_limit"`
	MaxStepLimit int    `yaml:"max_step_limit"`
	SystemPrompt string `yaml:"system_prompt"`
	Reasoning    bool   `yaml:"reasoning"`
}

// ToolsConfig holds tool registry configuration
type ToolsConfig struct {
	Builtins   []string          `yaml:"builtins"`
	Notes      NotesConfig       `yaml:"notes"`
	MCPServers []MCPServerConfig `yaml:"mcp_servers"`

	Timeout    time.Duration `yaml:"-"`
	TimeoutRaw string        `yaml:"timeout"`
}

// NotesConfig holds the notes pack database location
type NotesConfig struct {
	Path string `yaml:"path"`
}

// MCPServerConfig is a remote MCP server whose tools are imported
type MCPServerConfig struct {
	Name string `yaml:"name"`
	URL  string `yaml:"url"`
}

// MCPConfig controls exposing the registry as an MCP server
type MCPConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// DedupeConfig holds replayed-request detection settings
type DedupeConfig struct {
	MaxSize int           `yaml:"max_size"`
	TTL     time.Duration `yaml:"-"`
	TTLRaw  string        `yaml:"ttl"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// Parse builds a Config from raw YAML.
func Parse(data []byte) (*Config, error) {
	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyDefaults()

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// Default returns a valid configuration using the scripted provider.
func Default() *Config {
	cfg := &Config{Provider: ProviderConfig{Kind: ProviderScripted}}
	cfg.applyDefaults()
	// Defaults always parse.
	_ = parseDurations(cfg)
	return cfg
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

func (c *Config) applyDefaults() {
	if c.Server.HTTPAddr == "" && !c.Tailscale.Enabled {
		c.Server.HTTPAddr = DefaultHTTPAddr
	}
	if c.Server.MaxRequestBytes == 0 {
		c.Server.MaxRequestBytes = DefaultMaxRequestBytes
	}
	if len(c.Server.CORSOrigins) == 0 {
		c.Server.CORSOrigins = []string{"*"}
	}
	if c.Server.RequestTimeoutRaw == "" {
		c.Server.RequestTimeoutRaw = DefaultRequestTimeout.String()
	}
	if c.Server.ShutdownTimeoutRaw == "" {
		c.Server.ShutdownTimeoutRaw = DefaultShutdownTimeout.String()
	}

	if c.Provider.Kind == "" {
		c.Provider.Kind = ProviderScripted
	}
	if c.Provider.MaxTokens == 0 {
		c.Provider.MaxTokens = DefaultMaxTokens
	}
	if c.Provider.ThinkingBudget == 0 {
		c.Provider.ThinkingBudget = DefaultThinkingBudget
	}

	if c.Agent.StepLimit == 0 {
		c.Agent.StepLimit = DefaultStepLimit
	}
	if c.Agent.MaxStepLimit == 0 {
		c.Agent.MaxStepLimit = max(DefaultMaxStepLimit, c.Agent.StepLimit)
	}

	if c.Tools.Builtins == nil {
		c.Tools.Builtins = []string{BuiltinBase, BuiltinNotes}
	}
	if c.Tools.Notes.Path == "" {
		c.Tools.Notes.Path = DefaultNotesPath
	}
	if c.Tools.TimeoutRaw == "" {
		c.Tools.TimeoutRaw = DefaultToolTimeout.String()
	}

	if c.MCP.Path == "" {
		c.MCP.Path = DefaultMCPPath
	}

	if c.Dedupe.MaxSize == 0 {
		c.Dedupe.MaxSize = DefaultDedupeMaxSize
	}
	if c.Dedupe.TTLRaw == "" {
		c.Dedupe.TTLRaw = DefaultDedupeTTL.String()
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	// Server address is required unless Tailscale is enabled
	if !c.Tailscale.Enabled && c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required (or enable tailscale)")
	}

	// Tailscale requires a hostname
	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("tailscale.hostname is required when tailscale is enabled")
	}

	if c.Server.MaxRequestBytes < 0 {
		return fmt.Errorf("server.max_request_bytes must be positive")
	}

	switch c.Provider.Kind {
	case ProviderScripted:
	case ProviderOllama, ProviderOpenAI, ProviderAnthropic, ProviderGemini:
		if c.Provider.Model == "" {
			return fmt.Errorf("provider.model is required for provider %q", c.Provider.Kind)
		}
	default:
		return fmt.Errorf("provider.kind %q is not supported", c.Provider.Kind)
	}

	if c.Agent.StepLimit < 1 {
		return fmt.Errorf("agent.step_limit must be at least 1")
	}
	if c.Agent.MaxStepLimit < c.Agent.StepLimit {
		return fmt.Errorf("agent.max_step_limit (%d) must not be below agent.step_limit (%d)", c.Agent.MaxStepLimit, c.Agent.StepLimit)
	}

	for _, name := range c.Tools.Builtins {
		if name != BuiltinBase && name != BuiltinNotes {
			return fmt.Errorf("tools.builtins: unknown pack %q", name)
		}
	}

	seen := make(map[string]bool, len(c.Tools.MCPServers))
	for i, srv := range c.Tools.MCPServers {
		if srv.Name == "" || srv.URL == "" {
			return fmt.Errorf("tools.mcp_servers[%d]: name and url are required", i)
		}
		if seen[srv.Name] {
			return fmt.Errorf("tools.mcp_servers: duplicate name %q", srv.Name)
		}
		seen[srv.Name] = true
	}

	if !slices.Contains([]string{"debug", "info", "warn", "error"}, c.Logging.Level) {
		return fmt.Errorf("logging.level %q is not supported", c.Logging.Level)
	}
	if c.Logging.Format != "text" && c.Logging.Format != "json" {
		return fmt.Errorf("logging.format %q is not supported", c.Logging.Format)
	}

	return nil
}

// HasBuiltin reports whether the named built-in pack is enabled.
func (c *Config) HasBuiltin(name string) bool {
	return slices.Contains(c.Tools.Builtins, name)
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"server.request_timeout", cfg.Server.RequestTimeoutRaw, &cfg.Server.RequestTimeout},
		{"server.shutdown_timeout", cfg.Server.ShutdownTimeoutRaw, &cfg.Server.ShutdownTimeout},
		{"tools.timeout", cfg.Tools.TimeoutRaw, &cfg.Tools.Timeout},
		{"dedupe.ttl", cfg.Dedupe.TTLRaw, &cfg.Dedupe.TTL},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %q", f.name, f.raw)
		}
		*f.dst = d
	}

	return nil
}
