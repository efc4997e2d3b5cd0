// ABOUTME: Configuration loading and parsing for the chatsync client core.
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing.

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete chatsync configuration.
type Config struct {
	API     APIConfig     `yaml:"api"`
	Socket  SocketConfig  `yaml:"socket"`
	Chat    ChatConfig    `yaml:"chat"`
	Logging LoggingConfig `yaml:"logging"`
}

// APIConfig holds REST endpoint configuration.
type APIConfig struct {
	BaseURL string `yaml:"base_url"`

	RequestTimeout    time.Duration `yaml:"-"`
	RequestTimeoutRaw string        `yaml:"request_timeout"`
}

// SocketConfig holds live connection configuration.
type SocketConfig struct {
	URL string `yaml:"url"`

	HandshakeTimeout    time.Duration `yaml:"-"`
	HandshakeTimeoutRaw string        `yaml:"handshake_timeout"`

	PongWait    time.Duration `yaml:"-"`
	PongWaitRaw string        `yaml:"pong_wait"`

	// ReopenPerMinute caps how often Open may redial after a failure.
	ReopenPerMinute int `yaml:"reopen_per_minute"`
}

// ChatConfig holds sync core tuning knobs.
type ChatConfig struct {
	// PageSize is the history page size requested from the REST API.
	PageSize int `yaml:"page_size"`

	// PendingBufferSize bounds buffered live messages per unknown conversation.
	PendingBufferSize int `yaml:"pending_buffer_size"`

	PendingBufferTTL    time.Duration `yaml:"-"`
	PendingBufferTTLRaw string        `yaml:"pending_buffer_ttl"`

	RefreshInterval    time.Duration `yaml:"-"`
	RefreshIntervalRaw string        `yaml:"refresh_interval"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Defaults applied when the file leaves a field unset.
const (
	DefaultRequestTimeout    = 15 * time.Second
	DefaultHandshakeTimeout  = 10 * time.Second
	DefaultPongWait          = 60 * time.Second
	DefaultReopenPerMinute   = 12
	DefaultPageSize          = 50
	DefaultPendingBufferSize = 50
	DefaultPendingBufferTTL  = 30 * time.Second
	DefaultRefreshInterval   = time.Minute
)

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// Default returns a Config with all defaults applied and no endpoints set.
// Useful for tests and for callers that wire endpoints programmatically.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment
// variable values. If the environment variable is not set, it is replaced with
// an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.API.BaseURL == "" {
		return fmt.Errorf("api.base_url is required")
	}
	if c.Socket.URL == "" {
		return fmt.Errorf("socket.url is required")
	}
	if c.Chat.PageSize < 1 {
		return fmt.Errorf("chat.page_size must be positive")
	}
	if c.Chat.PendingBufferSize < 1 {
		return fmt.Errorf("chat.pending_buffer_size must be positive")
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.API.RequestTimeout == 0 {
		c.API.RequestTimeout = DefaultRequestTimeout
	}
	if c.Socket.HandshakeTimeout == 0 {
		c.Socket.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.Socket.PongWait == 0 {
		c.Socket.PongWait = DefaultPongWait
	}
	if c.Socket.ReopenPerMinute == 0 {
		c.Socket.ReopenPerMinute = DefaultReopenPerMinute
	}
	if c.Chat.PageSize == 0 {
		c.Chat.PageSize = DefaultPageSize
	}
	if c.Chat.PendingBufferSize == 0 {
		c.Chat.PendingBufferSize = DefaultPendingBufferSize
	}
	if c.Chat.PendingBufferTTL == 0 {
		c.Chat.PendingBufferTTL = DefaultPendingBufferTTL
	}
	if c.Chat.RefreshInterval == 0 {
		c.Chat.RefreshInterval = DefaultRefreshInterval
	}
}

// parseDurations converts the raw duration strings into time.Duration values.
func parseDurations(cfg *Config) error {
	fields := []struct {
		raw  string
		name string
		dst  *time.Duration
	}{
		{cfg.API.RequestTimeoutRaw, "request_timeout", &cfg.API.RequestTimeout},
		{cfg.Socket.HandshakeTimeoutRaw, "handshake_timeout", &cfg.Socket.HandshakeTimeout},
		{cfg.Socket.PongWaitRaw, "pong_wait", &cfg.Socket.PongWait},
		{cfg.Chat.PendingBufferTTLRaw, "pending_buffer_ttl", &cfg.Chat.PendingBufferTTL},
		{cfg.Chat.RefreshIntervalRaw, "refresh_interval", &cfg.Chat.RefreshInterval},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}

	return nil
}
