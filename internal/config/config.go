// ABOUTME: Configuration loading and parsing for parley-gateway
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// WebhookMountPrefix is where the gateway mounts webhook channel handlers on
// the HTTP API. Configured webhook paths must live under it.
const WebhookMountPrefix = "/webhooks/"

// Config represents the complete parley-gateway configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Auth      AuthConfig      `yaml:"auth"`
	Database  DatabaseConfig  `yaml:"database"`
	Agent     AgentConfig     `yaml:"agent"`
	Reconnect ReconnectConfig `yaml:"reconnect"`
	Ownership OwnershipConfig `yaml:"ownership"`
	Channels  ChannelsConfig  `yaml:"channels"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig holds the local HTTP API address
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// AgentConfig identifies the agent the gateway fronts
type AgentConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// ReconnectConfig holds backoff timing configuration
type ReconnectConfig struct {
	InitialDelay time.Duration `yaml:"-"`
	MaxDelay     time.Duration `yaml:"-"`
	JitterRatio  float64       `yaml:"jitter_ratio"`

	// Raw string values for YAML unmarshaling
	InitialDelayRaw string `yaml:"initial_delay"`
	MaxDelayRaw     string `yaml:"max_delay"`
}

// OwnershipConfig holds thread-claim forwarder configuration
type OwnershipConfig struct {
	ForwarderURL string   `yaml:"forwarder_url"`
	Channels     []string `yaml:"channels"`
	FailClosed   bool     `yaml:"fail_closed"`

	Timeout    time.Duration `yaml:"-"`
	MentionTTL time.Duration `yaml:"-"`

	TimeoutRaw    string `yaml:"timeout"`
	MentionTTLRaw string `yaml:"mention_ttl"`
}

// ChannelsConfig holds configuration for all channel integrations
type ChannelsConfig struct {
	Mattermost MattermostConfig `yaml:"mattermost"`
	Slack      SlackConfig      `yaml:"slack"`
	Discord    DiscordConfig    `yaml:"discord"`
	Zalo       ZaloConfig       `yaml:"zalo"`
}

// MattermostConfig holds the WebSocket monitor configuration
type MattermostConfig struct {
	Enabled      bool   `yaml:"enabled"`
	WebSocketURL string `yaml:"websocket_url"`
	Token        string `yaml:"token"`
}

// SlackConfig holds Slack integration configuration
type SlackConfig struct {
	Enabled           bool     `yaml:"enabled"`
	BotToken          string   `yaml:"bot_token"`
	APIBaseURL        string   `yaml:"api_base_url"`
	MessagesPerSecond float64  `yaml:"messages_per_second"`
	AllowedChannels   []string `yaml:"allowed_channels"`
}

// DiscordConfig holds Discord integration configuration
type DiscordConfig struct {
	Enabled  bool   `yaml:"enabled"`
	BotToken string `yaml:"bot_token"`
}

// ZaloConfig holds the webhook-based Zalo integration configuration
type ZaloConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
	Secret  string `yaml:"secret"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`
}

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

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
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

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Agent.ID == "" {
		return fmt.Errorf("agent.id is required")
	}
	if c.Channels.Mattermost.Enabled {
		if c.Channels.Mattermost.WebSocketURL == "" {
			return fmt.Errorf("channels.mattermost.websocket_url is required when mattermost is enabled")
		}
		if c.Channels.Mattermost.Token == "" {
			return fmt.Errorf("channels.mattermost.token is required when mattermost is enabled")
		}
	}
	if c.Channels.Slack.Enabled && c.Channels.Slack.BotToken == "" {
		return fmt.Errorf("channels.slack.bot_token is required when slack is enabled")
	}
	if c.Channels.Discord.Enabled && c.Channels.Discord.BotToken == "" {
		return fmt.Errorf("channels.discord.bot_token is required when discord is enabled")
	}
	if c.Channels.Zalo.Enabled {
		if c.Channels.Zalo.Path == "" {
			return fmt.Errorf("channels.zalo.path is required when zalo is enabled")
		}
		// Webhook handlers are served under the WebhookMountPrefix; a path
		// outside it would register but never receive a request.
		if !strings.HasPrefix(c.Channels.Zalo.Path, WebhookMountPrefix) {
			return fmt.Errorf("channels.zalo.path must start with %q, got %q", WebhookMountPrefix, c.Channels.Zalo.Path)
		}
		if c.Channels.Zalo.Secret == "" {
			return fmt.Errorf("channels.zalo.secret is required when zalo is enabled")
		}
	}
	if len(c.Ownership.Channels) > 0 && c.Ownership.ForwarderURL == "" {
		return fmt.Errorf("ownership.forwarder_url is required when ownership channels are configured")
	}
	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		raw  string
		dst  *time.Duration
		name string
	}{
		{cfg.Reconnect.InitialDelayRaw, &cfg.Reconnect.InitialDelay, "reconnect.initial_delay"},
		{cfg.Reconnect.MaxDelayRaw, &cfg.Reconnect.MaxDelay, "reconnect.max_delay"},
		{cfg.Ownership.TimeoutRaw, &cfg.Ownership.Timeout, "ownership.timeout"},
		{cfg.Ownership.MentionTTLRaw, &cfg.Ownership.MentionTTL, "ownership.mention_ttl"},
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
