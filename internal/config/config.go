// Package config provides YAML-based configuration loading for fieldchat.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// Config is the top-level fieldchat configuration, loaded from fieldchat.yaml.
type Config struct {
	API        APIConfig        `yaml:"api"`
	Auth       AuthConfig       `yaml:"auth"`
	Chat       ChatConfig       `yaml:"chat"`
	Image      ImageConfig      `yaml:"image"`
	WorkOrders WorkOrdersConfig `yaml:"workorders"`
	Journal    JournalConfig    `yaml:"journal"`
	Log        LogConfig        `yaml:"log"`
	Dashboard  DashboardConfig  `yaml:"dashboard"`
}

// APIConfig locates the backend collaborators.
type APIConfig struct {
	BaseURL            string `yaml:"base_url"`
	ChatConnectionPath string `yaml:"chat_connection_path"`
	ChatHistoryPath    string `yaml:"chat_history_path"`
	WorkOrdersPath     string `yaml:"work_orders_path"`
	ChatDonePath       string `yaml:"chat_done_path"`
	SubscriptionKey    string `yaml:"subscription_key"`
	UserID             string `yaml:"user_id"`
	TimeoutSec         int    `yaml:"timeout_sec"`
}

// AuthConfig selects how the auth token attached to requests is obtained.
// A static token wins over client credentials when both are set.
type AuthConfig struct {
	Token             string                  `yaml:"token"`
	ClientCredentials ClientCredentialsConfig `yaml:"client_credentials"`
}

// ClientCredentialsConfig holds OAuth2 client-credentials settings.
type ClientCredentialsConfig struct {
	TokenURL     string   `yaml:"token_url"`
	ClientID     string   `yaml:"client_id"`
	ClientSecret string   `yaml:"client_secret"`
	Scopes       []string `yaml:"scopes"`
}

// Enabled reports whether client credentials are configured.
func (c ClientCredentialsConfig) Enabled() bool {
	return c.TokenURL != "" && c.ClientID != ""
}

// ChatConfig tunes the chat gateway and connection manager.
type ChatConfig struct {
	PlaceholderDelayMs int    `yaml:"placeholder_delay_ms"`
	InboundBuffer      int    `yaml:"inbound_buffer"`
	ReconnectDelayMs   int    `yaml:"reconnect_delay_ms"`
	ValidationIndex    string `yaml:"validation_index"`
}

// PlaceholderDelay returns the delay before the image placeholder appears.
func (c ChatConfig) PlaceholderDelay() time.Duration {
	return time.Duration(c.PlaceholderDelayMs) * time.Millisecond
}

// ReconnectDelay returns the pause between a channel closing and the next
// bootstrap call. Zero means immediate.
func (c ChatConfig) ReconnectDelay() time.Duration {
	return time.Duration(c.ReconnectDelayMs) * time.Millisecond
}

// ImageConfig bounds outbound images.
type ImageConfig struct {
	MaxWidth        int `yaml:"max_width"`
	MaxHeight       int `yaml:"max_height"`
	Quality         int `yaml:"quality"`
	MinQuality      int `yaml:"min_quality"`
	MaxPayloadBytes int `yaml:"max_payload_bytes"`
	MaxPixels       int `yaml:"max_pixels"`
}

// WorkOrdersConfig controls work-order list refreshes.
type WorkOrdersConfig struct {
	RefreshCron string `yaml:"refresh_cron"`
}

// JournalConfig enables the local transcript journal.
type JournalConfig struct {
	Driver string `yaml:"driver"` // "sqlite", "mysql", or empty to disable
	DSN    string `yaml:"dsn"`
}

// Enabled reports whether a journal driver is configured.
func (j JournalConfig) Enabled() bool {
	return j.Driver != ""
}

// LogConfig controls the zap logger.
type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// DashboardConfig holds local HTTP surface settings.
type DashboardConfig struct {
	Port int `yaml:"port"`
}

// Load reads a YAML config file from path and returns a validated Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse unmarshals YAML bytes into a validated Config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	c.API.BaseURL = strings.TrimRight(c.API.BaseURL, "/")
	if c.API.ChatConnectionPath == "" {
		c.API.ChatConnectionPath = "/core/chat_connection"
	}
	if c.API.ChatHistoryPath == "" {
		c.API.ChatHistoryPath = "/api/chatHistory"
	}
	if c.API.WorkOrdersPath == "" {
		c.API.WorkOrdersPath = "/api/workOrders"
	}
	if c.API.ChatDonePath == "" {
		c.API.ChatDonePath = "/api/chatDone"
	}
	if c.API.UserID == "" {
		c.API.UserID = "123"
	}
	if c.API.TimeoutSec == 0 {
		c.API.TimeoutSec = 30
	}
	if c.Chat.PlaceholderDelayMs == 0 {
		c.Chat.PlaceholderDelayMs = 250
	}
	if c.Chat.InboundBuffer == 0 {
		c.Chat.InboundBuffer = 64
	}
	if c.Chat.ValidationIndex == "" {
		c.Chat.ValidationIndex = "validation-index"
	}
	if c.Image.MaxWidth == 0 {
		c.Image.MaxWidth = 800
	}
	if c.Image.MaxHeight == 0 {
		c.Image.MaxHeight = 600
	}
	if c.Image.Quality == 0 {
		c.Image.Quality = 100
	}
	if c.Image.MinQuality == 0 {
		c.Image.MinQuality = 40
	}
	if c.Image.MaxPayloadBytes == 0 {
		c.Image.MaxPayloadBytes = 1 << 20
	}
	if c.Image.MaxPixels == 0 {
		c.Image.MaxPixels = 40_000_000
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Dashboard.Port == 0 {
		c.Dashboard.Port = 8080
	}
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	if c.API.BaseURL == "" {
		errs = append(errs, "api.base_url is required")
	}
	if c.API.TimeoutSec < 0 {
		errs = append(errs, "api.timeout_sec must not be negative")
	}
	if c.Chat.PlaceholderDelayMs < 0 {
		errs = append(errs, "chat.placeholder_delay_ms must not be negative")
	}
	if c.Chat.ReconnectDelayMs < 0 {
		errs = append(errs, "chat.reconnect_delay_ms must not be negative")
	}
	if c.Chat.InboundBuffer < 0 {
		errs = append(errs, "chat.inbound_buffer must not be negative")
	}
	if c.Image.MaxWidth < 0 || c.Image.MaxHeight < 0 {
		errs = append(errs, "image.max_width and image.max_height must be positive")
	}
	if c.Image.MaxPixels < 0 {
		errs = append(errs, "image.max_pixels must not be negative")
	}
	if c.Image.Quality > 100 || c.Image.MinQuality < 1 || c.Image.MinQuality > c.Image.Quality {
		errs = append(errs, "image quality must satisfy 1 <= min_quality <= quality <= 100")
	}
	switch c.Journal.Driver {
	case "":
	case "sqlite", "mysql":
		if c.Journal.DSN == "" {
			errs = append(errs, "journal.dsn is required when journal.driver is set")
		}
	default:
		errs = append(errs, fmt.Sprintf("journal.driver %q is not supported (want sqlite or mysql)", c.Journal.Driver))
	}
	if c.WorkOrders.RefreshCron != "" {
		if _, err := cron.ParseStandard(c.WorkOrders.RefreshCron); err != nil {
			errs = append(errs, fmt.Sprintf("workorders.refresh_cron: %v", err))
		}
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Sprintf("log.level %q is not supported", c.Log.Level))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
