// Package config loads and validates the bot's YAML configuration.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/emberside/firebot/internal/ratelimit"
	"github.com/emberside/firebot/internal/socket"
)

// Config is the root configuration document. Environment variables in
// the file body expand before parsing, so secrets stay out of the file.
type Config struct {
	Auth          AuthConfig         `yaml:"auth"`
	Socket        SocketConfig       `yaml:"socket"`
	Bot           BotConfig          `yaml:"bot"`
	RateLimit     RateLimitConfig    `yaml:"rate_limit"`
	Commands      CommandsConfig     `yaml:"commands"`
	Storage       StorageConfig      `yaml:"storage"`
	Telemetry     TelemetryConfig    `yaml:"telemetry"`
	Logging       LoggingConfig      `yaml:"logging"`
	Announcements []AnnouncementRule `yaml:"announcements,omitempty"`
}

// AuthConfig locates the authentication service.
type AuthConfig struct {
	// BaseURL is the HTTP endpoint that issues socket hosts and tokens.
	BaseURL string `yaml:"base_url"`

	// Credential is the bot's long-lived login secret.
	Credential string `yaml:"credential"`
}

// SocketConfig tunes the websocket connections. Durations are Go
// duration strings.
type SocketConfig struct {
	HeartbeatInterval string `yaml:"heartbeat_interval,omitempty"`
	RestartDelay      string `yaml:"restart_delay,omitempty"`
	RequestTimeout    string `yaml:"request_timeout,omitempty"`
	MaxFrameBytes     int64  `yaml:"max_frame_bytes,omitempty"`
}

// BotConfig holds the bot's chat identity and command surface.
type BotConfig struct {
	// UserID is the bot's own account id, used to ignore its own messages.
	UserID string `yaml:"user_id"`

	// OwnerID may run admin-only commands.
	OwnerID string `yaml:"owner_id"`

	// Prefix is the default command prefix.
	Prefix string `yaml:"prefix,omitempty"`

	// Blocked users are ignored entirely.
	Blocked []string `yaml:"blocked,omitempty"`

	// Greeting is sent after joining a new group. Empty disables it.
	Greeting string `yaml:"greeting,omitempty"`
}

// RateLimitConfig tunes the per-room outbound throttle.
type RateLimitConfig struct {
	Limit  int    `yaml:"limit,omitempty"`
	Window string `yaml:"window,omitempty"`
}

// CommandsConfig locates the custom command pack.
type CommandsConfig struct {
	// Dir is a directory of YAML command definitions. Empty disables the
	// pack and its watcher.
	Dir string `yaml:"dir,omitempty"`

	// Watch enables hot reload of the pack directory.
	Watch bool `yaml:"watch,omitempty"`
}

// StorageConfig locates the SQLite database.
type StorageConfig struct {
	Path string `yaml:"path,omitempty"`
}

// TelemetryConfig controls the Prometheus endpoint.
type TelemetryConfig struct {
	// Addr is the metrics listen address. Empty disables the server.
	Addr string `yaml:"addr,omitempty"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level,omitempty"`

	// Format is "json" or "text".
	Format string `yaml:"format,omitempty"`
}

// AnnouncementRule posts a fixed message to a room on a cron schedule.
type AnnouncementRule struct {
	// Schedule is a standard five-field cron expression.
	Schedule string `yaml:"schedule"`

	RoomID  string `yaml:"room_id"`
	Message string `yaml:"message"`
}

// Load reads, expands and validates the configuration at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks required fields and applies defaults.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Auth.BaseURL) == "" {
		return fmt.Errorf("auth.base_url is required")
	}
	if strings.TrimSpace(c.Auth.Credential) == "" {
		return fmt.Errorf("auth.credential is required")
	}
	if strings.TrimSpace(c.Bot.UserID) == "" {
		return fmt.Errorf("bot.user_id is required")
	}

	if c.Bot.Prefix == "" {
		c.Bot.Prefix = "!"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Storage.Path == "" {
		c.Storage.Path = "firebot.db"
	}
	if c.RateLimit.Limit == 0 {
		c.RateLimit.Limit = ratelimit.DefaultConfig().Limit
	}
	if c.RateLimit.Window == "" {
		c.RateLimit.Window = ratelimit.DefaultConfig().Window.String()
	}

	for _, field := range []struct {
		name  string
		value string
	}{
		{"socket.heartbeat_interval", c.Socket.HeartbeatInterval},
		{"socket.restart_delay", c.Socket.RestartDelay},
		{"socket.request_timeout", c.Socket.RequestTimeout},
		{"rate_limit.window", c.RateLimit.Window},
	} {
		if field.value == "" {
			continue
		}
		if _, err := time.ParseDuration(field.value); err != nil {
			return fmt.Errorf("%s: %w", field.name, err)
		}
	}

	for i, a := range c.Announcements {
		if strings.TrimSpace(a.Schedule) == "" {
			return fmt.Errorf("announcements[%d].schedule is required", i)
		}
		if strings.TrimSpace(a.RoomID) == "" {
			return fmt.Errorf("announcements[%d].room_id is required", i)
		}
		if strings.TrimSpace(a.Message) == "" {
			return fmt.Errorf("announcements[%d].message is required", i)
		}
	}
	return nil
}

// SocketSettings builds the socket configuration, applying package
// defaults for unset fields.
func (c *Config) SocketSettings() socket.Config {
	out := socket.DefaultConfig()
	if d, err := time.ParseDuration(c.Socket.HeartbeatInterval); err == nil && d > 0 {
		out.HeartbeatInterval = d
	}
	if d, err := time.ParseDuration(c.Socket.RestartDelay); err == nil && d > 0 {
		out.RestartDelay = d
	}
	if d, err := time.ParseDuration(c.Socket.RequestTimeout); err == nil && d > 0 {
		out.RequestTimeout = d
	}
	if c.Socket.MaxFrameBytes > 0 {
		out.MaxFrameBytes = c.Socket.MaxFrameBytes
	}
	return out
}

// RateLimitSettings builds the throttle configuration.
func (c *Config) RateLimitSettings() ratelimit.Config {
	out := ratelimit.DefaultConfig()
	if c.RateLimit.Limit > 0 {
		out.Limit = c.RateLimit.Limit
	}
	if d, err := time.ParseDuration(c.RateLimit.Window); err == nil && d > 0 {
		out.Window = d
	}
	return out
}

// LogLevel maps the configured level string onto slog levels.
func (c *Config) LogLevel() (slog.Level, error) {
	switch strings.ToLower(c.Logging.Level) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", c.Logging.Level)
	}
}
