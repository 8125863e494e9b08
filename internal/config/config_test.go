package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const minimalYAML = `
auth:
  base_url: https://auth.example.com
  credential: secret
bot:
  user_id: bot-1
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "firebot.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalYAML))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Bot.Prefix != "!" {
		t.Fatalf("Prefix = %q, want %q", cfg.Bot.Prefix, "!")
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "text" {
		t.Fatalf("Logging = %+v", cfg.Logging)
	}
	if cfg.Storage.Path != "firebot.db" {
		t.Fatalf("Storage.Path = %q", cfg.Storage.Path)
	}
	if cfg.RateLimit.Limit <= 0 || cfg.RateLimit.Window == "" {
		t.Fatalf("RateLimit = %+v", cfg.RateLimit)
	}
}

func TestLoadExpandsEnvironment(t *testing.T) {
	t.Setenv("FIREBOT_CREDENTIAL", "from-env")
	cfg, err := Load(writeConfig(t, `
auth:
  base_url: https://auth.example.com
  credential: ${FIREBOT_CREDENTIAL}
bot:
  user_id: bot-1
`))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Auth.Credential != "from-env" {
		t.Fatalf("Credential = %q", cfg.Auth.Credential)
	}
}

func TestValidateErrors(t *testing.T) {
	cases := []struct {
		name string
		yaml string
		want string
	}{
		{"missing base url", "auth:\n  credential: s\nbot:\n  user_id: b\n", "auth.base_url"},
		{"missing credential", "auth:\n  base_url: u\nbot:\n  user_id: b\n", "auth.credential"},
		{"missing bot user", "auth:\n  base_url: u\n  credential: s\n", "bot.user_id"},
		{"bad heartbeat", minimalYAML + "socket:\n  heartbeat_interval: sometimes\n", "socket.heartbeat_interval"},
		{"bad window", minimalYAML + "rate_limit:\n  window: huge\n", "rate_limit.window"},
		{"announcement without schedule", minimalYAML + "announcements:\n  - room_id: r\n    message: hi\n", "announcements[0].schedule"},
		{"announcement without room", minimalYAML + "announcements:\n  - schedule: '0 * * * *'\n    message: hi\n", "announcements[0].room_id"},
		{"announcement without message", minimalYAML + "announcements:\n  - schedule: '0 * * * *'\n    room_id: r\n", "announcements[0].message"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.yaml))
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("err = %v, want %q", err, tc.want)
			}
		})
	}
}

func TestSocketSettings(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalYAML+`
socket:
  heartbeat_interval: 45s
  restart_delay: 2s
  max_frame_bytes: 131072
`))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	sc := cfg.SocketSettings()
	if sc.HeartbeatInterval != 45*time.Second {
		t.Fatalf("HeartbeatInterval = %v", sc.HeartbeatInterval)
	}
	if sc.RestartDelay != 2*time.Second {
		t.Fatalf("RestartDelay = %v", sc.RestartDelay)
	}
	if sc.MaxFrameBytes != 131072 {
		t.Fatalf("MaxFrameBytes = %d", sc.MaxFrameBytes)
	}
	// Unset fields keep package defaults.
	if sc.RequestTimeout <= 0 {
		t.Fatalf("RequestTimeout = %v", sc.RequestTimeout)
	}
}

func TestRateLimitSettings(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalYAML+`
rate_limit:
  limit: 7
  window: 3s
`))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	rl := cfg.RateLimitSettings()
	if rl.Limit != 7 || rl.Window != 3*time.Second {
		t.Fatalf("RateLimitSettings = %+v", rl)
	}
}

func TestLogLevel(t *testing.T) {
	cases := []struct {
		level string
		want  slog.Level
		ok    bool
	}{
		{"debug", slog.LevelDebug, true},
		{"info", slog.LevelInfo, true},
		{"", slog.LevelInfo, true},
		{"warn", slog.LevelWarn, true},
		{"warning", slog.LevelWarn, true},
		{"ERROR", slog.LevelError, true},
		{"loud", slog.LevelInfo, false},
	}
	for _, tc := range cases {
		cfg := Config{Logging: LoggingConfig{Level: tc.level}}
		got, err := cfg.LogLevel()
		if (err == nil) != tc.ok {
			t.Fatalf("LogLevel(%q) err = %v", tc.level, err)
		}
		if got != tc.want {
			t.Fatalf("LogLevel(%q) = %v, want %v", tc.level, got, tc.want)
		}
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
