package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const fullYAML = `
api:
  base_url: https://core.example.net/
  chat_connection_path: /core/chat_connection
  subscription_key: sub-key
  user_id: tech-7
  timeout_sec: 10

auth:
  client_credentials:
    token_url: https://login.example.net/token
    client_id: fieldchat
    client_secret: s3cret
    scopes: ["chat.read", "chat.write"]

chat:
  placeholder_delay_ms: 400
  inbound_buffer: 16
  reconnect_delay_ms: 50

image:
  max_width: 1024
  max_height: 768
  quality: 90
  min_quality: 50
  max_payload_bytes: 500000

workorders:
  refresh_cron: "*/5 * * * *"

journal:
  driver: sqlite
  dsn: fieldchat.db

log:
  level: debug
  development: true

dashboard:
  port: 9090
`

const minimalYAML = `
api:
  base_url: https://core.example.net
`

func TestParse_FullConfig(t *testing.T) {
	cfg, err := Parse([]byte(fullYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.API.BaseURL != "https://core.example.net" {
		t.Errorf("BaseURL = %q, want trailing slash trimmed", cfg.API.BaseURL)
	}
	if cfg.API.UserID != "tech-7" {
		t.Errorf("UserID = %q, want tech-7", cfg.API.UserID)
	}
	if !cfg.Auth.ClientCredentials.Enabled() {
		t.Error("client credentials should be enabled")
	}
	if len(cfg.Auth.ClientCredentials.Scopes) != 2 {
		t.Errorf("Scopes = %v, want 2 entries", cfg.Auth.ClientCredentials.Scopes)
	}
	if cfg.Chat.PlaceholderDelay() != 400*time.Millisecond {
		t.Errorf("PlaceholderDelay = %v, want 400ms", cfg.Chat.PlaceholderDelay())
	}
	if cfg.Chat.ReconnectDelay() != 50*time.Millisecond {
		t.Errorf("ReconnectDelay = %v, want 50ms", cfg.Chat.ReconnectDelay())
	}
	if cfg.Image.MaxWidth != 1024 || cfg.Image.MaxHeight != 768 {
		t.Errorf("image bounds = %dx%d, want 1024x768", cfg.Image.MaxWidth, cfg.Image.MaxHeight)
	}
	if !cfg.Journal.Enabled() || cfg.Journal.DSN != "fieldchat.db" {
		t.Errorf("Journal = %+v, want sqlite fieldchat.db", cfg.Journal)
	}
	if cfg.WorkOrders.RefreshCron != "*/5 * * * *" {
		t.Errorf("RefreshCron = %q", cfg.WorkOrders.RefreshCron)
	}
	if cfg.Dashboard.Port != 9090 {
		t.Errorf("Dashboard.Port = %d, want 9090", cfg.Dashboard.Port)
	}
}

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse([]byte(minimalYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	checks := []struct {
		name string
		got  any
		want any
	}{
		{"ChatConnectionPath", cfg.API.ChatConnectionPath, "/core/chat_connection"},
		{"ChatHistoryPath", cfg.API.ChatHistoryPath, "/api/chatHistory"},
		{"WorkOrdersPath", cfg.API.WorkOrdersPath, "/api/workOrders"},
		{"ChatDonePath", cfg.API.ChatDonePath, "/api/chatDone"},
		{"UserID", cfg.API.UserID, "123"},
		{"TimeoutSec", cfg.API.TimeoutSec, 30},
		{"PlaceholderDelayMs", cfg.Chat.PlaceholderDelayMs, 250},
		{"InboundBuffer", cfg.Chat.InboundBuffer, 64},
		{"ReconnectDelayMs", cfg.Chat.ReconnectDelayMs, 0},
		{"ValidationIndex", cfg.Chat.ValidationIndex, "validation-index"},
		{"MaxWidth", cfg.Image.MaxWidth, 800},
		{"MaxHeight", cfg.Image.MaxHeight, 600},
		{"Quality", cfg.Image.Quality, 100},
		{"MinQuality", cfg.Image.MinQuality, 40},
		{"MaxPayloadBytes", cfg.Image.MaxPayloadBytes, 1 << 20},
		{"MaxPixels", cfg.Image.MaxPixels, 40_000_000},
		{"LogLevel", cfg.Log.Level, "info"},
		{"DashboardPort", cfg.Dashboard.Port, 8080},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %v, want %v", c.name, c.got, c.want)
		}
	}
	if cfg.Journal.Enabled() {
		t.Error("journal should be disabled by default")
	}
}

func TestParse_ValidationErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "missing base url",
			yaml: "chat:\n  inbound_buffer: 4\n",
			want: "api.base_url is required",
		},
		{
			name: "unknown journal driver",
			yaml: minimalYAML + "journal:\n  driver: postgres\n  dsn: x\n",
			want: `journal.driver "postgres" is not supported`,
		},
		{
			name: "journal without dsn",
			yaml: minimalYAML + "journal:\n  driver: sqlite\n",
			want: "journal.dsn is required",
		},
		{
			name: "bad cron",
			yaml: minimalYAML + "workorders:\n  refresh_cron: every minute\n",
			want: "workorders.refresh_cron",
		},
		{
			name: "min quality above quality",
			yaml: minimalYAML + "image:\n  quality: 50\n  min_quality: 60\n",
			want: "min_quality <= quality",
		},
		{
			name: "negative reconnect delay",
			yaml: minimalYAML + "chat:\n  reconnect_delay_ms: -1\n",
			want: "chat.reconnect_delay_ms must not be negative",
		},
		{
			name: "bad log level",
			yaml: minimalYAML + "log:\n  level: chatty\n",
			want: `log.level "chatty"`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %q, want to contain %q", err.Error(), tt.want)
			}
		})
	}
}

func TestParse_MultipleErrorsJoined(t *testing.T) {
	_, err := Parse([]byte("journal:\n  driver: sqlite\n"))
	if err == nil {
		t.Fatal("expected error")
	}
	msg := err.Error()
	if !strings.Contains(msg, "api.base_url is required") || !strings.Contains(msg, "journal.dsn is required") {
		t.Errorf("error = %q, want both problems reported", msg)
	}
	if !strings.Contains(msg, "; ") {
		t.Errorf("error = %q, want errors joined with '; '", msg)
	}
}

func TestParse_InvalidYAML(t *testing.T) {
	_, err := Parse([]byte("api: [unclosed"))
	if err == nil {
		t.Fatal("expected parse error")
	}
	if !strings.Contains(err.Error(), "config: parse") {
		t.Errorf("error = %q, want to contain %q", err.Error(), "config: parse")
	}
}

func TestLoad_File(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fieldchat.yaml")
	if err := os.WriteFile(path, []byte(minimalYAML), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.API.BaseURL != "https://core.example.net" {
		t.Errorf("BaseURL = %q", cfg.API.BaseURL)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/fieldchat.yaml")
	if err == nil {
		t.Fatal("expected error for missing file")
	}
	if !strings.Contains(err.Error(), "config: read") {
		t.Errorf("error = %q, want to contain %q", err.Error(), "config: read")
	}
}
