package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Broker.MaxPendingPerConversation != 100 {
		t.Errorf("max pending = %d, want 100", cfg.Broker.MaxPendingPerConversation)
	}
	if cfg.Broker.DefaultTTL != 5*time.Minute {
		t.Errorf("default ttl = %v, want 5m", cfg.Broker.DefaultTTL)
	}
	if cfg.Interactions.PlanApproval.TTL != 30*time.Minute {
		t.Errorf("plan ttl = %v, want 30m", cfg.Interactions.PlanApproval.TTL)
	}
	if !cfg.Interactions.AskUser.NoExpiry {
		t.Error("ask_user should default to no expiry")
	}
	if cfg.Storage.Type != "none" {
		t.Errorf("storage type = %q, want none", cfg.Storage.Type)
	}
	if cfg.Transport.SendBuffer != 64 {
		t.Errorf("send buffer = %d, want 64", cfg.Transport.SendBuffer)
	}
}

func TestLoadFile(t *testing.T) {
	t.Setenv("HOOK_TOKEN", "s3cret")
	path := writeConfig(t, `
server:
  port: 9090
broker:
  max_pending_per_conversation: 5
  default_ttl: 90s
interactions:
  ask_user:
    ttl: 1h
rate_limit:
  enabled: false
storage:
  type: sqlite
  sqlite:
    path: /tmp/audit.db
webhook:
  url: https://hooks.example.com/notify
  headers:
    Authorization: Bearer ${HOOK_TOKEN}
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.Broker.MaxPendingPerConversation != 5 {
		t.Errorf("max pending = %d, want 5", cfg.Broker.MaxPendingPerConversation)
	}
	if cfg.Broker.DefaultTTL != 90*time.Second {
		t.Errorf("default ttl = %v, want 90s", cfg.Broker.DefaultTTL)
	}
	if cfg.Interactions.AskUser.NoExpiry || cfg.Interactions.AskUser.TTL != time.Hour {
		t.Errorf("ask_user policy = %+v, want 1h with expiry", cfg.Interactions.AskUser)
	}
	if cfg.RateLimit.Enabled {
		t.Error("rate limit should be disabled")
	}
	if got := cfg.Webhook.Headers["Authorization"]; got != "Bearer s3cret" {
		t.Errorf("webhook header = %q", got)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("IGW_SERVER__PORT", "9000")
	t.Setenv("IGW_BROKER__MAX_PENDING_PER_CONVERSATION", "7")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("port = %d, want 9000", cfg.Server.Port)
	}
	if cfg.Broker.MaxPendingPerConversation != 7 {
		t.Errorf("max pending = %d, want 7", cfg.Broker.MaxPendingPerConversation)
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg, err := Load("")
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad port", func(c *Config) { c.Server.Port = 0 }},
		{"zero cap", func(c *Config) { c.Broker.MaxPendingPerConversation = 0 }},
		{"zero ttl", func(c *Config) { c.Broker.DefaultTTL = 0 }},
		{"rate limit without rate", func(c *Config) { c.RateLimit.PerSecond = 0 }},
		{"unknown storage", func(c *Config) { c.Storage.Type = "postgres" }},
		{"sqlite without path", func(c *Config) { c.Storage.Type = "sqlite"; c.Storage.SQLite.Path = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Validate() expected error")
			}
		})
	}
}

func TestSubstituteEnvVars(t *testing.T) {
	t.Setenv("TEST_VAR", "test-value")

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "simple substitution", input: "${TEST_VAR}", want: "test-value"},
		{name: "substitution in string", input: "prefix-${TEST_VAR}-suffix", want: "prefix-test-value-suffix"},
		{name: "no substitution", input: "plain-string", want: "plain-string"},
		{name: "undefined var", input: "${UNDEFINED_VAR}", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := substituteEnvVars(tt.input); got != tt.want {
				t.Errorf("substituteEnvVars(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}
