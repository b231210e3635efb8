package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix is the prefix for environment overrides. Nested keys use "__",
// e.g. IGW_BROKER__MAX_PENDING_PER_CONVERSATION.
const EnvPrefix = "IGW_"

type Config struct {
	Server           ServerConfig       `koanf:"server"`
	Logging          LoggingConfig      `koanf:"logging"`
	Broker           BrokerConfig       `koanf:"broker"`
	Interactions     InteractionsConfig `koanf:"interactions"`
	PermissionsCache CacheConfig        `koanf:"permissions_cache"`
	RateLimit        RateLimitConfig    `koanf:"rate_limit"`
	Storage          StorageConfig      `koanf:"storage"`
	Webhook          WebhookConfig      `koanf:"webhook"`
	Auth             AuthConfig         `koanf:"auth"`
	Telemetry        TelemetryConfig    `koanf:"telemetry"`
	Transport        TransportConfig    `koanf:"transport"`
}

type ServerConfig struct {
	Port            int           `koanf:"port"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	RequestTimeout  time.Duration `koanf:"request_timeout"`
}

type LoggingConfig struct {
	Level string `koanf:"level"` // debug, info, warn, error
}

type BrokerConfig struct {
	MaxPendingPerConversation int           `koanf:"max_pending_per_conversation"`
	DefaultTTL                time.Duration `koanf:"default_ttl"`
}

// InteractionsConfig holds the TTL policy per interaction kind.
type InteractionsConfig struct {
	Permission   InteractionPolicy `koanf:"permission"`
	PlanApproval InteractionPolicy `koanf:"plan_approval"`
	AskUser      InteractionPolicy `koanf:"ask_user"`
}

// InteractionPolicy controls expiry for one interaction kind. A zero TTL
// without NoExpiry falls back to the broker default.
type InteractionPolicy struct {
	TTL      time.Duration `koanf:"ttl"`
	NoExpiry bool          `koanf:"no_expiry"`
}

type CacheConfig struct {
	Size int           `koanf:"size"`
	TTL  time.Duration `koanf:"ttl"`
}

type RateLimitConfig struct {
	Enabled   bool    `koanf:"enabled"`
	PerSecond float64 `koanf:"per_second"`
	Burst     int     `koanf:"burst"`
}

type StorageConfig struct {
	Type   string       `koanf:"type"` // sqlite, none
	SQLite SQLiteConfig `koanf:"sqlite"`
}

type SQLiteConfig struct {
	Path string `koanf:"path"`
}

type WebhookConfig struct {
	URL     string            `koanf:"url"`
	Timeout time.Duration     `koanf:"timeout"`
	Retries int               `koanf:"retries"`
	Headers map[string]string `koanf:"headers"`
}

type AuthConfig struct {
	APIKeys []APIKeyConfig `koanf:"api_keys"`
}

type APIKeyConfig struct {
	KeyHash     string `koanf:"key_hash"`
	Description string `koanf:"description"`
}

type TelemetryConfig struct {
	Tracing     bool   `koanf:"tracing"`
	ServiceName string `koanf:"service_name"`
}

type TransportConfig struct {
	SendBuffer   int           `koanf:"send_buffer"`
	WriteTimeout time.Duration `koanf:"write_timeout"`
}

var defaults = map[string]any{
	"server.port":                         8080,
	"server.shutdown_timeout":             "30s",
	"server.request_timeout":              "30s",
	"logging.level":                       "info",
	"broker.max_pending_per_conversation": 100,
	"broker.default_ttl":                  "5m",
	"interactions.permission.ttl":         "5m",
	"interactions.plan_approval.ttl":      "30m",
	"interactions.ask_user.no_expiry":     true,
	"permissions_cache.size":              256,
	"permissions_cache.ttl":               "10m",
	"rate_limit.enabled":                  true,
	"rate_limit.per_second":               2.0,
	"rate_limit.burst":                    10,
	"storage.type":                        "none",
	"storage.sqlite.path":                 "./data/interactions.db",
	"webhook.timeout":                     "5s",
	"webhook.retries":                     1,
	"telemetry.service_name":              "interaction-gateway",
	"transport.send_buffer":               64,
	"transport.write_timeout":             "5s",
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// Load reads path (if it exists), applies IGW_ environment overrides and
// fills defaults. An empty path skips the file.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			// File not found is OK, we'll use env vars
			if !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("load %s: %w", path, err)
			}
		}
	}

	// Load environment variables (can override file config)
	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".")
	}), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	for key, val := range defaults {
		// An explicit ask_user TTL opts that kind back into expiry.
		if key == "interactions.ask_user.no_expiry" && k.Exists("interactions.ask_user.ttl") {
			continue
		}
		if !k.Exists(key) {
			if err := k.Set(key, val); err != nil {
				return nil, fmt.Errorf("set default %s: %w", key, err)
			}
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.Webhook.URL = substituteEnvVars(cfg.Webhook.URL)
	for name, val := range cfg.Webhook.Headers {
		cfg.Webhook.Headers[name] = substituteEnvVars(val)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects values the runtime cannot work with.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	if c.Broker.MaxPendingPerConversation <= 0 {
		return fmt.Errorf("broker.max_pending_per_conversation must be positive")
	}
	if c.Broker.DefaultTTL <= 0 {
		return fmt.Errorf("broker.default_ttl must be positive")
	}
	if c.RateLimit.Enabled && (c.RateLimit.PerSecond <= 0 || c.RateLimit.Burst <= 0) {
		return fmt.Errorf("rate_limit.per_second and rate_limit.burst must be positive when enabled")
	}
	switch c.Storage.Type {
	case "", "none", "sqlite":
	default:
		return fmt.Errorf("unsupported storage.type %q", c.Storage.Type)
	}
	if c.Storage.Type == "sqlite" && c.Storage.SQLite.Path == "" {
		return fmt.Errorf("storage.sqlite.path required for sqlite storage")
	}
	return nil
}

func substituteEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name from ${VAR_NAME}
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}
