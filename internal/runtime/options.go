package runtime

import (
	"fmt"
	"log/slog"
	"net"

	"github.com/tjfontaine/interaction-gateway/internal/adapters/config/file"
	"github.com/tjfontaine/interaction-gateway/internal/adapters/storage/sqlite"
	"github.com/tjfontaine/interaction-gateway/internal/core/ports"
)

// Option is a functional option for configuring a Gateway.
type Option func(*Gateway) error

// WithFileConfig uses file-based configuration with hot-reload (default).
// The path should point to a config.yaml file that will be watched for changes.
// Apply WithLogger first for the provider to log through it.
func WithFileConfig(path string) Option {
	return func(g *Gateway) error {
		provider, err := file.NewProvider(path, g.logger)
		if err != nil {
			return fmt.Errorf("create file config provider: %w", err)
		}
		g.config = provider
		return nil
	}
}

// WithConfigProvider sets a custom config provider.
func WithConfigProvider(provider ports.ConfigProvider) Option {
	return func(g *Gateway) error {
		g.config = provider
		return nil
	}
}

// WithSQLite records the audit trail in the SQLite database at path,
// regardless of storage.type. The gateway closes it on shutdown.
func WithSQLite(path string) Option {
	return func(g *Gateway) error {
		store, err := sqlite.NewProvider(path)
		if err != nil {
			return fmt.Errorf("create sqlite storage: %w", err)
		}
		g.audit = store
		g.ownsAudit = true
		return nil
	}
}

// WithAuditStore sets a custom audit store. The caller keeps ownership.
func WithAuditStore(store ports.AuditStore) Option {
	return func(g *Gateway) error {
		g.audit = store
		return nil
	}
}

// WithEventPublisher adds a publisher that receives every lifecycle event.
// The gateway closes it on shutdown.
func WithEventPublisher(publisher ports.EventPublisher) Option {
	return func(g *Gateway) error {
		if publisher == nil {
			return fmt.Errorf("event publisher cannot be nil")
		}
		g.events = append(g.events, publisher)
		return nil
	}
}

// WithAuthProvider sets a custom auth provider for viewers and the API.
// Configured API keys are ignored when set.
func WithAuthProvider(provider ports.AuthProvider) Option {
	return func(g *Gateway) error {
		g.auth = provider
		return nil
	}
}

// WithQualityPolicy sets a custom creation policy in place of the
// configured rate limiter.
func WithQualityPolicy(policy ports.QualityPolicy) Option {
	return func(g *Gateway) error {
		g.policy = policy
		return nil
	}
}

// WithClock replaces the wall clock used for interaction expiry.
func WithClock(clock ports.Clock) Option {
	return func(g *Gateway) error {
		g.clock = clock
		return nil
	}
}

// WithListener serves on ln instead of listening on server.port.
func WithListener(ln net.Listener) Option {
	return func(g *Gateway) error {
		g.listener = ln
		return nil
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Gateway) error {
		if logger != nil {
			g.logger = logger
		}
		return nil
	}
}

// WithLevelVar lets config loads and reloads adjust the log level.
func WithLevelVar(level *slog.LevelVar) Option {
	return func(g *Gateway) error {
		g.level = level
		return nil
	}
}
