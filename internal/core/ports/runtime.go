package ports

import (
	"context"
	"time"

	"github.com/tjfontaine/interaction-gateway/internal/core/domain"
	"github.com/tjfontaine/interaction-gateway/internal/pkg/config"
)

// ConfigProvider loads and manages configuration.
// Implementations: file-based (default), remote API, etc.
type ConfigProvider interface {
	Load(ctx context.Context) (*config.Config, error)
	Watch(ctx context.Context, onChange func(*config.Config)) error
	Close() error
}

// AuthProvider authenticates API and viewer connections.
// Implementations: API key (default), OAuth2, OIDC, etc.
type AuthProvider interface {
	Authenticate(ctx context.Context, token string) (*AuthContext, error)
}

// AuthContext contains authenticated request context.
type AuthContext struct {
	Subject  string
	Scopes   []string
	Metadata map[string]string
}

// EventPublisher receives interaction lifecycle events.
// Implementations: broadcast gateway, audit storage, webhook.
type EventPublisher interface {
	Publish(ctx context.Context, event *domain.LifecycleEvent) error
	Close() error
}

// QualityPolicy throttles interaction creation at the adapter boundary.
// Implementations: basic (no limits), per-conversation rate limiter.
type QualityPolicy interface {
	CheckRequest(ctx context.Context, req *PolicyRequest) (*PolicyDecision, error)
	RecordUsage(ctx context.Context, usage *UsageRecord) error
}

// PolicyRequest contains request context for policy checks.
type PolicyRequest struct {
	ConversationID string
	Kind           domain.Kind
}

// PolicyDecision is the result of a policy check.
type PolicyDecision struct {
	Allow      bool
	Reason     string
	RetryAfter time.Duration
}

// UsageRecord tracks an interaction that was actually created.
type UsageRecord struct {
	ConversationID string
	InteractionID  string
	Kind           domain.Kind
}
