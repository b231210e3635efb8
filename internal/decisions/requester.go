// Package decisions holds the shared plumbing for domain adapters: a policy
// gate in front of the broker and kind-specific creation options. Adapters
// never implement timers, broadcast or capacity checks themselves.
package decisions

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tjfontaine/interaction-gateway/internal/broker"
	"github.com/tjfontaine/interaction-gateway/internal/core/domain"
	"github.com/tjfontaine/interaction-gateway/internal/core/ports"
	"github.com/tjfontaine/interaction-gateway/internal/pkg/config"
	"github.com/tjfontaine/interaction-gateway/internal/telemetry"
)

// Creator is the slice of the broker adapters depend on.
type Creator interface {
	Create(ctx context.Context, conversationID string, req domain.Request, opts broker.CreateOptions) (*broker.Ticket, error)
}

// Requester opens interactions on behalf of adapters and waits for them.
type Requester struct {
	creator Creator
	policy  ports.QualityPolicy
	logger  *slog.Logger
	tracer  trace.Tracer
}

// NewRequester creates a Requester. A nil policy allows everything.
func NewRequester(creator Creator, policy ports.QualityPolicy, logger *slog.Logger) *Requester {
	if logger == nil {
		logger = slog.Default()
	}
	return &Requester{
		creator: creator,
		policy:  policy,
		logger:  logger,
		tracer:  otel.Tracer(telemetry.TracerName),
	}
}

// Request checks the creation policy, opens the interaction and blocks until
// it settles. The returned interaction id is empty if nothing was created.
func (r *Requester) Request(ctx context.Context, conversationID string, req domain.Request, opts broker.CreateOptions) (id string, resp json.RawMessage, err error) {
	ctx, span := r.tracer.Start(ctx, "interaction.request",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("interaction.conversation_id", conversationID),
			attribute.String("interaction.kind", string(req.Kind())),
		))
	defer func() {
		span.SetAttributes(attribute.String("interaction.id", id))
		if err != nil {
			span.SetStatus(codes.Error, string(domain.CodeOf(err)))
		}
		span.End()
	}()

	if r.policy != nil {
		decision, err := r.policy.CheckRequest(ctx, &ports.PolicyRequest{
			ConversationID: conversationID,
			Kind:           req.Kind(),
		})
		if err != nil {
			return "", nil, fmt.Errorf("policy check: %w", err)
		}
		if !decision.Allow {
			r.logger.Warn("interaction creation throttled",
				slog.String("conversation_id", conversationID),
				slog.String("kind", string(req.Kind())),
				slog.String("reason", decision.Reason),
				slog.Duration("retry_after", decision.RetryAfter))
			return "", nil, domain.NewInteractionError(domain.CodeRateLimited, "", decision.Reason)
		}
	}

	ticket, err := r.creator.Create(ctx, conversationID, req, WithTTL(opts, ttlFromContext(ctx)))
	if err != nil {
		return "", nil, err
	}

	if r.policy != nil {
		if err := r.policy.RecordUsage(ctx, &ports.UsageRecord{
			ConversationID: conversationID,
			InteractionID:  ticket.ID(),
			Kind:           req.Kind(),
		}); err != nil {
			r.logger.Warn("failed to record usage", slog.String("error", err.Error()))
		}
	}

	resp, err = ticket.Wait()
	return ticket.ID(), resp, err
}

// Options converts a per-kind config policy into broker creation options.
func Options(p config.InteractionPolicy) broker.CreateOptions {
	return broker.CreateOptions{TTL: p.TTL, NoExpiry: p.NoExpiry}
}

type ttlKey struct{}

// ContextWithTTL overrides the configured TTL for interactions requested
// under ctx.
func ContextWithTTL(ctx context.Context, ttl time.Duration) context.Context {
	return context.WithValue(ctx, ttlKey{}, ttl)
}

func ttlFromContext(ctx context.Context) time.Duration {
	ttl, _ := ctx.Value(ttlKey{}).(time.Duration)
	return ttl
}

// WithTTL returns opts with an explicit TTL, used when a caller overrides
// the configured policy for one request. Zero leaves opts unchanged.
func WithTTL(opts broker.CreateOptions, ttl time.Duration) broker.CreateOptions {
	if ttl > 0 {
		opts.TTL = ttl
		opts.NoExpiry = false
	}
	return opts
}
