// Package broker owns the lifecycle of interactions: decision requests that
// suspend an agent until a human answers.
//
// Every state transition runs its status check and status write inside one
// critical section, so of resolve, reject, expire and cancel at most one ever
// succeeds for a given interaction. Lifecycle events are queued inside that
// same section and delivered to publishers asynchronously, preserving order.
package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tjfontaine/interaction-gateway/internal/core/domain"
	"github.com/tjfontaine/interaction-gateway/internal/core/ports"
	"github.com/tjfontaine/interaction-gateway/internal/metrics"
)

const (
	// DefaultMaxPending is the per-conversation cap on pending interactions.
	DefaultMaxPending = 100

	// DefaultTTL is applied when a caller neither sets a TTL nor asks for no expiry.
	DefaultTTL = 5 * time.Minute
)

// CreateOptions tune a single Create call.
type CreateOptions struct {
	// TTL overrides the broker default. Zero means use the default.
	TTL time.Duration

	// NoExpiry keeps the interaction open until answered, cancelled or torn down.
	NoExpiry bool
}

// Stats is a point-in-time summary of broker state.
type Stats struct {
	Pending       int `json:"pending"`
	Conversations int `json:"conversations"`
	Publishers    int `json:"publishers"`
}

type entry struct {
	in         *domain.Interaction
	ticket     *Ticket
	timer      ports.Timer
	stopCancel func() bool
}

// Broker is the only component allowed to change interaction status.
type Broker struct {
	clock      ports.Clock
	logger     *slog.Logger
	tracer     trace.Tracer
	maxPending int
	defaultTTL time.Duration
	newID      func() string

	mu          sync.Mutex
	live        map[string]*entry
	sessions    *SessionRegistry
	dispatchers []*dispatcher
	closed      bool
}

// Option configures a Broker.
type Option func(*Broker)

// WithClock replaces the wall clock, mainly for tests.
func WithClock(c ports.Clock) Option {
	return func(b *Broker) { b.clock = c }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Broker) { b.logger = logger }
}

// WithMaxPending sets the per-conversation cap.
func WithMaxPending(n int) Option {
	return func(b *Broker) {
		if n > 0 {
			b.maxPending = n
		}
	}
}

// WithDefaultTTL sets the TTL used when CreateOptions leaves it unset.
func WithDefaultTTL(d time.Duration) Option {
	return func(b *Broker) {
		if d > 0 {
			b.defaultTTL = d
		}
	}
}

// WithPublisher registers a lifecycle event publisher at construction.
func WithPublisher(pub ports.EventPublisher) Option {
	return func(b *Broker) {
		b.dispatchers = append(b.dispatchers, newDispatcher(pub, b.logger))
	}
}

// WithIDGenerator replaces the uuid-based id generator.
func WithIDGenerator(f func() string) Option {
	return func(b *Broker) { b.newID = f }
}

// New creates a Broker. WithLogger should precede WithPublisher so
// dispatchers log through the same logger.
func New(opts ...Option) *Broker {
	b := &Broker{
		clock:      wallClock{},
		logger:     slog.Default(),
		tracer:     otel.Tracer("github.com/tjfontaine/interaction-gateway/internal/broker"),
		maxPending: DefaultMaxPending,
		defaultTTL: DefaultTTL,
		newID:      uuid.NewString,
		live:       make(map[string]*entry),
		sessions:   NewSessionRegistry(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// AddPublisher registers a publisher for all subsequent lifecycle events.
func (b *Broker) AddPublisher(pub ports.EventPublisher) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.dispatchers = append(b.dispatchers, newDispatcher(pub, b.logger))
}

// Create opens a new pending interaction and returns the caller's ticket.
//
// ctx is the cancellation token: when it is done the interaction is cancelled
// through the same path as every other terminal transition. A full
// conversation fails synchronously with CapacityExceeded.
func (b *Broker) Create(ctx context.Context, conversationID string, req domain.Request, opts CreateOptions) (*Ticket, error) {
	if conversationID == "" {
		return nil, domain.NewInteractionError(domain.CodeInvalidRequest, "", "conversation id required")
	}
	if req == nil {
		return nil, domain.NewInteractionError(domain.CodeInvalidRequest, "", "request payload required")
	}
	if err := ctx.Err(); err != nil {
		return nil, domain.NewInteractionError(domain.CodeCancelled, "", err.Error())
	}

	kind := req.Kind()
	_, span := b.tracer.Start(ctx, "broker.create",
		trace.WithAttributes(
			attribute.String("interaction.kind", string(kind)),
			attribute.String("conversation.id", conversationID),
		))
	defer span.End()

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		err := domain.NewInteractionError(domain.CodeConversationClosed, "", "broker is shut down")
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	if n := b.sessions.Count(conversationID); n >= b.maxPending {
		metrics.CapacityRejections.Inc()
		b.logger.Warn("interaction capacity exceeded",
			slog.String("conversation_id", conversationID),
			slog.Int("pending", n),
			slog.Int("max_pending", b.maxPending))
		err := domain.NewInteractionError(domain.CodeCapacityExceeded, "",
			fmt.Sprintf("conversation %s has %d pending interactions", conversationID, n))
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	now := b.clock.Now()
	ttl := b.ttlFor(opts)

	in := &domain.Interaction{
		ID:             b.newID(),
		Kind:           kind,
		ConversationID: conversationID,
		Request:        req,
		Status:         domain.StatusPending,
		CreatedAt:      now,
	}
	if ttl > 0 {
		in.ExpiresAt = now.Add(ttl)
	}

	e := &entry{in: in, ticket: newTicket(in.ID, conversationID)}
	b.live[in.ID] = e
	b.sessions.Add(conversationID, in.ID)

	if ttl > 0 {
		id := in.ID
		e.timer = b.clock.AfterFunc(ttl, func() { b.expire(id) })
	}
	if ctx.Done() != nil {
		id := in.ID
		e.stopCancel = context.AfterFunc(ctx, func() { _ = b.Cancel(id) })
	}

	b.emit(domain.LifecycleRequestCreated, in, now)
	metrics.RecordCreated(string(kind))

	span.SetAttributes(attribute.String("interaction.id", in.ID))
	b.logger.Debug("interaction created",
		slog.String("interaction_id", in.ID),
		slog.String("conversation_id", conversationID),
		slog.String("kind", string(kind)),
		slog.Duration("ttl", ttl))

	return e.ticket, nil
}

func (b *Broker) ttlFor(opts CreateOptions) time.Duration {
	switch {
	case opts.NoExpiry:
		return 0
	case opts.TTL > 0:
		return opts.TTL
	default:
		return b.defaultTTL
	}
}

// Resolve settles a pending interaction with resp. respondingConversationID
// must match the interaction's own conversation.
func (b *Broker) Resolve(ctx context.Context, id string, resp json.RawMessage, respondingConversationID string) error {
	_, span := b.tracer.Start(ctx, "broker.resolve",
		trace.WithAttributes(attribute.String("interaction.id", id)))
	defer span.End()

	b.mu.Lock()
	defer b.mu.Unlock()

	e, err := b.authorize(id, respondingConversationID, "resolve")
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	if err := domain.ValidateResponse(e.in.Kind, resp); err != nil {
		ie := err.(*domain.InteractionError)
		ie.InteractionID = id
		span.SetStatus(codes.Error, ie.Error())
		return ie
	}

	b.settle(e, domain.StatusResolved, resp, "", nil)
	return nil
}

// Reject settles a pending interaction with a Rejected failure carrying reason.
func (b *Broker) Reject(ctx context.Context, id, reason, respondingConversationID string) error {
	_, span := b.tracer.Start(ctx, "broker.reject",
		trace.WithAttributes(attribute.String("interaction.id", id)))
	defer span.End()

	b.mu.Lock()
	defer b.mu.Unlock()

	e, err := b.authorize(id, respondingConversationID, "reject")
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	b.settle(e, domain.StatusRejected, nil, reason,
		domain.NewInteractionError(domain.CodeRejected, id, reason))
	return nil
}

// Cancel settles a pending interaction because its caller gave up.
func (b *Broker) Cancel(id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.live[id]
	if !ok {
		return domain.NewInteractionError(domain.CodeNotFound, id, "")
	}
	b.settle(e, domain.StatusCancelled, nil, "caller cancelled",
		domain.NewInteractionError(domain.CodeCancelled, id, "caller cancelled"))
	return nil
}

// expire runs from the armed timer. Losing the race to a decision is a no-op.
func (b *Broker) expire(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.live[id]
	if !ok {
		return
	}
	b.logger.Info("interaction expired",
		slog.String("interaction_id", id),
		slog.String("conversation_id", e.in.ConversationID))
	b.settle(e, domain.StatusExpired, nil, "expired",
		domain.NewInteractionError(domain.CodeTimedOut, id, "no decision before expiry"))
}

// TeardownConversation fails every pending interaction of conversationID with
// ConversationClosed and returns how many were closed.
func (b *Broker) TeardownConversation(ctx context.Context, conversationID string) int {
	_, span := b.tracer.Start(ctx, "broker.teardown",
		trace.WithAttributes(attribute.String("conversation.id", conversationID)))
	defer span.End()

	b.mu.Lock()
	defer b.mu.Unlock()

	entries := b.entriesFor(conversationID)
	for _, e := range entries {
		b.settle(e, domain.StatusRejected, nil, "conversation closed",
			domain.NewInteractionError(domain.CodeConversationClosed, e.in.ID, "conversation closed"))
	}
	b.sessions.Clear(conversationID)

	span.SetAttributes(attribute.Int("interactions.closed", len(entries)))
	if len(entries) > 0 {
		b.logger.Info("conversation torn down",
			slog.String("conversation_id", conversationID),
			slog.Int("closed", len(entries)))
	}
	return len(entries)
}

// Pending returns snapshots of every pending interaction for the given
// conversations, oldest first. It has no side effects.
func (b *Broker) Pending(conversationIDs ...string) []*domain.Interaction {
	b.mu.Lock()
	defer b.mu.Unlock()

	seen := make(map[string]bool, len(conversationIDs))
	var out []*domain.Interaction
	for _, conv := range conversationIDs {
		if seen[conv] {
			continue
		}
		seen[conv] = true
		for _, e := range b.entriesFor(conv) {
			out = append(out, e.in.Clone())
		}
	}
	sortInteractions(out)
	return out
}

// Get returns a snapshot of one pending interaction.
func (b *Broker) Get(id string) (*domain.Interaction, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.live[id]
	if !ok {
		return nil, domain.NewInteractionError(domain.CodeNotFound, id, "")
	}
	return e.in.Clone(), nil
}

// PendingCount returns the number of pending interactions for conversationID.
func (b *Broker) PendingCount(conversationID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sessions.Count(conversationID)
}

// Stats summarizes broker state.
func (b *Broker) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Stats{
		Pending:       len(b.live),
		Conversations: b.sessions.Conversations(),
		Publishers:    len(b.dispatchers),
	}
}

// Close cancels every pending interaction so blocked callers return, then
// drains queued events to publishers. Publishers themselves are not closed.
func (b *Broker) Close(ctx context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	for _, e := range b.live {
		b.settle(e, domain.StatusCancelled, nil, "shutting down",
			domain.NewInteractionError(domain.CodeCancelled, e.in.ID, "broker shutting down"))
	}
	dispatchers := b.dispatchers
	b.mu.Unlock()

	var firstErr error
	for _, d := range dispatchers {
		if err := d.close(ctx); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("drain publisher: %w", err)
		}
	}
	return firstErr
}

// authorize looks up a live entry and checks conversation ownership.
// Caller must hold b.mu.
func (b *Broker) authorize(id, respondingConversationID, op string) (*entry, error) {
	e, ok := b.live[id]
	if !ok {
		b.logger.Debug("decision for unknown interaction",
			slog.String("op", op),
			slog.String("interaction_id", id))
		return nil, domain.NewInteractionError(domain.CodeNotFound, id, "")
	}
	if e.in.ConversationID != respondingConversationID {
		metrics.UnauthorizedAttempts.Inc()
		b.logger.Warn("unauthorized decision attempt",
			slog.String("op", op),
			slog.String("interaction_id", id),
			slog.String("conversation_id", e.in.ConversationID),
			slog.String("responding_conversation_id", respondingConversationID))
		return nil, domain.NewInteractionError(domain.CodeUnauthorized, id, "")
	}
	return e, nil
}

// settle performs the terminal transition. Caller must hold b.mu and must
// have verified e is still live.
func (b *Broker) settle(e *entry, status domain.Status, resp json.RawMessage, reason string, failure error) {
	now := b.clock.Now()

	e.in.Status = status
	e.in.DecidedAt = now
	e.in.Reason = reason
	if status == domain.StatusResolved {
		e.in.Response = append(json.RawMessage(nil), resp...)
	}

	delete(b.live, e.in.ID)
	b.sessions.Remove(e.in.ConversationID, e.in.ID)

	if e.timer != nil {
		e.timer.Stop()
	}
	if e.stopCancel != nil {
		e.stopCancel()
	}

	b.emit(domain.LifecycleRequestResolved, e.in, now)
	metrics.RecordSettled(string(e.in.Kind), string(status), now.Sub(e.in.CreatedAt))

	e.ticket.settle(e.in.Response, failure)
}

// emit queues an event for every publisher. Caller must hold b.mu.
func (b *Broker) emit(t domain.LifecycleEventType, in *domain.Interaction, at time.Time) {
	if len(b.dispatchers) == 0 {
		return
	}
	evt := domain.NewLifecycleEvent(t, in, at)
	for _, d := range b.dispatchers {
		d.enqueue(evt)
	}
}

// entriesFor returns live entries of a conversation, oldest first.
// Caller must hold b.mu.
func (b *Broker) entriesFor(conversationID string) []*entry {
	ids := b.sessions.IDs(conversationID)
	out := make([]*entry, 0, len(ids))
	for _, id := range ids {
		if e, ok := b.live[id]; ok {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].in.CreatedAt.Before(out[j].in.CreatedAt)
	})
	return out
}

func sortInteractions(in []*domain.Interaction) {
	sort.SliceStable(in, func(i, j int) bool {
		if in[i].CreatedAt.Equal(in[j].CreatedAt) {
			return in[i].ID < in[j].ID
		}
		return in[i].CreatedAt.Before(in[j].CreatedAt)
	})
}
