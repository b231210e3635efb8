// Package gateway fans broker lifecycle events out to viewer connections,
// scoped by conversation subscription, and routes viewer decisions back to
// the broker.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/tjfontaine/interaction-gateway/internal/core/domain"
	"github.com/tjfontaine/interaction-gateway/internal/metrics"
	"github.com/tjfontaine/interaction-gateway/internal/protocol"
)

// ErrUnknownConnection is returned for operations on an unregistered connection.
var ErrUnknownConnection = errors.New("unknown connection")

// Sender delivers one outbound message to a connection. Implementations must
// not block; a full or closed connection returns an error instead.
type Sender interface {
	Send(msg any) error
}

// Decider is the slice of the broker the gateway depends on.
type Decider interface {
	Pending(conversationIDs ...string) []*domain.Interaction
	Resolve(ctx context.Context, id string, resp json.RawMessage, respondingConversationID string) error
	Reject(ctx context.Context, id, reason, respondingConversationID string) error
}

// Stats summarizes gateway state.
type Stats struct {
	Connections           int `json:"connections"`
	SubscribedConnections int `json:"subscribed_connections"`
	Conversations         int `json:"conversations"`
}

// Gateway implements ports.EventPublisher.
//
// Broadcasts and sync snapshots are serialized under one lock, so a
// connection never receives a syncResponse that predates a resolved
// message it was already sent.
type Gateway struct {
	decider Decider
	logger  *slog.Logger
	subs    *SubscriptionRegistry

	mu    sync.Mutex
	conns map[string]Sender
}

// New creates a Gateway backed by decider.
func New(decider Decider, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		decider: decider,
		logger:  logger,
		subs:    NewSubscriptionRegistry(),
		conns:   make(map[string]Sender),
	}
}

// Subscriptions exposes the registry for inspection.
func (g *Gateway) Subscriptions() *SubscriptionRegistry {
	return g.subs
}

// Register makes a connection reachable. It starts with no subscriptions.
func (g *Gateway) Register(connectionID string, sender Sender) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, exists := g.conns[connectionID]; !exists {
		metrics.GatewayConnections.Inc()
	}
	g.conns[connectionID] = sender
}

// Disconnect removes a connection and all of its subscriptions. Pending
// interactions are untouched; another viewer may reconnect.
func (g *Gateway) Disconnect(connectionID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, exists := g.conns[connectionID]; !exists {
		return
	}
	delete(g.conns, connectionID)
	metrics.GatewayConnections.Dec()

	convs := g.subs.RemoveConnection(connectionID)
	g.logger.Debug("connection removed",
		slog.String("connection_id", connectionID),
		slog.Int("subscriptions", len(convs)))
}

// Subscribe records interest and immediately sends a syncResponse for the
// same conversations.
func (g *Gateway) Subscribe(connectionID string, conversationIDs []string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	sender, ok := g.conns[connectionID]
	if !ok {
		return ErrUnknownConnection
	}
	g.subs.Subscribe(connectionID, conversationIDs...)
	return g.syncLocked(connectionID, sender, conversationIDs)
}

// Unsubscribe withdraws interest.
func (g *Gateway) Unsubscribe(connectionID string, conversationIDs []string) {
	g.subs.Unsubscribe(connectionID, conversationIDs...)
}

// SyncRequest sends the current pending set for conversationIDs. It is
// read-only and may be repeated freely.
func (g *Gateway) SyncRequest(connectionID string, conversationIDs []string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	sender, ok := g.conns[connectionID]
	if !ok {
		return ErrUnknownConnection
	}
	return g.syncLocked(connectionID, sender, conversationIDs)
}

func (g *Gateway) syncLocked(connectionID string, sender Sender, conversationIDs []string) error {
	pending := g.decider.Pending(conversationIDs...)
	if err := sender.Send(protocol.NewSyncResponse(conversationIDs, pending)); err != nil {
		g.dropped(connectionID, protocol.TypeSyncResponse, err)
		return fmt.Errorf("send sync response: %w", err)
	}
	return nil
}

// HandleResponse applies a viewer's decision. The connection must be
// subscribed to the conversation it claims to answer on; the broker then
// checks that claim against the interaction's owner. Failures are reported
// to the sender as an error message and returned.
func (g *Gateway) HandleResponse(ctx context.Context, connectionID string, msg *protocol.Response) error {
	if err := g.checkSubscribed(connectionID, msg.InteractionID, msg.ConversationID); err != nil {
		g.reply(connectionID, msg.InteractionID, err)
		return err
	}
	if err := g.decider.Resolve(ctx, msg.InteractionID, msg.Payload, msg.ConversationID); err != nil {
		g.reply(connectionID, msg.InteractionID, err)
		return err
	}
	return nil
}

// HandleReject declines an interaction on behalf of a viewer.
func (g *Gateway) HandleReject(ctx context.Context, connectionID string, msg *protocol.Reject) error {
	if err := g.checkSubscribed(connectionID, msg.InteractionID, msg.ConversationID); err != nil {
		g.reply(connectionID, msg.InteractionID, err)
		return err
	}
	reason := msg.Reason
	if reason == "" {
		reason = "rejected by user"
	}
	if err := g.decider.Reject(ctx, msg.InteractionID, reason, msg.ConversationID); err != nil {
		g.reply(connectionID, msg.InteractionID, err)
		return err
	}
	return nil
}

func (g *Gateway) checkSubscribed(connectionID, interactionID, conversationID string) error {
	if g.subs.IsSubscribed(connectionID, conversationID) {
		return nil
	}
	g.logger.Warn("decision from connection not subscribed to conversation",
		slog.String("connection_id", connectionID),
		slog.String("interaction_id", interactionID),
		slog.String("responding_conversation_id", conversationID))
	metrics.UnauthorizedAttempts.Inc()
	return domain.NewInteractionError(domain.CodeUnauthorized, interactionID, "")
}

// reply sends a sanitized error. Unauthorized attempts learn nothing beyond
// the code.
func (g *Gateway) reply(connectionID, interactionID string, err error) {
	code := domain.CodeOf(err)
	var msg *protocol.ErrorMsg
	switch code {
	case domain.CodeUnauthorized:
		msg = protocol.NewError(protocol.CodeUnauthorized, "request rejected", "")
	case domain.CodeNotFound:
		msg = protocol.NewError(protocol.CodeNotFound, "interaction is no longer pending", interactionID)
	case "":
		msg = protocol.NewError("internal", "request failed", interactionID)
	default:
		var ie *domain.InteractionError
		errors.As(err, &ie)
		msg = protocol.NewError(string(code), ie.Message, interactionID)
	}
	g.Send(connectionID, msg)
}

// Send delivers one message to one connection. Failures are logged.
func (g *Gateway) Send(connectionID string, msg any) {
	g.mu.Lock()
	defer g.mu.Unlock()

	sender, ok := g.conns[connectionID]
	if !ok {
		return
	}
	if err := sender.Send(msg); err != nil {
		g.dropped(connectionID, messageType(msg), err)
	}
}

// Publish implements ports.EventPublisher. A request-created event reaches
// subscribers of its conversation only; request-resolved reaches every one of
// them, including the connection that submitted the decision.
func (g *Gateway) Publish(_ context.Context, evt *domain.LifecycleEvent) error {
	var msg any
	switch evt.Type {
	case domain.LifecycleRequestCreated:
		msg = protocol.NewRequest(evt.Interaction)
	case domain.LifecycleRequestResolved:
		msg = protocol.NewResolved(evt.Interaction)
	default:
		return nil
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	for _, connID := range g.subs.Subscribers(evt.ConversationID) {
		sender, ok := g.conns[connID]
		if !ok {
			continue
		}
		if err := sender.Send(msg); err != nil {
			g.dropped(connID, messageType(msg), err)
		}
	}
	return nil
}

// Close implements ports.EventPublisher.
func (g *Gateway) Close() error {
	return nil
}

// Stats summarizes gateway state.
func (g *Gateway) Stats() Stats {
	g.mu.Lock()
	conns := len(g.conns)
	g.mu.Unlock()

	subscribed, convs := g.subs.Counts()
	return Stats{
		Connections:           conns,
		SubscribedConnections: subscribed,
		Conversations:         convs,
	}
}

func (g *Gateway) dropped(connectionID, msgType string, err error) {
	metrics.MessagesDropped.Inc()
	g.logger.Warn("failed to deliver message",
		slog.String("connection_id", connectionID),
		slog.String("type", msgType),
		slog.String("error", err.Error()))
}

func messageType(msg any) string {
	switch m := msg.(type) {
	case *protocol.Request:
		return m.Type
	case *protocol.Resolved:
		return m.Type
	case *protocol.SyncResponse:
		return m.Type
	case *protocol.ErrorMsg:
		return m.Type
	case *protocol.Pong:
		return m.Type
	default:
		return fmt.Sprintf("%T", msg)
	}
}
