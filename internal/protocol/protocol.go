// Package protocol defines the viewer wire messages exchanged between the
// gateway and connected clients.
package protocol

import (
	"encoding/json"
	"time"

	"github.com/tjfontaine/interaction-gateway/internal/core/domain"
)

// Message types.
const (
	// Client → Server
	TypeSubscribe   = "subscribe"
	TypeUnsubscribe = "unsubscribe"
	TypeSyncRequest = "syncRequest"
	TypeResponse    = "response"
	TypeReject      = "reject"
	TypePing        = "ping"

	// Server → Client
	TypeRequest      = "request"
	TypeResolved     = "resolved"
	TypeSyncResponse = "syncResponse"
	TypeError        = "error"
	TypePong         = "pong"
)

// Error codes sent in ErrorMsg.
const (
	CodeBadMessage   = "bad_message"
	CodeUnknownType  = "unknown_type"
	CodeUnauthorized = string(domain.CodeUnauthorized)
	CodeNotFound     = string(domain.CodeNotFound)
)

// Envelope wraps every message with a type field for routing.
type Envelope struct {
	Type string `json:"type"`
}

// Subscribe declares interest in conversations. The server answers with a
// SyncResponse for exactly those conversations.
type Subscribe struct {
	Type            string   `json:"type"`
	ConversationIDs []string `json:"conversationIds"`
}

// Unsubscribe withdraws interest.
type Unsubscribe struct {
	Type            string   `json:"type"`
	ConversationIDs []string `json:"conversationIds"`
}

// SyncRequest asks for the current pending set without changing subscriptions.
type SyncRequest struct {
	Type            string   `json:"type"`
	ConversationIDs []string `json:"conversationIds"`
}

// Response submits a decision. ConversationID is the conversation the sender
// believes it is answering on.
type Response struct {
	Type           string          `json:"type"`
	InteractionID  string          `json:"interactionId"`
	ConversationID string          `json:"conversationId"`
	Payload        json.RawMessage `json:"payload"`
}

// Reject declines an interaction without a decision payload.
type Reject struct {
	Type           string `json:"type"`
	InteractionID  string `json:"interactionId"`
	ConversationID string `json:"conversationId"`
	Reason         string `json:"reason,omitempty"`
}

// Ping is a client keepalive.
type Ping struct {
	Type string `json:"type"`
}

// Request announces a new pending interaction.
type Request struct {
	Type string `json:"type"`
	InteractionView
}

// InteractionView is the client-facing shape of a pending interaction.
type InteractionView struct {
	ID             string         `json:"id"`
	Kind           domain.Kind    `json:"kind"`
	ConversationID string         `json:"conversationId"`
	Data           domain.Request `json:"data"`
	RequestedAt    time.Time      `json:"requestedAt"`
	ExpiresAt      *time.Time     `json:"expiresAt,omitempty"`
}

// Resolved tells subscribers an interaction left the pending state, for any
// reason. Clients remove it from view on receipt.
type Resolved struct {
	Type           string        `json:"type"`
	ID             string        `json:"id"`
	ConversationID string        `json:"conversationId"`
	Status         domain.Status `json:"status"`
}

// SyncResponse carries the full pending set for the requested conversations.
type SyncResponse struct {
	Type            string            `json:"type"`
	ConversationIDs []string          `json:"conversationIds"`
	Interactions    []InteractionView `json:"interactions"`
}

// ErrorMsg reports a failed client message.
type ErrorMsg struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
	// InteractionID echoes the interaction the failed message targeted, if any
	InteractionID string `json:"interactionId,omitempty"`
}

// Pong answers Ping.
type Pong struct {
	Type string `json:"type"`
}

// View converts a domain snapshot to its wire shape.
func View(in *domain.Interaction) InteractionView {
	v := InteractionView{
		ID:             in.ID,
		Kind:           in.Kind,
		ConversationID: in.ConversationID,
		Data:           in.Request,
		RequestedAt:    in.CreatedAt,
	}
	if in.HasExpiry() {
		exp := in.ExpiresAt
		v.ExpiresAt = &exp
	}
	return v
}

// NewRequest builds the announcement for a created interaction.
func NewRequest(in *domain.Interaction) *Request {
	return &Request{Type: TypeRequest, InteractionView: View(in)}
}

// NewResolved builds the removal notice for a settled interaction.
func NewResolved(in *domain.Interaction) *Resolved {
	return &Resolved{
		Type:           TypeResolved,
		ID:             in.ID,
		ConversationID: in.ConversationID,
		Status:         in.Status,
	}
}

// NewSyncResponse builds a snapshot reply. Interactions is never nil so it
// encodes as an empty array.
func NewSyncResponse(conversationIDs []string, pending []*domain.Interaction) *SyncResponse {
	views := make([]InteractionView, 0, len(pending))
	for _, in := range pending {
		views = append(views, View(in))
	}
	return &SyncResponse{
		Type:            TypeSyncResponse,
		ConversationIDs: conversationIDs,
		Interactions:    views,
	}
}

// NewError builds an error message.
func NewError(code, message, interactionID string) *ErrorMsg {
	return &ErrorMsg{Type: TypeError, Code: code, Message: message, InteractionID: interactionID}
}
