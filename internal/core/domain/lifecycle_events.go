package domain

import (
	"time"
)

// LifecycleEvent is emitted by the broker whenever an interaction is created
// or leaves the pending state. Publishers receive events in the order the
// broker applied the transitions.
type LifecycleEvent struct {
	Type           LifecycleEventType `json:"type"`
	InteractionID  string             `json:"interaction_id"`
	ConversationID string             `json:"conversation_id"`
	Timestamp      time.Time          `json:"timestamp"`
	// Interaction is a snapshot taken at the moment of the transition
	Interaction *Interaction `json:"interaction"`
}

// LifecycleEventType identifies the type of lifecycle event.
type LifecycleEventType string

const (
	// LifecycleRequestCreated fires when a new interaction becomes pending.
	LifecycleRequestCreated LifecycleEventType = "request-created"
	// LifecycleRequestResolved fires on every terminal transition: decision,
	// rejection, expiry, cancellation or teardown.
	LifecycleRequestResolved LifecycleEventType = "request-resolved"
)

// NewLifecycleEvent builds an event from an interaction snapshot.
func NewLifecycleEvent(t LifecycleEventType, in *Interaction, at time.Time) *LifecycleEvent {
	return &LifecycleEvent{
		Type:           t,
		InteractionID:  in.ID,
		ConversationID: in.ConversationID,
		Timestamp:      at,
		Interaction:    in.Clone(),
	}
}
