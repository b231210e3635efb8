package broker

import "sort"

// SessionRegistry indexes pending interaction ids by conversation.
//
// It is not safe for concurrent use on its own: the Broker mutates it only
// while holding its state lock, in the same step that changes an
// interaction's status, so the two indices never drift apart.
type SessionRegistry struct {
	conversations map[string]map[string]struct{}
}

// NewSessionRegistry creates an empty registry.
func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{conversations: make(map[string]map[string]struct{})}
}

// Add records interactionID as pending for conversationID.
func (r *SessionRegistry) Add(conversationID, interactionID string) {
	ids, ok := r.conversations[conversationID]
	if !ok {
		ids = make(map[string]struct{})
		r.conversations[conversationID] = ids
	}
	ids[interactionID] = struct{}{}
}

// Remove drops interactionID. The conversation entry is destroyed once empty.
func (r *SessionRegistry) Remove(conversationID, interactionID string) {
	ids, ok := r.conversations[conversationID]
	if !ok {
		return
	}
	delete(ids, interactionID)
	if len(ids) == 0 {
		delete(r.conversations, conversationID)
	}
}

// Count returns the number of pending interactions for conversationID.
func (r *SessionRegistry) Count(conversationID string) int {
	return len(r.conversations[conversationID])
}

// IDs returns the pending interaction ids for conversationID in sorted order.
func (r *SessionRegistry) IDs(conversationID string) []string {
	ids := r.conversations[conversationID]
	out := make([]string, 0, len(ids))
	for id := range ids {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Conversations returns the number of conversations with pending interactions.
func (r *SessionRegistry) Conversations() int {
	return len(r.conversations)
}

// Clear removes the conversation entry entirely.
func (r *SessionRegistry) Clear(conversationID string) {
	delete(r.conversations, conversationID)
}
