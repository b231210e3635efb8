package gateway

import (
	"sort"
	"sync"
)

// SubscriptionRegistry tracks which connections want updates for which
// conversations. It keeps both directions indexed so fan-out is a single
// lookup.
type SubscriptionRegistry struct {
	mu     sync.RWMutex
	byConn map[string]map[string]struct{}
	byConv map[string]map[string]struct{}
}

// NewSubscriptionRegistry creates an empty registry.
func NewSubscriptionRegistry() *SubscriptionRegistry {
	return &SubscriptionRegistry{
		byConn: make(map[string]map[string]struct{}),
		byConv: make(map[string]map[string]struct{}),
	}
}

// Subscribe adds conversationIDs to the connection's interest set.
func (r *SubscriptionRegistry) Subscribe(connectionID string, conversationIDs ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, conv := range conversationIDs {
		if conv == "" {
			continue
		}
		addTo(r.byConn, connectionID, conv)
		addTo(r.byConv, conv, connectionID)
	}
}

// Unsubscribe removes conversationIDs from the connection's interest set.
func (r *SubscriptionRegistry) Unsubscribe(connectionID string, conversationIDs ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, conv := range conversationIDs {
		removeFrom(r.byConn, connectionID, conv)
		removeFrom(r.byConv, conv, connectionID)
	}
}

// RemoveConnection drops every subscription held by connectionID and returns
// the conversations it was subscribed to.
func (r *SubscriptionRegistry) RemoveConnection(connectionID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	convs := keys(r.byConn[connectionID])
	for _, conv := range convs {
		removeFrom(r.byConv, conv, connectionID)
	}
	delete(r.byConn, connectionID)
	return convs
}

// Subscribers returns the connections subscribed to conversationID.
func (r *SubscriptionRegistry) Subscribers(conversationID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return keys(r.byConv[conversationID])
}

// Conversations returns the conversations connectionID is subscribed to.
func (r *SubscriptionRegistry) Conversations(connectionID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return keys(r.byConn[connectionID])
}

// IsSubscribed reports whether connectionID follows conversationID.
func (r *SubscriptionRegistry) IsSubscribed(connectionID, conversationID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byConn[connectionID][conversationID]
	return ok
}

// Counts returns the number of connections with at least one subscription
// and the number of conversations with at least one subscriber.
func (r *SubscriptionRegistry) Counts() (connections, conversations int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byConn), len(r.byConv)
}

func addTo(m map[string]map[string]struct{}, key, val string) {
	set, ok := m[key]
	if !ok {
		set = make(map[string]struct{})
		m[key] = set
	}
	set[val] = struct{}{}
}

func removeFrom(m map[string]map[string]struct{}, key, val string) {
	set, ok := m[key]
	if !ok {
		return
	}
	delete(set, val)
	if len(set) == 0 {
		delete(m, key)
	}
}

func keys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
