package ports

import (
	"context"
	"encoding/json"
	"time"
)

// AuditStore records interaction lifecycle transitions for later inspection.
// It is an audit trail only; the broker never reads from it.
// Implementations: SQLite (default).
type AuditStore interface {
	// RecordEvent appends one lifecycle record
	RecordEvent(ctx context.Context, rec *DecisionRecord) error

	// ListDecisions returns records for a conversation, newest first
	ListDecisions(ctx context.Context, conversationID string, opts ListOptions) ([]*DecisionRecord, error)

	// Close closes the storage connection
	Close() error
}

// DecisionRecord is one audited lifecycle transition.
type DecisionRecord struct {
	ID             int64           `json:"id" db:"id"`
	InteractionID  string          `json:"interaction_id" db:"interaction_id"`
	ConversationID string          `json:"conversation_id" db:"conversation_id"`
	Kind           string          `json:"kind" db:"kind"`
	Event          string          `json:"event" db:"event"`
	Status         string          `json:"status" db:"status"`
	Request        json.RawMessage `json:"request,omitempty" db:"request"`
	Response       json.RawMessage `json:"response,omitempty" db:"response"`
	Reason         string          `json:"reason,omitempty" db:"reason"`
	CreatedAt      time.Time       `json:"created_at" db:"created_at"`
}

// ListOptions contains pagination options
type ListOptions struct {
	Limit  int
	Offset int
}
