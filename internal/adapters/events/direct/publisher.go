// Package direct provides an event publisher that writes the decision audit
// log straight to storage.
package direct

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/tjfontaine/interaction-gateway/internal/core/domain"
	"github.com/tjfontaine/interaction-gateway/internal/core/ports"
)

// Publisher implements ports.EventPublisher by writing directly to storage.
// This is the default audit sink for single-instance deployments.
type Publisher struct {
	store ports.AuditStore
}

// NewPublisher creates a new direct event publisher.
func NewPublisher(store ports.AuditStore) (*Publisher, error) {
	if store == nil {
		return nil, fmt.Errorf("storage provider required")
	}
	return &Publisher{store: store}, nil
}

// Publish writes a lifecycle event as one audit record.
func (p *Publisher) Publish(ctx context.Context, event *domain.LifecycleEvent) error {
	rec, err := Record(event)
	if err != nil {
		return err
	}
	return p.store.RecordEvent(ctx, rec)
}

// Close is a no-op; the store is owned by the caller.
func (p *Publisher) Close() error {
	return nil
}

// Record converts a lifecycle event into an audit record.
func Record(event *domain.LifecycleEvent) (*ports.DecisionRecord, error) {
	if event == nil || event.Interaction == nil {
		return nil, fmt.Errorf("event without interaction snapshot")
	}
	in := event.Interaction

	rec := &ports.DecisionRecord{
		InteractionID:  event.InteractionID,
		ConversationID: event.ConversationID,
		Kind:           string(in.Kind),
		Event:          string(event.Type),
		Status:         string(in.Status),
		Reason:         in.Reason,
		CreatedAt:      event.Timestamp,
	}

	if in.Request != nil {
		req, err := json.Marshal(in.Request)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		rec.Request = req
	}
	if len(in.Response) > 0 {
		rec.Response = append(json.RawMessage(nil), in.Response...)
	}
	return rec, nil
}
