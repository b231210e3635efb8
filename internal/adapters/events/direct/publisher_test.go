package direct

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/tjfontaine/interaction-gateway/internal/adapters/storage/sqlite"
	"github.com/tjfontaine/interaction-gateway/internal/core/domain"
	"github.com/tjfontaine/interaction-gateway/internal/core/ports"
)

func newStore(t *testing.T) *sqlite.Provider {
	t.Helper()
	store, err := sqlite.NewProvider(":memory:")
	if err != nil {
		t.Fatalf("NewProvider failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestNewPublisher_NilStorage(t *testing.T) {
	_, err := NewPublisher(nil)
	if err == nil {
		t.Fatal("Expected error for nil storage")
	}
	if err.Error() != "storage provider required" {
		t.Errorf("Unexpected error: %v", err)
	}
}

func TestPublish(t *testing.T) {
	store := newStore(t)
	publisher, err := NewPublisher(store)
	if err != nil {
		t.Fatalf("NewPublisher failed: %v", err)
	}
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	in := &domain.Interaction{
		ID:             "int-1",
		Kind:           domain.KindPermission,
		ConversationID: "conv-1",
		Request:        domain.PermissionRequest{Tool: "bash", Arguments: json.RawMessage(`{"cmd":"ls"}`)},
		Status:         domain.StatusPending,
		CreatedAt:      now,
	}
	if err := publisher.Publish(ctx, domain.NewLifecycleEvent(domain.LifecycleRequestCreated, in, now)); err != nil {
		t.Fatalf("Publish created failed: %v", err)
	}

	in.Status = domain.StatusResolved
	in.Response = json.RawMessage(`{"decision":"deny"}`)
	if err := publisher.Publish(ctx, domain.NewLifecycleEvent(domain.LifecycleRequestResolved, in, now.Add(time.Second))); err != nil {
		t.Fatalf("Publish resolved failed: %v", err)
	}

	got, err := store.ListDecisions(ctx, "conv-1", ports.ListOptions{})
	if err != nil {
		t.Fatalf("ListDecisions failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d records, want 2", len(got))
	}
	if got[0].Status != "resolved" || got[0].Event != "request-resolved" {
		t.Errorf("newest record = %s/%s", got[0].Event, got[0].Status)
	}
	if string(got[0].Response) != `{"decision":"deny"}` {
		t.Errorf("Response = %s", got[0].Response)
	}
	var req domain.PermissionRequest
	if err := json.Unmarshal(got[1].Request, &req); err != nil {
		t.Fatalf("stored request is not JSON: %v", err)
	}
	if req.Tool != "bash" {
		t.Errorf("Tool = %s, want bash", req.Tool)
	}
}

func TestPublish_MissingSnapshot(t *testing.T) {
	publisher, _ := NewPublisher(newStore(t))

	err := publisher.Publish(context.Background(), &domain.LifecycleEvent{Type: domain.LifecycleRequestCreated})
	if err == nil {
		t.Error("Expected error for event without interaction")
	}
}

func TestClose(t *testing.T) {
	publisher, _ := NewPublisher(newStore(t))
	if err := publisher.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
}
