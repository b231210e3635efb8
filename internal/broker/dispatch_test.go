package broker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/tjfontaine/interaction-gateway/internal/core/domain"
)

// stallingPublisher blocks in Publish until its context is cancelled.
type stallingPublisher struct {
	started chan struct{}
	stopped chan error
}

func (p *stallingPublisher) Publish(ctx context.Context, _ *domain.LifecycleEvent) error {
	close(p.started)
	<-ctx.Done()
	p.stopped <- ctx.Err()
	return ctx.Err()
}

func (p *stallingPublisher) Close() error { return nil }

func TestDispatcherCloseCancelsStalledPublish(t *testing.T) {
	pub := &stallingPublisher{started: make(chan struct{}), stopped: make(chan error, 1)}
	d := newDispatcher(pub, slog.New(slog.NewTextHandler(io.Discard, nil)))

	d.enqueue(&domain.LifecycleEvent{Type: domain.LifecycleRequestCreated, InteractionID: "int-1"})
	select {
	case <-pub.started:
	case <-time.After(2 * time.Second):
		t.Fatal("publisher never started")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := d.close(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("close error = %v, want deadline exceeded", err)
	}

	select {
	case err := <-pub.stopped:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("publish context error = %v, want canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("publish context was not cancelled")
	}
}
