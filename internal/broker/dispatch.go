package broker

import (
	"context"
	"log/slog"
	"sync"

	"github.com/tjfontaine/interaction-gateway/internal/core/domain"
	"github.com/tjfontaine/interaction-gateway/internal/core/ports"
)

// dispatcher delivers lifecycle events to one publisher in the order they
// were enqueued. Enqueue never blocks, so it is safe to call while the broker
// holds its state lock.
type dispatcher struct {
	pub    ports.EventPublisher
	logger *slog.Logger

	// ctx is handed to Publish and cancelled when a drain deadline passes,
	// so a publisher retrying with backoff gives up.
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	queue   []*domain.LifecycleEvent
	closing bool

	wake chan struct{}
	done chan struct{}
}

func newDispatcher(pub ports.EventPublisher, logger *slog.Logger) *dispatcher {
	ctx, cancel := context.WithCancel(context.Background())
	d := &dispatcher{
		pub:    pub,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	go d.run()
	return d
}

func (d *dispatcher) enqueue(evt *domain.LifecycleEvent) {
	d.mu.Lock()
	if d.closing {
		d.mu.Unlock()
		return
	}
	d.queue = append(d.queue, evt)
	d.mu.Unlock()

	select {
	case d.wake <- struct{}{}:
	default:
	}
}

func (d *dispatcher) run() {
	defer close(d.done)
	defer d.cancel()
	for {
		<-d.wake

		d.mu.Lock()
		batch := d.queue
		d.queue = nil
		closing := d.closing
		d.mu.Unlock()

		for _, evt := range batch {
			if err := d.pub.Publish(d.ctx, evt); err != nil {
				d.logger.Error("failed to publish lifecycle event",
					slog.String("event", string(evt.Type)),
					slog.String("interaction_id", evt.InteractionID),
					slog.String("error", err.Error()))
			}
		}

		if closing {
			return
		}
	}
}

// close stops accepting events, drains what is queued, and waits for the
// worker to exit or ctx to end. When ctx ends first, the in-flight Publish
// sees its context cancelled.
func (d *dispatcher) close(ctx context.Context) error {
	d.mu.Lock()
	if d.closing {
		d.mu.Unlock()
		return nil
	}
	d.closing = true
	d.mu.Unlock()

	select {
	case d.wake <- struct{}{}:
	default:
	}

	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		d.cancel()
		return ctx.Err()
	}
}
