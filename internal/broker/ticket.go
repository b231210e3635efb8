package broker

import (
	"context"
	"encoding/json"
	"sync"
)

// Ticket is the caller's handle on a pending interaction. It settles exactly
// once, with either the response payload or an *domain.InteractionError.
type Ticket struct {
	id             string
	conversationID string

	once sync.Once
	done chan struct{}
	resp json.RawMessage
	err  error
}

func newTicket(id, conversationID string) *Ticket {
	return &Ticket{
		id:             id,
		conversationID: conversationID,
		done:           make(chan struct{}),
	}
}

// ID returns the interaction id.
func (t *Ticket) ID() string { return t.id }

// ConversationID returns the owning conversation.
func (t *Ticket) ConversationID() string { return t.conversationID }

// Done is closed when the ticket settles.
func (t *Ticket) Done() <-chan struct{} { return t.done }

// Wait blocks until the ticket settles. Cancellation flows through the
// context given to Broker.Create, so Wait always returns eventually unless
// the interaction was created without expiry and nobody answers.
func (t *Ticket) Wait() (json.RawMessage, error) {
	<-t.done
	return t.resp, t.err
}

// WaitContext is Wait bounded by ctx. Giving up here does not cancel the
// interaction.
func (t *Ticket) WaitContext(ctx context.Context) (json.RawMessage, error) {
	select {
	case <-t.done:
		return t.resp, t.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Result returns the outcome without blocking. ok is false while pending.
func (t *Ticket) Result() (resp json.RawMessage, ok bool, err error) {
	select {
	case <-t.done:
		return t.resp, true, t.err
	default:
		return nil, false, nil
	}
}

// settle records the outcome. Only the first call has any effect.
func (t *Ticket) settle(resp json.RawMessage, err error) bool {
	settled := false
	t.once.Do(func() {
		t.resp = resp
		t.err = err
		close(t.done)
		settled = true
	})
	return settled
}
