package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/coder/websocket"
)

var (
	// ErrSendBufferFull means the viewer is not reading fast enough.
	ErrSendBufferFull = errors.New("send buffer full")

	// ErrConnClosed means the connection is gone.
	ErrConnClosed = errors.New("connection closed")
)

// conn is one viewer connection. Outbound messages go through a bounded
// buffer drained by a single writer goroutine, so Send never blocks.
type conn struct {
	id           string
	ws           *websocket.Conn
	writeTimeout time.Duration

	send chan []byte

	closeOnce sync.Once
	done      chan struct{}
}

func newConn(id string, c *websocket.Conn, buffer int, writeTimeout time.Duration) *conn {
	return &conn{
		id:           id,
		ws:           c,
		writeTimeout: writeTimeout,
		send:         make(chan []byte, buffer),
		done:         make(chan struct{}),
	}
}

// Send implements gateway.Sender.
func (c *conn) Send(msg any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	select {
	case <-c.done:
		return ErrConnClosed
	default:
	}

	select {
	case c.send <- data:
		return nil
	case <-c.done:
		return ErrConnClosed
	default:
		return ErrSendBufferFull
	}
}

// writeLoop drains the send buffer until ctx ends or a write fails.
func (c *conn) writeLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.done:
			return nil
		case data := <-c.send:
			writeCtx, cancel := context.WithTimeout(ctx, c.writeTimeout)
			err := c.ws.Write(writeCtx, websocket.MessageText, data)
			cancel()
			if err != nil {
				return fmt.Errorf("write: %w", err)
			}
		}
	}
}

func (c *conn) close() {
	c.closeOnce.Do(func() { close(c.done) })
}
