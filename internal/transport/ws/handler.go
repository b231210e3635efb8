// Package ws is the WebSocket transport for viewer connections. It decodes
// client messages, hands them to the gateway, and writes gateway output back.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/tjfontaine/interaction-gateway/internal/core/ports"
	"github.com/tjfontaine/interaction-gateway/internal/gateway"
	"github.com/tjfontaine/interaction-gateway/internal/protocol"
)

const (
	defaultSendBuffer   = 64
	defaultWriteTimeout = 5 * time.Second
	readLimit           = 256 * 1024
)

// Options tune the handler.
type Options struct {
	// Auth validates the ?token= query parameter or bearer header. Nil disables auth.
	Auth ports.AuthProvider
	// SendBuffer bounds queued outbound messages per connection
	SendBuffer   int
	WriteTimeout time.Duration
	Logger       *slog.Logger
}

// Handler upgrades HTTP requests to viewer connections.
type Handler struct {
	gw           *gateway.Gateway
	auth         ports.AuthProvider
	sendBuffer   int
	writeTimeout time.Duration
	logger       *slog.Logger
}

// NewHandler creates a Handler bound to gw.
func NewHandler(gw *gateway.Gateway, opts Options) *Handler {
	h := &Handler{
		gw:           gw,
		auth:         opts.Auth,
		sendBuffer:   opts.SendBuffer,
		writeTimeout: opts.WriteTimeout,
		logger:       opts.Logger,
	}
	if h.sendBuffer <= 0 {
		h.sendBuffer = defaultSendBuffer
	}
	if h.writeTimeout <= 0 {
		h.writeTimeout = defaultWriteTimeout
	}
	if h.logger == nil {
		h.logger = slog.Default()
	}
	return h
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.auth != nil {
		if _, err := h.auth.Authenticate(r.Context(), requestToken(r)); err != nil {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
	}

	wsConn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.logger.Warn("websocket accept failed", slog.String("error", err.Error()))
		return
	}
	wsConn.SetReadLimit(readLimit)
	defer wsConn.CloseNow()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	c := newConn(uuid.NewString(), wsConn, h.sendBuffer, h.writeTimeout)
	h.gw.Register(c.id, c)
	defer func() {
		c.close()
		h.gw.Disconnect(c.id)
	}()

	h.logger.Info("viewer connected", slog.String("connection_id", c.id))

	go func() {
		if err := c.writeLoop(ctx); err != nil && !errors.Is(err, context.Canceled) {
			h.logger.Debug("writer stopped",
				slog.String("connection_id", c.id),
				slog.String("error", err.Error()))
		}
		cancel()
	}()

	for {
		_, data, err := wsConn.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway && ctx.Err() == nil {
				h.logger.Debug("read failed",
					slog.String("connection_id", c.id),
					slog.String("error", err.Error()))
			}
			break
		}
		h.dispatch(ctx, c, data)
	}

	h.logger.Info("viewer disconnected", slog.String("connection_id", c.id))
}

// dispatch routes one client message by its type.
func (h *Handler) dispatch(ctx context.Context, c *conn, data []byte) {
	var env protocol.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		h.gw.Send(c.id, protocol.NewError(protocol.CodeBadMessage, "invalid JSON", ""))
		return
	}

	switch env.Type {
	case protocol.TypeSubscribe:
		var msg protocol.Subscribe
		if !h.decode(c, data, &msg) {
			return
		}
		if err := h.gw.Subscribe(c.id, msg.ConversationIDs); err != nil {
			h.logger.Debug("subscribe failed", slog.String("connection_id", c.id), slog.String("error", err.Error()))
		}

	case protocol.TypeUnsubscribe:
		var msg protocol.Unsubscribe
		if !h.decode(c, data, &msg) {
			return
		}
		h.gw.Unsubscribe(c.id, msg.ConversationIDs)

	case protocol.TypeSyncRequest:
		var msg protocol.SyncRequest
		if !h.decode(c, data, &msg) {
			return
		}
		if err := h.gw.SyncRequest(c.id, msg.ConversationIDs); err != nil {
			h.logger.Debug("sync failed", slog.String("connection_id", c.id), slog.String("error", err.Error()))
		}

	case protocol.TypeResponse:
		var msg protocol.Response
		if !h.decode(c, data, &msg) {
			return
		}
		// Failures are already reported to the client by the gateway
		_ = h.gw.HandleResponse(ctx, c.id, &msg)

	case protocol.TypeReject:
		var msg protocol.Reject
		if !h.decode(c, data, &msg) {
			return
		}
		_ = h.gw.HandleReject(ctx, c.id, &msg)

	case protocol.TypePing:
		h.gw.Send(c.id, &protocol.Pong{Type: protocol.TypePong})

	default:
		h.gw.Send(c.id, protocol.NewError(protocol.CodeUnknownType, "unknown message type: "+env.Type, ""))
	}
}

func (h *Handler) decode(c *conn, data []byte, v any) bool {
	if err := json.Unmarshal(data, v); err != nil {
		h.gw.Send(c.id, protocol.NewError(protocol.CodeBadMessage, "malformed message", ""))
		return false
	}
	return true
}

func requestToken(r *http.Request) string {
	if tok := r.URL.Query().Get("token"); tok != "" {
		return tok
	}
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return ""
}
