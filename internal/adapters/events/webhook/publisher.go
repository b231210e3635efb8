// Package webhook notifies an external endpoint when a new interaction needs
// a human, e.g. to push a phone notification or post to a chat channel.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/tjfontaine/interaction-gateway/internal/core/domain"
)

const (
	defaultTimeout = 5 * time.Second
	defaultBackoff = 200 * time.Millisecond
	maxBackoff     = 5 * time.Second
)

// Config configures a webhook publisher.
type Config struct {
	URL     string
	Timeout time.Duration
	Retries int
	// Backoff is the delay before the first retry; it doubles per attempt
	// up to 5s. A Retry-After from the receiver takes precedence.
	Backoff time.Duration
	Headers map[string]string
	// Client overrides the HTTP client; Timeout is ignored when set.
	Client *http.Client
	Logger *slog.Logger
}

// Notification is the JSON body posted for each new interaction.
type Notification struct {
	Event          string         `json:"event"`
	InteractionID  string         `json:"interaction_id"`
	ConversationID string         `json:"conversation_id"`
	Kind           domain.Kind    `json:"kind"`
	Request        domain.Request `json:"request"`
	CreatedAt      time.Time      `json:"created_at"`
	ExpiresAt      *time.Time     `json:"expires_at,omitempty"`
}

// Publisher implements ports.EventPublisher for request-created events.
type Publisher struct {
	url     string
	retries int
	backoff time.Duration
	headers map[string]string
	client  *http.Client
	logger  *slog.Logger
}

// NewPublisher creates a new webhook publisher.
func NewPublisher(cfg Config) (*Publisher, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("webhook url required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: timeout, Transport: otelhttp.NewTransport(http.DefaultTransport)}
	}
	backoff := cfg.Backoff
	if backoff <= 0 {
		backoff = defaultBackoff
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		url:     cfg.URL,
		retries: cfg.Retries,
		backoff: backoff,
		headers: cfg.Headers,
		client:  client,
		logger:  logger,
	}, nil
}

// Publish posts a notification for request-created events and ignores the rest.
func (p *Publisher) Publish(ctx context.Context, event *domain.LifecycleEvent) error {
	if event == nil || event.Type != domain.LifecycleRequestCreated || event.Interaction == nil {
		return nil
	}

	in := event.Interaction
	n := Notification{
		Event:          string(event.Type),
		InteractionID:  in.ID,
		ConversationID: in.ConversationID,
		Kind:           in.Kind,
		Request:        in.Request,
		CreatedAt:      in.CreatedAt,
	}
	if in.HasExpiry() {
		exp := in.ExpiresAt
		n.ExpiresAt = &exp
	}

	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	var lastErr error
	delay := p.backoff
	attempts := p.retries + 1
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			t := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				t.Stop()
				return fmt.Errorf("webhook %s: %w", in.ID, errors.Join(lastErr, ctx.Err()))
			case <-t.C:
			}
			delay = min(delay*2, maxBackoff)
		}

		retry, retryAfter, err := p.doRequest(ctx, body)
		if err == nil {
			return nil
		}
		if retryAfter > 0 {
			delay = min(retryAfter, maxBackoff)
		}
		lastErr = err
		p.logger.Warn("webhook delivery failed",
			slog.String("interaction_id", in.ID),
			slog.Int("attempt", attempt+1),
			slog.String("error", err.Error()))

		// Don't retry client errors or cancellation
		if !retry || ctx.Err() != nil || attempt == attempts-1 {
			break
		}
	}
	return fmt.Errorf("webhook %s: %w", in.ID, lastErr)
}

// doRequest posts body once. retry reports whether a failure is transient;
// retryAfter is the receiver's requested delay, if any.
func (p *Publisher) doRequest(ctx context.Context, body []byte) (retry bool, retryAfter time.Duration, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return false, 0, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	for k, v := range p.headers {
		req.Header.Set(k, v)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return true, 0, fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		transient := resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests
		return transient, parseRetryAfter(resp.Header.Get("Retry-After")),
			fmt.Errorf("webhook returned status %d: %s", resp.StatusCode, string(respBody))
	}
	return false, 0, nil
}

// parseRetryAfter reads the delay-seconds form of Retry-After.
func parseRetryAfter(v string) time.Duration {
	secs, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

// Close releases idle connections.
func (p *Publisher) Close() error {
	p.client.CloseIdleConnections()
	return nil
}
