// Package permission asks a human whether the agent may run a tool call.
package permission

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/tjfontaine/interaction-gateway/internal/broker"
	"github.com/tjfontaine/interaction-gateway/internal/core/domain"
	"github.com/tjfontaine/interaction-gateway/internal/decisions"
	"github.com/tjfontaine/interaction-gateway/internal/metrics"
)

const (
	defaultCacheSize = 256
	defaultCacheTTL  = 10 * time.Minute
)

// Result is the outcome of a permission request. Any failure to obtain a
// decision yields Allowed=false with FailureCode set.
type Result struct {
	Allowed       bool                      `json:"allowed"`
	Decision      domain.PermissionDecision `json:"decision,omitempty"`
	Reason        string                    `json:"reason,omitempty"`
	Cached        bool                      `json:"cached"`
	InteractionID string                    `json:"interaction_id,omitempty"`
	FailureCode   domain.ErrorCode          `json:"failure_code,omitempty"`
}

// Config tunes the service.
type Config struct {
	Options   broker.CreateOptions
	CacheSize int
	CacheTTL  time.Duration
	Logger    *slog.Logger
}

// Service remembers always_allow / always_deny per conversation so repeats
// of the same call skip the human.
type Service struct {
	requester *decisions.Requester
	opts      broker.CreateOptions
	cache     *expirable.LRU[string, domain.PermissionDecision]
	logger    *slog.Logger
}

// NewService creates a permission service.
func NewService(requester *decisions.Requester, cfg Config) *Service {
	size := cfg.CacheSize
	if size <= 0 {
		size = defaultCacheSize
	}
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		requester: requester,
		opts:      cfg.Options,
		cache:     expirable.NewLRU[string, domain.PermissionDecision](size, nil, ttl),
		logger:    logger,
	}
}

// RequestPermission blocks until the human decides, a remembered decision
// applies, or the request fails. Only malformed input returns an error.
func (s *Service) RequestPermission(ctx context.Context, conversationID, tool string, args json.RawMessage, rationale string) (*Result, error) {
	if tool == "" {
		return nil, domain.NewInteractionError(domain.CodeInvalidRequest, "", "tool required")
	}
	if conversationID == "" {
		return nil, domain.NewInteractionError(domain.CodeInvalidRequest, "", "conversation id required")
	}

	fp, err := Fingerprint(tool, args)
	if err != nil {
		return nil, domain.NewInteractionError(domain.CodeInvalidRequest, "", err.Error())
	}
	key := cacheKey(conversationID, fp)

	if d, ok := s.cache.Get(key); ok {
		metrics.PermissionCacheHits.WithLabelValues(string(d)).Inc()
		s.logger.Debug("permission served from cache",
			slog.String("conversation_id", conversationID),
			slog.String("tool", tool),
			slog.String("decision", string(d)))
		return &Result{Allowed: d.Allows(), Decision: d, Cached: true}, nil
	}

	req := domain.PermissionRequest{
		Tool:        tool,
		Arguments:   args,
		Fingerprint: fp,
		Rationale:   rationale,
	}
	id, raw, err := s.requester.Request(ctx, conversationID, req, s.opts)
	if err != nil {
		return s.denied(conversationID, tool, id, err), nil
	}

	var resp domain.PermissionResponse
	if err := json.Unmarshal(raw, &resp); err != nil || !resp.Decision.Valid() {
		s.logger.Error("undecodable permission response",
			slog.String("interaction_id", id),
			slog.String("payload", string(raw)))
		return &Result{InteractionID: id, FailureCode: domain.CodeInvalidRequest, Reason: "invalid decision"}, nil
	}

	// always_deny is remembered as well as always_allow
	if resp.Decision.Sticky() {
		s.cache.Add(key, resp.Decision)
	}

	return &Result{
		Allowed:       resp.Decision.Allows(),
		Decision:      resp.Decision,
		Reason:        resp.Reason,
		InteractionID: id,
	}, nil
}

// denied converts a broker failure into the default-deny outcome.
func (s *Service) denied(conversationID, tool, id string, err error) *Result {
	code := domain.CodeOf(err)
	reason := err.Error()
	var ie *domain.InteractionError
	if errors.As(err, &ie) && ie.Message != "" {
		reason = ie.Message
	}
	if code == "" {
		code = domain.CodeCancelled
	}
	s.logger.Info("permission denied by default",
		slog.String("conversation_id", conversationID),
		slog.String("tool", tool),
		slog.String("failure", string(code)))
	return &Result{InteractionID: id, FailureCode: code, Reason: reason}
}

// Forget drops every remembered decision for conversationID.
func (s *Service) Forget(conversationID string) int {
	prefix := conversationID + "\x00"
	n := 0
	for _, k := range s.cache.Keys() {
		if strings.HasPrefix(k, prefix) && s.cache.Remove(k) {
			n++
		}
	}
	return n
}

// Fingerprint identifies a tool call independent of argument key order.
func Fingerprint(tool string, args json.RawMessage) (string, error) {
	canonical := []byte("null")
	if len(args) > 0 {
		var v any
		if err := json.Unmarshal(args, &v); err != nil {
			return "", fmt.Errorf("arguments are not valid JSON: %w", err)
		}
		var err error
		canonical, err = json.Marshal(v)
		if err != nil {
			return "", fmt.Errorf("canonicalize arguments: %w", err)
		}
	}

	h := sha256.New()
	h.Write([]byte(tool))
	h.Write([]byte{0})
	h.Write(canonical)
	return fmt.Sprintf("%x", h.Sum(nil))[:16], nil
}

func cacheKey(conversationID, fingerprint string) string {
	return conversationID + "\x00" + fingerprint
}
