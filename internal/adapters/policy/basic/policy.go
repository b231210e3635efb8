// Package basic provides the quality policy used when rate limiting is off.
package basic

import (
	"context"

	"github.com/tjfontaine/interaction-gateway/internal/core/ports"
)

// Policy admits every well-formed interaction and keeps no usage state.
type Policy struct{}

// NewPolicy creates a basic policy.
func NewPolicy() *Policy {
	return &Policy{}
}

// CheckRequest refuses only requests without a conversation or with an
// unknown kind.
func (p *Policy) CheckRequest(ctx context.Context, req *ports.PolicyRequest) (*ports.PolicyDecision, error) {
	switch {
	case req == nil || req.ConversationID == "":
		return &ports.PolicyDecision{Reason: "conversation id required"}, nil
	case !req.Kind.Valid():
		return &ports.PolicyDecision{Reason: "unknown interaction kind " + string(req.Kind)}, nil
	}
	return &ports.PolicyDecision{Allow: true}, nil
}

// RecordUsage is a no-op.
func (p *Policy) RecordUsage(ctx context.Context, usage *ports.UsageRecord) error {
	return nil
}
