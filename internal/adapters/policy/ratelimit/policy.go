// Package ratelimit limits how fast a single conversation can open
// interactions, so a runaway agent cannot fill its cap in one burst.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"

	"github.com/tjfontaine/interaction-gateway/internal/core/ports"
)

// maxBuckets bounds how many idle conversations keep a bucket. An evicted
// conversation starts again with a full bucket.
const maxBuckets = 10000

// Policy implements ports.QualityPolicy with a token bucket per conversation.
type Policy struct {
	mu       sync.Mutex
	limiters *lru.Cache[string, *rate.Limiter]
	limit    rate.Limit
	burst    int
	now      func() time.Time
}

// NewPolicy creates a policy allowing perSecond creations per conversation
// with the given burst.
func NewPolicy(perSecond float64, burst int) *Policy {
	if burst < 1 {
		burst = 1
	}
	limiters, _ := lru.New[string, *rate.Limiter](maxBuckets)
	return &Policy{
		limiters: limiters,
		limit:    rate.Limit(perSecond),
		burst:    burst,
		now:      time.Now,
	}
}

// Update changes the limits. Existing buckets start over with the new values.
func (p *Policy) Update(perSecond float64, burst int) {
	if burst < 1 {
		burst = 1
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.limit = rate.Limit(perSecond)
	p.burst = burst
	p.limiters.Purge()
}

// CheckRequest consumes one token from the conversation's bucket.
func (p *Policy) CheckRequest(ctx context.Context, req *ports.PolicyRequest) (*ports.PolicyDecision, error) {
	if req == nil || req.ConversationID == "" {
		return &ports.PolicyDecision{Allow: true}, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	l, ok := p.limiters.Get(req.ConversationID)
	if !ok {
		l = rate.NewLimiter(p.limit, p.burst)
		p.limiters.Add(req.ConversationID, l)
	}

	now := p.now()
	r := l.ReserveN(now, 1)
	if !r.OK() {
		return &ports.PolicyDecision{Allow: false, Reason: "rate limit exceeded"}, nil
	}
	if delay := r.DelayFrom(now); delay > 0 {
		r.CancelAt(now)
		return &ports.PolicyDecision{
			Allow:      false,
			Reason:     fmt.Sprintf("conversation %s is creating interactions too fast", req.ConversationID),
			RetryAfter: delay,
		}, nil
	}
	return &ports.PolicyDecision{Allow: true}, nil
}

// RecordUsage does nothing; tokens are taken in CheckRequest.
func (p *Policy) RecordUsage(ctx context.Context, usage *ports.UsageRecord) error {
	return nil
}

// Forget drops the bucket for conversationID.
func (p *Policy) Forget(conversationID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.limiters.Remove(conversationID)
}
