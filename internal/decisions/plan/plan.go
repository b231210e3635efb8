// Package plan asks a human to approve a multi-step plan before execution.
package plan

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/tjfontaine/interaction-gateway/internal/broker"
	"github.com/tjfontaine/interaction-gateway/internal/core/domain"
	"github.com/tjfontaine/interaction-gateway/internal/decisions"
)

// Service submits plans for approval.
type Service struct {
	requester *decisions.Requester
	opts      broker.CreateOptions
	logger    *slog.Logger
}

// NewService creates a plan approval service.
func NewService(requester *decisions.Requester, opts broker.CreateOptions, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{requester: requester, opts: opts, logger: logger}
}

// RequestApproval blocks until the plan is approved or declined. Timeouts,
// rejections and teardown come back as *domain.InteractionError.
func (s *Service) RequestApproval(ctx context.Context, conversationID, plan string, steps []string) (*domain.PlanApprovalResponse, error) {
	if strings.TrimSpace(plan) == "" && len(steps) == 0 {
		return nil, domain.NewInteractionError(domain.CodeInvalidRequest, "", "plan required")
	}

	id, raw, err := s.requester.Request(ctx, conversationID, domain.PlanApprovalRequest{Plan: plan, Steps: steps}, s.opts)
	if err != nil {
		return nil, err
	}

	var resp domain.PlanApprovalResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("decode plan approval %s: %w", id, err)
	}

	s.logger.Info("plan decided",
		slog.String("interaction_id", id),
		slog.String("conversation_id", conversationID),
		slog.Bool("approved", resp.Approved))
	return &resp, nil
}
