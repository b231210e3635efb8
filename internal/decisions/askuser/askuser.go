// Package askuser poses clarifying questions to the human.
package askuser

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tjfontaine/interaction-gateway/internal/broker"
	"github.com/tjfontaine/interaction-gateway/internal/core/domain"
	"github.com/tjfontaine/interaction-gateway/internal/decisions"
)

// Service asks questions and waits for answers.
type Service struct {
	requester *decisions.Requester
	opts      broker.CreateOptions
}

// NewService creates an ask-user service.
func NewService(requester *decisions.Requester, opts broker.CreateOptions) *Service {
	return &Service{requester: requester, opts: opts}
}

// Ask blocks until the questions are answered. Answers are keyed by question
// text.
func (s *Service) Ask(ctx context.Context, conversationID string, questions []domain.Question) (*domain.AskUserResponse, error) {
	if err := validate(questions); err != nil {
		return nil, err
	}

	id, raw, err := s.requester.Request(ctx, conversationID, domain.AskUserRequest{Questions: questions}, s.opts)
	if err != nil {
		return nil, err
	}

	var resp domain.AskUserResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("decode answers %s: %w", id, err)
	}
	return &resp, nil
}

func validate(questions []domain.Question) error {
	if len(questions) == 0 {
		return domain.NewInteractionError(domain.CodeInvalidRequest, "", "at least one question required")
	}
	seen := make(map[string]struct{}, len(questions))
	for i, q := range questions {
		text := strings.TrimSpace(q.Question)
		if text == "" {
			return domain.NewInteractionError(domain.CodeInvalidRequest, "", fmt.Sprintf("question %d is empty", i))
		}
		if _, dup := seen[text]; dup {
			return domain.NewInteractionError(domain.CodeInvalidRequest, "", fmt.Sprintf("duplicate question %q", text))
		}
		seen[text] = struct{}{}
		if q.MultiSelect && len(q.Options) == 0 {
			return domain.NewInteractionError(domain.CodeInvalidRequest, "", fmt.Sprintf("question %q is multi-select without options", text))
		}
	}
	return nil
}
