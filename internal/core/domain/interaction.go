// Package domain holds the core types of the interaction gateway: decision
// requests awaiting a human, their lifecycle events, and the error taxonomy.
package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// Kind identifies the shape of an interaction's request payload.
// It never changes broker behavior.
type Kind string

const (
	KindPermission   Kind = "permission"
	KindPlanApproval Kind = "plan_approval"
	KindAskUser      Kind = "ask_user"
)

// Valid reports whether k is a known interaction kind.
func (k Kind) Valid() bool {
	switch k {
	case KindPermission, KindPlanApproval, KindAskUser:
		return true
	}
	return false
}

// Status is the lifecycle state of an interaction.
type Status string

const (
	StatusPending   Status = "pending"
	StatusResolved  Status = "resolved"
	StatusRejected  Status = "rejected"
	StatusExpired   Status = "expired"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether s is a final state. Once terminal, a status never changes.
func (s Status) Terminal() bool {
	return s != StatusPending && s != ""
}

// Interaction is one outstanding request for a human decision.
// Values handed out by the broker are snapshots; mutating them has no effect
// on broker state.
type Interaction struct {
	// ID uniquely identifies this interaction and is never reused
	ID string `json:"id"`

	// Kind tags the request payload variant
	Kind Kind `json:"kind"`

	// ConversationID is the conversation this interaction belongs to; immutable
	ConversationID string `json:"conversation_id"`

	// Request is the domain payload shown to the human
	Request Request `json:"request"`

	// Status is the current lifecycle state
	Status Status `json:"status"`

	// CreatedAt is when the interaction was created
	CreatedAt time.Time `json:"created_at"`

	// ExpiresAt is CreatedAt plus the TTL; zero when the interaction never expires
	ExpiresAt time.Time `json:"expires_at,omitempty"`

	// DecidedAt is set on the terminal transition
	DecidedAt time.Time `json:"decided_at,omitempty"`

	// Response is the decision payload, set only when Status is resolved
	Response json.RawMessage `json:"response,omitempty"`

	// Reason explains a rejected, expired, cancelled or closed outcome
	Reason string `json:"reason,omitempty"`
}

// HasExpiry reports whether the interaction will auto-expire.
func (i *Interaction) HasExpiry() bool {
	return !i.ExpiresAt.IsZero()
}

// Clone returns a deep enough copy for handing out of the broker.
func (i *Interaction) Clone() *Interaction {
	if i == nil {
		return nil
	}
	c := *i
	if i.Response != nil {
		c.Response = append(json.RawMessage(nil), i.Response...)
	}
	return &c
}

// Request is the closed set of request payloads. Each variant maps to exactly
// one Kind.
type Request interface {
	Kind() Kind
	isRequest()
}

// PermissionRequest asks whether the agent may run a tool call.
type PermissionRequest struct {
	Tool        string          `json:"tool"`
	Arguments   json.RawMessage `json:"arguments,omitempty"`
	Fingerprint string          `json:"fingerprint,omitempty"`
	// Rationale is optional text from the agent explaining the call
	Rationale string `json:"rationale,omitempty"`
}

func (PermissionRequest) Kind() Kind { return KindPermission }
func (PermissionRequest) isRequest() {}

// PlanApprovalRequest asks the human to approve a multi-step plan.
type PlanApprovalRequest struct {
	Plan  string   `json:"plan"`
	Steps []string `json:"steps,omitempty"`
}

func (PlanApprovalRequest) Kind() Kind { return KindPlanApproval }
func (PlanApprovalRequest) isRequest() {}

// AskUserRequest carries one or more clarifying questions.
type AskUserRequest struct {
	Questions []Question `json:"questions"`
}

func (AskUserRequest) Kind() Kind { return KindAskUser }
func (AskUserRequest) isRequest() {}

// Question is a single clarifying question, optionally multiple choice.
type Question struct {
	Question    string           `json:"question"`
	Header      string           `json:"header,omitempty"`
	Options     []QuestionOption `json:"options,omitempty"`
	MultiSelect bool             `json:"multi_select,omitempty"`
}

// QuestionOption is one selectable answer.
type QuestionOption struct {
	Label       string `json:"label"`
	Description string `json:"description,omitempty"`
}

// PermissionDecision is the human's answer to a PermissionRequest.
type PermissionDecision string

const (
	AllowOnce   PermissionDecision = "allow_once"
	AlwaysAllow PermissionDecision = "always_allow"
	Deny        PermissionDecision = "deny"
	AlwaysDeny  PermissionDecision = "always_deny"
)

// Allows reports whether the decision permits the tool call.
func (d PermissionDecision) Allows() bool {
	return d == AllowOnce || d == AlwaysAllow
}

// Sticky reports whether the decision should be remembered for repeats.
func (d PermissionDecision) Sticky() bool {
	return d == AlwaysAllow || d == AlwaysDeny
}

// Valid reports whether d is a known decision.
func (d PermissionDecision) Valid() bool {
	switch d {
	case AllowOnce, AlwaysAllow, Deny, AlwaysDeny:
		return true
	}
	return false
}

// PermissionResponse is the response payload for KindPermission.
type PermissionResponse struct {
	Decision PermissionDecision `json:"decision"`
	Reason   string             `json:"reason,omitempty"`
}

// PlanApprovalResponse is the response payload for KindPlanApproval.
type PlanApprovalResponse struct {
	Approved bool   `json:"approved"`
	Feedback string `json:"feedback,omitempty"`
}

// AskUserResponse is the response payload for KindAskUser, keyed by question text.
type AskUserResponse struct {
	Answers map[string][]string `json:"answers"`
}

// ValidateResponse checks that payload has the shape expected for kind.
func ValidateResponse(kind Kind, payload json.RawMessage) error {
	if len(payload) == 0 {
		return NewInteractionError(CodeInvalidRequest, "", "response payload required")
	}
	switch kind {
	case KindPermission:
		var resp PermissionResponse
		if err := json.Unmarshal(payload, &resp); err != nil {
			return NewInteractionError(CodeInvalidRequest, "", "malformed permission response")
		}
		if !resp.Decision.Valid() {
			return NewInteractionError(CodeInvalidRequest, "", fmt.Sprintf("unknown decision %q", resp.Decision))
		}
	case KindPlanApproval:
		var resp PlanApprovalResponse
		if err := json.Unmarshal(payload, &resp); err != nil {
			return NewInteractionError(CodeInvalidRequest, "", "malformed plan approval response")
		}
	case KindAskUser:
		var resp AskUserResponse
		if err := json.Unmarshal(payload, &resp); err != nil {
			return NewInteractionError(CodeInvalidRequest, "", "malformed ask user response")
		}
		if resp.Answers == nil {
			return NewInteractionError(CodeInvalidRequest, "", "answers required")
		}
	default:
		if !json.Valid(payload) {
			return NewInteractionError(CodeInvalidRequest, "", "response is not valid JSON")
		}
	}
	return nil
}
