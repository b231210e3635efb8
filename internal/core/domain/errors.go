package domain

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode categorizes interaction failures. Codes double as wire error codes.
type ErrorCode string

const (
	// CodeNotFound is an operation on an unknown or already settled interaction.
	CodeNotFound ErrorCode = "not_found"

	// CodeUnauthorized is a decision submitted on behalf of the wrong conversation.
	CodeUnauthorized ErrorCode = "unauthorized"

	// CodeCapacityExceeded means the conversation already has the maximum pending interactions.
	CodeCapacityExceeded ErrorCode = "capacity_exceeded"

	// CodeTimedOut means the interaction expired before anyone answered.
	CodeTimedOut ErrorCode = "timed_out"

	// CodeCancelled means the requesting caller gave up.
	CodeCancelled ErrorCode = "cancelled"

	// CodeConversationClosed means the conversation was torn down while pending.
	CodeConversationClosed ErrorCode = "conversation_closed"

	// CodeRejected means a human explicitly rejected the interaction.
	CodeRejected ErrorCode = "rejected"

	// CodeRateLimited means the conversation created interactions too quickly.
	CodeRateLimited ErrorCode = "rate_limited"

	// CodeInvalidRequest is a malformed request or response payload.
	CodeInvalidRequest ErrorCode = "invalid_request"
)

// Sentinels for errors.Is matching. Only the Code is compared.
var (
	ErrNotFound           = &InteractionError{Code: CodeNotFound}
	ErrUnauthorized       = &InteractionError{Code: CodeUnauthorized}
	ErrCapacityExceeded   = &InteractionError{Code: CodeCapacityExceeded}
	ErrTimedOut           = &InteractionError{Code: CodeTimedOut}
	ErrCancelled          = &InteractionError{Code: CodeCancelled}
	ErrConversationClosed = &InteractionError{Code: CodeConversationClosed}
	ErrRejected           = &InteractionError{Code: CodeRejected}
	ErrRateLimited        = &InteractionError{Code: CodeRateLimited}
	ErrInvalidRequest     = &InteractionError{Code: CodeInvalidRequest}
)

// InteractionError is the structured failure returned by broker operations
// and used to settle waiters.
type InteractionError struct {
	// Code is the failure category
	Code ErrorCode `json:"code"`

	// InteractionID is the interaction involved, if any
	InteractionID string `json:"interaction_id,omitempty"`

	// Message is a human-readable detail
	Message string `json:"message,omitempty"`
}

// NewInteractionError creates an error for the given code and interaction.
func NewInteractionError(code ErrorCode, interactionID, message string) *InteractionError {
	return &InteractionError{Code: code, InteractionID: interactionID, Message: message}
}

// Error implements the error interface.
func (e *InteractionError) Error() string {
	switch {
	case e.InteractionID != "" && e.Message != "":
		return fmt.Sprintf("%s (%s): %s", e.Code, e.InteractionID, e.Message)
	case e.InteractionID != "":
		return fmt.Sprintf("%s (%s)", e.Code, e.InteractionID)
	case e.Message != "":
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	default:
		return string(e.Code)
	}
}

// Is matches any InteractionError with the same code.
func (e *InteractionError) Is(target error) bool {
	t, ok := target.(*InteractionError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// HTTPStatusCode maps the code to a status for the HTTP API.
func (e *InteractionError) HTTPStatusCode() int {
	switch e.Code {
	case CodeNotFound:
		return http.StatusNotFound
	case CodeUnauthorized:
		return http.StatusForbidden
	case CodeCapacityExceeded, CodeRateLimited:
		return http.StatusTooManyRequests
	case CodeTimedOut:
		return http.StatusGatewayTimeout
	case CodeCancelled:
		return 499
	case CodeConversationClosed:
		return http.StatusGone
	case CodeRejected:
		return http.StatusConflict
	case CodeInvalidRequest:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// CodeOf extracts the ErrorCode from err, or "" if err is not an InteractionError.
func CodeOf(err error) ErrorCode {
	var ie *InteractionError
	if errors.As(err, &ie) {
		return ie.Code
	}
	return ""
}
