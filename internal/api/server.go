// Package api serves the HTTP surface used by agent hooks and operators:
// blocking decision endpoints, pending snapshots, teardown and the audit log.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tjfontaine/interaction-gateway/internal/broker"
	"github.com/tjfontaine/interaction-gateway/internal/core/domain"
	"github.com/tjfontaine/interaction-gateway/internal/core/ports"
	"github.com/tjfontaine/interaction-gateway/internal/decisions"
	"github.com/tjfontaine/interaction-gateway/internal/decisions/askuser"
	"github.com/tjfontaine/interaction-gateway/internal/decisions/permission"
	"github.com/tjfontaine/interaction-gateway/internal/decisions/plan"
	"github.com/tjfontaine/interaction-gateway/internal/gateway"
	"github.com/tjfontaine/interaction-gateway/internal/protocol"
	"github.com/tjfontaine/interaction-gateway/internal/server"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
	maxBodyBytes     = 1 << 20
)

// Forgetter drops per-conversation state when a conversation ends.
type Forgetter interface {
	Forget(conversationID string)
}

// Deps are the components the API drives. Audit, Gateway and Limiter are optional.
type Deps struct {
	Broker      *broker.Broker
	Gateway     *gateway.Gateway
	Permissions *permission.Service
	Plans       *plan.Service
	Questions   *askuser.Service
	Audit       ports.AuditStore
	Limiter     Forgetter
	// RequestTimeout bounds the non-blocking routes; zero disables it.
	RequestTimeout time.Duration
	Logger         *slog.Logger
}

type Server struct {
	router    *chi.Mux
	startTime time.Time
	deps      Deps
	logger    *slog.Logger
}

func NewServer(deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		router:    chi.NewRouter(),
		startTime: time.Now(),
		deps:      deps,
		logger:    logger,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	// Decision endpoints block until a human answers, so they run without
	// the request timeout; the client's connection is the cancellation token.
	s.router.Post("/conversations/{conversation_id}/permission", s.handlePermission)
	s.router.Post("/conversations/{conversation_id}/plan", s.handlePlan)
	s.router.Post("/conversations/{conversation_id}/questions", s.handleQuestions)

	s.router.Group(func(r chi.Router) {
		if s.deps.RequestTimeout > 0 {
			r.Use(server.TimeoutMiddleware(s.deps.RequestTimeout))
		}
		r.Get("/stats", s.handleStats)
		r.Get("/interactions", s.handleListPending)
		r.Get("/interactions/{interaction_id}", s.handleGetInteraction)
		r.Post("/interactions/{interaction_id}/response", s.handleResolve)
		r.Post("/interactions/{interaction_id}/reject", s.handleReject)
		r.Delete("/conversations/{conversation_id}", s.handleTeardown)
		r.Get("/conversations/{conversation_id}/decisions", s.handleListDecisions)
	})
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

type StatsResponse struct {
	Uptime       string         `json:"uptime"`
	GoVersion    string         `json:"go_version"`
	NumGoroutine int            `json:"num_goroutine"`
	Memory       MemoryStats    `json:"memory"`
	Broker       broker.Stats   `json:"broker"`
	Gateway      *gateway.Stats `json:"gateway,omitempty"`
}

type MemoryStats struct {
	Alloc      uint64 `json:"alloc"`
	TotalAlloc uint64 `json:"total_alloc"`
	Sys        uint64 `json:"sys"`
	NumGC      uint32 `json:"num_gc"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	stats := StatsResponse{
		Uptime:       time.Since(s.startTime).String(),
		GoVersion:    runtime.Version(),
		NumGoroutine: runtime.NumGoroutine(),
		Memory: MemoryStats{
			Alloc:      m.Alloc,
			TotalAlloc: m.TotalAlloc,
			Sys:        m.Sys,
			NumGC:      m.NumGC,
		},
		Broker: s.deps.Broker.Stats(),
	}
	if s.deps.Gateway != nil {
		gs := s.deps.Gateway.Stats()
		stats.Gateway = &gs
	}

	writeJSON(w, http.StatusOK, stats)
}

// handleListPending answers the HTTP form of syncRequest.
// conversation_id may repeat or hold a comma-separated list.
func (s *Server) handleListPending(w http.ResponseWriter, r *http.Request) {
	var convs []string
	for _, v := range r.URL.Query()["conversation_id"] {
		for _, id := range strings.Split(v, ",") {
			if id = strings.TrimSpace(id); id != "" {
				convs = append(convs, id)
			}
		}
	}
	if len(convs) == 0 {
		writeError(w, r, domain.NewInteractionError(domain.CodeInvalidRequest, "", "conversation_id required"))
		return
	}

	writeJSON(w, http.StatusOK, protocol.NewSyncResponse(convs, s.deps.Broker.Pending(convs...)))
}

func (s *Server) handleGetInteraction(w http.ResponseWriter, r *http.Request) {
	in, err := s.deps.Broker.Get(chi.URLParam(r, "interaction_id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, protocol.View(in))
}

type ResolveRequest struct {
	ConversationID string          `json:"conversation_id"`
	Payload        json.RawMessage `json:"payload"`
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	var req ResolveRequest
	if !decodeBody(w, r, &req) {
		return
	}
	id := chi.URLParam(r, "interaction_id")
	if err := s.deps.Broker.Resolve(r.Context(), id, req.Payload, req.ConversationID); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": string(domain.StatusResolved)})
}

type RejectRequest struct {
	ConversationID string `json:"conversation_id"`
	Reason         string `json:"reason,omitempty"`
}

func (s *Server) handleReject(w http.ResponseWriter, r *http.Request) {
	var req RejectRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Reason == "" {
		req.Reason = "rejected by user"
	}
	id := chi.URLParam(r, "interaction_id")
	if err := s.deps.Broker.Reject(r.Context(), id, req.Reason, req.ConversationID); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": string(domain.StatusRejected)})
}

type PermissionRequest struct {
	Tool       string          `json:"tool"`
	Arguments  json.RawMessage `json:"arguments,omitempty"`
	Rationale  string          `json:"rationale,omitempty"`
	TTLSeconds int             `json:"ttl_seconds,omitempty"`
}

func (s *Server) handlePermission(w http.ResponseWriter, r *http.Request) {
	var req PermissionRequest
	if !decodeBody(w, r, &req) {
		return
	}
	conv := chi.URLParam(r, "conversation_id")
	server.AddLogField(r.Context(), "conversation_id", conv)
	server.AddLogField(r.Context(), "tool", req.Tool)

	ctx, ok := withTTL(w, r, req.TTLSeconds)
	if !ok {
		return
	}
	res, err := s.deps.Permissions.RequestPermission(ctx, conv, req.Tool, req.Arguments, req.Rationale)
	if err != nil {
		writeError(w, r, err)
		return
	}
	server.AddLogField(r.Context(), "interaction_id", res.InteractionID)
	writeJSON(w, http.StatusOK, res)
}

// withTTL applies a per-call ttl_seconds override to the request context.
func withTTL(w http.ResponseWriter, r *http.Request, seconds int) (context.Context, bool) {
	switch {
	case seconds < 0:
		writeError(w, r, domain.NewInteractionError(domain.CodeInvalidRequest, "", "ttl_seconds must not be negative"))
		return nil, false
	case seconds == 0:
		return r.Context(), true
	}
	return decisions.ContextWithTTL(r.Context(), time.Duration(seconds)*time.Second), true
}

type PlanRequest struct {
	Plan       string   `json:"plan"`
	Steps      []string `json:"steps,omitempty"`
	TTLSeconds int      `json:"ttl_seconds,omitempty"`
}

func (s *Server) handlePlan(w http.ResponseWriter, r *http.Request) {
	var req PlanRequest
	if !decodeBody(w, r, &req) {
		return
	}
	conv := chi.URLParam(r, "conversation_id")
	server.AddLogField(r.Context(), "conversation_id", conv)

	ctx, ok := withTTL(w, r, req.TTLSeconds)
	if !ok {
		return
	}
	resp, err := s.deps.Plans.RequestApproval(ctx, conv, req.Plan, req.Steps)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

type QuestionsRequest struct {
	Questions  []domain.Question `json:"questions"`
	TTLSeconds int               `json:"ttl_seconds,omitempty"`
}

func (s *Server) handleQuestions(w http.ResponseWriter, r *http.Request) {
	var req QuestionsRequest
	if !decodeBody(w, r, &req) {
		return
	}
	conv := chi.URLParam(r, "conversation_id")
	server.AddLogField(r.Context(), "conversation_id", conv)

	ctx, ok := withTTL(w, r, req.TTLSeconds)
	if !ok {
		return
	}
	resp, err := s.deps.Questions.Ask(ctx, conv, req.Questions)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

type TeardownResponse struct {
	ConversationID       string `json:"conversation_id"`
	Rejected             int    `json:"rejected"`
	ForgottenPermissions int    `json:"forgotten_permissions"`
}

func (s *Server) handleTeardown(w http.ResponseWriter, r *http.Request) {
	conv := chi.URLParam(r, "conversation_id")

	resp := TeardownResponse{
		ConversationID: conv,
		Rejected:       s.deps.Broker.TeardownConversation(r.Context(), conv),
	}
	if s.deps.Permissions != nil {
		resp.ForgottenPermissions = s.deps.Permissions.Forget(conv)
	}
	if s.deps.Limiter != nil {
		s.deps.Limiter.Forget(conv)
	}

	s.logger.Info("conversation closed",
		slog.String("conversation_id", conv),
		slog.Int("rejected", resp.Rejected),
		slog.Int("forgotten_permissions", resp.ForgottenPermissions))
	writeJSON(w, http.StatusOK, resp)
}

type DecisionListResponse struct {
	Decisions []*ports.DecisionRecord `json:"decisions"`
	Limit     int                     `json:"limit"`
	Offset    int                     `json:"offset"`
}

func (s *Server) handleListDecisions(w http.ResponseWriter, r *http.Request) {
	if s.deps.Audit == nil {
		http.Error(w, "audit storage not configured", http.StatusServiceUnavailable)
		return
	}

	limit := defaultListLimit
	offset := 0

	if q := r.URL.Query().Get("limit"); q != "" {
		if v, err := strconv.Atoi(q); err == nil && v > 0 && v <= maxListLimit {
			limit = v
		}
	}

	if q := r.URL.Query().Get("offset"); q != "" {
		if v, err := strconv.Atoi(q); err == nil && v >= 0 {
			offset = v
		}
	}

	records, err := s.deps.Audit.ListDecisions(r.Context(), chi.URLParam(r, "conversation_id"),
		ports.ListOptions{Limit: limit, Offset: offset})
	if err != nil {
		server.AddError(r.Context(), err)
		http.Error(w, "failed to list decisions", http.StatusInternalServerError)
		return
	}
	if records == nil {
		records = []*ports.DecisionRecord{}
	}

	writeJSON(w, http.StatusOK, DecisionListResponse{Decisions: records, Limit: limit, Offset: offset})
}

// ErrorResponse is the JSON body of every API error.
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

type ErrorBody struct {
	Code          string `json:"code"`
	Message       string `json:"message"`
	InteractionID string `json:"interaction_id,omitempty"`
}

// writeError maps err onto a status code. Unauthorized attempts get no detail.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	server.AddError(r.Context(), err)

	var ie *domain.InteractionError
	if !errors.As(err, &ie) {
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: ErrorBody{Code: "internal", Message: "internal error"}})
		return
	}

	body := ErrorBody{Code: string(ie.Code), Message: ie.Message, InteractionID: ie.InteractionID}
	if ie.Code == domain.CodeUnauthorized {
		body = ErrorBody{Code: string(ie.Code), Message: "request rejected"}
	}
	if body.Message == "" {
		body.Message = string(ie.Code)
	}
	writeJSON(w, ie.HTTPStatusCode(), ErrorResponse{Error: body})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		writeError(w, r, domain.NewInteractionError(domain.CodeInvalidRequest, "", "invalid request body"))
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
