// Copyright 2026 Kaizen Studio
// SPDX-License-Identifier: BUSL-1.1

package invocation

import (
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"kaizenstudio/platform/approval"
	"kaizenstudio/platform/shared/httpapi"
	"kaizenstudio/platform/shared/principal"
)

// Handler provides HTTP handlers for external-agent APIs
type Handler struct {
	service *Service
}

// NewHandler creates a new invocation handler
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes registers external-agent routes with a gorilla/mux router
func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/api/v1/external-agents", h.CreateAgent).Methods("POST")
	r.HandleFunc("/api/v1/external-agents", h.ListAgents).Methods("GET")
	r.HandleFunc("/api/v1/external-agents/{id}", h.GetAgent).Methods("GET")
	r.HandleFunc("/api/v1/external-agents/{id}", h.UpdateAgent).Methods("PUT")
	r.HandleFunc("/api/v1/external-agents/{id}", h.DeleteAgent).Methods("DELETE")

	r.HandleFunc("/api/v1/external-agents/{id}/invoke", h.Invoke).Methods("POST")
	r.HandleFunc("/api/v1/external-agents/{id}/invocations", h.ListInvocations).Methods("GET")
	r.HandleFunc("/api/v1/invocations/{id}", h.GetInvocation).Methods("GET")
	r.HandleFunc("/api/v1/invocations/{id}/lineage", h.GetLineage).Methods("GET")
}

// CreateAgent handles POST /api/v1/external-agents
func (h *Handler) CreateAgent(w http.ResponseWriter, r *http.Request) {
	var in AgentInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		httpapi.WriteError(w, r, httpapi.CodeBadRequest, "Invalid request body", nil)
		return
	}

	caller := principal.FromContext(r.Context())
	agent, err := h.service.CreateAgent(r.Context(), caller.OrgID, in)
	if err != nil {
		writeInvocationError(w, r, err)
		return
	}
	httpapi.WriteJSON(w, http.StatusCreated, agent)
}

// ListAgents handles GET /api/v1/external-agents
func (h *Handler) ListAgents(w http.ResponseWriter, r *http.Request) {
	caller := principal.FromContext(r.Context())
	agents, err := h.service.ListAgents(r.Context(), caller.OrgID)
	if err != nil {
		httpapi.WriteError(w, r, httpapi.CodeInternalError, "Failed to list external agents", nil)
		return
	}
	if agents == nil {
		agents = []ExternalAgent{}
	}
	httpapi.WriteJSON(w, http.StatusOK, map[string]interface{}{"external_agents": agents})
}

// GetAgent handles GET /api/v1/external-agents/{id}
func (h *Handler) GetAgent(w http.ResponseWriter, r *http.Request) {
	caller := principal.FromContext(r.Context())
	agent, err := h.service.GetAgent(r.Context(), caller.OrgID, mux.Vars(r)["id"])
	if err != nil {
		writeInvocationError(w, r, err)
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, agent)
}

// UpdateAgent handles PUT /api/v1/external-agents/{id}
func (h *Handler) UpdateAgent(w http.ResponseWriter, r *http.Request) {
	var in AgentInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		httpapi.WriteError(w, r, httpapi.CodeBadRequest, "Invalid request body", nil)
		return
	}

	caller := principal.FromContext(r.Context())
	agent, err := h.service.UpdateAgent(r.Context(), caller.OrgID, mux.Vars(r)["id"], in)
	if err != nil {
		writeInvocationError(w, r, err)
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, agent)
}

// DeleteAgent handles DELETE /api/v1/external-agents/{id}
func (h *Handler) DeleteAgent(w http.ResponseWriter, r *http.Request) {
	caller := principal.FromContext(r.Context())
	if err := h.service.DeleteAgent(r.Context(), caller.OrgID, mux.Vars(r)["id"]); err != nil {
		writeInvocationError(w, r, err)
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// InvokeRequest is the body for POST /external-agents/{id}/invoke
type InvokeRequest struct {
	Payload    json.RawMessage `json:"payload"`
	ApprovalID string          `json:"approval_id,omitempty"`
}

// Invoke handles POST /api/v1/external-agents/{id}/invoke
func (h *Handler) Invoke(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		httpapi.WriteError(w, r, httpapi.CodeBadRequest, "Failed to read request body", nil)
		return
	}

	var req InvokeRequest
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			httpapi.WriteError(w, r, httpapi.CodeBadRequest, "Invalid request body", nil)
			return
		}
	}

	caller := principal.FromContext(r.Context())
	outcome, err := h.service.Invoke(r.Context(), caller.OrgID, InvokeInput{
		AgentID:    mux.Vars(r)["id"],
		Caller:     caller,
		External:   principal.ExternalIdentityFromContext(r.Context()),
		Payload:    req.Payload,
		RequestIP:  clientIP(r),
		UserAgent:  r.UserAgent(),
		ApprovalID: req.ApprovalID,
	})
	if err != nil {
		if outcome != nil && outcome.Invocation != nil {
			// Upstream failed but the attempt is recorded.
			httpapi.WriteJSON(w, http.StatusBadGateway, map[string]interface{}{
				"invocation": outcome.Invocation,
				"error":      err.Error(),
			})
			return
		}
		writeInvocationError(w, r, err)
		return
	}

	if outcome.PendingApproval != nil {
		httpapi.WriteJSON(w, http.StatusAccepted, map[string]interface{}{
			"status":   "approval_required",
			"approval": outcome.PendingApproval,
		})
		return
	}

	resp := map[string]interface{}{"invocation": outcome.Invocation}
	if outcome.BudgetWarning {
		resp["budget_warning"] = true
	}
	httpapi.WriteJSON(w, http.StatusOK, resp)
}

// ListInvocations handles GET /api/v1/external-agents/{id}/invocations
func (h *Handler) ListInvocations(w http.ResponseWriter, r *http.Request) {
	caller := principal.FromContext(r.Context())
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	invocations, err := h.service.ListInvocations(r.Context(), caller.OrgID, mux.Vars(r)["id"], limit)
	if err != nil {
		httpapi.WriteError(w, r, httpapi.CodeInternalError, "Failed to list invocations", nil)
		return
	}
	if invocations == nil {
		invocations = []Invocation{}
	}
	httpapi.WriteJSON(w, http.StatusOK, map[string]interface{}{"invocations": invocations})
}

// GetInvocation handles GET /api/v1/invocations/{id}
func (h *Handler) GetInvocation(w http.ResponseWriter, r *http.Request) {
	caller := principal.FromContext(r.Context())
	inv, err := h.service.GetInvocation(r.Context(), caller.OrgID, mux.Vars(r)["id"])
	if err != nil {
		writeInvocationError(w, r, err)
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, inv)
}

// GetLineage handles GET /api/v1/invocations/{id}/lineage
func (h *Handler) GetLineage(w http.ResponseWriter, r *http.Request) {
	caller := principal.FromContext(r.Context())
	l, err := h.service.GetLineage(r.Context(), caller.OrgID, mux.Vars(r)["id"])
	if err != nil {
		writeInvocationError(w, r, err)
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, l)
}

func writeInvocationError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrAgentNotFound), errors.Is(err, ErrInvocationNotFound):
		httpapi.WriteError(w, r, httpapi.CodeNotFound, err.Error(), nil)
	case errors.Is(err, ErrInvalidPlatform), errors.Is(err, ErrInvalidAuthType):
		httpapi.WriteError(w, r, httpapi.CodeValidationError, err.Error(), nil)
	case errors.Is(err, ErrAgentInactive):
		httpapi.WriteError(w, r, httpapi.CodeConflict, err.Error(), nil)
	case errors.Is(err, ErrRateLimited):
		httpapi.WriteError(w, r, httpapi.CodeRateLimitExceeded, err.Error(), nil)
	case errors.Is(err, ErrBudgetExceeded):
		httpapi.WriteErrorStatus(w, r, http.StatusPaymentRequired, "BUDGET_EXCEEDED", err.Error(), nil)
	case errors.Is(err, approval.ErrApprovalNotFound),
		errors.Is(err, approval.ErrApprovalExpired),
		errors.Is(err, approval.ErrNotApproved):
		httpapi.WriteError(w, r, httpapi.CodeConflict, err.Error(), nil)
	case errors.Is(err, approval.ErrUnauthorizedApprover):
		httpapi.WriteError(w, r, httpapi.CodeForbidden, err.Error(), nil)
	default:
		httpapi.WriteError(w, r, httpapi.CodeInternalError, "Invocation failed", nil)
	}
}

// clientIP prefers the first X-Forwarded-For hop.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		parts := strings.Split(fwd, ",")
		return strings.TrimSpace(parts[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
