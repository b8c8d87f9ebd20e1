// Copyright 2026 Kaizen Studio
// SPDX-License-Identifier: BUSL-1.1

package approval

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"kaizenstudio/platform/shared/httpapi"
	"kaizenstudio/platform/shared/principal"
)

// Handler provides HTTP handlers for approval APIs
type Handler struct {
	service *Service
}

// NewHandler creates a new approval handler
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes registers approval routes with a gorilla/mux router
func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/api/v1/approvals", h.List).Methods("GET")
	r.HandleFunc("/api/v1/approvals/{id}", h.Get).Methods("GET")
	r.HandleFunc("/api/v1/approvals/{id}/approve", h.Approve).Methods("POST")
	r.HandleFunc("/api/v1/approvals/{id}/reject", h.Reject).Methods("POST")
}

// List handles GET /api/v1/approvals
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	caller := principal.FromContext(r.Context())
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	requests, err := h.service.List(r.Context(), caller.OrgID, r.URL.Query().Get("status"), limit)
	if err != nil {
		httpapi.WriteError(w, r, httpapi.CodeInternalError, "Failed to list approvals", nil)
		return
	}
	if requests == nil {
		requests = []Request{}
	}
	httpapi.WriteJSON(w, http.StatusOK, map[string]interface{}{"approvals": requests})
}

// Get handles GET /api/v1/approvals/{id}
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	caller := principal.FromContext(r.Context())
	req, err := h.service.Get(r.Context(), caller.OrgID, mux.Vars(r)["id"])
	if err != nil {
		writeApprovalError(w, r, err)
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, req)
}

// DecisionRequest is the body for approve/reject
type DecisionRequest struct {
	Note string `json:"note"`
}

// Approve handles POST /api/v1/approvals/{id}/approve
func (h *Handler) Approve(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, h.service.Approve)
}

// Reject handles POST /api/v1/approvals/{id}/reject
func (h *Handler) Reject(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, h.service.Reject)
}

type decideFunc func(ctx context.Context, orgID, id, approverID, approverRole, note string) (*Request, error)

func (h *Handler) decide(w http.ResponseWriter, r *http.Request, fn decideFunc) {
	var body DecisionRequest
	// Body is optional; a missing note is fine.
	_ = json.NewDecoder(r.Body).Decode(&body)

	caller := principal.FromContext(r.Context())
	req, err := fn(r.Context(), caller.OrgID, mux.Vars(r)["id"], caller.UserID, caller.Role, body.Note)
	if err != nil {
		writeApprovalError(w, r, err)
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, req)
}

func writeApprovalError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrApprovalNotFound):
		httpapi.WriteError(w, r, httpapi.CodeNotFound, "Approval request not found", nil)
	case errors.Is(err, ErrAlreadyDecided):
		httpapi.WriteError(w, r, httpapi.CodeConflict, err.Error(), nil)
	case errors.Is(err, ErrApprovalExpired):
		httpapi.WriteError(w, r, httpapi.CodeConflict, err.Error(), nil)
	case errors.Is(err, ErrSelfApprovalNotAllowed), errors.Is(err, ErrUnauthorizedApprover):
		httpapi.WriteError(w, r, httpapi.CodeForbidden, err.Error(), nil)
	default:
		httpapi.WriteError(w, r, httpapi.CodeInternalError, "Approval operation failed", nil)
	}
}
