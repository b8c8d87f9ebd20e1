// Copyright 2026 Kaizen Studio
// SPDX-License-Identifier: BUSL-1.1

package policy

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"kaizenstudio/platform/shared/httpapi"
	"kaizenstudio/platform/shared/principal"
)

// Handler provides HTTP handlers for policy APIs
type Handler struct {
	service *Service
}

// NewHandler creates a new policy handler
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes registers policy routes with a gorilla/mux router
func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/api/v1/policies", h.Create).Methods("POST")
	r.HandleFunc("/api/v1/policies", h.List).Methods("GET")
	r.HandleFunc("/api/v1/policies/{id}", h.Get).Methods("GET")
	r.HandleFunc("/api/v1/policies/{id}", h.Update).Methods("PUT")
	r.HandleFunc("/api/v1/policies/{id}", h.Delete).Methods("DELETE")

	r.HandleFunc("/api/v1/policies/{id}/assignments", h.Assign).Methods("POST")
	r.HandleFunc("/api/v1/policies/{id}/assignments", h.Assignments).Methods("GET")
	r.HandleFunc("/api/v1/policies/{id}/assignments/{assignment_id}", h.Unassign).Methods("DELETE")
}

// Create handles POST /api/v1/policies
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var in CreateInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		httpapi.WriteError(w, r, httpapi.CodeValidationError, "Invalid policy body", map[string]interface{}{"error": err.Error()})
		return
	}

	caller := principal.FromContext(r.Context())
	p, err := h.service.Create(r.Context(), caller.OrgID, in)
	if err != nil {
		writePolicyError(w, r, err)
		return
	}
	httpapi.WriteJSON(w, http.StatusCreated, p)
}

// List handles GET /api/v1/policies
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	caller := principal.FromContext(r.Context())
	policies, err := h.service.List(r.Context(), caller.OrgID)
	if err != nil {
		httpapi.WriteError(w, r, httpapi.CodeInternalError, "Failed to list policies", nil)
		return
	}
	if policies == nil {
		policies = []Policy{}
	}
	httpapi.WriteJSON(w, http.StatusOK, map[string]interface{}{"policies": policies})
}

// Get handles GET /api/v1/policies/{id}
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	caller := principal.FromContext(r.Context())
	p, err := h.service.Get(r.Context(), caller.OrgID, mux.Vars(r)["id"])
	if err != nil {
		writePolicyError(w, r, err)
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, p)
}

// Update handles PUT /api/v1/policies/{id}
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	var in CreateInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		httpapi.WriteError(w, r, httpapi.CodeValidationError, "Invalid policy body", map[string]interface{}{"error": err.Error()})
		return
	}

	caller := principal.FromContext(r.Context())
	p, err := h.service.Update(r.Context(), caller.OrgID, mux.Vars(r)["id"], in)
	if err != nil {
		writePolicyError(w, r, err)
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, p)
}

// Delete handles DELETE /api/v1/policies/{id}
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	caller := principal.FromContext(r.Context())
	if err := h.service.Delete(r.Context(), caller.OrgID, mux.Vars(r)["id"]); err != nil {
		writePolicyError(w, r, err)
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// AssignRequest is the body for POST /policies/{id}/assignments
type AssignRequest struct {
	PrincipalType string `json:"principal_type"`
	PrincipalID   string `json:"principal_id"`
}

// Assign handles POST /api/v1/policies/{id}/assignments
func (h *Handler) Assign(w http.ResponseWriter, r *http.Request) {
	var req AssignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpapi.WriteError(w, r, httpapi.CodeBadRequest, "Invalid request body", nil)
		return
	}

	caller := principal.FromContext(r.Context())
	a, err := h.service.Assign(r.Context(), caller.OrgID, mux.Vars(r)["id"], req.PrincipalType, req.PrincipalID)
	if err != nil {
		writePolicyError(w, r, err)
		return
	}
	httpapi.WriteJSON(w, http.StatusCreated, a)
}

// Assignments handles GET /api/v1/policies/{id}/assignments
func (h *Handler) Assignments(w http.ResponseWriter, r *http.Request) {
	caller := principal.FromContext(r.Context())
	assignments, err := h.service.Assignments(r.Context(), caller.OrgID, mux.Vars(r)["id"])
	if err != nil {
		writePolicyError(w, r, err)
		return
	}
	if assignments == nil {
		assignments = []PolicyAssignment{}
	}
	httpapi.WriteJSON(w, http.StatusOK, map[string]interface{}{"assignments": assignments})
}

// Unassign handles DELETE /api/v1/policies/{id}/assignments/{assignment_id}
func (h *Handler) Unassign(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	caller := principal.FromContext(r.Context())
	if err := h.service.Unassign(r.Context(), caller.OrgID, vars["id"], vars["assignment_id"]); err != nil {
		writePolicyError(w, r, err)
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func writePolicyError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrPolicyNotFound):
		httpapi.WriteError(w, r, httpapi.CodeNotFound, "Policy not found", nil)
	case errors.Is(err, ErrAssignmentExists):
		httpapi.WriteError(w, r, httpapi.CodeConflict, err.Error(), nil)
	case errors.Is(err, ErrInvalidPolicy), errors.Is(err, ErrInvalidEffect), errors.Is(err, ErrInvalidCondition):
		httpapi.WriteError(w, r, httpapi.CodeValidationError, err.Error(), nil)
	default:
		httpapi.WriteError(w, r, httpapi.CodeInternalError, "Policy operation failed", nil)
	}
}
