// Copyright 2026 Kaizen Studio
// SPDX-License-Identifier: BUSL-1.1

package budget

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"kaizenstudio/platform/shared/httpapi"
	"kaizenstudio/platform/shared/principal"
)

// Handler provides HTTP handlers for budget APIs
type Handler struct {
	service *Service
}

// NewHandler creates a new budget handler
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes registers budget routes with a gorilla/mux router
func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/api/v1/external-agents/{agent_id}/budget", h.Upsert).Methods("PUT")
	r.HandleFunc("/api/v1/external-agents/{agent_id}/budget", h.Get).Methods("GET")
	r.HandleFunc("/api/v1/external-agents/{agent_id}/budget", h.Delete).Methods("DELETE")
	r.HandleFunc("/api/v1/external-agents/{agent_id}/usage", h.Usage).Methods("GET")

	r.HandleFunc("/api/v1/budget-alerts", h.Alerts).Methods("GET")
	r.HandleFunc("/api/v1/budget-alerts/{id}/ack", h.AcknowledgeAlert).Methods("POST")
}

// Upsert handles PUT /api/v1/external-agents/{agent_id}/budget
func (h *Handler) Upsert(w http.ResponseWriter, r *http.Request) {
	var in UpsertInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		httpapi.WriteError(w, r, httpapi.CodeBadRequest, "Invalid request body", nil)
		return
	}

	caller := principal.FromContext(r.Context())
	b, err := h.service.Upsert(r.Context(), caller.OrgID, mux.Vars(r)["agent_id"], in)
	if err != nil {
		writeBudgetError(w, r, err)
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, b)
}

// Get handles GET /api/v1/external-agents/{agent_id}/budget
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	caller := principal.FromContext(r.Context())
	b, err := h.service.Get(r.Context(), caller.OrgID, mux.Vars(r)["agent_id"])
	if err != nil {
		writeBudgetError(w, r, err)
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, b)
}

// Delete handles DELETE /api/v1/external-agents/{agent_id}/budget
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	caller := principal.FromContext(r.Context())
	if err := h.service.Delete(r.Context(), caller.OrgID, mux.Vars(r)["agent_id"]); err != nil {
		writeBudgetError(w, r, err)
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// Usage handles GET /api/v1/external-agents/{agent_id}/usage
func (h *Handler) Usage(w http.ResponseWriter, r *http.Request) {
	caller := principal.FromContext(r.Context())
	usage, records, err := h.service.Usage(r.Context(), caller.OrgID, mux.Vars(r)["agent_id"])
	if err != nil {
		writeBudgetError(w, r, err)
		return
	}
	if records == nil {
		records = []UsageRecord{}
	}
	httpapi.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"usage":   usage,
		"records": records,
	})
}

// Alerts handles GET /api/v1/budget-alerts
func (h *Handler) Alerts(w http.ResponseWriter, r *http.Request) {
	caller := principal.FromContext(r.Context())
	unackedOnly := r.URL.Query().Get("unacknowledged") == "true"
	alerts, err := h.service.Alerts(r.Context(), caller.OrgID, unackedOnly)
	if err != nil {
		httpapi.WriteError(w, r, httpapi.CodeInternalError, "Failed to list alerts", nil)
		return
	}
	if alerts == nil {
		alerts = []Alert{}
	}
	httpapi.WriteJSON(w, http.StatusOK, map[string]interface{}{"alerts": alerts})
}

// AcknowledgeAlert handles POST /api/v1/budget-alerts/{id}/ack
func (h *Handler) AcknowledgeAlert(w http.ResponseWriter, r *http.Request) {
	caller := principal.FromContext(r.Context())
	if err := h.service.AcknowledgeAlert(r.Context(), caller.OrgID, mux.Vars(r)["id"]); err != nil {
		writeBudgetError(w, r, err)
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, map[string]string{"status": "acknowledged"})
}

func writeBudgetError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrBudgetNotFound), errors.Is(err, ErrAlertNotFound):
		httpapi.WriteError(w, r, httpapi.CodeNotFound, err.Error(), nil)
	case errors.Is(err, ErrInvalidPeriod), errors.Is(err, ErrInvalidEnforcementMode), errors.Is(err, ErrInvalidTimezone):
		httpapi.WriteError(w, r, httpapi.CodeValidationError, err.Error(), nil)
	default:
		httpapi.WriteError(w, r, httpapi.CodeInternalError, "Budget operation failed", nil)
	}
}
