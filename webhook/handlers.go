// Copyright 2026 Kaizen Studio
// SPDX-License-Identifier: BUSL-1.1

package webhook

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"kaizenstudio/platform/shared/httpapi"
	"kaizenstudio/platform/shared/principal"
)

// Handler provides HTTP handlers for webhook APIs
type Handler struct {
	service *Service
}

// NewHandler creates a new webhook handler
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes registers webhook routes with a gorilla/mux router
func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/api/v1/webhooks", h.Create).Methods("POST")
	r.HandleFunc("/api/v1/webhooks", h.List).Methods("GET")
	r.HandleFunc("/api/v1/webhooks/{id}", h.Get).Methods("GET")
	r.HandleFunc("/api/v1/webhooks/{id}", h.Update).Methods("PUT")
	r.HandleFunc("/api/v1/webhooks/{id}", h.Delete).Methods("DELETE")
	r.HandleFunc("/api/v1/webhooks/{id}/deliveries", h.Deliveries).Methods("GET")
	r.HandleFunc("/api/v1/webhook-deliveries", h.AllDeliveries).Methods("GET")
}

// Create handles POST /api/v1/webhooks
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var in CreateInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		httpapi.WriteError(w, r, httpapi.CodeBadRequest, "Invalid request body", nil)
		return
	}

	caller := principal.FromContext(r.Context())
	sub, err := h.service.Create(r.Context(), caller.OrgID, in)
	if err != nil {
		writeWebhookError(w, r, err)
		return
	}
	httpapi.WriteJSON(w, http.StatusCreated, sub)
}

// List handles GET /api/v1/webhooks
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	caller := principal.FromContext(r.Context())
	subs, err := h.service.List(r.Context(), caller.OrgID)
	if err != nil {
		httpapi.WriteError(w, r, httpapi.CodeInternalError, "Failed to list webhooks", nil)
		return
	}
	if subs == nil {
		subs = []Subscription{}
	}
	httpapi.WriteJSON(w, http.StatusOK, map[string]interface{}{"webhooks": subs})
}

// Get handles GET /api/v1/webhooks/{id}
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	caller := principal.FromContext(r.Context())
	sub, err := h.service.Get(r.Context(), caller.OrgID, mux.Vars(r)["id"])
	if err != nil {
		writeWebhookError(w, r, err)
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, sub)
}

// Update handles PUT /api/v1/webhooks/{id}
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	var in UpdateInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		httpapi.WriteError(w, r, httpapi.CodeBadRequest, "Invalid request body", nil)
		return
	}

	caller := principal.FromContext(r.Context())
	sub, err := h.service.Update(r.Context(), caller.OrgID, mux.Vars(r)["id"], in)
	if err != nil {
		writeWebhookError(w, r, err)
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, sub)
}

// Delete handles DELETE /api/v1/webhooks/{id}
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	caller := principal.FromContext(r.Context())
	if err := h.service.Delete(r.Context(), caller.OrgID, mux.Vars(r)["id"]); err != nil {
		writeWebhookError(w, r, err)
		return
	}
	httpapi.WriteJSON(w, http.StatusNoContent, nil)
}

// Deliveries handles GET /api/v1/webhooks/{id}/deliveries
func (h *Handler) Deliveries(w http.ResponseWriter, r *http.Request) {
	h.listDeliveries(w, r, mux.Vars(r)["id"])
}

// AllDeliveries handles GET /api/v1/webhook-deliveries
func (h *Handler) AllDeliveries(w http.ResponseWriter, r *http.Request) {
	h.listDeliveries(w, r, "")
}

func (h *Handler) listDeliveries(w http.ResponseWriter, r *http.Request, webhookID string) {
	caller := principal.FromContext(r.Context())
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	deliveries, err := h.service.Deliveries(r.Context(), caller.OrgID, webhookID, limit)
	if err != nil {
		writeWebhookError(w, r, err)
		return
	}
	if deliveries == nil {
		deliveries = []Delivery{}
	}
	httpapi.WriteJSON(w, http.StatusOK, map[string]interface{}{"deliveries": deliveries})
}

func writeWebhookError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrSubscriptionNotFound):
		httpapi.WriteError(w, r, httpapi.CodeNotFound, "Webhook not found", nil)
	case errors.Is(err, ErrInvalidSubscription), errors.Is(err, ErrUnknownPlatform):
		httpapi.WriteError(w, r, httpapi.CodeValidationError, err.Error(), nil)
	default:
		httpapi.WriteError(w, r, httpapi.CodeInternalError, "Webhook operation failed", nil)
	}
}
