// Copyright 2026 Kaizen Studio
// SPDX-License-Identifier: BUSL-1.1

package audit

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"kaizenstudio/platform/shared/httpapi"
	"kaizenstudio/platform/shared/principal"
)

// Handler provides HTTP handlers for audit log queries
type Handler struct {
	store *Store
}

// NewHandler creates a new audit handler
func NewHandler(store *Store) *Handler {
	return &Handler{store: store}
}

// RegisterRoutes registers audit routes with a gorilla/mux router
func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/api/v1/audit/logs", h.Search).Methods("GET")
}

// Search handles GET /api/v1/audit/logs
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	caller := principal.FromContext(r.Context())
	params := r.URL.Query()

	q := Query{
		OrgID:        caller.OrgID,
		UserID:       params.Get("user_id"),
		Action:       params.Get("action"),
		ResourceType: params.Get("resource_type"),
		Status:       params.Get("status"),
	}
	q.Limit, _ = strconv.Atoi(params.Get("limit"))
	q.Offset, _ = strconv.Atoi(params.Get("offset"))

	if v := params.Get("start"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			httpapi.WriteError(w, r, httpapi.CodeValidationError, "start must be RFC3339", nil)
			return
		}
		q.Start = t
	}
	if v := params.Get("end"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			httpapi.WriteError(w, r, httpapi.CodeValidationError, "end must be RFC3339", nil)
			return
		}
		q.End = t
	}

	entries, err := h.store.Search(r.Context(), q)
	if err != nil {
		httpapi.WriteError(w, r, httpapi.CodeInternalError, "Failed to search audit logs", nil)
		return
	}
	if entries == nil {
		entries = []Entry{}
	}
	httpapi.WriteJSON(w, http.StatusOK, map[string]interface{}{"logs": entries})
}
