// Copyright 2026 Kaizen Studio
// SPDX-License-Identifier: BUSL-1.1

package identity

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"kaizenstudio/platform/shared/httpapi"
	"kaizenstudio/platform/shared/principal"
)

// Handler provides HTTP handlers for identity APIs
type Handler struct {
	service *Service
}

// NewHandler creates a new identity handler
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes registers identity routes with a gorilla/mux router
func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/api/v1/auth/register", h.Register).Methods("POST")
	r.HandleFunc("/api/v1/auth/login", h.Login).Methods("POST")
	r.HandleFunc("/api/v1/auth/refresh", h.Refresh).Methods("POST")

	r.HandleFunc("/api/v1/invitations", h.CreateInvitation).Methods("POST")
	r.HandleFunc("/api/v1/invitations/{token}/accept", h.AcceptInvitation).Methods("POST")

	r.HandleFunc("/api/v1/api-keys", h.CreateAPIKey).Methods("POST")
	r.HandleFunc("/api/v1/api-keys", h.ListAPIKeys).Methods("GET")
	r.HandleFunc("/api/v1/api-keys/{id}", h.RevokeAPIKey).Methods("DELETE")

	r.HandleFunc("/api/v1/domains", h.AddDomain).Methods("POST")
	r.HandleFunc("/api/v1/domains", h.ListDomains).Methods("GET")

	r.HandleFunc("/api/v1/sso/connections", h.CreateSSOConnection).Methods("POST")
	r.HandleFunc("/api/v1/sso/connections", h.ListSSOConnections).Methods("GET")
}

// RegisterRequest is the body for POST /auth/register
type RegisterRequest struct {
	Email            string `json:"email"`
	Password         string `json:"password"`
	Name             string `json:"name"`
	OrganizationName string `json:"organization_name"`
}

// Register handles POST /api/v1/auth/register
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpapi.WriteError(w, r, httpapi.CodeBadRequest, "Invalid request body", nil)
		return
	}

	if fields := validateRegister(req); len(fields) > 0 {
		httpapi.WriteError(w, r, httpapi.CodeValidationError, "Validation failed",
			map[string]interface{}{"fields": fields})
		return
	}

	user, org, pair, err := h.service.Register(r.Context(), RegisterInput{
		Email:            req.Email,
		Password:         req.Password,
		Name:             req.Name,
		OrganizationName: req.OrganizationName,
	})
	if err != nil {
		switch err {
		case ErrSlugTaken, ErrEmailTaken:
			httpapi.WriteError(w, r, httpapi.CodeConflict, err.Error(), nil)
		case ErrInvalidInput, ErrInvalidSlug:
			httpapi.WriteError(w, r, httpapi.CodeValidationError, err.Error(), nil)
		default:
			httpapi.WriteError(w, r, httpapi.CodeInternalError, "Registration failed", nil)
		}
		return
	}

	httpapi.WriteJSON(w, http.StatusCreated, map[string]interface{}{
		"user":         user,
		"organization": org,
		"tokens":       pair,
	})
}

func validateRegister(req RegisterRequest) []map[string]string {
	var fields []map[string]string
	if req.Email == "" {
		fields = append(fields, map[string]string{"field": "email", "error": "required"})
	}
	if len(req.Password) < 8 {
		fields = append(fields, map[string]string{"field": "password", "error": "must be at least 8 characters"})
	}
	if req.OrganizationName == "" {
		fields = append(fields, map[string]string{"field": "organization_name", "error": "required"})
	}
	return fields
}

// LoginRequest is the body for POST /auth/login
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Login handles POST /api/v1/auth/login
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpapi.WriteError(w, r, httpapi.CodeBadRequest, "Invalid request body", nil)
		return
	}

	user, pair, err := h.service.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		httpapi.WriteError(w, r, httpapi.CodeUnauthorized, "Invalid email or password", nil)
		return
	}

	httpapi.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"user":          user,
		"access_token":  pair.AccessToken,
		"refresh_token": pair.RefreshToken,
	})
}

// RefreshRequest is the body for POST /auth/refresh
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// Refresh handles POST /api/v1/auth/refresh
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpapi.WriteError(w, r, httpapi.CodeBadRequest, "Invalid request body", nil)
		return
	}

	access, err := h.service.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		httpapi.WriteError(w, r, httpapi.CodeUnauthorized, "Invalid or expired refresh token", nil)
		return
	}

	httpapi.WriteJSON(w, http.StatusOK, map[string]string{"access_token": access})
}

// InviteRequest is the body for POST /invitations
type InviteRequest struct {
	Email string `json:"email"`
	Role  string `json:"role"`
}

// CreateInvitation handles POST /api/v1/invitations
func (h *Handler) CreateInvitation(w http.ResponseWriter, r *http.Request) {
	var req InviteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpapi.WriteError(w, r, httpapi.CodeBadRequest, "Invalid request body", nil)
		return
	}

	caller := principal.FromContext(r.Context())
	inv, err := h.service.Invite(r.Context(), caller.OrgID, req.Email, req.Role, caller.UserID)
	if err != nil {
		if err == ErrInvalidInput {
			httpapi.WriteError(w, r, httpapi.CodeValidationError, err.Error(), nil)
			return
		}
		httpapi.WriteError(w, r, httpapi.CodeInternalError, "Failed to create invitation", nil)
		return
	}

	// Token is visible in this response only.
	httpapi.WriteJSON(w, http.StatusCreated, inv)
}

// AcceptInvitationRequest is the body for POST /invitations/{token}/accept
type AcceptInvitationRequest struct {
	Name     string `json:"name"`
	Password string `json:"password"`
}

// AcceptInvitation handles POST /api/v1/invitations/{token}/accept
func (h *Handler) AcceptInvitation(w http.ResponseWriter, r *http.Request) {
	token := mux.Vars(r)["token"]

	var req AcceptInvitationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpapi.WriteError(w, r, httpapi.CodeBadRequest, "Invalid request body", nil)
		return
	}

	user, pair, err := h.service.AcceptInvitation(r.Context(), token, req.Name, req.Password)
	if err != nil {
		if err == ErrInvitationNotFound || err == ErrInvitationExpired {
			httpapi.WriteError(w, r, httpapi.CodeBadRequest, "Invalid or expired invitation", nil)
			return
		}
		httpapi.WriteError(w, r, httpapi.CodeInternalError, "Failed to accept invitation", nil)
		return
	}

	httpapi.WriteJSON(w, http.StatusCreated, map[string]interface{}{
		"user":   user,
		"tokens": pair,
	})
}

// CreateAPIKeyRequest is the body for POST /api-keys
type CreateAPIKeyRequest struct {
	Name      string     `json:"name"`
	Scopes    []string   `json:"scopes"`
	RateLimit int        `json:"rate_limit"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// CreateAPIKey handles POST /api/v1/api-keys
func (h *Handler) CreateAPIKey(w http.ResponseWriter, r *http.Request) {
	var req CreateAPIKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpapi.WriteError(w, r, httpapi.CodeBadRequest, "Invalid request body", nil)
		return
	}

	caller := principal.FromContext(r.Context())
	key, plaintext, err := h.service.CreateAPIKey(r.Context(), caller.OrgID, req.Name, req.Scopes, req.RateLimit, req.ExpiresAt)
	if err != nil {
		if err == ErrInvalidInput {
			httpapi.WriteError(w, r, httpapi.CodeValidationError, err.Error(), nil)
			return
		}
		httpapi.WriteError(w, r, httpapi.CodeInternalError, "Failed to create api key", nil)
		return
	}

	// Plaintext key is visible in this response only.
	httpapi.WriteJSON(w, http.StatusCreated, map[string]interface{}{
		"id":         key.ID,
		"name":       key.Name,
		"key":        plaintext,
		"key_prefix": key.KeyPrefix,
		"scopes":     key.Scopes,
		"rate_limit": key.RateLimit,
		"expires_at": key.ExpiresAt,
		"created_at": key.CreatedAt,
	})
}

// AddDomainRequest is the body for POST /domains
type AddDomainRequest struct {
	Domain          string `json:"domain"`
	AutoJoinEnabled bool   `json:"auto_join_enabled"`
	DefaultRole     string `json:"default_role"`
}

// AddDomain handles POST /api/v1/domains
func (h *Handler) AddDomain(w http.ResponseWriter, r *http.Request) {
	var req AddDomainRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpapi.WriteError(w, r, httpapi.CodeBadRequest, "Invalid request body", nil)
		return
	}

	caller := principal.FromContext(r.Context())
	domain, err := h.service.AddDomain(r.Context(), caller.OrgID, req.Domain, req.AutoJoinEnabled, req.DefaultRole)
	if err != nil {
		if err == ErrInvalidInput {
			httpapi.WriteError(w, r, httpapi.CodeValidationError, "Invalid domain or default role", nil)
			return
		}
		httpapi.WriteError(w, r, httpapi.CodeInternalError, "Failed to add domain", nil)
		return
	}
	httpapi.WriteJSON(w, http.StatusCreated, domain)
}

// ListDomains handles GET /api/v1/domains
func (h *Handler) ListDomains(w http.ResponseWriter, r *http.Request) {
	caller := principal.FromContext(r.Context())
	domains, err := h.service.ListDomains(r.Context(), caller.OrgID)
	if err != nil {
		httpapi.WriteError(w, r, httpapi.CodeInternalError, "Failed to list domains", nil)
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, map[string]interface{}{"domains": domains})
}

// CreateSSOConnection handles POST /api/v1/sso/connections
func (h *Handler) CreateSSOConnection(w http.ResponseWriter, r *http.Request) {
	var req SSOConnectionInput
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpapi.WriteError(w, r, httpapi.CodeBadRequest, "Invalid request body", nil)
		return
	}

	caller := principal.FromContext(r.Context())
	conn, err := h.service.CreateSSOConnection(r.Context(), caller.OrgID, req)
	if err != nil {
		switch err {
		case ErrInvalidInput:
			httpapi.WriteError(w, r, httpapi.CodeValidationError, "Invalid sso connection", nil)
		case ErrDefaultConnectionExists:
			httpapi.WriteError(w, r, httpapi.CodeConflict, err.Error(), nil)
		default:
			httpapi.WriteError(w, r, httpapi.CodeInternalError, "Failed to create sso connection", nil)
		}
		return
	}
	httpapi.WriteJSON(w, http.StatusCreated, conn)
}

// ListSSOConnections handles GET /api/v1/sso/connections
func (h *Handler) ListSSOConnections(w http.ResponseWriter, r *http.Request) {
	caller := principal.FromContext(r.Context())
	conns, err := h.service.ListSSOConnections(r.Context(), caller.OrgID)
	if err != nil {
		httpapi.WriteError(w, r, httpapi.CodeInternalError, "Failed to list sso connections", nil)
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, map[string]interface{}{"connections": conns})
}

// ListAPIKeys handles GET /api/v1/api-keys
func (h *Handler) ListAPIKeys(w http.ResponseWriter, r *http.Request) {
	caller := principal.FromContext(r.Context())
	keys, err := h.service.ListAPIKeys(r.Context(), caller.OrgID)
	if err != nil {
		httpapi.WriteError(w, r, httpapi.CodeInternalError, "Failed to list api keys", nil)
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, map[string]interface{}{"api_keys": keys})
}

// RevokeAPIKey handles DELETE /api/v1/api-keys/{id}
func (h *Handler) RevokeAPIKey(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	caller := principal.FromContext(r.Context())
	if err := h.service.RevokeAPIKey(r.Context(), caller.OrgID, id); err != nil {
		if err == ErrAPIKeyNotFound {
			httpapi.WriteError(w, r, httpapi.CodeNotFound, "API key not found", nil)
			return
		}
		httpapi.WriteError(w, r, httpapi.CodeInternalError, "Failed to revoke api key", nil)
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, map[string]string{"status": "revoked"})
}
